// Command bogamail runs the stages of the mail agent, one per subcommand,
// or all of them in one process with "run".
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "bogamail",
	Short: "Email conversational agent",
	Long: `bogamail answers inbound email. Mail is taken in from a queue or an IMAP
mailbox, stored, answered by a reply strategy and delivered over SMTP, either
at once or when its scheduled send time arrives.

Configuration is read from BOGAMAIL_* environment variables (and .env in
development).`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
