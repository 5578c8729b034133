package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/scarybot/bogamail/internal/secrets"
	"github.com/spf13/cobra"
)

var (
	accountName          string
	accountPasswordStdin bool
)

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Manage the local accounts replies are sent from",
}

var accountSetCmd = &cobra.Command{
	Use:   "set <local-part>",
	Short: "Set an account's display name and SMTP password",
	Long: `Set the display name used on replies from <local-part>@<domain> and,
with --password-stdin, its SMTP password.

Works with the postgres and keyring secret backends. Accounts in SSM
Parameter Store are managed with the AWS tooling under /bogamail/names/ and
/bogamail/passwords/.

Examples:
  bogamail account set bob --name "Robert"
  echo "$SMTP_PASSWORD" | bogamail account set bob --name "Robert" --password-stdin`,
	Args: cobra.ExactArgs(1),
	RunE: runAccountSet,
}

func init() {
	accountSetCmd.Flags().StringVar(&accountName, "name", "", "display name on outgoing mail")
	accountSetCmd.Flags().BoolVar(&accountPasswordStdin, "password-stdin", false, "read the SMTP password from stdin")
	accountCmd.AddCommand(accountSetCmd)
	rootCmd.AddCommand(accountCmd)
}

func runAccountSet(cmd *cobra.Command, args []string) error {
	password := ""
	if accountPasswordStdin {
		var err error
		if password, err = readLine(cmd.InOrStdin()); err != nil {
			return err
		}
	}

	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	writer, ok := a.secrets.(secrets.Writer)
	if !ok {
		return fmt.Errorf("the %s secret backend is read-only here", a.cfg.Secrets)
	}
	if err := writer.SetAccount(cmd.Context(), args[0], accountName, password); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Account %s saved\n", args[0])
	return nil
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("empty password on stdin")
	}
	return line, nil
}
