package imap

import (
	"context"
	"fmt"
	"time"

	idle "github.com/emersion/go-imap-idle"
	"github.com/emersion/go-imap/client"
)

// forwardUpdates turns mailbox updates into a non-blocking wake signal. It
// must keep reading until the client has logged out, otherwise the client
// blocks on a full updates channel.
func forwardUpdates(updates <-chan client.Update, wake chan<- struct{}, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case u := <-updates:
			if _, ok := u.(*client.MailboxUpdate); !ok {
				continue
			}
			select {
			case wake <- struct{}{}:
			default:
			}
		}
	}
}

// waitForMail idles until the server reports a mailbox change, the poll
// interval elapses, or ctx is cancelled. Servers without IDLE are polled
// with NOOP instead.
func waitForMail(ctx context.Context, c *client.Client, wake <-chan struct{}, pollInterval time.Duration) error {
	stop := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- idle.NewClient(c).IdleWithFallback(stop, pollInterval)
	}()

	timer := time.NewTimer(pollInterval)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("idle ended: %w", err)
		}
		return nil
	case <-ctx.Done():
	case <-wake:
	case <-timer.C:
	}

	close(stop)
	if err := <-done; err != nil {
		return fmt.Errorf("failed to stop idle: %w", err)
	}
	return nil
}
