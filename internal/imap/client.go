// Package imap is an inbound source that reads new mail from an IMAP
// mailbox and hands it to the intake pipeline.
package imap

import (
	"fmt"
	"net"
	"time"

	"github.com/emersion/go-imap/client"
)

const dialTimeout = 5 * time.Second

// Config describes the mailbox to watch.
type Config struct {
	Addr     string
	Username string
	Password string
	// TLS selects implicit TLS. Tests use plain connections.
	TLS     bool
	Mailbox string
}

// connect dials the server, logs in and selects the mailbox. updates must be
// drained by the caller for as long as the client lives.
func connect(cfg Config, updates chan client.Update) (*client.Client, error) {
	dialer := &net.Dialer{Timeout: dialTimeout}

	var c *client.Client
	var err error
	if cfg.TLS {
		c, err = client.DialWithDialerTLS(dialer, cfg.Addr, nil)
	} else {
		c, err = client.DialWithDialer(dialer, cfg.Addr)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", cfg.Addr, err)
	}
	c.Updates = updates

	if err := c.Login(cfg.Username, cfg.Password); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("failed to authenticate: %w", err)
	}

	if _, err := c.Select(cfg.Mailbox, false); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("failed to select %s: %w", cfg.Mailbox, err)
	}

	return c, nil
}
