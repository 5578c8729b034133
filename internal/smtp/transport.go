// Package smtp submits outbound messages to an SMTP server.
package smtp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/scarybot/bogamail/internal/codec"
	"github.com/scarybot/bogamail/internal/models"
)

// Credentials authenticate a submission. Username is the sender address.
type Credentials struct {
	Username string
	Password string
}

// Transport is an SMTP submission client. Each Transmit opens its own session.
type Transport struct {
	addr      string
	startTLS  bool
	tlsConfig *tls.Config
}

type Option func(*Transport)

// WithTLSConfig replaces the STARTTLS configuration, e.g. to trust a private CA.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(t *Transport) { t.tlsConfig = cfg }
}

func New(addr string, startTLS bool, opts ...Option) *Transport {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	t := &Transport{
		addr:      addr,
		startTLS:  startTLS,
		tlsConfig: &tls.Config{ServerName: host},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Transport) Addr() string {
	return t.addr
}

// Transmit sends msg from its sender to its recipient. The whole session,
// connect included, is bounded by ctx.
func (t *Transport) Transmit(ctx context.Context, creds Credentials, msg *models.Message) error {
	raw := msg.Raw
	if raw == "" {
		var err error
		if raw, err = codec.Encode(msg); err != nil {
			return fmt.Errorf("failed to encode message: %w", err)
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	client, stop, err := t.dial(ctx)
	if err != nil {
		return err
	}
	defer stop()
	defer client.Close()

	if creds.Username != "" {
		if err := client.Auth(sasl.NewPlainClient("", creds.Username, creds.Password)); err != nil {
			return fmt.Errorf("failed to authenticate as %s: %w", creds.Username, err)
		}
	}

	if err := client.Mail(msg.Sender.Address, nil); err != nil {
		return fmt.Errorf("MAIL FROM rejected: %w", err)
	}
	if err := client.Rcpt(msg.Recipient.Address, nil); err != nil {
		return fmt.Errorf("RCPT TO rejected: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA rejected: %w", err)
	}
	if _, err := w.Write([]byte(toCRLF(raw))); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("message rejected: %w", err)
	}

	if err := client.Quit(); err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("failed to close session: %w", err)
	}
	return nil
}

// dial connects and, when configured, upgrades with STARTTLS. The returned
// stop func must be called when the session is over.
func (t *Transport) dial(ctx context.Context) (*smtp.Client, func(), error) {
	conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", t.addr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to %s: %w", t.addr, err)
	}

	// go-smtp sets its own deadline on every command; closing the connection
	// is what ends a session when ctx does.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })

	var client *smtp.Client
	if t.startTLS {
		client, err = smtp.NewClientStartTLS(conn, t.tlsConfig)
		if err == nil {
			// The handshake runs on the first command after STARTTLS.
			if err = client.Hello("localhost"); err != nil {
				_ = client.Close()
			}
		}
		if err != nil {
			stop()
			_ = conn.Close()
			if ctxErr := ctx.Err(); ctxErr != nil {
				err = ctxErr
			}
			return nil, nil, fmt.Errorf("failed to start TLS: %w", err)
		}
	} else {
		client = smtp.NewClient(conn)
	}

	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		client.CommandTimeout = remaining
		client.SubmissionTimeout = remaining
	}
	return client, func() { stop() }, nil
}

func toCRLF(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\n", "\r\n")
}
