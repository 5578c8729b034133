package imap

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/emersion/go-imap/client"
	"github.com/scarybot/bogamail/internal/codec"
	"github.com/scarybot/bogamail/internal/models"
	"github.com/scarybot/bogamail/internal/observability"
)

// Processor is satisfied by *intake.Pipeline.
type Processor interface {
	Process(ctx context.Context, raw string) (*models.Message, error)
}

// Source feeds unseen mailbox messages to a Processor. A message is flagged
// \Seen only once it has been processed, or found malformed.
type Source struct {
	cfg          Config
	processor    Processor
	pollInterval time.Duration
	backoff      *backoff.ExponentialBackOff
}

type Option func(*Source)

// WithPollInterval sets how often the mailbox is re-read when no IDLE
// notification arrives. Default 1m.
func WithPollInterval(d time.Duration) Option {
	return func(s *Source) { s.pollInterval = d }
}

// WithBackoff overrides the reconnect backoff bounds.
func WithBackoff(initial, max time.Duration) Option {
	return func(s *Source) {
		s.backoff.InitialInterval = initial
		s.backoff.MaxInterval = max
		s.backoff.Reset()
	}
}

func New(cfg Config, p Processor, opts ...Option) *Source {
	if cfg.Mailbox == "" {
		cfg.Mailbox = "INBOX"
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 5 * time.Minute
	b.MaxElapsedTime = 0

	s := &Source{
		cfg:          cfg,
		processor:    p,
		pollInterval: time.Minute,
		backoff:      b,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run watches the mailbox until ctx is cancelled, reconnecting with
// exponential backoff whenever the session fails.
func (s *Source) Run(ctx context.Context) error {
	log := observability.WithFields("component", "imap", "mailbox", s.cfg.Mailbox)
	log.Info("imap source started", "addr", s.cfg.Addr)

	for {
		err := s.session(ctx)
		if ctx.Err() != nil {
			log.Info("imap source stopped")
			return nil
		}

		wait := s.backoff.NextBackOff()
		log.Warn("imap session ended", "error", err, "retry_in", wait.String())
		select {
		case <-ctx.Done():
			log.Info("imap source stopped")
			return nil
		case <-time.After(wait):
		}
	}
}

// PollOnce connects, processes every unseen message and disconnects. It
// returns the number of messages flagged seen.
func (s *Source) PollOnce(ctx context.Context) (int, error) {
	conn, err := s.open()
	if err != nil {
		return 0, err
	}
	defer conn.close()

	return s.drain(ctx, conn.client)
}

func (s *Source) session(ctx context.Context) error {
	conn, err := s.open()
	if err != nil {
		return err
	}
	defer conn.close()

	for {
		if _, err := s.drain(ctx, conn.client); err != nil {
			return err
		}
		s.backoff.Reset()

		if err := waitForMail(ctx, conn.client, conn.wake, s.pollInterval); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

type connection struct {
	client *client.Client
	wake   chan struct{}
	stop   chan struct{}
}

func (s *Source) open() (*connection, error) {
	updates := make(chan client.Update, 16)
	conn := &connection{
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
	}
	go forwardUpdates(updates, conn.wake, conn.stop)

	c, err := connect(s.cfg, updates)
	if err != nil {
		close(conn.stop)
		return nil, err
	}
	conn.client = c
	return conn, nil
}

// close logs out before the update forwarder stops.
func (c *connection) close() {
	_ = c.client.Logout()
	close(c.stop)
}

func (s *Source) drain(ctx context.Context, c *client.Client) (int, error) {
	uids, err := searchUnseen(c)
	if err != nil {
		return 0, err
	}

	seen := 0
	for _, uid := range uids {
		if ctx.Err() != nil {
			return seen, nil
		}

		raw, err := fetchRaw(c, uid)
		if err != nil {
			return seen, err
		}
		if !s.process(ctx, uid, raw) {
			continue
		}
		if err := markSeen(c, uid); err != nil {
			return seen, err
		}
		seen++
	}
	return seen, nil
}

// process reports whether the message is finished with: processed, or
// malformed and never going to succeed.
func (s *Source) process(ctx context.Context, uid uint32, raw string) bool {
	log := observability.LoggerFromContext(ctx).With("uid", uid, "mailbox", s.cfg.Mailbox)

	msg, err := s.processor.Process(ctx, raw)
	switch {
	case err == nil:
		log.Debug("mailbox message processed", "message_id", msg.ID)
		return true
	case errors.Is(err, codec.ErrMalformedMessage):
		log.Warn("skipping malformed mailbox message", "error", err)
		return true
	default:
		log.Error("failed to process mailbox message", "error", err)
		return false
	}
}
