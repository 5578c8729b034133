// Package dispatch delivers outbound messages, either as soon as they are
// queued or later from the store's due index.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/scarybot/bogamail/internal/codec"
	"github.com/scarybot/bogamail/internal/events"
	"github.com/scarybot/bogamail/internal/models"
	"github.com/scarybot/bogamail/internal/observability"
	"github.com/scarybot/bogamail/internal/queue"
	"github.com/scarybot/bogamail/internal/secrets"
	"github.com/scarybot/bogamail/internal/smtp"
	"github.com/scarybot/bogamail/internal/store"
)

type Transport interface {
	Transmit(ctx context.Context, creds smtp.Credentials, msg *models.Message) error
}

type Dispatcher struct {
	store       store.Store
	send        queue.Queue
	secrets     secrets.Store
	transport   Transport
	events      events.Publisher
	now         func() time.Time
	callTimeout time.Duration
	pollDelay   time.Duration
}

type Option func(*Dispatcher)

func WithEvents(pub events.Publisher) Option {
	return func(d *Dispatcher) { d.events = pub }
}

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

func WithCallTimeout(t time.Duration) Option {
	return func(d *Dispatcher) { d.callTimeout = t }
}

func WithPollDelay(t time.Duration) Option {
	return func(d *Dispatcher) { d.pollDelay = t }
}

// New creates a dispatcher reading outbound events from send. send may be
// nil for a dispatcher that only scans the store.
func New(s store.Store, send queue.Queue, creds secrets.Store, transport Transport, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:       s,
		send:        send,
		secrets:     creds,
		transport:   transport,
		events:      events.Nop{},
		now:         time.Now,
		callTimeout: 10 * time.Second,
		pollDelay:   time.Second,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run consumes the send queue until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context, opts ...queue.PollerOption) error {
	return queue.NewPoller(d.send, "send", d.HandleOutbound, d.pollDelay, opts...).Run(ctx)
}

// HandleOutbound delivers or schedules every outbound event in batch.
// Events are acknowledged once their message is persisted; failed
// deliveries are persisted unsent for the scheduler to retry.
func (d *Dispatcher) HandleOutbound(ctx context.Context, batch []queue.Delivery) error {
	var errs []error
	for _, delivery := range batch {
		if err := d.handle(ctx, delivery); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) handle(ctx context.Context, delivery queue.Delivery) error {
	ctx = observability.WithRecordID(ctx, delivery.ID)
	log := observability.LoggerFromContext(ctx)

	var event models.OutboundEvent
	if err := json.Unmarshal([]byte(delivery.Body), &event); err != nil || event.Email == "" {
		log.Warn("dropping malformed outbound event", "error", err)
		return d.ack(ctx, delivery)
	}

	msg, err := codec.Decode(event.Email, models.DirectionOut, delivery.ReceiptHandle)
	if err != nil {
		log.Warn("dropping undecodable outbound event", "error", err)
		return d.ack(ctx, delivery)
	}
	msg.SendAfter = event.SendAfter
	log = log.With("message_id", msg.ID, "recipient", msg.Recipient.Address)

	existing, err := d.get(ctx, msg.Sender.Address, msg.ID)
	switch {
	case err == nil && existing.Sent:
		log.Info("outbound message already sent")
		return d.ack(ctx, delivery)
	case err == nil:
		msg.CreatedAt = existing.CreatedAt
	case !errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("failed to look up outbound message %s: %w", msg.ID, err)
	}

	now := d.now()
	if !msg.IsDue(now.Unix()) {
		if err := d.put(ctx, msg); err != nil {
			return err
		}
		log.Info("outbound message deferred", "send_after", msg.SendAfter)
		d.events.Publish(ctx, events.New(models.EventMessageDeferred, msg, now))
		return d.ack(ctx, delivery)
	}

	msg.Sent = d.Send(ctx, msg)
	if err := d.put(ctx, msg); err != nil {
		return err
	}
	return d.ack(ctx, delivery)
}

// ScanDue sends every stored message that is unsent and due at now. Each
// record is re-read before sending, so a message another scan already sent
// is skipped. It returns the number of messages sent.
func (d *Dispatcher) ScanDue(ctx context.Context, now time.Time) (int, error) {
	due, err := d.queryDue(ctx, now.Unix())
	if err != nil {
		return 0, err
	}

	sent := 0
	var errs []error
	for _, candidate := range due {
		current, err := d.get(ctx, candidate.Sender.Address, candidate.ID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to re-read %s: %w", candidate.ID, err))
			continue
		}
		if !current.IsDue(now.Unix()) {
			continue
		}

		if !d.Send(ctx, current) {
			continue
		}
		current.Sent = true
		if err := d.put(ctx, current); err != nil {
			errs = append(errs, err)
			continue
		}
		sent++
	}

	return sent, errors.Join(errs...)
}

// Send transmits msg with its sender's credentials. Failures are logged and
// reported as false.
func (d *Dispatcher) Send(ctx context.Context, msg *models.Message) bool {
	log := observability.LoggerFromContext(ctx).With("message_id", msg.ID, "sender", msg.Sender.Address, "recipient", msg.Recipient.Address)

	password, err := d.password(ctx, msg.Sender.LocalPart())
	if err != nil {
		log.Error("failed to resolve sender credentials", "error", err)
		d.events.Publish(ctx, events.New(models.EventSendFailed, msg, d.now()))
		return false
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.callTimeout)
	defer cancel()
	if err := d.transport.Transmit(sendCtx, smtp.Credentials{Username: msg.Sender.Address, Password: password}, msg); err != nil {
		log.Error("failed to send message", "error", err)
		d.events.Publish(ctx, events.New(models.EventSendFailed, msg, d.now()))
		return false
	}

	log.Info("message sent")
	d.events.Publish(ctx, events.New(models.EventMessageSent, msg, d.now()))
	return true
}

func (d *Dispatcher) password(ctx context.Context, localPart string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.callTimeout)
	defer cancel()
	return d.secrets.Password(ctx, localPart)
}

func (d *Dispatcher) get(ctx context.Context, sender, id string) (*models.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, d.callTimeout)
	defer cancel()
	return d.store.Get(ctx, sender, id)
}

func (d *Dispatcher) queryDue(ctx context.Context, now int64) ([]*models.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, d.callTimeout)
	defer cancel()
	due, err := d.store.QueryDueForSend(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query due messages: %w", err)
	}
	return due, nil
}

func (d *Dispatcher) put(ctx context.Context, msg *models.Message) error {
	ctx, cancel := context.WithTimeout(ctx, d.callTimeout)
	defer cancel()
	if err := d.store.Put(ctx, msg); err != nil {
		return fmt.Errorf("failed to store outbound message %s: %w", msg.ID, err)
	}
	return nil
}

func (d *Dispatcher) ack(ctx context.Context, delivery queue.Delivery) error {
	if d.send == nil || delivery.ReceiptHandle == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, d.callTimeout)
	defer cancel()
	if err := d.send.Delete(ctx, delivery.ReceiptHandle); err != nil {
		return fmt.Errorf("failed to acknowledge outbound event %s: %w", delivery.ID, err)
	}
	return nil
}
