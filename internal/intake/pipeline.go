// Package intake turns inbound mail notifications into stored messages and
// forwards each one to the client queue.
package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/scarybot/bogamail/internal/archive"
	"github.com/scarybot/bogamail/internal/codec"
	"github.com/scarybot/bogamail/internal/events"
	"github.com/scarybot/bogamail/internal/models"
	"github.com/scarybot/bogamail/internal/observability"
	"github.com/scarybot/bogamail/internal/queue"
	"github.com/scarybot/bogamail/internal/store"
)

type Pipeline struct {
	store       store.Store
	receive     queue.Queue
	client      queue.Queue
	archiver    archive.Archiver
	events      events.Publisher
	now         func() time.Time
	callTimeout time.Duration
}

type Option func(*Pipeline)

// WithArchiver keeps a copy of every new raw message.
func WithArchiver(a archive.Archiver) Option {
	return func(p *Pipeline) { p.archiver = a }
}

func WithEvents(pub events.Publisher) Option {
	return func(p *Pipeline) { p.events = pub }
}

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithCallTimeout bounds every store, queue and archive call. Default 10s.
func WithCallTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.callTimeout = d }
}

// New creates a pipeline that acknowledges records on receive and publishes
// to client. receive may be nil when records are fed through Process only.
func New(s store.Store, receive, client queue.Queue, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:       s,
		receive:     receive,
		client:      client,
		events:      events.Nop{},
		now:         time.Now,
		callTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// HandleBatch processes every record. Records that fail for transient
// reasons stay unacknowledged and their errors are joined into the result.
func (p *Pipeline) HandleBatch(ctx context.Context, batch []queue.Delivery) error {
	var errs []error
	for _, d := range batch {
		if err := p.HandleRecord(ctx, d); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// HandleRecord processes one receive queue record. Malformed records are
// logged and acknowledged. Other failures leave the record for redelivery.
func (p *Pipeline) HandleRecord(ctx context.Context, d queue.Delivery) error {
	ctx = observability.WithRecordID(ctx, d.ID)
	log := observability.LoggerFromContext(ctx)

	raw, err := extract(d.Body)
	if err == nil {
		_, err = p.Process(ctx, raw)
	}
	if err != nil {
		if !errors.Is(err, ErrMalformedRecord) && !errors.Is(err, codec.ErrMalformedMessage) {
			return fmt.Errorf("failed to process record %s: %w", d.ID, err)
		}
		log.Warn("dropping malformed record", "error", err)
	}

	return p.ack(ctx, d)
}

func extract(body string) (string, error) {
	content, encoding, err := Unwrap(body)
	if err != nil {
		return "", err
	}
	return DecodePayload(content, encoding)
}

// Process decodes raw, stores it and publishes a received event. A message
// that is already stored keeps its original CreatedAt, so replays are no-ops
// apart from the republished event.
func (p *Pipeline) Process(ctx context.Context, raw string) (*models.Message, error) {
	msg, err := codec.DecodeAt(raw, models.DirectionIn, "", p.now())
	if err != nil {
		return nil, err
	}

	log := observability.LoggerFromContext(ctx).With("message_id", msg.ID, "sender", msg.Sender.Address, "recipient", msg.Recipient.Address)

	existing, err := p.get(ctx, msg.Sender.Address, msg.ID)
	switch {
	case err == nil:
		msg.CreatedAt = existing.CreatedAt
		log.Info("message already stored")
	case errors.Is(err, store.ErrNotFound):
		if err := p.archive(ctx, raw); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("failed to look up message %s: %w", msg.ID, err)
	}

	if err := p.put(ctx, msg); err != nil {
		return nil, err
	}

	if err := p.publish(ctx, msg); err != nil {
		return nil, err
	}

	log.Info("message received", "subject", msg.Subject)
	p.events.Publish(ctx, events.New(models.EventMessageReceived, msg, p.now()))
	return msg, nil
}

func (p *Pipeline) get(ctx context.Context, sender, id string) (*models.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()
	return p.store.Get(ctx, sender, id)
}

func (p *Pipeline) put(ctx context.Context, msg *models.Message) error {
	ctx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()
	if err := p.store.Put(ctx, msg); err != nil {
		return fmt.Errorf("failed to store message %s: %w", msg.ID, err)
	}
	return nil
}

func (p *Pipeline) archive(ctx context.Context, raw string) error {
	if p.archiver == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()

	key, err := p.archiver.Store(ctx, []byte(raw))
	if err != nil {
		return err
	}
	observability.LoggerFromContext(ctx).Debug("raw message archived", "key", key)
	return nil
}

// publish sends the stored document, which carries the message id even when
// the id was generated on decode.
func (p *Pipeline) publish(ctx context.Context, msg *models.Message) error {
	body, err := json.Marshal(models.ReceivedEvent{Email: msg.Raw})
	if err != nil {
		return fmt.Errorf("failed to marshal received event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()
	if err := p.client.Send(ctx, string(body)); err != nil {
		return fmt.Errorf("failed to publish received event for %s: %w", msg.ID, err)
	}
	return nil
}

func (p *Pipeline) ack(ctx context.Context, d queue.Delivery) error {
	if p.receive == nil || d.ReceiptHandle == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()
	if err := p.receive.Delete(ctx, d.ReceiptHandle); err != nil {
		return fmt.Errorf("failed to acknowledge record %s: %w", d.ID, err)
	}
	return nil
}
