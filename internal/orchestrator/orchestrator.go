// Package orchestrator answers received messages: it assembles the thread,
// asks a reply strategy for content and queues the answer for sending.
package orchestrator

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
	"github.com/scarybot/bogamail/internal/reply"
	"github.com/scarybot/bogamail/internal/secrets"
	"github.com/scarybot/bogamail/internal/store"
	"github.com/scarybot/bogamail/internal/thread"
)

type Orchestrator struct {
	store    store.Store
	client   queue.Queue
	send     queue.Queue
	strategy reply.Strategy
	names    secrets.Store
	events   events.Publisher
	now      func() time.Time

	defaultDelay    time.Duration
	pollDelay       time.Duration
	callTimeout     time.Duration
	generateTimeout time.Duration
}

type Option func(*Orchestrator)

func WithEvents(pub events.Publisher) Option {
	return func(o *Orchestrator) { o.events = pub }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithDefaultDelay defers replies whose strategy gives no delay of its own.
func WithDefaultDelay(d time.Duration) Option {
	return func(o *Orchestrator) { o.defaultDelay = d }
}

// WithPollDelay sets the pause between Run iterations. Default 1s.
func WithPollDelay(d time.Duration) Option {
	return func(o *Orchestrator) { o.pollDelay = d }
}

func WithCallTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.callTimeout = d }
}

// WithGenerateTimeout bounds a single strategy call. Default 2m.
func WithGenerateTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.generateTimeout = d }
}

// New creates an orchestrator that reads received events from client and
// writes outbound events to send. names supplies sender display names.
func New(s store.Store, client, send queue.Queue, strategy reply.Strategy, names secrets.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:           s,
		client:          client,
		send:            send,
		strategy:        strategy,
		names:           names,
		events:          events.Nop{},
		now:             time.Now,
		pollDelay:       time.Second,
		callTimeout:     10 * time.Second,
		generateTimeout: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run pulls received events until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context, opts ...queue.PollerOption) error {
	return queue.NewPoller(o.client, "client", o.HandleBatch, o.pollDelay, opts...).Run(ctx)
}

// HandleBatch answers every delivery. Failed deliveries stay unacknowledged
// and their errors are joined into the result.
func (o *Orchestrator) HandleBatch(ctx context.Context, batch []queue.Delivery) error {
	var errs []error
	for _, d := range batch {
		if err := o.HandleDelivery(ctx, d); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// HandleDelivery answers one received event and acknowledges it once the
// answer is queued, or right away when no answer is wanted.
func (o *Orchestrator) HandleDelivery(ctx context.Context, d queue.Delivery) error {
	ctx = observability.WithRecordID(ctx, d.ID)
	log := observability.LoggerFromContext(ctx)

	var event models.ReceivedEvent
	if err := json.Unmarshal([]byte(d.Body), &event); err != nil || event.Email == "" {
		log.Warn("dropping malformed received event", "error", err)
		return o.ack(ctx, d)
	}

	incoming, err := codec.Decode(event.Email, models.DirectionIn, d.ReceiptHandle)
	if err != nil {
		log.Warn("dropping undecodable received event", "error", err)
		return o.ack(ctx, d)
	}

	if _, err := o.Respond(ctx, incoming); err != nil {
		return fmt.Errorf("failed to answer %s: %w", incoming.ID, err)
	}

	return o.ack(ctx, d)
}

// Respond generates and queues the answer to incoming. It returns nil when
// the strategy declines to answer.
func (o *Orchestrator) Respond(ctx context.Context, incoming *models.Message) (*models.Message, error) {
	log := observability.LoggerFromContext(ctx).With("message_id", incoming.ID, "sender", incoming.Sender.Address, "recipient", incoming.Recipient.Address)

	conversation, err := o.assemble(ctx, incoming)
	if err != nil {
		return nil, err
	}

	generated, err := o.generate(ctx, conversation, incoming)
	if err != nil {
		return nil, err
	}
	if generated == nil {
		log.Info("reply suppressed")
		o.events.Publish(ctx, events.New(models.EventReplySuppressed, incoming, o.now()))
		return nil, nil
	}

	now := o.now()
	answer := codec.Reply(incoming, o.senderName(ctx, incoming), generated.Subject, generated.Body, now)

	delay := generated.Delay
	if delay <= 0 {
		delay = o.defaultDelay
	}
	if delay > 0 {
		answer.SendAfter = now.Add(delay).Unix()
	}

	if err := o.enqueue(ctx, answer); err != nil {
		return nil, err
	}

	log.Info("reply queued", "reply_id", answer.ID, "send_after", answer.SendAfter)
	o.events.Publish(ctx, events.New(models.EventReplyQueued, answer, now))
	return answer, nil
}

func (o *Orchestrator) assemble(ctx context.Context, incoming *models.Message) ([]*models.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, o.callTimeout)
	defer cancel()

	conversation, err := thread.Assemble(ctx, o.store, incoming.Sender.Address, incoming.Recipient.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to assemble thread: %w", err)
	}
	return conversation, nil
}

func (o *Orchestrator) generate(ctx context.Context, conversation []*models.Message, incoming *models.Message) (*reply.Reply, error) {
	ctx, cancel := context.WithTimeout(ctx, o.generateTimeout)
	defer cancel()
	return o.strategy.Generate(ctx, conversation, incoming)
}

// senderName is the display name of the answering account, or empty when
// none is configured.
func (o *Orchestrator) senderName(ctx context.Context, incoming *models.Message) string {
	if o.names == nil {
		return ""
	}

	ctx, cancel := context.WithTimeout(ctx, o.callTimeout)
	defer cancel()

	localPart := incoming.Recipient.LocalPart()
	name, err := o.names.DisplayName(ctx, localPart)
	if err != nil {
		observability.LoggerFromContext(ctx).Warn("no display name for account", "account", localPart, "error", err)
		return ""
	}
	return name
}

func (o *Orchestrator) enqueue(ctx context.Context, answer *models.Message) error {
	raw, err := codec.Encode(answer)
	if err != nil {
		return fmt.Errorf("failed to encode reply: %w", err)
	}
	answer.Raw = raw

	body, err := json.Marshal(models.OutboundEvent{Email: raw, SendAfter: answer.SendAfter})
	if err != nil {
		return fmt.Errorf("failed to marshal outbound event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, o.callTimeout)
	defer cancel()
	if err := o.send.Send(ctx, string(body)); err != nil {
		return fmt.Errorf("failed to queue reply: %w", err)
	}
	return nil
}

func (o *Orchestrator) ack(ctx context.Context, d queue.Delivery) error {
	if d.ReceiptHandle == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, o.callTimeout)
	defer cancel()
	if err := o.client.Delete(ctx, d.ReceiptHandle); err != nil {
		return fmt.Errorf("failed to acknowledge received event %s: %w", d.ID, err)
	}
	return nil
}
