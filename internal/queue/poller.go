package queue

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/scarybot/bogamail/internal/observability"
)

// Handler processes one received batch. Deliveries it does not delete are
// redelivered by the queue.
type Handler func(ctx context.Context, batch []Delivery) error

// Poller long-polls a queue and hands each batch to a handler, pausing a
// fixed delay between iterations. Receive failures back off exponentially.
type Poller struct {
	queue   Queue
	name    string
	handle  Handler
	batch   int
	wait    time.Duration
	delay   time.Duration
	backoff *backoff.ExponentialBackOff
}

type PollerOption func(*Poller)

// WithReceive overrides the batch size (default 10) and long-poll wait (default 20s).
func WithReceive(batch int, wait time.Duration) PollerOption {
	return func(p *Poller) {
		p.batch = batch
		p.wait = wait
	}
}

// WithBackoff overrides the receive-error backoff bounds.
func WithBackoff(initial, max time.Duration) PollerOption {
	return func(p *Poller) {
		p.backoff.InitialInterval = initial
		p.backoff.MaxInterval = max
		p.backoff.Reset()
	}
}

func NewPoller(q Queue, name string, handle Handler, delay time.Duration, opts ...PollerOption) *Poller {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = time.Minute
	b.MaxElapsedTime = 0

	p := &Poller{
		queue:   q,
		name:    name,
		handle:  handle,
		batch:   10,
		wait:    20 * time.Second,
		delay:   delay,
		backoff: b,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run polls until ctx is cancelled. Handler errors are logged, not returned.
func (p *Poller) Run(ctx context.Context) error {
	log := observability.WithFields("queue", p.name)
	log.Info("poller started", "batch", p.batch, "wait", p.wait.String(), "delay", p.delay.String())

	for {
		if ctx.Err() != nil {
			log.Info("poller stopped")
			return nil
		}

		n, err := p.PollOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			retryIn := p.backoff.NextBackOff()
			log.Warn("receive failed", "error", err, "retry_in", retryIn.String())
			sleep(ctx, retryIn)
			continue
		}
		p.backoff.Reset()

		if n > 0 {
			log.Debug("batch handled", "count", n)
		}
		sleep(ctx, p.delay)
	}
}

// PollOnce receives one batch and handles it, returning the batch size.
// Only receive errors are returned.
func (p *Poller) PollOnce(ctx context.Context) (int, error) {
	batch, err := p.queue.Receive(ctx, p.batch, p.wait)
	if err != nil {
		return 0, err
	}
	if len(batch) == 0 {
		return 0, nil
	}

	if err := p.handle(ctx, batch); err != nil {
		observability.LoggerFromContext(ctx).Error("batch failed", "queue", p.name, "count", len(batch), "error", err)
	}
	return len(batch), nil
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
