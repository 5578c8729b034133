package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPollerPollOnce(t *testing.T) {
	ctx := context.Background()
	q := NewMemory()
	require.NoError(t, q.Send(ctx, "a"))
	require.NoError(t, q.Send(ctx, "b"))

	var seen []string
	p := NewPoller(q, "test", func(ctx context.Context, batch []Delivery) error {
		for _, d := range batch {
			seen = append(seen, d.Body)
			require.NoError(t, q.Delete(ctx, d.ReceiptHandle))
		}
		return errors.New("handler errors are only logged")
	}, 0, WithReceive(10, 0))

	n, err := p.PollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"a", "b"}, seen)
	assert.Equal(t, 0, q.InFlight())
}

type flakyQueue struct {
	*Memory
	mu       sync.Mutex
	failures int
}

func (f *flakyQueue) Receive(ctx context.Context, max int, wait time.Duration) ([]Delivery, error) {
	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return nil, errors.New("service unavailable")
	}
	f.mu.Unlock()
	return f.Memory.Receive(ctx, max, wait)
}

func TestPollerRunRecoversFromReceiveErrors(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	q := &flakyQueue{Memory: NewMemory(), failures: 3}
	require.NoError(t, q.Send(ctx, "payload"))

	handled := make(chan string, 1)
	p := NewPoller(q, "test", func(ctx context.Context, batch []Delivery) error {
		for _, d := range batch {
			_ = q.Delete(ctx, d.ReceiptHandle)
			handled <- d.Body
		}
		return nil
	}, time.Millisecond, WithReceive(10, 10*time.Millisecond), WithBackoff(time.Millisecond, 5*time.Millisecond))

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	select {
	case body := <-handled:
		assert.Equal(t, "payload", body)
	case <-ctx.Done():
		t.Fatal("payload was never handled")
	}

	cancel()
	assert.NoError(t, <-done)
}
