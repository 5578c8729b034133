package queue

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Memory is an in-process Queue. Received deliveries stay in flight until
// deleted; Redeliver makes them visible again, like an expired SQS
// visibility timeout.
type Memory struct {
	mu       sync.Mutex
	seq      int
	pending  []Delivery
	inflight map[string]Delivery
	notify   chan struct{}
}

func NewMemory() *Memory {
	return &Memory{
		inflight: make(map[string]Delivery),
		notify:   make(chan struct{}, 1),
	}
}

func (m *Memory) Send(_ context.Context, body string) error {
	m.mu.Lock()
	m.seq++
	m.pending = append(m.pending, Delivery{ID: fmt.Sprintf("msg-%d", m.seq), Body: body})
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
	return nil
}

func (m *Memory) Receive(ctx context.Context, max int, wait time.Duration) ([]Delivery, error) {
	if batch := m.take(max); len(batch) > 0 || wait <= 0 {
		return batch, nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return m.take(max), nil
		case <-m.notify:
			if batch := m.take(max); len(batch) > 0 {
				return batch, nil
			}
		}
	}
}

func (m *Memory) Delete(_ context.Context, receiptHandle string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.inflight[receiptHandle]; !ok {
		return fmt.Errorf("unknown receipt handle %q", receiptHandle)
	}
	delete(m.inflight, receiptHandle)
	return nil
}

// Redeliver returns every unacknowledged delivery to the queue.
func (m *Memory) Redeliver() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for handle, d := range m.inflight {
		d.ReceiptHandle = ""
		m.pending = append(m.pending, d)
		delete(m.inflight, handle)
	}
}

// Bodies returns the bodies of deliveries waiting to be received.
func (m *Memory) Bodies() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	bodies := make([]string, 0, len(m.pending))
	for _, d := range m.pending {
		bodies = append(bodies, d.Body)
	}
	return bodies
}

// InFlight returns the number of received but unacknowledged deliveries.
func (m *Memory) InFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inflight)
}

func (m *Memory) take(max int) []Delivery {
	m.mu.Lock()
	defer m.mu.Unlock()

	if max <= 0 || max > len(m.pending) {
		max = len(m.pending)
	}

	batch := make([]Delivery, 0, max)
	for _, d := range m.pending[:max] {
		m.seq++
		d.ReceiptHandle = fmt.Sprintf("%s/r%d", d.ID, m.seq)
		m.inflight[d.ReceiptHandle] = d
		batch = append(batch, d)
	}
	m.pending = m.pending[max:]
	return batch
}
