package store

import (
	"context"
	"sort"
	"sync"

	"github.com/scarybot/bogamail/internal/models"
)

type key struct {
	sender string
	id     string
}

// Memory is an in-process Store used by tests and local runs.
type Memory struct {
	mu       sync.RWMutex
	messages map[key]*models.Message
}

func NewMemory() *Memory {
	return &Memory{messages: make(map[key]*models.Message)}
}

func (m *Memory) Put(_ context.Context, msg *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[key{msg.Sender.Address, msg.ID}] = clone(msg)
	return nil
}

func (m *Memory) Get(_ context.Context, senderAddress, id string) (*models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msg, ok := m.messages[key{senderAddress, id}]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(msg), nil
}

func (m *Memory) QueryBySender(_ context.Context, sender, recipient string) ([]*models.Message, error) {
	return m.filter(func(msg *models.Message) bool {
		return msg.Sender.Address == sender && msg.Recipient.Address == recipient
	}), nil
}

func (m *Memory) QueryByRecipient(_ context.Context, recipient, sender string) ([]*models.Message, error) {
	return m.filter(func(msg *models.Message) bool {
		return msg.Recipient.Address == recipient && msg.Sender.Address == sender
	}), nil
}

func (m *Memory) QueryDueForSend(_ context.Context, now int64) ([]*models.Message, error) {
	due := m.filter(func(msg *models.Message) bool { return msg.IsDue(now) })
	sort.Slice(due, func(i, j int) bool { return due[i].SendAfter < due[j].SendAfter })
	return due, nil
}

// Len returns the number of stored records.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.messages)
}

func (m *Memory) filter(keep func(*models.Message) bool) []*models.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Message
	for _, msg := range m.messages {
		if keep(msg) {
			out = append(out, clone(msg))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func clone(msg *models.Message) *models.Message {
	c := *msg
	c.References = append([]string(nil), msg.References...)
	c.ReceiptHandle = ""
	return &c
}
