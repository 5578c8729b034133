// Package events fans pipeline events out to observers such as the ops websocket feed.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/scarybot/bogamail/internal/models"
)

type Publisher interface {
	Publish(ctx context.Context, event models.PipelineEvent)
}

// New builds an event about msg.
func New(eventType models.PipelineEventType, msg *models.Message, at time.Time) models.PipelineEvent {
	return models.PipelineEvent{
		Type:      eventType,
		MessageID: msg.ID,
		Sender:    msg.Sender.Address,
		Recipient: msg.Recipient.Address,
		Subject:   msg.Subject,
		At:        at.Unix(),
	}
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, models.PipelineEvent) {}

// Fanout publishes to every wrapped publisher in order.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, event models.PipelineEvent) {
	for _, p := range f {
		p.Publish(ctx, event)
	}
}

// Ring keeps the most recent events in memory.
type Ring struct {
	mu     sync.Mutex
	events []models.PipelineEvent
	size   int
}

func NewRing(size int) *Ring {
	return &Ring{size: size}
}

func (r *Ring) Publish(_ context.Context, event models.PipelineEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, event)
	if over := len(r.events) - r.size; over > 0 {
		r.events = append([]models.PipelineEvent(nil), r.events[over:]...)
	}
}

// Recent returns the retained events, oldest first.
func (r *Ring) Recent() []models.PipelineEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.PipelineEvent(nil), r.events...)
}

// Types returns the types of the retained events, oldest first.
func (r *Ring) Types() []models.PipelineEventType {
	r.mu.Lock()
	defer r.mu.Unlock()

	types := make([]models.PipelineEventType, 0, len(r.events))
	for _, e := range r.events {
		types = append(types, e.Type)
	}
	return types
}
