// Package queue moves JSON payloads between pipeline stages with
// at-least-once delivery. A delivery stays invisible while it is being
// handled and comes back unless it is deleted.
package queue

import (
	"context"
	"time"
)

// Delivery is one received queue message.
type Delivery struct {
	ID            string
	Body          string
	ReceiptHandle string
}

type Queue interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context, max int, wait time.Duration) ([]Delivery, error)
	// Delete acknowledges a delivery so it is not redelivered.
	Delete(ctx context.Context, receiptHandle string) error
}
