package store

import (
	"context"
	"errors"

	"github.com/scarybot/bogamail/internal/models"
)

// ErrNotFound is returned by Get when no record has the requested key.
var ErrNotFound = errors.New("message not found")

// Store persists messages keyed by (sender address, id).
//
// Put is a full-record upsert, so writing the same record twice leaves one
// record. Every query returns copies; callers may mutate what they get back.
type Store interface {
	Put(ctx context.Context, msg *models.Message) error
	Get(ctx context.Context, senderAddress, id string) (*models.Message, error)
	// QueryBySender returns every message sent by sender to recipient.
	QueryBySender(ctx context.Context, sender, recipient string) ([]*models.Message, error)
	// QueryByRecipient returns every message received by recipient from sender.
	QueryByRecipient(ctx context.Context, recipient, sender string) ([]*models.Message, error)
	// QueryDueForSend returns unsent messages whose SendAfter is at or before now.
	QueryDueForSend(ctx context.Context, now int64) ([]*models.Message, error)
}
