package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/scarybot/bogamail/internal/models"
	"github.com/scarybot/bogamail/internal/store"
)

// MessageStore is the Postgres-backed store.Store.
type MessageStore struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*MessageStore)(nil)

func NewMessageStore(pool *pgxpool.Pool) *MessageStore {
	return &MessageStore{pool: pool}
}

func (s *MessageStore) Put(ctx context.Context, msg *models.Message) error {
	return SaveMessage(ctx, s.pool, msg)
}

func (s *MessageStore) Get(ctx context.Context, senderAddress, id string) (*models.Message, error) {
	return GetMessage(ctx, s.pool, senderAddress, id)
}

func (s *MessageStore) QueryBySender(ctx context.Context, sender, recipient string) ([]*models.Message, error) {
	return GetMessagesFromTo(ctx, s.pool, sender, recipient)
}

func (s *MessageStore) QueryByRecipient(ctx context.Context, recipient, sender string) ([]*models.Message, error) {
	return GetMessagesFromTo(ctx, s.pool, sender, recipient)
}

func (s *MessageStore) QueryDueForSend(ctx context.Context, now int64) ([]*models.Message, error) {
	return GetDueMessages(ctx, s.pool, now)
}

// ProfileStore serves correspondent notes to the language-model strategy.
type ProfileStore struct {
	pool *pgxpool.Pool
}

func NewProfileStore(pool *pgxpool.Pool) *ProfileStore {
	return &ProfileStore{pool: pool}
}

// Profile returns nil when no notes are kept for address.
func (s *ProfileStore) Profile(ctx context.Context, address string) (*models.Profile, error) {
	profile, err := GetProfile(ctx, s.pool, address)
	if errors.Is(err, ErrProfileNotFound) {
		return nil, nil
	}
	return profile, err
}

func (s *ProfileStore) SaveProfile(ctx context.Context, profile *models.Profile) error {
	return SaveProfile(ctx, s.pool, profile)
}
