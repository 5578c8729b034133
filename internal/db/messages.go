package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/scarybot/bogamail/internal/models"
	"github.com/scarybot/bogamail/internal/store"
)

// ErrMessageNotFound is returned when a requested message cannot be found.
var ErrMessageNotFound = store.ErrNotFound

const messageColumns = `
	sender,
	id,
	sender_name,
	recipient,
	recipient_name,
	subject,
	body,
	message,
	refs,
	direction,
	sent,
	ts,
	send_after`

// SaveMessage inserts the message or replaces the stored record with the same (sender, id).
func SaveMessage(ctx context.Context, pool *pgxpool.Pool, message *models.Message) error {
	refs := message.References
	if refs == nil {
		refs = []string{}
	}

	_, err := pool.Exec(ctx, `
		INSERT INTO messages (`+messageColumns+`
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (sender, id) DO UPDATE SET
			sender_name = EXCLUDED.sender_name,
			recipient = EXCLUDED.recipient,
			recipient_name = EXCLUDED.recipient_name,
			subject = EXCLUDED.subject,
			body = EXCLUDED.body,
			message = EXCLUDED.message,
			refs = EXCLUDED.refs,
			direction = EXCLUDED.direction,
			sent = EXCLUDED.sent,
			ts = EXCLUDED.ts,
			send_after = EXCLUDED.send_after,
			updated_at = NOW()
	`,
		message.Sender.Address,
		message.ID,
		message.Sender.Name,
		message.Recipient.Address,
		message.Recipient.Name,
		message.Subject,
		message.Body,
		message.Raw,
		refs,
		string(message.Direction),
		message.Sent,
		message.CreatedAt,
		message.SendAfter,
	)

	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}

	return nil
}

// GetMessage returns the message stored under (sender, id).
func GetMessage(ctx context.Context, pool *pgxpool.Pool, sender, id string) (*models.Message, error) {
	row := pool.QueryRow(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE sender = $1 AND id = $2
	`, sender, id)

	msg, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}

	return msg, nil
}

// GetMessagesFromTo returns every message sent by sender to recipient, oldest first.
func GetMessagesFromTo(ctx context.Context, pool *pgxpool.Pool, sender, recipient string) ([]*models.Message, error) {
	rows, err := pool.Query(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE sender = $1 AND recipient = $2
		ORDER BY ts, id
	`, sender, recipient)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}

	return collectMessages(rows)
}

// GetDueMessages returns unsent messages due at or before now, earliest first.
func GetDueMessages(ctx context.Context, pool *pgxpool.Pool, now int64) ([]*models.Message, error) {
	rows, err := pool.Query(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE NOT sent AND send_after <= $1
		ORDER BY send_after, ts
	`, now)
	if err != nil {
		return nil, fmt.Errorf("failed to get due messages: %w", err)
	}

	return collectMessages(rows)
}

func collectMessages(rows pgx.Rows) ([]*models.Message, error) {
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}

	return messages, nil
}

func scanMessage(row pgx.Row) (*models.Message, error) {
	var msg models.Message
	var direction string

	if err := row.Scan(
		&msg.Sender.Address,
		&msg.ID,
		&msg.Sender.Name,
		&msg.Recipient.Address,
		&msg.Recipient.Name,
		&msg.Subject,
		&msg.Body,
		&msg.Raw,
		&msg.References,
		&direction,
		&msg.Sent,
		&msg.CreatedAt,
		&msg.SendAfter,
	); err != nil {
		return nil, err
	}

	msg.Direction = models.Direction(direction)
	if len(msg.References) == 0 {
		msg.References = nil
	}

	return &msg, nil
}
