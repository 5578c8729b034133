package secrets

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/scarybot/bogamail/internal/crypto"
	"github.com/scarybot/bogamail/internal/db"
	"github.com/scarybot/bogamail/internal/models"
)

// Postgres keeps accounts in the accounts table with sealed SMTP passwords.
type Postgres struct {
	pool      *pgxpool.Pool
	encryptor *crypto.Encryptor
}

func NewPostgres(pool *pgxpool.Pool, encryptor *crypto.Encryptor) *Postgres {
	return &Postgres{pool: pool, encryptor: encryptor}
}

func (p *Postgres) DisplayName(ctx context.Context, localPart string) (string, error) {
	account, err := p.account(ctx, localPart)
	if err != nil {
		return "", err
	}
	return account.DisplayName, nil
}

func (p *Postgres) Password(ctx context.Context, localPart string) (string, error) {
	account, err := p.account(ctx, localPart)
	if err != nil {
		return "", err
	}
	if len(account.EncryptedSMTPPassword) == 0 {
		return "", fmt.Errorf("%w: no password for %s", ErrNotFound, localPart)
	}

	password, err := p.encryptor.Open(account.EncryptedSMTPPassword, localPart)
	if err != nil {
		return "", fmt.Errorf("failed to open password for %s: %w", localPart, err)
	}
	return password, nil
}

// SetAccount creates or updates an account. An empty password keeps the stored one.
func (p *Postgres) SetAccount(ctx context.Context, localPart, displayName, password string) error {
	account := &models.Account{LocalPart: localPart, DisplayName: displayName}

	if password != "" {
		sealed, err := p.encryptor.Seal(password, localPart)
		if err != nil {
			return fmt.Errorf("failed to seal password for %s: %w", localPart, err)
		}
		account.EncryptedSMTPPassword = sealed
	}

	return db.SaveAccount(ctx, p.pool, account)
}

func (p *Postgres) account(ctx context.Context, localPart string) (*models.Account, error) {
	account, err := db.GetAccount(ctx, p.pool, localPart)
	if errors.Is(err, db.ErrAccountNotFound) {
		return nil, fmt.Errorf("%w: account %s", ErrNotFound, localPart)
	}
	if err != nil {
		return nil, err
	}
	return account, nil
}
