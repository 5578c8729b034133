package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/scarybot/bogamail/internal/models"
)

// ErrAccountNotFound is returned when no account exists for a local part.
var ErrAccountNotFound = errors.New("account not found")

// ErrProfileNotFound is returned when a correspondent has no profile.
var ErrProfileNotFound = errors.New("profile not found")

// AccountExists returns true if an account exists for the local part.
func AccountExists(ctx context.Context, pool *pgxpool.Pool, localPart string) (bool, error) {
	var exists bool
	err := pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM accounts WHERE local_part = $1)
	`, localPart).Scan(&exists)

	if err != nil {
		return false, fmt.Errorf("failed to check account existence: %w", err)
	}

	return exists, nil
}

// GetAccount returns the account for the given local part.
func GetAccount(ctx context.Context, pool *pgxpool.Pool, localPart string) (*models.Account, error) {
	var account models.Account

	err := pool.QueryRow(ctx, `
		SELECT
			local_part,
			display_name,
			encrypted_smtp_password,
			created_at,
			updated_at
		FROM accounts
		WHERE local_part = $1
	`, localPart).Scan(
		&account.LocalPart,
		&account.DisplayName,
		&account.EncryptedSMTPPassword,
		&account.CreatedAt,
		&account.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAccountNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	return &account, nil
}

// SaveAccount creates or updates an account. A nil password keeps the stored one.
func SaveAccount(ctx context.Context, pool *pgxpool.Pool, account *models.Account) error {
	_, err := pool.Exec(ctx, `
		INSERT INTO accounts (
			local_part,
			display_name,
			encrypted_smtp_password
		) VALUES ($1, $2, $3)
		ON CONFLICT (local_part) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			encrypted_smtp_password = COALESCE(EXCLUDED.encrypted_smtp_password, accounts.encrypted_smtp_password),
			updated_at = NOW()
	`,
		account.LocalPart,
		account.DisplayName,
		account.EncryptedSMTPPassword,
	)

	if err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}

	return nil
}

// GetProfile returns the notes kept about a correspondent address.
func GetProfile(ctx context.Context, pool *pgxpool.Pool, address string) (*models.Profile, error) {
	var profile models.Profile

	err := pool.QueryRow(ctx, `
		SELECT address, data, updated_at
		FROM profiles
		WHERE address = $1
	`, address).Scan(&profile.Address, &profile.Data, &profile.UpdatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrProfileNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	return &profile, nil
}

// SaveProfile replaces the notes kept about a correspondent address.
func SaveProfile(ctx context.Context, pool *pgxpool.Pool, profile *models.Profile) error {
	data := profile.Data
	if data == nil {
		data = map[string]any{}
	}

	_, err := pool.Exec(ctx, `
		INSERT INTO profiles (address, data)
		VALUES ($1, $2)
		ON CONFLICT (address) DO UPDATE SET
			data = EXCLUDED.data,
			updated_at = NOW()
	`, profile.Address, data)

	if err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}

	return nil
}
