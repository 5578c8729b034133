// Package secrets looks up per-account sender display names and SMTP
// passwords. Accounts are identified by the local part of their address.
package secrets

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no value is stored for an account.
var ErrNotFound = errors.New("secret not found")

type Store interface {
	DisplayName(ctx context.Context, localPart string) (string, error)
	Password(ctx context.Context, localPart string) (string, error)
}

// NamePath and PasswordPath are the parameter names used by the SSM and
// keyring backends.
func NamePath(localPart string) string {
	return "/bogamail/names/" + localPart
}

func PasswordPath(localPart string) string {
	return "/bogamail/passwords/" + localPart
}

// Writer is implemented by backends that can register accounts.
type Writer interface {
	SetAccount(ctx context.Context, localPart, displayName, password string) error
}
