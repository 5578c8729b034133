package secrets

import (
	"context"
	"errors"
	"fmt"

	"github.com/99designs/keyring"
)

// Keyring stores secrets in the OS keyring, for running on a workstation.
type Keyring struct {
	ring keyring.Keyring
}

// OpenKeyring opens the platform keyring under the given service name.
func OpenKeyring(service string) (*Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: service,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/" + service + "/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt(service + "-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open keyring: %w", err)
	}
	return NewKeyring(ring), nil
}

func NewKeyring(ring keyring.Keyring) *Keyring {
	return &Keyring{ring: ring}
}

func (k *Keyring) DisplayName(_ context.Context, localPart string) (string, error) {
	return k.get(NamePath(localPart))
}

func (k *Keyring) Password(_ context.Context, localPart string) (string, error) {
	return k.get(PasswordPath(localPart))
}

// SetAccount stores the display name and, when non-empty, the password.
func (k *Keyring) SetAccount(_ context.Context, localPart, displayName, password string) error {
	if err := k.set(NamePath(localPart), displayName); err != nil {
		return err
	}
	if password == "" {
		return nil
	}
	return k.set(PasswordPath(localPart), password)
}

func (k *Keyring) get(key string) (string, error) {
	item, err := k.ring.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get %s from keyring: %w", key, err)
	}
	return string(item.Data), nil
}

func (k *Keyring) set(key, value string) error {
	if err := k.ring.Set(keyring.Item{Key: key, Data: []byte(value)}); err != nil {
		return fmt.Errorf("failed to set %s in keyring: %w", key, err)
	}
	return nil
}
