package models

import (
	"time"
)

// Account is a local mailbox the agent answers from. Its SMTP password is
// stored sealed; see crypto.Encryptor.
type Account struct {
	LocalPart             string    `json:"local_part"`
	DisplayName           string    `json:"display_name"`
	EncryptedSMTPPassword []byte    `json:"-"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// Profile holds free-form notes about a correspondent, fed to the language model.
type Profile struct {
	Address   string         `json:"address"`
	Data      map[string]any `json:"data"`
	UpdatedAt time.Time      `json:"updated_at"`
}
