package models

import (
	"time"

	"github.com/google/uuid"
)

// Wallet holds a user's signing key pair. Keys are hex encoded.
type Wallet struct {
	ID        uuid.UUID `json:"id" db:"id"`
	UserID    uuid.UUID `json:"user_id" db:"user_id"`
	Name      string    `json:"name" db:"name"`
	PublicKey string    `json:"public_key" db:"public_key"`
	SecretKey string    `json:"-" db:"secret_key"`
	IsDefault bool      `json:"is_default" db:"is_default"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
