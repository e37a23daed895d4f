package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// User represents a registered user
type User struct {
	ID        uuid.UUID `json:"id" db:"id"`
	FirstName *string   `json:"first_name,omitempty" db:"first_name"`
	LastName  *string   `json:"last_name,omitempty" db:"last_name"`
	Email     *string   `json:"email,omitempty" db:"email"`
	Phone     *string   `json:"phone,omitempty" db:"phone"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// FullName joins the non-empty name parts.
func (u *User) FullName() string {
	var parts []string
	if u.FirstName != nil && *u.FirstName != "" {
		parts = append(parts, *u.FirstName)
	}
	if u.LastName != nil && *u.LastName != "" {
		parts = append(parts, *u.LastName)
	}
	return strings.Join(parts, " ")
}

// TemporaryUser is a recipient identity that has not registered yet.
type TemporaryUser struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Email     *string   `json:"email,omitempty" db:"email"`
	Phone     *string   `json:"phone,omitempty" db:"phone"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// PushNotificationToken is a device token registered by a user
type PushNotificationToken struct {
	ID                 uuid.UUID  `json:"id" db:"id"`
	UserID             uuid.UUID  `json:"user_id" db:"user_id"`
	TokenSource        string     `json:"token_source" db:"token_source"`
	Token              string     `json:"token" db:"token"`
	LastNotificationAt *time.Time `json:"last_notification_at,omitempty" db:"last_notification_at"`
	CreatedAt          time.Time  `json:"created_at" db:"created_at"`
}
