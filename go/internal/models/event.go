package models

import (
	"time"

	"github.com/google/uuid"
)

// Event is a show that tickets are sold for
type Event struct {
	ID             uuid.UUID  `json:"id" db:"id"`
	OrganizationID uuid.UUID  `json:"organization_id" db:"organization_id"`
	VenueID        *uuid.UUID `json:"venue_id,omitempty" db:"venue_id"`
	Name           string     `json:"name" db:"name"`
	EventStart     *time.Time `json:"event_start,omitempty" db:"event_start"`
	EventEnd       *time.Time `json:"event_end,omitempty" db:"event_end"`
}

// Venue is where an event takes place
type Venue struct {
	ID         uuid.UUID `json:"id" db:"id"`
	Name       string    `json:"name" db:"name"`
	Address    string    `json:"address" db:"address"`
	City       string    `json:"city" db:"city"`
	State      string    `json:"state" db:"state"`
	PostalCode string    `json:"postal_code" db:"postal_code"`
	Country    string    `json:"country" db:"country"`
	Timezone   string    `json:"timezone" db:"timezone"`
}

// OrganizationInteraction tracks how often a user engaged with an organization.
type OrganizationInteraction struct {
	OrganizationID   uuid.UUID `json:"organization_id" db:"organization_id"`
	UserID           uuid.UUID `json:"user_id" db:"user_id"`
	FirstInteraction time.Time `json:"first_interaction" db:"first_interaction"`
	LastInteraction  time.Time `json:"last_interaction" db:"last_interaction"`
	InteractionCount int64     `json:"interaction_count" db:"interaction_count"`
}
