package models

import (
	"time"

	"github.com/google/uuid"
)

// Event owns a set of uploaded images and an independent identity namespace.
type Event struct {
	ID          uuid.UUID  `json:"id" db:"id"`
	OwnerID     uuid.UUID  `json:"owner_id" db:"owner_id"`
	Title       string     `json:"title" db:"title"`
	Location    string     `json:"location" db:"location"`
	Description string     `json:"description" db:"description"`
	StartsAt    *time.Time `json:"starts_at,omitempty" db:"starts_at"`
	EndsAt      *time.Time `json:"ends_at,omitempty" db:"ends_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}

// Prefix is the blob key prefix for everything stored under the event.
func (e *Event) Prefix() string {
	return e.OwnerID.String() + "/" + e.ID.String() + "/"
}

// ImageKey is the blob key of a source image.
func (e *Event) ImageKey(imageID string) string {
	return e.Prefix() + imageID
}

// ExemplarKey is the blob key of an identity's exemplar crop.
func (e *Event) ExemplarKey(identityID uuid.UUID) string {
	return e.Prefix() + "faces/" + identityID.String() + ".png"
}

// User owns events.
type User struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Email     string    `json:"email" db:"email"`
	FirstName string    `json:"first_name" db:"first_name"`
	LastName  string    `json:"last_name" db:"last_name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
