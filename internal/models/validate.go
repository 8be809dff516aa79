package models

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/your-org/facelinker/internal/common"
)

func (u *User) Validate() error {
	if u.ID == uuid.Nil {
		return fmt.Errorf("user id: %w", common.ErrInvalidInput)
	}
	if strings.TrimSpace(u.Email) == "" {
		return fmt.Errorf("user email: %w", common.ErrInvalidInput)
	}
	return nil
}

func (e *Event) Validate() error {
	if e.ID == uuid.Nil {
		return fmt.Errorf("event id: %w", common.ErrInvalidInput)
	}
	if e.OwnerID == uuid.Nil {
		return fmt.Errorf("event owner: %w", common.ErrInvalidInput)
	}
	if strings.TrimSpace(e.Title) == "" {
		return fmt.Errorf("event title: %w", common.ErrInvalidInput)
	}
	if e.StartsAt != nil && e.EndsAt != nil && e.EndsAt.Before(*e.StartsAt) {
		return fmt.Errorf("event ends before it starts: %w", common.ErrInvalidInput)
	}
	return nil
}

func (o Occurrence) Validate() error {
	if o.ImageID == "" {
		return fmt.Errorf("occurrence image id: %w", common.ErrInvalidInput)
	}
	if o.Box.Empty() || o.Box.X < 0 || o.Box.Y < 0 {
		return fmt.Errorf("occurrence box %+v: %w", o.Box, common.ErrInvalidInput)
	}
	return nil
}

// Validate checks a freshly built identity before it is persisted.
// A new identity carries exactly one occurrence.
func (i *Identity) Validate() error {
	if i.ID == uuid.Nil || i.EventID == uuid.Nil {
		return fmt.Errorf("identity ids: %w", common.ErrInvalidInput)
	}
	if i.ExemplarKey == "" {
		return fmt.Errorf("identity exemplar: %w", common.ErrInvalidInput)
	}
	if len(i.Occurrences) != 1 {
		return fmt.Errorf("identity needs exactly one initial occurrence, got %d: %w",
			len(i.Occurrences), common.ErrInvalidInput)
	}
	return i.Occurrences[0].Validate()
}

// ValidDisplayName rejects blank names.
func ValidDisplayName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("display name: %w", common.ErrInvalidInput)
	}
	return nil
}
