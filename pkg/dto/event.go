package dto

import (
	"time"

	"github.com/google/uuid"

	"github.com/your-org/facelinker/internal/models"
)

type CreateUserRequest struct {
	Email     string `json:"email" binding:"required"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type UserResponse struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	CreatedAt string    `json:"created_at"`
}

func NewUserResponse(u *models.User) UserResponse {
	return UserResponse{
		ID:        u.ID,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		CreatedAt: u.CreatedAt.Format(time.RFC3339),
	}
}

type CreateEventRequest struct {
	OwnerID     uuid.UUID  `json:"owner_id" binding:"required"`
	Title       string     `json:"title" binding:"required"`
	Location    string     `json:"location"`
	Description string     `json:"description"`
	StartsAt    *time.Time `json:"starts_at,omitempty"`
	EndsAt      *time.Time `json:"ends_at,omitempty"`
}

type EventResponse struct {
	ID          uuid.UUID  `json:"id"`
	OwnerID     uuid.UUID  `json:"owner_id"`
	Title       string     `json:"title"`
	Location    string     `json:"location,omitempty"`
	Description string     `json:"description,omitempty"`
	StartsAt    *time.Time `json:"starts_at,omitempty"`
	EndsAt      *time.Time `json:"ends_at,omitempty"`
	CreatedAt   string     `json:"created_at"`
}

func NewEventResponse(ev *models.Event) EventResponse {
	return EventResponse{
		ID:          ev.ID,
		OwnerID:     ev.OwnerID,
		Title:       ev.Title,
		Location:    ev.Location,
		Description: ev.Description,
		StartsAt:    ev.StartsAt,
		EndsAt:      ev.EndsAt,
		CreatedAt:   ev.CreatedAt.Format(time.RFC3339),
	}
}

type EventListResponse struct {
	Events []EventResponse `json:"events"`
	Total  int             `json:"total"`
}

type ImageResponse struct {
	ImageID string `json:"image_id"`
	URL     string `json:"url"`
}

type ImageListResponse struct {
	Images []ImageResponse `json:"images"`
	Total  int             `json:"total"`
}

// WSEvent is a WebSocket message for real-time resolution delivery.
type WSEvent struct {
	Type    string           `json:"type"` // face_created, face_matched
	EventID uuid.UUID        `json:"event_id"`
	Data    ResolutionNotice `json:"data"`
}

type ResolutionNotice struct {
	ImageID    string             `json:"image_id"`
	IdentityID uuid.UUID          `json:"identity_id"`
	Box        models.BoundingBox `json:"box"`
	Timestamp  string             `json:"timestamp"`
}

func NewWSEvent(n models.ResolutionNotice) WSEvent {
	typ := "face_matched"
	if n.Created {
		typ = "face_created"
	}
	return WSEvent{
		Type:    typ,
		EventID: n.EventID,
		Data: ResolutionNotice{
			ImageID:    n.ImageID,
			IdentityID: n.IdentityID,
			Box:        n.Box,
			Timestamp:  n.Timestamp.Format(time.RFC3339Nano),
		},
	}
}
