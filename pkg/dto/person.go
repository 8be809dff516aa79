package dto

import (
	"time"

	"github.com/google/uuid"

	"github.com/your-org/facelinker/internal/ledger"
	"github.com/your-org/facelinker/internal/models"
)

// FaceResponse is one identity in an event's face gallery.
type FaceResponse struct {
	ID              uuid.UUID `json:"id"`
	EventID         uuid.UUID `json:"event_id"`
	Name            string    `json:"name"`
	ExemplarURL     string    `json:"exemplar_url"`
	OccurrenceCount int       `json:"occurrence_count"`
	CreatedAt       string    `json:"created_at"`
}

func NewFaceResponse(ident *models.Identity, exemplarURL string) FaceResponse {
	return FaceResponse{
		ID:              ident.ID,
		EventID:         ident.EventID,
		Name:            ident.DisplayName,
		ExemplarURL:     exemplarURL,
		OccurrenceCount: len(ident.Occurrences),
		CreatedAt:       ident.CreatedAt.Format(time.RFC3339),
	}
}

type FaceListResponse struct {
	Faces []FaceResponse `json:"faces"`
	Total int            `json:"total"`
}

type OccurrenceResponse struct {
	ImageID  string                   `json:"image_id"`
	ImageURL string                   `json:"image_url"`
	Box      models.BoundingBox       `json:"box"`
	Others   []models.ImageOccurrence `json:"others"`
}

// FaceDetailResponse is GET /v1/face/:face_id.
type FaceDetailResponse struct {
	Face        FaceResponse         `json:"face"`
	Event       EventResponse        `json:"event"`
	Occurrences []OccurrenceResponse `json:"occurrences"`
}

func NewFaceDetailResponse(view *ledger.FaceView) FaceDetailResponse {
	resp := FaceDetailResponse{
		Face:        NewFaceResponse(view.Identity, view.ExemplarURL),
		Event:       NewEventResponse(view.Event),
		Occurrences: make([]OccurrenceResponse, 0, len(view.Occurrences)),
	}
	for _, o := range view.Occurrences {
		resp.Occurrences = append(resp.Occurrences, OccurrenceResponse{
			ImageID:  o.Occurrence.ImageID,
			ImageURL: o.ImageURL,
			Box:      o.Occurrence.Box,
			Others:   o.Others,
		})
	}
	return resp
}

type UpdateNameRequest struct {
	FaceID uuid.UUID `json:"face_id" binding:"required"`
	Name   string    `json:"name" binding:"required"`
}

// ImageFacesResponse is GET /v1/images/:image_id/faces.
type ImageFacesResponse struct {
	ImageID string                   `json:"image_id"`
	Faces   []models.ImageOccurrence `json:"faces"`
}
