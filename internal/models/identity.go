package models

import (
	"image"
	"time"

	"github.com/google/uuid"
)

// DefaultDisplayName is assigned to every new identity.
const DefaultDisplayName = "unknown"

// BoundingBox is a face region in pixel coordinates of its source image.
type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Rect converts the box to an image.Rectangle.
func (b BoundingBox) Rect() image.Rectangle {
	return image.Rect(b.X, b.Y, b.X+b.Width, b.Y+b.Height)
}

// Empty reports whether the box has no area.
func (b BoundingBox) Empty() bool {
	return b.Width <= 0 || b.Height <= 0
}

// BoxFromRect converts an image.Rectangle into a BoundingBox.
func BoxFromRect(r image.Rectangle) BoundingBox {
	r = r.Canon()
	return BoundingBox{X: r.Min.X, Y: r.Min.Y, Width: r.Dx(), Height: r.Dy()}
}

// Occurrence is one appearance of an identity in one image.
type Occurrence struct {
	ImageID string      `json:"image_id"`
	Box     BoundingBox `json:"box"`
}

// Identity is one distinct person within one event ("face" in the UI).
type Identity struct {
	ID          uuid.UUID    `json:"id" db:"id"`
	EventID     uuid.UUID    `json:"event_id" db:"event_id"`
	DisplayName string       `json:"display_name" db:"display_name"`
	Occurrences []Occurrence `json:"occurrences"`
	ExemplarKey string       `json:"exemplar_key" db:"exemplar_key"`
	CreatedAt   time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at" db:"updated_at"`
}

// NewIdentity builds a fresh identity whose occurrence list holds only first.
func NewIdentity(eventID uuid.UUID, first Occurrence) *Identity {
	occurrences := make([]Occurrence, 1, 4)
	occurrences[0] = first
	return &Identity{
		ID:          uuid.New(),
		EventID:     eventID,
		DisplayName: DefaultDisplayName,
		Occurrences: occurrences,
	}
}

// Face is a face crop as handed to the vision oracle. Embedding is an optional
// cache populated by embedding-based oracles.
type Face struct {
	PNG       []byte    `json:"-"`
	Embedding []float32 `json:"-"`
}

// Exemplar is the canonical crop representing an identity for comparison.
type Exemplar struct {
	IdentityID uuid.UUID
	Key        string
	Face       Face
}

// ImageOccurrence is one identity found in a given image.
type ImageOccurrence struct {
	IdentityID  uuid.UUID   `json:"identity_id"`
	DisplayName string      `json:"display_name"`
	Box         BoundingBox `json:"box"`
}

// Detection is one face located by the vision oracle.
type Detection struct {
	Box        BoundingBox `json:"box"`
	Confidence float64     `json:"confidence"`
}
