package models

import (
	"time"

	"github.com/google/uuid"
)

// IngestTask is the message published to NATS for asynchronous ingestion.
// The raw image is already stored under ImageKey when the task is published.
type IngestTask struct {
	EventID     uuid.UUID `json:"event_id"`
	ImageID     string    `json:"image_id"`
	ImageKey    string    `json:"image_key"` // MinIO object key
	ContentType string    `json:"content_type"`
	QueuedAt    time.Time `json:"queued_at"`
}

// ResolutionNotice is emitted for every resolved face.
type ResolutionNotice struct {
	EventID    uuid.UUID   `json:"event_id"`
	ImageID    string      `json:"image_id"`
	IdentityID uuid.UUID   `json:"identity_id"`
	Created    bool        `json:"created"`
	Box        BoundingBox `json:"box"`
	Timestamp  time.Time   `json:"timestamp"`
}
