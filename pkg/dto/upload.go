package dto

import (
	"github.com/your-org/facelinker/internal/ingest"
)

// UploadResult is the outcome for one file of a multipart upload.
type UploadResult struct {
	Filename string         `json:"filename"`
	ImageID  string         `json:"image_id,omitempty"`
	Queued   bool           `json:"queued,omitempty"`
	Report   *ingest.Report `json:"report,omitempty"`
	Error    string         `json:"error,omitempty"`
}

type UploadResponse struct {
	EventID   string         `json:"event_id"`
	Results   []UploadResult `json:"results"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
}
