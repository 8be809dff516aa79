package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/facelinker/internal/ingest"
	"github.com/your-org/facelinker/internal/ledger"
	"github.com/your-org/facelinker/internal/models"
	"github.com/your-org/facelinker/pkg/dto"
)

// Enqueuer queues a stored upload for the worker pool.
type Enqueuer interface {
	Enqueue(ctx context.Context, ev *models.Event, up ingest.Upload) (string, error)
}

type UploadHandler struct {
	ledger      *ledger.Ledger
	pipeline    *ingest.Pipeline
	dispatcher  Enqueuer
	parallelism int
	maxBytes    int64
}

// NewUploadHandler builds the upload endpoint. dispatcher may be nil, in which
// case ?async=true is rejected.
func NewUploadHandler(l *ledger.Ledger, pipeline *ingest.Pipeline, dispatcher Enqueuer, parallelism int, maxBytes int64) *UploadHandler {
	return &UploadHandler{
		ledger:      l,
		pipeline:    pipeline,
		dispatcher:  dispatcher,
		parallelism: parallelism,
		maxBytes:    maxBytes,
	}
}

// Upload ingests every file of the multipart field "files". Each file is
// reported on its own; one bad file does not fail the others.
func (h *UploadHandler) Upload(c *gin.Context) {
	eventID, ok := paramUUID(c, "event_id")
	if !ok {
		return
	}
	async := c.Query("async") == "true" || c.Query("async") == "1"
	if async && h.dispatcher == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "async ingestion is not configured"})
		return
	}

	ctx := c.Request.Context()
	ev, err := h.ledger.GetEvent(ctx, eventID)
	if err != nil {
		respondError(c, err)
		return
	}

	if h.maxBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes)
	}
	form, err := c.MultipartForm()
	if err != nil {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		c.JSON(status, gin.H{"error": "invalid multipart form: " + err.Error()})
		return
	}
	files := form.File["files"]
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "at least one file required in field \"files\""})
		return
	}

	uploads := make([]ingest.Upload, 0, len(files))
	for _, fh := range files {
		data, err := readPart(fh)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		uploads = append(uploads, ingest.Upload{Filename: fh.Filename, Data: data})
	}

	resp := dto.UploadResponse{EventID: ev.ID.String()}
	var firstErr error
	record := func(r dto.UploadResult, err error) {
		if err != nil {
			r.Error = err.Error()
			resp.Failed++
			if firstErr == nil {
				firstErr = err
			}
		} else {
			resp.Succeeded++
		}
		resp.Results = append(resp.Results, r)
	}

	status := http.StatusOK
	if async {
		status = http.StatusAccepted
		for _, up := range uploads {
			imageID, err := h.dispatcher.Enqueue(ctx, ev, up)
			record(dto.UploadResult{Filename: up.Filename, ImageID: imageID, Queued: err == nil}, err)
		}
	} else {
		for _, o := range h.pipeline.IngestBatch(ctx, ev, uploads, h.parallelism) {
			record(dto.UploadResult{Filename: o.Filename, ImageID: o.ImageID, Report: o.Report}, o.Err)
		}
	}

	if resp.Succeeded == 0 && firstErr != nil {
		status = statusFor(firstErr)
	}
	c.JSON(status, resp)
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", fh.Filename, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", fh.Filename, err)
	}
	return data, nil
}
