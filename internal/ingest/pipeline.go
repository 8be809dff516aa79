// Package ingest runs uploaded images through detection and identity resolution.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	"github.com/your-org/facelinker/internal/common"
	"github.com/your-org/facelinker/internal/models"
	"github.com/your-org/facelinker/internal/observability"
	"github.com/your-org/facelinker/internal/resolution"
)

// Detector finds faces in a decoded image.
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]models.Detection, error)
}

// Resolver maps one detected face to an identity.
type Resolver interface {
	Resolve(ctx context.Context, ev *models.Event, imageID string, face resolution.DetectedFace) (resolution.Resolution, error)
}

// Store is what the pipeline needs from the ledger.
type Store interface {
	GetEvent(ctx context.Context, id uuid.UUID) (*models.Event, error)
	PutImage(ctx context.Context, ev *models.Event, imageID string, data []byte, contentType string) error
	GetImage(ctx context.Context, ev *models.Event, imageID string) ([]byte, error)
	ListOccurrencesForImage(ctx context.Context, eventID uuid.UUID, imageID string) ([]models.ImageOccurrence, error)
}

// Notifier receives one notice per resolved face. Failures are logged, not returned.
type Notifier interface {
	PublishResolution(ctx context.Context, notice models.ResolutionNotice) error
}

type Request struct {
	Event       *models.Event
	ImageID     string
	Data        []byte
	ContentType string
	// Stored is set when the raw image is already in the blob store.
	Stored bool
	// Recorded holds occurrences already committed for this image by an
	// earlier attempt. Faces with a recorded box are not resolved again.
	Recorded []models.ImageOccurrence
}

// FaceFailure is a detected face that could not be resolved.
type FaceFailure struct {
	Box   models.BoundingBox `json:"box"`
	Error string             `json:"error"`
	Err   error              `json:"-"`
}

type Report struct {
	ImageID     string                  `json:"image_id"`
	Resolutions []resolution.Resolution `json:"resolutions"`
	Failures    []FaceFailure           `json:"failures,omitempty"`
	Discarded   int                     `json:"discarded"`
	// Recovered counts resolutions taken from an earlier attempt.
	Recovered int `json:"recovered,omitempty"`
}

// MinConfidence is the lowest detection confidence accepted as a face.
const MinConfidence = 0.5

type Pipeline struct {
	detector Detector
	resolver Resolver
	store    Store
	notifier Notifier
}

func NewPipeline(detector Detector, resolver Resolver, store Store) *Pipeline {
	return &Pipeline{
		detector: detector,
		resolver: resolver,
		store:    store,
	}
}

// SetNotifier enables resolution notices. n may be nil.
func (p *Pipeline) SetNotifier(n Notifier) {
	p.notifier = n
}

// Ingest detects every face in the image, drops low-confidence detections,
// and resolves the rest one by one. A face that fails to resolve is recorded
// in the report and does not stop the others. Faces already resolved stay
// committed whatever happens afterwards.
//
// The returned report is non-nil whenever detection succeeded, even if err is set.
func (p *Pipeline) Ingest(ctx context.Context, req Request) (*Report, error) {
	ext, err := ValidateFilename(req.ImageID)
	if err != nil {
		observability.ImagesIngested.WithLabelValues("invalid").Inc()
		return nil, err
	}
	contentType := req.ContentType
	if contentType == "" {
		contentType = ContentTypeFor(ext)
	}

	img, err := imaging.Decode(bytes.NewReader(req.Data), imaging.AutoOrientation(true))
	if err != nil {
		observability.ImagesIngested.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("decode %s: %w: %v", req.ImageID, common.ErrInvalidInput, err)
	}

	detections, err := p.detector.Detect(ctx, img)
	if err != nil {
		observability.ImagesIngested.WithLabelValues("oracle_error").Inc()
		return nil, fmt.Errorf("detect faces in %s: %w: %w", req.ImageID, common.ErrOracleUnavailable, err)
	}
	observability.FacesDetected.Add(float64(len(detections)))

	recorded := make(map[models.BoundingBox][]uuid.UUID, len(req.Recorded))
	for _, occ := range req.Recorded {
		recorded[occ.Box] = append(recorded[occ.Box], occ.IdentityID)
	}

	report := &Report{ImageID: req.ImageID, Resolutions: []resolution.Resolution{}}
	for _, det := range detections {
		if det.Confidence < MinConfidence {
			report.Discarded++
			continue
		}

		face, ok, err := cropFace(img, det)
		if err != nil {
			report.fail(det.Box, err)
			continue
		}
		if !ok {
			report.Discarded++
			continue
		}

		if ids := recorded[face.Box]; len(ids) > 0 {
			recorded[face.Box] = ids[1:]
			report.Resolutions = append(report.Resolutions, resolution.Resolution{IdentityID: ids[0], Box: face.Box})
			report.Recovered++
			continue
		}

		res, err := p.resolver.Resolve(ctx, req.Event, req.ImageID, face)
		if err != nil {
			report.fail(face.Box, err)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		report.Resolutions = append(report.Resolutions, res)
	}
	observability.FacesDiscarded.Add(float64(report.Discarded))

	if err := ctx.Err(); err != nil {
		observability.ImagesIngested.WithLabelValues("cancelled").Inc()
		return report, err
	}

	if !req.Stored {
		if err := p.store.PutImage(ctx, req.Event, req.ImageID, req.Data, contentType); err != nil {
			observability.ImagesIngested.WithLabelValues("storage_error").Inc()
			return report, fmt.Errorf("store image %s: %w", req.ImageID, asStorageFailure(err))
		}
	}

	p.notify(ctx, req.Event, report)

	outcome := "ok"
	if len(report.Failures) > 0 {
		outcome = "partial"
	}
	observability.ImagesIngested.WithLabelValues(outcome).Inc()
	slog.Info("image ingested",
		"event_id", req.Event.ID,
		"image_id", req.ImageID,
		"faces", len(report.Resolutions),
		"failed", len(report.Failures),
		"discarded", report.Discarded,
		"recovered", report.Recovered,
	)
	return report, nil
}

func (r *Report) fail(box models.BoundingBox, err error) {
	reason := "other"
	switch {
	case errors.Is(err, common.ErrOracleUnavailable):
		reason = "oracle"
	case errors.Is(err, common.ErrStorageFailure):
		reason = "storage"
	case errors.Is(err, common.ErrNotFound):
		reason = "not_found"
	case errors.Is(err, common.ErrInvalidInput):
		reason = "invalid"
	}
	observability.ResolutionFailures.WithLabelValues(reason).Inc()
	slog.Warn("face resolution failed", "image_id", r.ImageID, "box", box, "error", err)
	r.Failures = append(r.Failures, FaceFailure{Box: box, Error: err.Error(), Err: err})
}

func (p *Pipeline) notify(ctx context.Context, ev *models.Event, report *Report) {
	if p.notifier == nil {
		return
	}
	now := time.Now()
	for _, res := range report.Resolutions {
		notice := models.ResolutionNotice{
			EventID:    ev.ID,
			ImageID:    report.ImageID,
			IdentityID: res.IdentityID,
			Created:    res.Created,
			Box:        res.Box,
			Timestamp:  now,
		}
		if err := p.notifier.PublishResolution(ctx, notice); err != nil {
			slog.Error("publish resolution", "error", err, "identity_id", res.IdentityID)
		}
	}
}

// cropFace clamps the detection to the image and encodes the region as PNG.
// ok is false when nothing of the box lies inside the image.
func cropFace(img image.Image, det models.Detection) (resolution.DetectedFace, bool, error) {
	bounds := img.Bounds()
	rect := det.Box.Rect().Add(bounds.Min).Intersect(bounds)
	if rect.Empty() {
		return resolution.DetectedFace{}, false, nil
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, imaging.Crop(img, rect), imaging.PNG); err != nil {
		return resolution.DetectedFace{}, false, fmt.Errorf("encode crop: %w", err)
	}

	return resolution.DetectedFace{
		Face:       models.Face{PNG: buf.Bytes()},
		Box:        models.BoxFromRect(rect.Sub(bounds.Min)),
		Confidence: det.Confidence,
	}, true, nil
}

func asStorageFailure(err error) error {
	if errors.Is(err, common.ErrStorageFailure) {
		return err
	}
	return fmt.Errorf("%w: %w", common.ErrStorageFailure, err)
}
