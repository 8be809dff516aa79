package ingest

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/your-org/facelinker/internal/models"
)

// Upload is one file of a multi-file upload.
type Upload struct {
	Filename    string
	Data        []byte
	ContentType string
}

// Outcome is the result of ingesting one Upload. Report may be set even when Err is.
type Outcome struct {
	Filename string
	ImageID  string
	Report   *Report
	Err      error
}

// IngestBatch ingests uploads concurrently, at most parallelism at a time.
// Each file succeeds or fails on its own; outcomes keep the input order.
func (p *Pipeline) IngestBatch(ctx context.Context, ev *models.Event, uploads []Upload, parallelism int) []Outcome {
	outcomes := make([]Outcome, len(uploads))

	var g errgroup.Group
	if parallelism > 0 {
		g.SetLimit(parallelism)
	}

	for i, up := range uploads {
		outcomes[i].Filename = up.Filename

		ext, err := ValidateFilename(up.Filename)
		if err != nil {
			outcomes[i].Err = err
			continue
		}
		imageID := NewImageID(ext)
		outcomes[i].ImageID = imageID

		g.Go(func() error {
			report, err := p.Ingest(ctx, Request{
				Event:       ev,
				ImageID:     imageID,
				Data:        up.Data,
				ContentType: up.ContentType,
			})
			outcomes[i].Report = report
			outcomes[i].Err = err
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}
