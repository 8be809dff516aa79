package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/your-org/facelinker/internal/models"
)

// TaskPublisher queues ingest tasks for the worker pool.
type TaskPublisher interface {
	PublishIngestTask(ctx context.Context, task models.IngestTask) error
}

// Dispatcher stores uploads and queues them instead of ingesting inline.
type Dispatcher struct {
	store     Store
	publisher TaskPublisher
}

func NewDispatcher(store Store, publisher TaskPublisher) *Dispatcher {
	return &Dispatcher{store: store, publisher: publisher}
}

// Enqueue stores the raw image and publishes a task for it. The returned
// image id is final: the worker ingests the stored object under that id.
func (d *Dispatcher) Enqueue(ctx context.Context, ev *models.Event, up Upload) (string, error) {
	ext, err := ValidateFilename(up.Filename)
	if err != nil {
		return "", err
	}
	imageID := NewImageID(ext)
	contentType := up.ContentType
	if contentType == "" {
		contentType = ContentTypeFor(ext)
	}

	if err := d.store.PutImage(ctx, ev, imageID, up.Data, contentType); err != nil {
		return "", fmt.Errorf("store image %s: %w", imageID, asStorageFailure(err))
	}

	task := models.IngestTask{
		EventID:     ev.ID,
		ImageID:     imageID,
		ImageKey:    ev.ImageKey(imageID),
		ContentType: contentType,
		QueuedAt:    time.Now(),
	}
	if err := d.publisher.PublishIngestTask(ctx, task); err != nil {
		return "", fmt.Errorf("publish ingest task: %w", err)
	}
	return imageID, nil
}

// ProcessTask ingests a queued image that is already in the blob store.
// A task may be delivered more than once; faces committed by an earlier
// delivery are reported again but not appended a second time.
func (p *Pipeline) ProcessTask(ctx context.Context, task models.IngestTask) (*Report, error) {
	ev, err := p.store.GetEvent(ctx, task.EventID)
	if err != nil {
		return nil, fmt.Errorf("load event %s: %w", task.EventID, err)
	}
	data, err := p.store.GetImage(ctx, ev, task.ImageID)
	if err != nil {
		return nil, fmt.Errorf("load image %s: %w", task.ImageID, err)
	}
	recorded, err := p.store.ListOccurrencesForImage(ctx, ev.ID, task.ImageID)
	if err != nil {
		return nil, fmt.Errorf("load occurrences of %s: %w", task.ImageID, err)
	}
	return p.Ingest(ctx, Request{
		Event:       ev,
		ImageID:     task.ImageID,
		Data:        data,
		ContentType: task.ContentType,
		Stored:      true,
		Recorded:    recorded,
	})
}
