package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/facelinker/internal/common"
	"github.com/your-org/facelinker/internal/models"
)

type TaskHandler func(ctx context.Context, task models.IngestTask) error

type NoticeHandler func(ctx context.Context, notice models.ResolutionNotice) error

// ingestAckWait bounds how long a task may go without an ack or a progress signal.
const ingestAckWait = 2 * time.Minute

// progressInterval is how often a running task tells the server it is still alive.
var progressInterval = ingestAckWait / 2

type Consumer struct {
	nc *nats.Conn
	js jetstream.JetStream

	workers      sync.WaitGroup
	stopHandlers context.CancelFunc
}

func NewConsumer(natsURL string) (*Consumer, error) {
	nc, js, err := connect(natsURL)
	if err != nil {
		return nil, err
	}
	return &Consumer{nc: nc, js: js}, nil
}

// ConsumeIngestTasks starts a durable consumer on the UPLOADS stream.
// workerCount goroutines process tasks concurrently. Cancelling ctx stops
// fetching; tasks already handed to a worker keep running until Drain.
func (c *Consumer) ConsumeIngestTasks(ctx context.Context, consumerName string, handler TaskHandler, workerCount int) error {
	stream, err := c.js.Stream(ctx, UploadsStreamName)
	if err != nil {
		return fmt.Errorf("get stream %s: %w", UploadsStreamName, err)
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       ingestAckWait,
		MaxDeliver:    5,
		FilterSubject: UploadsSubjectBase + ".>",
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	msgCh := make(chan jetstream.Msg, workerCount*2)

	c.workers.Add(1)
	go func() {
		defer c.workers.Done()
		defer close(msgCh)
		for {
			if ctx.Err() != nil {
				return
			}

			batch, err := cons.Fetch(workerCount, jetstream.FetchMaxWait(5*time.Second))
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Warn("fetch ingest tasks error", "error", err)
				time.Sleep(time.Second)
				continue
			}

			for msg := range batch.Messages() {
				select {
				case msgCh <- msg:
				case <-ctx.Done():
					_ = msg.Nak()
					return
				}
			}
		}
	}()

	c.startWorkers(ctx, msgCh, handler, workerCount)

	slog.Info("ingest consumer started", "consumer", consumerName, "workers", workerCount)
	return nil
}

// startWorkers runs handlers under a context detached from ctx, so a
// shutdown lets in-flight tasks finish. Drain cancels it if they overrun.
func (c *Consumer) startWorkers(ctx context.Context, msgCh <-chan jetstream.Msg, handler TaskHandler, workerCount int) {
	handlerCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	c.stopHandlers = stop

	for i := 0; i < workerCount; i++ {
		c.workers.Add(1)
		go func(workerID int) {
			defer c.workers.Done()
			for msg := range msgCh {
				handleTask(handlerCtx, msg, handler, workerID)
			}
		}(i)
	}
}

// Drain waits for the workers to finish their current tasks once the
// consume context is cancelled. After timeout the handlers are cancelled
// and Drain waits for them to settle. It reports whether they finished in time.
func (c *Consumer) Drain(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		c.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		if c.stopHandlers != nil {
			c.stopHandlers()
		}
		return true
	case <-time.After(timeout):
	}

	if c.stopHandlers != nil {
		c.stopHandlers()
	}
	<-done
	return false
}

// handleTask acks on success, terminates messages that can never succeed
// and naks the rest for redelivery.
func handleTask(ctx context.Context, msg jetstream.Msg, handler TaskHandler, workerID int) {
	var task models.IngestTask
	if err := json.Unmarshal(msg.Data(), &task); err != nil {
		slog.Error("decode ingest task", "worker", workerID, "subject", msg.Subject(), "error", err)
		_ = msg.Term()
		return
	}

	stopProgress := keepInProgress(msg)
	err := handler(ctx, task)
	stopProgress()

	switch {
	case err == nil:
		_ = msg.Ack()
	case permanent(err):
		slog.Error("ingest task rejected", "worker", workerID, "image_id", task.ImageID, "error", err)
		_ = msg.Term()
	default:
		slog.Error("ingest task failed", "worker", workerID, "image_id", task.ImageID, "error", err)
		_ = msg.Nak()
	}
}

// keepInProgress resets the ack timer while a long ingest runs.
func keepInProgress(msg jetstream.Msg) func() {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(progressInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := msg.InProgress(); err != nil {
					slog.Warn("extend ingest task ack deadline", "subject", msg.Subject(), "error", err)
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

func permanent(err error) bool {
	return errors.Is(err, common.ErrInvalidInput) || errors.Is(err, common.ErrNotFound)
}

// ConsumeResolutions follows new resolution notices with an ephemeral ordered
// consumer, so every subscriber sees every notice.
func (c *Consumer) ConsumeResolutions(ctx context.Context, handler NoticeHandler) error {
	stream, err := c.js.Stream(ctx, ResolutionsStreamName)
	if err != nil {
		return fmt.Errorf("get stream %s: %w", ResolutionsStreamName, err)
	}

	cons, err := stream.OrderedConsumer(ctx, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{ResolutionsSubjectBase + ".>"},
		DeliverPolicy:  jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("create resolutions consumer: %w", err)
	}

	go func() {
		for {
			if ctx.Err() != nil {
				return
			}

			batch, err := cons.Fetch(10, jetstream.FetchMaxWait(5*time.Second))
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				time.Sleep(time.Second)
				continue
			}

			for msg := range batch.Messages() {
				var notice models.ResolutionNotice
				if err := json.Unmarshal(msg.Data(), &notice); err != nil {
					slog.Error("decode resolution notice", "error", err)
					continue
				}
				if err := handler(ctx, notice); err != nil {
					slog.Error("process resolution notice", "error", err)
				}
			}
		}
	}()

	slog.Info("resolution consumer started")
	return nil
}

func (c *Consumer) Close() {
	c.nc.Close()
}
