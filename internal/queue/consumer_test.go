package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/facelinker/internal/common"
	"github.com/your-org/facelinker/internal/models"
)

// fakeMsg records how a message was settled.
type fakeMsg struct {
	jetstream.Msg
	data     []byte
	settled  string
	progress atomic.Int32
}

func (m *fakeMsg) Data() []byte    { return m.data }
func (m *fakeMsg) Subject() string { return "uploads.test" }
func (m *fakeMsg) Ack() error      { m.settled = "ack"; return nil }
func (m *fakeMsg) Nak() error      { m.settled = "nak"; return nil }
func (m *fakeMsg) Term() error     { m.settled = "term"; return nil }
func (m *fakeMsg) InProgress() error {
	m.progress.Add(1)
	return nil
}

func taskMsg(t *testing.T, task models.IngestTask) *fakeMsg {
	t.Helper()
	data, err := json.Marshal(task)
	require.NoError(t, err)
	return &fakeMsg{data: data}
}

func TestHandleTask_Settlement(t *testing.T) {
	task := models.IngestTask{EventID: uuid.New(), ImageID: "a.png"}

	tests := []struct {
		name    string
		err     error
		settled string
	}{
		{"success", nil, "ack"},
		{"oracle down is retried", fmt.Errorf("detect: %w", common.ErrOracleUnavailable), "nak"},
		{"storage failure is retried", common.ErrStorageFailure, "nak"},
		{"missing image is dropped", fmt.Errorf("load image: %w", common.ErrNotFound), "term"},
		{"undecodable image is dropped", common.ErrInvalidInput, "term"},
		{"unknown error is retried", errors.New("boom"), "nak"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := taskMsg(t, task)
			var got models.IngestTask
			handleTask(context.Background(), msg, func(_ context.Context, tk models.IngestTask) error {
				got = tk
				return tt.err
			}, 0)
			assert.Equal(t, tt.settled, msg.settled)
			assert.Equal(t, task.ImageID, got.ImageID)
		})
	}
}

func TestHandleTask_GarbageIsTerminated(t *testing.T) {
	msg := &fakeMsg{data: []byte("{not json")}
	called := false
	handleTask(context.Background(), msg, func(context.Context, models.IngestTask) error {
		called = true
		return nil
	}, 0)
	assert.False(t, called)
	assert.Equal(t, "term", msg.settled)
}

func TestSubjects(t *testing.T) {
	id := uuid.MustParse("6f1c2a34-0000-4000-8000-000000000001")
	assert.Equal(t, "uploads.6f1c2a34-0000-4000-8000-000000000001", UploadSubject(id))
	assert.Equal(t, "resolutions.6f1c2a34-0000-4000-8000-000000000001", ResolutionSubject(id))
}

func TestHandleTask_ReportsProgress(t *testing.T) {
	prev := progressInterval
	progressInterval = 5 * time.Millisecond
	t.Cleanup(func() { progressInterval = prev })

	msg := taskMsg(t, models.IngestTask{EventID: uuid.New(), ImageID: "slow.png"})
	handleTask(context.Background(), msg, func(context.Context, models.IngestTask) error {
		time.Sleep(50 * time.Millisecond)
		return nil
	}, 0)

	assert.Positive(t, msg.progress.Load())
	assert.Equal(t, "ack", msg.settled)
}

func TestDrain_LetsInFlightTaskFinish(t *testing.T) {
	c := &Consumer{}
	ctx, cancel := context.WithCancel(context.Background())
	msgCh := make(chan jetstream.Msg, 1)
	started := make(chan struct{})

	var handlerErr error
	c.startWorkers(ctx, msgCh, func(hctx context.Context, _ models.IngestTask) error {
		close(started)
		time.Sleep(50 * time.Millisecond)
		handlerErr = hctx.Err()
		return handlerErr
	}, 1)

	msg := taskMsg(t, models.IngestTask{EventID: uuid.New(), ImageID: "a.png"})
	msgCh <- msg
	<-started
	cancel()
	close(msgCh)

	assert.True(t, c.Drain(2*time.Second))
	assert.NoError(t, handlerErr)
	assert.Equal(t, "ack", msg.settled)
}

func TestDrain_CancelsOverrunningTask(t *testing.T) {
	c := &Consumer{}
	ctx, cancel := context.WithCancel(context.Background())
	msgCh := make(chan jetstream.Msg, 1)
	started := make(chan struct{})

	c.startWorkers(ctx, msgCh, func(hctx context.Context, _ models.IngestTask) error {
		close(started)
		<-hctx.Done()
		return hctx.Err()
	}, 1)

	msg := taskMsg(t, models.IngestTask{EventID: uuid.New(), ImageID: "stuck.png"})
	msgCh <- msg
	<-started
	cancel()
	close(msgCh)

	assert.False(t, c.Drain(20*time.Millisecond))
	assert.Equal(t, "nak", msg.settled)
}

func TestDrain_WithoutWorkers(t *testing.T) {
	assert.True(t, (&Consumer{}).Drain(time.Millisecond))
}
