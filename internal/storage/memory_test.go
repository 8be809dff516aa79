package storage

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/facelinker/internal/common"
	"github.com/your-org/facelinker/internal/models"
)

func seedEvent(t *testing.T, s *MemoryStore) *models.Event {
	t.Helper()
	ctx := context.Background()

	u := &models.User{ID: uuid.New(), Email: uuid.NewString() + "@example.com"}
	require.NoError(t, s.CreateUser(ctx, u))

	ev := &models.Event{ID: uuid.New(), OwnerID: u.ID, Title: "Party"}
	require.NoError(t, s.CreateEvent(ctx, ev))
	return ev
}

func newTestIdentity(ev *models.Event, imageID string) *models.Identity {
	ident := models.NewIdentity(ev.ID, models.Occurrence{
		ImageID: imageID,
		Box:     models.BoundingBox{X: 1, Y: 1, Width: 20, Height: 20},
	})
	ident.ExemplarKey = ev.ExemplarKey(ident.ID)
	return ident
}

func TestMemoryStore_UserAndEvent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	err := s.CreateEvent(ctx, &models.Event{ID: uuid.New(), OwnerID: uuid.New(), Title: "x"})
	assert.ErrorIs(t, err, common.ErrNotFound, "unknown owner")

	ev := seedEvent(t, s)

	got, err := s.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, "Party", got.Title)

	events, err := s.ListEvents(ctx, ev.OwnerID)
	require.NoError(t, err)
	assert.Len(t, events, 1)

	err = s.CreateUser(ctx, &models.User{ID: uuid.New()})
	assert.ErrorIs(t, err, common.ErrInvalidInput)

	_, err = s.GetUser(ctx, uuid.New())
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestMemoryStore_IdentityLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	ev := seedEvent(t, s)

	first := newTestIdentity(ev, "a.png")
	second := newTestIdentity(ev, "b.png")
	require.NoError(t, s.InsertIdentity(ctx, first, []float32{1, 0}))
	require.NoError(t, s.InsertIdentity(ctx, second, nil))

	exemplars, err := s.ListExemplars(ctx, ev.ID)
	require.NoError(t, err)
	require.Len(t, exemplars, 2)
	assert.Equal(t, first.ID, exemplars[0].IdentityID)
	assert.Equal(t, []float32{1, 0}, exemplars[0].Face.Embedding)
	assert.Equal(t, second.ID, exemplars[1].IdentityID)
	assert.Empty(t, exemplars[1].Face.Embedding)

	occ := models.Occurrence{ImageID: "b.png", Box: models.BoundingBox{X: 50, Y: 50, Width: 10, Height: 10}}
	require.NoError(t, s.AppendOccurrence(ctx, first.ID, occ))

	got, err := s.GetIdentity(ctx, first.ID)
	require.NoError(t, err)
	require.Len(t, got.Occurrences, 2)
	assert.Equal(t, occ, got.Occurrences[1])

	inB, err := s.ListImageOccurrences(ctx, ev.ID, "b.png")
	require.NoError(t, err)
	require.Len(t, inB, 2)
	assert.Equal(t, first.ID, inB[0].IdentityID)
	assert.Equal(t, second.ID, inB[1].IdentityID)

	require.NoError(t, s.RenameIdentity(ctx, first.ID, "Alice"))
	require.NoError(t, s.RenameIdentity(ctx, first.ID, "Alice"))
	got, err = s.GetIdentity(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.DisplayName)
	assert.Len(t, got.Occurrences, 2)

	require.NoError(t, s.DeleteIdentity(ctx, second.ID))
	assert.ErrorIs(t, s.DeleteIdentity(ctx, second.ID), common.ErrNotFound)
	assert.ErrorIs(t, s.AppendOccurrence(ctx, second.ID, occ), common.ErrNotFound)
}

func TestMemoryStore_SnapshotsAreIndependent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	ev := seedEvent(t, s)

	ident := newTestIdentity(ev, "a.png")
	require.NoError(t, s.InsertIdentity(ctx, ident, nil))
	ident.Occurrences = append(ident.Occurrences, models.Occurrence{ImageID: "zzz"})

	got, err := s.GetIdentity(ctx, ident.ID)
	require.NoError(t, err)
	assert.Len(t, got.Occurrences, 1)
}

func TestMemoryStore_DeleteEventCascades(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	ev := seedEvent(t, s)
	other := seedEvent(t, s)

	ident := newTestIdentity(ev, "a.png")
	kept := newTestIdentity(other, "a.png")
	require.NoError(t, s.InsertIdentity(ctx, ident, nil))
	require.NoError(t, s.InsertIdentity(ctx, kept, nil))

	require.NoError(t, s.DeleteEvent(ctx, ev.ID))

	_, err := s.GetIdentity(ctx, ident.ID)
	assert.ErrorIs(t, err, common.ErrNotFound)
	_, err = s.GetIdentity(ctx, kept.ID)
	assert.NoError(t, err)
	assert.ErrorIs(t, s.DeleteEvent(ctx, ev.ID), common.ErrNotFound)
}

func TestMemoryStore_RejectsInvalidRecords(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	ev := seedEvent(t, s)

	ident := newTestIdentity(ev, "a.png")
	ident.ExemplarKey = ""
	assert.ErrorIs(t, s.InsertIdentity(ctx, ident, nil), common.ErrInvalidInput)

	orphan := newTestIdentity(&models.Event{ID: uuid.New(), OwnerID: ev.OwnerID}, "a.png")
	assert.ErrorIs(t, s.InsertIdentity(ctx, orphan, nil), common.ErrNotFound)

	valid := newTestIdentity(ev, "a.png")
	require.NoError(t, s.InsertIdentity(ctx, valid, nil))
	assert.ErrorIs(t, s.RenameIdentity(ctx, valid.ID, "  "), common.ErrInvalidInput)
	assert.ErrorIs(t, s.AppendOccurrence(ctx, valid.ID, models.Occurrence{ImageID: "b.png"}), common.ErrInvalidInput)
}
