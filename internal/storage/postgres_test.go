//go:build integration

package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/your-org/facelinker/internal/common"
	"github.com/your-org/facelinker/internal/models"
)

func setupPostgres(t *testing.T) *PostgresStore {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "pgvector/pgvector:pg16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil || container == nil {
		t.Skipf("docker not available, skipping integration test: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port())
	store, err := NewPostgresStoreFromDSN(dsn, 5)
	require.NoError(t, err)
	t.Cleanup(store.Close)

	require.NoError(t, store.Migrate(ctx))
	return store
}

func TestPostgresStore(t *testing.T) {
	store := setupPostgres(t)
	ctx := context.Background()

	t.Run("MigrateIsIdempotent", func(t *testing.T) {
		require.NoError(t, store.Migrate(ctx))
		versions, err := store.AppliedMigrations(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"001_init.sql"}, versions)
	})

	user := &models.User{ID: uuid.New(), Email: "owner@example.com", FirstName: "Olga"}
	require.NoError(t, store.CreateUser(ctx, user))
	assert.ErrorIs(t, store.CreateUser(ctx, &models.User{ID: uuid.New(), Email: user.Email}), common.ErrInvalidInput)

	ev := &models.Event{ID: uuid.New(), OwnerID: user.ID, Title: "Wedding"}
	require.NoError(t, store.CreateEvent(ctx, ev))

	t.Run("EventUnknownOwner", func(t *testing.T) {
		err := store.CreateEvent(ctx, &models.Event{ID: uuid.New(), OwnerID: uuid.New(), Title: "x"})
		assert.ErrorIs(t, err, common.ErrNotFound)
	})

	first := newTestIdentity(ev, "a.png")
	second := newTestIdentity(ev, "b.png")
	require.NoError(t, store.InsertIdentity(ctx, first, []float32{0.6, 0.8, 0}))
	require.NoError(t, store.InsertIdentity(ctx, second, nil))

	t.Run("ExemplarsInCreationOrder", func(t *testing.T) {
		exemplars, err := store.ListExemplars(ctx, ev.ID)
		require.NoError(t, err)
		require.Len(t, exemplars, 2)
		assert.Equal(t, first.ID, exemplars[0].IdentityID)
		assert.InDeltaSlice(t, []float32{0.6, 0.8, 0}, exemplars[0].Face.Embedding, 1e-6)
		assert.Equal(t, second.ID, exemplars[1].IdentityID)
		assert.Nil(t, exemplars[1].Face.Embedding)
	})

	t.Run("AppendAndQuery", func(t *testing.T) {
		occ := models.Occurrence{ImageID: "b.png", Box: models.BoundingBox{X: 40, Y: 40, Width: 12, Height: 12}}
		require.NoError(t, store.AppendOccurrence(ctx, first.ID, occ))

		got, err := store.GetIdentity(ctx, first.ID)
		require.NoError(t, err)
		require.Len(t, got.Occurrences, 2)
		assert.Equal(t, occ, got.Occurrences[1])

		inB, err := store.ListImageOccurrences(ctx, ev.ID, "b.png")
		require.NoError(t, err)
		require.Len(t, inB, 2)
		assert.Equal(t, first.ID, inB[0].IdentityID)

		assert.ErrorIs(t, store.AppendOccurrence(ctx, uuid.New(), occ), common.ErrNotFound)
	})

	t.Run("Rename", func(t *testing.T) {
		require.NoError(t, store.RenameIdentity(ctx, second.ID, "Bob"))
		require.NoError(t, store.RenameIdentity(ctx, second.ID, "Bob"))
		idents, err := store.ListIdentities(ctx, ev.ID)
		require.NoError(t, err)
		require.Len(t, idents, 2)
		assert.Equal(t, "Bob", idents[1].DisplayName)
		assert.Len(t, idents[1].Occurrences, 1)
	})

	t.Run("DeleteEventCascades", func(t *testing.T) {
		require.NoError(t, store.DeleteEvent(ctx, ev.ID))
		_, err := store.GetIdentity(ctx, first.ID)
		assert.ErrorIs(t, err, common.ErrNotFound)

		stats, err := store.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(0), stats["occurrences"])
		assert.ErrorIs(t, store.DeleteEvent(ctx, ev.ID), common.ErrNotFound)
	})
}
