package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/facelinker/internal/config"
)

func clearEnv(t *testing.T) {
	t.Setenv("FL_DB_DRIVER", "")
	t.Setenv("FL_MINIO_ENDPOINT", "")
	t.Setenv("FL_MINIO_PUBLIC_BASE_URL", "")
}

func TestOpenStores_Memory(t *testing.T) {
	clearEnv(t)
	cfg, err := config.Parse([]byte("database:\n  driver: memory\n"))
	require.NoError(t, err)

	s, err := OpenStores(context.Background(), cfg, true)
	require.NoError(t, err)
	defer s.Close()

	assert.Nil(t, s.Postgres)
	require.NotNil(t, s.MemoryBlobs)
	assert.False(t, s.Shared())

	url, err := s.Blobs.URL(context.Background(), "a/b.png")
	require.NoError(t, err)
	assert.Equal(t, "/blobs/a/b.png", url)

	stats, err := s.Meta.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats["identities"])
}

func TestOpenStores_UnknownDriver(t *testing.T) {
	clearEnv(t)
	cfg, err := config.Parse([]byte("database:\n  driver: sqlite\n"))
	require.NoError(t, err)

	_, err = OpenStores(context.Background(), cfg, false)
	assert.ErrorContains(t, err, "sqlite")
}
