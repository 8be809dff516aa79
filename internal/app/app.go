// Package app wires the stores, the vision oracle and the ingestion pipeline
// from configuration. Every binary builds its services here.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/your-org/facelinker/internal/config"
	"github.com/your-org/facelinker/internal/ingest"
	"github.com/your-org/facelinker/internal/ledger"
	"github.com/your-org/facelinker/internal/resolution"
	"github.com/your-org/facelinker/internal/storage"
	"github.com/your-org/facelinker/internal/vision"
)

type MetadataStore interface {
	ledger.MetadataStore
	Ping(ctx context.Context) error
	Stats(ctx context.Context) (map[string]int64, error)
}

type BlobStore interface {
	ledger.BlobStore
	Ping(ctx context.Context) error
}

type Stores struct {
	Meta  MetadataStore
	Blobs BlobStore

	// Postgres is set when database.driver is "postgres".
	Postgres *storage.PostgresStore
	// MemoryBlobs is set when no MinIO endpoint is configured.
	MemoryBlobs *storage.MemoryBlobStore
}

// OpenStores connects the metadata and blob stores selected by cfg.
// Postgres migrations are applied when migrate is true.
func OpenStores(ctx context.Context, cfg *config.Config, migrate bool) (*Stores, error) {
	s := &Stores{}

	switch cfg.Database.Driver {
	case "memory":
		slog.Warn("using in-memory metadata store; data is lost on restart")
		s.Meta = storage.NewMemoryStore()
	case "postgres":
		db, err := storage.NewPostgresStore(cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		if migrate {
			if err := db.Migrate(ctx); err != nil {
				db.Close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
		s.Meta, s.Postgres = db, db
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}

	if cfg.MinIO.Endpoint == "" {
		slog.Warn("no minio endpoint configured; blobs are kept in memory")
		baseURL := cfg.MinIO.PublicBaseURL
		if baseURL == "" {
			baseURL = "/blobs"
		}
		s.MemoryBlobs = storage.NewMemoryBlobStore(baseURL)
		s.Blobs = s.MemoryBlobs
		return s, nil
	}

	minioStore, err := storage.NewMinIOStore(cfg.MinIO)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("connect to minio: %w", err)
	}
	if err := minioStore.EnsureBucket(ctx); err != nil {
		slog.Warn("ensure minio bucket", "error", err)
	}
	s.Blobs = minioStore
	return s, nil
}

// Shared reports whether other processes see the same data. In-memory
// stores are private to this process.
func (s *Stores) Shared() bool {
	return s.Postgres != nil && s.MemoryBlobs == nil
}

func (s *Stores) Close() {
	if s.Postgres != nil {
		s.Postgres.Close()
	}
}

// Services is the fully wired resolution stack.
type Services struct {
	Stores   *Stores
	Ledger   *ledger.Ledger
	Oracle   *vision.ONNXOracle
	Engine   *resolution.Engine
	Pipeline *ingest.Pipeline

	closers []func()
}

// Build opens the stores, loads the ONNX models and assembles the pipeline.
func Build(ctx context.Context, cfg *config.Config, migrate bool) (*Services, error) {
	stores, err := OpenStores(ctx, cfg, migrate)
	if err != nil {
		return nil, err
	}
	svc := &Services{Stores: stores}
	svc.closers = append(svc.closers, stores.Close)

	destroyRuntime, err := vision.InitRuntime(cfg.Vision.ONNXLibPath)
	if err != nil {
		svc.Close()
		return nil, err
	}
	svc.closers = append(svc.closers, destroyRuntime)

	svc.Oracle, err = vision.NewONNXOracle(cfg.Vision)
	if err != nil {
		svc.Close()
		return nil, fmt.Errorf("init vision oracle: %w", err)
	}
	svc.closers = append(svc.closers, svc.Oracle.Close)

	svc.Ledger = ledger.New(stores.Meta, stores.Blobs)
	svc.Engine = resolution.NewEngine(svc.Oracle, svc.Ledger)
	svc.Pipeline = ingest.NewPipeline(svc.Oracle, svc.Engine, svc.Ledger)
	return svc, nil
}

// Close releases resources in reverse order of acquisition.
func (s *Services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// ErrNotShared is returned by binaries that need stores visible to other processes.
var ErrNotShared = errors.New("in-memory stores cannot be shared between processes; configure postgres and minio")
