package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/facelinker/internal/api/handlers"
	"github.com/your-org/facelinker/internal/api/ws"
	"github.com/your-org/facelinker/internal/auth"
	"github.com/your-org/facelinker/internal/ingest"
	"github.com/your-org/facelinker/internal/ledger"
)

// BlobReader serves stored objects when the blob store has no URLs of its own.
type BlobReader interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

type RouterConfig struct {
	APIKey   string
	Ledger   *ledger.Ledger
	Pipeline *ingest.Pipeline
	// Dispatcher is nil when NATS is not configured.
	Dispatcher        handlers.Enqueuer
	Hub               *ws.Hub
	Checks            map[string]handlers.Check
	UploadParallelism int
	MaxUploadBytes    int64
	// Blobs, when set, is served under /blobs/*key.
	Blobs BlobReader
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.Checks)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if cfg.Blobs != nil {
		r.GET("/blobs/*key", serveBlob(cfg.Blobs))
	}

	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey))

	if cfg.Hub != nil {
		v1.GET("/ws", cfg.Hub.HandleWS)
	}

	userH := handlers.NewUserHandler(cfg.Ledger)
	v1.POST("/users", userH.Create)
	v1.GET("/users/:id", userH.Get)

	eventH := handlers.NewEventHandler(cfg.Ledger)
	v1.POST("/events", eventH.Create)
	v1.GET("/events", eventH.List)
	v1.GET("/events/:id", eventH.Get)
	v1.DELETE("/events/:id", eventH.Delete)
	v1.GET("/events/:id/images", eventH.Images)
	v1.GET("/events/:id/faces", eventH.Faces)

	uploadH := handlers.NewUploadHandler(cfg.Ledger, cfg.Pipeline, cfg.Dispatcher, cfg.UploadParallelism, cfg.MaxUploadBytes)
	v1.POST("/upload/:event_id", uploadH.Upload)

	faceH := handlers.NewFaceHandler(cfg.Ledger)
	v1.GET("/face/:face_id", faceH.Get)
	v1.DELETE("/face/:face_id", faceH.Delete)
	v1.POST("/update_name", faceH.UpdateName)
	v1.GET("/images/:image_id/faces", faceH.ImageFaces)

	return r
}

func serveBlob(blobs BlobReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := strings.TrimPrefix(c.Param("key"), "/")
		data, err := blobs.Get(c.Request.Context(), key)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "object not found"})
			return
		}
		c.Data(http.StatusOK, http.DetectContentType(data), data)
	}
}
