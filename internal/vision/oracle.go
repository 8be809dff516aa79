// Package vision is the ONNX Runtime face oracle: RetinaFace detection and
// ArcFace verification by embedding cosine similarity.
package vision

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"log/slog"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/facelinker/internal/config"
	"github.com/your-org/facelinker/internal/models"
	"github.com/your-org/facelinker/internal/observability"
)

const (
	detectionModel = "det_10g.onnx"
	embeddingModel = "w600k_r50.onnx"
)

// InitRuntime loads the ONNX Runtime shared library. libPath may be empty to
// use the platform default name. The returned func tears the runtime down.
func InitRuntime(libPath string) (func(), error) {
	if libPath == "" {
		libPath = defaultLibPath()
	}
	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("init onnx runtime: %w", err)
	}
	return func() { _ = ort.DestroyEnvironment() }, nil
}

func defaultLibPath() string {
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "libonnxruntime.so"
	}
}

// ONNXOracle detects faces and verifies pairs of crops. Each session is
// guarded by its own mutex; the oracle itself is safe for concurrent use.
type ONNXOracle struct {
	detMu sync.Mutex
	det   *detector

	embMu sync.Mutex
	emb   *embedder

	verifyThreshold float64
}

func NewONNXOracle(cfg config.VisionConfig) (*ONNXOracle, error) {
	detPath := filepath.Join(cfg.ModelsDir, detectionModel)
	embPath := filepath.Join(cfg.ModelsDir, embeddingModel)

	slog.Info("loading detection model", "path", detPath)
	det, err := newDetector(detPath, float32(cfg.DetectionThreshold))
	if err != nil {
		return nil, fmt.Errorf("load detector: %w", err)
	}

	slog.Info("loading embedding model", "path", embPath)
	emb, err := newEmbedder(embPath)
	if err != nil {
		det.Close()
		return nil, fmt.Errorf("load embedder: %w", err)
	}

	return &ONNXOracle{det: det, emb: emb, verifyThreshold: cfg.VerifyThreshold}, nil
}

// Detect returns every face in img above the detection threshold.
func (o *ONNXOracle) Detect(ctx context.Context, img image.Image) ([]models.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bounds := img.Bounds()
	input := toCHW(img, o.det.inputW, o.det.inputH, detMean, detStd)

	start := time.Now()
	o.detMu.Lock()
	detections, err := o.det.detect(input, bounds.Dx(), bounds.Dy())
	o.detMu.Unlock()
	observability.OracleDuration.WithLabelValues("detect").Observe(time.Since(start).Seconds())

	if err != nil {
		return nil, err
	}
	return detections, nil
}

// Embed fills face.Embedding from face.PNG unless it is already set.
func (o *ONNXOracle) Embed(ctx context.Context, face *models.Face) error {
	if len(face.Embedding) > 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	img, err := imaging.Decode(bytes.NewReader(face.PNG))
	if err != nil {
		return fmt.Errorf("decode face crop: %w", err)
	}
	input := toCHW(img, o.emb.inputW, o.emb.inputH, embMean, embStd)

	start := time.Now()
	o.embMu.Lock()
	embedding, err := o.emb.extract(input)
	o.embMu.Unlock()
	observability.OracleDuration.WithLabelValues("embed").Observe(time.Since(start).Seconds())

	if err != nil {
		return err
	}
	face.Embedding = embedding
	return nil
}

// Verify reports whether a and b show the same person. Embeddings computed
// along the way are cached on the faces.
func (o *ONNXOracle) Verify(ctx context.Context, a, b *models.Face) (bool, error) {
	if err := o.Embed(ctx, a); err != nil {
		return false, err
	}
	if err := o.Embed(ctx, b); err != nil {
		return false, err
	}
	return CosineSimilarity(a.Embedding, b.Embedding) >= o.verifyThreshold, nil
}

// Close releases all ONNX sessions.
func (o *ONNXOracle) Close() {
	if o.det != nil {
		o.det.Close()
	}
	if o.emb != nil {
		o.emb.Close()
	}
}
