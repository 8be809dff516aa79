package ingest

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/facelinker/internal/common"
	"github.com/your-org/facelinker/internal/ledger"
	"github.com/your-org/facelinker/internal/models"
	"github.com/your-org/facelinker/internal/resolution"
	"github.com/your-org/facelinker/internal/storage"
)

var (
	red   = color.NRGBA{R: 255, A: 255}
	blue  = color.NRGBA{B: 255, A: 255}
	green = color.NRGBA{G: 255, A: 255}
)

// paintedFace is a solid square standing in for a person's face.
type paintedFace struct {
	box        models.BoundingBox
	color      color.NRGBA
	confidence float64
}

func renderImage(t *testing.T, w, h int, faces ...paintedFace) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: 200, G: 200, B: 200, A: 255})
		}
	}
	for _, f := range faces {
		for y := f.box.Y; y < f.box.Y+f.box.Height && y < h; y++ {
			for x := f.box.X; x < f.box.X+f.box.Width && x < w; x++ {
				img.Set(x, y, f.color)
			}
		}
	}
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, imaging.PNG))
	return buf.Bytes()
}

// scriptedDetector returns preset detections per call, in order.
type scriptedDetector struct {
	mu    sync.Mutex
	calls int
	queue [][]paintedFace
	err   error
}

func (d *scriptedDetector) Detect(context.Context, image.Image) ([]models.Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	if len(d.queue) == 0 {
		return nil, nil
	}
	faces := d.queue[0]
	d.queue = d.queue[1:]
	out := make([]models.Detection, len(faces))
	for i, f := range faces {
		out[i] = models.Detection{Box: f.box, Confidence: f.confidence}
	}
	return out, nil
}

// colorVerifier matches two crops when their centre pixels have the same colour.
type colorVerifier struct {
	failOn *color.NRGBA
	calls  atomic.Int32
}

func centre(face *models.Face) (color.NRGBA, error) {
	img, err := imaging.Decode(bytes.NewReader(face.PNG))
	if err != nil {
		return color.NRGBA{}, err
	}
	b := img.Bounds()
	return color.NRGBAModel.Convert(img.At(b.Min.X+b.Dx()/2, b.Min.Y+b.Dy()/2)).(color.NRGBA), nil
}

func (v *colorVerifier) Verify(_ context.Context, a, b *models.Face) (bool, error) {
	v.calls.Add(1)
	ca, err := centre(a)
	if err != nil {
		return false, err
	}
	if v.failOn != nil && ca == *v.failOn {
		return false, errors.New("oracle timeout")
	}
	cb, err := centre(b)
	if err != nil {
		return false, err
	}
	return ca == cb, nil
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []models.ResolutionNotice
}

func (n *recordingNotifier) PublishResolution(_ context.Context, notice models.ResolutionNotice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
	return nil
}

type env struct {
	ledger   *ledger.Ledger
	blobs    *storage.MemoryBlobStore
	detector *scriptedDetector
	verifier *colorVerifier
	pipeline *Pipeline
	event    *models.Event
}

func newEnv(t *testing.T, blobs ledger.BlobStore) *env {
	t.Helper()
	ctx := context.Background()

	mem := storage.NewMemoryBlobStore("http://blobs")
	if blobs == nil {
		blobs = mem
	}
	l := ledger.New(storage.NewMemoryStore(), blobs)

	u := &models.User{Email: "host@example.com"}
	require.NoError(t, l.CreateUser(ctx, u))
	ev := &models.Event{OwnerID: u.ID, Title: "Birthday"}
	require.NoError(t, l.CreateEvent(ctx, ev))

	det := &scriptedDetector{}
	ver := &colorVerifier{}
	return &env{
		ledger:   l,
		blobs:    mem,
		detector: det,
		verifier: ver,
		pipeline: NewPipeline(det, resolution.NewEngine(ver, l), l),
		event:    ev,
	}
}

func box(x, y int) models.BoundingBox {
	return models.BoundingBox{X: x, Y: y, Width: 20, Height: 20}
}

func TestIngest_TwoImageScenario(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)

	img1 := []paintedFace{{box(10, 10), red, 0.9}, {box(60, 10), blue, 0.9}}
	img2 := []paintedFace{{box(30, 30), red, 0.9}}
	e.detector.queue = [][]paintedFace{img1, img2}

	report, err := e.pipeline.Ingest(ctx, Request{Event: e.event, ImageID: "img1.png", Data: renderImage(t, 100, 60, img1...)})
	require.NoError(t, err)
	require.Len(t, report.Resolutions, 2)
	assert.True(t, report.Resolutions[0].Created)
	assert.True(t, report.Resolutions[1].Created)

	exemplars, err := e.ledger.GetExemplars(ctx, e.event.ID)
	require.NoError(t, err)
	assert.Len(t, exemplars, 2)

	report, err = e.pipeline.Ingest(ctx, Request{Event: e.event, ImageID: "img2.png", Data: renderImage(t, 100, 60, img2...)})
	require.NoError(t, err)
	require.Len(t, report.Resolutions, 1)
	assert.False(t, report.Resolutions[0].Created)

	first := report.Resolutions[0].IdentityID
	ident, err := e.ledger.GetIdentity(ctx, first)
	require.NoError(t, err)
	assert.Len(t, ident.Occurrences, 2)
	assert.Equal(t, "img2.png", ident.Occurrences[1].ImageID)
	assert.Equal(t, box(30, 30), ident.Occurrences[1].Box)

	idents, err := e.ledger.ListIdentities(ctx, e.event.ID)
	require.NoError(t, err)
	require.Len(t, idents, 2)
	assert.Equal(t, first, idents[0].ID)
	assert.Len(t, idents[1].Occurrences, 1)

	images, err := e.ledger.ListEventImages(ctx, e.event)
	require.NoError(t, err)
	assert.Equal(t, []string{"img1.png", "img2.png"}, images)
}

func TestIngest_DiscardsLowConfidence(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)

	faces := []paintedFace{
		{box(0, 0), red, 0.9},
		{box(30, 0), blue, 0.49},
		{box(60, 0), green, 0.5},
	}
	e.detector.queue = [][]paintedFace{faces}

	report, err := e.pipeline.Ingest(ctx, Request{Event: e.event, ImageID: "a.jpg", Data: renderImage(t, 100, 40, faces...)})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Discarded)
	require.Len(t, report.Resolutions, 2)
	assert.Equal(t, box(0, 0), report.Resolutions[0].Box)
	assert.Equal(t, box(60, 0), report.Resolutions[1].Box)
}

func TestIngest_RejectsBadExtensionBeforeDetection(t *testing.T) {
	e := newEnv(t, nil)

	for _, name := range []string{"photo.gif", "noext", "../etc/passwd.png", ""} {
		_, err := e.pipeline.Ingest(context.Background(), Request{Event: e.event, ImageID: name, Data: []byte("x")})
		assert.ErrorIs(t, err, common.ErrInvalidInput, name)
	}
	assert.Zero(t, e.detector.calls)
}

func TestIngest_UndecodableImage(t *testing.T) {
	e := newEnv(t, nil)
	_, err := e.pipeline.Ingest(context.Background(), Request{Event: e.event, ImageID: "a.png", Data: []byte("not an image")})
	assert.ErrorIs(t, err, common.ErrInvalidInput)
	assert.Zero(t, e.detector.calls)
}

func TestIngest_DetectorFailure(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)
	e.detector.err = errors.New("runtime not loaded")

	report, err := e.pipeline.Ingest(ctx, Request{Event: e.event, ImageID: "a.png", Data: renderImage(t, 40, 40)})
	assert.ErrorIs(t, err, common.ErrOracleUnavailable)
	assert.Nil(t, report)

	keys, err := e.blobs.List(ctx, e.event.Prefix())
	require.NoError(t, err)
	assert.Empty(t, keys, "image is not stored when detection fails")
}

func TestIngest_FaceFailureIsIsolated(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)

	seed := []paintedFace{{box(0, 0), red, 0.9}}
	e.detector.queue = [][]paintedFace{seed}
	_, err := e.pipeline.Ingest(ctx, Request{Event: e.event, ImageID: "seed.png", Data: renderImage(t, 40, 40, seed...)})
	require.NoError(t, err)

	e.verifier.failOn = &blue
	faces := []paintedFace{{box(0, 0), blue, 0.9}, {box(40, 0), red, 0.9}}
	e.detector.queue = [][]paintedFace{faces}

	report, err := e.pipeline.Ingest(ctx, Request{Event: e.event, ImageID: "b.png", Data: renderImage(t, 80, 40, faces...)})
	require.NoError(t, err)
	require.Len(t, report.Failures, 1)
	assert.ErrorIs(t, report.Failures[0].Err, common.ErrOracleUnavailable)
	assert.Equal(t, box(0, 0), report.Failures[0].Box)
	require.Len(t, report.Resolutions, 1)
	assert.False(t, report.Resolutions[0].Created)
}

func TestIngest_ClampsBoxToImage(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)

	faces := []paintedFace{
		{models.BoundingBox{X: 30, Y: 30, Width: 50, Height: 50}, red, 0.9},
		{models.BoundingBox{X: 100, Y: 100, Width: 10, Height: 10}, blue, 0.9},
	}
	e.detector.queue = [][]paintedFace{faces}

	report, err := e.pipeline.Ingest(ctx, Request{Event: e.event, ImageID: "a.png", Data: renderImage(t, 40, 40, faces[0])})
	require.NoError(t, err)
	require.Len(t, report.Resolutions, 1)
	assert.Equal(t, models.BoundingBox{X: 30, Y: 30, Width: 10, Height: 10}, report.Resolutions[0].Box)
	assert.Equal(t, 1, report.Discarded)
}

// imageFailingBlobs fails writes of source images but not of exemplar crops.
type imageFailingBlobs struct {
	*storage.MemoryBlobStore
}

func (b imageFailingBlobs) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if !strings.Contains(key, "/faces/") {
		return errors.New("bucket unavailable")
	}
	return b.MemoryBlobStore.Put(ctx, key, data, contentType)
}

func TestIngest_BlobFailureKeepsResolutions(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, imageFailingBlobs{storage.NewMemoryBlobStore("")})

	faces := []paintedFace{{box(0, 0), red, 0.9}}
	e.detector.queue = [][]paintedFace{faces}

	report, err := e.pipeline.Ingest(ctx, Request{Event: e.event, ImageID: "a.png", Data: renderImage(t, 40, 40, faces...)})
	assert.ErrorIs(t, err, common.ErrStorageFailure)
	require.NotNil(t, report)
	require.Len(t, report.Resolutions, 1)

	ident, err := e.ledger.GetIdentity(ctx, report.Resolutions[0].IdentityID)
	require.NoError(t, err)
	assert.Len(t, ident.Occurrences, 1)
}

func TestIngest_PublishesNotices(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)
	n := &recordingNotifier{}
	e.pipeline.SetNotifier(n)

	faces := []paintedFace{{box(0, 0), red, 0.9}, {box(40, 0), blue, 0.9}}
	e.detector.queue = [][]paintedFace{faces}

	report, err := e.pipeline.Ingest(ctx, Request{Event: e.event, ImageID: "a.png", Data: renderImage(t, 80, 40, faces...)})
	require.NoError(t, err)
	require.Len(t, n.notices, 2)
	for i, notice := range n.notices {
		assert.Equal(t, e.event.ID, notice.EventID)
		assert.Equal(t, "a.png", notice.ImageID)
		assert.Equal(t, report.Resolutions[i].IdentityID, notice.IdentityID)
		assert.True(t, notice.Created)
	}
}

func TestIngest_StoredSkipsPut(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)

	_, err := e.pipeline.Ingest(ctx, Request{Event: e.event, ImageID: "a.png", Data: renderImage(t, 10, 10), Stored: true})
	require.NoError(t, err)

	_, err = e.ledger.GetImage(ctx, e.event, "a.png")
	assert.ErrorIs(t, err, common.ErrNotFound)
}
