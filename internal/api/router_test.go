package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/facelinker/internal/api/handlers"
	"github.com/your-org/facelinker/internal/ingest"
	"github.com/your-org/facelinker/internal/ledger"
	"github.com/your-org/facelinker/internal/models"
	"github.com/your-org/facelinker/internal/resolution"
	"github.com/your-org/facelinker/internal/storage"
	"github.com/your-org/facelinker/pkg/dto"
)

// centreDetector reports one face in the middle of every image.
type centreDetector struct{}

func (centreDetector) Detect(_ context.Context, img image.Image) ([]models.Detection, error) {
	b := img.Bounds()
	return []models.Detection{{
		Box:        models.BoundingBox{X: b.Dx() / 4, Y: b.Dy() / 4, Width: b.Dx() / 2, Height: b.Dy() / 2},
		Confidence: 0.99,
	}}, nil
}

// pixelVerifier treats identical crops as the same person.
type pixelVerifier struct{}

func (pixelVerifier) Verify(_ context.Context, a, b *models.Face) (bool, error) {
	return bytes.Equal(a.PNG, b.PNG), nil
}

type fakeEnqueuer struct {
	queued []string
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, _ *models.Event, up ingest.Upload) (string, error) {
	f.queued = append(f.queued, up.Filename)
	return "queued-" + up.Filename, nil
}

type testServer struct {
	router *gin.Engine
	ledger *ledger.Ledger
	apiKey string
}

func newTestServer(t *testing.T, mutate func(*RouterConfig)) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	blobs := storage.NewMemoryBlobStore("http://blobs.test/blobs")
	l := ledger.New(storage.NewMemoryStore(), blobs)
	engine := resolution.NewEngine(pixelVerifier{}, l)

	cfg := RouterConfig{
		APIKey:            "secret",
		Ledger:            l,
		Pipeline:          ingest.NewPipeline(centreDetector{}, engine, l),
		Checks:            map[string]handlers.Check{"blobs": blobs.Ping},
		UploadParallelism: 2,
		MaxUploadBytes:    8 << 20,
		Blobs:             blobs,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return &testServer{router: NewRouter(cfg), ledger: l, apiKey: cfg.APIKey}
}

func (s *testServer) do(t *testing.T, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("X-API-Key", s.apiKey)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) doJSON(t *testing.T, method, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(data)
	}
	return s.do(t, method, path, body, "application/json")
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func solidPNG(t *testing.T, c color.NRGBA) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, imaging.New(40, 40, c), imaging.PNG))
	return buf.Bytes()
}

type file struct {
	name string
	data []byte
}

func multipartBody(t *testing.T, files ...file) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, f := range files {
		part, err := mw.CreateFormFile("files", f.name)
		require.NoError(t, err)
		_, err = part.Write(f.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func (s *testServer) seedEvent(t *testing.T) dto.EventResponse {
	t.Helper()
	w := s.doJSON(t, http.MethodPost, "/v1/users", dto.CreateUserRequest{Email: "host@example.com"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	user := decode[dto.UserResponse](t, w)

	w = s.doJSON(t, http.MethodPost, "/v1/events", dto.CreateEventRequest{OwnerID: user.ID, Title: "Wedding"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[dto.EventResponse](t, w)
}

func TestSystemEndpoints(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(t, http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/readyz", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	failing := newTestServer(t, func(cfg *RouterConfig) {
		cfg.Checks["postgres"] = func(context.Context) error { return errors.New("connection refused") }
	})
	w = failing.do(t, http.MethodGet, "/readyz", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
}

func TestAPIKeyRequired(t *testing.T) {
	s := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/v1/users/"+uuid.NewString(), nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestUsersAndEvents(t *testing.T) {
	s := newTestServer(t, nil)
	ev := s.seedEvent(t)

	w := s.do(t, http.MethodGet, "/v1/users/"+ev.OwnerID.String(), nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "host@example.com", decode[dto.UserResponse](t, w).Email)

	w = s.do(t, http.MethodGet, "/v1/events?owner_id="+ev.OwnerID.String(), nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[dto.EventListResponse](t, w)
	require.Equal(t, 1, list.Total)
	assert.Equal(t, ev.ID, list.Events[0].ID)

	w = s.do(t, http.MethodGet, "/v1/events/"+ev.ID.String(), nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Wedding", decode[dto.EventResponse](t, w).Title)

	tests := []struct {
		name string
		path string
		want int
	}{
		{"unknown event", "/v1/events/" + uuid.NewString(), http.StatusNotFound},
		{"malformed id", "/v1/events/not-a-uuid", http.StatusBadRequest},
		{"list without owner", "/v1/events", http.StatusBadRequest},
		{"unknown user", "/v1/users/" + uuid.NewString(), http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.do(t, http.MethodGet, tt.path, nil, "").Code)
		})
	}

	w = s.doJSON(t, http.MethodPost, "/v1/events", dto.CreateEventRequest{OwnerID: uuid.New(), Title: "Orphan"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.doJSON(t, http.MethodPost, "/v1/users", dto.CreateUserRequest{Email: "host@example.com"})
	assert.Equal(t, http.StatusBadRequest, w.Code, "duplicate email")
}

func TestUploadAndBrowseFaces(t *testing.T) {
	s := newTestServer(t, nil)
	ev := s.seedEvent(t)
	red := solidPNG(t, color.NRGBA{R: 255, A: 255})
	blue := solidPNG(t, color.NRGBA{B: 255, A: 255})

	body, ct := multipartBody(t,
		file{"a.png", red},
		file{"b.png", red},
		file{"c.png", blue},
		file{"notes.txt", []byte("not an image")},
	)
	w := s.do(t, http.MethodPost, "/v1/upload/"+ev.ID.String(), body, ct)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	up := decode[dto.UploadResponse](t, w)
	assert.Equal(t, 3, up.Succeeded)
	assert.Equal(t, 1, up.Failed)
	require.Len(t, up.Results, 4)
	assert.NotEmpty(t, up.Results[3].Error)
	redImage := up.Results[0].ImageID

	w = s.do(t, http.MethodGet, "/v1/events/"+ev.ID.String()+"/images", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 3, decode[dto.ImageListResponse](t, w).Total)

	w = s.do(t, http.MethodGet, "/v1/events/"+ev.ID.String()+"/faces", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	faces := decode[dto.FaceListResponse](t, w)
	require.Equal(t, 2, faces.Total)
	redFace := faces.Faces[0]
	assert.Equal(t, 2, redFace.OccurrenceCount)
	assert.Equal(t, models.DefaultDisplayName, redFace.Name)
	assert.Contains(t, redFace.ExemplarURL, "/faces/"+redFace.ID.String()+".png")

	w = s.do(t, http.MethodGet, "/v1/face/"+redFace.ID.String(), nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	detail := decode[dto.FaceDetailResponse](t, w)
	assert.Len(t, detail.Occurrences, 2)
	assert.Equal(t, ev.ID, detail.Event.ID)
	for _, occ := range detail.Occurrences {
		assert.Empty(t, occ.Others)
	}

	w = s.doJSON(t, http.MethodPost, "/v1/update_name", dto.UpdateNameRequest{FaceID: redFace.ID, Name: "  Alice "})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Alice", decode[dto.FaceResponse](t, w).Name)

	w = s.doJSON(t, http.MethodPost, "/v1/update_name", dto.UpdateNameRequest{FaceID: redFace.ID, Name: "   "})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = s.doJSON(t, http.MethodPost, "/v1/update_name", dto.UpdateNameRequest{FaceID: uuid.New(), Name: "Bob"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodGet, "/v1/images/"+redImage+"/faces?event_id="+ev.ID.String(), nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	imgFaces := decode[dto.ImageFacesResponse](t, w)
	require.Len(t, imgFaces.Faces, 1)
	assert.Equal(t, "Alice", imgFaces.Faces[0].DisplayName)

	w = s.do(t, http.MethodGet, "/v1/images/missing.png/faces?event_id="+ev.ID.String(), nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = s.do(t, http.MethodGet, "/v1/images/"+redImage+"/faces", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodDelete, "/v1/face/"+redFace.ID.String(), nil, "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = s.do(t, http.MethodGet, "/v1/face/"+redFace.ID.String(), nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodDelete, "/v1/events/"+ev.ID.String(), nil, "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = s.do(t, http.MethodGet, "/v1/events/"+ev.ID.String()+"/faces", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUploadErrors(t *testing.T) {
	s := newTestServer(t, nil)
	ev := s.seedEvent(t)

	body, ct := multipartBody(t, file{"a.gif", []byte("GIF89a")})
	w := s.do(t, http.MethodPost, "/v1/upload/"+ev.ID.String(), body, ct)
	assert.Equal(t, http.StatusBadRequest, w.Code, "every file rejected")

	body, ct = multipartBody(t, file{"a.png", solidPNG(t, color.NRGBA{G: 255, A: 255})})
	w = s.do(t, http.MethodPost, "/v1/upload/"+uuid.NewString(), body, ct)
	assert.Equal(t, http.StatusNotFound, w.Code)

	body, ct = multipartBody(t)
	w = s.do(t, http.MethodPost, "/v1/upload/"+ev.ID.String(), body, ct)
	assert.Equal(t, http.StatusBadRequest, w.Code, "no files")

	body, ct = multipartBody(t, file{"a.png", []byte("x")})
	w = s.do(t, http.MethodPost, "/v1/upload/"+ev.ID.String()+"?async=true", body, ct)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code, "async without a queue")
}

func TestUploadAsync(t *testing.T) {
	enq := &fakeEnqueuer{}
	s := newTestServer(t, func(cfg *RouterConfig) { cfg.Dispatcher = enq })
	ev := s.seedEvent(t)

	body, ct := multipartBody(t, file{"a.png", []byte("x")}, file{"b.jpg", []byte("y")})
	w := s.do(t, http.MethodPost, "/v1/upload/"+ev.ID.String()+"?async=true", body, ct)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	resp := decode[dto.UploadResponse](t, w)
	assert.Equal(t, 2, resp.Succeeded)
	assert.True(t, resp.Results[0].Queued)
	assert.Equal(t, []string{"a.png", "b.jpg"}, enq.queued)
}

func TestServeBlob(t *testing.T) {
	s := newTestServer(t, nil)
	ev := s.seedEvent(t)
	data := solidPNG(t, color.NRGBA{R: 10, G: 20, B: 30, A: 255})

	full := &models.Event{ID: ev.ID, OwnerID: ev.OwnerID}
	require.NoError(t, s.ledger.PutImage(context.Background(), full, "x.png", data, "image/png"))

	w := s.do(t, http.MethodGet, "/blobs/"+full.ImageKey("x.png"), nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, data, w.Body.Bytes())
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))

	w = s.do(t, http.MethodGet, "/blobs/nope", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
