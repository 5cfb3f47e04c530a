package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/cuongbtq/imagepipe/internal/domain"
	"github.com/cuongbtq/imagepipe/internal/media"
	"github.com/cuongbtq/imagepipe/internal/storage"
	"github.com/cuongbtq/imagepipe/shared/logger"
	"github.com/cuongbtq/imagepipe/shared/sqlite"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type fakeDispatcher struct {
	mu       sync.Mutex
	ids      []int64
	err      error
	inFlight map[int64]bool
}

func (d *fakeDispatcher) Dispatch(_ context.Context, id int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.inFlight[id] {
		return domain.ErrJobInFlight
	}
	if d.err != nil {
		return d.err
	}
	d.ids = append(d.ids, id)
	return nil
}

func (d *fakeDispatcher) InFlight(id int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inFlight[id]
}

type env struct {
	store      *storage.ImageStore
	media      *media.Store
	dispatcher *fakeDispatcher
	engine     *gin.Engine
}

func newEnv(t *testing.T) *env {
	t.Helper()

	client, err := sqlite.NewClient(&sqlite.Config{Path: filepath.Join(t.TempDir(), "images.db")}, logger.NewDiscard())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	store := storage.NewImageStore(client.GetDB(), logger.NewDiscard())
	require.NoError(t, store.Migrate(context.Background()))

	mediaStore := media.NewStore(t.TempDir(), "/media/")
	dispatcher := &fakeDispatcher{inFlight: make(map[int64]bool)}

	h := NewImageHandler(&Dependencies{
		Logger:         logger.NewDiscard(),
		Store:          store,
		Media:          mediaStore,
		Dispatcher:     dispatcher,
		Jobs:           dispatcher,
		MaxUploadBytes: 1 << 20,
		DelayHint:      "3-5s",
	})

	r := gin.New()
	r.POST("/images", h.UploadImage)
	r.GET("/images", h.ListImages)
	r.DELETE("/images/:id", h.DeleteImage)
	r.POST("/images/:id/process", h.ProcessImage)
	r.POST("/images/:id/replay", h.ReplayImage)
	r.POST("/process-all", h.ProcessAllImages)

	return &env{store: store, media: mediaStore, dispatcher: dispatcher, engine: r}
}

func (e *env) do(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return w, body
}

func (e *env) seed(t *testing.T, status domain.Status) *domain.Image {
	t.Helper()

	img := &domain.Image{OriginalImage: "images/original/seed.png"}
	require.NoError(t, e.store.Create(context.Background(), img))
	if status == domain.StatusProcessing {
		img.MarkProcessing()
		require.NoError(t, e.store.Save(context.Background(), img))
	}
	if status == domain.StatusCompleted {
		img.MarkCompleted("images/processed/processed_seed.png", img.UploadedAt)
		require.NoError(t, e.store.Save(context.Background(), img))
	}
	return img
}

func pngBytes(t *testing.T) []byte {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	img.SetNRGBA(0, 0, color.NRGBA{R: 1, G: 2, B: 3, A: 255})

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func uploadRequest(t *testing.T, field, filename string, data []byte) *http.Request {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if field != "" {
		part, err := mw.CreateFormFile(field, filename)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/images", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestUploadImage(t *testing.T) {
	e := newEnv(t)

	w, body := e.do(t, uploadRequest(t, "image", "my cat.png", pngBytes(t)))
	require.Equal(t, http.StatusCreated, w.Code)

	assert.Equal(t, "pending", body["status"])
	assert.Equal(t, "Image uploaded successfully", body["message"])
	assert.Equal(t, "my-cat.png", body["filename"])
	assert.Contains(t, body["original_image"], "/media/images/original/")

	id := int64(body["id"].(float64))
	img, err := e.store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, img.Status)

	data, err := e.media.Read(img.OriginalImage)
	require.NoError(t, err)
	assert.Equal(t, pngBytes(t), data)
}

func TestUploadImage_Rejected(t *testing.T) {
	tests := []struct {
		name     string
		field    string
		data     []byte
		wantCode int
		wantErr  string
	}{
		{name: "missing file", field: "", wantCode: http.StatusBadRequest, wantErr: "No image provided"},
		{name: "wrong field", field: "file", data: []byte("x"), wantCode: http.StatusBadRequest, wantErr: "No image provided"},
		{name: "not an image", field: "image", data: []byte("hello world"), wantCode: http.StatusBadRequest, wantErr: "Unsupported image format"},
		{name: "too large", field: "image", data: bytes.Repeat([]byte("a"), 2<<20), wantCode: http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)

			w, body := e.do(t, uploadRequest(t, tt.field, "a.png", tt.data))
			assert.Equal(t, tt.wantCode, w.Code)
			if tt.wantErr != "" {
				assert.Equal(t, tt.wantErr, body["error"])
			}

			images, err := e.store.ListAll(context.Background())
			require.NoError(t, err)
			assert.Empty(t, images)
		})
	}
}

func TestListImages(t *testing.T) {
	e := newEnv(t)
	first := e.seed(t, domain.StatusPending)
	second := e.seed(t, domain.StatusCompleted)

	w, body := e.do(t, httptest.NewRequest(http.MethodGet, "/images", nil))
	require.Equal(t, http.StatusOK, w.Code)

	images := body["images"].([]interface{})
	require.Len(t, images, 2)

	newest := images[0].(map[string]interface{})
	assert.Equal(t, float64(second.ID), newest["id"])
	assert.Equal(t, "completed", newest["status"])
	assert.Equal(t, "/media/images/processed/processed_seed.png", newest["processed_image"])

	oldest := images[1].(map[string]interface{})
	assert.Equal(t, float64(first.ID), oldest["id"])
	assert.Nil(t, oldest["processed_image"])
	assert.Equal(t, "seed.png", oldest["filename"])
}

func TestProcessImage(t *testing.T) {
	e := newEnv(t)
	pending := e.seed(t, domain.StatusPending)
	completed := e.seed(t, domain.StatusCompleted)
	processing := e.seed(t, domain.StatusProcessing)

	tests := []struct {
		name     string
		path     string
		setup    func()
		wantCode int
		wantErr  string
	}{
		{name: "bad id", path: "/images/abc/process", wantCode: http.StatusBadRequest},
		{name: "zero id", path: "/images/0/process", wantCode: http.StatusBadRequest},
		{name: "not found", path: "/images/404/process", wantCode: http.StatusNotFound, wantErr: "Image not found"},
		{name: "completed", path: pathFor(completed.ID, "process"), wantCode: http.StatusBadRequest, wantErr: "Image already processed"},
		{name: "processing", path: pathFor(processing.ID, "process"), wantCode: http.StatusConflict},
		{
			name:     "in flight",
			path:     pathFor(pending.ID, "process"),
			setup:    func() { e.dispatcher.inFlight[pending.ID] = true },
			wantCode: http.StatusConflict,
		},
		{
			name:     "runner stopped",
			path:     pathFor(pending.ID, "process"),
			setup:    func() { e.dispatcher.inFlight = map[int64]bool{}; e.dispatcher.err = domain.ErrRunnerStopped },
			wantCode: http.StatusServiceUnavailable,
		},
		{
			name:     "broker failure",
			path:     pathFor(pending.ID, "process"),
			setup:    func() { e.dispatcher.err = errors.New("broker down") },
			wantCode: http.StatusInternalServerError,
		},
		{
			name:     "accepted",
			path:     pathFor(pending.ID, "process"),
			setup:    func() { e.dispatcher.err = nil },
			wantCode: http.StatusAccepted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.setup != nil {
				tt.setup()
			}

			w, body := e.do(t, httptest.NewRequest(http.MethodPost, tt.path, nil))
			assert.Equal(t, tt.wantCode, w.Code)
			if tt.wantErr != "" {
				assert.Equal(t, tt.wantErr, body["error"])
			}
		})
	}

	assert.Equal(t, []int64{pending.ID}, e.dispatcher.ids)
}

func TestProcessImage_ResponseBody(t *testing.T) {
	e := newEnv(t)
	img := e.seed(t, domain.StatusPending)

	w, body := e.do(t, httptest.NewRequest(http.MethodPost, pathFor(img.ID, "process"), nil))
	require.Equal(t, http.StatusAccepted, w.Code)

	assert.Equal(t, float64(img.ID), body["id"])
	assert.Equal(t, "processing", body["status"])
	assert.Equal(t, "Image processing started", body["message"])
	assert.Equal(t, "3-5s", body["simulated_delay"])
}

func TestProcessAllImages(t *testing.T) {
	e := newEnv(t)
	a := e.seed(t, domain.StatusPending)
	b := e.seed(t, domain.StatusPending)
	busy := e.seed(t, domain.StatusPending)
	e.seed(t, domain.StatusCompleted)
	e.seed(t, domain.StatusProcessing)
	e.dispatcher.inFlight[busy.ID] = true

	w, body := e.do(t, httptest.NewRequest(http.MethodPost, "/process-all", nil))
	require.Equal(t, http.StatusAccepted, w.Code)

	assert.Equal(t, float64(2), body["count"])
	assert.Equal(t, "Started processing 2 image(s)", body["message"])
	assert.ElementsMatch(t, []int64{a.ID, b.ID}, e.dispatcher.ids)
}

func TestProcessAllImages_None(t *testing.T) {
	e := newEnv(t)

	w, body := e.do(t, httptest.NewRequest(http.MethodPost, "/process-all", nil))
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, float64(0), body["count"])
	assert.Equal(t, []interface{}{}, body["image_ids"])
}

func TestReplayImage(t *testing.T) {
	e := newEnv(t)
	source := e.seed(t, domain.StatusCompleted)

	w, body := e.do(t, httptest.NewRequest(http.MethodPost, pathFor(source.ID, "replay"), nil))
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "pending", body["status"])
	assert.Equal(t, "Image duplicated successfully", body["message"])

	id := int64(body["id"].(float64))
	assert.NotEqual(t, source.ID, id)

	dup, err := e.store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, source.OriginalImage, dup.OriginalImage)
	assert.Equal(t, domain.StatusPending, dup.Status)
	assert.Empty(t, dup.ProcessedImage)

	w, _ = e.do(t, httptest.NewRequest(http.MethodPost, "/images/999/replay", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteImage(t *testing.T) {
	e := newEnv(t)
	img := e.seed(t, domain.StatusPending)
	busy := e.seed(t, domain.StatusProcessing)
	e.dispatcher.inFlight[busy.ID] = true

	w, body := e.do(t, httptest.NewRequest(http.MethodDelete, pathFor(img.ID, ""), nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Image deleted successfully", body["message"])

	_, err := e.store.Get(context.Background(), img.ID)
	assert.ErrorIs(t, err, domain.ErrImageNotFound)

	w, _ = e.do(t, httptest.NewRequest(http.MethodDelete, pathFor(img.ID, ""), nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = e.do(t, httptest.NewRequest(http.MethodDelete, pathFor(busy.ID, ""), nil))
	assert.Equal(t, http.StatusConflict, w.Code)
}

func pathFor(id int64, action string) string {
	p := "/images/" + strconv.FormatInt(id, 10)
	if action != "" {
		p += "/" + action
	}
	return p
}
