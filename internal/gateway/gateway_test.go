package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/imagepipe/internal/domain"
	"github.com/cuongbtq/imagepipe/internal/media"
	"github.com/cuongbtq/imagepipe/internal/notify"
	"github.com/cuongbtq/imagepipe/shared/logger"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLister struct {
	mu     sync.Mutex
	images []domain.Image
	err    error
}

func (l *fakeLister) ListAll(context.Context) ([]domain.Image, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.images, l.err
}

type testServer struct {
	bus     *notify.Bus
	lister  *fakeLister
	gateway *Gateway
	server  *httptest.Server
}

func newTestServer(t *testing.T, cfg Config) *testServer {
	t.Helper()

	bus := notify.NewBus(8, logger.NewDiscard())
	lister := &fakeLister{}
	gw := New(bus, lister, media.NewStore(t.TempDir(), "/media/"), cfg, logger.NewDiscard())
	srv := httptest.NewServer(gw)

	t.Cleanup(func() {
		gw.Close()
		srv.Close()
	})

	return &testServer{bus: bus, lister: lister, gateway: gw, server: srv}
}

func (ts *testServer) dial(t *testing.T) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(ts.server.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })

	greeting := readJSON(t, conn)
	require.Equal(t, TypeConnection, greeting["type"])
	require.Equal(t, "Hello!", greeting["message"])
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg map[string]interface{}
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestGateway_GreetingAndPing(t *testing.T) {
	ts := newTestServer(t, Config{})
	conn := ts.dial(t)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))

	msg := readJSON(t, conn)
	assert.Equal(t, "pong", msg["type"])
	assert.Equal(t, "Pong from server", msg["message"])
}

func TestGateway_ImageUpdates(t *testing.T) {
	ts := newTestServer(t, Config{})
	conn := ts.dial(t)
	require.Equal(t, 1, ts.bus.Len())

	ts.bus.Publish(domain.ProcessingEvent("Processing image 1 (delay: 3s)..."))
	ts.bus.Publish(domain.CompletedEvent("Image 1 processing completed!", 1, "/media/images/processed/processed_a.png"))

	first := readJSON(t, conn)
	assert.Equal(t, "image_update", first["type"])
	assert.Equal(t, "Processing image 1 (delay: 3s)...", first["message"])
	assert.NotContains(t, first, "image_id")
	assert.NotContains(t, first, "processed_image")

	second := readJSON(t, conn)
	assert.Equal(t, "image_update", second["type"])
	assert.Equal(t, "Image 1 processing completed!", second["message"])
	assert.Equal(t, float64(1), second["image_id"])
	assert.Equal(t, "/media/images/processed/processed_a.png", second["processed_image"])
}

func TestGateway_FanOutToEverySession(t *testing.T) {
	ts := newTestServer(t, Config{})
	a := ts.dial(t)
	b := ts.dial(t)
	require.Equal(t, 2, ts.bus.Len())

	assert.Equal(t, 2, ts.bus.Publish(domain.ProcessingEvent("hello all")))

	for _, conn := range []*websocket.Conn{a, b} {
		msg := readJSON(t, conn)
		assert.Equal(t, "hello all", msg["message"])
	}
}

func TestGateway_GetImages(t *testing.T) {
	ts := newTestServer(t, Config{})
	ts.lister.images = []domain.Image{
		{
			ID:            2,
			Status:        domain.StatusPending,
			OriginalImage: "images/original/b.png",
			UploadedAt:    time.Date(2026, 7, 1, 8, 0, 0, 0, time.UTC),
		},
	}
	conn := ts.dial(t)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "get_images"}))

	msg := readJSON(t, conn)
	assert.Equal(t, "images_list", msg["type"])

	images, ok := msg["images"].([]interface{})
	require.True(t, ok)
	require.Len(t, images, 1)

	img := images[0].(map[string]interface{})
	assert.Equal(t, float64(2), img["id"])
	assert.Equal(t, "pending", img["status"])
	assert.Equal(t, "2026-07-01T08:00:00Z", img["uploaded_at"])
	assert.Equal(t, "/media/images/original/b.png", img["original_image"])
	assert.Nil(t, img["processed_image"])
	assert.Equal(t, "b.png", img["filename"])
}

func TestGateway_GetImagesEmpty(t *testing.T) {
	ts := newTestServer(t, Config{})
	conn := ts.dial(t)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "get_images"}))

	msg := readJSON(t, conn)
	assert.Equal(t, "images_list", msg["type"])
	assert.Equal(t, []interface{}{}, msg["images"])
}

func TestGateway_IgnoresBadMessages(t *testing.T) {
	ts := newTestServer(t, Config{})
	ts.lister.err = errors.New("db down")
	conn := ts.dial(t)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "dance"}))
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "get_images"}))
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))

	// the connection survives and only the ping is answered
	msg := readJSON(t, conn)
	assert.Equal(t, "pong", msg["type"])
	assert.Equal(t, 1, ts.gateway.Sessions())
}

func TestGateway_DisconnectUnsubscribes(t *testing.T) {
	ts := newTestServer(t, Config{})
	conn := ts.dial(t)
	require.Equal(t, 1, ts.bus.Len())
	require.Equal(t, 1, ts.gateway.Sessions())

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))
	conn.Close()

	require.Eventually(t, func() bool {
		return ts.bus.Len() == 0 && ts.gateway.Sessions() == 0
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 0, ts.bus.Publish(domain.ProcessingEvent("nobody home")))
}

func TestGateway_AbruptDisconnectUnsubscribes(t *testing.T) {
	ts := newTestServer(t, Config{})
	conn := ts.dial(t)

	conn.UnderlyingConn().Close()

	require.Eventually(t, func() bool {
		return ts.bus.Len() == 0 && ts.gateway.Sessions() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestGateway_CloseEndsSessions(t *testing.T) {
	ts := newTestServer(t, Config{})
	conn := ts.dial(t)

	ts.gateway.Close()
	assert.Equal(t, 0, ts.bus.Len())
	assert.Equal(t, 0, ts.gateway.Sessions())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)

	url := "ws" + strings.TrimPrefix(ts.server.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestGateway_BusCloseEndsSessions(t *testing.T) {
	ts := newTestServer(t, Config{})
	ts.dial(t)

	ts.bus.Close()

	require.Eventually(t, func() bool {
		return ts.gateway.Sessions() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestGateway_MessageTooLarge(t *testing.T) {
	ts := newTestServer(t, Config{MaxMessageBytes: 64})
	conn := ts.dial(t)

	big := `{"type":"ping","pad":"` + strings.Repeat("x", 200) + `"}`
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(big)))

	require.Eventually(t, func() bool {
		return ts.bus.Len() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestGateway_CheckOrigin(t *testing.T) {
	gw := New(notify.NewBus(1, logger.NewDiscard()), &fakeLister{}, media.NewStore(t.TempDir(), ""),
		Config{AllowedOrigins: []string{"https://app.example.com"}}, logger.NewDiscard())

	tests := []struct {
		name   string
		origin string
		want   bool
	}{
		{name: "no origin", origin: "", want: true},
		{name: "allowed", origin: "https://app.example.com", want: true},
		{name: "other", origin: "https://evil.example.com", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ws/images", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, gw.checkOrigin(req))
		})
	}
}

func TestConfig_WithDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, DefaultWriteTimeout, cfg.WriteTimeout)
	assert.Equal(t, DefaultPongTimeout, cfg.PongTimeout)
	assert.Equal(t, 54*time.Second, cfg.PingInterval)
	assert.Equal(t, int64(DefaultMaxMessageBytes), cfg.MaxMessageBytes)
	assert.Equal(t, DefaultSendBuffer, cfg.SendBuffer)

	cfg = Config{PongTimeout: 10 * time.Second, PingInterval: 5 * time.Second}.withDefaults()
	assert.Equal(t, 5*time.Second, cfg.PingInterval)
}

func TestImageUpdateJSON(t *testing.T) {
	data, err := json.Marshal(newImageUpdate(domain.CompletedEvent("done", 4, "/media/x.png")))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"image_update","message":"done","image_id":4,"processed_image":"/media/x.png"}`, string(data))
}
