// Package gateway serves the websocket endpoint that streams image updates
// from the notification bus to connected clients.
package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cuongbtq/imagepipe/internal/api/dto"
	"github.com/cuongbtq/imagepipe/internal/domain"
	"github.com/cuongbtq/imagepipe/internal/notify"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Defaults applied to zero Config fields
const (
	DefaultWriteTimeout    = 10 * time.Second
	DefaultPongTimeout     = 60 * time.Second
	DefaultPingInterval    = 30 * time.Second
	DefaultMaxMessageBytes = 4096
	DefaultSendBuffer      = 16
)

// Subscriber hands out bus subscriptions
type Subscriber interface {
	Subscribe() *notify.Subscription
	Unsubscribe(sub *notify.Subscription)
}

// ImageLister lists every image, most recently uploaded first
type ImageLister interface {
	ListAll(ctx context.Context) ([]domain.Image, error)
}

// Config holds websocket tuning
type Config struct {
	WriteTimeout    time.Duration
	PongTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageBytes int64
	SendBuffer      int
	AllowedOrigins  []string
}

func (c Config) withDefaults() Config {
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = DefaultPongTimeout
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.PongTimeout {
		c.PingInterval = c.PongTimeout * 9 / 10
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = DefaultSendBuffer
	}
	return c
}

// Gateway upgrades HTTP requests to websocket sessions
type Gateway struct {
	bus      Subscriber
	images   ImageLister
	urls     dto.URLResolver
	config   Config
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
	wg       sync.WaitGroup
}

// New creates a new Gateway
func New(bus Subscriber, images ImageLister, urls dto.URLResolver, config Config, logger *slog.Logger) *Gateway {
	config = config.withDefaults()

	g := &Gateway{
		bus:      bus,
		images:   images,
		urls:     urls,
		config:   config,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     g.checkOrigin,
	}
	return g
}

// Handle serves GET /ws/images
func (g *Gateway) Handle(c *gin.Context) {
	g.ServeHTTP(c.Writer, c.Request)
}

// ServeHTTP upgrades the connection and runs the session until it ends
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	g.wg.Add(1)
	g.mu.Unlock()
	defer g.wg.Done()

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client
		g.logger.Warn("Websocket upgrade failed",
			slog.String("remote_addr", r.RemoteAddr),
			slog.Any("error", err),
		)
		return
	}

	s := newSession(g, conn)
	g.track(s)
	defer g.untrack(s)

	s.run()
}

// Sessions returns the number of open sessions
func (g *Gateway) Sessions() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return len(g.sessions)
}

// Close ends every session and rejects new ones
func (g *Gateway) Close() {
	g.mu.Lock()
	g.closed = true
	sessions := make([]*Session, 0, len(g.sessions))
	for _, s := range g.sessions {
		sessions = append(sessions, s)
	}
	g.mu.Unlock()

	g.logger.Info("Closing websocket sessions",
		slog.Int("sessions", len(sessions)),
	)
	for _, s := range sessions {
		s.close()
	}
	g.wg.Wait()
}

func (g *Gateway) track(s *Session) {
	g.mu.Lock()
	g.sessions[s.id] = s
	closed := g.closed
	g.mu.Unlock()

	// Close raced with this upgrade
	if closed {
		s.close()
	}
}

func (g *Gateway) untrack(s *Session) {
	g.mu.Lock()
	delete(g.sessions, s.id)
	g.mu.Unlock()
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	if len(g.config.AllowedOrigins) == 0 {
		return true
	}

	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range g.config.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}
