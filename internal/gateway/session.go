package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/imagepipe/internal/api/dto"
	"github.com/cuongbtq/imagepipe/internal/notify"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const listTimeout = 5 * time.Second

// Session is one websocket connection. The read loop handles client
// requests; the write loop is the only writer on conn.
type Session struct {
	id      string
	gateway *Gateway
	conn    *websocket.Conn
	sub     *notify.Subscription
	send    chan interface{}
	logger  *slog.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

func newSession(g *Gateway, conn *websocket.Conn) *Session {
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	sub := g.bus.Subscribe()

	return &Session{
		id:      id,
		gateway: g,
		conn:    conn,
		sub:     sub,
		send:    make(chan interface{}, g.config.SendBuffer),
		logger: g.logger.With(
			slog.String("session_id", id),
			slog.Uint64("subscription_id", sub.ID()),
		),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// run greets the client and blocks until the session ends
func (s *Session) run() {
	s.logger.Info("Websocket session opened",
		slog.String("remote_addr", s.conn.RemoteAddr().String()),
	)

	if err := s.write(textMessage{Type: TypeConnection, Message: greetingMessage}); err != nil {
		s.logger.Warn("Failed to send greeting", slog.Any("error", err))
		s.close()
		s.conn.Close()
		return
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop()
	}()

	s.readLoop()
	<-writerDone

	s.logger.Info("Websocket session closed")
}

// close releases the subscription and signals both loops. Safe to call more than once.
func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.cancel()
		s.gateway.bus.Unsubscribe(s.sub)
	})
}

func (s *Session) readLoop() {
	defer s.close()

	cfg := s.gateway.config
	s.conn.SetReadLimit(cfg.MaxMessageBytes)
	_ = s.conn.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				s.logger.Warn("Websocket read failed", slog.Any("error", err))
			}
			return
		}
		// Any client frame proves liveness
		_ = s.conn.SetReadDeadline(time.Now().Add(cfg.PongTimeout))

		s.handle(data)
	}
}

// handle answers one client message; malformed and unknown messages are ignored
func (s *Session) handle(data []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.logger.Debug("Ignoring malformed message",
			slog.Any("error", err),
		)
		return
	}

	switch msg.Type {
	case TypePing:
		s.enqueue(textMessage{Type: TypePong, Message: pongMessage})

	case TypeGetImages:
		ctx, cancel := context.WithTimeout(s.ctx, listTimeout)
		images, err := s.gateway.images.ListAll(ctx)
		cancel()
		if err != nil {
			s.logger.Error("Failed to list images", slog.Any("error", err))
			return
		}
		s.enqueue(imagesListMessage{
			Type:   TypeImagesList,
			Images: dto.NewItemSnapshots(images, s.gateway.urls),
		})

	default:
		s.logger.Debug("Ignoring unknown message type",
			slog.String("type", msg.Type),
		)
	}
}

// enqueue hands msg to the write loop, or drops it if the session is closing
func (s *Session) enqueue(msg interface{}) {
	select {
	case s.send <- msg:
	case <-s.done:
	}
}

func (s *Session) writeLoop() {
	cfg := s.gateway.config
	ticker := time.NewTicker(cfg.PingInterval)
	defer func() {
		ticker.Stop()
		s.close()
		s.shutdown()
	}()

	for {
		select {
		case <-s.done:
			return

		case msg := <-s.send:
			if err := s.write(msg); err != nil {
				s.logger.Warn("Websocket write failed", slog.Any("error", err))
				return
			}

		case evt, ok := <-s.sub.C():
			if !ok {
				return
			}
			if err := s.write(newImageUpdate(evt)); err != nil {
				s.logger.Warn("Websocket write failed", slog.Any("error", err))
				return
			}

		case <-ticker.C:
			deadline := time.Now().Add(cfg.WriteTimeout)
			if err := s.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				s.logger.Debug("Websocket ping failed", slog.Any("error", err))
				return
			}
		}
	}
}

func (s *Session) write(msg interface{}) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.gateway.config.WriteTimeout))
	return s.conn.WriteJSON(msg)
}

// shutdown sends a close frame and closes the connection, unblocking the read loop
func (s *Session) shutdown() {
	deadline := time.Now().Add(time.Second)
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "")
	if err := s.conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		s.logger.Debug("Failed to send close frame", slog.Any("error", err))
	}
	s.conn.Close()
}
