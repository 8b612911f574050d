// Package hub tracks connected browser sessions on the realtime channel and
// multicasts events to them.
package hub

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/jsonedit/jsonedit/internal/events"
	"github.com/jsonedit/jsonedit/internal/logging"
	"github.com/jsonedit/jsonedit/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 32 << 20
	sendQueueSize  = 64
)

// Handler receives session lifecycle and inbound events. Calls for one
// session are made from a single goroutine, in arrival order.
type Handler interface {
	OnConnect(s *Session)
	OnMessage(s *Session, e events.Event)
	OnDisconnect(s *Session)
}

// Session is one live browser connection.
type Session struct {
	id          string
	connectedAt time.Time
	remoteAddr  string

	conn      *websocket.Conn
	send      chan events.Event
	done      chan struct{}
	closeOnce sync.Once
	log       *zap.Logger
}

// NewSession creates a session with no connection attached. Events sent to
// it accumulate in Outbox.
func NewSession(remoteAddr string) *Session {
	id := uuid.NewString()
	return &Session{
		id:          id,
		connectedAt: time.Now(),
		remoteAddr:  remoteAddr,
		send:        make(chan events.Event, sendQueueSize),
		done:        make(chan struct{}),
		log:         logging.Named("hub").With(zap.String("session", id)),
	}
}

// ID returns the session's opaque identifier.
func (s *Session) ID() string { return s.id }

// ConnectedAt returns the handshake time.
func (s *Session) ConnectedAt() time.Time { return s.connectedAt }

// RemoteAddr returns the peer address.
func (s *Session) RemoteAddr() string { return s.remoteAddr }

// Outbox returns the session's queue of events awaiting delivery.
func (s *Session) Outbox() <-chan events.Event { return s.send }

// Send queues e for delivery without blocking. It reports false when the
// session is closed or its queue is full; the event is dropped.
func (s *Session) Send(e events.Event) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- e:
		metrics.RecordEventSent(e.Event)
		return true
	default:
		metrics.RecordEventDropped()
		s.log.Warn("dropping event for slow session", zap.String("event", e.Event))
		return false
	}
}

// Close stops delivery to the session and closes its connection.
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case e := <-s.send:
			data, err := events.MarshalEvent(e)
			if err != nil {
				s.log.Error("marshal event", zap.Error(err))
				continue
			}
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.log.Debug("write failed", zap.Error(err))
				s.Close()
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.Close()
				return
			}
		case <-s.done:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			s.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// Hub is the set of connected sessions.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	upgrader websocket.Upgrader
	log      *zap.Logger
}

// New creates an empty hub.
func New() *Hub {
	return &Hub{
		sessions: make(map[string]*Session),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		log: logging.Named("hub"),
	}
}

// Join adds s to the hub and queues first as its initial event. No
// broadcast can reach s before first.
func (h *Hub) Join(s *Session, first events.Event) {
	h.mu.Lock()
	h.sessions[s.id] = s
	s.Send(first)
	count := len(h.sessions)
	h.mu.Unlock()

	metrics.SetSessionsActive(count)
	h.log.Info("session joined",
		zap.String("session", s.id),
		zap.String("remote_addr", s.remoteAddr),
		zap.Int("sessions", count))
}

// Leave removes s from the hub.
func (h *Hub) Leave(s *Session) {
	h.mu.Lock()
	delete(h.sessions, s.id)
	count := len(h.sessions)
	h.mu.Unlock()

	metrics.SetSessionsActive(count)
	h.log.Info("session left",
		zap.String("session", s.id),
		zap.Int("sessions", count))
}

// Broadcast queues e to every session and returns how many accepted it.
func (h *Hub) Broadcast(e events.Event) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, s := range h.sessions {
		if s.Send(e) {
			n++
		}
	}
	return n
}

// Count returns the current number of sessions.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// CloseAll closes every session's connection.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.sessions {
		s.Close()
	}
}

// Handler returns the HTTP handler that upgrades requests to the realtime
// channel and drives hd for each session.
func (h *Hub) Handler(hd Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has already replied to the client.
			h.log.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		s := NewSession(r.RemoteAddr)
		s.conn = conn
		go s.writePump()

		hd.OnConnect(s)
		h.readPump(s, hd)
		hd.OnDisconnect(s)
		s.Close()
	})
}

func (h *Hub) readPump(s *Session, hd Handler) {
	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				s.log.Warn("connection closed unexpectedly", zap.Error(err))
			}
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(pongWait))

		e, err := events.UnmarshalEvent(data)
		if err != nil {
			s.log.Warn("ignoring malformed frame", zap.Error(err), zap.Int("size", len(data)))
			continue
		}
		metrics.RecordEventReceived(e.Event)
		hd.OnMessage(s, e)
	}
}
