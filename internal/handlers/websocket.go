package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/store3d/forge/internal/interfaces"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// wsMessage is the envelope broadcast to all connected clients
type wsMessage struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// WebSocketHandler pushes job lifecycle events to browser clients. Progress
// transitions are throttled; terminal events always go out.
type WebSocketHandler struct {
	logger       arbor.ILogger
	eventService interfaces.EventService
	clients      map[*websocket.Conn]bool
	clientMutex  map[*websocket.Conn]*sync.Mutex
	mu           sync.RWMutex

	// progressThrottler bounds the broadcast rate of non-terminal
	// transitions so a fast-polling worker cannot flood slow clients.
	progressThrottler *rate.Limiter
}

// NewWebSocketHandler creates a websocket handler subscribed to the job
// event bus
func NewWebSocketHandler(eventService interfaces.EventService, logger arbor.ILogger) *WebSocketHandler {
	h := &WebSocketHandler{
		logger:            logger,
		eventService:      eventService,
		clients:           make(map[*websocket.Conn]bool),
		clientMutex:       make(map[*websocket.Conn]*sync.Mutex),
		progressThrottler: rate.NewLimiter(rate.Every(500*time.Millisecond), 1),
	}

	for _, eventType := range []interfaces.EventType{
		interfaces.EventJobCreated,
		interfaces.EventJobTransitioned,
		interfaces.EventJobCompleted,
		interfaces.EventJobFailed,
	} {
		if err := eventService.Subscribe(eventType, h.handleEvent); err != nil {
			logger.Error().Err(err).Str("event_type", string(eventType)).Msg("Failed to subscribe websocket handler")
		}
	}

	return h
}

// HandleWebSocket upgrades the connection and registers the client
// GET /ws
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	h.clientMutex[conn] = &sync.Mutex{}
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().Int("clients", count).Msg("WebSocket client connected")

	// Read loop exists only to observe the close
	go func() {
		defer h.removeClient(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *WebSocketHandler) handleEvent(ctx context.Context, event interfaces.Event) error {
	if event.Type == interfaces.EventJobTransitioned && !h.progressThrottler.Allow() {
		return nil
	}

	h.broadcast(&wsMessage{
		Type:      string(event.Type),
		Payload:   event.Payload,
		Timestamp: time.Now(),
	})
	return nil
}

func (h *WebSocketHandler) broadcast(msg *wsMessage) {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		if err := h.writeToClient(conn, msg); err != nil {
			h.removeClient(conn)
		}
	}
}

// writeToClient serializes writes per connection; gorilla forbids
// concurrent writers.
func (h *WebSocketHandler) writeToClient(conn *websocket.Conn, msg *wsMessage) error {
	h.mu.RLock()
	mu := h.clientMutex[conn]
	h.mu.RUnlock()
	if mu == nil {
		return nil
	}

	mu.Lock()
	defer mu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(msg)
}

func (h *WebSocketHandler) removeClient(conn *websocket.Conn) {
	h.mu.Lock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		delete(h.clientMutex, conn)
		conn.Close()
	}
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().Int("clients", count).Msg("WebSocket client disconnected")
}

// Close disconnects all clients
func (h *WebSocketHandler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]bool)
	h.clientMutex = make(map[*websocket.Conn]*sync.Mutex)
}
