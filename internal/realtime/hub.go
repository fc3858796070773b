// Package realtime serves transaction assessments over WebSocket.
//
// Each connected client sends assess requests as text frames and receives
// one reply frame per request, in order. There is no broadcast: a session
// only ever sees answers to its own questions.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/mbd888/txguard/internal/idgen"
	"github.com/mbd888/txguard/internal/logging"
	"github.com/mbd888/txguard/internal/metrics"
	"github.com/mbd888/txguard/internal/risk"
	"github.com/mbd888/txguard/internal/validation"
)

// normalCloseCodes are WebSocket close codes that indicate an expected disconnect.
var normalCloseCodes = []int{
	websocket.CloseNormalClosure,
	websocket.CloseGoingAway,
	websocket.CloseNoStatusReceived,
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // Allow non-browser clients
		}
		// Allow same-host connections
		host := r.Host
		return origin == "http://"+host || origin == "https://"+host
	},
}

const (
	// MaxClients is the maximum number of concurrent WebSocket connections.
	MaxClients = 10000

	maxFrameSize = 64 * 1024
	pongWait     = 60 * time.Second
	pingPeriod   = 30 * time.Second
	writeWait    = 10 * time.Second
	sendBuffer   = 32
)

// Assessor scores one request.
type Assessor interface {
	Assess(ctx context.Context, req risk.Request) (*risk.Verdict, error)
}

// Frame is one client request. ID is echoed on the reply so clients can
// correlate; it doubles as the request id in logs.
type Frame struct {
	ID string `json:"id,omitempty"`
	risk.Request
}

// Reply answers one Frame with either a verdict or an error.
type Reply struct {
	ID      string        `json:"id,omitempty"`
	Verdict *risk.Verdict `json:"verdict,omitempty"`
	Error   *ReplyError   `json:"error,omitempty"`
}

// ReplyError mirrors the HTTP error body.
type ReplyError struct {
	Code    string                      `json:"error"`
	Message string                      `json:"message"`
	Details validation.ValidationErrors `json:"details,omitempty"`
}

// Client represents a WebSocket connection
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	session string

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

// deliver queues msg for the writer. It reports false if the client is gone
// or too slow to keep up.
func (c *Client) deliver(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// close stops the writer. Safe to call more than once.
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Hub manages all WebSocket connections
type Hub struct {
	assessor   Assessor
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	logger     *slog.Logger
	done       chan struct{} // closed when Run exits; prevents upgrade race
	maxClients int

	// Stats
	totalAssessments atomic.Int64
	totalClients     atomic.Int64
	peakClients      atomic.Int64
}

// NewHub creates a WebSocket hub answering with assessor
func NewHub(assessor Assessor, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		assessor:   assessor,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
		done:       make(chan struct{}),
		maxClients: MaxClients,
	}
}

// WithMaxClients overrides the connection limit.
func (h *Hub) WithMaxClients(n int) *Hub {
	h.maxClients = n
	return h
}

// Run starts the hub's main loop
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("realtime hub started")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("realtime hub shutting down, closing client connections")
			h.mu.Lock()
			for client := range h.clients {
				client.close() // writePump sends CloseMessage on closed channel
				delete(h.clients, client)
			}
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(0)
			h.logger.Info("realtime hub stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.totalClients.Add(1)
			if current := int64(len(h.clients)); current > h.peakClients.Load() {
				h.peakClients.Store(current)
			}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(float64(n))
			h.logger.Info("client connected", "session", client.session, "total", n)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.close()
			}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(float64(n))
			h.logger.Info("client disconnected", "session", client.session, "total", n)
		}
	}
}

// Stats returns hub statistics
func (h *Hub) Stats() map[string]interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return map[string]interface{}{
		"connectedClients": len(h.clients),
		"totalAssessments": h.totalAssessments.Load(),
		"totalClients":     h.totalClients.Load(),
		"peakClients":      h.peakClients.Load(),
	}
}

// RegisterRoutes mounts the assess session endpoint.
func (h *Hub) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/risk/ws", func(c *gin.Context) {
		h.HandleWebSocket(c.Writer, c.Request)
	})
}

// HandleWebSocket upgrades HTTP to WebSocket
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Reject upgrades after the hub has stopped to prevent orphaned connections.
	select {
	case <-h.done:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	// Enforce connection limit
	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()
	if n >= h.maxClients {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:     h,
		conn:    conn,
		session: idgen.WithPrefix("ws_"),
		send:    make(chan []byte, sendBuffer),
	}

	select {
	case h.register <- client:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// answer scores one raw frame and encodes the reply.
func (h *Hub) answer(ctx context.Context, session string, raw []byte) []byte {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return encode(Reply{Error: &ReplyError{
			Code:    "invalid_request",
			Message: "Frame must be a JSON object with wallet, contract and txType",
		}})
	}

	reqID := f.ID
	if reqID == "" {
		reqID = idgen.Hex(8)
	}
	ctx = logging.WithRequestID(ctx, reqID)
	ctx = logging.WithLogger(ctx, h.logger.With("session", session))

	v, err := h.assessor.Assess(ctx, f.Request)
	if err != nil {
		var verrs validation.ValidationErrors
		if errors.As(err, &verrs) {
			return encode(Reply{ID: f.ID, Error: &ReplyError{Code: "invalid_request", Message: verrs.Error(), Details: verrs}})
		}
		logging.L(ctx).Error("websocket assessment failed", "error", err)
		return encode(Reply{ID: f.ID, Error: &ReplyError{Code: "internal_error", Message: "Assessment failed"}})
	}
	h.totalAssessments.Add(1)
	return encode(Reply{ID: f.ID, Verdict: v})
}

func encode(r Reply) []byte {
	data, _ := json.Marshal(r)
	return data
}

// readPump reads assess frames and answers them in order
func (c *Client) readPump() {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, normalCloseCodes...) {
				c.hub.logger.Warn("websocket read error", "session", c.session, "error", err)
			}
			return
		}
		if !c.deliver(c.hub.answer(ctx, c.session, message)) {
			c.hub.logger.Warn("websocket client too slow, closing", "session", c.session)
			return
		}
	}
}

// writePump writes messages to WebSocket
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.logger.Warn("websocket write error", "session", c.session, "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.logger.Debug("websocket ping failed", "session", c.session, "error", err)
				return
			}
		}
	}
}
