package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/teslashibe/go-murmur/pkg/protocol"
)

// ErrConnClosed is returned when sending to a client that has disconnected.
var ErrConnClosed = errors.New("server: connection closed")

// serialBacklog bounds the per-connection queue of serial jobs.
const serialBacklog = 16

// Conn is one connected voice client.
type Conn struct {
	ID        string
	Connected time.Time

	ws     *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
	serial chan func(context.Context)

	mu     sync.Mutex // guards writes and closed
	closed bool
}

// Send writes a control frame. It returns ErrConnClosed once the client is gone.
func (c *Conn) Send(msg *protocol.Message) error {
	data, err := msg.Bytes()
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Context is cancelled when the client disconnects.
func (c *Conn) Context() context.Context { return c.ctx }

// Serial queues fn behind earlier serial jobs of this connection, so
// utterances are transcribed in the order they were spoken. It reports
// false when the backlog is full or the connection is closed.
func (c *Conn) Serial(fn func(ctx context.Context)) bool {
	if c.ctx.Err() != nil {
		return false
	}
	select {
	case c.serial <- fn:
		return true
	default:
		return false
	}
}

func (c *Conn) work() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case fn := <-c.serial:
			fn(c.ctx)
		}
	}
}

func (c *Conn) close() {
	c.cancel()
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// Hub manages websocket connections from voice clients.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]*Conn

	// Callbacks
	onMessage func(c *Conn, msg *protocol.Message)
	onAudio   func(c *Conn, audioCtx *protocol.Message, wav []byte)

	logger  *slog.Logger
	metrics *Metrics

	// Stats
	messagesReceived atomic.Uint64
	messagesSent     atomic.Uint64
	audioReceived    atomic.Uint64
}

// NewHub creates a hub.
func NewHub(logger *slog.Logger, metrics *Metrics) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Hub{
		conns:   make(map[string]*Conn),
		logger:  logger.With("component", "server.hub"),
		metrics: metrics,
	}
}

// OnMessage sets the callback for control frames other than ping and audio_context.
func (h *Hub) OnMessage(callback func(c *Conn, msg *protocol.Message)) {
	h.mu.Lock()
	h.onMessage = callback
	h.mu.Unlock()
}

// OnAudio sets the callback for a WAV frame and the audio_context preceding it.
func (h *Hub) OnAudio(callback func(c *Conn, audioCtx *protocol.Message, wav []byte)) {
	h.mu.Lock()
	h.onAudio = callback
	h.mu.Unlock()
}

// RegisterRoutes registers the websocket endpoint on a Fiber app.
func (h *Hub) RegisterRoutes(app *fiber.App) {
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws", websocket.New(h.handle))
}

func (h *Hub) handle(ws *websocket.Conn) {
	ctx, cancel := context.WithCancel(context.Background())
	conn := &Conn{
		ID:        uuid.NewString()[:8],
		Connected: time.Now(),
		ws:        ws,
		ctx:       ctx,
		cancel:    cancel,
		serial:    make(chan func(context.Context), serialBacklog),
	}
	go conn.work()

	h.mu.Lock()
	h.conns[conn.ID] = conn
	count := len(h.conns)
	h.mu.Unlock()
	h.metrics.Connections.Inc()
	h.logger.Info("client connected", "conn", conn.ID, "total", count)

	defer func() {
		conn.close()
		h.mu.Lock()
		delete(h.conns, conn.ID)
		count := len(h.conns)
		h.mu.Unlock()
		h.metrics.Connections.Dec()
		h.logger.Info("client disconnected", "conn", conn.ID, "total", count)
	}()

	// audio_context is remembered until the binary frame it announces.
	var pending *protocol.Message
	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			h.logger.Debug("read ended", "conn", conn.ID, "error", err)
			return
		}
		h.messagesReceived.Add(1)

		if mt == websocket.BinaryMessage {
			h.audioReceived.Add(1)
			if pending == nil {
				h.sendError(conn, "unexpected_audio", "audio frame without audio_context")
				continue
			}
			h.dispatchAudio(conn, pending, data)
			pending = nil
			continue
		}

		msg, err := protocol.ParseMessage(data)
		if err != nil {
			h.logger.Warn("parse error", "conn", conn.ID, "error", err)
			h.sendError(conn, "bad_message", err.Error())
			continue
		}
		h.metrics.Messages.WithLabelValues(string(msg.Type)).Inc()

		switch msg.Type {
		case protocol.TypeAudioContext:
			pending = msg
		case protocol.TypePing:
			h.pong(conn, msg)
		default:
			h.dispatch(conn, msg)
		}
	}
}

func (h *Hub) dispatch(c *Conn, msg *protocol.Message) {
	h.mu.RLock()
	cb := h.onMessage
	h.mu.RUnlock()
	if cb != nil {
		cb(c, msg)
	}
}

func (h *Hub) dispatchAudio(c *Conn, audioCtx *protocol.Message, wav []byte) {
	h.mu.RLock()
	cb := h.onAudio
	h.mu.RUnlock()
	if cb != nil {
		cb(c, audioCtx, wav)
	}
}

func (h *Hub) pong(c *Conn, msg *protocol.Message) {
	ping, err := msg.GetPingData()
	if err != nil {
		ping = &protocol.PingData{Timestamp: msg.Timestamp}
	}
	reply, err := protocol.NewPongMessage(ping.ID, ping.Timestamp, time.Now().UnixMilli())
	if err == nil {
		h.Send(c, reply)
	}
}

// Send writes msg to c, logging failures other than a closed connection.
func (h *Hub) Send(c *Conn, msg *protocol.Message) {
	if err := c.Send(msg); err != nil {
		if errors.Is(err, ErrConnClosed) {
			h.logger.Debug("dropped message for closed connection", "conn", c.ID, "type", msg.Type)
			return
		}
		h.logger.Warn("send failed", "conn", c.ID, "type", msg.Type, "error", err)
		return
	}
	h.messagesSent.Add(1)
}

func (h *Hub) sendError(c *Conn, code, message string) {
	msg, err := protocol.NewErrorMessage(code, message)
	if err == nil {
		h.Send(c, msg)
	}
}

// sendCategoryError reports a failure tied to one category's request.
func (h *Hub) sendCategoryError(c *Conn, catID, code, message string) {
	msg, err := protocol.NewErrorMessage(code, message)
	if err == nil {
		h.Send(c, msg.WithCategory(catID))
	}
}

// Broadcast sends a message to every connected client.
func (h *Hub) Broadcast(msg *protocol.Message) {
	for _, c := range h.Conns() {
		h.Send(c, msg)
	}
}

// Conns returns all connected clients.
func (h *Hub) Conns() []*Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()

	conns := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	return conns
}

// ConnCount returns the number of connected clients.
func (h *Hub) ConnCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Stats contains hub statistics
type Stats struct {
	Connections      int    `json:"connections"`
	MessagesReceived uint64 `json:"messages_received"`
	MessagesSent     uint64 `json:"messages_sent"`
	AudioReceived    uint64 `json:"audio_received"`
}

// GetStats returns hub statistics
func (h *Hub) GetStats() Stats {
	return Stats{
		Connections:      h.ConnCount(),
		MessagesReceived: h.messagesReceived.Load(),
		MessagesSent:     h.messagesSent.Load(),
		AudioReceived:    h.audioReceived.Load(),
	}
}
