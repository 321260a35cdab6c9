// Package channel is the client side of the murmur websocket: one duplex
// connection carrying JSON control frames and binary WAV frames, redialed
// with exponential backoff whenever it drops.
package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-murmur/pkg/protocol"
)

const (
	reconnectBaseDelay = 1 * time.Second
	reconnectMaxDelay  = 30 * time.Second
	keepaliveInterval  = 20 * time.Second
	writeTimeout       = 10 * time.Second
	handshakeTimeout   = 10 * time.Second
)

// ErrNotConnected is returned by Send while the connection is down.
// Nothing sent during an outage is replayed after reconnect.
var ErrNotConnected = errors.New("channel: not connected")

// State is the connection state reported on States.
type State int

const (
	StateDisconnected State = iota
	StateConnected
)

func (s State) String() string {
	if s == StateConnected {
		return "connected"
	}
	return "disconnected"
}

// Config configures a Channel.
type Config struct {
	// URL is the ws:// or wss:// endpoint.
	URL string

	// BaseDelay and MaxDelay bound the reconnect backoff.
	BaseDelay time.Duration
	MaxDelay  time.Duration

	// PingInterval is the keepalive period; zero uses 20s.
	PingInterval time.Duration

	Logger *slog.Logger
}

// Channel multiplexes every category over a single websocket.
type Channel struct {
	cfg    Config
	logger *slog.Logger
	dialer websocket.Dialer

	connMu    sync.Mutex
	conn      *websocket.Conn
	connected bool

	// gorilla connections allow one concurrent writer.
	writeMu sync.Mutex

	inbound chan *protocol.Message
	states  chan State
}

// New creates a channel. Call Run to connect.
func New(cfg Config) *Channel {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = reconnectBaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = reconnectMaxDelay
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = keepaliveInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Channel{
		cfg:     cfg,
		logger:  cfg.Logger.With("component", "channel"),
		dialer:  websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		inbound: make(chan *protocol.Message, 256),
		states:  make(chan State, 16),
	}
}

// Messages delivers inbound control frames in arrival order.
func (c *Channel) Messages() <-chan *protocol.Message {
	return c.inbound
}

// States delivers connection state changes. Slow readers miss intermediate
// states but always see the latest one eventually.
func (c *Channel) States() <-chan State {
	return c.states
}

// Connected reports whether a connection is currently open.
func (c *Channel) Connected() bool {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.connected
}

// Run dials, reads until the connection drops, and redials forever with
// exponential backoff. It returns when ctx is cancelled.
func (c *Channel) Run(ctx context.Context) error {
	delay := c.cfg.BaseDelay
	for {
		conn, err := c.dial(ctx)
		if err == nil {
			delay = c.cfg.BaseDelay
			c.serve(ctx, conn)
		} else if ctx.Err() == nil {
			c.logger.Warn("connect failed", "url", c.cfg.URL, "error", err, "retry_in", delay)
		}

		if ctx.Err() != nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay = nextDelay(delay, c.cfg.MaxDelay)
	}
}

func nextDelay(d, max time.Duration) time.Duration {
	d *= 2
	if d > max {
		return max
	}
	return d
}

func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, http.Header{})
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return conn, nil
}

// serve owns conn until it fails or ctx ends.
func (c *Channel) serve(ctx context.Context, conn *websocket.Conn) {
	c.setConn(conn)
	c.logger.Info("connected", "url", c.cfg.URL)

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		<-connCtx.Done()
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = conn.Close()
	}()
	go c.keepalive(connCtx, conn)

	c.readLoop(connCtx, conn)

	c.clearConn(conn)
	if ctx.Err() == nil {
		c.logger.Warn("connection lost")
	}
}

func (c *Channel) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && ctx.Err() == nil {
				c.logger.Error("websocket read error", "error", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			// The server never sends binary frames.
			continue
		}
		msg, err := protocol.ParseMessage(data)
		if err != nil {
			c.logger.Warn("dropping malformed frame", "error", err)
			continue
		}
		select {
		case c.inbound <- msg:
		case <-ctx.Done():
			return
		}
	}
}

func (c *Channel) keepalive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Warn("keepalive ping failed", "error", err)
				_ = conn.Close()
				return
			}
		}
	}
}

func (c *Channel) setConn(conn *websocket.Conn) {
	c.connMu.Lock()
	c.conn = conn
	c.connected = true
	c.connMu.Unlock()
	c.publish(StateConnected)
}

func (c *Channel) clearConn(conn *websocket.Conn) {
	c.connMu.Lock()
	if c.conn == conn {
		c.conn = nil
		c.connected = false
	}
	c.connMu.Unlock()
	c.publish(StateDisconnected)
}

func (c *Channel) publish(s State) {
	select {
	case c.states <- s:
	default:
		// Drop the oldest pending state to make room for the newest.
		select {
		case <-c.states:
		default:
		}
		select {
		case c.states <- s:
		default:
		}
	}
}

func (c *Channel) current() *websocket.Conn {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn
}

// Send writes one control frame.
func (c *Channel) Send(msg *protocol.Message) error {
	data, err := msg.Bytes()
	if err != nil {
		return err
	}

	conn := c.current()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.write(conn, websocket.TextMessage, data)
}

// SendAudio writes an audio_context frame followed by its WAV frame.
// The pair is written under one lock so no other frame can interleave.
func (c *Channel) SendAudio(audioCtx *protocol.Message, wav []byte) error {
	data, err := audioCtx.Bytes()
	if err != nil {
		return err
	}

	conn := c.current()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.write(conn, websocket.TextMessage, data); err != nil {
		return err
	}
	return c.write(conn, websocket.BinaryMessage, wav)
}

func (c *Channel) write(conn *websocket.Conn, msgType int, data []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(msgType, data); err != nil {
		// Closing forces the read loop to fail and trigger a reconnect.
		_ = conn.Close()
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}
