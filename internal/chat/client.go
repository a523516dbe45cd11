package chat

import (
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	pongWait      = 60 * time.Second
	pingPeriod    = 54 * time.Second
	writeWait     = 10 * time.Second
	sendQueueSize = 256
)

// connState is the lifecycle state of a messaging connection. A
// connection starts Connected (unauthenticated), becomes Authenticated
// after a successful auth handshake, and ends Closed. Closed is terminal;
// a closed connection's handle is never reused.
type connState int

const (
	stateConnected connState = iota
	stateAuthenticated
	stateClosed
)

// Client is one websocket connection. The hub's event loop owns state and
// userID; the read and write pumps own the connection I/O.
type Client struct {
	conn    *websocket.Conn
	hub     *Hub
	addr    string
	logger  *zap.Logger
	limiter *tokenBucket

	send chan []byte

	mu     sync.Mutex
	closed bool

	// Mutated only by the hub loop.
	state  connState
	userID string
}

func newClient(conn *websocket.Conn, hub *Hub, addr string) *Client {
	cfg := hub.cfg
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	return &Client{
		conn:    conn,
		hub:     hub,
		addr:    addr,
		logger:  hub.logger,
		limiter: newTokenBucket(cfg.RateLimit.Burst, cfg.RateLimit.RefillInterval),
		send:    make(chan []byte, sendQueueSize),
		state:   stateConnected,
	}
}

// Send enqueues a payload for delivery to this connection. It reports
// false when the connection is closed or its queue is full; the message is
// then dropped (delivery is best-effort).
func (c *Client) Send(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// markClosed flips the closed flag and reports whether this call did the
// flip. The send channel may be closed exactly once, by the caller that
// wins.
func (c *Client) markClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	c.closed = true
	return true
}

func (c *Client) sendEvent(event string, data any) {
	payload, err := encodeEvent(event, data)
	if err != nil {
		c.logger.Error("failed to encode event",
			zap.String("event", event), zap.Error(err))
		return
	}
	c.Send(payload)
}

func (c *Client) sendError(message string) {
	c.sendEvent(EventError, ErrorPayload{Message: message})
}

// readPump reads frames from the connection, parses the event envelope,
// and forwards events to the hub loop. Events from one connection reach
// the hub in the order they were received.
func (c *Client) readPump() {
	defer func() {
		// The hub may already be shut down; never block on a loop that
		// is no longer draining.
		select {
		case c.hub.unregister <- c:
		case <-c.hub.ctx.Done():
		}
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.logger.Warn("error closing connection in read pump",
				zap.String("addr", c.addr), zap.Error(err))
		}
	}()

	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Warn("failed to set read deadline",
			zap.String("addr", c.addr), zap.Error(err))
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}

		if !c.limiter.allow() {
			c.logger.Warn("rate limit exceeded; discarding frame",
				zap.String("addr", c.addr))
			continue
		}

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.logger.Warn("invalid frame",
				zap.String("addr", c.addr), zap.Error(err))
			c.sendError("Invalid frame")
			continue
		}

		select {
		case c.hub.inbound <- inboundEvent{client: c, env: env}:
		case <-c.hub.ctx.Done():
			return
		}
	}
}

func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.logger.Warn("frame exceeded maximum size", zap.String("addr", c.addr))
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.logger.Info("client disconnected", zap.String("addr", c.addr))
	case errors.Is(err, io.EOF), isExpectedCloseError(err):
		c.logger.Info("connection closed", zap.String("addr", c.addr))
	default:
		c.logger.Warn("websocket read error",
			zap.String("addr", c.addr), zap.Error(err))
	}
}

// writePump drains the send queue onto the wire and keeps the connection
// alive with periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.logger.Warn("error closing connection in write pump",
				zap.String("addr", c.addr), zap.Error(err))
		}
	}()

	for {
		select {
		case payload, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				if !isExpectedCloseError(err) {
					c.logger.Warn("websocket write error",
						zap.String("addr", c.addr), zap.Error(err))
				}
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "websocket: close sent") ||
		strings.Contains(msg, "broken pipe")
}
