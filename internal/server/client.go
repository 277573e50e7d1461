package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/Tyrowin/roomchat/internal/config"
	"github.com/Tyrowin/roomchat/internal/hub"
	"github.com/Tyrowin/roomchat/internal/metrics"
)

// Client is the WebSocket side of one hub connection. The hub sends through
// Send, which only queues; a dedicated write pump owns all socket writes.
// The session loop reads through Receive.
type Client struct {
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	addr           string
	maxMessageSize int64
	rateLimiter    *rateLimiter
	rateLimit      config.RateLimitConfig
	writeWait      time.Duration
	pongWait       time.Duration
	pingPeriod     time.Duration

	clock  clockwork.Clock
	logger *slog.Logger
}

var _ hub.Stream = (*Client)(nil)

// NewClient wraps conn. Call Start before handing the client to the hub.
func NewClient(conn *websocket.Conn, cfg config.Config, clock clockwork.Clock, logger *slog.Logger) *Client {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	addr := ""
	if conn != nil {
		addr = conn.RemoteAddr().String()
	}

	return &Client{
		conn:           conn,
		send:           make(chan []byte, cfg.SendBufferSize),
		done:           make(chan struct{}),
		addr:           addr,
		maxMessageSize: cfg.MaxMessageSize,
		rateLimiter:    newRateLimiter(cfg.RateLimit, clock),
		rateLimit:      cfg.RateLimit,
		writeWait:      cfg.WriteWait,
		pongWait:       cfg.PongWait,
		pingPeriod:     cfg.PingPeriod,
		clock:          clock,
		logger:         logger.With(slog.String("remote_addr", addr)),
	}
}

// Start configures the read side and launches the write pump.
func (c *Client) Start() {
	c.setupReadConnection()
	go c.writePump()
}

// Send queues data for the write pump without blocking.
func (c *Client) Send(data []byte) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrClientClosed
	default:
		return ErrSendBufferFull
	}
}

// Close asks the write pump to send a close frame and release the socket.
// It is safe to call more than once and from any goroutine.
func (c *Client) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

// Receive blocks until the next inbound message that passes the rate limit.
// Once the connection is gone it returns an error wrapping
// hub.ErrTransportClosed or hub.ErrTransportFailure.
func (c *Client) Receive() ([]byte, error) {
	for {
		_, rawMessage, err := c.conn.ReadMessage()
		if err != nil {
			return nil, c.classifyReadError(err)
		}

		if !c.checkRateLimit() {
			continue
		}
		return rawMessage, nil
	}
}

// setupReadConnection configures the read limit, read deadline and pong handler.
func (c *Client) setupReadConnection() {
	c.conn.SetReadLimit(c.maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(c.pongWait)); err != nil {
		c.logger.Warn("Error setting initial read deadline", slog.Any("error", err))
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.pongWait)); err != nil {
			c.logger.Warn("Error setting read deadline in pong handler", slog.Any("error", err))
		}
		return nil
	})
}

// classifyReadError logs a read error and maps it onto the hub's transport errors.
func (c *Client) classifyReadError(err error) error {
	select {
	case <-c.done:
		return fmt.Errorf("%w: %w", hub.ErrTransportClosed, err)
	default:
	}

	if errors.Is(err, websocket.ErrReadLimit) {
		c.logger.Warn("Message exceeded maximum size", slog.Int64("max_bytes", c.maxMessageSize))
		return fmt.Errorf("%w: %w", hub.ErrTransportFailure, err)
	}

	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
		websocket.CloseAbnormalClosure) {
		c.logger.Debug("Client disconnected", slog.Any("reason", err))
		return fmt.Errorf("%w: %w", hub.ErrTransportClosed, err)
	}

	if errors.Is(err, io.EOF) || isExpectedCloseError(err) {
		c.logger.Debug("Client connection closed", slog.Any("reason", err))
		return fmt.Errorf("%w: %w", hub.ErrTransportClosed, err)
	}

	c.logger.Warn("WebSocket read error", slog.Any("error", err))
	return fmt.Errorf("%w: %w", hub.ErrTransportFailure, err)
}

// checkRateLimit reports whether the message may be processed.
func (c *Client) checkRateLimit() bool {
	if c.rateLimiter != nil && !c.rateLimiter.allow() {
		metrics.RateLimitedMessages.Inc()
		c.logger.Warn("Rate limit exceeded, discarding message",
			slog.Int("burst", c.rateLimit.Burst),
			slog.Duration("interval", c.rateLimit.RefillInterval),
		)
		return false
	}
	return true
}

func (c *Client) writePump() {
	ticker := c.clock.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop.
func (c *Client) processWriteEvent(ticker clockwork.Ticker) bool {
	select {
	case message := <-c.send:
		return c.writeTextMessage(message) && c.writeQueuedMessages()
	case <-ticker.Chan():
		return c.handlePing()
	case <-c.done:
		c.writeCloseMessage()
		return false
	}
}

// closeConnection marks the client closed and releases the socket.
func (c *Client) closeConnection() {
	_ = c.Close()
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.logger.Debug("Error closing connection", slog.Any("error", err))
	}
}

func (c *Client) writeCloseMessage() {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
		return
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := c.conn.WriteMessage(websocket.CloseMessage, msg); err != nil && !isExpectedCloseError(err) {
		c.logger.Debug("Error writing close message", slog.Any("error", err))
	}
}

// writeTextMessage writes message as one text frame.
func (c *Client) writeTextMessage(message []byte) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
		c.logger.Debug("Error setting write deadline", slog.Any("error", err))
		return false
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Warn("Error writing message", slog.Any("error", err))
		}
		return false
	}
	return true
}

// writeQueuedMessages flushes whatever queued up while the last frame was written.
// Every envelope keeps its own frame so clients can decode frames independently.
func (c *Client) writeQueuedMessages() bool {
	n := len(c.send)
	for i := 0; i < n; i++ {
		if !c.writeTextMessage(<-c.send) {
			return false
		}
	}
	return true
}

// handlePing sends a ping message to keep the connection alive.
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
		c.logger.Debug("Error setting write deadline for ping", slog.Any("error", err))
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Debug("Error writing ping message", slog.Any("error", err))
		}
		return false
	}
	return true
}
