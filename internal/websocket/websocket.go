package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/torosent/tankwatch/internal/clientmetrics"
)

// Message represents a WebSocket message to send or receive.
type Message struct {
	Type int // websocket.TextMessage or websocket.BinaryMessage
	Data []byte
}

// Text builds a text frame.
func Text(data []byte) Message {
	return Message{Type: websocket.TextMessage, Data: data}
}

// Client represents a WebSocket client connection.
type Client struct {
	url          string
	headers      http.Header
	dialer       *websocket.Dialer
	readTimeout  time.Duration
	writeTimeout time.Duration
	maxSize      int64

	mu      sync.Mutex
	writeMu sync.Mutex
	conn    *websocket.Conn
	metrics *clientmetrics.ClientMetrics
}

// Config configures the WebSocket client behavior.
type Config struct {
	URL              string
	Headers          http.Header
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration // 0 waits forever
	WriteTimeout     time.Duration
	MaxMessageSize   int64
}

// NewClient creates a new WebSocket client with the given configuration.
func NewClient(cfg Config) *Client {
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.MaxMessageSize == 0 {
		cfg.MaxMessageSize = 16 * 1024 * 1024 // snapshots of long tests get large
	}

	dialer := &websocket.Dialer{
		HandshakeTimeout: cfg.HandshakeTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}

	return &Client{
		url:          cfg.URL,
		headers:      cfg.Headers,
		dialer:       dialer,
		readTimeout:  cfg.ReadTimeout,
		writeTimeout: cfg.WriteTimeout,
		maxSize:      cfg.MaxMessageSize,
		metrics:      clientmetrics.New(),
	}
}

// Connect establishes a WebSocket connection.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return fmt.Errorf("already connected")
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.url, c.headers)
	if err != nil {
		c.metrics.IncrementErrors()
		if resp != nil {
			return fmt.Errorf("websocket dial failed with status %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("websocket dial failed: %w", err)
	}
	conn.SetReadLimit(c.maxSize)

	c.conn = conn
	c.metrics.MarkConnected()

	return nil
}

// SendMessage sends a message over the WebSocket connection.
func (c *Client) SendMessage(ctx context.Context, msg Message) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("not connected")
	}

	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	// gorilla allows one concurrent writer per connection.
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(msg.Type, msg.Data); err != nil {
		c.metrics.IncrementErrors()
		return fmt.Errorf("write message: %w", err)
	}

	c.metrics.IncrementSent(int64(len(msg.Data)))
	return nil
}

// ReceiveMessage reads a message from the WebSocket connection.
// Returns an error if the connection is closed or times out.
func (c *Client) ReceiveMessage(ctx context.Context) (Message, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return Message{}, fmt.Errorf("not connected")
	}

	var deadline time.Time
	if c.readTimeout > 0 {
		deadline = time.Now().Add(c.readTimeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	_ = conn.SetReadDeadline(deadline)

	msgType, data, err := conn.ReadMessage()
	if err != nil {
		c.metrics.IncrementErrors()
		return Message{}, fmt.Errorf("read message: %w", err)
	}

	c.metrics.IncrementReceived(int64(len(data)))
	return Message{Type: msgType, Data: data}, nil
}

// Close closes the WebSocket connection gracefully.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}

	// Send close frame
	c.writeMu.Lock()
	err := c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(5*time.Second),
	)
	c.writeMu.Unlock()

	closeErr := c.conn.Close()
	c.conn = nil
	c.metrics.Reset()

	if err != nil {
		return err
	}

	return closeErr
}

// Metrics returns the current metrics snapshot.
func (c *Client) Metrics() clientmetrics.Snapshot {
	return c.metrics.Snapshot()
}

// IsCloseError reports whether err carries a normal or going-away close frame.
func IsCloseError(err error) bool {
	var ce *websocket.CloseError
	if !errors.As(err, &ce) {
		return false
	}
	return ce.Code == websocket.CloseNormalClosure || ce.Code == websocket.CloseGoingAway
}
