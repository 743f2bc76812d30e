package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/torosent/tankwatch/internal/clientmetrics"
	"github.com/torosent/tankwatch/internal/websocket"
)

// Config configures a Reconnecting transport.
type Config struct {
	URL              string
	Headers          http.Header
	HandshakeTimeout time.Duration
	MaxMessageSize   int64
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	// MaxAttempts bounds consecutive failed dials. 0 retries forever.
	MaxAttempts int
	Logger      *zap.SugaredLogger
}

// Reconnecting keeps a websocket connection to the report server open,
// redialing with exponential backoff after every drop.
type Reconnecting struct {
	cfg    Config
	client *websocket.Client
	events chan Event
	log    *zap.SugaredLogger

	mu        sync.Mutex
	connected bool
}

// NewReconnecting creates the transport. Nothing is dialed until Run.
func NewReconnecting(cfg Config) *Reconnecting {
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Reconnecting{
		cfg: cfg,
		client: websocket.NewClient(websocket.Config{
			URL:              cfg.URL,
			Headers:          cfg.Headers,
			HandshakeTimeout: cfg.HandshakeTimeout,
			MaxMessageSize:   cfg.MaxMessageSize,
		}),
		events: make(chan Event, 16),
		log:    log,
	}
}

// Events returns the event stream. It is closed when Run returns.
func (r *Reconnecting) Events() <-chan Event {
	return r.events
}

// Send writes a text frame on the current connection.
func (r *Reconnecting) Send(ctx context.Context, payload []byte) error {
	if !r.isConnected() {
		return ErrNotConnected
	}
	if err := r.client.SendMessage(ctx, websocket.Text(payload)); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

// Metrics returns the socket counters.
func (r *Reconnecting) Metrics() clientmetrics.Snapshot {
	return r.client.Metrics()
}

// Run dials, pumps frames and redials until ctx is done or MaxAttempts
// consecutive dials fail. Every redial waits out the backoff, which only
// resets after a connection delivers a frame. The event stream is closed on
// return.
func (r *Reconnecting) Run(ctx context.Context) error {
	defer close(r.events)

	stop := context.AfterFunc(ctx, func() {
		_ = r.client.Close()
	})
	defer stop()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.InitialBackoff
	b.MaxInterval = r.cfg.MaxBackoff
	b.Reset()

	failures := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := r.client.Connect(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failures++
			if r.cfg.MaxAttempts > 0 && failures >= r.cfg.MaxAttempts {
				return fmt.Errorf("giving up after %d attempts: %w", failures, err)
			}
			wait := b.NextBackOff()
			r.log.Warnw("dial failed", "url", r.cfg.URL, "attempt", failures, "retry_in", wait, "error", err)
			if !sleep(ctx, wait) {
				return ctx.Err()
			}
			continue
		}

		failures = 0
		r.setConnected(true)
		r.log.Infow("connected", "url", r.cfg.URL)
		if !r.emit(ctx, Event{Kind: EventConnected}) {
			r.drop()
			return ctx.Err()
		}

		frames, err := r.pump(ctx)
		r.drop()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// A connection that never delivered a frame does not earn a reset.
		if frames > 0 {
			b.Reset()
		}
		wait := b.NextBackOff()
		if websocket.IsCloseError(err) {
			r.log.Infow("server closed connection", "url", r.cfg.URL, "frames", frames, "retry_in", wait)
		} else {
			r.log.Warnw("connection lost", "url", r.cfg.URL, "frames", frames, "retry_in", wait, "error", err)
		}
		if !r.emit(ctx, Event{Kind: EventDisconnected, Err: err}) {
			return ctx.Err()
		}
		if !sleep(ctx, wait) {
			return ctx.Err()
		}
	}
}

// pump forwards frames until the connection fails and reports how many
// it delivered.
func (r *Reconnecting) pump(ctx context.Context) (int, error) {
	frames := 0
	for {
		msg, err := r.client.ReceiveMessage(ctx)
		if err != nil {
			return frames, err
		}
		if !r.emit(ctx, Event{Kind: EventMessage, Data: msg.Data}) {
			return frames, ctx.Err()
		}
		frames++
	}
}

func (r *Reconnecting) emit(ctx context.Context, ev Event) bool {
	select {
	case r.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (r *Reconnecting) drop() {
	r.setConnected(false)
	_ = r.client.Close()
}

func (r *Reconnecting) setConnected(v bool) {
	r.mu.Lock()
	r.connected = v
	r.mu.Unlock()
}

func (r *Reconnecting) isConnected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
