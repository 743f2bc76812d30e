package live

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/torosent/tankwatch/internal/metrics"
	"github.com/torosent/tankwatch/internal/store"
	"github.com/torosent/tankwatch/internal/tracing"
	"github.com/torosent/tankwatch/internal/transport"
	"github.com/torosent/tankwatch/internal/wire"
)

var (
	// ErrReloadRequired is returned once the channel is stale. The only
	// recovery is a new session built from a freshly fetched snapshot.
	ErrReloadRequired = errors.New("live: reload required")
	// ErrTransportClosed is returned when the transport's event stream ends.
	ErrTransportClosed = errors.New("live: transport closed")
)

// DefaultHeartbeatInterval is the client ping period.
const DefaultHeartbeatInterval = 3000 * time.Millisecond

// Options configures a Channel. Zero values are replaced by defaults.
type Options struct {
	HeartbeatInterval time.Duration
	Logger            *zap.SugaredLogger
	Tracer            trace.Tracer
	Collector         *metrics.Collector
}

// Channel applies pushed batches to a store and notifies subscribers.
// All mutations and notifications happen on the goroutine calling Run
// (or the Handle methods directly).
type Channel struct {
	version   string
	tr        transport.Transport
	heartbeat time.Duration
	log       *zap.SugaredLogger
	tracer    trace.Tracer
	collector *metrics.Collector
	failLog   rate.Sometimes

	mu     sync.Mutex // guards st, status, stale
	st     *store.Store
	status Status
	stale  bool

	subsMu sync.Mutex
	subs   []subscription
	nextID uint64
}

type subscription struct {
	id uint64
	fn func(Notification)
}

// New creates a channel for a session whose snapshot carried version.
// An empty version disables the version comparison.
func New(st *store.Store, version string, tr transport.Transport, opts Options) *Channel {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.Tracer == nil {
		opts.Tracer = noop.NewTracerProvider().Tracer("")
	}
	if opts.Collector == nil {
		opts.Collector = metrics.NewCollector()
	}
	return &Channel{
		version:   version,
		tr:        tr,
		heartbeat: opts.HeartbeatInterval,
		log:       opts.Logger,
		tracer:    opts.Tracer,
		collector: opts.Collector,
		failLog:   rate.Sometimes{First: 3, Interval: 10 * time.Second},
		st:        st,
		status:    StatusDisconnected,
	}
}

// Version is the session's snapshot version.
func (c *Channel) Version() string {
	return c.version
}

// Status reports the connection state.
func (c *Channel) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Stale reports whether a reload has been requested.
func (c *Channel) Stale() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stale
}

// Collector returns the ingest metrics collector.
func (c *Channel) Collector() *metrics.Collector {
	return c.collector
}

// View runs fn with exclusive access to the store. fn must not retain the store.
func (c *Channel) View(fn func(*store.Store)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c.st)
}

// Subscribe registers fn for every notification. Subscribers run
// synchronously, in subscription order, after the triggering mutation.
// The returned func removes the subscription.
func (c *Channel) Subscribe(fn func(Notification)) (cancel func()) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	c.nextID++
	id := c.nextID
	c.subs = append(c.subs, subscription{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			c.subsMu.Lock()
			defer c.subsMu.Unlock()
			for i, s := range c.subs {
				if s.id == id {
					c.subs = append(c.subs[:i:i], c.subs[i+1:]...)
					return
				}
			}
		})
	}
}

func (c *Channel) publish(n Notification) {
	c.subsMu.Lock()
	subs := make([]subscription, len(c.subs))
	copy(subs, c.subs)
	c.subsMu.Unlock()

	for _, s := range subs {
		s.fn(n)
	}
}

// HandleConnect records a transport connect.
func (c *Channel) HandleConnect() {
	c.setStatus(StatusConnected)
}

// HandleDisconnect records a transport disconnect.
func (c *Channel) HandleDisconnect() {
	c.setStatus(StatusDisconnected)
}

func (c *Channel) setStatus(s Status) {
	c.mu.Lock()
	if c.stale {
		c.mu.Unlock()
		return
	}
	c.status = s
	c.mu.Unlock()

	c.log.Debugw("status changed", "status", s.String())
	c.publish(Notification{Kind: StatusChanged, Status: s})
}

// HandleMessage processes one frame from the server. It returns
// ErrReloadRequired once the channel is stale, the decode or apply error
// for a rejected frame, and nil otherwise.
func (c *Channel) HandleMessage(ctx context.Context, payload []byte) error {
	if c.Stale() {
		return ErrReloadRequired
	}
	if wire.IsHeartbeat(payload) {
		return nil
	}
	c.collector.RecordMessage(len(payload))

	start := time.Now()
	msg, err := wire.Decode(payload)
	if err != nil {
		c.fail(time.Since(start), err, "decode")
		return err
	}

	switch {
	case msg.Kind == wire.KindReload:
		c.markStale(ReasonReload, "")
		return ErrReloadRequired
	case msg.HasVersion && c.version != "" && msg.Version != c.version:
		c.markStale(ReasonVersionMismatch, msg.Version)
		return ErrReloadRequired
	}

	_, span := tracing.StartApply(ctx, c.tracer, c.version, msg.Batch.Len())

	c.mu.Lock()
	applied, err := c.st.ApplyBatch(msg.Batch)
	status := c.status
	c.mu.Unlock()
	latency := time.Since(start)

	tracing.EndSpan(span, err,
		tracing.SamplesKey.Int(applied.Samples),
		tracing.CreatedKey.Int(applied.Created),
	)
	if err != nil {
		c.fail(latency, err, "apply")
		return err
	}

	c.collector.RecordUpdate(latency, applied.Samples, applied.Created)
	c.publish(Notification{Kind: DataChanged, Status: status, Applied: applied})
	return nil
}

func (c *Channel) markStale(reason ReloadReason, incoming string) {
	c.mu.Lock()
	c.stale = true
	status := c.status
	c.mu.Unlock()

	c.collector.RecordReload()
	c.log.Infow("reload required", "reason", reason.String(), "session_version", c.version, "incoming_version", incoming)
	c.publish(Notification{Kind: ReloadRequired, Status: status, Reason: reason, Version: incoming})
}

func (c *Channel) fail(latency time.Duration, err error, stage string) {
	c.collector.RecordFailure(latency, err)
	c.failLog.Do(func() {
		c.log.Warnw("dropping update", "stage", stage, "kind", metrics.ErrorLabel(err), "error", err)
	})
}

// Run consumes transport events and sends heartbeats until the channel
// goes stale, ctx ends or the transport closes.
func (c *Channel) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.heartbeat)
	defer ticker.Stop()

	events := c.tr.Events()
	for {
		if c.Stale() {
			return ErrReloadRequired
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				if c.Stale() {
					return ErrReloadRequired
				}
				return ErrTransportClosed
			}
			c.dispatch(ctx, ev)
		case <-ticker.C:
			c.sendHeartbeat(ctx)
		}
	}
}

func (c *Channel) dispatch(ctx context.Context, ev transport.Event) {
	switch ev.Kind {
	case transport.EventConnected:
		c.HandleConnect()
	case transport.EventDisconnected:
		c.HandleDisconnect()
	case transport.EventMessage:
		_ = c.HandleMessage(ctx, ev.Data)
	default:
		c.log.Debugw("ignoring transport event", "kind", ev.Kind.String())
	}
}

func (c *Channel) sendHeartbeat(ctx context.Context) {
	if c.Status() != StatusConnected {
		return
	}
	if err := c.tr.Send(ctx, wire.Heartbeat()); err != nil {
		c.log.Debugw("heartbeat failed", "error", err)
	}
}
