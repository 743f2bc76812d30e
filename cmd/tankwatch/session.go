package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/torosent/tankwatch/internal/config"
	"github.com/torosent/tankwatch/internal/dashboard"
	"github.com/torosent/tankwatch/internal/live"
	"github.com/torosent/tankwatch/internal/metrics"
	"github.com/torosent/tankwatch/internal/output"
	"github.com/torosent/tankwatch/internal/snapshot"
	"github.com/torosent/tankwatch/internal/store"
	"github.com/torosent/tankwatch/internal/tracing"
	"github.com/torosent/tankwatch/internal/transport"
)

// app carries state across the sessions of one invocation. A session
// lasts from one snapshot fetch to the next reload.
type app struct {
	cfg       *config.Config
	log       *zap.SugaredLogger
	tracer    trace.Tracer
	propagate bool
	collector *metrics.Collector
	sessionID string
	started   time.Time

	dash     *dashboard.Dashboard
	progress *output.ProgressReporter
	stream   *output.StreamWriter

	sessions int
	series   int
	report   output.HTMLReport
}

// runLive fetches the snapshot, follows the live stream and starts over
// whenever the channel asks for a reload.
func (a *app) runLive(ctx context.Context) error {
	snapURL, err := a.cfg.SnapshotURL()
	if err != nil {
		return err
	}
	wsURL, err := a.cfg.WebSocketURL()
	if err != nil {
		return err
	}

	fetcher := snapshot.Fetcher{
		Client:    &http.Client{Timeout: a.cfg.FetchTimeout},
		Headers:   a.cfg.HTTPHeaders(),
		Tracer:    a.tracer,
		Propagate: a.propagate,
	}

	reloads := 0
	for {
		page, err := a.fetchSnapshot(ctx, fetcher, snapURL)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		err = a.session(ctx, page, wsURL)
		switch {
		case errors.Is(err, live.ErrReloadRequired):
			reloads++
			if a.cfg.MaxReloads > 0 && reloads > a.cfg.MaxReloads {
				return fmt.Errorf("reload limit reached (%d)", a.cfg.MaxReloads)
			}
			a.log.Infow("reloading snapshot", "reloads", reloads)
		case ctx.Err() != nil:
			return nil
		default:
			return err
		}
	}
}

func (a *app) fetchSnapshot(ctx context.Context, f snapshot.Fetcher, url string) (snapshot.Page, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = a.cfg.Reconnect.Initial
	b.MaxInterval = a.cfg.Reconnect.Max

	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithNotify(func(err error, wait time.Duration) {
			a.log.Warnw("snapshot fetch failed", "url", url, "retry_in", wait, "error", err)
		}),
	}
	if n := a.cfg.Reconnect.MaxAttempts; n > 0 {
		opts = append(opts, backoff.WithMaxTries(uint(n)))
	}

	return backoff.Retry(ctx, func() (snapshot.Page, error) {
		page, err := f.Fetch(ctx, url)
		if err != nil && !retryable(err) {
			return snapshot.Page{}, backoff.Permanent(err)
		}
		return page, err
	}, opts...)
}

// retryable reports whether a snapshot fetch failure may succeed later.
func retryable(err error) bool {
	if errors.Is(err, snapshot.ErrInvalid) {
		return false
	}
	var httpErr *snapshot.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= 500 || httpErr.StatusCode == http.StatusTooManyRequests
	}
	return true
}

// session runs one live channel over a fresh store until it ends.
func (a *app) session(ctx context.Context, page snapshot.Page, wsURL string) error {
	st, err := page.Store(storeOptions(a.cfg)...)
	if err != nil {
		return fmt.Errorf("build store: %w", err)
	}
	a.sessions++
	log := a.log.With("report", page.Version, "attempt", a.sessions)
	log.Infow("session started", "series", len(st.Paths()))
	if a.stream != nil {
		if err := a.stream.WriteSnapshot(page.Version, st); err != nil {
			log.Warnw("json output failed", "error", err)
		}
	}

	ctx, span := tracing.StartSession(ctx, a.tracer, page.Version, a.sessions)

	headers := a.cfg.HTTPHeaders()
	if a.propagate {
		tracing.InjectHTTPHeaders(ctx, headers)
	}
	tr := transport.NewReconnecting(transport.Config{
		URL:              wsURL,
		Headers:          headers,
		HandshakeTimeout: a.cfg.HandshakeTimeout,
		MaxMessageSize:   int64(a.cfg.MaxMessageSize),
		InitialBackoff:   a.cfg.Reconnect.Initial,
		MaxBackoff:       a.cfg.Reconnect.Max,
		MaxAttempts:      a.cfg.Reconnect.MaxAttempts,
		Logger:           log,
	})
	ch := live.New(st, page.Version, tr, live.Options{
		HeartbeatInterval: a.cfg.HeartbeatInterval,
		Logger:            log,
		Tracer:            a.tracer,
		Collector:         a.collector,
	})
	detach := a.attach(ch, page.Version)

	trCtx, stopTransport := context.WithCancel(ctx)
	trDone := make(chan error, 1)
	go func() { trDone <- tr.Run(trCtx) }()

	err = ch.Run(ctx)
	stopTransport()
	trErr := <-trDone
	detach()

	ch.View(func(st *store.Store) {
		a.capture(page.Version, st)
	})
	sock := tr.Metrics()
	log.Infow("session ended",
		"reason", err,
		"connects", sock.Connects,
		"frames_received", sock.FramesReceived,
		"bytes_received", sock.BytesReceived,
	)

	if errors.Is(err, live.ErrTransportClosed) && trErr != nil && ctx.Err() == nil {
		err = fmt.Errorf("transport: %w", trErr)
	}
	var spanErr error
	if !errors.Is(err, live.ErrReloadRequired) && ctx.Err() == nil {
		spanErr = err
	}
	tracing.EndSpan(span, spanErr)
	return err
}

// runOffline renders a saved snapshot. With a dashboard it stays up until
// the user quits or the duration ends.
func (a *app) runOffline(ctx context.Context) error {
	page, err := snapshot.Load(a.cfg.SnapshotFile)
	if err != nil {
		return err
	}
	st, err := page.Store(storeOptions(a.cfg)...)
	if err != nil {
		return fmt.Errorf("build store: %w", err)
	}
	a.sessions = 1
	a.capture(page.Version, st)

	if a.stream != nil {
		if err := a.stream.WriteSnapshot(page.Version, st); err != nil {
			return fmt.Errorf("write snapshot: %w", err)
		}
	}
	if a.dash != nil {
		ch := live.New(st, page.Version, idleTransport{}, live.Options{Logger: a.log, Collector: a.collector})
		detach := a.dash.Attach(ch, a.sessionInfo(page.Version))
		defer detach()
		<-ctx.Done()
	}
	return nil
}

func (a *app) capture(version string, st *store.Store) {
	a.report = output.CaptureReport(st)
	a.report.Version = version
	a.series = len(st.Paths())
}

// attach connects every active renderer to ch.
func (a *app) attach(ch *live.Channel, version string) (detach func()) {
	var detachers []func()
	if a.dash != nil {
		detachers = append(detachers, a.dash.Attach(ch, a.sessionInfo(version)))
	}
	if a.progress != nil {
		detachers = append(detachers, a.progress.Attach(ch))
	}
	if a.stream != nil {
		detachers = append(detachers, a.stream.Attach(ch))
	}
	return func() {
		for _, d := range detachers {
			d()
		}
	}
}

func (a *app) sessionInfo(version string) dashboard.SessionInfo {
	reloads := a.sessions - 1
	if reloads < 0 {
		reloads = 0
	}
	return dashboard.SessionInfo{
		Server:     a.source(),
		Version:    version,
		SessionID:  a.sessionID,
		Reloads:    reloads,
		ConfigFile: a.cfg.ConfigFile,
	}
}

func (a *app) source() string {
	if a.cfg.Server != "" {
		return a.cfg.Server
	}
	return a.cfg.SnapshotFile
}

// idleTransport backs the channel of an offline session. It never connects.
type idleTransport struct{}

func (idleTransport) Events() <-chan transport.Event { return nil }

func (idleTransport) Send(context.Context, []byte) error { return transport.ErrNotConnected }
