package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/torosent/tankwatch/internal/config"
	"github.com/torosent/tankwatch/internal/dashboard"
	"github.com/torosent/tankwatch/internal/logger"
	"github.com/torosent/tankwatch/internal/metrics"
	"github.com/torosent/tankwatch/internal/output"
	"github.com/torosent/tankwatch/internal/store"
	"github.com/torosent/tankwatch/internal/tracing"
)

const (
	progressInterval = time.Second
	shutdownTimeout  = 5 * time.Second
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	return execute(ctx, args, os.Stdout, os.Stderr)
}

// execute runs one tankwatch invocation. Reports go to stdout, logs to stderr.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	loader := config.NewLoader()
	cfg, err := loader.Load(args)
	if err != nil {
		if errors.Is(err, config.ErrHelpRequested) {
			return nil
		}
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := logger.Nop()
	if !cfg.Dashboard {
		// with a dashboard, stderr belongs to the terminal UI
		if log, err = logger.NewWithWriter(cfg.LogLevel, stderr); err != nil {
			return fmt.Errorf("logger: %w", err)
		}
	}
	defer logger.Sync(log)

	sessionID := ulid.Make().String()
	log = log.With("session", sessionID)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if cfg.Duration > 0 {
		ctx, cancel = context.WithTimeout(ctx, cfg.Duration)
		defer cancel()
	}

	tp, err := tracing.Init(ctx, cfg.Tracing,
		tracing.WithSessionID(sessionID),
		tracing.WithServer(cfg.Server),
	)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	if tp.Enabled() {
		log.Infow("exporting traces", "protocol", cfg.Tracing.Protocol, "propagate", tp.ShouldPropagate())
	}
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		defer done()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Warnw("tracing shutdown failed", "error", err)
		}
	}()

	a := &app{
		cfg:       cfg,
		log:       log,
		tracer:    tp.Tracer(),
		propagate: tp.ShouldPropagate(),
		collector: metrics.NewCollector(),
		sessionID: sessionID,
		started:   time.Now(),
	}

	if cfg.JSONOutput {
		a.stream = output.NewStreamWriter(stdout)
	}
	if cfg.Dashboard {
		dash, err := dashboard.New(a.sessionInfo(""), cancel)
		if err != nil {
			return err
		}
		dash.Start()
		a.dash = dash
	}
	if !cfg.JSONOutput && !cfg.Dashboard {
		a.progress = output.NewProgressReporter(a.collector, progressInterval, stderr)
		a.progress.Start()
	}

	var runErr error
	if cfg.Live() {
		runErr = a.runLive(ctx)
	} else {
		runErr = a.runOffline(ctx)
	}

	a.stopRenderers(stderr)
	if err := a.finish(stdout); err != nil {
		return err
	}
	return runErr
}

// stopRenderers tears down the interactive renderers before the final report.
func (a *app) stopRenderers(stderr io.Writer) {
	if a.dash != nil {
		a.dash.Stop()
	}
	if a.progress != nil {
		a.progress.Stop()
		fmt.Fprintln(stderr)
	}
}

// finish writes the HTML report and the summary.
func (a *app) finish(stdout io.Writer) error {
	summary := output.Summary{
		Server:    a.source(),
		Version:   a.report.Version,
		SessionID: a.sessionID,
		Sessions:  a.sessions,
		Series:    a.series,
		Stats:     a.collector.Stats(time.Since(a.started)),
	}

	if a.cfg.HTMLOutput != "" {
		report := a.report
		report.Server = summary.Server
		report.SessionID = a.sessionID
		report.Stats = summary.Stats
		if err := writeHTMLReport(a.cfg.HTMLOutput, report); err != nil {
			return err
		}
		a.log.Infow("html report written", "path", a.cfg.HTMLOutput)
	}

	if a.stream != nil {
		if err := a.stream.WriteSummary(summary); err != nil {
			return fmt.Errorf("write summary: %w", err)
		}
		return nil
	}
	output.PrintReport(stdout, summary)
	return nil
}

func writeHTMLReport(path string, report output.HTMLReport) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create html report: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return output.GenerateHTMLReport(f, report)
}

func storeOptions(cfg *config.Config) []store.Option {
	policy := store.MissingCreate
	if cfg.MissingLeaves == config.MissingLeavesFail {
		policy = store.MissingFail
	}
	return []store.Option{
		store.WithMissingPolicy(policy),
		store.WithAreaGroups(cfg.AreaGroups...),
	}
}
