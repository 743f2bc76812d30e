package output

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/torosent/tankwatch/internal/live"
	"github.com/torosent/tankwatch/internal/metrics"
)

// ProgressReporter displays a single-line live status.
type ProgressReporter struct {
	collector *metrics.Collector
	ticker    *time.Ticker
	done      chan struct{}
	finished  chan struct{}
	writer    io.Writer
	active    atomic.Bool
	start     time.Time
	status    atomic.Pointer[string]
}

// NewProgressReporter creates a progress reporter that updates at the given interval.
func NewProgressReporter(collector *metrics.Collector, interval time.Duration, writer io.Writer) *ProgressReporter {
	if writer == nil {
		writer = io.Discard
	}
	p := &ProgressReporter{
		collector: collector,
		ticker:    time.NewTicker(interval),
		done:      make(chan struct{}),
		finished:  make(chan struct{}),
		writer:    writer,
		start:     time.Now(),
	}
	p.setStatus(live.StatusDisconnected.String())
	return p
}

func (p *ProgressReporter) setStatus(s string) { p.status.Store(&s) }

// Attach follows a session's connection state. The returned func detaches.
func (p *ProgressReporter) Attach(ch *live.Channel) (detach func()) {
	p.setStatus(ch.Status().String())
	return ch.Subscribe(func(n live.Notification) {
		switch n.Kind {
		case live.StatusChanged:
			p.setStatus(n.Status.String())
		case live.ReloadRequired:
			p.setStatus("Reloading")
		}
	})
}

// Start begins displaying progress updates in a background goroutine.
func (p *ProgressReporter) Start() {
	if !p.active.CompareAndSwap(false, true) {
		return
	}
	go p.run()
}

// Stop halts progress updates.
func (p *ProgressReporter) Stop() {
	if p.active.CompareAndSwap(true, false) {
		close(p.done)
		p.ticker.Stop()
		<-p.finished
	}
}

func (p *ProgressReporter) run() {
	defer close(p.finished)
	for {
		select {
		case <-p.ticker.C:
			fmt.Fprint(p.writer, p.line())
		case <-p.done:
			return
		}
	}
}

func (p *ProgressReporter) line() string {
	stats := p.collector.Stats(time.Since(p.start))
	line := fmt.Sprintf("\r%s | Updates: %d | Samples: %d | Failures: %d | %.1f upd/s",
		*p.status.Load(), stats.Updates, stats.Samples, stats.Failures, stats.UpdatesPerSec)
	if stats.Reloads > 0 {
		line += fmt.Sprintf(" | Reloads: %d", stats.Reloads)
	}
	if rows := metrics.FlattenErrors(stats.Errors); len(rows) > 0 {
		line += fmt.Sprintf(" | Top failure: %s x%d", rows[0].Label, rows[0].Count)
	}
	return line
}
