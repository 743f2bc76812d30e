package metrics

import (
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Collector records live ingest metrics in a thread-safe manner.
type Collector struct {
	mu           sync.Mutex
	hist         *hdrhistogram.Histogram
	messages     int64
	bytes        int64
	updates      int64
	reloads      int64
	failures     int64
	samples      int64
	created      int64
	minLatency   time.Duration
	maxLatency   time.Duration
	sumLatency   time.Duration
	errorsByType map[string]int64
	lastUpdate   time.Time
}

// Stats represents aggregated ingest metrics.
type Stats struct {
	Messages      int64         `json:"messages"`
	Bytes         int64         `json:"bytes"`
	Updates       int64         `json:"updates"`
	Reloads       int64         `json:"reloads"`
	Failures      int64         `json:"failures"`
	Samples       int64         `json:"samples"`
	Created       int64         `json:"created_series"`
	MinLatency    time.Duration `json:"-"`
	MaxLatency    time.Duration `json:"-"`
	MeanLatency   time.Duration `json:"-"`
	P50Latency    time.Duration `json:"-"`
	P90Latency    time.Duration `json:"-"`
	P99Latency    time.Duration `json:"-"`
	Duration      time.Duration `json:"-"`
	UpdatesPerSec float64       `json:"updates_per_sec"`
	LastUpdate    time.Time     `json:"last_update,omitempty"`

	// JSON-friendly millisecond fields.
	MinLatencyMs  float64        `json:"min_apply_ms"`
	MaxLatencyMs  float64        `json:"max_apply_ms"`
	MeanLatencyMs float64        `json:"mean_apply_ms"`
	P50LatencyMs  float64        `json:"p50_apply_ms"`
	P90LatencyMs  float64        `json:"p90_apply_ms"`
	P99LatencyMs  float64        `json:"p99_apply_ms"`
	DurationMs    float64        `json:"duration_ms"`
	Errors        map[string]int `json:"errors,omitempty"`
}

func NewCollector() *Collector {
	// Track apply latencies from 1µs up to 60s with 3 significant figures.
	h := hdrhistogram.New(1, 60_000_000, 3)
	return &Collector{
		hist:         h,
		errorsByType: make(map[string]int64),
	}
}

// RecordMessage counts one frame received from the server.
func (c *Collector) RecordMessage(size int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages++
	c.bytes += int64(size)
}

// RecordUpdate records a batch that was merged into the store.
func (c *Collector) RecordUpdate(latency time.Duration, samples, created int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.recordLatency(latency)
	c.updates++
	c.samples += int64(samples)
	c.created += int64(created)
	c.lastUpdate = time.Now()
}

// RecordReload counts a reload request, either explicit or from a version change.
func (c *Collector) RecordReload() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reloads++
}

// RecordFailure records a frame that could not be applied.
func (c *Collector) RecordFailure(latency time.Duration, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.recordLatency(latency)
	c.failures++
	c.errorsByType[ErrorLabel(err)]++
}

func (c *Collector) recordLatency(latency time.Duration) {
	if latency > 0 {
		us := latency.Microseconds()
		if us < c.hist.LowestTrackableValue() {
			us = c.hist.LowestTrackableValue()
		}
		if us > c.hist.HighestTrackableValue() {
			us = c.hist.HighestTrackableValue()
		}
		_ = c.hist.RecordValue(us)
	}
	c.sumLatency += latency

	if c.minLatency == 0 || latency < c.minLatency {
		c.minLatency = latency
	}
	if latency > c.maxLatency {
		c.maxLatency = latency
	}
}

// Stats computes and returns current aggregated statistics.
func (c *Collector) Stats(elapsed time.Duration) Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := Stats{
		Messages:   c.messages,
		Bytes:      c.bytes,
		Updates:    c.updates,
		Reloads:    c.reloads,
		Failures:   c.failures,
		Samples:    c.samples,
		Created:    c.created,
		MinLatency: c.minLatency,
		MaxLatency: c.maxLatency,
		LastUpdate: c.lastUpdate,
	}

	if timed := c.updates + c.failures; timed > 0 {
		stats.MeanLatency = time.Duration(int64(c.sumLatency) / timed)
	}

	if c.hist.TotalCount() > 0 {
		stats.P50Latency = time.Duration(c.hist.ValueAtQuantile(50)) * time.Microsecond
		stats.P90Latency = time.Duration(c.hist.ValueAtQuantile(90)) * time.Microsecond
		stats.P99Latency = time.Duration(c.hist.ValueAtQuantile(99)) * time.Microsecond
	}

	stats.MinLatencyMs = toMs(stats.MinLatency)
	stats.MaxLatencyMs = toMs(stats.MaxLatency)
	stats.MeanLatencyMs = toMs(stats.MeanLatency)
	stats.P50LatencyMs = toMs(stats.P50Latency)
	stats.P90LatencyMs = toMs(stats.P90Latency)
	stats.P99LatencyMs = toMs(stats.P99Latency)

	stats.Duration = elapsed
	stats.DurationMs = toMs(elapsed)
	if elapsed > 0 && c.updates > 0 {
		stats.UpdatesPerSec = float64(c.updates) / elapsed.Seconds()
	}

	if len(c.errorsByType) > 0 {
		stats.Errors = make(map[string]int, len(c.errorsByType))
		for k, v := range c.errorsByType {
			stats.Errors[k] = int(v)
		}
	}

	return stats
}

// GetErrorBreakdown returns a map of error labels to their counts.
func (c *Collector) GetErrorBreakdown() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := make(map[string]int)
	for k, v := range c.errorsByType {
		result[k] = int(v)
	}
	return result
}

func toMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
