package clientmetrics

import (
	"sync"
	"time"
)

// ClientMetrics tracks connection and frame statistics for the live socket.
// Counters survive reconnects; only the connection start time is cleared.
type ClientMetrics struct {
	mu           sync.Mutex
	connectTime  time.Time
	lastReceived time.Time
	connects     int64
	framesSent   int64
	framesRecv   int64
	bytesSent    int64
	bytesRecv    int64
	errors       int64
}

// New creates a new ClientMetrics instance.
func New() *ClientMetrics {
	return &ClientMetrics{}
}

// MarkConnected records the connection time and counts the connect.
func (m *ClientMetrics) MarkConnected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectTime = time.Now()
	m.connects++
}

// IncrementSent counts one outgoing frame.
func (m *ClientMetrics) IncrementSent(bytes int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.framesSent++
	m.bytesSent += bytes
}

// IncrementReceived counts one incoming frame.
func (m *ClientMetrics) IncrementReceived(bytes int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.framesRecv++
	m.bytesRecv += bytes
	m.lastReceived = time.Now()
}

// IncrementErrors increments the error counter.
func (m *ClientMetrics) IncrementErrors() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors++
}

// Reset clears the connection time (used when disconnecting).
func (m *ClientMetrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectTime = time.Time{}
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Connected          bool          `json:"connected"`
	ConnectionDuration time.Duration `json:"connection_duration"`
	Connects           int64         `json:"connects"`
	FramesSent         int64         `json:"frames_sent"`
	FramesReceived     int64         `json:"frames_received"`
	BytesSent          int64         `json:"bytes_sent"`
	BytesReceived      int64         `json:"bytes_received"`
	Errors             int64         `json:"errors"`
	LastReceived       time.Time     `json:"last_received,omitempty"`
}

// Reconnects is the number of connects after the first one.
func (s Snapshot) Reconnects() int64 {
	if s.Connects <= 1 {
		return 0
	}
	return s.Connects - 1
}

// Snapshot returns a consistent snapshot of all metrics.
func (m *ClientMetrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := Snapshot{
		Connected:      !m.connectTime.IsZero(),
		Connects:       m.connects,
		FramesSent:     m.framesSent,
		FramesReceived: m.framesRecv,
		BytesSent:      m.bytesSent,
		BytesReceived:  m.bytesRecv,
		Errors:         m.errors,
		LastReceived:   m.lastReceived,
	}
	if snap.Connected {
		snap.ConnectionDuration = time.Since(m.connectTime)
	}
	return snap
}
