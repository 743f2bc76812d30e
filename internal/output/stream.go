package output

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/torosent/tankwatch/internal/live"
	"github.com/torosent/tankwatch/internal/store"
)

// StreamEvent is one line of the NDJSON stream.
type StreamEvent struct {
	Time       time.Time                `json:"time"`
	Kind       string                   `json:"kind"`
	Status     string                   `json:"status,omitempty"`
	Version    string                   `json:"version,omitempty"`
	Reason     string                   `json:"reason,omitempty"`
	Applied    *store.Applied           `json:"applied,omitempty"`
	Quantiles  []store.SeriesDescriptor `json:"quantiles,omitempty"`
	RPS        *store.ChartGroup        `json:"rps,omitempty"`
	Load       *store.ChartGroup        `json:"load,omitempty"`
	Monitoring []store.HostCharts       `json:"monitoring,omitempty"`
	Summary    *Summary                 `json:"summary,omitempty"`
}

// StreamWriter writes channel notifications as newline-delimited JSON.
// Data notifications carry the full series projections.
type StreamWriter struct {
	mu  sync.Mutex
	enc *json.Encoder
	err error
	now func() time.Time
}

// NewStreamWriter creates a StreamWriter on w.
func NewStreamWriter(w io.Writer) *StreamWriter {
	return &StreamWriter{enc: json.NewEncoder(w), now: time.Now}
}

// Attach subscribes to ch. The returned func detaches.
func (s *StreamWriter) Attach(ch *live.Channel) (detach func()) {
	return ch.Subscribe(func(n live.Notification) {
		ev := StreamEvent{
			Time:   s.now().UTC(),
			Kind:   n.Kind.String(),
			Status: n.Status.String(),
		}
		switch n.Kind {
		case live.DataChanged:
			applied := n.Applied
			ev.Applied = &applied
			ch.View(ev.project)
		case live.ReloadRequired:
			ev.Reason = n.Reason.String()
			ev.Version = n.Version
		}
		_ = s.Write(ev)
	})
}

// WriteSnapshot records the initial state of a session.
func (s *StreamWriter) WriteSnapshot(version string, st *store.Store) error {
	ev := StreamEvent{Time: s.now().UTC(), Kind: "snapshot", Version: version}
	ev.project(st)
	return s.Write(ev)
}

// WriteSummary records the end-of-run summary.
func (s *StreamWriter) WriteSummary(sum Summary) error {
	return s.Write(StreamEvent{Time: s.now().UTC(), Kind: "summary", Summary: &sum})
}

func (ev *StreamEvent) project(st *store.Store) {
	ev.Quantiles = st.ProjectQuantiles()
	rps, load := st.ProjectRPS(), st.ProjectLoad()
	ev.RPS = &rps
	if len(load.Series) > 0 {
		ev.Load = &load
	}
	ev.Monitoring = st.ProjectMonitoring()
}

// Write encodes one event. After the first failure every call returns it.
func (s *StreamWriter) Write(ev StreamEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.err = s.enc.Encode(ev)
	return s.err
}

// Err returns the first write error.
func (s *StreamWriter) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
