package output

import (
	"fmt"
	"io"

	"github.com/torosent/tankwatch/internal/metrics"
)

// Summary is the end-of-run record.
type Summary struct {
	Server    string        `json:"server"`
	Version   string        `json:"report_uuid,omitempty"`
	SessionID string        `json:"session_id,omitempty"`
	Sessions  int           `json:"sessions"`
	Series    int           `json:"series"`
	Stats     metrics.Stats `json:"ingest"`
}

// PrintReport outputs a human-readable summary report.
func PrintReport(w io.Writer, s Summary) {
	stats := s.Stats
	fmt.Fprintln(w, "\n--- Live Report Summary ---")
	fmt.Fprintf(w, "Server:            %s\n", s.Server)
	if s.Version != "" {
		fmt.Fprintf(w, "Report:            %s\n", s.Version)
	}
	if s.SessionID != "" {
		fmt.Fprintf(w, "Session:           %s\n", s.SessionID)
	}
	fmt.Fprintf(w, "Sessions:          %d\n", s.Sessions)
	fmt.Fprintf(w, "Series:            %d\n", s.Series)
	fmt.Fprintf(w, "Duration:          %s\n", stats.Duration)
	fmt.Fprintln(w, "\nIngest:")
	fmt.Fprintf(w, "  Messages:        %d (%d bytes)\n", stats.Messages, stats.Bytes)
	fmt.Fprintf(w, "  Updates:         %d\n", stats.Updates)
	fmt.Fprintf(w, "  Samples:         %d\n", stats.Samples)
	fmt.Fprintf(w, "  New series:      %d\n", stats.Created)
	fmt.Fprintf(w, "  Reloads:         %d\n", stats.Reloads)
	fmt.Fprintf(w, "  Failures:        %d\n", stats.Failures)
	fmt.Fprintf(w, "  Updates/sec:     %.2f\n", stats.UpdatesPerSec)
	fmt.Fprintln(w, "\nApply latency:")
	fmt.Fprintf(w, "  Min:             %s\n", stats.MinLatency)
	fmt.Fprintf(w, "  Max:             %s\n", stats.MaxLatency)
	fmt.Fprintf(w, "  Mean:            %s\n", stats.MeanLatency)
	fmt.Fprintf(w, "  P50:             %s\n", stats.P50Latency)
	fmt.Fprintf(w, "  P90:             %s\n", stats.P90Latency)
	fmt.Fprintf(w, "  P99:             %s\n", stats.P99Latency)
	if len(stats.Errors) > 0 {
		fmt.Fprintln(w, "\nDropped updates:")
		writeErrors(w, stats.Errors, "  ")
	}
}

func writeErrors(w io.Writer, errs map[string]int, indent string) {
	rows := metrics.FlattenErrors(errs)
	if len(rows) == 0 {
		fmt.Fprintf(w, "%sNone\n", indent)
		return
	}
	for _, row := range rows {
		fmt.Fprintf(w, "%s%s: %d\n", indent, row.Label, row.Count)
	}
}
