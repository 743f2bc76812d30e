package output_test

import (
	"bytes"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/torosent/tankwatch/internal/metrics"
	"github.com/torosent/tankwatch/internal/output"
	"github.com/torosent/tankwatch/internal/store"
)

const htmlSnapshot = `{
	"responses": {"overall": {"quantiles": {"50": [[1, 3], [2, 4]], "99": [[2, 9]]}, "RPS": [[1, 100], [2, null]]}},
	"monitoring": {"web-1": {"CPU": {"user": [[1, 20]]}, "Net": {"recv": [[1, 1024]]}}}
}`

func captured(t *testing.T) output.HTMLReport {
	t.Helper()
	st, err := store.New([]byte(htmlSnapshot))
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	report := output.CaptureReport(st)
	report.Server = "http://tank:8080"
	report.Version = "r-42"
	report.Stats = metrics.Stats{
		Updates:    12,
		Samples:    80,
		Failures:   2,
		P99Latency: 3 * time.Millisecond,
		Errors:     map[string]int{"Schema mismatch": 2},
	}
	return report
}

func TestGenerateHTMLReport(t *testing.T) {
	var buf bytes.Buffer
	if err := output.GenerateHTMLReport(&buf, captured(t)); err != nil {
		t.Fatalf("GenerateHTMLReport() error = %v", err)
	}

	html := buf.String()
	for _, elem := range []string{
		"<!DOCTYPE html>",
		"Tankwatch Report",
		"http://tank:8080",
		"r-42",
		"Response time quantiles",
		"Responses per second",
		"Monitoring: web-1",
		"Dropped Updates",
		"Schema mismatch",
		"uPlot",
		`id="chart-0"`,
		`id="chart-3"`,
	} {
		if !strings.Contains(html, elem) {
			t.Errorf("expected HTML to contain %q", elem)
		}
	}
	if strings.Contains(html, "No response data") {
		t.Error("response charts should be rendered")
	}
}

func TestGenerateHTMLReport_Empty(t *testing.T) {
	var buf bytes.Buffer
	if err := output.GenerateHTMLReport(&buf, output.HTMLReport{}); err != nil {
		t.Fatalf("GenerateHTMLReport() error = %v", err)
	}

	html := buf.String()
	if !strings.Contains(html, "No response data") {
		t.Error("expected empty-state message")
	}
	if strings.Contains(html, "Dropped Updates") {
		t.Error("no failure table expected")
	}
	if strings.Contains(html, "Monitoring:") {
		t.Error("no monitoring section expected")
	}
}

func TestGenerateHTMLReport_EscapesHTMLInData(t *testing.T) {
	st, err := store.New([]byte(`{"monitoring": {"<script>alert('xss')</script>": {"CPU": {"user": [[1, 1]]}}}}`))
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	report := output.CaptureReport(st)

	var buf bytes.Buffer
	if err := output.GenerateHTMLReport(&buf, report); err != nil {
		t.Fatalf("GenerateHTMLReport() error = %v", err)
	}

	html := buf.String()
	if strings.Contains(html, "<script>alert('xss')</script>") {
		t.Error("HTML should escape script tags in hostnames")
	}
	if !strings.Contains(html, "&lt;script&gt;") {
		t.Error("expected escaped hostname in HTML")
	}
}

func TestCaptureReportPageState(t *testing.T) {
	report := captured(t)

	responses, ok := report.PageState["responses"].(map[string]interface{})
	if !ok {
		t.Fatalf("page state = %v, want responses section", report.PageState)
	}
	overall := responses["overall"].(map[string]interface{})
	rps := overall["RPS"].([][2]interface{})
	if len(rps) != 2 {
		t.Fatalf("RPS pairs = %v", rps)
	}
	if rps[1][1] != nil {
		t.Errorf("missing reading should be null, got %v", rps[1][1])
	}
	if rps[0][0] != int64(1) || rps[0][1] != float64(100) {
		t.Errorf("first RPS pair = %v", rps[0])
	}
}

func TestCaptureReportProjections(t *testing.T) {
	report := captured(t)
	if len(report.Quantiles) != 2 || report.Quantiles[0].Name != "99" {
		t.Errorf("quantiles = %+v", report.Quantiles)
	}
	if len(report.Hosts) != 1 || len(report.Hosts[0].Groups) != 2 {
		t.Fatalf("hosts = %+v", report.Hosts)
	}
	if report.Hosts[0].Groups[0].Renderer != store.RendererArea {
		t.Errorf("CPU renderer = %s, want area", report.Hosts[0].Groups[0].Renderer)
	}
	if !math.IsNaN(report.RPS.Series[0].Data[1].Y) {
		t.Errorf("null RPS reading should project as NaN")
	}
}
