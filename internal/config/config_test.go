package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/torosent/tankwatch/internal/config"
)

func TestParseFlagsDefaults(t *testing.T) {
	loader := config.NewLoader()

	cfg, err := loader.Load([]string{})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server != "" {
		t.Errorf("Server = %q, want empty", cfg.Server)
	}
	if cfg.HeartbeatInterval != 3*time.Second {
		t.Errorf("HeartbeatInterval = %s, want 3s", cfg.HeartbeatInterval)
	}
	if cfg.WSPath != "/ws" {
		t.Errorf("WSPath = %q, want /ws", cfg.WSPath)
	}
	if cfg.SnapshotPath != "/data.json" {
		t.Errorf("SnapshotPath = %q, want /data.json", cfg.SnapshotPath)
	}
	if cfg.MissingLeaves != config.MissingLeavesCreate {
		t.Errorf("MissingLeaves = %q, want create", cfg.MissingLeaves)
	}
	if len(cfg.AreaGroups) != 2 || cfg.AreaGroups[0] != "CPU" || cfg.AreaGroups[1] != "Memory" {
		t.Errorf("AreaGroups = %v, want [CPU Memory]", cfg.AreaGroups)
	}
	if cfg.Dashboard || cfg.JSONOutput {
		t.Errorf("output modes should be off by default")
	}
	if cfg.Tracing.Enabled() && os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") == "" {
		t.Errorf("tracing should be disabled by default")
	}
}

func TestLoadConfigFileJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{
		"server": "http://tank.local:8080",
		"heartbeatInterval": "2s",
		"headers": {"X-Token": "file"},
		"missingLeaves": "fail",
		"htmlOutput": "report.html",
		"reconnect": {"initial": "1s", "max": "10s"}
	}`), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	loader := config.NewLoader()
	cfg, err := loader.Load([]string{"--config", path, "--heartbeat-interval", "750ms", "--header", "X-Extra=flag"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server != "http://tank.local:8080" {
		t.Errorf("Server = %q, want http://tank.local:8080", cfg.Server)
	}
	if cfg.HeartbeatInterval != 750*time.Millisecond {
		t.Errorf("HeartbeatInterval = %s, flag should win over file", cfg.HeartbeatInterval)
	}
	if cfg.Headers["X-Token"] != "file" || cfg.Headers["X-Extra"] != "flag" {
		t.Errorf("Headers = %v, want file and flag headers merged", cfg.Headers)
	}
	if cfg.MissingLeaves != config.MissingLeavesFail {
		t.Errorf("MissingLeaves = %q, want fail", cfg.MissingLeaves)
	}
	if cfg.HTMLOutput != "report.html" {
		t.Errorf("HTMLOutput = %q, want report.html", cfg.HTMLOutput)
	}
	if cfg.Reconnect.Initial != time.Second || cfg.Reconnect.Max != 10*time.Second {
		t.Errorf("Reconnect = %+v", cfg.Reconnect)
	}
	if cfg.ConfigFile != path {
		t.Errorf("ConfigFile = %q, want %q", cfg.ConfigFile, path)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoadConfigFileYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(`
server: https://tank.example.com/report
area_groups:
  - CPU
  - Disk
dashboard: true
tracing:
  endpoint: localhost:4318
  protocol: http
  sample_rate: 0.5
`), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := config.NewLoader().Load([]string{"--config", path})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if !cfg.Dashboard {
		t.Error("Dashboard = false, want true")
	}
	if len(cfg.AreaGroups) != 2 || cfg.AreaGroups[1] != "Disk" {
		t.Errorf("AreaGroups = %v, want [CPU Disk]", cfg.AreaGroups)
	}
	if cfg.Tracing.Protocol != "http" || cfg.Tracing.SampleRate != 0.5 {
		t.Errorf("Tracing = %+v", cfg.Tracing)
	}
	if !cfg.Tracing.ShouldPropagate() {
		t.Error("ShouldPropagate() = false, want true when an endpoint is set")
	}

	ws, err := cfg.WebSocketURL()
	if err != nil {
		t.Fatalf("WebSocketURL() error = %v", err)
	}
	if ws != "wss://tank.example.com/report/ws" {
		t.Errorf("WebSocketURL() = %q", ws)
	}
}

func TestLoadMissingConfigFile(t *testing.T) {
	_, err := config.NewLoader().Load([]string{"--config", filepath.Join(t.TempDir(), "absent.json")})
	if err == nil {
		t.Fatal("Load() error = nil, want error for missing file")
	}
}

func TestLoadHelp(t *testing.T) {
	_, err := config.NewLoader().Load([]string{"--help"})
	if !errors.Is(err, config.ErrHelpRequested) {
		t.Fatalf("Load(--help) error = %v, want ErrHelpRequested", err)
	}
}

func TestEndpointURLs(t *testing.T) {
	tests := []struct {
		server   string
		wantWS   string
		wantSnap string
	}{
		{"http://localhost:8080", "ws://localhost:8080/ws", "http://localhost:8080/data.json"},
		{"https://host/sub", "wss://host/sub/ws", "https://host/sub/data.json"},
		{"ws://host:9000", "ws://host:9000/ws", "http://host:9000/data.json"},
	}
	for _, tt := range tests {
		cfg := config.Defaults()
		cfg.Server = tt.server

		ws, err := cfg.WebSocketURL()
		if err != nil {
			t.Fatalf("WebSocketURL(%q) error = %v", tt.server, err)
		}
		if ws != tt.wantWS {
			t.Errorf("WebSocketURL(%q) = %q, want %q", tt.server, ws, tt.wantWS)
		}
		snap, err := cfg.SnapshotURL()
		if err != nil {
			t.Fatalf("SnapshotURL(%q) error = %v", tt.server, err)
		}
		if snap != tt.wantSnap {
			t.Errorf("SnapshotURL(%q) = %q, want %q", tt.server, snap, tt.wantSnap)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{"valid live", func(c *config.Config) { c.Server = "http://x" }, ""},
		{"valid offline", func(c *config.Config) { c.SnapshotFile = "data.json" }, ""},
		{"no source", func(c *config.Config) {}, "server or snapshot-file is required"},
		{"bad scheme", func(c *config.Config) { c.Server = "ftp://x" }, "unsupported scheme"},
		{"zero heartbeat", func(c *config.Config) { c.Server = "http://x"; c.HeartbeatInterval = 0 }, "heartbeat_interval must be > 0"},
		{"exclusive outputs", func(c *config.Config) { c.Server = "http://x"; c.Dashboard = true; c.JSONOutput = true }, "mutually exclusive"},
		{"bad policy", func(c *config.Config) { c.Server = "http://x"; c.MissingLeaves = "ignore" }, "missing_leaves"},
		{"backoff order", func(c *config.Config) { c.Server = "http://x"; c.Reconnect.Max = time.Millisecond }, "max must be >= initial"},
		{"bad log level", func(c *config.Config) { c.Server = "http://x"; c.LogLevel = "loud" }, "log_level"},
		{"bad sample rate", func(c *config.Config) { c.Server = "http://x"; c.Tracing.SampleRate = 2 }, "sample_rate"},
		{"bad protocol", func(c *config.Config) { c.Server = "http://x"; c.Tracing.Protocol = "thrift" }, "protocol"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Defaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() error = nil, want %q", tt.wantErr)
			}
			var verr config.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Validate() error type = %T, want ValidationError", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}
