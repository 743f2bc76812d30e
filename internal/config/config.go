package config

import (
	"fmt"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
)

// MissingLeaves selects how updates for series absent from the snapshot are handled.
type MissingLeaves string

const (
	MissingLeavesCreate MissingLeaves = "create"
	MissingLeavesFail   MissingLeaves = "fail"
)

const (
	DefaultWSPath            = "/ws"
	DefaultSnapshotPath      = "/data.json"
	DefaultHeartbeatInterval = 3 * time.Second
)

type Config struct {
	Server            string            `mapstructure:"server"`
	SnapshotFile      string            `mapstructure:"snapshot_file"`
	SnapshotPath      string            `mapstructure:"snapshot_path"`
	WSPath            string            `mapstructure:"ws_path"`
	Headers           map[string]string `mapstructure:"headers"`
	HeartbeatInterval time.Duration     `mapstructure:"heartbeat_interval"`
	HandshakeTimeout  time.Duration     `mapstructure:"handshake_timeout"`
	FetchTimeout      time.Duration     `mapstructure:"fetch_timeout"`
	Reconnect         ReconnectConfig   `mapstructure:"reconnect"`
	MaxMessageSize    int               `mapstructure:"max_message_size"`
	MissingLeaves     MissingLeaves     `mapstructure:"missing_leaves"`
	AreaGroups        []string          `mapstructure:"area_groups"`
	Duration          time.Duration     `mapstructure:"duration"`
	MaxReloads        int               `mapstructure:"max_reloads"`
	JSONOutput        bool              `mapstructure:"json_output"`
	Dashboard         bool              `mapstructure:"dashboard"`
	HTMLOutput        string            `mapstructure:"html_output"`
	LogLevel          string            `mapstructure:"log_level"`
	Tracing           TracingConfig     `mapstructure:"tracing"`
	ConfigFile        string            `mapstructure:"-"`
}

type ReconnectConfig struct {
	Initial     time.Duration `mapstructure:"initial"`
	Max         time.Duration `mapstructure:"max"`
	MaxAttempts int           `mapstructure:"max_attempts"` // 0 retries forever
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Protocol    string  `mapstructure:"protocol"` // "grpc" or "http"
	ServiceName string  `mapstructure:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	Insecure    bool    `mapstructure:"insecure"`
	Propagate   *bool   `mapstructure:"propagate"`
}

// Enabled reports whether an exporter endpoint is configured.
func (t TracingConfig) Enabled() bool {
	return strings.TrimSpace(t.Endpoint) != "" || os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != ""
}

// ShouldPropagate reports whether trace context is injected into outgoing
// requests. Defaults to Enabled.
func (t TracingConfig) ShouldPropagate() bool {
	if t.Propagate != nil {
		return *t.Propagate
	}
	return t.Enabled()
}

// Live reports whether a report server is configured.
func (c Config) Live() bool {
	return strings.TrimSpace(c.Server) != ""
}

// SnapshotURL is the page-state endpoint of the report server.
func (c Config) SnapshotURL() (string, error) {
	return c.endpoint(false, c.SnapshotPath, DefaultSnapshotPath)
}

// WebSocketURL is the push endpoint of the report server.
func (c Config) WebSocketURL() (string, error) {
	return c.endpoint(true, c.WSPath, DefaultWSPath)
}

func (c Config) endpoint(ws bool, p, fallback string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(c.Server))
	if err != nil {
		return "", fmt.Errorf("server: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "ws":
		u.Scheme = "http"
		if ws {
			u.Scheme = "ws"
		}
	case "https", "wss":
		u.Scheme = "https"
		if ws {
			u.Scheme = "wss"
		}
	default:
		return "", fmt.Errorf("server: unsupported scheme %q", u.Scheme)
	}
	if p == "" {
		p = fallback
	}
	u.Path = path.Join("/", u.Path, p)
	return u.String(), nil
}

type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

func (c Config) Validate() error {
	var issues []string

	if !c.Live() && strings.TrimSpace(c.SnapshotFile) == "" {
		issues = append(issues, "server or snapshot-file is required (use --help for usage information)")
	}
	if c.Live() {
		if _, err := c.WebSocketURL(); err != nil {
			issues = append(issues, err.Error())
		}
	}
	if c.HeartbeatInterval <= 0 {
		issues = append(issues, "heartbeat_interval must be > 0")
	}
	if c.HandshakeTimeout < 0 {
		issues = append(issues, "handshake_timeout must be >= 0")
	}
	if c.FetchTimeout < 0 {
		issues = append(issues, "fetch_timeout must be >= 0")
	}
	if c.MaxMessageSize < 0 {
		issues = append(issues, "max_message_size must be >= 0")
	}
	if c.Duration < 0 {
		issues = append(issues, "duration must be >= 0")
	}
	if c.MaxReloads < 0 {
		issues = append(issues, "max_reloads must be >= 0")
	}
	if c.Dashboard && c.JSONOutput {
		issues = append(issues, "dashboard and json-output are mutually exclusive")
	}

	issues = append(issues, validateReconnect(c.Reconnect)...)

	switch c.MissingLeaves {
	case "", MissingLeavesCreate, MissingLeavesFail:
	default:
		issues = append(issues, fmt.Sprintf("missing_leaves must be 'create' or 'fail', got %q", c.MissingLeaves))
	}

	if c.LogLevel != "" {
		var lvl zapcore.Level
		if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
			issues = append(issues, fmt.Sprintf("log_level: %v", err))
		}
	}

	issues = append(issues, validateTracing(c.Tracing)...)

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}

	return nil
}

func validateReconnect(r ReconnectConfig) []string {
	var issues []string
	if r.Initial <= 0 {
		issues = append(issues, "reconnect: initial must be > 0")
	}
	if r.Max < r.Initial {
		issues = append(issues, "reconnect: max must be >= initial")
	}
	if r.MaxAttempts < 0 {
		issues = append(issues, "reconnect: max_attempts must be >= 0")
	}
	return issues
}

func validateTracing(t TracingConfig) []string {
	var issues []string
	switch strings.ToLower(t.Protocol) {
	case "", "grpc", "http":
	default:
		issues = append(issues, fmt.Sprintf("tracing: protocol must be 'grpc' or 'http', got %q", t.Protocol))
	}
	if t.SampleRate < 0 || t.SampleRate > 1 {
		issues = append(issues, fmt.Sprintf("tracing: sample_rate must be between 0.0 and 1.0, got %g", t.SampleRate))
	}
	return issues
}
