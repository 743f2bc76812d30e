package config

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// RegisterFlags registers all CLI flags to a cobra command.
func RegisterFlags(cmd *cobra.Command) {
	configureFlags(cmd.Flags())
}

// newFlagCommand creates a cobra command with all flags configured.
func newFlagCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "tankwatch",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.SetOut(os.Stdout)
	configureFlags(cmd.Flags())
	return cmd
}

// configureFlags sets up all CLI flags on the provided flag set.
func configureFlags(flags *pflag.FlagSet) {
	// Source flags
	flags.StringP("server", "s", "", "Base URL of the online report server (e.g. http://localhost:8080)")
	flags.String("snapshot-file", "", "Render a saved data.json instead of following a live server")
	flags.String("snapshot-path", DefaultSnapshotPath, "Path of the snapshot endpoint on the server")
	flags.String("ws-path", DefaultWSPath, "Path of the WebSocket endpoint on the server")
	flags.StringSlice("header", nil, "Additional request header in key=value form")

	// Connection flags
	flags.Duration("heartbeat-interval", DefaultHeartbeatInterval, "Interval between client heartbeats")
	flags.Duration("handshake-timeout", 10*time.Second, "WebSocket handshake timeout")
	flags.Duration("fetch-timeout", 10*time.Second, "Snapshot fetch timeout")
	flags.Duration("reconnect-initial", 500*time.Millisecond, "Initial reconnect backoff")
	flags.Duration("reconnect-max", 30*time.Second, "Maximum reconnect backoff")
	flags.Int("reconnect-attempts", 0, "Consecutive failed dials before giving up (0 means unlimited)")
	flags.Int("max-message-size", 0, "Largest accepted WebSocket frame in bytes (0 uses the default)")

	// Session flags
	flags.String("missing-leaves", string(MissingLeavesCreate), "Handling of series absent from the snapshot: 'create' or 'fail'")
	flags.StringSlice("area-groups", []string{"CPU", "Memory"}, "Monitoring groups drawn as area charts")
	flags.DurationP("duration", "d", 0, "Stop watching after this long (0 means until interrupted)")
	flags.Int("max-reloads", 0, "Reload cycles before giving up (0 means unlimited)")

	// Output flags
	flags.Bool("json-output", false, "Emit projections as newline-delimited JSON")
	flags.Bool("dashboard", false, "Show live terminal dashboard")
	flags.String("html-output", "", "Write an offline HTML report to the specified file path on exit")
	flags.String("log-level", "info", "Log level: debug, info, warn or error")
	flags.String("config", "", "Path to configuration file (JSON or YAML)")

	// Tracing flags
	flags.String("tracing-endpoint", "", "OTLP collector endpoint (enables tracing)")
	flags.String("tracing-protocol", "grpc", "OTLP protocol: 'grpc' or 'http'")
	flags.Float64("tracing-sample-rate", 1.0, "Trace sampling ratio between 0.0 and 1.0")
	flags.Bool("tracing-insecure", false, "Disable TLS for the OTLP exporter")
}

// displayHelp prints the help message for a command.
func displayHelp(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Usage: %s\n\nFlags:\n", cmd.UseLine())
	fs := cmd.Flags()
	fs.SetOutput(out)
	fs.PrintDefaults()
}

// applyFlagOverrides applies command-line flag values to the config, overriding
// values from the config file.
func applyFlagOverrides(cfg *Config, fs *pflag.FlagSet) error {
	strs := []struct {
		name string
		dst  *string
	}{
		{"server", &cfg.Server},
		{"snapshot-file", &cfg.SnapshotFile},
		{"snapshot-path", &cfg.SnapshotPath},
		{"ws-path", &cfg.WSPath},
		{"html-output", &cfg.HTMLOutput},
		{"log-level", &cfg.LogLevel},
		{"tracing-endpoint", &cfg.Tracing.Endpoint},
		{"tracing-protocol", &cfg.Tracing.Protocol},
	}
	for _, s := range strs {
		if !fs.Changed(s.name) {
			continue
		}
		val, err := fs.GetString(s.name)
		if err != nil {
			return err
		}
		*s.dst = strings.TrimSpace(val)
	}

	durations := []struct {
		name string
		dst  *time.Duration
	}{
		{"heartbeat-interval", &cfg.HeartbeatInterval},
		{"handshake-timeout", &cfg.HandshakeTimeout},
		{"fetch-timeout", &cfg.FetchTimeout},
		{"reconnect-initial", &cfg.Reconnect.Initial},
		{"reconnect-max", &cfg.Reconnect.Max},
		{"duration", &cfg.Duration},
	}
	for _, d := range durations {
		if !fs.Changed(d.name) {
			continue
		}
		val, err := fs.GetDuration(d.name)
		if err != nil {
			return err
		}
		*d.dst = val
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{"reconnect-attempts", &cfg.Reconnect.MaxAttempts},
		{"max-message-size", &cfg.MaxMessageSize},
		{"max-reloads", &cfg.MaxReloads},
	}
	for _, i := range ints {
		if !fs.Changed(i.name) {
			continue
		}
		val, err := fs.GetInt(i.name)
		if err != nil {
			return err
		}
		*i.dst = val
	}

	bools := []struct {
		name string
		dst  *bool
	}{
		{"json-output", &cfg.JSONOutput},
		{"dashboard", &cfg.Dashboard},
		{"tracing-insecure", &cfg.Tracing.Insecure},
	}
	for _, b := range bools {
		if !fs.Changed(b.name) {
			continue
		}
		val, err := fs.GetBool(b.name)
		if err != nil {
			return err
		}
		*b.dst = val
	}

	if fs.Changed("header") {
		values, err := fs.GetStringSlice("header")
		if err != nil {
			return err
		}
		if cfg.Headers == nil {
			cfg.Headers = map[string]string{}
		}
		for _, raw := range values {
			key, val, err := parseHeader(raw)
			if err != nil {
				return err
			}
			cfg.Headers[key] = val
		}
	}

	if fs.Changed("missing-leaves") {
		val, err := fs.GetString("missing-leaves")
		if err != nil {
			return err
		}
		cfg.MissingLeaves = MissingLeaves(strings.TrimSpace(val))
	}

	if fs.Changed("area-groups") {
		val, err := fs.GetStringSlice("area-groups")
		if err != nil {
			return err
		}
		cfg.AreaGroups = val
	}

	if fs.Changed("tracing-sample-rate") {
		val, err := fs.GetFloat64("tracing-sample-rate")
		if err != nil {
			return err
		}
		cfg.Tracing.SampleRate = val
	}

	return nil
}

func parseHeader(raw string) (string, string, error) {
	parts := strings.SplitN(raw, "=", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("invalid header %q: expected key=value", raw)
	}
	key := strings.TrimSpace(parts[0])
	if key == "" {
		return "", "", fmt.Errorf("invalid header %q: empty key", raw)
	}
	return http.CanonicalHeaderKey(key), strings.TrimSpace(parts[1]), nil
}
