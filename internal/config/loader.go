package config

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Loader handles loading configuration from files and command-line arguments.
type Loader struct{}

// ErrHelpRequested is returned when the user requests help via --help flag.
var ErrHelpRequested = errors.New("help requested")

// NewLoader creates a new configuration Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Defaults returns a Config with every default applied.
func Defaults() *Config {
	return &Config{
		Headers:           map[string]string{},
		SnapshotPath:      DefaultSnapshotPath,
		WSPath:            DefaultWSPath,
		HeartbeatInterval: DefaultHeartbeatInterval,
		HandshakeTimeout:  10 * time.Second,
		FetchTimeout:      10 * time.Second,
		Reconnect: ReconnectConfig{
			Initial: 500 * time.Millisecond,
			Max:     30 * time.Second,
		},
		MissingLeaves: MissingLeavesCreate,
		AreaGroups:    []string{"CPU", "Memory"},
		LogLevel:      "info",
		Tracing:       TracingConfig{SampleRate: 1.0},
	}
}

// Load parses command-line arguments and configuration files to produce a Config.
func (Loader) Load(args []string) (*Config, error) {
	cmd := newFlagCommand()
	if err := cmd.Flags().Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
		return nil, err
	}

	flagSet := cmd.Flags()
	if helpFlag := flagSet.Lookup("help"); helpFlag != nil {
		if wantsHelp, err := strconv.ParseBool(helpFlag.Value.String()); err == nil && wantsHelp {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
	}

	configPath := flagSet.Lookup("config").Value.String()
	cfgViper := viper.New()
	cfgViper.SetEnvPrefix("TANKWATCH")
	cfgViper.AutomaticEnv()
	if configPath != "" {
		cfgViper.SetConfigFile(configPath)
		if err := cfgViper.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	settings := cfgViper.AllSettings()
	// AllSettings only reports keys known from the file; pick the server from the environment too.
	if _, ok := lookupSetting(settings, "server"); !ok {
		if env := cfgViper.GetString("server"); env != "" {
			settings["server"] = env
		}
	}

	cfg := Defaults()
	cfg.ConfigFile = configPath

	if err := applyConfigSettings(cfg, settings); err != nil {
		return nil, err
	}

	if err := applyFlagOverrides(cfg, flagSet); err != nil {
		return nil, err
	}

	cfg.Server = strings.TrimRight(strings.TrimSpace(cfg.Server), "/")
	cfg.SnapshotFile = strings.TrimSpace(cfg.SnapshotFile)
	cfg.MissingLeaves = MissingLeaves(strings.ToLower(string(cfg.MissingLeaves)))

	if cfg.Headers == nil {
		cfg.Headers = map[string]string{}
	}

	return cfg, nil
}

// HTTPHeaders returns the configured headers as an http.Header.
func (c Config) HTTPHeaders() http.Header {
	h := make(http.Header, len(c.Headers))
	for k, v := range c.Headers {
		h.Set(k, v)
	}
	return h
}

// applyConfigSettings applies settings from a config file to the Config struct.
func applyConfigSettings(cfg *Config, settings map[string]interface{}) error {
	if len(settings) == 0 {
		return nil
	}

	if raw, ok := lookupSetting(settings, "server"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
		cfg.Server = strings.TrimSpace(val)
	}

	if raw, ok := lookupSetting(settings, "snapshotfile", "snapshot_file", "snapshot-file"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("snapshotFile: %w", err)
		}
		cfg.SnapshotFile = val
	}

	if raw, ok := lookupSetting(settings, "snapshotpath", "snapshot_path", "snapshot-path"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("snapshotPath: %w", err)
		}
		if val != "" {
			cfg.SnapshotPath = val
		}
	}

	if raw, ok := lookupSetting(settings, "wspath", "ws_path", "ws-path"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("wsPath: %w", err)
		}
		if val != "" {
			cfg.WSPath = val
		}
	}

	if raw, ok := lookupSetting(settings, "headers"); ok {
		hdrs, err := asStringMap(raw)
		if err != nil {
			return fmt.Errorf("headers: %w", err)
		}
		if cfg.Headers == nil {
			cfg.Headers = map[string]string{}
		}
		for k, v := range hdrs {
			cfg.Headers[http.CanonicalHeaderKey(k)] = v
		}
	}

	durations := []struct {
		keys []string
		name string
		dst  *time.Duration
	}{
		{[]string{"heartbeatinterval", "heartbeat_interval", "heartbeat-interval"}, "heartbeatInterval", &cfg.HeartbeatInterval},
		{[]string{"handshaketimeout", "handshake_timeout", "handshake-timeout"}, "handshakeTimeout", &cfg.HandshakeTimeout},
		{[]string{"fetchtimeout", "fetch_timeout", "fetch-timeout"}, "fetchTimeout", &cfg.FetchTimeout},
		{[]string{"duration"}, "duration", &cfg.Duration},
	}
	for _, d := range durations {
		if raw, ok := lookupSetting(settings, d.keys...); ok {
			val, err := asDuration(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", d.name, err)
			}
			*d.dst = val
		}
	}

	if raw, ok := lookupSetting(settings, "reconnect"); ok {
		rc, err := parseReconnect(raw, cfg.Reconnect)
		if err != nil {
			return fmt.Errorf("reconnect: %w", err)
		}
		cfg.Reconnect = rc
	}

	if raw, ok := lookupSetting(settings, "maxmessagesize", "max_message_size", "max-message-size"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("maxMessageSize: %w", err)
		}
		cfg.MaxMessageSize = val
	}

	if raw, ok := lookupSetting(settings, "maxreloads", "max_reloads", "max-reloads"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("maxReloads: %w", err)
		}
		cfg.MaxReloads = val
	}

	if raw, ok := lookupSetting(settings, "missingleaves", "missing_leaves", "missing-leaves"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("missingLeaves: %w", err)
		}
		cfg.MissingLeaves = MissingLeaves(strings.TrimSpace(val))
	}

	if raw, ok := lookupSetting(settings, "areagroups", "area_groups", "area-groups"); ok {
		val, err := asStringSlice(raw)
		if err != nil {
			return fmt.Errorf("areaGroups: %w", err)
		}
		cfg.AreaGroups = val
	}

	if raw, ok := lookupSetting(settings, "jsonoutput", "json_output", "json-output"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("jsonOutput: %w", err)
		}
		cfg.JSONOutput = val
	}

	if raw, ok := lookupSetting(settings, "dashboard"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("dashboard: %w", err)
		}
		cfg.Dashboard = val
	}

	if raw, ok := lookupSetting(settings, "htmloutput", "html_output", "html-output"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("htmlOutput: %w", err)
		}
		cfg.HTMLOutput = val
	}

	if raw, ok := lookupSetting(settings, "loglevel", "log_level", "log-level"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("logLevel: %w", err)
		}
		if val != "" {
			cfg.LogLevel = strings.ToLower(val)
		}
	}

	if raw, ok := lookupSetting(settings, "tracing"); ok {
		tc, err := parseTracing(raw, cfg.Tracing)
		if err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
		cfg.Tracing = tc
	}

	return nil
}

func parseReconnect(value interface{}, base ReconnectConfig) (ReconnectConfig, error) {
	settings, err := toStringKeyMap(value)
	if err != nil {
		return base, err
	}
	rc := base
	if raw, ok := lookupSetting(settings, "initial"); ok {
		if rc.Initial, err = asDuration(raw); err != nil {
			return base, fmt.Errorf("initial: %w", err)
		}
	}
	if raw, ok := lookupSetting(settings, "max"); ok {
		if rc.Max, err = asDuration(raw); err != nil {
			return base, fmt.Errorf("max: %w", err)
		}
	}
	if raw, ok := lookupSetting(settings, "maxattempts", "max_attempts", "max-attempts"); ok {
		if rc.MaxAttempts, err = asInt(raw); err != nil {
			return base, fmt.Errorf("max_attempts: %w", err)
		}
	}
	return rc, nil
}

func parseTracing(value interface{}, base TracingConfig) (TracingConfig, error) {
	settings, err := toStringKeyMap(value)
	if err != nil {
		return base, err
	}
	tc := base
	if raw, ok := lookupSetting(settings, "endpoint"); ok {
		if tc.Endpoint, err = asString(raw); err != nil {
			return tc, fmt.Errorf("endpoint: %w", err)
		}
	}
	if raw, ok := lookupSetting(settings, "protocol"); ok {
		if tc.Protocol, err = asString(raw); err != nil {
			return tc, fmt.Errorf("protocol: %w", err)
		}
	}
	if raw, ok := lookupSetting(settings, "servicename", "service_name", "service-name"); ok {
		if tc.ServiceName, err = asString(raw); err != nil {
			return tc, fmt.Errorf("service_name: %w", err)
		}
	}
	if raw, ok := lookupSetting(settings, "samplerate", "sample_rate", "sample-rate"); ok {
		if tc.SampleRate, err = asFloat64(raw); err != nil {
			return tc, fmt.Errorf("sample_rate: %w", err)
		}
	}
	if raw, ok := lookupSetting(settings, "insecure"); ok {
		if tc.Insecure, err = asBool(raw); err != nil {
			return tc, fmt.Errorf("insecure: %w", err)
		}
	}
	if raw, ok := lookupSetting(settings, "propagate"); ok {
		val, err := asBool(raw)
		if err != nil {
			return tc, fmt.Errorf("propagate: %w", err)
		}
		tc.Propagate = &val
	}
	return tc, nil
}
