// Package config loads and validates the client configuration from YAML.
// Files are schema-validated before unmarshaling so a typo fails fast with a
// field path instead of silently producing a zero value.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/foani/CTA-Mission-sub000/errors"
	"github.com/foani/CTA-Mission-sub000/polling"
	"github.com/foani/CTA-Mission-sub000/realtime"
)

// Duration is a time.Duration that unmarshals from YAML strings like "3s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// PollingConfig configures the HTTP fallback transport.
type PollingConfig struct {
	Enabled   bool               `yaml:"enabled"`
	Interval  Duration           `yaml:"interval"`
	RateLimit float64            `yaml:"rate_limit"`
	Burst     int                `yaml:"burst"`
	Endpoints []polling.Endpoint `yaml:"endpoints"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the complete client configuration.
type Config struct {
	URL               string   `yaml:"url"`
	AuthToken         string   `yaml:"auth_token"`
	ShouldReconnect   *bool    `yaml:"should_reconnect"`
	ReconnectAttempts int      `yaml:"reconnect_attempts"`
	ReconnectInterval Duration `yaml:"reconnect_interval"`
	HeartbeatInterval Duration `yaml:"heartbeat_interval"`
	ConnectionTimeout Duration `yaml:"connection_timeout"`

	Channels []ChannelConfig `yaml:"channels"`

	Polling PollingConfig `yaml:"polling"`
	Metrics MetricsConfig `yaml:"metrics"`
	Log     LogConfig     `yaml:"log"`
}

// ChannelConfig names a channel to subscribe at startup.
type ChannelConfig struct {
	Channel string         `yaml:"channel"`
	Params  map[string]any `yaml:"params"`
}

// Default returns the configuration defaults.
func Default() *Config {
	t := true
	return &Config{
		ShouldReconnect:   &t,
		ReconnectAttempts: 5,
		ReconnectInterval: Duration(3 * time.Second),
		HeartbeatInterval: Duration(30 * time.Second),
		ConnectionTimeout: Duration(10 * time.Second),
		Polling: PollingConfig{
			Interval: Duration(10 * time.Second),
		},
		Metrics: MetricsConfig{
			Port: 9090,
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads, schema-validates, and unmarshals a YAML config file, applying
// defaults for everything the file leaves unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Config", "Load", "read config file")
	}
	return Parse(data)
}

// Parse behaves like Load on in-memory YAML.
func Parse(data []byte) (*Config, error) {
	if err := validateSchema(data); err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.WrapInvalid(err, "Config", "Parse", "unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks semantic constraints the schema cannot express.
func (c *Config) Validate() error {
	if c.URL == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig,
			"Config", "Validate", "url required")
	}
	if !strings.HasPrefix(c.URL, "ws://") && !strings.HasPrefix(c.URL, "wss://") {
		return errors.WrapInvalid(
			fmt.Errorf("%w: url must use ws:// or wss://", errors.ErrInvalidConfig),
			"Config", "Validate", "check url scheme")
	}
	if c.ReconnectAttempts < 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: reconnect_attempts must be >= 0", errors.ErrInvalidConfig),
			"Config", "Validate", "check reconnect attempts")
	}
	if c.Polling.Enabled && len(c.Polling.Endpoints) == 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: polling enabled without endpoints", errors.ErrInvalidConfig),
			"Config", "Validate", "check polling endpoints")
	}
	for _, ep := range c.Polling.Endpoints {
		if ep.Channel == "" || ep.URL == "" {
			return errors.WrapInvalid(
				fmt.Errorf("%w: polling endpoint needs channel and url", errors.ErrInvalidConfig),
				"Config", "Validate", "check polling endpoints")
		}
	}
	for _, ch := range c.Channels {
		if ch.Channel == "" {
			return errors.WrapInvalid(
				fmt.Errorf("%w: channel name required", errors.ErrInvalidConfig),
				"Config", "Validate", "check channels")
		}
	}
	return nil
}

// ClientOptions translates the configuration into realtime client options.
// Logger and metrics wiring stay with the caller.
func (c *Config) ClientOptions() []realtime.ClientOption {
	opts := []realtime.ClientOption{
		realtime.WithURL(c.URL),
		realtime.WithConnectionTimeout(c.ConnectionTimeout.Std()),
		realtime.WithHeartbeatInterval(c.HeartbeatInterval.Std()),
	}
	if c.AuthToken != "" {
		opts = append(opts, realtime.WithAuthToken(c.AuthToken))
	}
	if c.ShouldReconnect != nil && !*c.ShouldReconnect {
		opts = append(opts, realtime.WithoutReconnect())
	} else {
		opts = append(opts,
			realtime.WithReconnect(c.ReconnectAttempts, c.ReconnectInterval.Std()))
	}
	if c.Polling.Enabled {
		opts = append(opts,
			realtime.WithPollingFallback(c.Polling.Interval.Std(), c.Polling.Endpoints))
		if c.Polling.RateLimit > 0 {
			opts = append(opts,
				realtime.WithPollingRateLimit(c.Polling.RateLimit, c.Polling.Burst))
		}
	}
	return opts
}

// yamlToJSON converts parsed YAML to JSON for schema validation.
func yamlToJSON(data []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return json.Marshal(doc)
}
