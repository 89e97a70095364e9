package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foani/CTA-Mission-sub000/errors"
)

const validYAML = `
url: wss://api.example.com/realtime
auth_token: secret
reconnect_attempts: 3
reconnect_interval: 500ms
heartbeat_interval: 15s
connection_timeout: 5s
channels:
  - channel: price.btc
    params:
      symbol: BTC
  - channel: ranking.weekly
polling:
  enabled: true
  interval: 8s
  rate_limit: 10
  burst: 5
  endpoints:
    - channel: price.btc
      url: https://api.example.com/poll/price
metrics:
  enabled: true
  port: 9181
log:
  level: debug
  format: text
`

func TestParseValid(t *testing.T) {
	cfg, err := Parse([]byte(validYAML))
	require.NoError(t, err)

	assert.Equal(t, "wss://api.example.com/realtime", cfg.URL)
	assert.Equal(t, "secret", cfg.AuthToken)
	assert.Equal(t, 3, cfg.ReconnectAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.ReconnectInterval.Std())
	assert.Equal(t, 15*time.Second, cfg.HeartbeatInterval.Std())
	assert.Equal(t, 5*time.Second, cfg.ConnectionTimeout.Std())
	require.Len(t, cfg.Channels, 2)
	assert.Equal(t, "BTC", cfg.Channels[0].Params["symbol"])

	assert.True(t, cfg.Polling.Enabled)
	assert.Equal(t, 8*time.Second, cfg.Polling.Interval.Std())
	require.Len(t, cfg.Polling.Endpoints, 1)
	assert.Equal(t, "price.btc", cfg.Polling.Endpoints[0].Channel)

	assert.Equal(t, 9181, cfg.Metrics.Port)
	assert.Equal(t, "/metrics", cfg.Metrics.Path, "default survives partial metrics block")
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte("url: ws://localhost:8080/realtime\n"))
	require.NoError(t, err)

	require.NotNil(t, cfg.ShouldReconnect)
	assert.True(t, *cfg.ShouldReconnect)
	assert.Equal(t, 5, cfg.ReconnectAttempts)
	assert.Equal(t, 3*time.Second, cfg.ReconnectInterval.Std())
	assert.Equal(t, 30*time.Second, cfg.HeartbeatInterval.Std())
	assert.Equal(t, 10*time.Second, cfg.ConnectionTimeout.Std())
	assert.False(t, cfg.Polling.Enabled)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestParseRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing url", "reconnect_attempts: 3\n"},
		{"bad url scheme", "url: https://example.com\n"},
		{"unknown field", "url: ws://x\nbogus_field: 1\n"},
		{"negative attempts", "url: ws://x\nreconnect_attempts: -1\n"},
		{"bad duration", "url: ws://x\nheartbeat_interval: soon\n"},
		{"bad log level", "url: ws://x\nlog:\n  level: loud\n"},
		{"polling without endpoints", "url: ws://x\npolling:\n  enabled: true\n"},
		{"endpoint missing url", "url: ws://x\npolling:\n  enabled: true\n  endpoints:\n    - channel: prices\n"},
		{"channel without name", "url: ws://x\nchannels:\n  - params: {}\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "client.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "wss://api.example.com/realtime", cfg.URL)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
}

func TestClientOptions(t *testing.T) {
	cfg, err := Parse([]byte(validYAML))
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.ClientOptions())

	f := false
	cfg.ShouldReconnect = &f
	assert.NotEmpty(t, cfg.ClientOptions())
}
