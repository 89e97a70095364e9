package realtime

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/foani/CTA-Mission-sub000/dispatch"
	"github.com/foani/CTA-Mission-sub000/metric"
	"github.com/foani/CTA-Mission-sub000/polling"
)

type config struct {
	url                   string
	authToken             string
	shouldReconnect       bool
	reconnectAttempts     int
	reconnectInterval     time.Duration
	heartbeatInterval     time.Duration
	connectionTimeout     time.Duration
	enablePollingFallback bool
	pollingInterval       time.Duration
	pollingEndpoints      []polling.Endpoint
	pollingRPS            float64
	pollingBurst          int
	httpClient            *http.Client
	messageFilter         dispatch.Filter
	observer              dispatch.Observer
	historySize           int
	onError               func(error)
	onConnectionChange    func(State)
	logger                *slog.Logger
	metrics               *metric.MetricsRegistry
}

func defaultConfig() config {
	return config{
		shouldReconnect:   true,
		reconnectAttempts: 5,
		pollingInterval:   10 * time.Second,
	}
}

// ClientOption is a functional option for configuring the Client.
type ClientOption func(*config) error

// WithURL sets the realtime endpoint (ws:// or wss://).
func WithURL(url string) ClientOption {
	return func(c *config) error {
		c.url = url
		return nil
	}
}

// WithAuthToken presents a token query parameter on every connection attempt.
func WithAuthToken(token string) ClientOption {
	return func(c *config) error {
		c.authToken = token
		return nil
	}
}

// WithReconnect configures automatic recovery: up to attempts reconnects
// spaced interval apart. Zero attempts disables reconnection.
func WithReconnect(attempts int, interval time.Duration) ClientOption {
	return func(c *config) error {
		c.shouldReconnect = attempts > 0
		c.reconnectAttempts = attempts
		c.reconnectInterval = interval
		return nil
	}
}

// WithoutReconnect disables automatic recovery entirely.
func WithoutReconnect() ClientOption {
	return func(c *config) error {
		c.shouldReconnect = false
		c.reconnectAttempts = 0
		return nil
	}
}

// WithHeartbeatInterval sets the keep-alive period.
func WithHeartbeatInterval(d time.Duration) ClientOption {
	return func(c *config) error {
		c.heartbeatInterval = d
		return nil
	}
}

// WithConnectionTimeout bounds a single connection attempt.
func WithConnectionTimeout(d time.Duration) ClientOption {
	return func(c *config) error {
		c.connectionTimeout = d
		return nil
	}
}

// WithPollingFallback enables the HTTP fallback transport. Each endpoint maps
// a channel to the URL polled for its current value when push is unavailable.
func WithPollingFallback(interval time.Duration, endpoints []polling.Endpoint) ClientOption {
	return func(c *config) error {
		c.enablePollingFallback = true
		if interval > 0 {
			c.pollingInterval = interval
		}
		c.pollingEndpoints = endpoints
		return nil
	}
}

// WithPollingRateLimit caps fallback requests per second across all channels.
func WithPollingRateLimit(rps float64, burst int) ClientOption {
	return func(c *config) error {
		c.pollingRPS = rps
		c.pollingBurst = burst
		return nil
	}
}

// WithHTTPClient replaces the fallback transport's HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *config) error {
		c.httpClient = client
		return nil
	}
}

// WithMessageFilter drops envelopes failing the predicate before delivery.
func WithMessageFilter(filter dispatch.Filter) ClientOption {
	return func(c *config) error {
		c.messageFilter = filter
		return nil
	}
}

// WithObserver registers a callback invoked with every delivered envelope.
func WithObserver(observer dispatch.Observer) ClientOption {
	return func(c *config) error {
		c.observer = observer
		return nil
	}
}

// WithHistory keeps a bounded drop-oldest buffer of size n per envelope type
// in addition to the last-value slot.
func WithHistory(n int) ClientOption {
	return func(c *config) error {
		c.historySize = n
		return nil
	}
}

// WithOnError registers the error observer. The client never blocks the
// consumer on internal retry activity; errors surface here and via Err.
func WithOnError(fn func(error)) ClientOption {
	return func(c *config) error {
		c.onError = fn
		return nil
	}
}

// WithOnConnectionChange registers the state observer.
func WithOnConnectionChange(fn func(State)) ClientOption {
	return func(c *config) error {
		c.onConnectionChange = fn
		return nil
	}
}

// WithLogger sets a custom logger for the client and its components.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *config) error {
		if logger != nil {
			c.logger = logger
		}
		return nil
	}
}

// WithMetrics enables metrics collection using the provided registry.
func WithMetrics(registry *metric.MetricsRegistry) ClientOption {
	return func(c *config) error {
		c.metrics = registry
		return nil
	}
}
