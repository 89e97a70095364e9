// Package polling implements the HTTP fallback transport. When the push
// connection cannot be restored the engine periodically fetches every
// subscribed channel that has a configured endpoint and feeds the results
// into the normal delivery path as polled envelopes.
package polling

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/foani/CTA-Mission-sub000/envelope"
	"github.com/foani/CTA-Mission-sub000/errors"
	"github.com/foani/CTA-Mission-sub000/pkg/retry"
	"github.com/foani/CTA-Mission-sub000/pkg/timestamp"
)

// DefaultRequestTimeout bounds a single endpoint fetch.
const DefaultRequestTimeout = 5 * time.Second

// maxBodySize caps a polled response body at 4 MiB.
const maxBodySize = 4 << 20

// Endpoint maps a channel name to the HTTP URL that serves its current value.
type Endpoint struct {
	Channel string `json:"channel" yaml:"channel"`
	URL     string `json:"url"     yaml:"url"`
}

// ChannelSource reports the channels that currently have subscribers. The
// engine polls only channels present in both the source and the endpoint
// table.
type ChannelSource func() []string

// DeliverFunc hands a polled envelope to the dispatcher.
type DeliverFunc func(envelope.Envelope) bool

// Engine polls configured endpoints at a fixed interval while active.
// Channels without an endpoint are skipped, and a failing endpoint never
// blocks the others.
type Engine struct {
	logger   *slog.Logger
	client   *http.Client
	interval time.Duration
	timeout  time.Duration
	limiter  *rate.Limiter
	retryCfg retry.Config
	deliver  DeliverFunc
	channels ChannelSource
	onError  func(error)
	metrics  *Metrics

	endpoints map[string]string
	missing   map[string]struct{} // channels already reported as unservable

	lastFetch atomic.Int64 // unix ms of the last successful fetch

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures an Engine.
type Option func(*Engine)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Engine) { e.client = c }
}

// WithRequestTimeout bounds each individual endpoint fetch.
func WithRequestTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithRateLimit caps outbound requests per second across all endpoints.
func WithRateLimit(rps float64, burst int) Option {
	return func(e *Engine) {
		if rps > 0 {
			e.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

// WithRetry overrides the per-request retry policy. The default retries a
// transiently failing fetch once before giving the channel up for the tick.
func WithRetry(cfg retry.Config) Option {
	return func(e *Engine) { e.retryCfg = cfg }
}

// WithOnError sets the callback invoked with each classified poll failure.
func WithOnError(fn func(error)) Option {
	return func(e *Engine) { e.onError = fn }
}

// WithMetrics enables polling metrics.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates a polling engine. It does not poll until Start is called.
func NewEngine(
	logger *slog.Logger,
	interval time.Duration,
	endpoints []Endpoint,
	channels ChannelSource,
	deliver DeliverFunc,
	opts ...Option,
) (*Engine, error) {
	if interval <= 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("interval %v", interval),
			"Engine", "NewEngine", "polling interval must be positive")
	}
	if deliver == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("nil deliver func"),
			"Engine", "NewEngine", "delivery function required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	table := make(map[string]string, len(endpoints))
	for _, ep := range endpoints {
		if ep.Channel == "" || ep.URL == "" {
			return nil, errors.WrapInvalid(
				fmt.Errorf("endpoint %q -> %q", ep.Channel, ep.URL),
				"Engine", "NewEngine", "endpoint needs both channel and URL")
		}
		table[ep.Channel] = ep.URL
	}

	e := &Engine{
		logger:    logger.With("component", "polling"),
		client:    &http.Client{},
		interval:  interval,
		timeout:   DefaultRequestTimeout,
		retryCfg:  retry.Fixed(2, 200*time.Millisecond),
		deliver:   deliver,
		channels:  channels,
		endpoints: table,
		missing:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Start begins the polling loop. Starting an active engine is a no-op. The
// first poll cycle runs immediately rather than waiting one interval.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cancel != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})

	e.logger.Info("polling fallback activated",
		"interval", e.interval, "endpoints", len(e.endpoints))
	go e.run(runCtx, e.done)
}

// Stop halts the polling loop and waits for in-flight requests to finish.
// Stopping an inactive engine is a no-op.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.cancel, e.done = nil, nil
	e.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	e.logger.Info("polling fallback stopped")
}

// Active reports whether the polling loop is running.
func (e *Engine) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancel != nil
}

// LastFetch returns the unix-millisecond timestamp of the most recent
// successful fetch, or zero if none has succeeded.
func (e *Engine) LastFetch() int64 {
	return e.lastFetch.Load()
}

// HasEndpoint reports whether a channel can be served by polling.
func (e *Engine) HasEndpoint(channel string) bool {
	_, ok := e.endpoints[channel]
	return ok
}

func (e *Engine) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	e.cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.cycle(ctx)
		}
	}
}

// cycle fetches every subscribed channel with an endpoint concurrently and
// waits for all of them. Failures are reported per channel; one bad endpoint
// does not abort the cycle.
func (e *Engine) cycle(ctx context.Context) {
	var targets []Endpoint
	if e.channels != nil {
		for _, ch := range e.channels() {
			url, ok := e.endpoints[ch]
			if !ok {
				// reported once per channel, not every tick
				if _, seen := e.missing[ch]; !seen {
					e.missing[ch] = struct{}{}
					e.reportError(ch, errors.WrapPolling(
						fmt.Errorf("%w: %s", errors.ErrNoEndpoint, ch),
						"Engine", "cycle", "resolve endpoint"))
				}
				continue
			}
			targets = append(targets, Endpoint{Channel: ch, URL: url})
		}
	} else {
		for ch, url := range e.endpoints {
			targets = append(targets, Endpoint{Channel: ch, URL: url})
		}
	}

	if len(targets) == 0 {
		return
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for _, target := range targets {
		target := target
		g.Go(func() error {
			if err := e.fetch(groupCtx, target); err != nil {
				e.reportError(target.Channel, err)
			}
			// never abort sibling fetches
			return nil
		})
	}
	_ = g.Wait()
}

// fetch resolves one channel for this tick: rate limit, bounded request,
// one transient retry. Client errors (4xx) are not retried.
func (e *Engine) fetch(ctx context.Context, target Endpoint) error {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return errors.WrapPolling(err, "Engine", "fetch", "rate limit wait canceled")
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	body, err := retry.DoWithResult(reqCtx, e.retryCfg, func() ([]byte, error) {
		return e.request(reqCtx, target)
	})
	if err != nil {
		return errors.WrapPolling(err, "Engine", "fetch",
			fmt.Sprintf("poll channel %s", target.Channel))
	}

	e.lastFetch.Store(timestamp.Now())
	env := envelope.NewPolled(target.Channel, body)
	if ts := producerTimestamp(body); ts != 0 {
		env.Timestamp = ts
	}
	e.deliver(env)
	return nil
}

// producerTimestamp extracts an embedded producer timestamp from a polled
// body so polled and pushed updates stay comparable on the consumer's
// timeline. Upstream services report it as an integer, float or string;
// bodies without one keep the fetch time.
func producerTimestamp(body []byte) int64 {
	var partial struct {
		Timestamp any `json:"timestamp"`
	}
	if err := json.Unmarshal(body, &partial); err != nil {
		return 0
	}
	return timestamp.Parse(partial.Timestamp)
}

func (e *Engine) request(ctx context.Context, target Endpoint) ([]byte, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.URL, nil)
	if err != nil {
		return nil, retry.NonRetryable(err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		e.observe(target.Channel, "error", time.Since(start))
		if ctx.Err() != nil {
			return nil, retry.NonRetryable(err)
		}
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		e.observe(target.Channel, fmt.Sprintf("http_%d", resp.StatusCode), time.Since(start))
		statusErr := fmt.Errorf("%w: status %d", errors.ErrPollRequestFailed, resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, retry.NonRetryable(statusErr)
		}
		return nil, statusErr
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		e.observe(target.Channel, "error", time.Since(start))
		return nil, err
	}

	e.observe(target.Channel, "ok", time.Since(start))
	return body, nil
}

func (e *Engine) observe(channel, outcome string, elapsed time.Duration) {
	if e.metrics == nil {
		return
	}
	e.metrics.requests.WithLabelValues(channel, outcome).Inc()
	e.metrics.duration.Observe(elapsed.Seconds())
}

func (e *Engine) reportError(channel string, err error) {
	e.logger.Warn("poll failed", "channel", channel, "error", err)
	if e.onError != nil {
		e.onError(err)
	}
}
