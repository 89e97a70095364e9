// Package realtime is the consumer-facing entry point to the data channel
// client. A Client multiplexes any number of channel subscriptions over one
// push connection, falls back to HTTP polling when the connection cannot be
// recovered, and delivers every update through a single last-value
// dispatcher. Construct one Client at application start and share it by
// reference; it owns the single physical connection.
package realtime

import (
	"context"
	"log/slog"
	"sync"

	"github.com/foani/CTA-Mission-sub000/dispatch"
	"github.com/foani/CTA-Mission-sub000/envelope"
	"github.com/foani/CTA-Mission-sub000/errors"
	"github.com/foani/CTA-Mission-sub000/metric"
	"github.com/foani/CTA-Mission-sub000/polling"
	"github.com/foani/CTA-Mission-sub000/session"
	"github.com/foani/CTA-Mission-sub000/subscription"
)

// State re-exports the session lifecycle state for consumers.
type State = session.State

// Lifecycle states observable through State and the connection observer.
const (
	StateUninstantiated = session.StateUninstantiated
	StateConnecting     = session.StateConnecting
	StateOpen           = session.StateOpen
	StateClosing        = session.StateClosing
	StateClosed         = session.StateClosed
)

// UnsubscribeFunc releases one reference to a channel subscription. Safe to
// call more than once; only the first call counts.
type UnsubscribeFunc func()

// Client is the realtime data channel client.
type Client struct {
	logger     *slog.Logger
	metrics    *metric.MetricsRegistry
	registry   *subscription.Registry
	dispatcher *dispatch.Dispatcher
	session    *session.Manager
	poller     *polling.Engine

	onError            func(error)
	onConnectionChange func(State)

	mu     sync.Mutex
	runCtx context.Context

	errMu   sync.Mutex
	lastErr error
}

// New creates a Client from the given options. WithURL is required.
func New(opts ...ClientOption) (*Client, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}
	if cfg.url == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig,
			"Client", "New", "realtime URL required")
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	c := &Client{
		logger:             cfg.logger.With("component", "realtime"),
		metrics:            cfg.metrics,
		onError:            cfg.onError,
		onConnectionChange: cfg.onConnectionChange,
		runCtx:             context.Background(),
	}

	c.registry = subscription.NewRegistry(cfg.logger)

	dispatchOpts := []dispatch.Option{}
	if cfg.messageFilter != nil {
		dispatchOpts = append(dispatchOpts, dispatch.WithFilter(cfg.messageFilter))
	}
	if cfg.observer != nil {
		dispatchOpts = append(dispatchOpts, dispatch.WithObserver(cfg.observer))
	}
	if cfg.historySize > 0 {
		dispatchOpts = append(dispatchOpts, dispatch.WithHistory(cfg.historySize))
	}
	if cfg.metrics != nil {
		dispatchOpts = append(dispatchOpts,
			dispatch.WithMetrics(dispatch.NewMetrics(cfg.metrics, "dispatch")))
	}
	c.dispatcher = dispatch.NewDispatcher(cfg.logger, dispatchOpts...)

	if cfg.enablePollingFallback {
		pollOpts := []polling.Option{
			polling.WithOnError(c.reportPolling),
		}
		if cfg.httpClient != nil {
			pollOpts = append(pollOpts, polling.WithHTTPClient(cfg.httpClient))
		}
		if cfg.pollingRPS > 0 {
			pollOpts = append(pollOpts,
				polling.WithRateLimit(cfg.pollingRPS, cfg.pollingBurst))
		}
		if cfg.metrics != nil {
			pollOpts = append(pollOpts,
				polling.WithMetrics(polling.NewMetrics(cfg.metrics, "polling")))
		}

		poller, err := polling.NewEngine(cfg.logger, cfg.pollingInterval,
			cfg.pollingEndpoints, c.registry.Channels, c.dispatcher.Deliver,
			pollOpts...)
		if err != nil {
			return nil, err
		}
		c.poller = poller
	}

	sessionOpts := []session.Option{session.WithLogger(cfg.logger)}
	if cfg.metrics != nil {
		sessionOpts = append(sessionOpts,
			session.WithMetrics(session.NewMetrics(cfg.metrics, "session")))
	}

	manager, err := session.NewManager(
		session.Config{
			URL:               cfg.url,
			AuthToken:         cfg.authToken,
			ConnectTimeout:    cfg.connectionTimeout,
			HeartbeatInterval: cfg.heartbeatInterval,
			ShouldReconnect:   cfg.shouldReconnect,
			ReconnectAttempts: cfg.reconnectAttempts,
			ReconnectInterval: cfg.reconnectInterval,
		},
		session.Hooks{
			Deliver:       c.dispatcher.Deliver,
			OnStateChange: c.stateChanged,
			OnOpen:        c.pushRestored,
			OnError:       c.report,
			OnFallback:    c.pushUnavailable,
		},
		sessionOpts...,
	)
	if err != nil {
		return nil, err
	}
	c.session = manager

	return c, nil
}

// Connect starts the push connection. ctx scopes the whole client lifetime:
// canceling it tears down the connection and any active polling.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	c.runCtx = ctx
	c.mu.Unlock()
	return c.session.Connect(ctx)
}

// Disconnect stops both transports without triggering recovery. Idempotent.
func (c *Client) Disconnect() {
	c.stopPolling()
	c.session.Disconnect()
}

// Reconnect forces a fresh connection with the reconnect budget reset.
func (c *Client) Reconnect(ctx context.Context) error {
	c.stopPolling()
	c.mu.Lock()
	c.runCtx = ctx
	c.mu.Unlock()
	return c.session.Reconnect(ctx)
}

// Close disposes the client. A closed client cannot connect again.
func (c *Client) Close() {
	c.stopPolling()
	c.session.Close()
}

// Subscribe registers interest in a channel. While the connection is open a
// subscribe control message goes out immediately; otherwise the channel is
// picked up on the next successful connection and by the polling fallback.
// The same channel and params can be subscribed by several consumers; the
// wire subscription lives until the last one unsubscribes.
func (c *Client) Subscribe(channel string, params map[string]any) (UnsubscribeFunc, error) {
	if channel == "" {
		return nil, errors.WrapSubscription(
			errors.ErrInvalidConfig,
			"Client", "Subscribe", "channel name required")
	}

	handle, first := c.registry.Subscribe(channel, params, c.lastUnsubscribed)
	if first && c.session.IsConnected() {
		if err := c.session.Send(envelope.NewSubscribe(channel, params)); err != nil {
			// the registry entry stays: it is retransmitted on reconnect
			// and drives the polling fallback meanwhile
			c.logger.Warn("subscribe send failed", "channel", channel, "error", err)
		}
	}
	return handle.Release, nil
}

// SendMessage transmits an envelope on the push connection. When the session
// is not open the message is dropped and the error is reported through the
// error observer as well as returned.
func (c *Client) SendMessage(env envelope.Envelope) error {
	return c.session.Send(env)
}

// State returns the current connection lifecycle state.
func (c *Client) State() State {
	return c.session.State()
}

// IsConnected reports whether the push connection is open.
func (c *Client) IsConnected() bool {
	return c.session.IsConnected()
}

// IsPollingMode reports whether updates are currently arriving via the
// polling fallback: the push connection is down, the fallback is enabled,
// and at least one subscription exists.
func (c *Client) IsPollingMode() bool {
	return c.poller != nil && c.poller.Active() &&
		!c.session.IsConnected() && c.registry.Len() > 0
}

// LastMessage returns the most recent delivered envelope. ok is false before
// the first delivery.
func (c *Client) LastMessage() (envelope.Envelope, bool) {
	return c.dispatcher.LastMessage()
}

// Drain returns and clears the buffered history for an envelope type, oldest
// first. Requires WithHistory.
func (c *Client) Drain(envType string) []envelope.Envelope {
	return c.dispatcher.Drain(envType)
}

// Err returns the most recent error observed by either transport, or nil.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.lastErr
}

// Stats is a point-in-time snapshot of client health.
type Stats struct {
	State              State
	ReconnectCount     int
	PollingActive      bool
	LastFetchTimestamp int64
	Subscriptions      int
}

// Stats returns a snapshot of the client's current condition.
func (c *Client) Stats() Stats {
	s := Stats{
		State:          c.session.State(),
		ReconnectCount: c.session.ReconnectCount(),
		Subscriptions:  c.registry.Len(),
	}
	if c.poller != nil {
		s.PollingActive = c.poller.Active()
		s.LastFetchTimestamp = c.poller.LastFetch()
	}
	return s
}

// pushRestored runs every time the connection reaches open: polling stops
// and every live subscription is retransmitted on the new connection.
func (c *Client) pushRestored() {
	c.stopPolling()
	for _, sub := range c.registry.Snapshot() {
		if err := c.session.Send(envelope.NewSubscribe(sub.Channel, sub.Params)); err != nil {
			c.logger.Warn("resubscribe failed", "channel", sub.Channel, "error", err)
		}
	}
}

// pushUnavailable runs when the reconnect budget is spent. With the fallback
// enabled polling takes over; otherwise the error already recorded stands as
// terminal.
func (c *Client) pushUnavailable(err error) {
	if c.poller == nil {
		c.logger.Error("push unavailable and no fallback configured", "error", err)
		return
	}
	c.mu.Lock()
	ctx := c.runCtx
	c.mu.Unlock()

	c.poller.Start(ctx)
	if c.metrics != nil {
		c.metrics.Core.PollingActive.Set(1)
	}
}

func (c *Client) stopPolling() {
	if c.poller == nil {
		return
	}
	c.poller.Stop()
	if c.metrics != nil {
		c.metrics.Core.PollingActive.Set(0)
	}
}

func (c *Client) lastUnsubscribed(sub subscription.Subscription) {
	if c.session.IsConnected() {
		if err := c.session.Send(envelope.NewUnsubscribe(sub.Channel, sub.Params)); err != nil {
			c.logger.Warn("unsubscribe send failed", "channel", sub.Channel, "error", err)
		}
	}
}

func (c *Client) stateChanged(s State) {
	if c.onConnectionChange != nil {
		c.onConnectionChange(s)
	}
}

func (c *Client) report(err error) {
	if err == nil {
		return
	}
	c.errMu.Lock()
	c.lastErr = err
	c.errMu.Unlock()
	if c.onError != nil {
		c.onError(err)
	}
}

func (c *Client) reportPolling(err error) {
	c.report(err)
	if c.metrics != nil {
		c.metrics.Core.RecordError(errors.KindOf(err).String())
	}
}
