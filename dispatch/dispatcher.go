// Package dispatch is the single funnel through which both transports hand
// updates to the consumer. It normalizes push messages and poll results into
// the same delivery path, intercepts internal heartbeat traffic, applies the
// optional consumer filter, and maintains the last-value slot plus an
// optional bounded per-channel history.
package dispatch

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/foani/CTA-Mission-sub000/envelope"
)

// Filter decides whether an envelope reaches the consumer. Envelopes failing
// the predicate are dropped silently.
type Filter func(envelope.Envelope) bool

// Observer receives every delivered envelope.
type Observer func(envelope.Envelope)

// Dispatcher delivers envelopes to the consumer with last-value semantics:
// LastMessage observes only the most recent update, not a queue. With
// history enabled each envelope type additionally keeps a bounded
// drop-oldest ring the consumer can drain.
type Dispatcher struct {
	logger   *slog.Logger
	filter   Filter
	observer Observer
	metrics  *Metrics

	lastMessage atomic.Pointer[envelope.Envelope]

	historySize int
	historyMu   sync.Mutex
	history     map[string]*ring
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithFilter sets the consumer-supplied filter predicate.
func WithFilter(f Filter) Option {
	return func(d *Dispatcher) { d.filter = f }
}

// WithObserver sets the delivery callback.
func WithObserver(o Observer) Option {
	return func(d *Dispatcher) { d.observer = o }
}

// WithHistory enables a bounded drop-oldest ring of size n per envelope
// type, for consumers that need more than the most recent value.
func WithHistory(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.historySize = n
			d.history = make(map[string]*ring)
		}
	}
}

// WithMetrics enables delivery metrics.
func WithMetrics(m *Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(logger *slog.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{logger: logger}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Deliver hands an inbound envelope to the consumer. Both the session (push
// messages) and the polling engine (poll results) call this. Returns true if
// the envelope reached the consumer.
func (d *Dispatcher) Deliver(env envelope.Envelope) bool {
	// Heartbeat traffic is session-internal and never forwarded
	if env.IsHeartbeat() {
		if d.metrics != nil {
			d.metrics.heartbeats.Inc()
		}
		return false
	}

	source := "push"
	if _, polled := env.FromPolling(); polled {
		source = "polling"
	}

	if d.filter != nil && !d.filter(env) {
		if d.metrics != nil {
			d.metrics.filtered.Inc()
		}
		d.logger.Debug("envelope dropped by filter", "type", env.Type, "source", source)
		return false
	}

	d.lastMessage.Store(&env)

	if d.historySize > 0 {
		d.historyMu.Lock()
		r, exists := d.history[env.Type]
		if !exists {
			r = newRing(d.historySize)
			d.history[env.Type] = r
		}
		r.push(env)
		d.historyMu.Unlock()
	}

	if d.metrics != nil {
		d.metrics.delivered.WithLabelValues(source).Inc()
	}

	d.logger.Debug("envelope delivered",
		"type", env.Type, "source", source, "age", env.Age())

	if d.observer != nil {
		d.observer(env)
	}
	return true
}

// LastMessage returns the most recent delivered envelope. ok is false before
// the first delivery.
func (d *Dispatcher) LastMessage() (envelope.Envelope, bool) {
	last := d.lastMessage.Load()
	if last == nil {
		return envelope.Envelope{}, false
	}
	return *last, true
}

// Drain removes and returns the buffered history for an envelope type,
// oldest first. Returns nil when history is disabled or empty.
func (d *Dispatcher) Drain(envType string) []envelope.Envelope {
	if d.historySize == 0 {
		return nil
	}

	d.historyMu.Lock()
	defer d.historyMu.Unlock()

	r, exists := d.history[envType]
	if !exists {
		return nil
	}
	return r.drain()
}
