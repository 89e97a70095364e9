// Package session owns the persistent push connection: dialing, the
// lifecycle state machine, heartbeat keep-alive, and the bounded reconnect
// policy. Recovery strategies are mutually exclusive: while the manager is
// retrying the connection the polling fallback stays off, and the fallback
// hook fires only once the reconnect budget is spent.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/foani/CTA-Mission-sub000/envelope"
	"github.com/foani/CTA-Mission-sub000/errors"
)

// Defaults applied by Config.withDefaults.
const (
	DefaultConnectTimeout       = 10 * time.Second
	DefaultHeartbeatInterval    = 30 * time.Second
	DefaultReconnectInterval    = 3 * time.Second
	DefaultMissedHeartbeatLimit = 2
)

// Config holds the connection parameters.
type Config struct {
	// URL of the realtime endpoint (ws:// or wss://).
	URL string

	// AuthToken, when set, is presented as a token query parameter.
	AuthToken string

	// ConnectTimeout bounds a single dial attempt.
	ConnectTimeout time.Duration

	// HeartbeatInterval is the keep-alive period while open.
	HeartbeatInterval time.Duration

	// MissedHeartbeatLimit is how many unacked heartbeats are tolerated
	// before the connection is declared dead.
	MissedHeartbeatLimit int

	// ShouldReconnect enables automatic recovery after a lost connection
	// or failed dial. ReconnectAttempts bounds the retries and
	// ReconnectInterval spaces them at a fixed distance.
	ShouldReconnect   bool
	ReconnectAttempts int
	ReconnectInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.MissedHeartbeatLimit <= 0 {
		c.MissedHeartbeatLimit = DefaultMissedHeartbeatLimit
	}
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = DefaultReconnectInterval
	}
	return c
}

// Hooks connect the manager to the rest of the client. All hooks are
// optional except Deliver and are invoked from the manager's own goroutines.
type Hooks struct {
	// Deliver hands every non-control inbound envelope to the dispatcher.
	Deliver func(envelope.Envelope) bool

	// OnStateChange fires on every lifecycle transition.
	OnStateChange func(State)

	// OnOpen fires each time the connection reaches open, after state
	// observers. The client resubscribes and stops polling here.
	OnOpen func()

	// OnError receives every classified error the manager records.
	OnError func(error)

	// OnFallback fires when the reconnect budget is exhausted, carrying
	// the terminal connection error. The client activates polling here
	// when the fallback is enabled.
	OnFallback func(error)
}

// Manager drives the push connection lifecycle.
type Manager struct {
	cfg     Config
	hooks   Hooks
	logger  *slog.Logger
	metrics *Metrics

	mu             sync.Mutex
	state          State
	conn           *websocket.Conn
	cancel         context.CancelFunc
	done           chan struct{}
	disposed       bool
	reconnectCount int

	writeMu sync.Mutex

	errMu   sync.Mutex
	lastErr error

	pendingMu sync.Mutex
	pending   map[string]time.Time // heartbeat ID -> send time
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics enables session metrics.
func WithMetrics(metrics *Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// NewManager creates a session manager in the uninstantiated state.
func NewManager(cfg Config, hooks Hooks, opts ...Option) (*Manager, error) {
	if cfg.URL == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig,
			"Manager", "NewManager", "realtime URL required")
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, errors.WrapInvalid(err, "Manager", "NewManager",
			"parse realtime URL")
	}
	if hooks.Deliver == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("nil deliver hook"),
			"Manager", "NewManager", "delivery hook required")
	}

	m := &Manager{
		cfg:     cfg.withDefaults(),
		hooks:   hooks,
		logger:  slog.Default(),
		state:   StateUninstantiated,
		pending: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "session")
	return m, nil
}

// Connect starts the connection. It is a no-op when already connecting or
// open, and fails once the manager has been closed. ctx scopes the whole
// session: canceling it tears the connection down. Dial results arrive
// asynchronously through the state and error observers.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return errors.WrapTerminal(errors.ErrSessionDisposed,
			"Manager", "Connect", "connect on closed session")
	}
	if m.state == StateConnecting || m.state == StateOpen {
		m.mu.Unlock()
		return nil
	}
	if m.cancel != nil {
		// stale supervise context from an exhausted recovery cycle
		m.cancel()
	}

	superviseCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.state = StateConnecting
	m.mu.Unlock()

	m.notifyState(StateConnecting)
	go m.supervise(superviseCtx, m.done)
	return nil
}

// Disconnect tears the connection down without triggering reconnection. It
// is idempotent and safe to call from any state, including mid-reconnect.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	cancel, done, conn := m.cancel, m.done, m.conn
	m.cancel, m.done = nil, nil
	closing := m.state == StateOpen || m.state == StateConnecting
	if closing {
		m.state = StateClosing
	}
	m.mu.Unlock()

	if closing {
		m.notifyState(StateClosing)
	}
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		m.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		m.writeMu.Unlock()
		_ = conn.Close()
	}
	if done != nil {
		<-done
	}
	m.setState(StateClosed)
}

// Close disconnects and disposes the session. A closed manager cannot
// connect again.
func (m *Manager) Close() {
	m.mu.Lock()
	m.disposed = true
	m.mu.Unlock()
	m.Disconnect()
}

// Reconnect forces a fresh connection with the reconnect budget reset.
func (m *Manager) Reconnect(ctx context.Context) error {
	m.Disconnect()
	m.mu.Lock()
	m.reconnectCount = 0
	m.mu.Unlock()
	return m.Connect(ctx)
}

// Send transmits an envelope on the push connection. It fails with a
// subscription error when the session is not open.
func (m *Manager) Send(env envelope.Envelope) error {
	m.mu.Lock()
	conn, state := m.conn, m.state
	m.mu.Unlock()

	if state != StateOpen || conn == nil {
		cause := errors.ErrNotConnected
		if state == StateClosing || state == StateClosed {
			cause = errors.ErrSendWhileClosed
		}
		err := errors.WrapSubscription(
			fmt.Errorf("%w: state %s", cause, state),
			"Manager", "Send", "send envelope")
		m.recordError(err)
		return err
	}
	if err := m.writeEnvelope(conn, env); err != nil {
		m.recordError(err)
		return err
	}
	return nil
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected reports whether the session is open.
func (m *Manager) IsConnected() bool {
	return m.State() == StateOpen
}

// Err returns the most recent classified error, or nil.
func (m *Manager) Err() error {
	m.errMu.Lock()
	defer m.errMu.Unlock()
	return m.lastErr
}

// ReconnectCount returns how many reconnect attempts the current recovery
// cycle has consumed.
func (m *Manager) ReconnectCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reconnectCount
}

// supervise owns the connection for its whole life: dial, read until
// failure, retry within budget, and hand off to the fallback when the
// budget is spent. Running dial and retry in one loop keeps the timer
// invariant trivially true: at most one wait is pending at any instant.
func (m *Manager) supervise(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		conn, err := m.dial(ctx)
		if ctx.Err() != nil {
			if conn != nil {
				_ = conn.Close()
			}
			return
		}
		if err != nil {
			m.recordError(err)
			m.setState(StateClosed)
			if !m.takeReconnectBudget() {
				m.exhausted(err)
				return
			}
			if !m.waitInterval(ctx) {
				return
			}
			m.setState(StateConnecting)
			continue
		}

		if !m.opened(ctx, conn) {
			return
		}

		connCtx, connCancel := context.WithCancel(ctx)
		go m.heartbeatLoop(connCtx, conn)
		err = m.readLoop(conn)
		connCancel()
		m.dropConn(conn)

		if ctx.Err() != nil {
			return
		}

		m.setState(StateClosed)
		m.recordError(err)
		if !m.takeReconnectBudget() {
			m.exhausted(err)
			return
		}
		if !m.waitInterval(ctx) {
			return
		}
		m.setState(StateConnecting)
	}
}

// dial races a single connection attempt against the connect timeout. The
// losing side is discarded: a handshake finishing after the deadline is
// closed by the dialer, never adopted.
func (m *Manager) dial(ctx context.Context) (*websocket.Conn, error) {
	endpoint := m.cfg.URL
	if m.cfg.AuthToken != "" {
		u, err := url.Parse(endpoint)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Manager", "dial", "parse URL")
		}
		q := u.Query()
		q.Set("token", m.cfg.AuthToken)
		u.RawQuery = q.Encode()
		endpoint = u.String()
	}

	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()

	dialer := &websocket.Dialer{HandshakeTimeout: m.cfg.ConnectTimeout}
	conn, resp, err := dialer.DialContext(dialCtx, endpoint, nil)
	if err != nil {
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if dialCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return nil, errors.WrapTimeout(
				fmt.Errorf("%w after %v", errors.ErrConnectionTimeout, m.cfg.ConnectTimeout),
				"Manager", "dial", "open connection")
		}
		return nil, errors.WrapConnection(
			fmt.Errorf("%w: %w", errors.ErrConnectionFailed, err),
			"Manager", "dial", "open connection")
	}
	return conn, nil
}

// opened adopts a freshly dialed connection. Adoption happens under the
// same lock Disconnect uses to capture the conn, so a teardown racing the
// dial either sees the conn and closes it, or is observed here (cancel
// cleared, ctx canceled, or disposed) and the conn is closed instead of
// adopted.
func (m *Manager) opened(ctx context.Context, conn *websocket.Conn) bool {
	m.mu.Lock()
	if ctx.Err() != nil || m.disposed || m.cancel == nil {
		m.mu.Unlock()
		_ = conn.Close()
		return false
	}
	m.conn = conn
	wasReconnect := m.reconnectCount > 0
	m.reconnectCount = 0
	m.mu.Unlock()

	m.pendingMu.Lock()
	m.pending = make(map[string]time.Time)
	m.pendingMu.Unlock()

	if wasReconnect {
		m.metrics.reconnect("success")
	}
	m.setState(StateOpen)
	m.logger.Info("connection open")
	if m.hooks.OnOpen != nil {
		m.hooks.OnOpen()
	}
	return true
}

func (m *Manager) dropConn(conn *websocket.Conn) {
	m.mu.Lock()
	if m.conn == conn {
		m.conn = nil
	}
	m.mu.Unlock()
	_ = conn.Close()
}

// readLoop pumps inbound frames until the connection fails. Malformed
// payloads surface a protocol error and the connection stays open.
func (m *Manager) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return errors.WrapConnection(
				fmt.Errorf("%w: %w", errors.ErrConnectionClosed, err),
				"Manager", "readLoop", "read frame")
		}

		env, err := envelope.Parse(data)
		if err != nil {
			m.recordError(err)
			continue
		}
		m.metrics.frame(env.Type)

		if env.Type == envelope.TypeHeartbeatAck {
			m.ackHeartbeat(env.ID)
			continue
		}
		if m.hooks.Deliver != nil {
			m.hooks.Deliver(env)
		}
	}
}

// heartbeatLoop sends a correlated heartbeat every interval while the
// connection lives. Too many unacked heartbeats force the connection closed
// so the reconnect policy takes over.
func (m *Manager) heartbeatLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.pendingHeartbeats() >= m.cfg.MissedHeartbeatLimit {
				m.metrics.missedHeartbeat()
				m.recordError(errors.WrapTimeout(
					fmt.Errorf("%d heartbeats unacked", m.cfg.MissedHeartbeatLimit),
					"Manager", "heartbeatLoop", "keep-alive"))
				_ = conn.Close()
				return
			}

			hb := envelope.NewHeartbeat()
			m.pendingMu.Lock()
			m.pending[hb.ID] = time.Now()
			m.pendingMu.Unlock()

			if err := m.writeEnvelope(conn, hb); err != nil {
				m.recordError(err)
				_ = conn.Close()
				return
			}
		}
	}
}

func (m *Manager) pendingHeartbeats() int {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	return len(m.pending)
}

func (m *Manager) ackHeartbeat(id string) {
	m.pendingMu.Lock()
	sent, ok := m.pending[id]
	if ok {
		delete(m.pending, id)
	}
	m.pendingMu.Unlock()

	if ok {
		m.metrics.observeRTT(time.Since(sent))
	}
}

func (m *Manager) writeEnvelope(conn *websocket.Conn, env envelope.Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return errors.WrapConnection(err, "Manager", "writeEnvelope", "write frame")
	}
	return nil
}

// takeReconnectBudget consumes one reconnect attempt. It returns false when
// reconnection is disabled or the budget is spent.
func (m *Manager) takeReconnectBudget() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed || !m.cfg.ShouldReconnect || m.cfg.ReconnectAttempts <= 0 {
		return false
	}
	if m.reconnectCount >= m.cfg.ReconnectAttempts {
		return false
	}
	m.reconnectCount++
	m.metrics.reconnect("attempt")
	m.logger.Info("scheduling reconnect",
		"attempt", m.reconnectCount, "max", m.cfg.ReconnectAttempts,
		"interval", m.cfg.ReconnectInterval)
	return true
}

func (m *Manager) waitInterval(ctx context.Context) bool {
	timer := time.NewTimer(m.cfg.ReconnectInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (m *Manager) exhausted(cause error) {
	m.metrics.reconnect("exhausted")
	// The session will not recover on its own from here; the error is
	// terminal even when the fallback hook hands off to polling.
	err := errors.WrapTerminal(
		fmt.Errorf("%w: %w", errors.ErrReconnectExhausted, cause),
		"Manager", "supervise", "recover connection")
	m.recordError(err)
	if m.hooks.OnFallback != nil {
		m.hooks.OnFallback(err)
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	if m.state == s {
		m.mu.Unlock()
		return
	}
	m.state = s
	m.mu.Unlock()
	m.notifyState(s)
}

func (m *Manager) notifyState(s State) {
	m.metrics.setState(s)
	m.logger.Debug("state changed", "state", s.String())
	if m.hooks.OnStateChange != nil {
		m.hooks.OnStateChange(s)
	}
}

func (m *Manager) recordError(err error) {
	if err == nil {
		return
	}
	m.errMu.Lock()
	m.lastErr = err
	m.errMu.Unlock()

	m.metrics.errorKind(err)
	m.logger.Warn("session error", "error", err)
	if m.hooks.OnError != nil {
		m.hooks.OnError(err)
	}
}
