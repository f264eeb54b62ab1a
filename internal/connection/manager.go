// Package connection maintains the realtime channel to the sync
// service. A reader goroutine feeds inbound frames to subscribers
// while the manager owns the state machine, capped exponential
// backoff with jitter, and heartbeat liveness probing.
package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/tidwall/gjson"

	apperrors "github.com/mpcrae/boardsync/internal/errors"
	"github.com/mpcrae/boardsync/internal/events"
)

//go:generate mockgen -source=manager.go -destination=mock_conn_test.go -package=connection

// Conn is the subset of *websocket.Conn the manager needs. Tests
// substitute a mock to drive handshake and read failures.
type Conn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, data []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// DialFunc opens the websocket. Overridable in tests.
type DialFunc func(ctx context.Context, url string) (Conn, error)

func defaultDial(ctx context.Context, url string) (Conn, error) {
	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Config carries the manager tunables.
type Config struct {
	URL               string
	Device            string
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	ReconnectLimit    int
	HeartbeatInterval time.Duration

	// DegradedThreshold is the heartbeat round-trip above which the
	// connection is reported degraded while staying connected.
	DegradedThreshold time.Duration
}

const (
	defaultBaseDelay         = time.Second
	defaultMaxDelay          = 30 * time.Second
	defaultReconnectLimit    = 10
	defaultHeartbeat         = 30 * time.Second
	defaultDegradedThreshold = 5 * time.Second

	// jitterMax bounds the random spread added to every backoff delay
	// so a fleet of clients does not reconnect in lockstep.
	jitterMax = time.Second

	handshakeTimeout = 10 * time.Second
	writeTimeout     = 10 * time.Second
)

// Manager owns the connection lifecycle. All state transitions happen
// under mu; the reader and heartbeat goroutines are per-connection and
// carry a generation number so a stale goroutine from a torn-down
// connection cannot corrupt the replacement.
type Manager struct {
	cfg    Config
	bus    *events.Bus
	logger *slog.Logger
	dial   DialFunc

	runCtx context.Context

	mu          sync.Mutex
	status      Status
	attempts    int
	lastLatency time.Duration
	online      bool
	suspended   bool
	conn        Conn
	connCancel  context.CancelFunc
	gen         uint64
	retryTimer  *time.Timer
}

// NewManager builds a manager publishing state changes on bus. Zero
// config fields fall back to their defaults.
func NewManager(cfg Config, bus *events.Bus, logger *slog.Logger) *Manager {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = defaultBaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = defaultMaxDelay
	}
	if cfg.ReconnectLimit <= 0 {
		cfg.ReconnectLimit = defaultReconnectLimit
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeat
	}
	if cfg.DegradedThreshold <= 0 {
		cfg.DegradedThreshold = defaultDegradedThreshold
	}
	return &Manager{
		cfg:    cfg,
		bus:    bus,
		logger: logger.With(slog.String("component", "connection")),
		dial:   defaultDial,
		status: StatusDisconnected,
		online: true,
		runCtx: context.Background(),
	}
}

// Start records the lifetime context and makes the initial connect
// attempt. A failed first dial is not an error: the manager schedules
// a reconnect and the process keeps running offline.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	m.runCtx = ctx
	m.mu.Unlock()
	go m.Connect(ctx)
}

// State returns a snapshot of the connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return State{Status: m.status, AttemptCount: m.attempts, LastLatency: m.lastLatency}
}

// Connect establishes the channel, tearing down any prior connection
// and cancelling any pending reconnect timer first. Calling it while
// a connect is already in flight is a no-op.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.status == StatusConnecting {
		m.mu.Unlock()
		return nil
	}
	if !m.online {
		m.mu.Unlock()
		return fmt.Errorf("host offline: %w", apperrors.ErrConnectionFailed)
	}
	m.suspended = false
	m.stopRetryTimerLocked()
	m.teardownLocked()
	m.setStatusLocked(StatusConnecting)
	gen := m.gen
	m.mu.Unlock()

	conn, err := m.dialAndHandshake(ctx)

	m.mu.Lock()
	if m.gen != gen || m.status != StatusConnecting {
		// Superseded by Disconnect or a newer Connect while dialing.
		m.mu.Unlock()
		if conn != nil {
			conn.Close(websocket.StatusNormalClosure, "superseded")
		}
		return nil
	}
	if err != nil {
		m.mu.Unlock()
		m.logger.Warn("connect failed", slog.String("error", err.Error()))
		m.HandleConnectError(err)
		return fmt.Errorf("connecting to %s: %w: %w", m.cfg.URL, err, apperrors.ErrConnectionFailed)
	}

	m.conn = conn
	m.attempts = 0
	connCtx, cancel := context.WithCancel(ctx)
	m.connCancel = cancel
	m.setStatusLocked(StatusConnected)
	m.mu.Unlock()

	m.logger.Info("connected", slog.String("url", m.cfg.URL))
	go m.readLoop(connCtx, conn, gen)
	go m.heartbeatLoop(connCtx, conn)
	return nil
}

func (m *Manager) dialAndHandshake(ctx context.Context) (Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	conn, err := m.dial(dialCtx, m.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dialing: %w", err)
	}

	init, _ := json.Marshal(initMessage{Event: "init", Device: m.cfg.Device, Protocol: protocolVersion})
	if err := conn.Write(dialCtx, websocket.MessageText, init); err != nil {
		conn.Close(websocket.StatusInternalError, "init failed")
		return nil, fmt.Errorf("sending init: %w", err)
	}

	_, data, err := conn.Read(dialCtx)
	if err != nil {
		conn.Close(websocket.StatusInternalError, "init_ack read failed")
		return nil, fmt.Errorf("reading init_ack: %w", err)
	}
	var ack initAck
	if err := json.Unmarshal(data, &ack); err != nil || ack.Event != "init_ack" || ack.Res != "ok" {
		conn.Close(websocket.StatusProtocolError, "bad init_ack")
		return nil, fmt.Errorf("handshake rejected: %q", data)
	}
	return conn, nil
}

// Disconnect tears down the connection on caller request. No
// reconnect is scheduled and any pending reconnect timer is stopped.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.suspended = true
	m.stopRetryTimerLocked()
	m.teardownLocked()
	m.setStatusLocked(StatusDisconnected)
}

// ForceReconnect resets the attempt counter and reconnects
// immediately, including out of the failed state.
func (m *Manager) ForceReconnect() {
	m.mu.Lock()
	m.attempts = 0
	m.suspended = false
	m.stopRetryTimerLocked()
	ctx := m.runCtx
	m.mu.Unlock()
	m.logger.Info("forced reconnect")
	go m.Connect(ctx)
}

// SetOnline reports host network availability. Going offline pauses
// any pending reconnect; coming back online resumes it without
// resetting the attempt counter.
func (m *Manager) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	if !online {
		m.stopRetryTimerLocked()
		m.teardownLocked()
		if m.status != StatusFailed {
			m.setStatusLocked(StatusDisconnected)
		}
		m.mu.Unlock()
		m.logger.Info("host offline, reconnect paused")
		return
	}
	resume := !m.suspended && m.status != StatusFailed && m.status != StatusConnected
	ctx := m.runCtx
	m.mu.Unlock()
	m.logger.Info("host online")
	if resume {
		go m.Connect(ctx)
	}
}

// Send writes an application event on the channel.
func (m *Manager) Send(ctx context.Context, payload any) error {
	m.mu.Lock()
	conn := m.conn
	connected := m.status == StatusConnected
	m.mu.Unlock()
	if !connected || conn == nil {
		return apperrors.ErrNotConnected
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := conn.Write(wctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("writing message: %w: %w", err, apperrors.ErrTransport)
	}
	return nil
}

// HandleConnectError records a failed connect attempt and either
// schedules the next one or, once the attempt counter reaches the
// limit, parks the manager in the failed state. Failed is terminal
// until ForceReconnect.
func (m *Manager) HandleConnectError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.suspended || m.status == StatusFailed {
		return
	}
	m.attempts++
	if m.attempts >= m.cfg.ReconnectLimit {
		m.setStatusLocked(StatusFailed)
		m.logger.Error("reconnect limit reached",
			slog.Int("attempts", m.attempts),
			slog.String("error", err.Error()))
		return
	}
	d := m.delay(m.attempts)
	m.setStatusLocked(StatusReconnecting)
	m.bus.Publish(events.ReconnectAttempt{Attempt: m.attempts, Delay: d})
	m.logger.Info("reconnect scheduled",
		slog.Int("attempt", m.attempts),
		slog.Duration("delay", d),
		slog.String("error", err.Error()))
	if m.online {
		ctx := m.runCtx
		m.retryTimer = time.AfterFunc(d, func() {
			m.Connect(ctx)
		})
	}
}

// HandleDisconnect records an unexpected connection drop and feeds it
// through the same retry path as a failed connect.
func (m *Manager) HandleDisconnect(err error) {
	m.mu.Lock()
	if m.suspended {
		m.mu.Unlock()
		return
	}
	m.teardownLocked()
	m.setStatusLocked(StatusDisconnected)
	m.mu.Unlock()
	m.logger.Warn("connection lost", slog.String("error", err.Error()))
	m.HandleConnectError(err)
}

// delay computes the capped exponential backoff for the given attempt
// number (1-based) plus a jitter in [0, jitterMax).
func (m *Manager) delay(attempt int) time.Duration {
	d := m.cfg.MaxDelay
	if attempt < 63 {
		if v := m.cfg.BaseDelay << (attempt - 1); v > 0 && v < m.cfg.MaxDelay {
			d = v
		}
	}
	return d + time.Duration(rand.Int64N(int64(jitterMax)))
}

func (m *Manager) readLoop(ctx context.Context, conn Conn, gen uint64) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.mu.Lock()
			stale := m.gen != gen
			m.mu.Unlock()
			if stale {
				return
			}
			m.HandleDisconnect(err)
			return
		}
		m.route(data)
	}
}

// route dispatches an inbound frame by its event field. Pongs feed
// the latency sampler; everything else is forwarded to subscribers.
func (m *Manager) route(data []byte) {
	event := gjson.GetBytes(data, "event").String()
	switch event {
	case "pong":
		m.handlePong(data)
	case "":
		m.logger.Warn("frame missing event field", slog.String("frame", string(data)))
	default:
		m.bus.Publish(events.ServerMessage{Event: event, Payload: append([]byte(nil), data...)})
	}
}

func (m *Manager) handlePong(data []byte) {
	sent := gjson.GetBytes(data, "sent").Int()
	if sent == 0 {
		return
	}
	latency := time.Since(time.Unix(0, sent))
	m.mu.Lock()
	m.lastLatency = latency
	m.mu.Unlock()
	if latency > m.cfg.DegradedThreshold {
		m.logger.Warn("connection degraded", slog.Duration("latency", latency))
		m.bus.Publish(events.ConnectionDegraded{Latency: latency})
	}
}

func (m *Manager) heartbeatLoop(ctx context.Context, conn Conn) {
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ping, _ := json.Marshal(pingMessage{Event: "ping", Sent: time.Now().UnixNano()})
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Write(wctx, websocket.MessageText, ping)
			cancel()
			if err != nil {
				// The read loop observes the same failure and owns
				// the reconnect decision.
				return
			}
		}
	}
}

// teardownLocked closes the current connection and bumps the
// generation so in-flight goroutines of the old connection retire.
func (m *Manager) teardownLocked() {
	m.gen++
	if m.connCancel != nil {
		m.connCancel()
		m.connCancel = nil
	}
	if m.conn != nil {
		m.conn.Close(websocket.StatusNormalClosure, "closing")
		m.conn = nil
	}
}

func (m *Manager) stopRetryTimerLocked() {
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
}

func (m *Manager) setStatusLocked(s Status) {
	if m.status == s {
		return
	}
	m.status = s
	m.bus.Publish(events.ConnectionChanged{Status: string(s), AttemptCount: m.attempts})
}
