package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/JasonSowers/twitch-pubsub/internal/metrics"
)

// Timing constants of the keep-alive and reconnect machinery. The server
// expects a PING at least every five minutes; four leaves headroom.
const (
	heartbeatInterval = 4 * time.Minute
	pongWaitTimeout   = 10 * time.Second
	backoffFloor      = 3 * time.Second
	backoffCeiling    = 2 * time.Minute
	jitterMax         = time.Second
)

// ErrNotConnected is returned by Send while the connection is not open.
// Callers are expected to log and move on; control frames are never queued
// for a future connection.
var ErrNotConnected = errors.New("pubsub: connection not open")

// State is the transport state of the managed connection.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// Conn is the subset of *websocket.Conn the manager needs. Tests substitute
// an in-memory implementation.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer establishes a connection to the PubSub endpoint.
type Dialer func(ctx context.Context) (Conn, error)

// WebsocketDialer returns a Dialer for the given wss:// URL.
func WebsocketDialer(url string) Dialer {
	return func(ctx context.Context) (Conn, error) {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

// FrameHandler receives every raw inbound frame of the active connection.
type FrameHandler interface {
	HandleFrame(ctx context.Context, raw []byte)
}

// Manager owns the single long-lived PubSub connection: it dials, keeps the
// connection alive with PING/PONG, and reconnects with jittered exponential
// backoff when liveness is lost. At most one connection is open at a time
// and at most one reconnect attempt is pending.
type Manager struct {
	dial    Dialer
	clock   clockwork.Clock
	handler FrameHandler
	onOpen  func(ctx context.Context)
	jitter  func(max time.Duration) time.Duration

	mu           sync.Mutex
	conn         Conn
	state        State
	awaitingPong bool
	pongTimer    clockwork.Timer
	backoff      time.Duration

	writeMu sync.Mutex
}

// NewManager creates a connection manager. The frame handler and on-open hook
// are attached afterwards via SetHandler and SetOnOpen so the dispatcher and
// the manager can reference each other.
func NewManager(dial Dialer, clock clockwork.Clock) *Manager {
	return &Manager{
		dial:    dial,
		clock:   clock,
		jitter:  func(max time.Duration) time.Duration { return time.Duration(rand.Int63n(int64(max))) },
		backoff: backoffFloor,
	}
}

// SetHandler attaches the inbound frame handler. Must be called before Run.
func (m *Manager) SetHandler(h FrameHandler) { m.handler = h }

// SetOnOpen attaches the hook invoked after each successful connect. The
// owner of the monitored-channel set uses it to re-issue LISTENs; the manager
// itself keeps no subscription state.
func (m *Manager) SetOnOpen(fn func(ctx context.Context)) { m.onOpen = fn }

// State returns the current transport state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Run connects and serves the connection until ctx is cancelled, reconnecting
// on any failure. It returns ctx.Err() on cancellation.
func (m *Manager) Run(ctx context.Context) error {
	for {
		m.setState(StateConnecting)
		conn, err := m.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				m.setState(StateDisconnected)
				return ctx.Err()
			}
			slog.Error("PubSub dial failed", "error", err)
			if !m.waitBackoff(ctx) {
				return ctx.Err()
			}
			continue
		}

		m.open(conn)
		slog.Info("PubSub connection open")

		epochCtx, cancelEpoch := context.WithCancel(ctx)
		go m.heartbeatLoop(epochCtx)
		if m.onOpen != nil {
			m.onOpen(ctx)
		}

		m.readLoop(ctx, conn)

		cancelEpoch()
		m.teardown()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !m.waitBackoff(ctx) {
			return ctx.Err()
		}
	}
}

// Send marshals and writes a frame on the active connection. While the
// connection is not open the frame is dropped and ErrNotConnected returned.
func (m *Manager) Send(ctx context.Context, req Request) error {
	m.mu.Lock()
	conn := m.conn
	open := m.state == StateOpen
	m.mu.Unlock()

	if !open || conn == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(req)
	if err != nil {
		return err
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

// PongReceived cancels the pending pong deadline. Called by the dispatcher
// when a PONG frame arrives.
func (m *Manager) PongReceived() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopPongTimerLocked()
	m.awaitingPong = false
}

// RequestReconnect tears down the current connection; the run loop schedules
// the reconnect. Called on a server-issued RECONNECT directive.
func (m *Manager) RequestReconnect() {
	metrics.ReconnectsTotal.WithLabelValues("server_request").Inc()
	slog.Info("Server requested reconnect")
	m.closeConn()
}

// Close tears down the current connection without stopping the run loop.
func (m *Manager) Close() {
	m.closeConn()
}

func (m *Manager) open(conn Conn) {
	m.mu.Lock()
	m.conn = conn
	m.state = StateOpen
	m.awaitingPong = false
	m.stopPongTimerLocked()
	// Optimistic reset: the backoff returns to its floor as soon as a
	// connection opens, not after it proves stable.
	m.backoff = backoffFloor
	m.mu.Unlock()

	metrics.ConnectionOpen.Set(1)
	metrics.BackoffSeconds.Set(backoffFloor.Seconds())
}

func (m *Manager) readLoop(ctx context.Context, conn Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				slog.Warn("PubSub read failed", "error", err)
				metrics.ReconnectsTotal.WithLabelValues("read_error").Inc()
			}
			return
		}
		if m.handler != nil {
			m.handler.HandleFrame(ctx, raw)
		}
	}
}

// heartbeatLoop sends one PING immediately and then one per interval for the
// lifetime of a connection epoch. It runs on its own goroutine so a slow
// redemption pipeline can never starve keep-alives.
func (m *Manager) heartbeatLoop(ctx context.Context) {
	m.heartbeat()
	ticker := m.clock.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			m.heartbeat()
		}
	}
}

func (m *Manager) heartbeat() {
	m.mu.Lock()
	if m.state != StateOpen || m.conn == nil {
		m.mu.Unlock()
		slog.Debug("Heartbeat skipped, connection not open")
		return
	}
	if m.awaitingPong {
		m.mu.Unlock()
		metrics.HeartbeatsTotal.WithLabelValues("skipped").Inc()
		slog.Warn("Heartbeat skipped, previous ping still awaiting pong")
		return
	}
	m.awaitingPong = true
	m.pongTimer = m.clock.AfterFunc(pongWaitTimeout, m.pongExpired)
	conn := m.conn
	m.mu.Unlock()

	data, _ := json.Marshal(Request{Type: TypePing})
	m.writeMu.Lock()
	err := conn.WriteMessage(websocket.TextMessage, data)
	m.writeMu.Unlock()
	if err != nil {
		slog.Warn("Heartbeat send failed", "error", err)
		return
	}
	metrics.HeartbeatsTotal.WithLabelValues("sent").Inc()
}

func (m *Manager) pongExpired() {
	slog.Warn("Pong deadline expired, forcing reconnect")
	metrics.ReconnectsTotal.WithLabelValues("pong_timeout").Inc()
	m.closeConn()
}

func (m *Manager) closeConn() {
	m.mu.Lock()
	conn := m.conn
	if conn != nil {
		m.state = StateClosing
	}
	m.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// teardown releases everything attached to the finished connection epoch.
// Stale pong deadlines must not survive into the next epoch.
func (m *Manager) teardown() {
	m.mu.Lock()
	m.stopPongTimerLocked()
	m.awaitingPong = false
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.state = StateDisconnected
	m.mu.Unlock()

	metrics.ConnectionOpen.Set(0)
}

// waitBackoff sleeps for the current backoff interval plus jitter, then
// doubles the interval up to the ceiling. Returns false if ctx was cancelled
// while waiting.
func (m *Manager) waitBackoff(ctx context.Context) bool {
	m.mu.Lock()
	delay := m.backoff + m.jitter(jitterMax)
	m.backoff = min(m.backoff*2, backoffCeiling)
	m.mu.Unlock()

	metrics.BackoffSeconds.Set(delay.Seconds())
	slog.Info("Reconnecting", "delay", delay)

	timer := m.clock.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.Chan():
		return true
	case <-ctx.Done():
		return false
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Manager) stopPongTimerLocked() {
	if m.pongTimer != nil {
		m.pongTimer.Stop()
		m.pongTimer = nil
	}
}
