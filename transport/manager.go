package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/sonet-social/messaging/backoff"
	"github.com/sonet-social/messaging/config"
)

// State is the connection manager's lifecycle state.
type State int

const (
	// StateDisconnected holds before Start and after Shutdown.
	StateDisconnected State = iota
	// StateConnecting is the first connection attempt.
	StateConnecting
	// StateConnected means frames flow and heartbeats are acknowledged.
	StateConnected
	// StateReconnecting means the connection dropped and backoff retries run.
	StateReconnecting
)

// String renders the state for logs.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// StateChange is published on the event stream for every transition, so the
// coordinator knows when it is safe to flush the offline queue.
type StateChange struct {
	From State
	To   State
	At   time.Time
}

// ErrNotConnected is returned by Send while no connection is established.
// Callers enqueue instead of retrying the transport directly.
var ErrNotConnected = errors.New("transport not connected")

// heartbeatMissLimit forces a reconnect after this many consecutive
// unacknowledged heartbeats.
const heartbeatMissLimit = 2

// Manager owns the long-lived gateway connection: one goroutine runs the
// connect/reconnect loop, one the read loop, one the heartbeat. Reconnection
// backs off exponentially with jitter and never gives up while the process
// lives; only Shutdown is terminal.
type Manager struct {
	cfg    config.TransportConfig
	token  string
	dialer Dialer
	policy backoff.Policy

	mu    sync.RWMutex
	state State
	conn  Conn

	events chan StateChange
	frames chan *Frame

	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// NewManager creates a connection manager. The bearer token is presented
// once per dial; dialer may be nil to use the WebSocket dialer.
func NewManager(cfg config.TransportConfig, token string, dialer Dialer) *Manager {
	if dialer == nil {
		dialer = WebSocketDialer{}
	}
	return &Manager{
		cfg:    cfg,
		token:  token,
		dialer: dialer,
		policy: backoff.New(cfg.BackoffBase, cfg.BackoffCap, cfg.BackoffJitter),
		state:  StateDisconnected,
		events: make(chan StateChange, 32),
		frames: make(chan *Frame, 64),
		done:   make(chan struct{}),
	}
}

// Events returns the state transition stream.
func (m *Manager) Events() <-chan StateChange { return m.events }

// Frames returns the inbound frame stream. Heartbeat acks are filtered out.
func (m *Manager) Frames() <-chan *Frame { return m.frames }

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Start launches the connection loop. It is a no-op if already started.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.mu.Unlock()

	go m.run(runCtx)
}

// Shutdown terminates the manager. This is the only transition into a
// permanent Disconnected state.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	cancel := m.cancel
	started := m.started
	m.mu.Unlock()

	if !started || cancel == nil {
		return
	}
	cancel()
	<-m.done
}

// Send transmits a frame on the current connection, bounded by the
// configured send timeout. It fails fast with ErrNotConnected while offline
// so the caller can enqueue instead.
func (m *Manager) Send(ctx context.Context, frame *Frame) error {
	m.mu.RLock()
	conn, state := m.conn, m.state
	m.mu.RUnlock()

	if state != StateConnected || conn == nil {
		return ErrNotConnected
	}

	timeout := m.cfg.SendTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	sendCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return conn.WriteFrame(sendCtx, frame)
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.done)

	attempt := 0
	first := true
	for {
		if ctx.Err() != nil {
			m.transition(StateDisconnected)
			return
		}

		if first {
			m.transition(StateConnecting)
			first = false
		} else {
			m.transition(StateReconnecting)
		}

		conn, err := m.dialer.Dial(ctx, m.cfg.URL, m.token)
		if err != nil {
			delay := m.policy.Delay(attempt)
			attempt++
			logrus.WithFields(logrus.Fields{
				"function": "run",
				"attempt":  attempt,
				"delay":    delay.String(),
				"error":    err.Error(),
			}).Warn("Gateway dial failed, backing off")

			select {
			case <-ctx.Done():
				m.transition(StateDisconnected)
				return
			case <-time.After(delay):
			}
			continue
		}

		attempt = 0
		m.setConn(conn)
		m.transition(StateConnected)

		serveErr := m.serve(ctx, conn)
		m.setConn(nil)
		_ = conn.Close()

		if ctx.Err() != nil {
			m.transition(StateDisconnected)
			return
		}

		logrus.WithFields(logrus.Fields{
			"function": "run",
			"error":    serveErr.Error(),
		}).Warn("Gateway connection lost, reconnecting")
	}
}

// serve runs the read loop for one connection and its heartbeat goroutine.
// It returns when the connection breaks or the heartbeat declares it dead.
func (m *Manager) serve(ctx context.Context, conn Conn) error {
	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var missed atomic.Int32
	var pendingID atomic.Value
	pendingID.Store("")

	go m.heartbeatLoop(serveCtx, cancel, conn, &missed, &pendingID)

	for {
		frame, err := conn.ReadFrame(serveCtx)
		if err != nil {
			if serveCtx.Err() != nil {
				return errors.New("heartbeat timeout")
			}
			return err
		}

		if frame.Type == FrameAck && frame.Ref != "" && frame.Ref == pendingID.Load().(string) {
			missed.Store(0)
			continue
		}

		select {
		case m.frames <- frame:
		default:
			logrus.WithFields(logrus.Fields{
				"function":   "serve",
				"frame_type": string(frame.Type),
			}).Warn("Inbound frame buffer full, dropping frame")
		}
	}
}

// heartbeatLoop sends a presence frame each interval. Each send counts as a
// miss until the matching ack arrives; hitting the miss limit cancels the
// connection so the read loop forces a reconnect.
func (m *Manager) heartbeatLoop(ctx context.Context, abort context.CancelFunc, conn Conn, missed *atomic.Int32, pendingID *atomic.Value) {
	interval := m.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	// A heartbeat write that cannot complete within the timeout means the
	// connection is wedged; treat it like a lost connection.
	timeout := m.cfg.HeartbeatTimeout
	if timeout <= 0 {
		timeout = interval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if missed.Load() >= heartbeatMissLimit {
				logrus.WithField("function", "heartbeatLoop").
					Warn("Two consecutive heartbeats unacknowledged, forcing reconnect")
				abort()
				return
			}

			id := uuid.NewString()
			pendingID.Store(id)
			missed.Add(1)

			hb := &Frame{Type: FramePresence, ID: id, CreatedAt: time.Now()}
			writeCtx, cancel := context.WithTimeout(ctx, timeout)
			err := conn.WriteFrame(writeCtx, hb)
			cancel()
			if err != nil {
				abort()
				return
			}
		}
	}
}

func (m *Manager) setConn(conn Conn) {
	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()
}

// transition updates the state and publishes the change. The event buffer is
// generous; if a consumer stalls the oldest event is dropped rather than
// blocking the connection loop.
func (m *Manager) transition(to State) {
	m.mu.Lock()
	from := m.state
	if from == to {
		m.mu.Unlock()
		return
	}
	m.state = to
	m.mu.Unlock()

	change := StateChange{From: from, To: to, At: time.Now()}
	for {
		select {
		case m.events <- change:
			logrus.WithFields(logrus.Fields{
				"function": "transition",
				"from":     from.String(),
				"to":       to.String(),
			}).Info("Connection state changed")
			return
		default:
			select {
			case <-m.events:
			default:
			}
		}
	}
}
