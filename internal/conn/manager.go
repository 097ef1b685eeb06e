// Package conn owns the live transport session: dialing, heartbeat,
// close-code classification, and retry with exponential backoff. At most
// one websocket handle is live at a time; superseded handles are marked
// stale through the session generation so their late frames change nothing.
package conn

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/andrefarinha/courier/internal/session"
	"github.com/andrefarinha/courier/internal/state"
	"github.com/andrefarinha/courier/internal/wire"
)

var (
	// ErrNoCredentials means the token provider had no token or identity.
	ErrNoCredentials = errors.New("missing token or identity")
	// ErrNotConnected means the transport is not open for writes.
	ErrNotConnected = errors.New("transport not open")
	// ErrRetriesExhausted is surfaced after the final automatic retry fails.
	ErrRetriesExhausted = errors.New("reconnect attempts exhausted")
)

const (
	defaultHeartbeat = 25 * time.Second
	dialTimeout      = 10 * time.Second

	// closeCodeAuthRejected is the server's dedicated auth-rejection close
	// code, distinct from generic abrupt termination (1006).
	closeCodeAuthRejected = 4001
)

// EventSink receives typed events decoded from the transport.
type EventSink interface {
	Dispatch(ev state.Event)
}

// Manager drives the connect -> ready -> degrade -> retry lifecycle over a
// single websocket session.
type Manager struct {
	serverURL string
	tokens    TokenProvider
	machine   *session.Machine
	sink      EventSink
	logger    *zap.Logger

	heartbeat time.Duration

	mu          sync.Mutex
	ws          *websocket.Conn
	attempts    int
	retry       *time.Timer
	cancelPumps context.CancelFunc

	// gorilla allows one concurrent writer per connection.
	writeMu sync.Mutex
}

// NewManager creates a connection manager. No connection is attempted until
// Connect is called.
func NewManager(serverURL string, tokens TokenProvider, machine *session.Machine, sink EventSink, logger *zap.Logger) *Manager {
	return &Manager{
		serverURL: serverURL,
		tokens:    tokens,
		machine:   machine,
		sink:      sink,
		logger:    logger,
		heartbeat: defaultHeartbeat,
	}
}

// Connect opens a transport session, superseding any session already open.
// A dial failure schedules an automatic retry before returning the error.
func (m *Manager) Connect(ctx context.Context) error {
	token, err := m.tokens.Token()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNoCredentials, err)
	}
	if token == "" || m.tokens.Identity() == "" {
		return ErrNoCredentials
	}
	return m.dial(ctx, token)
}

// Reconnect resets the retry counter and dials immediately. This is the
// escape hatch after retries are exhausted or auth failed.
func (m *Manager) Reconnect() error {
	m.mu.Lock()
	m.attempts = 0
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
	m.mu.Unlock()
	return m.Connect(context.Background())
}

// Open reports whether the transport is currently writable.
func (m *Manager) Open() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ws != nil && m.machine.Current() == session.Connected
}

// Send writes one outbound frame. Frames are dropped with an error when
// the transport is not open; nothing is queued.
func (m *Manager) Send(out wire.Outbound) error {
	m.mu.Lock()
	ws := m.ws
	m.mu.Unlock()
	if ws == nil {
		return ErrNotConnected
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return ws.WriteJSON(out)
}

// Close tears the session down for good: timers cleared, socket closed
// with a normal shutdown code.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
	m.mu.Unlock()

	m.machine.Supersede()
	m.closeCurrent("client shutdown")
	if err := m.machine.Transition(session.Disconnected); err == nil {
		m.notifyStatus("")
	}
}

func (m *Manager) dial(ctx context.Context, token string) error {
	// Bump the generation first so the read pump of any current handle is
	// already stale by the time its socket errors out.
	gen := m.machine.Supersede()
	m.closeCurrent("superseded")

	if m.machine.Current() != session.Connecting {
		if err := m.machine.Transition(session.Connecting); err != nil {
			return err
		}
		m.notifyStatus("")
	}

	dctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	endpoint, err := m.dialURL(token)
	if err != nil {
		return err
	}
	ws, _, err := websocket.DefaultDialer.DialContext(dctx, endpoint, nil)
	if err != nil {
		m.logger.Warn("dial failed", zap.String("url", m.serverURL), zap.Error(err))
		if m.machine.Live(gen) {
			_ = m.machine.Transition(session.Reconnecting)
			m.notifyStatus("")
			m.scheduleRetry()
		}
		return fmt.Errorf("dial: %w", err)
	}

	pctx, pcancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.ws = ws
	m.attempts = 0
	m.cancelPumps = pcancel
	m.mu.Unlock()

	_ = m.machine.Transition(session.Connected)
	m.notifyStatus("")
	m.logger.Info("connected", zap.String("identity", m.tokens.Identity()), zap.Uint64("generation", gen))

	g, gctx := errgroup.WithContext(pctx)
	g.Go(func() error { return m.readPump(ws, gen) })
	g.Go(func() error { return m.heartbeatLoop(gctx, gen) })
	go func() { _ = g.Wait() }()

	return nil
}

// readPump decodes inbound frames and posts them to the sink. Frames from
// a superseded generation are dropped without touching state.
func (m *Manager) readPump(ws *websocket.Conn, gen uint64) error {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if m.machine.Live(gen) {
				m.handleClose(err)
			}
			return err
		}
		if !m.machine.Live(gen) {
			return nil
		}
		ev, derr := wire.Decode(data)
		if derr != nil {
			m.logger.Warn("malformed frame discarded", zap.Error(derr))
			continue
		}
		m.sink.Dispatch(ev)
	}
}

// heartbeatLoop proactively pings every heartbeat interval. The peer's
// silence is not treated as failure; only the write path can error here.
func (m *Manager) heartbeatLoop(ctx context.Context, gen uint64) error {
	ticker := time.NewTicker(m.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if !m.machine.Live(gen) {
				return nil
			}
			if err := m.Send(wire.Ping()); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// handleClose classifies the close reason of the live session.
func (m *Manager) handleClose(err error) {
	m.mu.Lock()
	m.ws = nil
	m.mu.Unlock()

	switch {
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		m.logger.Info("connection closed normally")
		_ = m.machine.Transition(session.Disconnected)
		m.notifyStatus("")

	case websocket.IsCloseError(err, closeCodeAuthRejected, websocket.CloseAbnormalClosure):
		// 4001 is an explicit rejection; an abrupt 1006 is treated
		// conservatively as a possible auth failure. Neither is retried:
		// the caller must supply a fresh token and call Connect again.
		m.logger.Warn("authentication failure close", zap.Error(err))
		_ = m.machine.Transition(session.AuthFailed)
		m.notifyStatus("authentication rejected by server")

	default:
		m.logger.Warn("abnormal close", zap.Error(err))
		_ = m.machine.Transition(session.Reconnecting)
		m.notifyStatus("")
		m.scheduleRetry()
	}
}

// scheduleRetry arms the backoff timer for the next attempt, or surfaces
// the terminal exhausted error once the retry budget is spent.
func (m *Manager) scheduleRetry() {
	m.mu.Lock()
	attempt := m.attempts
	if attempt >= maxAttempts {
		m.mu.Unlock()
		m.logger.Error("giving up", zap.Int("attempts", maxAttempts))
		_ = m.machine.Transition(session.Disconnected)
		m.notifyStatus(ErrRetriesExhausted.Error())
		return
	}
	m.attempts++
	delay := Delay(attempt)
	if m.retry != nil {
		m.retry.Stop()
	}
	m.retry = time.AfterFunc(delay, func() {
		token, err := m.tokens.Token()
		if err != nil || token == "" {
			m.logger.Warn("retry aborted, no credentials", zap.Error(err))
			return
		}
		_ = m.dial(context.Background(), token)
	})
	m.mu.Unlock()
	m.logger.Info("retry scheduled", zap.Int("attempt", attempt+1), zap.Duration("delay", delay))
}

// closeCurrent closes the current handle, if any, with a normal close
// frame so its close handler never looks like an abnormal drop.
func (m *Manager) closeCurrent(reason string) {
	m.mu.Lock()
	ws := m.ws
	m.ws = nil
	cancel := m.cancelPumps
	m.cancelPumps = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if ws == nil {
		return
	}
	m.writeMu.Lock()
	_ = ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
		time.Now().Add(time.Second))
	m.writeMu.Unlock()
	_ = ws.Close()
}

func (m *Manager) notifyStatus(errText string) {
	m.sink.Dispatch(state.StatusChanged{Status: m.machine.Current(), Err: errText})
}

func (m *Manager) dialURL(token string) (string, error) {
	u, err := url.Parse(m.serverURL)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
