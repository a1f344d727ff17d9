// Package stream owns the lifecycle of the real-time traffic channel.
package stream

import (
	"Cerberus/internal/config"
	"Cerberus/internal/model"
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// maxFrameSize bounds a single inbound frame.
const maxFrameSize = 1 << 20

// ErrStopped is returned by Start after Stop has been called.
var ErrStopped = errors.New("stream manager is shut down")

// TokenSource provides the access token used to qualify the stream URL.
type TokenSource interface {
	AccessToken() (string, bool)
}

// Sink receives everything the manager emits. Calls are made in order and may
// hold the manager's lock, so implementations must not call back into the Manager.
type Sink interface {
	StateChanged(state model.ConnectionState)
	Log(kind model.LogKind, message string)
	Frame(frame model.Frame)
}

// Manager connects to the traffic stream, reconnects after unexpected
// closures and forwards decoded frames to its Sink. A Manager is single-use:
// once stopped it stays in ShuttingDown.
type Manager struct {
	url    string
	tokens TokenSource
	sink   Sink
	dialer *websocket.Dialer
	delay  time.Duration

	mu         sync.Mutex
	state      model.ConnectionState
	current    *attempt
	reconnect  *time.Timer
	seq        int
	reconnects int
}

// attempt is one dial and the socket it produced. The socket is closed
// exactly once, by whichever of Stop, a forced close or the read loop gets there first.
type attempt struct {
	id     int
	cancel context.CancelFunc

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

// attach records the dialed socket. It returns false if the attempt was
// already closed, in which case the caller owns conn and must close it.
func (a *attempt) attach(conn *websocket.Conn) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return false
	}
	a.conn = conn
	return true
}

// close cancels the dial and closes the socket, once. A graceful close
// sends a normal-closure frame first.
func (a *attempt) close(graceful bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.closed = true
	a.cancel()
	if a.conn == nil {
		return
	}
	if graceful {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = a.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	}
	if err := a.conn.Close(); err != nil {
		log.Printf("Stream: error closing connection: %v", err)
	}
}

// NewManager creates a manager for the configured stream endpoint.
func NewManager(cfg config.StreamConfig, tokens TokenSource, sink Sink) *Manager {
	return &Manager{
		url:    cfg.URL,
		tokens: tokens,
		sink:   sink,
		dialer: &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: config.Duration(cfg.HandshakeTimeout, 10*time.Second),
		},
		delay: config.Duration(cfg.ReconnectDelay, 3*time.Second),
		state: model.Disconnected,
	}
}

// State returns the current connection state.
func (m *Manager) State() model.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Reconnects returns how many reconnect attempts have been scheduled.
func (m *Manager) Reconnects() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reconnects
}

// Start opens the channel. Without an access token it stays Disconnected,
// logs an error and returns model.ErrNoToken; no retry is scheduled.
// Starting an already connecting or connected manager is a no-op.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectLocked()
}

// Stop closes the channel without reconnecting and cancels any pending
// reconnect. It is safe to call more than once.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	next, action := Transition(m.state, InputUserStop)
	if action != ActionCancel {
		return
	}
	if m.reconnect != nil {
		m.reconnect.Stop()
		m.reconnect = nil
	}
	// The state flips before the socket closes so the read loop sees an
	// owner-initiated close and does not schedule a reconnect.
	m.setStateLocked(next)
	if a := m.current; a != nil {
		a.close(true)
	}
	m.sink.Log(model.LogSystem, "Real-time connection closed.")
}

func (m *Manager) connectLocked() error {
	if m.state == model.ShuttingDown {
		return ErrStopped
	}
	token, ok := m.tokens.AccessToken()
	if !ok {
		m.sink.Log(model.LogError, "Authentication token not found. Real-time connection not started.")
		return model.ErrNoToken
	}
	target, err := m.streamURL(token)
	if err != nil {
		m.sink.Log(model.LogError, fmt.Sprintf("Invalid stream URL: %v", err))
		return err
	}

	next, action := Transition(m.state, InputStart)
	if action != ActionDial {
		return nil
	}
	m.setStateLocked(next)

	ctx, cancel := context.WithCancel(context.Background())
	m.seq++
	a := &attempt{id: m.seq, cancel: cancel}
	m.current = a
	go m.run(ctx, a, target)
	return nil
}

func (m *Manager) streamURL(token string) (string, error) {
	u, err := url.Parse(m.url)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// run dials, reads until the channel fails and reports the outcome.
func (m *Manager) run(ctx context.Context, a *attempt, target string) {
	conn, _, err := m.dialer.DialContext(ctx, target, nil)
	if err != nil {
		a.close(false)
		m.lost(a, fmt.Errorf("dial failed: %w", err), false)
		return
	}
	if !a.attach(conn) {
		conn.Close()
		return
	}
	defer a.close(false)

	if !m.opened(a) {
		return
	}
	conn.SetReadLimit(maxFrameSize)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			m.lost(a, err, !errors.As(err, &closeErr))
			return
		}
		frame, err := DecodeFrame(data)
		if err != nil {
			m.sink.Log(model.LogError, fmt.Sprintf("Dropped malformed frame: %v", err))
			continue
		}
		m.sink.Frame(frame)
	}
}

func (m *Manager) opened(a *attempt) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != a {
		return false
	}
	next, _ := Transition(m.state, InputOpened)
	if next != model.Connected {
		return false
	}
	m.setStateLocked(next)
	log.Printf("Stream connected to %s (attempt %d)", m.url, a.id)
	m.sink.Log(model.LogSystem, "Real-time connection active.")
	return true
}

// lost handles the end of an attempt this side did not initiate.
func (m *Manager) lost(a *attempt, cause error, transportErr bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != a || m.state == model.ShuttingDown {
		return
	}

	if transportErr {
		if _, action := Transition(m.state, InputTransportError); action == ActionForceClose {
			m.sink.Log(model.LogError, fmt.Sprintf("Stream error: %v. Closing connection.", cause))
			a.close(false)
		}
	}

	next, action := Transition(m.state, InputRemoteClose)
	m.setStateLocked(next)
	log.Printf("Stream attempt %d ended: %v", a.id, cause)
	if action == ActionScheduleReconnect {
		m.scheduleReconnectLocked()
	}
}

func (m *Manager) scheduleReconnectLocked() {
	if m.reconnect != nil {
		return
	}
	if _, ok := m.tokens.AccessToken(); !ok {
		m.sink.Log(model.LogError, "Real-time connection lost. Authentication token not found, not reconnecting.")
		return
	}
	m.sink.Log(model.LogError, "Real-time connection lost. Reconnecting...")
	m.reconnects++
	gen := m.reconnects
	m.reconnect = time.AfterFunc(m.delay, func() { m.fireReconnect(gen) })
}

func (m *Manager) fireReconnect(gen int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reconnect == nil || m.reconnects != gen {
		return
	}
	m.reconnect = nil
	if m.state != model.Disconnected {
		return
	}
	if err := m.connectLocked(); err != nil {
		log.Printf("Stream reconnect not attempted: %v", err)
	}
}

func (m *Manager) setStateLocked(state model.ConnectionState) {
	if m.state == state {
		return
	}
	m.state = state
	m.sink.StateChanged(state)
}
