package stream

import (
	"Cerberus/internal/config"
	"Cerberus/internal/model"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type staticTokens struct {
	mu    sync.Mutex
	token string
}

func (s *staticTokens) AccessToken() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, s.token != ""
}

func (s *staticTokens) set(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

type logLine struct {
	kind model.LogKind
	msg  string
}

type recordingSink struct {
	mu     sync.Mutex
	states []model.ConnectionState
	logs   []logLine
	frames []model.Frame
}

func (s *recordingSink) StateChanged(state model.ConnectionState) {
	s.mu.Lock()
	s.states = append(s.states, state)
	s.mu.Unlock()
}

func (s *recordingSink) Log(kind model.LogKind, message string) {
	s.mu.Lock()
	s.logs = append(s.logs, logLine{kind: kind, msg: message})
	s.mu.Unlock()
}

func (s *recordingSink) Frame(frame model.Frame) {
	s.mu.Lock()
	s.frames = append(s.frames, frame)
	s.mu.Unlock()
}

func (s *recordingSink) frameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func (s *recordingSink) hasLog(kind model.LogKind, substr string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.logs {
		if l.kind == kind && strings.Contains(l.msg, substr) {
			return true
		}
	}
	return false
}

// testServer upgrades every request and hands the connection to handle,
// numbered from 1.
type testServer struct {
	*httptest.Server
	dials  atomic.Int32
	tokens chan string
}

func newTestServer(t *testing.T, handle func(n int, conn *websocket.Conn)) *testServer {
	t.Helper()
	ts := &testServer{tokens: make(chan string, 16)}
	upgrader := websocket.Upgrader{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(ts.dials.Add(1))
		select {
		case ts.tokens <- r.URL.Query().Get("token"):
		default:
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handle(n, conn)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/traffic/"
}

// holdOpen keeps the server side open until the client goes away.
func holdOpen(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestManager(url string, tokens TokenSource, sink Sink) *Manager {
	return NewManager(config.StreamConfig{
		URL:              url,
		ReconnectDelay:   "20ms",
		HandshakeTimeout: "2s",
	}, tokens, sink)
}

func TestTransitionTable(t *testing.T) {
	type want struct {
		state  model.ConnectionState
		action Action
	}
	states := []model.ConnectionState{model.Disconnected, model.Connecting, model.Connected, model.ShuttingDown}
	inputs := []Input{InputStart, InputOpened, InputRemoteClose, InputTransportError, InputUserStop}

	expected := map[model.ConnectionState]map[Input]want{
		model.Disconnected: {
			InputStart:          {model.Connecting, ActionDial},
			InputOpened:         {model.Disconnected, ActionNone},
			InputRemoteClose:    {model.Disconnected, ActionNone},
			InputTransportError: {model.Disconnected, ActionNone},
			InputUserStop:       {model.ShuttingDown, ActionCancel},
		},
		model.Connecting: {
			InputStart:          {model.Connecting, ActionNone},
			InputOpened:         {model.Connected, ActionNone},
			InputRemoteClose:    {model.Disconnected, ActionScheduleReconnect},
			InputTransportError: {model.Connecting, ActionForceClose},
			InputUserStop:       {model.ShuttingDown, ActionCancel},
		},
		model.Connected: {
			InputStart:          {model.Connected, ActionNone},
			InputOpened:         {model.Connected, ActionNone},
			InputRemoteClose:    {model.Disconnected, ActionScheduleReconnect},
			InputTransportError: {model.Connected, ActionForceClose},
			InputUserStop:       {model.ShuttingDown, ActionCancel},
		},
	}

	for _, s := range states {
		for _, in := range inputs {
			gotState, gotAction := Transition(s, in)
			w, ok := expected[s][in]
			if !ok {
				w = want{model.ShuttingDown, ActionNone}
			}
			if gotState != w.state || gotAction != w.action {
				t.Errorf("Transition(%s, %s) = (%s, %d), want (%s, %d)", s, in, gotState, gotAction, w.state, w.action)
			}
		}
	}
}

func TestDecodeFrame(t *testing.T) {
	frame, err := DecodeFrame([]byte(`{"type":"alert","data":{"id":1}}`))
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if frame.Type != model.FrameAlert || string(frame.Data) != `{"id":1}` {
		t.Errorf("unexpected frame: %+v", frame)
	}

	for _, raw := range []string{`not json`, `{"data":{}}`, `[]`} {
		_, err := DecodeFrame([]byte(raw))
		var perr *model.ParseError
		if !errors.As(err, &perr) {
			t.Errorf("DecodeFrame(%q) error = %v, want ParseError", raw, err)
		}
	}
}

func TestManagerDeliversFrames(t *testing.T) {
	ts := newTestServer(t, func(n int, conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"traffic","data":{"id":1,"protocol":"TCP","packet_size":100}}`))
		holdOpen(conn)
	})
	sink := &recordingSink{}
	m := newTestManager(ts.wsURL(), &staticTokens{token: "abc"}, sink)

	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()

	waitFor(t, "frame", func() bool { return sink.frameCount() == 1 })
	if got := <-ts.tokens; got != "abc" {
		t.Errorf("token query = %q, want abc", got)
	}
	if m.State() != model.Connected {
		t.Errorf("state = %s, want connected", m.State())
	}
	if !sink.hasLog(model.LogSystem, "Real-time connection active.") {
		t.Error("missing connection-active log")
	}

	sink.mu.Lock()
	states := append([]model.ConnectionState(nil), sink.states...)
	frame := sink.frames[0]
	sink.mu.Unlock()
	if len(states) != 2 || states[0] != model.Connecting || states[1] != model.Connected {
		t.Errorf("state sequence = %v", states)
	}
	if frame.Type != model.FrameTraffic {
		t.Errorf("frame type = %q", frame.Type)
	}
}

func TestManagerReconnectsOnceAfterAbnormalClose(t *testing.T) {
	ts := newTestServer(t, func(n int, conn *websocket.Conn) {
		if n == 1 {
			// Drop the socket without a close frame.
			conn.UnderlyingConn().Close()
			return
		}
		holdOpen(conn)
	})
	sink := &recordingSink{}
	m := newTestManager(ts.wsURL(), &staticTokens{token: "abc"}, sink)

	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()

	waitFor(t, "second dial", func() bool { return ts.dials.Load() == 2 })
	waitFor(t, "reconnected", func() bool { return m.State() == model.Connected })

	time.Sleep(100 * time.Millisecond)
	if got := ts.dials.Load(); got != 2 {
		t.Errorf("dials = %d, want 2", got)
	}
	if got := m.Reconnects(); got != 1 {
		t.Errorf("reconnects = %d, want 1", got)
	}
	if !sink.hasLog(model.LogError, "Reconnecting") {
		t.Error("missing reconnect log")
	}
}

func TestManagerReconnectsAfterRemoteCloseFrame(t *testing.T) {
	ts := newTestServer(t, func(n int, conn *websocket.Conn) {
		if n == 1 {
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "restart")
			conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			return
		}
		holdOpen(conn)
	})
	sink := &recordingSink{}
	m := newTestManager(ts.wsURL(), &staticTokens{token: "abc"}, sink)

	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()

	waitFor(t, "second dial", func() bool { return ts.dials.Load() == 2 })
	waitFor(t, "reconnected", func() bool { return m.State() == model.Connected })
	if got := m.Reconnects(); got != 1 {
		t.Errorf("reconnects = %d, want 1", got)
	}
}

func TestManagerStopDoesNotReconnect(t *testing.T) {
	ts := newTestServer(t, func(n int, conn *websocket.Conn) {
		holdOpen(conn)
	})
	sink := &recordingSink{}
	m := newTestManager(ts.wsURL(), &staticTokens{token: "abc"}, sink)

	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "connected", func() bool { return m.State() == model.Connected })

	m.Stop()
	m.Stop()
	time.Sleep(100 * time.Millisecond)

	if m.State() != model.ShuttingDown {
		t.Errorf("state = %s, want shutting_down", m.State())
	}
	if got := ts.dials.Load(); got != 1 {
		t.Errorf("dials = %d, want 1", got)
	}
	if got := m.Reconnects(); got != 0 {
		t.Errorf("reconnects = %d, want 0", got)
	}
	if err := m.Start(); !errors.Is(err, ErrStopped) {
		t.Errorf("Start after Stop = %v, want ErrStopped", err)
	}
}

func TestManagerStopCancelsPendingReconnect(t *testing.T) {
	ts := newTestServer(t, func(n int, conn *websocket.Conn) {
		conn.UnderlyingConn().Close()
	})
	sink := &recordingSink{}
	m := NewManager(config.StreamConfig{
		URL:              ts.wsURL(),
		ReconnectDelay:   "200ms",
		HandshakeTimeout: "2s",
	}, &staticTokens{token: "abc"}, sink)

	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "reconnect scheduled", func() bool { return m.Reconnects() == 1 })

	m.Stop()
	time.Sleep(400 * time.Millisecond)

	if got := ts.dials.Load(); got != 1 {
		t.Errorf("dials = %d, want 1", got)
	}
	if got := m.Reconnects(); got != 1 {
		t.Errorf("reconnects = %d, want 1", got)
	}
	if m.State() != model.ShuttingDown {
		t.Errorf("state = %s, want shutting_down", m.State())
	}
}

func TestManagerRetriesAtFixedIntervalAfterDialFailure(t *testing.T) {
	// Reserve a port, then free it so every dial is refused.
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	addr := lis.Addr().String()
	lis.Close()

	sink := &recordingSink{}
	m := NewManager(config.StreamConfig{
		URL:              "ws://" + addr + "/ws/traffic/",
		ReconnectDelay:   "50ms",
		HandshakeTimeout: "1s",
	}, &staticTokens{token: "abc"}, sink)

	start := time.Now()
	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()

	waitFor(t, "three retries", func() bool { return m.Reconnects() >= 3 })
	// The third retry is scheduled only after two full delays.
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("3 retries after %v, want at least 100ms between the first and third", elapsed)
	}
	if m.State() == model.Connected {
		t.Error("manager reports connected to a closed port")
	}
	if !sink.hasLog(model.LogError, "Reconnecting") {
		t.Error("missing reconnect log")
	}

	m.Stop()
	n := m.Reconnects()
	time.Sleep(150 * time.Millisecond)
	if got := m.Reconnects(); got != n {
		t.Errorf("reconnects grew from %d to %d after Stop", n, got)
	}
}

func TestManagerWithoutToken(t *testing.T) {
	ts := newTestServer(t, func(n int, conn *websocket.Conn) {
		holdOpen(conn)
	})
	sink := &recordingSink{}
	m := newTestManager(ts.wsURL(), &staticTokens{}, sink)

	if err := m.Start(); !errors.Is(err, model.ErrNoToken) {
		t.Fatalf("Start = %v, want ErrNoToken", err)
	}
	time.Sleep(50 * time.Millisecond)

	if got := ts.dials.Load(); got != 0 {
		t.Errorf("dials = %d, want 0", got)
	}
	if m.State() != model.Disconnected {
		t.Errorf("state = %s, want disconnected", m.State())
	}
	if !sink.hasLog(model.LogError, "Authentication token not found") {
		t.Error("missing token error log")
	}
}

func TestManagerSkipsReconnectAfterLogout(t *testing.T) {
	tokens := &staticTokens{token: "abc"}
	release := make(chan struct{})
	ts := newTestServer(t, func(n int, conn *websocket.Conn) {
		<-release
	})
	sink := &recordingSink{}
	m := newTestManager(ts.wsURL(), tokens, sink)

	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()
	waitFor(t, "connected", func() bool { return m.State() == model.Connected })

	tokens.set("")
	close(release)

	waitFor(t, "disconnected", func() bool { return m.State() == model.Disconnected })
	time.Sleep(100 * time.Millisecond)
	if got := ts.dials.Load(); got != 1 {
		t.Errorf("dials = %d, want 1", got)
	}
	if got := m.Reconnects(); got != 0 {
		t.Errorf("reconnects = %d, want 0", got)
	}
}

func TestManagerDropsMalformedFrames(t *testing.T) {
	ts := newTestServer(t, func(n int, conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{not json`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"system","data":{"message":"hello"}}`))
		holdOpen(conn)
	})
	sink := &recordingSink{}
	m := newTestManager(ts.wsURL(), &staticTokens{token: "abc"}, sink)

	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()

	waitFor(t, "frame", func() bool { return sink.frameCount() == 1 })
	if m.State() != model.Connected {
		t.Errorf("state = %s, want connected", m.State())
	}
	if !sink.hasLog(model.LogError, "malformed frame") {
		t.Error("missing malformed frame log")
	}
	if got := ts.dials.Load(); got != 1 {
		t.Errorf("dials = %d, want 1", got)
	}
}
