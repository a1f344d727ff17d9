// Package dashboard composes the stream, the REST snapshot and the session
// into one state owned by a single writer goroutine.
package dashboard

import (
	"Cerberus/internal/config"
	"Cerberus/internal/dispatch"
	"Cerberus/internal/model"
	"Cerberus/internal/state"
	"Cerberus/internal/stream"
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
)

// ErrStaleRefresh is returned by Refresh when a newer refresh started before
// this one finished; its result was discarded.
var ErrStaleRefresh = errors.New("refresh superseded by a newer one")

// ErrStopped is returned when the state loop is no longer running.
var ErrStopped = errors.New("dashboard is stopped")

// Backend is the REST API the dashboard reads its snapshot from.
type Backend interface {
	Login(ctx context.Context, username, password string) (model.Session, error)
	FetchAlerts(ctx context.Context) ([]model.AlertEvent, error)
	FetchStats(ctx context.Context) (model.AggregateStats, error)
	FetchModelStatus(ctx context.Context) (model.ModelStatus, error)
	StartTraining(ctx context.Context) (model.TrainAck, error)
}

// Sessions is the part of the session store the dashboard needs.
type Sessions interface {
	AccessToken() (string, bool)
	User() (model.User, bool)
	ClearSession()
}

// Stream is a single-use connection to the traffic stream.
type Stream interface {
	Start() error
	Stop()
}

// StreamFactory creates a stream reporting to sink.
type StreamFactory func(tokens stream.TokenSource, sink stream.Sink) Stream

// ManagerFactory returns a StreamFactory building stream.Managers from cfg.
func ManagerFactory(cfg config.StreamConfig) StreamFactory {
	return func(tokens stream.TokenSource, sink stream.Sink) Stream {
		return stream.NewManager(cfg, tokens, sink)
	}
}

// AlertSink receives every live alert, e.g. for digests.
type AlertSink interface {
	Enqueue(alert model.AlertEvent)
}

// Recorder counts dashboard events.
type Recorder interface {
	FrameDispatched(frameType string)
	FrameDropped(reason string)
	RefreshFinished(result string)
}

// Options are the optional collaborators of a Dashboard.
type Options struct {
	Buffers  config.BuffersConfig
	Relay    model.FrameRelay
	Alerts   AlertSink
	Recorder Recorder
}

type command func(st *state.State)

// Dashboard is the state store. All mutations run on the goroutine executing
// Run; readers use GetState or Subscribe.
type Dashboard struct {
	backend   Backend
	sessions  Sessions
	newStream StreamFactory
	opts      Options

	cmds       chan command
	done       chan struct{}
	st         *state.State
	dispatcher *dispatch.Dispatcher
	loopCtx    context.Context

	view       atomic.Pointer[model.DashboardView]
	refreshGen atomic.Uint64
	streamGen  atomic.Uint64

	streamMu sync.Mutex
	stream   Stream

	subMu   sync.Mutex
	subs    map[int]chan model.DashboardView
	nextSub int
}

// New creates a dashboard. Nothing happens until Run is called.
func New(backend Backend, sessions Sessions, newStream StreamFactory, opts Options) *Dashboard {
	d := &Dashboard{
		backend:   backend,
		sessions:  sessions,
		newStream: newStream,
		opts:      opts,
		cmds:      make(chan command, 256),
		done:      make(chan struct{}),
		st:        state.New(opts.Buffers),
		subs:      make(map[int]chan model.DashboardView),
	}
	d.dispatcher = dispatch.New(d.triggerRefetch)
	if user, ok := sessions.User(); ok {
		if _, hasToken := sessions.AccessToken(); hasToken {
			d.st.SetSession(&user)
		}
	}
	d.publish()
	return d
}

// Run processes commands until ctx is cancelled, then stops the stream.
func (d *Dashboard) Run(ctx context.Context) error {
	d.loopCtx = ctx
	log.Println("Dashboard state loop started")
	for {
		select {
		case cmd := <-d.cmds:
			cmd(d.st)
			d.publish()
		case <-ctx.Done():
			close(d.done)
			d.stopStream()
			d.closeSubscribers()
			log.Println("Dashboard state loop stopped")
			return ctx.Err()
		}
	}
}

// GetState returns the latest published view.
func (d *Dashboard) GetState() model.DashboardView {
	return *d.view.Load()
}

// Subscribe returns a channel holding the latest view after every change and
// a function that ends the subscription. Slow readers only miss intermediate views.
// Once Run has returned the channel holds the final view and is already closed.
func (d *Dashboard) Subscribe() (<-chan model.DashboardView, func()) {
	ch := make(chan model.DashboardView, 1)
	ch <- d.GetState()

	d.subMu.Lock()
	select {
	case <-d.done:
		d.subMu.Unlock()
		close(ch)
		return ch, func() {}
	default:
	}
	id := d.nextSub
	d.nextSub++
	d.subs[id] = ch
	d.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			d.subMu.Lock()
			if _, ok := d.subs[id]; ok {
				delete(d.subs, id)
				close(ch)
			}
			d.subMu.Unlock()
		})
	}
}

func (d *Dashboard) publish() {
	v := d.st.View()
	d.view.Store(&v)

	d.subMu.Lock()
	defer d.subMu.Unlock()
	for _, ch := range d.subs {
		select {
		case ch <- v:
		default:
			// Replace the unread view with the newer one.
			select {
			case <-ch:
			default:
			}
			ch <- v
		}
	}
}

func (d *Dashboard) closeSubscribers() {
	d.subMu.Lock()
	defer d.subMu.Unlock()
	for id, ch := range d.subs {
		close(ch)
		delete(d.subs, id)
	}
}

// submit queues a command. It returns false once the loop has stopped.
func (d *Dashboard) submit(cmd command) bool {
	select {
	case d.cmds <- cmd:
		return true
	case <-d.done:
		return false
	}
}

// apply queues a command and waits until the loop has run it.
func (d *Dashboard) apply(cmd command) bool {
	applied := make(chan struct{})
	ok := d.submit(func(st *state.State) {
		cmd(st)
		close(applied)
	})
	if !ok {
		return false
	}
	select {
	case <-applied:
		return true
	case <-d.done:
		return false
	}
}

// Refresh fetches alerts, stats and model status concurrently and applies
// them together. On failure nothing is applied and an error entry is logged.
func (d *Dashboard) Refresh(ctx context.Context) error {
	gen := d.refreshGen.Add(1)

	var (
		wg        sync.WaitGroup
		snap      state.Snapshot
		errAlerts error
		errStats  error
		errModel  error
	)
	wg.Add(3)
	go func() {
		defer wg.Done()
		snap.Alerts, errAlerts = d.backend.FetchAlerts(ctx)
	}()
	go func() {
		defer wg.Done()
		snap.Stats, errStats = d.backend.FetchStats(ctx)
	}()
	go func() {
		defer wg.Done()
		snap.Model, errModel = d.backend.FetchModelStatus(ctx)
	}()
	wg.Wait()

	err := errors.Join(errAlerts, errStats, errModel)
	if errors.Is(err, model.ErrUnauthenticated) {
		d.stopStream()
	}

	var stale bool
	applied := d.apply(func(st *state.State) {
		if gen != d.refreshGen.Load() {
			stale = true
			return
		}
		if err != nil {
			st.AppendLog(model.LogError, fmt.Sprintf("Failed to fetch dashboard data. %v", err))
			if errors.Is(err, model.ErrUnauthenticated) {
				d.markLoggedOut(st)
			}
			return
		}
		st.ApplySnapshot(snap)
	})

	switch {
	case !applied:
		return ErrStopped
	case stale:
		d.record(func(r Recorder) { r.RefreshFinished("stale") })
		return ErrStaleRefresh
	case err != nil:
		log.Printf("Dashboard refresh failed: %v", err)
		d.record(func(r Recorder) { r.RefreshFinished("error") })
		return fmt.Errorf("refresh failed: %w", err)
	}
	d.record(func(r Recorder) { r.RefreshFinished("ok") })
	return nil
}

// triggerRefetch runs on the loop goroutine, so the refresh must not be awaited there.
func (d *Dashboard) triggerRefetch() {
	ctx := d.loopCtx
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		if err := d.Refresh(ctx); err != nil && !errors.Is(err, ErrStaleRefresh) {
			log.Printf("Refetch after training failed: %v", err)
		}
	}()
}

// ClearTrafficLog empties the traffic buffer. Counters are kept.
func (d *Dashboard) ClearTrafficLog() {
	d.apply(func(st *state.State) {
		st.Traffic.Clear()
	})
}

// RequestTraining asks the backend to train the model and marks training as
// started without waiting for the backend to confirm it.
func (d *Dashboard) RequestTraining(ctx context.Context) error {
	ack, err := d.backend.StartTraining(ctx)
	if err != nil {
		if errors.Is(err, model.ErrUnauthenticated) {
			d.stopStream()
		}
		d.apply(func(st *state.State) {
			st.AppendLog(model.LogError, fmt.Sprintf("Failed to start training. %v", err))
			if errors.Is(err, model.ErrUnauthenticated) {
				d.markLoggedOut(st)
			}
		})
		return fmt.Errorf("start training: %w", err)
	}

	message := ack.Message
	if message == "" {
		message = "Model training started."
	}
	d.apply(func(st *state.State) {
		st.AppendLog(model.LogSystem, message)
		st.Model.IsTraining = true
	})
	return nil
}

// Login authenticates against the backend.
func (d *Dashboard) Login(ctx context.Context, username, password string) error {
	sess, err := d.backend.Login(ctx, username, password)
	if err != nil {
		d.apply(func(st *state.State) {
			st.AppendLog(model.LogError, fmt.Sprintf("Login failed. %v", err))
		})
		return err
	}
	user := sess.User
	d.apply(func(st *state.State) {
		st.SetSession(&user)
		st.AppendLog(model.LogSystem, fmt.Sprintf("Logged in as %s.", user.Username))
	})
	return nil
}

// Connect loads the snapshot and opens the traffic stream. A failed snapshot
// does not prevent the stream from starting.
func (d *Dashboard) Connect(ctx context.Context) error {
	if _, ok := d.sessions.AccessToken(); !ok {
		d.apply(func(st *state.State) {
			st.AppendLog(model.LogError, "Authentication token not found. Please log in.")
		})
		return model.ErrNoToken
	}
	refreshErr := d.Refresh(ctx)
	if errors.Is(refreshErr, model.ErrUnauthenticated) {
		return refreshErr
	}
	return errors.Join(refreshErr, d.startStream())
}

// Logout stops the stream and forgets the session.
func (d *Dashboard) Logout() {
	d.stopStream()
	d.sessions.ClearSession()
	d.apply(func(st *state.State) {
		st.SetSession(nil)
		st.AppendLog(model.LogSystem, "Logged out.")
	})
}

func (d *Dashboard) markLoggedOut(st *state.State) {
	if st.Authenticated {
		st.AppendLog(model.LogError, "Session expired. Please log in again.")
	}
	st.SetSession(nil)
}

func (d *Dashboard) startStream() error {
	d.streamMu.Lock()
	defer d.streamMu.Unlock()
	if d.stream != nil {
		return nil
	}
	gen := d.streamGen.Add(1)
	s := d.newStream(d.sessions, &streamSink{d: d, gen: gen})
	if err := s.Start(); err != nil {
		return fmt.Errorf("start stream: %w", err)
	}
	d.stream = s
	return nil
}

func (d *Dashboard) stopStream() {
	d.streamMu.Lock()
	defer d.streamMu.Unlock()
	if d.stream == nil {
		return
	}
	d.stream.Stop()
	d.stream = nil
	d.streamGen.Add(1)
}

// handleFrame runs on the loop goroutine.
func (d *Dashboard) handleFrame(st *state.State, frame model.Frame) {
	msg, err := d.dispatcher.Dispatch(st, frame)
	if err != nil {
		reason := "parse_error"
		if errors.Is(err, dispatch.ErrUnknownType) {
			reason = "unknown_type"
		}
		d.record(func(r Recorder) { r.FrameDropped(reason) })
		return
	}
	d.record(func(r Recorder) { r.FrameDispatched(frame.Type) })

	if d.opts.Relay != nil {
		if err := d.opts.Relay.Publish(frame); err != nil {
			log.Printf("Relay: %s frame not forwarded: %v", frame.Type, err)
		}
	}
	if am, ok := msg.(dispatch.AlertMessage); ok && d.opts.Alerts != nil {
		d.opts.Alerts.Enqueue(am.Event)
	}
}

func (d *Dashboard) record(fn func(r Recorder)) {
	if d.opts.Recorder != nil {
		fn(d.opts.Recorder)
	}
}

// streamSink turns stream callbacks into loop commands. Callbacks from a
// stream that has since been stopped or replaced are dropped.
type streamSink struct {
	d   *Dashboard
	gen uint64
}

func (s *streamSink) current() bool {
	return s.gen == s.d.streamGen.Load()
}

func (s *streamSink) StateChanged(cs model.ConnectionState) {
	if s.current() {
		s.d.submit(func(st *state.State) { st.Connection = cs })
	}
}

func (s *streamSink) Log(kind model.LogKind, message string) {
	if s.current() {
		s.d.submit(func(st *state.State) { st.AppendLog(kind, message) })
	}
}

func (s *streamSink) Frame(frame model.Frame) {
	if s.current() {
		s.d.submit(func(st *state.State) { s.d.handleFrame(st, frame) })
	}
}
