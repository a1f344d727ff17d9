// Package state holds the mutable dashboard state. A State has exactly one
// owner goroutine; nothing in this package is safe for concurrent use.
package state

import (
	"Cerberus/internal/buffer"
	"Cerberus/internal/config"
	"Cerberus/internal/model"
	"Cerberus/internal/stats"
	"time"
)

// DisplayTimeLayout is how system log entries are stamped at capture time.
const DisplayTimeLayout = "2006-01-02 15:04:05"

// Snapshot is the result of one composite REST fetch.
type Snapshot struct {
	Alerts []model.AlertEvent
	Stats  model.AggregateStats
	Model  model.ModelStatus
}

// State is everything the dashboard displays.
type State struct {
	Traffic   *buffer.Bounded[model.TrafficEvent]
	Alerts    *buffer.Bounded[model.AlertEvent]
	SystemLog *buffer.Bounded[model.SystemLogEntry]
	Counters  stats.Counters

	Stats      model.AggregateStats
	Model      model.ModelStatus
	Connection model.ConnectionState

	Authenticated bool
	User          *model.User

	// Now stamps log entries and views. Tests may replace it.
	Now func() time.Time
}

// New creates an empty state with buffers sized by cfg. Zero traffic and
// system log capacities fall back to the defaults.
func New(cfg config.BuffersConfig) *State {
	traffic := cfg.TrafficCapacity
	if traffic <= 0 {
		traffic = config.DefaultTrafficCapacity
	}
	systemLog := cfg.SystemLogCapacity
	if systemLog <= 0 {
		systemLog = config.DefaultSystemLogCapacity
	}
	return &State{
		Traffic:   buffer.New[model.TrafficEvent](traffic),
		Alerts:    buffer.New[model.AlertEvent](cfg.AlertCapacity),
		SystemLog: buffer.New[model.SystemLogEntry](systemLog),
		Stats:     emptyStats(),
		Now:       time.Now,
	}
}

func emptyStats() model.AggregateStats {
	return model.AggregateStats{
		ProtocolBreakdown: []model.ProtocolCount{},
		TopSources:        []model.SourceCount{},
	}
}

// AppendLog adds a narration entry stamped with the current local time.
func (s *State) AppendLog(kind model.LogKind, message string) {
	s.SystemLog.Push(model.SystemLogEntry{
		Message:   message,
		Timestamp: s.Now().Format(DisplayTimeLayout),
		Kind:      kind,
	})
}

// ApplySnapshot replaces the aggregate stats, the model status and the alert
// buffer with a fetched snapshot. The system log and counters are untouched.
func (s *State) ApplySnapshot(snap Snapshot) {
	s.Alerts.Replace(snap.Alerts)
	s.Stats = snap.Stats
	if s.Stats.ProtocolBreakdown == nil || s.Stats.TopSources == nil {
		defaults := emptyStats()
		if s.Stats.ProtocolBreakdown == nil {
			s.Stats.ProtocolBreakdown = defaults.ProtocolBreakdown
		}
		if s.Stats.TopSources == nil {
			s.Stats.TopSources = defaults.TopSources
		}
	}
	s.Model = snap.Model
}

// SetSession records who is logged in. A nil user marks the state unauthenticated.
func (s *State) SetSession(user *model.User) {
	if user == nil {
		s.Authenticated = false
		s.User = nil
		return
	}
	u := *user
	s.Authenticated = true
	s.User = &u
}

// View composes an immutable snapshot for readers.
func (s *State) View() model.DashboardView {
	view := model.DashboardView{
		Connection:    s.Connection,
		Authenticated: s.Authenticated,
		Traffic:       s.Traffic.Items(),
		Alerts:        s.Alerts.Items(),
		SystemLog:     s.SystemLog.Items(),
		PacketCount:   s.Counters.Packets,
		TotalBytes:    s.Counters.Bytes,
		TotalData:     stats.FormatBytes(s.Counters.Bytes),
		AlertCount:    s.Counters.Alerts,
		Stats: model.AggregateStats{
			ProtocolBreakdown: append([]model.ProtocolCount{}, s.Stats.ProtocolBreakdown...),
			TopSources:        append([]model.SourceCount{}, s.Stats.TopSources...),
		},
		ModelStatus: s.Model,
		UpdatedAt:   s.Now(),
	}
	if s.User != nil {
		u := *s.User
		view.User = &u
	}
	return view
}
