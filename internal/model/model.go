package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/gopacket/layers"
)

// ConnectionState is the lifecycle state of the streaming channel.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	ShuttingDown
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case ShuttingDown:
		return "shutting_down"
	default:
		return "unknown"
	}
}

// MarshalText lets the state appear by name in JSON views.
func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// User is the identity returned by the login endpoint.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// Tokens is the access/refresh pair issued on login.
type Tokens struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// Session holds the credentials of the logged-in user.
type Session struct {
	AccessToken  string
	RefreshToken string
	User         User
	// ExpiresAt is read from the access token's exp claim. Zero when unknown.
	ExpiresAt time.Time
}

// Timestamp accepts both RFC3339 and the zone-less ISO form some backends emit.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" || s == `""` {
		t.Time = time.Time{}
		return nil
	}
	unquoted, err := strconv.Unquote(s)
	if err != nil {
		return fmt.Errorf("timestamp is not a string: %s", s)
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, unquoted); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("unrecognized timestamp %q", unquoted)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Time.Format(time.RFC3339Nano))
}

// TrafficEvent is a single captured packet as broadcast by the backend.
type TrafficEvent struct {
	ID         int64     `json:"id"`
	Timestamp  Timestamp `json:"timestamp"`
	SourceIP   string    `json:"source_ip"`
	SourcePort int       `json:"source_port"`
	DestIP     string    `json:"dest_ip"`
	DestPort   int       `json:"dest_port"`
	Protocol   string    `json:"protocol"`
	PacketSize int64     `json:"packet_size"`
	TCPFlags   string    `json:"tcp_flags,omitempty"`
}

// Summary renders the event as a one-line log entry, e.g.
// "10.0.0.5:51000 -> 93.184.216.34:443(https) (TCP)".
func (e TrafficEvent) Summary() string {
	return fmt.Sprintf("%s:%s -> %s:%s (%s)",
		e.SourceIP, portName(e.Protocol, e.SourcePort),
		e.DestIP, portName(e.Protocol, e.DestPort),
		e.Protocol)
}

func portName(protocol string, port int) string {
	if port < 0 || port > 65535 {
		return strconv.Itoa(port)
	}
	switch strings.ToUpper(protocol) {
	case "TCP":
		return layers.TCPPort(port).String()
	case "UDP":
		return layers.UDPPort(port).String()
	case "SCTP":
		return layers.SCTPPort(port).String()
	default:
		return strconv.Itoa(port)
	}
}

// AlertEvent is an intrusion alert, either live or from the historical list.
type AlertEvent struct {
	ID         int64     `json:"id"`
	Timestamp  Timestamp `json:"timestamp"`
	Message    string    `json:"message"`
	Severity   string    `json:"severity,omitempty"`
	TrafficLog *int64    `json:"traffic_log,omitempty"`
}

// LogKind classifies system log entries.
type LogKind string

const (
	LogSystem LogKind = "system"
	LogAlert  LogKind = "alert"
	LogError  LogKind = "error"
)

// SystemLogEntry is a line of locally synthesized narration.
type SystemLogEntry struct {
	Message   string  `json:"message"`
	Timestamp string  `json:"timestamp"`
	Kind      LogKind `json:"kind"`
}

// ModelStatus reports the anomaly detector's training state.
type ModelStatus struct {
	IsTrained  bool `json:"is_trained"`
	IsTraining bool `json:"is_training"`
}

type ProtocolCount struct {
	Protocol string `json:"protocol"`
	Count    int64  `json:"count"`
}

type SourceCount struct {
	SourceIP string `json:"source_ip"`
	Count    int64  `json:"count"`
}

// AggregateStats is the derived breakdown served by the stats endpoint.
type AggregateStats struct {
	ProtocolBreakdown []ProtocolCount `json:"protocol_breakdown"`
	TopSources        []SourceCount   `json:"top_sources"`
}

// TrainAck is the acknowledgement returned when training is started.
type TrainAck struct {
	Message string `json:"message"`
}

// Frame types broadcast on the traffic stream.
const (
	FrameTraffic = "traffic"
	FrameAlert   = "alert"
	FrameSystem  = "system"
)

// Frame is one message received over the streaming channel.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// DashboardView is an immutable copy of the dashboard state handed to readers.
type DashboardView struct {
	Connection    ConnectionState  `json:"connection"`
	Authenticated bool             `json:"authenticated"`
	User          *User            `json:"user,omitempty"`
	Traffic       []TrafficEvent   `json:"traffic"`
	Alerts        []AlertEvent     `json:"alerts"`
	SystemLog     []SystemLogEntry `json:"system_log"`
	PacketCount   uint64           `json:"packet_count"`
	TotalBytes    uint64           `json:"total_bytes"`
	TotalData     string           `json:"total_data"`
	AlertCount    uint64           `json:"alert_count"`
	Stats         AggregateStats   `json:"stats"`
	ModelStatus   ModelStatus      `json:"model_status"`
	UpdatedAt     time.Time        `json:"updated_at"`
}
