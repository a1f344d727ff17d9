package metrics

import (
	"Cerberus/internal/model"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorReadsView(t *testing.T) {
	view := model.DashboardView{
		Connection:  model.Connected,
		Traffic:     make([]model.TrafficEvent, 3),
		PacketCount: 3,
		TotalBytes:  4096,
		AlertCount:  2,
		ModelStatus: model.ModelStatus{IsTrained: true},
		Stats: model.AggregateStats{
			ProtocolBreakdown: []model.ProtocolCount{{Protocol: "TCP", Count: 10}, {Protocol: "TCP", Count: 5}},
		},
	}
	c := NewCollector(func() model.DashboardView { return view })

	reg := prometheus.NewPedanticRegistry()
	if err := reg.Register(c); err != nil {
		t.Fatalf("Register: %v", err)
	}

	expected := `
# HELP cerberus_packets_total Traffic events received on the stream
# TYPE cerberus_packets_total counter
cerberus_packets_total 3
# HELP cerberus_stream_connection_state 1 for the current stream connection state
# TYPE cerberus_stream_connection_state gauge
cerberus_stream_connection_state{state="connected"} 1
cerberus_stream_connection_state{state="connecting"} 0
cerberus_stream_connection_state{state="disconnected"} 0
cerberus_stream_connection_state{state="shutting_down"} 0
# HELP cerberus_protocol_packets Packets per protocol from the last snapshot
# TYPE cerberus_protocol_packets gauge
cerberus_protocol_packets{protocol="TCP"} 15
`
	err := testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"cerberus_packets_total", "cerberus_stream_connection_state", "cerberus_protocol_packets")
	if err != nil {
		t.Error(err)
	}
}

func TestEventCounters(t *testing.T) {
	c := NewCollector(func() model.DashboardView { return model.DashboardView{} })
	c.FrameDispatched("traffic")
	c.FrameDispatched("traffic")
	c.FrameDropped("unknown_type")
	c.RefreshFinished("ok")

	if got := testutil.ToFloat64(c.frames.WithLabelValues("traffic")); got != 2 {
		t.Errorf("traffic frames = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.dropped.WithLabelValues("unknown_type")); got != 1 {
		t.Errorf("dropped = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.refreshes.WithLabelValues("ok")); got != 1 {
		t.Errorf("refreshes = %v, want 1", got)
	}
}
