// Package metrics exposes dashboard state to Prometheus.
package metrics

import (
	"Cerberus/internal/model"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "cerberus"

// ViewFunc returns the most recently published dashboard view.
type ViewFunc func() model.DashboardView

// Collector reads the published view on every scrape and also counts
// per-frame events as they are dispatched.
type Collector struct {
	view ViewFunc

	packetsDesc    *prometheus.Desc
	bytesDesc      *prometheus.Desc
	alertsDesc     *prometheus.Desc
	connectionDesc *prometheus.Desc
	bufferDesc     *prometheus.Desc
	modelDesc      *prometheus.Desc
	protocolDesc   *prometheus.Desc

	frames    *prometheus.CounterVec
	dropped   *prometheus.CounterVec
	refreshes *prometheus.CounterVec
}

var connectionStates = []model.ConnectionState{
	model.Disconnected, model.Connecting, model.Connected, model.ShuttingDown,
}

// NewCollector creates a collector backed by view.
func NewCollector(view ViewFunc) *Collector {
	return &Collector{
		view:           view,
		packetsDesc:    prometheus.NewDesc(namespace+"_packets_total", "Traffic events received on the stream", nil, nil),
		bytesDesc:      prometheus.NewDesc(namespace+"_bytes_total", "Sum of packet sizes received on the stream", nil, nil),
		alertsDesc:     prometheus.NewDesc(namespace+"_alerts_total", "Alerts received on the stream", nil, nil),
		connectionDesc: prometheus.NewDesc(namespace+"_stream_connection_state", "1 for the current stream connection state", []string{"state"}, nil),
		bufferDesc:     prometheus.NewDesc(namespace+"_buffer_entries", "Entries held in each event buffer", []string{"buffer"}, nil),
		modelDesc:      prometheus.NewDesc(namespace+"_model_status", "Detection model status flags", []string{"flag"}, nil),
		protocolDesc:   prometheus.NewDesc(namespace+"_protocol_packets", "Packets per protocol from the last snapshot", []string{"protocol"}, nil),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dispatched_total",
			Help:      "Stream frames applied to the dashboard state, by type",
		}, []string{"type"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Stream frames dropped, by reason",
		}, []string{"reason"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_refreshes_total",
			Help:      "Composite REST snapshot fetches, by result",
		}, []string{"result"}),
	}
}

// FrameDispatched counts an applied frame.
func (c *Collector) FrameDispatched(frameType string) {
	c.frames.WithLabelValues(frameType).Inc()
}

// FrameDropped counts a frame that was not applied.
func (c *Collector) FrameDropped(reason string) {
	c.dropped.WithLabelValues(reason).Inc()
}

// RefreshFinished counts a finished snapshot fetch. result is "ok", "error" or "stale".
func (c *Collector) RefreshFinished(result string) {
	c.refreshes.WithLabelValues(result).Inc()
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.packetsDesc
	ch <- c.bytesDesc
	ch <- c.alertsDesc
	ch <- c.connectionDesc
	ch <- c.bufferDesc
	ch <- c.modelDesc
	ch <- c.protocolDesc
	c.frames.Describe(ch)
	c.dropped.Describe(ch)
	c.refreshes.Describe(ch)
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	v := c.view()

	ch <- prometheus.MustNewConstMetric(c.packetsDesc, prometheus.CounterValue, float64(v.PacketCount))
	ch <- prometheus.MustNewConstMetric(c.bytesDesc, prometheus.CounterValue, float64(v.TotalBytes))
	ch <- prometheus.MustNewConstMetric(c.alertsDesc, prometheus.CounterValue, float64(v.AlertCount))

	for _, s := range connectionStates {
		val := 0.0
		if s == v.Connection {
			val = 1
		}
		ch <- prometheus.MustNewConstMetric(c.connectionDesc, prometheus.GaugeValue, val, s.String())
	}

	ch <- prometheus.MustNewConstMetric(c.bufferDesc, prometheus.GaugeValue, float64(len(v.Traffic)), "traffic")
	ch <- prometheus.MustNewConstMetric(c.bufferDesc, prometheus.GaugeValue, float64(len(v.Alerts)), "alerts")
	ch <- prometheus.MustNewConstMetric(c.bufferDesc, prometheus.GaugeValue, float64(len(v.SystemLog)), "system_log")

	ch <- prometheus.MustNewConstMetric(c.modelDesc, prometheus.GaugeValue, boolValue(v.ModelStatus.IsTrained), "trained")
	ch <- prometheus.MustNewConstMetric(c.modelDesc, prometheus.GaugeValue, boolValue(v.ModelStatus.IsTraining), "training")

	// The backend may report the same protocol twice; sum them so label sets stay unique.
	perProto := make(map[string]int64, len(v.Stats.ProtocolBreakdown))
	for _, p := range v.Stats.ProtocolBreakdown {
		perProto[p.Protocol] += p.Count
	}
	for proto, count := range perProto {
		ch <- prometheus.MustNewConstMetric(c.protocolDesc, prometheus.GaugeValue, float64(count), proto)
	}

	c.frames.Collect(ch)
	c.dropped.Collect(ch)
	c.refreshes.Collect(ch)
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
