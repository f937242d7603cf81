// Package metrics exposes Prometheus instrumentation for the realtime hub.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/edlive/livehub/internal/core"
)

// Collector is nil-safe: a nil *Collector is a no-op, so instrumentation can
// be switched off in config without call sites caring.
type Collector struct {
	connectedDevices prometheus.Gauge
	liveSessions     prometheus.Gauge
	broadcasts       prometheus.Counter
	droppedSends     prometheus.Counter
}

func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		connectedDevices: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "livehub",
			Name:      "connected_devices",
			Help:      "Number of devices currently registered with the hub.",
		}),
		liveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "livehub",
			Name:      "live_sessions",
			Help:      "Number of sessions with at least one connected device.",
		}),
		broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "livehub",
			Name:      "session_broadcasts_total",
			Help:      "Total session broadcasts fanned out by the hub.",
		}),
		droppedSends: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "livehub",
			Name:      "dropped_sends_total",
			Help:      "Broadcast recipients skipped due to closed or backpressured connections.",
		}),
	}
	reg.MustRegister(c.connectedDevices, c.liveSessions, c.broadcasts, c.droppedSends)
	return c
}

func (c *Collector) SetConnectedDevices(n int) {
	if c == nil {
		return
	}
	c.connectedDevices.Set(float64(n))
}

func (c *Collector) SetLiveSessions(n int) {
	if c == nil {
		return
	}
	c.liveSessions.Set(float64(n))
}

func (c *Collector) ObserveBroadcast(res core.PublishResult) {
	if c == nil {
		return
	}
	c.broadcasts.Inc()
	c.droppedSends.Add(float64(res.Dropped))
}
