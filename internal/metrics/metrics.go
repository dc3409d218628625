// Package metrics exposes read-only operational gauges over the connection
// registry and channel manager.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"quiz-sync-service/internal/channel"
	"quiz-sync-service/internal/registry"
)

// Reporter registers gauges on its own Prometheus registry so multiple
// instances can coexist in one process during tests.
type Reporter struct {
	promReg  *prometheus.Registry
	registry *registry.Registry
	manager  *channel.Manager
	started  time.Time
}

func NewReporter(reg *registry.Registry, mgr *channel.Manager) *Reporter {
	r := &Reporter{
		promReg:  prometheus.NewRegistry(),
		registry: reg,
		manager:  mgr,
		started:  time.Now(),
	}

	r.promReg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "quizsync", Name: "active_connections",
			Help: "Number of registered logical connections.",
		}, func() float64 { return float64(reg.Snapshot().Connections) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "quizsync", Name: "active_sessions",
			Help: "Number of sessions with at least one connection.",
		}, func() float64 { return float64(reg.Snapshot().Sessions) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "quizsync", Name: "participants",
			Help: "Number of distinct connected participants.",
		}, func() float64 { return float64(reg.Snapshot().Participants) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "quizsync", Name: "channels",
			Help: "Number of live session channels.",
		}, func() float64 { return float64(mgr.Stats().Channels) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "quizsync", Name: "pending_messages",
			Help: "Envelopes queued for disconnected channels.",
		}, func() float64 { return float64(mgr.Stats().PendingTotal) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "quizsync", Name: "uptime_seconds",
			Help: "Process uptime in seconds.",
		}, func() float64 { return time.Since(r.started).Seconds() }),
	)
	return r
}

// Handler serves the Prometheus scrape endpoint.
func (r *Reporter) Handler() http.Handler {
	return promhttp.HandlerFor(r.promReg, promhttp.HandlerOpts{})
}

// Status is the JSON shape served on /statusz.
type Status struct {
	UptimeSeconds   float64        `json:"uptimeSeconds"`
	Connections     int            `json:"connections"`
	Sessions        int            `json:"sessions"`
	Participants    int            `json:"participants"`
	Channels        int            `json:"channels"`
	ChannelsByState map[string]int `json:"channelsByState"`
	PendingMessages int            `json:"pendingMessages"`
}

// Snapshot collects the current status without side effects.
func (r *Reporter) Snapshot() Status {
	counts := r.registry.Snapshot()
	chans := r.manager.Stats()
	return Status{
		UptimeSeconds:   time.Since(r.started).Seconds(),
		Connections:     counts.Connections,
		Sessions:        counts.Sessions,
		Participants:    counts.Participants,
		Channels:        chans.Channels,
		ChannelsByState: chans.ByState,
		PendingMessages: chans.PendingTotal,
	}
}
