// Package metrics defines the relay's Prometheus collectors on a private
// registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups every relay collector.
type Metrics struct {
	registry *prometheus.Registry

	PollCycles     *prometheus.CounterVec
	Tasks          *prometheus.CounterVec
	DirectMessages *prometheus.CounterVec
	OutboxPending  prometheus.Gauge
	RemoteDuration *prometheus.HistogramVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		PollCycles: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vaultrelay_poll_cycles_total",
				Help: "Poll cycles by result",
			},
			[]string{"result"}, // "ok", "auth", "network", "malformed", "paused"
		),
		Tasks: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vaultrelay_tasks_total",
				Help: "Vault tasks by outcome",
			},
			[]string{"outcome"}, // "replied", "degraded", "acknowledged", "queued", "skipped", "flushed", "rejected"
		),
		DirectMessages: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vaultrelay_direct_messages_total",
				Help: "Direct chat messages by outcome",
			},
			[]string{"outcome"},
		),
		OutboxPending: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "vaultrelay_outbox_pending",
				Help: "Completions waiting in the outbox",
			},
		),
		RemoteDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vaultrelay_remote_call_duration_seconds",
				Help:    "Vault and orchestrator call latency",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 90},
			},
			[]string{"target"},
		),
	}
}

// Registry exposes the private registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveRemote records a remote call that started at start. Safe on nil.
func (m *Metrics) ObserveRemote(target string, start time.Time) {
	if m == nil {
		return
	}
	m.RemoteDuration.WithLabelValues(target).Observe(time.Since(start).Seconds())
}

// Cycle counts a finished poll cycle. Safe on nil.
func (m *Metrics) Cycle(result string) {
	if m == nil {
		return
	}
	m.PollCycles.WithLabelValues(result).Inc()
}

// Task counts a task outcome. Safe on nil.
func (m *Metrics) Task(outcome string) {
	if m == nil {
		return
	}
	m.Tasks.WithLabelValues(outcome).Inc()
}

// Direct counts a direct message outcome. Safe on nil.
func (m *Metrics) Direct(outcome string) {
	if m == nil {
		return
	}
	m.DirectMessages.WithLabelValues(outcome).Inc()
}

// SetOutboxPending updates the outbox gauge. Safe on nil.
func (m *Metrics) SetOutboxPending(n int) {
	if m == nil {
		return
	}
	m.OutboxPending.Set(float64(n))
}
