// Package metrics exposes relay gauges and counters for Prometheus.
package metrics

import (
	"github.com/google/uuid"
	"github.com/m3rciful/relaybot/core/buildinfo"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Recorder owns the relay metrics. It implements store.Observer.
type Recorder struct {
	registry *prometheus.Registry
	instance string
	requests prometheus.Counter
	active   prometheus.Gauge
	blocked  prometheus.Gauge
	updates  *prometheus.CounterVec
}

// NewRecorder registers relay metrics plus Go runtime and process collectors
// on a private registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		instance: uuid.NewString(),
		requests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relaybot_requests_total",
			Help: "Total number of /start requests.",
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relaybot_active_dialogs",
			Help: "Number of active dialogs.",
		}),
		blocked: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relaybot_blocked_users",
			Help: "Number of blocked users.",
		}),
		updates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relaybot_updates_total",
			Help: "Telegram updates by handler and outcome.",
		}, []string{"handler", "outcome"}),
	}
	info := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "relaybot_build_info",
		Help: "Build metadata of the running process. Always 1.",
	}, []string{"version", "commit", "instance"})
	info.WithLabelValues(buildinfo.Version, buildinfo.Commit, r.instance).Set(1)

	r.registry.MustRegister(
		info,
		r.requests,
		r.active,
		r.blocked,
		r.updates,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Registry returns the registry served on /metrics.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Instance identifies this process across restarts in scraped series.
func (r *Recorder) Instance() string { return r.instance }

// TrackSendFailures exports the count of outbound calls that failed for
// good. failed is read at scrape time.
func (r *Recorder) TrackSendFailures(failed func() uint64) {
	r.registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "relaybot_send_failures_total",
		Help: "Outbound Telegram calls that failed after all retries.",
	}, func() float64 { return float64(failed()) }))
}

// SessionsChanged adjusts the active dialogs gauge.
func (r *Recorder) SessionsChanged(delta int) { r.active.Add(float64(delta)) }

// BlockedChanged adjusts the blocked users gauge.
func (r *Recorder) BlockedChanged(delta int) { r.blocked.Add(float64(delta)) }

// StartRequested counts one /start request.
func (r *Recorder) StartRequested() { r.requests.Inc() }

// UpdateHandled counts one handled Telegram update.
func (r *Recorder) UpdateHandled(handler, outcome string) {
	r.updates.WithLabelValues(handler, outcome).Inc()
}
