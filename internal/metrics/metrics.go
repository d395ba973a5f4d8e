// Package metrics exposes the relay's prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "relay"

// Result label values.
const (
	ResultOK     = "ok"
	ResultFailed = "failed"
	ResultGone   = "gone"
	ResultMissed = "missed"
)

// Metrics holds every collector on a dedicated registry.
// All methods are safe to call on a nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	callbacks        *prometheus.CounterVec
	decisions        *prometheus.CounterVec
	deliveries       *prometheus.CounterVec
	renewals         *prometheus.CounterVec
	postEdits        *prometheus.CounterVec
	pipelineDuration *prometheus.HistogramVec
}

// New creates and registers the collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "callbacks_received_total",
			Help:      "Inbound hub callbacks by source kind.",
		}, []string{"source"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dedup_decisions_total",
			Help:      "Dedup decisions by source kind and outcome.",
		}, []string{"source", "outcome"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Message deliveries by source kind and result.",
		}, []string{"source", "result"}),
		renewals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hub_renewals_total",
			Help:      "Hub subscription renewals by source kind and result.",
		}, []string{"source", "result"}),
		postEdits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "post_edits_total",
			Help:      "Post-update edits by result.",
		}, []string{"result"}),
		pipelineDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_duration_seconds",
			Help:      "Time spent processing one callback end to end.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"source"}),
	}

	reg.MustRegister(m.callbacks, m.decisions, m.deliveries, m.renewals, m.postEdits, m.pipelineDuration)
	return m
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// CallbackReceived counts one inbound callback.
func (m *Metrics) CallbackReceived(source string) {
	if m == nil {
		return
	}
	m.callbacks.WithLabelValues(source).Inc()
}

// Decision counts one dedup outcome.
func (m *Metrics) Decision(source, outcome string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(source, outcome).Inc()
}

// Delivery counts one delivery attempt result.
func (m *Metrics) Delivery(source, result string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(source, result).Inc()
}

// Renewal counts one hub renewal result.
func (m *Metrics) Renewal(source, result string) {
	if m == nil {
		return
	}
	m.renewals.WithLabelValues(source, result).Inc()
}

// PostEdit counts one post-update edit result.
func (m *Metrics) PostEdit(result string) {
	if m == nil {
		return
	}
	m.postEdits.WithLabelValues(result).Inc()
}

// ObservePipeline records the time since start for source.
func (m *Metrics) ObservePipeline(source string, start time.Time) {
	if m == nil {
		return
	}
	m.pipelineDuration.WithLabelValues(source).Observe(time.Since(start).Seconds())
}
