// Package metrics holds the prometheus collectors shared by the server, the asynchronous
// transport and the blocking client. Components take a *Metrics option; nil disables recording.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	serverCalls      *prometheus.CounterVec
	serverDuration   *prometheus.HistogramVec
	droppedResponses prometheus.Counter
	connections      prometheus.Gauge
}

func New() *Metrics {
	return &Metrics{
		serverCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "protorpc",
				Subsystem: "server",
				Name:      "calls_total",
				Help:      "Dispatched calls by method and result code.",
			},
			[]string{"method", "code"},
		),
		serverDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "protorpc",
				Subsystem: "server",
				Name:      "call_duration_seconds",
				Help:      "Time from request decode to response, in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		droppedResponses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "protorpc",
				Subsystem: "client",
				Name:      "dropped_responses_total",
				Help:      "Responses whose id matched no pending call.",
			},
		),
		connections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "protorpc",
				Subsystem: "transport",
				Name:      "connections",
				Help:      "Live connections accepted by the asynchronous listener.",
			},
		),
	}
}

// Register adds the collectors to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.serverCalls, m.serverDuration, m.droppedResponses, m.connections} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// Default returns a process-wide instance registered with prometheus.DefaultRegisterer.
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultMetrics = New()
		prometheus.MustRegister(defaultMetrics.serverCalls, defaultMetrics.serverDuration,
			defaultMetrics.droppedResponses, defaultMetrics.connections)
	})
	return defaultMetrics
}

func (m *Metrics) RecordServerCall(method, code string, duration time.Duration) {
	if m == nil {
		return
	}
	m.serverCalls.WithLabelValues(method, code).Inc()
	m.serverDuration.WithLabelValues(method).Observe(duration.Seconds())
}

func (m *Metrics) RecordDroppedResponse() {
	if m == nil {
		return
	}
	m.droppedResponses.Inc()
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}

// ServerCalls exposes the call counter, mostly for tests.
func (m *Metrics) ServerCalls() *prometheus.CounterVec {
	return m.serverCalls
}

func (m *Metrics) DroppedResponses() prometheus.Counter {
	return m.droppedResponses
}

func (m *Metrics) Connections() prometheus.Gauge {
	return m.connections
}
