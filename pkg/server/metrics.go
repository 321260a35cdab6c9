package server

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels.
const (
	outcomeOK        = "ok"
	outcomeError     = "error"
	outcomeCancelled = "cancelled"
	outcomeEmpty     = "empty"
)

// Metrics holds the server's Prometheus collectors. Each Metrics owns its
// registry so several servers can live in one process.
type Metrics struct {
	registry *prometheus.Registry

	Connections      prometheus.Gauge
	Messages         *prometheus.CounterVec
	Transcriptions   *prometheus.CounterVec
	ProviderRequests *prometheus.CounterVec
	ProviderLatency  *prometheus.HistogramVec
	QueueEvents      *prometheus.CounterVec
	Synthesis        *prometheus.HistogramVec
}

// NewMetrics registers every collector on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		Connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "murmur",
			Name:      "websocket_connections",
			Help:      "Currently connected voice clients",
		}),

		Messages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "murmur",
			Name:      "messages_received_total",
			Help:      "Control frames received by type",
		}, []string{"type"}),

		Transcriptions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "murmur",
			Name:      "transcriptions_total",
			Help:      "Utterances transcribed by outcome",
		}, []string{"outcome"}),

		ProviderRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "murmur",
			Name:      "provider_requests_total",
			Help:      "Provider requests by provider, task type and outcome",
		}, []string{"provider", "task_type", "outcome"}),

		ProviderLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "murmur",
			Name:      "provider_request_duration_seconds",
			Help:      "Provider request latency",
			Buckets:   []float64{.25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"provider", "task_type"}),

		QueueEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "murmur",
			Name:      "queue_transitions_total",
			Help:      "Task queue lifecycle transitions",
		}, []string{"event"}),

		Synthesis: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "murmur",
			Name:      "synthesis_duration_seconds",
			Help:      "Speech synthesis latency per provider call",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider", "outcome"}),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveSynthesis records one synthesis call. It matches tts.Observer.
func (m *Metrics) ObserveSynthesis(provider string, elapsed time.Duration, err error) {
	m.Synthesis.WithLabelValues(provider, outcome(err)).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}

func outcome(err error) string {
	if err != nil {
		return outcomeError
	}
	return outcomeOK
}
