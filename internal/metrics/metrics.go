// Package metrics exposes the gateway's Prometheus instrumentation. A
// private registry is used so nothing leaks through the client library's
// global default.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	WebhookRequests *prometheus.CounterVec // platform, outcome
	RateLimited     *prometheus.CounterVec // class
	ModelCalls      *prometheus.HistogramVec
	Deliveries      *prometheus.CounterVec // platform, outcome
	Transcriptions  *prometheus.CounterVec // outcome
}

func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		WebhookRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatrelay_webhook_requests_total",
			Help: "Webhook requests by platform and outcome (ok, signature_rejected, rate_limited, bad_payload, unknown_platform).",
		}, []string{"platform", "outcome"}),
		RateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatrelay_rate_limited_total",
			Help: "Requests rejected by the sliding-window limiter, by class.",
		}, []string{"class"}),
		ModelCalls: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chatrelay_model_call_seconds",
			Help:    "Latency of model adapter operations.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"provider", "op"}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatrelay_deliveries_total",
			Help: "Reply deliveries by platform and outcome (ok, error).",
		}, []string{"platform", "outcome"}),
		Transcriptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatrelay_transcriptions_total",
			Help: "Audio transcriptions by outcome (ok, error).",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		m.WebhookRequests,
		m.RateLimited,
		m.ModelCalls,
		m.Deliveries,
		m.Transcriptions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
