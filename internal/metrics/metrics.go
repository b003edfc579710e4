// Package metrics exposes the Prometheus registry named in §9's "metrics
// as a first-class collaborator" design note: provider call
// latency/error-rate (C5/C7), rate-limiter queue depth (C3), and WS
// subscriber count (C9). Grounded on the teacher's
// ai/metrics/prometheus.go shape (a single exporter struct holding every
// vector, registered once at construction), narrowed to this domain's
// metric set instead of the teacher's chat/tool/agent taxonomy.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter owns every metric this repository records and the registry
// they're collected through.
type Exporter struct {
	registry *prometheus.Registry

	providerCallLatency *prometheus.HistogramVec
	providerCalls       *prometheus.CounterVec

	rateLimiterQueueDepth prometheus.Gauge

	wsSubscribers prometheus.Gauge

	ingestedEvents  *prometheus.CounterVec
	forwardedEvents prometheus.Counter
}

var defaultLatencyBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30}

// New constructs and registers every metric. A nil Exporter is never
// returned; if metrics are disabled (§4.1's MetricsEnabled=false), the
// caller simply doesn't mount Handler and doesn't call the Record*
// methods on the hot path — the registry itself is always cheap to
// build.
func New() *Exporter {
	registry := prometheus.NewRegistry()

	e := &Exporter{
		registry: registry,
		providerCallLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "relaywatch",
			Subsystem: "provider",
			Name:      "call_latency_seconds",
			Help:      "AI provider call latency in seconds",
			Buckets:   defaultLatencyBuckets,
		}, []string{"provider", "job"}),
		providerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relaywatch",
			Subsystem: "provider",
			Name:      "calls_total",
			Help:      "AI provider calls by outcome",
		}, []string{"provider", "job", "status"}),
		rateLimiterQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "relaywatch",
			Subsystem: "mtproto",
			Name:      "rate_limiter_queue_depth",
			Help:      "Number of outgoing sends waiting on the rate limiter",
		}),
		wsSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "relaywatch",
			Subsystem: "api",
			Name:      "ws_subscribers",
			Help:      "Number of live /ws/monitor connections",
		}),
		ingestedEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relaywatch",
			Subsystem: "monitor",
			Name:      "ingested_events_total",
			Help:      "Ingested MTProto messages by match outcome",
		}, []string{"matched"}),
		forwardedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "relaywatch",
			Subsystem: "monitor",
			Name:      "forwarded_events_total",
			Help:      "Events forwarded to the target channel",
		}),
	}

	registry.MustRegister(
		e.providerCallLatency,
		e.providerCalls,
		e.rateLimiterQueueDepth,
		e.wsSubscribers,
		e.ingestedEvents,
		e.forwardedEvents,
	)
	return e
}

// RecordProviderCall records one provider call's latency and outcome.
func (e *Exporter) RecordProviderCall(provider, job string, seconds float64, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	e.providerCallLatency.WithLabelValues(provider, job).Observe(seconds)
	e.providerCalls.WithLabelValues(provider, job, status).Inc()
}

// SetRateLimiterQueueDepth reports the current number of sends waiting
// on the MTProto gateway's rate limiter.
func (e *Exporter) SetRateLimiterQueueDepth(depth int) {
	e.rateLimiterQueueDepth.Set(float64(depth))
}

// SetWSSubscribers reports the live /ws/monitor connection count.
func (e *Exporter) SetWSSubscribers(count int) {
	e.wsSubscribers.Set(float64(count))
}

// RecordIngestedEvent records one ingested message, tagged by whether
// it matched any source filter.
func (e *Exporter) RecordIngestedEvent(matched bool) {
	label := "false"
	if matched {
		label = "true"
	}
	e.ingestedEvents.WithLabelValues(label).Inc()
}

// RecordForwardedEvent records one event forwarded to the target channel.
func (e *Exporter) RecordForwardedEvent() {
	e.forwardedEvents.Inc()
}

// Handler returns the Prometheus scrape endpoint.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}
