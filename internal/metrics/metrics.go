package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome label values
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// Collector wraps the Prometheus metrics of the service. Each collector owns
// its own registry so tests can create as many as they need.
type Collector struct {
	registry *prometheus.Registry

	ProviderRequests     *prometheus.CounterVec
	WriteThroughFailures *prometheus.CounterVec
	WebhookEvents        *prometheus.CounterVec
	HTTPRequests         *prometheus.CounterVec
	HTTPDuration         *prometheus.HistogramVec
}

// NewCollector creates a Collector with the given namespace.
func NewCollector(namespace string) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		registry: reg,
		ProviderRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "billing_provider_requests_total",
			Help:      "Billing provider calls by operation and outcome",
		}, []string{"operation", "outcome"}),
		WriteThroughFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "profile_write_through_failures_total",
			Help:      "Profile store writes that failed after a successful provider mutation",
		}, []string{"operation"}),
		WebhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Provider webhook events by type and result",
		}, []string{"type", "result"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status",
		}, []string{"route", "method", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}

	reg.MustRegister(
		c.ProviderRequests,
		c.WriteThroughFailures,
		c.WebhookEvents,
		c.HTTPRequests,
		c.HTTPDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// ObserveProvider counts one provider call.
func (c *Collector) ObserveProvider(operation string, err error) {
	if c == nil {
		return
	}
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeError
	}
	c.ProviderRequests.WithLabelValues(operation, outcome).Inc()
}

// WriteThroughFailed counts a swallowed profile write failure.
func (c *Collector) WriteThroughFailed(operation string) {
	if c == nil {
		return
	}
	c.WriteThroughFailures.WithLabelValues(operation).Inc()
}

// WebhookEvent counts one webhook delivery.
func (c *Collector) WebhookEvent(eventType, result string) {
	if c == nil {
		return
	}
	c.WebhookEvents.WithLabelValues(eventType, result).Inc()
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler returns an HTTP handler serving the registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
