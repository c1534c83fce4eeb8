package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Gateway metrics
	GatewayRequestsTotal   *prometheus.CounterVec
	GatewayRequestDuration *prometheus.HistogramVec
	GatewayBreakerOpen     *prometheus.GaugeVec

	// Payment metrics
	PaymentsCreatedTotal      *prometheus.CounterVec
	PaymentsSucceededTotal    *prometheus.CounterVec
	NotificationsTotal        *prometheus.CounterVec
	RefundsTotal              *prometheus.CounterVec
	SceneFallbacksTotal       *prometheus.CounterVec
	SideEffectWarningsTotal   *prometheus.CounterVec

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec
}

// New creates a new Metrics instance with all metrics registered on
// reg. A nil reg falls back to the default registerer.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "qilingstore"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_in_flight",
				Help:      "Current number of HTTP requests being processed",
			},
		),

		GatewayRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "requests_total",
				Help:      "Total number of payment gateway calls",
			},
			[]string{"channel", "operation", "status"}, // status: ok, rejected, error
		),
		GatewayRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "request_duration_seconds",
				Help:      "Payment gateway call duration in seconds",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"channel", "operation"},
		),
		GatewayBreakerOpen: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "breaker_open",
				Help:      "Circuit breaker state per channel (1=open, 0=closed)",
			},
			[]string{"channel"},
		),

		PaymentsCreatedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "payment",
				Name:      "created_total",
				Help:      "Total number of payments created",
			},
			[]string{"channel", "scene"},
		),
		PaymentsSucceededTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "payment",
				Name:      "succeeded_total",
				Help:      "Total number of payments marked paid",
			},
			[]string{"channel"},
		),
		NotificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "payment",
				Name:      "notifications_total",
				Help:      "Total number of gateway notifications processed",
			},
			[]string{"channel", "outcome"}, // outcome: applied, duplicate, rejected
		),
		RefundsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "payment",
				Name:      "refunds_total",
				Help:      "Total number of refunds",
			},
			[]string{"channel", "status"},
		),
		SceneFallbacksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "payment",
				Name:      "scene_fallbacks_total",
				Help:      "Total number of scene fallbacks during payment creation",
			},
			[]string{"channel", "from", "to"},
		),
		SideEffectWarningsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "payment",
				Name:      "side_effect_warnings_total",
				Help:      "Total number of non-fatal side effect failures",
			},
			[]string{"effect"}, // points, gift, print, sibling_close
		),

		CacheHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "hits_total",
				Help:      "Total number of cache hits",
			},
			[]string{"cache"},
		),
		CacheMissesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "misses_total",
				Help:      "Total number of cache misses",
			},
			[]string{"cache"},
		),
	}
}

// --- Convenience methods ---

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	statusStr := statusCodeToString(status)
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordGatewayRequest records a payment gateway call.
func (m *Metrics) RecordGatewayRequest(channel, operation, status string, duration time.Duration) {
	m.GatewayRequestsTotal.WithLabelValues(channel, operation, status).Inc()
	m.GatewayRequestDuration.WithLabelValues(channel, operation).Observe(duration.Seconds())
}

// SetBreakerOpen sets the circuit breaker state for a channel.
func (m *Metrics) SetBreakerOpen(channel string, open bool) {
	value := 0.0
	if open {
		value = 1.0
	}
	m.GatewayBreakerOpen.WithLabelValues(channel).Set(value)
}

// RecordPaymentCreated records a created payment.
func (m *Metrics) RecordPaymentCreated(channel, scene string) {
	m.PaymentsCreatedTotal.WithLabelValues(channel, scene).Inc()
}

// RecordPaymentSucceeded records a payment marked paid.
func (m *Metrics) RecordPaymentSucceeded(channel string) {
	m.PaymentsSucceededTotal.WithLabelValues(channel).Inc()
}

// RecordNotification records a processed gateway notification.
func (m *Metrics) RecordNotification(channel, outcome string) {
	m.NotificationsTotal.WithLabelValues(channel, outcome).Inc()
}

// RecordRefund records a refund attempt.
func (m *Metrics) RecordRefund(channel, status string) {
	m.RefundsTotal.WithLabelValues(channel, status).Inc()
}

// RecordSceneFallback records a scene fallback.
func (m *Metrics) RecordSceneFallback(channel, from, to string) {
	m.SceneFallbacksTotal.WithLabelValues(channel, from, to).Inc()
}

// RecordSideEffectWarning records a non-fatal side effect failure.
func (m *Metrics) RecordSideEffectWarning(effect string) {
	m.SideEffectWarningsTotal.WithLabelValues(effect).Inc()
}

// RecordCacheHit records a cache hit.
func (m *Metrics) RecordCacheHit(cache string) {
	m.CacheHitsTotal.WithLabelValues(cache).Inc()
}

// RecordCacheMiss records a cache miss.
func (m *Metrics) RecordCacheMiss(cache string) {
	m.CacheMissesTotal.WithLabelValues(cache).Inc()
}

// statusCodeToString converts an HTTP status code to a string category.
func statusCodeToString(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
