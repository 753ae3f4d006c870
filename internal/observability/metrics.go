package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics stores Prometheus collectors used by the delivery engine and the
// ops HTTP surface.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	emailsSentTotal      *prometheus.CounterVec
	emailsFailedTotal    *prometheus.CounterVec
	retryAttemptsTotal   prometheus.Counter
	cycleDuration        *prometheus.HistogramVec
	rowsReconciledTotal  *prometheus.CounterVec
	recipientsFetchedSum *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "notifier",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "notifier",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		emailsSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "notifier",
				Name:      "emails_sent_total",
				Help:      "Total number of recipients handed to the transport successfully.",
			},
			[]string{"load_domain"},
		),
		emailsFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "notifier",
				Name:      "emails_failed_total",
				Help:      "Total number of recipients that exhausted delivery attempts.",
			},
			[]string{"load_domain", "reason"},
		),
		retryAttemptsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "notifier",
				Name:      "retry_attempts_total",
				Help:      "Total number of per-recipient retry submissions.",
			},
		),
		cycleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "notifier",
				Name:      "cycle_duration_seconds",
				Help:      "Delivery cycle duration in seconds grouped by load domain.",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
			},
			[]string{"load_domain"},
		),
		rowsReconciledTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "notifier",
				Name:      "rows_reconciled_total",
				Help:      "Total notification rows flipped to finished, by outcome.",
			},
			[]string{"load_domain", "outcome"},
		),
		recipientsFetchedSum: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "notifier",
				Name:      "recipients_fetched_total",
				Help:      "Total pending recipients returned by fetch across cycles.",
			},
			[]string{"load_domain"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.emailsSentTotal,
		m.emailsFailedTotal,
		m.retryAttemptsTotal,
		m.cycleDuration,
		m.rowsReconciledTotal,
		m.recipientsFetchedSum,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncEmailSent(loadDomain string) {
	if m == nil {
		return
	}
	m.emailsSentTotal.WithLabelValues(normalizeDomain(loadDomain)).Inc()
}

func (m *Metrics) IncEmailFailed(loadDomain string, reason string) {
	if m == nil {
		return
	}
	reasonLabel := strings.TrimSpace(strings.ToLower(reason))
	if reasonLabel == "" {
		reasonLabel = "unknown"
	}
	m.emailsFailedTotal.WithLabelValues(normalizeDomain(loadDomain), reasonLabel).Inc()
}

func (m *Metrics) IncRetryAttempt() {
	if m == nil {
		return
	}
	m.retryAttemptsTotal.Inc()
}

func (m *Metrics) ObserveCycleDuration(loadDomain string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.cycleDuration.WithLabelValues(normalizeDomain(loadDomain)).Observe(seconds)
}

func (m *Metrics) AddRowsReconciled(loadDomain string, outcome string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.rowsReconciledTotal.WithLabelValues(normalizeDomain(loadDomain), outcome).Add(float64(count))
}

func (m *Metrics) AddRecipientsFetched(loadDomain string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.recipientsFetchedSum.WithLabelValues(normalizeDomain(loadDomain)).Add(float64(count))
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func normalizeDomain(loadDomain string) string {
	normalized := strings.ToUpper(strings.TrimSpace(loadDomain))
	if normalized == "" {
		return "UNKNOWN"
	}
	return normalized
}
