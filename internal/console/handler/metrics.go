package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	redoubtRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "redoubt_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	redoubtRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "redoubt_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	redoubtIncidentsTotal = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "redoubt_incidents_total",
		Help: "Current number of incidents by status.",
	}, []string{"status"})

	redoubtIncidentsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "redoubt_incidents_created_total",
		Help: "Total incidents opened.",
	})

	redoubtEvidenceEntriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "redoubt_evidence_entries_total",
		Help: "Total evidence entries appended.",
	})

	redoubtChainVerificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "redoubt_chain_verifications_total",
		Help: "Total chain verification runs by result.",
	}, []string{"result"})

	redoubtWebhookDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "redoubt_webhook_deliveries_total",
		Help: "Total webhook deliveries by success status.",
	}, []string{"status"})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		redoubtRequestsTotal.WithLabelValues(method, path, status).Inc()
		redoubtRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordIncidentCreated records a newly opened incident.
func RecordIncidentCreated() {
	redoubtIncidentsCreatedTotal.Inc()
}

// RecordEvidenceAppend records an evidence entry landing in a chain.
func RecordEvidenceAppend() {
	redoubtEvidenceEntriesTotal.Inc()
}

// RecordChainVerification records a verification run result.
func RecordChainVerification(valid bool) {
	if valid {
		redoubtChainVerificationsTotal.WithLabelValues("valid").Inc()
	} else {
		redoubtChainVerificationsTotal.WithLabelValues("broken").Inc()
	}
}

// RecordWebhookDelivery records a webhook delivery attempt.
func RecordWebhookDelivery(success bool) {
	if success {
		redoubtWebhookDeliveriesTotal.WithLabelValues("success").Inc()
	} else {
		redoubtWebhookDeliveriesTotal.WithLabelValues("failure").Inc()
	}
}

// SetIncidentsGauge sets the incident count gauge for a given status.
func SetIncidentsGauge(status string, count float64) {
	redoubtIncidentsTotal.WithLabelValues(status).Set(count)
}
