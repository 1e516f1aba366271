package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jmerrifield20/projectledger/internal/ledger"
)

var (
	ledgerRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	ledgerRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	ledgerEventsAppended = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_events_appended_total",
		Help: "Total events appended by event type.",
	}, []string{"event_type"})

	ledgerConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_append_conflicts_total",
		Help: "Appends rejected with a concurrency conflict after all retries.",
	})

	ledgerVerificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_verifications_total",
		Help: "Chain verifications by result.",
	}, []string{"result"})

	ledgerBrokenChains = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ledger_broken_chains",
		Help: "Projects whose chain failed verification in the last audit sweep.",
	})

	ledgerAuditProjects = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ledger_audit_projects",
		Help: "Projects checked by the last audit sweep.",
	})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		method := c.Request.Method
		ledgerRequestsTotal.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		ledgerRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordAppend counts an appended event. It satisfies ledger.AppendObserver.
func RecordAppend(e *ledger.Event) {
	ledgerEventsAppended.WithLabelValues(e.EventType).Inc()
}

// RecordConflict counts a conflict surfaced to a client.
func RecordConflict() {
	ledgerConflictsTotal.Inc()
}

// RecordVerification records a verification outcome.
func RecordVerification(valid bool) {
	if valid {
		ledgerVerificationsTotal.WithLabelValues("valid").Inc()
	} else {
		ledgerVerificationsTotal.WithLabelValues("broken").Inc()
	}
}

// RecordSweep publishes an audit sweep. It satisfies ledger.SweepObserver.
func RecordSweep(report *ledger.SweepReport) {
	ledgerAuditProjects.Set(float64(report.Projects))
	ledgerBrokenChains.Set(float64(len(report.Broken)))
	for range report.Broken {
		RecordVerification(false)
	}
}
