package observability

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for Threadwell
type Metrics struct {
	// HTTP metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// Database metrics
	dbConnections     prometheus.Gauge
	dbConnectionsIdle prometheus.Gauge
	dbConnectionsMax  prometheus.Gauge

	// Realtime metrics
	realtimeConnections prometheus.Gauge
	realtimeTopics      prometheus.Gauge
	realtimeEventsTotal *prometheus.CounterVec
	realtimeErrors      *prometheus.CounterVec

	// Messaging metrics
	messagesCreatedTotal  prometheus.Counter
	reactionsToggledTotal *prometheus.CounterVec

	// Auth metrics
	authAttemptsTotal *prometheus.CounterVec
	authTokensIssued  prometheus.Counter

	// System metrics
	systemUptime prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	m := &Metrics{
		// HTTP metrics
		httpRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "threadwell_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "threadwell_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path", "status"},
		),
		httpRequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "threadwell_http_requests_in_flight",
				Help: "Current number of HTTP requests being processed",
			},
		),

		// Database metrics
		dbConnections: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "threadwell_db_connections",
				Help: "Current number of database connections",
			},
		),
		dbConnectionsIdle: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "threadwell_db_connections_idle",
				Help: "Current number of idle database connections",
			},
		),
		dbConnectionsMax: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "threadwell_db_connections_max",
				Help: "Maximum number of database connections",
			},
		),

		// Realtime metrics
		realtimeConnections: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "threadwell_realtime_connections",
				Help: "Current number of push connections",
			},
		),
		realtimeTopics: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "threadwell_realtime_topics",
				Help: "Current number of topics with live connections",
			},
		),
		realtimeEventsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "threadwell_realtime_events_total",
				Help: "Total number of events delivered to push connections",
			},
			[]string{"event"},
		),
		realtimeErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "threadwell_realtime_errors_total",
				Help: "Total number of push connection errors",
			},
			[]string{"error_type"},
		),

		// Messaging metrics
		messagesCreatedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "threadwell_messages_created_total",
				Help: "Total number of messages created",
			},
		),
		reactionsToggledTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "threadwell_reactions_toggled_total",
				Help: "Total number of reaction toggles",
			},
			[]string{"action"},
		),

		// Auth metrics
		authAttemptsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "threadwell_auth_attempts_total",
				Help: "Total number of authentication attempts",
			},
			[]string{"method", "result"},
		),
		authTokensIssued: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "threadwell_auth_tokens_issued_total",
				Help: "Total number of auth tokens issued",
			},
		),

		// System metrics
		systemUptime: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "threadwell_system_uptime_seconds",
				Help: "System uptime in seconds",
			},
		),
	}

	return m
}

// MetricsMiddleware returns a Fiber middleware that collects HTTP metrics
func (m *Metrics) MetricsMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		m.httpRequestsInFlight.Inc()
		defer m.httpRequestsInFlight.Dec()

		path := normalizePath(c.Route().Path)
		method := c.Method()

		err := c.Next()

		duration := time.Since(start).Seconds()
		status := statusClass(c.Response().StatusCode())

		m.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		m.httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)

		return err
	}
}

// UpdateDBStats updates database connection pool stats
func (m *Metrics) UpdateDBStats(total, idle, max int32) {
	m.dbConnections.Set(float64(total))
	m.dbConnectionsIdle.Set(float64(idle))
	m.dbConnectionsMax.Set(float64(max))
}

// UpdateRealtimeStats updates push connection stats
func (m *Metrics) UpdateRealtimeStats(connections, topics int) {
	m.realtimeConnections.Set(float64(connections))
	m.realtimeTopics.Set(float64(topics))
}

// RecordRealtimeEvent records an event delivered to a push connection
func (m *Metrics) RecordRealtimeEvent(event string) {
	m.realtimeEventsTotal.WithLabelValues(event).Inc()
}

// RecordRealtimeError records a push connection error
func (m *Metrics) RecordRealtimeError(errorType string) {
	m.realtimeErrors.WithLabelValues(errorType).Inc()
}

// RecordMessageCreated records a created message
func (m *Metrics) RecordMessageCreated() {
	m.messagesCreatedTotal.Inc()
}

// RecordReactionToggle records a reaction toggle by outcome
func (m *Metrics) RecordReactionToggle(action string) {
	m.reactionsToggledTotal.WithLabelValues(action).Inc()
}

// RecordAuthAttempt records an authentication attempt
func (m *Metrics) RecordAuthAttempt(method string, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.authAttemptsTotal.WithLabelValues(method, result).Inc()
}

// RecordAuthToken records an issued auth token
func (m *Metrics) RecordAuthToken() {
	m.authTokensIssued.Inc()
}

// UpdateUptime updates the system uptime metric
func (m *Metrics) UpdateUptime(startTime time.Time) {
	m.systemUptime.Set(time.Since(startTime).Seconds())
}

// Handler returns a Fiber handler that exposes Prometheus metrics
func (m *Metrics) Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}

// normalizePath keeps metric label cardinality bounded. Route templates
// already collapse path parameters; anything unroutable is bucketed.
func normalizePath(path string) string {
	if path == "" || len(path) > 50 {
		return "unmatched"
	}
	return path
}

// statusClass returns the HTTP status class (2xx, 3xx, 4xx, 5xx)
func statusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
