// Package metrics provides Prometheus collectors for the orchestration kernel.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once     sync.Once
	instance *Metrics
)

// Metrics holds all Prometheus metric collectors for the kernel
type Metrics struct {
	// HTTP Metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// AI Metrics
	AIRequestsTotal    *prometheus.CounterVec
	AIRequestDuration  *prometheus.HistogramVec
	AITokensUsed       *prometheus.CounterVec
	AICostTotal        *prometheus.CounterVec
	AIProviderHealth   *prometheus.GaugeVec
	AIFallbacksTotal   *prometheus.CounterVec
	BudgetDenialsTotal *prometheus.CounterVec

	// Generation Metrics
	GenerationsTotal    *prometheus.CounterVec
	GenerationDuration  *prometheus.HistogramVec
	GenerationsInFlight prometheus.Gauge
	FilesWrittenTotal   *prometheus.CounterVec
	EventsPublished     *prometheus.CounterVec

	// Team Metrics
	TeamBuildsTotal *prometheus.CounterVec
	TeamFixesTotal  prometheus.Counter
	AgentTasksTotal *prometheus.CounterVec

	// WebSocket Metrics
	WebSocketConnectionsGauge prometheus.Gauge
	WebSocketMessagesTotal    *prometheus.CounterVec

	// Cache Metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// System Metrics
	StartupTime prometheus.Gauge
}

// Get returns the singleton Metrics instance
func Get() *Metrics {
	once.Do(func() {
		instance = newMetrics()
	})
	return instance
}

// newMetrics creates and registers all Prometheus metrics
func newMetrics() *Metrics {
	m := &Metrics{}

	// HTTP Metrics
	m.HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kernel",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by endpoint, method, and status code",
		},
		[]string{"endpoint", "method", "status"},
	)

	m.HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kernel",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"endpoint", "method"},
	)

	m.HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "kernel",
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Current number of HTTP requests being processed",
		},
	)

	// AI Metrics
	m.AIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kernel",
			Subsystem: "ai",
			Name:      "requests_total",
			Help:      "Total number of AI requests by provider, model, and status",
		},
		[]string{"provider", "model", "status"},
	)

	m.AIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kernel",
			Subsystem: "ai",
			Name:      "request_duration_seconds",
			Help:      "AI request duration in seconds",
			Buckets:   []float64{.5, 1, 2, 3, 5, 10, 20, 30, 60},
		},
		[]string{"provider", "model"},
	)

	m.AITokensUsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kernel",
			Subsystem: "ai",
			Name:      "tokens_total",
			Help:      "Total number of AI tokens used by provider and type",
		},
		[]string{"provider", "model", "token_type"},
	)

	m.AICostTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kernel",
			Subsystem: "ai",
			Name:      "cost_dollars",
			Help:      "Total AI cost in dollars by provider",
		},
		[]string{"provider", "model"},
	)

	m.AIProviderHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "kernel",
			Subsystem: "ai",
			Name:      "provider_health",
			Help:      "AI provider health status (1=healthy, 0=unhealthy)",
		},
		[]string{"provider"},
	)

	m.AIFallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kernel",
			Subsystem: "ai",
			Name:      "fallbacks_total",
			Help:      "Total number of AI provider fallbacks",
		},
		[]string{"from_model", "to_model", "reason"},
	)

	m.BudgetDenialsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kernel",
			Subsystem: "budget",
			Name:      "denials_total",
			Help:      "Total number of requests denied by the cost governor",
		},
		[]string{"scope"},
	)

	// Generation Metrics
	m.GenerationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kernel",
			Subsystem: "generation",
			Name:      "total",
			Help:      "Total number of generation runs by outcome",
		},
		[]string{"outcome"},
	)

	m.GenerationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kernel",
			Subsystem: "generation",
			Name:      "duration_seconds",
			Help:      "Generation run duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"outcome"},
	)

	m.GenerationsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "kernel",
			Subsystem: "generation",
			Name:      "in_flight",
			Help:      "Number of generation runs currently active",
		},
	)

	m.FilesWrittenTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kernel",
			Subsystem: "generation",
			Name:      "files_written_total",
			Help:      "Total number of files persisted by generation runs",
		},
		[]string{"mode"},
	)

	m.EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kernel",
			Subsystem: "generation",
			Name:      "events_published_total",
			Help:      "Total number of progress events published by type",
		},
		[]string{"event"},
	)

	// Team Metrics
	m.TeamBuildsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kernel",
			Subsystem: "team",
			Name:      "builds_total",
			Help:      "Total number of team builds by outcome",
		},
		[]string{"outcome"},
	)

	m.TeamFixesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "kernel",
			Subsystem: "team",
			Name:      "fixes_total",
			Help:      "Total number of files rewritten during review",
		},
	)

	m.AgentTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kernel",
			Subsystem: "agent",
			Name:      "tasks_total",
			Help:      "Total number of agent tasks by template and result",
		},
		[]string{"template", "result"},
	)

	// WebSocket Metrics
	m.WebSocketConnectionsGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "kernel",
			Subsystem: "websocket",
			Name:      "connections",
			Help:      "Current number of WebSocket connections",
		},
	)

	m.WebSocketMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kernel",
			Subsystem: "websocket",
			Name:      "messages_total",
			Help:      "Total number of WebSocket messages by direction",
		},
		[]string{"direction"},
	)

	// Cache Metrics
	m.CacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kernel",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache_name"},
	)

	m.CacheMissesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kernel",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache_name"},
	)

	// System Metrics
	m.StartupTime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "kernel",
			Subsystem: "server",
			Name:      "startup_timestamp",
			Help:      "Server startup timestamp",
		},
	)

	m.StartupTime.Set(float64(time.Now().Unix()))

	return m
}

// RecordHTTPRequest records an HTTP request metric
func (m *Metrics) RecordHTTPRequest(endpoint, method string, statusCode int, duration time.Duration) {
	status := statusCodeToLabel(statusCode)
	m.HTTPRequestsTotal.WithLabelValues(endpoint, method, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(endpoint, method).Observe(duration.Seconds())
}

// RecordAIRequest records an AI request metric
func (m *Metrics) RecordAIRequest(provider, model, status string, duration time.Duration, inputTokens, outputTokens int, cost float64) {
	m.AIRequestsTotal.WithLabelValues(provider, model, status).Inc()
	m.AIRequestDuration.WithLabelValues(provider, model).Observe(duration.Seconds())
	m.AITokensUsed.WithLabelValues(provider, model, "input").Add(float64(inputTokens))
	m.AITokensUsed.WithLabelValues(provider, model, "output").Add(float64(outputTokens))
	m.AICostTotal.WithLabelValues(provider, model).Add(cost)
}

// RecordAIFallback records a fallback from one model to another
func (m *Metrics) RecordAIFallback(fromModel, toModel, reason string) {
	m.AIFallbacksTotal.WithLabelValues(fromModel, toModel, reason).Inc()
}

// SetAIProviderHealth sets the health status of an AI provider
func (m *Metrics) SetAIProviderHealth(provider string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	m.AIProviderHealth.WithLabelValues(provider).Set(value)
}

// RecordBudgetDenial records a request refused by the cost governor
func (m *Metrics) RecordBudgetDenial(scope string) {
	m.BudgetDenialsTotal.WithLabelValues(scope).Inc()
}

// RecordGeneration records a completed generation run
func (m *Metrics) RecordGeneration(outcome string, duration time.Duration) {
	m.GenerationsTotal.WithLabelValues(outcome).Inc()
	m.GenerationDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordFileWritten records a persisted project file
func (m *Metrics) RecordFileWritten(mode string) {
	m.FilesWrittenTotal.WithLabelValues(mode).Inc()
}

// RecordEvent records a published progress event
func (m *Metrics) RecordEvent(eventType string) {
	m.EventsPublished.WithLabelValues(eventType).Inc()
}

// RecordAgentTask records an agent task outcome
func (m *Metrics) RecordAgentTask(template string, success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	m.AgentTasksTotal.WithLabelValues(template, result).Inc()
}

// RecordCacheOperation records a cache hit or miss
func (m *Metrics) RecordCacheOperation(cacheName string, hit bool) {
	if hit {
		m.CacheHitsTotal.WithLabelValues(cacheName).Inc()
	} else {
		m.CacheMissesTotal.WithLabelValues(cacheName).Inc()
	}
}

// RecordWebSocketMessage records a WebSocket message
func (m *Metrics) RecordWebSocketMessage(direction string) {
	m.WebSocketMessagesTotal.WithLabelValues(direction).Inc()
}

// Helper function to convert status code to label
func statusCodeToLabel(code int) string {
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
