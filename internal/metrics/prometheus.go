package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics contains all Prometheus metrics for the presale monitor
type PrometheusMetrics struct {
	// RPC metrics
	RPCRequestsTotal      *prometheus.CounterVec
	RPCRequestDuration    *prometheus.HistogramVec
	ConnectionErrorsTotal *prometheus.CounterVec
	RateLimiterWait       prometheus.Histogram

	// Oracle metrics
	OracleRequestsTotal *prometheus.CounterVec
	OraclePriceUSD      *prometheus.GaugeVec

	// Ingestion metrics
	IngestionRunsTotal        *prometheus.CounterVec
	IngestionRunDuration      prometheus.Histogram
	SignaturesProcessedTotal  *prometheus.CounterVec
	RecordsIngestedTotal      *prometheus.CounterVec
	PendingSignatures         *prometheus.GaugeVec
	AmbiguousClassifications  prometheus.Counter
	StaleResponsesServedTotal *prometheus.CounterVec

	// Cache metrics
	CacheRequestsTotal *prometheus.CounterVec
	HotCacheEntries    prometheus.Gauge

	// Storage metrics
	DatabaseOperationsTotal   *prometheus.CounterVec
	DatabaseOperationDuration *prometheus.HistogramVec

	// Notification metrics
	NotificationsSentTotal    *prometheus.CounterVec
	NotificationFailuresTotal *prometheus.CounterVec
	WebSocketClients          prometheus.Gauge

	// API metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Application health metrics
	ApplicationUptime prometheus.Gauge
	ComponentHealth   *prometheus.GaugeVec
	MemoryUsage       prometheus.Gauge
	GoroutineCount    prometheus.Gauge
	WatchedAddresses  prometheus.Gauge
}

// NewPrometheusMetrics creates all Prometheus metrics on reg
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	factory := promauto.With(reg)

	return &PrometheusMetrics{
		RPCRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "presale_rpc_requests_total",
				Help: "Total number of JSON-RPC requests made to the blockchain endpoint",
			},
			[]string{"endpoint", "method", "status"},
		),

		RPCRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "presale_rpc_request_duration_seconds",
				Help:    "Duration of JSON-RPC requests including rate limiter wait",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint", "method"},
		),

		ConnectionErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "presale_connection_errors_total",
				Help: "Total number of connection errors to RPC endpoints",
			},
			[]string{"endpoint", "error_type"},
		),

		RateLimiterWait: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "presale_rate_limiter_wait_seconds",
				Help:    "Time outbound requests spent waiting for a rate limiter token",
				Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
		),

		OracleRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "presale_oracle_requests_total",
				Help: "Total number of price lookups by outcome",
			},
			[]string{"symbol", "source"},
		),

		OraclePriceUSD: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "presale_oracle_price_usd",
				Help: "Last known USD spot price per asset",
			},
			[]string{"symbol"},
		),

		IngestionRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "presale_ingestion_runs_total",
				Help: "Total number of ingestion runs by status",
			},
			[]string{"status"},
		),

		IngestionRunDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "presale_ingestion_run_duration_seconds",
				Help:    "Duration of ingestion runs",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
		),

		SignaturesProcessedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "presale_signatures_processed_total",
				Help: "Total number of signatures handled by outcome",
			},
			[]string{"outcome"},
		),

		RecordsIngestedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "presale_records_ingested_total",
				Help: "Total number of transaction records upserted",
			},
			[]string{"direction", "asset"},
		),

		PendingSignatures: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "presale_pending_signatures",
				Help: "Signatures waiting for their transaction detail",
			},
			[]string{"address"},
		),

		AmbiguousClassifications: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "presale_ambiguous_classifications_total",
				Help: "Total number of records flagged as ambiguously attributed",
			},
		),

		StaleResponsesServedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "presale_stale_responses_total",
				Help: "Total number of facade responses served from stale cache",
			},
			[]string{"operation"},
		),

		CacheRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "presale_cache_requests_total",
				Help: "Cache reads by tier and result",
			},
			[]string{"tier", "result"},
		),

		HotCacheEntries: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "presale_hot_cache_entries",
				Help: "Entries currently held in the in-process cache tier",
			},
		),

		DatabaseOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "presale_database_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "table", "status"},
		),

		DatabaseOperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "presale_database_operation_duration_seconds",
				Help:    "Duration of database operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "table"},
		),

		NotificationsSentTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "presale_notifications_sent_total",
				Help: "Total number of refresh notifications delivered",
			},
			[]string{"channel"},
		),

		NotificationFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "presale_notification_failures_total",
				Help: "Total number of refresh notifications that failed",
			},
			[]string{"channel"},
		),

		WebSocketClients: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "presale_websocket_clients",
				Help: "Connected websocket clients",
			},
		),

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "presale_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "presale_http_request_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		ApplicationUptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "presale_application_uptime_seconds",
				Help: "Application uptime in seconds",
			},
		),

		ComponentHealth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "presale_component_health",
				Help: "Health status of application components (1 = healthy, 0 = unhealthy)",
			},
			[]string{"component"},
		),

		MemoryUsage: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "presale_memory_usage_bytes",
				Help: "Current memory usage in bytes",
			},
		),

		GoroutineCount: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "presale_goroutines",
				Help: "Current number of goroutines",
			},
		),

		WatchedAddresses: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "presale_watched_addresses",
				Help: "Number of addresses with an active monitor",
			},
		),
	}
}

// RecordRPCRequest records an RPC request
func (m *PrometheusMetrics) RecordRPCRequest(endpoint, method, status string, duration time.Duration) {
	m.RPCRequestsTotal.WithLabelValues(endpoint, method, status).Inc()
	m.RPCRequestDuration.WithLabelValues(endpoint, method).Observe(duration.Seconds())
}

// RecordConnectionError records a connection error
func (m *PrometheusMetrics) RecordConnectionError(endpoint, errorType string) {
	m.ConnectionErrorsTotal.WithLabelValues(endpoint, errorType).Inc()
}

// RecordRateLimiterWait records time spent waiting for a token
func (m *PrometheusMetrics) RecordRateLimiterWait(wait time.Duration) {
	m.RateLimiterWait.Observe(wait.Seconds())
}

// RecordOracleLookup records a price lookup and its outcome
func (m *PrometheusMetrics) RecordOracleLookup(symbol, source string, price float64) {
	m.OracleRequestsTotal.WithLabelValues(symbol, source).Inc()
	if price > 0 {
		m.OraclePriceUSD.WithLabelValues(symbol).Set(price)
	}
}

// RecordIngestionRun records a completed ingestion run
func (m *PrometheusMetrics) RecordIngestionRun(status string, duration time.Duration) {
	m.IngestionRunsTotal.WithLabelValues(status).Inc()
	m.IngestionRunDuration.Observe(duration.Seconds())
}

// RecordSignatures records signatures handled with the given outcome
func (m *PrometheusMetrics) RecordSignatures(outcome string, count int) {
	if count > 0 {
		m.SignaturesProcessedTotal.WithLabelValues(outcome).Add(float64(count))
	}
}

// RecordIngestedRecord records one upserted transaction record
func (m *PrometheusMetrics) RecordIngestedRecord(direction, asset string, ambiguous bool) {
	m.RecordsIngestedTotal.WithLabelValues(direction, asset).Inc()
	if ambiguous {
		m.AmbiguousClassifications.Inc()
	}
}

// UpdatePendingSignatures sets the pending signature count for an address
func (m *PrometheusMetrics) UpdatePendingSignatures(address string, count int) {
	m.PendingSignatures.WithLabelValues(address).Set(float64(count))
}

// RecordStaleResponse records a degraded facade response
func (m *PrometheusMetrics) RecordStaleResponse(operation string) {
	m.StaleResponsesServedTotal.WithLabelValues(operation).Inc()
}

// RecordCacheRequest records a cache read against a tier
func (m *PrometheusMetrics) RecordCacheRequest(tier string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheRequestsTotal.WithLabelValues(tier, result).Inc()
}

// UpdateHotCacheEntries sets the hot tier entry count
func (m *PrometheusMetrics) UpdateHotCacheEntries(count int) {
	m.HotCacheEntries.Set(float64(count))
}

// RecordDatabaseOperation records a database operation
func (m *PrometheusMetrics) RecordDatabaseOperation(operation, table, status string, duration time.Duration) {
	m.DatabaseOperationsTotal.WithLabelValues(operation, table, status).Inc()
	m.DatabaseOperationDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// RecordNotification records a notification delivery attempt
func (m *PrometheusMetrics) RecordNotification(channel string, err error) {
	if err != nil {
		m.NotificationFailuresTotal.WithLabelValues(channel).Inc()
		return
	}
	m.NotificationsSentTotal.WithLabelValues(channel).Inc()
}

// UpdateWebSocketClients sets the connected websocket client count
func (m *PrometheusMetrics) UpdateWebSocketClients(count int) {
	m.WebSocketClients.Set(float64(count))
}

// RecordHTTPRequest records an HTTP request
func (m *PrometheusMetrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// UpdateApplicationUptime updates the application uptime
func (m *PrometheusMetrics) UpdateApplicationUptime(startTime time.Time) {
	m.ApplicationUptime.Set(time.Since(startTime).Seconds())
}

// UpdateComponentHealth updates component health status
func (m *PrometheusMetrics) UpdateComponentHealth(component string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	m.ComponentHealth.WithLabelValues(component).Set(value)
}

// UpdateMemoryUsage updates memory usage
func (m *PrometheusMetrics) UpdateMemoryUsage(bytes uint64) {
	m.MemoryUsage.Set(float64(bytes))
}

// UpdateGoroutineCount updates goroutine count
func (m *PrometheusMetrics) UpdateGoroutineCount(count int) {
	m.GoroutineCount.Set(float64(count))
}

// UpdateWatchedAddresses updates the number of monitored addresses
func (m *PrometheusMetrics) UpdateWatchedAddresses(count int) {
	m.WatchedAddresses.Set(float64(count))
}
