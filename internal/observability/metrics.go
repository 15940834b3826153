package observability

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/yungbote/biograph-backend/internal/platform/logger"
)

const namespace = "biograph"

type Metrics struct {
	registry *prometheus.Registry

	apiRequests *prometheus.CounterVec
	apiLatency  *prometheus.HistogramVec
	apiInflight prometheus.Gauge

	aggregateLatency    *prometheus.HistogramVec
	aggregateConflicts  *prometheus.CounterVec
	aggregateRetries    *prometheus.CounterVec
	guardrailRejections *prometheus.CounterVec

	cacheLookups     *prometheus.CounterVec
	cacheResolveTime *prometheus.HistogramVec

	explanationReads    *prometheus.CounterVec
	projectionFallbacks *prometheus.CounterVec
	projectionSyncs     *prometheus.CounterVec
	projectionQueue     prometheus.Gauge

	materializeRows    *prometheus.CounterVec
	materializeLatency *prometheus.HistogramVec

	jobRuns *prometheus.CounterVec

	pgStats   *prometheus.GaugeVec
	redisUp   prometheus.Gauge
	redisPing prometheus.Gauge
}

var (
	initOnce sync.Once
	instance *Metrics
)

// Current returns the process-wide metrics, or nil when metrics are disabled.
func Current() *Metrics {
	return instance
}

// Init builds and registers the process-wide metrics once. Returns nil when disabled.
func Init(log *logger.Logger, enabled bool) *Metrics {
	if !enabled {
		return nil
	}
	initOnce.Do(func() {
		instance = New()
		if log != nil {
			log.Info("prometheus metrics enabled")
		}
	})
	return instance
}

// New builds a Metrics with its own registry. Tests use it directly.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "api_requests_total",
			Help: "Total API requests by method/route/status.",
		}, []string{"method", "route", "status"}),
		apiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "api_request_duration_seconds",
			Help:    "API request latency in seconds by method/route/status.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"method", "route", "status"}),
		apiInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "api_inflight_requests",
			Help: "In-flight API requests.",
		}),
		aggregateLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "aggregate_operation_duration_seconds",
			Help:    "Ledger write latency in seconds by operation/status.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"operation", "status"}),
		aggregateConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "aggregate_conflicts_total",
			Help: "Ledger writes rejected with a conflict.",
		}, []string{"operation"}),
		aggregateRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "aggregate_retries_total",
			Help: "Ledger writes that failed with a retryable error.",
		}, []string{"operation"}),
		guardrailRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "guardrail_rejections_total",
			Help: "Ledger writes rejected by a guardrail, by reason code.",
		}, []string{"operation", "reason"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "lookup_cache_requests_total",
			Help: "Lookup cache requests by source/outcome (hit, miss, expired, resolved, fallback).",
		}, []string{"source", "outcome"}),
		cacheResolveTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "lookup_resolve_duration_seconds",
			Help:    "External label resolution latency by source/status.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5},
		}, []string{"source", "status"}),
		explanationReads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "explanation_reads_total",
			Help: "Explanation reads by serving backend/outcome.",
		}, []string{"backend", "outcome"}),
		projectionFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "projection_fallbacks_total",
			Help: "Reads or startups that fell back to the authoritative store, by backend/reason.",
		}, []string{"backend", "reason"}),
		projectionSyncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "projection_syncs_total",
			Help: "Projection sync batches by backend/status.",
		}, []string{"backend", "status"}),
		projectionQueue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "projection_sync_queue_depth",
			Help: "Pending projection sync batches.",
		}),
		materializeRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "materialized_rows_total",
			Help: "Explanation rows touched by materialization, by outcome (written, unchanged, deleted).",
		}, []string{"outcome"}),
		materializeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "materialize_duration_seconds",
			Help:    "Materialization latency per root/date by status.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"status"}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "scheduled_job_runs_total",
			Help: "Scheduled job runs by job/status.",
		}, []string{"job", "status"}),
		pgStats: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "db_pool",
			Help: "Database connection pool stats.",
		}, []string{"stat"}),
		redisUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "redis_up",
			Help: "Redis reachability (1 up, 0 down).",
		}),
		redisPing: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "redis_ping_seconds",
			Help: "Last Redis ping latency in seconds.",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.apiRequests, m.apiLatency, m.apiInflight,
		m.aggregateLatency, m.aggregateConflicts, m.aggregateRetries, m.guardrailRejections,
		m.cacheLookups, m.cacheResolveTime,
		m.explanationReads, m.projectionFallbacks, m.projectionSyncs, m.projectionQueue,
		m.materializeRows, m.materializeLatency,
		m.jobRuns,
		m.pgStats, m.redisUp, m.redisPing,
	)
	return m
}

// Registry exposes the underlying registry for scraping in tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer serves /metrics on a dedicated listener until ctx is done.
func (m *Metrics) StartServer(ctx context.Context, log *logger.Logger, addr string) {
	if m == nil {
		return
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = srv.Shutdown(shutdownCtx)
		cancel()
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if log != nil {
				log.Error("metrics server failed", "error", err, "addr", addr)
			}
		}
	}()
}

func orUnknown(v string) string {
	if strings.TrimSpace(v) == "" {
		return "unknown"
	}
	return v
}

func (m *Metrics) ObserveAPI(method, route, status string, dur time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "UNKNOWN"
	}
	if status == "" {
		status = "0"
	}
	route = orUnknown(route)
	m.apiRequests.WithLabelValues(method, route, status).Inc()
	m.apiLatency.WithLabelValues(method, route, status).Observe(dur.Seconds())
}

func (m *Metrics) ApiInflightInc() {
	if m == nil {
		return
	}
	m.apiInflight.Inc()
}

func (m *Metrics) ApiInflightDec() {
	if m == nil {
		return
	}
	m.apiInflight.Dec()
}

func (m *Metrics) ObserveAggregateOperation(operation, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.aggregateLatency.WithLabelValues(orUnknown(operation), orUnknown(status)).Observe(dur.Seconds())
}

func (m *Metrics) IncAggregateConflict(operation string) {
	if m == nil {
		return
	}
	m.aggregateConflicts.WithLabelValues(orUnknown(operation)).Inc()
}

func (m *Metrics) IncAggregateRetry(operation string) {
	if m == nil {
		return
	}
	m.aggregateRetries.WithLabelValues(orUnknown(operation)).Inc()
}

func (m *Metrics) IncGuardrailRejection(operation, reason string) {
	if m == nil {
		return
	}
	m.guardrailRejections.WithLabelValues(orUnknown(operation), orUnknown(reason)).Inc()
}

func (m *Metrics) IncCacheLookup(source, outcome string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(orUnknown(source), orUnknown(outcome)).Inc()
}

func (m *Metrics) ObserveLabelResolve(source, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.cacheResolveTime.WithLabelValues(orUnknown(source), orUnknown(status)).Observe(dur.Seconds())
}

func (m *Metrics) IncExplanationRead(backend, outcome string) {
	if m == nil {
		return
	}
	m.explanationReads.WithLabelValues(orUnknown(backend), orUnknown(outcome)).Inc()
}

func (m *Metrics) IncProjectionFallback(backend, reason string) {
	if m == nil {
		return
	}
	m.projectionFallbacks.WithLabelValues(orUnknown(backend), orUnknown(reason)).Inc()
}

func (m *Metrics) IncProjectionSync(backend, status string) {
	if m == nil {
		return
	}
	m.projectionSyncs.WithLabelValues(orUnknown(backend), orUnknown(status)).Inc()
}

func (m *Metrics) SetProjectionQueueDepth(n int) {
	if m == nil {
		return
	}
	m.projectionQueue.Set(float64(n))
}

func (m *Metrics) AddMaterializedRows(outcome string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.materializeRows.WithLabelValues(orUnknown(outcome)).Add(float64(n))
}

func (m *Metrics) ObserveMaterialize(status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.materializeLatency.WithLabelValues(orUnknown(status)).Observe(dur.Seconds())
}

func (m *Metrics) IncJobRun(job, status string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(orUnknown(job), orUnknown(status)).Inc()
}

// StartDBCollector samples the gorm connection pool on interval until ctx is done.
func (m *Metrics) StartDBCollector(ctx context.Context, log *logger.Logger, db *gorm.DB, interval time.Duration) {
	if m == nil || db == nil {
		return
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sqlDB, err := db.DB()
				if err != nil {
					if log != nil {
						log.Warn("metrics: db stats unavailable", "error", err)
					}
					continue
				}
				stats := sqlDB.Stats()
				m.pgStats.WithLabelValues("open_connections").Set(float64(stats.OpenConnections))
				m.pgStats.WithLabelValues("in_use").Set(float64(stats.InUse))
				m.pgStats.WithLabelValues("idle").Set(float64(stats.Idle))
				m.pgStats.WithLabelValues("wait_count").Set(float64(stats.WaitCount))
				m.pgStats.WithLabelValues("wait_duration_seconds").Set(stats.WaitDuration.Seconds())
				m.pgStats.WithLabelValues("max_open_connections").Set(float64(stats.MaxOpenConnections))
			}
		}
	}()
}

// StartRedisCollector pings the lookup cache redis on interval until ctx is done.
func (m *Metrics) StartRedisCollector(ctx context.Context, log *logger.Logger, rdb *redis.Client, interval time.Duration) {
	if m == nil || rdb == nil {
		return
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				start := time.Now()
				if err := rdb.Ping(ctx).Err(); err != nil {
					m.redisUp.Set(0)
					if log != nil {
						log.Warn("metrics: redis ping failed", "error", err)
					}
					continue
				}
				m.redisUp.Set(1)
				m.redisPing.Set(time.Since(start).Seconds())
			}
		}
	}()
}
