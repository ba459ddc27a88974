package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Telegram update metrics.
var (
	UpdatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "igrelay_updates_total",
		Help: "Telegram updates received by kind",
	}, []string{"kind"})

	DownloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "igrelay_downloads_total",
		Help: "Media downloads by kind and result",
	}, []string{"kind", "result"})

	DownloadDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "igrelay_download_duration_seconds",
		Help:    "Time from admission to media delivery by kind",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"kind"})

	RateLimitRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "igrelay_rate_limit_rejections_total",
		Help: "Requests denied by the per-user rate limiter",
	})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "igrelay_active_sessions",
		Help: "Format-choice keyboards awaiting a button press",
	})
)

// Rate limiter retention metrics.
var (
	LimiterTrackedUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "igrelay_limiter_tracked_users",
		Help: "Users with at least one in-window admission",
	})

	LimiterSweepsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "igrelay_limiter_sweeps_total",
		Help: "Retention sweeps completed",
	})

	LimiterSweptUsersTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "igrelay_limiter_swept_users_total",
		Help: "Idle user entries reclaimed by retention sweeps",
	})
)

// Instagram client metrics.
var (
	InstagramCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "igrelay_instagram_calls_total",
		Help: "Instagram API calls by endpoint and result",
	}, []string{"endpoint", "result"})

	InstagramCallLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "igrelay_instagram_call_duration_seconds",
		Help:    "Instagram API call duration in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})
)

// Web server metrics.
var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "igrelay_http_requests_total",
		Help: "Total HTTP requests by route, method, and status code",
	}, []string{"route", "method", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "igrelay_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"route", "method"})

	KeepalivePingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "igrelay_keepalive_pings_total",
		Help: "Keep-alive pings by result",
	}, []string{"result"})
)

// Download store metrics.
var (
	StaleFilesRemovedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "igrelay_stale_files_removed_total",
		Help: "Leftover download files removed by the janitor",
	})
)

// Database pool metrics (gauges updated periodically, Postgres only).
var (
	DBPoolTotalConns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "igrelay_db_pool_total_conns",
		Help: "Total number of connections in the pool",
	})

	DBPoolIdleConns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "igrelay_db_pool_idle_conns",
		Help: "Number of idle connections in the pool",
	})

	DBPoolAcquiredConns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "igrelay_db_pool_acquired_conns",
		Help: "Number of acquired connections in the pool",
	})

	DBPoolMaxConns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "igrelay_db_pool_max_conns",
		Help: "Max connections configured for the pool",
	})
)
