package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RPCRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solpool_rpc_requests_total",
			Help: "Total number of JSON-RPC requests by method and status",
		},
		[]string{"method", "status"},
	)

	RPCRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "solpool_rpc_request_duration_seconds",
			Help:    "Duration of JSON-RPC requests",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~41s
		},
		[]string{"method"},
	)

	SessionRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solpool_session_refresh_total",
			Help: "Total number of session refreshes by result (applied, discarded, error)",
		},
		[]string{"result"},
	)

	SessionRefreshDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "solpool_session_refresh_duration_seconds",
			Help:    "Duration of session refreshes",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
	)

	SubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solpool_submissions_total",
			Help: "Total number of transaction submissions by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	KeeperTicksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solpool_keeper_ticks_total",
			Help: "Total number of keeper ticks by action taken",
		},
		[]string{"action"},
	)

	PoolTotalDeposited = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "solpool_pool_total_deposited_lamports",
			Help: "Total deposited lamports from the latest pool snapshot",
		},
	)

	PoolDepositors = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "solpool_pool_depositors",
			Help: "Depositor count from the latest pool snapshot",
		},
	)

	PoolRewardBalance = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "solpool_pool_reward_balance_lamports",
			Help: "Reward pool balance from the latest pool snapshot",
		},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solpool_api_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "solpool_api_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	WebsocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "solpool_api_websocket_clients",
			Help: "Number of connected snapshot websocket clients",
		},
	)
)

// Middleware records request counts and durations per route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(ww.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}
