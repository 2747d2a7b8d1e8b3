// Package metrics provides Prometheus instrumentation for the market engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TradesTotal counts total trades executed, partitioned by the side
	// that initiated them (offer, bid, pair).
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "emx_trades_total",
		Help: "Total number of trades executed",
	}, []string{"side"})

	// TradedEnergy tracks cumulative traded energy per market.
	TradedEnergy = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "emx_traded_energy_total",
		Help: "Cumulative traded energy in kWh",
	}, []string{"market_id"})

	// MatchLatency is the latency of one batch of match recommendations.
	MatchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "emx_match_latency_seconds",
		Help:    "Match recommendation batch latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// RecommendationFailures counts recommendations rejected during
	// execution.
	RecommendationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "emx_recommendation_failures_total",
		Help: "Match recommendations rejected during execution",
	})

	// ActiveMarkets tracks the number of open markets.
	ActiveMarkets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "emx_active_markets",
		Help: "Number of currently open markets",
	})

	// OpenOrders tracks live orders per side across all markets.
	OpenOrders = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "emx_open_orders",
		Help: "Number of live orders in the book",
	}, []string{"side"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "emx_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "emx_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "emx_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
