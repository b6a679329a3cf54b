// Package metrics provides Prometheus instrumentation for the risk engine.
package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// LiquidationsTotal counts liquidation calls by flow and outcome
	// (transferred, healed, rejected).
	LiquidationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hyperrisk_liquidations_total",
		Help: "Total liquidation calls by flow and outcome",
	}, []string{"flow", "outcome"})

	// LiquidationErrors counts failed calls by error kind.
	LiquidationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hyperrisk_liquidation_errors_total",
		Help: "Failed liquidation calls by flow and error kind",
	}, []string{"flow", "kind"})

	// MarginShortage observes the shortage seen at the start of a transfer,
	// in quote units.
	MarginShortage = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hyperrisk_margin_shortage_quote",
		Help:    "Margin shortage at liquidation time in quote units",
		Buckets: []float64{1, 10, 100, 1_000, 10_000, 100_000, 1_000_000},
	}, []string{"flow"})

	// LiquidationLatency tracks how long a liquidation call takes end to end.
	LiquidationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hyperrisk_liquidation_latency_seconds",
		Help:    "Liquidation call latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"flow"})

	// AccountsBeingLiquidated tracks accounts currently flagged.
	AccountsBeingLiquidated = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hyperrisk_accounts_being_liquidated",
		Help: "Number of accounts currently flagged for liquidation",
	})

	// PoolUtilization tracks pool utilization as a fraction.
	PoolUtilization = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hyperrisk_pool_utilization",
		Help: "Borrowed over deposited tokens per pool",
	}, []string{"pool"})

	// InterestAccruals counts accrual sweeps per pool by result.
	InterestAccruals = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hyperrisk_interest_accruals_total",
		Help: "Interest accrual runs per pool",
	}, []string{"pool", "result"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hyperrisk_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hyperrisk_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hyperrisk_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
// route maps a request to a low-cardinality path label; nil uses the raw path.
func Middleware(route func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(wrapped, r)
			duration := time.Since(start).Seconds()

			path := r.URL.Path
			if route != nil {
				path = route(r)
			}
			HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
			HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
		})
	}
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

// Hijack lets WebSocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("metrics: %T does not support hijacking", w.ResponseWriter)
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
