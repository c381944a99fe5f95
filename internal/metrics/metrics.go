// Package metrics provides Prometheus instrumentation for the rainline service.
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
	// WagersPlacedTotal counts wagers placed, partitioned by event category.
	WagersPlacedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rainline_wagers_placed_total",
		Help: "Total number of rain wagers placed",
	}, []string{"category"})

	// WagersSettledTotal counts settled wagers by outcome.
	WagersSettledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rainline_wagers_settled_total",
		Help: "Total number of rain wagers settled",
	}, []string{"outcome"})

	// WagerRejections counts wagers rejected by validation.
	WagerRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rainline_wager_rejections_total",
		Help: "Wagers rejected by stake or line validation",
	}, []string{"reason"})

	// ForecastFetchesTotal counts forecast fetches by result
	// (ok, fallback, error, superseded).
	ForecastFetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rainline_forecast_fetches_total",
		Help: "Forecast fetch attempts by result",
	}, []string{"result"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rainline_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rainline_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rainline_http_request_duration_seconds",
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

		// Use the raw path for the label; the API surface is small enough
		// that cardinality stays bounded.
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
