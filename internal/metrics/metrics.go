// Package metrics provides Prometheus instrumentation for the auction engine.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// BidsTotal counts bid requests, partitioned by accepted/rejected.
	BidsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auction_bids_total",
		Help: "Total number of bid requests processed",
	}, []string{"result"})

	// BidRejections counts rejected bids by reason code.
	BidRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auction_bid_rejections_total",
		Help: "Rejected bids by reason code",
	}, []string{"reason"})

	// BidLatency tracks time spent validating and committing a bid.
	BidLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "auction_bid_latency_seconds",
		Help:    "Bid processing latency in seconds",
		Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
	})

	// Settlements counts finished rounds by outcome (sold, unsold, requeued).
	Settlements = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auction_settlements_total",
		Help: "Settled rounds by outcome",
	}, []string{"outcome"})

	// ActiveAuctions tracks the number of running auctions.
	ActiveAuctions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "auction_active",
		Help: "Number of currently running auctions",
	})

	// TimerFires counts timer callbacks, partitioned by whether they
	// settled a round or were discarded as stale.
	TimerFires = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auction_timer_fires_total",
		Help: "Round timer callbacks by result",
	}, []string{"result"})

	// TimerResets counts administrative timer resets.
	TimerResets = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auction_timer_resets_total",
		Help: "Administrative round timer resets",
	})

	// Halts counts auctions halted by a consistency fault.
	Halts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auction_halts_total",
		Help: "Auctions halted for manual intervention",
	}, []string{"reason"})

	// Subscribers tracks live event stream subscriptions.
	Subscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "auction_subscribers",
		Help: "Number of live event stream subscribers",
	})

	// SubscriberEvictions counts subscribers dropped for falling behind.
	SubscriberEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auction_subscriber_evictions_total",
		Help: "Subscribers evicted because their queue was full",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auction_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "auction_http_request_duration_seconds",
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
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Route pattern keeps tournament IDs out of the label set.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
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

// Hijack lets WebSocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
