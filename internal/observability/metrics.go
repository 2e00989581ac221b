package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Drop reasons for FramesDropped.
const (
	DropFraming  = "framing"
	DropText     = "text"
	DropHandler  = "handler"
	DropPanic    = "panic"
	DropOversize = "oversize"
)

var (
	registerOnce sync.Once

	framesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sockframe",
			Subsystem: "frames",
			Name:      "received_total",
			Help:      "Frames decoded by an endpoint receive loop.",
		},
		[]string{"endpoint", "code"},
	)
	framesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sockframe",
			Subsystem: "frames",
			Name:      "sent_total",
			Help:      "Frames written by an endpoint.",
		},
		[]string{"endpoint", "code"},
	)
	framesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sockframe",
			Subsystem: "frames",
			Name:      "dropped_total",
			Help:      "Frames dropped without killing the connection.",
		},
		[]string{"endpoint", "reason"},
	)
	activeConns = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "sockframe",
			Subsystem: "server",
			Name:      "active_connections",
			Help:      "Live connections in a server table.",
		},
		[]string{"endpoint"},
	)
	connLifetime = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sockframe",
			Subsystem: "server",
			Name:      "connection_lifetime_seconds",
			Help:      "Time between accept and close of a connection.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 4, 8),
		},
		[]string{"endpoint"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sockframe",
			Subsystem: "admin",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"endpoint", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sockframe",
			Subsystem: "admin",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"endpoint", "method", "path", "status"},
	)
	moves = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sockframe",
			Subsystem: "sync",
			Name:      "moves_total",
			Help:      "Proposed moves by outcome.",
		},
		[]string{"outcome"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			framesReceived, framesSent, framesDropped,
			activeConns, connLifetime,
			httpRequests, httpDuration,
			moves,
		)
	})
}

func RecordFrameReceived(endpoint string, code uint64) {
	RegisterMetrics()
	framesReceived.WithLabelValues(endpoint, strconv.FormatUint(code, 10)).Inc()
}

func RecordFrameSent(endpoint string, code uint64) {
	RegisterMetrics()
	framesSent.WithLabelValues(endpoint, strconv.FormatUint(code, 10)).Inc()
}

func RecordFrameDropped(endpoint, reason string) {
	RegisterMetrics()
	framesDropped.WithLabelValues(endpoint, reason).Inc()
}

func SetActiveConnections(endpoint string, n int) {
	RegisterMetrics()
	activeConns.WithLabelValues(endpoint).Set(float64(n))
}

func RecordConnectionClosed(endpoint string, lifetime time.Duration) {
	RegisterMetrics()
	connLifetime.WithLabelValues(endpoint).Observe(lifetime.Seconds())
}

func RecordMove(outcome string) {
	RegisterMetrics()
	moves.WithLabelValues(outcome).Inc()
}

func RecordHTTPRequest(endpoint, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(endpoint, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(endpoint, method, path, statusLabel).Observe(duration.Seconds())
}
