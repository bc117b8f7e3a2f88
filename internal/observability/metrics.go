package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kmsgq",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kmsgq",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	transferCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kmsgq",
			Subsystem: "transfer",
			Name:      "calls_total",
			Help:      "Physical read/write calls by outcome.",
		},
		[]string{"endpoint", "direction", "outcome"},
	)
	transferBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kmsgq",
			Subsystem: "transfer",
			Name:      "bytes_total",
			Help:      "Bytes moved through the store.",
		},
		[]string{"endpoint", "direction"},
	)
	transferDiscarded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kmsgq",
			Subsystem: "transfer",
			Name:      "discarded_bytes_total",
			Help:      "Bytes dropped by write or read truncation.",
		},
		[]string{"endpoint", "direction"},
	)
	transferFaults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kmsgq",
			Subsystem: "transfer",
			Name:      "faults_total",
			Help:      "Calls aborted by a boundary or allocation fault.",
		},
		[]string{"endpoint", "direction", "kind"},
	)
	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "kmsgq",
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Messages currently queued.",
		},
		[]string{"endpoint"},
	)
	openHandles = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "kmsgq",
			Subsystem: "procfs",
			Name:      "open_handles",
			Help:      "Open pseudo-file handles.",
		},
		[]string{"endpoint"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			transferCalls, transferBytes, transferDiscarded, transferFaults,
			queueDepth, openHandles,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

// RecordTransfer counts one successful physical call.
func RecordTransfer(endpoint, direction, outcome string, moved, discarded int) {
	RegisterMetrics()
	transferCalls.WithLabelValues(endpoint, direction, outcome).Inc()
	if moved > 0 {
		transferBytes.WithLabelValues(endpoint, direction).Add(float64(moved))
	}
	if discarded > 0 {
		transferDiscarded.WithLabelValues(endpoint, direction).Add(float64(discarded))
	}
}

func RecordFault(endpoint, direction, kind string) {
	RegisterMetrics()
	transferFaults.WithLabelValues(endpoint, direction, kind).Inc()
}

func SetQueueDepth(endpoint string, depth int) {
	RegisterMetrics()
	queueDepth.WithLabelValues(endpoint).Set(float64(depth))
}

func SetOpenHandles(endpoint string, n int64) {
	RegisterMetrics()
	openHandles.WithLabelValues(endpoint).Set(float64(n))
}
