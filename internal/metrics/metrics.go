package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	uploads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "photofilter",
			Subsystem: "ingest",
			Name:      "uploads_total",
			Help:      "Uploads by outcome.",
		},
		[]string{"outcome"},
	)

	transforms = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "photofilter",
			Subsystem: "transform",
			Name:      "runs_total",
			Help:      "Transform attempts by terminal status.",
		},
		[]string{"status"},
	)

	transformDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "photofilter",
			Subsystem: "transform",
			Name:      "duration_seconds",
			Help:      "Duration of transform jobs.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		},
		[]string{"status"},
	)

	inFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "photofilter",
			Subsystem: "transform",
			Name:      "inflight",
			Help:      "Transforms currently queued or running.",
		},
	)

	historySize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "photofilter",
			Subsystem: "store",
			Name:      "history_size",
			Help:      "Number of records held in history.",
		},
	)

	payments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "photofilter",
			Subsystem: "payment",
			Name:      "sessions_total",
			Help:      "Payment session requests by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	Registry.MustRegister(
		uploads,
		transforms,
		transformDuration,
		inFlight,
		historySize,
		payments,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

func RecordUpload(outcome string) {
	uploads.WithLabelValues(outcome).Inc()
}

func TransformStarted() {
	inFlight.Inc()
}

func TransformFinished(status string, d time.Duration) {
	inFlight.Dec()
	transforms.WithLabelValues(status).Inc()
	transformDuration.WithLabelValues(status).Observe(d.Seconds())
}

func SetHistorySize(n int) {
	historySize.Set(float64(n))
}

func RecordPayment(outcome string) {
	payments.WithLabelValues(outcome).Inc()
}
