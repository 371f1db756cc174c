// Package metrics provides Prometheus instrumentation for the engine.
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
	// CommandsTotal counts processed commands by type and final status.
	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matchcore_commands_total",
		Help: "Commands processed by the pipeline",
	}, []string{"type", "status"})

	// CommandLatency measures admission to completion.
	CommandLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "matchcore_command_latency_seconds",
		Help:    "Time from admission to completion",
		Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
	}, []string{"type"})

	AdmissionRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matchcore_admission_rejections_total",
		Help: "Commands refused at admission",
	}, []string{"reason"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "matchcore_queue_depth",
		Help: "Admitted commands waiting for the writer",
	})

	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matchcore_trades_total",
		Help: "Trades executed",
	}, []string{"symbol"})

	// TradeVolume is cumulative traded quantity per symbol.
	TradeVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matchcore_trade_volume_total",
		Help: "Traded quantity",
	}, []string{"symbol"})

	OrderRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matchcore_order_rejections_total",
		Help: "Rejected commands by reject code",
	}, []string{"code"})

	SnapshotDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "matchcore_snapshot_duration_seconds",
		Help:    "Snapshot capture and save time",
		Buckets: prometheus.DefBuckets,
	}, []string{"stage"})

	SnapshotsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matchcore_snapshots_total",
		Help: "Snapshots persisted",
	}, []string{"result"})

	OutboxPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "matchcore_outbox_pending",
		Help: "Egress events not yet acknowledged",
	})

	EgressPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matchcore_egress_published_total",
		Help: "Egress publish attempts",
	}, []string{"result"})

	OpsRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matchcore_ops_requests_total",
		Help: "Ops HTTP requests",
	}, []string{"method", "path", "status"})

	OpsRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "matchcore_ops_request_duration_seconds",
		Help:    "Ops HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records count and latency of ops HTTP requests.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		path := r.URL.Path
		OpsRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		OpsRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
