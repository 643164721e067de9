package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	WorkersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetgraph_workers_total",
			Help: "Total number of registered workers",
		},
	)

	NodesByFSM = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleetgraph_nodes_by_fsm",
			Help: "Total number of nodes by lifecycle state",
		},
		[]string{"fsm"},
	)

	CommitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleetgraph_commit_duration_seconds",
			Help:    "Time taken for commit_graph to instantiate and wire a graph",
			Buckets: prometheus.DefBuckets,
		},
	)

	FSMTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetgraph_fsm_transitions_total",
			Help: "Total number of node lifecycle transitions by from/to state",
		},
		[]string{"from", "to"},
	)

	LifecycleOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleetgraph_lifecycle_op_duration_seconds",
			Help:    "Time taken for a start/record/stop/collect broadcast across workers",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	WSBackpressureDropsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetgraph_ws_backpressure_drops_total",
			Help: "Total number of websocket frames dropped due to a full client queue",
		},
		[]string{"hub"},
	)

	PubSubDropsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetgraph_pubsub_drops_total",
			Help: "Total number of data chunks dropped by a publisher because a subscriber queue was full",
		},
		[]string{"node_id"},
	)

	RecordWriterEntriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetgraph_record_writer_entries_total",
			Help: "Total number of record entries written by stream",
		},
		[]string{"node_id", "stream"},
	)

	HeartbeatMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetgraph_heartbeat_misses_total",
			Help: "Total number of missed heartbeats by worker",
		},
		[]string{"worker_id"},
	)

	RegisteredMethodDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleetgraph_registered_method_duration_seconds",
			Help:    "Time taken to dispatch a registered method call",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"style"},
	)

	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetgraph_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleetgraph_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(
		WorkersTotal,
		NodesByFSM,
		CommitDuration,
		FSMTransitionsTotal,
		LifecycleOpDuration,
		WSBackpressureDropsTotal,
		PubSubDropsTotal,
		RecordWriterEntriesTotal,
		HeartbeatMissesTotal,
		RegisteredMethodDuration,
		APIRequestsTotal,
		APIRequestDuration,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
