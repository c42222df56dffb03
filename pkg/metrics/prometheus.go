package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the executor's Prometheus metric registry.
type Metrics struct {
	// gRPC fabric metrics
	GRPCRequestsTotal    *prometheus.CounterVec
	GRPCRequestDuration  *prometheus.HistogramVec
	GRPCRequestsInFlight prometheus.Gauge

	// Worker lifecycle metrics
	ActiveWorkers          prometheus.Gauge
	WorkerActivationsTotal *prometheus.CounterVec
	WorkerReplayDuration   *prometheus.HistogramVec
	WorkerReplayedEntries  *prometheus.HistogramVec

	// Oplog metrics
	OplogAppendDuration *prometheus.HistogramVec
	OplogAppendedTotal  *prometheus.CounterVec
	OplogEntrySizeBytes prometheus.Histogram
	OplogCommitDuration prometheus.Histogram

	// Invocation queue metrics
	InvocationQueueDepth *prometheus.GaugeVec
	InvocationsEnqueued  *prometheus.CounterVec
	InvocationsCompleted *prometheus.CounterVec
	InvocationDuration   *prometheus.HistogramVec

	// Shard / RPC fabric metrics
	ShardAssignmentsTotal prometheus.Counter
	ShardRoutingCacheSize prometheus.Gauge
	RPCCallsTotal         *prometheus.CounterVec
	RPCCallDuration       *prometheus.HistogramVec

	// Information about the running binary.
	ServiceInfo *prometheus.GaugeVec

	// InFlightShardRPCs tracks concurrently in-flight outbound shard
	// RPCs per method, backed by the shared GRPCRequestsInFlight gauge.
	InFlightShardRPCs *RequestTracker
}

var defaultMetrics *Metrics

// InitMetrics registers the executor's metric set against the default
// registry under the given namespace/subsystem.
func InitMetrics(namespace, subsystem string) *Metrics {
	m := &Metrics{
		GRPCRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "grpc_requests_total",
				Help:      "Total number of gRPC requests",
			},
			[]string{"method", "status"},
		),

		GRPCRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "grpc_request_duration_seconds",
				Help:      "Duration of gRPC requests",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method"},
		),

		GRPCRequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "grpc_requests_in_flight",
				Help:      "Current number of gRPC requests being processed",
			},
		),

		ActiveWorkers: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "active_workers",
				Help:      "Current number of activated (in-memory) worker instances",
			},
		),

		WorkerActivationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "worker_activations_total",
				Help:      "Total number of worker activations by outcome",
			},
			[]string{"outcome"}, // replayed, fresh, failed
		),

		WorkerReplayDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "worker_replay_duration_seconds",
				Help:      "Duration of replaying a worker's oplog before it goes live",
				Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10, 30},
			},
			[]string{"component_id"},
		),

		WorkerReplayedEntries: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "worker_replayed_entries",
				Help:      "Number of oplog entries replayed per activation",
				Buckets:   []float64{1, 10, 100, 1000, 10000, 100000},
			},
			[]string{"component_id"},
		),

		OplogAppendDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "oplog_append_duration_seconds",
				Help:      "Duration of appending an entry to the oplog",
				Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
			},
			[]string{"storage"}, // storage backend's Go type, e.g. *oplog.MemoryStorage
		),

		OplogAppendedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "oplog_entries_appended_total",
				Help:      "Total number of oplog entries appended, by entry kind",
			},
			[]string{"kind"},
		),

		OplogEntrySizeBytes: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "oplog_entry_size_bytes",
				Help:      "Size of serialized oplog entries, pre-indirection",
				Buckets:   []float64{64, 256, 1024, 4096, 8192, 32768, 131072, 1048576},
			},
		),

		OplogCommitDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "oplog_commit_duration_seconds",
				Help:      "Duration of a durable commit (fsync-equivalent) to the oplog backend",
				Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
			},
		),

		InvocationQueueDepth: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "invocation_queue_depth",
				Help:      "Current number of pending invocations per worker",
			},
			[]string{"component_id"},
		),

		InvocationsEnqueued: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "invocations_enqueued_total",
				Help:      "Total number of invocations enqueued, by idempotency outcome",
			},
			[]string{"outcome"}, // new, deduplicated
		),

		InvocationsCompleted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "invocations_completed_total",
				Help:      "Total number of invocations completed, by status",
			},
			[]string{"status"}, // success, failed, cancelled
		),

		InvocationDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "invocation_duration_seconds",
				Help:      "Duration of an exported function invocation, enqueue to completion",
				Buckets:   []float64{.001, .01, .1, .5, 1, 5, 10, 30, 60, 300},
			},
			[]string{"function_name"},
		),

		ShardAssignmentsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "shard_assignments_total",
				Help:      "Total number of shard assignment updates received from the shard manager",
			},
		),

		ShardRoutingCacheSize: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "shard_routing_cache_size",
				Help:      "Current number of entries in the shard routing cache",
			},
		),

		RPCCallsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "rpc_calls_total",
				Help:      "Total number of outbound worker-to-worker RPC calls",
			},
			[]string{"method", "status"},
		),

		RPCCallDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "rpc_call_duration_seconds",
				Help:      "Duration of outbound worker-to-worker RPC calls",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method"},
		),

		ServiceInfo: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "service_info",
				Help:      "Service information",
			},
			[]string{"version", "environment"},
		),
	}

	m.InFlightShardRPCs = NewRequestTracker(m.GRPCRequestsInFlight)
	prometheus.MustRegister(NewRuntimeCollector(namespace, subsystem))

	defaultMetrics = m
	return m
}

// Get returns the process-wide metrics instance, initializing it with
// the executor's default namespace if it hasn't been set up yet.
func Get() *Metrics {
	if defaultMetrics == nil {
		return InitMetrics("golem", "executor")
	}
	return defaultMetrics
}

// RecordGRPCRequest records a completed inbound gRPC call.
func (m *Metrics) RecordGRPCRequest(method string, status string, duration time.Duration) {
	m.GRPCRequestsTotal.WithLabelValues(method, status).Inc()
	m.GRPCRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordWorkerActivation records the outcome of activating a worker
// ("replayed", "fresh", or "failed") and, when replay happened, its
// duration and the number of entries replayed.
func (m *Metrics) RecordWorkerActivation(componentID, outcome string, replayDuration time.Duration, replayedEntries int) {
	m.WorkerActivationsTotal.WithLabelValues(outcome).Inc()
	if outcome == "replayed" {
		m.WorkerReplayDuration.WithLabelValues(componentID).Observe(replayDuration.Seconds())
		m.WorkerReplayedEntries.WithLabelValues(componentID).Observe(float64(replayedEntries))
	}
}

// RecordOplogAppend records an oplog append's latency, the storage
// backend used, the entry kind, and its serialized size.
func (m *Metrics) RecordOplogAppend(storage, kind string, duration time.Duration, sizeBytes int) {
	m.OplogAppendDuration.WithLabelValues(storage).Observe(duration.Seconds())
	m.OplogAppendedTotal.WithLabelValues(kind).Inc()
	m.OplogEntrySizeBytes.Observe(float64(sizeBytes))
}

// RecordOplogCommit records the latency of a durable commit.
func (m *Metrics) RecordOplogCommit(duration time.Duration) {
	m.OplogCommitDuration.Observe(duration.Seconds())
}

// SetInvocationQueueDepth reports the current pending-invocation count
// for a worker.
func (m *Metrics) SetInvocationQueueDepth(componentID string, depth int) {
	m.InvocationQueueDepth.WithLabelValues(componentID).Set(float64(depth))
}

// RecordInvocationEnqueued records whether an enqueue request was new
// or deduplicated by idempotency key.
func (m *Metrics) RecordInvocationEnqueued(outcome string) {
	m.InvocationsEnqueued.WithLabelValues(outcome).Inc()
}

// RecordInvocationCompleted records a completed invocation's status
// and end-to-end duration.
func (m *Metrics) RecordInvocationCompleted(functionName, status string, duration time.Duration) {
	m.InvocationsCompleted.WithLabelValues(status).Inc()
	m.InvocationDuration.WithLabelValues(functionName).Observe(duration.Seconds())
}

// RecordShardAssignment records receipt of a shard assignment update
// and the resulting routing cache size.
func (m *Metrics) RecordShardAssignment(cacheSize int) {
	m.ShardAssignmentsTotal.Inc()
	m.ShardRoutingCacheSize.Set(float64(cacheSize))
}

// RecordRPCCall records an outbound worker-to-worker RPC call.
func (m *Metrics) RecordRPCCall(method, status string, duration time.Duration) {
	m.RPCCallsTotal.WithLabelValues(method, status).Inc()
	m.RPCCallDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// SetServiceInfo publishes the running binary's version/environment.
func (m *Metrics) SetServiceInfo(version, environment string) {
	m.ServiceInfo.WithLabelValues(version, environment).Set(1)
}

// Handler returns the HTTP handler serving /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// StartMetricsServer starts a blocking HTTP server exposing /metrics
// and /health on port.
func StartMetricsServer(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK")) //nolint:errcheck // health endpoint, write error is not actionable
	})

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return server.ListenAndServe()
}
