// Package metrics holds the Prometheus collectors for graph operations.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	OperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "entitygraph_operations_total",
		Help: "Total number of graph operations by outcome",
	}, []string{"op", "success"})

	OperationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "entitygraph_operation_seconds",
		Help:    "Graph operation duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	EmbeddingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "entitygraph_embeddings_total",
		Help: "Embedding generation attempts by result (generated, skipped, failed)",
	}, []string{"result"})

	SnapshotsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "entitygraph_snapshots_total",
		Help: "Snapshots that reached a terminal status",
	}, []string{"status"})

	AuditWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "entitygraph_audit_write_failures_total",
		Help: "Audit entries that could not be persisted",
	})
)

// Observe records one operation outcome and its latency since start.
func Observe(op string, start time.Time, err error) {
	success := "true"
	if err != nil {
		success = "false"
	}
	OperationsTotal.WithLabelValues(op, success).Inc()
	OperationSeconds.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
