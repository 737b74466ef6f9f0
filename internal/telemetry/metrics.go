// Package telemetry provides application-level observability for orgstore.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// served by the side-channel HTTP server started by cmd/server:
//
//	GET http://<host>:<ORGSTORE_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090. The endpoint is not served by the Gin router.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Organization lifecycle outcomes and documents moved by renames
//   - Admin login attempts
//   - Reconciler repairs and partition archive uploads
//   - Registry size gauge (polled every 30 s)
//
// Label values never carry organization names or emails; those are user supplied
// and would make cardinality unbounded.
package telemetry

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/orgstore/orgstore/internal/safego"
)

// HTTP metrics, labelled by method, route template, and status code.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - p99 latency per route:             histogram_quantile(0.99, sum by (path, le) (rate(http_request_duration_seconds_bucket[5m])))
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Organization lifecycle metrics, recorded by services.LifecycleService.
//
// OrganizationOperationsTotal has labels {operation, result}. operation is one of
// create, get, rename, delete; result is one of success, conflict, not_found, invalid, error.
//
// Example PromQL queries:
//   - Rename failure rate:  rate(organization_operations_total{operation="rename",result="error"}[1h])
//   - Docs moved per hour:  increase(organization_documents_moved_total[1h])
var (
	OrganizationOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "organization_operations_total",
			Help: "Total number of organization lifecycle operations, by operation and result.",
		},
		[]string{"operation", "result"},
	)

	DocumentsMovedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "organization_documents_moved_total",
			Help: "Total number of tenant documents copied into a new partition by renames.",
		},
	)

	PartitionCopyDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "organization_partition_copy_duration_seconds",
			Help:    "Duration of copying one tenant partition during a rename.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		},
	)
)

// LoginAttemptsTotal has label {result}: success, invalid_credentials, error.
// A sustained rise in invalid_credentials is a brute-force signal.
var LoginAttemptsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "admin_login_attempts_total",
		Help: "Total number of admin login attempts, by result.",
	},
	[]string{"result"},
)

// Reconciler and archive metrics.
//
// ReconcileActionsTotal has label {action}: admin_repaired, partition_dropped, admin_deleted.
// ArchiveUploadsTotal has labels {backend, result}.
//
// Example PromQL queries:
//   - Alert on archive failures:  increase(partition_archive_uploads_total{result="error"}[30m]) > 0
var (
	ReconcileRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reconcile_run_duration_seconds",
			Help:    "Duration of a single reconciler pass.",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconcileActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconcile_actions_total",
			Help: "Total number of repairs applied by the reconciler, by action.",
		},
		[]string{"action"},
	)

	ArchiveUploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "partition_archive_uploads_total",
			Help: "Total number of partition archive attempts, by storage backend and result.",
		},
		[]string{"backend", "result"},
	)

	ArchivedDocumentsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "partition_archived_documents_total",
			Help: "Total number of tenant documents written to archive storage.",
		},
	)
)

// RegistryOrganizations is sampled every 30 seconds by StartRegistryStatsCollector.
var RegistryOrganizations = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "registry_organizations",
		Help: "Current number of organization records in the registry.",
	},
)

// Counter is satisfied by the organization repositories.
type Counter interface {
	Count(ctx context.Context) (int64, error)
}

// StartRegistryStatsCollector samples the organization count every interval
// until ctx is cancelled. A failed sample is logged and the previous value kept.
func StartRegistryStatsCollector(ctx context.Context, orgs Counter, interval time.Duration) {
	safego.Go("registry-stats", func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			sampleRegistry(ctx, orgs)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	})
}

func sampleRegistry(ctx context.Context, orgs Counter) {
	n, err := orgs.Count(ctx)
	if err != nil {
		if ctx.Err() == nil {
			slog.Warn("registry stats collector: count failed", "error", err)
		}
		return
	}
	RegistryOrganizations.Set(float64(n))
}
