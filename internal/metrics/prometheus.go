package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/devrev/tableview/internal/cache"
	viewerrors "github.com/devrev/tableview/internal/errors"
	"github.com/devrev/tableview/internal/model"
	"github.com/devrev/tableview/internal/storage/diskmanager"
	"github.com/devrev/tableview/internal/util/workerpool"
)

const namespace = "tableview"

// Metrics holds all Prometheus metrics of the view service
type Metrics struct {
	// Sync metrics
	SyncPassesTotal       *prometheus.CounterVec
	SyncPassDuration      *prometheus.HistogramVec
	InstantsAppliedTotal  *prometheus.CounterVec
	HandlerDuration       *prometheus.HistogramVec
	HandlerErrorsTotal    *prometheus.CounterVec
	FallbackRebuildsTotal *prometheus.CounterVec
	LastSyncSuccess       *prometheus.GaugeVec
	LastSyncTimestamp     *prometheus.GaugeVec

	// Registry metrics
	PendingCompactions    *prometheus.GaugeVec
	PendingLogCompactions *prometheus.GaugeVec
	PendingClustering     *prometheus.GaugeVec

	// Details cache metrics
	CacheHitsTotal      prometheus.Gauge
	CacheMissesTotal    prometheus.Gauge
	CacheEvictionsTotal prometheus.Gauge
	CacheSizeBytes      prometheus.Gauge
	CacheEntries        prometheus.Gauge

	// Worker pool metrics
	PoolActiveWorkers prometheus.Gauge
	PoolQueuedTasks   prometheus.Gauge
	PoolRejectedTasks prometheus.Gauge

	// Disk metrics
	DiskUsagePercent   prometheus.Gauge
	DiskAvailableBytes prometheus.Gauge

	// HTTP API metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates all metrics and registers them with reg. A nil reg uses
// the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		SyncPassesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "passes_total",
			Help:      "Total number of sync passes by mode and outcome",
		}, []string{"table", "mode", "status"}),
		SyncPassDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "pass_duration_seconds",
			Help:      "Histogram of sync pass durations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"table", "mode"}),
		InstantsAppliedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "instants_applied_total",
			Help:      "Total number of instants applied incrementally",
		}, []string{"table", "action"}),
		HandlerDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "handler_duration_seconds",
			Help:      "Histogram of per-instant handler durations",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10), // 100us to 26s
		}, []string{"action"}),
		HandlerErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "handler_errors_total",
			Help:      "Total number of handler failures by error code",
		}, []string{"table", "action", "code"}),
		FallbackRebuildsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "fallback_rebuilds_total",
			Help:      "Total number of full rebuilds after a failed incremental sync",
		}, []string{"table"}),
		LastSyncSuccess: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "last_success",
			Help:      "1 if the last sync of a table succeeded",
		}, []string{"table"}),
		LastSyncTimestamp: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful sync",
		}, []string{"table"}),

		PendingCompactions: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "view",
			Name:      "pending_compaction_groups",
			Help:      "File groups registered to a pending compaction",
		}, []string{"table"}),
		PendingLogCompactions: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "view",
			Name:      "pending_log_compaction_groups",
			Help:      "File groups registered to a pending log compaction",
		}, []string{"table"}),
		PendingClustering: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "view",
			Name:      "pending_clustering_groups",
			Help:      "File groups registered to a pending clustering",
		}, []string{"table"}),

		CacheHitsTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "details_cache",
			Name:      "hits",
			Help:      "Instant details served from cache",
		}),
		CacheMissesTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "details_cache",
			Name:      "misses",
			Help:      "Instant details read from the store",
		}),
		CacheEvictionsTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "details_cache",
			Name:      "evictions",
			Help:      "Entries evicted from the details cache",
		}),
		CacheSizeBytes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "details_cache",
			Name:      "size_bytes",
			Help:      "Current details cache size in bytes",
		}),
		CacheEntries: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "details_cache",
			Name:      "entries",
			Help:      "Current number of cached instant details",
		}),

		PoolActiveWorkers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sync_pool",
			Name:      "active_workers",
			Help:      "Workers currently running a sync",
		}),
		PoolQueuedTasks: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sync_pool",
			Name:      "queued_tasks",
			Help:      "Sync tasks waiting for a worker",
		}),
		PoolRejectedTasks: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sync_pool",
			Name:      "rejected_tasks",
			Help:      "Sync tasks rejected because the queue was full or the pool stopped",
		}),

		DiskUsagePercent: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "disk",
			Name:      "usage_percent",
			Help:      "Used share of the filesystem holding the table",
		}),
		DiskAvailableBytes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "disk",
			Name:      "available_bytes",
			Help:      "Free bytes on the filesystem holding the table",
		}),

		HTTPRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of query API requests",
		}, []string{"route", "code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Histogram of query API request durations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// InstantApplied records the outcome of one handler dispatch
func (m *Metrics) InstantApplied(table string, action model.Action, duration time.Duration, err error) {
	m.HandlerDuration.WithLabelValues(string(action)).Observe(duration.Seconds())
	if err != nil {
		m.HandlerErrorsTotal.WithLabelValues(table, string(action), viewerrors.GetCode(err).String()).Inc()
		return
	}
	m.InstantsAppliedTotal.WithLabelValues(table, string(action)).Inc()
}

// SyncCompleted records the outcome of one sync pass
func (m *Metrics) SyncCompleted(table string, mode string, instants int, duration time.Duration, err error) {
	m.SyncPassDuration.WithLabelValues(table, mode).Observe(duration.Seconds())
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.SyncPassesTotal.WithLabelValues(table, mode, status).Inc()
}

// RecordSyncOutcome updates the per-table health gauges
func (m *Metrics) RecordSyncOutcome(table string, ok bool, at time.Time) {
	if !ok {
		m.LastSyncSuccess.WithLabelValues(table).Set(0)
		return
	}
	m.LastSyncSuccess.WithLabelValues(table).Set(1)
	m.LastSyncTimestamp.WithLabelValues(table).Set(float64(at.Unix()))
}

// RecordFallbackRebuild records a full rebuild after a failed sync
func (m *Metrics) RecordFallbackRebuild(table string) {
	m.FallbackRebuildsTotal.WithLabelValues(table).Inc()
}

// UpdateRegistrySizes updates the pending registry gauges of a table
func (m *Metrics) UpdateRegistrySizes(table string, compactions, logCompactions, clustering int) {
	m.PendingCompactions.WithLabelValues(table).Set(float64(compactions))
	m.PendingLogCompactions.WithLabelValues(table).Set(float64(logCompactions))
	m.PendingClustering.WithLabelValues(table).Set(float64(clustering))
}

// UpdateCacheStats copies details cache counters
func (m *Metrics) UpdateCacheStats(stats cache.Stats) {
	m.CacheHitsTotal.Set(float64(stats.Hits))
	m.CacheMissesTotal.Set(float64(stats.Misses))
	m.CacheEvictionsTotal.Set(float64(stats.Evictions))
	m.CacheSizeBytes.Set(float64(stats.Size))
	m.CacheEntries.Set(float64(stats.EntryCount))
}

// UpdatePoolStats copies worker pool counters
func (m *Metrics) UpdatePoolStats(stats workerpool.Stats) {
	m.PoolActiveWorkers.Set(float64(stats.ActiveWorkers))
	m.PoolQueuedTasks.Set(float64(stats.QueuedTasks))
	m.PoolRejectedTasks.Set(float64(stats.RejectedTasks))
}

// UpdateDiskStats copies disk manager samples
func (m *Metrics) UpdateDiskStats(stats diskmanager.Stats) {
	m.DiskUsagePercent.Set(stats.UsagePercent)
	m.DiskAvailableBytes.Set(float64(stats.AvailableBytes))
}

// RecordHTTPRequest records one query API request
func (m *Metrics) RecordHTTPRequest(route string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}
