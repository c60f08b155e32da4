package server

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/devrev/tableview/internal/cache"
	"github.com/devrev/tableview/internal/metrics"
	"github.com/devrev/tableview/internal/storage/diskmanager"
	"github.com/devrev/tableview/internal/util/workerpool"
)

// MetricsCollector periodically copies worker pool, details cache and disk
// samples into the Prometheus gauges
type MetricsCollector struct {
	metrics  *metrics.Metrics
	pool     *workerpool.WorkerPool
	details  *cache.DetailsCache
	disks    []*diskmanager.DiskManager
	interval time.Duration
	logger   *zap.Logger

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// MetricsCollectorConfig holds the sampled components; any may be nil
type MetricsCollectorConfig struct {
	Interval time.Duration
	Pool     *workerpool.WorkerPool
	Details  *cache.DetailsCache
	Disks    []*diskmanager.DiskManager
}

// NewMetricsCollector creates a metrics collector
func NewMetricsCollector(cfg *MetricsCollectorConfig, m *metrics.Metrics, logger *zap.Logger) *MetricsCollector {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &MetricsCollector{
		metrics:  m,
		pool:     cfg.Pool,
		details:  cfg.Details,
		disks:    cfg.Disks,
		interval: interval,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Start begins periodic collection
func (c *MetricsCollector) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		c.Collect()
		for {
			select {
			case <-ticker.C:
				c.Collect()
			case <-c.stopChan:
				return
			}
		}
	}()
}

// Stop ends collection
func (c *MetricsCollector) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopChan)
		c.wg.Wait()
	})
}

// Collect samples every component once. The details cache re-balances its
// eviction weights on the same tick. Disk gauges report the fullest table
// filesystem.
func (c *MetricsCollector) Collect() {
	if c.pool != nil {
		c.metrics.UpdatePoolStats(c.pool.Stats())
	}
	if c.details != nil {
		c.details.AdjustWeights()
		c.metrics.UpdateCacheStats(c.details.Stats())
	}

	var fullest *diskmanager.Stats
	for _, dm := range c.disks {
		if err := dm.ForceCheck(); err != nil {
			c.logger.Warn("Failed to sample disk usage", zap.Error(err))
			continue
		}
		stats := dm.Stats()
		if fullest == nil || stats.UsagePercent > fullest.UsagePercent {
			fullest = &stats
		}
	}
	if fullest != nil {
		c.metrics.UpdateDiskStats(*fullest)
	}
}
