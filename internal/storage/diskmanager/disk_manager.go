package diskmanager

import (
	"errors"
	"fmt"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Usage is one filesystem sample
type Usage struct {
	TotalBytes     uint64
	AvailableBytes uint64
}

// Percent returns the used share of the filesystem
func (u Usage) Percent() float64 {
	if u.TotalBytes == 0 {
		return 0
	}
	return float64(u.TotalBytes-u.AvailableBytes) / float64(u.TotalBytes) * 100.0
}

// StatFunc samples the filesystem holding dir
type StatFunc func(dir string) (Usage, error)

// Statfs samples the filesystem with statfs(2)
func Statfs(dir string) (Usage, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(dir, &stat); err != nil {
		return Usage{}, fmt.Errorf("failed to stat filesystem: %w", err)
	}
	return Usage{
		TotalBytes:     stat.Blocks * uint64(stat.Bsize),
		AvailableBytes: stat.Bavail * uint64(stat.Bsize),
	}, nil
}

// DiskManager guards the table base path against writes that would fill the disk
type DiskManager struct {
	basePath string
	stat     StatFunc
	logger   *zap.Logger

	checkInterval    time.Duration
	warningThreshold float64
	rejectThreshold  float64

	mu        sync.Mutex
	lastCheck time.Time
	usage     Usage
	rejecting bool
}

// Config holds disk manager configuration
type Config struct {
	BasePath         string
	CheckInterval    time.Duration
	WarningThreshold float64
	RejectThreshold  float64
	// Stat overrides the filesystem sampler; nil uses Statfs
	Stat StatFunc
}

// DefaultConfig returns the default configuration for a table base path
func DefaultConfig(basePath string) *Config {
	return &Config{
		BasePath:         basePath,
		CheckInterval:    10 * time.Second,
		WarningThreshold: 85.0,
		RejectThreshold:  95.0,
	}
}

// NewDiskManager creates a disk manager and takes a first sample
func NewDiskManager(cfg *Config, logger *zap.Logger) (*DiskManager, error) {
	if cfg.BasePath == "" {
		return nil, fmt.Errorf("base path is required")
	}
	if cfg.WarningThreshold > cfg.RejectThreshold {
		return nil, fmt.Errorf("warning threshold %.1f exceeds reject threshold %.1f",
			cfg.WarningThreshold, cfg.RejectThreshold)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	stat := cfg.Stat
	if stat == nil {
		stat = Statfs
	}

	dm := &DiskManager{
		basePath:         cfg.BasePath,
		stat:             stat,
		logger:           logger,
		checkInterval:    cfg.CheckInterval,
		warningThreshold: cfg.WarningThreshold,
		rejectThreshold:  cfg.RejectThreshold,
	}

	dm.mu.Lock()
	defer dm.mu.Unlock()
	if err := dm.sampleLocked(); err != nil {
		logger.Warn("Initial disk space check failed", zap.Error(err))
	}
	return dm, nil
}

// CheckBeforeWrite returns a *DiskSpaceError when a write of estimatedBytes
// should not proceed
func (dm *DiskManager) CheckBeforeWrite(estimatedBytes uint64) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if time.Since(dm.lastCheck) > dm.checkInterval {
		if err := dm.sampleLocked(); err != nil {
			dm.logger.Warn("Disk space check failed", zap.Error(err))
		}
	}

	if dm.rejecting {
		return &DiskSpaceError{
			Code:           ErrCodeDiskFull,
			Message:        fmt.Sprintf("disk usage at %.2f%%, writes rejected", dm.usage.Percent()),
			UsagePercent:   dm.usage.Percent(),
			AvailableBytes: dm.usage.AvailableBytes,
		}
	}
	if estimatedBytes > dm.usage.AvailableBytes {
		return &DiskSpaceError{
			Code:           ErrCodeInsufficientSpace,
			Message:        fmt.Sprintf("insufficient space: need %d bytes, have %d bytes", estimatedBytes, dm.usage.AvailableBytes),
			UsagePercent:   dm.usage.Percent(),
			AvailableBytes: dm.usage.AvailableBytes,
		}
	}
	return nil
}

// sampleLocked refreshes the usage sample; dm.mu must be held
func (dm *DiskManager) sampleLocked() error {
	usage, err := dm.stat(dm.basePath)
	if err != nil {
		return err
	}

	wasRejecting := dm.rejecting
	dm.usage = usage
	dm.lastCheck = time.Now()
	dm.rejecting = usage.Percent() >= dm.rejectThreshold

	switch {
	case dm.rejecting && !wasRejecting:
		dm.logger.Error("Rejecting table writes, disk nearly full",
			zap.String("base_path", dm.basePath),
			zap.Float64("usage_percent", usage.Percent()),
			zap.Float64("threshold", dm.rejectThreshold))
	case !dm.rejecting && wasRejecting:
		dm.logger.Info("Accepting table writes again",
			zap.String("base_path", dm.basePath),
			zap.Float64("usage_percent", usage.Percent()))
	case usage.Percent() >= dm.warningThreshold && !dm.rejecting:
		dm.logger.Warn("Disk usage warning",
			zap.String("base_path", dm.basePath),
			zap.Float64("usage_percent", usage.Percent()),
			zap.Uint64("available_bytes", usage.AvailableBytes))
	}
	return nil
}

// ForceCheck samples the filesystem immediately
func (dm *DiskManager) ForceCheck() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return dm.sampleLocked()
}

// Stats returns the most recent sample
func (dm *DiskManager) Stats() Stats {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	return Stats{
		UsagePercent:   dm.usage.Percent(),
		AvailableBytes: dm.usage.AvailableBytes,
		Rejecting:      dm.rejecting,
		LastCheck:      dm.lastCheck,
	}
}

// Stats contains disk usage statistics
type Stats struct {
	UsagePercent   float64
	AvailableBytes uint64
	Rejecting      bool
	LastCheck      time.Time
}

// ErrorCode classifies disk space errors
type ErrorCode int

const (
	ErrCodeDiskFull ErrorCode = iota + 1
	ErrCodeInsufficientSpace
)

// DiskSpaceError reports a rejected write
type DiskSpaceError struct {
	Code           ErrorCode
	Message        string
	UsagePercent   float64
	AvailableBytes uint64
}

func (e *DiskSpaceError) Error() string {
	return e.Message
}

// IsDiskSpaceError reports whether err wraps a *DiskSpaceError
func IsDiskSpaceError(err error) bool {
	var dse *DiskSpaceError
	return errors.As(err, &dse)
}
