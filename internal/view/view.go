// Package view maintains the file-system view of a table: partitions, file
// groups and file slices, kept in step with the table timeline.
//
// Two variants implement SyncableView. IncrementalView applies only the
// instants that changed since its last sync; FullRefreshView rebuilds from a
// storage listing on every sync. Both publish immutable snapshots, so queries
// never observe a partially applied sync.
package view

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	viewerrors "github.com/devrev/tableview/internal/errors"
	"github.com/devrev/tableview/internal/model"
	"github.com/devrev/tableview/internal/storage/lister"
	"github.com/devrev/tableview/internal/timeline"
)

var tracer = otel.Tracer("tableview/view")

// SyncableView is the query and sync surface shared by every view variant
type SyncableView interface {
	// LastInstant returns the last completed or compaction instant
	LastInstant() (model.Instant, bool)
	LatestFileSlices(partition string) *SliceIterator
	LatestMergedFileSlicesBeforeOrOn(partition, instantTime string) *SliceIterator
	AllFileSlices(partition string) *SliceIterator
	AllFileGroups(partition string) *GroupIterator
	AllFileGroupsIncludingReplaced(partition string) *GroupIterator
	ReplacedFileGroupsBeforeOrOn(partition, instantTime string) *GroupIterator
	LatestBaseFiles(partition string) []model.BaseFile
	PendingCompactionOperations() []model.PendingCompactionOperation
	PendingLogCompactionOperations() []model.PendingCompactionOperation
	FileGroupsInPendingClustering() []model.PendingClusteringRegistration
	Partitions() []string

	// Sync brings the view up to date with the timeline. On failure the view
	// keeps its previous state.
	Sync(ctx context.Context) error
	// Refresh rebuilds the view from a full storage listing
	Refresh(ctx context.Context) error
	IsLastSyncSuccessful() bool
	Close() error
}

// TableContext names the collaborators a view reads from
type TableContext struct {
	Name     string
	BasePath string
	Timeline timeline.Reader
	Lister   lister.FileLister
}

// Observer receives per-instant and per-pass outcomes
type Observer interface {
	InstantApplied(table string, action model.Action, duration time.Duration, err error)
	SyncCompleted(table string, mode string, instants int, duration time.Duration, err error)
}

// Options tunes a view
type Options struct {
	// ListingParallelism bounds concurrent partition listings in a full scan
	ListingParallelism int
	Observer           Observer
}

func (o Options) withDefaults() Options {
	if o.ListingParallelism <= 0 {
		o.ListingParallelism = 8
	}
	return o
}

// Sync modes reported to observers
const (
	ModeIncremental = "incremental"
	ModeFull        = "full"
)

// fileSystemView holds the published snapshot and serves queries from it
type fileSystemView struct {
	table  TableContext
	opts   Options
	logger *zap.Logger

	state      atomic.Pointer[viewState]
	syncMu     sync.Mutex
	lastSyncOK atomic.Bool
	closed     atomic.Bool
}

func newFileSystemView(table TableContext, opts Options, logger *zap.Logger) *fileSystemView {
	if logger == nil {
		logger = zap.NewNop()
	}
	v := &fileSystemView{
		table:  table,
		opts:   opts.withDefaults(),
		logger: logger.With(zap.String("table", table.Name)),
	}
	v.state.Store(emptyState())
	return v
}

func (v *fileSystemView) snapshot() *viewState {
	return v.state.Load()
}

func (v *fileSystemView) LastInstant() (model.Instant, bool) {
	return v.snapshot().lastInstant()
}

func (v *fileSystemView) LatestFileSlices(partition string) *SliceIterator {
	return v.snapshot().latestFileSlices(partition)
}

func (v *fileSystemView) LatestMergedFileSlicesBeforeOrOn(partition, instantTime string) *SliceIterator {
	return v.snapshot().latestMergedFileSlicesBeforeOrOn(partition, instantTime)
}

func (v *fileSystemView) AllFileSlices(partition string) *SliceIterator {
	return v.snapshot().allFileSlices(partition)
}

func (v *fileSystemView) AllFileGroups(partition string) *GroupIterator {
	return v.snapshot().allFileGroups(partition)
}

func (v *fileSystemView) AllFileGroupsIncludingReplaced(partition string) *GroupIterator {
	return v.snapshot().allFileGroupsIncludingReplaced(partition)
}

func (v *fileSystemView) ReplacedFileGroupsBeforeOrOn(partition, instantTime string) *GroupIterator {
	return v.snapshot().replacedFileGroupsBeforeOrOn(partition, instantTime)
}

func (v *fileSystemView) LatestBaseFiles(partition string) []model.BaseFile {
	return v.snapshot().latestBaseFiles(partition)
}

func (v *fileSystemView) PendingCompactionOperations() []model.PendingCompactionOperation {
	return sortedOperations(v.snapshot().pendingCompaction)
}

func (v *fileSystemView) PendingLogCompactionOperations() []model.PendingCompactionOperation {
	return sortedOperations(v.snapshot().pendingLogCompaction)
}

func (v *fileSystemView) FileGroupsInPendingClustering() []model.PendingClusteringRegistration {
	return v.snapshot().clusteringRegistrations()
}

func (v *fileSystemView) Partitions() []string {
	return v.snapshot().partitionNames()
}

func (v *fileSystemView) IsLastSyncSuccessful() bool {
	return v.lastSyncOK.Load()
}

// Close releases the published snapshot. Queries on a closed view see an
// empty table and syncs fail. Close waits for a running sync to finish.
func (v *fileSystemView) Close() error {
	v.syncMu.Lock()
	defer v.syncMu.Unlock()
	if v.closed.Swap(true) {
		return nil
	}
	v.state.Store(emptyState())
	v.logger.Debug("Closed file system view")
	return nil
}

func (v *fileSystemView) checkOpen() error {
	if v.closed.Load() {
		return viewerrors.Closed("file system view " + v.table.Name)
	}
	return nil
}

// rebuild replaces the snapshot with a fresh full scan
func (v *fileSystemView) rebuild(ctx context.Context) (int, error) {
	next, err := buildFromScratch(ctx, v.table, v.opts.ListingParallelism, v.logger)
	if err != nil {
		return 0, err
	}
	v.state.Store(next)
	return next.timeline.Len(), nil
}

func (v *fileSystemView) observeSync(mode string, instants int, start time.Time, err error) {
	if v.opts.Observer != nil {
		v.opts.Observer.SyncCompleted(v.table.Name, mode, instants, time.Since(start), err)
	}
}
