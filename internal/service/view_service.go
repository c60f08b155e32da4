package service

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/devrev/tableview/internal/cache"
	viewerrors "github.com/devrev/tableview/internal/errors"
	"github.com/devrev/tableview/internal/metrics"
	"github.com/devrev/tableview/internal/timeline"
	"github.com/devrev/tableview/internal/util/workerpool"
	"github.com/devrev/tableview/internal/validation"
	"github.com/devrev/tableview/internal/view"
)

// TableOptions tunes how the service maintains one table
type TableOptions struct {
	// FallbackToFullRebuild refreshes the view from storage when an
	// incremental sync fails
	FallbackToFullRebuild bool
	// Timeline is probed by health checks; optional
	Timeline timeline.Reader
	// Closers are released after the view when the service stops
	Closers []io.Closer
}

// TableStatus is the service-side record of a table's last sync
type TableStatus struct {
	Name       string
	LastSyncOK bool
	LastSyncAt time.Time
	LastError  error
	Fallbacks  int
}

type table struct {
	name string
	view view.SyncableView
	opts TableOptions

	// mu serializes sync and fallback refresh of one table
	mu     sync.Mutex
	status TableStatus
	// statusMu guards status for readers that must not wait on a sync
	statusMu sync.RWMutex
}

// ViewService owns the registered table views and keeps them in sync
type ViewService struct {
	pool      *workerpool.WorkerPool
	metrics   *metrics.Metrics
	details   *cache.DetailsCache
	validator *validation.Validator
	logger    *zap.Logger

	mu     sync.RWMutex
	tables map[string]*table

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewViewService creates a view service. m and details may be nil.
func NewViewService(
	pool *workerpool.WorkerPool,
	m *metrics.Metrics,
	details *cache.DetailsCache,
	logger *zap.Logger,
) *ViewService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ViewService{
		pool:      pool,
		metrics:   m,
		details:   details,
		validator: validation.NewValidator(),
		logger:    logger,
		tables:    make(map[string]*table),
		stopCh:    make(chan struct{}),
	}
}

// Register adds a view under name. The view is expected to be bootstrapped.
func (s *ViewService) Register(name string, v view.SyncableView, opts TableOptions) error {
	if err := s.validator.ValidateTableName(name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tables[name]; ok {
		return viewerrors.InvalidArgument("table already registered", nil).WithDetail("table", name)
	}
	t := &table{name: name, view: v, opts: opts}
	t.status = TableStatus{Name: name, LastSyncOK: v.IsLastSyncSuccessful(), LastSyncAt: time.Now()}
	s.tables[name] = t
	s.recordTable(t)

	s.logger.Info("Registered table view",
		zap.String("table", name),
		zap.Bool("fallback_to_full_rebuild", opts.FallbackToFullRebuild))
	return nil
}

// View returns the view registered under name
func (s *ViewService) View(name string) (view.SyncableView, error) {
	t, err := s.lookup(name)
	if err != nil {
		return nil, err
	}
	return t.view, nil
}

// Tables returns the registered table names in order
func (s *ViewService) Tables() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.tables))
	for name := range s.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Status returns the last sync record of a table
func (s *ViewService) Status(name string) (TableStatus, error) {
	t, err := s.lookup(name)
	if err != nil {
		return TableStatus{}, err
	}
	t.statusMu.RLock()
	defer t.statusMu.RUnlock()
	return t.status, nil
}

// Timeline returns the timeline registered for health probes, if any
func (s *ViewService) Timeline(name string) (timeline.Reader, bool) {
	t, err := s.lookup(name)
	if err != nil || t.opts.Timeline == nil {
		return nil, false
	}
	return t.opts.Timeline, true
}

func (s *ViewService) lookup(name string) (*table, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tables[name]
	if !ok {
		return nil, viewerrors.NotFound("table", name)
	}
	return t, nil
}

// Sync brings one table up to date. When the incremental sync fails and the
// table allows it, the view is rebuilt from storage and Sync reports success
// if the rebuild does.
func (s *ViewService) Sync(ctx context.Context, name string) error {
	t, err := s.lookup(name)
	if err != nil {
		return err
	}
	return s.syncTable(ctx, t)
}

func (s *ViewService) syncTable(ctx context.Context, t *table) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	err := t.view.Sync(ctx)
	fellBack := false
	if err != nil && t.opts.FallbackToFullRebuild && !viewerrors.Is(err, viewerrors.ErrCodeClosed) {
		s.logger.Warn("Incremental sync failed, rebuilding view from storage",
			zap.String("table", t.name),
			zap.String("code", viewerrors.GetCode(err).String()),
			zap.Error(err))
		if s.metrics != nil {
			s.metrics.RecordFallbackRebuild(t.name)
		}
		fellBack = true
		if refreshErr := t.view.Refresh(ctx); refreshErr != nil {
			err = errors.Join(err, refreshErr)
		} else {
			err = nil
		}
	}

	t.statusMu.Lock()
	t.status.LastSyncOK = err == nil
	t.status.LastSyncAt = time.Now()
	t.status.LastError = err
	if fellBack {
		t.status.Fallbacks++
	}
	t.statusMu.Unlock()

	s.recordTable(t)
	if err != nil {
		s.logger.Error("Table sync failed", zap.String("table", t.name), zap.Error(err))
	}
	return err
}

// recordTable copies the table's state into the metrics
func (s *ViewService) recordTable(t *table) {
	if s.metrics == nil {
		return
	}
	t.statusMu.RLock()
	status := t.status
	t.statusMu.RUnlock()

	s.metrics.RecordSyncOutcome(t.name, status.LastSyncOK, status.LastSyncAt)
	s.metrics.UpdateRegistrySizes(t.name,
		len(t.view.PendingCompactionOperations()),
		len(t.view.PendingLogCompactionOperations()),
		len(t.view.FileGroupsInPendingClustering()))
	if s.details != nil {
		s.metrics.UpdateCacheStats(s.details.Stats())
	}
	if s.pool != nil {
		s.metrics.UpdatePoolStats(s.pool.Stats())
	}
}

// SyncAll syncs every registered table on the worker pool and returns the
// joined failures
func (s *ViewService) SyncAll(ctx context.Context) error {
	s.mu.RLock()
	tables := make([]*table, 0, len(s.tables))
	for _, t := range s.tables {
		tables = append(tables, t)
	}
	s.mu.RUnlock()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, t := range tables {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.pool.Do(ctx, workerpool.Task{
				Key: t.name,
				Run: func(poolCtx context.Context) error {
					runCtx, cancel := mergeCancel(ctx, poolCtx)
					defer cancel()
					return s.syncTable(runCtx, t)
				},
			})
			if err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

// mergeCancel returns a context cancelled when either parent is
func mergeCancel(ctx, other context.Context) (context.Context, context.CancelFunc) {
	merged, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(other, cancel)
	return merged, func() {
		stop()
		cancel()
	}
}

// Start syncs every table each interval until ctx is done or Stop is called
func (s *ViewService) Start(ctx context.Context, interval time.Duration) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		s.logger.Info("Started periodic sync", zap.Duration("interval", interval))
		for {
			select {
			case <-ticker.C:
				if err := s.SyncAll(ctx); err != nil {
					s.logger.Warn("Periodic sync pass had failures", zap.Error(err))
				}
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			}
		}
	}()
}

// Stop ends the periodic sync, stops the worker pool and closes every view
func (s *ViewService) Stop() error {
	var errs []error
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.wg.Wait()
		if s.pool != nil {
			if err := s.pool.Stop(30 * time.Second); err != nil {
				errs = append(errs, err)
			}
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		for name, t := range s.tables {
			if err := t.view.Close(); err != nil {
				errs = append(errs, err)
			}
			for _, c := range t.opts.Closers {
				if err := c.Close(); err != nil {
					errs = append(errs, err)
				}
			}
			delete(s.tables, name)
		}
		s.logger.Info("View service stopped")
	})
	return errors.Join(errs...)
}
