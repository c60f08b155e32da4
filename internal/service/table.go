package service

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/devrev/tableview/internal/cache"
	"github.com/devrev/tableview/internal/config"
	"github.com/devrev/tableview/internal/storage/lister"
	"github.com/devrev/tableview/internal/timeline"
	"github.com/devrev/tableview/internal/view"
)

// OpenedTable is a table view with the timeline it reads from
type OpenedTable struct {
	Name     string
	View     view.SyncableView
	Timeline *timeline.ActiveTimeline
	Fallback bool
}

// OpenOptions are shared by every table opened in one process
type OpenOptions struct {
	Details            *cache.DetailsCache
	Observer           view.Observer
	ListingParallelism int
	// Replay opens incremental views by replaying the timeline from an
	// empty snapshot instead of bootstrapping from a full scan
	Replay bool
}

// OpenStore opens the timeline store selected by cfg
func OpenStore(ctx context.Context, cfg config.TableConfig) (timeline.Store, error) {
	switch cfg.Timeline.Backend {
	case config.BackendDirectory, "":
		return timeline.NewDirectoryStore(cfg.BasePath)
	case config.BackendSQLite:
		dsn := cfg.Timeline.DSN
		if dsn == "" {
			dsn = filepath.Join(cfg.BasePath, timeline.MetaFolderName, "timeline.db")
		}
		if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
			return nil, fmt.Errorf("failed to create timeline folder: %w", err)
		}
		return timeline.OpenSQLiteStore(dsn)
	case config.BackendPostgres:
		return timeline.NewPostgresStore(ctx, cfg.Timeline.DSN, cfg.Timeline.PGTable)
	default:
		return nil, fmt.Errorf("unsupported timeline backend %q", cfg.Timeline.Backend)
	}
}

// OpenTable opens the timeline of a configured table and bootstraps its view
func OpenTable(ctx context.Context, cfg config.TableConfig, opts OpenOptions, logger *zap.Logger) (*OpenedTable, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	compression, err := timeline.ParseCompressionType(cfg.Timeline.Compression)
	if err != nil {
		return nil, err
	}
	codec, err := timeline.NewCodec(compression)
	if err != nil {
		return nil, err
	}
	store, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open timeline of table %s: %w", cfg.Name, err)
	}
	at := timeline.NewActiveTimeline(store, codec, opts.Details, logger.With(zap.String("table", cfg.Name))).
		WithCacheNamespace(cfg.Name)

	tc := view.TableContext{
		Name:     cfg.Name,
		BasePath: cfg.BasePath,
		Timeline: at,
		Lister:   lister.NewLocalLister(cfg.BasePath),
	}
	viewOpts := view.Options{ListingParallelism: opts.ListingParallelism, Observer: opts.Observer}

	var v view.SyncableView
	switch cfg.View {
	case config.ViewFullRefresh:
		v, err = view.NewFullRefreshView(ctx, tc, viewOpts, logger)
	default:
		if opts.Replay {
			v, err = view.ReplayIncrementalView(ctx, tc, viewOpts, logger)
		} else {
			v, err = view.NewIncrementalView(ctx, tc, viewOpts, logger)
		}
	}
	if err != nil {
		at.Close()
		return nil, err
	}

	logger.Info("Opened table",
		zap.String("table", cfg.Name),
		zap.String("base_path", cfg.BasePath),
		zap.String("view", cfg.View),
		zap.String("backend", cfg.Timeline.Backend))
	return &OpenedTable{Name: cfg.Name, View: v, Timeline: at, Fallback: cfg.FallbackToFullRebuild}, nil
}

// Close releases the view and its timeline
func (t *OpenedTable) Close() error {
	err := t.View.Close()
	if cerr := t.Timeline.Close(); err == nil {
		err = cerr
	}
	return err
}

// RegisterTable registers an opened table; the service closes its timeline on Stop
func (s *ViewService) RegisterTable(t *OpenedTable) error {
	return s.Register(t.Name, t.View, TableOptions{
		FallbackToFullRebuild: t.Fallback,
		Timeline:              t.Timeline,
		Closers:               []io.Closer{t.Timeline},
	})
}
