package view

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// FullRefreshView rebuilds its snapshot from a storage listing on every sync.
// It serves as the reference an incremental view is checked against.
type FullRefreshView struct {
	*fileSystemView
}

var _ SyncableView = (*FullRefreshView)(nil)

// NewFullRefreshView opens a view and performs its first scan
func NewFullRefreshView(ctx context.Context, table TableContext, opts Options, logger *zap.Logger) (*FullRefreshView, error) {
	v := &FullRefreshView{fileSystemView: newFileSystemView(table, opts, logger)}
	if err := v.Sync(ctx); err != nil {
		return nil, err
	}
	return v, nil
}

// Sync rebuilds the snapshot. On failure the previous snapshot is kept.
func (v *FullRefreshView) Sync(ctx context.Context) error {
	v.syncMu.Lock()
	defer v.syncMu.Unlock()
	if err := v.checkOpen(); err != nil {
		return err
	}

	ctx, span := tracer.Start(ctx, "view.FullRefresh")
	defer span.End()
	span.SetAttributes(attribute.String("view.table", v.table.Name))

	start := time.Now()
	instants, err := v.rebuild(ctx)
	v.lastSyncOK.Store(err == nil)
	v.observeSync(ModeFull, instants, start, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "refresh_failed")
		v.logger.Warn("Full refresh failed", zap.Error(err))
		return err
	}

	v.logger.Debug("Refreshed file system view",
		zap.Int("instants", instants),
		zap.Duration("duration", time.Since(start)))
	return nil
}

// Refresh is the same as Sync for this variant
func (v *FullRefreshView) Refresh(ctx context.Context) error {
	return v.Sync(ctx)
}
