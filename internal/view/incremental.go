package view

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	viewerrors "github.com/devrev/tableview/internal/errors"
	"github.com/devrev/tableview/internal/model"
	"github.com/devrev/tableview/internal/timeline"
)

type changeKind int

const (
	// changeScheduled: a new instant in a pending state
	changeScheduled changeKind = iota + 1
	// changeCaughtUp: a new instant already completed
	changeCaughtUp
	// changeCompleted: a known pending instant completed
	changeCompleted
	// changeVanished: a known instant left the timeline
	changeVanished
)

func (k changeKind) String() string {
	switch k {
	case changeScheduled:
		return "scheduled"
	case changeCaughtUp:
		return "caught_up"
	case changeCompleted:
		return "completed"
	case changeVanished:
		return "vanished"
	default:
		return "unknown"
	}
}

// instantChange is one entry of a timeline diff. For vanished instants,
// instant is the state last seen.
type instantChange struct {
	kind    changeKind
	instant model.Instant
}

// diffTimelines lists the changes from old to cur in timestamp order
func diffTimelines(old, cur *timeline.Timeline) ([]instantChange, error) {
	lastSeen, hasLast := old.Visible().LastInstant()
	firstNew, hasFirst := cur.Visible().FirstInstant()
	if hasLast && hasFirst && model.CompareTimestamps(lastSeen.Timestamp, firstNew.Timestamp) < 0 {
		return nil, viewerrors.SyncUnsafe(lastSeen.Timestamp, firstNew.Timestamp)
	}

	var changes []instantChange
	for _, inst := range cur.Instants() {
		prev, known := old.Get(inst.Key())
		switch {
		case !known && inst.IsCompleted():
			changes = append(changes, instantChange{kind: changeCaughtUp, instant: inst})
		case !known:
			changes = append(changes, instantChange{kind: changeScheduled, instant: inst})
		case prev.State == inst.State:
		case prev.IsCompleted():
			return nil, viewerrors.InvalidStateTransition(fmt.Sprintf("%s moved back to %s", prev, inst.State)).
				WithDetail("instant", inst.String())
		case inst.IsCompleted():
			changes = append(changes, instantChange{kind: changeCompleted, instant: inst})
		case prev.IsInflight() && inst.IsRequested():
			// a rolled back compaction or clustering is retried from its plan
			if !inst.Action.IsCompactionAction() && inst.Action != model.ActionReplaceCommit {
				return nil, viewerrors.InvalidStateTransition(fmt.Sprintf("%s moved back to %s", prev, inst.State)).
					WithDetail("instant", inst.String())
			}
		}
	}
	for _, inst := range old.Instants() {
		if _, ok := cur.Get(inst.Key()); !ok {
			changes = append(changes, instantChange{kind: changeVanished, instant: inst})
		}
	}

	sort.SliceStable(changes, func(i, j int) bool {
		return model.CompareInstants(changes[i].instant, changes[j].instant) < 0
	})
	return changes, nil
}

// IncrementalView applies timeline deltas to its snapshot
type IncrementalView struct {
	*fileSystemView
}

var _ SyncableView = (*IncrementalView)(nil)

// NewIncrementalView opens a view and bootstraps it with one full scan
func NewIncrementalView(ctx context.Context, table TableContext, opts Options, logger *zap.Logger) (*IncrementalView, error) {
	v := &IncrementalView{fileSystemView: newFileSystemView(table, opts, logger)}

	start := time.Now()
	instants, err := v.rebuild(ctx)
	v.observeSync(ModeFull, instants, start, err)
	if err != nil {
		return nil, err
	}
	v.lastSyncOK.Store(true)

	v.logger.Info("Opened incremental file system view",
		zap.Int("instants", instants),
		zap.Duration("duration", time.Since(start)))
	return v, nil
}

// ReplayIncrementalView opens an incremental view on an empty snapshot and
// syncs it once per timestamp of the timeline, oldest first. Nothing is
// listed from storage, so files written by archived instants are absent.
func ReplayIncrementalView(ctx context.Context, table TableContext, opts Options, logger *zap.Logger) (*IncrementalView, error) {
	instants, err := table.Timeline.ListInstants(ctx)
	if err != nil {
		return nil, asIOFailure("failed to list timeline", err)
	}
	reader := &boundedReader{Reader: table.Timeline}
	table.Timeline = reader
	v := &IncrementalView{fileSystemView: newFileSystemView(table, opts, logger)}

	start := time.Now()
	steps := 0
	for _, ts := range timeline.New(instants).Timestamps() {
		reader.upTo = ts
		if err := v.Sync(ctx); err != nil {
			v.Close()
			return nil, err
		}
		steps++
	}
	reader.upTo = ""
	v.lastSyncOK.Store(true)

	v.logger.Info("Replayed incremental file system view",
		zap.Int("steps", steps),
		zap.Duration("duration", time.Since(start)))
	return v, nil
}

// boundedReader hides the instants after upTo. An empty bound hides nothing.
// The bound only moves while the owning view is being replayed.
type boundedReader struct {
	timeline.Reader
	upTo string
}

func (r *boundedReader) ListInstants(ctx context.Context) ([]model.Instant, error) {
	instants, err := r.Reader.ListInstants(ctx)
	if err != nil || r.upTo == "" {
		return instants, err
	}
	out := instants[:0:0]
	for _, inst := range instants {
		if model.CompareTimestamps(inst.Timestamp, r.upTo) <= 0 {
			out = append(out, inst)
		}
	}
	return out, nil
}

// Sync applies every timeline change since the last successful sync. Syncs
// are serialized; queries keep reading the previous snapshot until the new
// one is published.
func (v *IncrementalView) Sync(ctx context.Context) error {
	v.syncMu.Lock()
	defer v.syncMu.Unlock()
	if err := v.checkOpen(); err != nil {
		return err
	}

	ctx, span := tracer.Start(ctx, "view.Sync")
	defer span.End()
	span.SetAttributes(attribute.String("view.table", v.table.Name))

	start := time.Now()
	applied, from, to, err := v.syncLocked(ctx)
	v.lastSyncOK.Store(err == nil)
	v.observeSync(ModeIncremental, applied, start, err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "sync_failed")
		v.logger.Warn("Incremental sync failed",
			zap.String("from", from),
			zap.Int("instants_applied", applied),
			zap.Error(err))
		return err
	}

	span.SetAttributes(attribute.Int("view.instants_applied", applied))
	if applied > 0 {
		v.logger.Info("Synced file system view",
			zap.String("from", from),
			zap.String("to", to),
			zap.Int("instants_applied", applied),
			zap.Duration("duration", time.Since(start)))
	}
	return nil
}

func (v *IncrementalView) syncLocked(ctx context.Context) (applied int, from, to string, err error) {
	cur := v.snapshot()
	if last, ok := cur.lastInstant(); ok {
		from = last.Timestamp
	}

	instants, err := v.table.Timeline.ListInstants(ctx)
	if err != nil {
		return 0, from, "", asIOFailure("failed to list timeline", err)
	}
	next := timeline.New(instants)
	if last, ok := next.Visible().LastInstant(); ok {
		to = last.Timestamp
	}
	if next.Equal(cur.timeline) {
		return 0, from, to, nil
	}

	changes, err := diffTimelines(cur.timeline, next)
	if err != nil {
		return 0, from, to, err
	}

	sh := cur.shadow(v.table.BasePath)
	for _, ch := range changes {
		if err := v.apply(ctx, sh, next, ch); err != nil {
			return applied, from, to, withInstant(err, ch.instant)
		}
		applied++
	}

	v.state.Store(sh.publish(next))
	return applied, from, to, nil
}

// apply dispatches one change to its handlers on the shadow
func (v *IncrementalView) apply(ctx context.Context, sh *shadow, next *timeline.Timeline, ch instantChange) (err error) {
	ctx, span := tracer.Start(ctx, "view.applyInstant")
	defer span.End()
	span.SetAttributes(
		attribute.String("instant.timestamp", ch.instant.Timestamp),
		attribute.String("instant.action", string(ch.instant.Action)),
		attribute.String("instant.change", ch.kind.String()),
	)

	start := time.Now()
	defer func() {
		if v.opts.Observer != nil {
			v.opts.Observer.InstantApplied(v.table.Name, ch.instant.Action, time.Since(start), err)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "apply_failed")
		}
	}()

	v.logger.Debug("Applying instant",
		zap.String("instant", ch.instant.String()),
		zap.String("change", ch.kind.String()))

	switch ch.kind {
	case changeScheduled:
		if !needsPlan(ch.instant.Action) {
			return nil
		}
		md, err := v.details(ctx, ch.instant)
		if err != nil {
			return err
		}
		return sh.onRequested(ch.instant, md)

	case changeCaughtUp:
		if needsPlan(ch.instant.Action) {
			requested := ch.instant.WithState(model.StateRequested)
			md, err := v.details(ctx, requested)
			switch {
			case viewerrors.Is(err, viewerrors.ErrCodeNotFound):
				// completed without a recorded plan
			case err != nil:
				return err
			default:
				if err := sh.onRequested(requested, md); err != nil {
					return err
				}
			}
		}
		return v.complete(ctx, sh, next, ch.instant)

	case changeCompleted:
		return v.complete(ctx, sh, next, ch.instant)

	case changeVanished:
		sh.onVanished(ch.instant)
		return nil
	}
	return viewerrors.InternalError(fmt.Sprintf("unknown change kind %d", ch.kind), nil)
}

func (v *IncrementalView) complete(ctx context.Context, sh *shadow, next *timeline.Timeline, instant model.Instant) error {
	md, err := v.details(ctx, instant)
	if err != nil {
		return err
	}
	return sh.onCompleted(next, instant, md)
}

func (v *IncrementalView) details(ctx context.Context, instant model.Instant) (model.Metadata, error) {
	md, err := v.table.Timeline.GetInstantDetails(ctx, instant)
	if err != nil {
		return nil, asIOFailure("failed to read instant details", err)
	}
	return md, nil
}

// Refresh discards the snapshot and rebuilds it from storage. The outcome of
// the last incremental sync is left as it was.
func (v *IncrementalView) Refresh(ctx context.Context) error {
	v.syncMu.Lock()
	defer v.syncMu.Unlock()
	if err := v.checkOpen(); err != nil {
		return err
	}

	ctx, span := tracer.Start(ctx, "view.Refresh")
	defer span.End()

	start := time.Now()
	instants, err := v.rebuild(ctx)
	v.observeSync(ModeFull, instants, start, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "refresh_failed")
		v.logger.Error("Full refresh failed", zap.Error(err))
		return err
	}
	v.logger.Info("Refreshed file system view",
		zap.Int("instants", instants),
		zap.Duration("duration", time.Since(start)))
	return nil
}

func needsPlan(action model.Action) bool {
	return action.IsCompactionAction() || action == model.ActionReplaceCommit
}
