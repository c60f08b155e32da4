package timeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/devrev/tableview/internal/cache"
	viewerrors "github.com/devrev/tableview/internal/errors"
	"github.com/devrev/tableview/internal/model"
)

// Reader is the timeline source consumed by file-system views
type Reader interface {
	// ListInstants returns the instants of the active timeline, each at its
	// most advanced state, ordered by timestamp
	ListInstants(ctx context.Context) ([]model.Instant, error)
	// GetInstantDetails returns the validated metadata of an instant
	GetInstantDetails(ctx context.Context, instant model.Instant) (model.Metadata, error)
}

// ActiveTimeline reads and writes instants of one table through a Store
type ActiveTimeline struct {
	store   Store
	codec   *Codec
	details *cache.DetailsCache
	// namespace prefixes every details cache key; the cache may be shared
	// by the timelines of several tables
	namespace string
	logger    *zap.Logger
}

// NewActiveTimeline creates an active timeline. detailsCache may be nil.
// Until WithCacheNamespace is called the timeline caches under a random
// namespace of its own.
func NewActiveTimeline(store Store, codec *Codec, detailsCache *cache.DetailsCache, logger *zap.Logger) *ActiveTimeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ActiveTimeline{
		store:     store,
		codec:     codec,
		details:   detailsCache,
		namespace: uuid.NewString(),
		logger:    logger,
	}
}

// WithCacheNamespace sets the details cache namespace, usually the table name
func (t *ActiveTimeline) WithCacheNamespace(namespace string) *ActiveTimeline {
	if namespace != "" {
		t.namespace = namespace
	}
	return t
}

func (t *ActiveTimeline) cacheKey(key model.InstantKey) string {
	return t.namespace + "/" + model.NewInstant(model.StateCompleted, key.Action, key.Timestamp).String()
}

// ListInstants lists the active timeline
func (t *ActiveTimeline) ListInstants(ctx context.Context) ([]model.Instant, error) {
	instants, err := t.store.ListInstants(ctx)
	if err != nil {
		return nil, viewerrors.IOFailure("failed to list timeline", err)
	}
	return instants, nil
}

// Load returns a snapshot of the active timeline
func (t *ActiveTimeline) Load(ctx context.Context) (*Timeline, error) {
	instants, err := t.ListInstants(ctx)
	if err != nil {
		return nil, err
	}
	return New(instants), nil
}

// GetInstantDetails reads, decodes and validates the metadata of an instant.
// Plans of pending compactions and replaces live in their requested record.
func (t *ActiveTimeline) GetInstantDetails(ctx context.Context, instant model.Instant) (model.Metadata, error) {
	cacheKey := t.cacheKey(instant.Key())
	if instant.IsCompleted() && t.details != nil {
		if md, found := t.details.Get(cacheKey); found {
			return md, nil
		}
	}

	source := instant
	if instant.IsPending() && carriesPlan(instant.Action) {
		source = instant.WithState(model.StateRequested)
	}

	payload, err := t.store.ReadPayload(ctx, source)
	if errors.Is(err, ErrInstantNotFound) {
		return nil, viewerrors.NotFound("instant", source.String())
	}
	if err != nil {
		return nil, viewerrors.IOFailure(fmt.Sprintf("failed to read %s", source), err)
	}

	md, err := t.codec.Decode(source, payload)
	if err != nil {
		return nil, viewerrors.IOFailure(fmt.Sprintf("failed to decode %s", source), err)
	}
	if err := md.Validate(); err != nil {
		return nil, viewerrors.MalformedMetadata(fmt.Sprintf("invalid metadata in %s", source), err)
	}

	if instant.IsCompleted() && t.details != nil {
		t.details.Put(cacheKey, md, len(payload))
	}
	return md, nil
}

func carriesPlan(action model.Action) bool {
	return action.IsCompactionAction() || action == model.ActionReplaceCommit
}

// CreateRequested records a new requested instant
func (t *ActiveTimeline) CreateRequested(ctx context.Context, action model.Action, timestamp string, md model.Metadata) (model.Instant, error) {
	key := model.InstantKey{Timestamp: timestamp, Action: action}
	if _, found, err := t.current(ctx, key); err != nil {
		return model.Instant{}, err
	} else if found {
		return model.Instant{}, viewerrors.InvalidStateTransition(
			fmt.Sprintf("instant %s %s already exists", timestamp, action))
	}

	instant := model.NewInstant(model.StateRequested, action, timestamp)
	if err := t.write(ctx, instant, md); err != nil {
		return model.Instant{}, err
	}
	t.logger.Debug("Created requested instant", zap.String("instant", instant.String()))
	return instant, nil
}

// TransitionInflight moves a requested instant to inflight
func (t *ActiveTimeline) TransitionInflight(ctx context.Context, key model.InstantKey) (model.Instant, error) {
	cur, found, err := t.current(ctx, key)
	if err != nil {
		return model.Instant{}, err
	}
	if !found || !cur.IsRequested() {
		return model.Instant{}, viewerrors.InvalidStateTransition(
			fmt.Sprintf("cannot move %s %s to inflight from %s", key.Timestamp, key.Action, stateOf(cur, found)))
	}

	inflight := cur.WithState(model.StateInflight)
	if err := t.write(ctx, inflight, nil); err != nil {
		return model.Instant{}, err
	}
	t.logger.Debug("Transitioned instant to inflight", zap.String("instant", inflight.String()))
	return inflight, nil
}

// SaveAsComplete records the completed metadata of an instant that is absent
// or pending
func (t *ActiveTimeline) SaveAsComplete(ctx context.Context, action model.Action, timestamp string, md model.Metadata) (model.Instant, error) {
	key := model.InstantKey{Timestamp: timestamp, Action: action}
	cur, found, err := t.current(ctx, key)
	if err != nil {
		return model.Instant{}, err
	}
	if found && cur.IsCompleted() {
		return model.Instant{}, viewerrors.InvalidStateTransition(
			fmt.Sprintf("instant %s is already completed", cur))
	}

	completed := model.NewInstant(model.StateCompleted, action, timestamp)
	if err := t.write(ctx, completed, md); err != nil {
		return model.Instant{}, err
	}
	t.logger.Debug("Completed instant", zap.String("instant", completed.String()))
	return completed, nil
}

// RevertToRequested drops the inflight record of a pending instant
func (t *ActiveTimeline) RevertToRequested(ctx context.Context, key model.InstantKey) (model.Instant, error) {
	cur, found, err := t.current(ctx, key)
	if err != nil {
		return model.Instant{}, err
	}
	if !found || !cur.IsInflight() {
		return model.Instant{}, viewerrors.InvalidStateTransition(
			fmt.Sprintf("cannot revert %s %s to requested from %s", key.Timestamp, key.Action, stateOf(cur, found)))
	}

	if err := t.store.DeleteState(ctx, cur); err != nil {
		return model.Instant{}, viewerrors.IOFailure(fmt.Sprintf("failed to revert %s", cur), err)
	}
	return cur.WithState(model.StateRequested), nil
}

// DeletePending removes a pending instant, as an unschedule or a rollback of
// an inflight write does
func (t *ActiveTimeline) DeletePending(ctx context.Context, key model.InstantKey) error {
	cur, found, err := t.current(ctx, key)
	if err != nil {
		return err
	}
	if !found || cur.IsCompleted() {
		return viewerrors.InvalidStateTransition(
			fmt.Sprintf("cannot delete %s %s: instant is %s", key.Timestamp, key.Action, stateOf(cur, found)))
	}
	return t.DeleteInstant(ctx, key)
}

// DeleteInstant removes every record of an instant
func (t *ActiveTimeline) DeleteInstant(ctx context.Context, key model.InstantKey) error {
	if err := t.store.DeleteInstant(ctx, key); err != nil {
		return viewerrors.IOFailure(fmt.Sprintf("failed to delete %s %s", key.Timestamp, key.Action), err)
	}
	if t.details != nil {
		t.details.Remove(t.cacheKey(key))
	}
	t.logger.Debug("Deleted instant",
		zap.String("timestamp", key.Timestamp),
		zap.String("action", string(key.Action)))
	return nil
}

// Close closes the underlying store
func (t *ActiveTimeline) Close() error {
	return t.store.Close()
}

func (t *ActiveTimeline) current(ctx context.Context, key model.InstantKey) (model.Instant, bool, error) {
	tl, err := t.Load(ctx)
	if err != nil {
		return model.Instant{}, false, err
	}
	inst, found := tl.Get(key)
	return inst, found, nil
}

func (t *ActiveTimeline) write(ctx context.Context, instant model.Instant, md model.Metadata) error {
	if md != nil {
		if err := md.Validate(); err != nil {
			return viewerrors.MalformedMetadata(fmt.Sprintf("invalid metadata for %s", instant), err)
		}
	}
	payload, err := t.codec.Encode(md)
	if err != nil {
		return viewerrors.InternalError(fmt.Sprintf("failed to encode %s", instant), err)
	}
	if err := t.store.WritePayload(ctx, instant, payload); err != nil {
		return viewerrors.IOFailure(fmt.Sprintf("failed to write %s", instant), err)
	}
	return nil
}

func stateOf(instant model.Instant, found bool) string {
	if !found {
		return "absent"
	}
	return string(instant.State)
}
