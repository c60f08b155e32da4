package timeline

import (
	"context"
	"errors"

	"github.com/devrev/tableview/internal/model"
)

// ErrInstantNotFound is returned when a store has no record for an instant state
var ErrInstantNotFound = errors.New("instant not found")

// Store persists raw instant records. A logical instant keeps one payload per
// state it has reached.
type Store interface {
	// ListInstants returns one instant per logical instant at its most advanced
	// state, ordered by timestamp then action
	ListInstants(ctx context.Context) ([]model.Instant, error)
	// ReadPayload returns the payload recorded for the exact instant state
	ReadPayload(ctx context.Context, instant model.Instant) ([]byte, error)
	// WritePayload records the payload of an instant state
	WritePayload(ctx context.Context, instant model.Instant, payload []byte) error
	// DeleteState removes one state record of an instant
	DeleteState(ctx context.Context, instant model.Instant) error
	// DeleteInstant removes every state record of a logical instant
	DeleteInstant(ctx context.Context, key model.InstantKey) error
	Close() error
}

// latestStates folds raw (key, state) records into one instant per key
func latestStates(records []model.Instant) []model.Instant {
	latest := make(map[model.InstantKey]model.Instant, len(records))
	for _, r := range records {
		cur, ok := latest[r.Key()]
		if !ok || r.State.After(cur.State) {
			latest[r.Key()] = r
		}
	}
	out := make([]model.Instant, 0, len(latest))
	for _, inst := range latest {
		out = append(out, inst)
	}
	model.SortInstants(out)
	return out
}
