package timeline

import (
	"github.com/devrev/tableview/internal/model"
)

// Timeline is an immutable, ordered snapshot of instants with one entry per
// logical instant at its most advanced state
type Timeline struct {
	instants []model.Instant
	index    map[model.InstantKey]int
}

// New builds a timeline snapshot from instants in any order
func New(instants []model.Instant) *Timeline {
	sorted := append([]model.Instant(nil), instants...)
	model.SortInstants(sorted)
	t := &Timeline{
		instants: sorted,
		index:    make(map[model.InstantKey]int, len(sorted)),
	}
	for i, inst := range sorted {
		t.index[inst.Key()] = i
	}
	return t
}

// Empty returns a timeline without instants
func Empty() *Timeline {
	return New(nil)
}

// Instants returns a copy of the ordered instants
func (t *Timeline) Instants() []model.Instant {
	return append([]model.Instant(nil), t.instants...)
}

// Len returns the number of instants
func (t *Timeline) Len() int {
	return len(t.instants)
}

// IsEmpty reports whether the timeline has no instants
func (t *Timeline) IsEmpty() bool {
	return len(t.instants) == 0
}

// Get returns the instant with the given key at its current state
func (t *Timeline) Get(key model.InstantKey) (model.Instant, bool) {
	i, ok := t.index[key]
	if !ok {
		return model.Instant{}, false
	}
	return t.instants[i], true
}

// FirstInstant returns the earliest instant
func (t *Timeline) FirstInstant() (model.Instant, bool) {
	if len(t.instants) == 0 {
		return model.Instant{}, false
	}
	return t.instants[0], true
}

// LastInstant returns the latest instant
func (t *Timeline) LastInstant() (model.Instant, bool) {
	if len(t.instants) == 0 {
		return model.Instant{}, false
	}
	return t.instants[len(t.instants)-1], true
}

// Filter returns the sub-timeline of instants matching keep
func (t *Timeline) Filter(keep func(model.Instant) bool) *Timeline {
	var out []model.Instant
	for _, inst := range t.instants {
		if keep(inst) {
			out = append(out, inst)
		}
	}
	return New(out)
}

// Visible returns completed instants plus pending compactions and log
// compactions; slices are only ever created at these instants
func (t *Timeline) Visible() *Timeline {
	return t.Filter(func(inst model.Instant) bool {
		return inst.IsCompleted() || inst.Action.IsCompactionAction()
	})
}

// Completed returns the completed instants
func (t *Timeline) Completed() *Timeline {
	return t.Filter(model.Instant.IsCompleted)
}

// Pending returns the pending instants of one action
func (t *Timeline) Pending(action model.Action) []model.Instant {
	var out []model.Instant
	for _, inst := range t.instants {
		if inst.Action == action && inst.IsPending() {
			out = append(out, inst)
		}
	}
	return out
}

// CompletedOf returns the completed instants of one action
func (t *Timeline) CompletedOf(action model.Action) []model.Instant {
	var out []model.Instant
	for _, inst := range t.instants {
		if inst.Action == action && inst.IsCompleted() {
			out = append(out, inst)
		}
	}
	return out
}

// Timestamps returns the distinct timestamps in order
func (t *Timeline) Timestamps() []string {
	var out []string
	for _, inst := range t.instants {
		if len(out) == 0 || out[len(out)-1] != inst.Timestamp {
			out = append(out, inst.Timestamp)
		}
	}
	return out
}

// ContainsTimestamp reports whether any instant has the timestamp
func (t *Timeline) ContainsTimestamp(ts string) bool {
	for _, inst := range t.instants {
		if inst.Timestamp == ts {
			return true
		}
	}
	return false
}

// ContainsOrBeforeStart reports whether ts is in the timeline or precedes its
// first instant (archived history)
func (t *Timeline) ContainsOrBeforeStart(ts string) bool {
	if t.ContainsTimestamp(ts) {
		return true
	}
	first, ok := t.FirstInstant()
	return ok && model.CompareTimestamps(ts, first.Timestamp) < 0
}

// Equal reports whether both timelines hold the same instants in the same states
func (t *Timeline) Equal(other *Timeline) bool {
	if t.Len() != other.Len() {
		return false
	}
	for i := range t.instants {
		if t.instants[i] != other.instants[i] {
			return false
		}
	}
	return true
}
