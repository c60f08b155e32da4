package model

import (
	"fmt"
	"sort"
	"strings"
)

// Action is the kind of table action an instant records
type Action string

const (
	ActionCommit        Action = "commit"
	ActionDeltaCommit   Action = "deltacommit"
	ActionCompaction    Action = "compaction"
	ActionLogCompaction Action = "logcompaction"
	ActionReplaceCommit Action = "replacecommit"
	ActionClean         Action = "clean"
	ActionRollback      Action = "rollback"
	ActionRestore       Action = "restore"
)

// Actions lists every known action in a stable order
var Actions = []Action{
	ActionCommit,
	ActionDeltaCommit,
	ActionCompaction,
	ActionLogCompaction,
	ActionReplaceCommit,
	ActionClean,
	ActionRollback,
	ActionRestore,
}

// ParseAction converts a string into a known Action
func ParseAction(s string) (Action, error) {
	for _, a := range Actions {
		if string(a) == s {
			return a, nil
		}
	}
	return "", fmt.Errorf("unknown action %q", s)
}

// IsCompactionAction reports whether the action merges a slice (major or minor)
func (a Action) IsCompactionAction() bool {
	return a == ActionCompaction || a == ActionLogCompaction
}

// State is the lifecycle state of an instant
type State string

const (
	StateRequested State = "REQUESTED"
	StateInflight  State = "INFLIGHT"
	StateCompleted State = "COMPLETED"
)

// rank orders states along REQUESTED -> INFLIGHT -> COMPLETED
func (s State) rank() int {
	switch s {
	case StateRequested:
		return 0
	case StateInflight:
		return 1
	case StateCompleted:
		return 2
	default:
		return -1
	}
}

// ParseState converts a string into a known State
func ParseState(s string) (State, error) {
	switch State(strings.ToUpper(s)) {
	case StateRequested:
		return StateRequested, nil
	case StateInflight:
		return StateInflight, nil
	case StateCompleted:
		return StateCompleted, nil
	}
	return "", fmt.Errorf("unknown state %q", s)
}

// Instant is one (timestamp, action, state) record of the timeline
type Instant struct {
	Timestamp string `json:"timestamp"`
	Action    Action `json:"action"`
	State     State  `json:"state"`
}

// InstantKey identifies a logical instant independent of its state
type InstantKey struct {
	Timestamp string
	Action    Action
}

// NewInstant creates an instant
func NewInstant(state State, action Action, timestamp string) Instant {
	return Instant{Timestamp: timestamp, Action: action, State: state}
}

// Key returns the logical identity of the instant
func (i Instant) Key() InstantKey {
	return InstantKey{Timestamp: i.Timestamp, Action: i.Action}
}

func (i Instant) IsRequested() bool { return i.State == StateRequested }
func (i Instant) IsInflight() bool  { return i.State == StateInflight }
func (i Instant) IsCompleted() bool { return i.State == StateCompleted }

// IsPending reports whether the instant has not completed yet
func (i Instant) IsPending() bool { return i.State != StateCompleted }

// WithState returns a copy of the instant at the given state
func (i Instant) WithState(state State) Instant {
	i.State = state
	return i
}

// After reports whether s is a later lifecycle state than other
func (s State) After(other State) bool {
	return s.rank() > other.rank()
}

func (i Instant) String() string {
	return fmt.Sprintf("[%s__%s__%s]", i.Timestamp, i.Action, i.State)
}

// CompareTimestamps orders two fixed-format instant timestamps
func CompareTimestamps(a, b string) int {
	return strings.Compare(a, b)
}

// CompareInstants orders instants by timestamp, then action
func CompareInstants(a, b Instant) int {
	if c := CompareTimestamps(a.Timestamp, b.Timestamp); c != 0 {
		return c
	}
	return strings.Compare(string(a.Action), string(b.Action))
}

// SortInstants sorts instants in timeline order
func SortInstants(instants []Instant) {
	sort.SliceStable(instants, func(i, j int) bool {
		return CompareInstants(instants[i], instants[j]) < 0
	})
}
