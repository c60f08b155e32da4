package view

import (
	"fmt"
	"slices"
	"strings"

	"github.com/devrev/tableview/internal/model"
)

// Mismatch is one difference between two views of the same table
type Mismatch struct {
	Partition string `json:"partition,omitempty"`
	GroupID   string `json:"group_id,omitempty"`
	Field     string `json:"field"`
	Expected  string `json:"expected"`
	Actual    string `json:"actual"`
}

func (m Mismatch) String() string {
	var b strings.Builder
	b.WriteString(m.Field)
	if m.GroupID != "" {
		b.WriteString(" [" + m.GroupID + "]")
	} else if m.Partition != "" {
		b.WriteString(" [" + m.Partition + "]")
	}
	fmt.Fprintf(&b, ": expected %q, got %q", m.Expected, m.Actual)
	return b.String()
}

// CheckConsistency compares every query of actual against expected and
// reports the differences. Groups in excluded are skipped, which lets callers
// ignore groups whose layout is known to differ between variants.
func CheckConsistency(expected, actual SyncableView, excluded ...model.FileGroupID) []Mismatch {
	skip := make(map[model.FileGroupID]bool, len(excluded))
	for _, id := range excluded {
		skip[id] = true
	}

	var out []Mismatch
	add := func(m Mismatch) { out = append(out, m) }

	expLast, _ := expected.LastInstant()
	actLast, _ := actual.LastInstant()
	if expLast != actLast {
		add(Mismatch{Field: "last_instant", Expected: expLast.String(), Actual: actLast.String()})
	}

	expParts, actParts := expected.Partitions(), actual.Partitions()
	if !slices.Equal(expParts, actParts) {
		add(Mismatch{Field: "partitions", Expected: strings.Join(expParts, ","), Actual: strings.Join(actParts, ",")})
	}

	for _, partition := range union(expParts, actParts) {
		out = append(out, compareGroups(partition, "group",
			expected.AllFileGroupsIncludingReplaced(partition).Collect(),
			actual.AllFileGroupsIncludingReplaced(partition).Collect(), skip)...)
		out = append(out, compareGroups(partition, "active_group",
			expected.AllFileGroups(partition).Collect(),
			actual.AllFileGroups(partition).Collect(), skip)...)
		out = append(out, compareSlices(partition, "latest_slice",
			expected.LatestFileSlices(partition).Collect(),
			actual.LatestFileSlices(partition).Collect(), skip)...)
	}

	out = append(out, compareOperations("pending_compaction",
		expected.PendingCompactionOperations(), actual.PendingCompactionOperations(), skip)...)
	out = append(out, compareOperations("pending_log_compaction",
		expected.PendingLogCompactionOperations(), actual.PendingLogCompactionOperations(), skip)...)

	expClustering := clusteringKeys(expected.FileGroupsInPendingClustering(), skip)
	actClustering := clusteringKeys(actual.FileGroupsInPendingClustering(), skip)
	if !slices.Equal(expClustering, actClustering) {
		add(Mismatch{Field: "pending_clustering",
			Expected: strings.Join(expClustering, ","), Actual: strings.Join(actClustering, ",")})
	}
	return out
}

func compareGroups(partition, field string, expected, actual []model.FileGroup, skip map[model.FileGroupID]bool) []Mismatch {
	var out []Mismatch
	exp := indexGroups(expected, skip)
	act := indexGroups(actual, skip)
	for _, id := range unionIDs(exp, act) {
		e, inExp := exp[id]
		a, inAct := act[id]
		switch {
		case !inExp:
			out = append(out, Mismatch{Partition: partition, GroupID: id.String(), Field: field, Expected: "absent", Actual: "present"})
		case !inAct:
			out = append(out, Mismatch{Partition: partition, GroupID: id.String(), Field: field, Expected: "present", Actual: "absent"})
		default:
			out = append(out, compareSlices(partition, field+"_slices", e.Slices, a.Slices, skip)...)
		}
	}
	return out
}

func compareSlices(partition, field string, expected, actual []model.FileSlice, skip map[model.FileGroupID]bool) []Mismatch {
	exp := describeSlices(expected, skip)
	act := describeSlices(actual, skip)
	if slices.Equal(exp, act) {
		return nil
	}
	return []Mismatch{{
		Partition: partition,
		Field:     field,
		Expected:  strings.Join(exp, " "),
		Actual:    strings.Join(act, " "),
	}}
}

func describeSlices(in []model.FileSlice, skip map[model.FileGroupID]bool) []string {
	var out []string
	for _, s := range in {
		if skip[s.GroupID] {
			continue
		}
		base := "-"
		if s.BaseFile != nil {
			base = s.BaseFile.Path
		}
		out = append(out, fmt.Sprintf("%s@%s{%s;%s}",
			s.GroupID.FileID, s.BaseInstantTime, base, strings.Join(s.LogPaths(), ",")))
	}
	return out
}

func compareOperations(field string, expected, actual []model.PendingCompactionOperation, skip map[model.FileGroupID]bool) []Mismatch {
	describe := func(ops []model.PendingCompactionOperation) []string {
		var out []string
		for _, op := range ops {
			if skip[op.GroupID] {
				continue
			}
			out = append(out, fmt.Sprintf("%s@%s{%s;%s;%s}", op.GroupID, op.InstantTime,
				op.BaseInstantTime, op.BaseFilePath, strings.Join(op.DeltaFilePaths, ",")))
		}
		return out
	}
	exp, act := describe(expected), describe(actual)
	if slices.Equal(exp, act) {
		return nil
	}
	return []Mismatch{{Field: field, Expected: strings.Join(exp, ","), Actual: strings.Join(act, ",")}}
}

func clusteringKeys(regs []model.PendingClusteringRegistration, skip map[model.FileGroupID]bool) []string {
	var out []string
	for _, r := range regs {
		if !skip[r.GroupID] {
			out = append(out, r.GroupID.String()+"@"+r.InstantTime)
		}
	}
	return out
}

func indexGroups(groups []model.FileGroup, skip map[model.FileGroupID]bool) map[model.FileGroupID]model.FileGroup {
	out := make(map[model.FileGroupID]model.FileGroup, len(groups))
	for _, g := range groups {
		if !skip[g.ID] {
			out[g.ID] = g
		}
	}
	return out
}

func unionIDs(a, b map[model.FileGroupID]model.FileGroup) []model.FileGroupID {
	var ids []model.FileGroupID
	for id := range a {
		ids = append(ids, id)
	}
	for id := range b {
		if _, ok := a[id]; !ok {
			ids = append(ids, id)
		}
	}
	slices.SortFunc(ids, model.CompareFileGroupIDs)
	return ids
}

func union(a, b []string) []string {
	out := append(append([]string(nil), a...), b...)
	slices.Sort(out)
	return slices.Compact(out)
}
