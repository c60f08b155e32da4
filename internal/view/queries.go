package view

import (
	"sort"

	"github.com/devrev/tableview/internal/model"
)

// sortedGroups returns the groups of a partition ordered by file id
func (s *viewState) sortedGroups(partition string) []model.FileGroup {
	p, ok := s.partitions[partition]
	if !ok {
		return nil
	}
	groups := make([]model.FileGroup, 0, len(p.groups))
	for _, g := range p.groups {
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].ID.FileID < groups[j].ID.FileID })
	return groups
}

func (s *viewState) isReplaced(id model.FileGroupID) bool {
	_, ok := s.replaced[id]
	return ok
}

func (s *viewState) isReplacedBeforeOrOn(id model.FileGroupID, ts string) bool {
	at, ok := s.replaced[id]
	return ok && model.CompareTimestamps(at, ts) <= 0
}

// maskPendingBase hides a base file produced by a compaction that has not
// completed yet
func (s *viewState) maskPendingBase(slice model.FileSlice) model.FileSlice {
	if slice.BaseFile == nil {
		return slice
	}
	if op, ok := s.pendingCompaction[slice.GroupID]; ok && op.InstantTime == slice.BaseInstantTime {
		slice.BaseFile = nil
	}
	return slice
}

// committedSlices returns copies of the committed slices of a group, newest first
func (s *viewState) committedSlices(g model.FileGroup) []model.FileSlice {
	var out []model.FileSlice
	for _, slice := range g.Slices {
		if s.visible.isCommitted(slice.BaseInstantTime) {
			out = append(out, s.maskPendingBase(slice.Clone()))
		}
	}
	return out
}

func (s *viewState) latestSlice(g model.FileGroup) []model.FileSlice {
	slices := s.committedSlices(g)
	if len(slices) == 0 {
		return nil
	}
	return slices[:1]
}

// latestMergedBeforeOrOn picks the newest committed slice at or before ts. A
// slice opened by a pending compaction is merged into the slice before it.
func (s *viewState) latestMergedBeforeOrOn(g model.FileGroup, ts string) []model.FileSlice {
	slices := s.committedSlices(g)
	for i, slice := range slices {
		if model.CompareTimestamps(slice.BaseInstantTime, ts) > 0 {
			continue
		}
		op, pending := s.pendingCompaction[g.ID]
		if !pending || op.InstantTime != slice.BaseInstantTime || i+1 >= len(slices) {
			return []model.FileSlice{slice}
		}
		prev := slices[i+1]
		merged := model.FileSlice{
			GroupID:         g.ID,
			BaseInstantTime: prev.BaseInstantTime,
			BaseFile:        prev.BaseFile,
		}
		merged.LogFiles = append(merged.LogFiles, prev.LogFiles...)
		merged.LogFiles = append(merged.LogFiles, slice.LogFiles...)
		return []model.FileSlice{merged}
	}
	return nil
}

func (s *viewState) committedGroup(g model.FileGroup) (model.FileGroup, bool) {
	slices := s.committedSlices(g)
	if len(slices) == 0 {
		return model.FileGroup{}, false
	}
	return model.FileGroup{ID: g.ID, Slices: slices}, true
}

func (s *viewState) lastInstant() (model.Instant, bool) {
	return s.timeline.Visible().LastInstant()
}

func (s *viewState) latestFileSlices(partition string) *SliceIterator {
	return newSliceIterator(s.sortedGroups(partition), func(g model.FileGroup) []model.FileSlice {
		if s.isReplaced(g.ID) {
			return nil
		}
		return s.latestSlice(g)
	})
}

func (s *viewState) latestMergedFileSlicesBeforeOrOn(partition, ts string) *SliceIterator {
	return newSliceIterator(s.sortedGroups(partition), func(g model.FileGroup) []model.FileSlice {
		if s.isReplacedBeforeOrOn(g.ID, ts) {
			return nil
		}
		return s.latestMergedBeforeOrOn(g, ts)
	})
}

func (s *viewState) allFileSlices(partition string) *SliceIterator {
	return newSliceIterator(s.sortedGroups(partition), func(g model.FileGroup) []model.FileSlice {
		if s.isReplaced(g.ID) {
			return nil
		}
		return s.committedSlices(g)
	})
}

func (s *viewState) latestBaseFiles(partition string) []model.BaseFile {
	var out []model.BaseFile
	for _, g := range s.sortedGroups(partition) {
		if s.isReplaced(g.ID) {
			continue
		}
		for _, slice := range s.committedSlices(g) {
			if slice.BaseFile != nil {
				out = append(out, *slice.BaseFile)
				break
			}
		}
	}
	return out
}

func (s *viewState) allFileGroups(partition string) *GroupIterator {
	return newGroupIterator(s.sortedGroups(partition), func(g model.FileGroup) (model.FileGroup, bool) {
		if s.isReplaced(g.ID) {
			return model.FileGroup{}, false
		}
		return s.committedGroup(g)
	})
}

func (s *viewState) allFileGroupsIncludingReplaced(partition string) *GroupIterator {
	return newGroupIterator(s.sortedGroups(partition), s.committedGroup)
}

func (s *viewState) replacedFileGroupsBeforeOrOn(partition, ts string) *GroupIterator {
	return newGroupIterator(s.sortedGroups(partition), func(g model.FileGroup) (model.FileGroup, bool) {
		if !s.isReplacedBeforeOrOn(g.ID, ts) {
			return model.FileGroup{}, false
		}
		return s.committedGroup(g)
	})
}

func (s *viewState) partitionNames() []string {
	var out []string
	for name, p := range s.partitions {
		for _, g := range p.groups {
			if _, ok := s.committedGroup(g); ok {
				out = append(out, name)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

func sortedOperations(registry map[model.FileGroupID]model.PendingCompactionOperation) []model.PendingCompactionOperation {
	out := make([]model.PendingCompactionOperation, 0, len(registry))
	for _, op := range registry {
		op.DeltaFilePaths = append([]string(nil), op.DeltaFilePaths...)
		out = append(out, op)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := model.CompareTimestamps(out[i].InstantTime, out[j].InstantTime); c != 0 {
			return c < 0
		}
		return model.CompareFileGroupIDs(out[i].GroupID, out[j].GroupID) < 0
	})
	return out
}

func (s *viewState) clusteringRegistrations() []model.PendingClusteringRegistration {
	out := make([]model.PendingClusteringRegistration, 0, len(s.pendingClustering))
	for id, ts := range s.pendingClustering {
		out = append(out, model.PendingClusteringRegistration{GroupID: id, InstantTime: ts})
	}
	sort.Slice(out, func(i, j int) bool {
		if c := model.CompareTimestamps(out[i].InstantTime, out[j].InstantTime); c != 0 {
			return c < 0
		}
		return model.CompareFileGroupIDs(out[i].GroupID, out[j].GroupID) < 0
	})
	return out
}
