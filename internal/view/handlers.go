package view

import (
	"fmt"
	"sort"

	viewerrors "github.com/devrev/tableview/internal/errors"
	"github.com/devrev/tableview/internal/model"
	"github.com/devrev/tableview/internal/storage/naming"
	"github.com/devrev/tableview/internal/timeline"
)

func (sh *shadow) registry(action model.Action) map[model.FileGroupID]model.PendingCompactionOperation {
	if action == model.ActionLogCompaction {
		return sh.state.pendingLogCompaction
	}
	return sh.state.pendingCompaction
}

// schedule registers every operation of a compaction or log compaction plan.
// The two registries are independent; a group may sit in both at once.
func (sh *shadow) schedule(instant model.Instant, plan *model.CompactionPlan) error {
	registry := sh.registry(instant.Action)
	for _, op := range plan.Operations {
		id := op.GroupID()
		if other, ok := registry[id]; ok {
			return viewerrors.MalformedMetadata(fmt.Sprintf(
				"file group %s of %s is already under %s at %s", id, instant, instant.Action, other.InstantTime), nil)
		}
		registry[id] = model.PendingCompactionOperation{
			InstantTime:     instant.Timestamp,
			GroupID:         id,
			BaseInstantTime: op.BaseInstantTime,
			BaseFilePath:    op.DataFilePath,
			DeltaFilePaths:  append([]string(nil), op.DeltaFilePaths...),
		}
		if instant.Action == model.ActionCompaction {
			sh.markDirty(id.PartitionPath)
		}
	}
	return nil
}

// unschedule drops every registration made by one compaction instant and
// returns the affected groups
func (sh *shadow) unschedule(action model.Action, instantTime string) []model.FileGroupID {
	registry := sh.registry(action)
	var ids []model.FileGroupID
	for id, op := range registry {
		if op.InstantTime == instantTime {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		delete(registry, id)
		if action == model.ActionCompaction {
			sh.markDirty(id.PartitionPath)
		}
	}
	return ids
}

func (sh *shadow) registerClustering(instant model.Instant, md *model.RequestedReplaceMetadata) error {
	for _, id := range md.InputGroupIDs() {
		if other, ok := sh.state.pendingClustering[id]; ok && other != instant.Timestamp {
			return viewerrors.MalformedMetadata(fmt.Sprintf(
				"file group %s of %s is already under clustering at %s", id, instant, other), nil)
		}
		sh.state.pendingClustering[id] = instant.Timestamp
	}
	return nil
}

func (sh *shadow) dropClustering(instantTime string) {
	for id, ts := range sh.state.pendingClustering {
		if ts == instantTime {
			delete(sh.state.pendingClustering, id)
		}
	}
}

func (sh *shadow) unreplace(instantTime string) {
	for id, ts := range sh.state.replaced {
		if ts == instantTime {
			delete(sh.state.replaced, id)
		}
	}
}

// addWriteStats records every file written by a commit
func (sh *shadow) addWriteStats(md *model.CommitMetadata) error {
	for _, partition := range md.Partitions() {
		for _, stat := range md.PartitionToWriteStats[partition] {
			rel, err := sh.resolvePath(partition, stat.Path)
			if err != nil {
				return viewerrors.MalformedMetadata("invalid write stat path", err)
			}
			_, name := naming.SplitPath(rel)
			if fn, err := naming.ParseFileName(name); err == nil && fn.FileID != stat.FileID {
				return viewerrors.MalformedMetadata(fmt.Sprintf(
					"write stat names file id %s but %s belongs to %s", stat.FileID, rel, fn.FileID), nil)
			}
			if err := sh.addFile(rel); err != nil {
				return err
			}
		}
	}
	return nil
}

func (sh *shadow) removePaths(partition string, paths []string) error {
	for _, p := range paths {
		rel, err := sh.resolvePath(partition, p)
		if err != nil {
			return viewerrors.MalformedMetadata("invalid deleted file path", err)
		}
		sh.removeFile(rel)
	}
	return nil
}

// onRequested applies the effect of an instant appearing in a pending state
func (sh *shadow) onRequested(instant model.Instant, md model.Metadata) error {
	switch instant.Action {
	case model.ActionCompaction, model.ActionLogCompaction:
		plan, ok := md.(*model.CompactionPlan)
		if !ok {
			return unexpectedMetadata(instant, md)
		}
		return sh.schedule(instant, plan)
	case model.ActionReplaceCommit:
		requested, ok := md.(*model.RequestedReplaceMetadata)
		if !ok {
			return unexpectedMetadata(instant, md)
		}
		return sh.registerClustering(instant, requested)
	}
	return nil
}

// onCompleted applies the effect of an instant reaching COMPLETED. tl is the
// timeline being synced to.
func (sh *shadow) onCompleted(tl *timeline.Timeline, instant model.Instant, md model.Metadata) error {
	switch instant.Action {
	case model.ActionCommit, model.ActionDeltaCommit:
		commit, ok := md.(*model.CommitMetadata)
		if !ok {
			return unexpectedMetadata(instant, md)
		}
		return sh.addWriteStats(commit)

	case model.ActionCompaction, model.ActionLogCompaction:
		commit, ok := md.(*model.CommitMetadata)
		if !ok {
			return unexpectedMetadata(instant, md)
		}
		return sh.completeCompaction(instant, commit)

	case model.ActionReplaceCommit:
		replace, ok := md.(*model.ReplaceCommitMetadata)
		if !ok {
			return unexpectedMetadata(instant, md)
		}
		sh.dropClustering(instant.Timestamp)
		for _, id := range replace.ReplacedGroupIDs() {
			sh.state.replaced[id] = instant.Timestamp
		}
		return sh.addWriteStats(&replace.CommitMetadata)

	case model.ActionClean:
		clean, ok := md.(*model.CleanMetadata)
		if !ok {
			return unexpectedMetadata(instant, md)
		}
		return sh.applyClean(instant, clean)

	case model.ActionRollback:
		rollback, ok := md.(*model.RollbackMetadata)
		if !ok {
			return unexpectedMetadata(instant, md)
		}
		return sh.applyRollback(tl, rollback)

	case model.ActionRestore:
		restore, ok := md.(*model.RestoreMetadata)
		if !ok {
			return unexpectedMetadata(instant, md)
		}
		return sh.applyRestore(tl, restore)
	}
	return nil
}

// completeCompaction swaps the registrations of a compaction for its output
func (sh *shadow) completeCompaction(instant model.Instant, md *model.CommitMetadata) error {
	registry := sh.registry(instant.Action)
	registered := make(map[model.FileGroupID]bool)
	for id, op := range registry {
		if op.InstantTime == instant.Timestamp {
			registered[id] = true
		}
	}
	if len(registered) == 0 {
		return viewerrors.MalformedMetadata(fmt.Sprintf("%s completed without a pending registration", instant), nil)
	}
	for _, partition := range md.Partitions() {
		for _, stat := range md.PartitionToWriteStats[partition] {
			id := model.NewFileGroupID(partition, stat.FileID)
			if !registered[id] {
				return viewerrors.MalformedMetadata(fmt.Sprintf(
					"%s wrote file group %s which its plan does not name", instant, id), nil)
			}
		}
	}

	sh.unschedule(instant.Action, instant.Timestamp)
	return sh.addWriteStats(md)
}

// applyClean removes cleaned files. Removing the newest slice of a group that
// keeps older slices is refused.
func (sh *shadow) applyClean(instant model.Instant, md *model.CleanMetadata) error {
	for _, key := range md.Partitions() {
		pm := md.PartitionMetadata[key]
		partition := pm.PartitionPath
		if partition == "" {
			partition = key
		}

		before := sh.groupsOf(partition)
		if err := sh.removePaths(partition, pm.SuccessDeleteFiles); err != nil {
			return err
		}
		after := sh.groupsOf(partition)

		fileIDs := make([]string, 0, len(before))
		for fileID := range before {
			fileIDs = append(fileIDs, fileID)
		}
		sort.Strings(fileIDs)
		for _, fileID := range fileIDs {
			latest, ok := latestWithFiles(before[fileID])
			if !ok {
				continue
			}
			remaining, ok := after[fileID]
			if !ok {
				continue
			}
			if _, ok := latestWithFiles(remaining); !ok {
				continue
			}
			if !hasSliceAt(remaining, latest.BaseInstantTime) {
				return viewerrors.InvalidStateTransition(fmt.Sprintf(
					"%s removes the latest slice %s of file group %s while older slices remain",
					instant, latest.BaseInstantTime, remaining.ID))
			}
		}
	}
	return nil
}

func latestWithFiles(g model.FileGroup) (model.FileSlice, bool) {
	for _, s := range g.Slices {
		if !s.IsEmpty() {
			return s, true
		}
	}
	return model.FileSlice{}, false
}

func hasSliceAt(g model.FileGroup, baseInstant string) bool {
	for _, s := range g.Slices {
		if s.BaseInstantTime == baseInstant && !s.IsEmpty() {
			return true
		}
	}
	return false
}

// applyRollback reverts the files of one instant. The rolled back instant must
// already be gone from tl, except a compaction reverted to a pending state.
func (sh *shadow) applyRollback(tl *timeline.Timeline, md *model.RollbackMetadata) error {
	target := md.Target()
	for _, inst := range tl.Instants() {
		if inst.Timestamp != target.Timestamp || (target.Action != "" && inst.Action != target.Action) {
			continue
		}
		if inst.IsPending() && inst.Action.IsCompactionAction() {
			continue
		}
		return viewerrors.InvalidStateTransition(fmt.Sprintf(
			"rollback target %s is still present in the timeline", inst))
	}

	for _, key := range md.Partitions() {
		pm := md.PartitionMetadata[key]
		partition := pm.PartitionPath
		if partition == "" {
			partition = key
		}
		if err := sh.removePaths(partition, pm.SuccessDeleteFiles); err != nil {
			return err
		}
	}

	if target.Action == model.ActionReplaceCommit || target.Action == "" {
		sh.unreplace(target.Timestamp)
		sh.dropClustering(target.Timestamp)
	}
	return nil
}

// applyRestore applies the rollbacks of a restore, newest first, never below
// the restore target
func (sh *shadow) applyRestore(tl *timeline.Timeline, md *model.RestoreMetadata) error {
	prev := ""
	for i, rb := range md.Rollbacks {
		ts := rb.Target().Timestamp
		if model.CompareTimestamps(ts, md.TargetInstant) < 0 {
			return viewerrors.InvalidStateTransition(fmt.Sprintf(
				"restore to %s rolls back %s which precedes the restore target", md.TargetInstant, ts))
		}
		if i > 0 && model.CompareTimestamps(ts, prev) >= 0 {
			return viewerrors.InvalidStateTransition(fmt.Sprintf(
				"restore to %s rolls back %s after %s; rollbacks must be strictly decreasing", md.TargetInstant, ts, prev))
		}
		prev = ts
	}
	for _, rb := range md.Rollbacks {
		if err := sh.applyRollback(tl, rb); err != nil {
			return err
		}
	}
	return nil
}

// onVanished applies the effect of an instant that left the timeline. Old is
// the instant as last seen.
func (sh *shadow) onVanished(old model.Instant) {
	switch {
	case old.IsPending() && old.Action.IsCompactionAction():
		sh.unschedule(old.Action, old.Timestamp)
	case old.IsPending() && old.Action == model.ActionReplaceCommit:
		sh.dropClustering(old.Timestamp)
	case old.IsCompleted() && old.Action == model.ActionReplaceCommit:
		sh.unreplace(old.Timestamp)
	}
}

func unexpectedMetadata(instant model.Instant, md model.Metadata) error {
	kind := "nil"
	if md != nil {
		kind = string(md.Kind())
	}
	return viewerrors.MalformedMetadata(fmt.Sprintf("%s carries unexpected %s metadata", instant, kind), nil)
}
