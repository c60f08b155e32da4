package view

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	viewerrors "github.com/devrev/tableview/internal/errors"
	"github.com/devrev/tableview/internal/model"
)

var scenarioPartitions = []string{"2024/01/01", "2024/01/02", "2024/01/03"}

func TestScheduleAndUnscheduleCompaction(t *testing.T) {
	f := newFixture(t)
	v := f.incremental()

	var ids []model.FileGroupID
	for _, p := range scenarioPartitions {
		for i := 0; i < 10; i++ {
			ids = append(ids, model.NewFileGroupID(p, fmt.Sprintf("fg-%02d", i)))
		}
	}
	for version, ts := range []string{"11", "12", "13"} {
		var paths []string
		for _, id := range ids {
			paths = append(paths, logFile(id.PartitionPath, id.FileID, "11", version+1))
		}
		f.commit(model.ActionDeltaCommit, ts, paths...)
	}
	f.sync(v)

	for _, p := range scenarioPartitions {
		slices := v.LatestFileSlices(p).Collect()
		require.Len(t, slices, 10)
		for _, s := range slices {
			assert.Equal(t, "11", s.BaseInstantTime)
			assert.Nil(t, s.BaseFile)
			assert.Len(t, s.LogFiles, 3)
		}
	}

	f.request(model.ActionCompaction, "14", compactionPlan("11", ids...))
	f.sync(v)
	assert.Len(t, v.PendingCompactionOperations(), 30)

	for _, p := range scenarioPartitions {
		latest := v.LatestFileSlices(p).Collect()
		require.Len(t, latest, 10)
		for _, s := range latest {
			assert.Equal(t, "14", s.BaseInstantTime)
			assert.True(t, s.IsEmpty())
		}

		merged := v.LatestMergedFileSlicesBeforeOrOn(p, "14").Collect()
		require.Len(t, merged, 10)
		for _, s := range merged {
			assert.Equal(t, "11", s.BaseInstantTime)
			assert.Len(t, s.LogFiles, 3)
		}
	}
	f.assertMatchesFullScan(v)

	require.NoError(t, f.at.DeletePending(f.ctx, model.InstantKey{Timestamp: "14", Action: model.ActionCompaction}))
	f.sync(v)

	assert.Empty(t, v.PendingCompactionOperations())
	for _, p := range scenarioPartitions {
		for _, s := range v.LatestFileSlices(p).Collect() {
			assert.Equal(t, "11", s.BaseInstantTime)
		}
	}
	f.assertMatchesFullScan(v)
}

func TestCompactionLifecycle(t *testing.T) {
	f := newFixture(t)
	v := f.incremental()

	g1 := model.NewFileGroupID("p1", "g1")
	f.commit(model.ActionDeltaCommit, "01", baseFile("p1", "g1", "01"), logFile("p1", "g1", "01", 1))
	f.request(model.ActionCompaction, "02", compactionPlan("01", g1))
	f.sync(v)

	_, err := f.at.TransitionInflight(f.ctx, model.InstantKey{Timestamp: "02", Action: model.ActionCompaction})
	require.NoError(t, err)
	// the compaction output exists on storage before the instant completes
	f.files.add(baseFile("p1", "g1", "02"))
	f.sync(v)

	latest := v.LatestFileSlices("p1").Collect()
	require.Len(t, latest, 1)
	assert.Equal(t, "02", latest[0].BaseInstantTime)
	assert.Nil(t, latest[0].BaseFile)
	require.Len(t, v.LatestBaseFiles("p1"), 1)
	assert.Equal(t, "01", v.LatestBaseFiles("p1")[0].CommitTime)
	f.assertMatchesFullScan(v)

	// a log appended after scheduling lands in the new slice
	f.commit(model.ActionDeltaCommit, "03", logFile("p1", "g1", "02", 1))
	f.sync(v)
	latest = v.LatestFileSlices("p1").Collect()
	require.Len(t, latest, 1)
	assert.Len(t, latest[0].LogFiles, 1)

	merged := v.LatestMergedFileSlicesBeforeOrOn("p1", "03").Collect()
	require.Len(t, merged, 1)
	assert.Equal(t, "01", merged[0].BaseInstantTime)
	assert.Equal(t, []string{logFile("p1", "g1", "01", 1), logFile("p1", "g1", "02", 1)}, merged[0].LogPaths())
	f.assertMatchesFullScan(v)

	f.commit(model.ActionCompaction, "02", baseFile("p1", "g1", "02"))
	f.sync(v)

	assert.Empty(t, v.PendingCompactionOperations())
	latest = v.LatestFileSlices("p1").Collect()
	require.Len(t, latest, 1)
	assert.Equal(t, "02", latest[0].BaseInstantTime)
	require.NotNil(t, latest[0].BaseFile)
	assert.Equal(t, baseFile("p1", "g1", "02"), latest[0].BaseFile.Path)
	assert.Equal(t, []string{"02", "01"}, sliceInstants(v.AllFileSlices("p1").Collect()))
	f.assertMatchesFullScan(v)
}

func TestCompactionCaughtUpCompleted(t *testing.T) {
	f := newFixture(t)
	v := f.incremental()

	g1 := model.NewFileGroupID("p1", "g1")
	f.commit(model.ActionDeltaCommit, "01", logFile("p1", "g1", "01", 1))
	f.request(model.ActionCompaction, "02", compactionPlan("01", g1))
	f.commit(model.ActionCompaction, "02", baseFile("p1", "g1", "02"))
	f.sync(v)

	assert.Empty(t, v.PendingCompactionOperations())
	assert.Equal(t, []string{"02"}, sliceInstants(v.LatestFileSlices("p1").Collect()))
	f.assertMatchesFullScan(v)
}

func TestCompactionWithoutRegistration(t *testing.T) {
	f := newFixture(t)
	v := f.incremental()

	f.commit(model.ActionDeltaCommit, "01", logFile("p1", "g1", "01", 1))
	f.sync(v)
	f.commit(model.ActionCompaction, "02", baseFile("p1", "g1", "02"))

	err := v.Sync(f.ctx)
	assert.True(t, viewerrors.Is(err, viewerrors.ErrCodeMalformedMetadata))
	assert.False(t, v.IsLastSyncSuccessful())
}

func TestLogCompaction(t *testing.T) {
	f := newFixture(t)
	v := f.incremental()

	g1 := model.NewFileGroupID("p1", "g1")
	f.commit(model.ActionCommit, "01", baseFile("p1", "g1", "01"))
	f.commit(model.ActionDeltaCommit, "02", logFile("p1", "g1", "01", 1))
	f.request(model.ActionLogCompaction, "03", compactionPlan("01", g1))
	f.sync(v)

	ops := v.PendingLogCompactionOperations()
	require.Len(t, ops, 1)
	assert.Equal(t, "03", ops[0].InstantTime)
	assert.Equal(t, g1, ops[0].GroupID)
	assert.Empty(t, v.PendingCompactionOperations())
	assert.Equal(t, []string{"01"}, sliceInstants(v.LatestFileSlices("p1").Collect()))
	f.assertMatchesFullScan(v)

	f.commit(model.ActionLogCompaction, "03", logFile("p1", "g1", "01", 2))
	f.sync(v)

	assert.Empty(t, v.PendingLogCompactionOperations())
	latest := v.LatestFileSlices("p1").Collect()
	require.Len(t, latest, 1)
	assert.Len(t, latest[0].LogFiles, 2)
	f.assertMatchesFullScan(v)

	f.request(model.ActionLogCompaction, "04", compactionPlan("01", g1))
	f.sync(v)
	assert.Len(t, v.PendingLogCompactionOperations(), 1)
	require.NoError(t, f.at.DeletePending(f.ctx, model.InstantKey{Timestamp: "04", Action: model.ActionLogCompaction}))
	f.sync(v)
	assert.Empty(t, v.PendingLogCompactionOperations())
	f.assertMatchesFullScan(v)
}

func TestAsyncCompactionAndLogCompaction(t *testing.T) {
	f := newFixture(t)
	v := f.incremental()

	g1 := model.NewFileGroupID("p1", "g1")
	f.commit(model.ActionDeltaCommit, "11", baseFile("p1", "g1", "11"), logFile("p1", "g1", "11", 1))
	f.sync(v)

	f.request(model.ActionLogCompaction, "14", compactionPlan("11", g1))
	f.request(model.ActionCompaction, "15", compactionPlan("11", g1))
	f.sync(v)

	logOps := v.PendingLogCompactionOperations()
	require.Len(t, logOps, 1)
	assert.Equal(t, "14", logOps[0].InstantTime)
	ops := v.PendingCompactionOperations()
	require.Len(t, ops, 1)
	assert.Equal(t, "15", ops[0].InstantTime)
	assert.Equal(t, []string{"15"}, sliceInstants(v.LatestFileSlices("p1").Collect()))
	f.assertMatchesFullScan(v)

	require.NoError(t, f.at.DeletePending(f.ctx, model.InstantKey{Timestamp: "14", Action: model.ActionLogCompaction}))
	f.sync(v)
	assert.Empty(t, v.PendingLogCompactionOperations())
	assert.Len(t, v.PendingCompactionOperations(), 1)
	f.assertMatchesFullScan(v)

	f.commit(model.ActionCompaction, "15", baseFile("p1", "g1", "15"))
	f.sync(v)
	assert.Empty(t, v.PendingCompactionOperations())
	latest := v.LatestFileSlices("p1").Collect()
	require.Len(t, latest, 1)
	require.NotNil(t, latest[0].BaseFile)
	assert.Equal(t, baseFile("p1", "g1", "15"), latest[0].BaseFile.Path)
	assert.Equal(t, []string{"15", "11"}, sliceInstants(v.AllFileSlices("p1").Collect()))
	f.assertMatchesFullScan(v)
}

func TestDuplicateRegistration(t *testing.T) {
	g1 := model.NewFileGroupID("p1", "g1")
	tests := []struct {
		name     string
		schedule func(f *fixture)
	}{
		{
			name: "two log compactions",
			schedule: func(f *fixture) {
				f.request(model.ActionLogCompaction, "02", compactionPlan("01", g1))
				f.request(model.ActionLogCompaction, "03", compactionPlan("01", g1))
			},
		},
		{
			name: "two compactions",
			schedule: func(f *fixture) {
				f.request(model.ActionCompaction, "02", compactionPlan("01", g1))
				f.request(model.ActionCompaction, "03", compactionPlan("01", g1))
			},
		},
		{
			name: "two clusterings",
			schedule: func(f *fixture) {
				f.request(model.ActionReplaceCommit, "02", clusteringPlan(g1))
				f.request(model.ActionReplaceCommit, "03", clusteringPlan(g1))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.commit(model.ActionCommit, "01", baseFile("p1", "g1", "01"))
			v := f.incremental()

			tt.schedule(f)
			err := v.Sync(f.ctx)
			assert.True(t, viewerrors.Is(err, viewerrors.ErrCodeMalformedMetadata))
			assert.Empty(t, v.PendingCompactionOperations())
			assert.Empty(t, v.PendingLogCompactionOperations())
			assert.Empty(t, v.FileGroupsInPendingClustering())

			_, err = NewFullRefreshView(f.ctx, f.table, Options{}, nil)
			assert.True(t, viewerrors.Is(err, viewerrors.ErrCodeMalformedMetadata))
		})
	}
}

func TestRestoresRevertCommits(t *testing.T) {
	f := newFixture(t)
	v := f.incremental()

	partitions := []string{"p1", "p2"}
	fileIDs := []string{"g1", "g2", "g3"}
	written := make(map[string][]string)
	for _, ts := range []string{"12", "13", "14"} {
		for _, p := range partitions {
			for _, id := range fileIDs {
				written[ts] = append(written[ts], baseFile(p, id, ts))
			}
		}
		f.commit(model.ActionCommit, ts, written[ts]...)
		f.sync(v)
	}
	assert.Equal(t, []string{"14", "14", "14"}, sliceInstants(v.LatestFileSlices("p1").Collect()))

	restores := []struct{ at, target, latest string }{
		{"15", "14", "13"},
		{"16", "13", "12"},
		{"17", "12", ""},
	}
	for _, r := range restores {
		f.remove(model.ActionCommit, r.target)
		f.files.remove(written[r.target]...)
		f.complete(model.ActionRestore, r.at, &model.RestoreMetadata{
			TargetInstant: r.target,
			Rollbacks:     []*model.RollbackMetadata{rollbackOf(model.ActionCommit, r.target, written[r.target]...)},
		})
		f.sync(v)

		for _, p := range partitions {
			slices := v.LatestFileSlices(p).Collect()
			if r.latest == "" {
				assert.Empty(t, slices)
				continue
			}
			assert.Equal(t, []string{r.latest, r.latest, r.latest}, sliceInstants(slices))
		}
		f.assertMatchesFullScan(v)
	}

	assert.Empty(t, v.Partitions())
	last, ok := v.LastInstant()
	require.True(t, ok)
	assert.Equal(t, "17", last.Timestamp)
}

func TestReplacedGroupsStayHistorical(t *testing.T) {
	f := newFixture(t)
	v := f.incremental()

	partitions := []string{"p1", "p2"}
	var initial, output []string
	var inputs []model.FileGroupID
	replaced := make(map[string][]string)
	for _, p := range partitions {
		initial = append(initial, baseFile(p, "a", "01"), baseFile(p, "b", "01"))
		output = append(output, baseFile(p, "c", "02"))
		inputs = append(inputs, model.NewFileGroupID(p, "a"))
		replaced[p] = []string{"a"}
	}
	f.commit(model.ActionCommit, "01", initial...)
	f.request(model.ActionReplaceCommit, "02", clusteringPlan(inputs...))
	f.sync(v)

	regs := v.FileGroupsInPendingClustering()
	require.Len(t, regs, 2)
	assert.Equal(t, "02", regs[0].InstantTime)

	f.files.add(output...)
	f.complete(model.ActionReplaceCommit, "02", &model.ReplaceCommitMetadata{
		CommitMetadata:            *commitMetadata(output...),
		PartitionToReplaceFileIDs: replaced,
	})
	f.sync(v)

	assert.Empty(t, v.FileGroupsInPendingClustering())
	for _, p := range partitions {
		assert.Equal(t, []string{"b", "c"}, groupFileIDs(v.AllFileGroups(p).Collect()))
		assert.Equal(t, []string{"a", "b", "c"}, groupFileIDs(v.AllFileGroupsIncludingReplaced(p).Collect()))
		assert.Equal(t, []string{"a"}, groupFileIDs(v.ReplacedFileGroupsBeforeOrOn(p, "02").Collect()))
		assert.Empty(t, v.ReplacedFileGroupsBeforeOrOn(p, "01").Collect())
		assert.Len(t, v.LatestMergedFileSlicesBeforeOrOn(p, "01").Collect(), 2)
		assert.Len(t, v.LatestFileSlices(p).Collect(), 2)
	}

	full := f.fullRefresh()
	assert.Equal(t, []string{"a", "b", "c"}, groupFileIDs(full.AllFileGroupsIncludingReplaced("p1").Collect()))
	assert.Empty(t, CheckConsistency(full, v))

	var cleaned []string
	for _, p := range partitions {
		cleaned = append(cleaned, baseFile(p, "a", "01"))
	}
	f.files.remove(cleaned...)
	f.complete(model.ActionClean, "03", cleanOf(cleaned...))
	f.sync(v)

	for _, p := range partitions {
		assert.Equal(t, []string{"b", "c"}, groupFileIDs(v.AllFileGroupsIncludingReplaced(p).Collect()))
	}
	f.assertMatchesFullScan(v)
}

func TestRollbackOfReplaceRestoresGroups(t *testing.T) {
	f := newFixture(t)
	v := f.incremental()

	f.commit(model.ActionCommit, "01", baseFile("p1", "a", "01"), baseFile("p1", "b", "01"))
	output := baseFile("p1", "c", "02")
	f.files.add(output)
	f.complete(model.ActionReplaceCommit, "02", &model.ReplaceCommitMetadata{
		CommitMetadata:            *commitMetadata(output),
		PartitionToReplaceFileIDs: map[string][]string{"p1": {"a"}},
	})
	f.sync(v)
	assert.Equal(t, []string{"b", "c"}, groupFileIDs(v.AllFileGroups("p1").Collect()))

	f.remove(model.ActionReplaceCommit, "02")
	f.files.remove(output)
	f.complete(model.ActionRollback, "03", rollbackOf(model.ActionReplaceCommit, "02", output))
	f.sync(v)

	assert.Equal(t, []string{"a", "b"}, groupFileIDs(v.AllFileGroups("p1").Collect()))
	f.assertMatchesFullScan(v)
}

func TestVanishedClusteringIsUnregistered(t *testing.T) {
	f := newFixture(t)
	f.commit(model.ActionCommit, "01", baseFile("p1", "a", "01"))
	v := f.incremental()

	f.request(model.ActionReplaceCommit, "02", clusteringPlan(model.NewFileGroupID("p1", "a")))
	f.sync(v)
	require.Len(t, v.FileGroupsInPendingClustering(), 1)

	require.NoError(t, f.at.DeletePending(f.ctx, model.InstantKey{Timestamp: "02", Action: model.ActionReplaceCommit}))
	f.sync(v)
	assert.Empty(t, v.FileGroupsInPendingClustering())
	f.assertMatchesFullScan(v)
}

func TestCleanGuard(t *testing.T) {
	tests := []struct {
		name    string
		cleaned string
		wantErr bool
		slices  []string
	}{
		{name: "older slice", cleaned: baseFile("p1", "g1", "01"), slices: []string{"02"}},
		{name: "latest slice", cleaned: baseFile("p1", "g1", "02"), wantErr: true, slices: []string{"02", "01"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.commit(model.ActionCommit, "01", baseFile("p1", "g1", "01"))
			f.commit(model.ActionCommit, "02", baseFile("p1", "g1", "02"))
			v := f.incremental()

			f.complete(model.ActionClean, "03", cleanOf(tt.cleaned))
			err := v.Sync(f.ctx)
			if tt.wantErr {
				assert.True(t, viewerrors.Is(err, viewerrors.ErrCodeInvalidStateTransition))
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.slices, sliceInstants(v.AllFileSlices("p1").Collect()))
		})
	}
}

func TestRollbackGuard(t *testing.T) {
	f := newFixture(t)
	f.commit(model.ActionCommit, "01", baseFile("p1", "g1", "01"))
	f.commit(model.ActionCommit, "02", baseFile("p1", "g1", "02"))
	v := f.incremental()

	f.complete(model.ActionRollback, "03", rollbackOf(model.ActionCommit, "02", baseFile("p1", "g1", "02")))
	err := v.Sync(f.ctx)
	require.Error(t, err)
	assert.True(t, viewerrors.Is(err, viewerrors.ErrCodeInvalidStateTransition))

	var ve *viewerrors.ViewError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "[03__rollback__COMPLETED]", ve.Details["instant"])
	assert.Equal(t, []string{"02"}, sliceInstants(v.LatestFileSlices("p1").Collect()))
}

func TestRollbackOfPendingCompaction(t *testing.T) {
	f := newFixture(t)
	v := f.incremental()

	g1 := model.NewFileGroupID("p1", "g1")
	key := model.InstantKey{Timestamp: "02", Action: model.ActionCompaction}
	f.commit(model.ActionDeltaCommit, "01", baseFile("p1", "g1", "01"), logFile("p1", "g1", "01", 1))
	f.request(model.ActionCompaction, "02", compactionPlan("01", g1))
	_, err := f.at.TransitionInflight(f.ctx, key)
	require.NoError(t, err)
	f.files.add(baseFile("p1", "g1", "02"))
	f.sync(v)

	_, err = f.at.RevertToRequested(f.ctx, key)
	require.NoError(t, err)
	f.files.remove(baseFile("p1", "g1", "02"))
	f.complete(model.ActionRollback, "03", rollbackOf(model.ActionCompaction, "02", baseFile("p1", "g1", "02")))
	f.sync(v)

	assert.Len(t, v.PendingCompactionOperations(), 1)
	assert.Equal(t, []string{"02"}, sliceInstants(v.LatestFileSlices("p1").Collect()))
	f.assertMatchesFullScan(v)
}

func TestRestoreGuard(t *testing.T) {
	tests := []struct {
		name      string
		target    string
		rollbacks []string
	}{
		{name: "increasing rollbacks", target: "01", rollbacks: []string{"02", "03"}},
		{name: "rollback below target", target: "03", rollbacks: []string{"02"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.commit(model.ActionCommit, "01", baseFile("p1", "g1", "01"))
			v := f.incremental()

			md := &model.RestoreMetadata{TargetInstant: tt.target}
			for _, ts := range tt.rollbacks {
				md.Rollbacks = append(md.Rollbacks, rollbackOf(model.ActionCommit, ts))
			}
			f.complete(model.ActionRestore, "04", md)

			err := v.Sync(f.ctx)
			assert.True(t, viewerrors.Is(err, viewerrors.ErrCodeInvalidStateTransition))
		})
	}
}

func TestSyncIsAtomic(t *testing.T) {
	tests := []struct {
		name string
		stat model.WriteStat
	}{
		{name: "unparsable file name", stat: model.WriteStat{FileID: "g2", Path: "p1/not-a-data-file.txt"}},
		{name: "file id mismatch", stat: model.WriteStat{FileID: "other", Path: baseFile("p1", "g2", "03")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.commit(model.ActionCommit, "01", baseFile("p1", "g1", "01"))
			v := f.incremental()

			f.commit(model.ActionCommit, "02", baseFile("p1", "g3", "02"))
			bad := &model.CommitMetadata{}
			bad.AddWriteStat("p1", tt.stat)
			f.complete(model.ActionCommit, "03", bad)

			err := v.Sync(f.ctx)
			assert.True(t, viewerrors.Is(err, viewerrors.ErrCodeMalformedMetadata))
			assert.False(t, v.IsLastSyncSuccessful())

			last, _ := v.LastInstant()
			assert.Equal(t, "01", last.Timestamp)
			assert.Equal(t, []string{"g1"}, groupFileIDs(v.AllFileGroups("p1").Collect()))

			f.remove(model.ActionCommit, "03")
			f.sync(v)
			assert.Equal(t, []string{"g1", "g3"}, groupFileIDs(v.AllFileGroups("p1").Collect()))
		})
	}
}

func TestSyncUnsafeAfterArchival(t *testing.T) {
	f := newFixture(t)
	f.commit(model.ActionCommit, "01", baseFile("p1", "g1", "01"))
	f.commit(model.ActionCommit, "02", baseFile("p1", "g1", "02"))
	v := f.incremental()

	f.remove(model.ActionCommit, "01")
	f.remove(model.ActionCommit, "02")
	f.commit(model.ActionCommit, "05", baseFile("p1", "g2", "05"))

	err := v.Sync(f.ctx)
	assert.True(t, viewerrors.Is(err, viewerrors.ErrCodeSyncUnsafe))
	assert.False(t, v.IsLastSyncSuccessful())
	last, _ := v.LastInstant()
	assert.Equal(t, "02", last.Timestamp)

	require.NoError(t, v.Refresh(f.ctx))
	assert.False(t, v.IsLastSyncSuccessful())
	last, _ = v.LastInstant()
	assert.Equal(t, "05", last.Timestamp)
	// archived slices stay committed
	assert.Equal(t, []string{"g1", "g2"}, groupFileIDs(v.AllFileGroups("p1").Collect()))

	f.sync(v)
	f.assertMatchesFullScan(v)
}

func TestSyncIsIdempotent(t *testing.T) {
	f := newFixture(t)
	observer := &recordingObserver{}
	v := f.incremental(Options{Observer: observer})

	f.commit(model.ActionCommit, "01", baseFile("p1", "g1", "01"))
	f.commit(model.ActionDeltaCommit, "02", logFile("p1", "g1", "01", 1))
	f.sync(v)
	assert.Equal(t, []model.Action{model.ActionCommit, model.ActionDeltaCommit}, observer.applied)

	f.sync(v)
	assert.Len(t, observer.applied, 2)
	assert.Equal(t, []string{ModeFull, ModeIncremental, ModeIncremental}, observer.passes)
	f.assertMatchesFullScan(v)
}

func TestIteratorsReadOneSnapshot(t *testing.T) {
	f := newFixture(t)
	f.commit(model.ActionCommit, "01", baseFile("p1", "g1", "01"))
	v := f.incremental()

	it := v.LatestFileSlices("p1")
	groups := v.AllFileGroups("p1")
	f.commit(model.ActionCommit, "02", baseFile("p1", "g2", "02"))
	f.sync(v)

	assert.Len(t, it.Collect(), 1)
	assert.Len(t, groups.Collect(), 1)
	assert.False(t, it.Next())
	assert.Len(t, v.LatestFileSlices("p1").Collect(), 2)
}

func TestClosedView(t *testing.T) {
	f := newFixture(t)
	f.commit(model.ActionCommit, "01", baseFile("p1", "g1", "01"))
	v := f.incremental()
	require.NoError(t, v.Close())
	require.NoError(t, v.Close())

	assert.True(t, viewerrors.Is(v.Sync(f.ctx), viewerrors.ErrCodeClosed))
	assert.True(t, viewerrors.Is(v.Refresh(f.ctx), viewerrors.ErrCodeClosed))
	assert.Empty(t, v.LatestFileSlices("p1").Collect())
}

func TestCloseWaitsForRunningSync(t *testing.T) {
	f := newFixture(t)
	f.commit(model.ActionCommit, "01", baseFile("p1", "g1", "01"))
	gate := newGatedReader(f.at)
	f.table.Timeline = gate
	v := f.incremental()

	f.commit(model.ActionCommit, "02", baseFile("p1", "g2", "02"))
	gate.armed.Store(true)
	syncErr := make(chan error, 1)
	go func() { syncErr <- v.Sync(f.ctx) }()
	<-gate.entered

	closed := make(chan struct{})
	go func() {
		assert.NoError(t, v.Close())
		close(closed)
	}()
	select {
	case <-closed:
		t.Fatal("Close returned while a sync was running")
	case <-time.After(50 * time.Millisecond):
	}
	close(gate.release)

	require.NoError(t, <-syncErr)
	<-closed
	assert.Empty(t, v.LatestFileSlices("p1").Collect())
	assert.Empty(t, v.Partitions())
	assert.True(t, viewerrors.Is(v.Sync(f.ctx), viewerrors.ErrCodeClosed))
}

func TestFullRefreshKeepsSnapshotOnFailure(t *testing.T) {
	f := newFixture(t)
	f.commit(model.ActionCommit, "01", baseFile("p1", "g1", "01"))
	v := f.fullRefresh()

	f.files.err = fmt.Errorf("listing unavailable")
	err := v.Sync(f.ctx)
	assert.True(t, viewerrors.Is(err, viewerrors.ErrCodeIOFailure))
	assert.False(t, v.IsLastSyncSuccessful())
	assert.Len(t, v.LatestFileSlices("p1").Collect(), 1)

	f.files.err = nil
	require.NoError(t, v.Refresh(f.ctx))
	assert.True(t, v.IsLastSyncSuccessful())
}

func TestDiffTimelines(t *testing.T) {
	inst := model.NewInstant
	tests := []struct {
		name     string
		old, cur []model.Instant
		want     []changeKind
		wantCode viewerrors.ErrorCode
	}{
		{
			name: "new instants in timestamp order",
			old:  []model.Instant{inst(model.StateCompleted, model.ActionCommit, "01")},
			cur: []model.Instant{
				inst(model.StateCompleted, model.ActionCommit, "01"),
				inst(model.StateRequested, model.ActionCompaction, "02"),
				inst(model.StateCompleted, model.ActionDeltaCommit, "03"),
			},
			want: []changeKind{changeScheduled, changeCaughtUp},
		},
		{
			name: "completion and vanish",
			old: []model.Instant{
				inst(model.StateInflight, model.ActionCommit, "01"),
				inst(model.StateRequested, model.ActionCompaction, "02"),
			},
			cur:  []model.Instant{inst(model.StateCompleted, model.ActionCommit, "01")},
			want: []changeKind{changeCompleted, changeVanished},
		},
		{
			name: "requested to inflight is a no-op",
			old:  []model.Instant{inst(model.StateRequested, model.ActionCommit, "01")},
			cur:  []model.Instant{inst(model.StateInflight, model.ActionCommit, "01")},
		},
		{
			name: "compaction reverted to requested",
			old:  []model.Instant{inst(model.StateInflight, model.ActionCompaction, "01")},
			cur:  []model.Instant{inst(model.StateRequested, model.ActionCompaction, "01")},
		},
		{
			name:     "commit reverted to requested",
			old:      []model.Instant{inst(model.StateInflight, model.ActionCommit, "01")},
			cur:      []model.Instant{inst(model.StateRequested, model.ActionCommit, "01")},
			wantCode: viewerrors.ErrCodeInvalidStateTransition,
		},
		{
			name:     "completed instant reopened",
			old:      []model.Instant{inst(model.StateCompleted, model.ActionCommit, "01")},
			cur:      []model.Instant{inst(model.StateInflight, model.ActionCommit, "01")},
			wantCode: viewerrors.ErrCodeInvalidStateTransition,
		},
		{
			name:     "archived past the last synced instant",
			old:      []model.Instant{inst(model.StateCompleted, model.ActionCommit, "01")},
			cur:      []model.Instant{inst(model.StateCompleted, model.ActionCommit, "02")},
			wantCode: viewerrors.ErrCodeSyncUnsafe,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			changes, err := diffTimelines(timelineOf(tt.old), timelineOf(tt.cur))
			if tt.wantCode != 0 {
				assert.True(t, viewerrors.Is(err, tt.wantCode), "got %v", err)
				return
			}
			require.NoError(t, err)
			var kinds []changeKind
			for _, c := range changes {
				kinds = append(kinds, c.kind)
			}
			assert.Equal(t, tt.want, kinds)
		})
	}
}

func TestReplayIncrementalView(t *testing.T) {
	f := newFixture(t)
	g1 := model.NewFileGroupID("p1", "g1")
	f.commit(model.ActionCommit, "01", baseFile("p1", "g1", "01"), baseFile("p2", "g2", "01"))
	f.commit(model.ActionDeltaCommit, "02", logFile("p1", "g1", "01", 1))
	f.request(model.ActionCompaction, "03", compactionPlan("01", g1))
	f.commit(model.ActionCompaction, "03", baseFile("p1", "g1", "03"))
	f.commit(model.ActionCommit, "04", baseFile("p2", "g2", "04"))
	f.files.remove(baseFile("p2", "g2", "01"))
	f.complete(model.ActionClean, "05", cleanOf(baseFile("p2", "g2", "01")))
	f.request(model.ActionLogCompaction, "06", compactionPlan("03", g1))
	f.request(model.ActionReplaceCommit, "07", clusteringPlan(model.NewFileGroupID("p2", "g2")))

	observer := &recordingObserver{}
	v, err := ReplayIncrementalView(f.ctx, f.table, Options{Observer: observer}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { v.Close() })

	assert.True(t, v.IsLastSyncSuccessful())
	assert.Len(t, observer.passes, 7)
	assert.NotContains(t, observer.passes, ModeFull)
	assert.Equal(t, []string{"04"}, sliceInstants(v.AllFileSlices("p2").Collect()))
	assert.Len(t, v.PendingLogCompactionOperations(), 1)
	assert.Len(t, v.FileGroupsInPendingClustering(), 1)
	f.assertMatchesFullScan(v)

	// later syncs see the whole timeline
	f.commit(model.ActionCommit, "08", baseFile("p2", "g3", "08"))
	f.sync(v)
	assert.Equal(t, []string{"04", "08"}, sliceInstants(v.LatestFileSlices("p2").Collect()))
	f.assertMatchesFullScan(v)
}

func TestReplayIncrementalViewMissesArchivedFiles(t *testing.T) {
	f := newFixture(t)
	// written by an instant that is no longer on the active timeline
	f.files.add(baseFile("p1", "g0", "00"))
	f.commit(model.ActionCommit, "01", baseFile("p1", "g1", "01"))

	v, err := ReplayIncrementalView(f.ctx, f.table, Options{}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { v.Close() })
	assert.Equal(t, []string{"01"}, sliceInstants(v.LatestFileSlices("p1").Collect()))

	g0 := model.NewFileGroupID("p1", "g0")
	assert.NotEmpty(t, CheckConsistency(f.fullRefresh(), v))
	assert.Empty(t, CheckConsistency(f.fullRefresh(), v, g0))
}

func TestReplayIncrementalViewFailure(t *testing.T) {
	f := newFixture(t)
	f.commit(model.ActionDeltaCommit, "01", logFile("p1", "g1", "01", 1))
	f.commit(model.ActionCompaction, "02", baseFile("p1", "g1", "02"))

	_, err := ReplayIncrementalView(f.ctx, f.table, Options{}, nil)
	assert.True(t, viewerrors.Is(err, viewerrors.ErrCodeMalformedMetadata))
}
