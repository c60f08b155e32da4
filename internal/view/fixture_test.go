package view

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/devrev/tableview/internal/cache"
	"github.com/devrev/tableview/internal/model"
	"github.com/devrev/tableview/internal/storage/lister"
	"github.com/devrev/tableview/internal/storage/naming"
	"github.com/devrev/tableview/internal/timeline"
)

// memLister serves a file listing from memory
type memLister struct {
	mu    sync.Mutex
	files map[string]struct{}
	err   error
}

func newMemLister() *memLister {
	return &memLister{files: make(map[string]struct{})}
}

func (l *memLister) add(paths ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range paths {
		l.files[p] = struct{}{}
	}
}

func (l *memLister) remove(paths ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range paths {
		delete(l.files, p)
	}
}

func (l *memLister) ListPartitions(ctx context.Context) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	seen := make(map[string]struct{})
	for p := range l.files {
		partition, _ := naming.SplitPath(p)
		seen[partition] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

func (l *memLister) ListFiles(ctx context.Context, partition string) ([]lister.FileStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	var out []lister.FileStatus
	for p := range l.files {
		if dir, _ := naming.SplitPath(p); dir == partition {
			out = append(out, lister.FileStatus{Path: p})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// gatedReader parks the next ListInstants call once armed, until release closes
type gatedReader struct {
	timeline.Reader
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func newGatedReader(r timeline.Reader) *gatedReader {
	return &gatedReader{Reader: r, entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedReader) ListInstants(ctx context.Context) ([]model.Instant, error) {
	if g.armed.CompareAndSwap(true, false) {
		close(g.entered)
		<-g.release
	}
	return g.Reader.ListInstants(ctx)
}

// recordingObserver counts observer callbacks
type recordingObserver struct {
	mu       sync.Mutex
	applied  []model.Action
	failures int
	passes   []string
}

func (o *recordingObserver) InstantApplied(table string, action model.Action, duration time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.applied = append(o.applied, action)
	if err != nil {
		o.failures++
	}
}

func (o *recordingObserver) SyncCompleted(table string, mode string, instants int, duration time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.passes = append(o.passes, mode)
}

type fixture struct {
	t     *testing.T
	ctx   context.Context
	at    *timeline.ActiveTimeline
	files *memLister
	table TableContext
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	codec, err := timeline.NewCodec(timeline.CompressionNone)
	require.NoError(t, err)
	details := cache.New(&cache.Config{
		MaxSize:         1 << 20,
		FrequencyWeight: 0.5,
		RecencyWeight:   0.5,
		AdaptiveWindow:  time.Minute,
	}, zap.NewNop())
	at := timeline.NewActiveTimeline(timeline.NewMemoryStore(), codec, details, zap.NewNop())
	files := newMemLister()
	return &fixture{
		t:     t,
		ctx:   context.Background(),
		at:    at,
		files: files,
		table: TableContext{Name: "trips", BasePath: "/tables/trips", Timeline: at, Lister: files},
	}
}

func (f *fixture) incremental(opts ...Options) *IncrementalView {
	f.t.Helper()
	var o Options
	if len(opts) > 0 {
		o = opts[0]
	}
	v, err := NewIncrementalView(f.ctx, f.table, o, zap.NewNop())
	require.NoError(f.t, err)
	f.t.Cleanup(func() { v.Close() })
	return v
}

func (f *fixture) fullRefresh() *FullRefreshView {
	f.t.Helper()
	v, err := NewFullRefreshView(f.ctx, f.table, Options{}, zap.NewNop())
	require.NoError(f.t, err)
	f.t.Cleanup(func() { v.Close() })
	return v
}

func baseFile(partition, fileID, ts string) string {
	return naming.JoinPath(partition, naming.MakeBaseFileName(ts, naming.DefaultWriteToken, fileID, naming.ExtParquet))
}

func logFile(partition, fileID, baseTs string, version int) string {
	return naming.JoinPath(partition, naming.MakeLogFileName(fileID, baseTs, version, naming.DefaultWriteToken))
}

// commitMetadata builds write stats for table-relative paths
func commitMetadata(paths ...string) *model.CommitMetadata {
	md := &model.CommitMetadata{}
	for _, p := range paths {
		partition, name := naming.SplitPath(p)
		fn, err := naming.ParseFileName(name)
		if err != nil {
			panic(err)
		}
		md.AddWriteStat(partition, model.WriteStat{FileID: fn.FileID, Path: p})
	}
	return md
}

// commit writes files to storage and completes the instant that wrote them
func (f *fixture) commit(action model.Action, ts string, paths ...string) {
	f.t.Helper()
	f.files.add(paths...)
	_, err := f.at.SaveAsComplete(f.ctx, action, ts, commitMetadata(paths...))
	require.NoError(f.t, err)
}

func (f *fixture) complete(action model.Action, ts string, md model.Metadata) {
	f.t.Helper()
	_, err := f.at.SaveAsComplete(f.ctx, action, ts, md)
	require.NoError(f.t, err)
}

func (f *fixture) request(action model.Action, ts string, md model.Metadata) {
	f.t.Helper()
	_, err := f.at.CreateRequested(f.ctx, action, ts, md)
	require.NoError(f.t, err)
}

func (f *fixture) remove(action model.Action, ts string) {
	f.t.Helper()
	require.NoError(f.t, f.at.DeleteInstant(f.ctx, model.InstantKey{Timestamp: ts, Action: action}))
}

func (f *fixture) sync(v SyncableView) {
	f.t.Helper()
	require.NoError(f.t, v.Sync(f.ctx))
	assert.True(f.t, v.IsLastSyncSuccessful())
}

// assertMatchesFullScan checks v against a view rebuilt from storage
func (f *fixture) assertMatchesFullScan(v SyncableView) {
	f.t.Helper()
	reference := f.fullRefresh()
	assert.Empty(f.t, CheckConsistency(reference, v))
}

func compactionPlan(baseTs string, ids ...model.FileGroupID) *model.CompactionPlan {
	plan := &model.CompactionPlan{}
	for _, id := range ids {
		plan.Operations = append(plan.Operations, model.CompactionOperation{
			PartitionPath:   id.PartitionPath,
			FileID:          id.FileID,
			BaseInstantTime: baseTs,
		})
	}
	return plan
}

func clusteringPlan(ids ...model.FileGroupID) *model.RequestedReplaceMetadata {
	group := model.ClusteringGroup{NumOutputFileGroups: 1}
	for _, id := range ids {
		group.Slices = append(group.Slices, model.ClusteringSliceInfo{PartitionPath: id.PartitionPath, FileID: id.FileID})
	}
	return &model.RequestedReplaceMetadata{
		OperationType:  "cluster",
		ClusteringPlan: &model.ClusteringPlan{InputGroups: []model.ClusteringGroup{group}},
	}
}

func rollbackOf(action model.Action, ts string, deleted ...string) *model.RollbackMetadata {
	md := &model.RollbackMetadata{
		InstantsRollback:  []model.InstantInfo{{Timestamp: ts, Action: action}},
		PartitionMetadata: make(map[string]model.RollbackPartitionMetadata),
	}
	for _, p := range deleted {
		partition, _ := naming.SplitPath(p)
		pm := md.PartitionMetadata[partition]
		pm.PartitionPath = partition
		pm.SuccessDeleteFiles = append(pm.SuccessDeleteFiles, p)
		md.PartitionMetadata[partition] = pm
	}
	return md
}

func cleanOf(deleted ...string) *model.CleanMetadata {
	md := &model.CleanMetadata{PartitionMetadata: make(map[string]model.CleanPartitionMetadata)}
	for _, p := range deleted {
		partition, _ := naming.SplitPath(p)
		pm := md.PartitionMetadata[partition]
		pm.PartitionPath = partition
		pm.SuccessDeleteFiles = append(pm.SuccessDeleteFiles, p)
		md.PartitionMetadata[partition] = pm
	}
	md.TotalFilesDeleted = len(deleted)
	return md
}

func sliceInstants(slices []model.FileSlice) []string {
	out := make([]string, len(slices))
	for i, s := range slices {
		out[i] = s.BaseInstantTime
	}
	return out
}

func groupFileIDs(groups []model.FileGroup) []string {
	out := make([]string, len(groups))
	for i, g := range groups {
		out[i] = g.ID.FileID
	}
	return out
}

func timelineOf(instants []model.Instant) *timeline.Timeline {
	return timeline.New(instants)
}
