package service

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	viewerrors "github.com/devrev/tableview/internal/errors"
	"github.com/devrev/tableview/internal/metrics"
	"github.com/devrev/tableview/internal/model"
	"github.com/devrev/tableview/internal/util/workerpool"
	"github.com/devrev/tableview/internal/view"
)

// stubView scripts Sync and Refresh outcomes. Query methods the service does
// not call are left to the embedded nil interface.
type stubView struct {
	view.SyncableView

	mu         sync.Mutex
	syncErrs   []error
	refreshErr error
	syncs      atomic.Int32
	refreshes  atomic.Int32
	closed     atomic.Bool
	lastOK     atomic.Bool
}

func (v *stubView) Sync(ctx context.Context) error {
	v.syncs.Add(1)
	v.mu.Lock()
	var err error
	if len(v.syncErrs) > 0 {
		err = v.syncErrs[0]
		v.syncErrs = v.syncErrs[1:]
	}
	v.mu.Unlock()
	v.lastOK.Store(err == nil)
	return err
}

func (v *stubView) Refresh(ctx context.Context) error {
	v.refreshes.Add(1)
	return v.refreshErr
}

func (v *stubView) IsLastSyncSuccessful() bool { return v.lastOK.Load() }

func (v *stubView) Close() error {
	v.closed.Store(true)
	return nil
}

func (v *stubView) PendingCompactionOperations() []model.PendingCompactionOperation {
	return []model.PendingCompactionOperation{{InstantTime: "005"}}
}

func (v *stubView) PendingLogCompactionOperations() []model.PendingCompactionOperation {
	return nil
}

func (v *stubView) FileGroupsInPendingClustering() []model.PendingClusteringRegistration {
	return nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func newTestService(t *testing.T) (*ViewService, *metrics.Metrics) {
	t.Helper()
	m := metrics.NewMetrics(prometheus.NewRegistry())
	pool := workerpool.NewWorkerPool(workerpool.Config{Name: "sync", MaxWorkers: 2, QueueSize: 8}, zap.NewNop())
	svc := NewViewService(pool, m, nil, zap.NewNop())
	t.Cleanup(func() { svc.Stop() })
	return svc, m
}

func TestRegisterAndLookup(t *testing.T) {
	svc, m := newTestService(t)
	v := &stubView{}

	require.NoError(t, svc.Register("trips", v, TableOptions{}))
	err := svc.Register("trips", v, TableOptions{})
	assert.True(t, viewerrors.Is(err, viewerrors.ErrCodeInvalidArgument))
	assert.True(t, viewerrors.Is(svc.Register("bad name", v, TableOptions{}), viewerrors.ErrCodeInvalidArgument))

	got, err := svc.View("trips")
	require.NoError(t, err)
	assert.Same(t, v, got)

	_, err = svc.View("missing")
	assert.True(t, viewerrors.Is(err, viewerrors.ErrCodeNotFound))
	assert.Equal(t, []string{"trips"}, svc.Tables())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PendingCompactions.WithLabelValues("trips")))
}

func TestSyncFallsBackToRefresh(t *testing.T) {
	tests := []struct {
		name       string
		fallback   bool
		syncErr    error
		refreshErr error
		wantErr    bool
		wantRefs   int32
	}{
		{"success", true, nil, nil, false, 0},
		{"failure without fallback", false, viewerrors.SyncUnsafe("001", "004"), nil, true, 0},
		{"failure recovered by rebuild", true, viewerrors.SyncUnsafe("001", "004"), nil, false, 1},
		{"rebuild also fails", true, viewerrors.IOFailure("list", errors.New("down")), viewerrors.IOFailure("scan", errors.New("down")), true, 1},
		{"closed view is not rebuilt", true, viewerrors.Closed("view"), nil, true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, m := newTestService(t)
			v := &stubView{syncErrs: []error{tt.syncErr}, refreshErr: tt.refreshErr}
			require.NoError(t, svc.Register("trips", v, TableOptions{FallbackToFullRebuild: tt.fallback}))

			err := svc.Sync(context.Background(), "trips")
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantRefs, v.refreshes.Load())
			assert.Equal(t, float64(tt.wantRefs), testutil.ToFloat64(m.FallbackRebuildsTotal.WithLabelValues("trips")))

			status, err := svc.Status("trips")
			require.NoError(t, err)
			assert.Equal(t, !tt.wantErr, status.LastSyncOK)
			assert.Equal(t, int(tt.wantRefs), status.Fallbacks)
			want := 1.0
			if tt.wantErr {
				want = 0
			}
			assert.Equal(t, want, testutil.ToFloat64(m.LastSyncSuccess.WithLabelValues("trips")))
		})
	}
}

func TestSyncUnknownTable(t *testing.T) {
	svc, _ := newTestService(t)
	err := svc.Sync(context.Background(), "missing")
	assert.True(t, viewerrors.Is(err, viewerrors.ErrCodeNotFound))
}

func TestSyncAllJoinsFailures(t *testing.T) {
	svc, _ := newTestService(t)
	ok := &stubView{}
	failing := &stubView{syncErrs: []error{viewerrors.IOFailure("list", errors.New("down"))}}
	require.NoError(t, svc.Register("ok", ok, TableOptions{}))
	require.NoError(t, svc.Register("failing", failing, TableOptions{}))

	err := svc.SyncAll(context.Background())
	require.Error(t, err)
	assert.True(t, viewerrors.Is(err, viewerrors.ErrCodeIOFailure))
	assert.Equal(t, int32(1), ok.syncs.Load())
	assert.Equal(t, int32(1), failing.syncs.Load())

	require.NoError(t, svc.SyncAll(context.Background()))
}

func TestStartSyncsPeriodically(t *testing.T) {
	svc, _ := newTestService(t)
	v := &stubView{}
	require.NoError(t, svc.Register("trips", v, TableOptions{}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx, 5*time.Millisecond)

	assert.Eventually(t, func() bool { return v.syncs.Load() >= 2 }, time.Second, 5*time.Millisecond)
}

func TestStopClosesViews(t *testing.T) {
	svc, _ := newTestService(t)
	v := &stubView{}
	var released atomic.Bool
	require.NoError(t, svc.Register("trips", v, TableOptions{
		Closers: []io.Closer{closerFunc(func() error {
			released.Store(true)
			return nil
		})},
	}))

	require.NoError(t, svc.Stop())
	assert.True(t, v.closed.Load())
	assert.True(t, released.Load())
	assert.Empty(t, svc.Tables())
	assert.NoError(t, svc.Stop())
}
