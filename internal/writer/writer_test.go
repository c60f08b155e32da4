package writer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/devrev/tableview/internal/model"
	"github.com/devrev/tableview/internal/storage/diskmanager"
	"github.com/devrev/tableview/internal/storage/naming"
)

func writeAll(t *testing.T, h Handle, records ...string) WriteResult {
	t.Helper()
	for _, r := range records {
		require.NoError(t, h.Write([]byte(r)))
	}
	res, err := h.Close()
	require.NoError(t, err)
	return res
}

func TestHandleVariants(t *testing.T) {
	base := t.TempDir()
	w := New(Config{BasePath: base}, nil, zap.NewNop())

	create, err := w.NewCreateHandle("001", "p1", "fg-1")
	require.NoError(t, err)
	assert.Equal(t, IOKindCreate, create.IOKind())
	created := writeAll(t, create, "a", "b")
	assert.Equal(t, "p1", created.PartitionPath)
	assert.Equal(t, naming.FileKindBase, created.Kind)
	assert.Equal(t, "p1/fg-1_1-0-1_001.parquet", created.Stat.Path)
	assert.Equal(t, int64(2), created.Stat.NumWrites)
	assert.Equal(t, int64(4), created.Stat.FileSizeInBytes)

	first, err := w.NewAppendHandle("002", "p1", "fg-1", "001")
	require.NoError(t, err)
	appended := writeAll(t, first, "c")
	assert.Equal(t, "p1/.fg-1_001.log.1_1-0-1", appended.Stat.Path)
	assert.Equal(t, "001", appended.Stat.PrevCommit)

	second, err := w.NewAppendHandle("003", "p1", "fg-1", "001")
	require.NoError(t, err)
	assert.Equal(t, IOKindAppend, second.IOKind())
	assert.Equal(t, "p1/.fg-1_001.log.2_1-0-1", writeAll(t, second).Stat.Path)

	merge, err := w.NewMergeHandle("004", model.BaseFile{FileID: "fg-1", CommitTime: "001", Path: created.Stat.Path}, "p1")
	require.NoError(t, err)
	merged := writeAll(t, merge, "d")
	assert.Equal(t, "p1/fg-1_1-0-1_004.parquet", merged.Stat.Path)
	assert.Equal(t, "001", merged.Stat.PrevCommit)

	content, err := os.ReadFile(filepath.Join(base, "p1", "fg-1_1-0-1_004.parquet"))
	require.NoError(t, err)
	assert.Equal(t, "a\nb\nd\n", string(content))

	_, err = merge.Close()
	assert.Error(t, err)
	assert.Error(t, merge.Write([]byte("late")))
}

func TestMarkers(t *testing.T) {
	base := t.TempDir()
	w := New(Config{BasePath: base, WriteToken: naming.MakeWriteToken(2, 0, 7)}, nil, zap.NewNop())

	h1, err := w.NewCreateHandle("005", "2024/01/01", "fg-a")
	require.NoError(t, err)
	writeAll(t, h1, "x")
	h2, err := w.NewAppendHandle("005", "2024/01/02", "fg-b", "003")
	require.NoError(t, err)
	writeAll(t, h2, "y")

	markers, err := ListMarkers(base, "005")
	require.NoError(t, err)
	assert.Equal(t, []Marker{
		{PartitionPath: "2024/01/01", FileName: "fg-a_2-0-7_005.parquet", IOKind: IOKindCreate},
		{PartitionPath: "2024/01/02", FileName: ".fg-b_003.log.1_2-0-7", IOKind: IOKindAppend},
	}, markers)

	none, err := ListMarkers(base, "999")
	require.NoError(t, err)
	assert.Nil(t, none)

	require.NoError(t, DeleteMarkers(base, "005"))
	markers, err = ListMarkers(base, "005")
	require.NoError(t, err)
	assert.Empty(t, markers)
}

func TestRemoveFiles(t *testing.T) {
	base := t.TempDir()
	w := New(Config{BasePath: base}, nil, zap.NewNop())

	h, err := w.NewCreateHandle("001", "p1", "fg-1")
	require.NoError(t, err)
	res := writeAll(t, h, "a")

	deleted, err := w.RemoveFiles([]string{res.Stat.Path, "p2/gone_1-0-1_001.parquet"})
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{
		"p1": {res.Stat.Path},
		"p2": {"p2/gone_1-0-1_001.parquet"},
	}, deleted)

	_, err = os.Stat(filepath.Join(base, res.Stat.Path))
	assert.True(t, os.IsNotExist(err))
}

func TestWriterRejectsWhenDiskFull(t *testing.T) {
	base := t.TempDir()
	cfg := diskmanager.DefaultConfig(base)
	cfg.Stat = func(string) (diskmanager.Usage, error) {
		return diskmanager.Usage{TotalBytes: 100, AvailableBytes: 1}, nil
	}
	disk, err := diskmanager.NewDiskManager(cfg, zap.NewNop())
	require.NoError(t, err)

	w := New(Config{BasePath: base}, disk, zap.NewNop())
	_, err = w.NewCreateHandle("001", "p1", "")
	assert.True(t, diskmanager.IsDiskSpaceError(err))
}

func TestParseIOKind(t *testing.T) {
	for _, k := range []IOKind{IOKindCreate, IOKindAppend, IOKindMerge} {
		got, err := ParseIOKind(string(k))
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
	_, err := ParseIOKind("DELETE")
	assert.Error(t, err)
}
