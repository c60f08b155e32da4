package writer

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"github.com/devrev/tableview/internal/model"
	"github.com/devrev/tableview/internal/storage/diskmanager"
	"github.com/devrev/tableview/internal/storage/naming"
)

// Config holds writer configuration
type Config struct {
	BasePath          string
	WriteToken        string
	BaseFileExtension string
}

// Writer opens write handles against one table
type Writer struct {
	basePath string
	token    string
	ext      string
	disk     *diskmanager.DiskManager
	logger   *zap.Logger
}

// New creates a writer. disk may be nil to skip free-space checks.
func New(cfg Config, disk *diskmanager.DiskManager, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	token := cfg.WriteToken
	if token == "" {
		token = naming.DefaultWriteToken
	}
	ext := cfg.BaseFileExtension
	if ext == "" {
		ext = naming.ExtParquet
	}
	return &Writer{
		basePath: cfg.BasePath,
		token:    token,
		ext:      ext,
		disk:     disk,
		logger:   logger,
	}
}

// BasePath returns the table base path
func (w *Writer) BasePath() string {
	return w.basePath
}

func (w *Writer) open(kind IOKind, fileKind naming.FileKind, instantTime, partition, fileID, name, prev string) (*fileHandle, error) {
	relPath := naming.JoinPath(partition, name)
	if w.disk != nil {
		if err := w.disk.CheckBeforeWrite(0); err != nil {
			return nil, err
		}
	}
	if err := createMarker(w.basePath, instantTime, relPath, kind); err != nil {
		return nil, err
	}
	f, err := openFile(w.basePath, relPath)
	if err != nil {
		return nil, err
	}
	return &fileHandle{
		kind:      kind,
		fileKind:  fileKind,
		partition: partition,
		fileID:    fileID,
		relPath:   relPath,
		prev:      prev,
		file:      f,
		disk:      w.disk,
		logger:    w.logger,
	}, nil
}

// NewCreateHandle opens the base file of a new file group written at
// instantTime. An empty fileID allocates a fresh one.
func (w *Writer) NewCreateHandle(instantTime, partition, fileID string) (*CreateHandle, error) {
	if fileID == "" {
		fileID = naming.NewFileID()
	}
	name := naming.MakeBaseFileName(instantTime, w.token, fileID, w.ext)
	h, err := w.open(IOKindCreate, naming.FileKindBase, instantTime, partition, fileID, name, "")
	if err != nil {
		return nil, err
	}
	return &CreateHandle{h}, nil
}

// NewAppendHandle opens the next log file version of the slice of fileID at
// baseInstantTime, on behalf of the write at instantTime
func (w *Writer) NewAppendHandle(instantTime, partition, fileID, baseInstantTime string) (*AppendHandle, error) {
	version, err := w.nextLogVersion(partition, fileID, baseInstantTime)
	if err != nil {
		return nil, err
	}
	name := naming.MakeLogFileName(fileID, baseInstantTime, version, w.token)
	h, err := w.open(IOKindAppend, naming.FileKindLog, instantTime, partition, fileID, name, baseInstantTime)
	if err != nil {
		return nil, err
	}
	return &AppendHandle{h}, nil
}

// NewMergeHandle opens a new base file for fileID at instantTime seeded with
// the content of the previous base file
func (w *Writer) NewMergeHandle(instantTime string, previous model.BaseFile, partition string) (*MergeHandle, error) {
	name := naming.MakeBaseFileName(instantTime, w.token, previous.FileID, w.ext)
	h, err := w.open(IOKindMerge, naming.FileKindBase, instantTime, partition, previous.FileID, name, previous.CommitTime)
	if err != nil {
		return nil, err
	}
	if err := h.copyFrom(filepath.Join(w.basePath, filepath.FromSlash(previous.Path))); err != nil {
		h.file.Close()
		return nil, err
	}
	return &MergeHandle{h}, nil
}

// nextLogVersion returns one past the highest existing log version of a slice
func (w *Writer) nextLogVersion(partition, fileID, baseInstantTime string) (int, error) {
	entries, err := os.ReadDir(filepath.Join(w.basePath, filepath.FromSlash(partition)))
	if os.IsNotExist(err) {
		return 1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to list partition %q: %w", partition, err)
	}

	version := 0
	for _, e := range entries {
		fn, err := naming.ParseFileName(e.Name())
		if err != nil || fn.Kind != naming.FileKindLog {
			continue
		}
		if fn.FileID == fileID && fn.InstantTime == baseInstantTime && fn.Version > version {
			version = fn.Version
		}
	}
	return version + 1, nil
}

// RemoveFiles deletes table-relative paths and reports them per partition.
// Files already gone count as deleted.
func (w *Writer) RemoveFiles(relPaths []string) (map[string][]string, error) {
	deleted := make(map[string][]string)
	for _, rel := range relPaths {
		err := os.Remove(filepath.Join(w.basePath, filepath.FromSlash(rel)))
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to delete %s: %w", rel, err)
		}
		partition, _ := naming.SplitPath(rel)
		deleted[partition] = append(deleted[partition], rel)
	}
	for _, paths := range deleted {
		sort.Strings(paths)
	}
	return deleted, nil
}
