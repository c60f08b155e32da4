// Package writer produces data files for a table. Every handle variant writes
// exactly one file, drops a marker for it, and reports a write stat on Close.
package writer

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/devrev/tableview/internal/model"
	"github.com/devrev/tableview/internal/storage/diskmanager"
	"github.com/devrev/tableview/internal/storage/naming"
)

// IOKind names the handle variant that produced a file
type IOKind string

const (
	IOKindCreate IOKind = "CREATE"
	IOKindAppend IOKind = "APPEND"
	IOKindMerge  IOKind = "MERGE"
)

// ParseIOKind converts a marker suffix into an IOKind
func ParseIOKind(s string) (IOKind, error) {
	switch IOKind(s) {
	case IOKindCreate, IOKindAppend, IOKindMerge:
		return IOKind(s), nil
	}
	return "", fmt.Errorf("unknown io kind %q", s)
}

// WriteResult is the committed outcome of one handle
type WriteResult struct {
	PartitionPath string
	Kind          naming.FileKind
	Stat          model.WriteStat
}

// Handle is the contract shared by every write-handle variant
type Handle interface {
	IOKind() IOKind
	// Path returns the table-relative path of the file being written
	Path() string
	Write(record []byte) error
	Close() (WriteResult, error)
}

// fileHandle carries the state common to all variants
type fileHandle struct {
	kind      IOKind
	fileKind  naming.FileKind
	partition string
	fileID    string
	relPath   string
	prev      string
	file      *os.File
	disk      *diskmanager.DiskManager
	logger    *zap.Logger

	records int64
	bytes   int64
	closed  bool
}

func (h *fileHandle) IOKind() IOKind { return h.kind }

func (h *fileHandle) Path() string { return h.relPath }

// Write appends one newline-terminated record
func (h *fileHandle) Write(record []byte) error {
	if h.closed {
		return fmt.Errorf("handle for %s is closed", h.relPath)
	}
	if h.disk != nil {
		if err := h.disk.CheckBeforeWrite(uint64(len(record) + 1)); err != nil {
			return err
		}
	}
	line := make([]byte, 0, len(record)+1)
	line = append(append(line, record...), '\n')
	n, err := h.file.Write(line)
	h.bytes += int64(n)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", h.relPath, err)
	}
	h.records++
	return nil
}

// copyFrom seeds the file with the content of an existing file
func (h *fileHandle) copyFrom(src string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open previous file: %w", err)
	}
	defer in.Close()

	n, err := io.Copy(h.file, in)
	h.bytes += n
	if err != nil {
		return fmt.Errorf("failed to copy previous file: %w", err)
	}
	return nil
}

func (h *fileHandle) Close() (WriteResult, error) {
	if h.closed {
		return WriteResult{}, fmt.Errorf("handle for %s is already closed", h.relPath)
	}
	h.closed = true

	if err := h.file.Sync(); err != nil {
		h.file.Close()
		return WriteResult{}, fmt.Errorf("failed to sync %s: %w", h.relPath, err)
	}
	if err := h.file.Close(); err != nil {
		return WriteResult{}, fmt.Errorf("failed to close %s: %w", h.relPath, err)
	}

	h.logger.Debug("Closed write handle",
		zap.String("path", h.relPath),
		zap.String("io_kind", string(h.kind)),
		zap.Int64("records", h.records),
		zap.Int64("bytes", h.bytes))

	return WriteResult{
		PartitionPath: h.partition,
		Kind:          h.fileKind,
		Stat: model.WriteStat{
			FileID:          h.fileID,
			Path:            h.relPath,
			PrevCommit:      h.prev,
			NumWrites:       h.records,
			TotalWriteBytes: h.bytes,
			FileSizeInBytes: h.bytes,
		},
	}, nil
}

// CreateHandle writes the first base file of a new file group
type CreateHandle struct{ *fileHandle }

// AppendHandle writes the next log file of an existing slice
type AppendHandle struct{ *fileHandle }

// MergeHandle rewrites a base file into a new slice of the same file group
type MergeHandle struct{ *fileHandle }

var (
	_ Handle = (*CreateHandle)(nil)
	_ Handle = (*AppendHandle)(nil)
	_ Handle = (*MergeHandle)(nil)
)

func openFile(basePath, relPath string) (*os.File, error) {
	p := filepath.Join(basePath, filepath.FromSlash(relPath))
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return nil, fmt.Errorf("failed to create partition folder: %w", err)
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", relPath, err)
	}
	return f, nil
}
