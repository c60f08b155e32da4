// Package lister enumerates the data files of a table on storage.
package lister

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/devrev/tableview/internal/storage/naming"
)

// FileStatus describes one data file
type FileStatus struct {
	// Path is relative to the table base path
	Path string
	Size int64
}

// FileLister lists partitions and their data files
type FileLister interface {
	// ListPartitions returns every partition path holding at least one data
	// file, sorted. A non-partitioned table reports the empty partition.
	ListPartitions(ctx context.Context) ([]string, error)
	// ListFiles returns the data files of one partition, sorted by path
	ListFiles(ctx context.Context, partition string) ([]FileStatus, error)
}

// LocalLister lists a table stored on the local filesystem
type LocalLister struct {
	basePath string
}

// NewLocalLister creates a lister rooted at basePath
func NewLocalLister(basePath string) *LocalLister {
	return &LocalLister{basePath: filepath.Clean(basePath)}
}

func (l *LocalLister) ListPartitions(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	err := filepath.WalkDir(l.basePath, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			// metadata and hidden folders never hold partitions
			if p != l.basePath && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !naming.IsDataFileName(d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(l.basePath, filepath.Dir(p))
		if err != nil {
			return err
		}
		if rel == "." {
			rel = ""
		}
		seen[filepath.ToSlash(rel)] = struct{}{}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list partitions of %s: %w", l.basePath, err)
	}

	partitions := make([]string, 0, len(seen))
	for p := range seen {
		partitions = append(partitions, p)
	}
	sort.Strings(partitions)
	return partitions, nil
}

func (l *LocalLister) ListFiles(ctx context.Context, partition string) ([]FileStatus, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dir := filepath.Join(l.basePath, filepath.FromSlash(partition))
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list partition %q: %w", partition, err)
	}

	files := make([]FileStatus, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !naming.IsDataFileName(e.Name()) {
			continue
		}
		info, err := e.Info()
		if os.IsNotExist(err) {
			// removed by a concurrent clean
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", e.Name(), err)
		}
		files = append(files, FileStatus{
			Path: naming.JoinPath(partition, e.Name()),
			Size: info.Size(),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}
