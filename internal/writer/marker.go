package writer

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/devrev/tableview/internal/storage/naming"
	"github.com/devrev/tableview/internal/timeline"
)

const (
	tempFolderName = ".temp"
	markerInfix    = ".marker."
)

// Marker records that a write handle was opened for a data file
type Marker struct {
	PartitionPath string
	FileName      string
	IOKind        IOKind
}

// Path returns the table-relative path of the data file the marker names
func (m Marker) Path() string {
	return naming.JoinPath(m.PartitionPath, m.FileName)
}

// MarkerDir returns the marker folder of one instant
func MarkerDir(basePath, instantTime string) string {
	return filepath.Join(basePath, timeline.MetaFolderName, tempFolderName, instantTime)
}

func markerPath(basePath, instantTime, relPath string, kind IOKind) string {
	return filepath.Join(MarkerDir(basePath, instantTime), filepath.FromSlash(relPath)+markerInfix+string(kind))
}

func createMarker(basePath, instantTime, relPath string, kind IOKind) error {
	p := markerPath(basePath, instantTime, relPath, kind)
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return fmt.Errorf("failed to create marker folder: %w", err)
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to create marker for %s: %w", relPath, err)
	}
	return f.Close()
}

// ListMarkers returns the markers of one instant sorted by path. An instant
// without markers yields nil.
func ListMarkers(basePath, instantTime string) ([]Marker, error) {
	root := MarkerDir(basePath, instantTime)
	var markers []Marker
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		idx := strings.LastIndex(d.Name(), markerInfix)
		if idx < 0 {
			return nil
		}
		kind, err := ParseIOKind(d.Name()[idx+len(markerInfix):])
		if err != nil {
			return fmt.Errorf("marker %s: %w", p, err)
		}
		rel, err := filepath.Rel(root, filepath.Dir(p))
		if err != nil {
			return err
		}
		if rel == "." {
			rel = ""
		}
		markers = append(markers, Marker{
			PartitionPath: filepath.ToSlash(rel),
			FileName:      d.Name()[:idx],
			IOKind:        kind,
		})
		return nil
	})
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list markers of %s: %w", instantTime, err)
	}
	sort.Slice(markers, func(i, j int) bool { return markers[i].Path() < markers[j].Path() })
	return markers, nil
}

// DeleteMarkers removes the marker folder of one instant
func DeleteMarkers(basePath, instantTime string) error {
	if err := os.RemoveAll(MarkerDir(basePath, instantTime)); err != nil {
		return fmt.Errorf("failed to delete markers of %s: %w", instantTime, err)
	}
	return nil
}
