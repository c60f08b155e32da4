package model

import (
	"fmt"
	"sort"
	"strings"
)

// FileGroupID uniquely identifies a file group within a table
type FileGroupID struct {
	PartitionPath string `json:"partition_path"`
	FileID        string `json:"file_id"`
}

// NewFileGroupID creates a file group id
func NewFileGroupID(partitionPath, fileID string) FileGroupID {
	return FileGroupID{PartitionPath: partitionPath, FileID: fileID}
}

func (id FileGroupID) String() string {
	return fmt.Sprintf("%s/%s", id.PartitionPath, id.FileID)
}

// ParseFileGroupID parses the partition/file-id form produced by String.
// A value without a slash names a group of the root partition.
func ParseFileGroupID(s string) (FileGroupID, error) {
	i := strings.LastIndex(s, "/")
	fileID := s[i+1:]
	if fileID == "" {
		return FileGroupID{}, fmt.Errorf("file group %q has no file id", s)
	}
	if i < 0 {
		return NewFileGroupID("", fileID), nil
	}
	return NewFileGroupID(s[:i], fileID), nil
}

// CompareFileGroupIDs orders ids by partition, then file id
func CompareFileGroupIDs(a, b FileGroupID) int {
	if c := strings.Compare(a.PartitionPath, b.PartitionPath); c != 0 {
		return c
	}
	return strings.Compare(a.FileID, b.FileID)
}

// BaseFile is an immutable columnar data file
type BaseFile struct {
	FileID     string `json:"file_id"`
	CommitTime string `json:"commit_time"`
	WriteToken string `json:"write_token"`
	FileName   string `json:"file_name"`
	// Path is relative to the table base path
	Path string `json:"path"`
}

// LogFile is an incremental delta file appended to a slice
type LogFile struct {
	FileID          string `json:"file_id"`
	BaseInstantTime string `json:"base_instant_time"`
	Version         int    `json:"version"`
	WriteToken      string `json:"write_token"`
	FileName        string `json:"file_name"`
	Path            string `json:"path"`
}

// CompareLogFiles orders log files of one slice by version, then write token
func CompareLogFiles(a, b LogFile) int {
	if a.Version != b.Version {
		if a.Version < b.Version {
			return -1
		}
		return 1
	}
	if c := strings.Compare(a.WriteToken, b.WriteToken); c != 0 {
		return c
	}
	return strings.Compare(a.Path, b.Path)
}

// SortLogFiles sorts log files ascending; later entries mask earlier ones on merge
func SortLogFiles(logs []LogFile) {
	sort.Slice(logs, func(i, j int) bool {
		return CompareLogFiles(logs[i], logs[j]) < 0
	})
}

// FileSlice is the state of one file group as of BaseInstantTime
type FileSlice struct {
	GroupID         FileGroupID `json:"group_id"`
	BaseInstantTime string      `json:"base_instant_time"`
	BaseFile        *BaseFile   `json:"base_file,omitempty"`
	LogFiles        []LogFile   `json:"log_files,omitempty"`
}

// HasBaseFile reports whether the slice carries a base file
func (s FileSlice) HasBaseFile() bool {
	return s.BaseFile != nil
}

// IsEmpty reports whether the slice has neither base nor log files
func (s FileSlice) IsEmpty() bool {
	return s.BaseFile == nil && len(s.LogFiles) == 0
}

// LogPaths returns the ordered log file paths
func (s FileSlice) LogPaths() []string {
	paths := make([]string, len(s.LogFiles))
	for i, l := range s.LogFiles {
		paths[i] = l.Path
	}
	return paths
}

// Clone returns a deep copy
func (s FileSlice) Clone() FileSlice {
	out := s
	if s.BaseFile != nil {
		bf := *s.BaseFile
		out.BaseFile = &bf
	}
	if s.LogFiles != nil {
		out.LogFiles = append([]LogFile(nil), s.LogFiles...)
	}
	return out
}

// FileGroup holds every slice of one file group, newest first
type FileGroup struct {
	ID     FileGroupID `json:"id"`
	Slices []FileSlice `json:"slices"`
}

// LatestSlice returns the slice with the greatest base instant
func (g FileGroup) LatestSlice() (FileSlice, bool) {
	if len(g.Slices) == 0 {
		return FileSlice{}, false
	}
	return g.Slices[0], true
}

// Clone returns a deep copy
func (g FileGroup) Clone() FileGroup {
	out := FileGroup{ID: g.ID, Slices: make([]FileSlice, len(g.Slices))}
	for i, s := range g.Slices {
		out.Slices[i] = s.Clone()
	}
	return out
}

// PendingCompactionOperation registers that a file group's next slice is being
// produced by a scheduled compaction or log compaction
type PendingCompactionOperation struct {
	InstantTime     string      `json:"instant_time"`
	GroupID         FileGroupID `json:"group_id"`
	BaseInstantTime string      `json:"base_instant_time"`
	BaseFilePath    string      `json:"base_file_path,omitempty"`
	DeltaFilePaths  []string    `json:"delta_file_paths,omitempty"`
}

// PendingClusteringRegistration marks a file group as input of a pending replace
type PendingClusteringRegistration struct {
	GroupID     FileGroupID `json:"group_id"`
	InstantTime string      `json:"instant_time"`
}

// ReplacedFileGroup records the replace commit that replaced a file group
type ReplacedFileGroup struct {
	GroupID     FileGroupID `json:"group_id"`
	InstantTime string      `json:"instant_time"`
}
