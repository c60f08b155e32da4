package model

import (
	"fmt"
	"sort"
)

// MetadataKind tags the decoded payload of an instant
type MetadataKind string

const (
	KindCommit           MetadataKind = "commit"
	KindCompactionPlan   MetadataKind = "compaction_plan"
	KindRequestedReplace MetadataKind = "requested_replace"
	KindReplaceCommit    MetadataKind = "replace_commit"
	KindClean            MetadataKind = "clean"
	KindRollback         MetadataKind = "rollback"
	KindRestore          MetadataKind = "restore"
)

// Metadata is the decoded payload attached to an instant. The concrete type is
// determined by the instant's action and state.
type Metadata interface {
	Kind() MetadataKind
	Validate() error
}

// NewMetadataFor returns an empty payload of the type carried by an instant in
// the given action and state
func NewMetadataFor(action Action, state State) (Metadata, error) {
	switch action {
	case ActionCommit, ActionDeltaCommit:
		return &CommitMetadata{}, nil
	case ActionCompaction, ActionLogCompaction:
		if state == StateCompleted {
			return &CommitMetadata{}, nil
		}
		return &CompactionPlan{}, nil
	case ActionReplaceCommit:
		if state == StateCompleted {
			return &ReplaceCommitMetadata{}, nil
		}
		return &RequestedReplaceMetadata{}, nil
	case ActionClean:
		return &CleanMetadata{}, nil
	case ActionRollback:
		return &RollbackMetadata{}, nil
	case ActionRestore:
		return &RestoreMetadata{}, nil
	}
	return nil, fmt.Errorf("no metadata type for action %q", action)
}

// InstantInfo names an instant without its state
type InstantInfo struct {
	Timestamp string `json:"timestamp"`
	Action    Action `json:"action"`
}

// WriteStat describes one file written by a commit
type WriteStat struct {
	FileID          string `json:"file_id"`
	Path            string `json:"path"`
	PrevCommit      string `json:"prev_commit,omitempty"`
	NumWrites       int64  `json:"num_writes,omitempty"`
	NumDeletes      int64  `json:"num_deletes,omitempty"`
	TotalWriteBytes int64  `json:"total_write_bytes,omitempty"`
	FileSizeInBytes int64  `json:"file_size_in_bytes,omitempty"`
}

// CommitMetadata is the payload of completed commits, delta commits and compactions
type CommitMetadata struct {
	OperationType         string                 `json:"operation_type,omitempty"`
	PartitionToWriteStats map[string][]WriteStat `json:"partition_to_write_stats,omitempty"`
	ExtraMetadata         map[string]string      `json:"extra_metadata,omitempty"`
}

func (m *CommitMetadata) Kind() MetadataKind { return KindCommit }

// AddWriteStat records a written file under its partition
func (m *CommitMetadata) AddWriteStat(partition string, stat WriteStat) {
	if m.PartitionToWriteStats == nil {
		m.PartitionToWriteStats = make(map[string][]WriteStat)
	}
	m.PartitionToWriteStats[partition] = append(m.PartitionToWriteStats[partition], stat)
}

// Partitions returns the written partitions in sorted order
func (m *CommitMetadata) Partitions() []string {
	return sortedKeys(m.PartitionToWriteStats)
}

func (m *CommitMetadata) Validate() error {
	for partition, stats := range m.PartitionToWriteStats {
		for i, s := range stats {
			if s.FileID == "" || s.Path == "" {
				return fmt.Errorf("write stat %d of partition %q is missing file id or path", i, partition)
			}
		}
	}
	return nil
}

// CompactionOperation is one input slice of a compaction plan
type CompactionOperation struct {
	PartitionPath   string   `json:"partition_path"`
	FileID          string   `json:"file_id"`
	BaseInstantTime string   `json:"base_instant_time"`
	DataFilePath    string   `json:"data_file_path,omitempty"`
	DeltaFilePaths  []string `json:"delta_file_paths,omitempty"`
}

// GroupID returns the file group the operation compacts
func (op CompactionOperation) GroupID() FileGroupID {
	return NewFileGroupID(op.PartitionPath, op.FileID)
}

// CompactionPlan is the payload of requested/inflight compactions and log compactions
type CompactionPlan struct {
	Operations []CompactionOperation `json:"operations,omitempty"`
	Version    int                   `json:"version,omitempty"`
}

func (p *CompactionPlan) Kind() MetadataKind { return KindCompactionPlan }

func (p *CompactionPlan) Validate() error {
	seen := make(map[FileGroupID]struct{}, len(p.Operations))
	for i, op := range p.Operations {
		if op.PartitionPath == "" || op.FileID == "" || op.BaseInstantTime == "" {
			return fmt.Errorf("compaction operation %d is missing partition, file id or base instant", i)
		}
		if _, dup := seen[op.GroupID()]; dup {
			return fmt.Errorf("file group %s appears twice in one compaction plan", op.GroupID())
		}
		seen[op.GroupID()] = struct{}{}
	}
	return nil
}

// ClusteringSliceInfo names one input slice of a clustering group
type ClusteringSliceInfo struct {
	PartitionPath  string   `json:"partition_path"`
	FileID         string   `json:"file_id"`
	DataFilePath   string   `json:"data_file_path,omitempty"`
	DeltaFilePaths []string `json:"delta_file_paths,omitempty"`
}

// ClusteringGroup is a set of slices rewritten together
type ClusteringGroup struct {
	Slices              []ClusteringSliceInfo `json:"slices"`
	NumOutputFileGroups int                   `json:"num_output_file_groups,omitempty"`
}

// ClusteringPlan lists the input groups of a clustering
type ClusteringPlan struct {
	InputGroups []ClusteringGroup `json:"input_groups"`
	Strategy    string            `json:"strategy,omitempty"`
}

// RequestedReplaceMetadata is the payload of requested/inflight replace commits.
// ClusteringPlan is nil for insert-overwrite style replaces.
type RequestedReplaceMetadata struct {
	OperationType  string          `json:"operation_type,omitempty"`
	ClusteringPlan *ClusteringPlan `json:"clustering_plan,omitempty"`
}

func (m *RequestedReplaceMetadata) Kind() MetadataKind { return KindRequestedReplace }

// InputGroupIDs returns every file group named by the clustering plan
func (m *RequestedReplaceMetadata) InputGroupIDs() []FileGroupID {
	if m.ClusteringPlan == nil {
		return nil
	}
	var ids []FileGroupID
	for _, g := range m.ClusteringPlan.InputGroups {
		for _, s := range g.Slices {
			ids = append(ids, NewFileGroupID(s.PartitionPath, s.FileID))
		}
	}
	return ids
}

func (m *RequestedReplaceMetadata) Validate() error {
	seen := make(map[FileGroupID]struct{})
	for _, id := range m.InputGroupIDs() {
		if id.PartitionPath == "" || id.FileID == "" {
			return fmt.Errorf("clustering input slice is missing partition or file id")
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("file group %s appears twice in one clustering plan", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// ReplaceCommitMetadata is the payload of a completed replace commit
type ReplaceCommitMetadata struct {
	CommitMetadata
	PartitionToReplaceFileIDs map[string][]string `json:"partition_to_replace_file_ids,omitempty"`
}

func (m *ReplaceCommitMetadata) Kind() MetadataKind { return KindReplaceCommit }

// ReplacedGroupIDs returns the replaced file groups in sorted order
func (m *ReplaceCommitMetadata) ReplacedGroupIDs() []FileGroupID {
	var ids []FileGroupID
	for _, partition := range sortedKeys(m.PartitionToReplaceFileIDs) {
		for _, fileID := range m.PartitionToReplaceFileIDs[partition] {
			ids = append(ids, NewFileGroupID(partition, fileID))
		}
	}
	return ids
}

func (m *ReplaceCommitMetadata) Validate() error {
	if err := m.CommitMetadata.Validate(); err != nil {
		return err
	}
	for partition, ids := range m.PartitionToReplaceFileIDs {
		for _, id := range ids {
			if id == "" {
				return fmt.Errorf("empty replaced file id in partition %q", partition)
			}
		}
	}
	return nil
}

// CleanPartitionMetadata lists the files a clean removed from one partition
type CleanPartitionMetadata struct {
	PartitionPath      string   `json:"partition_path"`
	Policy             string   `json:"policy,omitempty"`
	DeletePathPatterns []string `json:"delete_path_patterns,omitempty"`
	SuccessDeleteFiles []string `json:"success_delete_files,omitempty"`
	FailedDeleteFiles  []string `json:"failed_delete_files,omitempty"`
}

// CleanMetadata is the payload of a clean
type CleanMetadata struct {
	StartCleanTime         string                            `json:"start_clean_time,omitempty"`
	EarliestCommitToRetain string                            `json:"earliest_commit_to_retain,omitempty"`
	TotalFilesDeleted      int                               `json:"total_files_deleted,omitempty"`
	PartitionMetadata      map[string]CleanPartitionMetadata `json:"partition_metadata,omitempty"`
}

func (m *CleanMetadata) Kind() MetadataKind { return KindClean }

// Partitions returns the cleaned partitions in sorted order
func (m *CleanMetadata) Partitions() []string {
	return sortedKeys(m.PartitionMetadata)
}

func (m *CleanMetadata) Validate() error { return nil }

// RollbackPartitionMetadata lists the files a rollback removed from one partition
type RollbackPartitionMetadata struct {
	PartitionPath      string   `json:"partition_path"`
	SuccessDeleteFiles []string `json:"success_delete_files,omitempty"`
	FailedDeleteFiles  []string `json:"failed_delete_files,omitempty"`
}

// RollbackMetadata is the payload of a rollback
type RollbackMetadata struct {
	StartRollbackTime string                               `json:"start_rollback_time,omitempty"`
	InstantsRollback  []InstantInfo                        `json:"instants_rollback"`
	PartitionMetadata map[string]RollbackPartitionMetadata `json:"partition_metadata,omitempty"`
}

func (m *RollbackMetadata) Kind() MetadataKind { return KindRollback }

// Partitions returns the affected partitions in sorted order
func (m *RollbackMetadata) Partitions() []string {
	return sortedKeys(m.PartitionMetadata)
}

func (m *RollbackMetadata) Validate() error {
	if len(m.InstantsRollback) != 1 {
		return fmt.Errorf("rollback must name exactly one target instant, got %d", len(m.InstantsRollback))
	}
	if m.InstantsRollback[0].Timestamp == "" {
		return fmt.Errorf("rollback target has no timestamp")
	}
	return nil
}

// Target returns the instant the rollback reverted
func (m *RollbackMetadata) Target() InstantInfo {
	if len(m.InstantsRollback) == 0 {
		return InstantInfo{}
	}
	return m.InstantsRollback[0]
}

// RestoreMetadata is the payload of a restore: constituent rollbacks ordered
// from the newest reverted instant down to TargetInstant
type RestoreMetadata struct {
	StartRestoreTime string              `json:"start_restore_time,omitempty"`
	TargetInstant    string              `json:"target_instant"`
	Rollbacks        []*RollbackMetadata `json:"rollbacks"`
}

func (m *RestoreMetadata) Kind() MetadataKind { return KindRestore }

func (m *RestoreMetadata) Validate() error {
	if m.TargetInstant == "" {
		return fmt.Errorf("restore has no target instant")
	}
	for i, rb := range m.Rollbacks {
		if rb == nil {
			return fmt.Errorf("restore rollback %d is empty", i)
		}
		if err := rb.Validate(); err != nil {
			return fmt.Errorf("restore rollback %d: %w", i, err)
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
