package view

import (
	"maps"
	"path"
	"sort"
	"strings"

	viewerrors "github.com/devrev/tableview/internal/errors"
	"github.com/devrev/tableview/internal/model"
	"github.com/devrev/tableview/internal/storage/naming"
	"github.com/devrev/tableview/internal/timeline"
)

// partitionFiles is the file set of one partition and the file groups derived
// from it. A published partitionFiles is never mutated.
type partitionFiles struct {
	baseFiles map[string]model.BaseFile
	logFiles  map[string]model.LogFile
	groups    map[string]model.FileGroup
}

func newPartitionFiles() *partitionFiles {
	return &partitionFiles{
		baseFiles: make(map[string]model.BaseFile),
		logFiles:  make(map[string]model.LogFile),
		groups:    make(map[string]model.FileGroup),
	}
}

func (p *partitionFiles) clone() *partitionFiles {
	return &partitionFiles{
		baseFiles: maps.Clone(p.baseFiles),
		logFiles:  maps.Clone(p.logFiles),
		groups:    p.groups,
	}
}

func (p *partitionFiles) isEmpty() bool {
	return len(p.baseFiles) == 0 && len(p.logFiles) == 0
}

// visibility decides which base instants are committed: at or before the last
// visible instant, and either visible or older than the visible timeline
type visibility struct {
	first    string
	last     string
	instants map[string]struct{}
}

func newVisibility(tl *timeline.Timeline) visibility {
	visible := tl.Visible()
	v := visibility{instants: make(map[string]struct{}, visible.Len())}
	for _, inst := range visible.Instants() {
		v.instants[inst.Timestamp] = struct{}{}
	}
	if first, ok := visible.FirstInstant(); ok {
		v.first = first.Timestamp
	}
	if last, ok := visible.LastInstant(); ok {
		v.last = last.Timestamp
	}
	return v
}

func (v visibility) isCommitted(ts string) bool {
	if len(v.instants) == 0 {
		return false
	}
	if model.CompareTimestamps(ts, v.last) > 0 {
		return false
	}
	if _, ok := v.instants[ts]; ok {
		return true
	}
	return model.CompareTimestamps(ts, v.first) < 0
}

// viewState is one published, immutable snapshot of the view store
type viewState struct {
	timeline   *timeline.Timeline
	visible    visibility
	partitions map[string]*partitionFiles

	pendingCompaction    map[model.FileGroupID]model.PendingCompactionOperation
	pendingLogCompaction map[model.FileGroupID]model.PendingCompactionOperation
	pendingClustering    map[model.FileGroupID]string
	replaced             map[model.FileGroupID]string
}

func emptyState() *viewState {
	tl := timeline.Empty()
	return &viewState{
		timeline:             tl,
		visible:              newVisibility(tl),
		partitions:           make(map[string]*partitionFiles),
		pendingCompaction:    make(map[model.FileGroupID]model.PendingCompactionOperation),
		pendingLogCompaction: make(map[model.FileGroupID]model.PendingCompactionOperation),
		pendingClustering:    make(map[model.FileGroupID]string),
		replaced:             make(map[model.FileGroupID]string),
	}
}

// shadow is the private working copy of one sync pass or full scan. Partitions
// are copied on first write.
type shadow struct {
	basePath string
	state    *viewState
	owned    map[string]bool
	dirty    map[string]bool
}

func (s *viewState) shadow(basePath string) *shadow {
	return &shadow{
		basePath: basePath,
		state: &viewState{
			timeline:             s.timeline,
			visible:              s.visible,
			partitions:           maps.Clone(s.partitions),
			pendingCompaction:    maps.Clone(s.pendingCompaction),
			pendingLogCompaction: maps.Clone(s.pendingLogCompaction),
			pendingClustering:    maps.Clone(s.pendingClustering),
			replaced:             maps.Clone(s.replaced),
		},
		owned: make(map[string]bool),
		dirty: make(map[string]bool),
	}
}

// partition returns a writable copy of a partition, creating it if absent
func (sh *shadow) partition(name string) *partitionFiles {
	p, ok := sh.state.partitions[name]
	switch {
	case !ok:
		p = newPartitionFiles()
	case !sh.owned[name]:
		p = p.clone()
	default:
		return p
	}
	sh.state.partitions[name] = p
	sh.owned[name] = true
	return p
}

func (sh *shadow) markDirty(partition string) {
	sh.dirty[partition] = true
}

// resolvePath turns a path found in metadata into a table-relative path. Bare
// file names are taken to live in partition.
func (sh *shadow) resolvePath(partition, p string) (string, error) {
	if strings.Contains(p, "://") || path.IsAbs(p) {
		return naming.RelativePath(sh.basePath, p)
	}
	if !strings.Contains(p, "/") {
		return naming.JoinPath(partition, p), nil
	}
	return naming.RelativePath("", p)
}

// addFile records a data file. Adding a known path is a no-op.
func (sh *shadow) addFile(relPath string) error {
	partition, name := naming.SplitPath(relPath)
	fn, err := naming.ParseFileName(name)
	if err != nil {
		return viewerrors.MalformedMetadata("unrecognised data file "+relPath, err)
	}

	p := sh.partition(partition)
	switch fn.Kind {
	case naming.FileKindBase:
		p.baseFiles[relPath] = model.BaseFile{
			FileID:     fn.FileID,
			CommitTime: fn.InstantTime,
			WriteToken: fn.WriteToken,
			FileName:   name,
			Path:       relPath,
		}
	case naming.FileKindLog:
		p.logFiles[relPath] = model.LogFile{
			FileID:          fn.FileID,
			BaseInstantTime: fn.InstantTime,
			Version:         fn.Version,
			WriteToken:      fn.WriteToken,
			FileName:        name,
			Path:            relPath,
		}
	}
	sh.markDirty(partition)
	return nil
}

// removeFile drops a data file. Removing an unknown path is a no-op.
func (sh *shadow) removeFile(relPath string) {
	partition, _ := naming.SplitPath(relPath)
	cur, ok := sh.state.partitions[partition]
	if !ok {
		return
	}
	_, isBase := cur.baseFiles[relPath]
	_, isLog := cur.logFiles[relPath]
	if !isBase && !isLog {
		return
	}

	p := sh.partition(partition)
	delete(p.baseFiles, relPath)
	delete(p.logFiles, relPath)
	sh.markDirty(partition)
}

// groupsOf derives the current file groups of a partition from the shadow
func (sh *shadow) groupsOf(partition string) map[string]model.FileGroup {
	p, ok := sh.state.partitions[partition]
	if !ok {
		return nil
	}
	return buildGroups(partition, p, sh.state.pendingCompaction)
}

// publish rebuilds the touched partitions and freezes the shadow
func (sh *shadow) publish(tl *timeline.Timeline) *viewState {
	for name := range sh.dirty {
		p, ok := sh.state.partitions[name]
		if !ok {
			continue
		}
		if p.isEmpty() {
			delete(sh.state.partitions, name)
			continue
		}
		if !sh.owned[name] {
			p = p.clone()
			sh.state.partitions[name] = p
		}
		p.groups = buildGroups(name, p, sh.state.pendingCompaction)
	}

	sh.state.timeline = tl
	sh.state.visible = newVisibility(tl)
	out := sh.state
	sh.state = nil
	return out
}

// buildGroups derives file groups from a file set. Every file group with a
// live compaction registration gains a slice at the compaction instant.
func buildGroups(partition string, p *partitionFiles, pendingCompaction map[model.FileGroupID]model.PendingCompactionOperation) map[string]model.FileGroup {
	slices := make(map[string]map[string]*model.FileSlice)
	sliceOf := func(fileID, baseInstant string) *model.FileSlice {
		byInstant, ok := slices[fileID]
		if !ok {
			byInstant = make(map[string]*model.FileSlice)
			slices[fileID] = byInstant
		}
		s, ok := byInstant[baseInstant]
		if !ok {
			s = &model.FileSlice{
				GroupID:         model.NewFileGroupID(partition, fileID),
				BaseInstantTime: baseInstant,
			}
			byInstant[baseInstant] = s
		}
		return s
	}

	for _, bf := range p.baseFiles {
		s := sliceOf(bf.FileID, bf.CommitTime)
		// retried writes leave several base files; the greatest token wins
		if s.BaseFile == nil || bf.WriteToken > s.BaseFile.WriteToken ||
			(bf.WriteToken == s.BaseFile.WriteToken && bf.Path > s.BaseFile.Path) {
			b := bf
			s.BaseFile = &b
		}
	}
	for _, lf := range p.logFiles {
		s := sliceOf(lf.FileID, lf.BaseInstantTime)
		s.LogFiles = append(s.LogFiles, lf)
	}
	for fileID := range slices {
		if op, ok := pendingCompaction[model.NewFileGroupID(partition, fileID)]; ok {
			sliceOf(fileID, op.InstantTime)
		}
	}

	groups := make(map[string]model.FileGroup, len(slices))
	for fileID, byInstant := range slices {
		g := model.FileGroup{
			ID:     model.NewFileGroupID(partition, fileID),
			Slices: make([]model.FileSlice, 0, len(byInstant)),
		}
		for _, s := range byInstant {
			model.SortLogFiles(s.LogFiles)
			g.Slices = append(g.Slices, *s)
		}
		sort.Slice(g.Slices, func(i, j int) bool {
			return model.CompareTimestamps(g.Slices[i].BaseInstantTime, g.Slices[j].BaseInstantTime) > 0
		})
		groups[fileID] = g
	}
	return groups
}
