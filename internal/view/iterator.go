package view

import (
	"github.com/devrev/tableview/internal/model"
)

// SliceIterator walks the file slices selected by one query. The groups are
// captured when the query is made and slices are computed group by group as
// the iterator advances. It is single pass.
type SliceIterator struct {
	groups  []model.FileGroup
	pick    func(model.FileGroup) []model.FileSlice
	pending []model.FileSlice
	current model.FileSlice
}

func newSliceIterator(groups []model.FileGroup, pick func(model.FileGroup) []model.FileSlice) *SliceIterator {
	return &SliceIterator{groups: groups, pick: pick}
}

// Next advances to the next slice
func (it *SliceIterator) Next() bool {
	for len(it.pending) == 0 {
		if len(it.groups) == 0 {
			return false
		}
		g := it.groups[0]
		it.groups = it.groups[1:]
		it.pending = it.pick(g)
	}
	it.current = it.pending[0]
	it.pending = it.pending[1:]
	return true
}

// Slice returns the current slice
func (it *SliceIterator) Slice() model.FileSlice {
	return it.current
}

// Collect drains the remaining slices
func (it *SliceIterator) Collect() []model.FileSlice {
	var out []model.FileSlice
	for it.Next() {
		out = append(out, it.Slice())
	}
	return out
}

// GroupIterator walks the file groups selected by one query
type GroupIterator struct {
	groups  []model.FileGroup
	pick    func(model.FileGroup) (model.FileGroup, bool)
	current model.FileGroup
}

func newGroupIterator(groups []model.FileGroup, pick func(model.FileGroup) (model.FileGroup, bool)) *GroupIterator {
	return &GroupIterator{groups: groups, pick: pick}
}

// Next advances to the next group
func (it *GroupIterator) Next() bool {
	for len(it.groups) > 0 {
		g := it.groups[0]
		it.groups = it.groups[1:]
		if picked, ok := it.pick(g); ok {
			it.current = picked
			return true
		}
	}
	return false
}

// Group returns the current group
func (it *GroupIterator) Group() model.FileGroup {
	return it.current
}

// Collect drains the remaining groups
func (it *GroupIterator) Collect() []model.FileGroup {
	var out []model.FileGroup
	for it.Next() {
		out = append(out, it.Group())
	}
	return out
}
