package registry

import (
	"slices"

	"wildtrack/pkg/domain"
)

// index maps an attribute value to the ids of live records holding it, kept
// in insertion order so indexed and scanned listings agree.
type index struct {
	field  string
	values map[any][]int64
}

func newIndex(field string) *index {
	return &index{field: field, values: make(map[any][]int64)}
}

func (ix *index) lookup(v any) []int64 {
	if ix == nil {
		return nil
	}
	return ix.values[v]
}

func (ix *index) clear() {
	ix.values = make(map[any][]int64)
}

func (r *Registry) indexAdd(e domain.Entity) {
	for field, ix := range r.indexes {
		v, ok := e.Attributes[field]
		if !ok || v == nil {
			continue
		}
		ids := ix.values[v]
		pos, _ := slices.BinarySearchFunc(ids, e.Seq, func(id int64, seq int64) int {
			return cmpInt(r.records[id].Seq, seq)
		})
		ix.values[v] = slices.Insert(ids, pos, e.ID)
	}
}

func (r *Registry) indexRemove(e domain.Entity) {
	for field, ix := range r.indexes {
		v, ok := e.Attributes[field]
		if !ok || v == nil {
			continue
		}
		ids := ix.values[v]
		if i := slices.Index(ids, e.ID); i >= 0 {
			ids = slices.Delete(ids, i, i+1)
		}
		if len(ids) == 0 {
			delete(ix.values, v)
			continue
		}
		ix.values[v] = ids
	}
}

// candidates returns the ids worth checking against f: the shortest posting
// list among indexed equality constraints, or every id in insertion order.
func (r *Registry) candidates(f domain.Filter) []int64 {
	var best []int64
	found := false
	for field, v := range f.Equals {
		ix, ok := r.indexes[field]
		if !ok || v == nil {
			continue
		}
		ids := ix.lookup(v)
		if !found || len(ids) < len(best) {
			best, found = ids, true
		}
	}
	if found {
		return best
	}
	return r.order
}
