package storage

import (
	"sort"
	"strings"

	"github.com/maxBogovick/memodb/core"
)

// Index maps an encoded key tuple to the set of logical rows that carried
// that key in some live version. Lookups re-verify the key against the
// visible version, so stale entries cost a probe, never a wrong answer;
// vacuum prunes them.
type Index struct {
	Name    string
	Columns []string
	Unique  bool

	positions []int
	data      map[string]map[uint64]struct{}
}

// NewIndex builds an index over the given schema columns.
func NewIndex(name string, schema core.TableSchema, columns []string, unique bool) (*Index, error) {
	positions := make([]int, len(columns))
	for i, col := range columns {
		pos := schema.ColumnIndex(col)
		if pos < 0 {
			return nil, core.Errorf(core.KindColumnNotFound, "index column %q not in table %s", col, schema.Name)
		}
		positions[i] = pos
	}
	return &Index{
		Name:      name,
		Columns:   columns,
		Unique:    unique,
		positions: positions,
		data:      map[string]map[uint64]struct{}{},
	}, nil
}

// KeyOf encodes the index key of a row. ok is false when any key column is
// NULL: NULL keys are distinct and never indexed.
func (ix *Index) KeyOf(row core.Row) (key string, ok bool) {
	var b strings.Builder
	for i, pos := range ix.positions {
		v := row[pos]
		if v.IsNull() {
			return "", false
		}
		if i > 0 {
			b.WriteByte(0)
		}
		// Tag by kind so 1 and '1' do not collide; integers are encoded
		// as floats so 1 and 1.0 do collide, matching value equality.
		switch v.Kind {
		case core.IntegerValue:
			b.WriteByte('n')
			b.WriteString(core.NewFloat(float64(v.Int)).Display())
		case core.FloatValue:
			b.WriteByte('n')
			b.WriteString(v.Display())
		case core.TextValue:
			b.WriteByte('t')
			b.WriteString(v.Text)
		case core.BooleanValue:
			b.WriteByte('b')
			b.WriteString(v.Display())
		}
	}
	return b.String(), true
}

// Add records that a live version of rowID carries the key of row.
func (ix *Index) Add(rowID uint64, row core.Row) {
	key, ok := ix.KeyOf(row)
	if !ok {
		return
	}
	set, exists := ix.data[key]
	if !exists {
		set = map[uint64]struct{}{}
		ix.data[key] = set
	}
	set[rowID] = struct{}{}
}

// Candidates returns the row ids that may carry the key of row, in
// ascending order.
func (ix *Index) Candidates(row core.Row) []uint64 {
	key, ok := ix.KeyOf(row)
	if !ok {
		return nil
	}
	return ix.CandidatesByKey(key)
}

// CandidatesByKey returns the row ids recorded under an encoded key.
func (ix *Index) CandidatesByKey(key string) []uint64 {
	set := ix.data[key]
	if len(set) == 0 {
		return nil
	}
	out := make([]uint64, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Remove drops a rowID from the entry for row's key. Used by vacuum.
func (ix *Index) Remove(rowID uint64, row core.Row) {
	key, ok := ix.KeyOf(row)
	if !ok {
		return
	}
	if set := ix.data[key]; set != nil {
		delete(set, rowID)
		if len(set) == 0 {
			delete(ix.data, key)
		}
	}
}

// Entries reports the number of distinct keys.
func (ix *Index) Entries() int {
	return len(ix.data)
}

// Clone deep-copies the index for a table clone.
func (ix *Index) Clone() *Index {
	out := &Index{
		Name:      ix.Name,
		Columns:   append([]string(nil), ix.Columns...),
		Unique:    ix.Unique,
		positions: append([]int(nil), ix.positions...),
		data:      make(map[string]map[uint64]struct{}, len(ix.data)),
	}
	for key, set := range ix.data {
		cp := make(map[uint64]struct{}, len(set))
		for id := range set {
			cp[id] = struct{}{}
		}
		out.data[key] = cp
	}
	return out
}

// rebind recomputes column positions after a schema change.
func (ix *Index) rebind(schema core.TableSchema) error {
	for i, col := range ix.Columns {
		pos := schema.ColumnIndex(col)
		if pos < 0 {
			return core.Errorf(core.KindColumnNotFound, "index column %q not in table %s", col, schema.Name)
		}
		ix.positions[i] = pos
	}
	return nil
}
