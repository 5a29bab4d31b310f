package storage

import (
	"github.com/maxBogovick/memodb/core"
	"github.com/maxBogovick/memodb/mvcc"
)

// IndexState is the serializable description of an index.
type IndexState struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	Unique  bool     `json:"unique"`
}

// TableState is the serializable image of a table: its schema, index
// metadata, and the surviving version set. Index contents are rebuilt on
// import.
type TableState struct {
	Schema    core.TableSchema `json:"schema"`
	NextRowID uint64           `json:"next_row_id"`
	Indexes   []IndexState     `json:"indexes"`
	Versions  []VersionedRow   `json:"versions"`
}

// Export captures the table for a snapshot. Versions written by aborted
// transactions are left out; everything else survives so replay preserves
// MVCC history exactly.
func (t *Table) Export(src mvcc.StateSource) TableState {
	state := TableState{
		Schema:    t.Schema.Clone(),
		NextRowID: t.nextRowID,
	}
	for _, ix := range t.indexes {
		state.Indexes = append(state.Indexes, IndexState{
			Name: ix.Name, Columns: append([]string(nil), ix.Columns...), Unique: ix.Unique,
		})
	}
	t.versions.Each(func(_ int, v VersionedRow) bool {
		if src != nil && src.IsAborted(v.CreatedBy) {
			return true
		}
		if v.DeletedBy != 0 && src != nil && src.IsAborted(v.DeletedBy) {
			v.DeletedBy = 0
		}
		state.Versions = append(state.Versions, v)
		return true
	})
	return state
}

// ApplyInsert replays an insert with its original row id and creator.
// Validation and unique checks are skipped: replay only sees operations
// that already passed them.
func (t *Table) ApplyInsert(rowID uint64, row core.Row, creator mvcc.TxnID) {
	t.appendVersion(VersionedRow{RowID: rowID, CreatedBy: creator, Payload: row})
	if rowID >= t.nextRowID {
		t.nextRowID = rowID + 1
	}
}

// ApplyUpdate replays an update against the newest version of rowID.
func (t *Table) ApplyUpdate(rowID uint64, row core.Row, writer mvcc.TxnID) {
	positions := t.byRow[rowID]
	if len(positions) > 0 {
		pos := positions[len(positions)-1]
		v := t.versions.Get(pos)
		v.DeletedBy = writer
		t.versions = t.versions.Set(pos, v)
	}
	t.appendVersion(VersionedRow{RowID: rowID, CreatedBy: writer, Payload: row})
}

// ApplyDelete replays a delete against the newest version of rowID.
func (t *Table) ApplyDelete(rowID uint64, writer mvcc.TxnID) {
	positions := t.byRow[rowID]
	if len(positions) == 0 {
		return
	}
	pos := positions[len(positions)-1]
	v := t.versions.Get(pos)
	v.DeletedBy = writer
	t.versions = t.versions.Set(pos, v)
}

// ImportTable rebuilds a table from its snapshot image.
func ImportTable(state TableState) (*Table, error) {
	t := &Table{
		Schema:    state.Schema,
		versions:  NewVector(),
		indexes:   map[string]*Index{},
		byRow:     map[uint64][]int{},
		nextRowID: state.NextRowID,
	}
	if t.nextRowID == 0 {
		t.nextRowID = 1
	}
	for _, ixState := range state.Indexes {
		ix, err := NewIndex(ixState.Name, t.Schema, ixState.Columns, ixState.Unique)
		if err != nil {
			return nil, err
		}
		t.indexes[ixState.Name] = ix
	}
	for _, v := range state.Versions {
		t.appendVersion(v)
		if v.RowID >= t.nextRowID {
			t.nextRowID = v.RowID + 1
		}
	}
	return t, nil
}
