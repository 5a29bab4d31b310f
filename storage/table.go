package storage

import (
	"fmt"

	"github.com/maxBogovick/memodb/core"
	"github.com/maxBogovick/memodb/mvcc"
)

// VersionedRow is one physical version of a logical row. RowID is stable
// across versions; an update tombstones the predecessor and appends a new
// version with the same RowID.
type VersionedRow struct {
	RowID     uint64     `json:"row_id"`
	CreatedBy mvcc.TxnID `json:"created_by"`
	DeletedBy mvcc.TxnID `json:"deleted_by,omitempty"`
	Payload   core.Row   `json:"payload"`
}

// Table holds a schema, the append-only version sequence, and the table's
// indexes. Mutation requires the engine's exclusive lock; scans only need a
// stable reference to the version vector.
type Table struct {
	Schema core.TableSchema

	versions  *Vector
	indexes   map[string]*Index
	byRow     map[uint64][]int // rowID -> positions in versions, ascending
	nextRowID uint64
}

// NewTable creates an empty table. Unique and primary-key columns get a
// backing unique index at creation time.
func NewTable(schema core.TableSchema) (*Table, error) {
	seen := map[string]bool{}
	for _, col := range schema.Columns {
		if seen[col.Name] {
			return nil, core.Errorf(core.KindExecution, "duplicate column %q in table %s", col.Name, schema.Name)
		}
		seen[col.Name] = true
	}
	t := &Table{
		Schema:    schema,
		versions:  NewVector(),
		indexes:   map[string]*Index{},
		byRow:     map[uint64][]int{},
		nextRowID: 1,
	}
	for _, col := range schema.Columns {
		if col.Unique || col.PrimaryKey {
			name := fmt.Sprintf("%s_%s_key", schema.Name, col.Name)
			ix, err := NewIndex(name, schema, []string{col.Name}, true)
			if err != nil {
				return nil, err
			}
			t.indexes[name] = ix
		}
	}
	return t, nil
}

// CreateIndex adds a secondary index and backfills it from live versions.
func (t *Table) CreateIndex(name string, columns []string, unique bool) error {
	if _, exists := t.indexes[name]; exists {
		return core.Errorf(core.KindExecution, "index %q already exists", name)
	}
	ix, err := NewIndex(name, t.Schema, columns, unique)
	if err != nil {
		return err
	}
	t.versions.Each(func(_ int, v VersionedRow) bool {
		ix.Add(v.RowID, v.Payload)
		return true
	})
	t.indexes[name] = ix
	return nil
}

// DropIndex removes a secondary index.
func (t *Table) DropIndex(name string) error {
	if _, exists := t.indexes[name]; !exists {
		return core.Errorf(core.KindExecution, "index %q does not exist", name)
	}
	delete(t.indexes, name)
	return nil
}

// Index returns a named index.
func (t *Table) Index(name string) (*Index, bool) {
	ix, ok := t.indexes[name]
	return ix, ok
}

// Indexes lists the table's indexes.
func (t *Table) Indexes() []*Index {
	out := make([]*Index, 0, len(t.indexes))
	for _, ix := range t.indexes {
		out = append(out, ix)
	}
	return out
}

// validateRow checks arity, per-column type compatibility and nullability.
// Integers bound for FLOAT columns are widened in place.
func (t *Table) validateRow(row core.Row) error {
	if len(row) != len(t.Schema.Columns) {
		return core.Errorf(core.KindExecution,
			"table %s expects %d values, got %d", t.Schema.Name, len(t.Schema.Columns), len(row))
	}
	for i, col := range t.Schema.Columns {
		v := row[i]
		if v.IsNull() {
			if !col.Nullable || col.PrimaryKey {
				return core.Errorf(core.KindConstraintViolation,
					"column %q of table %s is not nullable", col.Name, t.Schema.Name)
			}
			continue
		}
		if !col.Type.IsCompatible(v) {
			return core.Errorf(core.KindTypeMismatch,
				"column %q of table %s expects %s, got %s", col.Name, t.Schema.Name, col.Type, v.Kind)
		}
		if col.Type == core.FloatType && v.Kind == core.IntegerValue {
			row[i] = core.NewFloat(float64(v.Int))
		}
	}
	return nil
}

// visibleVersion finds the version of rowID visible to txn, if any.
func (t *Table) visibleVersion(rowID uint64, txn *mvcc.Txn, src mvcc.StateSource) (VersionedRow, int, bool) {
	for _, pos := range t.byRow[rowID] {
		v := t.versions.Get(pos)
		if txn.CanSee(v.CreatedBy, v.DeletedBy, src) {
			return v, pos, true
		}
	}
	return VersionedRow{}, 0, false
}

// newestRelevant finds the newest version of rowID not created by an
// aborted transaction. A tail version left behind by an aborted writer is
// skipped so the next writer does not trip over it.
func (t *Table) newestRelevant(rowID uint64, src mvcc.StateSource) (VersionedRow, int, bool) {
	positions := t.byRow[rowID]
	for i := len(positions) - 1; i >= 0; i-- {
		v := t.versions.Get(positions[i])
		if src.IsAborted(v.CreatedBy) {
			continue
		}
		return v, positions[i], true
	}
	return VersionedRow{}, 0, false
}

// checkUnique rejects a row whose unique-index keys collide with a version
// visible to the writer. Versions from aborted or other still-active
// transactions are skipped, as are versions the writer itself tombstoned
// earlier in the same transaction. excludeRowID exempts the logical row
// being updated from colliding with itself.
func (t *Table) checkUnique(row core.Row, excludeRowID uint64, txn *mvcc.Txn, src mvcc.StateSource) error {
	for _, ix := range t.indexes {
		if !ix.Unique {
			continue
		}
		key, ok := ix.KeyOf(row)
		if !ok {
			continue // NULL keys are distinct
		}
		for _, cand := range ix.CandidatesByKey(key) {
			if cand == excludeRowID {
				continue
			}
			v, _, found := t.visibleVersion(cand, txn, src)
			if !found {
				continue
			}
			if existing, ok := ix.KeyOf(v.Payload); ok && existing == key {
				return core.Errorf(core.KindConstraintViolation,
					"unique constraint %q violated", ix.Name)
			}
		}
	}
	return nil
}

// Insert validates and appends a new row version, returning its row id.
func (t *Table) Insert(row core.Row, txn *mvcc.Txn, src mvcc.StateSource) (uint64, error) {
	if err := t.validateRow(row); err != nil {
		return 0, err
	}
	if err := t.checkUnique(row, 0, txn, src); err != nil {
		return 0, err
	}
	rowID := t.nextRowID
	t.nextRowID++
	newPos := t.versions.Len()
	t.appendVersion(VersionedRow{RowID: rowID, CreatedBy: txn.ID, Payload: row})
	txn.RecordWrite(mvcc.WriteRef{
		Kind: mvcc.WriteInsert, Table: t.Schema.Name, RowID: rowID, BasePos: -1, NewPos: newPos,
	})
	return rowID, nil
}

func (t *Table) appendVersion(v VersionedRow) {
	pos := t.versions.Len()
	t.versions = t.versions.Push(v)
	t.byRow[v.RowID] = append(append([]int(nil), t.byRow[v.RowID]...), pos)
	for _, ix := range t.indexes {
		ix.Add(v.RowID, v.Payload)
	}
}

// Update tombstones the current version of rowID and appends the new one.
func (t *Table) Update(rowID uint64, newRow core.Row, txn *mvcc.Txn, src mvcc.StateSource) error {
	if err := t.validateRow(newRow); err != nil {
		return err
	}
	if err := t.checkUnique(newRow, rowID, txn, src); err != nil {
		return err
	}
	base, pos, ok := t.newestRelevant(rowID, src)
	if !ok {
		return core.Errorf(core.KindExecution, "row %d of table %s has no live version", rowID, t.Schema.Name)
	}
	t.tombstone(base, pos, txn, src)
	newPos := t.versions.Len()
	t.appendVersion(VersionedRow{RowID: rowID, CreatedBy: txn.ID, Payload: newRow})
	txn.RecordWrite(mvcc.WriteRef{
		Kind: mvcc.WriteUpdate, Table: t.Schema.Name, RowID: rowID,
		BaseCreator: base.CreatedBy, BasePos: pos, NewPos: newPos,
	})
	return nil
}

// Delete tombstones the current version of rowID.
func (t *Table) Delete(rowID uint64, txn *mvcc.Txn, src mvcc.StateSource) error {
	base, pos, ok := t.newestRelevant(rowID, src)
	if !ok {
		return core.Errorf(core.KindExecution, "row %d of table %s has no live version", rowID, t.Schema.Name)
	}
	t.tombstone(base, pos, txn, src)
	txn.RecordWrite(mvcc.WriteRef{
		Kind: mvcc.WriteDelete, Table: t.Schema.Name, RowID: rowID,
		BaseCreator: base.CreatedBy, BasePos: pos, NewPos: -1,
	})
	return nil
}

// tombstone claims the DeletedBy slot of a version. A slot already held by
// another transaction that has not aborted is left alone: only one of the
// two writers can commit, and RepairAborted repoints the slot when the
// holder loses.
func (t *Table) tombstone(v VersionedRow, pos int, txn *mvcc.Txn, src mvcc.StateSource) {
	if v.DeletedBy != 0 && v.DeletedBy != txn.ID && !src.IsAborted(v.DeletedBy) {
		return
	}
	v.DeletedBy = txn.ID
	t.versions = t.versions.Set(pos, v)
}

// RepairAborted fixes up tombstones after txn aborts: every slot txn held
// is repointed at the creator of a surviving successor version, or cleared
// when no successor survives. Without this, a row both updated by the
// aborted loser and rewritten by the committed winner would resurrect.
func (t *Table) RepairAborted(rowID uint64, txn *mvcc.Txn, src mvcc.StateSource) {
	positions := t.byRow[rowID]
	for i, pos := range positions {
		v := t.versions.Get(pos)
		if v.DeletedBy != txn.ID {
			continue
		}
		v.DeletedBy = 0
		for _, later := range positions[i+1:] {
			succ := t.versions.Get(later)
			if succ.CreatedBy != txn.ID && !src.IsAborted(succ.CreatedBy) {
				v.DeletedBy = succ.CreatedBy
				break
			}
		}
		t.versions = t.versions.Set(pos, v)
	}
}

// Scan walks the versions visible to txn in storage order.
func (t *Table) Scan(txn *mvcc.Txn, src mvcc.StateSource, fn func(rowID uint64, row core.Row) bool) {
	versions := t.versions // stable reference for the whole scan
	versions.Each(func(_ int, v VersionedRow) bool {
		if txn.CanSee(v.CreatedBy, v.DeletedBy, src) {
			return fn(v.RowID, v.Payload)
		}
		return true
	})
}

// Lookup walks the visible rows matching an equality key on the named
// index, in row-id order.
func (t *Table) Lookup(indexName string, key core.Row, txn *mvcc.Txn, src mvcc.StateSource, fn func(rowID uint64, row core.Row) bool) error {
	ix, ok := t.indexes[indexName]
	if !ok {
		return core.Errorf(core.KindExecution, "index %q does not exist", indexName)
	}
	probe := make(core.Row, len(t.Schema.Columns))
	for i, col := range ix.Columns {
		pos := t.Schema.ColumnIndex(col)
		if pos < 0 || i >= len(key) {
			return core.Errorf(core.KindColumnNotFound, "index column %q not in table %s", col, t.Schema.Name)
		}
		probe[pos] = key[i]
	}
	encoded, hasKey := ix.KeyOf(probe)
	if !hasKey {
		return nil // equality on NULL matches nothing
	}
	for _, cand := range ix.CandidatesByKey(encoded) {
		v, _, found := t.visibleVersion(cand, txn, src)
		if !found {
			continue
		}
		if got, ok := ix.KeyOf(v.Payload); !ok || got != encoded {
			continue // stale index entry
		}
		if !fn(v.RowID, v.Payload) {
			return nil
		}
	}
	return nil
}

// ConflictsWith reports whether another committed transaction, invisible to
// txn's snapshot, has written the same row since txn's base version. A
// newest tail version from an aborted writer is ignored.
func (t *Table) ConflictsWith(ref mvcc.WriteRef, txn *mvcc.Txn, src mvcc.StateSource) bool {
	for _, pos := range t.byRow[ref.RowID] {
		v := t.versions.Get(pos)
		for _, id := range [2]mvcc.TxnID{v.CreatedBy, v.DeletedBy} {
			if id == 0 || id == txn.ID {
				continue
			}
			if src.IsCommitted(id) && !txn.ObservedAtBegin(id) {
				return true
			}
		}
	}
	return false
}

// RecheckUnique re-validates a written row's unique keys against the
// committed state at commit time. Two concurrent inserts of the same key
// both pass the snapshot check; the second committer fails here.
func (t *Table) RecheckUnique(ref mvcc.WriteRef, txn *mvcc.Txn, src mvcc.StateSource) error {
	own, _, ok := t.ownVersion(ref.RowID, txn)
	if !ok {
		return nil
	}
	for _, ix := range t.indexes {
		if !ix.Unique {
			continue
		}
		key, hasKey := ix.KeyOf(own.Payload)
		if !hasKey {
			continue
		}
		for _, cand := range ix.CandidatesByKey(key) {
			if cand == ref.RowID {
				continue
			}
			for _, pos := range t.byRow[cand] {
				v := t.versions.Get(pos)
				if v.CreatedBy == txn.ID || !src.IsCommitted(v.CreatedBy) {
					continue
				}
				if v.DeletedBy != 0 && src.IsCommitted(v.DeletedBy) {
					continue
				}
				if got, ok := ix.KeyOf(v.Payload); ok && got == key {
					return core.Errorf(core.KindConstraintViolation,
						"unique constraint %q violated", ix.Name)
				}
			}
		}
	}
	return nil
}

// ownVersion finds the newest live version of rowID created by txn.
// Versions the transaction tombstoned itself (deletes and undone
// statements) do not count.
func (t *Table) ownVersion(rowID uint64, txn *mvcc.Txn) (VersionedRow, int, bool) {
	positions := t.byRow[rowID]
	for i := len(positions) - 1; i >= 0; i-- {
		v := t.versions.Get(positions[i])
		if v.CreatedBy == txn.ID && v.DeletedBy != txn.ID {
			return v, positions[i], true
		}
	}
	return VersionedRow{}, 0, false
}

// UndoWrite reverses one write of a failed statement: the appended version
// is self-tombstoned (leaving it invisible to everyone for good) and the
// superseded version's tombstone is released if this transaction holds it.
func (t *Table) UndoWrite(ref mvcc.WriteRef, txn *mvcc.Txn) {
	if ref.NewPos >= 0 {
		v := t.versions.Get(ref.NewPos)
		if v.CreatedBy == txn.ID {
			v.DeletedBy = txn.ID
			t.versions = t.versions.Set(ref.NewPos, v)
		}
	}
	if ref.BasePos >= 0 {
		v := t.versions.Get(ref.BasePos)
		if v.DeletedBy == txn.ID {
			v.DeletedBy = 0
			t.versions = t.versions.Set(ref.BasePos, v)
		}
	}
}

// Vacuum rebuilds the version sequence without versions that no current or
// future reader can see: versions from aborted writers, and tombstones
// whose deleter committed below the horizon. Returns the number removed.
func (t *Table) Vacuum(horizon mvcc.TxnID, src mvcc.StateSource) int {
	kept := NewVector()
	byRow := map[uint64][]int{}
	freed := 0

	t.versions.Each(func(_ int, v VersionedRow) bool {
		switch {
		case src.IsAborted(v.CreatedBy):
			freed++
		case v.DeletedBy != 0 && src.IsCommitted(v.DeletedBy) && v.DeletedBy < horizon:
			freed++
		default:
			if v.DeletedBy != 0 && src.IsAborted(v.DeletedBy) {
				v.DeletedBy = 0 // clear tombstones from aborted deleters
			}
			byRow[v.RowID] = append(byRow[v.RowID], kept.Len())
			kept = kept.Push(v)
		}
		return true
	})

	if freed == 0 {
		return 0
	}
	t.versions = kept
	t.byRow = byRow
	for name, ix := range t.indexes {
		fresh, err := NewIndex(ix.Name, t.Schema, ix.Columns, ix.Unique)
		if err != nil {
			continue
		}
		kept.Each(func(_ int, v VersionedRow) bool {
			fresh.Add(v.RowID, v.Payload)
			return true
		})
		t.indexes[name] = fresh
	}
	return freed
}

// Clone shares the version vector and copies the mutable bookkeeping, so a
// fork diverges without copying row data.
func (t *Table) Clone() *Table {
	out := &Table{
		Schema:    t.Schema.Clone(),
		versions:  t.versions,
		indexes:   make(map[string]*Index, len(t.indexes)),
		byRow:     make(map[uint64][]int, len(t.byRow)),
		nextRowID: t.nextRowID,
	}
	for name, ix := range t.indexes {
		out.indexes[name] = ix.Clone()
	}
	for id, positions := range t.byRow {
		out.byRow[id] = append([]int(nil), positions...)
	}
	return out
}

// VersionCount reports the number of physical versions, live or not.
func (t *Table) VersionCount() int {
	return t.versions.Len()
}
