package storage

import (
	"github.com/maxBogovick/memodb/core"
)

// AddColumn appends a column to the schema and backfills every version with
// the default value. The column must be nullable or carry a non-NULL
// default.
func (t *Table) AddColumn(col core.Column, def core.Value) error {
	if t.Schema.ColumnIndex(col.Name) >= 0 {
		return core.Errorf(core.KindExecution, "column %q already exists in table %s", col.Name, t.Schema.Name)
	}
	if def.IsNull() && !col.Nullable {
		return core.Errorf(core.KindConstraintViolation,
			"new column %q must be nullable or have a default", col.Name)
	}
	if !def.IsNull() && !col.Type.IsCompatible(def) {
		return core.Errorf(core.KindTypeMismatch,
			"default for column %q is %s, expected %s", col.Name, def.Kind, col.Type)
	}

	t.Schema.Columns = append(t.Schema.Columns, col)
	t.rewriteVersions(func(row core.Row) core.Row {
		return append(row.Clone(), def)
	})
	return t.rebindIndexes()
}

// DropColumn removes a column. Columns covered by an index cannot be
// dropped until the index is.
func (t *Table) DropColumn(name string) error {
	pos := t.Schema.ColumnIndex(name)
	if pos < 0 {
		return core.Errorf(core.KindColumnNotFound, "column %q not in table %s", name, t.Schema.Name)
	}
	for _, ix := range t.indexes {
		for _, col := range ix.Columns {
			if col == name {
				return core.Errorf(core.KindExecution,
					"column %q is covered by index %q", name, ix.Name)
			}
		}
	}

	t.Schema.Columns = append(t.Schema.Columns[:pos:pos], t.Schema.Columns[pos+1:]...)
	t.rewriteVersions(func(row core.Row) core.Row {
		out := row.Clone()
		return append(out[:pos], out[pos+1:]...)
	})
	return t.rebindIndexes()
}

// RenameColumn renames a column in the schema and in any covering index.
func (t *Table) RenameColumn(oldName, newName string) error {
	pos := t.Schema.ColumnIndex(oldName)
	if pos < 0 {
		return core.Errorf(core.KindColumnNotFound, "column %q not in table %s", oldName, t.Schema.Name)
	}
	if t.Schema.ColumnIndex(newName) >= 0 {
		return core.Errorf(core.KindExecution, "column %q already exists in table %s", newName, t.Schema.Name)
	}
	t.Schema.Columns[pos].Name = newName
	for _, ix := range t.indexes {
		for i, col := range ix.Columns {
			if col == oldName {
				ix.Columns[i] = newName
			}
		}
	}
	return t.rebindIndexes()
}

// Rename changes the table name.
func (t *Table) Rename(newName string) {
	t.Schema.Name = newName
}

// rewriteVersions rebuilds the version sequence with payloads transformed.
func (t *Table) rewriteVersions(transform func(core.Row) core.Row) {
	fresh := NewVector()
	t.versions.Each(func(_ int, v VersionedRow) bool {
		v.Payload = transform(v.Payload)
		fresh = fresh.Push(v)
		return true
	})
	t.versions = fresh
}

// rebindIndexes recomputes positions and entries after a schema change.
func (t *Table) rebindIndexes() error {
	for name, ix := range t.indexes {
		fresh, err := NewIndex(ix.Name, t.Schema, ix.Columns, ix.Unique)
		if err != nil {
			return err
		}
		t.versions.Each(func(_ int, v VersionedRow) bool {
			fresh.Add(v.RowID, v.Payload)
			return true
		})
		t.indexes[name] = fresh
	}
	return nil
}
