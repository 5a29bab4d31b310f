package storage

import (
	"testing"

	"github.com/maxBogovick/memodb/core"
	"github.com/maxBogovick/memodb/mvcc"
)

func usersSchema() core.TableSchema {
	return core.TableSchema{
		Name: "users",
		Columns: []core.Column{
			{Name: "id", Type: core.IntegerType, PrimaryKey: true},
			{Name: "email", Type: core.TextType, Unique: true},
			{Name: "age", Type: core.IntegerType, Nullable: true},
		},
	}
}

func mustInsert(t *testing.T, tbl *Table, m *mvcc.Manager, row core.Row) uint64 {
	t.Helper()
	txn := m.Begin()
	id, err := tbl.Insert(row, txn, m)
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := m.Commit(txn, 0); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	return id
}

func userRow(id int64, email string, age int64) core.Row {
	return core.Row{core.NewInteger(id), core.NewText(email), core.NewInteger(age)}
}

func scanAll(tbl *Table, txn *mvcc.Txn, m *mvcc.Manager) []core.Row {
	var rows []core.Row
	tbl.Scan(txn, m, func(_ uint64, row core.Row) bool {
		rows = append(rows, row)
		return true
	})
	return rows
}

func TestInsertAndScan(t *testing.T) {
	m := mvcc.NewManager()
	tbl, err := NewTable(usersSchema())
	if err != nil {
		t.Fatalf("NewTable failed: %v", err)
	}

	mustInsert(t, tbl, m, userRow(1, "a@x.io", 30))
	mustInsert(t, tbl, m, userRow(2, "b@x.io", 25))

	reader := m.Begin()
	if got := len(scanAll(tbl, reader, m)); got != 2 {
		t.Errorf("Expected 2 visible rows, got %d", got)
	}
}

func TestTypeAndNullValidation(t *testing.T) {
	m := mvcc.NewManager()
	tbl, _ := NewTable(usersSchema())
	txn := m.Begin()

	_, err := tbl.Insert(core.Row{core.NewText("x"), core.NewText("a@x.io"), core.Null()}, txn, m)
	if !core.IsKind(err, core.KindTypeMismatch) {
		t.Errorf("Expected TypeMismatch, got %v", err)
	}

	_, err = tbl.Insert(core.Row{core.Null(), core.NewText("a@x.io"), core.Null()}, txn, m)
	if !core.IsKind(err, core.KindConstraintViolation) {
		t.Errorf("Expected ConstraintViolation for NULL pk, got %v", err)
	}
}

func TestUniqueUnderSnapshot(t *testing.T) {
	m := mvcc.NewManager()
	tbl, _ := NewTable(usersSchema())
	mustInsert(t, tbl, m, userRow(1, "a@x.io", 30))

	txn := m.Begin()
	_, err := tbl.Insert(userRow(2, "a@x.io", 20), txn, m)
	if !core.IsKind(err, core.KindConstraintViolation) {
		t.Errorf("Expected ConstraintViolation, got %v", err)
	}

	// NULL keys are distinct.
	schema := core.TableSchema{Name: "tags", Columns: []core.Column{
		{Name: "label", Type: core.TextType, Nullable: true, Unique: true},
	}}
	tags, _ := NewTable(schema)
	for i := 0; i < 2; i++ {
		w := m.Begin()
		if _, err := tags.Insert(core.Row{core.Null()}, w, m); err != nil {
			t.Fatalf("NULL insert %d failed: %v", i, err)
		}
		if err := m.Commit(w, 0); err != nil {
			t.Fatalf("Commit failed: %v", err)
		}
	}
}

func TestConcurrentInsertUniqueRecheck(t *testing.T) {
	m := mvcc.NewManager()
	tbl, _ := NewTable(usersSchema())

	a := m.Begin()
	b := m.Begin()

	if _, err := tbl.Insert(userRow(1, "dup@x.io", 1), a, m); err != nil {
		t.Fatalf("A insert failed: %v", err)
	}
	// B's snapshot does not see A's uncommitted row.
	if _, err := tbl.Insert(userRow(2, "dup@x.io", 2), b, m); err != nil {
		t.Fatalf("B insert failed: %v", err)
	}

	if err := m.Commit(a, 0); err != nil {
		t.Fatalf("A commit failed: %v", err)
	}

	// B must now fail the commit-time recheck.
	var failed bool
	for _, ref := range b.Writes() {
		if err := tbl.RecheckUnique(ref, b, m); err != nil {
			failed = true
		}
	}
	if !failed {
		t.Error("Expected commit-time unique violation for B")
	}
	m.Abort(b)
}

func TestSnapshotIsolationOnUpdate(t *testing.T) {
	m := mvcc.NewManager()
	tbl, _ := NewTable(usersSchema())
	rowID := mustInsert(t, tbl, m, userRow(1, "a@x.io", 30))

	reader := m.Begin()

	writer := m.Begin()
	if err := tbl.Update(rowID, userRow(1, "a@x.io", 31), writer, m); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if err := m.Commit(writer, 0); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	rows := scanAll(tbl, reader, m)
	if len(rows) != 1 || rows[0][2].Int != 30 {
		t.Errorf("Reader should still see age 30, got %v", rows)
	}

	late := m.Begin()
	rows = scanAll(tbl, late, m)
	if len(rows) != 1 || rows[0][2].Int != 31 {
		t.Errorf("New txn should see age 31, got %v", rows)
	}
}

func TestWriteWriteConflictDetection(t *testing.T) {
	m := mvcc.NewManager()
	tbl, _ := NewTable(usersSchema())
	rowID := mustInsert(t, tbl, m, userRow(1, "a@x.io", 30))

	a := m.Begin()
	b := m.Begin()

	if err := tbl.Update(rowID, userRow(1, "a@x.io", 31), a, m); err != nil {
		t.Fatalf("A update failed: %v", err)
	}
	if err := tbl.Update(rowID, userRow(1, "a@x.io", 32), b, m); err != nil {
		t.Fatalf("B update failed: %v", err)
	}

	if err := m.Commit(a, 0); err != nil {
		t.Fatalf("A commit failed: %v", err)
	}

	var conflicted bool
	for _, ref := range b.Writes() {
		if ref.Kind != mvcc.WriteInsert && tbl.ConflictsWith(ref, b, m) {
			conflicted = true
		}
	}
	if !conflicted {
		t.Fatal("Expected write-write conflict for B")
	}
	m.Abort(b)
	for _, ref := range b.Writes() {
		tbl.RepairAborted(ref.RowID, b, m)
	}

	// The winner's update survives, exactly once.
	r := m.Begin()
	rows := scanAll(tbl, r, m)
	if len(rows) != 1 || rows[0][2].Int != 31 {
		t.Errorf("Expected single row with age 31, got %v", rows)
	}
}

func TestLoserFirstWriterDoesNotResurrect(t *testing.T) {
	m := mvcc.NewManager()
	tbl, _ := NewTable(usersSchema())
	rowID := mustInsert(t, tbl, m, userRow(1, "a@x.io", 30))

	a := m.Begin()
	b := m.Begin()

	// A writes first but B commits first; A aborts and repairs.
	if err := tbl.Update(rowID, userRow(1, "a@x.io", 31), a, m); err != nil {
		t.Fatalf("A update failed: %v", err)
	}
	if err := tbl.Update(rowID, userRow(1, "a@x.io", 32), b, m); err != nil {
		t.Fatalf("B update failed: %v", err)
	}
	if err := m.Commit(b, 0); err != nil {
		t.Fatalf("B commit failed: %v", err)
	}
	m.Abort(a)
	for _, ref := range a.Writes() {
		tbl.RepairAborted(ref.RowID, a, m)
	}

	r := m.Begin()
	rows := scanAll(tbl, r, m)
	if len(rows) != 1 {
		t.Fatalf("Expected exactly one visible row, got %d", len(rows))
	}
	if rows[0][2].Int != 32 {
		t.Errorf("Expected the committed age 32, got %v", rows[0][2].Display())
	}
}

func TestDeleteAndVacuum(t *testing.T) {
	m := mvcc.NewManager()
	tbl, _ := NewTable(usersSchema())
	rowID := mustInsert(t, tbl, m, userRow(1, "a@x.io", 30))
	mustInsert(t, tbl, m, userRow(2, "b@x.io", 25))

	del := m.Begin()
	if err := tbl.Delete(rowID, del, m); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := m.Commit(del, 0); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	r := m.Begin()
	if got := len(scanAll(tbl, r, m)); got != 1 {
		t.Fatalf("Expected 1 visible row after delete, got %d", got)
	}
	m.Abort(r)

	before := tbl.VersionCount()
	freed := tbl.Vacuum(m.VacuumHorizon(), m)
	if freed != 1 {
		t.Errorf("Expected 1 version freed, got %d", freed)
	}
	if tbl.VersionCount() != before-1 {
		t.Errorf("Version count should shrink by 1")
	}

	r2 := m.Begin()
	if got := len(scanAll(tbl, r2, m)); got != 1 {
		t.Errorf("Vacuum changed visibility: %d rows", got)
	}
}

func TestVacuumPreservesOldSnapshots(t *testing.T) {
	m := mvcc.NewManager()
	tbl, _ := NewTable(usersSchema())
	rowID := mustInsert(t, tbl, m, userRow(1, "a@x.io", 30))

	oldReader := m.Begin()

	del := m.Begin()
	if err := tbl.Delete(rowID, del, m); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := m.Commit(del, 0); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	// oldReader still sees the row, so vacuum must not remove it.
	tbl.Vacuum(m.VacuumHorizon(), m)
	if got := len(scanAll(tbl, oldReader, m)); got != 1 {
		t.Errorf("Vacuum removed a row visible to a live snapshot")
	}
}

func TestCloneIsolation(t *testing.T) {
	m := mvcc.NewManager()
	tbl, _ := NewTable(usersSchema())
	for i := int64(1); i <= 100; i++ {
		mustInsert(t, tbl, m, userRow(i, core.NewInteger(i).Display()+"@x.io", i))
	}

	m2 := m.Clone()
	fork := tbl.Clone()

	w := m2.Begin()
	fork.Scan(w, m2, func(rowID uint64, _ core.Row) bool {
		if err := fork.Delete(rowID, w, m2); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		return true
	})
	if err := m2.Commit(w, 0); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	origReader := m.Begin()
	if got := len(scanAll(tbl, origReader, m)); got != 100 {
		t.Errorf("Original lost rows after fork mutation: %d", got)
	}
	forkReader := m2.Begin()
	if got := len(scanAll(fork, forkReader, m2)); got != 0 {
		t.Errorf("Fork should be empty, has %d", got)
	}
}

func TestLookupByIndex(t *testing.T) {
	m := mvcc.NewManager()
	tbl, _ := NewTable(usersSchema())
	if err := tbl.CreateIndex("users_age_idx", []string{"age"}, false); err != nil {
		t.Fatalf("CreateIndex failed: %v", err)
	}
	mustInsert(t, tbl, m, userRow(1, "a@x.io", 30))
	mustInsert(t, tbl, m, userRow(2, "b@x.io", 30))
	mustInsert(t, tbl, m, userRow(3, "c@x.io", 40))

	r := m.Begin()
	var hits int
	err := tbl.Lookup("users_age_idx", core.Row{core.NewInteger(30)}, r, m, func(_ uint64, _ core.Row) bool {
		hits++
		return true
	})
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if hits != 2 {
		t.Errorf("Expected 2 hits, got %d", hits)
	}
}

func TestAlterTable(t *testing.T) {
	m := mvcc.NewManager()
	tbl, _ := NewTable(usersSchema())
	mustInsert(t, tbl, m, userRow(1, "a@x.io", 30))

	if err := tbl.AddColumn(core.Column{Name: "city", Type: core.TextType, Nullable: true}, core.Null()); err != nil {
		t.Fatalf("AddColumn failed: %v", err)
	}
	r := m.Begin()
	rows := scanAll(tbl, r, m)
	if len(rows[0]) != 4 || !rows[0][3].IsNull() {
		t.Errorf("Expected NULL backfill, got %v", rows[0])
	}
	m.Abort(r)

	if err := tbl.RenameColumn("city", "town"); err != nil {
		t.Fatalf("RenameColumn failed: %v", err)
	}
	if tbl.Schema.ColumnIndex("town") != 3 {
		t.Error("RenameColumn did not take")
	}

	if err := tbl.DropColumn("town"); err != nil {
		t.Fatalf("DropColumn failed: %v", err)
	}
	if err := tbl.DropColumn("email"); err == nil {
		t.Error("DropColumn of an indexed column should fail")
	}

	if err := tbl.AddColumn(core.Column{Name: "must", Type: core.IntegerType}, core.Null()); !core.IsKind(err, core.KindConstraintViolation) {
		t.Errorf("Expected ConstraintViolation for non-nullable column without default, got %v", err)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	m := mvcc.NewManager()
	tbl, _ := NewTable(usersSchema())
	mustInsert(t, tbl, m, userRow(1, "a@x.io", 30))
	mustInsert(t, tbl, m, userRow(2, "b@x.io", 40))

	state := tbl.Export(m)
	back, err := ImportTable(state)
	if err != nil {
		t.Fatalf("ImportTable failed: %v", err)
	}

	m2 := mvcc.NewManager()
	m2.Restore(m.NextID())
	r := m2.Begin()
	if got := len(scanAll(back, r, m2)); got != 2 {
		t.Errorf("Expected 2 rows after round trip, got %d", got)
	}
	if len(back.Indexes()) != len(tbl.Indexes()) {
		t.Error("Index metadata lost in round trip")
	}
}
