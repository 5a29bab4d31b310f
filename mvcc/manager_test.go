package mvcc

import "testing"

func TestSnapshotExcludesConcurrentCommit(t *testing.T) {
	m := NewManager()

	a := m.Begin()
	b := m.Begin()

	// B commits while A is running; A's snapshot must not see B.
	if err := m.Commit(b, 1); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	if a.CanSee(b.ID, 0, m) {
		t.Error("A should not see a version created by a txn that began after A's snapshot")
	}

	c := m.Begin()
	if !c.CanSee(b.ID, 0, m) {
		t.Error("a txn begun after B's commit should see B's versions")
	}
}

func TestOwnWritesAreVisible(t *testing.T) {
	m := NewManager()
	a := m.Begin()

	if !a.CanSee(a.ID, 0, m) {
		t.Error("a txn should see its own versions")
	}
	if a.CanSee(a.ID, a.ID, m) {
		t.Error("a txn should not see versions it tombstoned itself")
	}
}

func TestAbortedWriterIsInvisible(t *testing.T) {
	m := NewManager()

	w := m.Begin()
	m.Abort(w)

	r := m.Begin()
	if r.CanSee(w.ID, 0, m) {
		t.Error("versions of an aborted txn must be invisible")
	}
}

func TestAbortedDeleterKeepsRowVisible(t *testing.T) {
	m := NewManager()

	creator := m.Begin()
	if err := m.Commit(creator, 1); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	deleter := m.Begin()
	m.Abort(deleter)

	r := m.Begin()
	if !r.CanSee(creator.ID, deleter.ID, m) {
		t.Error("a tombstone from an aborted txn must not hide the row")
	}
}

func TestActiveSetSnapshotIsStable(t *testing.T) {
	m := NewManager()

	longRunner := m.Begin()
	reader := m.Begin()

	// longRunner commits after reader began; reader captured it active.
	if err := m.Commit(longRunner, 1); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	if reader.CanSee(longRunner.ID, 0, m) {
		t.Error("a commit after the reader's begin must stay invisible to the reader")
	}
}

func TestVacuumHorizon(t *testing.T) {
	m := NewManager()

	a := m.Begin()
	if err := m.Commit(a, 1); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	b := m.Begin()
	if got := m.VacuumHorizon(); got != b.ID {
		t.Errorf("Expected horizon %d, got %d", b.ID, got)
	}

	m.Abort(b)
	if got := m.VacuumHorizon(); got != m.NextID() {
		t.Errorf("Expected horizon to advance to next id, got %d", got)
	}
}

func TestDoubleCommitFails(t *testing.T) {
	m := NewManager()
	a := m.Begin()
	if err := m.Commit(a, 1); err != nil {
		t.Fatalf("first Commit failed: %v", err)
	}
	if err := m.Commit(a, 2); err == nil {
		t.Error("second Commit should fail")
	}
}

func TestCloneAbortsInFlight(t *testing.T) {
	m := NewManager()
	inflight := m.Begin()

	clone := m.Clone()
	if !clone.IsAborted(inflight.ID) {
		t.Error("in-flight txns must read as aborted on the clone")
	}
	if m.IsAborted(inflight.ID) {
		t.Error("cloning must not abort the original's txn")
	}
}
