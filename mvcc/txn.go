package mvcc

// TxnID identifies a transaction. Ids are assigned monotonically; 0 is
// reserved and never assigned.
type TxnID uint64

// TxnState is the lifecycle state of a transaction.
type TxnState int

const (
	StateRunning TxnState = iota
	StateCommitted
	StateAborted
)

func (s TxnState) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateCommitted:
		return "committed"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Snapshot captures the visibility horizon of a transaction at begin time.
type Snapshot struct {
	// LowestActive is the smallest id that was running at begin time, or
	// the snapshot owner's id when nothing else was running.
	LowestActive TxnID
	// HighestCommitted is the largest id that had committed at begin time.
	HighestCommitted TxnID
	// Active holds the ids that were running at begin time.
	Active map[TxnID]struct{}
}

// Contains reports whether id was running when the snapshot was taken.
func (s Snapshot) Contains(id TxnID) bool {
	_, ok := s.Active[id]
	return ok
}

// WriteKind tags an entry in a transaction's write-set.
type WriteKind int

const (
	WriteInsert WriteKind = iota
	WriteUpdate
	WriteDelete
)

// WriteRef records one row touched by a transaction, for rollback,
// statement-level undo, and commit-time conflict and unique
// re-validation. Positions index the table's version sequence, which is
// append-only, so they stay valid for the life of the transaction.
type WriteRef struct {
	Kind  WriteKind
	Table string
	RowID uint64
	// BaseCreator is the creator of the version this write superseded
	// (updates and deletes only).
	BaseCreator TxnID
	// BasePos is the position of the superseded version; NewPos the
	// position of the version this write appended. -1 when absent.
	BasePos int
	NewPos  int
}

// Txn is the per-transaction record owned by the Manager.
type Txn struct {
	ID        TxnID
	Snapshot  Snapshot
	State     TxnState
	CommitLSN uint64

	writes []WriteRef
}

// RecordWrite appends a row reference to the transaction's write-set.
func (t *Txn) RecordWrite(ref WriteRef) {
	t.writes = append(t.writes, ref)
}

// Writes returns the transaction's write-set in write order.
func (t *Txn) Writes() []WriteRef {
	return t.writes
}

// WriteCount returns the current write-set length; a statement records it
// on entry so a failed statement can undo its own suffix.
func (t *Txn) WriteCount() int {
	return len(t.writes)
}

// WritesSince returns the write-set suffix added after mark.
func (t *Txn) WritesSince(mark int) []WriteRef {
	if mark >= len(t.writes) {
		return nil
	}
	return t.writes[mark:]
}

// TruncateWrites drops the write-set suffix added after mark.
func (t *Txn) TruncateWrites(mark int) {
	if mark < len(t.writes) {
		t.writes = t.writes[:mark]
	}
}

// StateSource answers terminal-state questions about other transactions.
// It is implemented by the Manager; storage consults it during visibility
// checks without taking the manager apart.
type StateSource interface {
	IsCommitted(id TxnID) bool
	IsAborted(id TxnID) bool
}

// seesCreator reports whether the transaction observes the effects of the
// given writer: its own writes always, otherwise only writers that had
// committed when the snapshot was taken.
func (t *Txn) seesCreator(id TxnID, src StateSource) bool {
	if id == t.ID {
		return true
	}
	if !src.IsCommitted(id) {
		return false
	}
	if t.Snapshot.Contains(id) {
		return false
	}
	return id <= t.Snapshot.HighestCommitted
}

// CanSee applies the visibility rule to a row version: the creator must be
// visible to the snapshot and the deleter, if set, must not be.
func (t *Txn) CanSee(createdBy, deletedBy TxnID, src StateSource) bool {
	if src.IsAborted(createdBy) {
		return false
	}
	if !t.seesCreator(createdBy, src) {
		return false
	}
	if deletedBy == 0 || src.IsAborted(deletedBy) {
		return true
	}
	return !t.seesCreator(deletedBy, src)
}

// ObservedAtBegin reports whether the given writer's commits were part of
// this transaction's snapshot. Commit-time conflict detection uses the
// negation: a committed writer outside the snapshot is a concurrent writer.
func (t *Txn) ObservedAtBegin(id TxnID) bool {
	return id != t.ID && !t.Snapshot.Contains(id) && id <= t.Snapshot.HighestCommitted
}
