package mvcc

import (
	"sync"

	"github.com/maxBogovick/memodb/core"
)

// Manager owns transaction ids and lifecycle state. All methods are safe
// for concurrent use.
type Manager struct {
	mu sync.Mutex

	next             TxnID
	highestCommitted TxnID
	active           map[TxnID]*Txn
	aborted          map[TxnID]struct{}
}

// NewManager returns a manager whose first transaction id is 1.
func NewManager() *Manager {
	return &Manager{
		next:    1,
		active:  map[TxnID]*Txn{},
		aborted: map[TxnID]struct{}{},
	}
}

// Begin assigns a new id and captures the current snapshot.
func (m *Manager) Begin() *Txn {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.next
	m.next++

	snap := Snapshot{
		HighestCommitted: m.highestCommitted,
		Active:           make(map[TxnID]struct{}, len(m.active)),
		LowestActive:     id,
	}
	for other := range m.active {
		snap.Active[other] = struct{}{}
		if other < snap.LowestActive {
			snap.LowestActive = other
		}
	}

	txn := &Txn{ID: id, Snapshot: snap, State: StateRunning}
	m.active[id] = txn
	return txn
}

// Commit marks the transaction committed and advances the commit horizon.
// Conflict detection happens in storage before this is called; Commit
// itself only flips state.
func (m *Manager) Commit(txn *Txn, lsn uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.active[txn.ID]; !ok {
		return core.Errorf(core.KindExecution, "transaction %d is not running", txn.ID)
	}
	delete(m.active, txn.ID)
	txn.State = StateCommitted
	txn.CommitLSN = lsn
	if txn.ID > m.highestCommitted {
		m.highestCommitted = txn.ID
	}
	return nil
}

// Abort marks the transaction aborted. Versions it produced are skipped by
// every future visibility check and reclaimed by vacuum.
func (m *Manager) Abort(txn *Txn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.active[txn.ID]; !ok {
		return
	}
	delete(m.active, txn.ID)
	txn.State = StateAborted
	m.aborted[txn.ID] = struct{}{}
}

// IsCommitted implements StateSource. An id is committed when it has been
// assigned, is not running, and was not aborted.
func (m *Manager) IsCommitted(id TxnID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id == 0 || id >= m.next {
		return false
	}
	if _, running := m.active[id]; running {
		return false
	}
	_, aborted := m.aborted[id]
	return !aborted
}

// IsAborted implements StateSource.
func (m *Manager) IsAborted(id TxnID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.aborted[id]
	return ok
}

// IsActive reports whether the id is currently running.
func (m *Manager) IsActive(id TxnID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.active[id]
	return ok
}

// VacuumHorizon returns the id below which no current or future snapshot
// can observe an uncommitted state: the lowest active id, or the next id
// when nothing is running. A tombstone whose deleter committed below this
// horizon can never become visible again.
func (m *Manager) VacuumHorizon() TxnID {
	m.mu.Lock()
	defer m.mu.Unlock()

	horizon := m.next
	for id, txn := range m.active {
		if id < horizon {
			horizon = id
		}
		if txn.Snapshot.LowestActive < horizon {
			horizon = txn.Snapshot.LowestActive
		}
	}
	return horizon
}

// NextID reports the next id the manager would assign; recovery uses it to
// seed a replayed engine.
func (m *Manager) NextID() TxnID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.next
}

// Restore resets the manager after replay: every id below next is treated
// as committed.
func (m *Manager) Restore(next TxnID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if next < 1 {
		next = 1
	}
	m.next = next
	m.highestCommitted = next - 1
	m.active = map[TxnID]*Txn{}
	m.aborted = map[TxnID]struct{}{}
}

// ForgetAborted drops aborted-set entries below the horizon once vacuum has
// physically removed the versions that referenced them.
func (m *Manager) ForgetAborted(horizon TxnID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id := range m.aborted {
		if id < horizon {
			delete(m.aborted, id)
		}
	}
}

// Clone duplicates the manager state for an engine fork.
func (m *Manager) Clone() *Manager {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := NewManager()
	out.next = m.next
	out.highestCommitted = m.highestCommitted
	for id := range m.aborted {
		out.aborted[id] = struct{}{}
	}
	// Running transactions do not cross a fork. Their ids are marked
	// aborted on the clone so versions they wrote stay invisible there.
	for id := range m.active {
		out.aborted[id] = struct{}{}
	}
	return out
}
