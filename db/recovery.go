package db

import (
	"context"
	"encoding/json"

	"github.com/go-git/go-billy/v6"
	"github.com/go-git/go-billy/v6/osfs"
	log "github.com/sirupsen/logrus"

	"github.com/maxBogovick/memodb/core"
	"github.com/maxBogovick/memodb/mvcc"
	"github.com/maxBogovick/memodb/storage"
	"github.com/maxBogovick/memodb/wal"
)

const (
	walDir      = "wal"
	snapshotDir = "snapshots"
)

// EnablePersistence attaches a WAL and snapshot directory rooted at dir
// and recovers any state already there. Call it before concurrent use.
func (e *Engine) EnablePersistence(dir string, mode wal.Mode) error {
	return e.enablePersistenceFS(osfs.New(dir), dir, mode)
}

// EnablePersistenceFS is EnablePersistence over an explicit filesystem;
// tests use memfs to exercise the full durability path in memory.
func (e *Engine) EnablePersistenceFS(fs billy.Filesystem, mode wal.Mode) error {
	return e.enablePersistenceFS(fs, "", mode)
}

func (e *Engine) enablePersistenceFS(fs billy.Filesystem, root string, mode wal.Mode) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.log() != nil {
		return core.Errorf(core.KindExecution, "persistence is already enabled")
	}

	l, err := wal.Open(fs, walDir, mode)
	if err != nil {
		return err
	}

	if err := e.recover(fs, l); err != nil {
		l.Close()
		return err
	}

	e.walMu.Lock()
	e.wal = l
	e.persistRoot = root
	e.walFS = fs
	e.walMu.Unlock()
	return nil
}

// recover restores the newest usable snapshot and replays the WAL tail:
// first pass finds committed transactions, second pass applies their
// records in LSN order. Transactions without a terminal record, or with an
// abort, are skipped entirely.
func (e *Engine) recover(fs billy.Filesystem, l *wal.Log) error {
	snap, err := wal.LoadLatestSnapshot(fs, snapshotDir, l.LSN())
	if err != nil {
		return err
	}

	catalog := storage.NewCatalog()
	var fromLSN uint64
	var maxTxn mvcc.TxnID

	if snap != nil {
		for _, state := range snap.Tables {
			table, err := storage.ImportTable(state)
			if err != nil {
				return err
			}
			catalog = catalog.WithTable(table)
		}
		for _, view := range snap.Views {
			catalog = catalog.WithView(view)
		}
		fromLSN = snap.LSN
		maxTxn = mvcc.TxnID(snap.NextTxn) - 1
	}
	e.catalog.Store(catalog)

	committed := map[uint64]bool{}
	if err := l.Replay(func(rec *wal.Record) error {
		if rec.LSN <= fromLSN {
			return nil
		}
		if rec.Type == wal.RecordCommit {
			committed[rec.Txn] = true
		}
		return nil
	}); err != nil {
		return err
	}

	applied := 0
	if err := l.Replay(func(rec *wal.Record) error {
		if rec.LSN <= fromLSN {
			return nil
		}
		if mvcc.TxnID(rec.Txn) > maxTxn {
			maxTxn = mvcc.TxnID(rec.Txn)
		}
		switch rec.Type {
		case wal.RecordDDL:
			var op ddlOp
			if err := json.Unmarshal([]byte(rec.DDL), &op); err != nil {
				return core.WrapErr(core.KindExecution, err, "bad DDL record at lsn %d", rec.LSN)
			}
			if err := e.applyDDL(op); err != nil {
				return err
			}
			applied++
		case wal.RecordInsert, wal.RecordUpdate, wal.RecordDelete:
			if !committed[rec.Txn] {
				return nil
			}
			table, ok := e.catalog.Load().Get(rec.Table)
			if !ok {
				// Table dropped later in the log; the drop will replay.
				return nil
			}
			switch rec.Type {
			case wal.RecordInsert:
				table.ApplyInsert(rec.RowID, rec.Payload, mvcc.TxnID(rec.Txn))
			case wal.RecordUpdate:
				table.ApplyUpdate(rec.RowID, rec.Payload, mvcc.TxnID(rec.Txn))
			case wal.RecordDelete:
				table.ApplyDelete(rec.RowID, mvcc.TxnID(rec.Txn))
			}
			applied++
		}
		return nil
	}); err != nil {
		return err
	}

	e.txns.Restore(maxTxn + 1)
	if applied > 0 || snap != nil {
		log.WithFields(log.Fields{
			"snapshot_lsn": fromLSN,
			"records":      applied,
			"next_txn":     maxTxn + 1,
		}).Info("recovered engine state")
	}
	return nil
}

// Checkpoint writes a full-state snapshot, marks it in the WAL, and prunes
// WAL segments and older snapshots that the new snapshot covers.
func (e *Engine) Checkpoint() error {
	l := e.log()
	if l == nil {
		return core.Errorf(core.KindExecution, "persistence is not enabled")
	}

	e.mu.RLock()
	catalog := e.catalog.Load()
	state := &wal.SnapshotState{
		LSN:     l.LSN(),
		NextTxn: uint64(e.txns.NextID()),
	}
	for _, name := range catalog.List() {
		table, _ := catalog.Get(name)
		state.Tables = append(state.Tables, table.Export(e.txns))
	}
	for _, name := range catalog.ListViews() {
		view, _ := catalog.View(name)
		state.Views = append(state.Views, view)
	}
	e.mu.RUnlock()

	if _, err := wal.WriteSnapshot(e.walFS, snapshotDir, state); err != nil {
		return err
	}
	if err := l.MarkSnapshot(state.LSN); err != nil {
		return err
	}
	if err := l.Prune(state.LSN); err != nil {
		return err
	}
	return wal.PruneSnapshots(e.walFS, snapshotDir, 3)
}

// Vacuum reclaims row versions no current or future reader can see and
// returns how many were removed.
func (e *Engine) Vacuum() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	horizon := e.txns.VacuumHorizon()
	catalog := e.catalog.Load()
	freed := 0
	for _, name := range catalog.List() {
		table, _ := catalog.Get(name)
		freed += table.Vacuum(horizon, e.txns)
	}
	e.txns.ForgetAborted(horizon)
	vacuumedVersionsTotal.Add(float64(freed))
	log.WithFields(log.Fields{"freed": freed, "horizon": horizon}).Debug("vacuum complete")
	return freed
}

// ArchiveSnapshot uploads the newest snapshot pair to a remote or local
// destination (s3://bucket/prefix, file://dir, or a plain path).
func (e *Engine) ArchiveSnapshot(ctx context.Context, dest string, cfg *wal.RemoteConfig) error {
	e.walMu.Lock()
	fs := e.walFS
	e.walMu.Unlock()
	if fs == nil {
		return core.Errorf(core.KindExecution, "persistence is not enabled")
	}
	return wal.ArchiveSnapshot(ctx, fs, snapshotDir, dest, cfg)
}

// Fork returns an O(1) clone of the in-memory state. The fork shares no
// WAL directory; enable persistence on it separately if needed.
func (e *Engine) Fork() *Engine {
	e.mu.Lock()
	defer e.mu.Unlock()

	clone := NewEngine()
	clone.catalog.Store(e.catalog.Load().Fork())
	clone.txns = e.txns.Clone()
	return clone
}

// Close flushes and detaches the WAL.
func (e *Engine) Close() error {
	e.abortSession()
	e.walMu.Lock()
	l := e.wal
	e.wal = nil
	e.walMu.Unlock()
	if l != nil {
		return l.Close()
	}
	return nil
}
