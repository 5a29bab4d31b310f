package db

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/go-git/go-billy/v6"
	lru "github.com/hashicorp/golang-lru"
	log "github.com/sirupsen/logrus"

	"github.com/maxBogovick/memodb/core"
	"github.com/maxBogovick/memodb/mvcc"
	"github.com/maxBogovick/memodb/sql"
	"github.com/maxBogovick/memodb/storage"
	"github.com/maxBogovick/memodb/wal"
)

const stmtCacheSize = 256

// Engine is the memodb facade: it parses SQL, dispatches statements to the
// executors, owns the transaction manager and the durability wiring.
//
// Statement execution is serialized by one reader/writer lock: queries
// share it, writes take it exclusively. The catalog pointer is swapped
// atomically so a statement keeps the schema it started with.
type Engine struct {
	mu      sync.RWMutex
	catalog atomic.Pointer[storage.Catalog]
	txns    *mvcc.Manager

	walMu sync.Mutex // guards wal replacement, not appends
	wal   *wal.Log
	walFS billy.Filesystem

	persistRoot string

	sessionMu  sync.Mutex
	sessionTxn *activeTxn

	stmtCache *lru.Cache
}

// activeTxn couples an engine transaction with the WAL records it will
// flush at commit. Records are buffered so an aborted transaction or an
// undone statement never reaches the log.
type activeTxn struct {
	txn     *mvcc.Txn
	pending []*wal.Record
}

func (a *activeTxn) buffer(rec *wal.Record) {
	rec.Txn = uint64(a.txn.ID)
	a.pending = append(a.pending, rec)
}

// NewEngine creates an in-memory engine without durability. Call
// EnablePersistence to attach a WAL and snapshot directory.
func NewEngine() *Engine {
	e := &Engine{txns: mvcc.NewManager()}
	e.catalog.Store(storage.NewCatalog())
	cache, _ := lru.New(stmtCacheSize)
	e.stmtCache = cache
	return e
}

// Catalog returns the current catalog reference. The returned value is
// immutable; concurrent DDL swaps the pointer without disturbing readers.
func (e *Engine) Catalog() *storage.Catalog {
	return e.catalog.Load()
}

// Execute parses and runs every statement in the input, returning the
// result of the last one.
func (e *Engine) Execute(ctx context.Context, input string) (*QueryResult, error) {
	return e.execute(ctx, input, nil)
}

// execute runs statements under an optional forced transaction; the
// Transaction helper uses it so concurrent transactions do not contend
// for the single SQL session.
func (e *Engine) execute(ctx context.Context, input string, forced *activeTxn) (*QueryResult, error) {
	stmts, err := e.parse(input)
	if err != nil {
		return nil, err
	}
	var result *QueryResult
	for _, stmt := range stmts {
		if err := ctx.Err(); err != nil {
			e.abortSession()
			return nil, core.WrapErr(core.KindExecution, err, "statement cancelled")
		}
		result, err = e.run(ctx, stmt, forced)
		if err != nil {
			return nil, err
		}
	}
	if result == nil {
		result = &QueryResult{}
	}
	return result, nil
}

// Query is an alias of Execute for read-oriented call sites.
func (e *Engine) Query(ctx context.Context, input string) (*QueryResult, error) {
	return e.Execute(ctx, input)
}

func (e *Engine) parse(input string) ([]sql.Statement, error) {
	if cached, ok := e.stmtCache.Get(input); ok {
		return cached.([]sql.Statement), nil
	}
	stmts, err := sql.NewParser(input).ParseAll()
	if err != nil {
		return nil, err
	}
	e.stmtCache.Add(input, stmts)
	return stmts, nil
}

func (e *Engine) run(ctx context.Context, stmt sql.Statement, forced *activeTxn) (*QueryResult, error) {
	if forced != nil {
		switch stmt.(type) {
		case sql.BeginStatement, sql.CommitStatement, sql.RollbackStatement:
			return nil, core.Errorf(core.KindExecution, "transaction control is managed by the Transaction helper")
		case sql.CreateTableStatement, sql.DropTableStatement, sql.CreateIndexStatement,
			sql.DropIndexStatement, sql.CreateViewStatement, sql.DropViewStatement,
			sql.AlterTableStatement:
			return nil, core.Errorf(core.KindExecution, "DDL is not allowed inside a transaction")
		}
	}
	switch s := stmt.(type) {
	case *sql.SelectStatement:
		statementsTotal.WithLabelValues("select").Inc()
		e.mu.RLock()
		defer e.mu.RUnlock()
		return e.executeSelectStatement(ctx, s, forced)

	case sql.ExplainStatement:
		statementsTotal.WithLabelValues("explain").Inc()
		e.mu.RLock()
		defer e.mu.RUnlock()
		return e.executeExplainStatement(s)

	case sql.DescribeStatement:
		statementsTotal.WithLabelValues("describe").Inc()
		e.mu.RLock()
		defer e.mu.RUnlock()
		return e.executeDescribeStatement(s)

	case sql.ShowTablesStatement:
		statementsTotal.WithLabelValues("show").Inc()
		e.mu.RLock()
		defer e.mu.RUnlock()
		return e.executeShowTablesStatement()

	case sql.ShowIndexesStatement:
		statementsTotal.WithLabelValues("show").Inc()
		e.mu.RLock()
		defer e.mu.RUnlock()
		return e.executeShowIndexesStatement(s)

	case sql.InsertStatement:
		statementsTotal.WithLabelValues("insert").Inc()
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.executeInsertStatement(ctx, s, forced)

	case sql.UpdateStatement:
		statementsTotal.WithLabelValues("update").Inc()
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.executeUpdateStatement(ctx, s, forced)

	case sql.DeleteStatement:
		statementsTotal.WithLabelValues("delete").Inc()
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.executeDeleteStatement(ctx, s, forced)

	case sql.CreateTableStatement:
		statementsTotal.WithLabelValues("ddl").Inc()
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.executeCreateTableStatement(s)

	case sql.DropTableStatement:
		statementsTotal.WithLabelValues("ddl").Inc()
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.executeDropTableStatement(s)

	case sql.CreateIndexStatement:
		statementsTotal.WithLabelValues("ddl").Inc()
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.executeCreateIndexStatement(s)

	case sql.DropIndexStatement:
		statementsTotal.WithLabelValues("ddl").Inc()
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.executeDropIndexStatement(s)

	case sql.CreateViewStatement:
		statementsTotal.WithLabelValues("ddl").Inc()
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.executeCreateViewStatement(s)

	case sql.DropViewStatement:
		statementsTotal.WithLabelValues("ddl").Inc()
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.executeDropViewStatement(s)

	case sql.AlterTableStatement:
		statementsTotal.WithLabelValues("ddl").Inc()
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.executeAlterTableStatement(s)

	case sql.BeginStatement:
		statementsTotal.WithLabelValues("begin").Inc()
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.executeBeginStatement()

	case sql.CommitStatement:
		statementsTotal.WithLabelValues("commit").Inc()
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.executeCommitStatement()

	case sql.RollbackStatement:
		statementsTotal.WithLabelValues("rollback").Inc()
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.executeRollbackStatement()

	default:
		return nil, core.Errorf(core.KindUnsupported, "unsupported statement type %T", stmt)
	}
}

// statementTxn returns the transaction a statement runs under: the forced
// one of a Transaction closure, the session's explicit one, or a fresh
// implicit single-statement one.
func (e *Engine) statementTxn(forced *activeTxn) (at *activeTxn, implicit bool) {
	if forced != nil {
		return forced, false
	}
	e.sessionMu.Lock()
	defer e.sessionMu.Unlock()
	if e.sessionTxn != nil {
		return e.sessionTxn, false
	}
	return &activeTxn{txn: e.txns.Begin()}, true
}

// commitTxn validates and commits: write-write conflicts and unique keys
// are re-checked against the committed state, the buffered records plus a
// commit record are flushed to the WAL per the durability mode, and the
// manager flips the transaction state.
func (e *Engine) commitTxn(at *activeTxn) error {
	txn := at.txn
	catalog := e.catalog.Load()

	for _, ref := range txn.Writes() {
		table, ok := catalog.Get(ref.Table)
		if !ok {
			continue // table dropped after the write; nothing to validate
		}
		if ref.Kind != mvcc.WriteInsert && table.ConflictsWith(ref, txn, e.txns) {
			e.abortTxn(at)
			conflictsTotal.Inc()
			return core.ConflictErr(core.ConflictWriteWrite,
				"write-write conflict on table %s", ref.Table)
		}
		if ref.Kind != mvcc.WriteDelete {
			if err := table.RecheckUnique(ref, txn, e.txns); err != nil {
				e.abortTxn(at)
				conflictsTotal.Inc()
				return err
			}
		}
	}

	var lsn uint64
	if l := e.log(); l != nil && len(at.pending) > 0 {
		if _, err := l.Append(&wal.Record{Type: wal.RecordBegin, Txn: uint64(txn.ID)}); err != nil {
			e.abortTxn(at)
			return core.WrapErr(core.KindExecution, err, "WAL append failed")
		}
		for _, rec := range at.pending {
			if _, err := l.Append(rec); err != nil {
				e.abortTxn(at)
				return core.WrapErr(core.KindExecution, err, "WAL append failed")
			}
			walRecordsTotal.Inc()
		}
		var err error
		lsn, err = l.Append(&wal.Record{Type: wal.RecordCommit, Txn: uint64(txn.ID)})
		if err != nil {
			// A failed flush or fsync fails the commit.
			e.abortTxn(at)
			return core.WrapErr(core.KindExecution, err, "WAL commit failed")
		}
		walRecordsTotal.Inc()
	}

	if err := e.txns.Commit(txn, lsn); err != nil {
		return err
	}
	commitsTotal.Inc()
	return nil
}

// abortTxn rolls a transaction back: the manager marks it aborted, its
// tombstones are repaired, and its buffered WAL records are dropped.
func (e *Engine) abortTxn(at *activeTxn) {
	txn := at.txn
	e.txns.Abort(txn)
	catalog := e.catalog.Load()
	repaired := map[string]map[uint64]bool{}
	for _, ref := range txn.Writes() {
		if ref.Kind == mvcc.WriteInsert {
			continue
		}
		if repaired[ref.Table] == nil {
			repaired[ref.Table] = map[uint64]bool{}
		}
		if repaired[ref.Table][ref.RowID] {
			continue
		}
		repaired[ref.Table][ref.RowID] = true
		if table, ok := catalog.Get(ref.Table); ok {
			table.RepairAborted(ref.RowID, txn, e.txns)
		}
	}
	at.pending = nil
	abortsTotal.Inc()
}

// undoStatement reverses the writes and buffered WAL records a failed
// statement produced, leaving the enclosing transaction usable.
func (e *Engine) undoStatement(at *activeTxn, writeMark, walMark int) {
	catalog := e.catalog.Load()
	refs := at.txn.WritesSince(writeMark)
	for i := len(refs) - 1; i >= 0; i-- {
		if table, ok := catalog.Get(refs[i].Table); ok {
			table.UndoWrite(refs[i], at.txn)
		}
	}
	at.txn.TruncateWrites(writeMark)
	if walMark <= len(at.pending) {
		at.pending = at.pending[:walMark]
	}
}

// finishWrite completes a DML statement: implicit transactions commit (or
// abort on error); explicit ones stay open, undoing only the failed
// statement's effects.
func (e *Engine) finishWrite(at *activeTxn, implicit bool, writeMark, walMark int, execErr error) error {
	if execErr != nil {
		if implicit {
			e.abortTxn(at)
		} else {
			e.undoStatement(at, writeMark, walMark)
		}
		return execErr
	}
	if implicit {
		return e.commitTxn(at)
	}
	return nil
}

func (e *Engine) executeBeginStatement() (*QueryResult, error) {
	e.sessionMu.Lock()
	defer e.sessionMu.Unlock()
	if e.sessionTxn != nil {
		return nil, core.Errorf(core.KindExecution, "transaction already in progress")
	}
	e.sessionTxn = &activeTxn{txn: e.txns.Begin()}
	return &QueryResult{}, nil
}

func (e *Engine) executeCommitStatement() (*QueryResult, error) {
	e.sessionMu.Lock()
	at := e.sessionTxn
	e.sessionTxn = nil
	e.sessionMu.Unlock()
	if at == nil {
		return nil, core.Errorf(core.KindExecution, "no transaction in progress")
	}
	if err := e.commitTxn(at); err != nil {
		return nil, err
	}
	return &QueryResult{}, nil
}

func (e *Engine) executeRollbackStatement() (*QueryResult, error) {
	e.sessionMu.Lock()
	at := e.sessionTxn
	e.sessionTxn = nil
	e.sessionMu.Unlock()
	if at == nil {
		return nil, core.Errorf(core.KindExecution, "no transaction in progress")
	}
	e.abortTxn(at)
	return &QueryResult{}, nil
}

// abortSession aborts an open explicit transaction, if any. Used on
// cancellation so no partial state survives.
func (e *Engine) abortSession() {
	e.sessionMu.Lock()
	at := e.sessionTxn
	e.sessionTxn = nil
	e.sessionMu.Unlock()
	if at != nil {
		e.mu.Lock()
		e.abortTxn(at)
		e.mu.Unlock()
		log.WithField("txn", at.txn.ID).Debug("aborted session transaction on cancellation")
	}
}

func (e *Engine) log() *wal.Log {
	e.walMu.Lock()
	defer e.walMu.Unlock()
	return e.wal
}

// releaseTxn finishes a read-only statement's implicit transaction. Reads
// have no writes, so this is a plain manager commit without WAL traffic.
func (e *Engine) releaseTxn(at *activeTxn, implicit bool) {
	if !implicit {
		return
	}
	if len(at.txn.Writes()) == 0 {
		_ = e.txns.Commit(at.txn, 0)
		return
	}
	_ = e.commitTxn(at)
}
