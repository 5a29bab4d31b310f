package db

import (
	"context"

	"github.com/maxBogovick/memodb/core"
	"github.com/maxBogovick/memodb/sql"
	"github.com/maxBogovick/memodb/storage"
	"github.com/maxBogovick/memodb/wal"
)

func (e *Engine) executeInsertStatement(ctx context.Context, stmt sql.InsertStatement, forced *activeTxn) (*QueryResult, error) {
	table, ok := e.Catalog().Get(stmt.Table)
	if !ok {
		return nil, core.Errorf(core.KindTableNotFound, "table %q does not exist", stmt.Table)
	}

	at, implicit := e.statementTxn(forced)
	writeMark := at.txn.WriteCount()
	walMark := len(at.pending)

	affected, execErr := e.insertRows(table, stmt, at)
	if err := e.finishWrite(at, implicit, writeMark, walMark, execErr); err != nil {
		return nil, err
	}
	return &QueryResult{AffectedRows: affected}, nil
}

func (e *Engine) insertRows(table *storage.Table, stmt sql.InsertStatement, at *activeTxn) (int, error) {
	schema := table.Schema
	affected := 0

	for _, exprRow := range stmt.Rows {
		row := make(core.Row, len(schema.Columns))

		if len(stmt.Columns) == 0 {
			if len(exprRow) != len(schema.Columns) {
				return affected, core.Errorf(core.KindExecution,
					"table %s expects %d values, got %d", schema.Name, len(schema.Columns), len(exprRow))
			}
			for i, expr := range exprRow {
				v, err := Eval(&EvalContext{Engine: e, Txn: at.txn}, expr)
				if err != nil {
					return affected, err
				}
				row[i] = v
			}
		} else {
			if len(exprRow) != len(stmt.Columns) {
				return affected, core.Errorf(core.KindExecution,
					"INSERT has %d columns but %d values", len(stmt.Columns), len(exprRow))
			}
			for i, colName := range stmt.Columns {
				pos := schema.ColumnIndex(colName)
				if pos < 0 {
					return affected, core.Errorf(core.KindColumnNotFound,
						"column %q does not exist in table %s", colName, schema.Name)
				}
				v, err := Eval(&EvalContext{Engine: e, Txn: at.txn}, exprRow[i])
				if err != nil {
					return affected, err
				}
				row[pos] = v
			}
		}

		rowID, err := table.Insert(row, at.txn, e.txns)
		if err != nil {
			return affected, err
		}
		at.buffer(&wal.Record{Type: wal.RecordInsert, Table: schema.Name, RowID: rowID, Payload: row})
		affected++
	}
	return affected, nil
}

func (e *Engine) executeUpdateStatement(ctx context.Context, stmt sql.UpdateStatement, forced *activeTxn) (*QueryResult, error) {
	table, ok := e.Catalog().Get(stmt.Table)
	if !ok {
		return nil, core.Errorf(core.KindTableNotFound, "table %q does not exist", stmt.Table)
	}

	at, implicit := e.statementTxn(forced)
	writeMark := at.txn.WriteCount()
	walMark := len(at.pending)

	affected, execErr := e.updateRows(table, stmt, at)
	if err := e.finishWrite(at, implicit, writeMark, walMark, execErr); err != nil {
		return nil, err
	}
	return &QueryResult{AffectedRows: affected}, nil
}

func (e *Engine) updateRows(table *storage.Table, stmt sql.UpdateStatement, at *activeTxn) (int, error) {
	schema := table.Schema
	cols := make([]colInfo, len(schema.Columns))
	for i, col := range schema.Columns {
		cols[i] = colInfo{Table: schema.Name, Name: col.Name}
	}

	setters := make(map[int]sql.Expr, len(stmt.Sets))
	for _, set := range stmt.Sets {
		pos := schema.ColumnIndex(set.Column)
		if pos < 0 {
			return 0, core.Errorf(core.KindColumnNotFound,
				"column %q does not exist in table %s", set.Column, schema.Name)
		}
		setters[pos] = set.Value
	}

	// Select the candidate rows first; mutating while scanning would let
	// the scan observe its own writes.
	type candidate struct {
		rowID uint64
		row   core.Row
	}
	var matches []candidate
	var scanErr error
	table.Scan(at.txn, e.txns, func(rowID uint64, row core.Row) bool {
		if stmt.Where != nil {
			ok, err := evalBool(&EvalContext{Cols: cols, Row: row, Engine: e, Txn: at.txn}, stmt.Where)
			if err != nil {
				scanErr = err
				return false
			}
			if !ok {
				return true
			}
		}
		matches = append(matches, candidate{rowID: rowID, row: row.Clone()})
		return true
	})
	if scanErr != nil {
		return 0, scanErr
	}

	affected := 0
	for _, m := range matches {
		newRow := m.row.Clone()
		for pos, expr := range setters {
			v, err := Eval(&EvalContext{Cols: cols, Row: m.row, Engine: e, Txn: at.txn}, expr)
			if err != nil {
				return affected, err
			}
			newRow[pos] = v
		}
		if err := table.Update(m.rowID, newRow, at.txn, e.txns); err != nil {
			return affected, err
		}
		at.buffer(&wal.Record{Type: wal.RecordUpdate, Table: schema.Name, RowID: m.rowID, Payload: newRow})
		affected++
	}
	return affected, nil
}

func (e *Engine) executeDeleteStatement(ctx context.Context, stmt sql.DeleteStatement, forced *activeTxn) (*QueryResult, error) {
	table, ok := e.Catalog().Get(stmt.Table)
	if !ok {
		return nil, core.Errorf(core.KindTableNotFound, "table %q does not exist", stmt.Table)
	}

	at, implicit := e.statementTxn(forced)
	writeMark := at.txn.WriteCount()
	walMark := len(at.pending)

	affected, execErr := e.deleteRows(table, stmt, at)
	if err := e.finishWrite(at, implicit, writeMark, walMark, execErr); err != nil {
		return nil, err
	}
	return &QueryResult{AffectedRows: affected}, nil
}

func (e *Engine) deleteRows(table *storage.Table, stmt sql.DeleteStatement, at *activeTxn) (int, error) {
	schema := table.Schema
	cols := make([]colInfo, len(schema.Columns))
	for i, col := range schema.Columns {
		cols[i] = colInfo{Table: schema.Name, Name: col.Name}
	}

	var ids []uint64
	var scanErr error
	table.Scan(at.txn, e.txns, func(rowID uint64, row core.Row) bool {
		if stmt.Where != nil {
			ok, err := evalBool(&EvalContext{Cols: cols, Row: row, Engine: e, Txn: at.txn}, stmt.Where)
			if err != nil {
				scanErr = err
				return false
			}
			if !ok {
				return true
			}
		}
		ids = append(ids, rowID)
		return true
	})
	if scanErr != nil {
		return 0, scanErr
	}

	affected := 0
	for _, rowID := range ids {
		if err := table.Delete(rowID, at.txn, e.txns); err != nil {
			return affected, err
		}
		at.buffer(&wal.Record{Type: wal.RecordDelete, Table: schema.Name, RowID: rowID})
		affected++
	}
	return affected, nil
}
