package db

import (
	"encoding/json"
	"fmt"

	"github.com/maxBogovick/memodb/core"
	"github.com/maxBogovick/memodb/sql"
	"github.com/maxBogovick/memodb/storage"
	"github.com/maxBogovick/memodb/wal"
)

// ddlOp is the WAL payload of a DDL record: a structural description that
// replays without the parser.
type ddlOp struct {
	Op      string              `json:"op"`
	Schema  *core.TableSchema   `json:"schema,omitempty"`
	Table   string              `json:"table,omitempty"`
	Name    string              `json:"name,omitempty"`
	NewName string              `json:"new_name,omitempty"`
	Column  *core.Column        `json:"column,omitempty"`
	Default *core.Value         `json:"default,omitempty"`
	Index   *storage.IndexState `json:"index,omitempty"`
	View    *core.ViewDef       `json:"view,omitempty"`
}

// logDDL writes the DDL record ahead of the in-memory application. DDL is
// autocommitted; it cannot run inside an open transaction because replay
// order could then diverge from application order.
func (e *Engine) logDDL(op ddlOp) error {
	e.sessionMu.Lock()
	open := e.sessionTxn != nil
	e.sessionMu.Unlock()
	if open {
		return core.Errorf(core.KindExecution, "DDL is not allowed inside a transaction")
	}
	l := e.log()
	if l == nil {
		return nil
	}
	raw, err := json.Marshal(op)
	if err != nil {
		return err
	}
	if _, err := l.Append(&wal.Record{Type: wal.RecordDDL, DDL: string(raw)}); err != nil {
		return core.WrapErr(core.KindExecution, err, "WAL append failed")
	}
	walRecordsTotal.Inc()
	return nil
}

// applyDDL mutates the catalog. Both the executors and WAL replay funnel
// through here so the two paths cannot drift.
func (e *Engine) applyDDL(op ddlOp) error {
	catalog := e.catalog.Load()

	switch op.Op {
	case "create_table":
		if catalog.Contains(op.Schema.Name) {
			return core.Errorf(core.KindTableExists, "table %q already exists", op.Schema.Name)
		}
		table, err := storage.NewTable(*op.Schema)
		if err != nil {
			return err
		}
		e.catalog.Store(catalog.WithTable(table))

	case "drop_table":
		if !catalog.Contains(op.Table) {
			return core.Errorf(core.KindTableNotFound, "table %q does not exist", op.Table)
		}
		e.catalog.Store(catalog.WithoutTable(op.Table))

	case "create_index":
		table, ok := catalog.Get(op.Table)
		if !ok {
			return core.Errorf(core.KindTableNotFound, "table %q does not exist", op.Table)
		}
		if err := table.CreateIndex(op.Index.Name, op.Index.Columns, op.Index.Unique); err != nil {
			return err
		}

	case "drop_index":
		if op.Table != "" {
			table, ok := catalog.Get(op.Table)
			if !ok {
				return core.Errorf(core.KindTableNotFound, "table %q does not exist", op.Table)
			}
			return table.DropIndex(op.Name)
		}
		for _, name := range catalog.List() {
			table, _ := catalog.Get(name)
			if _, ok := table.Index(op.Name); ok {
				return table.DropIndex(op.Name)
			}
		}
		return core.Errorf(core.KindExecution, "index %q does not exist", op.Name)

	case "create_view":
		if _, exists := catalog.View(op.View.Name); exists {
			return core.Errorf(core.KindTableExists, "view %q already exists", op.View.Name)
		}
		if catalog.Contains(op.View.Name) {
			return core.Errorf(core.KindTableExists, "table %q already exists", op.View.Name)
		}
		e.catalog.Store(catalog.WithView(*op.View))

	case "drop_view":
		if _, exists := catalog.View(op.Name); !exists {
			return core.Errorf(core.KindTableNotFound, "view %q does not exist", op.Name)
		}
		e.catalog.Store(catalog.WithoutView(op.Name))

	case "add_column":
		table, ok := catalog.Get(op.Table)
		if !ok {
			return core.Errorf(core.KindTableNotFound, "table %q does not exist", op.Table)
		}
		def := core.Null()
		if op.Default != nil {
			def = *op.Default
		}
		return table.AddColumn(*op.Column, def)

	case "drop_column":
		table, ok := catalog.Get(op.Table)
		if !ok {
			return core.Errorf(core.KindTableNotFound, "table %q does not exist", op.Table)
		}
		return table.DropColumn(op.Name)

	case "rename_column":
		table, ok := catalog.Get(op.Table)
		if !ok {
			return core.Errorf(core.KindTableNotFound, "table %q does not exist", op.Table)
		}
		return table.RenameColumn(op.Name, op.NewName)

	case "rename_table":
		table, ok := catalog.Get(op.Table)
		if !ok {
			return core.Errorf(core.KindTableNotFound, "table %q does not exist", op.Table)
		}
		if catalog.Contains(op.NewName) {
			return core.Errorf(core.KindTableExists, "table %q already exists", op.NewName)
		}
		table.Rename(op.NewName)
		e.catalog.Store(catalog.WithoutTable(op.Table).WithTable(table))

	default:
		return core.Errorf(core.KindUnsupported, "unknown DDL op %q", op.Op)
	}
	return nil
}

// runDDL validates, logs, then applies.
func (e *Engine) runDDL(op ddlOp) (*QueryResult, error) {
	if err := e.validateDDL(op); err != nil {
		return nil, err
	}
	if err := e.logDDL(op); err != nil {
		return nil, err
	}
	if err := e.applyDDL(op); err != nil {
		return nil, err
	}
	return &QueryResult{}, nil
}

// validateDDL rejects every failure applyDDL could hit before anything
// reaches the WAL: a logged record must replay cleanly, so a statement
// that would fail may leave no record behind.
func (e *Engine) validateDDL(op ddlOp) error {
	catalog := e.catalog.Load()

	requireTable := func(name string) (*storage.Table, error) {
		table, ok := catalog.Get(name)
		if !ok {
			return nil, core.Errorf(core.KindTableNotFound, "table %q does not exist", name)
		}
		return table, nil
	}

	switch op.Op {
	case "create_table":
		if catalog.Contains(op.Schema.Name) {
			return core.Errorf(core.KindTableExists, "table %q already exists", op.Schema.Name)
		}
		seen := map[string]bool{}
		for _, col := range op.Schema.Columns {
			if seen[col.Name] {
				return core.Errorf(core.KindExecution, "duplicate column %q in table %s", col.Name, op.Schema.Name)
			}
			seen[col.Name] = true
		}

	case "drop_table":
		if _, err := requireTable(op.Table); err != nil {
			return err
		}

	case "create_index":
		table, err := requireTable(op.Table)
		if err != nil {
			return err
		}
		if _, exists := table.Index(op.Index.Name); exists {
			return core.Errorf(core.KindExecution, "index %q already exists", op.Index.Name)
		}
		for _, col := range op.Index.Columns {
			if table.Schema.ColumnIndex(col) < 0 {
				return core.Errorf(core.KindColumnNotFound, "index column %q not in table %s", col, op.Table)
			}
		}

	case "drop_index":
		if op.Table != "" {
			table, err := requireTable(op.Table)
			if err != nil {
				return err
			}
			if _, exists := table.Index(op.Name); !exists {
				return core.Errorf(core.KindExecution, "index %q does not exist", op.Name)
			}
			return nil
		}
		for _, name := range catalog.List() {
			table, _ := catalog.Get(name)
			if _, ok := table.Index(op.Name); ok {
				return nil
			}
		}
		return core.Errorf(core.KindExecution, "index %q does not exist", op.Name)

	case "create_view":
		if _, exists := catalog.View(op.View.Name); exists {
			return core.Errorf(core.KindTableExists, "view %q already exists", op.View.Name)
		}
		if catalog.Contains(op.View.Name) {
			return core.Errorf(core.KindTableExists, "table %q already exists", op.View.Name)
		}

	case "drop_view":
		if _, ok := catalog.View(op.Name); !ok {
			return core.Errorf(core.KindTableNotFound, "view %q does not exist", op.Name)
		}

	case "add_column":
		table, err := requireTable(op.Table)
		if err != nil {
			return err
		}
		if table.Schema.ColumnIndex(op.Column.Name) >= 0 {
			return core.Errorf(core.KindExecution, "column %q already exists in table %s", op.Column.Name, op.Table)
		}
		def := core.Null()
		if op.Default != nil {
			def = *op.Default
		}
		if def.IsNull() && !op.Column.Nullable {
			return core.Errorf(core.KindConstraintViolation,
				"new column %q must be nullable or have a default", op.Column.Name)
		}
		if !def.IsNull() && !op.Column.Type.IsCompatible(def) {
			return core.Errorf(core.KindTypeMismatch,
				"default for column %q is %s, expected %s", op.Column.Name, def.Kind, op.Column.Type)
		}

	case "drop_column":
		table, err := requireTable(op.Table)
		if err != nil {
			return err
		}
		if table.Schema.ColumnIndex(op.Name) < 0 {
			return core.Errorf(core.KindColumnNotFound, "column %q not in table %s", op.Name, op.Table)
		}
		for _, ix := range table.Indexes() {
			for _, col := range ix.Columns {
				if col == op.Name {
					return core.Errorf(core.KindExecution, "column %q is covered by index %q", op.Name, ix.Name)
				}
			}
		}

	case "rename_column":
		table, err := requireTable(op.Table)
		if err != nil {
			return err
		}
		if table.Schema.ColumnIndex(op.Name) < 0 {
			return core.Errorf(core.KindColumnNotFound, "column %q not in table %s", op.Name, op.Table)
		}
		if table.Schema.ColumnIndex(op.NewName) >= 0 {
			return core.Errorf(core.KindExecution, "column %q already exists in table %s", op.NewName, op.Table)
		}

	case "rename_table":
		if _, err := requireTable(op.Table); err != nil {
			return err
		}
		if catalog.Contains(op.NewName) {
			return core.Errorf(core.KindTableExists, "table %q already exists", op.NewName)
		}
	}
	return nil
}

func (e *Engine) executeCreateTableStatement(stmt sql.CreateTableStatement) (*QueryResult, error) {
	if stmt.IfNotExists && e.catalog.Load().Contains(stmt.Name) {
		return &QueryResult{}, nil
	}
	schema := core.TableSchema{Name: stmt.Name}
	for _, def := range stmt.Columns {
		schema.Columns = append(schema.Columns, def.Column())
	}
	return e.runDDL(ddlOp{Op: "create_table", Schema: &schema})
}

func (e *Engine) executeDropTableStatement(stmt sql.DropTableStatement) (*QueryResult, error) {
	if stmt.IfExists && !e.catalog.Load().Contains(stmt.Name) {
		return &QueryResult{}, nil
	}
	return e.runDDL(ddlOp{Op: "drop_table", Table: stmt.Name})
}

func (e *Engine) executeCreateIndexStatement(stmt sql.CreateIndexStatement) (*QueryResult, error) {
	return e.runDDL(ddlOp{Op: "create_index", Table: stmt.Table, Index: &storage.IndexState{
		Name: stmt.Name, Columns: stmt.Columns, Unique: stmt.Unique,
	}})
}

func (e *Engine) executeDropIndexStatement(stmt sql.DropIndexStatement) (*QueryResult, error) {
	return e.runDDL(ddlOp{Op: "drop_index", Table: stmt.Table, Name: stmt.Name})
}

func (e *Engine) executeCreateViewStatement(stmt sql.CreateViewStatement) (*QueryResult, error) {
	return e.runDDL(ddlOp{Op: "create_view", View: &core.ViewDef{Name: stmt.Name, Query: stmt.QueryText}})
}

func (e *Engine) executeDropViewStatement(stmt sql.DropViewStatement) (*QueryResult, error) {
	return e.runDDL(ddlOp{Op: "drop_view", Name: stmt.Name})
}

func (e *Engine) executeAlterTableStatement(stmt sql.AlterTableStatement) (*QueryResult, error) {
	switch stmt.Action {
	case sql.AlterAddColumn:
		col := stmt.Column.Column()
		op := ddlOp{Op: "add_column", Table: stmt.Table, Column: &col}
		if stmt.Column.Default != nil {
			v, err := Eval(&EvalContext{Engine: e}, stmt.Column.Default)
			if err != nil {
				return nil, err
			}
			op.Default = &v
		}
		return e.runDDL(op)
	case sql.AlterDropColumn:
		return e.runDDL(ddlOp{Op: "drop_column", Table: stmt.Table, Name: stmt.Name})
	case sql.AlterRenameColumn:
		return e.runDDL(ddlOp{Op: "rename_column", Table: stmt.Table, Name: stmt.Name, NewName: stmt.NewName})
	case sql.AlterRenameTable:
		return e.runDDL(ddlOp{Op: "rename_table", Table: stmt.Table, NewName: stmt.NewName})
	default:
		return nil, core.Errorf(core.KindUnsupported, "unknown ALTER action")
	}
}

func (e *Engine) executeDescribeStatement(stmt sql.DescribeStatement) (*QueryResult, error) {
	table, ok := e.Catalog().Get(stmt.Table)
	if !ok {
		return nil, core.Errorf(core.KindTableNotFound, "table %q does not exist", stmt.Table)
	}
	result := &QueryResult{Columns: []string{"column", "type", "nullable", "unique", "primary_key"}}
	for _, col := range table.Schema.Columns {
		result.Rows = append(result.Rows, []core.Value{
			core.NewText(col.Name),
			core.NewText(col.Type.String()),
			core.NewBoolean(col.Nullable),
			core.NewBoolean(col.Unique),
			core.NewBoolean(col.PrimaryKey),
		})
	}
	return result, nil
}

func (e *Engine) executeShowTablesStatement() (*QueryResult, error) {
	result := &QueryResult{Columns: []string{"table"}}
	for _, name := range e.Catalog().List() {
		result.Rows = append(result.Rows, []core.Value{core.NewText(name)})
	}
	return result, nil
}

func (e *Engine) executeShowIndexesStatement(stmt sql.ShowIndexesStatement) (*QueryResult, error) {
	table, ok := e.Catalog().Get(stmt.Table)
	if !ok {
		return nil, core.Errorf(core.KindTableNotFound, "table %q does not exist", stmt.Table)
	}
	result := &QueryResult{Columns: []string{"index", "columns", "unique", "entries"}}
	for _, ix := range table.Indexes() {
		result.Rows = append(result.Rows, []core.Value{
			core.NewText(ix.Name),
			core.NewText(fmt.Sprintf("%v", ix.Columns)),
			core.NewBoolean(ix.Unique),
			core.NewInteger(int64(ix.Entries())),
		})
	}
	return result, nil
}
