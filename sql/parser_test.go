package sql

import (
	"testing"

	"github.com/maxBogovick/memodb/core"
)

func parseOne(t *testing.T, input string) Statement {
	t.Helper()
	stmt, err := NewParser(input).Parse()
	if err != nil {
		t.Fatalf("Parse(%q) failed: %v", input, err)
	}
	return stmt
}

func TestParseCreateTable(t *testing.T) {
	stmt := parseOne(t, `CREATE TABLE users (
		id INT PRIMARY KEY,
		email TEXT UNIQUE NOT NULL,
		age INT,
		score FLOAT DEFAULT 0.5,
		ref INT REFERENCES teams(id)
	)`).(CreateTableStatement)

	if stmt.Name != "users" || len(stmt.Columns) != 5 {
		t.Fatalf("Unexpected statement: %+v", stmt)
	}
	if !stmt.Columns[0].PrimaryKey || stmt.Columns[0].Type != core.IntegerType {
		t.Error("id column parsed wrong")
	}
	if !stmt.Columns[1].Unique || !stmt.Columns[1].NotNull {
		t.Error("email column parsed wrong")
	}
	if stmt.Columns[3].Default == nil {
		t.Error("score default lost")
	}
	if stmt.Columns[4].References != "teams" {
		t.Error("references lost")
	}
}

func TestParseSelectFull(t *testing.T) {
	stmt := parseOne(t, `SELECT DISTINCT u.name, COUNT(*) AS n
		FROM users u
		LEFT JOIN orders o ON u.id = o.user_id
		WHERE u.age >= 18 AND u.name LIKE 'A%'
		GROUP BY u.name
		HAVING COUNT(*) > 1
		ORDER BY n DESC, u.name
		LIMIT 10 OFFSET 5`).(*SelectStatement)

	if !stmt.Distinct || len(stmt.Projections) != 2 {
		t.Fatal("projection parsed wrong")
	}
	if stmt.From.Table != "users" || stmt.From.Alias != "u" {
		t.Error("FROM parsed wrong")
	}
	if len(stmt.Joins) != 1 || stmt.Joins[0].Kind != "LEFT" {
		t.Error("JOIN parsed wrong")
	}
	if stmt.Where == nil || stmt.Having == nil {
		t.Error("WHERE/HAVING lost")
	}
	if len(stmt.OrderBy) != 2 || !stmt.OrderBy[0].Desc {
		t.Error("ORDER BY parsed wrong")
	}
	if stmt.Limit == nil || *stmt.Limit != 10 || stmt.Offset == nil || *stmt.Offset != 5 {
		t.Error("LIMIT/OFFSET parsed wrong")
	}
}

func TestParseExpressionPrecedence(t *testing.T) {
	stmt := parseOne(t, "SELECT 1 + 2 * 3").(*SelectStatement)
	expr := stmt.Projections[0].Expr.(BinaryExpr)
	if expr.Op != "+" {
		t.Fatalf("Expected + at root, got %s", expr.Op)
	}
	if right, ok := expr.Right.(BinaryExpr); !ok || right.Op != "*" {
		t.Error("* should bind tighter than +")
	}
}

func TestParseInAndExists(t *testing.T) {
	stmt := parseOne(t, `SELECT * FROM t WHERE a IN (1, 2, 3) AND EXISTS(SELECT * FROM u) AND b NOT IN (SELECT c FROM v)`).(*SelectStatement)
	and1 := stmt.Where.(BinaryExpr)
	notIn := and1.Right.(InExpr)
	if !notIn.Not || notIn.Subquery == nil {
		t.Error("NOT IN subquery parsed wrong")
	}
	and2 := and1.Left.(BinaryExpr)
	if _, ok := and2.Right.(ExistsExpr); !ok {
		t.Error("EXISTS parsed wrong")
	}
	in := and2.Left.(InExpr)
	if in.Not || len(in.List) != 3 {
		t.Error("IN list parsed wrong")
	}
}

func TestParseBetweenLikeIsNull(t *testing.T) {
	stmt := parseOne(t, `SELECT * FROM t WHERE a BETWEEN 1 AND 10 AND b NOT LIKE '%x_' AND c IS NOT NULL`).(*SelectStatement)
	if stmt.Where == nil {
		t.Fatal("WHERE lost")
	}
	var between, notLike, isNotNull bool
	WalkExpr(stmt.Where, func(e Expr) bool {
		switch n := e.(type) {
		case BetweenExpr:
			between = !n.Not
		case LikeExpr:
			notLike = n.Not
		case IsNullExpr:
			isNotNull = n.Not
		}
		return true
	})
	if !between || !notLike || !isNotNull {
		t.Errorf("missed operators: between=%v notLike=%v isNotNull=%v", between, notLike, isNotNull)
	}
}

func TestParseRecursiveCTE(t *testing.T) {
	stmt := parseOne(t, `WITH RECURSIVE nums AS (
		SELECT 1 AS n
		UNION ALL
		SELECT n + 1 FROM nums WHERE n < 10
	) SELECT n FROM nums`).(*SelectStatement)

	if len(stmt.With) != 1 || !stmt.With[0].Recursive {
		t.Fatal("CTE parsed wrong")
	}
	body := stmt.With[0].Select
	if body.Union == nil || !body.UnionAll {
		t.Error("UNION ALL body lost")
	}
}

func TestParseWindowFunction(t *testing.T) {
	stmt := parseOne(t, `SELECT name, ROW_NUMBER() OVER (PARTITION BY dept ORDER BY salary DESC) FROM emp`).(*SelectStatement)
	win, ok := stmt.Projections[1].Expr.(WindowExpr)
	if !ok {
		t.Fatalf("Expected WindowExpr, got %T", stmt.Projections[1].Expr)
	}
	if win.Func != "ROW_NUMBER" || len(win.PartitionBy) != 1 || len(win.OrderBy) != 1 || !win.OrderBy[0].Desc {
		t.Errorf("OVER clause parsed wrong: %+v", win)
	}
}

func TestParseJSONAccess(t *testing.T) {
	stmt := parseOne(t, `SELECT payload -> 'user' ->> 'name' FROM events`).(*SelectStatement)
	outer, ok := stmt.Projections[0].Expr.(JSONAccess)
	if !ok || outer.Op != "->>" {
		t.Fatalf("Expected ->> at root, got %+v", stmt.Projections[0].Expr)
	}
	inner, ok := outer.Operand.(JSONAccess)
	if !ok || inner.Op != "->" {
		t.Error("-> chain parsed wrong")
	}
}

func TestParseInsertMultiRow(t *testing.T) {
	stmt := parseOne(t, `INSERT INTO t (a, b) VALUES (1, 'x'), (2, 'y''s')`).(InsertStatement)
	if len(stmt.Rows) != 2 || len(stmt.Columns) != 2 {
		t.Fatalf("Unexpected insert: %+v", stmt)
	}
	lit := stmt.Rows[1][1].(Literal)
	if lit.Value.Text != "y's" {
		t.Errorf("Escaped quote lost: %q", lit.Value.Text)
	}
}

func TestParseUpdateDelete(t *testing.T) {
	up := parseOne(t, `UPDATE t SET a = a + 1, b = 'x' WHERE id = 3`).(UpdateStatement)
	if len(up.Sets) != 2 || up.Where == nil {
		t.Fatalf("Unexpected update: %+v", up)
	}
	del := parseOne(t, `DELETE FROM t WHERE a IS NULL`).(DeleteStatement)
	if del.Where == nil {
		t.Fatal("DELETE WHERE lost")
	}
}

func TestParseAlterForms(t *testing.T) {
	add := parseOne(t, `ALTER TABLE t ADD COLUMN c INT`).(AlterTableStatement)
	if add.Action != AlterAddColumn || add.Column.Name != "c" {
		t.Error("ADD COLUMN parsed wrong")
	}
	drop := parseOne(t, `ALTER TABLE t DROP COLUMN c`).(AlterTableStatement)
	if drop.Action != AlterDropColumn || drop.Name != "c" {
		t.Error("DROP COLUMN parsed wrong")
	}
	ren := parseOne(t, `ALTER TABLE t RENAME COLUMN a TO b`).(AlterTableStatement)
	if ren.Action != AlterRenameColumn || ren.Name != "a" || ren.NewName != "b" {
		t.Error("RENAME COLUMN parsed wrong")
	}
	tbl := parseOne(t, `RENAME TABLE t TO s`).(AlterTableStatement)
	if tbl.Action != AlterRenameTable || tbl.NewName != "s" {
		t.Error("RENAME TABLE parsed wrong")
	}
}

func TestParseViewAndExplain(t *testing.T) {
	view := parseOne(t, `CREATE VIEW adults AS SELECT * FROM users WHERE age >= 18`).(CreateViewStatement)
	if view.Name != "adults" || view.Query == nil || view.QueryText == "" {
		t.Fatalf("Unexpected view: %+v", view)
	}
	exp := parseOne(t, `EXPLAIN SELECT * FROM t`).(ExplainStatement)
	if _, ok := exp.Target.(*SelectStatement); !ok {
		t.Error("EXPLAIN target parsed wrong")
	}
}

func TestParseTransactionStatements(t *testing.T) {
	if _, ok := parseOne(t, "BEGIN").(BeginStatement); !ok {
		t.Error("BEGIN parsed wrong")
	}
	if _, ok := parseOne(t, "COMMIT").(CommitStatement); !ok {
		t.Error("COMMIT parsed wrong")
	}
	if _, ok := parseOne(t, "ROLLBACK").(RollbackStatement); !ok {
		t.Error("ROLLBACK parsed wrong")
	}
}

func TestParseErrors(t *testing.T) {
	bad := []string{
		"SELEC * FROM t",
		"SELECT * FROM",
		"INSERT INTO t VALUES 1",
		"CREATE TABLE t",
		"SELECT (SELECT a FROM t)",
		"SELECT NOSUCHFUNC(a) FROM t",
	}
	for _, input := range bad {
		if _, err := NewParser(input).Parse(); err == nil {
			t.Errorf("Parse(%q) should fail", input)
		}
	}
}

func TestParseMultipleStatements(t *testing.T) {
	stmts, err := NewParser("CREATE TABLE t (a INT); INSERT INTO t VALUES (1); SELECT * FROM t").ParseAll()
	if err != nil {
		t.Fatalf("ParseAll failed: %v", err)
	}
	if len(stmts) != 3 {
		t.Errorf("Expected 3 statements, got %d", len(stmts))
	}
}
