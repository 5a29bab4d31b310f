package plan

import (
	"testing"

	"github.com/maxBogovick/memodb/core"
	"github.com/maxBogovick/memodb/sql"
)

type fakeResolver struct {
	tables map[string]bool
	ctes   map[string]bool
	views  map[string]string
}

func (r fakeResolver) IsCTE(name string) bool { return r.ctes[name] }
func (r fakeResolver) ViewQuery(name string) (string, bool) {
	q, ok := r.views[name]
	return q, ok
}
func (r fakeResolver) HasTable(name string) bool { return r.tables[name] }

func parseSelect(t *testing.T, input string) *sql.SelectStatement {
	t.Helper()
	stmt, err := sql.NewParser(input).Parse()
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	return stmt.(*sql.SelectStatement)
}

func TestPushdownIntoSingleTableScan(t *testing.T) {
	r := fakeResolver{tables: map[string]bool{"t": true}}
	node, err := Build(parseSelect(t, "SELECT a FROM t WHERE a > 1"), r)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	// Project -> TableScan with pushed filter; no separate Filter node.
	if node.Kind != Project {
		t.Fatalf("Expected Project root, got %s", node.Kind)
	}
	scan := node.Child
	if scan.Kind != TableScan || scan.Pushed == nil {
		t.Errorf("Expected TableScan with pushed filter, got %s pushed=%v", scan.Kind, scan.Pushed)
	}
}

func TestNoPushdownThroughJoin(t *testing.T) {
	r := fakeResolver{tables: map[string]bool{"a": true, "b": true}}
	node, err := Build(parseSelect(t, "SELECT * FROM a JOIN b ON a.x = b.x WHERE a.x > 1"), r)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	filter := node.Child
	if filter.Kind != Filter {
		t.Fatalf("Expected Filter above join, got %s", filter.Kind)
	}
	if filter.Child.Kind != NestedLoopJoin {
		t.Errorf("Expected NestedLoopJoin below filter, got %s", filter.Child.Kind)
	}
}

func TestFalsePredicateBecomesEmptyValues(t *testing.T) {
	r := fakeResolver{tables: map[string]bool{"t": true}}
	node, err := Build(parseSelect(t, "SELECT a FROM t WHERE 1 = 2"), r)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if node.Child.Kind != Values || node.Child.OneRow {
		t.Errorf("Always-false filter should plan an empty Values, got %s", node.Child.Kind)
	}
}

func TestNullFoldsWithKleeneLogic(t *testing.T) {
	r := fakeResolver{tables: map[string]bool{"t": true}}

	// NULL AND TRUE is NULL; NOT NULL is still NULL; a NULL predicate
	// filters every row, so the plan reads nothing.
	node, err := Build(parseSelect(t, "SELECT a FROM t WHERE NOT (NULL AND TRUE)"), r)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if node.Child.Kind != Values || node.Child.OneRow {
		t.Errorf("NOT (NULL AND TRUE) should plan an empty Values, got %s", node.Child.Kind)
	}

	// A known false dominates AND regardless of the NULL operand.
	node, err = Build(parseSelect(t, "SELECT a FROM t WHERE NOT (NULL AND FALSE)"), r)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if node.Child.Kind != TableScan || node.Child.Pushed != nil {
		t.Errorf("NOT (NULL AND FALSE) is true and should drop the filter, got %s", node.Child.Kind)
	}

	// A known true dominates OR; NULL OR FALSE stays NULL.
	node, err = Build(parseSelect(t, "SELECT a FROM t WHERE NULL OR TRUE"), r)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if node.Child.Kind != TableScan {
		t.Errorf("NULL OR TRUE should drop the filter, got %s", node.Child.Kind)
	}
	node, err = Build(parseSelect(t, "SELECT a FROM t WHERE NULL OR FALSE"), r)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if node.Child.Kind != Values || node.Child.OneRow {
		t.Errorf("NULL OR FALSE should plan an empty Values, got %s", node.Child.Kind)
	}
}

func TestTruePredicateDropsFilter(t *testing.T) {
	r := fakeResolver{tables: map[string]bool{"t": true}}
	node, err := Build(parseSelect(t, "SELECT a FROM t WHERE 1 + 1 = 2"), r)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if node.Child.Kind != TableScan || node.Child.Pushed != nil {
		t.Errorf("Provably true filter should vanish, got %s", node.Child.Kind)
	}
}

func TestViewExpandsToSubquery(t *testing.T) {
	r := fakeResolver{
		tables: map[string]bool{"t": true},
		views:  map[string]string{"v": "SELECT a FROM t"},
	}
	node, err := Build(parseSelect(t, "SELECT * FROM v"), r)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if node.Child.Kind != SubqueryScan {
		t.Errorf("View should plan as SubqueryScan, got %s", node.Child.Kind)
	}
}

func TestMissingTableFails(t *testing.T) {
	_, err := Build(parseSelect(t, "SELECT * FROM nope"), fakeResolver{})
	if !core.IsKind(err, core.KindTableNotFound) {
		t.Errorf("Expected TableNotFound, got %v", err)
	}
}

func TestAggregatePlanCollectsCalls(t *testing.T) {
	r := fakeResolver{tables: map[string]bool{"t": true}}
	node, err := Build(parseSelect(t, "SELECT city, COUNT(*), SUM(x) FROM t GROUP BY city HAVING AVG(x) > 1"), r)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	agg := node.Child
	if agg.Kind != HashAggregate {
		t.Fatalf("Expected HashAggregate, got %s", agg.Kind)
	}
	if len(agg.AggCalls) != 3 {
		t.Errorf("Expected 3 aggregate calls, got %d", len(agg.AggCalls))
	}
}

func TestOperatorOrdering(t *testing.T) {
	r := fakeResolver{tables: map[string]bool{"t": true}}
	node, err := Build(parseSelect(t, "SELECT DISTINCT a FROM t ORDER BY a LIMIT 5"), r)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	kinds := []NodeKind{}
	for n := node; n != nil; n = n.Child {
		kinds = append(kinds, n.Kind)
	}
	want := []NodeKind{Limit, Sort, Distinct, Project, TableScan}
	if len(kinds) != len(want) {
		t.Fatalf("Unexpected chain %v", kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("Position %d: expected %s, got %s", i, want[i], kinds[i])
		}
	}
}
