package db

import (
	"fmt"
	"strings"

	"github.com/maxBogovick/memodb/core"
	"github.com/maxBogovick/memodb/plan"
	"github.com/maxBogovick/memodb/sql"
)

func (e *Engine) executeExplainStatement(stmt sql.ExplainStatement) (*QueryResult, error) {
	sel, ok := stmt.Target.(*sql.SelectStatement)
	if !ok {
		return nil, core.Errorf(core.KindUnsupported, "EXPLAIN supports SELECT only")
	}

	scope := map[string]*rowSet{}
	for _, cte := range sel.With {
		scope[cte.Name] = &rowSet{}
	}
	node, err := plan.Build(sel, &planResolver{engine: e, scope: scope})
	if err != nil {
		return nil, err
	}

	result := &QueryResult{Columns: []string{"plan"}}
	for _, line := range renderPlan(node, 0) {
		result.Rows = append(result.Rows, []core.Value{core.NewText(line)})
	}
	return result, nil
}

func renderPlan(node *plan.Node, depth int) []string {
	indent := strings.Repeat("  ", depth)
	var label string

	switch node.Kind {
	case plan.TableScan:
		label = fmt.Sprintf("TableScan on %s", node.Table)
		if node.Pushed != nil {
			label += fmt.Sprintf(" filter=%s", sql.ExprString(node.Pushed))
		}
	case plan.CteScan:
		label = fmt.Sprintf("CteScan on %s", node.Cte)
	case plan.SubqueryScan:
		label = "SubqueryScan"
	case plan.Values:
		label = "Values (empty)"
	case plan.NestedLoopJoin:
		label = fmt.Sprintf("NestedLoopJoin %s on %s", node.JoinKind, sql.ExprString(node.On))
	case plan.Filter:
		label = fmt.Sprintf("Filter %s", sql.ExprString(node.Predicate))
	case plan.HashAggregate:
		keys := make([]string, len(node.GroupBy))
		for i, g := range node.GroupBy {
			keys[i] = sql.ExprString(g)
		}
		label = fmt.Sprintf("HashAggregate group_by=[%s]", strings.Join(keys, ", "))
	case plan.Window:
		label = "Window"
	case plan.Project:
		var items []string
		for _, p := range node.Projections {
			if p.Star {
				items = append(items, "*")
			} else {
				items = append(items, sql.ExprString(p.Expr))
			}
		}
		label = fmt.Sprintf("Project [%s]", strings.Join(items, ", "))
	case plan.Distinct:
		label = "Distinct"
	case plan.Sort:
		keys := make([]string, len(node.SortKeys))
		for i, k := range node.SortKeys {
			keys[i] = sql.ExprString(k.Expr)
			if k.Desc {
				keys[i] += " DESC"
			}
		}
		label = fmt.Sprintf("Sort [%s]", strings.Join(keys, ", "))
	case plan.Limit:
		label = fmt.Sprintf("Limit count=%d offset=%d", node.LimitCount, node.LimitOffset)
	default:
		label = node.Kind.String()
	}

	lines := []string{indent + label}
	if node.Left != nil {
		lines = append(lines, renderPlan(node.Left, depth+1)...)
	}
	if node.Right != nil {
		lines = append(lines, renderPlan(node.Right, depth+1)...)
	}
	if node.Child != nil {
		lines = append(lines, renderPlan(node.Child, depth+1)...)
	}
	return lines
}
