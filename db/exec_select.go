package db

import (
	"context"
	"sort"
	"strings"

	"github.com/maxBogovick/memodb/core"
	"github.com/maxBogovick/memodb/mvcc"
	"github.com/maxBogovick/memodb/plan"
	"github.com/maxBogovick/memodb/sql"
)

// rowSet is a materialized intermediate result. aggs and wins, when
// present, run parallel to rows and carry per-row aggregate and window
// values keyed by rendered expression. src preserves the pre-projection
// rows so ORDER BY can reference columns outside the select list.
type rowSet struct {
	cols []colInfo
	rows [][]core.Value
	aggs []map[string]core.Value
	wins []map[string]core.Value
	src  *rowSet
}

func (rs *rowSet) evalCtx(i int, e *Engine, txn *mvcc.Txn, ctes map[string]*rowSet) *EvalContext {
	ctx := &EvalContext{Cols: rs.cols, Row: rs.rows[i], Engine: e, Txn: txn, Ctes: ctes}
	if rs.aggs != nil {
		ctx.Aggs = rs.aggs[i]
	}
	if rs.wins != nil {
		ctx.WinVals = rs.wins[i]
	}
	return ctx
}

func (e *Engine) executeSelectStatement(ctx context.Context, stmt *sql.SelectStatement, forced *activeTxn) (*QueryResult, error) {
	at, implicit := e.statementTxn(forced)
	rs, err := e.runSelect(ctx, stmt, at.txn, nil)
	if err != nil {
		if implicit {
			e.txns.Abort(at.txn)
		}
		return nil, err
	}
	e.releaseTxn(at, implicit)

	result := &QueryResult{Rows: rs.rows}
	for _, col := range rs.cols {
		result.Columns = append(result.Columns, col.Name)
	}
	return result, nil
}

// runSelect materializes a SELECT: CTEs first, then the logical plan, then
// a trailing UNION if present.
func (e *Engine) runSelect(ctx context.Context, stmt *sql.SelectStatement, txn *mvcc.Txn, outer map[string]*rowSet) (*rowSet, error) {
	scope := map[string]*rowSet{}
	for name, rs := range outer {
		scope[name] = rs
	}
	for _, cte := range stmt.With {
		rs, err := e.materializeCTE(ctx, cte, txn, scope)
		if err != nil {
			return nil, err
		}
		scope[cte.Name] = rs
	}

	node, err := plan.Build(stmt, &planResolver{engine: e, scope: scope})
	if err != nil {
		return nil, err
	}
	rs, err := e.execNode(ctx, node, txn, scope)
	if err != nil {
		return nil, err
	}

	if stmt.Union != nil {
		other, err := e.runSelect(ctx, stmt.Union, txn, scope)
		if err != nil {
			return nil, err
		}
		if len(other.cols) != len(rs.cols) {
			return nil, core.Errorf(core.KindExecution, "UNION column counts differ")
		}
		combined := &rowSet{cols: rs.cols}
		combined.rows = append(combined.rows, rs.rows...)
		combined.rows = append(combined.rows, other.rows...)
		if !stmt.UnionAll {
			combined.rows = dedupRows(combined.rows)
		}
		return combined, nil
	}
	return rs, nil
}

const recursionLimit = 10000

func (e *Engine) materializeCTE(ctx context.Context, cte sql.CTE, txn *mvcc.Txn, scope map[string]*rowSet) (*rowSet, error) {
	if !cte.Recursive || cte.Select.Union == nil {
		return e.runSelect(ctx, cte.Select, txn, scope)
	}

	seed := *cte.Select
	step := seed.Union
	unionAll := seed.UnionAll
	seed.Union = nil
	seed.UnionAll = false

	working, err := e.runSelect(ctx, &seed, txn, scope)
	if err != nil {
		return nil, err
	}

	all := &rowSet{cols: working.cols}
	seen := map[string]bool{}
	appendRows := func(rows [][]core.Value) [][]core.Value {
		var fresh [][]core.Value
		for _, row := range rows {
			key := rowKey(row)
			if !unionAll && seen[key] {
				continue
			}
			seen[key] = true
			all.rows = append(all.rows, row)
			fresh = append(fresh, row)
		}
		return fresh
	}
	appendRows(working.rows)

	for iter := 0; len(working.rows) > 0; iter++ {
		if iter >= recursionLimit {
			return nil, core.Errorf(core.KindExecution, "recursive CTE %q exceeded %d iterations", cte.Name, recursionLimit)
		}
		if err := ctx.Err(); err != nil {
			return nil, core.WrapErr(core.KindExecution, err, "statement cancelled")
		}
		inner := map[string]*rowSet{}
		for name, rs := range scope {
			inner[name] = rs
		}
		inner[cte.Name] = working

		next, err := e.runSelect(ctx, step, txn, inner)
		if err != nil {
			return nil, err
		}
		fresh := appendRows(next.rows)
		working = &rowSet{cols: working.cols, rows: fresh}
	}
	return all, nil
}

// planResolver adapts the engine catalog and CTE scope for the planner.
type planResolver struct {
	engine *Engine
	scope  map[string]*rowSet
}

func (r *planResolver) IsCTE(name string) bool {
	_, ok := r.scope[name]
	return ok
}

func (r *planResolver) ViewQuery(name string) (string, bool) {
	view, ok := r.engine.Catalog().View(name)
	if !ok {
		return "", false
	}
	return view.Query, true
}

func (r *planResolver) HasTable(name string) bool {
	return r.engine.Catalog().Contains(name)
}

func (e *Engine) execNode(ctx context.Context, node *plan.Node, txn *mvcc.Txn, scope map[string]*rowSet) (*rowSet, error) {
	switch node.Kind {
	case plan.TableScan:
		return e.execTableScan(node, txn, scope)
	case plan.CteScan:
		return execCteScan(node, scope)
	case plan.SubqueryScan:
		rs, err := e.runSelect(ctx, node.Subquery, txn, scope)
		if err != nil {
			return nil, err
		}
		out := &rowSet{rows: rs.rows}
		for _, col := range rs.cols {
			out.cols = append(out.cols, colInfo{Table: node.Alias, Name: col.Name})
		}
		return out, nil
	case plan.Values:
		if node.OneRow {
			return &rowSet{rows: [][]core.Value{{}}}, nil
		}
		return &rowSet{}, nil
	case plan.NestedLoopJoin:
		return e.execJoin(ctx, node, txn, scope)
	case plan.Filter:
		return e.execFilter(ctx, node, txn, scope)
	case plan.HashAggregate:
		return e.execAggregate(ctx, node, txn, scope)
	case plan.Window:
		return e.execWindow(ctx, node, txn, scope)
	case plan.Project:
		return e.execProject(ctx, node, txn, scope)
	case plan.Distinct:
		return e.execDistinct(ctx, node, txn, scope)
	case plan.Sort:
		return e.execSort(ctx, node, txn, scope)
	case plan.Limit:
		return e.execLimit(ctx, node, txn, scope)
	default:
		return nil, core.Errorf(core.KindUnsupported, "unknown plan node %s", node.Kind)
	}
}

func (e *Engine) execTableScan(node *plan.Node, txn *mvcc.Txn, scope map[string]*rowSet) (*rowSet, error) {
	table, ok := e.Catalog().Get(node.Table)
	if !ok {
		return nil, core.Errorf(core.KindTableNotFound, "table %q does not exist", node.Table)
	}
	qualifier := node.Alias
	if qualifier == "" {
		qualifier = node.Table
	}
	rs := &rowSet{}
	for _, col := range table.Schema.Columns {
		rs.cols = append(rs.cols, colInfo{Table: qualifier, Name: col.Name})
	}

	var scanErr error
	table.Scan(txn, e.txns, func(_ uint64, row core.Row) bool {
		if node.Pushed != nil {
			ok, err := evalBool(&EvalContext{Cols: rs.cols, Row: row, Engine: e, Txn: txn, Ctes: scope}, node.Pushed)
			if err != nil {
				scanErr = err
				return false
			}
			if !ok {
				return true
			}
		}
		rs.rows = append(rs.rows, row.Clone())
		return true
	})
	if scanErr != nil {
		return nil, scanErr
	}
	return rs, nil
}

func execCteScan(node *plan.Node, scope map[string]*rowSet) (*rowSet, error) {
	src, ok := scope[node.Cte]
	if !ok {
		return nil, core.Errorf(core.KindTableNotFound, "CTE %q is not in scope", node.Cte)
	}
	qualifier := node.Alias
	if qualifier == "" {
		qualifier = node.Cte
	}
	out := &rowSet{rows: src.rows}
	for _, col := range src.cols {
		out.cols = append(out.cols, colInfo{Table: qualifier, Name: col.Name})
	}
	return out, nil
}

func (e *Engine) execJoin(ctx context.Context, node *plan.Node, txn *mvcc.Txn, scope map[string]*rowSet) (*rowSet, error) {
	left, err := e.execNode(ctx, node.Left, txn, scope)
	if err != nil {
		return nil, err
	}
	right, err := e.execNode(ctx, node.Right, txn, scope)
	if err != nil {
		return nil, err
	}

	out := &rowSet{cols: append(append([]colInfo{}, left.cols...), right.cols...)}
	nullsLeft := nullRow(len(left.cols))
	nullsRight := nullRow(len(right.cols))

	switch node.JoinKind {
	case "INNER", "LEFT":
		for _, lrow := range left.rows {
			matched := false
			for _, rrow := range right.rows {
				joined := append(append([]core.Value{}, lrow...), rrow...)
				ok, err := evalBool(&EvalContext{Cols: out.cols, Row: joined, Engine: e, Txn: txn, Ctes: scope}, node.On)
				if err != nil {
					return nil, err
				}
				if ok {
					matched = true
					out.rows = append(out.rows, joined)
				}
			}
			if !matched && node.JoinKind == "LEFT" {
				out.rows = append(out.rows, append(append([]core.Value{}, lrow...), nullsRight...))
			}
		}
	case "RIGHT":
		for _, rrow := range right.rows {
			matched := false
			for _, lrow := range left.rows {
				joined := append(append([]core.Value{}, lrow...), rrow...)
				ok, err := evalBool(&EvalContext{Cols: out.cols, Row: joined, Engine: e, Txn: txn, Ctes: scope}, node.On)
				if err != nil {
					return nil, err
				}
				if ok {
					matched = true
					out.rows = append(out.rows, joined)
				}
			}
			if !matched {
				out.rows = append(out.rows, append(append([]core.Value{}, nullsLeft...), rrow...))
			}
		}
	default:
		return nil, core.Errorf(core.KindUnsupported, "join kind %q", node.JoinKind)
	}
	return out, nil
}

func nullRow(n int) []core.Value {
	out := make([]core.Value, n)
	return out
}

func (e *Engine) execFilter(ctx context.Context, node *plan.Node, txn *mvcc.Txn, scope map[string]*rowSet) (*rowSet, error) {
	child, err := e.execNode(ctx, node.Child, txn, scope)
	if err != nil {
		return nil, err
	}
	out := &rowSet{cols: child.cols}
	for i := range child.rows {
		ok, err := evalBool(child.evalCtx(i, e, txn, scope), node.Predicate)
		if err != nil {
			return nil, err
		}
		if ok {
			out.rows = append(out.rows, child.rows[i])
			if child.aggs != nil {
				out.aggs = append(out.aggs, child.aggs[i])
			}
			if child.wins != nil {
				out.wins = append(out.wins, child.wins[i])
			}
		}
	}
	return out, nil
}

// aggAccumulator folds one aggregate call over a group.
type aggAccumulator struct {
	call sql.FuncCall

	count    int64
	sum      core.Value
	min, max core.Value
	distinct map[string]bool
}

func newAccumulator(call sql.FuncCall) *aggAccumulator {
	acc := &aggAccumulator{call: call}
	if call.Distinct {
		acc.distinct = map[string]bool{}
	}
	return acc
}

func (a *aggAccumulator) add(ctx *EvalContext) error {
	if a.call.Star {
		a.count++
		return nil
	}
	v, err := Eval(ctx, a.call.Args[0])
	if err != nil {
		return err
	}
	if v.IsNull() {
		return nil
	}
	if a.distinct != nil {
		key := v.Kind.String() + ":" + v.Display()
		if a.distinct[key] {
			return nil
		}
		a.distinct[key] = true
	}
	a.count++

	switch a.call.Name {
	case "SUM", "AVG":
		if a.sum.IsNull() {
			a.sum = v
		} else {
			sum, err := core.Arith(core.OpAdd, a.sum, v)
			if err != nil {
				return err
			}
			a.sum = sum
		}
	case "MIN":
		if a.min.IsNull() {
			a.min = v
		} else if c, err := core.Compare(v, a.min); err != nil {
			return err
		} else if c < 0 {
			a.min = v
		}
	case "MAX":
		if a.max.IsNull() {
			a.max = v
		} else if c, err := core.Compare(v, a.max); err != nil {
			return err
		} else if c > 0 {
			a.max = v
		}
	}
	return nil
}

// result returns the aggregate value: COUNT of no rows is 0, every other
// aggregate over no rows is NULL, and AVG always divides as float.
func (a *aggAccumulator) result() (core.Value, error) {
	switch a.call.Name {
	case "COUNT":
		return core.NewInteger(a.count), nil
	case "SUM":
		return a.sum, nil
	case "AVG":
		if a.count == 0 {
			return core.Null(), nil
		}
		f, err := a.sum.AsFloat()
		if err != nil {
			return core.Value{}, err
		}
		return core.NewFloat(f / float64(a.count)), nil
	case "MIN":
		return a.min, nil
	case "MAX":
		return a.max, nil
	default:
		return core.Value{}, core.Errorf(core.KindUnsupported, "aggregate %s", a.call.Name)
	}
}

type aggGroup struct {
	keyVals []core.Value
	repRow  []core.Value
	accs    []*aggAccumulator
}

func (e *Engine) execAggregate(ctx context.Context, node *plan.Node, txn *mvcc.Txn, scope map[string]*rowSet) (*rowSet, error) {
	child, err := e.execNode(ctx, node.Child, txn, scope)
	if err != nil {
		return nil, err
	}

	groups := map[string]*aggGroup{}
	var order []string

	for i := range child.rows {
		rowCtx := child.evalCtx(i, e, txn, scope)

		keyVals := make([]core.Value, len(node.GroupBy))
		var keyParts []string
		for k, expr := range node.GroupBy {
			v, err := Eval(rowCtx, expr)
			if err != nil {
				return nil, err
			}
			keyVals[k] = v
			keyParts = append(keyParts, v.Kind.String()+":"+v.Display())
		}
		key := strings.Join(keyParts, "\x00")

		group, ok := groups[key]
		if !ok {
			group = &aggGroup{keyVals: keyVals, repRow: child.rows[i]}
			for _, call := range node.AggCalls {
				group.accs = append(group.accs, newAccumulator(call))
			}
			groups[key] = group
			order = append(order, key)
		}
		for _, acc := range group.accs {
			if err := acc.add(rowCtx); err != nil {
				return nil, err
			}
		}
	}

	// Aggregation without GROUP BY over no rows still yields one group
	// with default aggregate values.
	if len(groups) == 0 && len(node.GroupBy) == 0 {
		group := &aggGroup{repRow: nullRow(len(child.cols))}
		for _, call := range node.AggCalls {
			group.accs = append(group.accs, newAccumulator(call))
		}
		groups[""] = group
		order = append(order, "")
	}

	out := &rowSet{cols: child.cols}
	for _, key := range order {
		group := groups[key]
		aggs := map[string]core.Value{}
		for _, acc := range group.accs {
			v, err := acc.result()
			if err != nil {
				return nil, err
			}
			aggs[sql.ExprString(acc.call)] = v
		}

		if node.Having != nil {
			ok, err := evalBool(&EvalContext{
				Cols: child.cols, Row: group.repRow,
				Engine: e, Txn: txn, Aggs: aggs, Ctes: scope,
			}, node.Having)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}

		out.rows = append(out.rows, group.repRow)
		out.aggs = append(out.aggs, aggs)
	}
	return out, nil
}

func (e *Engine) execWindow(ctx context.Context, node *plan.Node, txn *mvcc.Txn, scope map[string]*rowSet) (*rowSet, error) {
	child, err := e.execNode(ctx, node.Child, txn, scope)
	if err != nil {
		return nil, err
	}

	wins := make([]map[string]core.Value, len(child.rows))
	for i := range wins {
		wins[i] = map[string]core.Value{}
	}

	for _, win := range node.WindowExprs {
		key := sql.ExprString(win)

		// Partition row indexes.
		partitions := map[string][]int{}
		var partOrder []string
		for i := range child.rows {
			rowCtx := child.evalCtx(i, e, txn, scope)
			var parts []string
			for _, expr := range win.PartitionBy {
				v, err := Eval(rowCtx, expr)
				if err != nil {
					return nil, err
				}
				parts = append(parts, v.Kind.String()+":"+v.Display())
			}
			pkey := strings.Join(parts, "\x00")
			if _, ok := partitions[pkey]; !ok {
				partOrder = append(partOrder, pkey)
			}
			partitions[pkey] = append(partitions[pkey], i)
		}

		for _, pkey := range partOrder {
			indexes := partitions[pkey]

			ordered := append([]int(nil), indexes...)
			if len(win.OrderBy) > 0 {
				keys := make([][]core.Value, len(child.rows))
				for _, i := range indexes {
					rowCtx := child.evalCtx(i, e, txn, scope)
					keys[i] = make([]core.Value, len(win.OrderBy))
					for k, ob := range win.OrderBy {
						v, err := Eval(rowCtx, ob.Expr)
						if err != nil {
							return nil, err
						}
						keys[i][k] = v
					}
				}
				var sortErr error
				sort.SliceStable(ordered, func(x, y int) bool {
					c, err := compareKeyRows(keys[ordered[x]], keys[ordered[y]], win.OrderBy)
					if err != nil && sortErr == nil {
						sortErr = err
					}
					return c < 0
				})
				if sortErr != nil {
					return nil, sortErr
				}

				switch win.Func {
				case "ROW_NUMBER":
					for pos, i := range ordered {
						wins[i][key] = core.NewInteger(int64(pos + 1))
					}
				case "RANK":
					rank := int64(1)
					for pos, i := range ordered {
						if pos > 0 {
							c, err := compareKeyRows(keys[ordered[pos-1]], keys[i], win.OrderBy)
							if err != nil {
								return nil, err
							}
							if c != 0 {
								rank = int64(pos + 1)
							}
						}
						wins[i][key] = core.NewInteger(rank)
					}
				}
			} else {
				for pos, i := range ordered {
					wins[i][key] = core.NewInteger(int64(pos + 1))
				}
			}
		}
	}

	return &rowSet{cols: child.cols, rows: child.rows, aggs: child.aggs, wins: wins}, nil
}

// compareKeyRows orders two sort-key tuples with NULLs last and DESC
// reversal per key.
func compareKeyRows(a, b []core.Value, keys []sql.OrderKey) (int, error) {
	for k := range keys {
		av, bv := a[k], b[k]
		switch {
		case av.IsNull() && bv.IsNull():
			continue
		case av.IsNull():
			return 1, nil // NULLs last regardless of direction
		case bv.IsNull():
			return -1, nil
		}
		c, err := core.Compare(av, bv)
		if err != nil {
			return 0, err
		}
		if c == 0 {
			continue
		}
		if keys[k].Desc {
			return -c, nil
		}
		return c, nil
	}
	return 0, nil
}

func (e *Engine) execProject(ctx context.Context, node *plan.Node, txn *mvcc.Txn, scope map[string]*rowSet) (*rowSet, error) {
	child, err := e.execNode(ctx, node.Child, txn, scope)
	if err != nil {
		return nil, err
	}

	out := &rowSet{src: child}
	for _, item := range node.Projections {
		if item.Star {
			out.cols = append(out.cols, child.cols...)
			continue
		}
		name := item.Alias
		if name == "" {
			if ref, ok := item.Expr.(sql.ColumnRef); ok {
				name = ref.Name
			} else {
				name = sql.ExprString(item.Expr)
			}
		}
		out.cols = append(out.cols, colInfo{Name: name})
	}

	if len(child.rows) == 0 {
		probe := &EvalContext{Cols: child.cols, Row: nullRow(len(child.cols)), Engine: e, Txn: txn, Ctes: scope}
		for _, item := range node.Projections {
			if item.Star {
				continue
			}
			if _, err := Eval(probe, item.Expr); core.IsKind(err, core.KindColumnNotFound) {
				return nil, err
			}
		}
	}

	for i := range child.rows {
		rowCtx := child.evalCtx(i, e, txn, scope)
		var projected []core.Value
		for _, item := range node.Projections {
			if item.Star {
				projected = append(projected, child.rows[i]...)
				continue
			}
			v, err := Eval(rowCtx, item.Expr)
			if err != nil {
				return nil, err
			}
			projected = append(projected, v)
		}
		out.rows = append(out.rows, projected)
	}
	return out, nil
}

func (e *Engine) execDistinct(ctx context.Context, node *plan.Node, txn *mvcc.Txn, scope map[string]*rowSet) (*rowSet, error) {
	child, err := e.execNode(ctx, node.Child, txn, scope)
	if err != nil {
		return nil, err
	}
	// Deduplication breaks row correspondence with the projection source.
	return &rowSet{cols: child.cols, rows: dedupRows(child.rows)}, nil
}

func dedupRows(rows [][]core.Value) [][]core.Value {
	seen := map[string]bool{}
	var out [][]core.Value
	for _, row := range rows {
		key := rowKey(row)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, row)
	}
	return out
}

func rowKey(row []core.Value) string {
	parts := make([]string, len(row))
	for i, v := range row {
		parts[i] = v.Kind.String() + ":" + v.Display()
	}
	return strings.Join(parts, "\x00")
}

func (e *Engine) execSort(ctx context.Context, node *plan.Node, txn *mvcc.Txn, scope map[string]*rowSet) (*rowSet, error) {
	child, err := e.execNode(ctx, node.Child, txn, scope)
	if err != nil {
		return nil, err
	}

	// Evaluate sort keys once per row: first against the projected
	// columns (so aliases work), falling back to the pre-projection row
	// (so ORDER BY can name columns outside the select list).
	keys := make([][]core.Value, len(child.rows))
	for i := range child.rows {
		keys[i] = make([]core.Value, len(node.SortKeys))
		for k, ob := range node.SortKeys {
			v, err := Eval(child.evalCtx(i, e, txn, scope), ob.Expr)
			if err != nil && child.src != nil {
				// Aliases resolve against the projection; anything else
				// (hidden columns, aggregates) against the source rows.
				if fallback, ferr := Eval(child.src.evalCtx(i, e, txn, scope), ob.Expr); ferr == nil {
					v, err = fallback, nil
				}
			}
			if err != nil {
				return nil, err
			}
			keys[i][k] = v
		}
	}

	indexes := make([]int, len(child.rows))
	for i := range indexes {
		indexes[i] = i
	}
	var sortErr error
	sort.SliceStable(indexes, func(x, y int) bool {
		c, err := compareKeyRows(keys[indexes[x]], keys[indexes[y]], node.SortKeys)
		if err != nil && sortErr == nil {
			sortErr = err
		}
		return c < 0
	})
	if sortErr != nil {
		return nil, sortErr
	}

	out := &rowSet{cols: child.cols}
	for _, i := range indexes {
		out.rows = append(out.rows, child.rows[i])
	}
	return out, nil
}

func (e *Engine) execLimit(ctx context.Context, node *plan.Node, txn *mvcc.Txn, scope map[string]*rowSet) (*rowSet, error) {
	child, err := e.execNode(ctx, node.Child, txn, scope)
	if err != nil {
		return nil, err
	}
	rows := child.rows
	if node.LimitOffset > 0 {
		if node.LimitOffset >= int64(len(rows)) {
			rows = nil
		} else {
			rows = rows[node.LimitOffset:]
		}
	}
	if node.LimitCount >= 0 && node.LimitCount < int64(len(rows)) {
		rows = rows[:node.LimitCount]
	}
	return &rowSet{cols: child.cols, rows: rows}, nil
}

// Subquery support for the evaluator. Subqueries run against the same
// transaction as the enclosing query and see its CTE scope.
func (ctx *EvalContext) subqueryRun(sub *sql.SelectStatement) (*rowSet, error) {
	if ctx.Engine == nil {
		return nil, core.Errorf(core.KindExecution, "subquery outside engine context")
	}
	return ctx.Engine.runSelect(context.Background(), sub, ctx.Txn, ctx.Ctes)
}

func (ctx *EvalContext) subqueryColumn(sub *sql.SelectStatement) ([]core.Value, error) {
	if ctx.subRows == nil {
		ctx.subRows = map[*sql.SelectStatement][]core.Value{}
	}
	if cached, ok := ctx.subRows[sub]; ok {
		return cached, nil
	}
	rs, err := ctx.subqueryRun(sub)
	if err != nil {
		return nil, err
	}
	if len(rs.cols) != 1 {
		return nil, core.Errorf(core.KindExecution, "IN subquery must return one column")
	}
	var out []core.Value
	for _, row := range rs.rows {
		out = append(out, row[0])
	}
	ctx.subRows[sub] = out
	return out, nil
}

func (ctx *EvalContext) subqueryExists(sub *sql.SelectStatement) (bool, error) {
	if ctx.subExists == nil {
		ctx.subExists = map[*sql.SelectStatement]bool{}
	}
	if cached, ok := ctx.subExists[sub]; ok {
		return cached, nil
	}
	rs, err := ctx.subqueryRun(sub)
	if err != nil {
		return false, err
	}
	found := len(rs.rows) > 0
	ctx.subExists[sub] = found
	return found, nil
}
