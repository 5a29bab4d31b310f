package plan

import (
	"github.com/maxBogovick/memodb/core"
	"github.com/maxBogovick/memodb/sql"
)

// Resolver answers name questions the planner cannot: whether a FROM name
// is a CTE in scope, a view, or a base table.
type Resolver interface {
	IsCTE(name string) bool
	ViewQuery(name string) (string, bool)
	HasTable(name string) bool
}

// Build lowers a SELECT into a logical plan. Views are expanded here, so
// the executor only ever sees scans of tables, CTEs and subqueries.
func Build(stmt *sql.SelectStatement, r Resolver) (*Node, error) {
	var root *Node

	if stmt.From != nil {
		from, err := buildFrom(*stmt.From, r)
		if err != nil {
			return nil, err
		}
		root = from

		for _, join := range stmt.Joins {
			right, err := buildFrom(join.From, r)
			if err != nil {
				return nil, err
			}
			root = &Node{
				Kind: NestedLoopJoin, Left: root, Right: right,
				JoinKind: join.Kind, On: join.On,
			}
		}
	} else {
		root = &Node{Kind: Values, OneRow: true}
	}

	if stmt.Where != nil {
		where := FoldConstants(stmt.Where)
		switch verdict := literalVerdict(where); verdict {
		case verdictTrue:
			// Filter dropped entirely.
		case verdictFalse:
			// A provably false predicate reads nothing: no scan, no
			// index lookup.
			root = &Node{Kind: Values}
		default:
			if root.Kind == TableScan && len(stmt.Joins) == 0 {
				root.Pushed = where
			} else {
				root = &Node{Kind: Filter, Predicate: where, Child: root}
			}
		}
	}

	if needsAggregate(stmt) {
		root = &Node{
			Kind: HashAggregate, Child: root,
			GroupBy: stmt.GroupBy, Having: stmt.Having,
			AggCalls: aggCalls(stmt),
		}
	} else if stmt.Having != nil {
		return nil, core.Errorf(core.KindExecution, "HAVING requires aggregation")
	}

	if wins := windowExprs(stmt); len(wins) > 0 {
		root = &Node{Kind: Window, Child: root, WindowExprs: wins}
	}

	root = &Node{Kind: Project, Child: root, Projections: stmt.Projections}

	if stmt.Distinct {
		root = &Node{Kind: Distinct, Child: root}
	}

	if len(stmt.OrderBy) > 0 {
		root = &Node{Kind: Sort, Child: root, SortKeys: stmt.OrderBy}
	}

	if stmt.Limit != nil || stmt.Offset != nil {
		n := &Node{Kind: Limit, Child: root, LimitCount: -1}
		if stmt.Limit != nil {
			n.LimitCount = *stmt.Limit
		}
		if stmt.Offset != nil {
			n.LimitOffset = *stmt.Offset
		}
		root = n
	}

	return root, nil
}

func buildFrom(from sql.FromClause, r Resolver) (*Node, error) {
	if from.Subquery != nil {
		return &Node{Kind: SubqueryScan, Subquery: from.Subquery, Alias: from.Alias}, nil
	}
	if r.IsCTE(from.Table) {
		return &Node{Kind: CteScan, Cte: from.Table, Alias: from.Alias}, nil
	}
	if viewSQL, ok := r.ViewQuery(from.Table); ok {
		parsed, err := sql.NewParser(viewSQL).Parse()
		if err != nil {
			return nil, core.WrapErr(core.KindExecution, err, "view %q does not parse", from.Table)
		}
		sel, ok := parsed.(*sql.SelectStatement)
		if !ok {
			return nil, core.Errorf(core.KindExecution, "view %q is not a SELECT", from.Table)
		}
		alias := from.Alias
		if alias == "" {
			alias = from.Table
		}
		return &Node{Kind: SubqueryScan, Subquery: sel, Alias: alias}, nil
	}
	if !r.HasTable(from.Table) {
		return nil, core.Errorf(core.KindTableNotFound, "table %q does not exist", from.Table)
	}
	return &Node{Kind: TableScan, Table: from.Table, Alias: from.Alias}, nil
}

func needsAggregate(stmt *sql.SelectStatement) bool {
	if len(stmt.GroupBy) > 0 {
		return true
	}
	for _, item := range stmt.Projections {
		if item.Expr != nil && sql.IsAggregate(item.Expr) {
			return true
		}
	}
	return stmt.Having != nil && sql.IsAggregate(stmt.Having)
}

// aggCalls collects the distinct aggregate calls of the projection list,
// the HAVING clause and the ORDER BY keys, keyed by rendered form.
func aggCalls(stmt *sql.SelectStatement) []sql.FuncCall {
	seen := map[string]bool{}
	var out []sql.FuncCall
	collect := func(e sql.Expr) {
		sql.WalkExpr(e, func(node sql.Expr) bool {
			if fc, ok := node.(sql.FuncCall); ok && sql.AggregateFuncs[fc.Name] {
				key := sql.ExprString(fc)
				if !seen[key] {
					seen[key] = true
					out = append(out, fc)
				}
				return false
			}
			return true
		})
	}
	for _, item := range stmt.Projections {
		collect(item.Expr)
	}
	collect(stmt.Having)
	for _, key := range stmt.OrderBy {
		collect(key.Expr)
	}
	return out
}

func windowExprs(stmt *sql.SelectStatement) []sql.WindowExpr {
	var out []sql.WindowExpr
	for _, item := range stmt.Projections {
		sql.WalkExpr(item.Expr, func(e sql.Expr) bool {
			if w, ok := e.(sql.WindowExpr); ok {
				out = append(out, w)
			}
			return true
		})
	}
	return out
}

type verdict int

const (
	verdictUnknown verdict = iota
	verdictTrue
	verdictFalse
)

// literalVerdict classifies a predicate that folded to a literal.
func literalVerdict(e sql.Expr) verdict {
	lit, ok := e.(sql.Literal)
	if !ok {
		return verdictUnknown
	}
	if lit.Value.IsNull() {
		return verdictFalse
	}
	if lit.Value.AsBool() {
		return verdictTrue
	}
	return verdictFalse
}

// FoldConstants folds comparisons and arithmetic over literals. Folding is
// best-effort: anything that errors is left for the executor to report.
func FoldConstants(e sql.Expr) sql.Expr {
	switch n := e.(type) {
	case sql.BinaryExpr:
		left := FoldConstants(n.Left)
		right := FoldConstants(n.Right)
		folded := sql.BinaryExpr{Op: n.Op, Left: left, Right: right}

		ll, lok := left.(sql.Literal)
		rl, rok := right.(sql.Literal)
		if !lok || !rok {
			return folded
		}
		switch n.Op {
		case "AND":
			// Kleene logic: a known false dominates, NULL stays NULL. A
			// NULL folded to a plain false would be flipped to true by an
			// enclosing NOT.
			lNull, rNull := ll.Value.IsNull(), rl.Value.IsNull()
			if (!lNull && !ll.Value.AsBool()) || (!rNull && !rl.Value.AsBool()) {
				return sql.Literal{Value: core.NewBoolean(false)}
			}
			if lNull || rNull {
				return sql.Literal{Value: core.Null()}
			}
			return sql.Literal{Value: core.NewBoolean(true)}
		case "OR":
			lNull, rNull := ll.Value.IsNull(), rl.Value.IsNull()
			if (!lNull && ll.Value.AsBool()) || (!rNull && rl.Value.AsBool()) {
				return sql.Literal{Value: core.NewBoolean(true)}
			}
			if lNull || rNull {
				return sql.Literal{Value: core.Null()}
			}
			return sql.Literal{Value: core.NewBoolean(false)}
		case "=", "!=", "<", "<=", ">", ">=":
			if ll.Value.IsNull() || rl.Value.IsNull() {
				return sql.Literal{Value: core.Null()}
			}
			c, err := core.Compare(ll.Value, rl.Value)
			if err != nil {
				return folded
			}
			var b bool
			switch n.Op {
			case "=":
				b = c == 0
			case "!=":
				b = c != 0
			case "<":
				b = c < 0
			case "<=":
				b = c <= 0
			case ">":
				b = c > 0
			case ">=":
				b = c >= 0
			}
			return sql.Literal{Value: core.NewBoolean(b)}
		case "+", "-", "*", "/", "%":
			op, ok := arithOps[n.Op]
			if !ok {
				return folded
			}
			v, err := core.Arith(op, ll.Value, rl.Value)
			if err != nil {
				return folded
			}
			return sql.Literal{Value: v}
		}
		return folded
	case sql.UnaryExpr:
		operand := FoldConstants(n.Operand)
		if lit, ok := operand.(sql.Literal); ok && n.Op == "NOT" {
			if lit.Value.IsNull() {
				return sql.Literal{Value: core.Null()}
			}
			return sql.Literal{Value: core.NewBoolean(!lit.Value.AsBool())}
		}
		return sql.UnaryExpr{Op: n.Op, Operand: operand}
	default:
		return e
	}
}

var arithOps = map[string]core.ArithOp{
	"+": core.OpAdd, "-": core.OpSub, "*": core.OpMul, "/": core.OpDiv, "%": core.OpMod,
}
