package sql

import (
	"fmt"
	"strings"
)

// ExprString renders an expression in SQL-ish form. The executor uses it
// for derived column names and for keying aggregate accumulators, so the
// rendering must be deterministic.
func ExprString(e Expr) string {
	switch n := e.(type) {
	case Literal:
		if n.Value.IsNull() {
			return "NULL"
		}
		return n.Value.Display()
	case ColumnRef:
		if n.Table != "" {
			return n.Table + "." + n.Name
		}
		return n.Name
	case BinaryExpr:
		return fmt.Sprintf("(%s %s %s)", ExprString(n.Left), n.Op, ExprString(n.Right))
	case UnaryExpr:
		return fmt.Sprintf("(%s %s)", n.Op, ExprString(n.Operand))
	case LikeExpr:
		op := "LIKE"
		if n.Not {
			op = "NOT LIKE"
		}
		return fmt.Sprintf("(%s %s %s)", ExprString(n.Operand), op, ExprString(n.Pattern))
	case BetweenExpr:
		op := "BETWEEN"
		if n.Not {
			op = "NOT BETWEEN"
		}
		return fmt.Sprintf("(%s %s %s AND %s)", ExprString(n.Operand), op, ExprString(n.Low), ExprString(n.High))
	case IsNullExpr:
		if n.Not {
			return fmt.Sprintf("(%s IS NOT NULL)", ExprString(n.Operand))
		}
		return fmt.Sprintf("(%s IS NULL)", ExprString(n.Operand))
	case InExpr:
		op := "IN"
		if n.Not {
			op = "NOT IN"
		}
		if n.Subquery != nil {
			return fmt.Sprintf("(%s %s (subquery))", ExprString(n.Operand), op)
		}
		items := make([]string, len(n.List))
		for i, item := range n.List {
			items[i] = ExprString(item)
		}
		return fmt.Sprintf("(%s %s (%s))", ExprString(n.Operand), op, strings.Join(items, ", "))
	case ExistsExpr:
		return "EXISTS(subquery)"
	case FuncCall:
		if n.Star {
			return n.Name + "(*)"
		}
		args := make([]string, len(n.Args))
		for i, arg := range n.Args {
			args[i] = ExprString(arg)
		}
		distinct := ""
		if n.Distinct {
			distinct = "DISTINCT "
		}
		return fmt.Sprintf("%s(%s%s)", n.Name, distinct, strings.Join(args, ", "))
	case WindowExpr:
		var parts []string
		if len(n.PartitionBy) > 0 {
			cols := make([]string, len(n.PartitionBy))
			for i, c := range n.PartitionBy {
				cols[i] = ExprString(c)
			}
			parts = append(parts, "PARTITION BY "+strings.Join(cols, ", "))
		}
		if len(n.OrderBy) > 0 {
			keys := make([]string, len(n.OrderBy))
			for i, k := range n.OrderBy {
				keys[i] = ExprString(k.Expr)
				if k.Desc {
					keys[i] += " DESC"
				}
			}
			parts = append(parts, "ORDER BY "+strings.Join(keys, ", "))
		}
		return fmt.Sprintf("%s() OVER (%s)", n.Func, strings.Join(parts, " "))
	case JSONAccess:
		return fmt.Sprintf("(%s %s %s)", ExprString(n.Operand), n.Op, ExprString(n.Field))
	default:
		return "?"
	}
}
