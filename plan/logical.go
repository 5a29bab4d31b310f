package plan

import (
	"github.com/maxBogovick/memodb/sql"
)

// NodeKind discriminates logical plan operators.
type NodeKind int

const (
	// TableScan reads a base table, optionally with a pushed-down filter.
	TableScan NodeKind = iota
	// CteScan reads a materialized common table expression.
	CteScan
	// SubqueryScan runs a nested SELECT as a row source.
	SubqueryScan
	// Values produces a constant row set: one empty row for FROM-less
	// selects, no rows for provably false predicates.
	Values
	// NestedLoopJoin joins two inputs with an ON predicate.
	NestedLoopJoin
	// Filter drops rows whose predicate does not hold.
	Filter
	// HashAggregate groups rows and folds aggregate calls.
	HashAggregate
	// Window computes window functions over the input.
	Window
	// Project evaluates the projection list.
	Project
	// Distinct removes duplicate projected rows.
	Distinct
	// Sort orders rows by the sort keys; the sort is stable and NULLs
	// sort last.
	Sort
	// Limit applies LIMIT/OFFSET.
	Limit
)

func (k NodeKind) String() string {
	switch k {
	case TableScan:
		return "TableScan"
	case CteScan:
		return "CteScan"
	case SubqueryScan:
		return "SubqueryScan"
	case Values:
		return "Values"
	case NestedLoopJoin:
		return "NestedLoopJoin"
	case Filter:
		return "Filter"
	case HashAggregate:
		return "HashAggregate"
	case Window:
		return "Window"
	case Project:
		return "Project"
	case Distinct:
		return "Distinct"
	case Sort:
		return "Sort"
	case Limit:
		return "Limit"
	default:
		return "Unknown"
	}
}

// Node is one logical operator. Which fields are meaningful depends on
// Kind; Child is the single input of unary operators.
type Node struct {
	Kind NodeKind

	Child *Node

	// TableScan
	Table  string
	Alias  string
	Pushed sql.Expr

	// CteScan
	Cte string

	// SubqueryScan
	Subquery *sql.SelectStatement

	// Values
	OneRow bool

	// NestedLoopJoin
	Left     *Node
	Right    *Node
	JoinKind string
	On       sql.Expr

	// Filter
	Predicate sql.Expr

	// HashAggregate
	GroupBy  []sql.Expr
	Having   sql.Expr
	AggCalls []sql.FuncCall

	// Window
	WindowExprs []sql.WindowExpr

	// Project
	Projections []sql.SelectItem

	// Sort
	SortKeys []sql.OrderKey

	// Limit
	LimitCount  int64 // -1 when absent
	LimitOffset int64
}
