// Package plan lowers a parsed SELECT into a tree of logical operators:
// scans, filters, projections, joins, aggregation, windowing, sorting and
// limits. The planner performs two simple rewrites — predicate pushdown
// into single-table scans and constant folding of literal comparisons —
// and rejects constructs outside the supported matrix. There is no
// cost-based optimization.
package plan
