package db

import (
	"os"

	"github.com/olekukonko/tablewriter"

	"github.com/maxBogovick/memodb/core"
)

// QueryResult is the uniform result of any statement: column names, rows,
// and an affected-row count for DML.
type QueryResult struct {
	Columns      []string
	Rows         [][]core.Value
	AffectedRows int
}

// RowCount returns the number of result rows.
func (r *QueryResult) RowCount() int {
	return len(r.Rows)
}

// Strings renders every row through Value.Display.
func (r *QueryResult) Strings() [][]string {
	out := make([][]string, len(r.Rows))
	for i, row := range r.Rows {
		cells := make([]string, len(row))
		for j, v := range row {
			cells[j] = v.Display()
		}
		out[i] = cells
	}
	return out
}

// Display renders the result to stdout as a table.
func (r *QueryResult) Display() {
	if len(r.Columns) == 0 && len(r.Rows) == 0 {
		return
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.Header(r.Columns)
	table.Bulk(r.Strings())
	table.Render()
}
