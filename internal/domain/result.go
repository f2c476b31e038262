package domain

// Result holds the fully materialized output of a SQL query: the column
// schema plus every row. Results stored in the cache are never handed out
// by reference — use Clone to produce a copy callers may mutate freely.
type Result struct {
	Columns  []string
	Rows     [][]interface{}
	RowCount int
}

// Clone returns a deep copy of the result. Row cell values are copied by
// assignment; cached results only ever hold scalar cell types (strings,
// numbers, bools, times), so assignment is sufficient.
func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	out := &Result{
		Columns:  make([]string, len(r.Columns)),
		Rows:     make([][]interface{}, len(r.Rows)),
		RowCount: r.RowCount,
	}
	copy(out.Columns, r.Columns)
	for i, row := range r.Rows {
		out.Rows[i] = make([]interface{}, len(row))
		copy(out.Rows[i], row)
	}
	return out
}
