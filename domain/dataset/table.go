package dataset

import (
	"fmt"
	"math"

	"causalscope/domain/core"
	"causalscope/internal/errors"
)

// Table is an immutable rectangular dataset with named numeric
// columns. Missing observations are represented as NaN. Construction
// validates shape once; all analysis reads are copy-free.
type Table struct {
	keys []core.VariableKey
	cols map[core.VariableKey][]float64
	n    int
}

// New builds a table from named columns. Every column must have the
// same length and at least one column is required. Column order is
// normalized to sorted key order for deterministic iteration.
func New(columns map[core.VariableKey][]float64) (*Table, error) {
	if len(columns) == 0 {
		return nil, errors.Structural("dataset must contain at least one column")
	}

	keys := make([]core.VariableKey, 0, len(columns))
	for k := range columns {
		if k == "" {
			return nil, errors.Structural("dataset columns must be named")
		}
		keys = append(keys, k)
	}
	core.SortKeys(keys)

	n := len(columns[keys[0]])
	cols := make(map[core.VariableKey][]float64, len(columns))
	for _, k := range keys {
		col := columns[k]
		if len(col) != n {
			return nil, errors.Structural(fmt.Sprintf(
				"column %q has %d rows, expected %d", k, len(col), n))
		}
		dup := make([]float64, n)
		copy(dup, col)
		cols[k] = dup
	}

	return &Table{keys: keys, cols: cols, n: n}, nil
}

// Len returns the row count.
func (t *Table) Len() int {
	return t.n
}

// Keys returns the column names in sorted order.
func (t *Table) Keys() []core.VariableKey {
	out := make([]core.VariableKey, len(t.keys))
	copy(out, t.keys)
	return out
}

// Has reports whether the column exists.
func (t *Table) Has(key core.VariableKey) bool {
	_, ok := t.cols[key]
	return ok
}

// Column returns the values for a column. The returned slice is the
// table's backing storage and must not be mutated.
func (t *Table) Column(key core.VariableKey) ([]float64, error) {
	col, ok := t.cols[key]
	if !ok {
		return nil, errors.VertexNotFound(string(key))
	}
	return col, nil
}

// MissingRatio returns the NaN fraction of a column.
func (t *Table) MissingRatio(key core.VariableKey) (float64, error) {
	col, err := t.Column(key)
	if err != nil {
		return 0, err
	}
	if len(col) == 0 {
		return 0, nil
	}
	missing := 0
	for _, v := range col {
		if math.IsNaN(v) {
			missing++
		}
	}
	return float64(missing) / float64(len(col)), nil
}

// CompleteRows returns the indices of rows where every listed column
// is finite. Analysis over multiple columns runs on this row subset.
func (t *Table) CompleteRows(keys ...core.VariableKey) ([]int, error) {
	cols := make([][]float64, len(keys))
	for i, k := range keys {
		col, err := t.Column(k)
		if err != nil {
			return nil, err
		}
		cols[i] = col
	}

	var rows []int
	for i := 0; i < t.n; i++ {
		ok := true
		for _, col := range cols {
			if math.IsNaN(col[i]) || math.IsInf(col[i], 0) {
				ok = false
				break
			}
		}
		if ok {
			rows = append(rows, i)
		}
	}
	return rows, nil
}

// Gather extracts the values of a column at the given row indices.
func Gather(col []float64, rows []int) []float64 {
	out := make([]float64, len(rows))
	for i, r := range rows {
		out[i] = col[r]
	}
	return out
}
