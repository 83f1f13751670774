// Package frame is a small row-oriented table used to move datasets between
// pipeline stages. Values keep their textual form; typing is inferred on
// demand per column.
package frame

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
)

// Cell is one value. Valid=false is a missing value.
type Cell struct {
	String string
	Valid  bool
}

func Value(s string) Cell { return Cell{String: s, Valid: true} }

func Null() Cell { return Cell{} }

type Frame struct {
	Columns []string
	Rows    [][]Cell
}

func New(columns []string) *Frame {
	return &Frame{Columns: slices.Clone(columns)}
}

func (f *Frame) Len() int { return len(f.Rows) }

func (f *Frame) Index(column string) int {
	return slices.Index(f.Columns, column)
}

func (f *Frame) HasColumn(column string) bool {
	return f.Index(column) >= 0
}

// Append adds a row; it must have one cell per column.
func (f *Frame) Append(row []Cell) error {
	if len(row) != len(f.Columns) {
		return fmt.Errorf("row has %d cells, frame has %d columns", len(row), len(f.Columns))
	}
	f.Rows = append(f.Rows, row)
	return nil
}

func (f *Frame) Clone() *Frame {
	out := &Frame{Columns: slices.Clone(f.Columns), Rows: make([][]Cell, len(f.Rows))}
	for i, row := range f.Rows {
		out.Rows[i] = slices.Clone(row)
	}
	return out
}

func (f *Frame) Column(column string) ([]Cell, error) {
	idx := f.Index(column)
	if idx < 0 {
		return nil, fmt.Errorf("unknown column %q", column)
	}
	out := make([]Cell, len(f.Rows))
	for i, row := range f.Rows {
		out[i] = row[idx]
	}
	return out, nil
}

// DropColumns removes the named columns that are present and returns the
// names actually removed.
func (f *Frame) DropColumns(columns ...string) []string {
	var dropped []string
	keep := make([]int, 0, len(f.Columns))
	for i, c := range f.Columns {
		if slices.Contains(columns, c) {
			dropped = append(dropped, c)
			continue
		}
		keep = append(keep, i)
	}
	if len(dropped) == 0 {
		return nil
	}
	f.Columns = pick(f.Columns, keep)
	for i, row := range f.Rows {
		f.Rows[i] = pick(row, keep)
	}
	return dropped
}

// Select returns a new frame holding only columns, in that order.
func (f *Frame) Select(columns []string) (*Frame, error) {
	idx := make([]int, len(columns))
	for i, c := range columns {
		idx[i] = f.Index(c)
		if idx[i] < 0 {
			return nil, fmt.Errorf("unknown column %q", c)
		}
	}
	out := &Frame{Columns: slices.Clone(columns), Rows: make([][]Cell, len(f.Rows))}
	for i, row := range f.Rows {
		out.Rows[i] = pick(row, idx)
	}
	return out, nil
}

// Take returns a new frame with the given rows, in that order.
func (f *Frame) Take(rows []int) *Frame {
	out := &Frame{Columns: slices.Clone(f.Columns), Rows: make([][]Cell, len(rows))}
	for i, r := range rows {
		out.Rows[i] = slices.Clone(f.Rows[r])
	}
	return out
}

// ReplaceToken turns every cell whose text equals token exactly into a
// missing value. Other spellings ("NA", " na") are left alone.
func (f *Frame) ReplaceToken(token string) int {
	n := 0
	for _, row := range f.Rows {
		for j, c := range row {
			if c.Valid && c.String == token {
				row[j] = Null()
				n++
			}
		}
	}
	return n
}

// DropDuplicates removes exact full-row duplicates, keeping the first
// occurrence, and returns how many rows were removed.
func (f *Frame) DropDuplicates() int {
	seen := make(map[string]struct{}, len(f.Rows))
	kept := f.Rows[:0]
	var b strings.Builder
	for _, row := range f.Rows {
		b.Reset()
		for _, c := range row {
			if c.Valid {
				b.WriteByte('v')
				b.WriteString(strconv.Quote(c.String))
			} else {
				b.WriteByte('n')
			}
		}
		key := b.String()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		kept = append(kept, row)
	}
	removed := len(f.Rows) - len(kept)
	f.Rows = kept
	return removed
}

// NullCounts maps every column to its number of missing values.
func (f *Frame) NullCounts() map[string]int {
	out := make(map[string]int, len(f.Columns))
	for _, c := range f.Columns {
		out[c] = 0
	}
	for _, row := range f.Rows {
		for j, c := range row {
			if !c.Valid {
				out[f.Columns[j]]++
			}
		}
	}
	return out
}

// Floats parses column as numbers; missing values become NaN.
func (f *Frame) Floats(column string) ([]float64, error) {
	cells, err := f.Column(column)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(cells))
	for i, c := range cells {
		if !c.Valid {
			out[i] = math.NaN()
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(c.String), 64)
		if err != nil {
			return nil, fmt.Errorf("column %q row %d: %q is not numeric", column, i, c.String)
		}
		out[i] = v
	}
	return out, nil
}

// Matrix converts columns into a row-major float matrix.
func (f *Frame) Matrix(columns []string) ([][]float64, error) {
	cols := make([][]float64, len(columns))
	for j, c := range columns {
		v, err := f.Floats(c)
		if err != nil {
			return nil, err
		}
		cols[j] = v
	}
	out := make([][]float64, len(f.Rows))
	for i := range out {
		row := make([]float64, len(columns))
		for j := range columns {
			row[j] = cols[j][i]
		}
		out[i] = row
	}
	return out, nil
}

func pick[T any](in []T, idx []int) []T {
	out := make([]T, len(idx))
	for i, j := range idx {
		out[i] = in[j]
	}
	return out
}
