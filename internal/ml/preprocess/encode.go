package preprocess

import (
	"fmt"
	"math"
	"slices"
	"strconv"
)

const (
	kindOneHotEncoder  = "onehot_encoder"
	kindOrdinalEncoder = "ordinal_encoder"
)

const (
	UnknownError  = "error"
	UnknownIgnore = "ignore"
	UnknownValue  = "use_encoded_value"
)

// categories collects the sorted distinct observed values per column.
func categories(x [][]float64) [][]float64 {
	n := width(x)
	out := make([][]float64, n)
	for j := 0; j < n; j++ {
		vals := present(x, j)
		slices.Sort(vals)
		out[j] = slices.Compact(vals)
	}
	return out
}

// OneHotEncoder expands each column into one indicator per category seen at
// fit time. With HandleUnknown=ignore an unseen or missing value encodes as
// all zeros.
type OneHotEncoder struct {
	HandleUnknown string      `json:"handle_unknown" yaml:"handle_unknown"`
	Categories    [][]float64 `json:"categories,omitempty" yaml:"-"`
}

func (e *OneHotEncoder) Kind() string { return kindOneHotEncoder }

func (e *OneHotEncoder) Fit(x [][]float64) error {
	if e.HandleUnknown != UnknownError && e.HandleUnknown != UnknownIgnore {
		return fmt.Errorf("handle_unknown must be error or ignore, got %q", e.HandleUnknown)
	}
	e.Categories = categories(x)
	return nil
}

func (e *OneHotEncoder) Transform(x [][]float64) ([][]float64, error) {
	if e.Categories == nil {
		return nil, ErrNotFitted
	}
	if err := checkWidth(x, len(e.Categories)); err != nil {
		return nil, err
	}
	total := 0
	for _, cats := range e.Categories {
		total += len(cats)
	}
	out := make([][]float64, len(x))
	for i, row := range x {
		enc := make([]float64, total)
		off := 0
		for j, v := range row {
			cats := e.Categories[j]
			k, found := slices.BinarySearch(cats, v)
			if !found || math.IsNaN(v) {
				if e.HandleUnknown == UnknownError {
					return nil, fmt.Errorf("row %d column %d: unknown category %v", i, j, v)
				}
			} else {
				enc[off+k] = 1
			}
			off += len(cats)
		}
		out[i] = enc
	}
	return out, nil
}

func (e *OneHotEncoder) OutputColumns(in []string) []string {
	var out []string
	for j, cats := range e.Categories {
		name := fmt.Sprintf("x%d", j)
		if j < len(in) {
			name = in[j]
		}
		for _, c := range cats {
			out = append(out, name+"_"+strconv.FormatFloat(c, 'g', -1, 64))
		}
	}
	return out
}

// OrdinalEncoder replaces each value with the index of its category.
type OrdinalEncoder struct {
	HandleUnknown string      `json:"handle_unknown" yaml:"handle_unknown"`
	UnknownValue  float64     `json:"unknown_value" yaml:"unknown_value"`
	Categories    [][]float64 `json:"categories,omitempty" yaml:"-"`
}

func (e *OrdinalEncoder) Kind() string { return kindOrdinalEncoder }

func (e *OrdinalEncoder) Fit(x [][]float64) error {
	if e.HandleUnknown != UnknownError && e.HandleUnknown != UnknownValue {
		return fmt.Errorf("handle_unknown must be error or use_encoded_value, got %q", e.HandleUnknown)
	}
	e.Categories = categories(x)
	return nil
}

func (e *OrdinalEncoder) Transform(x [][]float64) ([][]float64, error) {
	if e.Categories == nil {
		return nil, ErrNotFitted
	}
	if err := checkWidth(x, len(e.Categories)); err != nil {
		return nil, err
	}
	out := cloneMatrix(x)
	for i, row := range out {
		for j, v := range row {
			if math.IsNaN(v) {
				continue
			}
			k, found := slices.BinarySearch(e.Categories[j], v)
			switch {
			case found:
				row[j] = float64(k)
			case e.HandleUnknown == UnknownValue:
				row[j] = e.UnknownValue
			default:
				return nil, fmt.Errorf("row %d column %d: unknown category %v", i, j, v)
			}
		}
	}
	return out, nil
}

func (e *OrdinalEncoder) Inverse(x [][]float64) ([][]float64, error) {
	if e.Categories == nil {
		return nil, ErrNotFitted
	}
	out := cloneMatrix(x)
	for _, row := range out {
		for j, v := range row {
			k := int(v)
			if float64(k) == v && k >= 0 && k < len(e.Categories[j]) {
				row[j] = e.Categories[j][k]
			}
		}
	}
	return out, nil
}

func (e *OrdinalEncoder) OutputColumns(in []string) []string { return in }
