package frame

import (
	"strconv"
	"strings"
)

// DType names follow the labels used in schema documents.
type DType string

const (
	Int64   DType = "int64"
	Float64 DType = "float64"
	Object  DType = "object"
)

// InferDType types a column the way a CSV reader would: integers stay
// int64 unless a value is missing, any decimal makes it float64, anything
// non-numeric makes it object. An all-missing column is float64.
func InferDType(cells []Cell) DType {
	sawNull, sawFloat := false, false
	for _, c := range cells {
		if !c.Valid {
			sawNull = true
			continue
		}
		s := strings.TrimSpace(c.String)
		if _, err := strconv.ParseInt(s, 10, 64); err == nil {
			continue
		}
		if _, err := strconv.ParseFloat(s, 64); err == nil {
			sawFloat = true
			continue
		}
		return Object
	}
	if sawFloat || sawNull {
		return Float64
	}
	return Int64
}

func (d DType) Numeric() bool {
	return d == Int64 || d == Float64
}

// DTypes infers the type of every column.
func (f *Frame) DTypes() map[string]DType {
	out := make(map[string]DType, len(f.Columns))
	for _, name := range f.Columns {
		cells, _ := f.Column(name)
		out[name] = InferDType(cells)
	}
	return out
}
