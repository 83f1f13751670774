package frame

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
)

// FromRecords builds a frame from decoded JSON documents. Columns are the
// union of all keys; leading names keep their position, the rest are
// sorted. Documents should be decoded with UseNumber so integers stay exact.
func FromRecords(leading []string, records []map[string]any) (*Frame, error) {
	keys := map[string]struct{}{}
	for _, rec := range records {
		for k := range rec {
			keys[k] = struct{}{}
		}
	}
	columns := make([]string, 0, len(keys))
	for _, k := range leading {
		if _, ok := keys[k]; ok {
			columns = append(columns, k)
			delete(keys, k)
		}
	}
	rest := make([]string, 0, len(keys))
	for k := range keys {
		rest = append(rest, k)
	}
	slices.Sort(rest)
	columns = append(columns, rest...)

	f := New(columns)
	for i, rec := range records {
		row := make([]Cell, len(columns))
		for j, c := range columns {
			v, ok := rec[c]
			if !ok || v == nil {
				row[j] = Null()
				continue
			}
			s, err := formatScalar(v)
			if err != nil {
				return nil, fmt.Errorf("record %d field %q: %w", i, c, err)
			}
			row[j] = Value(s)
		}
		f.Rows = append(f.Rows, row)
	}
	return f, nil
}

func formatScalar(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case json.Number:
		return x.String(), nil
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case int:
		return strconv.Itoa(x), nil
	case bool:
		return strconv.FormatBool(x), nil
	default:
		return "", fmt.Errorf("unsupported value of type %T", v)
	}
}
