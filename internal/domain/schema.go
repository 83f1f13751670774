package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Schema is the expected column -> dtype mapping plus the target column.
type Schema struct {
	Columns map[string]string `yaml:"columns"`
	Target  string            `yaml:"target_column"`
}

func (s Schema) Validate() error {
	if len(s.Columns) == 0 {
		return errors.New("columns must be non-empty")
	}
	if strings.TrimSpace(s.Target) == "" {
		return errors.New("target_column is required")
	}
	for name, dtype := range s.Columns {
		if strings.TrimSpace(name) == "" {
			return errors.New("column names must be non-empty")
		}
		if strings.TrimSpace(dtype) == "" {
			return fmt.Errorf("columns.%s: dtype is required", name)
		}
	}
	return nil
}

// HashColumns digests column:dtype pairs in name order, so the result does
// not depend on the order columns appear in.
func HashColumns(columns map[string]string) string {
	names := slices.Sorted(maps.Keys(columns))
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = name + ":" + columns[name]
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// Hash is the fingerprint compared in hash mode. Only the declared columns
// take part; list the target among them to have its dtype checked.
func (s Schema) Hash() string {
	return HashColumns(s.Columns)
}

// ExpectedColumns is the declared columns plus the target, sorted.
func (s Schema) ExpectedColumns() []string {
	set := maps.Clone(s.Columns)
	if set == nil {
		set = map[string]string{}
	}
	set[s.Target] = ""
	return slices.Sorted(maps.Keys(set))
}
