package domain

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ModelSpec declares one candidate estimator. Params are fixed values used
// when tuning is off; SearchSpace is sampled when tuning is on.
type ModelSpec struct {
	Name        string                 `yaml:"name"`
	Params      map[string]any         `yaml:"params,omitempty"`
	SearchSpace map[string]SearchParam `yaml:"search_space,omitempty"`
}

// ShortName is the last dotted segment of Name.
func (m ModelSpec) ShortName() string {
	if i := strings.LastIndex(m.Name, "."); i >= 0 {
		return m.Name[i+1:]
	}
	return m.Name
}

// SearchParam is either a categorical Choices list or a Low..High range.
// A range whose bounds are both integers is sampled as integers with Step.
type SearchParam struct {
	Choices []any `yaml:"choices,omitempty"`
	Low     any   `yaml:"low,omitempty"`
	High    any   `yaml:"high,omitempty"`
	Step    any   `yaml:"step,omitempty"`
	Log     bool  `yaml:"log,omitempty"`
}

type ParamKind string

const (
	ParamCategorical ParamKind = "categorical"
	ParamInt         ParamKind = "int"
	ParamFloat       ParamKind = "float"
)

func (p SearchParam) Kind() ParamKind {
	if len(p.Choices) > 0 {
		return ParamCategorical
	}
	_, lowInt := p.Low.(int)
	_, highInt := p.High.(int)
	if lowInt && highInt {
		return ParamInt
	}
	return ParamFloat
}

// IntRange returns the bounds and step of an integer range; step defaults to 1.
func (p SearchParam) IntRange() (low, high, step int) {
	low, _ = p.Low.(int)
	high, _ = p.High.(int)
	step = 1
	if s, ok := p.Step.(int); ok && s > 0 {
		step = s
	}
	return low, high, step
}

func (p SearchParam) FloatRange() (low, high float64, err error) {
	if low, err = toFloat(p.Low); err != nil {
		return 0, 0, fmt.Errorf("low: %w", err)
	}
	if high, err = toFloat(p.High); err != nil {
		return 0, 0, fmt.Errorf("high: %w", err)
	}
	return low, high, nil
}

func (p SearchParam) Validate() error {
	if len(p.Choices) > 0 {
		if p.Low != nil || p.High != nil {
			return errors.New("choices and low/high are exclusive")
		}
		return nil
	}
	if p.Low == nil || p.High == nil {
		return errors.New("either choices or low and high are required")
	}
	switch p.Kind() {
	case ParamInt:
		low, high, _ := p.IntRange()
		if low > high {
			return fmt.Errorf("low %d > high %d", low, high)
		}
		if p.Step != nil {
			if s, ok := p.Step.(int); !ok || s <= 0 {
				return fmt.Errorf("step must be a positive integer, got %v", p.Step)
			}
		}
		if p.Log && low <= 0 {
			return errors.New("log scale requires low > 0")
		}
	default:
		low, high, err := p.FloatRange()
		if err != nil {
			return err
		}
		if low > high {
			return fmt.Errorf("low %g > high %g", low, high)
		}
		if p.Step != nil {
			return errors.New("step applies to integer ranges only")
		}
		if p.Log && low <= 0 {
			return errors.New("log scale requires low > 0")
		}
	}
	return nil
}

func (m ModelSpec) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return errors.New("name is required")
	}
	for name, p := range m.SearchSpace {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("search_space.%s: %w", name, err)
		}
	}
	return nil
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case float64:
		if math.IsNaN(x) {
			return 0, errors.New("NaN bound")
		}
		return x, nil
	default:
		return 0, fmt.Errorf("not a number: %v", v)
	}
}
