// Package preprocess holds the feature and label transformers the
// transformation stage fits on the training split, and the Pipeline that
// chains them.
package preprocess

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
)

var ErrNotFitted = errors.New("transformer is not fitted")

// Step is one fitted-or-fittable transformer over a row-major matrix.
type Step interface {
	Kind() string
	Fit(x [][]float64) error
	Transform(x [][]float64) ([][]float64, error)
	OutputColumns(in []string) []string
}

// Inverter is implemented by steps that can map outputs back to inputs.
type Inverter interface {
	Inverse(x [][]float64) ([][]float64, error)
}

// Pipeline applies its steps in order. An empty pipeline is the identity.
type Pipeline struct {
	Steps   []Step
	Columns []string
	fitted  bool
}

func NewPipeline(steps ...Step) *Pipeline {
	return &Pipeline{Steps: steps}
}

func (p *Pipeline) Fitted() bool { return p.fitted }

// Fit fits every step on the output of the previous one.
func (p *Pipeline) Fit(columns []string, x [][]float64) error {
	if err := checkWidth(x, len(columns)); err != nil {
		return err
	}
	cur := x
	for _, step := range p.Steps {
		if err := step.Fit(cur); err != nil {
			return fmt.Errorf("fit %s: %w", step.Kind(), err)
		}
		next, err := step.Transform(cur)
		if err != nil {
			return fmt.Errorf("transform %s: %w", step.Kind(), err)
		}
		cur = next
	}
	p.Columns = slices.Clone(columns)
	p.fitted = true
	return nil
}

// Transform applies the fitted steps without refitting.
func (p *Pipeline) Transform(x [][]float64) ([][]float64, error) {
	if !p.fitted {
		return nil, ErrNotFitted
	}
	if err := checkWidth(x, len(p.Columns)); err != nil {
		return nil, err
	}
	cur := cloneMatrix(x)
	for _, step := range p.Steps {
		next, err := step.Transform(cur)
		if err != nil {
			return nil, fmt.Errorf("transform %s: %w", step.Kind(), err)
		}
		cur = next
	}
	return cur, nil
}

func (p *Pipeline) FitTransform(columns []string, x [][]float64) ([][]float64, error) {
	if err := p.Fit(columns, x); err != nil {
		return nil, err
	}
	return p.Transform(x)
}

// Inverse undoes the steps in reverse order. Every step must be an Inverter.
func (p *Pipeline) Inverse(x [][]float64) ([][]float64, error) {
	if !p.fitted {
		return nil, ErrNotFitted
	}
	cur := cloneMatrix(x)
	for i := len(p.Steps) - 1; i >= 0; i-- {
		inv, ok := p.Steps[i].(Inverter)
		if !ok {
			return nil, fmt.Errorf("%s has no inverse", p.Steps[i].Kind())
		}
		next, err := inv.Inverse(cur)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}

// OutputColumns names the columns Transform produces.
func (p *Pipeline) OutputColumns() []string {
	cols := slices.Clone(p.Columns)
	for _, step := range p.Steps {
		cols = step.OutputColumns(cols)
	}
	return cols
}

// FitVector fits a single-column pipeline on a vector.
func (p *Pipeline) FitVector(column string, y []float64) error {
	return p.Fit([]string{column}, asColumn(y))
}

// TransformVector runs a single-column pipeline over a vector.
func (p *Pipeline) TransformVector(y []float64) ([]float64, error) {
	out, err := p.Transform(asColumn(y))
	if err != nil {
		return nil, err
	}
	return fromColumn(out), nil
}

func (p *Pipeline) InverseVector(y []float64) ([]float64, error) {
	out, err := p.Inverse(asColumn(y))
	if err != nil {
		return nil, err
	}
	return fromColumn(out), nil
}

type stepEnvelope struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

type pipelineJSON struct {
	Columns []string       `json:"columns"`
	Fitted  bool           `json:"fitted"`
	Steps   []stepEnvelope `json:"steps"`
}

func (p *Pipeline) MarshalJSON() ([]byte, error) {
	out := pipelineJSON{Columns: p.Columns, Fitted: p.fitted, Steps: make([]stepEnvelope, 0, len(p.Steps))}
	for _, step := range p.Steps {
		data, err := json.Marshal(step)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", step.Kind(), err)
		}
		out.Steps = append(out.Steps, stepEnvelope{Kind: step.Kind(), Data: data})
	}
	return json.Marshal(out)
}

func (p *Pipeline) UnmarshalJSON(b []byte) error {
	var in pipelineJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	steps := make([]Step, 0, len(in.Steps))
	for _, env := range in.Steps {
		step, err := newStep(env.Kind)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(env.Data, step); err != nil {
			return fmt.Errorf("decode %s: %w", env.Kind, err)
		}
		steps = append(steps, step)
	}
	p.Steps = steps
	p.Columns = in.Columns
	p.fitted = in.Fitted
	return nil
}

func newStep(kind string) (Step, error) {
	switch kind {
	case kindSimpleImputer:
		return &SimpleImputer{}, nil
	case kindKNNImputer:
		return &KNNImputer{}, nil
	case kindStandardScaler:
		return &StandardScaler{}, nil
	case kindMinMaxScaler:
		return &MinMaxScaler{}, nil
	case kindRobustScaler:
		return &RobustScaler{}, nil
	case kindOneHotEncoder:
		return &OneHotEncoder{}, nil
	case kindOrdinalEncoder:
		return &OrdinalEncoder{}, nil
	case kindLabelMapper:
		return &LabelMapper{}, nil
	default:
		return nil, fmt.Errorf("unknown step kind %q", kind)
	}
}

func checkWidth(x [][]float64, width int) error {
	for i, row := range x {
		if len(row) != width {
			return fmt.Errorf("row %d has %d values, want %d", i, len(row), width)
		}
	}
	return nil
}

func cloneMatrix(x [][]float64) [][]float64 {
	out := make([][]float64, len(x))
	for i, row := range x {
		out[i] = slices.Clone(row)
	}
	return out
}

// present returns the non-NaN values of column j.
func present(x [][]float64, j int) []float64 {
	out := make([]float64, 0, len(x))
	for _, row := range x {
		if !math.IsNaN(row[j]) {
			out = append(out, row[j])
		}
	}
	return out
}

func width(x [][]float64) int {
	if len(x) == 0 {
		return 0
	}
	return len(x[0])
}

func asColumn(y []float64) [][]float64 {
	out := make([][]float64, len(y))
	for i, v := range y {
		out[i] = []float64{v}
	}
	return out
}

func fromColumn(x [][]float64) []float64 {
	out := make([]float64, len(x))
	for i, row := range x {
		out[i] = row[0]
	}
	return out
}
