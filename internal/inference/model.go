// Package inference bundles a fitted estimator with the preprocessors it was
// trained behind, so callers can predict from raw feature rows.
package inference

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/animus-labs/netsec-pipeline/internal/atomicfile"
	"github.com/animus-labs/netsec-pipeline/internal/frame"
	"github.com/animus-labs/netsec-pipeline/internal/ml/estimator"
	"github.com/animus-labs/netsec-pipeline/internal/ml/preprocess"
)

// Model is the inference object. Predictions are in the encoded label space
// unless InverseLabels is set, in which case the label preprocessor is run
// backwards over them.
type Model struct {
	EstimatorID    string
	FeatureColumns []string
	TargetColumn   string
	Estimator      estimator.Estimator
	Features       *preprocess.Pipeline
	Labels         *preprocess.Pipeline
	InverseLabels  bool
}

func (m *Model) Validate() error {
	switch {
	case m == nil:
		return errors.New("inference model is nil")
	case m.Estimator == nil:
		return errors.New("inference model has no estimator")
	case m.Features == nil || !m.Features.Fitted():
		return fmt.Errorf("feature preprocessor: %w", preprocess.ErrNotFitted)
	case m.Labels == nil || !m.Labels.Fitted():
		return fmt.Errorf("label preprocessor: %w", preprocess.ErrNotFitted)
	case len(m.FeatureColumns) == 0:
		return errors.New("inference model has no feature columns")
	case m.EstimatorID != m.Estimator.ID():
		return fmt.Errorf("estimator id %q does not match %q", m.EstimatorID, m.Estimator.ID())
	}
	return nil
}

// Predict takes raw feature rows in FeatureColumns order.
func (m *Model) Predict(x [][]float64) ([]float64, error) {
	xt, err := m.Features.Transform(x)
	if err != nil {
		return nil, fmt.Errorf("preprocess features: %w", err)
	}
	y, err := m.Estimator.Predict(xt)
	if err != nil {
		return nil, err
	}
	return m.OutputLabels(y)
}

// PredictProba returns P(positive class) per row.
func (m *Model) PredictProba(x [][]float64) ([]float64, error) {
	xt, err := m.Features.Transform(x)
	if err != nil {
		return nil, fmt.Errorf("preprocess features: %w", err)
	}
	return estimator.PositiveScores(m.Estimator, xt)
}

// PredictFrame selects FeatureColumns from f by name. Extra columns,
// including the target, are ignored.
func (m *Model) PredictFrame(f *frame.Frame) ([]float64, error) {
	x, err := m.Matrix(f)
	if err != nil {
		return nil, err
	}
	return m.Predict(x)
}

// Matrix extracts FeatureColumns from f as raw floats.
func (m *Model) Matrix(f *frame.Frame) ([][]float64, error) {
	var missing []string
	for _, c := range m.FeatureColumns {
		if !f.HasColumn(c) {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("input is missing feature columns %v", missing)
	}
	return f.Matrix(m.FeatureColumns)
}

// OutputLabels maps encoded predictions to the configured output space.
func (m *Model) OutputLabels(y []float64) ([]float64, error) {
	if !m.InverseLabels {
		return slices.Clone(y), nil
	}
	out, err := m.Labels.InverseVector(y)
	if err != nil {
		return nil, fmt.Errorf("inverse label mapping: %w", err)
	}
	return out, nil
}

type modelJSON struct {
	EstimatorID    string               `json:"estimator_id"`
	FeatureColumns []string             `json:"feature_columns"`
	TargetColumn   string               `json:"target_column"`
	InverseLabels  bool                 `json:"inverse_labels"`
	Estimator      json.RawMessage      `json:"estimator"`
	Features       *preprocess.Pipeline `json:"features"`
	Labels         *preprocess.Pipeline `json:"labels"`
}

func (m *Model) MarshalJSON() ([]byte, error) {
	est, err := estimator.Marshal(m.Estimator)
	if err != nil {
		return nil, err
	}
	return json.Marshal(modelJSON{
		EstimatorID:    m.EstimatorID,
		FeatureColumns: m.FeatureColumns,
		TargetColumn:   m.TargetColumn,
		InverseLabels:  m.InverseLabels,
		Estimator:      est,
		Features:       m.Features,
		Labels:         m.Labels,
	})
}

func (m *Model) UnmarshalJSON(b []byte) error {
	var raw modelJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	est, err := estimator.Unmarshal(raw.Estimator)
	if err != nil {
		return err
	}
	*m = Model{
		EstimatorID:    raw.EstimatorID,
		FeatureColumns: raw.FeatureColumns,
		TargetColumn:   raw.TargetColumn,
		Estimator:      est,
		Features:       raw.Features,
		Labels:         raw.Labels,
		InverseLabels:  raw.InverseLabels,
	}
	return nil
}

// Save writes m atomically as JSON.
func (m *Model) Save(path string) error {
	if err := m.Validate(); err != nil {
		return err
	}
	return atomicfile.WriteJSON(path, m)
}

// Load decodes and validates an inference object.
func Load(path string) (*Model, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Model
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decode inference object %s: %w", path, err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("inference object %s: %w", path, err)
	}
	return &m, nil
}
