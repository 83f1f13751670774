package estimator

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// GaussianNB models each feature per class as an independent normal.
// VarSmoothing times the largest feature variance is added to every
// variance for stability.
type GaussianNB struct {
	VarSmoothing float64 `json:"var_smoothing" yaml:"var_smoothing"`

	Labels []float64   `json:"classes,omitempty" yaml:"-"`
	Prior  []float64   `json:"class_prior,omitempty" yaml:"-"`
	Theta  [][]float64 `json:"theta,omitempty" yaml:"-"`
	Var    [][]float64 `json:"var,omitempty" yaml:"-"`
}

func (m *GaussianNB) ID() string { return GaussianNBID }

func (m *GaussianNB) Classes() []float64 { return m.Labels }

func (m *GaussianNB) validate() error {
	if m.VarSmoothing < 0 {
		return fmt.Errorf("var_smoothing must be >= 0, got %g", m.VarSmoothing)
	}
	return nil
}

func (m *GaussianNB) Fit(x [][]float64, y []float64) error {
	if err := checkXY(x, y); err != nil {
		return err
	}
	classes, idx := classIndex(y)
	p := len(x[0])

	maxVar := 0.0
	col := make([]float64, len(x))
	for j := 0; j < p; j++ {
		for i, row := range x {
			col[i] = row[j]
		}
		_, v := stat.PopMeanVariance(col, nil)
		maxVar = math.Max(maxVar, v)
	}
	eps := m.VarSmoothing * maxVar

	m.Labels = classes
	m.Prior = make([]float64, len(classes))
	m.Theta = make([][]float64, len(classes))
	m.Var = make([][]float64, len(classes))
	for k := range classes {
		var members [][]float64
		for i, c := range idx {
			if c == k {
				members = append(members, x[i])
			}
		}
		m.Prior[k] = float64(len(members)) / float64(len(x))
		m.Theta[k] = make([]float64, p)
		m.Var[k] = make([]float64, p)
		vals := make([]float64, len(members))
		for j := 0; j < p; j++ {
			for i, row := range members {
				vals[i] = row[j]
			}
			mean, v := stat.PopMeanVariance(vals, nil)
			m.Theta[k][j] = mean
			m.Var[k][j] = v + eps
			if m.Var[k][j] == 0 {
				m.Var[k][j] = 1e-12
			}
		}
	}
	return nil
}

func (m *GaussianNB) PredictProba(x [][]float64) ([][]float64, error) {
	if m.Labels == nil {
		return nil, ErrNotFitted
	}
	if err := checkX(x, len(m.Theta[0])); err != nil {
		return nil, err
	}
	out := make([][]float64, len(x))
	for i, row := range x {
		logp := make([]float64, len(m.Labels))
		for k := range m.Labels {
			ll := math.Log(m.Prior[k])
			for j, v := range row {
				d := v - m.Theta[k][j]
				ll -= 0.5*math.Log(2*math.Pi*m.Var[k][j]) + d*d/(2*m.Var[k][j])
			}
			logp[k] = ll
		}
		norm := floats.LogSumExp(logp)
		for k := range logp {
			logp[k] = math.Exp(logp[k] - norm)
		}
		out[i] = logp
	}
	return out, nil
}

func (m *GaussianNB) Predict(x [][]float64) ([]float64, error) {
	proba, err := m.PredictProba(x)
	if err != nil {
		return nil, err
	}
	return argmaxRows(proba, m.Labels), nil
}
