package estimator

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// LogisticRegression is a binary L2-regularised logistic model fit with
// Newton iterations. The objective is C * sum(logloss) + ||w||^2 / 2; the
// intercept is not penalised.
type LogisticRegression struct {
	C            float64 `json:"C" yaml:"C"`
	MaxIter      int     `json:"max_iter" yaml:"max_iter"`
	Tol          float64 `json:"tol" yaml:"tol"`
	FitIntercept bool    `json:"fit_intercept" yaml:"fit_intercept"`
	Penalty      string  `json:"penalty" yaml:"penalty"`

	Coef      []float64 `json:"coef,omitempty" yaml:"-"`
	Intercept float64   `json:"intercept" yaml:"-"`
	Labels    []float64 `json:"classes,omitempty" yaml:"-"`
	NIter     int       `json:"n_iter" yaml:"-"`
}

func (m *LogisticRegression) ID() string { return LogisticRegressionID }

func (m *LogisticRegression) Classes() []float64 { return m.Labels }

func (m *LogisticRegression) validate() error {
	if m.C <= 0 {
		return fmt.Errorf("C must be > 0, got %g", m.C)
	}
	if m.MaxIter <= 0 {
		return fmt.Errorf("max_iter must be > 0, got %d", m.MaxIter)
	}
	if m.Penalty != "l2" && m.Penalty != "none" {
		return fmt.Errorf("penalty must be l2 or none, got %q", m.Penalty)
	}
	return nil
}

func (m *LogisticRegression) Fit(x [][]float64, y []float64) error {
	if err := checkXY(x, y); err != nil {
		return err
	}
	classes, idx := classIndex(y)
	if len(classes) != 2 {
		return fmt.Errorf("logistic regression needs exactly 2 classes, got %d", len(classes))
	}

	n, p := len(x), len(x[0])
	d := p
	if m.FitIntercept {
		d++
	}
	design := mat.NewDense(n, d, nil)
	target := make([]float64, n)
	for i, row := range x {
		for j, v := range row {
			design.Set(i, j, v)
		}
		if m.FitIntercept {
			design.Set(i, p, 1)
		}
		target[i] = float64(idx[i])
	}

	ridge := 1.0
	if m.Penalty == "none" {
		ridge = 1e-8
	}
	grad := mat.NewVecDense(d, nil)
	hess := mat.NewSymDense(d, nil)
	step := mat.NewVecDense(d, nil)
	wv := mat.NewVecDense(d, nil)
	zv := mat.NewVecDense(n, nil)

	m.NIter = 0
	for iter := 0; iter < m.MaxIter; iter++ {
		m.NIter = iter + 1
		zv.MulVec(design, wv)

		resid := make([]float64, n)
		weights := make([]float64, n)
		for i := 0; i < n; i++ {
			pr := sigmoid(zv.AtVec(i))
			resid[i] = m.C * (pr - target[i])
			weights[i] = m.C * math.Max(pr*(1-pr), 1e-12)
		}
		grad.MulVec(design.T(), mat.NewVecDense(n, resid))

		hess.Zero()
		for i := 0; i < n; i++ {
			row := design.RawRowView(i)
			for a := 0; a < d; a++ {
				for b := a; b < d; b++ {
					hess.SetSym(a, b, hess.At(a, b)+weights[i]*row[a]*row[b])
				}
			}
		}
		for j := 0; j < p; j++ {
			grad.SetVec(j, grad.AtVec(j)+ridge*wv.AtVec(j))
			hess.SetSym(j, j, hess.At(j, j)+ridge)
		}
		if m.FitIntercept {
			hess.SetSym(p, p, hess.At(p, p)+1e-8)
		}

		var chol mat.Cholesky
		if ok := chol.Factorize(hess); !ok {
			return errors.New("hessian is not positive definite")
		}
		if err := chol.SolveVecTo(step, grad); err != nil {
			return fmt.Errorf("newton step: %w", err)
		}
		wv.SubVec(wv, step)
		if floats.Norm(step.RawVector().Data, math.Inf(1)) < m.Tol {
			break
		}
	}

	m.Coef = make([]float64, p)
	for j := range m.Coef {
		m.Coef[j] = wv.AtVec(j)
	}
	m.Intercept = 0
	if m.FitIntercept {
		m.Intercept = wv.AtVec(p)
	}
	m.Labels = classes
	return nil
}

func (m *LogisticRegression) PredictProba(x [][]float64) ([][]float64, error) {
	if m.Coef == nil {
		return nil, ErrNotFitted
	}
	if err := checkX(x, len(m.Coef)); err != nil {
		return nil, err
	}
	out := make([][]float64, len(x))
	for i, row := range x {
		pr := sigmoid(floats.Dot(row, m.Coef) + m.Intercept)
		out[i] = []float64{1 - pr, pr}
	}
	return out, nil
}

func (m *LogisticRegression) Predict(x [][]float64) ([]float64, error) {
	proba, err := m.PredictProba(x)
	if err != nil {
		return nil, err
	}
	return argmaxRows(proba, m.Labels), nil
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}
