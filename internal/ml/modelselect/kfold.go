package modelselect

import (
	"context"
	"errors"
	"fmt"

	"github.com/animus-labs/netsec-pipeline/internal/ml/estimator"
	"github.com/animus-labs/netsec-pipeline/internal/ml/metrics"
)

// Fold is one train/test index pair of a k-fold split.
type Fold struct {
	Train []int
	Test  []int
}

// StratifiedKFold splits rows into k folds without shuffling. Each class is
// cut into k contiguous chunks in row order, so every fold keeps the class
// proportions of y as closely as the counts allow.
func StratifiedKFold(y []float64, k int) ([]Fold, error) {
	if k < 2 {
		return nil, fmt.Errorf("cv_folds must be >= 2, got %d", k)
	}
	if k > len(y) {
		return nil, fmt.Errorf("cv_folds=%d exceeds %d samples", k, len(y))
	}
	_, groups := groupByClass(y)
	largest := 0
	for _, g := range groups {
		largest = max(largest, len(g))
	}
	if k > largest {
		return nil, fmt.Errorf("cv_folds=%d exceeds the size of every class", k)
	}

	fold := make([]int, len(y))
	for _, g := range groups {
		base, extra := len(g)/k, len(g)%k
		pos := 0
		for f := range k {
			size := base
			if f < extra {
				size++
			}
			for _, row := range g[pos : pos+size] {
				fold[row] = f
			}
			pos += size
		}
	}
	folds := make([]Fold, k)
	for row, f := range fold {
		for i := range folds {
			if i == f {
				folds[i].Test = append(folds[i].Test, row)
			} else {
				folds[i].Train = append(folds[i].Train, row)
			}
		}
	}
	for i, f := range folds {
		if len(f.Test) == 0 || len(f.Train) == 0 {
			return nil, fmt.Errorf("fold %d is empty", i)
		}
	}
	return folds, nil
}

// Factory builds a fresh unfitted estimator for each fold.
type Factory func() (estimator.Estimator, error)

// CrossValScore fits one estimator per fold and returns the mean of scoring
// over the held-out folds.
func CrossValScore(ctx context.Context, build Factory, x [][]float64, y []float64, k int, scoring metrics.Metric) (float64, error) {
	if len(x) != len(y) {
		return 0, fmt.Errorf("x has %d rows, y has %d", len(x), len(y))
	}
	folds, err := StratifiedKFold(y, k)
	if err != nil {
		return 0, err
	}
	var sum float64
	for i, f := range folds {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		est, err := build()
		if err != nil {
			return 0, err
		}
		if err := est.Fit(Rows(x, f.Train), Take(y, f.Train)); err != nil {
			return 0, fmt.Errorf("fold %d: fit: %w", i, err)
		}
		score, err := scoreOn(est, Rows(x, f.Test), Take(y, f.Test), scoring)
		if err != nil {
			return 0, fmt.Errorf("fold %d: %w", i, err)
		}
		sum += score
	}
	return sum / float64(len(folds)), nil
}

// Evaluate scores a fitted estimator on every metric in ms.
func Evaluate(est estimator.Estimator, x [][]float64, y []float64, ms []metrics.Metric) (map[string]float64, error) {
	if len(ms) == 0 {
		return map[string]float64{}, nil
	}
	pred, err := est.Predict(x)
	if err != nil {
		return nil, err
	}
	var scores []float64
	for _, m := range ms {
		if m.NeedsScores() {
			if scores, err = estimator.PositiveScores(est, x); err != nil {
				return nil, err
			}
			break
		}
	}
	return metrics.Report(ms, y, pred, scores)
}

func scoreOn(est estimator.Estimator, x [][]float64, y []float64, m metrics.Metric) (float64, error) {
	out, err := Evaluate(est, x, y, []metrics.Metric{m})
	if err != nil {
		return 0, err
	}
	v, ok := out[string(m)]
	if !ok {
		return 0, errors.New("metric missing from report")
	}
	return v, nil
}

// Rows selects the rows of x at idx.
func Rows(x [][]float64, idx []int) [][]float64 {
	out := make([][]float64, len(idx))
	for i, j := range idx {
		out[i] = x[j]
	}
	return out
}

func Take(y []float64, idx []int) []float64 {
	out := make([]float64, len(idx))
	for i, j := range idx {
		out[i] = y[j]
	}
	return out
}
