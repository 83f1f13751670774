// Package metrics scores binary predictions. The positive label is 1 and a
// ratio with a zero denominator scores 0.
package metrics

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"
)

type Metric string

const (
	Accuracy  Metric = "accuracy"
	Precision Metric = "precision"
	Recall    Metric = "recall"
	F1        Metric = "f1"
	ROCAUC    Metric = "roc_auc"
)

const PositiveLabel = 1.0

// Classification is the metric set every evaluation report carries.
var Classification = []Metric{Accuracy, Precision, Recall, F1}

func Parse(name string) (Metric, error) {
	m := Metric(strings.ToLower(strings.TrimSpace(name)))
	switch m {
	case Accuracy, Precision, Recall, F1, ROCAUC:
		return m, nil
	default:
		return "", fmt.Errorf("unknown metric %q", name)
	}
}

func ParseAll(names []string) ([]Metric, error) {
	out := make([]Metric, 0, len(names))
	for _, n := range names {
		m, err := Parse(n)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// NeedsScores reports whether m ranks probabilities rather than labels.
func (m Metric) NeedsScores() bool { return m == ROCAUC }

type confusion struct{ tp, fp, tn, fn float64 }

func count(yTrue, yPred []float64) confusion {
	var c confusion
	for i := range yTrue {
		actual, predicted := yTrue[i] == PositiveLabel, yPred[i] == PositiveLabel
		switch {
		case actual && predicted:
			c.tp++
		case !actual && predicted:
			c.fp++
		case actual && !predicted:
			c.fn++
		default:
			c.tn++
		}
	}
	return c
}

func ratio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}

// Score computes m. scores are P(positive) per row and are only read by
// ranking metrics.
func Score(m Metric, yTrue, yPred, scores []float64) (float64, error) {
	if len(yTrue) == 0 {
		return 0, errors.New("no samples")
	}
	if m.NeedsScores() {
		return rocAUC(yTrue, scores)
	}
	if len(yTrue) != len(yPred) {
		return 0, fmt.Errorf("y_true has %d values, y_pred has %d", len(yTrue), len(yPred))
	}
	c := count(yTrue, yPred)
	switch m {
	case Accuracy:
		var hit float64
		for i := range yTrue {
			if yTrue[i] == yPred[i] {
				hit++
			}
		}
		return hit / float64(len(yTrue)), nil
	case Precision:
		return ratio(c.tp, c.tp+c.fp), nil
	case Recall:
		return ratio(c.tp, c.tp+c.fn), nil
	case F1:
		return ratio(2*c.tp, 2*c.tp+c.fp+c.fn), nil
	default:
		return 0, fmt.Errorf("unknown metric %q", m)
	}
}

// Report scores every metric in ms and keys the result by metric name.
func Report(ms []Metric, yTrue, yPred, scores []float64) (map[string]float64, error) {
	out := make(map[string]float64, len(ms))
	for _, m := range ms {
		v, err := Score(m, yTrue, yPred, scores)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", m, err)
		}
		out[string(m)] = v
	}
	return out, nil
}

func rocAUC(yTrue, scores []float64) (float64, error) {
	if len(scores) != len(yTrue) {
		return 0, fmt.Errorf("y_true has %d values, scores has %d", len(yTrue), len(scores))
	}
	idx := make([]int, len(scores))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return scores[idx[a]] < scores[idx[b]] })
	y := make([]float64, len(idx))
	classes := make([]bool, len(idx))
	pos := 0
	for i, j := range idx {
		y[i] = scores[j]
		classes[i] = yTrue[j] == PositiveLabel
		if classes[i] {
			pos++
		}
	}
	if pos == 0 || pos == len(y) {
		return 0, errors.New("roc_auc is undefined when only one class is present")
	}
	tpr, fpr, _ := stat.ROC(nil, y, classes, nil)
	return integrate.Trapezoidal(fpr, tpr), nil
}
