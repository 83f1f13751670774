// Package estimator is the closed registry of classifiers a model spec may
// name. Identifiers are "<family>.<Class>", e.g. "ensemble.RandomForestClassifier".
package estimator

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"

	"github.com/animus-labs/netsec-pipeline/internal/platform/yamlcfg"
)

var (
	ErrUnknownEstimator = errors.New("unknown estimator")
	ErrNotFitted        = errors.New("estimator is not fitted")
)

type Estimator interface {
	// ID is the registry identifier the estimator was created from.
	ID() string
	Fit(x [][]float64, y []float64) error
	Predict(x [][]float64) ([]float64, error)
	// PredictProba returns one column per class, in Classes() order.
	PredictProba(x [][]float64) ([][]float64, error)
	Classes() []float64
}

const (
	LogisticRegressionID = "linear_model.LogisticRegression"
	GaussianNBID         = "naive_bayes.GaussianNB"
	DecisionTreeID       = "tree.DecisionTreeClassifier"
	RandomForestID       = "ensemble.RandomForestClassifier"
)

// defaults returns a zero-state estimator with its default options.
var defaults = map[string]func() Estimator{
	LogisticRegressionID: func() Estimator {
		return &LogisticRegression{C: 1, MaxIter: 100, Tol: 1e-4, FitIntercept: true, Penalty: "l2"}
	},
	GaussianNBID: func() Estimator {
		return &GaussianNB{VarSmoothing: 1e-9}
	},
	DecisionTreeID: func() Estimator {
		return &DecisionTree{TreeOptions: defaultTreeOptions()}
	},
	RandomForestID: func() Estimator {
		return &RandomForest{NEstimators: 100, MaxFeatures: "sqrt", Bootstrap: true, TreeOptions: defaultTreeOptions()}
	},
}

// IDs lists the registered identifiers, sorted.
func IDs() []string {
	out := make([]string, 0, len(defaults))
	for id := range defaults {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func Known(id string) bool {
	_, ok := defaults[id]
	return ok
}

// New builds the estimator id with params overlaid on its defaults. Param
// names the estimator does not declare are errors.
func New(id string, params map[string]any) (Estimator, error) {
	mk, ok := defaults[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %v)", ErrUnknownEstimator, id, IDs())
	}
	est := mk()
	if len(params) > 0 {
		if err := yamlcfg.Remarshal(params, est); err != nil {
			return nil, fmt.Errorf("%s params: %w", id, err)
		}
	}
	if v, ok := est.(interface{ validate() error }); ok {
		if err := v.validate(); err != nil {
			return nil, fmt.Errorf("%s params: %w", id, err)
		}
	}
	return est, nil
}

type envelope struct {
	ID    string          `json:"id"`
	State json.RawMessage `json:"state"`
}

// Marshal encodes a fitted estimator with its identifier.
func Marshal(est Estimator) ([]byte, error) {
	state, err := json.Marshal(est)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", est.ID(), err)
	}
	return json.Marshal(envelope{ID: est.ID(), State: state})
}

func Unmarshal(b []byte) (Estimator, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, err
	}
	mk, ok := defaults[env.ID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEstimator, env.ID)
	}
	est := mk()
	if err := json.Unmarshal(env.State, est); err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.ID, err)
	}
	return est, nil
}

// PositiveScores returns P(positive) per row, where positive is 1 when it is
// a known class and the largest class otherwise.
func PositiveScores(est Estimator, x [][]float64) ([]float64, error) {
	proba, err := est.PredictProba(x)
	if err != nil {
		return nil, err
	}
	classes := est.Classes()
	pos := slices.Index(classes, 1)
	if pos < 0 {
		pos = len(classes) - 1
	}
	out := make([]float64, len(proba))
	for i, row := range proba {
		out[i] = row[pos]
	}
	return out, nil
}

func checkXY(x [][]float64, y []float64) error {
	if len(x) == 0 {
		return errors.New("cannot fit on zero rows")
	}
	if len(x) != len(y) {
		return fmt.Errorf("x has %d rows, y has %d", len(x), len(y))
	}
	if err := checkX(x, len(x[0])); err != nil {
		return err
	}
	for i, v := range y {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("y[%d] is not finite", i)
		}
	}
	return nil
}

func checkX(x [][]float64, width int) error {
	for i, row := range x {
		if len(row) != width {
			return fmt.Errorf("row %d has %d features, want %d", i, len(row), width)
		}
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("input contains NaN or Inf at row %d feature %d", i, j)
			}
		}
	}
	return nil
}

// classIndex maps labels to positions in the sorted distinct class list.
func classIndex(y []float64) ([]float64, []int) {
	classes := slices.Clone(y)
	slices.Sort(classes)
	classes = slices.Compact(classes)
	idx := make([]int, len(y))
	for i, v := range y {
		idx[i], _ = slices.BinarySearch(classes, v)
	}
	return classes, idx
}

func argmaxRows(proba [][]float64, classes []float64) []float64 {
	out := make([]float64, len(proba))
	for i, row := range proba {
		best := 0
		for k := 1; k < len(row); k++ {
			if row[k] > row[best] {
				best = k
			}
		}
		out[i] = classes[best]
	}
	return out
}
