package estimator

import (
	"fmt"
	"math"
	"math/rand/v2"
)

// RandomForest averages the class probabilities of NEstimators CART trees,
// each grown on a bootstrap sample with MaxFeatures candidate features per
// split. RandomState makes the forest reproducible.
type RandomForest struct {
	NEstimators int    `json:"n_estimators" yaml:"n_estimators"`
	MaxFeatures string `json:"max_features" yaml:"max_features"`
	Bootstrap   bool   `json:"bootstrap" yaml:"bootstrap"`
	TreeOptions `yaml:",inline"`

	Labels    []float64 `json:"classes,omitempty" yaml:"-"`
	NFeatures int       `json:"n_features" yaml:"-"`
	Trees     [][]Node  `json:"trees,omitempty" yaml:"-"`
}

func (m *RandomForest) ID() string { return RandomForestID }

func (m *RandomForest) Classes() []float64 { return m.Labels }

func (m *RandomForest) validate() error {
	if m.NEstimators < 1 {
		return fmt.Errorf("n_estimators must be >= 1, got %d", m.NEstimators)
	}
	switch m.MaxFeatures {
	case "sqrt", "log2", "all":
	default:
		return fmt.Errorf("max_features must be sqrt, log2 or all, got %q", m.MaxFeatures)
	}
	return m.TreeOptions.validate()
}

func (m *RandomForest) featuresPerSplit(n int) int {
	switch m.MaxFeatures {
	case "sqrt":
		return max(1, int(math.Sqrt(float64(n))))
	case "log2":
		return max(1, int(math.Log2(float64(n))))
	default:
		return n
	}
}

func (m *RandomForest) Fit(x [][]float64, y []float64) error {
	if err := checkXY(x, y); err != nil {
		return err
	}
	classes, idx := classIndex(y)
	rng := rand.New(rand.NewPCG(m.RandomState, 0x6e657473))
	c := &cart{
		opts:      m.TreeOptions,
		nClasses:  len(classes),
		maxFeat:   m.featuresPerSplit(len(x[0])),
		rng:       rng,
		x:         x,
		y:         idx,
		nFeatures: len(x[0]),
	}
	m.Trees = make([][]Node, m.NEstimators)
	rows := make([]int, len(x))
	for t := range m.Trees {
		for i := range rows {
			if m.Bootstrap {
				rows[i] = rng.IntN(len(x))
			} else {
				rows[i] = i
			}
		}
		m.Trees[t] = append([]Node(nil), c.grow(rows)...)
	}
	m.Labels = classes
	m.NFeatures = len(x[0])
	return nil
}

func (m *RandomForest) PredictProba(x [][]float64) ([][]float64, error) {
	if m.Trees == nil {
		return nil, ErrNotFitted
	}
	if err := checkX(x, m.NFeatures); err != nil {
		return nil, err
	}
	out := make([][]float64, len(x))
	for i, row := range x {
		acc := make([]float64, len(m.Labels))
		for _, tree := range m.Trees {
			for k, p := range walk(tree, row) {
				acc[k] += p
			}
		}
		for k := range acc {
			acc[k] /= float64(len(m.Trees))
		}
		out[i] = acc
	}
	return out, nil
}

func (m *RandomForest) Predict(x [][]float64) ([]float64, error) {
	proba, err := m.PredictProba(x)
	if err != nil {
		return nil, err
	}
	return argmaxRows(proba, m.Labels), nil
}
