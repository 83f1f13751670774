package preprocess

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"

	"gonum.org/v1/gonum/stat"
)

const (
	kindSimpleImputer = "simple_imputer"
	kindKNNImputer    = "knn_imputer"
)

const (
	StrategyMean         = "mean"
	StrategyMedian       = "median"
	StrategyMostFrequent = "most_frequent"
	StrategyConstant     = "constant"
)

// SimpleImputer fills NaN with a per-column statistic learned at fit time.
// A column with no observed values is filled with FillValue.
type SimpleImputer struct {
	Strategy   string    `json:"strategy" yaml:"strategy"`
	FillValue  float64   `json:"fill_value" yaml:"fill_value"`
	Statistics []float64 `json:"statistics,omitempty" yaml:"-"`
}

func (s *SimpleImputer) Kind() string { return kindSimpleImputer }

func (s *SimpleImputer) validate() error {
	switch s.Strategy {
	case StrategyMean, StrategyMedian, StrategyMostFrequent, StrategyConstant:
		return nil
	default:
		return fmt.Errorf("unknown strategy %q", s.Strategy)
	}
}

func (s *SimpleImputer) Fit(x [][]float64) error {
	if err := s.validate(); err != nil {
		return err
	}
	n := width(x)
	stats := make([]float64, n)
	for j := 0; j < n; j++ {
		vals := present(x, j)
		if len(vals) == 0 || s.Strategy == StrategyConstant {
			stats[j] = s.FillValue
			continue
		}
		switch s.Strategy {
		case StrategyMean:
			stats[j] = stat.Mean(vals, nil)
		case StrategyMedian:
			sort.Float64s(vals)
			stats[j] = median(vals)
		case StrategyMostFrequent:
			stats[j] = mode(vals)
		}
	}
	s.Statistics = stats
	return nil
}

func (s *SimpleImputer) Transform(x [][]float64) ([][]float64, error) {
	if s.Statistics == nil {
		return nil, ErrNotFitted
	}
	if err := checkWidth(x, len(s.Statistics)); err != nil {
		return nil, err
	}
	out := cloneMatrix(x)
	for _, row := range out {
		for j, v := range row {
			if math.IsNaN(v) {
				row[j] = s.Statistics[j]
			}
		}
	}
	return out, nil
}

func (s *SimpleImputer) OutputColumns(in []string) []string { return in }

// KNNImputer fills each missing value with the mean of that feature over
// the NNeighbors closest training rows that observe it. Distances use the
// nan-euclidean metric: squared differences over coordinates present in
// both rows, scaled up by the share of coordinates missing.
type KNNImputer struct {
	NNeighbors int       `json:"n_neighbors" yaml:"n_neighbors"`
	Weights    string    `json:"weights" yaml:"weights"`
	Donors     nanMatrix `json:"donors,omitempty" yaml:"-"`
	Fallback   []float64 `json:"fallback,omitempty" yaml:"-"`
}

func (k *KNNImputer) Kind() string { return kindKNNImputer }

func (k *KNNImputer) Fit(x [][]float64) error {
	if k.NNeighbors <= 0 {
		return fmt.Errorf("n_neighbors must be > 0, got %d", k.NNeighbors)
	}
	if k.Weights != "uniform" && k.Weights != "distance" {
		return fmt.Errorf("weights must be uniform or distance, got %q", k.Weights)
	}
	if len(x) == 0 {
		return errors.New("cannot fit on zero rows")
	}
	k.Donors = cloneMatrix(x)
	n := width(x)
	k.Fallback = make([]float64, n)
	for j := 0; j < n; j++ {
		if vals := present(x, j); len(vals) > 0 {
			k.Fallback[j] = stat.Mean(vals, nil)
		}
	}
	return nil
}

func (k *KNNImputer) Transform(x [][]float64) ([][]float64, error) {
	if k.Donors == nil {
		return nil, ErrNotFitted
	}
	if err := checkWidth(x, len(k.Fallback)); err != nil {
		return nil, err
	}
	out := cloneMatrix(x)
	type neighbor struct {
		dist float64
		idx  int
	}
	for _, row := range out {
		if !slices.ContainsFunc(row, math.IsNaN) {
			continue
		}
		dists := make([]float64, len(k.Donors))
		for i, donor := range k.Donors {
			dists[i] = nanEuclidean(row, donor)
		}
		for j, v := range row {
			if !math.IsNaN(v) {
				continue
			}
			var cands []neighbor
			for i, donor := range k.Donors {
				if math.IsNaN(donor[j]) || math.IsNaN(dists[i]) {
					continue
				}
				cands = append(cands, neighbor{dist: dists[i], idx: i})
			}
			if len(cands) == 0 {
				row[j] = k.Fallback[j]
				continue
			}
			sort.SliceStable(cands, func(a, b int) bool { return cands[a].dist < cands[b].dist })
			if len(cands) > k.NNeighbors {
				cands = cands[:k.NNeighbors]
			}
			vals := make([]float64, len(cands))
			weights := make([]float64, len(cands))
			for c, nb := range cands {
				vals[c] = k.Donors[nb.idx][j]
				weights[c] = 1
			}
			if k.Weights == "distance" {
				weights = inverseDistance(cands[0].dist, func(c int) float64 { return cands[c].dist }, len(cands))
			}
			row[j] = stat.Mean(vals, weights)
		}
	}
	return out, nil
}

func (k *KNNImputer) OutputColumns(in []string) []string { return in }

// inverseDistance weights neighbours by 1/d; an exact match takes all weight.
func inverseDistance(nearest float64, dist func(int) float64, n int) []float64 {
	w := make([]float64, n)
	for c := 0; c < n; c++ {
		d := dist(c)
		switch {
		case nearest == 0 && d == 0:
			w[c] = 1
		case nearest == 0:
			w[c] = 0
		default:
			w[c] = 1 / d
		}
	}
	return w
}

func nanEuclidean(a, b []float64) float64 {
	var sum float64
	shared := 0
	for i := range a {
		if math.IsNaN(a[i]) || math.IsNaN(b[i]) {
			continue
		}
		d := a[i] - b[i]
		sum += d * d
		shared++
	}
	if shared == 0 {
		return math.NaN()
	}
	return math.Sqrt(float64(len(a)) / float64(shared) * sum)
}

func median(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// mode returns the most frequent value, the smallest one on ties.
func mode(vals []float64) float64 {
	counts := map[float64]int{}
	for _, v := range vals {
		counts[v]++
	}
	best, bestN := 0.0, -1
	for v, n := range counts {
		if n > bestN || (n == bestN && v < best) {
			best, bestN = v, n
		}
	}
	return best
}

// nanMatrix encodes NaN as JSON null, which encoding/json cannot represent
// natively.
type nanMatrix [][]float64

func (m nanMatrix) MarshalJSON() ([]byte, error) {
	rows := make([][]*float64, len(m))
	for i, row := range m {
		rows[i] = make([]*float64, len(row))
		for j := range row {
			if !math.IsNaN(row[j]) {
				rows[i][j] = &row[j]
			}
		}
	}
	return json.Marshal(rows)
}

func (m *nanMatrix) UnmarshalJSON(b []byte) error {
	var rows [][]*float64
	if err := json.Unmarshal(b, &rows); err != nil {
		return err
	}
	out := make(nanMatrix, len(rows))
	for i, row := range rows {
		out[i] = make([]float64, len(row))
		for j, v := range row {
			out[i][j] = math.NaN()
			if v != nil {
				out[i][j] = *v
			}
		}
	}
	*m = out
	return nil
}
