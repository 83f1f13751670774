package preprocess

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

const (
	kindStandardScaler = "standard_scaler"
	kindMinMaxScaler   = "minmax_scaler"
	kindRobustScaler   = "robust_scaler"
)

// affine is the fitted state shared by the scalers: out = (x - Shift) / Scale.
// NaN passes through untouched.
type affine struct {
	Shift []float64 `json:"shift,omitempty" yaml:"-"`
	Scale []float64 `json:"scale,omitempty" yaml:"-"`
}

func (a *affine) apply(x [][]float64) ([][]float64, error) {
	if a.Scale == nil {
		return nil, ErrNotFitted
	}
	if err := checkWidth(x, len(a.Scale)); err != nil {
		return nil, err
	}
	out := cloneMatrix(x)
	for _, row := range out {
		for j, v := range row {
			if !math.IsNaN(v) {
				row[j] = (v - a.Shift[j]) / a.Scale[j]
			}
		}
	}
	return out, nil
}

func (a *affine) invert(x [][]float64) ([][]float64, error) {
	if a.Scale == nil {
		return nil, ErrNotFitted
	}
	out := cloneMatrix(x)
	for _, row := range out {
		for j, v := range row {
			row[j] = v*a.Scale[j] + a.Shift[j]
		}
	}
	return out, nil
}

func safeScale(s float64) float64 {
	if s == 0 || math.IsNaN(s) {
		return 1
	}
	return s
}

// StandardScaler centers on the mean and divides by the population
// standard deviation.
type StandardScaler struct {
	WithMean bool `json:"with_mean" yaml:"with_mean"`
	WithStd  bool `json:"with_std" yaml:"with_std"`
	affine
}

func (s *StandardScaler) Kind() string { return kindStandardScaler }

func (s *StandardScaler) Fit(x [][]float64) error {
	n := width(x)
	s.Shift, s.Scale = make([]float64, n), make([]float64, n)
	for j := 0; j < n; j++ {
		vals := present(x, j)
		mean, std := 0.0, 1.0
		if len(vals) > 0 {
			mean, std = stat.PopMeanStdDev(vals, nil)
		}
		if s.WithMean {
			s.Shift[j] = mean
		}
		s.Scale[j] = 1
		if s.WithStd {
			s.Scale[j] = safeScale(std)
		}
	}
	return nil
}

func (s *StandardScaler) Transform(x [][]float64) ([][]float64, error) { return s.apply(x) }
func (s *StandardScaler) Inverse(x [][]float64) ([][]float64, error)   { return s.invert(x) }
func (s *StandardScaler) OutputColumns(in []string) []string           { return in }

// MinMaxScaler maps the observed [min, max] of each column onto FeatureRange.
type MinMaxScaler struct {
	FeatureRange [2]float64 `json:"feature_range" yaml:"feature_range"`
	affine
}

func (s *MinMaxScaler) Kind() string { return kindMinMaxScaler }

func (s *MinMaxScaler) Fit(x [][]float64) error {
	lo, hi := s.FeatureRange[0], s.FeatureRange[1]
	if lo >= hi {
		return fmt.Errorf("feature_range min %g must be < max %g", lo, hi)
	}
	n := width(x)
	s.Shift, s.Scale = make([]float64, n), make([]float64, n)
	for j := 0; j < n; j++ {
		vals := present(x, j)
		if len(vals) == 0 {
			s.Shift[j], s.Scale[j] = -lo, 1
			continue
		}
		dmin, dmax := vals[0], vals[0]
		for _, v := range vals {
			dmin, dmax = math.Min(dmin, v), math.Max(dmax, v)
		}
		scale := safeScale((dmax - dmin) / (hi - lo))
		// (v - shift) / scale == lo + (v - dmin) / scale
		s.Scale[j] = scale
		s.Shift[j] = dmin - lo*scale
	}
	return nil
}

func (s *MinMaxScaler) Transform(x [][]float64) ([][]float64, error) { return s.apply(x) }
func (s *MinMaxScaler) Inverse(x [][]float64) ([][]float64, error)   { return s.invert(x) }
func (s *MinMaxScaler) OutputColumns(in []string) []string           { return in }

// RobustScaler centers on the median and scales by the inter-quantile range.
type RobustScaler struct {
	WithCentering bool       `json:"with_centering" yaml:"with_centering"`
	WithScaling   bool       `json:"with_scaling" yaml:"with_scaling"`
	QuantileRange [2]float64 `json:"quantile_range" yaml:"quantile_range"`
	affine
}

func (s *RobustScaler) Kind() string { return kindRobustScaler }

func (s *RobustScaler) Fit(x [][]float64) error {
	qlo, qhi := s.QuantileRange[0], s.QuantileRange[1]
	if !(0 <= qlo && qlo < qhi && qhi <= 100) {
		return fmt.Errorf("invalid quantile_range [%g, %g]", qlo, qhi)
	}
	n := width(x)
	s.Shift, s.Scale = make([]float64, n), make([]float64, n)
	for j := 0; j < n; j++ {
		s.Scale[j] = 1
		vals := present(x, j)
		if len(vals) == 0 {
			continue
		}
		sort.Float64s(vals)
		if s.WithCentering {
			s.Shift[j] = median(vals)
		}
		if s.WithScaling {
			iqr := stat.Quantile(qhi/100, stat.LinInterp, vals, nil) - stat.Quantile(qlo/100, stat.LinInterp, vals, nil)
			s.Scale[j] = safeScale(iqr)
		}
	}
	return nil
}

func (s *RobustScaler) Transform(x [][]float64) ([][]float64, error) { return s.apply(x) }
func (s *RobustScaler) Inverse(x [][]float64) ([][]float64, error)   { return s.invert(x) }
func (s *RobustScaler) OutputColumns(in []string) []string           { return in }
