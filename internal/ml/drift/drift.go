// Package drift compares a dataset against a baseline column by column with
// the two-sample Kolmogorov-Smirnov test.
package drift

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/stat"

	"github.com/animus-labs/netsec-pipeline/internal/domain"
	"github.com/animus-labs/netsec-pipeline/internal/frame"
)

const MethodKS = "ks_2samp"

// KS returns the two-sample KS statistic and its asymptotic p-value. NaNs are
// ignored. Identical samples give statistic 0 and p-value 1.
func KS(a, b []float64) (statistic, pValue float64, err error) {
	x, y := sortedFinite(a), sortedFinite(b)
	if len(x) == 0 || len(y) == 0 {
		return 0, 0, errors.New("ks: empty sample")
	}
	// Rounding in the ECDF walk can push d a few ulps past 1.
	d := min(stat.KolmogorovSmirnov(x, nil, y, nil), 1)
	n, m := float64(len(x)), float64(len(y))
	en := math.Sqrt(n * m / (n + m))
	return d, ksQ((en + 0.12 + 0.11/en) * d), nil
}

// ksQ is the Kolmogorov survival function
// Q(l) = 2 * sum_{j>=1} (-1)^(j-1) exp(-2 j^2 l^2).
func ksQ(lambda float64) float64 {
	const eps1, eps2 = 1e-3, 1e-8
	a2 := -2 * lambda * lambda
	sign, sum, prev := 2.0, 0.0, 0.0
	for j := 1; j <= 100; j++ {
		term := sign * math.Exp(a2*float64(j*j))
		sum += term
		if math.Abs(term) <= eps1*prev || math.Abs(term) <= eps2*sum {
			return min(max(sum, 0), 1)
		}
		sign = -sign
		prev = math.Abs(term)
	}
	// No convergence happens only for tiny lambda.
	return 1
}

func sortedFinite(v []float64) []float64 {
	out := make([]float64, 0, len(v))
	for _, x := range v {
		if !math.IsNaN(x) && !math.IsInf(x, 0) {
			out = append(out, x)
		}
	}
	slices.Sort(out)
	return out
}

// Compare tests every column present in both frames. Columns that are not
// numeric on both sides, or empty after dropping nulls, are reported as
// skipped. A column drifts when its p-value is below threshold.
func Compare(baseline, current *frame.Frame, threshold float64) (domain.DriftReport, error) {
	if threshold <= 0 || threshold >= 1 {
		return domain.DriftReport{}, fmt.Errorf("p_value_threshold must be in (0,1), got %g", threshold)
	}
	report := domain.DriftReport{
		Method:    MethodKS,
		Threshold: threshold,
		Columns:   map[string]domain.ColumnDrift{},
	}
	baseTypes, curTypes := baseline.DTypes(), current.DTypes()
	for _, col := range current.Columns {
		bt, ok := baseTypes[col]
		if !ok {
			continue
		}
		if !bt.Numeric() || !curTypes[col].Numeric() {
			report.Skipped = append(report.Skipped, col)
			continue
		}
		a, err := baseline.Floats(col)
		if err != nil {
			return domain.DriftReport{}, err
		}
		b, err := current.Floats(col)
		if err != nil {
			return domain.DriftReport{}, err
		}
		d, p, err := KS(a, b)
		if err != nil {
			report.Skipped = append(report.Skipped, col)
			continue
		}
		drifted := p < threshold
		report.Columns[col] = domain.ColumnDrift{Statistic: d, PValue: p, Drift: drifted}
		report.DriftDetected = report.DriftDetected || drifted
	}
	return report, nil
}
