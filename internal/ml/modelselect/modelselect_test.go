package modelselect

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/animus-labs/netsec-pipeline/internal/domain"
	"github.com/animus-labs/netsec-pipeline/internal/ml/estimator"
	"github.com/animus-labs/netsec-pipeline/internal/ml/metrics"
)

func labels(n int) []float64 {
	y := make([]float64, n)
	for i := range y {
		if i%3 == 0 {
			y[i] = 1
		}
	}
	return y
}

func TestSplit_SizesAndDisjoint(t *testing.T) {
	for _, stratify := range []bool{false, true} {
		p, err := Split(99, labels(99), SplitOptions{TestSize: 0.15, ValSize: 0.15, RandomState: 42, Stratify: stratify})
		if err != nil {
			t.Fatalf("stratify=%v: err=%v", stratify, err)
		}
		if len(p.Train) != 69 || len(p.Val) != 15 || len(p.Test) != 15 {
			t.Fatalf("stratify=%v: sizes=%d/%d/%d, want 69/15/15", stratify, len(p.Train), len(p.Val), len(p.Test))
		}
		seen := map[int]bool{}
		for _, part := range [][]int{p.Train, p.Val, p.Test} {
			for _, i := range part {
				if seen[i] {
					t.Fatalf("row %d in two splits", i)
				}
				seen[i] = true
			}
		}
		if len(seen) != 99 {
			t.Fatalf("covered %d rows, want 99", len(seen))
		}
	}
}

func TestSplit_Deterministic(t *testing.T) {
	opts := SplitOptions{TestSize: 0.2, ValSize: 0.2, RandomState: 7}
	a, _ := Split(50, nil, opts)
	b, _ := Split(50, nil, opts)
	if !slices.Equal(a.Test, b.Test) || !slices.Equal(a.Val, b.Val) {
		t.Fatalf("same seed produced different splits")
	}
	opts.RandomState = 8
	c, _ := Split(50, nil, opts)
	if slices.Equal(a.Test, c.Test) {
		t.Fatalf("different seeds produced the same test split")
	}
}

func TestSplit_StratifiedKeepsBothClassesEverywhere(t *testing.T) {
	y := labels(60)
	p, err := Split(60, y, SplitOptions{TestSize: 0.2, ValSize: 0.2, RandomState: 1, Stratify: true})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	for name, part := range map[string][]int{"train": p.Train, "val": p.Val, "test": p.Test} {
		pos := 0
		for _, i := range part {
			if y[i] == 1 {
				pos++
			}
		}
		if pos == 0 || pos == len(part) {
			t.Fatalf("%s split has a single class (%d/%d)", name, pos, len(part))
		}
	}
}

func TestSplit_TooFewRows(t *testing.T) {
	if _, err := Split(2, nil, SplitOptions{TestSize: 0.3, ValSize: 0.3}); err == nil {
		t.Fatalf("expected error for 2 rows")
	}
	if _, err := Split(10, nil, SplitOptions{TestSize: 0.6, ValSize: 0.4}); err == nil {
		t.Fatalf("expected error for sizes summing to 1")
	}
}

func TestStratifiedKFold(t *testing.T) {
	y := labels(30)
	folds, err := StratifiedKFold(y, 5)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if len(folds) != 5 {
		t.Fatalf("folds=%d", len(folds))
	}
	tested := map[int]int{}
	for i, f := range folds {
		if len(f.Train)+len(f.Test) != 30 {
			t.Fatalf("fold %d covers %d rows", i, len(f.Train)+len(f.Test))
		}
		pos := 0
		for _, r := range f.Test {
			tested[r]++
			if y[r] == 1 {
				pos++
			}
		}
		if pos != 2 {
			t.Fatalf("fold %d has %d positives in test, want 2", i, pos)
		}
	}
	if len(tested) != 30 {
		t.Fatalf("rows tested=%d, want 30", len(tested))
	}
	for r, n := range tested {
		if n != 1 {
			t.Fatalf("row %d tested %d times", r, n)
		}
	}
	if _, err := StratifiedKFold(y, 1); err == nil {
		t.Fatalf("expected error for k=1")
	}
}

func separable(n int) ([][]float64, []float64) {
	x := make([][]float64, n)
	y := make([]float64, n)
	for i := range n {
		if i%2 == 0 {
			x[i] = []float64{float64(i%5) * 0.1, 1}
			y[i] = 0
		} else {
			x[i] = []float64{5 + float64(i%5)*0.1, -1}
			y[i] = 1
		}
	}
	return x, y
}

func TestCrossValScore(t *testing.T) {
	x, y := separable(40)
	build := func() (estimator.Estimator, error) { return estimator.New(estimator.GaussianNBID, nil) }
	score, err := CrossValScore(context.Background(), build, x, y, 4, metrics.Accuracy)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if score != 1 {
		t.Fatalf("accuracy=%v, want 1", score)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := CrossValScore(ctx, build, x, y, 4, metrics.Accuracy); !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v, want context.Canceled", err)
	}
}

func TestSampler(t *testing.T) {
	space := map[string]domain.SearchParam{
		"depth": {Low: 2, High: 10, Step: 2},
		"c":     {Low: 0.001, High: 10.0, Log: true},
		"crit":  {Choices: []any{"gini", "entropy"}},
	}
	a, b := NewSampler(3), NewSampler(3)
	for range 50 {
		pa, err := a.Sample(space)
		if err != nil {
			t.Fatalf("err=%v", err)
		}
		pb, _ := b.Sample(space)
		if pa["depth"] != pb["depth"] || pa["c"] != pb["c"] || pa["crit"] != pb["crit"] {
			t.Fatalf("same seed diverged: %v vs %v", pa, pb)
		}
		d := pa["depth"].(int)
		if d < 2 || d > 10 || d%2 != 0 {
			t.Fatalf("depth=%d outside 2..10 step 2", d)
		}
		c := pa["c"].(float64)
		if c < 0.001 || c > 10 {
			t.Fatalf("c=%v outside range", c)
		}
		if s := pa["crit"].(string); s != "gini" && s != "entropy" {
			t.Fatalf("crit=%q", s)
		}
	}
}

func TestSampler_LogIntRespectsStep(t *testing.T) {
	p := domain.SearchParam{Low: 10, High: 200, Step: 10, Log: true}
	s := NewSampler(42)
	seen := map[int]bool{}
	for range 200 {
		v, err := s.draw(p)
		if err != nil {
			t.Fatalf("err=%v", err)
		}
		n := v.(int)
		if n < 10 || n > 200 || n%10 != 0 {
			t.Fatalf("draw=%d, want a multiple of 10 in 10..200", n)
		}
		seen[n] = true
	}
	if len(seen) < 5 {
		t.Fatalf("only %d distinct draws", len(seen))
	}

	// The top of the grid is the last reachable step, not high itself.
	p = domain.SearchParam{Low: 1, High: 20, Step: 3, Log: true}
	for range 200 {
		v, _ := s.draw(p)
		if n := v.(int); (n-1)%3 != 0 || n > 19 {
			t.Fatalf("draw=%d, want 1+3k <= 19", n)
		}
	}
}

func TestOptimize_TiesKeepFirst(t *testing.T) {
	space := map[string]domain.SearchParam{"k": {Low: 1, High: 100}}
	calls := 0
	study, err := Optimize(context.Background(), NewSampler(1), space, map[string]any{"fixed": true}, 5, Maximize,
		func(_ context.Context, params map[string]any) (float64, error) {
			calls++
			if params["fixed"] != true {
				t.Fatalf("base params not overlaid: %v", params)
			}
			return 0.5, nil
		})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if calls != 5 || len(study.Trials) != 5 {
		t.Fatalf("calls=%d trials=%d", calls, len(study.Trials))
	}
	if study.Best != 0 {
		t.Fatalf("best=%d, want 0 on tie", study.Best)
	}
}

func TestOptimize_Minimize(t *testing.T) {
	scores := []float64{0.4, 0.2, 0.3}
	n := 0
	study, err := Optimize(context.Background(), NewSampler(1), nil, nil, 3, Minimize,
		func(context.Context, map[string]any) (float64, error) {
			s := scores[n]
			n++
			return s, nil
		})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if study.BestTrial().Score != 0.2 {
		t.Fatalf("best=%v, want 0.2", study.BestTrial().Score)
	}
}

func TestParseDirection(t *testing.T) {
	if d, _ := ParseDirection(""); d != Maximize {
		t.Fatalf("default=%q", d)
	}
	if _, err := ParseDirection("sideways"); err == nil {
		t.Fatalf("expected error")
	}
}
