// Package modelselect holds the data partitioning and hyperparameter search
// used by the transformation and training stages.
package modelselect

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
)

// SplitOptions sizes the validation and test partitions as fractions of the
// whole dataset.
type SplitOptions struct {
	TestSize    float64
	ValSize     float64
	RandomState uint64
	Stratify    bool
}

func (o SplitOptions) Validate() error {
	if o.TestSize <= 0 || o.TestSize >= 1 {
		return fmt.Errorf("test_size must be in (0,1), got %g", o.TestSize)
	}
	if o.ValSize <= 0 || o.ValSize >= 1 {
		return fmt.Errorf("val_size must be in (0,1), got %g", o.ValSize)
	}
	if o.TestSize+o.ValSize >= 1 {
		return fmt.Errorf("test_size+val_size must be < 1, got %g", o.TestSize+o.ValSize)
	}
	return nil
}

// Partition holds sorted row indices per split.
type Partition struct {
	Train []int
	Val   []int
	Test  []int
}

// Split partitions n rows. y is read only when Stratify is set, in which case
// each class is spread over the splits in proportion to its frequency.
func Split(n int, y []float64, opts SplitOptions) (Partition, error) {
	if err := opts.Validate(); err != nil {
		return Partition{}, err
	}
	nTest := portion(opts.TestSize, n)
	nVal := portion(opts.ValSize, n)
	if n-nTest-nVal < 1 || nTest < 1 || nVal < 1 {
		return Partition{}, fmt.Errorf("%d rows cannot fill train, val and test splits", n)
	}
	rng := rand.New(rand.NewPCG(opts.RandomState, opts.RandomState^0x9e3779b97f4a7c15))

	var p Partition
	if !opts.Stratify {
		perm := rng.Perm(n)
		p.Test = perm[:nTest]
		p.Val = perm[nTest : nTest+nVal]
		p.Train = perm[nTest+nVal:]
	} else {
		if len(y) != n {
			return Partition{}, fmt.Errorf("stratify: %d labels for %d rows", len(y), n)
		}
		var err error
		if p, err = stratifiedSplit(y, nTest, nVal, rng); err != nil {
			return Partition{}, err
		}
	}
	slices.Sort(p.Train)
	slices.Sort(p.Val)
	slices.Sort(p.Test)
	return p, nil
}

// portion rounds frac*n up, ignoring float noise such as 0.2*60.
func portion(frac float64, n int) int {
	return int(math.Ceil(frac*float64(n) - 1e-9))
}

func stratifiedSplit(y []float64, nTest, nVal int, rng *rand.Rand) (Partition, error) {
	classes, groups := groupByClass(y)
	if len(classes) < 2 {
		return Partition{}, errors.New("stratify: need at least two classes")
	}
	for i := range groups {
		rng.Shuffle(len(groups[i]), func(a, b int) { groups[i][a], groups[i][b] = groups[i][b], groups[i][a] })
	}
	testQuota := allocate(groups, nTest, nil)
	valQuota := allocate(groups, nVal, testQuota)

	var p Partition
	for i, g := range groups {
		t, v := testQuota[i], valQuota[i]
		p.Test = append(p.Test, g[:t]...)
		p.Val = append(p.Val, g[t:t+v]...)
		p.Train = append(p.Train, g[t+v:]...)
	}
	if len(p.Train) == 0 {
		return Partition{}, errors.New("stratify: empty train split")
	}
	return p, nil
}

// allocate distributes total across groups proportionally to group size
// (largest remainder), never taking more than a group has left after taken.
func allocate(groups [][]int, total int, taken []int) []int {
	n := 0
	left := make([]int, len(groups))
	for i, g := range groups {
		left[i] = len(g)
		if taken != nil {
			left[i] -= taken[i]
		}
		n += len(g)
	}
	quota := make([]int, len(groups))
	rem := make([]float64, len(groups))
	assigned := 0
	for i, g := range groups {
		exact := float64(total) * float64(len(g)) / float64(n)
		quota[i] = min(int(math.Floor(exact)), left[i])
		rem[i] = exact - math.Floor(exact)
		assigned += quota[i]
	}
	order := make([]int, len(groups))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		switch {
		case rem[a] > rem[b]:
			return -1
		case rem[a] < rem[b]:
			return 1
		}
		return 0
	})
	for assigned < total {
		progressed := false
		for _, i := range order {
			if assigned == total {
				break
			}
			if quota[i] < left[i] {
				quota[i]++
				assigned++
				progressed = true
			}
		}
		if !progressed {
			break
		}
	}
	return quota
}

// groupByClass returns the sorted distinct labels and, per label, the row
// indices holding it in ascending order.
func groupByClass(y []float64) ([]float64, [][]int) {
	index := map[float64]int{}
	var classes []float64
	for _, v := range y {
		if _, ok := index[v]; !ok {
			index[v] = 0
			classes = append(classes, v)
		}
	}
	slices.Sort(classes)
	for i, c := range classes {
		index[c] = i
	}
	groups := make([][]int, len(classes))
	for i, v := range y {
		groups[index[v]] = append(groups[index[v]], i)
	}
	return classes, groups
}
