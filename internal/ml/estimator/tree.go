package estimator

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
)

// TreeOptions are the growth limits shared by DecisionTree and RandomForest.
type TreeOptions struct {
	Criterion       string `json:"criterion" yaml:"criterion"`
	MaxDepth        *int   `json:"max_depth" yaml:"max_depth"`
	MinSamplesSplit int    `json:"min_samples_split" yaml:"min_samples_split"`
	MinSamplesLeaf  int    `json:"min_samples_leaf" yaml:"min_samples_leaf"`
	RandomState     uint64 `json:"random_state" yaml:"random_state"`
}

func defaultTreeOptions() TreeOptions {
	return TreeOptions{Criterion: "gini", MinSamplesSplit: 2, MinSamplesLeaf: 1}
}

func (o TreeOptions) validate() error {
	if o.Criterion != "gini" && o.Criterion != "entropy" {
		return fmt.Errorf("criterion must be gini or entropy, got %q", o.Criterion)
	}
	if o.MaxDepth != nil && *o.MaxDepth < 1 {
		return fmt.Errorf("max_depth must be >= 1, got %d", *o.MaxDepth)
	}
	if o.MinSamplesSplit < 2 {
		return fmt.Errorf("min_samples_split must be >= 2, got %d", o.MinSamplesSplit)
	}
	if o.MinSamplesLeaf < 1 {
		return fmt.Errorf("min_samples_leaf must be >= 1, got %d", o.MinSamplesLeaf)
	}
	return nil
}

// Node is one tree node stored in a flat slice. Leaves have Feature -1.
type Node struct {
	Feature   int       `json:"f"`
	Threshold float64   `json:"t,omitempty"`
	Left      int       `json:"l,omitempty"`
	Right     int       `json:"r,omitempty"`
	Proba     []float64 `json:"p,omitempty"`
}

type cart struct {
	opts      TreeOptions
	nClasses  int
	maxFeat   int
	rng       *rand.Rand
	x         [][]float64
	y         []int
	nodes     []Node
	nFeatures int
}

// grow builds a tree over rows (indices into x, repeats allowed).
func (c *cart) grow(rows []int) []Node {
	c.nodes = c.nodes[:0]
	c.split(rows, 0)
	return c.nodes
}

func (c *cart) split(rows []int, depth int) int {
	counts := make([]float64, c.nClasses)
	for _, r := range rows {
		counts[c.y[r]]++
	}
	id := len(c.nodes)
	c.nodes = append(c.nodes, Node{Feature: -1, Proba: normalize(counts)})

	parent := c.impurity(counts, float64(len(rows)))
	if parent == 0 || len(rows) < c.opts.MinSamplesSplit || len(rows) < 2*c.opts.MinSamplesLeaf {
		return id
	}
	if c.opts.MaxDepth != nil && depth >= *c.opts.MaxDepth {
		return id
	}

	feature, threshold, ok := c.bestSplit(rows, counts, parent)
	if !ok {
		return id
	}
	var left, right []int
	for _, r := range rows {
		if c.x[r][feature] <= threshold {
			left = append(left, r)
		} else {
			right = append(right, r)
		}
	}
	l := c.split(left, depth+1)
	rt := c.split(right, depth+1)
	c.nodes[id] = Node{Feature: feature, Threshold: threshold, Left: l, Right: rt}
	return id
}

func (c *cart) candidates() []int {
	feats := make([]int, c.nFeatures)
	for i := range feats {
		feats[i] = i
	}
	if c.maxFeat <= 0 || c.maxFeat >= c.nFeatures {
		return feats
	}
	c.rng.Shuffle(len(feats), func(i, j int) { feats[i], feats[j] = feats[j], feats[i] })
	return feats[:c.maxFeat]
}

// bestSplit scans every threshold between distinct sorted values of each
// candidate feature; the first strictly better split wins.
func (c *cart) bestSplit(rows []int, total []float64, parent float64) (int, float64, bool) {
	n := float64(len(rows))
	bestGain, bestFeat, bestThr := 1e-12, -1, 0.0
	sorted := make([]int, len(rows))
	left := make([]float64, c.nClasses)
	right := make([]float64, c.nClasses)
	minLeaf := c.opts.MinSamplesLeaf

	for _, f := range c.candidates() {
		copy(sorted, rows)
		sort.Slice(sorted, func(a, b int) bool { return c.x[sorted[a]][f] < c.x[sorted[b]][f] })
		clear(left)
		copy(right, total)
		for i := 0; i < len(sorted)-1; i++ {
			cls := c.y[sorted[i]]
			left[cls]++
			right[cls]--
			v, next := c.x[sorted[i]][f], c.x[sorted[i+1]][f]
			if v == next {
				continue
			}
			nl := float64(i + 1)
			nr := n - nl
			if int(nl) < minLeaf || int(nr) < minLeaf {
				continue
			}
			child := (nl*c.impurity(left, nl) + nr*c.impurity(right, nr)) / n
			if gain := parent - child; gain > bestGain {
				bestGain, bestFeat, bestThr = gain, f, v+(next-v)/2
			}
		}
	}
	return bestFeat, bestThr, bestFeat >= 0
}

func (c *cart) impurity(counts []float64, n float64) float64 {
	if n == 0 {
		return 0
	}
	var out float64
	for _, k := range counts {
		if k == 0 {
			continue
		}
		p := k / n
		if c.opts.Criterion == "entropy" {
			out -= p * math.Log2(p)
		} else {
			out += p * p
		}
	}
	if c.opts.Criterion == "entropy" {
		return out
	}
	return 1 - out
}

func normalize(counts []float64) []float64 {
	var sum float64
	for _, v := range counts {
		sum += v
	}
	out := make([]float64, len(counts))
	for i, v := range counts {
		if sum > 0 {
			out[i] = v / sum
		}
	}
	return out
}

func walk(nodes []Node, row []float64) []float64 {
	i := 0
	for nodes[i].Feature >= 0 {
		if row[nodes[i].Feature] <= nodes[i].Threshold {
			i = nodes[i].Left
		} else {
			i = nodes[i].Right
		}
	}
	return nodes[i].Proba
}

// DecisionTree is a CART classifier.
type DecisionTree struct {
	TreeOptions `yaml:",inline"`

	Labels    []float64 `json:"classes,omitempty" yaml:"-"`
	NFeatures int       `json:"n_features" yaml:"-"`
	Nodes     []Node    `json:"nodes,omitempty" yaml:"-"`
}

func (m *DecisionTree) ID() string { return DecisionTreeID }

func (m *DecisionTree) Classes() []float64 { return m.Labels }

func (m *DecisionTree) Fit(x [][]float64, y []float64) error {
	if err := checkXY(x, y); err != nil {
		return err
	}
	classes, idx := classIndex(y)
	c := &cart{
		opts:      m.TreeOptions,
		nClasses:  len(classes),
		rng:       rand.New(rand.NewPCG(m.RandomState, 0)),
		x:         x,
		y:         idx,
		nFeatures: len(x[0]),
	}
	rows := make([]int, len(x))
	for i := range rows {
		rows[i] = i
	}
	m.Nodes = append([]Node(nil), c.grow(rows)...)
	m.Labels = classes
	m.NFeatures = len(x[0])
	return nil
}

func (m *DecisionTree) PredictProba(x [][]float64) ([][]float64, error) {
	if m.Nodes == nil {
		return nil, ErrNotFitted
	}
	if err := checkX(x, m.NFeatures); err != nil {
		return nil, err
	}
	out := make([][]float64, len(x))
	for i, row := range x {
		out[i] = append([]float64(nil), walk(m.Nodes, row)...)
	}
	return out, nil
}

func (m *DecisionTree) Predict(x [][]float64) ([]float64, error) {
	proba, err := m.PredictProba(x)
	if err != nil {
		return nil, err
	}
	return argmaxRows(proba, m.Labels), nil
}
