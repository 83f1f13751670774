package preprocess

const kindLabelMapper = "label_mapper"

// LabelMapper rewrites one label value to another, e.g. -1 -> 0, and leaves
// every other value unchanged. It needs no data to fit.
type LabelMapper struct {
	From  float64 `json:"from" yaml:"from"`
	To    float64 `json:"to" yaml:"to"`
	Ready bool    `json:"fitted" yaml:"-"`
}

func (m *LabelMapper) Kind() string { return kindLabelMapper }

func (m *LabelMapper) Fit(x [][]float64) error {
	m.Ready = true
	return nil
}

func (m *LabelMapper) Transform(x [][]float64) ([][]float64, error) {
	return m.swap(x, m.From, m.To)
}

func (m *LabelMapper) Inverse(x [][]float64) ([][]float64, error) {
	return m.swap(x, m.To, m.From)
}

func (m *LabelMapper) swap(x [][]float64, from, to float64) ([][]float64, error) {
	if !m.Ready {
		return nil, ErrNotFitted
	}
	out := cloneMatrix(x)
	for _, row := range out {
		for j, v := range row {
			if v == from {
				row[j] = to
			}
		}
	}
	return out, nil
}

func (m *LabelMapper) OutputColumns(in []string) []string { return in }
