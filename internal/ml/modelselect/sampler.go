package modelselect

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"github.com/animus-labs/netsec-pipeline/internal/domain"
)

// Sampler draws hyperparameters from a search space. The same seed yields
// the same sequence of draws.
type Sampler struct {
	rng *rand.Rand
}

func NewSampler(seed uint64) *Sampler {
	return &Sampler{rng: rand.New(rand.NewPCG(seed, seed^0xda3e39cb94b95bdb))}
}

// Sample draws one value per parameter, visiting names in sorted order.
func (s *Sampler) Sample(space map[string]domain.SearchParam) (map[string]any, error) {
	names := make([]string, 0, len(space))
	for name := range space {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(map[string]any, len(names))
	for _, name := range names {
		v, err := s.draw(space[name])
		if err != nil {
			return nil, fmt.Errorf("search_space.%s: %w", name, err)
		}
		out[name] = v
	}
	return out, nil
}

func (s *Sampler) draw(p domain.SearchParam) (any, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	switch p.Kind() {
	case domain.ParamCategorical:
		return p.Choices[s.rng.IntN(len(p.Choices))], nil
	case domain.ParamInt:
		low, high, step := p.IntRange()
		n := (high - low) / step
		if p.Log {
			// Snap the log-uniform draw onto the step grid.
			v := s.logUniform(float64(low), float64(high))
			k := int(math.Round((v - float64(low)) / float64(step)))
			return low + step*min(max(k, 0), n), nil
		}
		return low + step*s.rng.IntN(n+1), nil
	default:
		low, high, err := p.FloatRange()
		if err != nil {
			return nil, err
		}
		if p.Log {
			return s.logUniform(low, high), nil
		}
		return low + s.rng.Float64()*(high-low), nil
	}
}

func (s *Sampler) logUniform(low, high float64) float64 {
	ll, lh := math.Log(low), math.Log(high)
	return math.Exp(ll + s.rng.Float64()*(lh-ll))
}
