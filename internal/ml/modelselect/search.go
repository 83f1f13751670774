package modelselect

import (
	"context"
	"fmt"
	"maps"
	"math"
	"strings"

	"github.com/animus-labs/netsec-pipeline/internal/domain"
)

type Direction string

const (
	Maximize Direction = "maximize"
	Minimize Direction = "minimize"
)

func ParseDirection(s string) (Direction, error) {
	switch d := Direction(strings.ToLower(strings.TrimSpace(s))); d {
	case Maximize, Minimize:
		return d, nil
	case "":
		return Maximize, nil
	default:
		return "", fmt.Errorf("direction must be maximize or minimize, got %q", s)
	}
}

// Better reports whether a improves on b. Equal scores do not improve, so the
// first candidate seen wins a tie.
func (d Direction) Better(a, b float64) bool {
	if math.IsNaN(a) {
		return false
	}
	if math.IsNaN(b) {
		return true
	}
	if d == Minimize {
		return a < b
	}
	return a > b
}

// Worst is the score every real score improves on.
func (d Direction) Worst() float64 {
	if d == Minimize {
		return math.Inf(1)
	}
	return math.Inf(-1)
}

type Trial struct {
	Number int
	Params map[string]any
	Score  float64
}

type Study struct {
	Direction Direction
	Trials    []Trial
	Best      int
}

func (s Study) BestTrial() Trial { return s.Trials[s.Best] }

// Objective scores one parameter set.
type Objective func(ctx context.Context, params map[string]any) (float64, error)

// Optimize runs nTrials draws from space, each overlaid on base, and keeps
// the best according to dir.
func Optimize(ctx context.Context, sampler *Sampler, space map[string]domain.SearchParam, base map[string]any, nTrials int, dir Direction, objective Objective) (Study, error) {
	if nTrials < 1 {
		return Study{}, fmt.Errorf("n_trials must be >= 1, got %d", nTrials)
	}
	study := Study{Direction: dir, Best: -1}
	best := dir.Worst()
	for n := range nTrials {
		if err := ctx.Err(); err != nil {
			return Study{}, err
		}
		sampled, err := sampler.Sample(space)
		if err != nil {
			return Study{}, err
		}
		params := maps.Clone(base)
		if params == nil {
			params = map[string]any{}
		}
		maps.Copy(params, sampled)
		score, err := objective(ctx, params)
		if err != nil {
			return Study{}, fmt.Errorf("trial %d: %w", n, err)
		}
		study.Trials = append(study.Trials, Trial{Number: n, Params: params, Score: score})
		if study.Best < 0 || dir.Better(score, best) {
			study.Best, best = n, score
		}
	}
	return study, nil
}
