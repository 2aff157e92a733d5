package algorithm

import (
	"context"
	"math/rand"

	"github.com/kThendral/OptimizeHub-sub000/internal/domain"
)

// tracker accumulates the best-so-far solution and the convergence curve.
// Best-so-far is kept in the problem's native orientation and compared with
// domain.Better; kernels receive sign-adjusted scores so lower is always
// better inside their loops. The curve is monotone under the objective by
// construction.
type tracker struct {
	fn        Fitness
	objective string
	maximize  bool
	best      float64
	bestX     []float64
	curve     []float64
	hasBest   bool
}

func newTracker(s Settings) *tracker {
	return &tracker{
		fn:        s.Fitness,
		objective: s.Problem.Objective,
		maximize:  s.Problem.Objective == domain.ObjectiveMaximize,
	}
}

// score evaluates x, updates best-so-far, and returns the sign-adjusted
// value (lower is better).
func (t *tracker) score(x []float64) float64 {
	f := t.fn(x)
	if !t.hasBest || domain.Better(t.objective, f, t.best) {
		t.best = f
		t.bestX = append(t.bestX[:0:0], x...)
		t.hasBest = true
	}
	if t.maximize {
		return -f
	}
	return f
}

// endIteration records one convergence-curve point.
func (t *tracker) endIteration() {
	t.curve = append(t.curve, t.best)
}

func (t *tracker) bestFitness() float64 { return t.best }

func (t *tracker) result(iterations int) domain.OptimizeResult {
	return domain.OptimizeResult{
		BestSolution:        append([]float64(nil), t.bestX...),
		BestFitness:         t.bestFitness(),
		ConvergenceCurve:    append([]float64(nil), t.curve...),
		IterationsCompleted: iterations,
	}
}

// checkCancel reports the context error, if any. Kernels call it between
// iterations so the soft deadline can cancel cooperatively.
func checkCancel(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

func randomPoint(rng *rand.Rand, bounds []domain.Bound) []float64 {
	x := make([]float64, len(bounds))
	for i, b := range bounds {
		x[i] = b.Lo + rng.Float64()*(b.Hi-b.Lo)
	}
	return x
}

func clamp(x []float64, bounds []domain.Bound) {
	for i, b := range bounds {
		if x[i] < b.Lo {
			x[i] = b.Lo
		} else if x[i] > b.Hi {
			x[i] = b.Hi
		}
	}
}
