package algorithm

import (
	"context"
	"math"

	"github.com/kThendral/OptimizeHub-sub000/internal/domain"
)

// SimulatedAnnealing implements SA with geometric cooling and a gaussian
// neighbourhood that shrinks with temperature.
type SimulatedAnnealing struct{}

// Optimize runs SA until max_iterations or cancellation. One "iteration" is
// one temperature level of steps_per_temp moves.
func (SimulatedAnnealing) Optimize(ctx context.Context, s Settings) (domain.OptimizeResult, error) {
	iters := int(s.Params["max_iterations"])
	temp := s.Params["initial_temp"]
	cooling := s.Params["cooling_rate"]
	steps := int(s.Params["steps_per_temp"])
	bounds := s.Problem.Bounds
	dim := s.Problem.Dimensions
	tr := newTracker(s)

	cur := randomPoint(s.Rand, bounds)
	curScore := tr.score(cur)

	done := 0
	for it := 0; it < iters; it++ {
		if err := checkCancel(ctx); err != nil {
			return domain.OptimizeResult{}, err
		}
		// Neighbourhood scale anneals from 10% of the span towards 1%.
		frac := 0.01 + 0.09*float64(iters-it)/float64(iters)
		for st := 0; st < steps; st++ {
			cand := make([]float64, dim)
			for d, b := range bounds {
				cand[d] = cur[d] + s.Rand.NormFloat64()*(b.Hi-b.Lo)*frac
			}
			clamp(cand, bounds)
			candScore := tr.score(cand)
			delta := candScore - curScore
			if delta < 0 || s.Rand.Float64() < math.Exp(-delta/math.Max(temp, 1e-12)) {
				cur = cand
				curScore = candScore
			}
		}
		temp *= cooling
		tr.endIteration()
		done = it + 1
	}
	return tr.result(done), nil
}
