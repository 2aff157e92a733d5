package algorithm

import (
	"context"

	"github.com/kThendral/OptimizeHub-sub000/internal/domain"
)

// DifferentialEvolution implements DE/rand/1/bin.
type DifferentialEvolution struct{}

// Optimize runs DE until max_iterations or cancellation.
func (DifferentialEvolution) Optimize(ctx context.Context, s Settings) (domain.OptimizeResult, error) {
	n := int(s.Params["population_size"])
	iters := int(s.Params["max_iterations"])
	f := s.Params["differential_weight"]
	cr := s.Params["crossover_rate"]
	bounds := s.Problem.Bounds
	dim := s.Problem.Dimensions
	tr := newTracker(s)

	pop := make([][]float64, n)
	scores := make([]float64, n)
	for i := range pop {
		pop[i] = randomPoint(s.Rand, bounds)
		scores[i] = tr.score(pop[i])
	}

	done := 0
	for it := 0; it < iters; it++ {
		if err := checkCancel(ctx); err != nil {
			return domain.OptimizeResult{}, err
		}
		for i := 0; i < n; i++ {
			// Three distinct donors, all different from i.
			a, b, c := i, i, i
			for a == i {
				a = s.Rand.Intn(n)
			}
			for b == i || b == a {
				b = s.Rand.Intn(n)
			}
			for c == i || c == a || c == b {
				c = s.Rand.Intn(n)
			}
			trial := make([]float64, dim)
			jrand := s.Rand.Intn(dim)
			for d := 0; d < dim; d++ {
				if s.Rand.Float64() < cr || d == jrand {
					trial[d] = pop[a][d] + f*(pop[b][d]-pop[c][d])
				} else {
					trial[d] = pop[i][d]
				}
			}
			clamp(trial, bounds)
			if sc := tr.score(trial); sc < scores[i] {
				pop[i] = trial
				scores[i] = sc
			}
		}
		tr.endIteration()
		done = it + 1
	}
	return tr.result(done), nil
}
