package algorithm

import (
	"context"
	"sort"

	"github.com/kThendral/OptimizeHub-sub000/internal/domain"
)

// Genetic implements a real-coded GA with tournament selection, blend
// crossover, gaussian mutation and single-slot elitism.
type Genetic struct{}

// Optimize runs the GA until max_iterations or cancellation.
func (Genetic) Optimize(ctx context.Context, s Settings) (domain.OptimizeResult, error) {
	n := int(s.Params["population_size"])
	iters := int(s.Params["max_iterations"])
	mutRate := s.Params["mutation_rate"]
	crossRate := s.Params["crossover_rate"]
	bounds := s.Problem.Bounds
	dim := s.Problem.Dimensions
	tr := newTracker(s)

	type indiv struct {
		x     []float64
		score float64
	}
	pop := make([]indiv, n)
	for i := range pop {
		x := randomPoint(s.Rand, bounds)
		pop[i] = indiv{x: x, score: tr.score(x)}
	}

	tournament := func() indiv {
		a := pop[s.Rand.Intn(n)]
		b := pop[s.Rand.Intn(n)]
		if a.score <= b.score {
			return a
		}
		return b
	}

	done := 0
	for it := 0; it < iters; it++ {
		if err := checkCancel(ctx); err != nil {
			return domain.OptimizeResult{}, err
		}
		next := make([]indiv, 0, n)
		// Elitism: the incumbent best survives unchanged.
		sort.Slice(pop, func(i, j int) bool { return pop[i].score < pop[j].score })
		next = append(next, pop[0])
		for len(next) < n {
			p1, p2 := tournament(), tournament()
			child := make([]float64, dim)
			for d := 0; d < dim; d++ {
				if s.Rand.Float64() < crossRate {
					alpha := s.Rand.Float64()
					child[d] = alpha*p1.x[d] + (1-alpha)*p2.x[d]
				} else {
					child[d] = p1.x[d]
				}
				if s.Rand.Float64() < mutRate {
					span := bounds[d].Hi - bounds[d].Lo
					child[d] += s.Rand.NormFloat64() * span * 0.1
				}
			}
			clamp(child, bounds)
			next = append(next, indiv{x: child, score: tr.score(child)})
		}
		pop = next
		tr.endIteration()
		done = it + 1
	}
	return tr.result(done), nil
}
