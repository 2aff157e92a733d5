package algorithm

import (
	"context"
	"math"
	"sort"

	"github.com/kThendral/OptimizeHub-sub000/internal/domain"
)

// AntColony implements ACOr, the continuous-domain ant colony variant: a
// solution archive acts as the pheromone model and new ants sample gaussian
// kernels centred on archive members.
type AntColony struct{}

// Optimize runs ACOr until max_iterations or cancellation.
func (AntColony) Optimize(ctx context.Context, s Settings) (domain.OptimizeResult, error) {
	ants := int(s.Params["colony_size"])
	iters := int(s.Params["max_iterations"])
	k := int(s.Params["archive_size"])
	q := s.Params["q"]
	xi := s.Params["xi"]
	bounds := s.Problem.Bounds
	dim := s.Problem.Dimensions
	tr := newTracker(s)

	type sol struct {
		x     []float64
		score float64
	}
	archive := make([]sol, k)
	for i := range archive {
		x := randomPoint(s.Rand, bounds)
		archive[i] = sol{x: x, score: tr.score(x)}
	}
	sort.Slice(archive, func(i, j int) bool { return archive[i].score < archive[j].score })

	// Rank-based selection weights, fixed across iterations.
	weights := make([]float64, k)
	total := 0.0
	for i := range weights {
		rank := float64(i)
		sigma := q * float64(k)
		weights[i] = math.Exp(-rank*rank/(2*sigma*sigma)) / (sigma * math.Sqrt(2*math.Pi))
		total += weights[i]
	}

	pick := func() int {
		r := s.Rand.Float64() * total
		acc := 0.0
		for i, w := range weights {
			acc += w
			if r <= acc {
				return i
			}
		}
		return k - 1
	}

	done := 0
	for it := 0; it < iters; it++ {
		if err := checkCancel(ctx); err != nil {
			return domain.OptimizeResult{}, err
		}
		for a := 0; a < ants; a++ {
			guide := pick()
			x := make([]float64, dim)
			for d := 0; d < dim; d++ {
				// Kernel width: mean absolute distance to the guide.
				dev := 0.0
				for _, other := range archive {
					dev += math.Abs(other.x[d] - archive[guide].x[d])
				}
				dev = xi * dev / float64(k-1)
				x[d] = archive[guide].x[d] + s.Rand.NormFloat64()*dev
			}
			clamp(x, bounds)
			sc := tr.score(x)
			if sc < archive[k-1].score {
				archive[k-1] = sol{x: x, score: sc}
				sort.Slice(archive, func(i, j int) bool { return archive[i].score < archive[j].score })
			}
		}
		tr.endIteration()
		done = it + 1
	}
	return tr.result(done), nil
}
