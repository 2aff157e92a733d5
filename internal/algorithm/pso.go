package algorithm

import (
	"context"
	"math"

	"github.com/kThendral/OptimizeHub-sub000/internal/domain"
)

// ParticleSwarm implements canonical PSO with inertia weight and
// cognitive/social coefficients.
type ParticleSwarm struct{}

// Optimize runs PSO until max_iterations or cancellation.
func (ParticleSwarm) Optimize(ctx context.Context, s Settings) (domain.OptimizeResult, error) {
	n := int(s.Params["swarm_size"])
	iters := int(s.Params["max_iterations"])
	w := s.Params["w"]
	c1 := s.Params["c1"]
	c2 := s.Params["c2"]
	bounds := s.Problem.Bounds
	dim := s.Problem.Dimensions
	tr := newTracker(s)

	pos := make([][]float64, n)
	vel := make([][]float64, n)
	pbest := make([][]float64, n)
	pbestScore := make([]float64, n)
	for i := 0; i < n; i++ {
		pos[i] = randomPoint(s.Rand, bounds)
		vel[i] = make([]float64, dim)
		for d, b := range bounds {
			span := b.Hi - b.Lo
			vel[i][d] = (s.Rand.Float64()*2 - 1) * span * 0.1
		}
		pbest[i] = append([]float64(nil), pos[i]...)
		pbestScore[i] = tr.score(pos[i])
	}

	done := 0
	for it := 0; it < iters; it++ {
		if err := checkCancel(ctx); err != nil {
			return domain.OptimizeResult{}, err
		}
		for i := 0; i < n; i++ {
			for d := 0; d < dim; d++ {
				r1, r2 := s.Rand.Float64(), s.Rand.Float64()
				vel[i][d] = w*vel[i][d] +
					c1*r1*(pbest[i][d]-pos[i][d]) +
					c2*r2*(tr.bestX[d]-pos[i][d])
				// Velocity clamp keeps particles from tunnelling the domain.
				span := bounds[d].Hi - bounds[d].Lo
				vel[i][d] = math.Max(-span, math.Min(span, vel[i][d]))
				pos[i][d] += vel[i][d]
			}
			clamp(pos[i], bounds)
			if sc := tr.score(pos[i]); sc < pbestScore[i] {
				pbestScore[i] = sc
				copy(pbest[i], pos[i])
			}
		}
		tr.endIteration()
		done = it + 1
	}
	return tr.result(done), nil
}
