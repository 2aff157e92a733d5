package algorithm_test

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kThendral/OptimizeHub-sub000/internal/algorithm"
	"github.com/kThendral/OptimizeHub-sub000/internal/domain"
)

func sphereSettings(t *testing.T, name string) algorithm.Settings {
	t.Helper()
	d, err := algorithm.Resolve(name)
	require.NoError(t, err)
	params, err := algorithm.ResolveParams(d, map[string]float64{"max_iterations": 50})
	require.NoError(t, err)
	fitness, err := algorithm.ResolveBenchmark("sphere")
	require.NoError(t, err)
	return algorithm.Settings{
		Problem: domain.ProblemSpec{
			Dimensions: 2,
			Bounds:     []domain.Bound{{Lo: -5, Hi: 5}, {Lo: -5, Hi: 5}},
			Objective:  domain.ObjectiveMinimize,
		},
		Params:  params,
		Fitness: fitness,
		Rand:    rand.New(rand.NewSource(42)),
	}
}

// requireMonotone asserts the convergence curve never worsens under the
// objective.
func requireMonotone(t *testing.T, curve []float64, maximize bool) {
	t.Helper()
	for i := 1; i < len(curve); i++ {
		if maximize {
			require.GreaterOrEqual(t, curve[i], curve[i-1], "curve regressed at %d", i)
		} else {
			require.LessOrEqual(t, curve[i], curve[i-1], "curve regressed at %d", i)
		}
	}
}

func TestOptimizers_ConvergeOnSphere(t *testing.T) {
	for _, name := range algorithm.Names() {
		name := name
		t.Run(name, func(t *testing.T) {
			d, err := algorithm.Resolve(name)
			require.NoError(t, err)
			s := sphereSettings(t, name)
			res, err := d.New().Optimize(context.Background(), s)
			require.NoError(t, err)

			require.Len(t, res.BestSolution, 2)
			require.LessOrEqual(t, res.IterationsCompleted, 50)
			require.Len(t, res.ConvergenceCurve, res.IterationsCompleted)
			requireMonotone(t, res.ConvergenceCurve, false)
			// Every kernel should get within sight of the optimum on a
			// 2-dimensional sphere in 50 iterations.
			require.Less(t, res.BestFitness, 1.0)
			for _, v := range res.BestSolution {
				require.GreaterOrEqual(t, v, -5.0)
				require.LessOrEqual(t, v, 5.0)
			}
		})
	}
}

func TestParticleSwarm_ReachesSphereOptimum(t *testing.T) {
	d, err := algorithm.Resolve("particle_swarm")
	require.NoError(t, err)
	s := sphereSettings(t, "particle_swarm")
	res, err := d.New().Optimize(context.Background(), s)
	require.NoError(t, err)
	require.Less(t, res.BestFitness, 1e-2)
	require.Equal(t, 50, res.IterationsCompleted)
}

func TestOptimize_MaximizeObjective(t *testing.T) {
	d, err := algorithm.Resolve("genetic_algorithm")
	require.NoError(t, err)
	params, err := algorithm.ResolveParams(d, nil)
	require.NoError(t, err)
	// Concave with maximum 10 at the origin.
	fitness := func(x []float64) float64 {
		sum := 10.0
		for _, v := range x {
			sum -= v * v
		}
		return sum
	}
	res, err := d.New().Optimize(context.Background(), algorithm.Settings{
		Problem: domain.ProblemSpec{
			Dimensions: 2,
			Bounds:     []domain.Bound{{Lo: -3, Hi: 3}, {Lo: -3, Hi: 3}},
			Objective:  domain.ObjectiveMaximize,
		},
		Params:  params,
		Fitness: fitness,
		Rand:    rand.New(rand.NewSource(7)),
	})
	require.NoError(t, err)
	require.Greater(t, res.BestFitness, 9.0)
	requireMonotone(t, res.ConvergenceCurve, true)
}

func TestOptimize_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for _, name := range algorithm.Names() {
		name := name
		t.Run(name, func(t *testing.T) {
			d, err := algorithm.Resolve(name)
			require.NoError(t, err)
			_, err = d.New().Optimize(ctx, sphereSettings(t, name))
			require.ErrorIs(t, err, context.Canceled)
		})
	}
}

func TestResolve_UnknownAlgorithm(t *testing.T) {
	_, err := algorithm.Resolve("hill_climbing")
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestResolveParams_DefaultsAndOverrides(t *testing.T) {
	d, err := algorithm.Resolve("particle_swarm")
	require.NoError(t, err)

	params, err := algorithm.ResolveParams(d, map[string]float64{"swarm_size": 10})
	require.NoError(t, err)
	require.Equal(t, 10.0, params["swarm_size"])
	require.Equal(t, 50.0, params["max_iterations"]) // default preserved
	require.Equal(t, 0.7, params["w"])
}

func TestResolveParams_RejectsUnknownKey(t *testing.T) {
	d, err := algorithm.Resolve("particle_swarm")
	require.NoError(t, err)
	_, err = algorithm.ResolveParams(d, map[string]float64{"temperature": 1})
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestResolveParams_RejectsOutOfRange(t *testing.T) {
	d, err := algorithm.Resolve("particle_swarm")
	require.NoError(t, err)
	_, err = algorithm.ResolveParams(d, map[string]float64{"max_iterations": 1000})
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestResolveBenchmark_Unknown(t *testing.T) {
	_, err := algorithm.ResolveBenchmark("himmelblau")
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestBenchmarks_KnownOptima(t *testing.T) {
	cases := []struct {
		name string
		at   []float64
	}{
		{"sphere", []float64{0, 0, 0}},
		{"rastrigin", []float64{0, 0, 0}},
		{"rosenbrock", []float64{1, 1, 1}},
		{"ackley", []float64{0, 0, 0}},
		{"griewank", []float64{0, 0, 0}},
	}
	for _, tc := range cases {
		fn, err := algorithm.ResolveBenchmark(tc.name)
		require.NoError(t, err)
		require.InDelta(t, 0, fn(tc.at), 1e-9, tc.name)
	}
}

func TestTSPFitness_SquareTour(t *testing.T) {
	cities := []domain.City{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}, {X: 0, Y: 1}}
	fn := algorithm.TSPFitness(cities)
	// Keys in increasing order visit the square's perimeter: length 4.
	require.InDelta(t, 4.0, fn([]float64{0.1, 0.2, 0.3, 0.4}), 1e-9)
	// A crossing tour is strictly longer.
	require.Greater(t, fn([]float64{0.1, 0.3, 0.2, 0.4}), 4.0)
}

func TestKnapsackFitness_PenalizesOverweight(t *testing.T) {
	items := []domain.KnapsackItem{
		{Weight: 2, Value: 3},
		{Weight: 3, Value: 4},
		{Weight: 4, Value: 8},
	}
	fn := algorithm.KnapsackFitness(items, 5)

	// Items 0 and 2: weight 6 > 5, penalized below any feasible value.
	require.Less(t, fn([]float64{0.9, 0.1, 0.9}), 0.0)
	// Items 1 and 0: weight 5 == capacity, value 7.
	require.InDelta(t, 7.0, fn([]float64{0.9, 0.9, 0.1}), 1e-9)
	// Empty selection is feasible with value 0.
	require.InDelta(t, 0.0, fn([]float64{0.1, 0.1, 0.1}), 1e-9)
}

func TestRunner_BenchmarkJob(t *testing.T) {
	r := algorithm.NewRunner(nil)
	res, err := r.Run(context.Background(), domain.JobSpec{
		JobID:     "j1",
		Algorithm: "particle_swarm",
		Problem: domain.ProblemSpec{
			Dimensions:      2,
			Bounds:          []domain.Bound{{Lo: -5, Hi: 5}, {Lo: -5, Hi: 5}},
			Objective:       domain.ObjectiveMinimize,
			FitnessFunction: "sphere",
		},
	})
	require.NoError(t, err)
	require.Equal(t, "Particle Swarm Optimization", res.Algorithm)
	require.Less(t, res.BestFitness, 1e-2)
	require.NotEmpty(t, res.Params)
	require.GreaterOrEqual(t, res.ExecutionTime, 0.0)
}

func TestRunner_UnknownAlgorithmIsValidationKind(t *testing.T) {
	r := algorithm.NewRunner(nil)
	_, err := r.Run(context.Background(), domain.JobSpec{
		JobID:     "j1",
		Algorithm: "gradient_descent",
		Problem: domain.ProblemSpec{
			Dimensions:      1,
			Bounds:          []domain.Bound{{Lo: -1, Hi: 1}},
			Objective:       domain.ObjectiveMinimize,
			FitnessFunction: "sphere",
		},
	})
	var je *domain.JobError
	require.ErrorAs(t, err, &je)
	require.Equal(t, domain.KindValidation, je.Kind)
}

func TestRunner_UserFitnessWithoutSandbox(t *testing.T) {
	r := algorithm.NewRunner(nil)
	_, err := r.Run(context.Background(), domain.JobSpec{
		JobID:     "j1",
		Algorithm: "particle_swarm",
		Problem: domain.ProblemSpec{
			Dimensions:      1,
			Bounds:          []domain.Bound{{Lo: -1, Hi: 1}},
			Objective:       domain.ObjectiveMinimize,
			FitnessFunction: domain.FitnessUserSupplied,
			FitnessSource:   "def fitness(x):\n    return 0\n",
		},
	})
	var je *domain.JobError
	require.ErrorAs(t, err, &je)
	require.Equal(t, domain.KindContainer, je.Kind)
}

func TestRunner_TSPDecoratesTour(t *testing.T) {
	problem := domain.NormalizeProblem(domain.ProblemSpec{
		ProblemType: domain.ProblemTypeTSP,
		Cities: []domain.City{
			{X: 0, Y: 0}, {X: 3, Y: 0}, {X: 3, Y: 3}, {X: 0, Y: 3},
		},
	})
	r := algorithm.NewRunner(nil)
	res, err := r.Run(context.Background(), domain.JobSpec{
		JobID:     "j1",
		Algorithm: "genetic_algorithm",
		Problem:   problem,
	})
	require.NoError(t, err)
	require.Len(t, res.Tour, 4)
	seen := map[int]bool{}
	for _, c := range res.Tour {
		seen[c] = true
	}
	require.Len(t, seen, 4, "tour must be a permutation")
	// The optimal rectangle tour has length 12; the decoded best tour's
	// fitness matches the reported best fitness.
	require.InDelta(t, res.BestFitness, algorithm.TSPFitness(problem.Cities)(res.BestSolution), 1e-9)
	require.GreaterOrEqual(t, res.BestFitness, 12.0-1e-9)
}

func TestRunner_KnapsackDecoratesSelection(t *testing.T) {
	problem := domain.NormalizeProblem(domain.ProblemSpec{
		ProblemType: domain.ProblemTypeKnapsack,
		Items: []domain.KnapsackItem{
			{Weight: 1, Value: 6}, {Weight: 2, Value: 10}, {Weight: 3, Value: 12},
		},
		Capacity: 5,
	})
	r := algorithm.NewRunner(nil)
	res, err := r.Run(context.Background(), domain.JobSpec{
		JobID:     "j1",
		Algorithm: "differential_evolution",
		Problem:   problem,
	})
	require.NoError(t, err)
	weight := 0.0
	for _, i := range res.SelectedItems {
		weight += problem.Items[i].Weight
	}
	require.LessOrEqual(t, weight, 5.0)
	require.Greater(t, res.BestFitness, 0.0)
}

func TestConvergenceCurve_NeverExceedsMaxIterations(t *testing.T) {
	d, err := algorithm.Resolve("simulated_annealing")
	require.NoError(t, err)
	s := sphereSettings(t, "simulated_annealing")
	s.Params["max_iterations"] = 5
	res, err := d.New().Optimize(context.Background(), s)
	require.NoError(t, err)
	require.LessOrEqual(t, res.IterationsCompleted, 5)
	require.LessOrEqual(t, len(res.ConvergenceCurve), 5)
	require.False(t, math.IsNaN(res.BestFitness))
}
