// Package algorithm hosts the metaheuristic catalog and the runner that
// bridges it to the job pipeline.
//
// The catalog is a declarative registry: algorithm name -> factory plus the
// admissible parameter keys and ranges. Resolution never relies on type-name
// patterns.
package algorithm

import (
	"context"
	"fmt"
	"math/rand"
	"sort"

	"github.com/kThendral/OptimizeHub-sub000/internal/domain"
)

// Fitness evaluates one candidate solution.
type Fitness func(x []float64) float64

// Settings is the uniform input contract for every optimizer.
type Settings struct {
	Problem domain.ProblemSpec
	Params  map[string]float64
	Fitness Fitness
	Rand    *rand.Rand
}

// Optimizer is the uniform algorithm contract.
type Optimizer interface {
	Optimize(ctx context.Context, s Settings) (domain.OptimizeResult, error)
}

// ParamSpec declares one admissible parameter with its range and default.
type ParamSpec struct {
	Key     string
	Min     float64
	Max     float64
	Default float64
}

// Descriptor is one catalog entry.
type Descriptor struct {
	Name        string
	DisplayName string
	Params      []ParamSpec
	New         func() Optimizer
}

var registry = map[string]Descriptor{}

func register(d Descriptor) { registry[d.Name] = d }

func init() {
	register(Descriptor{
		Name:        "particle_swarm",
		DisplayName: "Particle Swarm Optimization",
		Params: []ParamSpec{
			{Key: "swarm_size", Min: 5, Max: 200, Default: 30},
			{Key: "max_iterations", Min: 1, Max: 100, Default: 50},
			{Key: "w", Min: 0, Max: 1.2, Default: 0.7},
			{Key: "c1", Min: 0, Max: 4, Default: 1.5},
			{Key: "c2", Min: 0, Max: 4, Default: 1.5},
		},
		New: func() Optimizer { return &ParticleSwarm{} },
	})
	register(Descriptor{
		Name:        "genetic_algorithm",
		DisplayName: "Genetic Algorithm",
		Params: []ParamSpec{
			{Key: "population_size", Min: 5, Max: 200, Default: 50},
			{Key: "max_iterations", Min: 1, Max: 100, Default: 50},
			{Key: "mutation_rate", Min: 0, Max: 1, Default: 0.1},
			{Key: "crossover_rate", Min: 0, Max: 1, Default: 0.8},
		},
		New: func() Optimizer { return &Genetic{} },
	})
	register(Descriptor{
		Name:        "differential_evolution",
		DisplayName: "Differential Evolution",
		Params: []ParamSpec{
			{Key: "population_size", Min: 5, Max: 200, Default: 50},
			{Key: "max_iterations", Min: 1, Max: 100, Default: 50},
			{Key: "differential_weight", Min: 0, Max: 2, Default: 0.8},
			{Key: "crossover_rate", Min: 0, Max: 1, Default: 0.9},
		},
		New: func() Optimizer { return &DifferentialEvolution{} },
	})
	register(Descriptor{
		Name:        "simulated_annealing",
		DisplayName: "Simulated Annealing",
		Params: []ParamSpec{
			{Key: "max_iterations", Min: 1, Max: 100, Default: 50},
			{Key: "initial_temp", Min: 0.001, Max: 1e6, Default: 100},
			{Key: "cooling_rate", Min: 0.01, Max: 0.999, Default: 0.95},
			{Key: "steps_per_temp", Min: 1, Max: 200, Default: 20},
		},
		New: func() Optimizer { return &SimulatedAnnealing{} },
	})
	register(Descriptor{
		Name:        "ant_colony",
		DisplayName: "Ant Colony Optimization (continuous)",
		Params: []ParamSpec{
			{Key: "colony_size", Min: 5, Max: 200, Default: 30},
			{Key: "max_iterations", Min: 1, Max: 100, Default: 50},
			{Key: "archive_size", Min: 5, Max: 100, Default: 10},
			{Key: "q", Min: 0.001, Max: 1, Default: 0.5},
			{Key: "xi", Min: 0.01, Max: 2, Default: 0.85},
		},
		New: func() Optimizer { return &AntColony{} },
	})
}

// Resolve looks up a catalog entry by name.
func Resolve(name string) (Descriptor, error) {
	d, ok := registry[name]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: unknown algorithm %q (known: %v)", domain.ErrInvalidArgument, name, Names())
	}
	return d, nil
}

// Names returns the sorted catalog names.
func Names() []string {
	out := make([]string, 0, len(registry))
	for n := range registry {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// ResolveParams merges defaults with user params and enforces the declared
// ranges. Unknown keys and out-of-range values are validation errors.
func ResolveParams(d Descriptor, in map[string]float64) (map[string]float64, error) {
	out := make(map[string]float64, len(d.Params))
	known := make(map[string]ParamSpec, len(d.Params))
	for _, p := range d.Params {
		out[p.Key] = p.Default
		known[p.Key] = p
	}
	for k, v := range in {
		p, ok := known[k]
		if !ok {
			return nil, fmt.Errorf("%w: %s does not accept parameter %q", domain.ErrInvalidArgument, d.Name, k)
		}
		if v < p.Min || v > p.Max {
			return nil, fmt.Errorf("%w: %s.%s=%g outside [%g, %g]", domain.ErrInvalidArgument, d.Name, k, v, p.Min, p.Max)
		}
		out[k] = v
	}
	return out, nil
}
