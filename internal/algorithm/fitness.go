package algorithm

import (
	"fmt"
	"math"
	"sort"

	"github.com/kThendral/OptimizeHub-sub000/internal/domain"
)

// Benchmark fitness catalog. All are minimization problems with optimum 0 at
// the origin (rosenbrock: at the ones vector).
var benchmarks = map[string]Fitness{
	"sphere": func(x []float64) float64 {
		sum := 0.0
		for _, v := range x {
			sum += v * v
		}
		return sum
	},
	"rastrigin": func(x []float64) float64 {
		sum := 10.0 * float64(len(x))
		for _, v := range x {
			sum += v*v - 10*math.Cos(2*math.Pi*v)
		}
		return sum
	},
	"rosenbrock": func(x []float64) float64 {
		sum := 0.0
		for i := 0; i < len(x)-1; i++ {
			sum += 100*math.Pow(x[i+1]-x[i]*x[i], 2) + math.Pow(1-x[i], 2)
		}
		return sum
	},
	"ackley": func(x []float64) float64 {
		n := float64(len(x))
		sq, cs := 0.0, 0.0
		for _, v := range x {
			sq += v * v
			cs += math.Cos(2 * math.Pi * v)
		}
		return -20*math.Exp(-0.2*math.Sqrt(sq/n)) - math.Exp(cs/n) + 20 + math.E
	},
	"griewank": func(x []float64) float64 {
		sum, prod := 0.0, 1.0
		for i, v := range x {
			sum += v * v / 4000
			prod *= math.Cos(v / math.Sqrt(float64(i+1)))
		}
		return sum - prod + 1
	},
}

// BenchmarkNames returns the sorted benchmark fitness names.
func BenchmarkNames() []string {
	out := make([]string, 0, len(benchmarks))
	for n := range benchmarks {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// ResolveBenchmark looks up a built-in fitness by name.
func ResolveBenchmark(name string) (Fitness, error) {
	fn, ok := benchmarks[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown fitness function %q (known: %v)", domain.ErrInvalidArgument, name, BenchmarkNames())
	}
	return fn, nil
}

// decodeTour converts continuous sort keys into a city permutation.
func decodeTour(keys []float64) []int {
	order := make([]int, len(keys))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return keys[order[a]] < keys[order[b]] })
	return order
}

// TSPFitness builds the cyclic tour-length fitness over continuous keys.
func TSPFitness(cities []domain.City) Fitness {
	return func(x []float64) float64 {
		tour := decodeTour(x)
		total := 0.0
		for i := range tour {
			a := cities[tour[i]]
			b := cities[tour[(i+1)%len(tour)]]
			total += math.Hypot(a.X-b.X, a.Y-b.Y)
		}
		return total
	}
}

// decodeSelection thresholds continuous genes into picked item indices.
func decodeSelection(x []float64) []int {
	var picked []int
	for i, v := range x {
		if v > 0.5 {
			picked = append(picked, i)
		}
	}
	return picked
}

// KnapsackFitness builds the total-value fitness with a linear penalty for
// exceeding capacity, so infeasible selections are strictly dominated.
func KnapsackFitness(items []domain.KnapsackItem, capacity float64) Fitness {
	return func(x []float64) float64 {
		weight, value := 0.0, 0.0
		for _, i := range decodeSelection(x) {
			weight += items[i].Weight
			value += items[i].Value
		}
		if weight > capacity {
			return capacity - weight
		}
		return value
	}
}
