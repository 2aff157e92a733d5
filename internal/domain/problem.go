package domain

import "fmt"

// NormalizeProblem applies the single boundary renaming pass for historical
// field-name drift and fills canonical values for typed problems. After this
// call the problem carries fitness_function exclusively.
func NormalizeProblem(p ProblemSpec, legacyNames ...string) ProblemSpec {
	if p.FitnessFunction == "" {
		for _, n := range legacyNames {
			if n != "" {
				p.FitnessFunction = n
				break
			}
		}
	}
	if p.Objective == "" {
		p.Objective = ObjectiveMinimize
	}
	switch p.ProblemType {
	case ProblemTypeTSP:
		// Canonical encoding: one continuous key per city, decoded to a tour.
		p.Objective = ObjectiveMinimize
		p.Dimensions = len(p.Cities)
		p.Bounds = uniformBounds(p.Dimensions, 0, 1)
		p.FitnessFunction = ProblemTypeTSP
	case ProblemTypeKnapsack:
		p.Objective = ObjectiveMaximize
		p.Dimensions = len(p.Items)
		p.Bounds = uniformBounds(p.Dimensions, 0, 1)
		p.FitnessFunction = ProblemTypeKnapsack
	}
	return p
}

func uniformBounds(n int, lo, hi float64) []Bound {
	bs := make([]Bound, n)
	for i := range bs {
		bs[i] = Bound{Lo: lo, Hi: hi}
	}
	return bs
}

// ValidateProblem checks the structural invariants of a normalized problem.
func ValidateProblem(p ProblemSpec) error {
	if p.Dimensions <= 0 {
		return fmt.Errorf("%w: dimensions must be positive", ErrInvalidArgument)
	}
	if len(p.Bounds) != p.Dimensions {
		return fmt.Errorf("%w: bounds must have one [lo,hi] pair per dimension (got %d, want %d)", ErrInvalidArgument, len(p.Bounds), p.Dimensions)
	}
	for i, b := range p.Bounds {
		if b.Lo > b.Hi {
			return fmt.Errorf("%w: bounds[%d] lo %g > hi %g", ErrInvalidArgument, i, b.Lo, b.Hi)
		}
	}
	if p.Objective != ObjectiveMinimize && p.Objective != ObjectiveMaximize {
		return fmt.Errorf("%w: objective must be minimize or maximize", ErrInvalidArgument)
	}
	switch p.ProblemType {
	case "", ProblemTypeContinuous:
		if p.FitnessFunction == "" {
			return fmt.Errorf("%w: fitness_function required", ErrInvalidArgument)
		}
		if p.FitnessFunction == FitnessUserSupplied && p.FitnessSource == "" {
			return fmt.Errorf("%w: fitness_source required for user_supplied fitness", ErrInvalidArgument)
		}
	case ProblemTypeTSP:
		if len(p.Cities) < 2 {
			return fmt.Errorf("%w: tsp requires at least 2 cities", ErrInvalidArgument)
		}
	case ProblemTypeKnapsack:
		if len(p.Items) == 0 {
			return fmt.Errorf("%w: knapsack requires items", ErrInvalidArgument)
		}
		if p.Capacity <= 0 {
			return fmt.Errorf("%w: knapsack capacity must be positive", ErrInvalidArgument)
		}
	default:
		return fmt.Errorf("%w: unknown problem_type %q", ErrInvalidArgument, p.ProblemType)
	}
	return nil
}

// Better reports whether a improves on b under the objective.
func Better(objective string, a, b float64) bool {
	if objective == ObjectiveMaximize {
		return a > b
	}
	return a < b
}
