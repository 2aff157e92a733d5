package algorithm

import (
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/kThendral/OptimizeHub-sub000/internal/domain"
	"github.com/kThendral/OptimizeHub-sub000/internal/observability"
)

// Runner bridges the algorithm catalog to the job pipeline. Catalog or
// parameter failures surface as validation errors; algorithm failures as
// runtime errors; user-supplied fitness delegates wholly to the sandbox.
type Runner struct {
	Sandbox domain.SandboxRunner
}

// NewRunner constructs a Runner. sandbox may be nil, in which case
// user-supplied fitness jobs fail with a container error.
func NewRunner(sandbox domain.SandboxRunner) *Runner {
	return &Runner{Sandbox: sandbox}
}

// Run executes one algorithm on one problem and returns the result record.
func (r *Runner) Run(ctx domain.Context, spec domain.JobSpec) (res domain.OptimizeResult, err error) {
	lg := observability.LoggerFromContext(ctx).With(
		slog.String("job_id", spec.JobID),
		slog.String("algorithm", spec.Algorithm),
	)

	if spec.Problem.FitnessFunction == domain.FitnessUserSupplied {
		if r.Sandbox == nil {
			return domain.OptimizeResult{}, domain.NewJobError(domain.KindContainer, "sandbox executor not configured")
		}
		lg.Info("delegating user fitness to sandbox")
		return r.Sandbox.RunUserFitness(ctx, spec.Problem.FitnessSource, spec)
	}

	d, rerr := Resolve(spec.Algorithm)
	if rerr != nil {
		return domain.OptimizeResult{}, domain.NewJobError(domain.KindValidation, rerr.Error())
	}
	params, perr := ResolveParams(d, spec.Params)
	if perr != nil {
		return domain.OptimizeResult{}, domain.NewJobError(domain.KindValidation, perr.Error())
	}
	fitness, ferr := r.buildFitness(spec.Problem)
	if ferr != nil {
		return domain.OptimizeResult{}, domain.NewJobError(domain.KindValidation, ferr.Error())
	}

	// Algorithm panics become structured runtime failures, not crashed workers.
	defer func() {
		if rec := recover(); rec != nil {
			lg.Error("algorithm panicked", slog.Any("recover", rec))
			err = domain.NewJobError(domain.KindRuntime, fmt.Sprintf("algorithm panic: %v", rec))
		}
	}()

	start := time.Now()
	settings := Settings{
		Problem: spec.Problem,
		Params:  params,
		Fitness: fitness,
		Rand:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	res, err = d.New().Optimize(ctx, settings)
	if err != nil {
		if ctx.Err() != nil {
			// Deadline classification happens in the worker.
			return domain.OptimizeResult{}, err
		}
		return domain.OptimizeResult{}, domain.AsJobError(err, domain.KindRuntime)
	}

	res.Algorithm = d.DisplayName
	res.Params = params
	res.ExecutionTime = time.Since(start).Seconds()
	decorateProblemResult(&res, spec.Problem)
	lg.Info("algorithm run completed",
		slog.Float64("best_fitness", res.BestFitness),
		slog.Int("iterations", res.IterationsCompleted),
		slog.Float64("execution_time", res.ExecutionTime))
	return res, nil
}

func (r *Runner) buildFitness(p domain.ProblemSpec) (Fitness, error) {
	switch p.ProblemType {
	case domain.ProblemTypeTSP:
		return TSPFitness(p.Cities), nil
	case domain.ProblemTypeKnapsack:
		return KnapsackFitness(p.Items, p.Capacity), nil
	default:
		return ResolveBenchmark(p.FitnessFunction)
	}
}

// decorateProblemResult attaches the problem-specific decoded payloads.
func decorateProblemResult(res *domain.OptimizeResult, p domain.ProblemSpec) {
	switch p.ProblemType {
	case domain.ProblemTypeTSP:
		res.Tour = decodeTour(res.BestSolution)
	case domain.ProblemTypeKnapsack:
		res.SelectedItems = decodeSelection(res.BestSolution)
	}
}
