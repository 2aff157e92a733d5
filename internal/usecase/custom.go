package usecase

import (
	"fmt"

	"github.com/kThendral/OptimizeHub-sub000/internal/algorithm"
	"github.com/kThendral/OptimizeHub-sub000/internal/domain"
	"github.com/kThendral/OptimizeHub-sub000/internal/sandbox"
)

// CustomRequest is one synchronous run of user-authored fitness source.
type CustomRequest struct {
	Algorithm string
	Problem   domain.ProblemSpec
	Params    map[string]float64
	Source    string
}

// CustomService runs user-supplied fitness code through the sandbox,
// synchronously, without touching the job store.
type CustomService struct {
	Sandbox domain.SandboxRunner
}

// NewCustomService constructs a CustomService.
func NewCustomService(sandbox domain.SandboxRunner) CustomService {
	return CustomService{Sandbox: sandbox}
}

// Run validates the request and executes it in the sandbox. The source is
// statically screened here, at the boundary, so a rejected submission never
// reaches a container.
func (s CustomService) Run(ctx domain.Context, req CustomRequest) (domain.OptimizeResult, error) {
	if req.Source == "" {
		return domain.OptimizeResult{}, fmt.Errorf("%w: fitness source required", domain.ErrInvalidArgument)
	}
	if err := sandbox.Validate(req.Source); err != nil {
		return domain.OptimizeResult{}, err
	}
	desc, err := algorithm.Resolve(req.Algorithm)
	if err != nil {
		return domain.OptimizeResult{}, err
	}
	params, err := algorithm.ResolveParams(desc, req.Params)
	if err != nil {
		return domain.OptimizeResult{}, err
	}

	problem := req.Problem
	problem.FitnessFunction = domain.FitnessUserSupplied
	problem.FitnessSource = req.Source
	problem = domain.NormalizeProblem(problem)
	if err := domain.ValidateProblem(problem); err != nil {
		return domain.OptimizeResult{}, err
	}

	spec := domain.JobSpec{
		JobID:     newJobID(),
		Algorithm: req.Algorithm,
		Problem:   problem,
		Params:    params,
	}
	return s.Sandbox.RunUserFitness(ctx, req.Source, spec)
}
