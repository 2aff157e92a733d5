package usecase_test

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kThendral/OptimizeHub-sub000/internal/domain"
	"github.com/kThendral/OptimizeHub-sub000/internal/usecase"
)

type fakeSandbox struct {
	calls    atomic.Int32
	lastSpec domain.JobSpec
	result   domain.OptimizeResult
	err      error
}

func (f *fakeSandbox) RunUserFitness(_ domain.Context, _ string, spec domain.JobSpec) (domain.OptimizeResult, error) {
	f.calls.Add(1)
	f.lastSpec = spec
	return f.result, f.err
}

const goodSource = "def fitness(x):\n    return sum(xi * xi for xi in x)\n"

func customRequest(source string) usecase.CustomRequest {
	return usecase.CustomRequest{
		Algorithm: "particle_swarm",
		Problem: domain.ProblemSpec{
			Dimensions: 3,
			Bounds:     []domain.Bound{{Lo: -5, Hi: 5}, {Lo: -5, Hi: 5}, {Lo: -5, Hi: 5}},
			Objective:  domain.ObjectiveMinimize,
		},
		Params: map[string]float64{"max_iterations": 10},
		Source: source,
	}
}

func TestCustomRun_DelegatesToSandbox(t *testing.T) {
	sb := &fakeSandbox{result: domain.OptimizeResult{BestFitness: 0.01}}
	svc := usecase.NewCustomService(sb)

	res, err := svc.Run(context.Background(), customRequest(goodSource))
	require.NoError(t, err)
	require.Equal(t, 0.01, res.BestFitness)
	require.Equal(t, int32(1), sb.calls.Load())

	spec := sb.lastSpec
	require.Equal(t, domain.FitnessUserSupplied, spec.Problem.FitnessFunction)
	require.Equal(t, goodSource, spec.Problem.FitnessSource)
	require.Equal(t, 10.0, spec.Params["max_iterations"])
	require.NotEmpty(t, spec.JobID)
}

func TestCustomRun_StaticScreenBlocksSandbox(t *testing.T) {
	sb := &fakeSandbox{}
	svc := usecase.NewCustomService(sb)

	_, err := svc.Run(context.Background(), customRequest("import os\n\ndef fitness(x):\n    return 0\n"))
	var je *domain.JobError
	require.ErrorAs(t, err, &je)
	require.Equal(t, domain.KindValidation, je.Kind)
	require.Equal(t, int32(0), sb.calls.Load())
}

func TestCustomRun_EmptySource(t *testing.T) {
	svc := usecase.NewCustomService(&fakeSandbox{})
	_, err := svc.Run(context.Background(), customRequest(""))
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestCustomRun_UnknownAlgorithm(t *testing.T) {
	svc := usecase.NewCustomService(&fakeSandbox{})
	req := customRequest(goodSource)
	req.Algorithm = "bogosort"
	_, err := svc.Run(context.Background(), req)
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestCustomRun_InvalidProblem(t *testing.T) {
	svc := usecase.NewCustomService(&fakeSandbox{})
	req := customRequest(goodSource)
	req.Problem.Bounds = nil
	_, err := svc.Run(context.Background(), req)
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}
