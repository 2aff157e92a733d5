package usecase_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/kThendral/OptimizeHub-sub000/internal/adapter/queue/memqueue"
	"github.com/kThendral/OptimizeHub-sub000/internal/adapter/store/memstore"
	"github.com/kThendral/OptimizeHub-sub000/internal/domain"
	"github.com/kThendral/OptimizeHub-sub000/internal/usecase"
)

func sphereProblem() domain.ProblemSpec {
	return domain.ProblemSpec{
		Dimensions:      2,
		Bounds:          []domain.Bound{{Lo: -5, Hi: 5}, {Lo: -5, Hi: 5}},
		Objective:       domain.ObjectiveMinimize,
		FitnessFunction: "sphere",
	}
}

func newSubmitEnv(t *testing.T, queueCap int) (usecase.SubmitService, *memstore.Store, *memqueue.Queue) {
	t.Helper()
	store := memstore.New(time.Hour, 16)
	t.Cleanup(store.Close)
	queue := memqueue.New(queueCap)
	return usecase.NewSubmitService(store, queue), store, queue
}

func TestSubmit_SharedGroupID(t *testing.T) {
	svc, store, queue := newSubmitEnv(t, 8)
	ctx := context.Background()

	out, err := svc.Submit(ctx, usecase.SubmitRequest{
		Algorithms: []string{"particle_swarm", "genetic_algorithm", "ant_colony"},
		Problem:    sphereProblem(),
	})
	require.NoError(t, err)
	require.Len(t, out.TaskIDs, 3)
	_, err = uuid.Parse(out.GroupID)
	require.NoError(t, err, "group id must be a uuid")
	require.Equal(t, 3, queue.Len())

	for _, id := range out.TaskIDs {
		job, err := store.Get(ctx, id)
		require.NoError(t, err)
		require.Equal(t, out.GroupID, job.GroupID)
		require.Equal(t, domain.JobPending, job.State)
		require.NotEmpty(t, job.Params, "defaults must be resolved at submission")
	}
}

func TestSubmit_LegacyFitnessAlias(t *testing.T) {
	svc, store, _ := newSubmitEnv(t, 8)
	problem := sphereProblem()
	problem.FitnessFunction = ""

	out, err := svc.Submit(context.Background(), usecase.SubmitRequest{
		Algorithms:         []string{"particle_swarm"},
		Problem:            problem,
		LegacyFitnessNames: []string{"", "rastrigin"},
	})
	require.NoError(t, err)
	job, err := store.Get(context.Background(), out.TaskIDs[0])
	require.NoError(t, err)
	require.Equal(t, "rastrigin", job.Problem.FitnessFunction)
}

func TestSubmit_RejectsDuplicateAlgorithm(t *testing.T) {
	svc, _, queue := newSubmitEnv(t, 8)
	_, err := svc.Submit(context.Background(), usecase.SubmitRequest{
		Algorithms: []string{"particle_swarm", "particle_swarm"},
		Problem:    sphereProblem(),
	})
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
	require.Equal(t, 0, queue.Len(), "no partial enqueue on validation failure")
}

func TestSubmit_RejectsBadParamsBeforeAnyState(t *testing.T) {
	svc, _, queue := newSubmitEnv(t, 8)
	_, err := svc.Submit(context.Background(), usecase.SubmitRequest{
		Algorithms: []string{"particle_swarm", "genetic_algorithm"},
		Problem:    sphereProblem(),
		Params:     map[string]float64{"mutation_rate": 0.2}, // unknown for PSO
	})
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
	require.Equal(t, 0, queue.Len())
}

func TestSubmit_QueueFullFailsJobTerminally(t *testing.T) {
	svc, store, _ := newSubmitEnv(t, 1)
	ctx := context.Background()

	out, err := svc.Submit(ctx, usecase.SubmitRequest{
		Algorithms: []string{"particle_swarm", "genetic_algorithm"},
		Problem:    sphereProblem(),
	})
	require.ErrorIs(t, err, domain.ErrQueueFull)
	require.Len(t, out.TaskIDs, 2, "both ids were minted")

	accepted, err := store.Get(ctx, out.TaskIDs[0])
	require.NoError(t, err)
	require.Equal(t, domain.JobPending, accepted.State)

	// The overflowed job is a terminal FAILURE, not an eternally PENDING
	// record.
	rejected, err := store.Get(ctx, out.TaskIDs[1])
	require.NoError(t, err)
	require.Equal(t, domain.JobFailure, rejected.State)
	require.Equal(t, domain.KindValidation, rejected.Error.Kind)
	require.NotNil(t, rejected.FinishedAt)
}

func TestSubmit_TSPProblemNormalized(t *testing.T) {
	svc, store, _ := newSubmitEnv(t, 8)
	out, err := svc.Submit(context.Background(), usecase.SubmitRequest{
		Algorithms: []string{"genetic_algorithm"},
		Problem: domain.ProblemSpec{
			ProblemType: domain.ProblemTypeTSP,
			Cities:      []domain.City{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 0, Y: 1}},
		},
	})
	require.NoError(t, err)
	job, err := store.Get(context.Background(), out.TaskIDs[0])
	require.NoError(t, err)
	require.Equal(t, 3, job.Problem.Dimensions)
	require.Equal(t, domain.ObjectiveMinimize, job.Problem.Objective)
	require.Len(t, job.Problem.Bounds, 3)
}
