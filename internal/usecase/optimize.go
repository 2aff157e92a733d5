// Package usecase wires the HTTP surface to the job store, queue and
// sandbox without knowing about either transport or containers.
package usecase

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/kThendral/OptimizeHub-sub000/internal/adapter/observability"
	"github.com/kThendral/OptimizeHub-sub000/internal/algorithm"
	"github.com/kThendral/OptimizeHub-sub000/internal/domain"
)

var (
	idMu      sync.Mutex
	idEntropy = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0) //nolint:gosec // Weak random is sufficient for ULID entropy.
)

func newJobID() string {
	idMu.Lock()
	defer idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), idEntropy).String()
}

// SubmitRequest is one async submission: k algorithms fanned out over a
// single problem, sharing one parameter override map.
type SubmitRequest struct {
	Algorithms []string
	Problem    domain.ProblemSpec
	Params     map[string]float64
	// LegacyFitnessNames carries historical aliases of fitness_function seen
	// at the transport boundary; normalization consumes them here, once.
	LegacyFitnessNames []string
}

// SubmitResult reports the ids minted for an accepted submission.
type SubmitResult struct {
	GroupID string
	TaskIDs []string
}

// SubmitService validates submissions and fans them out as queued jobs.
type SubmitService struct {
	Store domain.JobStore
	Queue domain.Queue
}

// NewSubmitService constructs a SubmitService.
func NewSubmitService(store domain.JobStore, queue domain.Queue) SubmitService {
	return SubmitService{Store: store, Queue: queue}
}

// Submit validates the request fully before touching any state, then mints
// one PENDING job per algorithm under a shared group id and enqueues them.
// A full queue fails the affected job terminally and surfaces ErrQueueFull;
// siblings already enqueued keep running.
func (s SubmitService) Submit(ctx domain.Context, req SubmitRequest) (SubmitResult, error) {
	if len(req.Algorithms) == 0 {
		return SubmitResult{}, fmt.Errorf("%w: at least one algorithm required", domain.ErrInvalidArgument)
	}
	problem := domain.NormalizeProblem(req.Problem, req.LegacyFitnessNames...)
	if err := domain.ValidateProblem(problem); err != nil {
		return SubmitResult{}, err
	}

	type resolved struct {
		name   string
		params map[string]float64
	}
	plans := make([]resolved, 0, len(req.Algorithms))
	seen := make(map[string]bool, len(req.Algorithms))
	for _, name := range req.Algorithms {
		if seen[name] {
			return SubmitResult{}, fmt.Errorf("%w: duplicate algorithm %q", domain.ErrInvalidArgument, name)
		}
		seen[name] = true
		desc, err := algorithm.Resolve(name)
		if err != nil {
			return SubmitResult{}, err
		}
		params, err := algorithm.ResolveParams(desc, req.Params)
		if err != nil {
			return SubmitResult{}, err
		}
		plans = append(plans, resolved{name: name, params: params})
	}

	groupID := uuid.NewString()
	out := SubmitResult{GroupID: groupID, TaskIDs: make([]string, 0, len(plans))}
	for _, plan := range plans {
		spec := domain.JobSpec{
			JobID:     newJobID(),
			GroupID:   groupID,
			Algorithm: plan.name,
			Problem:   problem,
			Params:    plan.params,
		}
		job := domain.Job{
			ID:          spec.JobID,
			GroupID:     groupID,
			Algorithm:   plan.name,
			Problem:     problem,
			Params:      plan.params,
			State:       domain.JobPending,
			SubmittedAt: time.Now().UTC(),
		}
		if err := s.Store.Create(ctx, job); err != nil {
			return out, err
		}
		out.TaskIDs = append(out.TaskIDs, spec.JobID)
		if err := s.Queue.Enqueue(ctx, spec); err != nil {
			s.failUnqueued(ctx, spec.JobID, err)
			return out, err
		}
		observability.EnqueueJob(plan.name)
	}
	return out, nil
}

// failUnqueued closes out a job record whose spec never reached the queue,
// so pollers see a terminal FAILURE rather than an eternal PENDING.
func (s SubmitService) failUnqueued(ctx domain.Context, id string, cause error) {
	_, _ = s.Store.Update(ctx, id, func(j *domain.Job) error {
		now := time.Now().UTC()
		j.State = domain.JobFailure
		j.Error = domain.NewJobError(domain.KindValidation, fmt.Sprintf("job rejected: %v", cause))
		j.FinishedAt = &now
		return nil
	})
}
