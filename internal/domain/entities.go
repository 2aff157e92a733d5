// Package domain defines the core entities, state machine and ports of the
// optimization service.
package domain

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrQueueFull       = errors.New("queue full")
	ErrTerminalState   = errors.New("job already terminal")
	ErrInternal        = errors.New("internal error")
)

// Objective enumerates optimization directions.
const (
	ObjectiveMinimize = "minimize"
	ObjectiveMaximize = "maximize"
)

// Problem type tags for structured problems with auxiliary data.
const (
	ProblemTypeContinuous = "continuous"
	ProblemTypeTSP        = "tsp"
	ProblemTypeKnapsack   = "knapsack"
)

// FitnessUserSupplied marks a problem whose fitness is user-authored source
// text, executed only inside the sandbox.
const FitnessUserSupplied = "user_supplied"

// Bound is one per-dimension [lo, hi] pair with Lo <= Hi.
type Bound struct {
	Lo float64 `json:"lo"`
	Hi float64 `json:"hi"`
}

// City is a TSP node position.
type City struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// KnapsackItem is one weight/value entry for knapsack problems.
type KnapsackItem struct {
	Weight float64 `json:"weight"`
	Value  float64 `json:"value"`
}

// ProblemSpec describes the optimization problem.
// Invariants: Dimensions > 0; len(Bounds) == Dimensions; Bounds[i].Lo <= Bounds[i].Hi;
// Objective in {minimize, maximize}.
type ProblemSpec struct {
	Dimensions      int            `json:"dimensions"`
	Bounds          []Bound        `json:"bounds"`
	Objective       string         `json:"objective"`
	FitnessFunction string         `json:"fitness_function"`
	FitnessSource   string         `json:"fitness_source,omitempty"`
	ProblemType     string         `json:"problem_type,omitempty"`
	Cities          []City         `json:"cities,omitempty"`
	Items           []KnapsackItem `json:"items,omitempty"`
	Capacity        float64        `json:"capacity,omitempty"`
}

// JobSpec is the unit handed to the worker pool: one algorithm on one problem.
type JobSpec struct {
	JobID     string             `json:"job_id"`
	GroupID   string             `json:"group_id"`
	Algorithm string             `json:"algorithm"`
	Problem   ProblemSpec        `json:"problem"`
	Params    map[string]float64 `json:"params,omitempty"`
}

// JobState is the lifecycle state of a job. Transitions are monotonic:
// PENDING -> STARTED -> {SUCCESS | FAILURE}; terminal states never change.
type JobState string

const (
	JobPending JobState = "PENDING"
	JobStarted JobState = "STARTED"
	JobSuccess JobState = "SUCCESS"
	JobFailure JobState = "FAILURE"
)

// Terminal reports whether s is a terminal state.
func (s JobState) Terminal() bool { return s == JobSuccess || s == JobFailure }

// ErrorKind classifies job failures. These values appear both in job records
// and in HTTP error payloads.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindTimeout    ErrorKind = "timeout"
	KindResource   ErrorKind = "resource"
	KindContainer  ErrorKind = "container"
	KindParse      ErrorKind = "parse"
	KindRuntime    ErrorKind = "runtime"
	KindUnknownJob ErrorKind = "unknown_job"
)

// Retryable reports whether a failure of this kind has an environmental cause
// worth retrying. Deterministic user faults (validation, runtime) and
// deadline hits are never retried.
func (k ErrorKind) Retryable() bool { return k == KindContainer || k == KindParse }

// JobError is the bounded structured error recorded on FAILURE.
type JobError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *JobError) Error() string { return string(e.Kind) + ": " + e.Message }

// NewJobError builds a JobError with the message clamped to a bounded size.
func NewJobError(kind ErrorKind, msg string) *JobError {
	const maxMsg = 2048
	if len(msg) > maxMsg {
		msg = msg[:maxMsg]
	}
	return &JobError{Kind: kind, Message: msg}
}

// AsJobError extracts a *JobError from err, wrapping foreign errors under the
// fallback kind.
func AsJobError(err error, fallback ErrorKind) *JobError {
	var je *JobError
	if errors.As(err, &je) {
		return je
	}
	return NewJobError(fallback, err.Error())
}

// OptimizeResult is the uniform record every algorithm produces.
// Invariants: len(BestSolution) == problem dimensions;
// ConvergenceCurve[i+1] is no worse than ConvergenceCurve[i] under the
// objective; IterationsCompleted <= params max_iterations.
type OptimizeResult struct {
	Algorithm           string             `json:"algorithm"`
	BestSolution        []float64          `json:"best_solution"`
	BestFitness         float64            `json:"best_fitness"`
	ConvergenceCurve    []float64          `json:"convergence_curve"`
	IterationsCompleted int                `json:"iterations_completed"`
	ExecutionTime       float64            `json:"execution_time"`
	Params              map[string]float64 `json:"params,omitempty"`
	// Decoded problem-specific payloads (TSP tour, knapsack selection).
	Tour          []int `json:"tour,omitempty"`
	SelectedItems []int `json:"selected_items,omitempty"`
}

// Job is the authoritative record held by the job store.
type Job struct {
	ID          string             `json:"id"`
	GroupID     string             `json:"group_id"`
	Algorithm   string             `json:"algorithm"`
	Problem     ProblemSpec        `json:"problem"`
	Params      map[string]float64 `json:"params,omitempty"`
	State       JobState           `json:"state"`
	Result      *OptimizeResult    `json:"result,omitempty"`
	Error       *JobError          `json:"error,omitempty"`
	SubmittedAt time.Time          `json:"submitted_at"`
	StartedAt   *time.Time         `json:"started_at,omitempty"`
	FinishedAt  *time.Time         `json:"finished_at,omitempty"`
	Attempts    int                `json:"attempts"`
}

// Clone returns a deep copy so store readers never share mutable state with
// the authoritative record.
func (j Job) Clone() Job {
	out := j
	if j.Params != nil {
		out.Params = make(map[string]float64, len(j.Params))
		for k, v := range j.Params {
			out.Params[k] = v
		}
	}
	if j.Result != nil {
		r := *j.Result
		r.BestSolution = append([]float64(nil), j.Result.BestSolution...)
		r.ConvergenceCurve = append([]float64(nil), j.Result.ConvergenceCurve...)
		r.Tour = append([]int(nil), j.Result.Tour...)
		r.SelectedItems = append([]int(nil), j.Result.SelectedItems...)
		out.Result = &r
	}
	if j.Error != nil {
		e := *j.Error
		out.Error = &e
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		out.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		out.FinishedAt = &t
	}
	return out
}

// JobEvent is one change notification delivered to subscribers.
type JobEvent struct {
	Job Job
	// Gone marks the final event delivered when the record is evicted.
	Gone bool
	// Overflow marks a forced disconnect of a slow subscriber.
	Overflow bool
}

// Subscription is a read-only per-id view over the job store's change feed.
// The first event carries the current snapshot; subsequent events follow
// store update order. Cancel releases the subscription; Events is closed
// afterwards.
type Subscription interface {
	Events() <-chan JobEvent
	Cancel()
}

// JobStore (port, C1)

type JobStore interface {
	Create(ctx Context, j Job) error
	// Update applies fn to the current record atomically. fn must not regress
	// a terminal state; the post-image is published to subscribers.
	Update(ctx Context, id string, fn func(*Job) error) (Job, error)
	Get(ctx Context, id string) (Job, error)
	Subscribe(ctx Context, id string) (Subscription, error)
	EvictExpired(ctx Context, now time.Time) int
}

// Queue (port) — bounded submission queue feeding the worker pool.

type Queue interface {
	// Enqueue rejects with ErrQueueFull when at capacity.
	Enqueue(ctx Context, spec JobSpec) error
	// Dequeue blocks until a spec is available or ctx is done.
	Dequeue(ctx Context) (JobSpec, error)
}

// Runner (port, C4) — resolves and executes one algorithm run.

type Runner interface {
	Run(ctx Context, spec JobSpec) (OptimizeResult, error)
}

// SandboxRunner (port, C3) — executes user-supplied fitness source in
// isolation.

type SandboxRunner interface {
	RunUserFitness(ctx Context, source string, spec JobSpec) (OptimizeResult, error)
}

// RetryPolicy mirrors the worker retry knobs parsed from configuration.
type RetryPolicy struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// Context is an alias so the domain package stays decoupled from call sites;
// adapters and usecases pass context.Context through.
type Context = context.Context
