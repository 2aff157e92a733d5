// Package worker drains the job queue with a bounded pool of goroutines.
// Each job runs under a soft deadline that triggers cooperative cancellation
// and a hard deadline that bounds retries; transient failure kinds are
// retried with exponential backoff, everything else fails fast.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/kThendral/OptimizeHub-sub000/internal/adapter/observability"
	"github.com/kThendral/OptimizeHub-sub000/internal/domain"
)

// Pool owns the worker goroutines. Start launches them; Wait blocks until
// every in-flight job has reached a terminal state after the context ends.
type Pool struct {
	store  domain.JobStore
	queue  domain.Queue
	runner domain.Runner

	size        int
	hardTimeout time.Duration
	softTimeout time.Duration
	retry       domain.RetryPolicy

	wg sync.WaitGroup
}

// New assembles a pool; it does not start any goroutine.
func New(store domain.JobStore, queue domain.Queue, runner domain.Runner, size int, hardTimeout, softTimeout time.Duration, retry domain.RetryPolicy) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		store:       store,
		queue:       queue,
		runner:      runner,
		size:        size,
		hardTimeout: hardTimeout,
		softTimeout: softTimeout,
		retry:       retry,
	}
}

// Start launches the workers. They exit once ctx is done and the queue
// hand-off unblocks; jobs already dequeued run to a terminal state.
func (p *Pool) Start(ctx context.Context) {
	slog.Info("starting worker pool", slog.Int("size", p.size))
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			p.loop(ctx, id)
		}(i)
	}
}

// Wait blocks until all workers have returned.
func (p *Pool) Wait() { p.wg.Wait() }

func (p *Pool) loop(ctx context.Context, id int) {
	log := slog.Default().With(slog.Int("worker", id))
	for {
		spec, err := p.queue.Dequeue(ctx)
		if err != nil {
			log.Info("worker stopping", slog.Any("reason", context.Cause(ctx)))
			return
		}
		p.process(ctx, log, spec)
	}
}

// process drives one dequeued job from STARTED to a terminal state. A spec
// is handed to exactly one worker, so the job body executes at most once
// per attempt.
func (p *Pool) process(ctx context.Context, log *slog.Logger, spec domain.JobSpec) {
	log = log.With(slog.String("job_id", spec.JobID), slog.String("algorithm", spec.Algorithm))
	start := time.Now()

	if _, err := p.store.Update(ctx, spec.JobID, func(j *domain.Job) error {
		now := time.Now().UTC()
		j.State = domain.JobStarted
		j.StartedAt = &now
		return nil
	}); err != nil {
		// Evicted or already terminal; nothing left to run.
		log.Warn("job not startable", slog.Any("error", err))
		return
	}
	observability.StartJob()

	// The hard deadline bounds the attempt plus all retries. Workers keep
	// draining during shutdown, so the run context is detached from ctx and
	// the job finishes on its own clock.
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.hardTimeout)
	defer cancel()

	result, attempts, err := p.runWithRetry(runCtx, log, spec)

	if err != nil {
		jerr := classify(runCtx, err)
		log.Error("job failed",
			slog.String("kind", string(jerr.Kind)),
			slog.String("message", jerr.Message),
			slog.Int("attempts", attempts))
		p.finish(spec, func(j *domain.Job) error {
			now := time.Now().UTC()
			j.State = domain.JobFailure
			j.Error = jerr
			j.FinishedAt = &now
			j.Attempts = attempts
			return nil
		})
		observability.FailJob(spec.Algorithm, string(jerr.Kind), time.Since(start))
		return
	}

	log.Info("job succeeded",
		slog.Float64("best_fitness", result.BestFitness),
		slog.Int("iterations", result.IterationsCompleted),
		slog.Int("attempts", attempts))
	p.finish(spec, func(j *domain.Job) error {
		now := time.Now().UTC()
		j.State = domain.JobSuccess
		j.Result = &result
		j.FinishedAt = &now
		j.Attempts = attempts
		return nil
	})
	observability.CompleteJob(spec.Algorithm, time.Since(start))
}

// runWithRetry executes the job under the soft deadline, retrying only the
// transient failure kinds with exponential backoff inside the hard deadline.
func (p *Pool) runWithRetry(runCtx context.Context, log *slog.Logger, spec domain.JobSpec) (domain.OptimizeResult, int, error) {
	var result domain.OptimizeResult
	attempts := 0

	op := func() error {
		attempts++
		attemptCtx, cancel := context.WithTimeout(runCtx, p.softTimeout)
		defer cancel()

		res, err := p.runner.Run(attemptCtx, spec)
		if err == nil {
			result = res
			return nil
		}
		if jerr := new(domain.JobError); errors.As(err, &jerr) && jerr.Kind.Retryable() {
			log.Warn("transient job failure, will retry",
				slog.String("kind", string(jerr.Kind)),
				slog.Int("attempt", attempts))
			return err
		}
		return backoff.Permanent(err)
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = p.retry.InitialDelay
	expo.MaxInterval = p.retry.MaxDelay
	expo.Multiplier = p.retry.Multiplier
	expo.MaxElapsedTime = 0

	bo := backoff.WithContext(backoff.WithMaxRetries(expo, uint64(p.retry.MaxRetries)), runCtx)
	err := backoff.Retry(op, bo)
	return result, attempts, err
}

// finish writes the terminal record. The store refuses to regress a
// terminal state, so a lost race (eviction, duplicate delivery) only logs.
func (p *Pool) finish(spec domain.JobSpec, fn func(*domain.Job) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := p.store.Update(ctx, spec.JobID, fn); err != nil {
		slog.Warn("terminal job update failed",
			slog.String("job_id", spec.JobID),
			slog.Any("error", err))
	}
}

// classify maps a run error onto the failure taxonomy. Deadline expiry on
// either clock reports as a timeout.
func classify(runCtx context.Context, err error) *domain.JobError {
	if errors.Is(err, context.DeadlineExceeded) || runCtx.Err() != nil {
		return domain.NewJobError(domain.KindTimeout, "job exceeded its execution deadline")
	}
	return domain.AsJobError(err, domain.KindRuntime)
}
