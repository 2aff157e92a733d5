// Package memstore implements the in-process job store: the authoritative
// job records plus per-id fan-out of state transitions to any number of
// subscribers.
//
// Updates serialize per id; reads never block writers on other ids. Each
// subscriber owns an independent bounded buffer — a slow subscriber is
// disconnected with an overflow signal instead of back-pressuring workers.
package memstore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kThendral/OptimizeHub-sub000/internal/domain"
)

// Store is the process-wide job store. Construct with New, dispose with Close.
type Store struct {
	mu        sync.RWMutex
	entries   map[string]*entry
	retention time.Duration
	subBuf    int
	closed    bool
}

type entry struct {
	// mu serializes updates and event publication for one id.
	mu   sync.Mutex
	job  domain.Job
	subs map[*subscription]struct{}
}

type subscription struct {
	ch     chan domain.JobEvent
	entry  *entry
	closed bool
}

func (s *subscription) Events() <-chan domain.JobEvent { return s.ch }

func (s *subscription) Cancel() {
	e := s.entry
	e.mu.Lock()
	defer e.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	delete(e.subs, s)
	close(s.ch)
}

// New constructs a Store. retention is how long terminal records outlive
// their finish time; subBuf is the per-subscriber event buffer.
func New(retention time.Duration, subBuf int) *Store {
	if subBuf < 2 {
		subBuf = 2
	}
	return &Store{
		entries:   make(map[string]*entry),
		retention: retention,
		subBuf:    subBuf,
	}
}

// Create inserts the initial record. A duplicate id is a programmer error.
func (s *Store) Create(_ domain.Context, j domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("%w: store closed", domain.ErrInternal)
	}
	if _, ok := s.entries[j.ID]; ok {
		return fmt.Errorf("%w: job %s already exists", domain.ErrConflict, j.ID)
	}
	s.entries[j.ID] = &entry{job: j, subs: make(map[*subscription]struct{})}
	return nil
}

// Update applies fn atomically and publishes the post-image to subscribers.
// Terminal states never regress: once SUCCESS or FAILURE the record is
// immutable and further updates fail.
func (s *Store) Update(_ domain.Context, id string, fn func(*domain.Job) error) (domain.Job, error) {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return domain.Job{}, fmt.Errorf("%w: job %s", domain.ErrNotFound, id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.job.State.Terminal() {
		return domain.Job{}, fmt.Errorf("%w: job %s is %s", domain.ErrTerminalState, id, e.job.State)
	}
	next := e.job.Clone()
	if err := fn(&next); err != nil {
		return domain.Job{}, err
	}
	if err := checkTransition(e.job.State, next.State); err != nil {
		return domain.Job{}, err
	}
	e.job = next
	e.publishLocked(domain.JobEvent{Job: next.Clone()})
	return next.Clone(), nil
}

// Get returns a copy of the current record.
func (s *Store) Get(_ domain.Context, id string) (domain.Job, error) {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return domain.Job{}, fmt.Errorf("%w: job %s", domain.ErrNotFound, id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.job.Clone(), nil
}

// Subscribe delivers the current snapshot as the first event, then every
// subsequent transition in store order until Cancel, overflow or eviction.
func (s *Store) Subscribe(_ domain.Context, id string) (domain.Subscription, error) {
	s.mu.RLock()
	e, ok := s.entries[id]
	closed := s.closed
	s.mu.RUnlock()
	if !ok || closed {
		return nil, fmt.Errorf("%w: job %s", domain.ErrNotFound, id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	sub := &subscription{ch: make(chan domain.JobEvent, s.subBuf), entry: e}
	// Snapshot first, inside the lock, so no transition slips between the
	// snapshot and the subscription becoming live.
	sub.ch <- domain.JobEvent{Job: e.job.Clone()}
	e.subs[sub] = struct{}{}
	return sub, nil
}

// EvictExpired removes records whose terminal timestamp plus the retention
// window has passed, notifying stragglers with a final gone event. Returns
// the number of records removed. A zero retention disables eviction.
func (s *Store) EvictExpired(_ domain.Context, now time.Time) int {
	if s.retention <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	evicted := 0
	for id, e := range s.entries {
		e.mu.Lock()
		expired := e.job.State.Terminal() && e.job.FinishedAt != nil &&
			!now.Before(e.job.FinishedAt.Add(s.retention))
		if expired {
			e.publishLocked(domain.JobEvent{Job: e.job.Clone(), Gone: true})
			e.closeAllLocked()
			delete(s.entries, id)
			evicted++
		}
		e.mu.Unlock()
	}
	if evicted > 0 {
		slog.Debug("evicted expired jobs", slog.Int("count", evicted))
	}
	return evicted
}

// RunEviction sweeps periodically until ctx is done.
func (s *Store) RunEviction(ctx context.Context, interval time.Duration) {
	if interval <= 0 || s.retention <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.EvictExpired(ctx, now)
		}
	}
}

// Close shuts the store down, draining all observers.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for _, e := range s.entries {
		e.mu.Lock()
		e.closeAllLocked()
		e.mu.Unlock()
	}
}

// publishLocked fans ev out to every subscriber. Callers hold e.mu, which
// makes this the only sender on each channel; the last buffer slot is
// reserved for the overflow signal so the forced disconnect never blocks.
func (e *entry) publishLocked(ev domain.JobEvent) {
	for sub := range e.subs {
		if len(sub.ch) < cap(sub.ch)-1 {
			sub.ch <- ev
			continue
		}
		delete(e.subs, sub)
		sub.closed = true
		sub.ch <- domain.JobEvent{Job: ev.Job, Overflow: true}
		close(sub.ch)
	}
}

func (e *entry) closeAllLocked() {
	for sub := range e.subs {
		sub.closed = true
		close(sub.ch)
	}
	e.subs = make(map[*subscription]struct{})
}

func checkTransition(from, to domain.JobState) error {
	allowed := map[domain.JobState][]domain.JobState{
		domain.JobPending: {domain.JobPending, domain.JobStarted, domain.JobFailure},
		domain.JobStarted: {domain.JobStarted, domain.JobSuccess, domain.JobFailure},
	}
	for _, ok := range allowed[from] {
		if to == ok {
			return nil
		}
	}
	return fmt.Errorf("%w: illegal transition %s -> %s", domain.ErrConflict, from, to)
}
