// Package limiter enforces per-stage concurrency caps and optional daily
// spend budgets, adapted from the teacher's ModelLimiter. It is the
// backpressure mechanism spec.md §5 and §9 describe: a bounded semaphore
// per stage, so a slow or saturated remote endpoint cannot starve other
// stages of goroutines.
package limiter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"contentpipe/internal/model"
)

// Limiter tracks, per stage, an acquire/release concurrency slot and an
// optional rolling daily spend budget.
type Limiter struct {
	mu    sync.Mutex
	slots map[model.Stage]*semaphore.Weighted
	spend map[model.Stage]*dailySpend
}

type dailySpend struct {
	day     string
	total   float64
	budget  float64
	mu      sync.Mutex
}

// New builds an empty Limiter. Call Configure per stage as endpoint
// bindings are (re)loaded.
func New() *Limiter {
	return &Limiter{
		slots: make(map[model.Stage]*semaphore.Weighted),
		spend: make(map[model.Stage]*dailySpend),
	}
}

// Configure (re)sets the concurrency cap and daily budget for stage. Safe
// to call while the limiter is in use; in-flight Acquire holders are
// unaffected, only future acquisitions observe the new cap.
func (l *Limiter) Configure(stage model.Stage, concurrencyCap int, dailyBudgetUSD float64) {
	if concurrencyCap <= 0 {
		concurrencyCap = 1
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.slots[stage] = semaphore.NewWeighted(int64(concurrencyCap))
	l.spend[stage] = &dailySpend{budget: dailyBudgetUSD}
}

// Acquire blocks until a concurrency slot for stage is available or ctx is
// done. Returns a release func that must be called exactly once.
func (l *Limiter) Acquire(ctx context.Context, stage model.Stage) (func(), error) {
	sem := l.slotFor(stage)
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire %s slot: %w", stage, err)
	}
	return func() { sem.Release(1) }, nil
}

// TryAcquire attempts a non-blocking acquisition, used by the worker
// pool's poll loop to skip a stage that is already at its concurrency cap
// rather than blocking the loop.
func (l *Limiter) TryAcquire(stage model.Stage) (func(), bool) {
	sem := l.slotFor(stage)
	if !sem.TryAcquire(1) {
		return nil, false
	}
	return func() { sem.Release(1) }, true
}

func (l *Limiter) slotFor(stage model.Stage) *semaphore.Weighted {
	l.mu.Lock()
	defer l.mu.Unlock()
	sem, ok := l.slots[stage]
	if !ok {
		sem = semaphore.NewWeighted(1)
		l.slots[stage] = sem
	}
	return sem
}

// BudgetExceededError is returned by RecordSpend when a stage's daily
// budget is exceeded.
type BudgetExceededError struct {
	Stage  model.Stage
	Budget float64
	Spent  float64
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("limiter: stage %s daily budget $%.2f exceeded (spent $%.2f)", e.Stage, e.Budget, e.Spent)
}

// RecordSpend adds costUSD to stage's running daily total, resetting the
// counter at UTC day boundaries. Returns a BudgetExceededError if the
// stage has a nonzero budget and the new total exceeds it; the caller
// (the worker pool) only logs a warning, not a hard stop, since the call
// that incurred the cost has already completed.
func (l *Limiter) RecordSpend(stage model.Stage, now time.Time, costUSD float64) error {
	l.mu.Lock()
	ds, ok := l.spend[stage]
	if !ok {
		ds = &dailySpend{}
		l.spend[stage] = ds
	}
	l.mu.Unlock()

	day := now.UTC().Format("2006-01-02")

	ds.mu.Lock()
	defer ds.mu.Unlock()
	if ds.day != day {
		ds.day = day
		ds.total = 0
	}
	ds.total += costUSD

	if ds.budget > 0 && ds.total > ds.budget {
		return &BudgetExceededError{Stage: stage, Budget: ds.budget, Spent: ds.total}
	}
	return nil
}

// SpentToday reports the current day's running spend for stage; the
// worker pool includes it in its budget-exhausted log line.
func (l *Limiter) SpentToday(stage model.Stage) float64 {
	l.mu.Lock()
	ds, ok := l.spend[stage]
	l.mu.Unlock()
	if !ok {
		return 0
	}
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return ds.total
}

// BudgetExceeded reports whether stage's current spend has already reached
// its configured daily budget, for a pre-claim check that refuses new work
// before it's dispatched rather than only bookkeeping the overage after the
// fact. A stage with no budget configured (budget <= 0) is never exceeded.
func (l *Limiter) BudgetExceeded(stage model.Stage) bool {
	l.mu.Lock()
	ds, ok := l.spend[stage]
	l.mu.Unlock()
	if !ok {
		return false
	}
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return ds.budget > 0 && ds.total >= ds.budget
}
