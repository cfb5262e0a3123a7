// Package workerpool implements the fan-out/merge task pool used by every
// concurrent phase of checklink: the File Collector's per-file inspection
// batches, the Package Adapter's per-package parse and per-archive mining
// tasks, and the Resolver's per-file resolution pass.
//
// A Task exposes two phases: Compute runs in parallel across worker
// goroutines with no shared mutable state; Merge runs serialized (at most
// one Merge in flight at any time) so it can safely publish results into
// shared indexes. This mirrors the teacher's channel-based
// processor/collector split (internal/indexing/pipeline_processor.go),
// generalized into a reusable two-phase pool.
package workerpool

import (
	"context"
	"runtime"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Task is one unit of work submitted to a Pool.
type Task interface {
	// Compute runs on a worker goroutine, in parallel with other tasks'
	// Compute calls. It must not mutate state shared with other tasks.
	Compute(ctx context.Context) error

	// Merge runs after a successful Compute, serialized across the whole
	// pool (only one Merge executes at any instant). Use it to publish
	// Compute's results into shared indexes.
	Merge()
}

// TaskFunc adapts a pair of plain functions to the Task interface for
// call sites that don't need a dedicated type.
type TaskFunc struct {
	ComputeFn func(ctx context.Context) error
	MergeFn   func()
}

func (f TaskFunc) Compute(ctx context.Context) error { return f.ComputeFn(ctx) }
func (f TaskFunc) Merge() {
	if f.MergeFn != nil {
		f.MergeFn()
	}
}

// Bundle is a logically grouped sequence of tasks. If a task in a bundle
// fails, the remaining tasks in that same bundle are skipped — but other
// bundles in the same Run are unaffected except via the pool-wide stop
// flag, which is checked between a bundle's constituent tasks.
type Bundle []Task

// defaultSpare is how many CPUs are left idle when numWorkers is left at zero;
// at least one worker is always created.
const defaultSpare = 0

// Pool runs bundles of tasks with bounded parallelism.
type Pool struct {
	numWorkers int

	mu       sync.Mutex // guards merge-phase serialization
	failed   bool
	firstErr error
}

// New creates a Pool. If numWorkers <= 0, it is computed as
// max(1, runtime.NumCPU()-spare).
func New(numWorkers int, spare int) *Pool {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU() - spare
		if numWorkers < 1 {
			numWorkers = 1
		}
	}
	return &Pool{numWorkers: numWorkers}
}

// Failed reports whether any task submitted to this pool (across all Run
// calls) has ever failed.
func (p *Pool) Failed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failed
}

// FirstError returns the first error observed across all Run calls, or nil.
func (p *Pool) FirstError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.firstErr
}

// Run executes every bundle's tasks: all Compute phases for a bundle are
// fanned out across the worker pool, then (for the tasks that succeeded,
// in the order they complete) Merge is invoked serially. A task failure
// sets the pool's stop flag; tasks later in the same bundle that have not
// yet started Compute are skipped. Run blocks until every bundle has been
// processed (wait-all barrier) and returns true iff no task has failed.
func (p *Pool) Run(ctx context.Context, bundles []Bundle) bool {
	for _, b := range bundles {
		p.runBundle(ctx, b)
	}
	return !p.Failed()
}

func (p *Pool) runBundle(ctx context.Context, bundle Bundle) {
	type result struct {
		task Task
		err  error
	}

	sem := semaphore.NewWeighted(int64(p.numWorkers))
	results := make(chan result, len(bundle))
	var wg sync.WaitGroup

	for _, t := range bundle {
		if p.stopRequested() {
			break
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			// Context cancelled while waiting for a free worker slot: record
			// it as a task failure so Run's caller observes the abort.
			p.recordFailure(err)
			break
		}
		wg.Add(1)
		go func(t Task) {
			defer wg.Done()
			defer sem.Release(1)
			err := t.Compute(ctx)
			results <- result{task: t, err: err}
		}(t)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	for r := range results {
		if r.err != nil {
			p.recordFailure(r.err)
			continue
		}
		p.merge(r.task)
	}
}

func (p *Pool) merge(t Task) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t.Merge()
}

func (p *Pool) recordFailure(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.failed {
		p.failed = true
		p.firstErr = err
	}
}

func (p *Pool) stopRequested() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failed
}
