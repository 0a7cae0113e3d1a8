// Package task is the in-process stand-in for the surrounding job runtime:
// at-least-once step execution with bounded retries, exponential backoff, a
// per-step duration budget, and per-workspace single flight. Tasks re-enqueue
// themselves to continue long passes instead of looping in-process.
package task

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Task is one retryable unit of work. Run must be safe to execute more than
// once. OnFailure, if set, is invoked after the final failed attempt so the
// owner can roll back flag state.
type Task struct {
	ID          string
	WorkspaceID string
	Kind        string
	Run         func(ctx context.Context) error
	OnFailure   func(ctx context.Context, err error)
}

type Runner struct {
	Workers     int
	MaxAttempts int
	BaseBackoff time.Duration
	StepBudget  time.Duration

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []*Task
	closed  bool
	pending sync.WaitGroup

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	group  *errgroup.Group
	cancel context.CancelFunc
}

func NewRunner(workers, maxAttempts int, baseBackoff, stepBudget time.Duration) *Runner {
	if workers <= 0 {
		workers = 4
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if baseBackoff <= 0 {
		baseBackoff = 500 * time.Millisecond
	}
	if stepBudget <= 0 {
		stepBudget = 5 * time.Minute
	}
	r := &Runner{
		Workers:     workers,
		MaxAttempts: maxAttempts,
		BaseBackoff: baseBackoff,
		StepBudget:  stepBudget,
		locks:       make(map[string]*sync.Mutex),
	}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Start launches the worker pool. Workers exit when the context is cancelled
// or Stop is called.
func (r *Runner) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.group, ctx = errgroup.WithContext(ctx)

	// Wake blocked workers on cancellation.
	go func() {
		<-ctx.Done()
		r.cond.Broadcast()
	}()

	for i := 0; i < r.Workers; i++ {
		r.group.Go(func() error {
			for {
				t := r.dequeue(ctx)
				if t == nil {
					return nil
				}
				r.execute(ctx, t)
				r.pending.Done()
			}
		})
	}
}

// Enqueue schedules a task. Safe to call from inside a running task (that is
// how long passes re-enqueue themselves).
func (r *Runner) Enqueue(t *Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.pending.Add(1)
	r.queue = append(r.queue, t)
	r.cond.Signal()
}

func (r *Runner) dequeue(ctx context.Context) *Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	for len(r.queue) == 0 {
		if r.closed || ctx.Err() != nil {
			return nil
		}
		r.cond.Wait()
	}
	t := r.queue[0]
	r.queue = r.queue[1:]
	return t
}

func (r *Runner) execute(ctx context.Context, t *Task) {
	// One in-flight operation per workspace; different workspaces proceed in
	// parallel. This substitutes for fine-grained locking on the store.
	lock := r.workspaceLock(t.WorkspaceID)
	lock.Lock()
	defer lock.Unlock()

	var err error
	for attempt := 1; attempt <= r.MaxAttempts; attempt++ {
		stepCtx, cancel := context.WithTimeout(ctx, r.StepBudget)
		err = t.Run(stepCtx)
		cancel()
		if err == nil {
			return
		}
		if ctx.Err() != nil {
			break
		}
		if attempt < r.MaxAttempts {
			backoff := r.BaseBackoff << (attempt - 1)
			log.Printf("task %s (%s) attempt %d/%d failed, retrying in %s: %v",
				t.ID, t.Kind, attempt, r.MaxAttempts, backoff, err)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
			}
		}
	}

	log.Printf("task %s (%s) failed terminally: %v", t.ID, t.Kind, err)
	if t.OnFailure != nil {
		t.OnFailure(ctx, err)
	}
}

func (r *Runner) workspaceLock(workspaceID string) *sync.Mutex {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()
	lock, ok := r.locks[workspaceID]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[workspaceID] = lock
	}
	return lock
}

// WithWorkspace runs fn under the workspace's exclusivity lock, serializing
// it against any in-flight install/resolve/merge step of the same workspace.
func (r *Runner) WithWorkspace(workspaceID string, fn func() error) error {
	lock := r.workspaceLock(workspaceID)
	lock.Lock()
	defer lock.Unlock()
	return fn()
}

// Drain blocks until every enqueued task (including re-enqueued followups)
// has finished.
func (r *Runner) Drain() {
	r.pending.Wait()
}

// Stop drains outstanding work, then shuts the workers down.
func (r *Runner) Stop() {
	r.pending.Wait()
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.cond.Broadcast()
	if r.cancel != nil {
		r.cancel()
	}
	if r.group != nil {
		_ = r.group.Wait()
	}
}
