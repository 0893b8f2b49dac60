package scope

import (
	"context"
	"sync"
	"time"
)

// TaskFunc is one unit of asynchronous work submitted to a scope. The
// context is cancelled when the task, or the scope owning it, is
// cancelled.
type TaskFunc[T any] func(ctx context.Context) (T, error)

// Result is the outcome of one task: its value on success, or the
// fault (including cooperative cancellation) it ended with.
type Result[T any] struct {
	Value T
	Err   error
}

type taskPhase int

const (
	phaseDeferred taskPhase = iota // holds only its work, no goroutine yet
	phaseActive                    // handed to the runtime
	phaseDone                      // terminal outcome recorded
)

// Task is the handle to one submitted work item. A task starts out
// deferred: it owns no goroutine until the scope's admission controller
// (or an explicit Activate) starts it. The handle stays valid across
// that conversion, so it can be awaited or cancelled either way.
type Task[T any] struct {
	fn TaskFunc[T]

	mu       sync.Mutex
	phase    taskPhase
	sc       *Scope[T] // owning scope, set on admission
	slot     bool      // holds one of the scope's concurrency slots
	internal bool      // scope-owned (timeout timer): excluded from results
	cancel   context.CancelCauseFunc
	notify   []chan<- *Task[T] // fault subscriptions for fail-fast joins

	done  chan struct{}
	value T
	err   error
}

// NewTask wraps fn in an unsubmitted task handle for use with
// Scope.Adopt. Most callers want Scope.Submit instead. Panics if fn is
// nil.
func NewTask[T any](fn TaskFunc[T]) *Task[T] {
	if fn == nil {
		panic(&UsageError{Reason: "nil task function"})
	}
	return &Task[T]{fn: fn, done: make(chan struct{})}
}

// Done returns a channel closed once the task reaches a terminal
// outcome: success, fault, or cancellation.
func (t *Task[T]) Done() <-chan struct{} { return t.done }

// Deferred reports whether the task is still waiting for a concurrency
// slot.
func (t *Task[T]) Deferred() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.phase == phaseDeferred
}

// Value returns the task's result value. Meaningful only once Done is
// closed and Err reports nil.
func (t *Task[T]) Value() T {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.value
}

// Err returns the task's terminal fault, or nil while the task is
// still running or if it succeeded.
func (t *Task[T]) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Wait blocks until the task completes or ctx ends, returning the
// task's outcome.
func (t *Task[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-t.done:
		return t.value, t.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Cancel requests cooperative cancellation. A running task observes it
// through its context at the next suspension point. Cancelling a
// deferred task resolves it immediately and permanently prevents its
// activation; its work never runs. Cancel is an idempotent no-op on a
// completed task.
func (t *Task[T]) Cancel() {
	t.mu.Lock()
	switch t.phase {
	case phaseDeferred:
		t.phase = phaseDone
		t.err = context.Canceled
		sc := t.sc
		t.notify = nil
		t.mu.Unlock()
		close(t.done)
		if sc != nil {
			sc.taskDone(t)
		}
	case phaseActive:
		cancel := t.cancel
		t.mu.Unlock()
		cancel(context.Canceled)
	default:
		t.mu.Unlock()
	}
}

// Activate hands a deferred task to the runtime now instead of waiting
// for a slot, taking a slot regardless of the configured limit. Calling
// it on a task that is already active, finished, or cancelled is a
// no-op. Panics with *UsageError on a task that was never submitted.
func (t *Task[T]) Activate() {
	t.mu.Lock()
	if t.phase != phaseDeferred {
		t.mu.Unlock()
		return
	}
	sc := t.sc
	t.mu.Unlock()
	if sc == nil {
		panic(&UsageError{Reason: "Activate on a task that was never submitted"})
	}
	sc.mu.Lock()
	sc.startLocked(t, true)
	sc.mu.Unlock()
}

// run executes the task body on its own goroutine and records the
// outcome.
func (t *Task[T]) run(ctx context.Context) {
	s := t.sc
	obs := s.obs
	if t.internal {
		obs = nil
	}
	start := time.Now()
	if obs != nil {
		obs.TaskStarted(s.ctx)
	}

	var (
		v        T
		err      error
		panicked bool
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				panicked = true
				if !s.opts.PanicAsError {
					panic(r)
				}
				err = newPanicError(r)
			}
		}()
		v, err = t.fn(ctx)
	}()

	// The hook fires before the done channel closes so that observers
	// are consistent by the time a join returns.
	if obs != nil {
		obs.TaskFinished(s.ctx, time.Since(start), err, panicked)
	}
	t.complete(v, err)
}

// complete records the terminal outcome, signals any fail-fast join
// watching this task, and releases the task's concurrency slot.
func (t *Task[T]) complete(v T, err error) {
	t.mu.Lock()
	if t.phase == phaseDone {
		t.mu.Unlock()
		return
	}
	t.phase = phaseDone
	t.value, t.err = v, err
	notify := t.notify
	t.notify = nil
	t.mu.Unlock()
	close(t.done)
	if err != nil {
		for _, ch := range notify {
			select {
			case ch <- t:
			default:
			}
		}
	}
	t.sc.taskDone(t)
}

// subscribe arms a fault notification for a fail-fast join. If the task
// already ended with a fault, the notification fires immediately.
func (t *Task[T]) subscribe(ch chan<- *Task[T]) {
	t.mu.Lock()
	if t.phase == phaseDone {
		err := t.err
		t.mu.Unlock()
		if err != nil {
			select {
			case ch <- t:
			default:
			}
		}
		return
	}
	t.notify = append(t.notify, ch)
	t.mu.Unlock()
}

func (t *Task[T]) unsubscribe(ch chan<- *Task[T]) {
	t.mu.Lock()
	for i, c := range t.notify {
		if c == ch {
			t.notify = append(t.notify[:i], t.notify[i+1:]...)
			break
		}
	}
	t.mu.Unlock()
}

// TaskList is an ordered collection of handles, as returned by
// SubmitAll.
type TaskList[T any] []*Task[T]

// Join waits for every task in the list and returns their outcomes in
// list order, independent of scope closure. It aborts on the first
// faulted task without waiting for the rest, and on ctx ending.
func (tl TaskList[T]) Join(ctx context.Context) ([]Result[T], error) {
	fault := make(chan *Task[T], 1)
	for _, t := range tl {
		t.subscribe(fault)
	}
	defer func() {
		for _, t := range tl {
			t.unsubscribe(fault)
		}
	}()

	results := make([]Result[T], 0, len(tl))
	for _, t := range tl {
		select {
		case <-t.done:
			if t.err != nil {
				return nil, t.err
			}
			results = append(results, Result[T]{Value: t.value})
		case ft := <-fault:
			return nil, ft.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return results, nil
}

// Cancel requests cancellation of every task in the list.
func (tl TaskList[T]) Cancel() {
	for _, t := range tl {
		t.Cancel()
	}
}
