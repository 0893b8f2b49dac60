package scope

import (
	"context"
	"time"
)

// Submit hands work to the scope and returns its handle. Under the
// concurrency limit the task starts immediately; otherwise it is
// deferred and starts once an earlier slot frees, strictly in
// submission order. Returns *IllegalStateError unless the scope is
// entered.
func (s *Scope[T]) Submit(fn TaskFunc[T]) (*Task[T], error) {
	t := NewTask(fn)
	if err := s.Adopt(t); err != nil {
		return nil, err
	}
	return t, nil
}

// SubmitAll submits each function in order and returns the handles as
// a TaskList. On error the already-submitted prefix is returned with it.
func (s *Scope[T]) SubmitAll(fns ...TaskFunc[T]) (TaskList[T], error) {
	tl := make(TaskList[T], 0, len(fns))
	for _, fn := range fns {
		t, err := s.Submit(fn)
		if err != nil {
			return tl, err
		}
		tl = append(tl, t)
	}
	return tl, nil
}

// Sleep submits a task that suspends for d and then completes. The
// returned handle is cancellable like any other.
func (s *Scope[T]) Sleep(d time.Duration) (*Task[T], error) {
	return s.Submit(func(ctx context.Context) (T, error) {
		var zero T
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
			return zero, nil
		case <-ctx.Done():
			return zero, context.Cause(ctx)
		}
	})
}

// Adopt admits an externally constructed task (see NewTask) into the
// scope. Admitting the same handle twice, a handle owned by another
// scope, or one that already resolved fails with ErrDuplicateSubmission
// or *UsageError.
func (s *Scope[T]) Adopt(t *Task[T]) error {
	if t == nil {
		return &UsageError{Reason: "nil task"}
	}
	s.mu.Lock()
	if s.state != StateEntered {
		st := s.state
		s.mu.Unlock()
		return &IllegalStateError{Op: "submit", State: st}
	}

	t.mu.Lock()
	switch {
	case t.sc == s:
		t.mu.Unlock()
		s.mu.Unlock()
		return ErrDuplicateSubmission
	case t.sc != nil:
		t.mu.Unlock()
		s.mu.Unlock()
		return &UsageError{Reason: "task already owned by another scope"}
	case t.phase != phaseDeferred:
		t.mu.Unlock()
		s.mu.Unlock()
		return &UsageError{Reason: "task already resolved"}
	}
	t.sc = s
	t.mu.Unlock()

	if s.closing {
		// The cascade is already tearing the scope down: admit nothing
		// new, but resolve the handle as cancelled so the submitter
		// still gets a terminal outcome to await.
		s.mu.Unlock()
		t.Cancel()
		return nil
	}
	deferred := s.admitLocked(t)
	obs := s.obs
	s.mu.Unlock()
	if obs != nil {
		obs.TaskSubmitted(s.ctx, deferred)
	}
	return nil
}

// admitLocked places an owned task into the pending batch and either
// starts it or queues it behind the limit. Reports whether the task was
// deferred. Caller holds s.mu.
func (s *Scope[T]) admitLocked(t *Task[T]) bool {
	s.pending = append(s.pending, t)
	limit := s.opts.MaxConcurrency
	if limit <= 0 || s.running < limit {
		s.startLocked(t, true)
		return false
	}
	s.deferredq = append(s.deferredq, t)
	return true
}

// startLocked converts a deferred task to active and hands it to the
// runtime. slot marks whether it occupies one of the scope's
// concurrency slots. Caller holds s.mu; tasks already active, done, or
// cancelled are left alone.
func (s *Scope[T]) startLocked(t *Task[T], slot bool) {
	t.mu.Lock()
	if t.phase != phaseDeferred {
		t.mu.Unlock()
		return
	}
	t.phase = phaseActive
	t.slot = slot
	tctx, cancel := context.WithCancelCause(s.ctx)
	t.cancel = cancel
	t.mu.Unlock()
	if slot {
		s.running++
	}
	go t.run(tctx)
}

// taskDone is the release mechanism of the admission controller: each
// completed handle frees its slot and pulls the head of the deferred
// queue.
func (s *Scope[T]) taskDone(t *Task[T]) {
	s.mu.Lock()
	if t.slot {
		t.slot = false
		s.running--
	}
	s.fillSlotsLocked()
	s.mu.Unlock()
}

// fillSlotsLocked activates deferred tasks FIFO while slots are free.
// Handles cancelled before activation are skipped. Caller holds s.mu.
func (s *Scope[T]) fillSlotsLocked() {
	if s.closing {
		// Deferred tasks are resolved by the cascade, never started.
		return
	}
	limit := s.opts.MaxConcurrency
	for len(s.deferredq) > 0 && (limit <= 0 || s.running < limit) {
		t := s.deferredq[0]
		s.deferredq[0] = nil
		s.deferredq = s.deferredq[1:]
		s.startLocked(t, true)
	}
}
