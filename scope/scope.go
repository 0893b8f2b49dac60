package scope

import (
	"context"
	"sync"
	"time"
)

// State is one point in the scope lifecycle. Transitions are monotonic:
// StateInit -> StateEntered -> exactly one terminal state.
type State int

const (
	StateInit State = iota
	StateEntered
	StateExited
	StateCancelled
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateEntered:
		return "entered"
	case StateExited:
		return "exited"
	case StateCancelled:
		return "cancelled"
	case StateTimedOut:
		return "timed-out"
	default:
		return "unknown"
	}
}

// Scope groups a dynamic set of concurrent tasks under one lifetime
// boundary with guaranteed join-or-cancel on close. T is the task
// result type. A scope is owned by a single flow: submissions happen
// from the governed block or from tasks it spawned; handles may be
// awaited from anywhere.
type Scope[T any] struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
	policy Policy
	opts   Options
	obs    Observer

	mu        sync.Mutex
	state     State
	pending   []*Task[T] // admitted, not yet picked into a join batch
	deferredq []*Task[T] // FIFO, awaiting a concurrency slot
	joined    []*Task[T] // past batches, kept for cancellation reach-back
	running   int        // tasks currently holding a slot
	results   []Result[T]

	governed    bool // inside a Run block
	cancelled   bool // the scope's own cancel signal was issued
	closing     bool // cancellation cascade has begun, admission closed
	timedOut    bool
	cancelCause error
	timer       *Task[T]

	cancelObs sync.Once
}

// cancelUnwind is the control-flow panic Cancel uses to leave the
// governed block. Run recovers it for its own scope only.
type cancelUnwind struct {
	scope any
}

// New creates a scope in StateInit. It accepts no submissions until
// entered; use Run for the usual enter/submit/exit pattern.
func New[T any](parent context.Context, policy Policy, optFns ...Option) *Scope[T] {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancelCause(parent)
	s := &Scope[T]{
		ctx:    ctx,
		cancel: cancel,
		policy: policy,
		opts:   defaultOptions(),
		state:  StateInit,
	}
	for _, fn := range optFns {
		fn(&s.opts)
	}
	s.obs = s.opts.Observer
	return s
}

// Context returns the scope context, cancelled when the scope is
// cancelled or times out.
func (s *Scope[T]) Context() context.Context { return s.ctx }

// State returns the current lifecycle state.
func (s *Scope[T]) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Cancelled reports whether the scope terminated through cancellation,
// its own Cancel, a timeout, or an escaped fault.
func (s *Scope[T]) Cancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateCancelled || s.state == StateTimedOut
}

// Results returns the outcomes accumulated by completed join batches,
// ordered by submission within each batch, batches in drain order. The
// full set is present after a clean close.
func (s *Scope[T]) Results() []Result[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Result[T], len(s.results))
	copy(out, s.results)
	return out
}

// Child derives a scope from this scope's context, so cancelling the
// parent cascades into the child's tasks. The child copies the parent's
// options, including any timeout, unless overridden.
func (s *Scope[T]) Child(policy Policy, optFns ...Option) *Scope[T] {
	c := New[T](s.ctx, policy)
	c.opts = s.opts
	for _, fn := range optFns {
		fn(&c.opts)
	}
	c.obs = c.opts.Observer
	return c
}

// Enter acquires the scope: it transitions to StateEntered and, if a
// timeout is configured, starts the timer task so the clock runs from
// acquisition. Fails with *IllegalStateError unless the scope is in
// StateInit.
func (s *Scope[T]) Enter() error {
	s.mu.Lock()
	if s.state != StateInit {
		st := s.state
		s.mu.Unlock()
		return &IllegalStateError{Op: "enter", State: st}
	}
	s.state = StateEntered
	if s.opts.Timeout > 0 {
		// The timer is an ordinary task, but it lives outside the
		// pending batches (it contributes no outcome and must keep
		// running across them) and holds no concurrency slot.
		t := NewTask(s.timerFunc())
		t.sc = s
		t.internal = true
		s.timer = t
		s.joined = append(s.joined, t)
		s.startLocked(t, false)
	}
	obs := s.obs
	s.mu.Unlock()
	if obs != nil {
		obs.ScopeEntered(s.ctx)
	}
	return nil
}

// timerFunc is the timeout timer body: an ordinary task that suspends
// for the configured duration and then issues the scope's own
// cancellation signal. It is joined like any other task, so the signal
// becomes observable at the next join point rather than preemptively.
func (s *Scope[T]) timerFunc() TaskFunc[T] {
	return func(ctx context.Context) (T, error) {
		var zero T
		timer := time.NewTimer(s.opts.Timeout)
		defer timer.Stop()
		select {
		case <-timer.C:
			s.signalCancel(ErrTimedOut, true)
			return zero, ErrTimedOut
		case <-ctx.Done():
			// Stopped by a clean Exit; not a fault.
			return zero, nil
		}
	}
}

// signalCancel records the scope's own cancellation signal and cancels
// the scope context so running tasks observe it cooperatively.
func (s *Scope[T]) signalCancel(cause error, timedOut bool) {
	s.mu.Lock()
	if !s.cancelled {
		s.cancelled = true
		s.cancelCause = cause
	}
	if timedOut {
		s.timedOut = true
	}
	s.mu.Unlock()
	s.cancel(cause)
	if s.obs != nil {
		s.cancelObs.Do(func() { s.obs.ScopeCancelled(s.ctx, cause) })
	}
}

// Cancel terminates the governed block early. It issues the scope's own
// cancellation signal and unwinds the Run block immediately; no code
// after the Cancel call in that block executes. The caller of Run
// observes no error: an early Cancel is indistinguishable from a scope
// that completed normally. Panics with *UsageError when called outside
// a governed block.
func (s *Scope[T]) Cancel() {
	s.mu.Lock()
	ok := s.governed && s.state == StateEntered
	s.mu.Unlock()
	if !ok {
		panic(&UsageError{Reason: "Cancel outside a governed Run block"})
	}
	s.signalCancel(ErrCancelled, false)
	panic(cancelUnwind{scope: s})
}

// Run executes fn as the scope's governed block: the scope is entered
// before fn runs and released on every exit path. A nil return from fn
// triggers the clean join of all outstanding tasks; an error or panic
// from fn skips the join and goes straight to the cancellation cascade,
// with the fault re-raised to the caller.
func (s *Scope[T]) Run(fn func(*Scope[T]) error) (err error) {
	if enterErr := s.Enter(); enterErr != nil {
		return enterErr
	}
	s.mu.Lock()
	s.governed = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.governed = false
		s.mu.Unlock()

		r := recover()
		if r == nil {
			return
		}
		if u, ok := r.(cancelUnwind); ok && u.scope == any(s) {
			s.abort()
			err = nil
			return
		}
		// An externally raised fault: cascade, then let it escape.
		s.abort()
		panic(r)
	}()

	if blockErr := fn(s); blockErr != nil {
		s.abort()
		return blockErr
	}
	return s.Exit()
}

// Exit releases the scope on the clean path: the join loop drains every
// outstanding task, bounded by the timeout timer if one is armed, and
// the timer is stopped once the drain is over. The scope's own
// cancellation signal (Cancel or timeout) surfacing through the join is
// swallowed; any other fault is re-raised after siblings are cancelled.
// Fails with *IllegalStateError unless the scope is entered.
func (s *Scope[T]) Exit() error {
	s.mu.Lock()
	if s.state != StateEntered {
		st := s.state
		s.mu.Unlock()
		return &IllegalStateError{Op: "exit", State: st}
	}
	timer := s.timer
	s.mu.Unlock()

	// The timer stays armed while the aggregator runs: it is what bounds
	// how long the scope waits for its items here. It is stopped once
	// the drain is over, one way or the other.
	start := time.Now()
	err := s.drain()
	if timer != nil {
		timer.Cancel()
		<-timer.Done()
	}

	s.mu.Lock()
	own := s.cancelled
	cause := s.cancelCause
	timedOut := s.timedOut
	s.mu.Unlock()

	var terminal State
	switch {
	case own:
		// Deliberate termination: cascade, but report nothing.
		s.cancelAll(cause)
		s.awaitAll()
		terminal = StateCancelled
		if timedOut {
			terminal = StateTimedOut
		}
		err = nil
	case err != nil:
		s.cancelAll(err)
		s.awaitAll()
		terminal = StateCancelled
	default:
		terminal = StateExited
	}
	s.setTerminal(terminal)
	if s.obs != nil {
		s.obs.ScopeExited(s.ctx, s.State(), time.Since(start))
	}
	return err
}

// abort is the exceptional-exit path: no clean join, straight to the
// cancellation cascade and a terminal cancelled state.
func (s *Scope[T]) abort() {
	start := time.Now()
	s.mu.Lock()
	if s.state != StateEntered {
		s.mu.Unlock()
		return
	}
	cause := s.cancelCause
	timedOut := s.timedOut
	s.mu.Unlock()
	if cause == nil {
		cause = ErrCancelled
	}

	s.cancelAll(cause)
	s.awaitAll()
	terminal := StateCancelled
	if timedOut {
		terminal = StateTimedOut
	}
	s.setTerminal(terminal)
	if s.obs != nil {
		s.obs.ScopeExited(s.ctx, s.State(), time.Since(start))
	}
}

// cancelAll cascades cancellation over every task the scope has ever
// admitted: pending, deferred, and previously joined batches. Cancel is
// idempotent on completed handles, and cancelling a deferred handle
// prevents its activation for good.
func (s *Scope[T]) cancelAll(cause error) {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	s.cancel(cause)
	if s.obs != nil {
		s.cancelObs.Do(func() { s.obs.ScopeCancelled(s.ctx, cause) })
	}
	for _, t := range s.snapshot() {
		t.Cancel()
	}
}

// awaitAll blocks until every admitted task reaches a terminal outcome,
// including tasks submitted by in-flight work before the cascade closed
// admission. Handles are tracked by identity, not by queue length, so a
// late arrival can never slip past the boundary. Cancellation is
// cooperative, so this is bounded by how promptly task bodies honor
// their context.
func (s *Scope[T]) awaitAll() {
	seen := make(map[*Task[T]]struct{})
	for {
		progressed := false
		for _, t := range s.snapshot() {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			progressed = true
			<-t.done
		}
		if !progressed {
			return
		}
	}
}

// snapshot collects every handle the scope currently knows about, each
// exactly once. Deferred tasks sit in both pending and deferredq, and
// drained batches may still hold deferred members, so the queues are
// deduplicated by handle identity.
func (s *Scope[T]) snapshot() []*Task[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[*Task[T]]struct{}, len(s.pending)+len(s.joined))
	tasks := make([]*Task[T], 0, len(s.pending)+len(s.joined))
	for _, q := range [][]*Task[T]{s.pending, s.deferredq, s.joined} {
		for _, t := range q {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			tasks = append(tasks, t)
		}
	}
	return tasks
}

func (s *Scope[T]) setTerminal(st State) {
	s.mu.Lock()
	if s.state == StateEntered {
		s.state = st
	}
	s.mu.Unlock()
}
