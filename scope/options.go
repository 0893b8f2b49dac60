package scope

import "time"

// Policy determines how a join reacts to faulted tasks.
type Policy int

const (
	// FailFast aborts a join on the first faulted task; the fault
	// surfaces to the scope's caller after siblings are cancelled.
	FailFast Policy = iota
	// Collect suppresses task faults during a join: every outcome,
	// success or captured fault, is recorded in the scope's results.
	Collect
)

// Option configures a Scope.
type Option func(*Options)

// Options holds scope configuration. Zero values mean: no timeout, no
// concurrency limit, no observer.
type Options struct {
	Timeout        time.Duration
	MaxConcurrency int
	PanicAsError   bool
	Observer       Observer
}

func defaultOptions() Options { return Options{PanicAsError: true} }

// WithTimeout arms a wall-clock timeout that cancels the whole scope.
// The clock starts when the scope is entered. A zero duration disables
// the timeout. Panics if d is negative.
func WithTimeout(d time.Duration) Option {
	if d < 0 {
		panic(&UsageError{Reason: "timeout must be non-negative"})
	}
	return func(o *Options) { o.Timeout = d }
}

// WithMaxConcurrency bounds how many tasks may run simultaneously.
// Submissions beyond the bound are deferred and start strictly in
// submission order as earlier tasks complete. Zero means unlimited.
// Panics if n is negative.
func WithMaxConcurrency(n int) Option {
	if n < 0 {
		panic(&UsageError{Reason: "max concurrency must be non-negative"})
	}
	return func(o *Options) { o.MaxConcurrency = n }
}

// WithPanicAsError controls whether task panics are converted to
// *PanicError outcomes (the default) or re-raised on the task's
// goroutine.
func WithPanicAsError(v bool) Option {
	return func(o *Options) { o.PanicAsError = v }
}

// WithObserver attaches an Observer receiving scope and task events.
func WithObserver(obs Observer) Option {
	return func(o *Options) { o.Observer = obs }
}
