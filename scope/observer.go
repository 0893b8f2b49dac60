package scope

import (
	"context"
	"time"
)

// Observer receives scope lifecycle and task events. Implementations
// must be safe for concurrent use and must not panic; hooks run on the
// scope's own flow and on task goroutines.
type Observer interface {
	ScopeEntered(ctx context.Context)
	ScopeCancelled(ctx context.Context, cause error)
	// ScopeExited fires once the scope reaches a terminal state. wait is
	// the time spent joining (or cancelling) outstanding tasks.
	ScopeExited(ctx context.Context, state State, wait time.Duration)
	// TaskSubmitted fires on admission; deferred reports whether the
	// task had to wait for a concurrency slot.
	TaskSubmitted(ctx context.Context, deferred bool)
	TaskStarted(ctx context.Context)
	TaskFinished(ctx context.Context, dur time.Duration, err error, panicked bool)
}
