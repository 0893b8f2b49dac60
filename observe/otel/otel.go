package otel

import (
	"context"
	"time"

	"github.com/mkravets/go-execscope/scope"
)

// Nop is a no-op implementation of the scope.Observer interface.
// It serves as a placeholder for an OpenTelemetry-backed observer
// without adding dependencies.
type Nop struct{}

// NewNop returns a no-op observer.
func NewNop() *Nop { return &Nop{} }

func (*Nop) ScopeEntered(context.Context)                                   {}
func (*Nop) ScopeCancelled(context.Context, error)                          {}
func (*Nop) ScopeExited(context.Context, scope.State, time.Duration)        {}
func (*Nop) TaskSubmitted(context.Context, bool)                            {}
func (*Nop) TaskStarted(context.Context)                                    {}
func (*Nop) TaskFinished(context.Context, time.Duration, error, bool)       {}
