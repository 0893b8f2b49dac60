// Package errgroup provides an adapter that mimics golang.org/x/sync/errgroup
// semantics using the scope engine. It enables incremental migration
// without changing call sites that expect the errgroup API.
package errgroup

import (
	"context"
	"errors"
	"sync"

	"github.com/mkravets/go-execscope/scope"
)

// Group is an errgroup-like wrapper over a FailFast scope.
type Group struct {
	s      *scope.Scope[struct{}]
	cancel context.CancelCauseFunc
	ctx    context.Context

	once sync.Once
	err  error
}

// WithContext creates a Group bound to ctx. The returned context is
// canceled when any function passed to Go returns a non-nil error, or
// after Wait returns.
func WithContext(ctx context.Context) (*Group, context.Context) {
	gctx, cancel := context.WithCancelCause(ctx)
	s := scope.New[struct{}](gctx, scope.FailFast)
	if err := s.Enter(); err != nil {
		panic(err) // fresh scope, cannot happen
	}
	g := &Group{s: s, cancel: cancel, ctx: s.Context()}
	return g, g.ctx
}

// Go starts a function. It should return a non-nil error to signal
// failure; the first failure cancels the group context. Like the
// upstream API, calling Go after Wait does not panic: the function is
// dropped, since the group has already been joined.
func (g *Group) Go(f func() error) {
	if f == nil {
		return
	}
	_, err := g.s.Submit(func(context.Context) (struct{}, error) {
		err := f()
		if err != nil {
			g.cancel(err)
		}
		return struct{}{}, err
	})
	if err != nil {
		var ise *scope.IllegalStateError
		if errors.As(err, &ise) {
			return
		}
		panic(err)
	}
}

// Wait blocks until all functions have returned. It returns the first
// non-nil error, or nil on success. Wait is idempotent.
func (g *Group) Wait() error {
	g.once.Do(func() {
		g.err = g.s.Exit()
		g.cancel(g.err)
	})
	return g.err
}
