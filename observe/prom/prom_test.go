package prom

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkravets/go-execscope/scope"
)

func TestObserverCountsCleanRun(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	obs, err := New(reg)
	require.NoError(t, err)

	s := scope.New[int](context.Background(), scope.FailFast,
		scope.WithObserver(obs), scope.WithMaxConcurrency(1))
	release := make(chan struct{})
	err = s.Run(func(s *scope.Scope[int]) error {
		// The first task holds the single slot until the second one is
		// queued, so the admission split is deterministic.
		_, _ = s.Submit(func(context.Context) (int, error) {
			<-release
			return 1, nil
		})
		_, _ = s.Submit(func(context.Context) (int, error) { return 2, nil })
		close(release)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(obs.scopesEntered))
	assert.Equal(t, float64(1),
		testutil.ToFloat64(obs.scopesExited.WithLabelValues(scope.StateExited.String())))
	assert.Equal(t, float64(0), testutil.ToFloat64(obs.scopesCancelled))
	assert.Equal(t, float64(1),
		testutil.ToFloat64(obs.tasksSubmitted.WithLabelValues("immediate")))
	assert.Equal(t, float64(1),
		testutil.ToFloat64(obs.tasksSubmitted.WithLabelValues("deferred")))
	assert.Equal(t, float64(2),
		testutil.ToFloat64(obs.tasksFinished.WithLabelValues("ok")))
	assert.Equal(t, float64(0), testutil.ToFloat64(obs.tasksActive))
}

func TestObserverCountsFaults(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	obs, err := New(reg)
	require.NoError(t, err)

	boom := errors.New("boom")
	s := scope.New[int](context.Background(), scope.Collect, scope.WithObserver(obs))
	err = s.Run(func(s *scope.Scope[int]) error {
		_, _ = s.Submit(func(context.Context) (int, error) { return 0, boom })
		_, _ = s.Submit(func(context.Context) (int, error) { panic("nope") })
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, float64(1),
		testutil.ToFloat64(obs.tasksFinished.WithLabelValues("error")))
	assert.Equal(t, float64(1),
		testutil.ToFloat64(obs.tasksFinished.WithLabelValues("panic")))
}

func TestObserverCountsCancellation(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	obs, err := New(reg)
	require.NoError(t, err)

	s := scope.New[int](context.Background(), scope.FailFast, scope.WithObserver(obs))
	err = s.Run(func(s *scope.Scope[int]) error {
		s.Cancel()
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(obs.scopesCancelled))
	assert.Equal(t, float64(1),
		testutil.ToFloat64(obs.scopesExited.WithLabelValues(scope.StateCancelled.String())))
}

func TestDuplicateRegistration(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)
	_, err = New(reg)
	require.Error(t, err)
}
