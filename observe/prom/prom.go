// Package prom exports scope and task events as Prometheus metrics.
package prom

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mkravets/go-execscope/scope"
)

// Observer implements scope.Observer on top of client_golang
// collectors.
type Observer struct {
	scopesEntered   prometheus.Counter
	scopesCancelled prometheus.Counter
	scopesExited    *prometheus.CounterVec
	joinWait        prometheus.Histogram

	tasksSubmitted *prometheus.CounterVec
	tasksActive    prometheus.Gauge
	tasksFinished  *prometheus.CounterVec
	taskDuration   prometheus.Histogram
}

// New creates an Observer and registers its collectors with reg.
func New(reg prometheus.Registerer) (*Observer, error) {
	o := &Observer{
		scopesEntered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scope_entered_total",
			Help: "Scopes entered.",
		}),
		scopesCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scope_cancelled_total",
			Help: "Scopes that issued or received a cancellation.",
		}),
		scopesExited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scope_exited_total",
			Help: "Scopes that reached a terminal state.",
		}, []string{"state"}),
		joinWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scope_join_wait_seconds",
			Help:    "Time spent joining or cancelling tasks at scope release.",
			Buckets: prometheus.DefBuckets,
		}),
		tasksSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scope_tasks_submitted_total",
			Help: "Tasks admitted to a scope.",
		}, []string{"admission"}),
		tasksActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scope_tasks_active",
			Help: "Tasks currently executing.",
		}),
		tasksFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scope_tasks_finished_total",
			Help: "Tasks that reached a terminal outcome.",
		}, []string{"outcome"}),
		taskDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scope_task_duration_seconds",
			Help:    "Task wall-clock duration.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	collectors := []prometheus.Collector{
		o.scopesEntered, o.scopesCancelled, o.scopesExited, o.joinWait,
		o.tasksSubmitted, o.tasksActive, o.tasksFinished, o.taskDuration,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return o, nil
}

func (o *Observer) ScopeEntered(context.Context) { o.scopesEntered.Inc() }

func (o *Observer) ScopeCancelled(context.Context, error) { o.scopesCancelled.Inc() }

func (o *Observer) ScopeExited(_ context.Context, state scope.State, wait time.Duration) {
	o.scopesExited.WithLabelValues(state.String()).Inc()
	o.joinWait.Observe(wait.Seconds())
}

func (o *Observer) TaskSubmitted(_ context.Context, deferred bool) {
	admission := "immediate"
	if deferred {
		admission = "deferred"
	}
	o.tasksSubmitted.WithLabelValues(admission).Inc()
}

func (o *Observer) TaskStarted(context.Context) { o.tasksActive.Inc() }

func (o *Observer) TaskFinished(_ context.Context, dur time.Duration, err error, panicked bool) {
	o.tasksActive.Dec()
	outcome := "ok"
	switch {
	case panicked:
		outcome = "panic"
	case err != nil:
		outcome = "error"
	}
	o.tasksFinished.WithLabelValues(outcome).Inc()
	o.taskDuration.Observe(dur.Seconds())
}
