package observability

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/aretw0/fantasm/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "fantasm"

// Metrics holds the collectors fed by the engine hooks.
type Metrics struct {
	stateEnters    *prometheus.CounterVec
	stateExits     *prometheus.CounterVec
	tasksQueued    *prometheus.CounterVec
	actionFailures *prometheus.CounterVec
	failedDuration *prometheus.HistogramVec
	fanInBatch     *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		stateEnters: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "state_enters_total",
				Help:      "Total number of states entered.",
			},
			[]string{"machine", "state"},
		),
		stateExits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "state_exits_total",
				Help:      "Total number of states left.",
			},
			[]string{"machine", "state"},
		),
		tasksQueued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_queued_total",
				Help:      "Tasks handed to the queue, by whether the name was already taken.",
			},
			[]string{"machine", "duplicate"},
		),
		actionFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "action_failures_total",
				Help:      "Failed actions, by phase and whether the hop was abandoned.",
			},
			[]string{"machine", "state", "phase", "terminal"},
		),
		failedDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "failed_hop_duration_seconds",
				Help:      "Time spent in hops that ended in an action failure.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"machine"},
		),
		fanInBatch: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fan_in_batch_size",
				Help:      "Number of contexts merged per fan-in batch.",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
			},
			[]string{"machine", "state"},
		),
	}
	for _, c := range []prometheus.Collector{
		m.stateEnters, m.stateExits, m.tasksQueued, m.actionFailures, m.failedDuration, m.fanInBatch,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Hooks returns lifecycle hooks that record into m.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnStateEnter: func(_ context.Context, e *domain.StateEvent) {
			m.stateEnters.WithLabelValues(e.Machine, e.State).Inc()
		},
		OnStateExit: func(_ context.Context, e *domain.StateEvent) {
			m.stateExits.WithLabelValues(e.Machine, e.State).Inc()
		},
		OnTaskQueued: func(_ context.Context, e *domain.TaskEvent) {
			m.tasksQueued.WithLabelValues(e.Machine, strconv.FormatBool(e.Duplicate)).Inc()
		},
		OnActionFailed: func(_ context.Context, e *domain.ActionEvent) {
			m.actionFailures.WithLabelValues(e.Machine, e.State, e.Phase, strconv.FormatBool(e.Terminal)).Inc()
			m.failedDuration.WithLabelValues(e.Machine).Observe(e.Duration.Seconds())
		},
		OnFanIn: func(_ context.Context, e *domain.FanInEvent) {
			m.fanInBatch.WithLabelValues(e.Machine, e.State).Observe(float64(e.Merged))
		},
	}
}

// LogHooks returns lifecycle hooks that log every event at debug level,
// and action failures at warn.
func LogHooks(logger *slog.Logger) domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnStateEnter: func(ctx context.Context, e *domain.StateEvent) {
			logger.DebugContext(ctx, "state_enter",
				"machine", e.Machine, "instance", e.Instance, "state", e.State, "event", e.Event, "step", e.Step)
		},
		OnStateExit: func(ctx context.Context, e *domain.StateEvent) {
			logger.DebugContext(ctx, "state_exit",
				"machine", e.Machine, "instance", e.Instance, "state", e.State, "event", e.Event)
		},
		OnTaskQueued: func(ctx context.Context, e *domain.TaskEvent) {
			logger.DebugContext(ctx, "task_queued",
				"machine", e.Machine, "instance", e.Instance, "task", e.Task, "duplicate", e.Duplicate)
		},
		OnActionFailed: func(ctx context.Context, e *domain.ActionEvent) {
			logger.WarnContext(ctx, "action_failed",
				"machine", e.Machine, "instance", e.Instance, "state", e.State,
				"phase", e.Phase, "terminal", e.Terminal, "err", e.Err)
		},
		OnFanIn: func(ctx context.Context, e *domain.FanInEvent) {
			logger.DebugContext(ctx, "fan_in",
				"machine", e.Machine, "state", e.State, "work_index", e.WorkIndex, "merged", e.Merged)
		},
	}
}
