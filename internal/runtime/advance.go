package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aretw0/fantasm/internal/logging"
	"github.com/aretw0/fantasm/pkg/action"
	"github.com/aretw0/fantasm/pkg/domain"
	"github.com/aretw0/fantasm/pkg/graph"
	"golang.org/x/sync/errgroup"
)

// execute runs one action and maps its Result to the error taxonomy:
// Err becomes a retryable *domain.ActionError, Fatal wraps it as permanent
// and a panic is recovered as a retryable failure.
func (d *Dispatcher) execute(ctx context.Context, m *graph.Machine, ec *domain.Context, t *graph.Transition, phase string, fn func() action.Result) (res action.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &domain.ActionError{
				Machine: m.Name, State: ec.CurrentState, Event: t.Event, Phase: phase,
				Err: fmt.Errorf("panic: %v", r),
			}
		}
	}()
	res = fn()
	if res.Err == nil {
		return res, nil
	}
	aerr := &domain.ActionError{Machine: m.Name, State: ec.CurrentState, Event: t.Event, Phase: phase, Err: res.Err}
	if res.Fatal {
		return res, domain.Permanent(aerr)
	}
	return res, aerr
}

func (d *Dispatcher) run(ctx context.Context, m *graph.Machine, ec *domain.Context, t *graph.Transition, phase string, fn func() action.Result) error {
	_, err := d.execute(ctx, m, ec, t, phase, fn)
	return err
}

// advance schedules whatever follows the hop: forked siblings, the next
// event, the pseudo-final hop of a final state, or nothing.
func (d *Dispatcher) advance(ctx context.Context, m *graph.Machine, ec *domain.Context, event string, forks []*domain.Context, out *Outcome) error {
	if event == "" {
		if len(forks) > 0 {
			d.logger.WarnContext(ctx, "forked contexts dropped: no event to fire", "ctx", ec, "forks", len(forks))
		}
		return d.settle(ctx, m, ec, out)
	}
	if !domain.ValidName(event) {
		return domain.Permanent(&domain.InvalidEventError{State: ec.CurrentState, Event: event})
	}
	next, err := m.Transition(ec.CurrentState, event)
	if err != nil {
		return domain.Permanent(err)
	}
	out.Event = event

	if len(forks) > 0 {
		var mu sync.Mutex
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(d.forkLimit)
		for _, fork := range forks {
			g.Go(func() error {
				name, dup, err := d.dispatchNext(gctx, m, fork, next)
				if err != nil {
					return err
				}
				mu.Lock()
				defer mu.Unlock()
				if name != "" {
					out.record(name, dup)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}

	name, dup, err := d.dispatchNext(ctx, m, ec, next)
	if err != nil {
		return err
	}
	if name != "" {
		out.record(name, dup)
	}
	return nil
}

// settle handles a hop that produced no event.
func (d *Dispatcher) settle(ctx context.Context, m *graph.Machine, ec *domain.Context, out *Outcome) error {
	state, err := m.State(ec.CurrentState)
	if err != nil {
		return domain.Permanent(err)
	}
	switch {
	case state.Final:
		out.Final = true
		if state.Exit == nil {
			return nil
		}
		name, dup, err := d.enqueueHop(ctx, m, ec, state.Transitions[domain.PseudoFinal], 0)
		if err != nil {
			return err
		}
		out.record(name, dup)
	case ec.Terminated:
		out.Terminated = true
	default:
		d.logger.Log(ctx, logging.LevelCritical, "dead end: non-final state returned no event", "ctx", ec)
	}
	return nil
}

// dispatchNext schedules ec to fire t, either as a plain task or by
// depositing it into the fan-in batch of t's target.
func (d *Dispatcher) dispatchNext(ctx context.Context, m *graph.Machine, ec *domain.Context, t *graph.Transition) (string, bool, error) {
	if t.Target.IsFanIn() {
		return d.depositWork(ctx, m, ec, t)
	}
	return d.enqueueHop(ctx, m, ec, t, t.Countdown)
}

// enqueueHop enqueues the task that fires t on ec under its deterministic
// name. A duplicate name is not an error: the hop was already scheduled.
func (d *Dispatcher) enqueueHop(ctx context.Context, m *graph.Machine, ec *domain.Context, t *graph.Transition, delay time.Duration) (string, bool, error) {
	task, err := d.newTask(m, ec, t, ec.TaskName(t.Event, t.Target.Name), delay)
	if err != nil {
		return "", false, err
	}
	return d.submit(ctx, ec, task)
}

func (d *Dispatcher) newTask(m *graph.Machine, ec *domain.Context, t *graph.Transition, name string, delay time.Duration) (domain.Task, error) {
	snapshot := *ec
	snapshot.RetryCount = 0
	payload, err := snapshot.Encode()
	if err != nil {
		return domain.Task{}, domain.Permanent(err)
	}
	now := d.now()
	return domain.Task{
		Name:  name,
		Queue: t.Queue,
		Route: domain.Route{
			Machine: m.Name,
			State:   ec.CurrentState,
			Event:   t.Event,
			Target:  t.Target.Name,
		},
		Payload: payload,
		ETA:     now.Add(delay),
		Retry:   t.Retry,
		Created: now,
	}, nil
}

func (d *Dispatcher) submit(ctx context.Context, ec *domain.Context, task domain.Task) (string, bool, error) {
	err := d.queue.Enqueue(ctx, task)
	if errors.Is(err, domain.ErrDuplicateTask) {
		d.logger.DebugContext(ctx, "task already enqueued", "task", task.Name)
		d.emitTaskQueued(ctx, ec, task.Name, true)
		return task.Name, true, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to enqueue %s: %w", task.Name, err)
	}
	d.emitTaskQueued(ctx, ec, task.Name, false)
	return task.Name, false, nil
}
