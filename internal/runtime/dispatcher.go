package runtime

import (
	"context"
	"log/slog"
	"time"

	"github.com/aretw0/fantasm/internal/fanin"
	"github.com/aretw0/fantasm/internal/logging"
	"github.com/aretw0/fantasm/internal/semaphore"
	"github.com/aretw0/fantasm/pkg/action"
	"github.com/aretw0/fantasm/pkg/domain"
	"github.com/aretw0/fantasm/pkg/graph"
	"github.com/aretw0/fantasm/pkg/ports"
)

// Dispatcher runs single hops of a machine. It holds no per-instance state:
// everything a hop needs arrives in the Hop and leaves as queued tasks.
type Dispatcher struct {
	queue ports.TaskQueue
	store ports.DurableStore
	cache ports.CounterCache
	sem   *semaphore.Semaphore

	logger          *slog.Logger
	hooks           domain.LifecycleHooks
	now             func() time.Time
	sleep           func(ctx context.Context, d time.Duration) error
	visibilityDelay time.Duration
	lockOpts        []fanin.Option
	forkLimit       int
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(d *Dispatcher) { d.hooks = hooks }
}

// WithClock sets the clock used for ETAs and record timestamps.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// WithVisibilityDelay sets how long a batch task waits after taking the read
// lock before querying work packages, to let store indexes catch up.
func WithVisibilityDelay(delay time.Duration) Option {
	return func(d *Dispatcher) { d.visibilityDelay = delay }
}

// WithLockPolling bounds the fan-in reader busy-wait.
func WithLockPolling(iterations int, interval time.Duration) Option {
	return func(d *Dispatcher) {
		d.lockOpts = append(d.lockOpts, fanin.WithPolling(iterations, interval))
	}
}

// WithForkLimit bounds how many forked siblings are enqueued concurrently.
func WithForkLimit(n int) Option {
	return func(d *Dispatcher) { d.forkLimit = n }
}

// NewDispatcher creates a dispatcher on the given ports.
func NewDispatcher(queue ports.TaskQueue, store ports.DurableStore, cache ports.CounterCache, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		queue:     queue,
		store:     store,
		cache:     cache,
		logger:    logging.NewNop(),
		now:       time.Now,
		sleep:     sleepCtx,
		forkLimit: 8,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.sem = semaphore.New(store, cache, semaphore.WithLogger(d.logger), semaphore.WithClock(d.now))
	d.lockOpts = append(d.lockOpts, fanin.WithLogger(d.logger))
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Hop is one delivered task: fire Event on Context, which is parked in
// Context.CurrentState.
type Hop struct {
	Machine    *graph.Machine
	Context    *domain.Context
	Event      string
	TaskName   string
	RetryCount int
}

// Outcome summarises a completed hop.
type Outcome struct {
	// State is the state the hop entered.
	State string
	// Context is the context that carried on: the hop's own, or the
	// representative of a merged fan-in batch.
	Context *domain.Context
	// Event is the next event emitted, if any.
	Event string
	// Enqueued lists the task names accepted by the queue.
	Enqueued []string
	// Duplicates counts enqueues rejected as already seen.
	Duplicates int
	// Merged is the batch size of a fan-in hop.
	Merged     int
	Final      bool
	Terminated bool
	// Deferred is set when the hop only deposited a work package or the
	// batch task was already handled by a previous delivery.
	Deferred bool
}

func (o *Outcome) record(name string, duplicate bool) {
	if duplicate {
		o.Duplicates++
		return
	}
	o.Enqueued = append(o.Enqueued, name)
}

// Dispatch runs one hop. Returned errors are classified with
// domain.IsPermanent; anything else should be retried by the queue.
func (d *Dispatcher) Dispatch(ctx context.Context, hop Hop) (*Outcome, error) {
	m, ec := hop.Machine, hop.Context
	t, err := m.Transition(ec.CurrentState, hop.Event)
	if err != nil {
		return nil, domain.Permanent(err)
	}
	ec.StartingState = ec.CurrentState
	ec.StartingEvent = hop.Event
	ec.RetryCount = hop.RetryCount

	if t.Target.IsFanIn() {
		return d.dispatchBatch(ctx, hop, t)
	}

	origin := ec.Clone()
	out := &Outcome{State: t.Target.Name, Context: ec}

	if err := d.leave(ctx, m, ec, t); err != nil {
		return nil, err
	}
	if t.Action != nil {
		if err := d.run(ctx, m, ec, t, "transition", func() action.Result {
			return t.Action.Single().Execute(ctx, ec)
		}); err != nil {
			return nil, err
		}
	}

	d.enter(ctx, m, ec, t)
	target := t.Target
	if target.Entry != nil {
		if err := d.run(ctx, m, ec, t, "entry", func() action.Result {
			return target.Entry.Single().Execute(ctx, ec)
		}); err != nil {
			return nil, err
		}
	}

	if target.Continuation {
		if err := d.continueWith(ctx, m, ec, origin, t, out); err != nil {
			return nil, err
		}
	}

	var event string
	if target.Do != nil {
		res, err := d.execute(ctx, m, ec, t, "do", func() action.Result {
			return target.Do.Single().Execute(ctx, ec)
		})
		if err != nil {
			return nil, err
		}
		event = res.Event
	}

	if err := d.advance(ctx, m, ec, event, ec.Forks(), out); err != nil {
		return nil, err
	}
	ec.ClearForks()
	return out, nil
}

// leave runs the exit action of the state being left. Exit actions never
// run on the way into continuation and fan-in states.
func (d *Dispatcher) leave(ctx context.Context, m *graph.Machine, ec *domain.Context, t *graph.Transition) error {
	if t.Target.Continuation || t.Target.IsFanIn() {
		return nil
	}
	if t.Source.Exit != nil {
		if err := d.run(ctx, m, ec, t, "exit", func() action.Result {
			return t.Source.Exit.Single().Execute(ctx, ec)
		}); err != nil {
			return err
		}
	}
	if !t.Source.IsPseudo() {
		d.emitStateExit(ctx, ec, t)
	}
	return nil
}

// enter moves ec into the target state. Pseudo transitions do not count
// as steps.
func (d *Dispatcher) enter(ctx context.Context, m *graph.Machine, ec *domain.Context, t *graph.Transition) {
	ec.CurrentState = t.Target.Name
	if t.Event != domain.PseudoInit && t.Event != domain.PseudoFinal {
		ec.Step++
	}
	d.emitStateEnter(ctx, ec, t)
}

// continueWith asks the continuation for the next cursor and, when there is
// one, schedules origin to repeat this hop with it.
func (d *Dispatcher) continueWith(ctx context.Context, m *graph.Machine, ec, origin *domain.Context, t *graph.Transition, out *Outcome) error {
	var next string
	err := d.run(ctx, m, ec, t, "continuation", func() action.Result {
		var err error
		next, err = t.Target.Do.Paged().Continuation(ctx, ec, ec.Token)
		return action.Retry(err)
	})
	if err != nil || next == "" {
		return err
	}
	cont := origin.ContinueWith(next)
	name, dup, err := d.enqueueHop(ctx, m, cont, t, 0)
	if err != nil {
		return err
	}
	out.record(name, dup)
	return nil
}

// Schedule enqueues the hop that fires event on ec from its current state.
// The engine uses it to start instances through the pseudo-init hop.
func (d *Dispatcher) Schedule(ctx context.Context, m *graph.Machine, ec *domain.Context, event string) (string, bool, error) {
	t, err := m.Transition(ec.CurrentState, event)
	if err != nil {
		return "", false, domain.Permanent(err)
	}
	return d.dispatchNext(ctx, m, ec, t)
}
