package fantasm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/aretw0/fantasm/internal/logging"
	"github.com/aretw0/fantasm/internal/runtime"
	"github.com/aretw0/fantasm/pkg/action"
	"github.com/aretw0/fantasm/pkg/adapters/memory"
	"github.com/aretw0/fantasm/pkg/config"
	"github.com/aretw0/fantasm/pkg/domain"
	"github.com/aretw0/fantasm/pkg/graph"
	"github.com/aretw0/fantasm/pkg/ports"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultHopTimeout bounds the wall-clock time of a single hop.
const DefaultHopTimeout = 10 * time.Minute

const tracerName = "github.com/aretw0/fantasm"

// Engine is the high-level entry point for the Fantasm library.
// It owns the resolved graph and the ports, and turns delivered tasks into
// dispatcher hops.
type Engine struct {
	graph      atomic.Pointer[graph.Graph]
	dispatcher *runtime.Dispatcher

	queue  ports.TaskQueue
	store  ports.DurableStore
	cache  ports.CounterCache
	hooks  domain.LifecycleHooks
	logger *slog.Logger
	tracer trace.Tracer

	hopTimeout  time.Duration
	now         func() time.Time
	runtimeOpts []runtime.Option
}

// Option defines a functional option for configuring the Engine.
type Option func(*Engine)

// WithLogger sets a custom structured logger for the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithQueue sets the task queue hops are enqueued on.
func WithQueue(q ports.TaskQueue) Option {
	return func(e *Engine) {
		e.queue = q
	}
}

// WithStore sets the durable store used for semaphores and work packages.
func WithStore(s ports.DurableStore) Option {
	return func(e *Engine) {
		e.store = s
	}
}

// WithCache sets the counter cache used by fan-in locks and semaphores.
func WithCache(c ports.CounterCache) Option {
	return func(e *Engine) {
		e.cache = c
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(e *Engine) {
		e.hooks = hooks
	}
}

// WithTracer overrides the OpenTelemetry tracer (default: the global provider).
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = tracer
	}
}

// WithVisibilityDelay makes fan-in batch tasks wait before querying work
// packages. Set it to the index lag of the DurableStore in use.
func WithVisibilityDelay(d time.Duration) Option {
	return func(e *Engine) {
		e.runtimeOpts = append(e.runtimeOpts, runtime.WithVisibilityDelay(d))
	}
}

// WithLockPolling bounds how long a fan-in batch waits for writers.
func WithLockPolling(iterations int, interval time.Duration) Option {
	return func(e *Engine) {
		e.runtimeOpts = append(e.runtimeOpts, runtime.WithLockPolling(iterations, interval))
	}
}

// WithHopTimeout sets the per-hop deadline (default DefaultHopTimeout).
func WithHopTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.hopTimeout = d
	}
}

// WithClock sets the clock used for task ETAs and instance names.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// New creates an engine for g. Ports default to the in-memory adapters.
func New(g *graph.Graph, opts ...Option) (*Engine, error) {
	if g == nil {
		return nil, errors.New("graph is required")
	}
	eng := &Engine{
		hopTimeout: DefaultHopTimeout,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(eng)
	}

	if eng.queue == nil {
		eng.queue = memory.NewQueue()
	}
	if eng.store == nil {
		eng.store = memory.NewStore()
	}
	if eng.cache == nil {
		eng.cache = memory.NewCache()
	}
	if eng.logger == nil {
		eng.logger = logging.NewNop()
	}
	if eng.tracer == nil {
		eng.tracer = otel.Tracer(tracerName)
	}

	runtimeOpts := []runtime.Option{
		runtime.WithLogger(eng.logger),
		runtime.WithLifecycleHooks(eng.hooks),
		runtime.WithClock(eng.now),
	}
	runtimeOpts = append(runtimeOpts, eng.runtimeOpts...)
	eng.dispatcher = runtime.NewDispatcher(eng.queue, eng.store, eng.cache, runtimeOpts...)
	eng.graph.Store(g)
	return eng, nil
}

// Load reads a machine definition file, resolves it against reg and
// creates an engine for it.
func Load(path string, reg *action.Registry, opts ...Option) (*Engine, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	g, err := graph.Resolve(cfg, reg)
	if err != nil {
		return nil, err
	}
	return New(g, opts...)
}

// Graph returns the graph currently in use.
func (e *Engine) Graph() *graph.Graph {
	return e.graph.Load()
}

// Reload swaps the graph. Hops already running finish on the old one.
func (e *Engine) Reload(g *graph.Graph) {
	if g != nil {
		e.graph.Store(g)
	}
}

// Queue returns the task queue the engine enqueues on.
func (e *Engine) Queue() ports.TaskQueue {
	return e.queue
}

// NewInstanceName returns a fresh instance name for machine.
func (e *Engine) NewInstanceName(machine string) string {
	return fmt.Sprintf("%s-%s-%s", machine, e.now().UTC().Format("20060102150405"), uuid.NewString()[:8])
}

// Start creates a new instance of machine with the given data and enqueues
// its first hop. It returns the instance name.
func (e *Engine) Start(ctx context.Context, machine string, data map[string]any) (string, error) {
	instance := e.NewInstanceName(machine)
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	mem := domain.NewMemory()
	for _, k := range keys {
		mem.Set(k, data[k])
	}
	return instance, e.StartInstance(ctx, machine, instance, mem)
}

// StartInstance is Start with a caller-chosen instance name. Starting the
// same instance twice enqueues a single first hop.
func (e *Engine) StartInstance(ctx context.Context, machine, instance string, data *domain.Memory) error {
	m, err := e.Graph().Machine(machine)
	if err != nil {
		return err
	}
	ec := domain.NewContext(m.Name, instance, data)
	if err := m.CoerceContext(ec); err != nil {
		return err
	}
	name, dup, err := e.dispatcher.Schedule(ctx, m, ec, domain.PseudoInit)
	if err != nil {
		return err
	}
	e.logger.InfoContext(ctx, "instance started", "machine", m.Name, "instance", instance, "task", name, "duplicate", dup)
	return nil
}

// HandleTask implements ports.TaskHandler.
func (e *Engine) HandleTask(ctx context.Context, task domain.Task) error {
	return e.Handle(ctx, Request{
		Machine:    task.Route.Machine,
		State:      task.Route.State,
		Event:      task.Route.Event,
		Payload:    task.Payload,
		RetryCount: task.RetryCount,
		TaskName:   task.Name,
	})
}

// Handle runs one hop described by req. A nil error acknowledges the
// delivery; errors for which domain.IsPermanent reports true must not be
// retried, any other error asks for redelivery.
func (e *Engine) Handle(ctx context.Context, req Request) error {
	if err := e.preflight(ctx); err != nil {
		e.logger.WarnContext(ctx, "preflight failed", "err", err)
		return err
	}

	m, err := e.Graph().Machine(req.Machine)
	if err != nil {
		return domain.Permanent(err)
	}
	ec, event, err := e.contextFor(m, req)
	if err != nil {
		return domain.Permanent(err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.hopTimeout)
	defer cancel()
	ctx, span := e.tracer.Start(ctx, "fantasm.hop", trace.WithAttributes(
		attribute.String("fantasm.machine", m.Name),
		attribute.String("fantasm.instance", ec.Instance),
		attribute.String("fantasm.state", ec.CurrentState),
		attribute.String("fantasm.event", event),
		attribute.Int("fantasm.retry_count", req.RetryCount),
	))
	defer span.End()

	state := ec.CurrentState
	start := e.now()
	out, err := e.dispatcher.Dispatch(ctx, runtime.Hop{
		Machine:    m,
		Context:    ec,
		Event:      event,
		TaskName:   req.TaskName,
		RetryCount: req.RetryCount,
	})
	if err != nil {
		err = e.classify(ctx, m, ec, state, event, req.RetryCount, err, e.now().Sub(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	span.SetAttributes(
		attribute.String("fantasm.target", out.State),
		attribute.Int("fantasm.enqueued", len(out.Enqueued)),
	)
	e.logger.DebugContext(ctx, "hop completed",
		"ctx", out.Context,
		"event", event,
		"next", out.Event,
		"enqueued", len(out.Enqueued),
		"duplicates", out.Duplicates,
		"merged", out.Merged,
		"final", out.Final)
	return nil
}

// contextFor rebuilds the execution context carried by req. A request
// without state and event starts a new instance.
func (e *Engine) contextFor(m *graph.Machine, req Request) (*domain.Context, string, error) {
	if req.State == "" && req.Event == "" {
		instance := req.Instance
		if instance == "" {
			instance = e.NewInstanceName(m.Name)
		}
		ec := domain.NewContext(m.Name, instance, nil)
		if len(req.Payload) > 0 {
			decoded, err := domain.DecodeContext(req.Payload)
			if err != nil {
				return nil, "", err
			}
			ec.Data = decoded.Data
		}
		return ec, domain.PseudoInit, m.CoerceContext(ec)
	}

	var ec *domain.Context
	if len(req.Payload) > 0 {
		decoded, err := domain.DecodeContext(req.Payload)
		if err != nil {
			return nil, "", err
		}
		ec = decoded
	} else {
		ec = domain.NewContext(m.Name, req.Instance, nil)
	}
	if req.Instance != "" {
		ec.Instance = req.Instance
	}
	if ec.Instance == "" {
		return nil, "", errors.New("request carries no instance name")
	}
	ec.Machine = m.Name
	ec.CurrentState = req.State
	return ec, req.Event, m.CoerceContext(ec)
}

// preflight pings every port that supports it.
func (e *Engine) preflight(ctx context.Context) error {
	for _, p := range []any{e.queue, e.store, e.cache} {
		pinger, ok := p.(ports.Pinger)
		if !ok {
			continue
		}
		if err := pinger.Ping(ctx); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrServiceUnavailable, err)
		}
	}
	return nil
}

// classify logs a failed hop and decides whether it may be retried. Action
// failures become permanent once the transition's retry budget is spent.
func (e *Engine) classify(ctx context.Context, m *graph.Machine, ec *domain.Context, state, event string, retryCount int, err error, took time.Duration) error {
	attempts := 0
	if t, lookupErr := m.Transition(state, event); lookupErr == nil {
		attempts = t.Retry.Attempts
	}

	var actionErr *domain.ActionError
	isAction := errors.As(err, &actionErr)
	if !domain.IsPermanent(err) && isAction && retryCount >= attempts {
		err = domain.Permanent(err)
	}
	terminal := domain.IsPermanent(err)

	attrs := []any{
		"machine", m.Name,
		"instance", ec.Instance,
		"state", state,
		"event", event,
		"retry_count", retryCount,
		"err", err,
	}
	if terminal {
		e.logger.Log(ctx, logging.LevelCritical, "hop failed permanently; instance stays at its starting state", attrs...)
	} else {
		e.logger.WarnContext(ctx, "hop failed; will be retried", attrs...)
	}

	if isAction && e.hooks.OnActionFailed != nil {
		e.hooks.OnActionFailed(ctx, &domain.ActionEvent{
			EventBase: domain.EventBase{
				Timestamp: e.now(),
				Type:      domain.EventActionFailed,
				Machine:   m.Name,
				Instance:  ec.Instance,
			},
			State:    actionErr.State,
			Phase:    actionErr.Phase,
			Err:      actionErr.Err,
			Terminal: terminal,
			Duration: took,
		})
	}
	return err
}
