package runtime

import (
	"context"

	"github.com/aretw0/fantasm/pkg/domain"
	"github.com/aretw0/fantasm/pkg/graph"
)

func (d *Dispatcher) base(ec *domain.Context, typ domain.EventType) domain.EventBase {
	return domain.EventBase{
		Timestamp: d.now(),
		Type:      typ,
		Machine:   ec.Machine,
		Instance:  ec.Instance,
	}
}

func (d *Dispatcher) emitStateEnter(ctx context.Context, ec *domain.Context, t *graph.Transition) {
	if d.hooks.OnStateEnter == nil {
		return
	}
	d.hooks.OnStateEnter(ctx, &domain.StateEvent{
		EventBase: d.base(ec, domain.EventStateEnter),
		State:     t.Target.Name,
		Event:     t.Event,
		Step:      ec.Step,
	})
}

func (d *Dispatcher) emitStateExit(ctx context.Context, ec *domain.Context, t *graph.Transition) {
	if d.hooks.OnStateExit == nil {
		return
	}
	d.hooks.OnStateExit(ctx, &domain.StateEvent{
		EventBase: d.base(ec, domain.EventStateExit),
		State:     t.Source.Name,
		Event:     t.Event,
		Step:      ec.Step,
	})
}

func (d *Dispatcher) emitTaskQueued(ctx context.Context, ec *domain.Context, name string, duplicate bool) {
	if d.hooks.OnTaskQueued == nil {
		return
	}
	d.hooks.OnTaskQueued(ctx, &domain.TaskEvent{
		EventBase: d.base(ec, domain.EventTaskQueued),
		Task:      name,
		Duplicate: duplicate,
	})
}

func (d *Dispatcher) emitFanIn(ctx context.Context, ec *domain.Context, merged int) {
	if d.hooks.OnFanIn == nil {
		return
	}
	d.hooks.OnFanIn(ctx, &domain.FanInEvent{
		EventBase: d.base(ec, domain.EventFanIn),
		State:     ec.CurrentState,
		WorkIndex: ec.WorkIndex,
		Merged:    merged,
	})
}
