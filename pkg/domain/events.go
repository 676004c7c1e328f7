package domain

import (
	"context"
	"time"
)

// EventType defines the category of a lifecycle event.
type EventType string

const (
	EventStateEnter   EventType = "state_enter"
	EventStateExit    EventType = "state_exit"
	EventTaskQueued   EventType = "task_queued"
	EventActionFailed EventType = "action_failed"
	EventFanIn        EventType = "fan_in"
)

// EventBase contains common fields for all events.
type EventBase struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	Machine   string    `json:"machine"`
	Instance  string    `json:"instance"`
}

// StateEvent reports entry into or exit from a state.
type StateEvent struct {
	EventBase
	State string `json:"state"`
	Event string `json:"event"`
	Step  int    `json:"step"`
}

// TaskEvent reports a task handed to the queue. Duplicate is set when the
// queue rejected the name because it was already enqueued.
type TaskEvent struct {
	EventBase
	Task      string `json:"task"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// ActionEvent reports a failed action.
type ActionEvent struct {
	EventBase
	State    string        `json:"state"`
	Phase    string        `json:"phase"`
	Err      error         `json:"-"`
	Terminal bool          `json:"terminal"`
	Duration time.Duration `json:"duration"`
}

// FanInEvent reports a merge-join.
type FanInEvent struct {
	EventBase
	State     string `json:"state"`
	WorkIndex string `json:"work_index"`
	Merged    int    `json:"merged"`
}

// LifecycleHooks defines callbacks for engine observability.
type LifecycleHooks struct {
	OnStateEnter   func(context.Context, *StateEvent)
	OnStateExit    func(context.Context, *StateEvent)
	OnTaskQueued   func(context.Context, *TaskEvent)
	OnActionFailed func(context.Context, *ActionEvent)
	OnFanIn        func(context.Context, *FanInEvent)
}

// Combine returns hooks that call h first and then other.
func (h LifecycleHooks) Combine(other LifecycleHooks) LifecycleHooks {
	return LifecycleHooks{
		OnStateEnter:   chain(h.OnStateEnter, other.OnStateEnter),
		OnStateExit:    chain(h.OnStateExit, other.OnStateExit),
		OnTaskQueued:   chain(h.OnTaskQueued, other.OnTaskQueued),
		OnActionFailed: chain(h.OnActionFailed, other.OnActionFailed),
		OnFanIn:        chain(h.OnFanIn, other.OnFanIn),
	}
}

func chain[E any](a, b func(context.Context, *E)) func(context.Context, *E) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx context.Context, e *E) {
		a(ctx, e)
		b(ctx, e)
	}
}
