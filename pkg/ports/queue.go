package ports

import (
	"context"
	"time"

	"github.com/aretw0/fantasm/pkg/domain"
)

// TaskQueue accepts work for later, at-least-once execution.
type TaskQueue interface {
	// Enqueue schedules task for delivery at task.ETA (or immediately when
	// zero). It returns domain.ErrDuplicateTask if a task with the same name
	// was ever enqueued, even if it has since completed.
	Enqueue(ctx context.Context, task domain.Task) error
}

// TaskSource is the consumer side of a TaskQueue.
type TaskSource interface {
	// Lease removes and returns the next task due at now. It returns
	// (nil, nil) when nothing is due.
	Lease(ctx context.Context, now time.Time) (*domain.Task, error)

	// Requeue schedules a leased task again at eta, bypassing the name check.
	Requeue(ctx context.Context, task domain.Task, eta time.Time) error
}

// Pinger is implemented by adapters that can verify their backing service.
type Pinger interface {
	Ping(ctx context.Context) error
}
