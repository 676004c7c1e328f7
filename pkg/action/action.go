// Package action defines the capability interfaces caller code implements
// and the registry that maps configuration references to them.
package action

import (
	"context"

	"github.com/aretw0/fantasm/pkg/domain"
)

// Result is the explicit outcome of an action. A zero Result means
// "success, no next event".
type Result struct {
	// Event is the next event to fire. Only meaningful for do actions.
	Event string
	// Err is a failure. It is retried unless Fatal is set.
	Err   error
	Fatal bool
}

// Next succeeds and fires event next.
func Next(event string) Result { return Result{Event: event} }

// Done succeeds without a next event.
func Done() Result { return Result{} }

// Retry reports a recoverable failure; the hop is re-delivered by the queue.
func Retry(err error) Result { return Result{Err: err} }

// Fail reports a failure that must not be retried.
func Fail(err error) Result { return Result{Err: err, Fatal: true} }

// Action is executed against the context of a single instance.
type Action interface {
	Execute(ctx context.Context, ec *domain.Context) Result
}

// ListAction is executed against the merged contexts of a fan-in batch.
type ListAction interface {
	ExecuteList(ctx context.Context, batch domain.Contexts) Result
}

// ContinuationAction pages through a dataset. Continuation receives the
// current cursor ("" on the first page) and returns the next one, or "" when
// the data is exhausted.
type ContinuationAction interface {
	Action
	Continuation(ctx context.Context, ec *domain.Context, token string) (string, error)
}

// Func adapts a function to Action.
type Func func(ctx context.Context, ec *domain.Context) Result

// Execute implements Action.
func (f Func) Execute(ctx context.Context, ec *domain.Context) Result { return f(ctx, ec) }

// ListFunc adapts a function to ListAction.
type ListFunc func(ctx context.Context, batch domain.Contexts) Result

// ExecuteList implements ListAction.
func (f ListFunc) ExecuteList(ctx context.Context, batch domain.Contexts) Result {
	return f(ctx, batch)
}

// Paged builds a ContinuationAction from its two halves.
func Paged(
	next func(ctx context.Context, ec *domain.Context, token string) (string, error),
	do func(ctx context.Context, ec *domain.Context) Result,
) ContinuationAction {
	return &paged{next: next, do: do}
}

type paged struct {
	next func(ctx context.Context, ec *domain.Context, token string) (string, error)
	do   func(ctx context.Context, ec *domain.Context) Result
}

func (p *paged) Execute(ctx context.Context, ec *domain.Context) Result { return p.do(ctx, ec) }

func (p *paged) Continuation(ctx context.Context, ec *domain.Context, token string) (string, error) {
	return p.next(ctx, ec, token)
}
