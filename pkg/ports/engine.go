package ports

import (
	"context"

	"github.com/aretw0/fantasm/pkg/domain"
)

// TaskHandler runs one delivered task. It is the interface driving adapters
// (workers, HTTP endpoints) call into.
//
// A nil error acknowledges the task. An error for which domain.IsPermanent
// reports true must not be retried; any other error asks for redelivery.
type TaskHandler interface {
	HandleTask(ctx context.Context, task domain.Task) error
}
