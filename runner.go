package fantasm

import (
	"fmt"

	"github.com/aretw0/fantasm/pkg/ports"
	"github.com/aretw0/fantasm/pkg/worker"
)

// Worker returns a worker that consumes the engine's own queue. The queue
// must also be a ports.TaskSource, as the bundled adapters are; workers for
// an external queue are built with worker.New.
func (e *Engine) Worker(opts ...worker.Option) (*worker.Worker, error) {
	source, ok := e.queue.(ports.TaskSource)
	if !ok {
		return nil, fmt.Errorf("queue %T cannot be consumed: it does not implement ports.TaskSource", e.queue)
	}
	defaults := []worker.Option{worker.WithLogger(e.logger), worker.WithClock(e.now)}
	return worker.New(e, source, append(defaults, opts...)...), nil
}
