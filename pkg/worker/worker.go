package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/fantasm/internal/logging"
	"github.com/aretw0/fantasm/pkg/domain"
	"github.com/aretw0/fantasm/pkg/ports"
	"golang.org/x/sync/errgroup"
)

// ErrDropped wraps the cause of a task that will not be delivered again.
var ErrDropped = errors.New("task dropped")

// Worker pulls tasks from a TaskSource and executes them with a handler.
type Worker struct {
	handler ports.TaskHandler
	source  ports.TaskSource

	logger       *slog.Logger
	now          func() time.Time
	pollInterval time.Duration
	concurrency  int
}

// Option configures a Worker.
type Option func(*Worker)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) { w.logger = logger }
}

// WithClock sets the clock used to decide which tasks are due.
func WithClock(now func() time.Time) Option {
	return func(w *Worker) { w.now = now }
}

// WithPollInterval sets how long Run waits when no task is due.
func WithPollInterval(d time.Duration) Option {
	return func(w *Worker) { w.pollInterval = d }
}

// WithConcurrency sets the number of tasks Run processes in parallel.
func WithConcurrency(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.concurrency = n
		}
	}
}

// New creates a new Worker.
func New(handler ports.TaskHandler, source ports.TaskSource, opts ...Option) *Worker {
	w := &Worker{
		handler:      handler,
		source:       source,
		logger:       logging.NewNop(),
		now:          time.Now,
		pollInterval: 200 * time.Millisecond,
		concurrency:  1,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// ProcessOne leases a single due task and processes it.
// Returns (processed, error):
//   - processed == false, err == nil: no task was due.
//   - processed == true, err == nil: the task succeeded or was requeued.
//   - processed == true, err wraps ErrDropped: the task failed for good.
//
// Lease errors are returned with processed == false.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	task, err := w.source.Lease(ctx, w.now())
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, nil
	}

	herr := w.handler.HandleTask(ctx, *task)
	if herr == nil {
		return true, nil
	}
	return true, w.retry(ctx, *task, herr)
}

// retry applies the task's retry policy to a failure.
func (w *Worker) retry(ctx context.Context, task domain.Task, cause error) error {
	now := w.now()
	attrs := []any{"task", task.Name, "retry_count", task.RetryCount, "err", cause}
	switch {
	case domain.IsPermanent(cause):
		w.logger.InfoContext(ctx, "dropping task after permanent failure", attrs...)
		return fmt.Errorf("%w: %w", ErrDropped, cause)
	case task.RetryCount >= task.Retry.Attempts:
		w.logger.Log(ctx, logging.LevelCritical, "dropping task: retries exhausted", attrs...)
		return fmt.Errorf("%w: retries exhausted: %w", ErrDropped, cause)
	case task.Expired(now):
		w.logger.Log(ctx, logging.LevelCritical, "dropping task: age limit exceeded", attrs...)
		return fmt.Errorf("%w: age limit exceeded: %w", ErrDropped, cause)
	}

	task.RetryCount++
	eta := now.Add(task.Retry.Backoff(task.RetryCount))
	if err := w.source.Requeue(ctx, task, eta); err != nil {
		return fmt.Errorf("failed to requeue %s: %w", task.Name, err)
	}
	w.logger.DebugContext(ctx, "task requeued", "task", task.Name, "retry_count", task.RetryCount, "eta", eta)
	return nil
}

// Drain processes due tasks until none is left or limit tasks were
// processed (limit <= 0 means no limit). Handler failures do not stop the
// drain; it returns the number of tasks processed.
func (w *Worker) Drain(ctx context.Context, limit int) (int, error) {
	n := 0
	for limit <= 0 || n < limit {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		processed, err := w.ProcessOne(ctx)
		if !processed {
			return n, err
		}
		n++
		if err != nil {
			w.logger.DebugContext(ctx, "drain continues after failure", "err", err)
		}
	}
	return n, nil
}

// Run processes tasks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		g.Go(func() error {
			return w.loop(ctx)
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (w *Worker) loop(ctx context.Context) error {
	for {
		processed, err := w.ProcessOne(ctx)
		if err != nil && !processed {
			w.logger.ErrorContext(ctx, "failed to lease task", "err", err)
		}
		if processed {
			continue
		}
		t := time.NewTimer(w.pollInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}
