package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/aretw0/fantasm/pkg/domain"
)

// Queue implements ports.TaskQueue and ports.TaskSource in memory.
// Names are remembered forever, so a name can be enqueued only once.
// Safe for concurrent use.
type Queue struct {
	mu      sync.Mutex
	pending []queued
	names   map[string]struct{}
	seq     uint64
}

type queued struct {
	task domain.Task
	seq  uint64
}

// NewQueue creates an empty in-memory queue.
func NewQueue() *Queue {
	return &Queue{names: make(map[string]struct{})}
}

// Enqueue adds task unless its name was seen before.
func (q *Queue) Enqueue(ctx context.Context, task domain.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if task.Name != "" {
		if _, dup := q.names[task.Name]; dup {
			return domain.ErrDuplicateTask
		}
		q.names[task.Name] = struct{}{}
	}
	q.push(task)
	return nil
}

// Requeue schedules task again at eta.
func (q *Queue) Requeue(ctx context.Context, task domain.Task, eta time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	task.ETA = eta
	q.push(task)
	return nil
}

func (q *Queue) push(task domain.Task) {
	q.seq++
	q.pending = append(q.pending, queued{task: task, seq: q.seq})
	sort.SliceStable(q.pending, func(i, j int) bool {
		a, b := q.pending[i], q.pending[j]
		if !a.task.ETA.Equal(b.task.ETA) {
			return a.task.ETA.Before(b.task.ETA)
		}
		return a.seq < b.seq
	})
}

// Lease pops the earliest task whose ETA is not after now.
func (q *Queue) Lease(ctx context.Context, now time.Time) (*domain.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 || q.pending[0].task.ETA.After(now) {
		return nil, nil
	}
	task := q.pending[0].task
	q.pending = q.pending[1:]
	return &task, nil
}

// Len returns the number of tasks not yet leased.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Pending returns a snapshot of the tasks not yet leased, in delivery order.
func (q *Queue) Pending() []domain.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]domain.Task, len(q.pending))
	for i, p := range q.pending {
		out[i] = p.task
	}
	return out
}

// NopQueue accepts and discards every task. Useful to run a single hop
// without scheduling its successors.
type NopQueue struct{}

// Enqueue implements ports.TaskQueue.
func (NopQueue) Enqueue(ctx context.Context, task domain.Task) error { return nil }
