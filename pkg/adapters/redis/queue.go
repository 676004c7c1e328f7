package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aretw0/fantasm/pkg/domain"
	backend "github.com/redis/go-redis/v9"
)

// DefaultTombstoneTTL is how long task names are remembered.
const DefaultTombstoneTTL = 7 * 24 * time.Hour

// leaseScript pops the first due task id and its body atomically.
var leaseScript = backend.NewScript(`
local ids = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, 1)
if #ids == 0 then
	return false
end
redis.call("ZREM", KEYS[1], ids[1])
local body = redis.call("HGET", KEYS[2], ids[1])
redis.call("HDEL", KEYS[2], ids[1])
return body
`)

// Queue implements ports.TaskQueue and ports.TaskSource using Redis.
// Tasks are scheduled in a ZSET scored by ETA (microseconds); ids carry a
// zero-padded sequence number so tasks with equal ETA are leased in
// enqueue order. Names are reserved with SET NX tombstones that outlive
// delivery.
type Queue struct {
	client       *backend.Client
	prefix       string
	tombstoneTTL time.Duration
}

// NewQueue creates a queue on client. A zero tombstoneTTL uses
// DefaultTombstoneTTL.
func NewQueue(client *backend.Client, tombstoneTTL time.Duration, opts ...Option) *Queue {
	o := buildOptions(opts)
	if tombstoneTTL <= 0 {
		tombstoneTTL = DefaultTombstoneTTL
	}
	return &Queue{client: client, prefix: o.prefix + "queue:", tombstoneTTL: tombstoneTTL}
}

func (q *Queue) scheduleKey() string { return q.prefix + "schedule" }
func (q *Queue) tasksKey() string    { return q.prefix + "tasks" }
func (q *Queue) seqKey() string      { return q.prefix + "seq" }
func (q *Queue) nameKey(name string) string {
	return q.prefix + "name:" + name
}

// Enqueue reserves the task name and schedules the task.
func (q *Queue) Enqueue(ctx context.Context, task domain.Task) error {
	if task.Name != "" {
		ok, err := q.client.SetNX(ctx, q.nameKey(task.Name), "1", q.tombstoneTTL).Result()
		if err != nil {
			return fmt.Errorf("failed to reserve task name: %w", err)
		}
		if !ok {
			return domain.ErrDuplicateTask
		}
	}
	if err := q.push(ctx, task, task.ETA); err != nil {
		if task.Name != "" {
			_ = q.client.Del(ctx, q.nameKey(task.Name)).Err()
		}
		return err
	}
	return nil
}

// Requeue schedules task again at eta without touching its tombstone.
func (q *Queue) Requeue(ctx context.Context, task domain.Task, eta time.Time) error {
	return q.push(ctx, task, eta)
}

func (q *Queue) push(ctx context.Context, task domain.Task, eta time.Time) error {
	if eta.IsZero() {
		eta = time.Now()
	}
	task.ETA = eta
	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}
	seq, err := q.client.Incr(ctx, q.seqKey()).Result()
	if err != nil {
		return fmt.Errorf("failed to allocate task id: %w", err)
	}
	id := fmt.Sprintf("%020d", seq)

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.tasksKey(), id, body)
	pipe.ZAdd(ctx, q.scheduleKey(), backend.Z{Score: float64(eta.UnixMicro()), Member: id})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to schedule task: %w", err)
	}
	return nil
}

// Lease pops the earliest task due at now.
func (q *Queue) Lease(ctx context.Context, now time.Time) (*domain.Task, error) {
	body, err := leaseScript.Run(ctx, q.client,
		[]string{q.scheduleKey(), q.tasksKey()},
		strconv.FormatInt(now.UnixMicro(), 10)).Text()
	if errors.Is(err, backend.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lease task: %w", err)
	}
	var task domain.Task
	if err := json.Unmarshal([]byte(body), &task); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task: %w", err)
	}
	return &task, nil
}

// Ping implements ports.Pinger.
func (q *Queue) Ping(ctx context.Context) error { return ping(ctx, q.client) }
