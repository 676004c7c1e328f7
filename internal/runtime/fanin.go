package runtime

import (
	"context"
	"errors"

	"github.com/aretw0/fantasm/internal/fanin"
	"github.com/aretw0/fantasm/pkg/action"
	"github.com/aretw0/fantasm/pkg/domain"
	"github.com/aretw0/fantasm/pkg/graph"
	"github.com/aretw0/fantasm/pkg/ports"
)

// depositWork is the writer side of a fan-in: store ec as a work package of
// the current batch and make sure the task of the batch holding it exists.
func (d *Dispatcher) depositWork(ctx context.Context, m *graph.Machine, ec *domain.Context, t *graph.Transition) (string, bool, error) {
	base := ec.FanInTaskNameBase(t.Event, t.Target.Name)
	lock := fanin.NewLock(d.cache, base, d.lockOpts...)

	index, err := lock.CurrentIndex(ctx)
	if err != nil {
		return "", false, err
	}
	if err := lock.AcquireWrite(ctx, index); err != nil {
		return "", false, err
	}
	home, err := d.storeWork(ctx, ec, t, base, index)
	lock.ReleaseWrite(ctx, index)
	if err != nil || home == 0 {
		return "", false, err
	}

	batch := ec.Clone()
	batch.FanInIndex = home
	task, err := d.newTask(m, batch, t, fanin.BatchTaskName(base, home), t.Target.FanIn+t.Countdown)
	if err != nil {
		return "", false, err
	}
	return d.submit(ctx, ec, task)
}

// storeWork writes the work package once per logical hop and returns the
// batch index it lives in, or 0 when it was already consumed. The package
// record is its own run-once guard: Insert either writes it into index or
// returns the copy an earlier delivery wrote, and consumed packages stay
// behind as unindexed tombstones.
func (d *Dispatcher) storeWork(ctx context.Context, ec *domain.Context, t *graph.Transition, base string, index int64) (int64, error) {
	wp := ec.Clone()
	wp.FanInIndex = index
	wp.RetryCount = 0
	payload, err := wp.Encode()
	if err != nil {
		return 0, domain.Permanent(err)
	}
	workIndex := fanin.WorkIndex(base, index)
	rec := ports.Record{
		Kind:    domain.KindWorkPackage,
		Key:     ec.TaskName(t.Event, t.Target.Name),
		Index:   map[string]string{domain.FieldWorkIndex: workIndex},
		Payload: payload,
		Created: d.now().UTC(),
	}
	created, existing, err := d.store.Insert(ctx, rec)
	if err != nil {
		return 0, err
	}
	if created {
		return index, nil
	}

	switch owner := existing.Index[domain.FieldWorkIndex]; owner {
	case "":
		d.logger.InfoContext(ctx, "work package already merged by an earlier batch", "ctx", ec)
		return 0, nil
	case workIndex:
		// Rewrite so an index the first attempt failed to add is restored.
		if err := d.store.Put(ctx, rec); err != nil {
			return 0, err
		}
		return index, nil
	default:
		prev, err := domain.DecodeContext(existing.Payload)
		if err != nil || prev.FanInIndex == 0 {
			d.logger.ErrorContext(ctx, "unreadable work package left in an earlier batch", "ctx", ec, "work_index", owner)
			return 0, nil
		}
		d.logger.InfoContext(ctx, "work package waits in an earlier batch", "ctx", ec, "work_index", owner)
		return prev.FanInIndex, nil
	}
}

// consume turns merged packages into tombstones: the records drop out of
// the batch index but still tell a redelivered hop its package went out.
func (d *Dispatcher) consume(ctx context.Context, keys []string) error {
	var errs []error
	for _, key := range keys {
		errs = append(errs, d.store.Put(ctx, ports.Record{
			Kind:    domain.KindWorkPackage,
			Key:     key,
			Created: d.now().UTC(),
		}))
	}
	return errors.Join(errs...)
}

// dispatchBatch runs a hop into a fan-in state. A plain hop is turned into
// a deposit; a batch task merges every package of its batch and runs the
// target state once on the whole list.
func (d *Dispatcher) dispatchBatch(ctx context.Context, hop Hop, t *graph.Transition) (*Outcome, error) {
	m, ec := hop.Machine, hop.Context
	out := &Outcome{State: t.Target.Name, Context: ec}

	if ec.FanInIndex == 0 {
		name, dup, err := d.depositWork(ctx, m, ec, t)
		if err != nil {
			return nil, err
		}
		if name != "" {
			out.record(name, dup)
		}
		out.Deferred = true
		return out, nil
	}

	batch, keys, err := d.mergeJoin(ctx, hop, t)
	if err != nil {
		return nil, err
	}
	out.Merged = len(batch)
	if len(batch) == 0 {
		d.logger.InfoContext(ctx, "fan-in batch is empty", "ctx", ec, "task", hop.TaskName)
		out.Terminated = true
		out.Deferred = true
		return out, nil
	}

	rep := batch[0]
	if t.Action != nil {
		if err := d.run(ctx, m, rep, t, "transition", func() action.Result {
			return t.Action.List().ExecuteList(ctx, batch)
		}); err != nil {
			return nil, err
		}
	}

	for _, c := range batch {
		c.CurrentState = t.Target.Name
		c.Step++
	}
	d.emitStateEnter(ctx, rep, t)
	d.emitFanIn(ctx, rep, len(batch))

	target := t.Target
	if target.Entry != nil {
		if err := d.run(ctx, m, rep, t, "entry", func() action.Result {
			return target.Entry.List().ExecuteList(ctx, batch)
		}); err != nil {
			return nil, err
		}
	}
	var event string
	if target.Do != nil {
		res, err := d.execute(ctx, m, rep, t, "do", func() action.Result {
			return target.Do.List().ExecuteList(ctx, batch)
		})
		if err != nil {
			return nil, err
		}
		event = res.Event
	}

	var forks []*domain.Context
	for _, c := range batch {
		forks = append(forks, c.Forks()...)
		c.ClearForks()
	}
	rep.ForkPath = nil
	if err := d.advance(ctx, m, rep, event, forks, out); err != nil {
		return nil, err
	}

	if _, _, err := d.sem.TryCommit(ctx, mergedKey(rep.WorkIndex), hop.TaskName); err != nil {
		d.logger.ErrorContext(ctx, "failed to mark fan-in batch as merged", "work_index", rep.WorkIndex, "err", err)
	}
	if err := d.consume(ctx, keys); err != nil {
		d.logger.WarnContext(ctx, "failed to clean up work packages", "work_index", rep.WorkIndex, "err", err)
	}
	out.Context = rep
	return out, nil
}

// mergeJoin is the reader side of a fan-in. It returns the decoded
// contexts of the batch and the keys of their work packages.
func (d *Dispatcher) mergeJoin(ctx context.Context, hop Hop, t *graph.Transition) (domain.Contexts, []string, error) {
	m, ec := hop.Machine, hop.Context
	base := ec.FanInTaskNameBase(t.Event, t.Target.Name)
	workIndex := fanin.WorkIndex(base, ec.FanInIndex)
	if owner, done, err := d.sem.Read(ctx, mergedKey(workIndex)); err != nil {
		return nil, nil, err
	} else if done {
		d.logger.InfoContext(ctx, "fan-in batch already completed", "work_index", workIndex, "owner", owner)
		return nil, nil, nil
	}

	lock := fanin.NewLock(d.cache, base, d.lockOpts...)
	drained, err := lock.AcquireRead(ctx, ec.FanInIndex)
	if err != nil {
		return nil, nil, err
	}
	if !drained {
		if hop.RetryCount < t.Retry.Attempts {
			return nil, nil, &domain.FanInLockError{TaskNameBase: base, Index: ec.FanInIndex, Read: true}
		}
		d.logger.WarnContext(ctx, "merging fan-in batch with writers still active", "ctx", ec)
	}
	if err := d.sleep(ctx, d.visibilityDelay); err != nil {
		return nil, nil, err
	}

	recs, err := d.store.Query(ctx, domain.KindWorkPackage, domain.FieldWorkIndex, workIndex)
	if err != nil {
		return nil, nil, err
	}

	// The batch belongs to the first task that claims it. Its own retries
	// may finish the job; any other delivery sees an empty batch.
	committed, owner, err := d.sem.TryCommit(ctx, "merge-"+workIndex, hop.TaskName)
	if err != nil {
		return nil, nil, err
	}
	if !committed && owner != hop.TaskName {
		d.logger.InfoContext(ctx, "fan-in batch already merged", "work_index", workIndex, "owner", owner)
		return nil, nil, nil
	}

	batch := make(domain.Contexts, 0, len(recs))
	keys := make([]string, 0, len(recs))
	for _, rec := range recs {
		c, err := domain.DecodeContext(rec.Payload)
		if err != nil {
			d.logger.ErrorContext(ctx, "skipping corrupt work package", "key", rec.Key, "err", err)
			continue
		}
		if err := m.CoerceContext(c); err != nil {
			d.logger.ErrorContext(ctx, "skipping work package with invalid data", "key", rec.Key, "err", err)
			continue
		}
		c.StartingState = t.Source.Name
		c.StartingEvent = t.Event
		c.WorkIndex = workIndex
		c.FanInIndex = 0
		c.RetryCount = hop.RetryCount
		batch = append(batch, c)
		keys = append(keys, rec.Key)
	}
	d.logger.DebugContext(ctx, "fan-in batch merged", "batch", batch)
	return batch, keys, nil
}

// mergedKey marks a batch whose hop completed; it is only written after the
// batch advanced, so a failed merge can still be retried.
func mergedKey(workIndex string) string {
	return "merged-" + workIndex
}
