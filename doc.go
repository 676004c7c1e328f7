/*
Package fantasm is a durable, queue-driven finite state machine engine.

Machines are declared in YAML or JSON and bound to caller code through an
action registry. Every transition of a running instance is a separately
enqueued task: a hop loads the instance context from the task payload,
runs the exit, transition, entry and do actions, and enqueues the task of
the next event. Nothing is kept in process memory between hops, so any
number of workers can consume the queue and a crashed hop is simply
redelivered.

# Concept

An instance is never "loaded". It exists only as the payload of the task
that will move it next. Task names are derived from the instance, its
step and the transition being fired, so enqueueing the same hop twice is
rejected by the queue and a redelivered task cannot fork the instance.

Beyond plain transitions the engine supports:

  - Continuations: a state whose action pages through a dataset enqueues
    one task per page, each re-running the same hop with the next cursor.
  - Fan-out: an action may Fork the context. Every sibling receives the
    same next event.
  - Fan-in: a state with a fan_in window merges every sibling that
    arrives within the window and runs its list action once on the batch.

# Usage

	reg := action.NewRegistry()
	reg.RegisterFunc("select-users", selectUsers)
	reg.RegisterFunc("send", send)

	eng, err := fantasm.Load("machines.yaml", reg,
		fantasm.WithQueue(queue),
		fantasm.WithStore(store),
		fantasm.WithCache(cache),
	)
	if err != nil {
		log.Fatal(err)
	}

	instance, err := eng.Start(ctx, "email-batch", map[string]any{"batch": 7})

	w, err := eng.Worker(worker.WithConcurrency(4))
	go w.Run(ctx)

# Failures

Action failures are retried by the queue according to the retry policy of
the transition being fired. Configuration problems, unknown or malformed
events and actions that return action.Fail are permanent: the task is
dropped and the instance stays in the state it started the hop from.

# Ports

The engine talks to three ports (see package ports): a TaskQueue, a
DurableStore for semaphores and fan-in work packages, and a CounterCache
for fan-in locks. In-memory adapters are used by default; package
adapters/redis provides a shared implementation of all three.
*/
package fantasm
