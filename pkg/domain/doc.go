/*
Package domain contains the core types shared by every part of the fantasm engine.

It is kept pure and free of I/O, following the same hexagonal split as the
ports and adapters packages.

# Key Entities

  - Context: one in-flight machine instance (working memory plus typed engine metadata).
  - Task: a uniquely named unit of work handed to a TaskQueue.
  - RetryPolicy: how a failed hop is re-delivered.
  - WorkPackage: a serialized context waiting for a fan-in batch.
  - LifecycleHooks: observability callbacks.

Task names are derived deterministically from a Context (see Context.TaskName),
which is what lets an at-least-once queue collapse duplicate enqueues.
*/
package domain
