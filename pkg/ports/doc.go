/*
Package ports defines the driven ports (interfaces) of the Fantasm engine.

These interfaces decouple the dispatcher from the services it runs on, so the
same machine graph can run against Redis, an in-memory test double or any
other backend with the same guarantees.

# Key Interfaces

  - TaskQueue: uniquely named, delayable tasks with at-least-once delivery.
  - TaskSource: the worker side of a queue (lease and requeue).
  - DurableStore: keyed records with put-if-absent and indexed queries.
    Reads may lag writes.
  - CounterCache: atomic counters whose values may be evicted at any time.
  - Pinger: optional health check run before every hop.

Each port has a contract suite (RunTaskQueueContract, RunDurableStoreContract,
RunCounterCacheContract) that adapters run from their own tests.
*/
package ports
