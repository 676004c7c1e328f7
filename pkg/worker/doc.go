// Package worker drives a Fantasm engine from a task source.
//
// A worker leases due tasks, hands them to a ports.TaskHandler (normally the
// engine) and applies the task's retry policy to failures: permanent errors
// and exhausted or expired tasks are dropped, anything else is requeued
// with exponential backoff.
//
// Workers hold no state besides their configuration. Several workers, in
// one process or many, can consume the same queue.
package worker
