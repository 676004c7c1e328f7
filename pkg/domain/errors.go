package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownMachine is returned when a request names a machine that is not in the graph.
	ErrUnknownMachine = errors.New("unknown machine")

	// ErrDuplicateTask is returned by a TaskQueue when the task name was already used.
	ErrDuplicateTask = errors.New("duplicate task name")

	// ErrNotFound is returned by a DurableStore when a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrServiceUnavailable is returned when a preflight check of a backing service fails.
	ErrServiceUnavailable = errors.New("required service unavailable")
)

// ConfigurationError reports an invalid machine definition. It is only ever
// raised while resolving the graph.
type ConfigurationError struct {
	Machine string
	State   string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	switch {
	case e.Machine == "":
		return "configuration error: " + e.Reason
	case e.State == "":
		return fmt.Sprintf("configuration error in machine '%s': %s", e.Machine, e.Reason)
	default:
		return fmt.Sprintf("configuration error in machine '%s' state '%s': %s", e.Machine, e.State, e.Reason)
	}
}

// UnknownStateError is returned when a task references a state the machine does not define.
type UnknownStateError struct {
	Machine string
	State   string
}

func (e *UnknownStateError) Error() string {
	return fmt.Sprintf("machine '%s' has no state '%s'", e.Machine, e.State)
}

// UnknownEventError is returned when no transition exists for (state, event).
type UnknownEventError struct {
	Machine string
	State   string
	Event   string
}

func (e *UnknownEventError) Error() string {
	return fmt.Sprintf("machine '%s' state '%s' has no transition for event '%s'", e.Machine, e.State, e.Event)
}

// InvalidEventError is returned when an action emits a malformed event name.
type InvalidEventError struct {
	State string
	Event string
}

func (e *InvalidEventError) Error() string {
	return fmt.Sprintf("state '%s' returned invalid event name '%s'", e.State, e.Event)
}

// FanInLockError is returned when a fan-in read or write lock could not be taken.
type FanInLockError struct {
	TaskNameBase string
	Index        int64
	Read         bool
}

func (e *FanInLockError) Error() string {
	mode := "write"
	if e.Read {
		mode = "read"
	}
	return fmt.Sprintf("failed to acquire fan-in %s lock for '%s' index %d", mode, e.TaskNameBase, e.Index)
}

// ActionError wraps a failure raised by caller code. It is retryable.
type ActionError struct {
	Machine string
	State   string
	Event   string
	Phase   string // entry, do, exit, transition, continuation
	Err     error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("%s action failed in machine '%s' state '%s' (event '%s'): %v",
		e.Phase, e.Machine, e.State, e.Event, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }

// PermanentError marks a failure that must not be retried by the queue.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return "permanent failure: " + e.Err.Error()
}

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so that IsPermanent reports true. nil stays nil.
func Permanent(err error) error {
	if err == nil || IsPermanent(err) {
		return err
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err must stop the queue from retrying.
func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}
