package domain

import "time"

// Route identifies what a task does once delivered: fire Event on
// Machine while in State. Target is informational.
type Route struct {
	Machine string `json:"machine"`
	State   string `json:"state"`
	Event   string `json:"event"`
	Target  string `json:"target,omitempty"`
}

// Task is a uniquely named, delayable unit of work on a TaskQueue.
type Task struct {
	Name       string      `json:"name"`
	Queue      string      `json:"queue"`
	Route      Route       `json:"route"`
	Payload    []byte      `json:"payload"`
	ETA        time.Time   `json:"eta"`
	Retry      RetryPolicy `json:"retry"`
	RetryCount int         `json:"retry_count"`
	Created    time.Time   `json:"created"`
}

// Expired reports whether the task outlived the age limit of its retry policy.
func (t Task) Expired(now time.Time) bool {
	return t.Retry.AgeLimit > 0 && !t.Created.IsZero() && now.Sub(t.Created) > t.Retry.AgeLimit
}

// WorkPackage is a serialized context waiting for a fan-in batch.
type WorkPackage struct {
	Key       string
	WorkIndex string
	Context   []byte
	Created   time.Time
}
