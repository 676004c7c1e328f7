package ports

import (
	"context"
	"time"
)

// Record is one entry of a DurableStore. Index holds the field values the
// record can be queried by.
type Record struct {
	Kind    string            `json:"kind"`
	Key     string            `json:"key"`
	Index   map[string]string `json:"index,omitempty"`
	Payload []byte            `json:"payload"`
	Created time.Time         `json:"created"`
}

// DurableStore persists records by (kind, key).
type DurableStore interface {
	// Put creates or replaces a record.
	Put(ctx context.Context, rec Record) error

	// Insert creates rec only if no record exists under its key. It reports
	// whether rec was written and otherwise returns the existing record.
	// This is the atomic primitive idempotency guards are built on.
	Insert(ctx context.Context, rec Record) (created bool, existing *Record, err error)

	// Get returns domain.ErrNotFound if the record does not exist.
	Get(ctx context.Context, kind, key string) (*Record, error)

	// Query returns the records of kind whose index field equals value,
	// ordered by key. Results may not yet include recent writes.
	Query(ctx context.Context, kind, field, value string) ([]Record, error)

	// Delete removes records. Missing keys are ignored.
	Delete(ctx context.Context, kind string, keys ...string) error
}
