package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/aretw0/fantasm/pkg/domain"
	"github.com/aretw0/fantasm/pkg/ports"
)

// Store implements ports.DurableStore in memory.
// Safe for concurrent use.
type Store struct {
	mu   sync.RWMutex
	data map[string]map[string]entry

	// visibility delays query results, mimicking eventually consistent
	// indexes.
	visibility time.Duration
	now        func() time.Time
}

type entry struct {
	rec     ports.Record
	written time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithQueryDelay hides records from Query until d has passed since they
// were written. Get is unaffected.
func WithQueryDelay(d time.Duration) StoreOption {
	return func(s *Store) { s.visibility = d }
}

// WithStoreClock sets the clock used by WithQueryDelay.
func WithStoreClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// NewStore creates a new in-memory store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		data: make(map[string]map[string]entry),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Put creates or replaces rec.
func (s *Store) Put(ctx context.Context, rec ports.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(rec)
	return nil
}

func (s *Store) put(rec ports.Record) {
	kind, ok := s.data[rec.Kind]
	if !ok {
		kind = make(map[string]entry)
		s.data[rec.Kind] = kind
	}
	kind[rec.Key] = entry{rec: copyRecord(rec), written: s.now()}
}

// Insert creates rec only if its key is free.
func (s *Store) Insert(ctx context.Context, rec ports.Record) (bool, *ports.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.data[rec.Kind][rec.Key]; ok {
		existing := copyRecord(e.rec)
		return false, &existing, nil
	}
	s.put(rec)
	return true, nil, nil
}

// Get returns a copy of the record.
func (s *Store) Get(ctx context.Context, kind, key string) (*ports.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.data[kind][key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	rec := copyRecord(e.rec)
	return &rec, nil
}

// Query scans kind for records whose index field equals value.
func (s *Store) Query(ctx context.Context, kind, field, value string) ([]ports.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cutoff := s.now().Add(-s.visibility)
	var out []ports.Record
	for _, e := range s.data[kind] {
		if e.rec.Index[field] != value {
			continue
		}
		if s.visibility > 0 && e.written.After(cutoff) {
			continue
		}
		out = append(out, copyRecord(e.rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Delete removes the given keys.
func (s *Store) Delete(ctx context.Context, kind string, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.data[kind], key)
	}
	return nil
}

// Count returns the number of records of kind.
func (s *Store) Count(kind string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data[kind])
}

// copyRecord isolates callers from the stored slices and maps.
func copyRecord(rec ports.Record) ports.Record {
	out := rec
	out.Payload = append([]byte(nil), rec.Payload...)
	if rec.Index != nil {
		out.Index = make(map[string]string, len(rec.Index))
		for k, v := range rec.Index {
			out.Index[k] = v
		}
	}
	return out
}
