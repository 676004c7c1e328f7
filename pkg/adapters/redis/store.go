package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aretw0/fantasm/pkg/domain"
	"github.com/aretw0/fantasm/pkg/ports"
	backend "github.com/redis/go-redis/v9"
)

// Store implements ports.DurableStore using Redis.
// Records are JSON strings; every indexed field value is a ZSET of keys with
// score 0, so ZRANGE returns them in key order.
type Store struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

// NewStore creates a store on client. Records expire after ttl; zero keeps
// them forever.
func NewStore(client *backend.Client, ttl time.Duration, opts ...Option) *Store {
	o := buildOptions(opts)
	return &Store{client: client, prefix: o.prefix, ttl: ttl}
}

func (s *Store) key(kind, key string) string {
	return s.prefix + "rec:" + kind + ":" + key
}

func (s *Store) indexKey(kind, field, value string) string {
	return s.prefix + "idx:" + kind + ":" + field + ":" + value
}

// Put creates or replaces rec and moves its index entries.
func (s *Store) Put(ctx context.Context, rec ports.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	old, err := s.Get(ctx, rec.Kind, rec.Key)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	pipe := s.client.TxPipeline()
	if old != nil {
		for field, value := range old.Index {
			if rec.Index[field] != value {
				pipe.ZRem(ctx, s.indexKey(rec.Kind, field, value), rec.Key)
			}
		}
	}
	pipe.Set(ctx, s.key(rec.Kind, rec.Key), data, s.ttl)
	s.addIndex(ctx, pipe, rec)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save record to redis: %w", err)
	}
	return nil
}

func (s *Store) addIndex(ctx context.Context, pipe backend.Pipeliner, rec ports.Record) {
	for field, value := range rec.Index {
		pipe.ZAdd(ctx, s.indexKey(rec.Kind, field, value), backend.Z{Score: 0, Member: rec.Key})
	}
}

// Insert writes rec with SET NX.
func (s *Store) Insert(ctx context.Context, rec ports.Record) (bool, *ports.Record, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return false, nil, fmt.Errorf("failed to marshal record: %w", err)
	}
	ok, err := s.client.SetNX(ctx, s.key(rec.Kind, rec.Key), data, s.ttl).Result()
	if err != nil {
		return false, nil, fmt.Errorf("failed to insert record: %w", err)
	}
	if !ok {
		existing, err := s.Get(ctx, rec.Kind, rec.Key)
		if err != nil {
			return false, nil, err
		}
		return false, existing, nil
	}
	if len(rec.Index) > 0 {
		pipe := s.client.Pipeline()
		s.addIndex(ctx, pipe, rec)
		if _, err := pipe.Exec(ctx); err != nil {
			return true, nil, fmt.Errorf("failed to index record: %w", err)
		}
	}
	return true, nil, nil
}

// Get loads one record.
func (s *Store) Get(ctx context.Context, kind, key string) (*ports.Record, error) {
	val, err := s.client.Get(ctx, s.key(kind, key)).Bytes()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get record from redis: %w", err)
	}
	var rec ports.Record
	if err := json.Unmarshal(val, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return &rec, nil
}

// Query reads the index ZSET and loads the records it names. Index entries
// whose record expired are pruned lazily.
func (s *Store) Query(ctx context.Context, kind, field, value string) ([]ports.Record, error) {
	idx := s.indexKey(kind, field, value)
	keys, err := s.client.ZRange(ctx, idx, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read index: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.key(kind, k)
	}
	vals, err := s.client.MGet(ctx, full...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load records: %w", err)
	}

	out := make([]ports.Record, 0, len(vals))
	var stale []any
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			stale = append(stale, keys[i])
			continue
		}
		var rec ports.Record
		if err := json.Unmarshal([]byte(str), &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal record: %w", err)
		}
		out = append(out, rec)
	}
	if len(stale) > 0 {
		if err := s.client.ZRem(ctx, idx, stale...).Err(); err != nil {
			return nil, fmt.Errorf("failed to prune index: %w", err)
		}
	}
	return out, nil
}

// Delete removes records and their index entries.
func (s *Store) Delete(ctx context.Context, kind string, keys ...string) error {
	pipe := s.client.TxPipeline()
	for _, key := range keys {
		rec, err := s.Get(ctx, kind, key)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		for field, value := range rec.Index {
			pipe.ZRem(ctx, s.indexKey(kind, field, value), key)
		}
		pipe.Del(ctx, s.key(kind, key))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete records: %w", err)
	}
	return nil
}

// Ping implements ports.Pinger.
func (s *Store) Ping(ctx context.Context) error { return ping(ctx, s.client) }
