// Package redisstore provides an idempotency.Store backed by Redis.
//
// Each record is one JSON string value. Claims use SET NX with a PX expiry,
// so Redis both enforces single ownership and expires stale records.
// Transitions run under WATCH/MULTI and fail when the key is gone.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fortressi/reliable/idempotency"
)

// DefaultPrefix namespaces record keys.
const DefaultPrefix = "idem:"

const maxTxAttempts = 3

var errMissing = errors.New("record missing")

type settings struct {
	prefix string
	now    func() time.Time
}

// Store implements idempotency.Store[T] on a Redis client.
type Store[T any] struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

var _ idempotency.Store[any] = (*Store[any])(nil)

// Option configures a Store.
type Option func(*settings)

// WithPrefix overrides the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *settings) { s.prefix = prefix }
}

// WithClock overrides time.Now for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a Store using client.
func New[T any](client redis.UniversalClient, opts ...Option) (*Store[T], error) {
	if client == nil {
		return nil, fmt.Errorf("redisstore: client is required")
	}
	cfg := settings{prefix: DefaultPrefix, now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Store[T]{client: client, prefix: cfg.prefix, now: cfg.now}, nil
}

// envelope is the stored JSON form of a record.
type envelope struct {
	State     idempotency.RecordState `json:"state"`
	Value     json.RawMessage         `json:"value,omitempty"`
	Error     string                  `json:"error,omitempty"`
	InputHash string                  `json:"input_hash,omitempty"`
	CreatedAt int64                   `json:"created_at"`
	ExpiresAt int64                   `json:"expires_at,omitempty"`
}

func (s *Store[T]) redisKey(key string) string {
	return s.prefix + key
}

// Get returns the live record for key.
func (s *Store[T]) Get(ctx context.Context, key string) (*idempotency.Record[T], error) {
	raw, err := s.client.Get(ctx, s.redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, idempotency.NewStoreError("get record "+key, err)
	}
	rec, err := decodeRecord[T](key, raw)
	if err != nil {
		return nil, idempotency.NewStoreError("decode record "+key, err)
	}
	if rec.ExpiredAt(s.now()) {
		return nil, nil
	}
	return rec, nil
}

// SetPending claims key with SET NX.
func (s *Store[T]) SetPending(ctx context.Context, key string, ttl time.Duration, inputHash string) (bool, error) {
	now := s.now()
	env := envelope{
		State:     idempotency.StatePending,
		InputHash: inputHash,
		CreatedAt: now.UnixMilli(),
		ExpiresAt: deadline(now, ttl),
	}
	data, err := json.Marshal(env)
	if err != nil {
		return false, idempotency.NewStoreError("encode record "+key, err)
	}
	ok, err := s.client.SetNX(ctx, s.redisKey(key), data, positive(ttl)).Result()
	if err != nil {
		return false, idempotency.NewStoreError("claim "+key, err)
	}
	return ok, nil
}

// SetCompleted stores value on the existing record.
func (s *Store[T]) SetCompleted(ctx context.Context, key string, value T, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return idempotency.NewStoreError("encode value for "+key, err)
	}
	return s.transition(ctx, key, ttl, func(env *envelope) {
		env.State = idempotency.StateCompleted
		env.Value = data
		env.Error = ""
	})
}

// SetFailed stores the error message on the existing record.
func (s *Store[T]) SetFailed(ctx context.Context, key string, cause error, ttl time.Duration) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return s.transition(ctx, key, ttl, func(env *envelope) {
		env.State = idempotency.StateFailed
		env.Value = nil
		env.Error = msg
	})
}

// Delete removes key.
func (s *Store[T]) Delete(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Del(ctx, s.redisKey(key)).Result()
	if err != nil {
		return false, idempotency.NewStoreError("delete "+key, err)
	}
	return n > 0, nil
}

func (s *Store[T]) transition(ctx context.Context, key string, ttl time.Duration, mutate func(env *envelope)) error {
	rk := s.redisKey(key)
	var lastErr error
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.Get(ctx, rk).Bytes()
			if errors.Is(err, redis.Nil) {
				return errMissing
			}
			if err != nil {
				return err
			}
			var env envelope
			if err := json.Unmarshal(raw, &env); err != nil {
				return err
			}
			mutate(&env)
			env.ExpiresAt = deadline(s.now(), ttl)
			data, err := json.Marshal(env)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				// expiration 0 also clears the pending record's TTL
				pipe.Set(ctx, rk, data, positive(ttl))
				return nil
			})
			return err
		}, rk)

		switch {
		case err == nil:
			return nil
		case errors.Is(err, redis.TxFailedErr):
			lastErr = err
			continue
		case errors.Is(err, errMissing):
			return idempotency.NewStoreError("no pending record for key: "+key, nil)
		default:
			return idempotency.NewStoreError("update "+key, err)
		}
	}
	return idempotency.NewStoreError(
		fmt.Sprintf("update %s: conflicting writers after %d attempts", key, maxTxAttempts), lastErr)
}

func decodeRecord[T any](key string, raw []byte) (*idempotency.Record[T], error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	rec := &idempotency.Record[T]{
		Key:       key,
		State:     env.State,
		InputHash: env.InputHash,
		CreatedAt: time.UnixMilli(env.CreatedAt).UTC(),
	}
	if env.ExpiresAt > 0 {
		rec.ExpiresAt = time.UnixMilli(env.ExpiresAt).UTC()
	}
	switch env.State {
	case idempotency.StateCompleted:
		if len(env.Value) > 0 {
			if err := json.Unmarshal(env.Value, &rec.Value); err != nil {
				return nil, err
			}
		}
	case idempotency.StateFailed:
		rec.Err = &idempotency.RecordedError{Message: env.Error}
	}
	return rec, nil
}

func deadline(now time.Time, ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return now.Add(ttl).UnixMilli()
}

func positive(ttl time.Duration) time.Duration {
	if ttl < 0 {
		return 0
	}
	return ttl
}
