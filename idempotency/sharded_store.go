package idempotency

import (
	"context"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// ShardedStore is an in-memory Store without a global lock. Each mutation
// runs inside xsync.MapOf.Compute, which serializes writers per key, so the
// SetPending check-and-set stays atomic while unrelated keys proceed in
// parallel.
type ShardedStore[T any] struct {
	records *xsync.MapOf[string, Record[T]]
	now     func() time.Time
}

var _ Store[any] = (*ShardedStore[any])(nil)

// NewShardedStore creates an empty sharded store.
func NewShardedStore[T any](opts ...StoreOption) *ShardedStore[T] {
	o := applyStoreOptions(opts)
	return &ShardedStore[T]{
		records: xsync.NewMapOf[string, Record[T]](),
		now:     o.now,
	}
}

func (s *ShardedStore[T]) Get(ctx context.Context, key string) (*Record[T], error) {
	rec, ok := s.records.Load(key)
	if !ok {
		return nil, nil
	}
	if rec.ExpiredAt(s.now()) {
		s.records.Compute(key, func(old Record[T], loaded bool) (Record[T], bool) {
			// only drop it if nobody replaced it meanwhile
			return old, loaded && old.ExpiredAt(s.now())
		})
		return nil, nil
	}
	return &rec, nil
}

func (s *ShardedStore[T]) SetPending(ctx context.Context, key string, ttl time.Duration, inputHash string) (bool, error) {
	claimed := false
	s.records.Compute(key, func(old Record[T], loaded bool) (Record[T], bool) {
		now := s.now()
		if loaded && !old.ExpiredAt(now) {
			return old, false
		}
		claimed = true
		return Record[T]{
			Key:       key,
			State:     StatePending,
			CreatedAt: now,
			ExpiresAt: expiresAt(now, ttl),
			InputHash: inputHash,
		}, false
	})
	return claimed, nil
}

func (s *ShardedStore[T]) SetCompleted(ctx context.Context, key string, value T, ttl time.Duration) error {
	return s.transition(key, func(rec *Record[T]) {
		rec.State = StateCompleted
		rec.Value = value
		rec.Err = nil
		rec.ExpiresAt = expiresAt(s.now(), ttl)
	})
}

func (s *ShardedStore[T]) SetFailed(ctx context.Context, key string, cause error, ttl time.Duration) error {
	return s.transition(key, func(rec *Record[T]) {
		var zero T
		rec.State = StateFailed
		rec.Value = zero
		rec.Err = cause
		rec.ExpiresAt = expiresAt(s.now(), ttl)
	})
}

// Delete removes key. An expired record is removed too but reported as absent.
func (s *ShardedStore[T]) Delete(ctx context.Context, key string) (bool, error) {
	live := false
	s.records.Compute(key, func(old Record[T], loaded bool) (Record[T], bool) {
		live = loaded && !old.ExpiredAt(s.now())
		return old, true
	})
	return live, nil
}

// Range calls f for every live record until f returns false.
func (s *ShardedStore[T]) Range(f func(rec Record[T]) bool) {
	now := s.now()
	s.records.Range(func(_ string, rec Record[T]) bool {
		if rec.ExpiredAt(now) {
			return true
		}
		return f(rec)
	})
}

func (s *ShardedStore[T]) transition(key string, mutate func(rec *Record[T])) error {
	found := false
	s.records.Compute(key, func(old Record[T], loaded bool) (Record[T], bool) {
		if !loaded {
			// delete=true on a missing key is a no-op
			return old, true
		}
		found = true
		mutate(&old)
		return old, false
	})
	if !found {
		return NewStoreError("no pending record for key: "+key, nil)
	}
	return nil
}
