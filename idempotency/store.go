package idempotency

import (
	"context"
	"time"
)

// Store persists idempotency records. It is generic over T, the type of the
// cached operation result.
//
// Implementations must make SetPending atomic: for one key at most one call
// may return true while an unexpired record exists.
type Store[T any] interface {
	// Get returns the record for key, or nil when it is absent or expired.
	Get(ctx context.Context, key string) (*Record[T], error)

	// SetPending claims key. It returns true only when a fresh pending record
	// was created, false with no side effects when a live record exists.
	SetPending(ctx context.Context, key string, ttl time.Duration, inputHash string) (bool, error)

	// SetCompleted moves an existing record to completed.
	SetCompleted(ctx context.Context, key string, value T, ttl time.Duration) error

	// SetFailed moves an existing record to failed.
	SetFailed(ctx context.Context, key string, cause error, ttl time.Duration) error

	// Delete removes the record and reports whether one existed.
	Delete(ctx context.Context, key string) (bool, error)
}

// StoreFuncs assembles a Store from plain functions, for adapting an
// existing repository without writing a type. Every field is required.
type StoreFuncs[T any] struct {
	GetFunc          func(ctx context.Context, key string) (*Record[T], error)
	SetPendingFunc   func(ctx context.Context, key string, ttl time.Duration, inputHash string) (bool, error)
	SetCompletedFunc func(ctx context.Context, key string, value T, ttl time.Duration) error
	SetFailedFunc    func(ctx context.Context, key string, cause error, ttl time.Duration) error
	DeleteFunc       func(ctx context.Context, key string) (bool, error)
}

var _ Store[any] = StoreFuncs[any]{}

func (f StoreFuncs[T]) Get(ctx context.Context, key string) (*Record[T], error) {
	return f.GetFunc(ctx, key)
}

func (f StoreFuncs[T]) SetPending(ctx context.Context, key string, ttl time.Duration, inputHash string) (bool, error) {
	return f.SetPendingFunc(ctx, key, ttl, inputHash)
}

func (f StoreFuncs[T]) SetCompleted(ctx context.Context, key string, value T, ttl time.Duration) error {
	return f.SetCompletedFunc(ctx, key, value, ttl)
}

func (f StoreFuncs[T]) SetFailed(ctx context.Context, key string, cause error, ttl time.Duration) error {
	return f.SetFailedFunc(ctx, key, cause, ttl)
}

func (f StoreFuncs[T]) Delete(ctx context.Context, key string) (bool, error) {
	return f.DeleteFunc(ctx, key)
}

// StoreOption configures the in-memory stores.
type StoreOption func(*storeOptions)

type storeOptions struct {
	now func() time.Time
}

// WithClock overrides time.Now for expiry decisions.
func WithClock(now func() time.Time) StoreOption {
	return func(o *storeOptions) {
		if now != nil {
			o.now = now
		}
	}
}

func applyStoreOptions(opts []StoreOption) storeOptions {
	o := storeOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
