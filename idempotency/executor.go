package idempotency

import (
	"context"
	"fmt"
)

// Builder assembles an Executor around an operation taking input I.
//
//	exec, err := idempotency.Idempotent(charge).
//		Key(func(req ChargeRequest) string { return "payment:" + req.OrderID }).
//		Policy(idempotency.NewPolicy().WithTTL(24 * time.Hour)).
//		Fingerprint(idempotency.JSONFingerprint[ChargeRequest]).
//		Build()
type Builder[I, T any] struct {
	op          func(ctx context.Context, input I) (T, error)
	key         func(input I) string
	store       Store[T]
	policy      Policy
	fingerprint func(input I) (string, error)
	opts        []Option
}

// Idempotent starts a Builder for op.
func Idempotent[I, T any](op func(ctx context.Context, input I) (T, error)) *Builder[I, T] {
	return &Builder[I, T]{op: op, policy: NewPolicy()}
}

// Key sets the function deriving the idempotency key from the input. Required.
func (b *Builder[I, T]) Key(fn func(input I) string) *Builder[I, T] {
	b.key = fn
	return b
}

// Store sets the record store. Defaults to a new MemoryStore.
func (b *Builder[I, T]) Store(store Store[T]) *Builder[I, T] {
	b.store = store
	return b
}

// Policy sets the policy. Defaults to NewPolicy().
func (b *Builder[I, T]) Policy(policy Policy) *Builder[I, T] {
	b.policy = policy
	return b
}

// Fingerprint sets the input fingerprint function used for collision detection.
func (b *Builder[I, T]) Fingerprint(fn func(input I) (string, error)) *Builder[I, T] {
	b.fingerprint = fn
	return b
}

// Options passes coordinator options through.
func (b *Builder[I, T]) Options(opts ...Option) *Builder[I, T] {
	b.opts = append(b.opts, opts...)
	return b
}

// Build returns the Executor or ErrKeyRequired.
func (b *Builder[I, T]) Build() (*Executor[I, T], error) {
	if b.key == nil {
		return nil, ErrKeyRequired
	}
	if b.op == nil {
		return nil, fmt.Errorf("idempotency: operation is required")
	}
	store := b.store
	if store == nil {
		store = NewMemoryStore[T]()
	}
	return &Executor[I, T]{
		op:          b.op,
		key:         b.key,
		fingerprint: b.fingerprint,
		coordinator: NewCoordinator(store, b.policy, b.opts...),
	}, nil
}

// MustBuild is Build that panics on error.
func (b *Builder[I, T]) MustBuild() *Executor[I, T] {
	exec, err := b.Build()
	if err != nil {
		panic(err)
	}
	return exec
}

// Executor runs an operation idempotently, deriving key and fingerprint
// from each input.
type Executor[I, T any] struct {
	op          func(ctx context.Context, input I) (T, error)
	key         func(input I) string
	fingerprint func(input I) (string, error)
	coordinator *Coordinator[T]
}

// Run executes the operation for input. Every failure, including a failing
// fingerprint function, is returned as *Error.
func (e *Executor[I, T]) Run(ctx context.Context, input I) (Result[T], error) {
	key := e.key(input)
	var hash string
	if e.fingerprint != nil {
		h, err := e.fingerprint(input)
		if err != nil {
			return Result[T]{}, newError(KindExecution, "fingerprint input for key "+key, err)
		}
		hash = h
	}
	return e.coordinator.Execute(ctx, key, hash, func(ctx context.Context) (T, error) {
		return e.op(ctx, input)
	})
}

// Invalidate deletes the record for input and reports whether one existed.
func (e *Executor[I, T]) Invalidate(ctx context.Context, input I) (bool, error) {
	ok, err := e.coordinator.Store().Delete(ctx, e.key(input))
	if err != nil {
		return false, storeFailure(err)
	}
	return ok, nil
}

// Coordinator returns the underlying coordinator.
func (e *Executor[I, T]) Coordinator() *Coordinator[T] {
	return e.coordinator
}

// JSONFingerprint is a Fingerprint function usable with Builder.Fingerprint.
func JSONFingerprint[I any](input I) (string, error) {
	return Fingerprint(input)
}
