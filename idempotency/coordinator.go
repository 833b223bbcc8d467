package idempotency

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// DefaultPollInterval is how often a WAIT caller re-reads a pending record.
const DefaultPollInterval = 100 * time.Millisecond

const tracerName = "github.com/fortressi/reliable/idempotency"

// Operation is the work guarded by a key.
type Operation[T any] func(ctx context.Context) (T, error)

// Result is a successful idempotent execution.
type Result[T any] struct {
	Value     T
	FromCache bool
	Key       string
}

// Option configures a Coordinator.
type Option func(*options)

type options struct {
	logger       *zap.Logger
	metrics      MetricsCollector
	tracer       trace.Tracer
	pollInterval time.Duration
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(metrics MetricsCollector) Option {
	return func(o *options) {
		if metrics != nil {
			o.metrics = metrics
		}
	}
}

// WithTracer sets the tracer used for execution spans. The default comes
// from the global otel TracerProvider.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithPollInterval overrides the WAIT poll interval. Intended for tests.
func WithPollInterval(interval time.Duration) Option {
	return func(o *options) {
		if interval > 0 {
			o.pollInterval = interval
		}
	}
}

// Coordinator runs operations at most once per key against a Store. It holds
// no per-call state and is safe for concurrent use.
type Coordinator[T any] struct {
	store        Store[T]
	policy       Policy
	logger       *zap.Logger
	metrics      MetricsCollector
	tracer       trace.Tracer
	pollInterval time.Duration
}

// NewCoordinator creates a coordinator over store using policy.
func NewCoordinator[T any](store Store[T], policy Policy, opts ...Option) *Coordinator[T] {
	o := options{
		logger:       zap.NewNop(),
		metrics:      NoopMetrics{},
		tracer:       otel.Tracer(tracerName),
		pollInterval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Coordinator[T]{
		store:        store,
		policy:       policy.normalized(),
		logger:       o.logger,
		metrics:      o.metrics,
		tracer:       o.tracer,
		pollInterval: o.pollInterval,
	}
}

// Store returns the record store the coordinator claims keys in.
func (c *Coordinator[T]) Store() Store[T] { return c.store }

// Policy returns the normalized policy in effect.
func (c *Coordinator[T]) Policy() Policy { return c.policy }

// Execute runs op under key. inputHash may be empty to skip fingerprint
// checks. Every failure is returned as *Error.
//
// If op succeeds but the completed record cannot be written, the error is
// KindStoreError even though op's side effect already happened.
func (c *Coordinator[T]) Execute(ctx context.Context, key, inputHash string, op Operation[T]) (res Result[T], err error) {
	ctx, span := c.tracer.Start(ctx, "idempotency.Execute",
		trace.WithAttributes(attribute.String("idempotency.key", key)))
	defer func() {
		c.metrics.RecordResult(res.FromCache, err)
		span.SetAttributes(attribute.Bool("idempotency.from_cache", res.FromCache))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	rec, err := c.store.Get(ctx, key)
	if err != nil {
		return Result[T]{}, storeFailure(err)
	}

	d := Decide(rec, inputHash, c.policy)
	c.metrics.RecordDecision(d.Kind)
	span.SetAttributes(attribute.String("idempotency.decision", d.Kind.String()))
	c.logger.Debug("idempotency decision",
		zap.String("key", key),
		zap.Stringer("decision", d.Kind),
	)

	switch d.Kind {
	case DecideCached, DecideInputMismatch, DecideCachedFailure:
		return c.fromRecord(key, inputHash, d.Record)
	case DecideConflict:
		return Result[T]{}, newError(KindConflict, "pending conflict: "+key, nil)
	case DecideWait:
		return c.wait(ctx, key, inputHash)
	case DecideForce:
		c.logger.Warn("forcing execution over pending record", zap.String("key", key))
		if _, err := c.store.Delete(ctx, key); err != nil {
			return Result[T]{}, storeFailure(err)
		}
		return c.execute(ctx, key, inputHash, op, "race conflict during force")
	default:
		return c.execute(ctx, key, inputHash, op, "race conflict")
	}
}

func (c *Coordinator[T]) execute(ctx context.Context, key, inputHash string, op Operation[T], raceMessage string) (Result[T], error) {
	claimed, err := c.store.SetPending(ctx, key, c.policy.ResultTTL(), inputHash)
	if err != nil {
		return Result[T]{}, storeFailure(err)
	}
	if !claimed {
		return c.lostClaim(ctx, key, inputHash, raceMessage)
	}
	c.logger.Debug("claimed key", zap.String("key", key))

	start := time.Now()
	value, opErr := invoke(ctx, op)
	c.metrics.ObserveOperation(time.Since(start), opErr != nil)

	// record writes must outlive a caller that gave up mid-operation
	commitCtx := context.WithoutCancel(ctx)

	if opErr != nil {
		c.recordFailure(commitCtx, key, opErr)
		return Result[T]{}, newError(KindExecution, "operation failed", opErr)
	}

	if err := c.store.SetCompleted(commitCtx, key, value, c.policy.ResultTTL()); err != nil {
		c.logger.Warn("operation succeeded but its result was not recorded",
			zap.String("key", key),
			zap.Error(err),
		)
		return Result[T]{}, storeFailure(err)
	}
	return Result[T]{Value: value, Key: key}, nil
}

// lostClaim resolves a SetPending that another caller won between our Get
// and our claim. A settled winner serves its record; a pending one is waited
// on under WAIT. Anything else is a conflict, so FORCE never loops.
func (c *Coordinator[T]) lostClaim(ctx context.Context, key, inputHash, raceMessage string) (Result[T], error) {
	rec, err := c.store.Get(ctx, key)
	if err != nil {
		return Result[T]{}, storeFailure(err)
	}
	if rec == nil {
		return Result[T]{}, newError(KindConflict, raceMessage+": "+key, nil)
	}
	switch d := Decide(rec, inputHash, c.policy); d.Kind {
	case DecideCached, DecideInputMismatch, DecideCachedFailure:
		return c.fromRecord(key, inputHash, rec)
	case DecideWait:
		return c.wait(ctx, key, inputHash)
	default:
		return Result[T]{}, newError(KindConflict, raceMessage+": "+key, nil)
	}
}

func (c *Coordinator[T]) recordFailure(ctx context.Context, key string, cause error) {
	if c.policy.PersistFailed() {
		if err := c.store.SetFailed(ctx, key, cause, c.policy.FailedResultTTL()); err != nil {
			c.logger.Warn("failed to record failed outcome", zap.String("key", key), zap.Error(err))
		}
		return
	}
	if _, err := c.store.Delete(ctx, key); err != nil {
		c.logger.Warn("failed to release key after failure", zap.String("key", key), zap.Error(err))
	}
}

func (c *Coordinator[T]) wait(ctx context.Context, key, inputHash string) (Result[T], error) {
	timeout := time.NewTimer(c.policy.PendingWaitTimeout())
	defer timeout.Stop()
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return Result[T]{}, newError(KindTimeout, "wait for pending operation cancelled", ctx.Err())
		case <-timeout.C:
			c.logger.Warn("timed out waiting for pending operation",
				zap.String("key", key),
				zap.Duration("timeout", c.policy.PendingWaitTimeout()),
			)
			return Result[T]{}, newError(KindTimeout, "timeout waiting for pending operation", nil)
		case <-ticker.C:
			rec, err := c.store.Get(ctx, key)
			if err != nil {
				return Result[T]{}, storeFailure(err)
			}
			if rec == nil {
				return Result[T]{}, newError(KindStoreError, "record disappeared", nil)
			}
			if rec.IsPending() {
				continue
			}
			if rec.IsFailed() {
				return Result[T]{}, newError(KindExecution, "operation failed while waiting", rec.Err)
			}
			return c.fromRecord(key, inputHash, rec)
		}
	}
}

// fromRecord turns a settled record into the caller's result.
func (c *Coordinator[T]) fromRecord(key, inputHash string, rec *Record[T]) (Result[T], error) {
	if rec.IsFailed() {
		return Result[T]{}, newError(KindExecution, "cached failure", rec.Err)
	}
	if hashMismatch(rec.InputHash, inputHash) {
		return Result[T]{}, newError(KindInputMismatch,
			fmt.Sprintf("key %s was recorded for a different input", key), nil)
	}
	return Result[T]{Value: rec.Value, FromCache: true, Key: key}, nil
}

func invoke[T any](ctx context.Context, op Operation[T]) (value T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return op(ctx)
}
