package reliable

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/fortressi/reliable"

// Saga kinds, used as metric labels and in journal records.
const (
	KindRun      = "run"
	KindChain    = "chain"
	KindParallel = "parallel"
	KindRace     = "race"
)

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(metrics MetricsCollector) Option {
	return func(c *Coordinator) {
		if metrics != nil {
			c.metrics = metrics
		}
	}
}

// WithTracer sets the tracer used for saga spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Coordinator) {
		if tracer != nil {
			c.tracer = tracer
		}
	}
}

// WithJournalStore persists the journal of every execution to store.
func WithJournalStore(store JournalStore) Option {
	return func(c *Coordinator) { c.journals = store }
}

// WithIDGenerator overrides the saga ID generator (uuid v4 by default).
func WithIDGenerator(newID func() string) Option {
	return func(c *Coordinator) {
		if newID != nil {
			c.newID = newID
		}
	}
}

// Coordinator executes sagas. It keeps no state between executions; each
// Run* call owns a fresh ledger and journal. A nil *Coordinator behaves like
// NewCoordinator().
type Coordinator struct {
	logger   *zap.Logger
	metrics  MetricsCollector
	tracer   trace.Tracer
	journals JournalStore
	newID    func() string
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(opts ...Option) *Coordinator {
	c := &Coordinator{
		logger:  zap.NewNop(),
		metrics: NoopMetrics{},
		tracer:  otel.Tracer(tracerName),
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var defaultCoordinator = NewCoordinator()

func (c *Coordinator) orDefault() *Coordinator {
	if c == nil {
		return defaultCoordinator
	}
	return c
}

// execution is the per-call state of one saga run.
type execution struct {
	coord   *Coordinator
	id      string
	kind    string
	ledger  *Ledger
	journal *Journal
	logger  *zap.Logger
	span    trace.Span
	started time.Time
}

func (c *Coordinator) begin(ctx context.Context, kind string) (context.Context, *execution) {
	c = c.orDefault()
	id := c.newID()
	logger := c.logger.With(zap.String("saga_id", id), zap.String("saga_kind", kind))
	journal := NewJournal(id)

	ctx, span := c.tracer.Start(ctx, "saga."+kind, trace.WithAttributes(
		attribute.String("saga.id", id),
		attribute.String("saga.kind", kind),
	))

	exec := &execution{
		coord:   c,
		id:      id,
		kind:    kind,
		ledger:  newLedger(journal, logger),
		journal: journal,
		logger:  logger,
		span:    span,
		started: time.Now(),
	}
	c.persist(ctx, exec, SagaStatusRunning, nil)
	return ctx, exec
}

func (e *execution) event(step int, name string, eventType StepEventType) {
	if err := e.journal.Record(step, name, eventType); err != nil {
		e.logger.Warn("journal rejected event", zap.Int("step", step), zap.Error(err))
		return
	}
	e.logger.Debug("saga step event",
		zap.Int("step", step),
		zap.String("name", name),
		zap.Stringer("event", eventType),
	)
}

func (e *execution) logStepFailure(step int, name string, err error) {
	if errors.Is(err, context.Canceled) {
		e.logger.Debug("saga step cancelled", zap.Int("step", step), zap.String("name", name))
		return
	}
	e.logger.Debug("saga step failed", zap.Int("step", step), zap.String("name", name), zap.Error(err))
}

// succeed closes out a successful execution.
func (e *execution) succeed(ctx context.Context, steps int) {
	e.span.SetAttributes(attribute.Int("saga.steps_executed", steps))
	e.span.End()
	e.coord.metrics.SagaFinished(e.kind, SagaStatusCompleted, time.Since(e.started))
	e.coord.persist(ctx, e, SagaStatusCompleted, nil)
	e.logger.Debug("saga completed", zap.Int("steps", steps), zap.Int("compensations", e.ledger.Len()))
}

// fail rolls back the ledger and builds the caller's SagaError.
func (e *execution) fail(ctx context.Context, cause error, stepFailed int) *SagaError {
	ran, failed := e.rollback(ctx)
	status := SagaStatusRolledBack
	if failed > 0 {
		status = SagaStatusRollbackIncomplete
	}

	sagaErr := &SagaError{
		Err:                cause,
		StepFailed:         stepFailed,
		CompensatorsRun:    ran,
		CompensatorsFailed: failed,
		RollbackComplete:   failed == 0,
		SagaID:             e.id,
	}

	e.span.RecordError(cause)
	e.span.SetStatus(codes.Error, cause.Error())
	e.span.SetAttributes(
		attribute.Int("saga.step_failed", stepFailed),
		attribute.Int("saga.compensators_run", ran),
		attribute.Int("saga.compensators_failed", failed),
	)
	e.span.End()
	e.coord.metrics.SagaFinished(e.kind, status, time.Since(e.started))
	e.coord.persist(ctx, e, status, cause)
	return sagaErr
}

// rollback runs the ledger with a context that survives caller cancellation.
func (e *execution) rollback(ctx context.Context) (ran, failed int) {
	ran, failed = e.ledger.Rollback(context.WithoutCancel(ctx))
	e.coord.metrics.CompensationsExecuted(e.kind, ran, failed)
	if ran > 0 {
		e.logger.Info("saga rolled back",
			zap.Int("compensators_run", ran),
			zap.Int("compensators_failed", failed),
		)
	}
	return ran, failed
}

func (c *Coordinator) persist(ctx context.Context, e *execution, status string, cause error) {
	if c.journals == nil {
		return
	}
	record := JournalRecord{
		SagaID:    e.id,
		Kind:      e.kind,
		Status:    status,
		Events:    e.journal.Events(),
		CreatedAt: e.started,
	}
	if cause != nil {
		record.Error = cause.Error()
	}
	if err := c.journals.Save(context.WithoutCancel(ctx), record); err != nil {
		e.logger.Warn("failed to persist saga journal", zap.String("status", status), zap.Error(err))
	}
}
