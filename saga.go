package reliable

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"
)

// SagaResult is a successful saga execution.
type SagaResult[T any] struct {
	Value                T
	StepsExecuted        int
	CompensatorsRecorded int
	SagaID               string

	exec *execution
}

func newResult[T any](value T, steps int, exec *execution) SagaResult[T] {
	return SagaResult[T]{
		Value:                value,
		StepsExecuted:        steps,
		CompensatorsRecorded: exec.ledger.Len(),
		SagaID:               exec.id,
		exec:                 exec,
	}
}

// Ledger returns the execution's ledger, or nil for a zero SagaResult.
func (r SagaResult[T]) Ledger() *Ledger {
	if r.exec == nil {
		return nil
	}
	return r.exec.ledger
}

// Journal returns the execution's journal, or nil for a zero SagaResult.
func (r SagaResult[T]) Journal() *Journal {
	if r.exec == nil {
		return nil
	}
	return r.exec.journal
}

// Rollback compensates a saga that already succeeded, newest entry first.
// For races this includes losers that succeeded after the winner settled.
func (r SagaResult[T]) Rollback(ctx context.Context) (ran, failed int) {
	if r.exec == nil {
		return 0, 0
	}
	ran, failed = r.exec.rollback(ctx)
	status := SagaStatusRolledBack
	if failed > 0 {
		status = SagaStatusRollbackIncomplete
	}
	r.exec.coord.persist(ctx, r.exec, status, nil)
	return ran, failed
}

// Run executes a single step. On failure its ledger, empty or holding one
// entry, is rolled back and a *SagaError with StepFailed 1 is returned.
func Run[T any](ctx context.Context, c *Coordinator, step SagaStep[T]) (SagaResult[T], error) {
	ctx, exec := c.begin(ctx, KindRun)

	value, err := runStep(ctx, exec, 1, step)
	if err != nil {
		return SagaResult[T]{}, exec.fail(ctx, err, 1)
	}
	exec.succeed(ctx, 1)
	return newResult(value, 1, exec), nil
}

// RunChain runs chain.First and then the step chain.Next builds from its
// value. A failure of the second step, including a panic while building it,
// rolls back both steps' entries, second first. A failure of the first step
// rolls back only its own.
func RunChain[T, U any](ctx context.Context, c *Coordinator, chain Chain[T, U]) (SagaResult[U], error) {
	ctx, exec := c.begin(ctx, KindChain)

	first, err := runStep(ctx, exec, 1, chain.First)
	if err != nil {
		return SagaResult[U]{}, exec.fail(ctx, err, 1)
	}

	next, err := buildNext(chain.Next, first)
	if err != nil {
		name := next.label(2)
		exec.event(2, name, EventStarted)
		exec.event(2, name, EventFailed)
		exec.logStepFailure(2, name, err)
		return SagaResult[U]{}, exec.fail(ctx, err, 2)
	}

	second, err := runStep(ctx, exec, 2, next)
	if err != nil {
		return SagaResult[U]{}, exec.fail(ctx, err, 2)
	}
	exec.succeed(ctx, 2)
	return newResult(second, 2, exec), nil
}

// buildNext calls next, reporting a panic as a *PanicError for step 2.
func buildNext[T, U any](next func(T) SagaStep[U], value T) (step SagaStep[U], err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Step: 2, Value: r}
		}
	}()
	return next(value), nil
}

// RunParallel runs every step concurrently and waits for all of them; one
// failure does not cancel the others. If any step fails, every recorded
// compensation is rolled back and the error of the earliest failing step in
// submission order is returned with StepFailed set to the number of steps
// that did not fail. A panicking step yields a *FanoutError with StepFailed
// 0. On success the values are in submission order.
func RunParallel[T any](ctx context.Context, c *Coordinator, group ParallelGroup[T]) (SagaResult[[]T], error) {
	ctx, exec := c.begin(ctx, KindParallel)

	n := len(group.Steps)
	values := make([]T, n)
	errs := make([]error, n)

	var g errgroup.Group
	for i, step := range group.Steps {
		g.Go(func() error {
			v, err := runStep(ctx, exec, i+1, step)
			if err != nil {
				errs[i] = err
				return err
			}
			values[i] = v
			return nil
		})
	}
	// Wait is only a barrier; the reported error is picked by position below
	_ = g.Wait()

	var firstErr error
	ok := 0
	for _, err := range errs {
		var pe *PanicError
		if errors.As(err, &pe) {
			return SagaResult[[]T]{}, exec.fail(ctx, &FanoutError{Step: pe.Step, Value: pe.Value}, 0)
		}
		switch {
		case err == nil:
			ok++
		case firstErr == nil:
			firstErr = err
		}
	}
	if firstErr != nil {
		return SagaResult[[]T]{}, exec.fail(ctx, firstErr, ok)
	}

	exec.succeed(ctx, n)
	return newResult(values, n, exec), nil
}

// RunRace runs every step concurrently and returns the first success,
// cancelling the context seen by the rest. Losers are not waited for. A loser
// whose action still succeeds keeps its ledger entry and is not compensated
// automatically; use SagaResult.Rollback to release it. If every step fails
// the first error to arrive is returned with StepFailed = len(steps).
func RunRace[T any](ctx context.Context, c *Coordinator, group RaceGroup[T]) (SagaResult[T], error) {
	ctx, exec := c.begin(ctx, KindRace)

	n := len(group.Steps)
	if n == 0 {
		return SagaResult[T]{}, exec.fail(ctx, ErrNoSteps, 0)
	}

	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		value T
		err   error
	}
	// buffered so losers never block after we return
	outcomes := make(chan outcome, n)
	for i, step := range group.Steps {
		go func() {
			v, err := runStep(raceCtx, exec, i+1, step)
			outcomes <- outcome{value: v, err: err}
		}()
	}

	var firstErr error
	for received := 0; received < n; received++ {
		o := <-outcomes
		if o.err == nil {
			cancel()
			exec.succeed(ctx, 1)
			return newResult(o.value, 1, exec), nil
		}
		if firstErr == nil {
			firstErr = o.err
		}
	}
	return SagaResult[T]{}, exec.fail(ctx, firstErr, n)
}
