package reliable

import (
	"context"
	"fmt"
)

// Action is the forward half of a saga step.
type Action[T any] func(ctx context.Context) (T, error)

// Compensator undoes a successful Action, receiving the value it produced.
type Compensator[T any] func(ctx context.Context, value T) error

// SagaStep pairs an action with its compensator. Compensate may be nil for
// steps with nothing to undo. A step adds at most one ledger entry, and only
// when its action succeeds.
type SagaStep[T any] struct {
	Name       string
	Action     Action[T]
	Compensate Compensator[T]
}

// Step creates a SagaStep.
func Step[T any](action Action[T], compensate Compensator[T]) SagaStep[T] {
	return SagaStep[T]{Action: action, Compensate: compensate}
}

// Named returns a copy of the step labelled for logs and the journal.
func (s SagaStep[T]) Named(name string) SagaStep[T] {
	s.Name = name
	return s
}

func (s SagaStep[T]) label(index int) string {
	if s.Name != "" {
		return s.Name
	}
	return fmt.Sprintf("step-%d", index)
}

// Chain is a two-step saga whose second step depends on the first's value.
type Chain[T, U any] struct {
	First SagaStep[T]
	Next  func(T) SagaStep[U]
}

// Then builds a Chain: next receives first's value and returns the step to run.
func Then[T, U any](first SagaStep[T], next func(T) SagaStep[U]) Chain[T, U] {
	return Chain[T, U]{First: first, Next: next}
}

// ParallelGroup runs its steps concurrently.
type ParallelGroup[T any] struct {
	Steps []SagaStep[T]
}

// Parallel groups steps for RunParallel.
func Parallel[T any](steps ...SagaStep[T]) ParallelGroup[T] {
	return ParallelGroup[T]{Steps: steps}
}

// RaceGroup runs its steps concurrently and keeps the first success.
type RaceGroup[T any] struct {
	Steps []SagaStep[T]
}

// Race groups steps for RunRace.
func Race[T any](steps ...SagaStep[T]) RaceGroup[T] {
	return RaceGroup[T]{Steps: steps}
}

// runStep runs one step's action and, on success, records its compensator.
// A panicking action is reported as *PanicError.
func runStep[T any](ctx context.Context, exec *execution, index int, step SagaStep[T]) (value T, err error) {
	name := step.label(index)
	exec.event(index, name, EventStarted)

	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Step: index, Value: r}
		}
		if err != nil {
			exec.event(index, name, EventFailed)
			exec.logStepFailure(index, name, err)
			return
		}
		exec.event(index, name, EventSucceeded)
		if step.Compensate != nil {
			recordCompensation(exec.ledger, index, name, value, step.Compensate)
		}
	}()

	if step.Action == nil {
		return value, fmt.Errorf("step %s has no action", name)
	}
	return step.Action(ctx)
}
