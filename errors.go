package reliable

import (
	"errors"
	"fmt"
)

// ErrFanout matches a *FanoutError with errors.Is.
var ErrFanout = errors.New("reliable: fan-out failure")

// ErrNoSteps is returned by RunRace for an empty race.
var ErrNoSteps = errors.New("reliable: no steps to run")

// SagaError describes a failed saga execution after its rollback ran.
type SagaError struct {
	// Err is the step's error, or a *FanoutError.
	Err error
	// StepFailed is the 1-based position of the failing step for Run and
	// RunChain, the number of non-failing steps for RunParallel, the number
	// of steps for RunRace, and 0 for fan-out failures.
	StepFailed         int
	CompensatorsRun    int
	CompensatorsFailed int
	// RollbackComplete is true when every compensator succeeded.
	RollbackComplete bool
	SagaID           string
}

func (e *SagaError) Error() string {
	return fmt.Sprintf("saga %s failed (step %d, compensators run=%d failed=%d): %v",
		e.SagaID, e.StepFailed, e.CompensatorsRun, e.CompensatorsFailed, e.Err)
}

func (e *SagaError) Unwrap() error {
	return e.Err
}

// FanoutError reports that the concurrent machinery itself failed, as
// opposed to a step returning an error. A step that panics inside
// RunParallel produces one.
type FanoutError struct {
	Step  int
	Value any
}

func (e *FanoutError) Error() string {
	return fmt.Sprintf("fan-out failed: step %d panicked: %v", e.Step, e.Value)
}

func (e *FanoutError) Is(target error) bool {
	return target == ErrFanout
}

// PanicError wraps a value recovered from a panicking action.
type PanicError struct {
	Step  int
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("step %d panicked: %v", e.Step, e.Value)
}
