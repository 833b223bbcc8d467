package idempotency

import "fmt"

// DecisionKind tags the action chosen for one observed record.
type DecisionKind int

const (
	DecideExecute DecisionKind = iota
	DecideCached
	DecideInputMismatch
	DecideCachedFailure
	DecideConflict
	DecideWait
	DecideForce
)

func (k DecisionKind) String() string {
	switch k {
	case DecideExecute:
		return "execute"
	case DecideCached:
		return "cached"
	case DecideInputMismatch:
		return "input_mismatch"
	case DecideCachedFailure:
		return "cached_failure"
	case DecideConflict:
		return "conflict"
	case DecideWait:
		return "wait"
	case DecideForce:
		return "force"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Decision is the outcome of Decide. Record is the observed record, nil for
// DecideExecute.
type Decision[T any] struct {
	Kind   DecisionKind
	Record *Record[T]
}

// Decide maps the observed record and policy to the next action. It performs
// no I/O; rec must already have expired records filtered out by the store.
func Decide[T any](rec *Record[T], inputHash string, policy Policy) Decision[T] {
	if rec == nil {
		return Decision[T]{Kind: DecideExecute}
	}
	switch rec.State {
	case StateCompleted:
		if hashMismatch(rec.InputHash, inputHash) {
			return Decision[T]{Kind: DecideInputMismatch, Record: rec}
		}
		return Decision[T]{Kind: DecideCached, Record: rec}
	case StateFailed:
		return Decision[T]{Kind: DecideCachedFailure, Record: rec}
	}

	switch policy.ConflictStrategy() {
	case OnPendingFail:
		return Decision[T]{Kind: DecideConflict, Record: rec}
	case OnPendingForce:
		return Decision[T]{Kind: DecideForce, Record: rec}
	default:
		return Decision[T]{Kind: DecideWait, Record: rec}
	}
}

// hashMismatch is true only when both fingerprints are present and differ.
func hashMismatch(stored, supplied string) bool {
	return stored != "" && supplied != "" && stored != supplied
}
