package idempotency

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an idempotency failure.
type ErrorKind int

const (
	// KindConflict: another caller holds the key and no WAIT resolution applies.
	KindConflict ErrorKind = iota + 1
	// KindTimeout: the WAIT budget elapsed while the record stayed pending.
	KindTimeout
	// KindStoreError: the backing store failed.
	KindStoreError
	// KindLockError is reserved; none of the shipped stores raise it.
	KindLockError
	// KindExecution: the wrapped operation failed, or a cached failure was found.
	KindExecution
	// KindInputMismatch: a cached result belongs to a different input fingerprint.
	KindInputMismatch
)

func (k ErrorKind) String() string {
	switch k {
	case KindConflict:
		return "CONFLICT"
	case KindTimeout:
		return "TIMEOUT"
	case KindStoreError:
		return "STORE_ERROR"
	case KindLockError:
		return "LOCK_ERROR"
	case KindExecution:
		return "EXECUTION"
	case KindInputMismatch:
		return "INPUT_MISMATCH"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(k))
	}
}

// Error is returned by the coordinator for every failed call.
// Cause carries the operation's error for KindExecution and the store's
// error for KindStoreError.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches kind sentinels such as ErrConflict.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Cause == nil && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrConflict      = &Error{Kind: KindConflict}
	ErrTimeout       = &Error{Kind: KindTimeout}
	ErrStore         = &Error{Kind: KindStoreError}
	ErrLock          = &Error{Kind: KindLockError}
	ErrExecution     = &Error{Kind: KindExecution}
	ErrInputMismatch = &Error{Kind: KindInputMismatch}
)

// ErrKeyRequired is returned by Builder.Build when no key function was set.
var ErrKeyRequired = errors.New("idempotency: key function is required")

// KindOf returns the kind of an idempotency error, or 0 if err is not one.
func KindOf(err error) ErrorKind {
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Kind
	}
	return 0
}

func newError(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// storeFailure normalizes any store error into a KindStoreError.
func storeFailure(err error) *Error {
	var se *StoreError
	if errors.As(err, &se) {
		return newError(KindStoreError, se.Message, se.Cause)
	}
	return newError(KindStoreError, "store operation failed", err)
}

// StoreError is the single error type stores report.
type StoreError struct {
	Message string
	Cause   error
}

// NewStoreError creates a StoreError.
func NewStoreError(message string, cause error) *StoreError {
	return &StoreError{Message: message, Cause: cause}
}

func (e *StoreError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("store: %s: %v", e.Message, e.Cause)
	}
	return "store: " + e.Message
}

func (e *StoreError) Unwrap() error {
	return e.Cause
}

// PanicError wraps a value recovered from a panicking operation.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("operation panicked: %v", e.Value)
}
