package idempotency

import (
	"encoding/json"
	"fmt"
	"time"
)

// RecordState is the lifecycle state of an idempotency record.
//
//	PENDING -> COMPLETED
//	        -> FAILED
//	        -> (deleted / expired)
type RecordState int

const (
	StatePending RecordState = iota
	StateCompleted
	StateFailed
)

func (s RecordState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// ParseRecordState is the inverse of RecordState.String.
func ParseRecordState(s string) (RecordState, error) {
	switch s {
	case "pending":
		return StatePending, nil
	case "completed":
		return StateCompleted, nil
	case "failed":
		return StateFailed, nil
	}
	return StatePending, fmt.Errorf("invalid record state %q", s)
}

// MarshalJSON implements the json.Marshaler interface for RecordState.
func (s RecordState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for RecordState.
func (s *RecordState) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	parsed, err := ParseRecordState(str)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Record is the stored state for one idempotency key.
//
// Value is only meaningful when State is StateCompleted and Err is only set
// when State is StateFailed. A zero ExpiresAt means the record never expires;
// an empty InputHash means no fingerprint was supplied when it was claimed.
type Record[T any] struct {
	Key       string
	State     RecordState
	Value     T
	Err       error
	CreatedAt time.Time
	ExpiresAt time.Time
	InputHash string
}

// ExpiredAt reports whether the record is expired at the given instant.
func (r *Record[T]) ExpiredAt(now time.Time) bool {
	if r.ExpiresAt.IsZero() {
		return false
	}
	return now.After(r.ExpiresAt)
}

func (r *Record[T]) IsPending() bool { return r.State == StatePending }
func (r *Record[T]) IsCompleted() bool { return r.State == StateCompleted }
func (r *Record[T]) IsFailed() bool { return r.State == StateFailed }

// RecordedError is the error persisted by stores that cannot keep the
// original error value (SQL, Redis). Only the message survives the round trip.
type RecordedError struct {
	Message string `json:"message"`
}

func (e *RecordedError) Error() string {
	return e.Message
}

// expiresAt converts a TTL into an absolute deadline; zero means never.
func expiresAt(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}
