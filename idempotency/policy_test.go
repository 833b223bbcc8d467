package idempotency

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicyDefaults(t *testing.T) {
	p := NewPolicy()
	assert.Equal(t, time.Duration(0), p.ResultTTL())
	assert.Equal(t, OnPendingWait, p.ConflictStrategy())
	assert.Equal(t, 30*time.Second, p.PendingWaitTimeout())
	assert.Equal(t, 5*time.Second, p.LockAcquireTimeout())
	assert.False(t, p.PersistFailed())
	assert.Equal(t, time.Duration(0), p.FailedResultTTL())
}

func TestPolicyWithMethodsReturnCopies(t *testing.T) {
	base := NewPolicy()
	derived := base.
		WithTTL(time.Hour).
		WithOnPending(OnPendingFail).
		WithWaitTimeout(time.Second).
		WithLockTimeout(2 * time.Second).
		WithStoreFailed(true)

	assert.Equal(t, NewPolicy(), base, "base policy must be untouched")
	assert.Equal(t, time.Hour, derived.ResultTTL())
	assert.Equal(t, OnPendingFail, derived.ConflictStrategy())
	assert.Equal(t, time.Second, derived.PendingWaitTimeout())
	assert.Equal(t, 2*time.Second, derived.LockAcquireTimeout())
	assert.True(t, derived.PersistFailed())
	assert.Equal(t, time.Hour, derived.FailedResultTTL(), "falls back to result ttl")
	assert.Equal(t, 10*time.Minute, derived.WithFailedTTL(10*time.Minute).FailedResultTTL())
}

func TestPolicyRejectsNonsenseDurations(t *testing.T) {
	p := NewPolicy().WithTTL(-time.Second).WithWaitTimeout(0).WithLockTimeout(-1)
	assert.Equal(t, time.Duration(0), p.ResultTTL())
	assert.Equal(t, DefaultPendingWaitTimeout, p.PendingWaitTimeout())
	assert.Equal(t, DefaultLockAcquireTimeout, p.LockAcquireTimeout())
}

func TestParseOnPending(t *testing.T) {
	for in, want := range map[string]OnPending{
		"wait":   OnPendingWait,
		"FAIL":   OnPendingFail,
		" force": OnPendingForce,
		"":       OnPendingWait,
	} {
		got, err := ParseOnPending(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseOnPending("retry")
	assert.Error(t, err)
}

func TestErrorKinds(t *testing.T) {
	cause := errors.New("boom")
	err := fmt.Errorf("charging: %w", newError(KindExecution, "operation failed", cause))

	assert.ErrorIs(t, err, ErrExecution)
	assert.NotErrorIs(t, err, ErrConflict)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, KindExecution, KindOf(err))
	assert.Equal(t, ErrorKind(0), KindOf(cause))

	assert.Equal(t, "CONFLICT: pending conflict: k", newError(KindConflict, "pending conflict: k", nil).Error())
	assert.Equal(t, "LOCK_ERROR", KindLockError.String())

	se := storeFailure(NewStoreError("timeout", cause))
	assert.Equal(t, KindStoreError, se.Kind)
	assert.Equal(t, "timeout", se.Message)
	assert.ErrorIs(t, se, cause)
}

func TestFingerprint(t *testing.T) {
	type charge struct {
		Order  string `json:"order"`
		Amount int    `json:"amount"`
	}

	a, err := Fingerprint(charge{Order: "42", Amount: 100})
	require.NoError(t, err)
	b, err := Fingerprint(charge{Order: "42", Amount: 100})
	require.NoError(t, err)
	c, err := Fingerprint(charge{Order: "42", Amount: 101})
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEmpty(t, a)

	_, err = Fingerprint(make(chan int))
	assert.Error(t, err)
}
