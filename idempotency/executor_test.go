package idempotency

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chargeRequest struct {
	OrderID string `json:"order_id"`
	Amount  int    `json:"amount"`
}

func chargeOp(calls *int) func(context.Context, chargeRequest) (string, error) {
	return func(_ context.Context, req chargeRequest) (string, error) {
		*calls++
		return "tx-" + req.OrderID, nil
	}
}

func orderKey(req chargeRequest) string { return "payment:" + req.OrderID }

func TestBuilderRequiresKey(t *testing.T) {
	calls := 0
	_, err := Idempotent(chargeOp(&calls)).Build()
	assert.ErrorIs(t, err, ErrKeyRequired)

	assert.Panics(t, func() {
		Idempotent(chargeOp(&calls)).MustBuild()
	})
}

func TestExecutorRunAndInvalidate(t *testing.T) {
	ctx := context.Background()
	calls := 0
	store := NewMemoryStore[string]()
	exec := Idempotent(chargeOp(&calls)).
		Key(orderKey).
		Store(store).
		Policy(NewPolicy().WithOnPending(OnPendingFail)).
		MustBuild()

	req := chargeRequest{OrderID: "42", Amount: 100}

	res, err := exec.Run(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "tx-42", res.Value)
	assert.Equal(t, "payment:42", res.Key)
	assert.False(t, res.FromCache)

	res, err = exec.Run(ctx, req)
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.Equal(t, 1, calls)

	existed, err := exec.Invalidate(ctx, req)
	require.NoError(t, err)
	assert.True(t, existed)

	res, err = exec.Run(ctx, req)
	require.NoError(t, err)
	assert.False(t, res.FromCache)
	assert.Equal(t, 2, calls)
	assert.Same(t, store, exec.Coordinator().Store())
}

func TestExecutorFingerprintDetectsCollisions(t *testing.T) {
	ctx := context.Background()
	calls := 0
	exec := Idempotent(chargeOp(&calls)).
		Key(orderKey).
		Fingerprint(JSONFingerprint[chargeRequest]).
		MustBuild()

	_, err := exec.Run(ctx, chargeRequest{OrderID: "42", Amount: 100})
	require.NoError(t, err)

	_, err = exec.Run(ctx, chargeRequest{OrderID: "42", Amount: 250})
	assert.ErrorIs(t, err, ErrInputMismatch)
	assert.Equal(t, 1, calls)
}

func TestExecutorFingerprintFailureIsTyped(t *testing.T) {
	calls := 0
	unhashable := errors.New("cannot encode input")
	exec := Idempotent(chargeOp(&calls)).
		Key(orderKey).
		Fingerprint(func(chargeRequest) (string, error) { return "", unhashable }).
		MustBuild()

	_, err := exec.Run(context.Background(), chargeRequest{OrderID: "7"})
	var ie *Error
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, KindExecution, ie.Kind)
	assert.Equal(t, KindExecution, KindOf(err))
	assert.ErrorIs(t, err, unhashable)
	assert.Contains(t, err.Error(), "payment:7")
	assert.Zero(t, calls)
}

func TestExecutorDefaultsToMemoryStore(t *testing.T) {
	calls := 0
	exec := Idempotent(chargeOp(&calls)).Key(orderKey).MustBuild()
	_, ok := exec.Coordinator().Store().(*MemoryStore[string])
	assert.True(t, ok)
	assert.Equal(t, NewPolicy(), exec.Coordinator().Policy())
}
