package idempotency

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecide(t *testing.T) {
	pending := &Record[string]{Key: "k", State: StatePending}
	completed := &Record[string]{Key: "k", State: StateCompleted, Value: "v", InputHash: "aaa"}
	completedNoHash := &Record[string]{Key: "k", State: StateCompleted, Value: "v"}
	failed := &Record[string]{Key: "k", State: StateFailed}

	wait := NewPolicy()
	fail := NewPolicy().WithOnPending(OnPendingFail)
	force := NewPolicy().WithOnPending(OnPendingForce)

	scenarios := []struct {
		name   string
		record *Record[string]
		hash   string
		policy Policy
		want   DecisionKind
	}{
		{"absent executes", nil, "aaa", wait, DecideExecute},
		{"completed same hash", completed, "aaa", fail, DecideCached},
		{"completed caller without hash", completed, "", wait, DecideCached},
		{"completed record without hash", completedNoHash, "bbb", wait, DecideCached},
		{"completed different hash", completed, "bbb", force, DecideInputMismatch},
		{"failed under any policy", failed, "", force, DecideCachedFailure},
		{"pending with fail", pending, "", fail, DecideConflict},
		{"pending with wait", pending, "", wait, DecideWait},
		{"pending with force", pending, "", force, DecideForce},
		{"pending with zero policy waits", pending, "", Policy{}, DecideWait},
	}

	for _, s := range scenarios {
		t.Run(s.name, func(t *testing.T) {
			d := Decide(s.record, s.hash, s.policy)
			assert.Equal(t, s.want, d.Kind, "decision for %s", s.name)
			if s.record == nil {
				assert.Nil(t, d.Record)
			} else {
				assert.Same(t, s.record, d.Record)
			}
		})
	}
}
