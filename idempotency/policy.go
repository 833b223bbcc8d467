package idempotency

import (
	"fmt"
	"strings"
	"time"
)

// OnPending is the conflict strategy applied when a call finds the key
// pending under another caller.
type OnPending int

const (
	// OnPendingWait polls until the pending owner finishes.
	OnPendingWait OnPending = iota
	// OnPendingFail returns KindConflict immediately.
	OnPendingFail
	// OnPendingForce deletes the pending record and executes anyway.
	// The original owner may overwrite the result; operator override only.
	OnPendingForce
)

func (o OnPending) String() string {
	switch o {
	case OnPendingWait:
		return "wait"
	case OnPendingFail:
		return "fail"
	case OnPendingForce:
		return "force"
	default:
		return fmt.Sprintf("unknown(%d)", int(o))
	}
}

// ParseOnPending parses "wait", "fail" or "force" (case-insensitive).
func ParseOnPending(s string) (OnPending, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "wait", "":
		return OnPendingWait, nil
	case "fail":
		return OnPendingFail, nil
	case "force":
		return OnPendingForce, nil
	}
	return OnPendingWait, fmt.Errorf("invalid conflict strategy %q", s)
}

const (
	DefaultPendingWaitTimeout = 30 * time.Second
	DefaultLockAcquireTimeout = 5 * time.Second
)

// Policy configures how the coordinator treats a key. It is a value type:
// each With method returns a modified copy and never touches the receiver.
type Policy struct {
	resultTTL          time.Duration
	conflictStrategy   OnPending
	pendingWaitTimeout time.Duration
	lockAcquireTimeout time.Duration
	persistFailed      bool
	failedResultTTL    time.Duration
}

// NewPolicy returns the default policy: no TTL, WAIT on pending with a 30s
// budget, 5s lock timeout, failures not persisted.
func NewPolicy() Policy {
	return Policy{
		conflictStrategy:   OnPendingWait,
		pendingWaitTimeout: DefaultPendingWaitTimeout,
		lockAcquireTimeout: DefaultLockAcquireTimeout,
	}
}

// WithTTL sets how long completed records live. Zero or negative disables expiry.
func (p Policy) WithTTL(ttl time.Duration) Policy {
	p.resultTTL = clampTTL(ttl)
	return p
}

// WithOnPending sets the conflict strategy.
func (p Policy) WithOnPending(strategy OnPending) Policy {
	p.conflictStrategy = strategy
	return p
}

// WithWaitTimeout sets the WAIT budget. Non-positive values restore the default.
func (p Policy) WithWaitTimeout(timeout time.Duration) Policy {
	if timeout <= 0 {
		timeout = DefaultPendingWaitTimeout
	}
	p.pendingWaitTimeout = timeout
	return p
}

// WithLockTimeout sets the advisory lock acquisition timeout. Non-positive
// values restore the default.
func (p Policy) WithLockTimeout(timeout time.Duration) Policy {
	if timeout <= 0 {
		timeout = DefaultLockAcquireTimeout
	}
	p.lockAcquireTimeout = timeout
	return p
}

// WithStoreFailed controls whether failed outcomes are cached. When false
// the pending record is deleted on failure so the key can be retried.
func (p Policy) WithStoreFailed(store bool) Policy {
	p.persistFailed = store
	return p
}

// WithFailedTTL sets a separate TTL for failed records. Zero falls back to
// the result TTL.
func (p Policy) WithFailedTTL(ttl time.Duration) Policy {
	p.failedResultTTL = clampTTL(ttl)
	return p
}

func (p Policy) ResultTTL() time.Duration { return p.resultTTL }
func (p Policy) ConflictStrategy() OnPending { return p.conflictStrategy }
func (p Policy) PendingWaitTimeout() time.Duration { return p.pendingWaitTimeout }
func (p Policy) LockAcquireTimeout() time.Duration { return p.lockAcquireTimeout }
func (p Policy) PersistFailed() bool { return p.persistFailed }

// FailedResultTTL returns the TTL applied to failed records, falling back
// to ResultTTL when none was set.
func (p Policy) FailedResultTTL() time.Duration {
	if p.failedResultTTL > 0 {
		return p.failedResultTTL
	}
	return p.resultTTL
}

// normalized fills in defaults for a zero-value Policy{}.
func (p Policy) normalized() Policy {
	if p.pendingWaitTimeout <= 0 {
		p.pendingWaitTimeout = DefaultPendingWaitTimeout
	}
	if p.lockAcquireTimeout <= 0 {
		p.lockAcquireTimeout = DefaultLockAcquireTimeout
	}
	return p
}

func (p Policy) String() string {
	return fmt.Sprintf(
		"Policy{ttl=%s on_pending=%s wait=%s lock=%s store_failed=%t failed_ttl=%s}",
		p.resultTTL, p.conflictStrategy, p.pendingWaitTimeout, p.lockAcquireTimeout,
		p.persistFailed, p.FailedResultTTL(),
	)
}

func clampTTL(ttl time.Duration) time.Duration {
	if ttl < 0 {
		return 0
	}
	return ttl
}
