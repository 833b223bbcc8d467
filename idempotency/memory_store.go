package idempotency

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/btree"
)

// expiryItem orders records by deadline for Sweep.
type expiryItem struct {
	at  time.Time
	key string
}

func expiryLess(a, b expiryItem) bool {
	if a.at.Equal(b.at) {
		return strings.Compare(a.key, b.key) < 0
	}
	return a.at.Before(b.at)
}

// MemoryStore is the reference Store. A single mutex guards the whole map and
// is held for the full duration of every method, so SetPending is trivially
// atomic. Expired records are purged lazily on Get and SetPending, or in
// bulk by Sweep.
type MemoryStore[T any] struct {
	mu      sync.Mutex
	records map[string]*Record[T]
	expiry  *btree.BTreeG[expiryItem]
	now     func() time.Time
}

var _ Store[any] = (*MemoryStore[any])(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore[T any](opts ...StoreOption) *MemoryStore[T] {
	o := applyStoreOptions(opts)
	return &MemoryStore[T]{
		records: make(map[string]*Record[T]),
		// the store mutex already serializes access
		expiry: btree.NewBTreeGOptions(expiryLess, btree.Options{NoLocks: true}),
		now:    o.now,
	}
}

// Get returns a copy of the live record for key.
func (m *MemoryStore[T]) Get(ctx context.Context, key string) (*Record[T], error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := m.liveLocked(key)
	if rec == nil {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

// SetPending claims key when it is absent or expired.
func (m *MemoryStore[T]) SetPending(ctx context.Context, key string, ttl time.Duration, inputHash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.liveLocked(key) != nil {
		return false, nil
	}

	now := m.now()
	rec := &Record[T]{
		Key:       key,
		State:     StatePending,
		CreatedAt: now,
		ExpiresAt: expiresAt(now, ttl),
		InputHash: inputHash,
	}
	m.putLocked(rec)
	return true, nil
}

// SetCompleted stores value on the existing record for key.
func (m *MemoryStore[T]) SetCompleted(ctx context.Context, key string, value T, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[key]
	if !ok {
		return NewStoreError("no pending record for key: "+key, nil)
	}
	next := *rec
	next.State = StateCompleted
	next.Value = value
	next.Err = nil
	next.ExpiresAt = expiresAt(m.now(), ttl)
	m.putLocked(&next)
	return nil
}

// SetFailed stores cause on the existing record for key.
func (m *MemoryStore[T]) SetFailed(ctx context.Context, key string, cause error, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[key]
	if !ok {
		return NewStoreError("no pending record for key: "+key, nil)
	}
	var zero T
	next := *rec
	next.State = StateFailed
	next.Value = zero
	next.Err = cause
	next.ExpiresAt = expiresAt(m.now(), ttl)
	m.putLocked(&next)
	return nil
}

// Delete removes key. An expired record is reported as absent.
func (m *MemoryStore[T]) Delete(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// liveLocked drops an expired record, which then counts as absent
	if m.liveLocked(key) == nil {
		return false, nil
	}
	m.removeLocked(key)
	return true, nil
}

// Sweep removes every record expired at the current time and returns how
// many were removed.
func (m *MemoryStore[T]) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for {
		item, ok := m.expiry.Min()
		if !ok || !now.After(item.at) {
			break
		}
		m.expiry.Delete(item)
		delete(m.records, item.key)
		removed++
	}
	return removed
}

// Len returns the number of stored records, expired ones included.
func (m *MemoryStore[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func (m *MemoryStore[T]) liveLocked(key string) *Record[T] {
	rec, ok := m.records[key]
	if !ok {
		return nil
	}
	if rec.ExpiredAt(m.now()) {
		m.removeLocked(key)
		return nil
	}
	return rec
}

func (m *MemoryStore[T]) putLocked(rec *Record[T]) {
	if old, ok := m.records[rec.Key]; ok && !old.ExpiresAt.IsZero() {
		m.expiry.Delete(expiryItem{at: old.ExpiresAt, key: old.Key})
	}
	m.records[rec.Key] = rec
	if !rec.ExpiresAt.IsZero() {
		m.expiry.Set(expiryItem{at: rec.ExpiresAt, key: rec.Key})
	}
}

func (m *MemoryStore[T]) removeLocked(key string) {
	rec, ok := m.records[key]
	if !ok {
		return
	}
	if !rec.ExpiresAt.IsZero() {
		m.expiry.Delete(expiryItem{at: rec.ExpiresAt, key: key})
	}
	delete(m.records, key)
}
