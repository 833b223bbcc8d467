package reliable

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

type ledgerEntry struct {
	step int
	name string
	undo func(ctx context.Context) error
}

// Ledger is the append-only list of compensations recorded by one saga
// execution. Entries are kept in completion order and rolled back
// tail-to-head. It is safe for concurrent appends.
type Ledger struct {
	mu      sync.Mutex
	entries []ledgerEntry
	journal *Journal
	logger  *zap.Logger
}

// NewLedger creates an empty ledger that journals nothing.
func NewLedger() *Ledger {
	return newLedger(nil, nil)
}

func newLedger(journal *Journal, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{journal: journal, logger: logger}
}

// Record appends a compensation for value produced by step.
func Record[T any](l *Ledger, step int, value T, compensate Compensator[T]) {
	recordCompensation(l, step, fmt.Sprintf("step-%d", step), value, compensate)
}

func recordCompensation[T any](l *Ledger, step int, name string, value T, compensate Compensator[T]) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, ledgerEntry{
		step: step,
		name: name,
		undo: func(ctx context.Context) error {
			return compensate(ctx, value)
		},
	})
}

// Len returns the number of pending compensations.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Steps returns the step index of each entry in recording order.
func (l *Ledger) Steps() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	steps := make([]int, len(l.entries))
	for i, e := range l.entries {
		steps[i] = e.step
	}
	return steps
}

// Rollback runs every recorded compensator from newest to oldest. Failures
// and panics are counted, never propagated, and never stop the walk. The
// entries are consumed, so a second Rollback does nothing.
func (l *Ledger) Rollback(ctx context.Context) (ran, failed int) {
	l.mu.Lock()
	entries := l.entries
	l.entries = nil
	l.mu.Unlock()

	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		l.journalEvent(e, EventUndoStarted)
		ran++
		if err := safeUndo(ctx, e.undo); err != nil {
			failed++
			l.journalEvent(e, EventUndoFailed)
			l.logger.Warn("compensation failed",
				zap.Int("step", e.step),
				zap.String("name", e.name),
				zap.Error(err),
			)
			continue
		}
		l.journalEvent(e, EventUndoFinished)
	}
	return ran, failed
}

func (l *Ledger) journalEvent(e ledgerEntry, eventType StepEventType) {
	if l.journal == nil {
		return
	}
	if err := l.journal.Record(e.step, e.name, eventType); err != nil {
		l.logger.Warn("journal rejected event", zap.Int("step", e.step), zap.Error(err))
	}
}

func safeUndo(ctx context.Context, undo func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("compensator panicked: %v", r)
		}
	}()
	return undo(ctx)
}
