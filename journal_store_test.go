package reliable

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testJournalRecord(id string) JournalRecord {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return JournalRecord{
		SagaID: id,
		Kind:   KindChain,
		Status: SagaStatusRolledBack,
		Error:  "hotel unavailable",
		Events: []StepEvent{
			{Step: 1, Name: "flight", Type: EventStarted, At: at},
			{Step: 1, Name: "flight", Type: EventSucceeded, At: at},
			{Step: 2, Name: "hotel", Type: EventStarted, At: at},
			{Step: 2, Name: "hotel", Type: EventFailed, At: at},
			{Step: 1, Name: "flight", Type: EventUndoStarted, At: at},
			{Step: 1, Name: "flight", Type: EventUndoFinished, At: at},
		},
		CreatedAt: at,
	}
}

func TestJournalStores(t *testing.T) {
	stores := map[string]func(t *testing.T) JournalStore{
		"memory": func(t *testing.T) JournalStore { return NewMemoryJournalStore() },
		"file": func(t *testing.T) JournalStore {
			s, err := NewFileJournalStore(filepath.Join(t.TempDir(), "journals"))
			require.NoError(t, err)
			return s
		},
	}

	for name, newStore := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t)

			_, err := store.Load(ctx, "missing")
			assert.ErrorIs(t, err, ErrJournalNotFound)

			require.NoError(t, store.Save(ctx, testJournalRecord("trip-2")))
			require.NoError(t, store.Save(ctx, testJournalRecord("trip-1")))

			ids, err := store.List(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"trip-1", "trip-2"}, ids)

			loaded, err := store.Load(ctx, "trip-1")
			require.NoError(t, err)
			assert.Equal(t, SagaStatusRolledBack, loaded.Status)
			assert.Equal(t, "hotel unavailable", loaded.Error)
			assert.Len(t, loaded.Events, 6)
			assert.False(t, loaded.UpdatedAt.IsZero())

			journal, err := loaded.Journal()
			require.NoError(t, err)
			assert.Equal(t, StatusUndoFinished, journal.Status(1))

			updated := testJournalRecord("trip-1")
			updated.Status = SagaStatusRollbackIncomplete
			require.NoError(t, store.Save(ctx, updated))
			loaded, err = store.Load(ctx, "trip-1")
			require.NoError(t, err)
			assert.Equal(t, SagaStatusRollbackIncomplete, loaded.Status)

			require.NoError(t, store.Delete(ctx, "trip-1"))
			require.NoError(t, store.Delete(ctx, "trip-1"))
			_, err = store.Load(ctx, "trip-1")
			assert.ErrorIs(t, err, ErrJournalNotFound)
		})
	}
}

func TestFileJournalStoreRejectsUnsafeIDs(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := NewFileJournalStore(dir)
	require.NoError(t, err)

	assert.Error(t, store.Save(ctx, testJournalRecord("../escape")))
	_, err = store.Load(ctx, "a/b")
	assert.Error(t, err)
	assert.Error(t, store.Delete(ctx, ""))

	_, statErr := os.Stat(filepath.Join(filepath.Dir(dir), "escape.json"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestFileJournalStoreIgnoresOtherFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := NewFileJournalStore(dir)
	require.NoError(t, err)

	require.NoError(t, store.Save(ctx, testJournalRecord("trip-1")))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "archive.json"), 0o755))

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"trip-1"}, ids)
}

func TestMemoryJournalStoreCopiesEvents(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryJournalStore()
	record := testJournalRecord("trip-1")
	require.NoError(t, store.Save(ctx, record))

	record.Events[0].Name = "mutated"
	loaded, err := store.Load(ctx, "trip-1")
	require.NoError(t, err)
	assert.Equal(t, "flight", loaded.Events[0].Name)
}
