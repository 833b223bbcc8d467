package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortressi/reliable/idempotency/sqlstore"
)

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "reliable.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: error\n"+content), 0o644))
	return path
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestDemo(t *testing.T) {
	journalDir := t.TempDir()
	cfg := writeTestConfig(t, fmt.Sprintf("journal:\n  dir: %s\n", journalDir))

	out, err := runCLI(t, "-c", cfg, "demo")
	require.NoError(t, err)

	assert.Contains(t, out, "card charged 1 time(s)")
	assert.Equal(t, 4, strings.Count(out, "(from cache: true)"))
	assert.Contains(t, out, "cancelled flight FL-100")
	assert.Contains(t, out, "failed at step 2")
	assert.Contains(t, out, "compensators run=1 failed=0 complete=true")
	assert.Contains(t, out, "rolled_back, 6 events")
	assert.Contains(t, out, "reliable_saga_executions_total")
	assert.Contains(t, out, "reliable_idempotency_decisions_total")

	out, err = runCLI(t, "-c", cfg, "journal", "list")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "chain\trolled_back")

	sagaID := strings.Fields(lines[0])[0]
	out, err = runCLI(t, "-c", cfg, "journal", "show", sagaID)
	require.NoError(t, err)
	assert.Contains(t, out, "status: rolled_back")
	assert.Contains(t, out, "SAGA JOURNAL")
	assert.Contains(t, out, "book_hotel")
}

func TestDemoHotelSucceeds(t *testing.T) {
	out, err := runCLI(t, "-c", writeTestConfig(t, ""), "demo", "--hotel-fails=false", "--callers", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "booked: HT-7")
	assert.Contains(t, out, "completed, 4 events")
	assert.NotContains(t, out, "cancelled flight")
}

func TestJournalRequiresDir(t *testing.T) {
	_, err := runCLI(t, "-c", writeTestConfig(t, ""), "journal", "list")
	assert.ErrorContains(t, err, "journal.dir is not configured")
}

func TestSQLiteRecordCommands(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "records.db")
	cfg := writeTestConfig(t, fmt.Sprintf("store:\n  driver: sqlite\n  dsn: %s\n", dsn))

	out, err := runCLI(t, "-c", cfg, "migrate", "--print")
	require.NoError(t, err)
	assert.Contains(t, out, "CREATE TABLE IF NOT EXISTS idempotency_records")

	out, err = runCLI(t, "-c", cfg, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "schema ready for table idempotency_records")

	_, err = runCLI(t, "-c", cfg, "get", "order:1")
	assert.ErrorContains(t, err, `no record for key "order:1"`)

	seedRecord(t, dsn, "order:1", `{"total":42}`)

	out, err = runCLI(t, "-c", cfg, "get", "order:1")
	require.NoError(t, err)
	var view recordView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, "order:1", view.Key)
	assert.Equal(t, "completed", view.State)
	assert.JSONEq(t, `{"total":42}`, string(view.Value))
	assert.NotNil(t, view.ExpiresAt)

	out, err = runCLI(t, "-c", cfg, "purge")
	require.NoError(t, err)
	assert.Contains(t, out, "purged 0 expired records")

	out, err = runCLI(t, "-c", cfg, "delete", "order:1", "order:2")
	require.NoError(t, err)
	assert.Contains(t, out, "deleted order:1")
	assert.Contains(t, out, "not found order:2")
}

func seedRecord(t *testing.T, dsn, key, value string) {
	t.Helper()
	ctx := context.Background()
	db, dialect, err := sqlstore.Open("sqlite", dsn)
	require.NoError(t, err)
	defer db.Close()

	store, err := sqlstore.New[json.RawMessage](db, dialect)
	require.NoError(t, err)
	claimed, err := store.SetPending(ctx, key, time.Hour, "")
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, store.SetCompleted(ctx, key, json.RawMessage(value), time.Hour))
}

func TestMemoryStoreHasNoSchema(t *testing.T) {
	out, err := runCLI(t, "-c", writeTestConfig(t, ""), "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "driver memory has no schema")
}

func TestInvalidConfig(t *testing.T) {
	_, err := runCLI(t, "-c", writeTestConfig(t, "store:\n  driver: cassandra\n"), "purge")
	assert.ErrorContains(t, err, "unknown driver")
}
