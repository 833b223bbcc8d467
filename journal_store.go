package reliable

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

// Saga status values stored in a JournalRecord.
const (
	SagaStatusRunning            = "running"
	SagaStatusCompleted          = "completed"
	SagaStatusRolledBack         = "rolled_back"
	SagaStatusRollbackIncomplete = "rollback_incomplete"
)

// ErrJournalNotFound is returned by JournalStore.Load for unknown sagas.
var ErrJournalNotFound = errors.New("reliable: journal not found")

// JournalRecord is the persisted form of one saga execution's journal.
type JournalRecord struct {
	SagaID    string      `json:"saga_id"`
	Kind      string      `json:"kind"`
	Status    string      `json:"status"`
	Error     string      `json:"error,omitempty"`
	Events    []StepEvent `json:"events"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Journal rebuilds the in-memory journal from the record.
func (r *JournalRecord) Journal() (*Journal, error) {
	return RecoverJournal(r.SagaID, r.Events)
}

// JournalStore persists journal records.
type JournalStore interface {
	// Save persists the record, replacing any previous version.
	Save(ctx context.Context, record JournalRecord) error

	// Load retrieves a record by saga ID or returns ErrJournalNotFound.
	Load(ctx context.Context, sagaID string) (*JournalRecord, error)

	// Delete removes a record. Deleting an unknown saga is not an error.
	Delete(ctx context.Context, sagaID string) error

	// List returns the stored saga IDs in lexical order.
	List(ctx context.Context) ([]string, error)
}

// MemoryJournalStore keeps records in memory.
type MemoryJournalStore struct {
	mu      sync.RWMutex
	records map[string]JournalRecord
}

var _ JournalStore = (*MemoryJournalStore)(nil)

// NewMemoryJournalStore creates an empty in-memory journal store.
func NewMemoryJournalStore() *MemoryJournalStore {
	return &MemoryJournalStore{records: make(map[string]JournalRecord)}
}

func (m *MemoryJournalStore) Save(ctx context.Context, record JournalRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	record.Events = append([]StepEvent(nil), record.Events...)
	record.UpdatedAt = time.Now()
	m.records[record.SagaID] = record
	return nil
}

func (m *MemoryJournalStore) Load(ctx context.Context, sagaID string) (*JournalRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	record, ok := m.records[sagaID]
	if !ok {
		return nil, fmt.Errorf("saga %s: %w", sagaID, ErrJournalNotFound)
	}
	record.Events = append([]StepEvent(nil), record.Events...)
	return &record, nil
}

func (m *MemoryJournalStore) Delete(ctx context.Context, sagaID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.records, sagaID)
	return nil
}

func (m *MemoryJournalStore) List(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.records))
	for id := range m.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

var sagaIDPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// FileJournalStore writes each record to <dir>/<saga id>.json.
type FileJournalStore struct {
	basePath string
	mu       sync.Mutex
}

var _ JournalStore = (*FileJournalStore)(nil)

// NewFileJournalStore creates the directory if needed.
func NewFileJournalStore(basePath string) (*FileJournalStore, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}
	return &FileJournalStore{basePath: basePath}, nil
}

func (f *FileJournalStore) Save(ctx context.Context, record JournalRecord) error {
	filename, err := f.filename(record.SagaID)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	record.UpdatedAt = time.Now()
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal journal: %w", err)
	}

	// write then rename so readers never see a partial file
	tmp := filename + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write journal file: %w", err)
	}
	if err := os.Rename(tmp, filename); err != nil {
		return fmt.Errorf("failed to replace journal file: %w", err)
	}
	return nil
}

func (f *FileJournalStore) Load(ctx context.Context, sagaID string) (*JournalRecord, error) {
	filename, err := f.filename(sagaID)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("saga %s: %w", sagaID, ErrJournalNotFound)
		}
		return nil, fmt.Errorf("failed to read journal file: %w", err)
	}

	var record JournalRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal journal: %w", err)
	}
	return &record, nil
}

func (f *FileJournalStore) Delete(ctx context.Context, sagaID string) error {
	filename, err := f.filename(sagaID)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(filename); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete journal file: %w", err)
	}
	return nil
}

func (f *FileJournalStore) List(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := os.ReadDir(f.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to list journal directory: %w", err)
	}
	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

func (f *FileJournalStore) filename(sagaID string) (string, error) {
	if !sagaIDPattern.MatchString(sagaID) {
		return "", fmt.Errorf("invalid saga id %q", sagaID)
	}
	return filepath.Join(f.basePath, sagaID+".json"), nil
}
