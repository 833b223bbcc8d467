package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	// Registers the "postgres" driver.
	_ "github.com/lib/pq"
	// Registers the "sqlite" driver.
	_ "modernc.org/sqlite"
)

// Open opens a database for driver, which is "sqlite" or "postgres", and
// returns the matching dialect.
func Open(driver, dsn string) (*sql.DB, Dialect, error) {
	dialect, err := ParseDialect(driver)
	if err != nil {
		return nil, SQLite, err
	}
	if strings.TrimSpace(dsn) == "" {
		return nil, dialect, fmt.Errorf("sqlstore: dsn is required")
	}
	driverName := "sqlite"
	if dialect == Postgres {
		driverName = "postgres"
	}
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, dialect, fmt.Errorf("open %s db: %w", dialect, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, dialect, fmt.Errorf("ping %s db: %w", dialect, err)
	}
	if dialect == SQLite {
		// writers serialize on the database file anyway
		db.SetMaxOpenConns(1)
	}
	return db, dialect, nil
}

// SchemaStatements returns the DDL for the store's table.
func (s *Store[T]) SchemaStatements() []string {
	t := s.table
	return []string{
		`CREATE TABLE IF NOT EXISTS ` + t + ` (
			idem_key    TEXT PRIMARY KEY,
			state       TEXT NOT NULL,
			value       TEXT,
			error       TEXT,
			input_hash  TEXT NOT NULL DEFAULT '',
			created_at  BIGINT NOT NULL,
			expires_at  BIGINT
		)`,
		`CREATE INDEX IF NOT EXISTS ` + t + `_expires_at_idx ON ` + t + ` (expires_at)`,
	}
}

// EnsureSchema creates the table and its expiry index if missing.
func (s *Store[T]) EnsureSchema(ctx context.Context) error {
	for _, stmt := range s.SchemaStatements() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema to %s: %w", s.table, err)
		}
	}
	return nil
}

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
