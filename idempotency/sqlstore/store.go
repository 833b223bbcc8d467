// Package sqlstore provides an idempotency.Store backed by database/sql.
//
// Claims are a single INSERT ... ON CONFLICT DO UPDATE statement whose update
// branch only fires for expired rows, so the database's own row locking
// provides the atomic check-and-set. SQLite and PostgreSQL are supported.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/fortressi/reliable/idempotency"
)

// DefaultTable is the table used when WithTable is not given.
const DefaultTable = "idempotency_records"

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Dialect selects placeholder syntax.
type Dialect int

const (
	SQLite Dialect = iota
	Postgres
)

func (d Dialect) String() string {
	switch d {
	case SQLite:
		return "sqlite"
	case Postgres:
		return "postgres"
	default:
		return fmt.Sprintf("unknown(%d)", int(d))
	}
}

// ParseDialect accepts "sqlite" and "postgres" (or "postgresql").
func ParseDialect(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "sqlite", "sqlite3":
		return SQLite, nil
	case "postgres", "postgresql":
		return Postgres, nil
	}
	return SQLite, fmt.Errorf("unsupported sql dialect %q", name)
}

// Codec encodes record values.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// Option configures a Store.
type Option func(*config)

type config struct {
	table string
	codec Codec
	now   func() time.Time
}

// WithTable overrides the table name. It must be a plain SQL identifier.
func WithTable(name string) Option {
	return func(c *config) { c.table = name }
}

// WithCodec overrides the value codec. The default is JSON.
func WithCodec(codec Codec) Option {
	return func(c *config) {
		if codec != nil {
			c.codec = codec
		}
	}
}

// WithClock overrides time.Now for timestamps and expiry.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		if now != nil {
			c.now = now
		}
	}
}

// Store implements idempotency.Store[T] on a *sql.DB. Timestamps are stored
// as Unix milliseconds; a NULL expires_at never expires.
type Store[T any] struct {
	db      *sql.DB
	dialect Dialect
	table   string
	codec   Codec
	now     func() time.Time
	q       queries
}

var _ idempotency.Store[any] = (*Store[any])(nil)

type queries struct {
	get, claim, complete, fail, del, purge string
}

// New creates a Store over db. The schema is not created; call EnsureSchema.
func New[T any](db *sql.DB, dialect Dialect, opts ...Option) (*Store[T], error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: db is required")
	}
	cfg := config{table: DefaultTable, codec: jsonCodec{}, now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	if !tableNamePattern.MatchString(cfg.table) {
		return nil, fmt.Errorf("sqlstore: invalid table name %q", cfg.table)
	}
	s := &Store[T]{
		db:      db,
		dialect: dialect,
		table:   cfg.table,
		codec:   cfg.codec,
		now:     cfg.now,
	}
	s.q = s.buildQueries()
	return s, nil
}

func (s *Store[T]) buildQueries() queries {
	t := s.table
	return queries{
		get: s.rebind(`SELECT state, value, error, input_hash, created_at, expires_at
			FROM ` + t + ` WHERE idem_key = ?`),
		claim: s.rebind(`INSERT INTO ` + t + ` (idem_key, state, value, error, input_hash, created_at, expires_at)
			VALUES (?, 'pending', NULL, NULL, ?, ?, ?)
			ON CONFLICT (idem_key) DO UPDATE SET
				state = excluded.state,
				value = NULL,
				error = NULL,
				input_hash = excluded.input_hash,
				created_at = excluded.created_at,
				expires_at = excluded.expires_at
			WHERE ` + t + `.expires_at IS NOT NULL AND ` + t + `.expires_at < ?`),
		complete: s.rebind(`UPDATE ` + t + ` SET state = 'completed', value = ?, error = NULL, expires_at = ?
			WHERE idem_key = ?`),
		fail: s.rebind(`UPDATE ` + t + ` SET state = 'failed', value = NULL, error = ?, expires_at = ?
			WHERE idem_key = ?`),
		del: s.rebind(`DELETE FROM ` + t + ` WHERE idem_key = ?
			AND (expires_at IS NULL OR expires_at >= ?)`),
		purge: s.rebind(`DELETE FROM ` + t + ` WHERE expires_at IS NOT NULL AND expires_at < ?`),
	}
}

// rebind rewrites ? placeholders for the dialect.
func (s *Store[T]) rebind(query string) string {
	if s.dialect != Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Table returns the table name.
func (s *Store[T]) Table() string { return s.table }

// Get returns the live record for key.
func (s *Store[T]) Get(ctx context.Context, key string) (*idempotency.Record[T], error) {
	var (
		state     string
		value     sql.NullString
		errText   sql.NullString
		inputHash string
		createdAt int64
		expiresAt sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, s.q.get, key).
		Scan(&state, &value, &errText, &inputHash, &createdAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, idempotency.NewStoreError("get record "+key, err)
	}

	rec := &idempotency.Record[T]{
		Key:       key,
		InputHash: inputHash,
		CreatedAt: fromMillis(createdAt),
	}
	if expiresAt.Valid {
		rec.ExpiresAt = fromMillis(expiresAt.Int64)
	}
	if rec.ExpiredAt(s.now()) {
		return nil, nil
	}

	rec.State, err = idempotency.ParseRecordState(state)
	if err != nil {
		return nil, idempotency.NewStoreError("decode record "+key, err)
	}
	switch rec.State {
	case idempotency.StateCompleted:
		if value.Valid {
			if err := s.codec.Unmarshal([]byte(value.String), &rec.Value); err != nil {
				return nil, idempotency.NewStoreError("decode value for "+key, err)
			}
		}
	case idempotency.StateFailed:
		rec.Err = &idempotency.RecordedError{Message: errText.String}
	}
	return rec, nil
}

// SetPending claims key when no live row exists.
func (s *Store[T]) SetPending(ctx context.Context, key string, ttl time.Duration, inputHash string) (bool, error) {
	now := s.now()
	res, err := s.db.ExecContext(ctx, s.q.claim,
		key, inputHash, toMillis(now), nullableDeadline(now, ttl), toMillis(now))
	if err != nil {
		return false, idempotency.NewStoreError("claim "+key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, idempotency.NewStoreError("claim "+key, err)
	}
	return n > 0, nil
}

// SetCompleted stores value on the row for key.
func (s *Store[T]) SetCompleted(ctx context.Context, key string, value T, ttl time.Duration) error {
	data, err := s.codec.Marshal(value)
	if err != nil {
		return idempotency.NewStoreError("encode value for "+key, err)
	}
	return s.update(ctx, key, s.q.complete, string(data), nullableDeadline(s.now(), ttl))
}

// SetFailed stores the error message on the row for key.
func (s *Store[T]) SetFailed(ctx context.Context, key string, cause error, ttl time.Duration) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return s.update(ctx, key, s.q.fail, msg, nullableDeadline(s.now(), ttl))
}

func (s *Store[T]) update(ctx context.Context, key, query string, payload any, deadline any) error {
	res, err := s.db.ExecContext(ctx, query, payload, deadline, key)
	if err != nil {
		return idempotency.NewStoreError("update "+key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return idempotency.NewStoreError("update "+key, err)
	}
	if n == 0 {
		return idempotency.NewStoreError("no pending record for key: "+key, nil)
	}
	return nil
}

// Delete removes the row for key. An expired row is reported as absent and
// left for PurgeExpired.
func (s *Store[T]) Delete(ctx context.Context, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.q.del, key, toMillis(s.now()))
	if err != nil {
		return false, idempotency.NewStoreError("delete "+key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, idempotency.NewStoreError("delete "+key, err)
	}
	return n > 0, nil
}

// PurgeExpired deletes every expired row and returns how many were removed.
func (s *Store[T]) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.q.purge, toMillis(s.now()))
	if err != nil {
		return 0, idempotency.NewStoreError("purge expired", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, idempotency.NewStoreError("purge expired", err)
	}
	return n, nil
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func nullableDeadline(now time.Time, ttl time.Duration) any {
	if ttl <= 0 {
		return nil
	}
	return toMillis(now.Add(ttl))
}
