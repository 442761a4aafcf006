// Package sqlite implements [catalog.Store] on SQLite through the pure-Go
// modernc.org/sqlite driver.
//
// Substring search is case-insensitive for all of Unicode: both sides are
// passed through the casefold SQL function registered by
// [github.com/MrWong99/wordhoard/internal/sqlitefn].
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/wordhoard/internal/observe"
	"github.com/MrWong99/wordhoard/internal/sqlitefn"
	"github.com/MrWong99/wordhoard/pkg/catalog"
)

// Schema is the DDL for the catalog tables. It is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS words (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    word        TEXT NOT NULL,
    class       TEXT NOT NULL,
    definition  TEXT NOT NULL,
    example     TEXT,
    created_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS challenges (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    word_id          INTEGER NOT NULL REFERENCES words(id),
    answer           TEXT NOT NULL,
    corrected_answer TEXT,
    score            INTEGER,
    created_at       TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at       TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_challenges_word_id ON challenges(word_id);
`

// Store is a [catalog.Store] backed by SQLite.
type Store struct {
	db      *sql.DB
	metrics *observe.Metrics
}

var _ catalog.Store = (*Store)(nil)

// Option configures a [Store].
type Option func(*Store)

// WithMetrics records query latency on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// DSN adds the pragmas the catalog requires to path: enforced foreign keys
// and a busy timeout for concurrent writers.
func DSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

// Open opens the database file at path (":memory:" works for a private
// in-memory database) and applies [Schema].
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	if err := sqlitefn.Register(); err != nil {
		return nil, fmt.Errorf("catalog sqlite: register functions: %w", err)
	}
	db, err := sql.Open("sqlite", DSN(path))
	if err != nil {
		return nil, fmt.Errorf("catalog sqlite: open: %w", err)
	}
	if path == ":memory:" {
		// Each connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}
	s, err := New(ctx, db, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps db, which must have been opened with the pragmas from [DSN], and
// applies [Schema].
func New(ctx context.Context, db *sql.DB, opts ...Option) (*Store, error) {
	if err := sqlitefn.Register(); err != nil {
		return nil, fmt.Errorf("catalog sqlite: register functions: %w", err)
	}
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return nil, fmt.Errorf("catalog sqlite: migrate: %w", err)
	}
	s := &Store{db: db}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s, nil
}

// DB exposes the underlying handle.
func (s *Store) DB() *sql.DB { return s.db }

const wordColumns = `id, word, class, definition, example, created_at, updated_at`

// Create implements [catalog.Store].
func (s *Store) Create(ctx context.Context, w catalog.NewWord) (int64, error) {
	defer s.observe(ctx, "create", time.Now())
	if err := w.Validate(); err != nil {
		return 0, err
	}

	var example any
	if w.Example != "" {
		example = w.Example
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO words (word, class, definition, example) VALUES (?, ?, ?, ?)`,
		w.Text, w.Class, w.Definition, example)
	if err != nil {
		if sqlitefn.IsNotNullViolation(err) {
			return 0, &catalog.InputError{Err: err}
		}
		return 0, fmt.Errorf("catalog sqlite: create: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("catalog sqlite: create: last insert id: %w", err)
	}
	return id, nil
}

// FindBySubstring implements [catalog.Store].
func (s *Store) FindBySubstring(ctx context.Context, query string) ([]catalog.Word, error) {
	defer s.observe(ctx, "find", time.Now())

	var (
		rows *sql.Rows
		err  error
	)
	if catalog.IsBlank(query) {
		rows, err = s.db.QueryContext(ctx, `SELECT `+wordColumns+` FROM words ORDER BY id`)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+wordColumns+`
			FROM words
			WHERE instr(casefold(word), casefold(?)) > 0
			ORDER BY id`, query)
	}
	if err != nil {
		return nil, fmt.Errorf("catalog sqlite: find %q: %w", query, err)
	}
	return collectWords(rows, "find")
}

// Get implements [catalog.Store].
func (s *Store) Get(ctx context.Context, ids []int64) ([]catalog.Word, error) {
	if len(ids) == 0 {
		return []catalog.Word{}, nil
	}
	defer s.observe(ctx, "get", time.Now())

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+wordColumns+` FROM words WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("catalog sqlite: get: %w", err)
	}
	words, err := collectWords(rows, "get")
	if err != nil {
		return nil, err
	}
	return catalog.OrderByIDs(words, ids), nil
}

// List implements [catalog.Store].
func (s *Store) List(ctx context.Context, afterID int64, limit int) ([]catalog.Word, error) {
	if limit <= 0 {
		return []catalog.Word{}, nil
	}
	defer s.observe(ctx, "list", time.Now())

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+wordColumns+` FROM words WHERE id > ? ORDER BY id LIMIT ?`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("catalog sqlite: list: %w", err)
	}
	return collectWords(rows, "list")
}

// Delete implements [catalog.Store].
func (s *Store) Delete(ctx context.Context, id int64) (int64, error) {
	defer s.observe(ctx, "delete", time.Now())

	res, err := s.db.ExecContext(ctx, `DELETE FROM words WHERE id = ?`, id)
	if err != nil {
		if sqlitefn.IsForeignKeyViolation(err) {
			return 0, &catalog.ReferentialIntegrityError{ID: id, Err: err}
		}
		return 0, fmt.Errorf("catalog sqlite: delete %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("catalog sqlite: delete %d: rows affected: %w", id, err)
	}
	return n, nil
}

// Ping implements [catalog.Store].
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("catalog sqlite: ping: %w", err)
	}
	return nil
}

// Close implements [catalog.Store].
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) observe(ctx context.Context, op string, start time.Time) {
	s.metrics.RecordStore(ctx, "catalog", op, time.Since(start))
}

func collectWords(rows *sql.Rows, op string) ([]catalog.Word, error) {
	defer rows.Close()

	words := []catalog.Word{}
	for rows.Next() {
		var (
			w       catalog.Word
			example sql.NullString
		)
		if err := rows.Scan(&w.ID, &w.Text, &w.Class, &w.Definition, &example, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, fmt.Errorf("catalog sqlite: %s scan: %w", op, err)
		}
		w.Example = example.String
		words = append(words, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog sqlite: %s: %w", op, err)
	}
	return words, nil
}
