// Package postgres implements [catalog.Store] on PostgreSQL via pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/wordhoard/internal/observe"
	"github.com/MrWong99/wordhoard/pkg/catalog"
)

// SQLSTATE codes mapped to catalog errors.
const (
	codeNotNullViolation    = "23502"
	codeForeignKeyViolation = "23503"
)

// DB is the subset of pgx used by [Store]. *pgxpool.Pool, *pgx.Conn and
// pgx.Tx all satisfy it.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store is a [catalog.Store] backed by PostgreSQL.
type Store struct {
	db      DB
	close   func()
	metrics *observe.Metrics
}

var _ catalog.Store = (*Store)(nil)

// Option configures a [Store].
type Option func(*Store)

// WithMetrics records query latency on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// Open connects to the database at dsn, verifies the connection, and applies
// [Schema].
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("catalog postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("catalog postgres: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	s := New(pool, opts...)
	s.close = pool.Close
	return s, nil
}

// New wraps an existing connection or pool. The caller owns db and must
// have applied [Schema].
func New(db DB, opts ...Option) *Store {
	s := &Store{db: db}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

const wordColumns = `id, word, class, definition, example, created_at, updated_at`

// Create implements [catalog.Store].
func (s *Store) Create(ctx context.Context, w catalog.NewWord) (int64, error) {
	defer s.observe(ctx, "create", time.Now())
	if err := w.Validate(); err != nil {
		return 0, err
	}

	const query = `
		INSERT INTO words (word, class, definition, example, word_folded)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	var id int64
	err := s.db.QueryRow(ctx, query, w.Text, w.Class, w.Definition, nullable(w.Example), catalog.Fold(w.Text)).Scan(&id)
	if err != nil {
		if hasCode(err, codeNotNullViolation) {
			return 0, &catalog.InputError{Err: err}
		}
		return 0, fmt.Errorf("catalog postgres: create: %w", err)
	}
	return id, nil
}

// FindBySubstring implements [catalog.Store]. The query is folded with
// [catalog.Fold] and matched against the word_folded column.
func (s *Store) FindBySubstring(ctx context.Context, query string) ([]catalog.Word, error) {
	defer s.observe(ctx, "find", time.Now())

	var (
		rows pgx.Rows
		err  error
	)
	if catalog.IsBlank(query) {
		rows, err = s.db.Query(ctx, `SELECT `+wordColumns+` FROM words ORDER BY id`)
	} else {
		rows, err = s.db.Query(ctx, `
			SELECT `+wordColumns+`
			FROM words
			WHERE strpos(word_folded, $1) > 0
			ORDER BY id`, catalog.Fold(query))
	}
	if err != nil {
		return nil, fmt.Errorf("catalog postgres: find %q: %w", query, err)
	}
	return collectWords(rows, "find")
}

// Get implements [catalog.Store].
func (s *Store) Get(ctx context.Context, ids []int64) ([]catalog.Word, error) {
	if len(ids) == 0 {
		return []catalog.Word{}, nil
	}
	defer s.observe(ctx, "get", time.Now())

	rows, err := s.db.Query(ctx, `SELECT `+wordColumns+` FROM words WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("catalog postgres: get: %w", err)
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

	rows, err := s.db.Query(ctx, `
		SELECT `+wordColumns+`
		FROM words
		WHERE id > $1
		ORDER BY id
		LIMIT $2`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("catalog postgres: list: %w", err)
	}
	return collectWords(rows, "list")
}

// Delete implements [catalog.Store].
func (s *Store) Delete(ctx context.Context, id int64) (int64, error) {
	defer s.observe(ctx, "delete", time.Now())

	tag, err := s.db.Exec(ctx, `DELETE FROM words WHERE id = $1`, id)
	if err != nil {
		if hasCode(err, codeForeignKeyViolation) {
			return 0, &catalog.ReferentialIntegrityError{ID: id, Err: err}
		}
		return 0, fmt.Errorf("catalog postgres: delete %d: %w", id, err)
	}
	return tag.RowsAffected(), nil
}

// Ping implements [catalog.Store].
func (s *Store) Ping(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, `SELECT 1`); err != nil {
		return fmt.Errorf("catalog postgres: ping: %w", err)
	}
	return nil
}

// Close releases the pool when the store opened it.
func (s *Store) Close() error {
	if s.close != nil {
		s.close()
	}
	return nil
}

func (s *Store) observe(ctx context.Context, op string, start time.Time) {
	s.metrics.RecordStore(ctx, "catalog", op, time.Since(start))
}

func collectWords(rows pgx.Rows, op string) ([]catalog.Word, error) {
	defer rows.Close()

	words := []catalog.Word{}
	for rows.Next() {
		w, err := scanWord(rows)
		if err != nil {
			return nil, fmt.Errorf("catalog postgres: %s scan: %w", op, err)
		}
		words = append(words, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog postgres: %s: %w", op, err)
	}
	return words, nil
}

func scanWord(row pgx.Row) (catalog.Word, error) {
	var (
		w       catalog.Word
		example *string
	)
	if err := row.Scan(&w.ID, &w.Text, &w.Class, &w.Definition, &example, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return catalog.Word{}, err
	}
	if example != nil {
		w.Example = *example
	}
	return w, nil
}

// nullable maps "" to SQL NULL.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func hasCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
