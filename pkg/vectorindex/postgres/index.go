// Package postgres implements [vectorindex.Index] on PostgreSQL with the
// pgvector extension.
//
// Vector columns use the pgvector vector(N) type with HNSW indexes under
// vector_cosine_ops. Nearest-neighbour queries therefore use approximate
// search.
package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/wordhoard/internal/observe"
	"github.com/MrWong99/wordhoard/pkg/embedding"
	"github.com/MrWong99/wordhoard/pkg/vectorindex"
)

// DB is the subset of pgx used by [Index]. *pgxpool.Pool satisfies it.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Index is a [vectorindex.Index] backed by PostgreSQL.
type Index struct {
	db      DB
	close   func()
	table   string
	reg     *embedding.Registry
	metrics *observe.Metrics
}

var _ vectorindex.Index = (*Index)(nil)

// Option configures an [Index].
type Option func(*Index)

// WithTable overrides [vectorindex.DefaultTable].
func WithTable(table string) Option {
	return func(x *Index) { x.table = table }
}

// WithMetrics records query latency on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(x *Index) { x.metrics = m }
}

// Open installs the vector extension, connects a pool with pgvector types
// registered on every connection, and creates or verifies the vector table.
// A table whose schema marker disagrees with reg yields a
// [*vectorindex.SchemaError].
func Open(ctx context.Context, dsn string, reg *embedding.Registry, opts ...Option) (*Index, error) {
	// The vector type must exist before pgxvec can resolve its OID.
	boot, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("vectorindex postgres: connect: %w", err)
	}
	_, err = boot.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`)
	_ = boot.Close(ctx)
	if err != nil {
		return nil, fmt.Errorf("vectorindex postgres: create extension: %w", err)
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("vectorindex postgres: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("vectorindex postgres: create pool: %w", err)
	}
	x, err := New(ctx, pool, reg, opts...)
	if err != nil {
		pool.Close()
		return nil, err
	}
	x.close = pool.Close
	return x, nil
}

// New wraps db, whose connections must have pgvector types registered, and
// creates or verifies the vector table.
func New(ctx context.Context, db DB, reg *embedding.Registry, opts ...Option) (*Index, error) {
	x := &Index{db: db, table: vectorindex.DefaultTable, reg: reg}
	for _, o := range opts {
		o(x)
	}
	if x.metrics == nil {
		x.metrics = observe.DefaultMetrics()
	}
	if err := vectorindex.CheckIdentifiers(x.table); err != nil {
		return nil, err
	}
	if err := ensureSchema(ctx, db, x.table, reg); err != nil {
		return nil, err
	}
	return x, nil
}

// insertSQL returns the idempotent insert for one row.
func insertSQL(table string, reg *embedding.Registry) string {
	cols := []string{"word_id"}
	cols = append(cols, vectorindex.SourceColumns(reg)...)
	for _, r := range reg.Registrations() {
		cols = append(cols, r.Columns.Destination)
	}
	params := make([]string, len(cols))
	for i := range params {
		params[i] = fmt.Sprintf("$%d", i+1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (word_id) DO NOTHING",
		table, strings.Join(cols, ", "), strings.Join(params, ", "))
}

// Append implements [vectorindex.Index].
func (x *Index) Append(ctx context.Context, wordID int64, text string) error {
	cols, err := vectorindex.Embed(ctx, x.reg, text)
	if err != nil {
		return err
	}
	defer x.observe(ctx, "append", time.Now())

	args := []any{wordID}
	for range vectorindex.SourceColumns(x.reg) {
		args = append(args, text)
	}
	for _, c := range cols {
		args = append(args, pgvector.NewVector(c.Vector))
	}
	if _, err := x.db.Exec(ctx, insertSQL(x.table, x.reg), args...); err != nil {
		return fmt.Errorf("vectorindex postgres: append %d: %w", wordID, err)
	}
	return nil
}

// Nearest implements [vectorindex.Index]. The HNSW index is only used when
// the query orders by the bare distance expression, so ties are broken after
// the rows come back.
func (x *Index) Nearest(ctx context.Context, space, query string, k int) ([]vectorindex.Match, error) {
	if k <= 0 {
		return []vectorindex.Match{}, nil
	}
	r, vec, err := vectorindex.QueryVector(ctx, x.reg, space, query)
	if err != nil {
		return nil, err
	}
	defer x.observe(ctx, "nearest", time.Now())

	sql := fmt.Sprintf(`
		SELECT word_id, %s, %s <=> $1 AS distance
		FROM %s
		ORDER BY distance
		LIMIT $2`, r.Columns.Source, r.Columns.Destination, x.table)

	rows, err := x.db.Query(ctx, sql, pgvector.NewVector(vec), k)
	if err != nil {
		return nil, fmt.Errorf("vectorindex postgres: nearest %s: %w", space, err)
	}
	matches, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (vectorindex.Match, error) {
		var m vectorindex.Match
		err := row.Scan(&m.WordID, &m.Text, &m.Distance)
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("vectorindex postgres: nearest %s: %w", space, err)
	}
	if matches == nil {
		matches = []vectorindex.Match{}
	}
	vectorindex.SortMatches(matches)
	return matches, nil
}

// Has implements [vectorindex.Index].
func (x *Index) Has(ctx context.Context, ids []int64) (map[int64]bool, error) {
	out := make(map[int64]bool, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	defer x.observe(ctx, "has", time.Now())

	rows, err := x.db.Query(ctx, fmt.Sprintf(`SELECT word_id FROM %s WHERE word_id = ANY($1)`, x.table), ids)
	if err != nil {
		return nil, fmt.Errorf("vectorindex postgres: has: %w", err)
	}
	found, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("vectorindex postgres: has: %w", err)
	}
	for _, id := range found {
		out[id] = true
	}
	return out, nil
}

// Remove implements [vectorindex.Index].
func (x *Index) Remove(ctx context.Context, wordID int64) error {
	defer x.observe(ctx, "remove", time.Now())
	if _, err := x.db.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE word_id = $1`, x.table), wordID); err != nil {
		return fmt.Errorf("vectorindex postgres: remove %d: %w", wordID, err)
	}
	return nil
}

// Ping implements [vectorindex.Index].
func (x *Index) Ping(ctx context.Context) error {
	var one int
	if err := x.db.QueryRow(ctx, `SELECT 1`).Scan(&one); err != nil {
		return fmt.Errorf("vectorindex postgres: ping: %w", err)
	}
	return nil
}

// Close implements [vectorindex.Index].
func (x *Index) Close() error {
	if x.close != nil {
		x.close()
	}
	return nil
}

func (x *Index) observe(ctx context.Context, op string, start time.Time) {
	x.metrics.RecordStore(ctx, "vector_index", op, time.Since(start))
}
