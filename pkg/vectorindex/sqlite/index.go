// Package sqlite implements [vectorindex.Index] on SQLite through the pure-Go
// modernc.org/sqlite driver.
//
// Vectors are stored as little-endian float32 BLOBs and searched exactly by a
// full scan with the vec_cosine_distance SQL function, which suits the
// catalog sizes of a single learner.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/wordhoard/internal/observe"
	"github.com/MrWong99/wordhoard/internal/sqlitefn"
	"github.com/MrWong99/wordhoard/pkg/embedding"
	"github.com/MrWong99/wordhoard/pkg/vectorindex"
)

// Index is a [vectorindex.Index] backed by SQLite.
type Index struct {
	db      *sql.DB
	owned   bool
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

// Open opens the database file at path and creates or verifies the vector
// table.
func Open(ctx context.Context, path string, reg *embedding.Registry, opts ...Option) (*Index, error) {
	if err := sqlitefn.Register(); err != nil {
		return nil, fmt.Errorf("vectorindex sqlite: register functions: %w", err)
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite", path+sep+"_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("vectorindex sqlite: open: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	x, err := New(ctx, db, reg, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	x.owned = true
	return x, nil
}

// New wraps db and creates or verifies the vector table. The caller keeps
// ownership of db; [Index.Close] does not close it. This lets the catalog and
// the index share one database file.
func New(ctx context.Context, db *sql.DB, reg *embedding.Registry, opts ...Option) (*Index, error) {
	if err := sqlitefn.Register(); err != nil {
		return nil, fmt.Errorf("vectorindex sqlite: register functions: %w", err)
	}
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
	if err := x.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return x, nil
}

func (x *Index) ensureSchema(ctx context.Context) error {
	var n int
	err := x.db.QueryRowContext(ctx,
		`SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, x.table).Scan(&n)
	if err != nil {
		return fmt.Errorf("vectorindex sqlite: check table: %w", err)
	}
	if n == 0 {
		return x.createSchema(ctx)
	}

	markers, err := x.readMarkers(ctx)
	if err != nil {
		return err
	}
	columns, err := x.readColumns(ctx)
	if err != nil {
		return err
	}
	return vectorindex.Verify(x.table, x.reg, markers, columns)
}

func (x *Index) createSchema(ctx context.Context) (err error) {
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("vectorindex sqlite: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	cols := []string{"word_id INTEGER PRIMARY KEY"}
	for _, src := range vectorindex.SourceColumns(x.reg) {
		cols = append(cols, src+" TEXT NOT NULL")
	}
	for _, r := range x.reg.Registrations() {
		cols = append(cols, r.Columns.Destination+" BLOB NOT NULL")
	}
	cols = append(cols, "created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP")

	markerTable := vectorindex.MarkerTable(x.table)
	stmts := []string{
		fmt.Sprintf("CREATE TABLE %s (\n    %s\n)", x.table, strings.Join(cols, ",\n    ")),
		fmt.Sprintf(`CREATE TABLE %s (
    column_name   TEXT PRIMARY KEY,
    registry_name TEXT NOT NULL,
    source_column TEXT NOT NULL,
    dimensions    INTEGER NOT NULL,
    metric        TEXT NOT NULL
)`, markerTable),
	}
	for _, stmt := range stmts {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("vectorindex sqlite: create schema: %w", err)
		}
	}
	insert := fmt.Sprintf(`INSERT INTO %s (column_name, registry_name, source_column, dimensions, metric)
		VALUES (?, ?, ?, ?, ?)`, markerTable)
	for _, m := range vectorindex.Markers(x.reg) {
		if _, err = tx.ExecContext(ctx, insert, m.Column, m.RegistryName, m.SourceColumn, m.Dimensions, m.Metric); err != nil {
			return fmt.Errorf("vectorindex sqlite: write schema marker: %w", err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("vectorindex sqlite: commit schema: %w", err)
	}
	return nil
}

func (x *Index) readMarkers(ctx context.Context) ([]vectorindex.Marker, error) {
	markerTable := vectorindex.MarkerTable(x.table)
	var n int
	err := x.db.QueryRowContext(ctx,
		`SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, markerTable).Scan(&n)
	if err != nil {
		return nil, fmt.Errorf("vectorindex sqlite: check marker table: %w", err)
	}
	if n == 0 {
		return nil, &vectorindex.SchemaError{Table: x.table, Reason: "schema marker table " + markerTable + " is missing"}
	}

	rows, err := x.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT column_name, registry_name, source_column, dimensions, metric FROM %s ORDER BY column_name`,
		markerTable))
	if err != nil {
		return nil, fmt.Errorf("vectorindex sqlite: read schema marker: %w", err)
	}
	defer rows.Close()

	var markers []vectorindex.Marker
	for rows.Next() {
		var m vectorindex.Marker
		if err := rows.Scan(&m.Column, &m.RegistryName, &m.SourceColumn, &m.Dimensions, &m.Metric); err != nil {
			return nil, fmt.Errorf("vectorindex sqlite: read schema marker: %w", err)
		}
		markers = append(markers, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("vectorindex sqlite: read schema marker: %w", err)
	}
	return markers, nil
}

// readColumns reads the table layout. SQLite does not record vector widths,
// so only the BLOB affinity is checked here and the width comes from the
// marker.
func (x *Index) readColumns(ctx context.Context) (map[string]vectorindex.PhysicalColumn, error) {
	rows, err := x.db.QueryContext(ctx, `SELECT name, type FROM pragma_table_info(?)`, x.table)
	if err != nil {
		return nil, fmt.Errorf("vectorindex sqlite: read columns: %w", err)
	}
	defer rows.Close()

	columns := make(map[string]vectorindex.PhysicalColumn)
	for rows.Next() {
		var name, typ string
		if err := rows.Scan(&name, &typ); err != nil {
			return nil, fmt.Errorf("vectorindex sqlite: read columns: %w", err)
		}
		columns[name] = vectorindex.PhysicalColumn{Vector: strings.EqualFold(typ, "BLOB")}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("vectorindex sqlite: read columns: %w", err)
	}
	return columns, nil
}

// Append implements [vectorindex.Index].
func (x *Index) Append(ctx context.Context, wordID int64, text string) error {
	cols, err := vectorindex.Embed(ctx, x.reg, text)
	if err != nil {
		return err
	}
	defer x.observe(ctx, "append", time.Now())

	names := []string{"word_id"}
	args := []any{wordID}
	for _, src := range vectorindex.SourceColumns(x.reg) {
		names = append(names, src)
		args = append(args, text)
	}
	for _, c := range cols {
		names = append(names, c.Registration.Columns.Destination)
		args = append(args, sqlitefn.Encode(c.Vector))
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(names)), ",")
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (word_id) DO NOTHING",
		x.table, strings.Join(names, ", "), placeholders)

	if _, err := x.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("vectorindex sqlite: append %d: %w", wordID, err)
	}
	return nil
}

// Nearest implements [vectorindex.Index].
func (x *Index) Nearest(ctx context.Context, space, query string, k int) ([]vectorindex.Match, error) {
	if k <= 0 {
		return []vectorindex.Match{}, nil
	}
	r, vec, err := vectorindex.QueryVector(ctx, x.reg, space, query)
	if err != nil {
		return nil, err
	}
	defer x.observe(ctx, "nearest", time.Now())

	q := fmt.Sprintf(`
		SELECT word_id, %s, %s(%s, ?) AS distance
		FROM %s
		ORDER BY distance, word_id
		LIMIT ?`, r.Columns.Source, sqlitefn.CosineDistance, r.Columns.Destination, x.table)

	rows, err := x.db.QueryContext(ctx, q, sqlitefn.Encode(vec), k)
	if err != nil {
		return nil, fmt.Errorf("vectorindex sqlite: nearest %s: %w", space, err)
	}
	defer rows.Close()

	matches := []vectorindex.Match{}
	for rows.Next() {
		var m vectorindex.Match
		if err := rows.Scan(&m.WordID, &m.Text, &m.Distance); err != nil {
			return nil, fmt.Errorf("vectorindex sqlite: nearest %s: %w", space, err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("vectorindex sqlite: nearest %s: %w", space, err)
	}
	return matches, nil
}

// Has implements [vectorindex.Index].
func (x *Index) Has(ctx context.Context, ids []int64) (map[int64]bool, error) {
	out := make(map[int64]bool, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	defer x.observe(ctx, "has", time.Now())

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := x.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT word_id FROM %s WHERE word_id IN (%s)`, x.table, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("vectorindex sqlite: has: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("vectorindex sqlite: has: %w", err)
		}
		out[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("vectorindex sqlite: has: %w", err)
	}
	return out, nil
}

// Remove implements [vectorindex.Index].
func (x *Index) Remove(ctx context.Context, wordID int64) error {
	defer x.observe(ctx, "remove", time.Now())
	if _, err := x.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE word_id = ?`, x.table), wordID); err != nil {
		return fmt.Errorf("vectorindex sqlite: remove %d: %w", wordID, err)
	}
	return nil
}

// Ping implements [vectorindex.Index].
func (x *Index) Ping(ctx context.Context) error {
	if err := x.db.PingContext(ctx); err != nil {
		return fmt.Errorf("vectorindex sqlite: ping: %w", err)
	}
	return nil
}

// Close implements [vectorindex.Index]. It closes the database only when the
// index opened it.
func (x *Index) Close() error {
	if x.owned {
		return x.db.Close()
	}
	return nil
}

func (x *Index) observe(ctx context.Context, op string, start time.Time) {
	x.metrics.RecordStore(ctx, "vector_index", op, time.Since(start))
}
