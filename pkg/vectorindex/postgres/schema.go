package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/MrWong99/wordhoard/pkg/embedding"
	"github.com/MrWong99/wordhoard/pkg/vectorindex"
)

// createTableSQL returns the DDL for a fresh vector table: one TEXT column per
// source column and one vector(N) column per registration, each with an HNSW
// cosine index.
func createTableSQL(table string, reg *embedding.Registry) []string {
	var cols []string
	cols = append(cols, "word_id BIGINT PRIMARY KEY")
	for _, src := range vectorindex.SourceColumns(reg) {
		cols = append(cols, fmt.Sprintf("%s TEXT NOT NULL", src))
	}
	for _, r := range reg.Registrations() {
		cols = append(cols, fmt.Sprintf("%s vector(%d) NOT NULL", r.Columns.Destination, r.Dimensions()))
	}
	cols = append(cols, "created_at TIMESTAMPTZ NOT NULL DEFAULT now()")

	stmts := []string{
		fmt.Sprintf("CREATE TABLE %s (\n    %s\n)", table, strings.Join(cols, ",\n    ")),
		fmt.Sprintf(`CREATE TABLE %s (
    column_name   TEXT PRIMARY KEY,
    registry_name TEXT NOT NULL,
    source_column TEXT NOT NULL,
    dimensions    INTEGER NOT NULL,
    metric        TEXT NOT NULL
)`, vectorindex.MarkerTable(table)),
	}
	for _, r := range reg.Registrations() {
		stmts = append(stmts, fmt.Sprintf(
			"CREATE INDEX %s_%s_hnsw ON %s USING hnsw (%s vector_cosine_ops)",
			table, r.Columns.Destination, table, r.Columns.Destination))
	}
	return stmts
}

// ensureSchema creates the vector table and its marker in one transaction
// when the table does not exist, and otherwise verifies the existing marker
// and columns against reg.
func ensureSchema(ctx context.Context, db DB, table string, reg *embedding.Registry) error {
	var exists bool
	if err := db.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, table).Scan(&exists); err != nil {
		return fmt.Errorf("vectorindex postgres: check table: %w", err)
	}
	if !exists {
		return createSchema(ctx, db, table, reg)
	}

	markers, err := readMarkers(ctx, db, table)
	if err != nil {
		return err
	}
	columns, err := readColumns(ctx, db, table)
	if err != nil {
		return err
	}
	return vectorindex.Verify(table, reg, markers, columns)
}

func createSchema(ctx context.Context, db DB, table string, reg *embedding.Registry) (err error) {
	tx, err := db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("vectorindex postgres: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	for _, stmt := range createTableSQL(table, reg) {
		if _, err = tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("vectorindex postgres: create schema: %w", err)
		}
	}
	insert := fmt.Sprintf(`INSERT INTO %s (column_name, registry_name, source_column, dimensions, metric)
		VALUES ($1, $2, $3, $4, $5)`, vectorindex.MarkerTable(table))
	for _, m := range vectorindex.Markers(reg) {
		if _, err = tx.Exec(ctx, insert, m.Column, m.RegistryName, m.SourceColumn, m.Dimensions, m.Metric); err != nil {
			return fmt.Errorf("vectorindex postgres: write schema marker: %w", err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("vectorindex postgres: commit schema: %w", err)
	}
	return nil
}

func readMarkers(ctx context.Context, db DB, table string) ([]vectorindex.Marker, error) {
	markerTable := vectorindex.MarkerTable(table)
	var exists bool
	if err := db.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, markerTable).Scan(&exists); err != nil {
		return nil, fmt.Errorf("vectorindex postgres: check marker table: %w", err)
	}
	if !exists {
		return nil, &vectorindex.SchemaError{Table: table, Reason: "schema marker table " + markerTable + " is missing"}
	}

	rows, err := db.Query(ctx, fmt.Sprintf(
		`SELECT column_name, registry_name, source_column, dimensions, metric FROM %s ORDER BY column_name`,
		markerTable))
	if err != nil {
		return nil, fmt.Errorf("vectorindex postgres: read schema marker: %w", err)
	}
	markers, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (vectorindex.Marker, error) {
		var m vectorindex.Marker
		err := row.Scan(&m.Column, &m.RegistryName, &m.SourceColumn, &m.Dimensions, &m.Metric)
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("vectorindex postgres: read schema marker: %w", err)
	}
	return markers, nil
}

// readColumns reads the physical columns of table. For pgvector columns the
// type modifier is the declared width.
func readColumns(ctx context.Context, db DB, table string) (map[string]vectorindex.PhysicalColumn, error) {
	const query = `
		SELECT a.attname, t.typname, a.atttypmod
		FROM pg_attribute a
		JOIN pg_type t ON t.oid = a.atttypid
		WHERE a.attrelid = $1::regclass AND a.attnum > 0 AND NOT a.attisdropped`

	rows, err := db.Query(ctx, query, table)
	if err != nil {
		return nil, fmt.Errorf("vectorindex postgres: read columns: %w", err)
	}
	defer rows.Close()

	columns := make(map[string]vectorindex.PhysicalColumn)
	for rows.Next() {
		var (
			name, typ string
			typmod    int32
		)
		if err := rows.Scan(&name, &typ, &typmod); err != nil {
			return nil, fmt.Errorf("vectorindex postgres: read columns: %w", err)
		}
		col := vectorindex.PhysicalColumn{Vector: typ == "vector"}
		if col.Vector && typmod > 0 {
			col.Width = int(typmod)
		}
		columns[name] = col
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("vectorindex postgres: read columns: %w", err)
	}
	if len(columns) == 0 {
		return nil, errors.New("vectorindex postgres: table has no columns")
	}
	return columns, nil
}
