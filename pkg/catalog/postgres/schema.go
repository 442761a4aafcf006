package postgres

import (
	"context"
	"fmt"

	"github.com/MrWong99/wordhoard/pkg/catalog"
)

// Schema is the DDL for the catalog tables. It is idempotent.
//
// challenges rows reference words; a word with challenges cannot be deleted.
// word_folded holds [catalog.Fold] of word, computed by the application so
// substring search folds exactly like the SQLite store.
const Schema = `
CREATE TABLE IF NOT EXISTS words (
    id          BIGSERIAL PRIMARY KEY,
    word        TEXT NOT NULL,
    word_folded TEXT,
    class       TEXT NOT NULL,
    definition  TEXT NOT NULL,
    example     TEXT,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS challenges (
    id               BIGSERIAL PRIMARY KEY,
    word_id          BIGINT NOT NULL REFERENCES words(id),
    answer           TEXT NOT NULL,
    corrected_answer TEXT,
    score            INTEGER,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_challenges_word_id ON challenges(word_id);

ALTER TABLE words ADD COLUMN IF NOT EXISTS word_folded TEXT;
`

// Migrate applies [Schema] and fills word_folded for rows written before the
// column existed.
func Migrate(ctx context.Context, db DB) error {
	if _, err := db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("catalog postgres: migrate: %w", err)
	}
	return backfillFolded(ctx, db)
}

func backfillFolded(ctx context.Context, db DB) error {
	rows, err := db.Query(ctx, `SELECT id, word FROM words WHERE word_folded IS NULL`)
	if err != nil {
		return fmt.Errorf("catalog postgres: backfill word_folded: %w", err)
	}
	type pending struct {
		id   int64
		word string
	}
	var todo []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.id, &p.word); err != nil {
			rows.Close()
			return fmt.Errorf("catalog postgres: backfill word_folded: %w", err)
		}
		todo = append(todo, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("catalog postgres: backfill word_folded: %w", err)
	}
	for _, p := range todo {
		if _, err := db.Exec(ctx, `UPDATE words SET word_folded = $1 WHERE id = $2`, catalog.Fold(p.word), p.id); err != nil {
			return fmt.Errorf("catalog postgres: backfill word_folded %d: %w", p.id, err)
		}
	}
	return nil
}
