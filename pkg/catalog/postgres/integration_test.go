package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/wordhoard/pkg/catalog"
	"github.com/MrWong99/wordhoard/pkg/catalog/postgres"
)

// testDSN returns the test database DSN, or skips when
// WORDHOARD_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("WORDHOARD_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("WORDHOARD_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

func newIntegrationStore(t *testing.T) (*postgres.Store, *pgxpool.Pool) {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(pool.Close)
	for _, stmt := range []string{
		"DROP TABLE IF EXISTS challenges CASCADE",
		"DROP TABLE IF EXISTS words CASCADE",
	} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			t.Fatalf("%s: %v", stmt, err)
		}
	}

	s, err := postgres.Open(ctx, dsn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, pool
}

func TestIntegration_CatalogLifecycle(t *testing.T) {
	s, pool := newIntegrationStore(t)
	ctx := context.Background()

	first, err := s.Create(ctx, catalog.NewWord{Text: "Ameliorate", Class: "verb", Definition: "make better"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	second, err := s.Create(ctx, catalog.NewWord{Text: "zebra", Class: "noun", Definition: "striped animal", Example: "a zebra ran"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if second <= first {
		t.Fatalf("ids not increasing: %d then %d", first, second)
	}

	found, err := s.FindBySubstring(ctx, "AMEL")
	if err != nil {
		t.Fatalf("FindBySubstring: %v", err)
	}
	if len(found) != 1 || found[0].ID != first {
		t.Fatalf("FindBySubstring(AMEL) = %+v", found)
	}

	all, err := s.FindBySubstring(ctx, "")
	if err != nil || len(all) != 2 {
		t.Fatalf("FindBySubstring(\"\") = %d words, %v", len(all), err)
	}

	got, err := s.Get(ctx, []int64{second, 9999, first})
	if err != nil || len(got) != 2 || got[0].ID != second || got[0].Example != "a zebra ran" {
		t.Fatalf("Get = %+v, %v", got, err)
	}

	if _, err := pool.Exec(ctx, `INSERT INTO challenges (word_id, answer) VALUES ($1, 'x')`, first); err != nil {
		t.Fatalf("insert challenge: %v", err)
	}
	if _, err := s.Delete(ctx, first); !catalog.IsReferentialIntegrityError(err) {
		t.Fatalf("Delete referenced word: %v", err)
	}

	n, err := s.Delete(ctx, second)
	if err != nil || n != 1 {
		t.Fatalf("Delete = %d, %v", n, err)
	}
	n, err = s.Delete(ctx, second)
	if err != nil || n != 0 {
		t.Fatalf("second Delete = %d, %v", n, err)
	}
}
