package search_test

import (
	"context"
	"testing"

	"github.com/MrWong99/wordhoard/internal/search"
	"github.com/MrWong99/wordhoard/pkg/catalog"
	catsqlite "github.com/MrWong99/wordhoard/pkg/catalog/sqlite"
	"github.com/MrWong99/wordhoard/pkg/embedding"
	embedmock "github.com/MrWong99/wordhoard/pkg/provider/embeddings/mock"
	visqlite "github.com/MrWong99/wordhoard/pkg/vectorindex/sqlite"
)

// TestSearch_SQLiteSharedDatabase runs the coordinator over the SQLite
// catalog and vector index sharing one in-memory database.
func TestSearch_SQLiteSharedDatabase(t *testing.T) {
	ctx := context.Background()

	cat, err := catsqlite.Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("open catalog: %v", err)
	}
	t.Cleanup(func() { _ = cat.Close() })

	meaning, err := embedding.NewMeaning(&embedmock.Provider{DimensionsValue: embedding.MeaningDimensions, EmbedFunc: meaningVec})
	if err != nil {
		t.Fatal(err)
	}
	reg, err := embedding.DefaultRegistry(meaning)
	if err != nil {
		t.Fatal(err)
	}
	idx, err := visqlite.New(ctx, cat.DB(), reg)
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })

	coord := search.New(cat, idx)
	id, err := coord.AddWord(ctx, catalog.NewWord{Text: "ameliorate", Class: "verb", Definition: "make something better"})
	if err != nil {
		t.Fatalf("AddWord: %v", err)
	}
	if _, err := coord.AddWord(ctx, catalog.NewWord{Text: "zebra", Class: "noun", Definition: "striped animal"}); err != nil {
		t.Fatalf("AddWord: %v", err)
	}

	t.Run("exact prefix", func(t *testing.T) {
		got, err := coord.Search(ctx, "AMEL", search.ModeExact)
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		if len(got) != 1 || got[0].Word.ID != id || got[0].MatchedBy != search.SignalExact {
			t.Fatalf("results = %+v", got)
		}
	})

	t.Run("fused returns the word once", func(t *testing.T) {
		got, err := coord.Search(ctx, "ameliorate", search.ModeFused)
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		var hits int
		for _, r := range got {
			if r.Word.ID != id {
				continue
			}
			hits++
			if r.MatchedBy != search.SignalExact|search.SignalSemantic {
				t.Errorf("MatchedBy = %v, want both", r.MatchedBy)
			}
			if r.Distance == nil || *r.Distance > 1e-6 {
				t.Errorf("Distance = %v, want 0", r.Distance)
			}
		}
		if hits != 1 {
			t.Fatalf("ameliorate returned %d times in %+v", hits, got)
		}
		if got[0].Word.ID != id {
			t.Errorf("first result = %q, want ameliorate", got[0].Word.Text)
		}
	})

	t.Run("referenced delete keeps both rows", func(t *testing.T) {
		if _, err := cat.DB().ExecContext(ctx, `INSERT INTO challenges (word_id, answer) VALUES (?, 'to improve')`, id); err != nil {
			t.Fatalf("insert challenge: %v", err)
		}
		n, err := coord.DeleteWord(ctx, id)
		if !catalog.IsReferentialIntegrityError(err) {
			t.Fatalf("DeleteWord = %d, %v; want ReferentialIntegrityError", n, err)
		}
		words, err := cat.Get(ctx, []int64{id})
		if err != nil || len(words) != 1 {
			t.Fatalf("catalog row after refused delete: %+v, %v", words, err)
		}
		has, err := idx.Has(ctx, []int64{id})
		if err != nil {
			t.Fatalf("Has: %v", err)
		}
		if !has[id] {
			t.Error("vector row removed after refused delete")
		}
	})
}
