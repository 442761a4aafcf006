package sqlite_test

import (
	"context"
	"sync"
	"testing"

	"github.com/MrWong99/wordhoard/pkg/catalog"
	"github.com/MrWong99/wordhoard/pkg/catalog/sqlite"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mustCreate(t *testing.T, s *sqlite.Store, text, example string) int64 {
	t.Helper()
	id, err := s.Create(context.Background(), catalog.NewWord{
		Text: text, Class: "noun", Definition: "definition of " + text, Example: example,
	})
	if err != nil {
		t.Fatalf("Create(%q): %v", text, err)
	}
	return id
}

func TestCreate_IDsIncrease(t *testing.T) {
	s := newTestStore(t)

	a := mustCreate(t, s, "ameliorate", "")
	b := mustCreate(t, s, "zebra", "a zebra ran")
	if a <= 0 || b <= a {
		t.Fatalf("ids = %d, %d; want positive and increasing", a, b)
	}

	words, err := s.Get(context.Background(), []int64{a, b})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if words[0].Example != "" || words[1].Example != "a zebra ran" {
		t.Errorf("examples = %q, %q", words[0].Example, words[1].Example)
	}
	if words[0].CreatedAt.IsZero() {
		t.Error("created_at not populated")
	}

	var nulls int
	if err := s.DB().QueryRow(`SELECT count(*) FROM words WHERE example IS NULL`).Scan(&nulls); err != nil {
		t.Fatal(err)
	}
	if nulls != 1 {
		t.Errorf("rows with NULL example = %d, want 1", nulls)
	}
}

func TestCreate_InvalidInput(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Create(context.Background(), catalog.NewWord{Text: "orphan"})
	if !catalog.IsInputError(err) {
		t.Fatalf("expected *InputError, got %v", err)
	}
	all, _ := s.FindBySubstring(context.Background(), "")
	if len(all) != 0 {
		t.Errorf("invalid word was stored: %+v", all)
	}
}

func TestFindBySubstring(t *testing.T) {
	s := newTestStore(t)
	ameliorate := mustCreate(t, s, "ameliorate", "")
	zebra := mustCreate(t, s, "Zebra", "")
	ecole := mustCreate(t, s, "École", "")
	strasse := mustCreate(t, s, "Straße", "")

	tests := []struct {
		name  string
		query string
		want  []int64
	}{
		{"prefix", "amel", []int64{ameliorate}},
		{"case-insensitive", "ZEB", []int64{zebra}},
		{"unicode fold", "éCOLE", []int64{ecole}},
		{"sharp s folds to ss", "STRASSE", []int64{strasse}},
		{"infix shared", "e", []int64{ameliorate, zebra, ecole, strasse}},
		{"no match", "qqq", nil},
		{"empty lists all", "", []int64{ameliorate, zebra, ecole, strasse}},
		{"whitespace lists all", "  ", []int64{ameliorate, zebra, ecole, strasse}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.FindBySubstring(context.Background(), tt.query)
			if err != nil {
				t.Fatalf("FindBySubstring: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d words, want %d: %+v", len(got), len(tt.want), got)
			}
			for i := range got {
				if got[i].ID != tt.want[i] {
					t.Errorf("result %d id = %d, want %d", i, got[i].ID, tt.want[i])
				}
			}
		})
	}
}

func TestGetAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ids := make([]int64, 5)
	for i, w := range []string{"a", "b", "c", "d", "e"} {
		ids[i] = mustCreate(t, s, w, "")
	}

	got, err := s.Get(ctx, []int64{ids[4], 999, ids[0]})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got) != 2 || got[0].ID != ids[4] || got[1].ID != ids[0] {
		t.Errorf("Get order = %+v", got)
	}

	var seen []int64
	after := int64(0)
	for {
		page, err := s.List(ctx, after, 2)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(page) == 0 {
			break
		}
		for _, w := range page {
			seen = append(seen, w.ID)
		}
		after = page[len(page)-1].ID
	}
	if len(seen) != 5 {
		t.Fatalf("paged through %d words, want 5", len(seen))
	}
	for i := range seen {
		if seen[i] != ids[i] {
			t.Errorf("page order[%d] = %d, want %d", i, seen[i], ids[i])
		}
	}
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	free := mustCreate(t, s, "free", "")
	referenced := mustCreate(t, s, "referenced", "")

	if _, err := s.DB().Exec(`INSERT INTO challenges (word_id, answer) VALUES (?, 'guess')`, referenced); err != nil {
		t.Fatalf("insert challenge: %v", err)
	}

	n, err := s.Delete(ctx, free)
	if err != nil || n != 1 {
		t.Fatalf("Delete(free) = %d, %v", n, err)
	}
	n, err = s.Delete(ctx, free)
	if err != nil || n != 0 {
		t.Fatalf("second Delete(free) = %d, %v", n, err)
	}

	_, err = s.Delete(ctx, referenced)
	if !catalog.IsReferentialIntegrityError(err) {
		t.Fatalf("expected *ReferentialIntegrityError, got %v", err)
	}
	if got, _ := s.Get(ctx, []int64{referenced}); len(got) != 1 {
		t.Error("referenced word was removed")
	}
}

func TestConcurrentCreates(t *testing.T) {
	s := newTestStore(t)

	var wg sync.WaitGroup
	ids := make([]int64, 20)
	for i := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := s.Create(context.Background(), catalog.NewWord{Text: "w", Class: "c", Definition: "d"})
			if err != nil {
				t.Errorf("Create: %v", err)
			}
			ids[i] = id
		}()
	}
	wg.Wait()

	seen := make(map[int64]bool)
	for _, id := range ids {
		if seen[id] {
			t.Fatalf("duplicate id %d", id)
		}
		seen[id] = true
	}
}

func TestPing(t *testing.T) {
	if err := newTestStore(t).Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}
