package search_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/wordhoard/internal/observe"
	"github.com/MrWong99/wordhoard/internal/search"
	"github.com/MrWong99/wordhoard/pkg/catalog"
	catalogmock "github.com/MrWong99/wordhoard/pkg/catalog/mock"
	"github.com/MrWong99/wordhoard/pkg/embedding"
	embedmock "github.com/MrWong99/wordhoard/pkg/provider/embeddings/mock"
	indexmock "github.com/MrWong99/wordhoard/pkg/vectorindex/mock"
)

// ---------------------------------------------------------------------------
// Fixture
// ---------------------------------------------------------------------------

// topics places words about the same idea on the same axis of the meaning
// space, so cosine distance is 0 within a topic and 1 across topics.
var topics = map[string]int{
	"ameliorate":  0,
	"improve":     0,
	"improvement": 0,
	"better":      0,
	"zebra":       1,
	"horse":       1,
}

func meaningVec(text string) []float32 {
	v := make([]float32, embedding.MeaningDimensions)
	axis, ok := topics[strings.ToLower(text)]
	if !ok {
		axis = 2
	}
	v[axis] = 1
	return v
}

type fixture struct {
	coord    *search.Coordinator
	catalog  *catalogmock.Store
	index    *indexmock.Index
	provider *embedmock.Provider
	reader   *sdkmetric.ManualReader
}

func newFixture(t *testing.T, opts ...search.Option) *fixture {
	t.Helper()

	p := &embedmock.Provider{DimensionsValue: embedding.MeaningDimensions, EmbedFunc: meaningVec}
	meaning, err := embedding.NewMeaning(p)
	if err != nil {
		t.Fatal(err)
	}
	reg, err := embedding.DefaultRegistry(meaning)
	if err != nil {
		t.Fatal(err)
	}

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatal(err)
	}

	f := &fixture{
		catalog:  catalogmock.New(),
		index:    indexmock.New(reg),
		provider: p,
		reader:   reader,
	}
	f.coord = search.New(f.catalog, f.index, append([]search.Option{search.WithMetrics(m)}, opts...)...)
	return f
}

func (f *fixture) add(t *testing.T, words ...string) []int64 {
	t.Helper()
	ids := make([]int64, len(words))
	for i, w := range words {
		id, err := f.coord.AddWord(context.Background(), catalog.NewWord{Text: w, Class: "noun", Definition: "def of " + w})
		if err != nil {
			t.Fatalf("AddWord %q: %v", w, err)
		}
		ids[i] = id
	}
	return ids
}

// counter sums the data points of an int64 counter, optionally filtered by
// one attribute.
func (f *fixture) counter(t *testing.T, name, key, value string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := f.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatal(err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("%s is %T", name, m.Data)
			}
			for _, dp := range sum.DataPoints {
				if key != "" {
					v, ok := dp.Attributes.Value(attribute.Key(key))
					if !ok || v.AsString() != value {
						continue
					}
				}
				total += dp.Value
			}
		}
	}
	return total
}

func texts(results []search.Result) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Word.Text
	}
	return out
}

// ---------------------------------------------------------------------------
// Search
// ---------------------------------------------------------------------------

func TestSearch_Exact(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.add(t, "Ameliorate", "zebra", "amelioration")

	got, err := f.coord.Search(context.Background(), "AMELIO", search.ModeExact)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(texts(got), ",") != "Ameliorate,amelioration" {
		t.Errorf("got %v", texts(got))
	}
	for _, r := range got {
		if r.MatchedBy != search.SignalExact || r.Distance != nil {
			t.Errorf("%s: MatchedBy=%v Distance=%v", r.Word.Text, r.MatchedBy, r.Distance)
		}
	}
	if f.index.CallCount("Nearest") != 0 {
		t.Error("exact search queried the vector index")
	}
}

func TestSearch_Semantic(t *testing.T) {
	t.Parallel()

	f := newFixture(t, search.WithSettings(search.Settings{SemanticK: 2}))
	ids := f.add(t, "zebra", "ameliorate", "horse", "better")

	got, err := f.coord.Search(context.Background(), "improve", search.ModeSemantic)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d results, want k=2: %v", len(got), texts(got))
	}
	// Equal distances are ordered by id.
	if got[0].Word.ID != ids[1] || got[1].Word.ID != ids[3] {
		t.Errorf("order = %v", texts(got))
	}
	for _, r := range got {
		if r.MatchedBy != search.SignalSemantic || r.Distance == nil || *r.Distance > 1e-6 {
			t.Errorf("%s: MatchedBy=%v Distance=%v", r.Word.Text, r.MatchedBy, r.Distance)
		}
	}
}

func TestSearch_MaxDistance(t *testing.T) {
	t.Parallel()

	f := newFixture(t, search.WithSettings(search.Settings{SemanticK: 10, MaxDistance: 0.5}))
	f.add(t, "zebra", "ameliorate", "horse")

	got, err := f.coord.Search(context.Background(), "improve", search.ModeSemantic)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(texts(got), ",") != "ameliorate" {
		t.Errorf("got %v, want only ameliorate", texts(got))
	}
}

func TestSearch_FusedDeduplicates(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.add(t, "ameliorate", "zebra")

	got, err := f.coord.Search(context.Background(), "ameliorate", search.ModeFused)
	if err != nil {
		t.Fatal(err)
	}
	var n int
	for _, r := range got {
		if r.Word.Text == "ameliorate" {
			n++
			if r.MatchedBy != search.SignalExact|search.SignalSemantic {
				t.Errorf("MatchedBy = %v, want both", r.MatchedBy)
			}
			if r.Distance == nil {
				t.Error("distance missing on a semantic hit")
			}
		}
	}
	if n != 1 {
		t.Errorf("ameliorate returned %d times", n)
	}
}

func TestSearch_FusedRanksExactFirst(t *testing.T) {
	t.Parallel()

	f := newFixture(t, search.WithSettings(search.Settings{SemanticK: 3}))
	f.add(t, "better", "zebra", "improvement", "improv")

	got, err := f.coord.Search(context.Background(), "improve", search.ModeFused)
	if err != nil {
		t.Fatal(err)
	}
	// improvement: exact and semantic; better: semantic only; improv is on
	// another axis and does not contain "improve".
	want := []string{"improvement", "better"}
	gotTexts := texts(got)
	if len(gotTexts) < 2 || gotTexts[0] != want[0] || gotTexts[1] != want[1] {
		t.Fatalf("got %v, want prefix %v", gotTexts, want)
	}
	if got[0].MatchedBy != search.SignalExact|search.SignalSemantic {
		t.Errorf("first MatchedBy = %v", got[0].MatchedBy)
	}
	if got[1].MatchedBy != search.SignalSemantic {
		t.Errorf("second MatchedBy = %v", got[1].MatchedBy)
	}
}

func TestSearch_DegradesToExact(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		mode search.Mode
		fail func(f *fixture)
	}{
		{"semantic compute error", search.ModeSemantic, func(f *fixture) { f.provider.Err = errors.New("model down") }},
		{"fused compute error", search.ModeFused, func(f *fixture) { f.provider.Err = errors.New("model down") }},
		{"semantic index error", search.ModeSemantic, func(f *fixture) { f.index.NearestErr = errors.New("connection reset") }},
		{"fused index error", search.ModeFused, func(f *fixture) { f.index.NearestErr = errors.New("connection reset") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			f.add(t, "ameliorate", "zebra")
			tt.fail(f)

			got, err := f.coord.Search(context.Background(), "amel", tt.mode)
			if err != nil {
				t.Fatalf("expected degraded results, got error %v", err)
			}
			if strings.Join(texts(got), ",") != "ameliorate" {
				t.Errorf("got %v", texts(got))
			}
			if got[0].MatchedBy != search.SignalExact {
				t.Errorf("MatchedBy = %v", got[0].MatchedBy)
			}
			if n := f.counter(t, "wordhoard.search.fallbacks", "mode", string(tt.mode)); n != 1 {
				t.Errorf("fallbacks = %d, want 1", n)
			}
			if n := f.counter(t, "wordhoard.search.requests", "status", "degraded"); n != 1 {
				t.Errorf("degraded requests = %d, want 1", n)
			}
		})
	}
}

func TestSearch_CancellationIsNotMasked(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.add(t, "ameliorate")
	f.index.NearestErr = context.Canceled

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.coord.Search(ctx, "amel", search.ModeSemantic)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if n := f.counter(t, "wordhoard.search.fallbacks", "", ""); n != 0 {
		t.Errorf("cancellation counted as fallback")
	}
}

func TestSearch_BlankQueryListsAll(t *testing.T) {
	t.Parallel()

	for _, mode := range []search.Mode{search.ModeExact, search.ModeSemantic, search.ModeFused} {
		t.Run(string(mode), func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			f.add(t, "b", "a", "c")
			got, err := f.coord.Search(context.Background(), "  ", mode)
			if err != nil {
				t.Fatal(err)
			}
			if strings.Join(texts(got), ",") != "b,a,c" {
				t.Errorf("got %v, want insertion order", texts(got))
			}
			if f.index.CallCount("Nearest") != 0 {
				t.Error("blank query reached the vector index")
			}
		})
	}
}

func TestSearch_OrphanVectorsDropped(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ids := f.add(t, "ameliorate", "better")
	// Remove from the catalog only, leaving the vector row behind.
	if _, err := f.catalog.Delete(context.Background(), ids[0]); err != nil {
		t.Fatal(err)
	}

	got, err := f.coord.Search(context.Background(), "improve", search.ModeSemantic)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(texts(got), ",") != "better" {
		t.Errorf("got %v", texts(got))
	}
}

func TestSearch_Errors(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	if _, err := f.coord.Search(context.Background(), "x", search.Mode("fuzzy")); !catalog.IsInputError(err) {
		t.Errorf("unknown mode: expected InputError, got %v", err)
	}

	f.catalog.FindErr = errors.New("catalog down")
	for _, mode := range []search.Mode{search.ModeExact, search.ModeFused} {
		if _, err := f.coord.Search(context.Background(), "x", mode); err == nil {
			t.Errorf("%s: catalog failure was swallowed", mode)
		}
	}
}

// ---------------------------------------------------------------------------
// Writes
// ---------------------------------------------------------------------------

type recordingNotifier struct {
	mu  sync.Mutex
	ids []int64
}

func (n *recordingNotifier) Notify(id int64) {
	n.mu.Lock()
	n.ids = append(n.ids, id)
	n.mu.Unlock()
}

func TestAddWord(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	id, err := f.coord.AddWord(context.Background(), catalog.NewWord{Text: "ameliorate", Class: "verb", Definition: "to make better"})
	if err != nil {
		t.Fatal(err)
	}
	if id != 1 {
		t.Errorf("id = %d", id)
	}
	if f.catalog.Len() != 1 || f.index.Len() != 1 {
		t.Errorf("catalog=%d index=%d, want 1/1", f.catalog.Len(), f.index.Len())
	}
}

func TestAddWord_InvalidInputTouchesNothing(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.coord.AddWord(context.Background(), catalog.NewWord{Text: "word"})
	if !catalog.IsInputError(err) {
		t.Fatalf("expected InputError, got %v", err)
	}
	if f.catalog.CallCount("Create") != 0 || f.index.CallCount("Append") != 0 {
		t.Error("invalid word reached a store")
	}
}

func TestAddWord_CatalogFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.catalog.CreateErr = errors.New("disk full")
	_, err := f.coord.AddWord(context.Background(), catalog.NewWord{Text: "w", Class: "c", Definition: "d"})
	if err == nil || search.IsConsistencyError(err) {
		t.Fatalf("expected plain error, got %v", err)
	}
	if f.index.CallCount("Append") != 0 {
		t.Error("vector write attempted without a catalog id")
	}
}

func TestAddWord_VectorFailureIsPartialSuccess(t *testing.T) {
	t.Parallel()

	n := &recordingNotifier{}
	f := newFixture(t, search.WithNotifier(n))
	f.provider.Err = errors.New("timeout")

	id, err := f.coord.AddWord(context.Background(), catalog.NewWord{Text: "ameliorate", Class: "verb", Definition: "to make better"})
	var ce *search.ConsistencyError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *ConsistencyError, got %v", err)
	}
	if id == 0 || ce.WordID != id {
		t.Errorf("id=%d WordID=%d", id, ce.WordID)
	}
	if !embedding.IsComputeError(err) {
		t.Error("ConsistencyError does not wrap the ComputeError")
	}
	if f.catalog.Len() != 1 || f.index.Len() != 0 {
		t.Errorf("catalog=%d index=%d, want 1/0", f.catalog.Len(), f.index.Len())
	}
	if len(n.ids) != 1 || n.ids[0] != id {
		t.Errorf("notified %v", n.ids)
	}
	if got := f.counter(t, "wordhoard.consistency.errors", "", ""); got != 1 {
		t.Errorf("consistency errors = %d", got)
	}

	// Still found by exact search.
	words, err := f.coord.SearchWords(context.Background(), "amelio", false)
	if err != nil {
		t.Fatal(err)
	}
	if len(words) != 1 || words[0].ID != id {
		t.Errorf("exact search after partial write = %v", words)
	}
}

func TestDeleteWord(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ids := f.add(t, "ameliorate", "zebra")

	n, err := f.coord.DeleteWord(context.Background(), ids[0])
	if err != nil || n != 1 {
		t.Fatalf("DeleteWord = %d, %v", n, err)
	}
	if f.catalog.Len() != 1 || f.index.Len() != 1 {
		t.Errorf("catalog=%d index=%d, want 1/1", f.catalog.Len(), f.index.Len())
	}

	n, err = f.coord.DeleteWord(context.Background(), 99)
	if err != nil || n != 0 {
		t.Errorf("missing word: %d, %v", n, err)
	}
	if f.index.CallCount("Remove") != 1 {
		t.Errorf("Remove called %d times", f.index.CallCount("Remove"))
	}
}

func TestDeleteWord_ReferencedLeavesBothStores(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ids := f.add(t, "ameliorate")
	f.catalog.Reference(ids[0])

	_, err := f.coord.DeleteWord(context.Background(), ids[0])
	if !catalog.IsReferentialIntegrityError(err) {
		t.Fatalf("expected ReferentialIntegrityError, got %v", err)
	}
	if f.catalog.Len() != 1 || f.index.Len() != 1 {
		t.Errorf("catalog=%d index=%d, want 1/1", f.catalog.Len(), f.index.Len())
	}
	if f.index.CallCount("Remove") != 0 {
		t.Error("vector row removed for a blocked delete")
	}
}

func TestDeleteWord_IndexFailureStillSucceeds(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ids := f.add(t, "ameliorate")
	f.index.RemoveErr = errors.New("index down")

	n, err := f.coord.DeleteWord(context.Background(), ids[0])
	if err != nil || n != 1 {
		t.Fatalf("DeleteWord = %d, %v", n, err)
	}
}

// ---------------------------------------------------------------------------
// Reconcile
// ---------------------------------------------------------------------------

func TestReconcile_RepairsMissingRows(t *testing.T) {
	t.Parallel()

	f := newFixture(t, search.WithBatchSize(2))
	f.add(t, "a", "b")
	f.provider.Err = errors.New("down")
	for _, w := range []string{"c", "d", "e"} {
		if _, err := f.coord.AddWord(context.Background(), catalog.NewWord{Text: w, Class: "x", Definition: "y"}); !search.IsConsistencyError(err) {
			t.Fatalf("expected ConsistencyError for %s, got %v", w, err)
		}
	}
	f.provider.Err = nil

	rep, err := f.coord.Reconcile(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	want := search.Report{Scanned: 5, Missing: 3, Repaired: 3}
	if rep != want {
		t.Errorf("report = %+v, want %+v", rep, want)
	}
	if f.index.Len() != 5 {
		t.Errorf("index has %d rows", f.index.Len())
	}
	if n := f.counter(t, "wordhoard.reconcile.words", "status", "repaired"); n != 3 {
		t.Errorf("repaired metric = %d", n)
	}

	// A second pass finds nothing to do.
	rep, _ = f.coord.Reconcile(context.Background())
	if rep.Missing != 0 || rep.Scanned != 5 {
		t.Errorf("second pass = %+v", rep)
	}
}

func TestReconcile_ContinuesPastFailures(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.provider.Err = errors.New("down")
	for _, w := range []string{"a", "b"} {
		_, _ = f.coord.AddWord(context.Background(), catalog.NewWord{Text: w, Class: "x", Definition: "y"})
	}

	rep, err := f.coord.Reconcile(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if rep.Missing != 2 || rep.Failed != 2 || rep.Repaired != 0 {
		t.Errorf("report = %+v", rep)
	}
}

func TestReconcile_IndexUnavailable(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.add(t, "a")
	f.index.HasErr = errors.New("index down")

	if _, err := f.coord.Reconcile(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

// ---------------------------------------------------------------------------
// Inbound boundary and settings
// ---------------------------------------------------------------------------

func TestSearchWords(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	if _, err := f.coord.CreateWord(context.Background(), "ameliorate", "verb", "to make better", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := f.coord.CreateWord(context.Background(), "zebra", "noun", "striped horse", "a zebra ran"); err != nil {
		t.Fatal(err)
	}

	all, err := f.coord.SearchWords(context.Background(), "", false)
	if err != nil || len(all) != 2 {
		t.Fatalf("blank query: %d words, %v", len(all), err)
	}
	full, _ := f.coord.SearchWords(context.Background(), "improve", false)
	fragment, _ := f.coord.SearchWords(context.Background(), "improve", true)
	if len(full) == 0 || full[0].Text != "ameliorate" {
		t.Fatalf("fused default mode = %v", full)
	}
	if len(fragment) != len(full) || fragment[0].ID != full[0].ID {
		t.Error("fragment flag changed the result")
	}
}

func TestUpdateSettings(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	if got := f.coord.Settings(); got != search.DefaultSettings() {
		t.Errorf("initial settings = %+v", got)
	}
	f.coord.UpdateSettings(search.Settings{DefaultMode: search.ModeExact, SemanticK: -1, MaxDistance: -2})
	got := f.coord.Settings()
	if got.DefaultMode != search.ModeExact || got.SemanticK != search.DefaultSemanticK || got.MaxDistance != 0 ||
		got.SemanticSpace != embedding.MeaningName {
		t.Errorf("normalized settings = %+v", got)
	}

	// With exact as the default, a semantic-only word is not found.
	f.add(t, "ameliorate")
	words, _ := f.coord.SearchWords(context.Background(), "improve", false)
	if len(words) != 0 {
		t.Errorf("exact default returned %v", words)
	}
}

func TestSearch_NgramSpaceToleratesMisspelling(t *testing.T) {
	t.Parallel()

	f := newFixture(t, search.WithSettings(search.Settings{SemanticK: 1}))
	ids := f.add(t, "zebra", "ameliorate", "horse")

	// "amelorate" is unknown to the meaning space.
	got, err := f.coord.Search(context.Background(), "amelorate", search.ModeSemantic)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) == 1 && got[0].Word.ID == ids[1] {
		t.Fatalf("meaning space unexpectedly matched the misspelling: %v", texts(got))
	}

	s := f.coord.Settings()
	s.SemanticSpace = embedding.NgramName
	f.coord.UpdateSettings(s)

	got, err = f.coord.Search(context.Background(), "amelorate", search.ModeFused)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Word.ID != ids[1] || got[0].MatchedBy != search.SignalSemantic {
		t.Fatalf("ngram fused search = %v", texts(got))
	}
	if got[0].Distance == nil || *got[0].Distance >= 0.5 {
		t.Errorf("distance = %v, want a close match", got[0].Distance)
	}
}

func TestConcurrentSearchAndSettings(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.add(t, "ameliorate", "zebra", "better")

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := f.coord.SearchWords(context.Background(), "improve", false); err != nil {
				t.Errorf("search: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			f.coord.UpdateSettings(search.Settings{SemanticK: i + 1})
		}()
	}
	wg.Wait()
}
