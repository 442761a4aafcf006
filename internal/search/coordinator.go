// Package search coordinates the word catalog and the vector index behind a
// single query contract.
//
// The catalog is the source of truth. Writes go to the catalog first and
// then to the vector index; a failed vector write leaves the word findable by
// exact search, is reported as a [*ConsistencyError], and is repaired by
// [Coordinator.Reconcile]. Searches that need the vector index degrade to
// exact matching when it fails.
package search

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/wordhoard/internal/observe"
	"github.com/MrWong99/wordhoard/pkg/catalog"
	"github.com/MrWong99/wordhoard/pkg/embedding"
	"github.com/MrWong99/wordhoard/pkg/vectorindex"
)

// Defaults for [Settings] and reconciliation.
const (
	DefaultSemanticK = 10
	DefaultBatchSize = 100
)

// Settings are the hot-swappable search parameters.
type Settings struct {
	// DefaultMode is used by [Coordinator.SearchWords] for non-empty queries.
	DefaultMode Mode

	// SemanticK is how many nearest neighbours a semantic search asks for.
	SemanticK int

	// MaxDistance drops semantic hits farther than this. Zero disables the
	// filter.
	MaxDistance float64

	// SemanticSpace names the embedding space semantic hits come from:
	// [embedding.MeaningName] for meaning, [embedding.NgramName] for
	// spelling-tolerant matches.
	SemanticSpace string
}

// DefaultSettings returns fused search over the meaning space with k = 10 and
// no distance filter.
func DefaultSettings() Settings {
	return Settings{DefaultMode: ModeFused, SemanticK: DefaultSemanticK, SemanticSpace: embedding.MeaningName}
}

func (s Settings) normalize() Settings {
	if s.DefaultMode == "" {
		s.DefaultMode = ModeFused
	}
	if s.SemanticK <= 0 {
		s.SemanticK = DefaultSemanticK
	}
	if s.MaxDistance < 0 {
		s.MaxDistance = 0
	}
	if s.SemanticSpace == "" {
		s.SemanticSpace = embedding.MeaningName
	}
	return s
}

// Notifier is told about words whose vector row is missing.
type Notifier interface {
	Notify(wordID int64)
}

// Coordinator orchestrates the catalog and the vector index. It is safe for
// concurrent use and holds no lock across I/O.
type Coordinator struct {
	catalog   catalog.Store
	index     vectorindex.Index
	batchSize int
	metrics   *observe.Metrics
	notifier  Notifier

	settings atomic.Pointer[Settings]
}

// Option configures a [Coordinator].
type Option func(*Coordinator)

// WithSettings sets the initial [Settings].
func WithSettings(s Settings) Option {
	return func(c *Coordinator) {
		s = s.normalize()
		c.settings.Store(&s)
	}
}

// WithMetrics records search metrics on m instead of
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithBatchSize sets how many catalog rows a reconciliation pass checks at a
// time. Default: [DefaultBatchSize].
func WithBatchSize(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithNotifier registers n to be told about every [*ConsistencyError].
func WithNotifier(n Notifier) Option {
	return func(c *Coordinator) { c.notifier = n }
}

// New creates a [Coordinator] over cat and idx.
func New(cat catalog.Store, idx vectorindex.Index, opts ...Option) *Coordinator {
	c := &Coordinator{
		catalog:   cat,
		index:     idx,
		batchSize: DefaultBatchSize,
	}
	def := DefaultSettings()
	c.settings.Store(&def)
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// SetNotifier replaces the notifier. It must be called before the
// coordinator is shared between goroutines.
func (c *Coordinator) SetNotifier(n Notifier) { c.notifier = n }

// Settings returns the current settings.
func (c *Coordinator) Settings() Settings { return *c.settings.Load() }

// UpdateSettings atomically replaces the settings. In-flight searches keep
// the settings they started with.
func (c *Coordinator) UpdateSettings(s Settings) {
	s = s.normalize()
	c.settings.Store(&s)
}

// Search answers query in the given mode. A blank query lists every word in
// any mode. In semantic and fused mode a failing vector index degrades the
// search to exact matching; only context cancellation and catalog failures
// are returned as errors.
func (c *Coordinator) Search(ctx context.Context, query string, mode Mode) ([]Result, error) {
	ctx, span := observe.StartSpan(ctx, "search.Search",
		trace.WithAttributes(attribute.String("search.mode", string(mode))))
	defer span.End()

	settings := c.Settings()
	var (
		results  []Result
		degraded bool
		err      error
	)
	switch {
	case mode != ModeExact && mode != ModeSemantic && mode != ModeFused:
		err = &catalog.InputError{Err: fmt.Errorf("unknown search mode %q", mode)}
	case mode == ModeExact || catalog.IsBlank(query):
		results, err = c.exact(ctx, query)
	case mode == ModeSemantic:
		results, degraded, err = c.semanticOnly(ctx, query, settings)
	default:
		results, degraded, err = c.fused(ctx, query, settings)
	}

	status := "ok"
	switch {
	case err != nil:
		status = "error"
		observe.FailSpan(span, err)
	case degraded:
		status = "degraded"
	}
	c.metrics.RecordSearch(ctx, string(mode), status)
	span.SetAttributes(attribute.Int("search.results", len(results)), attribute.Bool("search.degraded", degraded))
	return results, err
}

func (c *Coordinator) exact(ctx context.Context, query string) ([]Result, error) {
	words, err := c.catalog.FindBySubstring(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("search: exact: %w", err)
	}
	results := make([]Result, len(words))
	for i, w := range words {
		results[i] = Result{Word: w, MatchedBy: SignalExact}
	}
	return results, nil
}

// nearest queries the vector index and applies the distance filter.
func (c *Coordinator) nearest(ctx context.Context, query string, s Settings) ([]vectorindex.Match, error) {
	matches, err := c.index.Nearest(ctx, s.SemanticSpace, query, s.SemanticK)
	if err != nil {
		return nil, err
	}
	if s.MaxDistance > 0 {
		kept := matches[:0]
		for _, m := range matches {
			if m.Distance <= s.MaxDistance {
				kept = append(kept, m)
			}
		}
		matches = kept
	}
	return matches, nil
}

// resolve joins matches back through the catalog. Vector rows whose word is
// gone are dropped.
func (c *Coordinator) resolve(ctx context.Context, matches []vectorindex.Match) ([]Result, error) {
	if len(matches) == 0 {
		return []Result{}, nil
	}
	ids := make([]int64, len(matches))
	dist := make(map[int64]float64, len(matches))
	for i, m := range matches {
		ids[i] = m.WordID
		dist[m.WordID] = m.Distance
	}
	words, err := c.catalog.Get(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("search: resolve semantic hits: %w", err)
	}
	results := make([]Result, len(words))
	for i, w := range words {
		d := dist[w.ID]
		results[i] = Result{Word: w, MatchedBy: SignalSemantic, Distance: &d}
	}
	return results, nil
}

// degrade decides whether a vector-side failure falls back to exact results.
// Cancellation of the caller's context is never masked.
func (c *Coordinator) degrade(ctx context.Context, mode Mode, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("search: %w", ctxErr)
	}
	c.metrics.RecordFallback(ctx, string(mode))
	observe.Logger(ctx).Warn("vector search failed, serving exact matches",
		"mode", string(mode),
		"transient", isTransient(err),
		"err", err)
	return nil
}

func isTransient(err error) bool {
	var ce *embedding.ComputeError
	return errors.As(err, &ce) && ce.Transient
}

func (c *Coordinator) semanticOnly(ctx context.Context, query string, s Settings) ([]Result, bool, error) {
	matches, err := c.nearest(ctx, query, s)
	if err != nil {
		if derr := c.degrade(ctx, ModeSemantic, err); derr != nil {
			return nil, false, derr
		}
		results, err := c.exact(ctx, query)
		return results, true, err
	}
	results, err := c.resolve(ctx, matches)
	return results, false, err
}

func (c *Coordinator) fused(ctx context.Context, query string, s Settings) ([]Result, bool, error) {
	var (
		exact   []Result
		matches []vectorindex.Match
		vecErr  error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		exact, err = c.exact(gctx, query)
		return err
	})
	g.Go(func() error {
		// A vector failure must not cancel the exact branch.
		matches, vecErr = c.nearest(gctx, query, s)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, false, err
	}

	if vecErr != nil {
		if derr := c.degrade(ctx, ModeFused, vecErr); derr != nil {
			return nil, false, derr
		}
		return exact, true, nil
	}

	semantic, err := c.resolve(ctx, matches)
	if err != nil {
		return nil, false, err
	}
	return merge(exact, semantic), false, nil
}

// merge keeps exact hits in catalog order, marks those also found
// semantically, and appends semantic-only hits in distance order.
func merge(exact, semantic []Result) []Result {
	out := make([]Result, len(exact), len(exact)+len(semantic))
	copy(out, exact)
	pos := make(map[int64]int, len(exact))
	for i, r := range out {
		pos[r.Word.ID] = i
	}
	for _, r := range semantic {
		if i, ok := pos[r.Word.ID]; ok {
			out[i].MatchedBy |= SignalSemantic
			out[i].Distance = r.Distance
			continue
		}
		pos[r.Word.ID] = len(out)
		out = append(out, r)
	}
	return out
}

// AddWord validates w, commits it to the catalog, and then writes its vector
// row. When the vector write fails the word stays committed and the returned
// error is a [*ConsistencyError] carrying the new id.
func (c *Coordinator) AddWord(ctx context.Context, w catalog.NewWord) (int64, error) {
	ctx, span := observe.StartSpan(ctx, "search.AddWord")
	defer span.End()

	if err := w.Validate(); err != nil {
		observe.FailSpan(span, err)
		return 0, err
	}
	id, err := c.catalog.Create(ctx, w)
	if err != nil {
		observe.FailSpan(span, err)
		return 0, err
	}
	span.SetAttributes(attribute.Int64("word.id", id))

	start := time.Now()
	if err := c.index.Append(ctx, id, w.Text); err != nil {
		cerr := &ConsistencyError{WordID: id, Err: err}
		observe.FailSpan(span, cerr)
		c.metrics.RecordConsistencyError(ctx)
		observe.Logger(ctx).Warn("word saved but vector index write failed",
			"word_id", id,
			"duration", time.Since(start),
			"err", err)
		if c.notifier != nil {
			c.notifier.Notify(id)
		}
		return id, cerr
	}
	return id, nil
}

// DeleteWord removes the word from the catalog and then its vector row. A
// [*catalog.ReferentialIntegrityError] is returned unchanged and leaves both
// stores untouched. A failed vector removal is only logged: the orphaned row
// can never surface because semantic hits are joined through the catalog.
func (c *Coordinator) DeleteWord(ctx context.Context, id int64) (int64, error) {
	ctx, span := observe.StartSpan(ctx, "search.DeleteWord",
		trace.WithAttributes(attribute.Int64("word.id", id)))
	defer span.End()

	n, err := c.catalog.Delete(ctx, id)
	if err != nil {
		observe.FailSpan(span, err)
		return 0, err
	}
	if n > 0 {
		if err := c.index.Remove(ctx, id); err != nil {
			observe.Logger(ctx).Warn("vector row not removed", "word_id", id, "err", err)
		}
	}
	return n, nil
}

// Report summarises one reconciliation pass.
type Report struct {
	Scanned  int `json:"scanned"`
	Missing  int `json:"missing"`
	Repaired int `json:"repaired"`
	Failed   int `json:"failed"`
}

// Reconcile walks the whole catalog and writes the vector row of every word
// that lacks one. A word that still fails is counted and skipped. The pass
// stops early only when ctx is done or the index cannot be queried.
func (c *Coordinator) Reconcile(ctx context.Context) (Report, error) {
	ctx, span := observe.StartSpan(ctx, "search.Reconcile")
	defer span.End()

	var rep Report
	defer func() {
		c.metrics.RecordReconcile(ctx, rep.Repaired, rep.Failed)
		span.SetAttributes(
			attribute.Int("reconcile.scanned", rep.Scanned),
			attribute.Int("reconcile.repaired", rep.Repaired),
			attribute.Int("reconcile.failed", rep.Failed),
		)
	}()

	var after int64
	for {
		words, err := c.catalog.List(ctx, after, c.batchSize)
		if err != nil {
			observe.FailSpan(span, err)
			return rep, fmt.Errorf("search: reconcile: list after %d: %w", after, err)
		}
		if len(words) == 0 {
			return rep, nil
		}
		after = words[len(words)-1].ID
		rep.Scanned += len(words)

		ids := make([]int64, len(words))
		for i, w := range words {
			ids[i] = w.ID
		}
		present, err := c.index.Has(ctx, ids)
		if err != nil {
			observe.FailSpan(span, err)
			return rep, fmt.Errorf("search: reconcile: check index: %w", err)
		}

		for _, w := range words {
			if present[w.ID] {
				continue
			}
			rep.Missing++
			if err := c.index.Append(ctx, w.ID, w.Text); err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return rep, fmt.Errorf("search: reconcile: %w", ctxErr)
				}
				rep.Failed++
				observe.Logger(ctx).Warn("reconcile: vector write failed", "word_id", w.ID, "err", err)
				continue
			}
			rep.Repaired++
		}
	}
}
