package resilience

import (
	"context"
	"fmt"
	"strings"

	"github.com/MrWong99/wordhoard/pkg/provider/embeddings"
)

// EmbeddingsFallback implements [embeddings.Provider] with failover across
// several embedding backends. Every backend must produce vectors of the same
// width and in the same space; mixing models corrupts the index.
type EmbeddingsFallback struct {
	group *FallbackGroup[embeddings.Provider]
}

var _ embeddings.Provider = (*EmbeddingsFallback)(nil)

// NewEmbeddingsFallback creates an [EmbeddingsFallback] with primary as the
// preferred backend.
func NewEmbeddingsFallback(primary embeddings.Provider, primaryName string, cfg FallbackConfig) *EmbeddingsFallback {
	return &EmbeddingsFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another backend. Fallbacks must be replicas of the
// primary's model: it fails when the backend declares a different width or a
// different model identifier. Equal widths alone do not make two models share
// a vector space.
func (f *EmbeddingsFallback) AddFallback(name string, p embeddings.Provider) error {
	primary := f.group.Primary()
	want, got := primary.Dimensions(), p.Dimensions()
	if want != 0 && got != 0 && want != got {
		return fmt.Errorf("resilience: embeddings fallback %q produces %d dimensions, primary produces %d", name, got, want)
	}
	if !sameModel(primary.ModelID(), p.ModelID()) {
		return fmt.Errorf("resilience: embeddings fallback %q serves model %q, primary serves %q", name, p.ModelID(), primary.ModelID())
	}
	f.group.AddFallback(name, p)
	return nil
}

// Embed computes one vector on the first healthy backend.
func (f *EmbeddingsFallback) Embed(ctx context.Context, text string) ([]float32, error) {
	return ExecuteWithResult(ctx, f.group, func(p embeddings.Provider) ([]float32, error) {
		return p.Embed(ctx, text)
	})
}

// EmbedBatch computes a batch on the first healthy backend. A batch is never
// split across backends.
func (f *EmbeddingsFallback) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return ExecuteWithResult(ctx, f.group, func(p embeddings.Provider) ([][]float32, error) {
		return p.EmbedBatch(ctx, texts)
	})
}

// Dimensions returns the primary's width.
func (f *EmbeddingsFallback) Dimensions() int { return f.group.Primary().Dimensions() }

// ModelID returns the primary's model identifier.
func (f *EmbeddingsFallback) ModelID() string { return f.group.Primary().ModelID() }

// sameModel compares model identifiers. An untagged name and its ":latest"
// tag are the same model.
func sameModel(a, b string) bool {
	return strings.TrimSuffix(a, ":latest") == strings.TrimSuffix(b, ":latest")
}
