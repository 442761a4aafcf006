package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/MrWong99/wordhoard/internal/observe"
	"github.com/MrWong99/wordhoard/internal/resilience"
	"github.com/MrWong99/wordhoard/pkg/provider/embeddings"
)

const (
	// MeaningName is the registry name of the semantic embedding space.
	MeaningName = "meaning"

	// MeaningDimensions is the fixed width of meaning vectors.
	MeaningDimensions = 768

	// DefaultMeaningTimeout bounds every call to the external model.
	DefaultMeaningTimeout = 10 * time.Second
)

var _ Function = (*Meaning)(nil)

// Meaning is the semantic embedding function. It delegates to an external
// text-embedding model through an [embeddings.Provider] and always produces
// [MeaningDimensions]-wide vectors.
//
// Every provider call runs under a bounded timeout. Retrying is left to the
// caller; Meaning never retries on its own.
type Meaning struct {
	provider       embeddings.Provider
	timeout        time.Duration
	breaker        *resilience.CircuitBreaker
	documentPrefix string
	queryPrefix    string
	metrics        *observe.Metrics
}

// MeaningOption configures a [Meaning] function.
type MeaningOption func(*Meaning)

// WithTimeout bounds each provider call. Non-positive values keep the default.
func WithTimeout(d time.Duration) MeaningOption {
	return func(m *Meaning) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithCircuitBreaker routes provider calls through cb. While the breaker is
// open, computations fail fast with a transient [ComputeError].
func WithCircuitBreaker(cb *resilience.CircuitBreaker) MeaningOption {
	return func(m *Meaning) { m.breaker = cb }
}

// WithDocumentPrefix prepends p to every value embedded for storage
// (e.g. "search_document: " for nomic-embed-text).
func WithDocumentPrefix(p string) MeaningOption {
	return func(m *Meaning) { m.documentPrefix = p }
}

// WithQueryPrefix prepends p to every query value
// (e.g. "search_query: " for nomic-embed-text).
func WithQueryPrefix(p string) MeaningOption {
	return func(m *Meaning) { m.queryPrefix = p }
}

// WithMetrics records provider latency and errors on m instead of
// [observe.DefaultMetrics].
func WithMetrics(mt *observe.Metrics) MeaningOption {
	return func(m *Meaning) { m.metrics = mt }
}

// NewMeaning wraps provider as the meaning embedding function. It fails when
// the provider declares a width other than [MeaningDimensions]. Providers
// that report zero dimensions (unknown until the first call) are accepted and
// checked on every batch instead.
func NewMeaning(provider embeddings.Provider, opts ...MeaningOption) (*Meaning, error) {
	if provider == nil {
		return nil, fmt.Errorf("embedding: meaning: provider must not be nil")
	}
	if d := provider.Dimensions(); d != 0 && d != MeaningDimensions {
		return nil, fmt.Errorf("embedding: meaning: provider %q produces %d dimensions, want %d",
			provider.ModelID(), d, MeaningDimensions)
	}
	m := &Meaning{
		provider: provider,
		timeout:  DefaultMeaningTimeout,
	}
	for _, o := range opts {
		o(m)
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	return m, nil
}

// SourceType implements [Function].
func (m *Meaning) SourceType() SourceType { return SourceText }

// Dimensions implements [Function].
func (m *Meaning) Dimensions() int { return MeaningDimensions }

// ModelID returns the identifier of the underlying model.
func (m *Meaning) ModelID() string { return m.provider.ModelID() }

// ComputeSourceEmbeddings implements [Function].
func (m *Meaning) ComputeSourceEmbeddings(ctx context.Context, batch TextBatch) ([][]float32, error) {
	return m.compute(ctx, batch, m.documentPrefix, "source")
}

// ComputeQueryEmbeddings implements [Function].
func (m *Meaning) ComputeQueryEmbeddings(ctx context.Context, batch TextBatch) ([][]float32, error) {
	return m.compute(ctx, batch, m.queryPrefix, "query")
}

func (m *Meaning) compute(ctx context.Context, batch TextBatch, prefix, mode string) ([][]float32, error) {
	if err := validateBatch(MeaningName, batch); err != nil {
		return nil, err
	}
	if len(batch) == 0 {
		return [][]float32{}, nil
	}

	texts := make([]string, len(batch))
	for i, s := range batch {
		texts[i] = prefix + s
	}

	ctx, span := observe.StartSpan(ctx, "embedding.meaning."+mode)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	start := time.Now()
	var out [][]float32
	call := func() error {
		var err error
		out, err = m.provider.EmbedBatch(ctx, texts)
		return err
	}

	var err error
	if m.breaker != nil {
		err = m.breaker.Execute(call)
	} else {
		err = call()
	}
	m.metrics.RecordEmbedding(ctx, MeaningName, mode, time.Since(start))

	if err != nil {
		m.metrics.RecordProviderError(ctx, m.provider.ModelID(), "embeddings")
		m.metrics.RecordProviderRequest(ctx, m.provider.ModelID(), "embeddings", "error")
		observe.FailSpan(span, err)
		return nil, newComputeError(MeaningName, err)
	}
	m.metrics.RecordProviderRequest(ctx, m.provider.ModelID(), "embeddings", "ok")

	if err := checkBatch(MeaningName, len(batch), MeaningDimensions, out); err != nil {
		observe.FailSpan(span, err)
		return nil, err
	}
	return out, nil
}
