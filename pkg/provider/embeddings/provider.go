// Package embeddings defines the Provider interface for remote text-embedding
// models.
//
// A provider is the outbound transport behind the meaning embedding space:
// a batch of strings goes in, a batch of dense float32 vectors comes out, and
// the i-th output corresponds to the i-th input. The embedding package wraps a
// Provider with timeouts, circuit breaking, and width checks; providers
// themselves stay thin.
//
// Implementations must be safe for concurrent use.
package embeddings

import (
	"context"
	"net/http"
)

// Provider is the abstraction over any text-embedding backend.
//
// All vectors returned by a single Provider share the same width, reported by
// Dimensions. Vectors from different providers or models must never be mixed
// in one vector column.
type Provider interface {
	// Embed computes the embedding vector for a single text string.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch computes embedding vectors for texts in one provider call.
	// The returned slice has the same length and order as texts. On error
	// the whole result is nil; partial results are never returned.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed vector width, or 0 when the width is not
	// known without contacting the backend.
	Dimensions() int

	// ModelID returns the provider-specific model identifier
	// (e.g. "nomic-embed-text", "text-embedding-3-small").
	ModelID() string
}

// RetryableStatus reports whether an HTTP status from an embedding backend
// may succeed on a later attempt: request timeouts, rate limits and server
// errors.
func RetryableStatus(code int) bool {
	return code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500
}
