// Package embedding defines the embedding-function contract used to derive
// vector columns from word text, the two built-in functions (meaning and
// ngram), and the immutable [Registry] that binds them to vector columns.
//
// A [Function] maps a batch of source values to a batch of fixed-width
// float32 vectors. The i-th output always corresponds to the i-th input, and
// every output has exactly [Function.Dimensions] elements. Implementations
// must be safe for concurrent use.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"unicode/utf8"
)

// SourceType names the kind of value an embedding function consumes.
type SourceType string

// SourceText is UTF-8 text. It is the only source type currently supported.
const SourceText SourceType = "text"

// TextBatch is a batch of UTF-8 strings submitted to a [Function].
type TextBatch []string

// Function is the embedding-function capability.
//
// ComputeSourceEmbeddings is used when rows are indexed and
// ComputeQueryEmbeddings when a nearest-neighbour query is issued. Both must
// produce vectors in the same space; they may differ internally (for example
// in task prefixes sent to a remote model).
type Function interface {
	// SourceType declares the type of value the function consumes.
	SourceType() SourceType

	// Dimensions is the fixed width of every vector the function produces.
	Dimensions() int

	// ComputeSourceEmbeddings embeds values that will be stored.
	ComputeSourceEmbeddings(ctx context.Context, batch TextBatch) ([][]float32, error)

	// ComputeQueryEmbeddings embeds query values.
	ComputeQueryEmbeddings(ctx context.Context, batch TextBatch) ([][]float32, error)
}

// validateBatch rejects batches whose elements are not valid UTF-8 text.
func validateBatch(fn string, batch TextBatch) error {
	for i, s := range batch {
		if !utf8.ValidString(s) {
			return fmt.Errorf("embedding: %s: element %d: %w", fn, i, ErrUnsupportedInputType)
		}
	}
	return nil
}

// checkBatch verifies that out honours the batch contract for an input of n
// values: exactly n vectors, each of width dims. A violation is logged at
// error level and reported as [ErrContractViolation].
func checkBatch(fn string, n, dims int, out [][]float32) error {
	if len(out) != n {
		slog.Error("embedding batch size mismatch", "function", fn, "want", n, "got", len(out))
		return fmt.Errorf("embedding: %s: expected %d vectors, got %d: %w", fn, n, len(out), ErrContractViolation)
	}
	for i, v := range out {
		if len(v) != dims {
			slog.Error("embedding width mismatch", "function", fn, "index", i, "want", dims, "got", len(v))
			return fmt.Errorf("embedding: %s: vector %d has width %d, want %d: %w", fn, i, len(v), dims, ErrContractViolation)
		}
	}
	return nil
}

// CheckVectors is the exported form of the batch contract check, for callers
// that receive vectors from a [Function] they did not construct.
func CheckVectors(fn string, n, dims int, out [][]float32) error {
	return checkBatch(fn, n, dims, out)
}

// IsContractViolation reports whether err stems from a batch contract breach.
func IsContractViolation(err error) bool {
	return errors.Is(err, ErrContractViolation)
}
