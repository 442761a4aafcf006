// Package vectorindex defines the vector index: one row per word holding the
// word text and one vector column per registered embedding function, plus
// nearest-neighbour search over any of those columns.
//
// Vectors are always computed from the [embedding.Registry]; callers pass
// text and never vectors. Each index persists a schema marker describing
// which function produced each column, and refuses to open when the marker
// and the registry disagree.
package vectorindex

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/wordhoard/pkg/embedding"
)

// Metric is the distance used by every index: cosine distance, 1 - cos(a, b),
// in [0, 2]. Smaller is closer.
const Metric = "cosine"

// DefaultTable is the vector table name used when none is configured.
const DefaultTable = "word_vectors"

// ErrUnknownSpace is returned by [Index.Nearest] for a space with no
// registration.
var ErrUnknownSpace = errors.New("vectorindex: unknown embedding space")

// Match is one nearest-neighbour hit.
type Match struct {
	WordID   int64   `json:"word_id"`
	Text     string  `json:"word"`
	Distance float64 `json:"distance"`
}

// Index is the vector index. Implementations must be safe for concurrent use.
type Index interface {
	// Append computes every registered vector column for text and stores the
	// row under wordID. Either every column is written or none is. Appending
	// an id that is already present is a no-op.
	Append(ctx context.Context, wordID int64, text string) error

	// Nearest returns at most k rows closest to query in the named space,
	// ordered by increasing distance with ties broken by word id. k <= 0
	// returns an empty slice.
	Nearest(ctx context.Context, space, query string, k int) ([]Match, error)

	// Has reports which of ids have a row.
	Has(ctx context.Context, ids []int64) (map[int64]bool, error)

	// Remove deletes the row for wordID. Removing a missing row is not an
	// error.
	Remove(ctx context.Context, wordID int64) error

	// Ping verifies the backing database is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources.
	Close() error
}

// Column is one computed vector column of a row.
type Column struct {
	Registration embedding.Registration
	Vector       []float32
}

// Embed computes every registered column for text concurrently. It returns
// the first failure, typically an [*embedding.ComputeError], and no columns.
// The result is in registration order.
func Embed(ctx context.Context, reg *embedding.Registry, text string) ([]Column, error) {
	regs := reg.Registrations()
	cols := make([]Column, len(regs))

	g, gctx := errgroup.WithContext(ctx)
	for i, r := range regs {
		g.Go(func() error {
			out, err := r.Function.ComputeSourceEmbeddings(gctx, embedding.TextBatch{text})
			if err != nil {
				return err
			}
			if err := embedding.CheckVectors(r.Name, 1, r.Dimensions(), out); err != nil {
				return err
			}
			cols[i] = Column{Registration: r, Vector: out[0]}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return cols, nil
}

// QueryVector computes the query vector for query in space.
func QueryVector(ctx context.Context, reg *embedding.Registry, space, query string) (embedding.Registration, []float32, error) {
	r, ok := reg.Lookup(space)
	if !ok {
		return embedding.Registration{}, nil, fmt.Errorf("%w: %q", ErrUnknownSpace, space)
	}
	out, err := r.Function.ComputeQueryEmbeddings(ctx, embedding.TextBatch{query})
	if err != nil {
		return r, nil, err
	}
	if err := embedding.CheckVectors(r.Name, 1, r.Dimensions(), out); err != nil {
		return r, nil, err
	}
	return r, out[0], nil
}

// SourceColumns returns the distinct source columns of reg in registration
// order.
func SourceColumns(reg *embedding.Registry) []string {
	var out []string
	for _, r := range reg.Registrations() {
		if !slices.Contains(out, r.Columns.Source) {
			out = append(out, r.Columns.Source)
		}
	}
	return out
}

// SortMatches orders matches by distance, then word id.
func SortMatches(matches []Match) {
	slices.SortStableFunc(matches, func(a, b Match) int {
		if c := cmp.Compare(a.Distance, b.Distance); c != 0 {
			return c
		}
		return cmp.Compare(a.WordID, b.WordID)
	})
}

// CheckIdentifiers rejects a table name that cannot be interpolated into SQL
// safely.
func CheckIdentifiers(table string) error {
	if !embedding.ValidIdentifier(table) {
		return fmt.Errorf("vectorindex: invalid table name %q", table)
	}
	return nil
}
