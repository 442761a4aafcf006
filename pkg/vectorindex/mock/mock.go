// Package mock provides an in-memory [vectorindex.Index] for tests.
//
// Vectors are computed through the registry exactly as the real backends do,
// and Nearest ranks rows by exact cosine distance.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/wordhoard/internal/sqlitefn"
	"github.com/MrWong99/wordhoard/pkg/embedding"
	"github.com/MrWong99/wordhoard/pkg/vectorindex"
)

type row struct {
	text    string
	vectors map[string][]float32
}

// Index is an in-memory [vectorindex.Index]. Per-operation error fields make
// the next matching call fail without touching state.
type Index struct {
	mu   sync.Mutex
	reg  *embedding.Registry
	rows map[int64]row

	AppendErr  error
	NearestErr error
	HasErr     error
	RemoveErr  error
	PingErr    error

	// Calls counts invocations per method name.
	Calls map[string]int
}

var _ vectorindex.Index = (*Index)(nil)

// New returns an empty index computing vectors with reg.
func New(reg *embedding.Registry) *Index {
	return &Index{reg: reg, rows: make(map[int64]row), Calls: make(map[string]int)}
}

func (x *Index) count(op string) {
	x.mu.Lock()
	x.Calls[op]++
	x.mu.Unlock()
}

// CallCount returns how often op was called.
func (x *Index) CallCount(op string) int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.Calls[op]
}

// Len returns the number of stored rows.
func (x *Index) Len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.rows)
}

// Append implements [vectorindex.Index].
func (x *Index) Append(ctx context.Context, wordID int64, text string) error {
	x.count("Append")
	if x.AppendErr != nil {
		return x.AppendErr
	}
	cols, err := vectorindex.Embed(ctx, x.reg, text)
	if err != nil {
		return err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if _, ok := x.rows[wordID]; ok {
		return nil
	}
	r := row{text: text, vectors: make(map[string][]float32, len(cols))}
	for _, c := range cols {
		r.vectors[c.Registration.Name] = c.Vector
	}
	x.rows[wordID] = r
	return nil
}

// Nearest implements [vectorindex.Index].
func (x *Index) Nearest(ctx context.Context, space, query string, k int) ([]vectorindex.Match, error) {
	x.count("Nearest")
	if x.NearestErr != nil {
		return nil, x.NearestErr
	}
	if k <= 0 {
		return []vectorindex.Match{}, nil
	}
	_, vec, err := vectorindex.QueryVector(ctx, x.reg, space, query)
	if err != nil {
		return nil, err
	}

	x.mu.Lock()
	matches := make([]vectorindex.Match, 0, len(x.rows))
	for id, r := range x.rows {
		d, err := sqlitefn.Cosine(r.vectors[space], vec)
		if err != nil {
			x.mu.Unlock()
			return nil, err
		}
		matches = append(matches, vectorindex.Match{WordID: id, Text: r.text, Distance: d})
	}
	x.mu.Unlock()

	vectorindex.SortMatches(matches)
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// Has implements [vectorindex.Index].
func (x *Index) Has(_ context.Context, ids []int64) (map[int64]bool, error) {
	x.count("Has")
	if x.HasErr != nil {
		return nil, x.HasErr
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	out := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if _, ok := x.rows[id]; ok {
			out[id] = true
		}
	}
	return out, nil
}

// Remove implements [vectorindex.Index].
func (x *Index) Remove(_ context.Context, wordID int64) error {
	x.count("Remove")
	if x.RemoveErr != nil {
		return x.RemoveErr
	}
	x.mu.Lock()
	delete(x.rows, wordID)
	x.mu.Unlock()
	return nil
}

// Ping implements [vectorindex.Index].
func (x *Index) Ping(context.Context) error {
	x.count("Ping")
	return x.PingErr
}

// Close implements [vectorindex.Index].
func (x *Index) Close() error { return nil }
