// Package mock provides a test double for the embeddings.Provider interface.
//
// Provider returns canned vectors (or computes them with EmbedFunc) and
// records every call so tests can assert which texts were sent.
//
//	p := &mock.Provider{
//	    DimensionsValue: 768,
//	    ModelIDValue:    "test-embed",
//	    EmbedFunc:       func(text string) []float32 { return vecFor(text) },
//	}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/wordhoard/pkg/provider/embeddings"
)

// EmbedBatchCall records a single invocation of EmbedBatch (or Embed, which
// is recorded as a batch of one).
type EmbedBatchCall struct {
	Ctx   context.Context
	Texts []string
}

// Provider is a mock implementation of embeddings.Provider.
type Provider struct {
	mu sync.Mutex

	// EmbedFunc computes the vector for one text. When nil, EmbedResult is
	// returned for every text.
	EmbedFunc func(text string) []float32

	// EmbedResult is returned for every text when EmbedFunc is nil.
	EmbedResult []float32

	// EmbedBatchResult, when non-nil, is returned verbatim by EmbedBatch,
	// bypassing EmbedFunc. Useful to provoke contract violations.
	EmbedBatchResult [][]float32

	// Err, if non-nil, is returned by Embed and EmbedBatch.
	Err error

	// Block, if non-nil, makes every call wait until it is closed or the
	// context is done.
	Block chan struct{}

	DimensionsValue int
	ModelIDValue    string

	// Calls records every call in order.
	Calls []EmbedBatchCall
}

var _ embeddings.Provider = (*Provider)(nil)

// Embed records the call and returns the vector for text.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch records the call and returns one vector per text.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	cp := make([]string, len(texts))
	copy(cp, texts)
	p.Calls = append(p.Calls, EmbedBatchCall{Ctx: ctx, Texts: cp})
	block, err, batch, fn, fixed := p.Block, p.Err, p.EmbedBatchResult, p.EmbedFunc, p.EmbedResult
	p.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if batch != nil {
		return batch, nil
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if fn != nil {
			out[i] = fn(t)
		} else {
			out[i] = fixed
		}
	}
	return out, nil
}

// Dimensions returns DimensionsValue.
func (p *Provider) Dimensions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.DimensionsValue
}

// ModelID returns ModelIDValue.
func (p *Provider) ModelID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ModelIDValue
}

// SetErr replaces Err under the lock, for tests that flip failures on and off
// while other goroutines call the provider.
func (p *Provider) SetErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Err = err
}

// CallCount returns the number of recorded calls.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Reset clears all recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}
