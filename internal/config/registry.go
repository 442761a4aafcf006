package config

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/wordhoard/pkg/catalog"
	"github.com/MrWong99/wordhoard/pkg/embedding"
	"github.com/MrWong99/wordhoard/pkg/provider/embeddings"
	"github.com/MrWong99/wordhoard/pkg/vectorindex"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// CatalogFactory opens a word catalog.
type CatalogFactory func(ctx context.Context, cfg StoreConfig) (catalog.Store, error)

// VectorIndexFactory opens a vector index bound to reg.
type VectorIndexFactory func(ctx context.Context, cfg VectorIndexConfig, reg *embedding.Registry) (vectorindex.Index, error)

// Registry maps provider and driver names to their constructor functions.
// It is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	embeddings  map[string]func(ProviderEntry) (embeddings.Provider, error)
	catalogs    map[string]CatalogFactory
	vectorIndex map[string]VectorIndexFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		embeddings:  make(map[string]func(ProviderEntry) (embeddings.Provider, error)),
		catalogs:    make(map[string]CatalogFactory),
		vectorIndex: make(map[string]VectorIndexFactory),
	}
}

// RegisterEmbeddings registers an embeddings provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterEmbeddings(name string, factory func(ProviderEntry) (embeddings.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embeddings[name] = factory
}

// RegisterCatalog registers a catalog driver.
func (r *Registry) RegisterCatalog(driver string, factory CatalogFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.catalogs[driver] = factory
}

// RegisterVectorIndex registers a vector index driver.
func (r *Registry) RegisterVectorIndex(driver string, factory VectorIndexFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vectorIndex[driver] = factory
}

// CreateEmbeddings instantiates an embeddings provider using the factory
// registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateEmbeddings(entry ProviderEntry) (embeddings.Provider, error) {
	r.mu.RLock()
	factory, ok := r.embeddings[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: embeddings/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateCatalog opens the catalog selected by cfg.Driver.
func (r *Registry) CreateCatalog(ctx context.Context, cfg StoreConfig) (catalog.Store, error) {
	r.mu.RLock()
	factory, ok := r.catalogs[cfg.Driver]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: catalog/%q", ErrProviderNotRegistered, cfg.Driver)
	}
	return factory(ctx, cfg)
}

// CreateVectorIndex opens the vector index selected by cfg.Driver.
func (r *Registry) CreateVectorIndex(ctx context.Context, cfg VectorIndexConfig, reg *embedding.Registry) (vectorindex.Index, error) {
	r.mu.RLock()
	factory, ok := r.vectorIndex[cfg.Driver]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: vector_index/%q", ErrProviderNotRegistered, cfg.Driver)
	}
	return factory(ctx, cfg, reg)
}
