package main

import (
	"context"
	"log/slog"
	"sync"

	"github.com/MrWong99/wordhoard/internal/config"
	"github.com/MrWong99/wordhoard/internal/observe"
	"github.com/MrWong99/wordhoard/pkg/catalog"
	catpostgres "github.com/MrWong99/wordhoard/pkg/catalog/postgres"
	catsqlite "github.com/MrWong99/wordhoard/pkg/catalog/sqlite"
	"github.com/MrWong99/wordhoard/pkg/embedding"
	"github.com/MrWong99/wordhoard/pkg/provider/embeddings"
	ollamaembed "github.com/MrWong99/wordhoard/pkg/provider/embeddings/ollama"
	oaembed "github.com/MrWong99/wordhoard/pkg/provider/embeddings/openai"
	"github.com/MrWong99/wordhoard/pkg/vectorindex"
	vipostgres "github.com/MrWong99/wordhoard/pkg/vectorindex/postgres"
	visqlite "github.com/MrWong99/wordhoard/pkg/vectorindex/sqlite"
)

// builtinProviders maps registry kinds to the implementations that ship with
// wordhoard. Used for startup logging.
var builtinProviders = map[string][]string{
	"embeddings":   {"ollama", "openai"},
	"catalog":      {config.DriverPostgres, config.DriverSQLite},
	"vector_index": {config.DriverPostgres, config.DriverSQLite},
}

// sqliteCatalogs remembers SQLite catalogs by DSN so a vector index on the
// same file shares its connection pool. For ":memory:" that is the only way
// both stores see one database.
type sqliteCatalogs struct {
	mu     sync.Mutex
	byPath map[string]*catsqlite.Store
}

func (c *sqliteCatalogs) put(path string, s *catsqlite.Store) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byPath[path] = s
}

func (c *sqliteCatalogs) get(path string) (*catsqlite.Store, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.byPath[path]
	return s, ok
}

// registerBuiltins wires all built-in factories into reg. Stores record on
// [observe.DefaultMetrics], so telemetry must be initialised first.
func registerBuiltins(reg *config.Registry) {
	// ── Embeddings ────────────────────────────────────────────────────────────

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		if org := entry.OptionString("organization"); org != "" {
			opts = append(opts, oaembed.WithOrganization(org))
		}
		if dims := entry.OptionInt("dimensions"); dims > 0 {
			opts = append(opts, oaembed.WithDimensions(dims))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []ollamaembed.Option
		if dims := entry.OptionInt("dimensions"); dims > 0 {
			opts = append(opts, ollamaembed.WithDimensions(dims))
		}
		if ka := entry.OptionString("keep_alive"); ka != "" {
			opts = append(opts, ollamaembed.WithKeepAlive(ka))
		}
		return ollamaembed.New(entry.BaseURL, entry.Model, opts...)
	})

	// ── Catalog ───────────────────────────────────────────────────────────────

	shared := &sqliteCatalogs{byPath: make(map[string]*catsqlite.Store)}

	reg.RegisterCatalog(config.DriverPostgres, func(ctx context.Context, cfg config.StoreConfig) (catalog.Store, error) {
		return catpostgres.Open(ctx, cfg.DSN, catpostgres.WithMetrics(observe.DefaultMetrics()))
	})

	reg.RegisterCatalog(config.DriverSQLite, func(ctx context.Context, cfg config.StoreConfig) (catalog.Store, error) {
		s, err := catsqlite.Open(ctx, cfg.DSN, catsqlite.WithMetrics(observe.DefaultMetrics()))
		if err != nil {
			return nil, err
		}
		shared.put(cfg.DSN, s)
		return s, nil
	})

	// ── Vector index ──────────────────────────────────────────────────────────

	reg.RegisterVectorIndex(config.DriverPostgres, func(ctx context.Context, cfg config.VectorIndexConfig, spaces *embedding.Registry) (vectorindex.Index, error) {
		return vipostgres.Open(ctx, cfg.DSN, spaces,
			vipostgres.WithTable(cfg.Table),
			vipostgres.WithMetrics(observe.DefaultMetrics()))
	})

	reg.RegisterVectorIndex(config.DriverSQLite, func(ctx context.Context, cfg config.VectorIndexConfig, spaces *embedding.Registry) (vectorindex.Index, error) {
		opts := []visqlite.Option{
			visqlite.WithTable(cfg.Table),
			visqlite.WithMetrics(observe.DefaultMetrics()),
		}
		if cat, ok := shared.get(cfg.DSN); ok {
			slog.Debug("vector index shares the catalog database", "dsn", cfg.DSN)
			return visqlite.New(ctx, cat.DB(), spaces, opts...)
		}
		return visqlite.Open(ctx, cfg.DSN, spaces, opts...)
	})

	for kind, names := range builtinProviders {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}
