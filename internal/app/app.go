// Package app wires all wordhoard subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP and runs background reconciliation, and
// Shutdown tears everything down in order.
//
// For testing, inject implementations via functional options (WithCatalog,
// WithVectorIndex, etc.). When an option is not provided, New creates real
// implementations from the config through a [config.Registry].
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/wordhoard/internal/config"
	"github.com/MrWong99/wordhoard/internal/health"
	"github.com/MrWong99/wordhoard/internal/observe"
	"github.com/MrWong99/wordhoard/internal/resilience"
	"github.com/MrWong99/wordhoard/internal/search"
	"github.com/MrWong99/wordhoard/internal/web"
	"github.com/MrWong99/wordhoard/pkg/catalog"
	"github.com/MrWong99/wordhoard/pkg/embedding"
	"github.com/MrWong99/wordhoard/pkg/provider/embeddings"
	"github.com/MrWong99/wordhoard/pkg/vectorindex"
)

// readHeaderTimeout bounds how long a client may take to send headers.
const readHeaderTimeout = 10 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg      *config.Config
	registry *config.Registry

	metrics  *observe.Metrics
	logLevel *slog.LevelVar
	meaning  embeddings.Provider
	spaces   *embedding.Registry
	catalog  catalog.Store
	index    vectorindex.Index
	watcher  *config.Watcher

	coord      *search.Coordinator
	reconciler *search.Reconciler
	handler    http.Handler
	server     *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithRegistry supplies the provider and driver factories used for every
// subsystem that is not injected.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithCatalog injects a word catalog instead of opening one from config.
// The caller keeps ownership; Shutdown does not close it.
func WithCatalog(s catalog.Store) Option {
	return func(a *App) { a.catalog = s }
}

// WithVectorIndex injects a vector index instead of opening one from config.
// The caller keeps ownership; Shutdown does not close it.
func WithVectorIndex(x vectorindex.Index) Option {
	return func(a *App) { a.index = x }
}

// WithMeaningProvider injects the model behind the meaning function instead
// of creating it from embeddings.meaning.
func WithMeaningProvider(p embeddings.Provider) Option {
	return func(a *App) { a.meaning = p }
}

// WithEmbeddingRegistry injects the embedding registry. The meaning provider
// is then not needed.
func WithEmbeddingRegistry(r *embedding.Registry) Option {
	return func(a *App) { a.spaces = r }
}

// WithMetrics records on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel lets config reloads change the level of the default logger.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = v }
}

// WithWatcher runs w during [App.Run]. Its callback should call
// [App.ApplyConfig].
func WithWatcher(w *config.Watcher) Option {
	return func(a *App) { a.watcher = w }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. A vector index whose
// schema does not match the embedding registry fails with a
// [*vectorindex.SchemaError] that callers can detect with errors.As.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initEmbeddings(); err != nil {
		return nil, fmt.Errorf("app: init embeddings: %w", err)
	}
	if err := a.initStores(ctx); err != nil {
		a.closeAll()
		return nil, err
	}

	settings := cfg.Search.Settings()
	if err := a.checkSpace(settings); err != nil {
		a.closeAll()
		return nil, err
	}
	a.coord = search.New(a.catalog, a.index,
		search.WithSettings(settings),
		search.WithMetrics(a.metrics),
		search.WithBatchSize(cfg.Reconcile.BatchSize),
	)
	a.reconciler = search.NewReconciler(a.coord, cfg.Reconcile.Interval)
	a.coord.SetNotifier(a.reconciler)

	a.initHTTP()

	slog.Info("app initialised",
		"catalog", cfg.Catalog.Driver,
		"vector_index", cfg.VectorIndex.Driver,
		"spaces", a.spaces.Names(),
		"default_mode", string(a.coord.Settings().DefaultMode),
		"semantic_space", a.coord.Settings().SemanticSpace,
	)
	return a, nil
}

// checkSpace fails when s names an embedding space the registry lacks.
func (a *App) checkSpace(s search.Settings) error {
	if s.SemanticSpace == "" {
		return nil
	}
	if _, ok := a.spaces.Lookup(s.SemanticSpace); !ok {
		return fmt.Errorf("app: search.semantic_space %q is not registered (have %v)", s.SemanticSpace, a.spaces.Names())
	}
	return nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initEmbeddings builds the embedding registry: the meaning function over the
// configured provider (with fallbacks and a circuit breaker) plus n-gram.
func (a *App) initEmbeddings() error {
	if a.spaces != nil {
		return nil
	}
	ec := a.cfg.Embeddings
	cbCfg := resilience.CircuitBreakerConfig{
		Name:         ec.Meaning.Name,
		MaxFailures:  ec.CircuitBreaker.MaxFailures,
		ResetTimeout: ec.CircuitBreaker.ResetTimeout,
	}

	provider := a.meaning
	if provider == nil {
		if a.registry == nil {
			return errors.New("no meaning provider injected and no registry to create one")
		}
		p, err := a.registry.CreateEmbeddings(ec.Meaning)
		if err != nil {
			return fmt.Errorf("create embeddings provider %q: %w", ec.Meaning.Name, err)
		}
		provider = p
	}

	meaningOpts := []embedding.MeaningOption{
		embedding.WithTimeout(ec.Timeout),
		embedding.WithDocumentPrefix(ec.Meaning.OptionString("document_prefix")),
		embedding.WithQueryPrefix(ec.Meaning.OptionString("query_prefix")),
		embedding.WithMetrics(a.metrics),
	}

	if len(ec.Fallbacks) > 0 {
		if a.registry == nil {
			return errors.New("embeddings.fallbacks need a registry")
		}
		// Each entry of the group gets its own breaker.
		fb := resilience.NewEmbeddingsFallback(provider, ec.Meaning.Name, resilience.FallbackConfig{CircuitBreaker: cbCfg})
		for i, entry := range ec.Fallbacks {
			p, err := a.registry.CreateEmbeddings(entry)
			if err != nil {
				return fmt.Errorf("create embeddings fallback %d %q: %w", i, entry.Name, err)
			}
			if err := fb.AddFallback(fmt.Sprintf("%s#%d", entry.Name, i), p); err != nil {
				return err
			}
		}
		provider = fb
	} else {
		meaningOpts = append(meaningOpts, embedding.WithCircuitBreaker(resilience.NewCircuitBreaker(cbCfg)))
	}

	meaning, err := embedding.NewMeaning(provider, meaningOpts...)
	if err != nil {
		return err
	}
	reg, err := embedding.DefaultRegistry(meaning)
	if err != nil {
		return err
	}
	a.spaces = reg
	return nil
}

// initStores opens the catalog and then the vector index, which verifies its
// schema against the embedding registry.
func (a *App) initStores(ctx context.Context) error {
	if a.catalog == nil {
		if a.registry == nil {
			return errors.New("app: no catalog injected and no registry to open one")
		}
		s, err := a.registry.CreateCatalog(ctx, a.cfg.Catalog)
		if err != nil {
			return fmt.Errorf("app: open catalog: %w", err)
		}
		a.catalog = s
		a.closers = append(a.closers, s.Close)
	}

	if a.index == nil {
		if a.registry == nil {
			return errors.New("app: no vector index injected and no registry to open one")
		}
		x, err := a.registry.CreateVectorIndex(ctx, a.cfg.VectorIndex, a.spaces)
		if err != nil {
			return fmt.Errorf("app: open vector index: %w", err)
		}
		// Closed before the catalog.
		a.closers = append([]func() error{x.Close}, a.closers...)
		a.index = x
	}
	return nil
}

// initHTTP assembles the routes: word endpoints, probes, and metrics, all
// behind the observability middleware.
func (a *App) initHTTP() {
	mux := http.NewServeMux()
	web.New(a.coord).Register(mux)
	health.New([]health.Checker{
		health.Ping("catalog", a.catalog),
		health.Ping("vector_index", a.index),
	}).Register(mux)
	mux.Handle("GET /metrics", observe.MetricsHandler(nil))

	a.handler = observe.Middleware(a.metrics)(mux)
	a.server = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Coordinator returns the search coordinator shared by every boundary.
func (a *App) Coordinator() *search.Coordinator { return a.coord }

// Reconciler returns the background index repairer.
func (a *App) Reconciler() *search.Reconciler { return a.reconciler }

// Handler returns the complete HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP on server.listen_addr and runs the reconciler and the
// config watcher until ctx is cancelled or the listener fails.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("app: listen %q: %w", a.server.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is [App.Run] on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("http server listening", "addr", ln.Addr().String())
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		return a.server.Shutdown(sctx)
	})
	g.Go(func() error { return a.RunBackground(gctx) })

	return g.Wait()
}

// RunBackground runs the reconciler and, if configured, the config watcher
// until ctx is cancelled. Boundaries without an HTTP server use it directly.
func (a *App) RunBackground(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.reconciler.Run(gctx) })
	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}
	return g.Wait()
}

// ApplyConfig applies the hot-reloadable parts of a config change: the log
// level and the search settings. Everything else is logged as needing a
// restart.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(d.NewLogLevel.Slog())
		slog.Info("log level changed", "level", string(d.NewLogLevel))
	}
	if d.SearchChanged {
		settings := d.NewSearch.Settings()
		if err := a.checkSpace(settings); err != nil {
			slog.Error("search settings not applied", "err", err)
		} else {
			a.coord.UpdateSettings(settings)
			slog.Info("search settings changed",
				"default_mode", d.NewSearch.DefaultMode,
				"semantic_k", d.NewSearch.SemanticK,
				"max_distance", d.NewSearch.MaxDistance,
				"semantic_space", d.NewSearch.SemanticSpace)
		}
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to take effect", "sections", d.RestartRequired)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown closes every store the App opened, vector index first. It respects
// the context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll releases whatever New opened before it failed.
func (a *App) closeAll() {
	for _, closer := range a.closers {
		_ = closer()
	}
	a.closers = nil
}
