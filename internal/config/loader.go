package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/wordhoard/internal/search"
	"github.com/MrWong99/wordhoard/pkg/embedding"
)

// ValidProviderNames lists known provider names per kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"embeddings": {"ollama", "openai"},
}

// ValidDrivers lists the storage drivers accepted for the catalog and the
// vector index.
var ValidDrivers = []string{DriverPostgres, DriverSQLite}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. ${VAR} and $VAR references are replaced with
// environment values before decoding; unset variables become empty.
func LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout %s must not be negative", cfg.Server.ShutdownTimeout))
	}

	// Stores
	errs = append(errs, validateStore("catalog", cfg.Catalog.Driver, cfg.Catalog.DSN)...)
	errs = append(errs, validateStore("vector_index", cfg.VectorIndex.Driver, cfg.VectorIndex.DSN)...)
	if cfg.VectorIndex.Table != "" && !embedding.ValidIdentifier(cfg.VectorIndex.Table) {
		errs = append(errs, fmt.Errorf("vector_index.table %q is not a valid identifier", cfg.VectorIndex.Table))
	}
	if cfg.Catalog.Driver == DriverSQLite && cfg.VectorIndex.Driver == DriverSQLite &&
		cfg.Catalog.DSN == ":memory:" && cfg.VectorIndex.DSN == ":memory:" {
		slog.Warn("catalog and vector_index use separate in-memory databases; all data is lost on exit")
	}

	// Embeddings
	if cfg.Embeddings.Meaning.Name == "" {
		errs = append(errs, errors.New("embeddings.meaning.name is required"))
	}
	validateProviderName("embeddings", cfg.Embeddings.Meaning.Name)
	for i, fb := range cfg.Embeddings.Fallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("embeddings.fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName("embeddings", fb.Name)
	}
	if cfg.Embeddings.Timeout < 0 {
		errs = append(errs, fmt.Errorf("embeddings.timeout %s must not be negative", cfg.Embeddings.Timeout))
	}
	if cfg.Embeddings.CircuitBreaker.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("embeddings.circuit_breaker.max_failures %d must not be negative", cfg.Embeddings.CircuitBreaker.MaxFailures))
	}
	if cfg.Embeddings.CircuitBreaker.ResetTimeout < 0 {
		errs = append(errs, fmt.Errorf("embeddings.circuit_breaker.reset_timeout %s must not be negative", cfg.Embeddings.CircuitBreaker.ResetTimeout))
	}

	// Search
	errs = append(errs, validateSearch(cfg.Search)...)

	// Reconcile
	if cfg.Reconcile.Interval < 0 {
		errs = append(errs, fmt.Errorf("reconcile.interval %s must not be negative", cfg.Reconcile.Interval))
	}
	if cfg.Reconcile.BatchSize < 0 {
		errs = append(errs, fmt.Errorf("reconcile.batch_size %d must not be negative", cfg.Reconcile.BatchSize))
	}

	return errors.Join(errs...)
}

func validateStore(prefix, driver, dsn string) []error {
	var errs []error
	switch {
	case driver == "":
		errs = append(errs, fmt.Errorf("%s.driver is required", prefix))
	case !slices.Contains(ValidDrivers, driver):
		errs = append(errs, fmt.Errorf("%s.driver %q is invalid; valid values: postgres, sqlite", prefix, driver))
	}
	if dsn == "" {
		errs = append(errs, fmt.Errorf("%s.dsn is required", prefix))
	}
	return errs
}

func validateSearch(s SearchConfig) []error {
	var errs []error
	if s.DefaultMode != "" {
		if _, err := search.ParseMode(s.DefaultMode); err != nil {
			errs = append(errs, fmt.Errorf("search.default_mode %q is invalid; valid values: exact, semantic, fused", s.DefaultMode))
		}
	}
	if s.SemanticK < 0 {
		errs = append(errs, fmt.Errorf("search.semantic_k %d must not be negative", s.SemanticK))
	}
	// Cosine distance lies in [0, 2].
	if s.MaxDistance < 0 || s.MaxDistance > 2 {
		errs = append(errs, fmt.Errorf("search.max_distance %.3f is out of range [0, 2]", s.MaxDistance))
	}
	if s.SemanticSpace != "" && !embedding.ValidIdentifier(s.SemanticSpace) {
		errs = append(errs, fmt.Errorf("search.semantic_space %q is not a valid identifier", s.SemanticSpace))
	}
	return errs
}

// Settings converts the search section into coordinator settings. The
// section must already be validated.
func (s SearchConfig) Settings() search.Settings {
	mode, err := search.ParseMode(s.DefaultMode)
	if err != nil {
		mode = search.ModeFused
	}
	return search.Settings{
		DefaultMode:   mode,
		SemanticK:     s.SemanticK,
		MaxDistance:   s.MaxDistance,
		SemanticSpace: s.SemanticSpace,
	}
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
