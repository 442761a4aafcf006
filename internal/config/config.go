// Package config provides the configuration schema, loader, and driver
// registry for wordhoard.
package config

import (
	"log/slog"
	"time"

	"github.com/MrWong99/wordhoard/internal/search"
	"github.com/MrWong99/wordhoard/pkg/embedding"
	"github.com/MrWong99/wordhoard/pkg/vectorindex"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Slog converts l to a [slog.Level]. Unknown levels map to info.
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Storage driver names.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Catalog     StoreConfig       `yaml:"catalog"`
	VectorIndex VectorIndexConfig `yaml:"vector_index"`
	Embeddings  EmbeddingsConfig  `yaml:"embeddings"`
	Search      SearchConfig      `yaml:"search"`
	Reconcile   ReconcileConfig   `yaml:"reconcile"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`

	// ShutdownTimeout bounds graceful shutdown. Default: 10s.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StoreConfig selects the word catalog backend.
type StoreConfig struct {
	// Driver is "postgres" or "sqlite".
	Driver string `yaml:"driver"`

	// DSN is a PostgreSQL connection string or a SQLite file path.
	// ":memory:" gives a throwaway SQLite database.
	DSN string `yaml:"dsn"`
}

// VectorIndexConfig selects the vector index backend.
type VectorIndexConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`

	// Table names the vector table. Its schema marker table is Table+"_schema".
	// Default: "word_vectors".
	Table string `yaml:"table"`
}

// EmbeddingsConfig configures the meaning embedding function. The n-gram
// function is computed in process and needs no configuration.
type EmbeddingsConfig struct {
	// Meaning is the primary model provider.
	Meaning ProviderEntry `yaml:"meaning"`

	// Fallbacks are tried in order when the primary fails. Every fallback must
	// serve the primary's model, typically from another host.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`

	// Timeout bounds each call to the model. Default: 10s.
	Timeout time.Duration `yaml:"timeout"`

	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig tunes the breaker guarding each meaning provider.
// Zero values fall back to the breaker defaults.
type CircuitBreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// ProviderEntry is the configuration block of an embedding model provider.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation ("ollama", "openai").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Options holds provider-specific values such as "dimensions",
	// "document_prefix" and "query_prefix".
	Options map[string]any `yaml:"options"`
}

// OptionString returns Options[key] if it is a string, else "".
func (e ProviderEntry) OptionString(key string) string {
	s, _ := e.Options[key].(string)
	return s
}

// OptionInt returns Options[key] as an int. YAML integers decode as int;
// floats with no fraction are accepted too. Anything else yields 0.
func (e ProviderEntry) OptionInt(key string) int {
	switch v := e.Options[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		if v == float64(int(v)) {
			return int(v)
		}
	}
	return 0
}

// SearchConfig holds hot-reloadable search settings.
type SearchConfig struct {
	// DefaultMode is used when a request names no mode. Default: "fused".
	DefaultMode string `yaml:"default_mode"`

	// SemanticK is the number of neighbours fetched per semantic query.
	// Default: 10.
	SemanticK int `yaml:"semantic_k"`

	// MaxDistance drops semantic hits farther than this cosine distance.
	// 0 disables the cut-off.
	MaxDistance float64 `yaml:"max_distance"`

	// SemanticSpace is the embedding space semantic and fused searches query:
	// "meaning" or "ngram". Default: "meaning".
	SemanticSpace string `yaml:"semantic_space"`
}

// ReconcileConfig controls background repair of missing vector rows.
type ReconcileConfig struct {
	// Interval between periodic passes. 0 disables periodic passes; passes
	// triggered by failed writes still run.
	Interval time.Duration `yaml:"interval"`

	// BatchSize is the catalog page size. Default: 100.
	BatchSize int `yaml:"batch_size"`
}

// ApplyDefaults fills unset fields with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.VectorIndex.Table == "" {
		c.VectorIndex.Table = vectorindex.DefaultTable
	}
	if c.Embeddings.Timeout <= 0 {
		c.Embeddings.Timeout = embedding.DefaultMeaningTimeout
	}
	if c.Search.DefaultMode == "" {
		c.Search.DefaultMode = string(search.ModeFused)
	}
	if c.Search.SemanticK <= 0 {
		c.Search.SemanticK = search.DefaultSemanticK
	}
	if c.Reconcile.BatchSize <= 0 {
		c.Reconcile.BatchSize = search.DefaultBatchSize
	}
}
