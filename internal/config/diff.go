package config

import "reflect"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; everything else
// needs a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	SearchChanged bool
	NewSearch     SearchConfig

	// RestartRequired lists changed sections that are not applied live.
	RestartRequired []string
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Search != new.Search {
		d.SearchChanged = true
		d.NewSearch = new.Search
	}

	if old.Server.ListenAddr != new.Server.ListenAddr || old.Server.ShutdownTimeout != new.Server.ShutdownTimeout {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Catalog != new.Catalog {
		d.RestartRequired = append(d.RestartRequired, "catalog")
	}
	if old.VectorIndex != new.VectorIndex {
		d.RestartRequired = append(d.RestartRequired, "vector_index")
	}
	if !embeddingsEqual(old.Embeddings, new.Embeddings) {
		d.RestartRequired = append(d.RestartRequired, "embeddings")
	}
	if old.Reconcile != new.Reconcile {
		d.RestartRequired = append(d.RestartRequired, "reconcile")
	}
	return d
}

// Changed reports whether anything at all differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.SearchChanged || len(d.RestartRequired) > 0
}

func embeddingsEqual(a, b EmbeddingsConfig) bool {
	if a.Timeout != b.Timeout || a.CircuitBreaker != b.CircuitBreaker {
		return false
	}
	if !providerEqual(a.Meaning, b.Meaning) || len(a.Fallbacks) != len(b.Fallbacks) {
		return false
	}
	for i := range a.Fallbacks {
		if !providerEqual(a.Fallbacks[i], b.Fallbacks[i]) {
			return false
		}
	}
	return true
}

func providerEqual(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	return reflect.DeepEqual(a.Options, b.Options)
}
