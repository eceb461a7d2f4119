package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// ConfigFileName is the expected YAML file inside the config directory.
const ConfigFileName = "forgeline.yaml"

// Initialize loads, merges, and validates configuration.
//
// Steps:
//  1. Start from built-in defaults
//  2. Read forgeline.yaml if present (missing file is not an error)
//  3. Expand ${VAR} environment references
//  4. Merge file values over defaults
//  5. Validate the result
func Initialize(configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)

	cfg := &Config{}
	path := filepath.Join(configDir, ConfigFileName)
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		expanded := expandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		log.Info("Loaded configuration file", "path", path)
	case os.IsNotExist(err):
		log.Info("No configuration file found, using defaults", "path", path)
	default:
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := mergo.Merge(cfg, Default()); err != nil {
		return nil, fmt.Errorf("failed to merge defaults: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// expandEnv replaces ${VAR} references with environment values.
// Unset variables expand to the empty string.
func expandEnv(s string) string {
	return os.Expand(s, func(key string) string {
		return os.Getenv(key)
	})
}

// validate checks cross-field constraints that YAML parsing cannot express.
func validate(cfg *Config) error {
	if cfg.Pool.BaseURL == "" {
		return fmt.Errorf("pool.base_url must not be empty")
	}
	if cfg.Pool.MaxConnections <= 0 {
		return fmt.Errorf("pool.max_connections must be positive, got %d", cfg.Pool.MaxConnections)
	}
	if cfg.LLM.Backoff.MaxAttempts <= 0 {
		return fmt.Errorf("llm.backoff.max_attempts must be positive, got %d", cfg.LLM.Backoff.MaxAttempts)
	}
	if cfg.Stream.ChunkSize <= 0 {
		return fmt.Errorf("stream.chunk_size must be positive, got %d", cfg.Stream.ChunkSize)
	}
	if cfg.Stream.DebounceMS < 0 {
		return fmt.Errorf("stream.debounce_ms must be non-negative, got %d", cfg.Stream.DebounceMS)
	}
	if cfg.Store.MaxSessions <= 0 {
		return fmt.Errorf("store.max_sessions must be positive, got %d", cfg.Store.MaxSessions)
	}
	if cfg.Store.EventTTL <= 0 {
		return fmt.Errorf("store.event_ttl must be positive, got %s", cfg.Store.EventTTL)
	}
	if t := cfg.Orchestrator.QualityThreshold; t < 0 || t > 1 {
		return fmt.Errorf("orchestrator.quality_threshold must be in [0,1], got %f", t)
	}
	if cfg.Orchestrator.MaxRetries < 0 {
		return fmt.Errorf("orchestrator.max_retries must be non-negative, got %d", cfg.Orchestrator.MaxRetries)
	}
	return nil
}
