// Package config loads and validates forgeline configuration.
//
// Configuration comes from three layers, lowest priority first:
//  1. Built-in defaults (defaults.go)
//  2. forgeline.yaml in the config directory
//  3. Environment variable expansion inside the YAML (${VAR})
package config

import "time"

// Config is the root configuration object passed down to all components.
// There are no process-wide singletons; main constructs one Config and
// threads it through explicit constructors.
type Config struct {
	Server       *ServerConfig       `yaml:"server"`
	Pool         *PoolConfig         `yaml:"pool"`
	LLM          *LLMConfig          `yaml:"llm"`
	Router       *RouterConfig       `yaml:"router"`
	Stream       *StreamConfig       `yaml:"stream"`
	Store        *StoreConfig        `yaml:"store"`
	Orchestrator *OrchestratorConfig `yaml:"orchestrator"`
	Metrics      *MetricsConfig      `yaml:"metrics"`
	Lifecycle    *LifecycleConfig    `yaml:"lifecycle"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// AllowedOrigins is the CORS allow-list. Empty means same-origin only.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// PoolConfig configures the pooled HTTP client against the local model server.
type PoolConfig struct {
	// BaseURL of the local model server, e.g. "http://localhost:11434".
	BaseURL string `yaml:"base_url"`

	// MaxConnections caps in-flight requests regardless of caller concurrency.
	MaxConnections int `yaml:"max_connections"`

	// MaxKeepAlive is the number of idle keep-alive connections retained.
	// Zero means half of MaxConnections.
	MaxKeepAlive int `yaml:"max_keep_alive"`

	// RequestTimeout is the overall per-request budget.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// EnableHTTP2 opts into HTTP/2 for the transport.
	EnableHTTP2 bool `yaml:"enable_http2"`
}

// LLMConfig configures generation defaults and the retry policy.
type LLMConfig struct {
	DefaultTemperature float64 `yaml:"default_temperature"`
	DefaultTopP        float64 `yaml:"default_top_p"`
	DefaultNumPredict  int     `yaml:"default_num_predict"`

	// AttemptTimeout bounds a single generate attempt.
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`

	Backoff *BackoffConfig `yaml:"backoff"`
}

// BackoffConfig is the single retry policy shared by all LLM retry sites.
type BackoffConfig struct {
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	MaxAttempts int           `yaml:"max_attempts"`
	Jitter      bool          `yaml:"jitter"`
}

// RouterConfig configures model selection and the hardware budget.
type RouterConfig struct {
	// MaxVRAMBytes is the hardware budget. Models whose estimated VRAM
	// exceeds it are filtered out. Zero disables the budget.
	MaxVRAMBytes int64 `yaml:"max_vram_bytes"`

	// AllowHeavy / AllowUltra gate the two largest model tiers. Pointers so
	// an explicit false in YAML survives the merge with defaults.
	AllowHeavy *bool `yaml:"allow_heavy"`
	AllowUltra *bool `yaml:"allow_ultra"`

	// DisableReasoning turns off reasoning-first selection for complex tasks.
	DisableReasoning bool `yaml:"disable_reasoning"`

	// ReasoningModels / CoderModels are name substrings used to classify
	// models. The set is data, not code; operators extend it per deployment.
	ReasoningModels []string `yaml:"reasoning_models"`
	CoderModels     []string `yaml:"coder_models"`

	// EmbeddingModels are name substrings identifying embedding-only models,
	// which are excluded from the registry.
	EmbeddingModels []string `yaml:"embedding_models"`

	// MinQualityIntent is the quality floor for intent/planning stages.
	MinQualityIntent float64 `yaml:"min_quality_intent"`
}

// AllowsHeavy reports whether heavy-tier models are selectable (default true).
func (c *RouterConfig) AllowsHeavy() bool {
	return c.AllowHeavy == nil || *c.AllowHeavy
}

// AllowsUltra reports whether ultra-tier models are selectable (default false).
func (c *RouterConfig) AllowsUltra() bool {
	return c.AllowUltra != nil && *c.AllowUltra
}

// StreamConfig configures the reasoning-stream manager.
type StreamConfig struct {
	// Enabled toggles thinking-channel emission entirely.
	Enabled *bool `yaml:"enabled"`

	// ChunkSize is the re-slicing width for long thinking blocks.
	ChunkSize int `yaml:"chunk_size"`

	// DebounceMS paces re-sliced thinking chunks. It does not delay fresh
	// chunks arriving from the LLM.
	DebounceMS int `yaml:"debounce_ms"`

	// MaxThinkingTimeMS force-closes a thinking block that runs too long.
	// Zero means no budget.
	MaxThinkingTimeMS int `yaml:"max_thinking_time_ms"`

	// ShowSummaryOnly suppresses thinking_in_progress and emits a single
	// thinking_completed carrying a short summary.
	ShowSummaryOnly bool `yaml:"show_summary_only"`
}

// IsEnabled reports whether thinking emission is on (default true).
func (c *StreamConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// StoreConfig configures the in-memory event store.
type StoreConfig struct {
	MaxSessions     int           `yaml:"max_sessions"`
	EventTTL        time.Duration `yaml:"event_ttl"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`

	// QueueBuffer is the live-channel capacity per session. The channel is
	// logically unbounded; a full buffer drops with a warning (the log is
	// the source of truth).
	QueueBuffer int `yaml:"queue_buffer"`
}

// OrchestratorConfig configures the pipeline driver.
type OrchestratorConfig struct {
	// QualityThreshold is the minimum composite score at reflection; below
	// it the pipeline re-enters from the coding stage.
	QualityThreshold float64 `yaml:"quality_threshold"`

	// MaxRetries caps quality-driven re-entries.
	MaxRetries int `yaml:"max_retries"`

	// DefaultMaxIterations applies when a task does not specify one.
	DefaultMaxIterations int `yaml:"default_max_iterations"`

	// StageTimeout bounds a single stage end to end.
	StageTimeout time.Duration `yaml:"stage_timeout"`
}

// MetricsConfig configures stage metrics and benchmark persistence.
type MetricsConfig struct {
	// OutputDir is where stage_metrics.json and benchmark.json are written.
	OutputDir string `yaml:"output_dir"`

	// WindowSize is the rolling window of stage durations kept per stage.
	WindowSize int `yaml:"window_size"`

	// PersistEvery flushes stage metrics to disk every Nth sample.
	PersistEvery int `yaml:"persist_every"`

	// BenchmarkOnStartup runs a calibration generate at boot.
	BenchmarkOnStartup bool `yaml:"benchmark_on_startup"`
}

// LifecycleConfig configures graceful shutdown.
type LifecycleConfig struct {
	// DrainTimeout is how long shutdown waits for in-flight requests.
	DrainTimeout time.Duration `yaml:"drain_timeout"`

	PoolCloseTimeout  time.Duration `yaml:"pool_close_timeout"`
	CacheClearTimeout time.Duration `yaml:"cache_clear_timeout"`
	EventSweepTimeout time.Duration `yaml:"event_sweep_timeout"`

	// StepTimeout applies to any cleanup step without its own budget.
	StepTimeout time.Duration `yaml:"step_timeout"`
}
