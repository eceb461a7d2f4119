package config

import "time"

// Default returns the built-in configuration. User YAML is merged on top.
func Default() *Config {
	enabled := true
	return &Config{
		Server: &ServerConfig{},
		Pool: &PoolConfig{
			BaseURL:        "http://localhost:11434",
			MaxConnections: 10,
			RequestTimeout: 300 * time.Second,
		},
		LLM: &LLMConfig{
			DefaultTemperature: 0.2,
			DefaultTopP:        0.9,
			DefaultNumPredict:  2048,
			AttemptTimeout:     120 * time.Second,
			Backoff: &BackoffConfig{
				BaseDelay:   1 * time.Second,
				MaxDelay:    30 * time.Second,
				MaxAttempts: 3,
				Jitter:      true,
			},
		},
		Router: &RouterConfig{
			MinQualityIntent: 0.30,
			ReasoningModels:  []string{"deepseek-r1", "qwq", "marco-o1", "openthinker", "r1"},
			CoderModels:      []string{"coder", "codellama", "starcoder", "codegemma", "codestral"},
			EmbeddingModels:  []string{"embed", "bge-", "minilm"},
		},
		Stream: &StreamConfig{
			Enabled:           &enabled,
			ChunkSize:         100,
			DebounceMS:        50,
			MaxThinkingTimeMS: 120_000,
		},
		Store: &StoreConfig{
			MaxSessions:     1000,
			EventTTL:        1 * time.Hour,
			CleanupInterval: 5 * time.Minute,
			QueueBuffer:     1024,
		},
		Orchestrator: &OrchestratorConfig{
			QualityThreshold:     0.70,
			MaxRetries:           2,
			DefaultMaxIterations: 3,
			StageTimeout:         10 * time.Minute,
		},
		Metrics: &MetricsConfig{
			OutputDir:    "./data",
			WindowSize:   100,
			PersistEvery: 10,
		},
		Lifecycle: &LifecycleConfig{
			DrainTimeout:      10 * time.Second,
			PoolCloseTimeout:  5 * time.Second,
			CacheClearTimeout: 2 * time.Second,
			EventSweepTimeout: 3 * time.Second,
			StepTimeout:       3 * time.Second,
		},
	}
}

// MaxKeepAliveOrDefault resolves the keep-alive count (half the cap).
func (c *PoolConfig) MaxKeepAliveOrDefault() int {
	if c.MaxKeepAlive > 0 {
		return c.MaxKeepAlive
	}
	keep := c.MaxConnections / 2
	if keep < 1 {
		keep = 1
	}
	return keep
}
