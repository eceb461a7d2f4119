package e2e

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/forgeline/forgeline/pkg/api"
	"github.com/forgeline/forgeline/pkg/config"
	"github.com/forgeline/forgeline/pkg/events"
	"github.com/forgeline/forgeline/pkg/lifecycle"
	"github.com/forgeline/forgeline/pkg/llm"
	"github.com/forgeline/forgeline/pkg/metrics"
	"github.com/forgeline/forgeline/pkg/orchestrator"
	"github.com/forgeline/forgeline/pkg/registry"
)

// TestApp boots a complete forgeline instance against a mock model server.
type TestApp struct {
	Config   *config.Config
	Backend  *MockModelServer
	Store    *events.Store
	Registry *registry.Registry
	Orch     *orchestrator.Orchestrator

	// BaseURL of the in-process HTTP gateway.
	BaseURL string

	t *testing.T
}

// TestAppOption tweaks the config before boot.
type TestAppOption func(cfg *config.Config)

// WithStoreLimits sets session retention for eviction and TTL tests.
func WithStoreLimits(maxSessions int, ttl, sweep time.Duration) TestAppOption {
	return func(cfg *config.Config) {
		cfg.Store.MaxSessions = maxSessions
		cfg.Store.EventTTL = ttl
		cfg.Store.CleanupInterval = sweep
	}
}

// WithQuality sets the quality gate parameters.
func WithQuality(threshold float64, maxRetries int) TestAppOption {
	return func(cfg *config.Config) {
		cfg.Orchestrator.QualityThreshold = threshold
		cfg.Orchestrator.MaxRetries = maxRetries
	}
}

// NewTestApp wires the full stack: pool, client, registry, router, store,
// orchestrator, and the HTTP gateway, all real; only the model server behind
// them is a mock.
func NewTestApp(t *testing.T, backend *MockModelServer, opts ...TestAppOption) *TestApp {
	t.Helper()

	cfg := config.Default()
	cfg.Pool.BaseURL = backend.URL()
	cfg.Metrics.OutputDir = t.TempDir()
	cfg.Orchestrator.StageTimeout = 10 * time.Second
	cfg.LLM.AttemptTimeout = 10 * time.Second
	cfg.LLM.Backoff.BaseDelay = 10 * time.Millisecond
	cfg.LLM.Backoff.MaxDelay = 50 * time.Millisecond
	cfg.Stream.DebounceMS = 0
	for _, opt := range opts {
		opt(cfg)
	}

	pool := llm.NewPool(cfg.Pool)
	t.Cleanup(pool.Close)
	client := llm.NewClient(pool, cfg.LLM)

	reg := registry.NewRegistry(pool, cfg.Router)
	require.NoError(t, reg.Refresh(context.Background()))
	router := registry.NewRouter(reg, cfg.Router)

	store := events.NewStore(cfg.Store)
	store.Start()
	t.Cleanup(store.Stop)

	collector := metrics.NewCollector(cfg.Metrics)
	orch := orchestrator.New(cfg.Orchestrator, cfg.Stream, client, router, store, collector)

	tracker := lifecycle.NewTracker()
	server := api.NewServer(cfg, pool, client, reg, orch, store, collector, tracker)
	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)

	return &TestApp{
		Config:   cfg,
		Backend:  backend,
		Store:    store,
		Registry: reg,
		Orch:     orch,
		BaseURL:  srv.URL,
		t:        t,
	}
}

// defaultFleet is a small but representative model set: a light generalist, a
// standard coder, and a heavy reasoning model.
func defaultFleet() []ModelSpec {
	return []ModelSpec{
		{Name: "llama3.2:1b", ParamSize: "1B", SizeBytes: 1_300_000_000, Family: "llama"},
		{Name: "qwen2.5-coder:7b", ParamSize: "7B", SizeBytes: 4_700_000_000, Family: "qwen2"},
		{Name: "deepseek-r1:14b", ParamSize: "14B", SizeBytes: 9_000_000_000, Family: "qwen2"},
	}
}

// scriptCodePipeline installs responses for every stage of a simple
// hello-printing task so the pipeline completes in one iteration.
func scriptCodePipeline(backend *MockModelServer) {
	backend.Script(Rule{
		Marker:   "planning an implementation",
		Thinking: "A single function is enough.",
		Response: "1. Define hello().\n2. Print the greeting.",
	})
	backend.Script(Rule{
		Marker:   "Write tests",
		Response: "```python\ndef test_hello(capsys):\n    hello()\n    assert 'hello' in capsys.readouterr().out\n```",
	})
	backend.Script(Rule{
		Marker:   "Implement the task",
		Thinking: "Just print and return.",
		Response: "```python\ndef hello():\n    print('hello')\n```",
	})
	backend.Script(Rule{
		Marker:   "Review the code",
		Response: "OK",
	})
	backend.Script(Rule{
		Marker:   "Assess whether",
		Response: "The code fulfils the task.",
	})
}
