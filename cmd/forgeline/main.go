// Forgeline server: multi-agent code generation over a local model server,
// with SSE streaming of reasoning and results.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/forgeline/forgeline/pkg/api"
	"github.com/forgeline/forgeline/pkg/config"
	"github.com/forgeline/forgeline/pkg/events"
	"github.com/forgeline/forgeline/pkg/lifecycle"
	"github.com/forgeline/forgeline/pkg/llm"
	"github.com/forgeline/forgeline/pkg/metrics"
	"github.com/forgeline/forgeline/pkg/orchestrator"
	"github.com/forgeline/forgeline/pkg/registry"
	"github.com/forgeline/forgeline/pkg/version"
)

// Exit codes: 1 for startup failures we own (config, port), 2 when a
// required external dependency (the model server) is unreachable.
const (
	exitStartupFailure    = 1
	exitDependencyMissing = 2
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./config"),
		"Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Debug("No .env file, continuing with existing environment", "path", envPath)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8700")
	slog.Info("Starting forgeline",
		"version", version.Full(),
		"http_port", httpPort,
		"config_dir", *configDir)

	cfg, err := config.Initialize(*configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(exitStartupFailure)
	}

	// Core clients against the local model server.
	pool := llm.NewPool(cfg.Pool)
	client := llm.NewClient(pool, cfg.LLM)

	// The model registry must see at least a reachable server at boot; a
	// server with zero models is survivable (it degrades health), a server
	// that cannot be reached is not.
	reg := registry.NewRegistry(pool, cfg.Router)
	refreshCtx, refreshCancel := context.WithTimeout(context.Background(), 10*time.Second)
	err = reg.Refresh(refreshCtx)
	refreshCancel()
	if err != nil {
		slog.Error("Model server unreachable", "base_url", pool.BaseURL(), "error", err)
		pool.Close()
		os.Exit(exitDependencyMissing)
	}
	slog.Info("Model registry initialized", "models", reg.Count())

	router := registry.NewRouter(reg, cfg.Router)

	store := events.NewStore(cfg.Store)
	store.Start()

	collector := metrics.NewCollector(cfg.Metrics)
	orch := orchestrator.New(cfg.Orchestrator, cfg.Stream, client, router, store, collector)

	if cfg.Metrics.BenchmarkOnStartup {
		runStartupBenchmark(client, reg, cfg.Metrics)
	}

	// Shutdown sequence: drain HTTP, then tear components down in order.
	tracker := lifecycle.NewTracker()
	shutdown := lifecycle.NewShutdownManager(cfg.Lifecycle, tracker)
	shutdown.AddStep(lifecycle.Step{
		Name:    "close_connection_pool",
		Timeout: cfg.Lifecycle.PoolCloseTimeout,
		Run: func(ctx context.Context) error {
			pool.Close()
			return nil
		},
	})
	shutdown.AddStep(lifecycle.Step{
		Name:    "clear_model_cache",
		Timeout: cfg.Lifecycle.CacheClearTimeout,
		Run: func(ctx context.Context) error {
			reg.Clear()
			return nil
		},
	})
	shutdown.AddStep(lifecycle.Step{
		Name:    "sweep_event_store",
		Timeout: cfg.Lifecycle.EventSweepTimeout,
		Run: func(ctx context.Context) error {
			store.Stop()
			removed := store.CleanupAllOldEvents()
			slog.Info("Event store swept", "sessions_removed", removed)
			return nil
		},
	})

	server := api.NewServer(cfg, pool, client, reg, orch, store, collector, tracker)
	httpServer := &http.Server{
		Addr:              ":" + httpPort,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("HTTP server failed", "error", err)
		os.Exit(exitStartupFailure)
	}

	// Stop accepting connections, then run the ordered cleanup.
	httpCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(httpCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
	shutdown.Shutdown(context.Background())
}

// runStartupBenchmark calibrates throughput once at boot. Failure is logged
// and ignored; calibration is advisory.
func runStartupBenchmark(client *llm.Client, reg *registry.Registry, cfg *config.MetricsConfig) {
	var model string
	var best float64
	for _, m := range reg.Models() {
		if m.IsCoder && m.EstimatedQuality > best {
			model, best = m.Name, m.EstimatedQuality
		}
	}
	if model == "" {
		for _, m := range reg.Models() {
			if m.EstimatedQuality > best {
				model, best = m.Name, m.EstimatedQuality
			}
		}
	}
	if model == "" {
		slog.Warn("Skipping startup benchmark, no models available")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	b, err := metrics.RunBenchmark(ctx, client, model)
	if err != nil {
		slog.Warn("Startup benchmark failed", "model", model, "error", err)
		return
	}
	if err := metrics.PersistBenchmark(cfg, b); err != nil {
		slog.Warn("Failed to persist benchmark", "error", err)
	}
}
