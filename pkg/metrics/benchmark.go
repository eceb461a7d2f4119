package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/forgeline/forgeline/pkg/config"
	"github.com/forgeline/forgeline/pkg/llm"
)

const (
	benchmarkFile   = "benchmark.json"
	benchmarkPrompt = "Write a Python function that returns the nth Fibonacci number using iteration. Reply with code only."

	// baselineTokensPerSec anchors the performance multiplier: 1.0 means
	// roughly a mid-range consumer GPU running a 7B model.
	baselineTokensPerSec = 20.0
)

// Benchmark captures one calibration run against the local model server.
type Benchmark struct {
	Model                 string    `json:"model"`
	TokensPerSecond       float64   `json:"tokens_per_second"`
	TimeToFirstTokenMS    int64     `json:"time_to_first_token_ms"`
	PerformanceMultiplier float64   `json:"performance_multiplier"`
	TotalTokens           int       `json:"total_tokens"`
	Timestamp             time.Time `json:"timestamp"`
}

// generator is the slice of the LLM client the benchmark needs.
type generator interface {
	GenerateStream(ctx context.Context, prompt string, opts llm.GenerateOptions) (<-chan llm.StreamChunk, error)
}

// RunBenchmark streams one fixed prompt and measures time-to-first-token and
// sustained throughput. Each stream frame counts as one token, which matches
// how the model server emits them.
func RunBenchmark(ctx context.Context, client generator, model string) (*Benchmark, error) {
	start := time.Now()
	chunks, err := client.GenerateStream(ctx, benchmarkPrompt, llm.GenerateOptions{
		Model:      model,
		NumPredict: 256,
	})
	if err != nil {
		return nil, fmt.Errorf("benchmark stream: %w", err)
	}

	var (
		firstToken time.Time
		tokens     int
	)
	for c := range chunks {
		if c.IsDone {
			break
		}
		if c.Content == "" {
			continue
		}
		if firstToken.IsZero() {
			firstToken = time.Now()
		}
		tokens++
	}
	if tokens == 0 {
		return nil, fmt.Errorf("benchmark produced no tokens from model %s", model)
	}

	elapsed := time.Since(firstToken)
	if elapsed <= 0 {
		elapsed = time.Millisecond
	}
	tps := float64(tokens) / elapsed.Seconds()

	b := &Benchmark{
		Model:                 model,
		TokensPerSecond:       tps,
		TimeToFirstTokenMS:    firstToken.Sub(start).Milliseconds(),
		PerformanceMultiplier: tps / baselineTokensPerSec,
		TotalTokens:           tokens,
		Timestamp:             time.Now(),
	}
	slog.Info("Benchmark complete",
		"model", model,
		"tokens_per_second", fmt.Sprintf("%.1f", b.TokensPerSecond),
		"ttft_ms", b.TimeToFirstTokenMS,
		"multiplier", fmt.Sprintf("%.2f", b.PerformanceMultiplier))
	return b, nil
}

// PersistBenchmark writes the benchmark result to benchmark.json.
func PersistBenchmark(cfg *config.MetricsConfig, b *Benchmark) error {
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return fmt.Errorf("creating metrics dir: %w", err)
	}
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(cfg.OutputDir, benchmarkFile), data, 0o644)
}
