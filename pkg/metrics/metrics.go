// Package metrics collects per-stage latency windows and a startup
// throughput benchmark, persisting both as JSON files for operators.
package metrics

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/forgeline/forgeline/pkg/config"
)

const stageMetricsFile = "stage_metrics.json"

// StageStats is the exported view of one stage's rolling window.
type StageStats struct {
	Stage       string  `json:"stage"`
	Count       int64   `json:"count"`
	Successes   int64   `json:"successes"`
	SuccessRate float64 `json:"success_rate"`
	AvgMS       float64 `json:"avg_ms"`
	MedianMS    float64 `json:"median_ms"`
	StddevMS    float64 `json:"stddev_ms"`
	MinMS       int64   `json:"min_ms"`
	MaxMS       int64   `json:"max_ms"`
}

// stageWindow is a fixed-size ring of recent durations plus lifetime counters.
type stageWindow struct {
	durations []time.Duration
	next      int
	filled    bool
	count     int64
	successes int64
}

// Collector records stage outcomes into rolling windows and flushes a JSON
// snapshot every Nth sample. Safe for concurrent use.
type Collector struct {
	cfg *config.MetricsConfig

	mu      sync.Mutex
	stages  map[string]*stageWindow
	samples int64
}

func NewCollector(cfg *config.MetricsConfig) *Collector {
	return &Collector{
		cfg:    cfg,
		stages: make(map[string]*stageWindow),
	}
}

// Record adds one stage outcome. Persistence failures are logged, never
// surfaced; metrics must not fail the pipeline.
func (c *Collector) Record(stage string, d time.Duration, success bool) {
	c.mu.Lock()
	w := c.stages[stage]
	if w == nil {
		size := c.cfg.WindowSize
		if size <= 0 {
			size = 1
		}
		w = &stageWindow{durations: make([]time.Duration, size)}
		c.stages[stage] = w
	}
	w.durations[w.next] = d
	w.next = (w.next + 1) % len(w.durations)
	if w.next == 0 {
		w.filled = true
	}
	w.count++
	if success {
		w.successes++
	}

	c.samples++
	flush := c.cfg.PersistEvery > 0 && c.samples%int64(c.cfg.PersistEvery) == 0
	var snapshot []StageStats
	if flush {
		snapshot = c.snapshotLocked()
	}
	c.mu.Unlock()

	if flush {
		if err := c.persist(snapshot); err != nil {
			slog.Warn("Failed to persist stage metrics", "error", err)
		}
	}
}

// Snapshot returns current stats for every stage seen so far.
func (c *Collector) Snapshot() []StageStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Collector) snapshotLocked() []StageStats {
	out := make([]StageStats, 0, len(c.stages))
	for name, w := range c.stages {
		n := w.next
		if w.filled {
			n = len(w.durations)
		}
		if n == 0 {
			continue
		}
		window := make([]time.Duration, n)
		copy(window, w.durations[:n])
		sort.Slice(window, func(i, j int) bool { return window[i] < window[j] })

		var sum time.Duration
		for _, d := range window {
			sum += d
		}
		avg := float64(sum.Milliseconds()) / float64(n)

		median := float64(window[n/2].Milliseconds())
		if n%2 == 0 {
			median = (median + float64(window[n/2-1].Milliseconds())) / 2
		}

		var varsum float64
		for _, d := range window {
			diff := float64(d.Milliseconds()) - avg
			varsum += diff * diff
		}

		out = append(out, StageStats{
			Stage:       name,
			Count:       w.count,
			Successes:   w.successes,
			SuccessRate: float64(w.successes) / float64(w.count),
			AvgMS:       avg,
			MedianMS:    median,
			StddevMS:    math.Sqrt(varsum / float64(n)),
			MinMS:       window[0].Milliseconds(),
			MaxMS:       window[n-1].Milliseconds(),
		})
	}
	return out
}

func (c *Collector) persist(stats []StageStats) error {
	if err := os.MkdirAll(c.cfg.OutputDir, 0o755); err != nil {
		return fmt.Errorf("creating metrics dir: %w", err)
	}
	data, err := json.MarshalIndent(struct {
		GeneratedAt time.Time    `json:"generated_at"`
		Stages      []StageStats `json:"stages"`
	}{time.Now(), stats}, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(c.cfg.OutputDir, stageMetricsFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
