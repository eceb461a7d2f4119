package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/forgeline/forgeline/pkg/config"
	"github.com/forgeline/forgeline/pkg/llm"
)

const tagsEndpoint = "/api/tags"

// tagsResponse mirrors the model server's listing payload.
type tagsResponse struct {
	Models []struct {
		Name    string `json:"name"`
		Size    int64  `json:"size"`
		Details struct {
			ParameterSize string `json:"parameter_size"`
			Quantization  string `json:"quantization_level"`
			Family        string `json:"family"`
		} `json:"details"`
	} `json:"models"`
}

// Registry holds an atomic snapshot of the models installed on the local
// model server. Refresh replaces the snapshot wholesale; readers always see
// a consistent listing.
type Registry struct {
	pool *llm.Pool
	cfg  *config.RouterConfig

	mu          sync.RWMutex
	models      []ModelInfo
	lastRefresh time.Time
}

func NewRegistry(pool *llm.Pool, cfg *config.RouterConfig) *Registry {
	return &Registry{pool: pool, cfg: cfg}
}

// Refresh re-lists the model server and swaps in a new snapshot. Embedding
// models are excluded; they cannot serve generation stages. On error the
// previous snapshot stays in place.
func (r *Registry) Refresh(ctx context.Context) error {
	data, err := r.pool.Request(ctx, "GET", tagsEndpoint, nil)
	if err != nil {
		return fmt.Errorf("listing models: %w", err)
	}

	var resp tagsResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return fmt.Errorf("decoding model listing: %w", err)
	}

	models := make([]ModelInfo, 0, len(resp.Models))
	for _, m := range resp.Models {
		if matchesAny(m.Name, r.cfg.EmbeddingModels) {
			continue
		}
		info := r.classify(m.Name, m.Size, m.Details.ParameterSize, m.Details.Quantization, m.Details.Family)
		models = append(models, info)
	}
	sort.Slice(models, func(i, j int) bool { return models[i].Name < models[j].Name })

	r.mu.Lock()
	r.models = models
	r.lastRefresh = time.Now()
	r.mu.Unlock()

	slog.Info("Model registry refreshed", "models", len(models))
	return nil
}

// Models returns a copy of the current snapshot.
func (r *Registry) Models() []ModelInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ModelInfo, len(r.models))
	copy(out, r.models)
	return out
}

// Get looks up one model by exact name.
func (r *Registry) Get(name string) (ModelInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.models {
		if m.Name == name {
			return m, true
		}
	}
	return ModelInfo{}, false
}

// Count returns the number of usable models in the snapshot.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.models)
}

// LastRefresh reports when the snapshot was last replaced.
func (r *Registry) LastRefresh() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastRefresh
}

// Clear drops the snapshot. Used during shutdown.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.models = nil
	r.mu.Unlock()
}

// classify derives routing attributes from the listing entry. Names are
// matched against the configured substring lists; quality is a monotone
// function of parameter count so larger family members always rank higher.
func (r *Registry) classify(name string, sizeBytes int64, paramLabel, quant, family string) ModelInfo {
	info := ModelInfo{
		Name:          name,
		SizeBytes:     sizeBytes,
		ParameterSize: paramLabel,
		Quantization:  quant,
		Family:        family,
		IsCoder:       matchesAny(name, r.cfg.CoderModels),
		IsReasoning:   matchesAny(name, r.cfg.ReasoningModels),
	}
	params := info.ParamCountB()
	info.EstimatedQuality = estimateQuality(params, info.IsCoder)
	info.EstimatedVRAM = estimateVRAM(sizeBytes)
	info.Tier = tierFor(params)
	return info
}

func matchesAny(name string, substrings []string) bool {
	lower := strings.ToLower(name)
	for _, s := range substrings {
		if s != "" && strings.Contains(lower, strings.ToLower(s)) {
			return true
		}
	}
	return false
}

// estimateQuality maps parameter count to a [0,1] score, strictly increasing
// in size. Coder models get a small bump since the pipeline is code-centric.
func estimateQuality(paramsB float64, coder bool) float64 {
	if paramsB < 0 {
		paramsB = 0
	}
	q := 0.20 + 0.15*math.Log1p(paramsB)
	if coder {
		q += 0.05
	}
	if q > 0.98 {
		q = 0.98
	}
	return q
}

// estimateVRAM adds runtime overhead (KV cache, buffers) on top of weights.
func estimateVRAM(sizeBytes int64) int64 {
	return sizeBytes + sizeBytes/5
}

func tierFor(paramsB float64) Tier {
	switch {
	case paramsB < 3:
		return TierLight
	case paramsB < 10:
		return TierStandard
	case paramsB < 35:
		return TierHeavy
	default:
		return TierUltra
	}
}
