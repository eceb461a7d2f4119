package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/forgeline/forgeline/pkg/config"
)

// Quality floors per complexity grade. A model below the floor is not
// considered for that grade unless nothing else is installed.
const (
	floorSimple  = 0.30
	floorMedium  = 0.55
	floorComplex = 0.70
)

// ErrNoModels is returned when the snapshot has no model that fits the
// hardware budget.
var ErrNoModels = errors.New("no usable models in registry")

// Router picks a model for each pipeline stage from the registry snapshot,
// honoring the hardware budget and the complexity grade of the task.
type Router struct {
	reg *Registry
	cfg *config.RouterConfig
}

func NewRouter(reg *Registry, cfg *config.RouterConfig) *Router {
	return &Router{reg: reg, cfg: cfg}
}

func qualityFloor(cx Complexity) float64 {
	switch cx {
	case ComplexityComplex:
		return floorComplex
	case ComplexityMedium:
		return floorMedium
	default:
		return floorSimple
	}
}

// defaultComplexity grades a stage when the caller supplies no explicit
// complexity. Coding carries the pipeline and defaults higher; every other
// stage favors latency and aims for simple.
func defaultComplexity(t TaskType) Complexity {
	if t == TaskCoding {
		return ComplexityMedium
	}
	return ComplexitySimple
}

// SelectModel resolves the model for a stage. A non-empty preferred name
// short-circuits routing when that model is installed and fits the budget.
func (r *Router) SelectModel(taskType TaskType, preferred string, cx Complexity) (*Selection, error) {
	if preferred != "" {
		if m, ok := r.reg.Get(preferred); ok && r.fitsHardware(m) {
			return &Selection{
				Model:       m.Name,
				Confidence:  1.0,
				Reason:      "requested model",
				IsReasoning: m.IsReasoning,
			}, nil
		}
		slog.Warn("Requested model unavailable, routing instead", "model", preferred, "task", taskType)
	}
	if cx == "" {
		cx = defaultComplexity(taskType)
	}
	return r.SelectForComplexity(cx, taskType)
}

// SelectForComplexity routes by complexity grade. Complex tasks try
// reasoning models first unless reasoning is disabled or the stage avoids
// them; simple tasks take the cheapest model above the floor; everything
// else takes the best. Intent and planning stages carry their own quality
// floor so the lightest usable model still produces a coherent plan.
func (r *Router) SelectForComplexity(cx Complexity, taskType TaskType) (*Selection, error) {
	pool := r.hardwareFiltered()
	if len(pool) == 0 {
		return nil, ErrNoModels
	}

	floor := qualityFloor(cx)
	if (taskType == TaskIntent || taskType == TaskPlanning) && r.cfg.MinQualityIntent > floor {
		floor = r.cfg.MinQualityIntent
	}
	eligible := filterModels(pool, func(m ModelInfo) bool { return m.EstimatedQuality >= floor })
	if len(eligible) == 0 {
		// Nothing clears the floor. Degrade to the best installed model
		// rather than failing the stage outright.
		slog.Warn("No model clears quality floor, degrading", "complexity", cx, "floor", floor)
		eligible = pool
	}

	// Stages that consume raw output (tests, debug traces, reflection
	// summaries) do worse on reasoning models; keep them off whenever an
	// alternative exists, whatever the complexity grade. All other stages
	// try reasoning models first at complex.
	if avoidsReasoning(taskType) {
		if plain := filterModels(eligible, func(m ModelInfo) bool { return !m.IsReasoning }); len(plain) > 0 {
			eligible = plain
		}
	} else if cx == ComplexityComplex && !r.cfg.DisableReasoning {
		if reasoning := filterModels(eligible, func(m ModelInfo) bool { return m.IsReasoning }); len(reasoning) > 0 {
			best := pickBest(reasoning, true)
			return r.selection(best, cx, "reasoning-first for complex task"), nil
		}
	}

	if coderFlavored(taskType) {
		if coders := filterModels(eligible, func(m ModelInfo) bool { return m.IsCoder }); len(coders) > 0 {
			eligible = coders
		}
	}

	var chosen ModelInfo
	var reason string
	if cx == ComplexitySimple {
		chosen = pickCheapest(eligible)
		reason = "cheapest model above floor for simple task"
	} else {
		chosen = pickBest(eligible, cx == ComplexityComplex)
		reason = fmt.Sprintf("best quality for %s task", cx)
	}
	return r.selection(chosen, cx, reason), nil
}

// Fallback returns a replacement after a model failure: equal or lower tier,
// never the failed model itself, nil when nothing qualifies.
func (r *Router) Fallback(failed string, taskType TaskType, cx Complexity) *Selection {
	failedRank := tierRank(TierUltra)
	if m, ok := r.reg.Get(failed); ok {
		failedRank = tierRank(m.Tier)
	}

	candidates := filterModels(r.hardwareFiltered(), func(m ModelInfo) bool {
		return m.Name != failed && tierRank(m.Tier) <= failedRank
	})
	if len(candidates) == 0 {
		return nil
	}
	if coderFlavored(taskType) {
		if coders := filterModels(candidates, func(m ModelInfo) bool { return m.IsCoder }); len(coders) > 0 {
			candidates = coders
		}
	}

	chosen := pickBest(candidates, cx == ComplexityComplex)
	sel := r.selection(chosen, cx, "fallback after model failure")
	sel.Metadata = map[string]string{"replaces": failed}
	return sel
}

func (r *Router) selection(m ModelInfo, cx Complexity, reason string) *Selection {
	conf := m.EstimatedQuality / qualityFloor(cx)
	if conf > 1 {
		conf = 1
	}
	return &Selection{
		Model:       m.Name,
		Confidence:  conf,
		Reason:      reason,
		IsReasoning: m.IsReasoning,
	}
}

func (r *Router) hardwareFiltered() []ModelInfo {
	return filterModels(r.reg.Models(), r.fitsHardware)
}

func (r *Router) fitsHardware(m ModelInfo) bool {
	if budget := r.cfg.MaxVRAMBytes; budget > 0 && m.EstimatedVRAM > budget {
		return false
	}
	switch m.Tier {
	case TierHeavy:
		return r.cfg.AllowsHeavy()
	case TierUltra:
		return r.cfg.AllowsUltra()
	}
	return true
}

func filterModels(models []ModelInfo, keep func(ModelInfo) bool) []ModelInfo {
	out := make([]ModelInfo, 0, len(models))
	for _, m := range models {
		if keep(m) {
			out = append(out, m)
		}
	}
	return out
}

// pickBest returns the highest-quality model. On equal quality, larger
// parameter counts win for complex tasks and smaller ones otherwise; equal
// parameter counts fall back to lexicographic name order for determinism.
func pickBest(models []ModelInfo, preferLarger bool) ModelInfo {
	sorted := append([]ModelInfo(nil), models...)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.EstimatedQuality != b.EstimatedQuality {
			return a.EstimatedQuality > b.EstimatedQuality
		}
		pa, pb := a.ParamCountB(), b.ParamCountB()
		if pa != pb {
			if preferLarger {
				return pa > pb
			}
			return pa < pb
		}
		return a.Name < b.Name
	})
	return sorted[0]
}

// pickCheapest returns the lowest-quality model, i.e. the cheapest one still
// eligible. Ties break toward fewer parameters, then name order.
func pickCheapest(models []ModelInfo) ModelInfo {
	sorted := append([]ModelInfo(nil), models...)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.EstimatedQuality != b.EstimatedQuality {
			return a.EstimatedQuality < b.EstimatedQuality
		}
		pa, pb := a.ParamCountB(), b.ParamCountB()
		if pa != pb {
			return pa < pb
		}
		return a.Name < b.Name
	})
	return sorted[0]
}
