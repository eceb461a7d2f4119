// Package registry discovers models on the local model server, classifies
// them, and routes stage requests to the best fit under the hardware budget.
package registry

import (
	"strconv"
	"strings"
)

// Tier buckets models by resource weight.
type Tier string

const (
	TierLight    Tier = "light"
	TierStandard Tier = "standard"
	TierHeavy    Tier = "heavy"
	TierUltra    Tier = "ultra"
)

// tierRank orders tiers for fallback comparisons (equal or lower tier only).
func tierRank(t Tier) int {
	switch t {
	case TierLight:
		return 0
	case TierStandard:
		return 1
	case TierHeavy:
		return 2
	case TierUltra:
		return 3
	default:
		return 1
	}
}

// Complexity grades a task for model selection.
type Complexity string

const (
	ComplexitySimple  Complexity = "simple"
	ComplexityMedium  Complexity = "medium"
	ComplexityComplex Complexity = "complex"
)

// TaskType identifies the pipeline stage requesting a model.
type TaskType string

const (
	TaskIntent     TaskType = "intent"
	TaskPlanning   TaskType = "planning"
	TaskCoding     TaskType = "coding"
	TaskTesting    TaskType = "testing"
	TaskDebugging  TaskType = "debugging"
	TaskReflection TaskType = "reflection"
	TaskChat       TaskType = "chat"
)

// coderFlavored reports whether the stage benefits from coder models.
func coderFlavored(t TaskType) bool {
	return t == TaskCoding || t == TaskTesting || t == TaskDebugging
}

// avoidsReasoning reports whether the stage should stay off reasoning
// models; their latency dwarfs the gain for raw test, debug, and summary
// output.
func avoidsReasoning(t TaskType) bool {
	return t == TaskTesting || t == TaskDebugging || t == TaskReflection
}

// ModelInfo is an immutable snapshot entry describing one local model.
type ModelInfo struct {
	Name             string  `json:"name"`
	SizeBytes        int64   `json:"size_bytes"`
	ParameterSize    string  `json:"parameter_size"` // label, e.g. "7B"
	Quantization     string  `json:"quantization"`
	Family           string  `json:"family"`
	IsCoder          bool    `json:"is_coder"`
	IsReasoning      bool    `json:"is_reasoning"`
	EstimatedQuality float64 `json:"estimated_quality"` // [0,1]
	EstimatedVRAM    int64   `json:"estimated_vram_bytes"`
	Tier             Tier    `json:"tier"`
}

// ParamCountB parses the parameter-size label into billions of parameters.
// Falls back to a size-based estimate when the label is unparseable.
func (m ModelInfo) ParamCountB() float64 {
	label := strings.TrimSpace(strings.ToUpper(m.ParameterSize))
	if label != "" {
		mult := 0.0
		switch {
		case strings.HasSuffix(label, "B"):
			mult = 1
		case strings.HasSuffix(label, "M"):
			mult = 0.001
		}
		if mult > 0 {
			if v, err := strconv.ParseFloat(label[:len(label)-1], 64); err == nil {
				return v * mult
			}
		}
	}
	// Rough estimate assuming ~0.6 bytes per parameter at common quantizations.
	return float64(m.SizeBytes) / 0.6e9
}

// Selection is the router's verdict for one request. Immutable.
type Selection struct {
	Model       string            `json:"model"`
	Confidence  float64           `json:"confidence"` // [0,1]
	Reason      string            `json:"reason"`
	IsReasoning bool              `json:"is_reasoning"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}
