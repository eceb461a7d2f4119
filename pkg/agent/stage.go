// Package agent wraps one reasoning-stream invocation per pipeline stage:
// prompt construction, model selection with single-shot fallback, thinking
// passthrough, and artifact post-processing.
package agent

import (
	"github.com/forgeline/forgeline/pkg/events"
	"github.com/forgeline/forgeline/pkg/registry"
)

// Stage identifies which role of the pipeline an agent plays.
type Stage string

const (
	StageIntent    Stage = "intent"
	StagePlanner   Stage = "planner"
	StageCoder     Stage = "coder"
	StageTester    Stage = "tester"
	StageDebugger  Stage = "debugger"
	StageReflector Stage = "reflector"
	StageCritic    Stage = "critic"
	StageChat      Stage = "chat"
)

// ChunkEvent maps a stage to the event type its content fragments carry.
func (s Stage) ChunkEvent() events.EventType {
	switch s {
	case StagePlanner:
		return events.PlanChunk
	case StageCoder:
		return events.CodeChunk
	case StageTester:
		return events.TestChunk
	case StageDebugger, StageCritic:
		return events.AnalysisChunk
	case StageReflector:
		return events.ReflectionChunk
	default:
		return events.Progress
	}
}

// TaskType maps a stage to the router's task classification.
func (s Stage) TaskType() registry.TaskType {
	switch s {
	case StagePlanner:
		return registry.TaskPlanning
	case StageCoder:
		return registry.TaskCoding
	case StageTester:
		return registry.TaskTesting
	case StageDebugger, StageCritic:
		return registry.TaskDebugging
	case StageReflector:
		return registry.TaskReflection
	case StageChat:
		return registry.TaskChat
	default:
		return registry.TaskIntent
	}
}
