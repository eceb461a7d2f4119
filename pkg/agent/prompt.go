package agent

import (
	"fmt"
	"strings"
)

// Inputs carries everything a stage run can draw from. Later stages see the
// artifacts of earlier ones.
type Inputs struct {
	SessionID  string
	Task       string
	Language   string
	Plan       string
	Tests      string
	Code       string
	Feedback   string
	Complexity string

	// Model pins a specific model; empty lets the router choose.
	Model       string
	Temperature float64
}

// PromptBuilder renders stage prompts. Prompts differ by target model: a
// reasoning model is told its chain-of-thought stays private, a plain model
// is told to answer directly so it does not waste tokens narrating.
type PromptBuilder struct{}

func NewPromptBuilder() *PromptBuilder {
	return &PromptBuilder{}
}

// Build renders the prompt for one stage against one model. Callers must
// re-invoke Build after a model fallback; the phrasing depends on the model.
func (b *PromptBuilder) Build(stage Stage, in Inputs, reasoningModel bool) string {
	var sb strings.Builder

	switch stage {
	case StageIntent:
		fmt.Fprintf(&sb, "Classify the following request. Reply with exactly one word, one of: code, chat, greeting.\n\nRequest: %s\n", in.Task)
		return sb.String()

	case StagePlanner:
		sb.WriteString("You are a senior software engineer planning an implementation.\n")
		fmt.Fprintf(&sb, "Task: %s\n", in.Task)
		if in.Language != "" {
			fmt.Fprintf(&sb, "Target language: %s\n", in.Language)
		}
		sb.WriteString("Produce a short numbered plan. No code yet.\n")

	case StageTester:
		sb.WriteString("Write tests for the task below before any implementation exists.\n")
		fmt.Fprintf(&sb, "Task: %s\n", in.Task)
		if in.Plan != "" {
			fmt.Fprintf(&sb, "Plan:\n%s\n", in.Plan)
		}
		sb.WriteString("Reply with test code only, inside one fenced code block.\n")

	case StageCoder:
		sb.WriteString("Implement the task below.\n")
		fmt.Fprintf(&sb, "Task: %s\n", in.Task)
		if in.Plan != "" {
			fmt.Fprintf(&sb, "Plan:\n%s\n", in.Plan)
		}
		if in.Tests != "" {
			fmt.Fprintf(&sb, "The implementation must pass these tests:\n%s\n", in.Tests)
		}
		if in.Feedback != "" {
			fmt.Fprintf(&sb, "A previous attempt was rejected. Reviewer feedback:\n%s\n", in.Feedback)
		}
		sb.WriteString("Reply with the implementation only, inside one fenced code block. No explanations.\n")

	case StageDebugger, StageCritic:
		sb.WriteString("Review the code below for defects: logic errors, type misuse, unsafe constructs.\n")
		fmt.Fprintf(&sb, "Task: %s\n\nCode:\n%s\n", in.Task, in.Code)
		sb.WriteString("List each issue on its own line prefixed with 'ISSUE:'. If none, reply 'OK'.\n")

	case StageChat:
		sb.WriteString("You are a helpful programming assistant.\n")
		fmt.Fprintf(&sb, "User: %s\n", in.Task)
		sb.WriteString("Reply conversationally and keep it brief.\n")

	case StageReflector:
		sb.WriteString("Assess whether the code fulfils the task.\n")
		fmt.Fprintf(&sb, "Task: %s\n\nCode:\n%s\n", in.Task, in.Code)
		if in.Feedback != "" {
			fmt.Fprintf(&sb, "Validation findings:\n%s\n", in.Feedback)
		}
		sb.WriteString("Give a one-paragraph verdict.\n")
	}

	if reasoningModel {
		sb.WriteString("Think through the problem first; your reasoning stays private.\n")
	} else {
		sb.WriteString("Answer directly without narrating your reasoning.\n")
	}
	return sb.String()
}
