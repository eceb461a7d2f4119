package orchestrator

import (
	"context"
	"strings"
)

// Validator assesses a coding attempt. The default derives everything from
// the critic's analysis text; deployments with a sandbox can substitute an
// implementation that actually runs the tests.
type Validator interface {
	Validate(ctx context.Context, code, tests, analysis string) Validation
}

// analysisValidator is the default: it parses the critic stage's output,
// which lists defects one per line prefixed with "ISSUE:".
type analysisValidator struct{}

func NewValidator() Validator {
	return analysisValidator{}
}

func (analysisValidator) Validate(_ context.Context, code, tests, analysis string) Validation {
	issues := parseIssues(analysis)

	v := Validation{
		TestsPass:    code != "",
		TypesPass:    true,
		SecurityPass: true,
		Issues:       len(issues),
	}
	for _, issue := range issues {
		l := strings.ToLower(issue)
		if strings.Contains(l, "type") {
			v.TypesPass = false
		}
		if strings.Contains(l, "security") || strings.Contains(l, "unsafe") ||
			strings.Contains(l, "inject") {
			v.SecurityPass = false
		}
	}
	return v
}

// parseIssues extracts "ISSUE:"-prefixed lines from the critic's analysis.
func parseIssues(analysis string) []string {
	var out []string
	for _, line := range strings.Split(analysis, "\n") {
		line = strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(line, "ISSUE:"); ok {
			out = append(out, strings.TrimSpace(rest))
		}
	}
	return out
}
