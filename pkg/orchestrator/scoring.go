// Package orchestrator drives the staged pipeline for one session: plan,
// test, code, validate, reflect, with a quality-gated retry loop and
// cooperative cancellation.
package orchestrator

// Scoring weights and bounds for the composite quality score.
const (
	weightTests    = 0.50
	weightTypes    = 0.25
	weightSecurity = 0.25

	issuePenalty    = 0.02
	maxIssuePenalty = 0.20
)

// Validation is the outcome of the validate stage.
type Validation struct {
	TestsPass    bool
	TypesPass    bool
	SecurityPass bool
	Issues       int
}

// Score folds the validation into a composite in [0,1]: weighted pass/fail
// minus a bounded penalty for static-analysis issue count.
func (v Validation) Score() float64 {
	score := 0.0
	if v.TestsPass {
		score += weightTests
	}
	if v.TypesPass {
		score += weightTypes
	}
	if v.SecurityPass {
		score += weightSecurity
	}

	penalty := float64(v.Issues) * issuePenalty
	if penalty > maxIssuePenalty {
		penalty = maxIssuePenalty
	}
	score -= penalty

	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
