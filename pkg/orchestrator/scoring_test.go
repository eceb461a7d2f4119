package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScoreWeights(t *testing.T) {
	all := Validation{TestsPass: true, TypesPass: true, SecurityPass: true}
	assert.Equal(t, 1.0, all.Score())

	assert.Equal(t, 0.5, Validation{TestsPass: true}.Score())
	assert.Equal(t, 0.25, Validation{TypesPass: true}.Score())
	assert.Equal(t, 0.25, Validation{SecurityPass: true}.Score())
	assert.Equal(t, 0.0, Validation{}.Score())
}

func TestScoreIssuePenaltyIsBounded(t *testing.T) {
	v := Validation{TestsPass: true, TypesPass: true, SecurityPass: true, Issues: 5}
	assert.InDelta(t, 0.90, v.Score(), 1e-9)

	// 50 issues would be a penalty of 1.0 unbounded; it caps at 0.2.
	v.Issues = 50
	assert.InDelta(t, 0.80, v.Score(), 1e-9)
}

func TestScoreNeverNegative(t *testing.T) {
	assert.Equal(t, 0.0, Validation{Issues: 100}.Score())
}

func TestValidatorParsesCriticAnalysis(t *testing.T) {
	v := NewValidator()

	clean := v.Validate(context.Background(), "print('hi')", "", "OK")
	assert.True(t, clean.TestsPass)
	assert.True(t, clean.TypesPass)
	assert.True(t, clean.SecurityPass)
	assert.Zero(t, clean.Issues)
	assert.Equal(t, 1.0, clean.Score())

	dirty := v.Validate(context.Background(), "code", "",
		"ISSUE: type confusion between int and str\nISSUE: possible SQL injection\nsome prose")
	assert.Equal(t, 2, dirty.Issues)
	assert.False(t, dirty.TypesPass)
	assert.False(t, dirty.SecurityPass)

	empty := v.Validate(context.Background(), "", "", "OK")
	assert.False(t, empty.TestsPass, "empty code cannot pass tests")
}
