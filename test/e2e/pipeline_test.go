package e2e

import (
	"context"
	"net/url"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCodePipelineStreamsToCompletion drives a full plan/test/code/review run
// over SSE and checks the stream shape end to end.
func TestCodePipelineStreamsToCompletion(t *testing.T) {
	backend := NewMockModelServer(t, defaultFleet()...)
	scriptCodePipeline(backend)
	app := NewTestApp(t, backend)

	resp := openStream(t, context.Background(), app.BaseURL, url.Values{
		"task": {"write a python function that prints hello"},
		"mode": {"code"},
	})
	defer resp.Body.Close()
	evs := readEvents(t, resp.Body)
	require.NotEmpty(t, evs)

	types := eventTypes(evs)
	assert.Contains(t, types, "thinking_started")
	assert.Contains(t, types, "thinking_in_progress")
	assert.Contains(t, types, "thinking_completed")
	assert.Contains(t, types, "plan_chunk")
	assert.Contains(t, types, "test_chunk")
	assert.Contains(t, types, "code_chunk")
	assert.Contains(t, types, "analysis_chunk")
	assert.Contains(t, types, "reflection_chunk")

	assert.Contains(t, joinChunks(evs, "plan_chunk"), "Define hello()")
	assert.Contains(t, joinChunks(evs, "code_chunk"), "print('hello')")

	// The stream terminates with exactly one done carrying the artifact.
	assert.Equal(t, "done", types[len(types)-1])
	done := evs[len(evs)-1]
	assert.Contains(t, done.Data["artifact"], "print('hello')")
	assert.NotContains(t, done.Data["artifact"], "```", "artifact is extracted from the fence")
	assert.GreaterOrEqual(t, done.Data["quality_score"].(float64), 0.70)
	assert.Equal(t, float64(1), done.Data["iterations"])

	// Event IDs are strictly increasing within the session.
	prev := int64(0)
	for _, ev := range evs {
		id, err := strconv.ParseInt(ev.ID, 10, 64)
		require.NoError(t, err)
		assert.Greater(t, id, prev)
		prev = id
	}

	// The completed thinking block carries the aggregate reasoning text.
	completed, ok := findEvent(evs, "thinking_completed")
	require.True(t, ok)
	content, _ := completed.Data["content"].(string)
	assert.NotEmpty(t, content)
}

// TestLowQualityRunRetriesCodingStage scripts a critic that rejects the first
// attempt; the pipeline must re-enter the coding stage with the feedback.
func TestLowQualityRunRetriesCodingStage(t *testing.T) {
	backend := NewMockModelServer(t, defaultFleet()...)
	backend.Script(Rule{
		Marker:   "planning an implementation",
		Response: "1. Define hello().",
	})
	backend.Script(Rule{
		Marker:   "Write tests",
		Response: "```python\ndef test_hello(): ...\n```",
	})
	backend.Script(Rule{
		Marker:   "A previous attempt was rejected",
		Response: "```python\ndef hello():\n    print('hello')\n```",
	})
	backend.Script(Rule{
		Marker:   "Implement the task",
		Response: "```python\ndef hello():\n    print('helo')\n```",
	})
	// The corrected code is approved; the first attempt is rejected with
	// findings that fail both the type and security checks.
	backend.Script(Rule{
		Marker:   "print('hello')",
		Response: "OK",
	})
	backend.Script(Rule{
		Marker:   "Review the code",
		Response: "ISSUE: wrong greeting text\nISSUE: unsafe type handling",
	})
	backend.Script(Rule{
		Marker:   "Assess whether",
		Response: "Does not fulfil the task yet.",
	})
	app := NewTestApp(t, backend)

	resp := openStream(t, context.Background(), app.BaseURL, url.Values{
		"task": {"write a python function that prints hello"},
		"mode": {"code"},
	})
	defer resp.Body.Close()
	evs := readEvents(t, resp.Body)
	require.NotEmpty(t, evs)

	done := evs[len(evs)-1]
	require.Equal(t, "done", done.Event)
	assert.Equal(t, float64(2), done.Data["iterations"])
	assert.Contains(t, done.Data["artifact"], "print('hello')")

	// The retry prompt carried the reviewer feedback.
	retries := backend.CallsMatching("A previous attempt was rejected")
	require.Len(t, retries, 1)
	assert.Contains(t, retries[0].Prompt, "ISSUE: wrong greeting text")
}

// TestChatModeSingleStage verifies chat mode runs one conversational stage
// and surfaces the reply as the artifact.
func TestChatModeSingleStage(t *testing.T) {
	backend := NewMockModelServer(t, defaultFleet()...)
	backend.Script(Rule{
		Marker:   "helpful programming assistant",
		Response: "Pointers hold addresses.",
	})
	app := NewTestApp(t, backend)

	resp := openStream(t, context.Background(), app.BaseURL, url.Values{
		"task": {"explain pointers in c"},
		"mode": {"chat"},
	})
	defer resp.Body.Close()
	evs := readEvents(t, resp.Body)
	require.NotEmpty(t, evs)

	done := evs[len(evs)-1]
	require.Equal(t, "done", done.Event)
	assert.Equal(t, "Pointers hold addresses.", done.Data["artifact"])
	assert.Equal(t, float64(1), done.Data["iterations"])

	// No pipeline stages ran.
	assert.Empty(t, backend.CallsMatching("planning an implementation"))
	assert.Empty(t, backend.CallsMatching("Implement the task"))
}

// TestAutoModeGreetingShortCircuits verifies a bare greeting skips the
// pipeline entirely after intent classification.
func TestAutoModeGreetingShortCircuits(t *testing.T) {
	backend := NewMockModelServer(t, defaultFleet()...)
	app := NewTestApp(t, backend)

	resp := openStream(t, context.Background(), app.BaseURL, url.Values{
		"task": {"hello"},
		"mode": {"auto"},
	})
	defer resp.Body.Close()
	evs := readEvents(t, resp.Body)
	require.NotEmpty(t, evs)

	done := evs[len(evs)-1]
	require.Equal(t, "done", done.Event)
	assert.Equal(t, "", done.Data["artifact"])
	assert.Empty(t, backend.Calls(), "greetings never reach the model server")
}
