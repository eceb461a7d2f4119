package e2e

import (
	"context"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestModelUnavailableFallsBackOnce pins a model the backend refuses to
// serve; the agent must retry exactly once on an equal-or-lower tier model
// and still complete the run.
func TestModelUnavailableFallsBackOnce(t *testing.T) {
	backend := NewMockModelServer(t, defaultFleet()...)
	backend.FailModel("qwen2.5-coder:7b")
	backend.Script(Rule{
		Marker:   "helpful programming assistant",
		Response: "Pointers hold addresses.",
	})
	app := NewTestApp(t, backend)

	resp := openStream(t, context.Background(), app.BaseURL, url.Values{
		"task":  {"explain pointers in c"},
		"mode":  {"chat"},
		"model": {"qwen2.5-coder:7b"},
	})
	defer resp.Body.Close()
	evs := readEvents(t, resp.Body)
	require.NotEmpty(t, evs)

	done := evs[len(evs)-1]
	require.Equal(t, "done", done.Event)
	assert.Equal(t, "Pointers hold addresses.", done.Data["artifact"])

	calls := backend.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "qwen2.5-coder:7b", calls[0].Model)
	assert.Equal(t, "llama3.2:1b", calls[1].Model, "fallback stays at or below the failed tier")
}

// TestFallbackModelAlsoUnavailable fails both the pinned model and its
// fallback: the stage surfaces an error event and the run still terminates
// with a done.
func TestFallbackModelAlsoUnavailable(t *testing.T) {
	backend := NewMockModelServer(t, defaultFleet()...)
	backend.FailModel("qwen2.5-coder:7b")
	backend.FailModel("llama3.2:1b")
	app := NewTestApp(t, backend)

	resp := openStream(t, context.Background(), app.BaseURL, url.Values{
		"task":  {"explain pointers in c"},
		"mode":  {"chat"},
		"model": {"qwen2.5-coder:7b"},
	})
	defer resp.Body.Close()
	evs := readEvents(t, resp.Body)
	require.NotEmpty(t, evs)

	errEv, ok := findEvent(evs, "error")
	require.True(t, ok)
	assert.Equal(t, "model_unavailable", errEv.Data["kind"])

	done := evs[len(evs)-1]
	require.Equal(t, "done", done.Event)
	assert.Equal(t, "", done.Data["artifact"])

	// One fallback attempt, never a second.
	require.Len(t, backend.Calls(), 2)
}
