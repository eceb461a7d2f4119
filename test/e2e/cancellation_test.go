package e2e

import (
	"context"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestClientDisconnectCancelsPipeline holds the planner stage open at the
// model server, drops the SSE client, and verifies the run is torn down
// promptly instead of generating into the void.
func TestClientDisconnectCancelsPipeline(t *testing.T) {
	backend := NewMockModelServer(t, defaultFleet()...)
	backend.Script(Rule{Marker: "planning an implementation", Block: true})
	app := NewTestApp(t, backend)

	ctx, cancel := context.WithCancel(context.Background())
	resp := openStream(t, ctx, app.BaseURL, url.Values{
		"task": {"write a python function that prints hello"},
		"mode": {"code"},
	})
	defer resp.Body.Close()

	// Wait until the backend is actually holding the planner call.
	select {
	case <-backend.Blocked():
	case <-time.After(2 * time.Second):
		t.Fatal("planner call never reached the model server")
	}
	require.Equal(t, 1, app.Orch.Running())

	cancel()

	require.Eventually(t, func() bool {
		return app.Orch.Running() == 0
	}, 500*time.Millisecond, 5*time.Millisecond, "disconnect must stop the run quickly")

	// The pipeline never advanced past the interrupted stage.
	assert.Empty(t, backend.CallsMatching("Write tests"))
	assert.Empty(t, backend.CallsMatching("Implement the task"))
}

// TestExplicitCancelEndpoint cancels a held run through the API instead of a
// disconnect; the stream must still terminate with a done event.
func TestExplicitCancelEndpoint(t *testing.T) {
	backend := NewMockModelServer(t, defaultFleet()...)
	backend.Script(Rule{Marker: "planning an implementation", Block: true})
	app := NewTestApp(t, backend)

	resp := openStream(t, context.Background(), app.BaseURL, url.Values{
		"task": {"write a python function that prints hello"},
		"mode": {"code"},
	})
	defer resp.Body.Close()

	select {
	case <-backend.Blocked():
	case <-time.After(2 * time.Second):
		t.Fatal("planner call never reached the model server")
	}

	sessions := app.Store.Sessions()
	require.Len(t, sessions, 1)
	id := sessions[0].SessionID

	cancelResp, err := http.Post(app.BaseURL+"/sessions/"+id+"/cancel", "application/json", nil)
	require.NoError(t, err)
	cancelResp.Body.Close()
	require.Equal(t, http.StatusOK, cancelResp.StatusCode)

	// The server closes the stream after the done event reaches the client.
	evs := readEvents(t, resp.Body)
	require.NotEmpty(t, evs)
	assert.Equal(t, "done", evs[len(evs)-1].Event)

	require.Eventually(t, func() bool {
		return app.Orch.Running() == 0
	}, 500*time.Millisecond, 5*time.Millisecond)
}
