package e2e

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgeline/forgeline/pkg/events"
)

func postTask(t *testing.T, app *TestApp, task string) string {
	t.Helper()
	body := fmt.Sprintf(`{"task":%q,"mode":"chat"}`, task)
	resp, err := http.Post(app.BaseURL+"/tasks", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		TaskID string `json:"task_id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotEmpty(t, out.TaskID)
	return out.TaskID
}

func waitDone(t *testing.T, app *TestApp, id string) {
	t.Helper()
	require.Eventually(t, func() bool {
		evs := app.Store.Events(id)
		return len(evs) > 0 && evs[len(evs)-1].Type == events.Done
	}, 2*time.Second, 5*time.Millisecond, "session %s never finished", id)
}

// TestSessionCapEvictsLeastRecentlyActive caps the store at three sessions
// and runs four tasks: the oldest completed session must be gone, the rest
// replayable.
func TestSessionCapEvictsLeastRecentlyActive(t *testing.T) {
	backend := NewMockModelServer(t, defaultFleet()...)
	backend.Script(Rule{Marker: "helpful programming assistant", Response: "Hi."})
	app := NewTestApp(t, backend, WithStoreLimits(3, time.Hour, time.Hour))

	var ids []string
	for i := 0; i < 4; i++ {
		id := postTask(t, app, fmt.Sprintf("question number %d", i))
		waitDone(t, app, id)
		ids = append(ids, id)
	}

	assert.Equal(t, 3, app.Store.Count())
	assert.Nil(t, app.Store.Events(ids[0]), "oldest session is evicted")
	for _, id := range ids[1:] {
		assert.NotNil(t, app.Store.Events(id))
	}
}

// TestEventTTLSweepRemovesIdleSessions runs one task under a very short TTL
// and waits for the background sweep to reclaim it.
func TestEventTTLSweepRemovesIdleSessions(t *testing.T) {
	backend := NewMockModelServer(t, defaultFleet()...)
	backend.Script(Rule{Marker: "helpful programming assistant", Response: "Hi."})
	app := NewTestApp(t, backend, WithStoreLimits(10, 50*time.Millisecond, 20*time.Millisecond))

	id := postTask(t, app, "a question that finishes fast")
	waitDone(t, app, id)
	require.Equal(t, 1, app.Store.Count())

	require.Eventually(t, func() bool {
		return app.Store.Count() == 0
	}, 2*time.Second, 10*time.Millisecond, "sweeper never reclaimed the idle session")
}
