package e2e

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// SSEEvent is one parsed server-sent event.
type SSEEvent struct {
	ID    string
	Event string
	Data  map[string]any
}

// openStream issues GET /stream with the given query and returns the live
// response. The caller owns the body.
func openStream(t *testing.T, ctx context.Context, baseURL string, query url.Values) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		baseURL+"/stream?"+query.Encode(), nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	return resp
}

// readEvents parses SSE frames until the body ends (the server closes it
// after the done event).
func readEvents(t *testing.T, body io.Reader) []SSEEvent {
	t.Helper()
	var out []SSEEvent
	var cur SSEEvent

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if cur.Event != "" {
				out = append(out, cur)
			}
			cur = SSEEvent{}
		case strings.HasPrefix(line, "id: "):
			cur.ID = strings.TrimPrefix(line, "id: ")
		case strings.HasPrefix(line, "event: "):
			cur.Event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			payload := strings.TrimPrefix(line, "data: ")
			var data map[string]any
			if err := json.Unmarshal([]byte(payload), &data); err == nil {
				cur.Data = data
			}
		}
	}
	return out
}

// eventTypes lists the event names in arrival order.
func eventTypes(evs []SSEEvent) []string {
	out := make([]string, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev.Event)
	}
	return out
}

// findEvent returns the first event of the given type.
func findEvent(evs []SSEEvent, typ string) (SSEEvent, bool) {
	for _, ev := range evs {
		if ev.Event == typ {
			return ev, true
		}
	}
	return SSEEvent{}, false
}

// joinChunks concatenates the content of every event of the given type.
func joinChunks(evs []SSEEvent, typ string) string {
	var sb strings.Builder
	for _, ev := range evs {
		if ev.Event != typ {
			continue
		}
		if content, ok := ev.Data["content"].(string); ok {
			sb.WriteString(content)
		}
	}
	return sb.String()
}
