package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgeline/forgeline/pkg/config"
)

func testLLMConfig() *config.LLMConfig {
	return &config.LLMConfig{
		DefaultTemperature: 0.2,
		DefaultTopP:        0.9,
		DefaultNumPredict:  2048,
		AttemptTimeout:     5 * time.Second,
		Backoff: &config.BackoffConfig{
			BaseDelay:   1 * time.Millisecond,
			MaxDelay:    5 * time.Millisecond,
			MaxAttempts: 3,
		},
	}
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *Pool) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	pool := NewPool(&config.PoolConfig{
		BaseURL:        srv.URL,
		MaxConnections: 4,
		RequestTimeout: 5 * time.Second,
	})
	t.Cleanup(pool.Close)
	return NewClient(pool, testLLMConfig()), pool
}

// writeStreamFrames writes line-delimited generate frames followed by a done frame.
func writeStreamFrames(w http.ResponseWriter, fragments ...string) {
	for _, f := range fragments {
		fmt.Fprintf(w, `{"response":%q,"done":false}`+"\n", f)
	}
	fmt.Fprintln(w, `{"response":"","done":true}`)
}

func TestGenerateReturnsResponse(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "qwen2.5-coder:7b", req.Model)
		assert.False(t, req.Stream)
		json.NewEncoder(w).Encode(generateResponse{Response: "hello world", Done: true})
	}))

	got := client.Generate(context.Background(), "say hello please, as a full greeting sentence with some padding to stay realistic", GenerateOptions{Model: "qwen2.5-coder:7b"})
	assert.Equal(t, "hello world", got)
}

func TestGenerateRetriesTransportErrors(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(generateResponse{Response: "eventually", Done: true})
	}))

	got := client.Generate(context.Background(), "prompt", GenerateOptions{Model: "m"})
	assert.Equal(t, "eventually", got)
	assert.Equal(t, int32(3), calls.Load())
}

func TestGenerateReturnsEmptyAfterExhaustedRetries(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))

	got := client.Generate(context.Background(), "prompt", GenerateOptions{Model: "m"})
	assert.Empty(t, got)
	assert.Equal(t, int32(3), calls.Load(), "max_attempts bounds the retry loop")
}

func TestGenerateDoesNotRetryMissingModel(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":"model \"ghost\" not found"}`)
	}))

	got := client.Generate(context.Background(), "prompt", GenerateOptions{Model: "ghost"})
	assert.Empty(t, got)
	assert.Equal(t, int32(1), calls.Load(), "ModelUnavailable must not be retried on the same model")
}

func TestGenerateAutoCapsNumPredictForShortPrompts(t *testing.T) {
	var seen atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		seen.Store(int32(req.Options.NumPredict))
		json.NewEncoder(w).Encode(generateResponse{Response: "ok", Done: true})
	}))

	client.Generate(context.Background(), "short", GenerateOptions{Model: "m", NumPredict: 4096})
	assert.Equal(t, int32(2048), seen.Load())
}

func TestGenerateStreamDemultiplexesThinking(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Tag split across transport frames on purpose.
		writeStreamFrames(w, "<th", "ink>plan</think>", "code")
	}))

	chunks, err := client.GenerateStream(context.Background(), "prompt", GenerateOptions{Model: "m"})
	require.NoError(t, err)

	var thinking, content string
	var done int
	for c := range chunks {
		switch {
		case c.IsDone:
			done++
			assert.Equal(t, "<think>plan</think>code", c.FullResponse)
		case c.IsThinking:
			thinking += c.Content
		default:
			content += c.Content
		}
	}
	assert.Equal(t, "plan", thinking)
	assert.Equal(t, "code", content)
	assert.Equal(t, 1, done, "stream must end with exactly one done chunk")
}

func TestGenerateStreamModelUnavailableIsSynchronous(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":"model \"gone\" not found"}`)
	}))

	_, err := client.GenerateStream(context.Background(), "prompt", GenerateOptions{Model: "gone"})
	require.Error(t, err)
	assert.True(t, IsModelUnavailable(err))
}

func TestGenerateStreamUnclosedThinkIsForcedClosed(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeStreamFrames(w, "<think>half-finished reasoning")
	}))

	chunks, err := client.GenerateStream(context.Background(), "prompt", GenerateOptions{Model: "m"})
	require.NoError(t, err)

	var thinking string
	var done bool
	for c := range chunks {
		if c.IsDone {
			done = true
		} else if c.IsThinking {
			thinking += c.Content
		}
	}
	assert.True(t, done)
	assert.Equal(t, "half-finished reasoning", thinking)
}

func TestErrorKindTaxonomy(t *testing.T) {
	assert.Equal(t, "timeout", ErrorKind(&TimeoutError{Op: "generate"}))
	assert.Equal(t, "transport", ErrorKind(&TransportError{Op: "generate", Err: fmt.Errorf("refused")}))
	assert.Equal(t, "model_unavailable", ErrorKind(&ModelUnavailableError{Model: "m"}))
	assert.Equal(t, "cancelled", ErrorKind(context.Canceled))
	assert.Equal(t, "internal", ErrorKind(fmt.Errorf("bug")))
	assert.Equal(t, "", ErrorKind(nil))

	assert.True(t, Retryable(&TimeoutError{}))
	assert.True(t, Retryable(&TransportError{Err: fmt.Errorf("reset")}))
	assert.False(t, Retryable(&ModelUnavailableError{Model: "m"}))
	assert.False(t, Retryable(context.Canceled))
}
