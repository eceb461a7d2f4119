// Package e2e provides end-to-end test infrastructure for the forgeline
// pipeline: a scriptable mock model server, a full-stack harness, and an SSE
// client.
package e2e

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// ModelSpec describes one model the mock server advertises.
type ModelSpec struct {
	Name      string
	ParamSize string // e.g. "7B"
	SizeBytes int64
	Family    string
}

// Rule scripts the response for generate calls whose prompt contains Marker.
// Rules are matched in registration order; the first hit wins.
type Rule struct {
	Marker   string
	Thinking string // streamed inside <think> tags before the response
	Response string
	Block    bool // emit one thinking frame, then hold until the client goes away
}

// GenerateCall is one recorded generate request.
type GenerateCall struct {
	Model  string
	Prompt string
}

// MockModelServer speaks the local model server protocol: a model listing at
// /api/tags and line-delimited JSON stream frames from /api/generate.
type MockModelServer struct {
	srv *httptest.Server

	mu      sync.Mutex
	models  []ModelSpec
	rules   []Rule
	failing map[string]bool
	calls   []GenerateCall
	blocked chan struct{}
}

func NewMockModelServer(t *testing.T, models ...ModelSpec) *MockModelServer {
	t.Helper()
	m := &MockModelServer{
		models:  models,
		failing: make(map[string]bool),
		blocked: make(chan struct{}, 16),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", m.handleTags)
	mux.HandleFunc("/api/generate", m.handleGenerate)
	m.srv = httptest.NewServer(mux)
	t.Cleanup(m.srv.Close)
	return m
}

func (m *MockModelServer) URL() string { return m.srv.URL }

// Script appends a generate rule.
func (m *MockModelServer) Script(r Rule) {
	m.mu.Lock()
	m.rules = append(m.rules, r)
	m.mu.Unlock()
}

// FailModel makes generate calls for the named model return 404.
func (m *MockModelServer) FailModel(name string) {
	m.mu.Lock()
	m.failing[name] = true
	m.mu.Unlock()
}

// Calls returns all generate calls recorded so far.
func (m *MockModelServer) Calls() []GenerateCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]GenerateCall(nil), m.calls...)
}

// CallsMatching returns generate calls whose prompt contains marker.
func (m *MockModelServer) CallsMatching(marker string) []GenerateCall {
	var out []GenerateCall
	for _, c := range m.Calls() {
		if strings.Contains(c.Prompt, marker) {
			out = append(out, c)
		}
	}
	return out
}

// Blocked is signalled each time a Block rule starts holding a connection.
func (m *MockModelServer) Blocked() <-chan struct{} { return m.blocked }

func (m *MockModelServer) handleTags(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	models := append([]ModelSpec(nil), m.models...)
	m.mu.Unlock()

	type details struct {
		ParameterSize     string `json:"parameter_size"`
		QuantizationLevel string `json:"quantization_level"`
		Family            string `json:"family"`
	}
	type entry struct {
		Name    string  `json:"name"`
		Size    int64   `json:"size"`
		Details details `json:"details"`
	}
	entries := make([]entry, 0, len(models))
	for _, spec := range models {
		entries = append(entries, entry{
			Name: spec.Name,
			Size: spec.SizeBytes,
			Details: details{
				ParameterSize:     spec.ParamSize,
				QuantizationLevel: "Q4_K_M",
				Family:            spec.Family,
			},
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"models": entries})
}

func (m *MockModelServer) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Model  string `json:"model"`
		Prompt string `json:"prompt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	m.calls = append(m.calls, GenerateCall{Model: req.Model, Prompt: req.Prompt})
	failing := m.failing[req.Model]
	rule, found := m.matchLocked(req.Prompt)
	m.mu.Unlock()

	if failing {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintf(w, `{"error":"model %q not found"}`, req.Model)
		return
	}
	if !found {
		rule = Rule{Response: "OK"}
	}

	flusher := w.(http.Flusher)
	w.Header().Set("Content-Type", "application/x-ndjson")

	frame := func(text string, done bool) {
		_ = json.NewEncoder(w).Encode(map[string]any{"response": text, "done": done})
		flusher.Flush()
	}

	if rule.Block {
		frame("<think>holding", false)
		select {
		case m.blocked <- struct{}{}:
		default:
		}
		<-r.Context().Done()
		return
	}

	if rule.Thinking != "" {
		frame("<think>", false)
		for _, word := range strings.SplitAfter(rule.Thinking, " ") {
			frame(word, false)
		}
		frame("</think>", false)
	}
	for _, word := range strings.SplitAfter(rule.Response, " ") {
		frame(word, false)
	}
	frame("", true)
}

func (m *MockModelServer) matchLocked(prompt string) (Rule, bool) {
	for _, r := range m.rules {
		if strings.Contains(prompt, r.Marker) {
			return r, true
		}
	}
	return Rule{}, false
}
