package llm

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/forgeline/forgeline/pkg/config"
)

// generateEndpoint is the model server's completion endpoint.
// The wire protocol is the common local-model "generate" shape: a JSON
// request with {model, prompt, options, stream}, and for streams a sequence
// of line-delimited JSON frames {response, done}.
const generateEndpoint = "/api/generate"

// shortPromptChars is the prompt length below which a large num_predict is
// auto-capped for latency.
const shortPromptChars = 500

// largeNumPredict is the threshold above which the auto-cap applies.
const largeNumPredict = 1024

// StreamChunk is one demultiplexed unit of a streaming generate call.
type StreamChunk struct {
	// Content is the text fragment of this chunk.
	Content string
	// IsThinking classifies the fragment (inside reasoning tags or not).
	IsThinking bool
	// IsDone marks the terminal chunk.
	IsDone bool
	// FullResponse is the raw response accumulated so far, tags included.
	FullResponse string
}

// GenerateOptions are per-call generation parameters. Zero values fall back
// to configured defaults.
type GenerateOptions struct {
	Model       string
	Temperature float64
	TopP        float64
	NumPredict  int
	Timeout     time.Duration
}

// Client wraps the model server with retries, per-attempt timeouts, and a
// streaming generate primitive that yields tagged chunks.
type Client struct {
	pool   *Pool
	cfg    *config.LLMConfig
	policy BackoffPolicy
}

// NewClient creates an LLM client over the given pool.
func NewClient(pool *Pool, cfg *config.LLMConfig) *Client {
	return &Client{
		pool:   pool,
		cfg:    cfg,
		policy: NewBackoffPolicy(cfg.Backoff),
	}
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Options generateOptions `json:"options"`
	Stream  bool            `json:"stream"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	NumPredict  int     `json:"num_predict"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// resolve fills option defaults and applies the short-prompt latency cap.
func (c *Client) resolve(prompt string, opts GenerateOptions) GenerateOptions {
	if opts.Temperature == 0 {
		opts.Temperature = c.cfg.DefaultTemperature
	}
	if opts.TopP == 0 {
		opts.TopP = c.cfg.DefaultTopP
	}
	if opts.NumPredict == 0 {
		opts.NumPredict = c.cfg.DefaultNumPredict
	}
	if opts.Timeout == 0 {
		opts.Timeout = c.cfg.AttemptTimeout
	}
	if len(prompt) < shortPromptChars && opts.NumPredict > largeNumPredict {
		opts.NumPredict /= 2
	}
	return opts
}

// Generate completes a prompt in one shot. Timeouts and transport errors are
// retried with exponential backoff; if all attempts fail the empty string is
// returned and the failure is logged; callers never see an error from this
// path. ModelUnavailable is not retried here (the agent handles fallback).
func (c *Client) Generate(ctx context.Context, prompt string, opts GenerateOptions) string {
	opts = c.resolve(prompt, opts)

	var result string
	err := c.policy.Retry(ctx, func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
		defer cancel()

		data, err := c.pool.Request(attemptCtx, "POST", generateEndpoint, generateRequest{
			Model:  opts.Model,
			Prompt: prompt,
			Options: generateOptions{
				Temperature: opts.Temperature,
				TopP:        opts.TopP,
				NumPredict:  opts.NumPredict,
			},
			Stream: false,
		})
		if err != nil {
			err = classify(err, opts.Model, opts.Timeout)
			if !Retryable(err) {
				return Permanent(err)
			}
			return err
		}

		var resp generateResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			return Permanent(fmt.Errorf("decode generate response: %w", err))
		}
		if resp.Error != "" {
			return Permanent(classifyServerError(resp.Error, opts.Model))
		}
		result = resp.Response
		return nil
	})
	if err != nil {
		slog.Error("LLM generate failed after retries",
			"model", opts.Model, "attempts", c.policy.MaxAttempts(), "error", err)
		return ""
	}
	return result
}

// GenerateStream starts a streaming generate call and returns a channel of
// tagged chunks. The channel always ends with exactly one IsDone chunk and is
// then closed. Setup failures (including ModelUnavailable) are returned
// synchronously so the caller can route a fallback.
func (c *Client) GenerateStream(ctx context.Context, prompt string, opts GenerateOptions) (<-chan StreamChunk, error) {
	opts = c.resolve(prompt, opts)

	streamCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	body, err := c.pool.Stream(streamCtx, "POST", generateEndpoint, generateRequest{
		Model:  opts.Model,
		Prompt: prompt,
		Options: generateOptions{
			Temperature: opts.Temperature,
			TopP:        opts.TopP,
			NumPredict:  opts.NumPredict,
		},
		Stream: true,
	})
	if err != nil {
		cancel()
		return nil, classify(err, opts.Model, opts.Timeout)
	}

	chunks := make(chan StreamChunk, 64)
	go func() {
		defer close(chunks)
		defer cancel()
		defer body.Close()

		var splitter TagSplitter
		var full strings.Builder

		emit := func(seg Segment) bool {
			select {
			case chunks <- StreamChunk{
				Content:      seg.Text,
				IsThinking:   seg.Thinking,
				FullResponse: full.String(),
			}:
				return true
			case <-ctx.Done():
				return false
			}
		}

		finish := func() {
			tail, unclosed := splitter.Flush()
			for _, seg := range tail {
				if !emit(seg) {
					return
				}
			}
			if unclosed {
				slog.Warn("Stream ended inside unclosed thinking tag; force-closing",
					"model", opts.Model)
			}
			select {
			case chunks <- StreamChunk{IsDone: true, FullResponse: full.String()}:
			case <-ctx.Done():
			}
		}

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			if ctx.Err() != nil {
				finish()
				return
			}
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}

			var frame generateResponse
			if err := json.Unmarshal([]byte(line), &frame); err != nil {
				slog.Warn("Skipping malformed stream frame", "model", opts.Model, "error", err)
				continue
			}
			if frame.Error != "" {
				slog.Error("Model server reported mid-stream error",
					"model", opts.Model, "error", frame.Error)
				finish()
				return
			}

			if frame.Response != "" {
				full.WriteString(frame.Response)
				for _, seg := range splitter.Feed(frame.Response) {
					if !emit(seg) {
						return
					}
				}
			}
			if frame.Done {
				finish()
				return
			}
		}
		if err := scanner.Err(); err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("Stream read ended with error", "model", opts.Model, "error", err)
		}
		finish()
	}()

	return chunks, nil
}

// classify translates pool-level errors into the LLM error taxonomy.
func classify(err error, model string, timeout time.Duration) error {
	var se *StatusError
	if errors.As(err, &se) {
		if se.Status == 404 || strings.Contains(se.Body, "not found") {
			return &ModelUnavailableError{Model: model}
		}
		return &TransportError{Op: "generate", Err: se}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Op: "generate", Timeout: timeout}
	}
	return err
}

// classifyServerError maps an in-band error string from the model server.
func classifyServerError(msg, model string) error {
	if strings.Contains(msg, "not found") || strings.Contains(msg, "not loaded") {
		return &ModelUnavailableError{Model: model}
	}
	return &TransportError{Op: "generate", Err: errors.New(msg)}
}
