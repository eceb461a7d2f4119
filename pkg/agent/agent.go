package agent

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/forgeline/forgeline/pkg/config"
	"github.com/forgeline/forgeline/pkg/events"
	"github.com/forgeline/forgeline/pkg/llm"
	"github.com/forgeline/forgeline/pkg/registry"
	"github.com/forgeline/forgeline/pkg/stream"
)

// llmStreamer is the slice of the LLM client an agent needs.
type llmStreamer interface {
	GenerateStream(ctx context.Context, prompt string, opts llm.GenerateOptions) (<-chan llm.StreamChunk, error)
}

// modelRouter is the slice of the router an agent needs.
type modelRouter interface {
	SelectModel(taskType registry.TaskType, preferred string, cx registry.Complexity) (*registry.Selection, error)
	Fallback(failed string, taskType registry.TaskType, cx registry.Complexity) *registry.Selection
}

// Event is one emission from an agent run, ready for the event store.
type Event struct {
	Type    events.EventType
	Payload any
}

// EmitFunc receives agent events in order. It must not block indefinitely.
type EmitFunc func(Event)

// Result is the outcome of one agent stage.
type Result struct {
	Artifact    string // post-processed output (fences stripped)
	Raw         string // full model response including thinking tags
	Model       string
	Fallbacks   int // number of model-fallback restarts (0 or 1)
	Interrupted bool
	Greeting    bool // trivial-intent short circuit, no LLM call made
}

// Agent runs one pipeline stage end to end. An Agent is single-use per
// Execute call but safe to Interrupt from another goroutine.
type Agent struct {
	stage     Stage
	client    llmStreamer
	router    modelRouter
	streamCfg *config.StreamConfig
	prompts   *PromptBuilder

	interrupted atomic.Bool
	mgr         atomic.Pointer[stream.Manager]
}

func New(stage Stage, client llmStreamer, router modelRouter, streamCfg *config.StreamConfig) *Agent {
	return &Agent{
		stage:     stage,
		client:    client,
		router:    router,
		streamCfg: streamCfg,
		prompts:   NewPromptBuilder(),
	}
}

func (a *Agent) Stage() Stage { return a.stage }

// Interrupt stops the current stream after the in-flight chunk. The
// interrupted marker reaches the event stream within one chunk.
func (a *Agent) Interrupt() {
	a.interrupted.Store(true)
	if m := a.mgr.Load(); m != nil {
		m.Interrupt()
	}
}

// Execute runs the stage: select a model, build the prompt, stream, emit
// events, post-process. On ModelUnavailable it falls back exactly once,
// rebuilding the prompt for the replacement model. Errors that end the run
// are emitted as error events before returning.
func (a *Agent) Execute(ctx context.Context, in Inputs, emit EmitFunc) (Result, error) {
	if emit == nil {
		emit = func(Event) {}
	}

	if a.stage == StageIntent && IsGreeting(in.Task) {
		return Result{Greeting: true}, nil
	}

	cx := registry.Complexity(in.Complexity)
	sel, err := a.router.SelectModel(a.stage.TaskType(), in.Model, cx)
	if err != nil {
		a.emitError(emit, err)
		return Result{}, err
	}

	res := Result{Model: sel.Model}
	for {
		prompt := a.prompts.Build(a.stage, in, sel.IsReasoning)
		chunks, err := a.client.GenerateStream(ctx, prompt, llm.GenerateOptions{
			Model:       sel.Model,
			Temperature: in.Temperature,
		})
		if err != nil {
			if llm.IsModelUnavailable(err) && res.Fallbacks == 0 {
				if fb := a.router.Fallback(sel.Model, a.stage.TaskType(), cx); fb != nil {
					slog.Warn("Model unavailable, restarting stage on fallback",
						"stage", a.stage, "failed", sel.Model, "fallback", fb.Model)
					sel = fb
					res.Fallbacks++
					res.Model = sel.Model
					continue
				}
			}
			a.emitError(emit, err)
			return res, err
		}

		mgr := stream.NewManager(a.streamCfg)
		a.mgr.Store(mgr)
		if a.interrupted.Load() {
			mgr.Interrupt()
		}

		var content strings.Builder
		for out := range mgr.Process(ctx, chunks) {
			switch o := out.(type) {
			case stream.Thinking:
				emit(Event{Type: thinkingEvent(o.Status), Payload: a.thinkingPayload(o)})
			case stream.Content:
				content.WriteString(o.Text)
				emit(Event{Type: a.stage.ChunkEvent(), Payload: events.ChunkPayload{
					Content:   o.Text,
					SessionID: in.SessionID,
					Timestamp: time.Now().UnixMilli(),
				}})
			case stream.Done:
				res.Raw = o.Full
			}
		}
		if ctx.Err() != nil {
			res.Interrupted = true
			return res, ctx.Err()
		}

		res.Artifact = ExtractCode(content.String())
		res.Interrupted = a.interrupted.Load()
		return res, nil
	}
}

// Run is the synchronous twin of Execute: same semantics, events discarded.
func (a *Agent) Run(ctx context.Context, in Inputs) (Result, error) {
	return a.Execute(ctx, in, nil)
}

// Stream runs the stage and delivers events on a channel, terminated by an
// agent-level done event carrying the stage artifact.
func (a *Agent) Stream(ctx context.Context, in Inputs) <-chan Event {
	ch := make(chan Event)
	go func() {
		defer close(ch)
		send := func(ev Event) {
			select {
			case ch <- ev:
			case <-ctx.Done():
			}
		}
		res, _ := a.Execute(ctx, in, send)
		send(Event{Type: events.Done, Payload: events.DonePayload{
			SessionID: in.SessionID,
			Artifact:  res.Artifact,
		}})
	}()
	return ch
}

func (a *Agent) emitError(emit EmitFunc, err error) {
	emit(Event{Type: events.Error, Payload: events.ErrorPayload{
		Kind:      llm.ErrorKind(err),
		Message:   err.Error(),
		Retryable: llm.Retryable(err),
	}})
}

func (a *Agent) thinkingPayload(t stream.Thinking) events.ThinkingPayload {
	return events.ThinkingPayload{
		Stage:      string(a.stage),
		Content:    t.Content,
		Status:     string(t.Status),
		ElapsedMS:  t.ElapsedMS,
		TotalChars: t.TotalChars,
		Summary:    t.Summary,
		Timestamp:  time.Now().UnixMilli(),
	}
}

func thinkingEvent(st stream.ThinkingStatus) events.EventType {
	switch st {
	case stream.ThinkingStarted:
		return events.ThinkingStarted
	case stream.ThinkingCompleted:
		return events.ThinkingCompleted
	case stream.ThinkingInterrupted:
		return events.ThinkingInterrupted
	default:
		return events.ThinkingInProgress
	}
}

// greetings are trivial intents that short-circuit without an LLM call.
var greetings = map[string]struct{}{
	"hi": {}, "hello": {}, "hey": {}, "yo": {}, "thanks": {}, "thank you": {},
	"good morning": {}, "good evening": {}, "how are you": {},
}

// IsGreeting reports whether a task is a trivial greeting.
func IsGreeting(task string) bool {
	t := strings.ToLower(strings.TrimSpace(task))
	t = strings.Trim(t, "!.,?")
	_, ok := greetings[t]
	return ok
}
