package orchestrator

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/forgeline/forgeline/pkg/agent"
	"github.com/forgeline/forgeline/pkg/config"
	"github.com/forgeline/forgeline/pkg/events"
	"github.com/forgeline/forgeline/pkg/llm"
	"github.com/forgeline/forgeline/pkg/metrics"
	"github.com/forgeline/forgeline/pkg/registry"
)

// llmStreamer matches the LLM client surface the agents consume.
type llmStreamer interface {
	GenerateStream(ctx context.Context, prompt string, opts llm.GenerateOptions) (<-chan llm.StreamChunk, error)
}

// modelRouter matches the router surface the agents consume.
type modelRouter interface {
	SelectModel(taskType registry.TaskType, preferred string, cx registry.Complexity) (*registry.Selection, error)
	Fallback(failed string, taskType registry.TaskType, cx registry.Complexity) *registry.Selection
}

// Task is one client request bound to a session.
type Task struct {
	SessionID     string
	Task          string
	Mode          string // "auto", "code", or "chat"
	Model         string
	Temperature   float64
	MaxIterations int
}

// run tracks one in-flight session for cancellation.
type run struct {
	cancel  context.CancelFunc
	current *agent.Agent
	mu      sync.Mutex
}

func (r *run) setCurrent(a *agent.Agent) {
	r.mu.Lock()
	r.current = a
	r.mu.Unlock()
}

func (r *run) interrupt() {
	r.mu.Lock()
	if r.current != nil {
		r.current.Interrupt()
	}
	r.mu.Unlock()
}

// Orchestrator owns session lifecycles: it runs the stage pipeline, persists
// every agent event, and guarantees exactly one terminating done event per
// session whatever happens.
type Orchestrator struct {
	cfg       *config.OrchestratorConfig
	streamCfg *config.StreamConfig
	client    llmStreamer
	router    modelRouter
	store     *events.Store
	collector *metrics.Collector
	validator Validator

	mu      sync.Mutex
	running map[string]*run
}

func New(
	cfg *config.OrchestratorConfig,
	streamCfg *config.StreamConfig,
	client llmStreamer,
	router modelRouter,
	store *events.Store,
	collector *metrics.Collector,
) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		streamCfg: streamCfg,
		client:    client,
		router:    router,
		store:     store,
		collector: collector,
		validator: NewValidator(),
		running:   make(map[string]*run),
	}
}

// SetValidator swaps the validate-stage collaborator. Must be called before
// any Execute.
func (o *Orchestrator) SetValidator(v Validator) { o.validator = v }

// Running returns the number of in-flight sessions.
func (o *Orchestrator) Running() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.running)
}

// CancelSession interrupts a running session. Returns false if the session
// is not running.
func (o *Orchestrator) CancelSession(sessionID string) bool {
	o.mu.Lock()
	r, ok := o.running[sessionID]
	o.mu.Unlock()
	if !ok {
		return false
	}
	r.interrupt()
	r.cancel()
	return true
}

// Execute runs one task to completion. It blocks; callers launch it on a
// goroutine. The session's event log always ends with exactly one done.
func (o *Orchestrator) Execute(ctx context.Context, t Task) {
	ctx, cancel := context.WithCancel(ctx)
	r := &run{cancel: cancel}

	o.mu.Lock()
	o.running[t.SessionID] = r
	o.mu.Unlock()

	defer func() {
		cancel()
		o.mu.Lock()
		delete(o.running, t.SessionID)
		o.mu.Unlock()
	}()

	var (
		artifact   string
		score      float64
		iterations int
		doneSent   bool
	)
	sendDone := func() {
		if doneSent {
			return
		}
		doneSent = true
		o.store.SaveEvent(t.SessionID, events.Done, events.DonePayload{
			SessionID:    t.SessionID,
			Artifact:     artifact,
			QualityScore: score,
			Iterations:   iterations,
		})
	}
	defer sendDone()

	emit := func(ev agent.Event) {
		o.store.SaveEvent(t.SessionID, ev.Type, ev.Payload)
	}

	mode := t.Mode
	if mode == "" || mode == "auto" {
		mode = o.classify(ctx, r, t, emit)
	}

	switch mode {
	case "greeting":
		return // empty artifact, done via defer
	case "chat":
		res, _ := o.runStage(ctx, r, agent.StageChat, agent.Inputs{
			SessionID:   t.SessionID,
			Task:        t.Task,
			Model:       t.Model,
			Temperature: t.Temperature,
		}, emit)
		artifact = res.Artifact
		iterations = 1
		return
	}

	artifact, score, iterations = o.codePipeline(ctx, r, t, emit)
}

// classify resolves auto mode via the intent stage. Classification failures
// default to the code pipeline; a wrong guess is recoverable, a dropped task
// is not.
func (o *Orchestrator) classify(ctx context.Context, r *run, t Task, emit agent.EmitFunc) string {
	res, err := o.runStage(ctx, r, agent.StageIntent, agent.Inputs{
		SessionID:  t.SessionID,
		Task:       t.Task,
		Model:      t.Model,
		Complexity: string(registry.ComplexitySimple),
	}, emit)
	if err != nil {
		return "code"
	}
	if res.Greeting {
		return "greeting"
	}
	switch strings.ToLower(strings.TrimSpace(res.Artifact)) {
	case "chat":
		return "chat"
	case "greeting":
		return "greeting"
	default:
		return "code"
	}
}

// codePipeline is plan → test → code → validate → reflect, looping back to
// the coding stage while the composite quality score stays under the
// threshold and retries remain.
func (o *Orchestrator) codePipeline(ctx context.Context, r *run, t Task, emit agent.EmitFunc) (string, float64, int) {
	// Only the coding stage scales with the task's complexity grade. The
	// supporting stages route by their own stage defaults: planning takes
	// the lightest model above the intent floor, testing and reflection aim
	// for simple and stay off reasoning models.
	cx := complexityFor(t.Task)
	base := agent.Inputs{
		SessionID:   t.SessionID,
		Task:        t.Task,
		Model:       t.Model,
		Temperature: t.Temperature,
	}

	maxIter := t.MaxIterations
	if maxIter <= 0 {
		maxIter = o.cfg.DefaultMaxIterations
	}
	maxRetries := o.cfg.MaxRetries
	if maxRetries > maxIter-1 {
		maxRetries = maxIter - 1
	}

	planIn := base
	plan, err := o.runStage(ctx, r, agent.StagePlanner, planIn, emit)
	if err != nil && ctx.Err() != nil {
		return "", 0, 0
	}

	testIn := base
	testIn.Plan = plan.Artifact
	tests, err := o.runStage(ctx, r, agent.StageTester, testIn, emit)
	if err != nil && ctx.Err() != nil {
		return "", 0, 0
	}

	var (
		code     agent.Result
		score    float64
		feedback string
	)
	iteration := 0
	for {
		iteration++

		codeIn := base
		codeIn.Complexity = string(cx)
		codeIn.Plan = plan.Artifact
		codeIn.Tests = tests.Artifact
		codeIn.Feedback = feedback
		code, err = o.runStage(ctx, r, agent.StageCoder, codeIn, emit)
		if err != nil && ctx.Err() != nil {
			return code.Artifact, 0, iteration
		}

		criticIn := base
		criticIn.Code = code.Artifact
		critic, err := o.runStage(ctx, r, agent.StageCritic, criticIn, emit)
		if err != nil && ctx.Err() != nil {
			return code.Artifact, 0, iteration
		}

		validation := o.validator.Validate(ctx, code.Artifact, tests.Artifact, critic.Artifact)
		score = validation.Score()

		reflectIn := base
		reflectIn.Code = code.Artifact
		reflectIn.Feedback = critic.Artifact
		reflect, err := o.runStage(ctx, r, agent.StageReflector, reflectIn, emit)
		if err != nil && ctx.Err() != nil {
			return code.Artifact, score, iteration
		}

		if score >= o.cfg.QualityThreshold || iteration > maxRetries {
			if score < o.cfg.QualityThreshold {
				slog.Warn("Quality below threshold after final retry",
					"session_id", t.SessionID, "score", score)
			}
			return code.Artifact, score, iteration
		}

		slog.Info("Quality below threshold, re-entering coding stage",
			"session_id", t.SessionID, "score", score, "iteration", iteration)
		feedback = critic.Artifact
		if reflect.Artifact != "" {
			feedback += "\n" + reflect.Artifact
		}
	}
}

// runStage executes one agent stage under the stage timeout and records its
// duration. Stage errors are not fatal to the pipeline: the agent has
// already emitted an error event, and downstream stages see an empty
// artifact.
func (o *Orchestrator) runStage(ctx context.Context, r *run, stage agent.Stage, in agent.Inputs, emit agent.EmitFunc) (agent.Result, error) {
	a := agent.New(stage, o.client, o.router, o.streamCfg)
	r.setCurrent(a)

	sctx := ctx
	if o.cfg.StageTimeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(ctx, o.cfg.StageTimeout)
		defer cancel()
	}

	start := time.Now()
	res, err := a.Execute(sctx, in, emit)
	if o.collector != nil {
		o.collector.Record(string(stage), time.Since(start), err == nil)
	}
	if err != nil && ctx.Err() == nil {
		slog.Warn("Stage failed, continuing with empty artifact",
			"stage", stage, "session_id", in.SessionID, "error", err)
	}
	return res, err
}

// complexityFor grades a task from its surface shape. The grade only seeds
// coding-stage model selection; a wrong grade costs latency, not
// correctness.
func complexityFor(task string) registry.Complexity {
	lower := strings.ToLower(task)
	for _, kw := range []string{"concurrent", "distributed", "optimize", "architecture", "thread", "parallel"} {
		if strings.Contains(lower, kw) {
			return registry.ComplexityComplex
		}
	}
	if len(task) > 400 {
		return registry.ComplexityComplex
	}
	if len(task) < 80 {
		return registry.ComplexitySimple
	}
	return registry.ComplexityMedium
}
