// Package lifecycle provides request draining and ordered, time-boxed
// shutdown of the process's long-lived components.
package lifecycle

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/forgeline/forgeline/pkg/config"
)

// Tracker counts in-flight requests so shutdown can drain them.
type Tracker struct {
	active atomic.Int64
}

func NewTracker() *Tracker { return &Tracker{} }

func (t *Tracker) Begin() { t.active.Add(1) }
func (t *Tracker) End()   { t.active.Add(-1) }

// Active returns the current in-flight count.
func (t *Tracker) Active() int64 { return t.active.Load() }

// Drain blocks until the in-flight count reaches zero or ctx expires.
func (t *Tracker) Drain(ctx context.Context) error {
	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()
	for {
		if t.active.Load() == 0 {
			return nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Step is one named cleanup action with its own time budget. A zero Timeout
// uses the configured default step timeout.
type Step struct {
	Name    string
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

// ShutdownManager drains in-flight requests, then runs cleanup steps in
// registration order, each under its own timeout. A step that times out or
// fails logs a warning and the sequence proceeds; shutdown never hangs on a
// single component.
type ShutdownManager struct {
	cfg     *config.LifecycleConfig
	tracker *Tracker

	mu    sync.Mutex
	steps []Step

	inProgress atomic.Bool
	done       chan struct{}
	once       sync.Once
}

func NewShutdownManager(cfg *config.LifecycleConfig, tracker *Tracker) *ShutdownManager {
	return &ShutdownManager{
		cfg:     cfg,
		tracker: tracker,
		done:    make(chan struct{}),
	}
}

// AddStep registers a cleanup step. Steps run in registration order.
func (m *ShutdownManager) AddStep(step Step) {
	m.mu.Lock()
	m.steps = append(m.steps, step)
	m.mu.Unlock()
}

// InProgress reports whether shutdown has started.
func (m *ShutdownManager) InProgress() bool { return m.inProgress.Load() }

// Done is closed when shutdown has fully completed.
func (m *ShutdownManager) Done() <-chan struct{} { return m.done }

// Shutdown runs the full sequence: flag, drain, steps. Idempotent; later
// calls wait for the first to finish.
func (m *ShutdownManager) Shutdown(ctx context.Context) {
	m.once.Do(func() {
		defer close(m.done)
		m.inProgress.Store(true)

		m.drain(ctx)

		m.mu.Lock()
		steps := append([]Step(nil), m.steps...)
		m.mu.Unlock()
		for _, step := range steps {
			m.runStep(ctx, step)
		}
		slog.Info("Shutdown complete")
	})
	<-m.done
}

func (m *ShutdownManager) drain(ctx context.Context) {
	if m.tracker == nil {
		return
	}
	dctx, cancel := context.WithTimeout(ctx, m.cfg.DrainTimeout)
	defer cancel()

	slog.Info("Draining in-flight requests", "active", m.tracker.Active())
	if err := m.tracker.Drain(dctx); err != nil {
		slog.Warn("Drain timed out, proceeding with shutdown",
			"remaining", m.tracker.Active(), "timeout", m.cfg.DrainTimeout)
	}
}

func (m *ShutdownManager) runStep(ctx context.Context, step Step) {
	timeout := step.Timeout
	if timeout <= 0 {
		timeout = m.cfg.StepTimeout
	}
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- step.Run(sctx) }()

	select {
	case err := <-errCh:
		if err != nil {
			slog.Warn("Shutdown step failed", "step", step.Name, "error", err)
			return
		}
		slog.Info("Shutdown step complete", "step", step.Name)
	case <-sctx.Done():
		slog.Warn("Shutdown step timed out, proceeding", "step", step.Name, "timeout", timeout)
	}
}
