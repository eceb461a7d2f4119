package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgeline/forgeline/pkg/config"
)

func testLifecycleConfig() *config.LifecycleConfig {
	return &config.LifecycleConfig{
		DrainTimeout: 200 * time.Millisecond,
		StepTimeout:  100 * time.Millisecond,
	}
}

func TestTrackerCountsAndDrains(t *testing.T) {
	tr := NewTracker()
	tr.Begin()
	tr.Begin()
	assert.Equal(t, int64(2), tr.Active())

	go func() {
		time.Sleep(30 * time.Millisecond)
		tr.End()
		tr.End()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, tr.Drain(ctx))
	assert.Zero(t, tr.Active())
}

func TestTrackerDrainTimesOut(t *testing.T) {
	tr := NewTracker()
	tr.Begin() // never released

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.Error(t, tr.Drain(ctx))
}

func TestShutdownRunsStepsInOrder(t *testing.T) {
	m := NewShutdownManager(testLifecycleConfig(), NewTracker())

	var mu sync.Mutex
	var order []string
	record := func(name string) func(context.Context) error {
		return func(context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}

	m.AddStep(Step{Name: "pool-close", Run: record("pool-close")})
	m.AddStep(Step{Name: "cache-clear", Run: record("cache-clear")})
	m.AddStep(Step{Name: "event-sweep", Run: record("event-sweep")})

	m.Shutdown(context.Background())

	assert.Equal(t, []string{"pool-close", "cache-clear", "event-sweep"}, order)
	assert.True(t, m.InProgress())
}

func TestShutdownStepTimeoutProceeds(t *testing.T) {
	m := NewShutdownManager(testLifecycleConfig(), NewTracker())

	var ranAfter bool
	m.AddStep(Step{Name: "hung", Timeout: 20 * time.Millisecond, Run: func(ctx context.Context) error {
		<-ctx.Done() // simulate a component that never finishes on its own
		time.Sleep(time.Hour)
		return nil
	}})
	m.AddStep(Step{Name: "after", Run: func(context.Context) error {
		ranAfter = true
		return nil
	}})

	start := time.Now()
	m.Shutdown(context.Background())

	assert.True(t, ranAfter, "a hung step must not block later steps")
	assert.Less(t, time.Since(start), time.Second)
}

func TestShutdownStepErrorProceeds(t *testing.T) {
	m := NewShutdownManager(testLifecycleConfig(), NewTracker())

	var ranAfter bool
	m.AddStep(Step{Name: "failing", Run: func(context.Context) error {
		return errors.New("refused")
	}})
	m.AddStep(Step{Name: "after", Run: func(context.Context) error {
		ranAfter = true
		return nil
	}})

	m.Shutdown(context.Background())
	assert.True(t, ranAfter)
}

func TestShutdownIsIdempotent(t *testing.T) {
	m := NewShutdownManager(testLifecycleConfig(), NewTracker())

	var runs int
	m.AddStep(Step{Name: "once", Run: func(context.Context) error {
		runs++
		return nil
	}})

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Shutdown(context.Background())
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, runs, "steps run exactly once across concurrent shutdowns")

	select {
	case <-m.Done():
	default:
		t.Fatal("Done must be closed after shutdown")
	}
}

func TestShutdownDrainsBeforeSteps(t *testing.T) {
	tr := NewTracker()
	m := NewShutdownManager(testLifecycleConfig(), tr)

	var activeAtStep int64
	m.AddStep(Step{Name: "check", Run: func(context.Context) error {
		activeAtStep = tr.Active()
		return nil
	}})

	tr.Begin()
	go func() {
		time.Sleep(30 * time.Millisecond)
		tr.End()
	}()

	m.Shutdown(context.Background())
	assert.Zero(t, activeAtStep, "steps run only after the drain completes")
}
