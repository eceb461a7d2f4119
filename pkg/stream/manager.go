// Package stream turns the raw thinking/content chunk stream from the LLM
// client into lifecycle-annotated outputs: a thinking block gets explicit
// started / in-progress / completed markers, long blocks are re-sliced and
// paced, and a wall-clock budget force-closes runaway reasoning.
package stream

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/forgeline/forgeline/pkg/config"
	"github.com/forgeline/forgeline/pkg/llm"
)

const summaryMaxChars = 150

// ThinkingStatus marks where in its lifecycle a thinking block is.
type ThinkingStatus string

const (
	ThinkingStarted     ThinkingStatus = "started"
	ThinkingInProgress  ThinkingStatus = "in_progress"
	ThinkingCompleted   ThinkingStatus = "completed"
	ThinkingInterrupted ThinkingStatus = "interrupted"
)

// Output is the sum type emitted by Process. Exactly one of the three
// concrete types below.
type Output interface{ streamOutput() }

// Thinking carries thinking-block lifecycle updates.
type Thinking struct {
	Status     ThinkingStatus
	Content    string // delta for in_progress, full aggregate on completed/interrupted
	ElapsedMS  int64  // set on completed/interrupted
	TotalChars int    // set on completed/interrupted
	Summary    string // set on completed when summary mode is on
	Reason     string // "time_budget" when the wall-clock cap fired
}

// Content is a visible output delta, passed through untouched.
type Content struct {
	Text string
}

// Done terminates the stream. Emitted exactly once.
type Done struct {
	Full string
}

func (Thinking) streamOutput() {}
func (Content) streamOutput()  {}
func (Done) streamOutput()     {}

// Manager drives one generation's chunk stream. Not reusable across streams.
type Manager struct {
	cfg         *config.StreamConfig
	interrupted atomic.Bool
}

func NewManager(cfg *config.StreamConfig) *Manager {
	return &Manager{cfg: cfg}
}

// Interrupt ends the stream at the next chunk boundary: an open thinking
// block closes with an interrupted marker, done follows with the content
// flushed so far, and later chunks are discarded. Safe to call from any
// goroutine; idempotent.
func (m *Manager) Interrupt() {
	m.interrupted.Store(true)
}

// Process consumes the LLM chunk stream and emits lifecycle-annotated
// outputs. The returned channel closes after the Done output. Cancelling
// ctx stops emission; the input channel is drained by its producer's own
// context, not here.
func (m *Manager) Process(ctx context.Context, chunks <-chan llm.StreamChunk) <-chan Output {
	out := make(chan Output)
	go func() {
		defer close(out)

		var (
			inThinking bool
			budgetHit  bool
			started    time.Time
			total      int
			acc        strings.Builder
			flushed    strings.Builder
		)

		emit := func(o Output) bool {
			select {
			case out <- o:
				return true
			case <-ctx.Done():
				return false
			}
		}

		closeBlock := func(status ThinkingStatus, reason string) bool {
			if !inThinking {
				return true
			}
			inThinking = false
			t := Thinking{
				Status:     status,
				Content:    acc.String(),
				ElapsedMS:  time.Since(started).Milliseconds(),
				TotalChars: total,
				Reason:     reason,
			}
			if status == ThinkingCompleted && m.cfg.ShowSummaryOnly {
				t.Summary = summarize(acc.String())
			}
			return emit(t)
		}

		for chunk := range chunks {
			if m.interrupted.Load() {
				// An interrupt ends the stream here: close the open block
				// with the interrupted marker, terminate with done carrying
				// the content flushed so far, and discard whatever the
				// producer still sends.
				go func() {
					for range chunks {
					}
				}()
				if !closeBlock(ThinkingInterrupted, "") {
					return
				}
				emit(Done{Full: flushed.String()})
				return
			}

			switch {
			case chunk.IsDone:
				if !closeBlock(ThinkingCompleted, "") {
					return
				}
				emit(Done{Full: chunk.FullResponse})
				return

			case chunk.IsThinking:
				if !m.cfg.IsEnabled() || budgetHit {
					continue
				}
				if !inThinking {
					inThinking = true
					started = time.Now()
					total = 0
					acc.Reset()
					if !emit(Thinking{Status: ThinkingStarted}) {
						return
					}
				}
				total += len(chunk.Content)
				acc.WriteString(chunk.Content)

				budget := time.Duration(m.cfg.MaxThinkingTimeMS) * time.Millisecond
				if budget > 0 && time.Since(started) > budget {
					budgetHit = true
					if !closeBlock(ThinkingCompleted, "time_budget") {
						return
					}
					continue
				}
				if m.cfg.ShowSummaryOnly {
					continue
				}
				if !m.emitSliced(ctx, out, chunk.Content) {
					return
				}

			default:
				budgetHit = false
				if !closeBlock(ThinkingCompleted, "") {
					return
				}
				flushed.WriteString(chunk.Content)
				if !emit(Content{Text: chunk.Content}) {
					return
				}
			}
		}

		// Producer closed without a done chunk (error path upstream).
		closeBlock(ThinkingInterrupted, "")
	}()
	return out
}

// emitSliced forwards a thinking delta, re-slicing it to the configured
// chunk size. Pacing applies only between slices of one oversized delta, so
// normally-sized chunks flow through without added latency.
func (m *Manager) emitSliced(ctx context.Context, out chan<- Output, text string) bool {
	size := m.cfg.ChunkSize
	if size <= 0 || len(text) <= size {
		return m.send(ctx, out, Thinking{Status: ThinkingInProgress, Content: text})
	}

	debounce := time.Duration(m.cfg.DebounceMS) * time.Millisecond
	for i := 0; i < len(text); i += size {
		end := i + size
		if end > len(text) {
			end = len(text)
		}
		if i > 0 && debounce > 0 {
			select {
			case <-time.After(debounce):
			case <-ctx.Done():
				return false
			}
		}
		if !m.send(ctx, out, Thinking{Status: ThinkingInProgress, Content: text[i:end]}) {
			return false
		}
	}
	return true
}

func (m *Manager) send(ctx context.Context, out chan<- Output, o Output) bool {
	select {
	case out <- o:
		return true
	case <-ctx.Done():
		return false
	}
}

// summarize extracts the first sentence of a thinking block, capped at 150
// characters on a rune boundary.
func summarize(text string) string {
	text = strings.TrimSpace(text)
	if idx := strings.IndexAny(text, ".!?\n"); idx >= 0 {
		text = strings.TrimSpace(text[:idx+1])
	}
	runes := []rune(text)
	if len(runes) > summaryMaxChars {
		return string(runes[:summaryMaxChars])
	}
	return text
}
