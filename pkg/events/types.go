// Package events defines the closed set of session event types and the
// in-memory store that buffers them for SSE delivery and replay.
package events

import "time"

// EventType enumerates every event a session can carry. The set is closed;
// consumers may switch exhaustively over it.
type EventType string

const (
	ThinkingStarted     EventType = "thinking_started"
	ThinkingInProgress  EventType = "thinking_in_progress"
	ThinkingCompleted   EventType = "thinking_completed"
	ThinkingInterrupted EventType = "thinking_interrupted"
	Progress            EventType = "progress"
	PlanChunk           EventType = "plan_chunk"
	TestChunk           EventType = "test_chunk"
	CodeChunk           EventType = "code_chunk"
	AnalysisChunk       EventType = "analysis_chunk"
	ReflectionChunk     EventType = "reflection_chunk"
	Error               EventType = "error"
	Done                EventType = "done"
)

var knownTypes = map[EventType]struct{}{
	ThinkingStarted: {}, ThinkingInProgress: {}, ThinkingCompleted: {},
	ThinkingInterrupted: {}, Progress: {}, PlanChunk: {}, TestChunk: {},
	CodeChunk: {}, AnalysisChunk: {}, ReflectionChunk: {}, Error: {}, Done: {},
}

// Valid reports whether t belongs to the closed event-type set.
func (t EventType) Valid() bool {
	_, ok := knownTypes[t]
	return ok
}

// Event is one entry in a session's log. IDs are millisecond timestamps,
// bumped to stay strictly increasing within a session so SSE clients can
// order and resume.
type Event struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Type      EventType `json:"type"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}
