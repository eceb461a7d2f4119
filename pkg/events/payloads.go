package events

// ThinkingPayload accompanies the four thinking_* event types.
type ThinkingPayload struct {
	Stage      string `json:"stage"`
	Content    string `json:"content,omitempty"`
	Status     string `json:"status"`
	ElapsedMS  int64  `json:"elapsed_ms,omitempty"`
	TotalChars int    `json:"total_chars,omitempty"`
	Summary    string `json:"summary,omitempty"`
	Timestamp  int64  `json:"timestamp"`
}

// ChunkPayload accompanies the *_chunk event types.
type ChunkPayload struct {
	Content   string `json:"content"`
	SessionID string `json:"session_id"`
	Timestamp int64  `json:"timestamp"`
}

// ProgressPayload accompanies progress events between stages.
type ProgressPayload struct {
	Stage     string `json:"stage"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// DonePayload terminates a session's event stream.
type DonePayload struct {
	SessionID    string  `json:"session_id"`
	Artifact     string  `json:"artifact"`
	QualityScore float64 `json:"quality_score"`
	Iterations   int     `json:"iterations"`
}

// ErrorPayload accompanies error events. Kind follows the transport error
// taxonomy: timeout, transport, model_unavailable, validation, cancelled,
// internal.
type ErrorPayload struct {
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}
