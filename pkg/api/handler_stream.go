package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/forgeline/forgeline/pkg/events"
	"github.com/forgeline/forgeline/pkg/stream"
)

// streamHandler handles GET /stream: it mints a session, subscribes to its
// live channel before the producer starts, launches the orchestrator, and
// relays events as SSE frames. A client disconnect cancels the run and
// cleans the session up.
func (s *Server) streamHandler(c *gin.Context) {
	req, errs := taskRequestFromQuery(c)
	if len(errs) > 0 {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "validation failed",
			"details": errs,
		})
		return
	}

	sessionID := uuid.New().String()
	live := s.store.Ensure(sessionID)
	go s.orch.Execute(context.Background(), s.buildTask(sessionID, req))

	h := c.Writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	ctx := c.Request.Context()
	for {
		select {
		case ev, ok := <-live:
			if !ok {
				return
			}
			if !s.writeFrame(c, ev) {
				s.abortSession(sessionID)
				return
			}
			if ev.Type == events.Done {
				// Session stays in the store for replay until the TTL sweep.
				return
			}
		case <-ctx.Done():
			s.abortSession(sessionID)
			return
		}
	}
}

func (s *Server) writeFrame(c *gin.Context, ev events.Event) bool {
	frame, err := stream.Frame(ev.ID, string(ev.Type), ev.Payload)
	if err != nil {
		slog.Warn("Dropping unencodable event", "session_id", ev.SessionID, "type", ev.Type, "error", err)
		return true
	}
	if _, err := c.Writer.Write(frame); err != nil {
		return false
	}
	c.Writer.Flush()
	return true
}

// abortSession stops the producer and removes the session. Runs on client
// disconnect and on write failure.
func (s *Server) abortSession(sessionID string) {
	s.orch.CancelSession(sessionID)
	s.store.CleanupSession(sessionID)
	slog.Info("Stream closed by client, session cleaned up", "session_id", sessionID)
}
