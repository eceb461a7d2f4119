package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/forgeline/forgeline/pkg/orchestrator"
)

// createTaskHandler handles POST /tasks: validate, mint a session, schedule
// the orchestrator run, and hand the id back for the client to stream.
func (s *Server) createTaskHandler(c *gin.Context) {
	var req TaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "invalid request body",
			"details": []string{err.Error()},
		})
		return
	}
	if errs := req.validate(); len(errs) > 0 {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "validation failed",
			"details": errs,
		})
		return
	}

	taskID := uuid.New().String()
	s.store.Ensure(taskID)
	// The run outlives this request; cancellation comes from the SSE side
	// or an explicit cancel call, not from this HTTP context.
	go s.orch.Execute(context.Background(), s.buildTask(taskID, &req))

	c.JSON(http.StatusOK, gin.H{"task_id": taskID})
}

func (s *Server) buildTask(sessionID string, req *TaskRequest) orchestrator.Task {
	temp := s.cfg.LLM.DefaultTemperature
	if req.Temperature != nil {
		temp = *req.Temperature
	}
	return orchestrator.Task{
		SessionID:     sessionID,
		Task:          req.Task,
		Mode:          req.Mode,
		Model:         req.Model,
		Temperature:   temp,
		MaxIterations: req.MaxIterations,
	}
}
