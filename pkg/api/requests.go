package api

import (
	"fmt"
	"strconv"

	"github.com/gin-gonic/gin"
)

const (
	maxTaskLen       = 10000
	maxIterationsCap = 10
)

// TaskRequest is the body of POST /tasks and the query shape of GET /stream.
type TaskRequest struct {
	Task          string   `json:"task"`
	Mode          string   `json:"mode"`
	Model         string   `json:"model"`
	Temperature   *float64 `json:"temperature"`
	MaxIterations int      `json:"max_iterations"`
}

// validate returns one message per violated constraint.
func (r *TaskRequest) validate() []string {
	var errs []string
	if len(r.Task) == 0 {
		errs = append(errs, "task is required")
	} else if len(r.Task) > maxTaskLen {
		errs = append(errs, fmt.Sprintf("task exceeds %d characters", maxTaskLen))
	}
	switch r.Mode {
	case "", "auto", "code", "chat":
	default:
		errs = append(errs, `mode must be one of "auto", "code", "chat"`)
	}
	if r.Temperature != nil && (*r.Temperature < 0 || *r.Temperature > 1) {
		errs = append(errs, "temperature must be in [0,1]")
	}
	if r.MaxIterations != 0 && (r.MaxIterations < 1 || r.MaxIterations > maxIterationsCap) {
		errs = append(errs, fmt.Sprintf("max_iterations must be in [1,%d]", maxIterationsCap))
	}
	return errs
}

// taskRequestFromQuery parses the GET /stream query parameters.
func taskRequestFromQuery(c *gin.Context) (*TaskRequest, []string) {
	req := &TaskRequest{
		Task:  c.Query("task"),
		Mode:  c.Query("mode"),
		Model: c.Query("model"),
	}
	if raw := c.Query("temperature"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, []string{"temperature must be a number"}
		}
		req.Temperature = &v
	}
	if raw := c.Query("max_iterations"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return nil, []string{"max_iterations must be an integer"}
		}
		req.MaxIterations = v
	}
	return req, req.validate()
}
