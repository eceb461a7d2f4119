package api

import (
	"github.com/gin-gonic/gin"

	"github.com/forgeline/forgeline/pkg/lifecycle"
)

// requestTracker counts in-flight requests for shutdown draining. Health
// probes are exempt so orchestration platforms can poll during drain.
func requestTracker(tracker *lifecycle.Tracker) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.FullPath() == "/health" {
			c.Next()
			return
		}
		tracker.Begin()
		defer tracker.End()
		c.Next()
	}
}
