package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/forgeline/forgeline/pkg/version"
)

const (
	statusOK       = "ok"
	statusDegraded = "degraded"
	statusError    = "error"
)

// healthHandler handles GET /health. Always 200; the body carries the
// three-way status so probes distinguish degraded from down without
// restart-looping the process.
func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	services := gin.H{"api": statusOK}
	status := statusOK

	if s.pool.Closed() {
		services["pool"] = statusError
		services["model_server"] = statusError
		status = statusError
	} else {
		services["pool"] = statusOK
		if _, err := s.pool.Request(ctx, http.MethodGet, "/api/tags", nil); err != nil {
			services["model_server"] = statusError
			status = statusDegraded
		} else {
			services["model_server"] = statusOK
		}
	}

	if s.reg.Count() > 0 {
		services["cache"] = statusOK
	} else {
		services["cache"] = statusDegraded
		if status == statusOK {
			status = statusDegraded
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    status,
		"services":  services,
		"version":   version.GitCommit,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
