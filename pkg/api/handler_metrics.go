package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/forgeline/forgeline/pkg/metrics"
)

// benchmarkHandler handles POST /metrics/benchmark: recalibrate throughput
// against the best available coder model and return the measurement.
func (s *Server) benchmarkHandler(c *gin.Context) {
	model := s.benchmarkModel()
	if model == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no models available to benchmark"})
		return
	}

	b, err := metrics.RunBenchmark(c.Request.Context(), s.client, model)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	if err := metrics.PersistBenchmark(s.cfg.Metrics, b); err != nil {
		slog.Warn("Failed to persist benchmark", "error", err)
	}

	c.JSON(http.StatusOK, b)
}

// benchmarkModel picks the highest-quality coder model, falling back to the
// highest-quality model of any kind.
func (s *Server) benchmarkModel() string {
	var best, bestCoder string
	var bestQ, bestCoderQ float64
	for _, m := range s.reg.Models() {
		if m.EstimatedQuality > bestQ {
			best, bestQ = m.Name, m.EstimatedQuality
		}
		if m.IsCoder && m.EstimatedQuality > bestCoderQ {
			bestCoder, bestCoderQ = m.Name, m.EstimatedQuality
		}
	}
	if bestCoder != "" {
		return bestCoder
	}
	return best
}
