package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) listModelsHandler(c *gin.Context) {
	s.writeModels(c)
}

// refreshModelsHandler forces a rescan of the model server, then returns the
// same shape as GET /models.
func (s *Server) refreshModelsHandler(c *gin.Context) {
	if err := s.reg.Refresh(c.Request.Context()); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	s.writeModels(c)
}

func (s *Server) writeModels(c *gin.Context) {
	models := s.reg.Models()
	names := make([]string, 0, len(models))
	for _, m := range models {
		names = append(names, m.Name)
	}
	c.JSON(http.StatusOK, gin.H{
		"models":          names,
		"models_detailed": models,
		"count":           len(models),
	})
}
