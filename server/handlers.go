package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const serviceName = "StreamChat API"

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "online", "service": serviceName})
}

// handleHealth verifies the configured dependencies.
func (s *Server) handleHealth(c *gin.Context) {
	if s.health != nil {
		if err := s.health(c.Request.Context()); err != nil {
			s.logger.Error("Health check failed", "error", err.Error())
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "service unavailable: " + err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"knowledge": "connected",
		"timestamp": s.now().UTC().Format(time.RFC3339),
	})
}

// handleStartupCheck answers container startup probes without touching
// dependencies.
func (s *Server) handleStartupCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "online",
		"timestamp": s.now().UTC().Format(time.RFC3339),
	})
}

type queryRequest struct {
	Query      string `json:"query"`
	MaxResults *int   `json:"max_results"`
}

func (s *Server) handleQuery(c *gin.Context) {
	if s.querier == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "knowledge base not configured"})
		return
	}

	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query must be a non-empty string"})
		return
	}
	limit := s.config.MaxResults
	if req.MaxResults != nil && *req.MaxResults > 0 {
		limit = *req.MaxResults
	}

	results, err := s.querier.Query(c.Request.Context(), req.Query, limit)
	if err != nil {
		s.logger.Error("Knowledge query failed", "query", req.Query, "error", err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	s.logger.Info("Knowledge query served", "query", req.Query, "results", len(results))
	c.JSON(http.StatusOK, results)
}
