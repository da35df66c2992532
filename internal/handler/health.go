package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/voice-supervisor/pkg/constants"
)

// HealthHandler handles health and ready checks.
type HealthHandler struct {
	closing func() bool
	count   func() int
}

// NewHealthHandler creates a health handler. closing reports shutdown; count is
// the number of supervised sessions.
func NewHealthHandler(closing func() bool, count func() int) *HealthHandler {
	return &HealthHandler{closing: closing, count: count}
}

// Health responds to GET /health.
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"service":  constants.ServiceName,
		"sessions": h.count(),
		"time":     time.Now().Unix(),
	})
}

// Ready responds to GET /ready (for k8s readiness). Формат {"status": "ready"} для единообразия с остальными сервисами.
func (h *HealthHandler) Ready(c *gin.Context) {
	if h.closing() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "shutting_down"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
