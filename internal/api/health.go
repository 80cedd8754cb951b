package api

import (
	"net/http"
	"time"

	"diagnosai/backend/pkg/health"

	"github.com/gin-gonic/gin"
)

// Version is reported by the health endpoint
var Version = "dev"

// HealthController reports component health
type HealthController struct {
	checker *health.Checker
}

// HealthResponse represents the health check response structure
type HealthResponse struct {
	Status     string                       `json:"status"`
	Timestamp  time.Time                    `json:"timestamp"`
	Version    string                       `json:"version"`
	Components map[string]*health.Component `json:"components,omitempty"`
}

// NewHealthController creates a new health controller
func NewHealthController(checker *health.Checker) *HealthController {
	return &HealthController{checker: checker}
}

// RegisterRoutes registers health check related routes
func (h *HealthController) RegisterRoutes(router gin.IRouter) {
	router.GET("/health", h.Health)
}

// Health returns 503 when a critical component is down
func (h *HealthController) Health(c *gin.Context) {
	status := http.StatusOK
	resp := HealthResponse{Status: "ok", Timestamp: time.Now(), Version: Version}

	if h.checker != nil {
		resp.Components = h.checker.GetStatus()
		if !h.checker.IsSystemHealthy() {
			status = http.StatusServiceUnavailable
			resp.Status = "degraded"
		}
	}

	c.JSON(status, resp)
}
