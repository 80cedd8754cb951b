package api

import (
	"net/http"

	"diagnosai/backend/internal/service"

	"github.com/gin-gonic/gin"
)

// HealthDataController proxies WHO statistics
type HealthDataController struct {
	service *service.HealthStatsService
}

// NewHealthDataController creates a new health data controller
func NewHealthDataController(service *service.HealthStatsService) *HealthDataController {
	return &HealthDataController{service: service}
}

// RegisterRoutes registers the statistics routes
func (h *HealthDataController) RegisterRoutes(router gin.IRouter) {
	group := router.Group("/api")
	group.GET("/health-info/:query", h.HealthInfo)
	group.GET("/countries", h.Countries)
}

// HealthInfo handles GET /api/health-info/:query
func (h *HealthDataController) HealthInfo(c *gin.Context) {
	info, err := h.service.HealthInfo(c.Request.Context(), c.Param("query"))
	if err != nil {
		c.Error(MapError(err))
		return
	}
	c.JSON(http.StatusOK, info)
}

// Countries handles GET /api/countries
func (h *HealthDataController) Countries(c *gin.Context) {
	countries, err := h.service.Countries(c.Request.Context())
	if err != nil {
		c.Error(MapError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"countries": countries})
}
