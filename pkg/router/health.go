package router

import (
	"diagnosai/backend/internal/api"
)

// setupHealthRoutes registers health check endpoints outside the rate limit
func (r *Router) setupHealthRoutes() {
	controller := api.NewHealthController(r.Container.Checker)
	controller.RegisterRoutes(r.Engine)
	r.Engine.GET("/api/health", controller.Health)
}
