package router

import (
	"net/http"

	"diagnosai/backend/internal/api"
	"diagnosai/backend/pkg/di"
	"diagnosai/backend/pkg/errors"
	"diagnosai/backend/pkg/logger"
	"diagnosai/backend/pkg/middleware"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// Router is the main router for the application
type Router struct {
	Engine      *gin.Engine
	Container   *di.Container
	Logger      *logger.Logger
	RateLimiter *middleware.RateLimiter

	// limited carries the per-client rate limit and body cap
	limited *gin.RouterGroup
}

// New creates the engine with the global middleware chain
func New(container *di.Container) *Router {
	cfg := container.Config
	logger.SetGlobal(container.Logger)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	// request id first so the logger middleware picks it up
	engine.Use(middleware.RequestIDMiddleware())
	engine.Use(logger.Middleware(container.Logger))
	engine.Use(errors.ErrorHandler())
	engine.Use(errors.RecoveryWithLogger())
	engine.Use(middleware.CORS(cfg.Security.AllowedOrigins))

	rateLimiter := middleware.NewRateLimiter(container.Logger, middleware.RateLimiterOptions{
		Limit: rate.Limit(cfg.Security.RateLimit),
		Burst: cfg.Security.RateLimitBurst,
	})

	r := &Router{
		Engine:      engine,
		Container:   container,
		Logger:      container.Logger,
		RateLimiter: rateLimiter,
	}

	if cfg.OpenAPI.SchemaPath != "" {
		r.AddOpenAPIValidation(cfg.OpenAPI.SchemaPath)
	}
	r.limited = engine.Group("", rateLimiter.Middleware(), middleware.BodyLimit(cfg.Security.MaxBodySize))

	return r
}

// SetupRoutes registers all application routes. metrics may be nil.
func (r *Router) SetupRoutes(metrics http.Handler) {
	c := r.Container
	jwtAuth := middleware.JWTAuthMiddleware(c.JWTService)

	r.setupHealthRoutes()
	if metrics != nil {
		r.Engine.GET("/metrics", gin.WrapH(metrics))
	}

	api.NewAuthController(c.UserService).RegisterRoutes(r.limited)
	api.NewDiagnosisController(c.DiagnosisService).RegisterRoutes(r.limited, jwtAuth)
	api.NewPneumoniaController(c.PneumoniaService, c.Config.Pneumonia.MaxUpload).RegisterRoutes(r.limited)
	api.NewHealthDataController(c.HealthStatsService).RegisterRoutes(r.limited)

	// sockets are long lived and skip the per-request limiter
	c.Hub.RegisterRoutes(r.Engine, jwtAuth)
}
