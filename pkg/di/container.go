package di

import (
	"context"
	"fmt"
	"time"

	"diagnosai/backend/ai"
	"diagnosai/backend/internal/repository"
	"diagnosai/backend/internal/service"
	"diagnosai/backend/internal/ws"
	"diagnosai/backend/pkg/cache"
	"diagnosai/backend/pkg/config"
	"diagnosai/backend/pkg/health"
	"diagnosai/backend/pkg/jwt"
	"diagnosai/backend/pkg/logger"
	"diagnosai/backend/pkg/policy"
	"diagnosai/backend/pkg/resilience"
	sharedredis "diagnosai/backend/shared/redis"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// healthCheckPeriod is how often background component checks run
const healthCheckPeriod = 30 * time.Second

// Container holds all the dependencies for the application
type Container struct {
	Config     *config.Config
	DB         *gorm.DB
	Logger     *logger.Logger
	JWTService *jwt.Service

	Redis   *redis.Client
	Cache   cache.Store
	Policy  *policy.Engine
	Breaker *resilience.CircuitBreaker
	Gemini  *ai.GeminiClient
	Model   ai.ProbabilityModel

	UserService        *service.UserService
	DiagnosisService   *service.DiagnosisService
	PneumoniaService   *service.PneumoniaService
	HealthStatsService *service.HealthStatsService

	Hub     *ws.Hub
	Checker *health.Checker
}

// New builds every service from cfg. A configured but unreachable Redis
// falls back to the in-memory cache.
func New(ctx context.Context, cfg *config.Config, db *gorm.DB, log *logger.Logger) (*Container, error) {
	c := &Container{
		Config:     cfg,
		DB:         db,
		Logger:     log,
		JWTService: jwt.NewService(cfg.JWT.Secret, cfg.JWT.Expiry),
		Checker:    health.NewChecker(log, healthCheckPeriod),
	}

	engine, err := policy.Load(ctx, cfg.Policy.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to load session policy: %w", err)
	}
	c.Policy = engine

	if err := c.initCache(ctx); err != nil {
		return nil, err
	}

	breakerCfg := resilience.DefaultCircuitBreakerConfig("gemini")
	if cfg.Gemini.FailureThreshold > 0 {
		breakerCfg.FailureThreshold = cfg.Gemini.FailureThreshold
	}
	if cfg.Gemini.RetryTimeout > 0 {
		breakerCfg.RetryTimeout = cfg.Gemini.RetryTimeout
	}
	c.Breaker = resilience.NewCircuitBreaker(breakerCfg, log)

	c.Gemini = ai.NewGeminiClient(ai.GeminiConfig{
		URL:    cfg.Gemini.URL,
		APIKey: cfg.Gemini.APIKey,
		Retry: resilience.RetryPolicy{
			Attempts:       cfg.Gemini.Attempts,
			BaseDelay:      cfg.Gemini.BaseDelay,
			AttemptTimeout: cfg.Gemini.AttemptTimeout,
		},
		Breaker: c.Breaker,
	}, log)
	c.Model = ai.NewServingModel(cfg.Pneumonia.ServingURL, cfg.Pneumonia.Timeout)

	c.UserService = service.NewUserService(repository.NewGormUserRepository(db), c.JWTService)
	c.DiagnosisService = service.NewDiagnosisService(repository.NewGormConversationStore(db), c.Gemini, c.Policy, log)
	c.PneumoniaService = service.NewPneumoniaService(c.Model, cfg.Pneumonia.Threshold, log)
	c.HealthStatsService = service.NewHealthStatsService(
		service.NewWHOClient(cfg.HealthStats.BaseURL, cfg.HealthStats.Timeout),
		c.Cache, cfg.HealthStats.CacheTTL, log)

	c.Hub = ws.NewHub(c.DiagnosisService, cfg.Security.AllowedOrigins, log)

	c.Checker.RegisterDatabaseCheck(func() error { return config.TestConnection(db) })
	c.Checker.RegisterBreakerCheck("gemini", c.Breaker)
	if c.Redis != nil {
		c.Checker.RegisterRedisCheck(sharedredis.HealthCheck(c.Redis))
	}

	return c, nil
}

func (c *Container) initCache(ctx context.Context) error {
	if c.Config.Redis.Enabled {
		client, err := sharedredis.NewClient(ctx, c.Config)
		if err == nil {
			store, err := cache.NewStore(cache.StoreTypeRedis, cache.WithRedisClient(client))
			if err != nil {
				client.Close()
				return fmt.Errorf("failed to create redis cache: %w", err)
			}
			c.Redis = client
			c.Cache = store
			c.Logger.Info("Using Redis cache", "addr", c.Config.Redis.Addr)
			return nil
		}
		c.Logger.Warn("Redis unavailable, using in-memory cache", "error", err.Error())
	}

	store, err := cache.NewStore(cache.StoreTypeMemory)
	if err != nil {
		return fmt.Errorf("failed to create memory cache: %w", err)
	}
	c.Cache = store
	return nil
}

// Close releases connections held by the container
func (c *Container) Close() {
	if c.Hub != nil {
		c.Hub.Close()
	}
	if c.Cache != nil {
		if err := c.Cache.Close(); err != nil {
			c.Logger.Warn("Failed to close cache", "error", err.Error())
		}
	}
	if sqlDB, err := c.DB.DB(); err == nil {
		sqlDB.Close()
	}
}
