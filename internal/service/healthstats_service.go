package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"diagnosai/backend/pkg/cache"
	"diagnosai/backend/pkg/logger"
)

// Sources reported by HealthInfo
const (
	SourceCache = "cache"
	SourceWHO   = "WHO_API"
)

const countriesCacheKey = "who:countries"

var (
	ErrInvalidQuery          = errors.New("invalid health-info query")
	ErrHealthDataUnavailable = errors.New("health statistics unavailable")
)

// WHOSource is the upstream health statistics API
type WHOSource interface {
	Countries(ctx context.Context) ([]Country, error)
	Indicators(ctx context.Context, countryCode string) (json.RawMessage, error)
}

// HealthInfo is the cached payload for one query
type HealthInfo struct {
	Source string          `json:"source"`
	Data   json.RawMessage `json:"data"`
}

// HealthStatsService proxies WHO statistics through a TTL cache
type HealthStatsService struct {
	who   WHOSource
	cache cache.Store
	ttl   time.Duration
	log   *logger.Logger
}

// NewHealthStatsService creates a new health statistics service
func NewHealthStatsService(who WHOSource, store cache.Store, ttl time.Duration, log *logger.Logger) *HealthStatsService {
	return &HealthStatsService{who: who, cache: store, ttl: ttl, log: log}
}

// HealthInfo returns the WHO indicators for a country code, from cache when fresh
func (s *HealthStatsService) HealthInfo(ctx context.Context, query string) (*HealthInfo, error) {
	code := strings.ToUpper(strings.TrimSpace(query))
	if code == "" || strings.ContainsAny(code, "'\"") {
		return nil, ErrInvalidQuery
	}

	key := "health:" + code
	if data, ok := s.cached(ctx, key); ok {
		return &HealthInfo{Source: SourceCache, Data: data}, nil
	}

	data, err := s.who.Indicators(ctx, code)
	if err != nil {
		s.log.LogError(err, "WHO indicators request failed", "country", code)
		return nil, fmt.Errorf("%w: %w", ErrHealthDataUnavailable, err)
	}

	s.store(ctx, key, data)
	return &HealthInfo{Source: SourceWHO, Data: data}, nil
}

// Countries returns the WHO country list, from cache when fresh
func (s *HealthStatsService) Countries(ctx context.Context) ([]Country, error) {
	if data, ok := s.cached(ctx, countriesCacheKey); ok {
		var countries []Country
		if err := json.Unmarshal(data, &countries); err == nil {
			return countries, nil
		}
	}

	countries, err := s.who.Countries(ctx)
	if err != nil {
		s.log.LogError(err, "WHO countries request failed")
		return nil, fmt.Errorf("%w: %w", ErrHealthDataUnavailable, err)
	}

	if data, err := json.Marshal(countries); err == nil {
		s.store(ctx, countriesCacheKey, data)
	}
	return countries, nil
}

// cache failures degrade to a miss so a cache outage never fails a request
func (s *HealthStatsService) cached(ctx context.Context, key string) ([]byte, bool) {
	data, found, err := s.cache.Get(ctx, key)
	if err != nil {
		s.log.Warn("Cache read failed", "key", key, "error", err.Error())
		return nil, false
	}
	return data, found
}

func (s *HealthStatsService) store(ctx context.Context, key string, data []byte) {
	if err := s.cache.Set(ctx, key, data, s.ttl); err != nil {
		s.log.Warn("Cache write failed", "key", key, "error", err.Error())
	}
}
