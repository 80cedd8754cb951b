package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"diagnosai/backend/pkg/cache"
	"diagnosai/backend/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHealthStats(t *testing.T, who *fakeWHO) *HealthStatsService {
	t.Helper()
	store, err := cache.NewStore(cache.StoreTypeMemory, cache.WithCleanupInterval(0))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewHealthStatsService(who, store, time.Hour, logger.Discard())
}

func TestHealthInfoServedFromCacheOnSecondCall(t *testing.T) {
	who := &fakeWHO{data: json.RawMessage(`[{"IndicatorCode":"WHOSIS_000001","NumericValue":81.2}]`)}
	svc := newHealthStats(t, who)
	ctx := context.Background()

	first, err := svc.HealthInfo(ctx, "mlt")
	require.NoError(t, err)
	assert.Equal(t, SourceWHO, first.Source)

	second, err := svc.HealthInfo(ctx, "MLT")
	require.NoError(t, err)
	assert.Equal(t, SourceCache, second.Source)
	assert.JSONEq(t, string(first.Data), string(second.Data))
	assert.Equal(t, 1, who.calls)
}

func TestHealthInfoRejectsQuotes(t *testing.T) {
	svc := newHealthStats(t, &fakeWHO{})

	_, err := svc.HealthInfo(context.Background(), "x' or '1'='1")
	assert.ErrorIs(t, err, ErrInvalidQuery)

	_, err = svc.HealthInfo(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrInvalidQuery)
}

func TestHealthInfoUpstreamFailure(t *testing.T) {
	svc := newHealthStats(t, &fakeWHO{err: errors.New("503")})

	_, err := svc.HealthInfo(context.Background(), "MLT")
	assert.ErrorIs(t, err, ErrHealthDataUnavailable)
}

func TestCountriesCached(t *testing.T) {
	who := &fakeWHO{countries: []Country{{Code: "MLT", Title: "Malta"}}}
	svc := newHealthStats(t, who)

	for i := 0; i < 2; i++ {
		countries, err := svc.Countries(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []Country{{Code: "MLT", Title: "Malta"}}, countries)
	}
	assert.Equal(t, 1, who.calls)
}
