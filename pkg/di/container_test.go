package di

import (
	"context"
	"fmt"
	"testing"

	"diagnosai/backend/internal/repository"
	"diagnosai/backend/pkg/config"
	"diagnosai/backend/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func testConfig() *config.Config {
	cfg := config.Load()
	cfg.Redis.Enabled = false
	cfg.Policy.Path = ""
	cfg.JWT.Secret = "container-secret"
	return cfg
}

func TestNewWiresServices(t *testing.T) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	require.NoError(t, err)
	require.NoError(t, repository.Migrate(db))

	c, err := New(context.Background(), testConfig(), db, logger.Discard())
	require.NoError(t, err)
	t.Cleanup(c.Close)

	assert.NotNil(t, c.DiagnosisService)
	assert.NotNil(t, c.UserService)
	assert.NotNil(t, c.PneumoniaService)
	assert.NotNil(t, c.HealthStatsService)
	assert.NotNil(t, c.Hub)
	assert.Nil(t, c.Redis)

	allowed, err := c.Policy.AllowSession(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.False(t, allowed)

	c.Checker.RunChecks()
	status := c.Checker.GetStatus()
	require.Contains(t, status, "database")
	require.Contains(t, status, "gemini")
	assert.Equal(t, "up", string(status["database"].Status))
	assert.True(t, c.Checker.IsSystemHealthy())
}

func TestNewRejectsMissingPolicyFile(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	require.NoError(t, err)

	cfg := testConfig()
	cfg.Policy.Path = "/nonexistent/policy.rego"

	_, err = New(context.Background(), cfg, db, logger.Discard())
	assert.Error(t, err)
}
