package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sprout", cfg.AppName)
	assert.Equal(t, "postgres", cfg.DatabaseDriver)
	assert.Equal(t, 10*time.Second, cfg.DatabaseConnMaxLifetime)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 90.0, cfg.AutoMergeThreshold)
	assert.Equal(t, 60.0, cfg.ReviewThreshold)
	assert.Equal(t, 50.0, cfg.AmbiguityFloor)
	assert.Equal(t, 3, cfg.ConflictRetries)
	assert.True(t, cfg.DatabaseMigrationAutoRollback)
	assert.False(t, cfg.RedisEnabled)
	assert.Equal(t, 30*24*time.Hour, cfg.AnalyticsWindow())
	assert.Equal(t, "db", cfg.DatabaseMigrationFolderPath)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("REDIS_ENABLED", "true")
	t.Setenv("RUN_LOCK_TTL", "90s")
	t.Setenv("AUTO_MERGE_THRESHOLD", "92.5")
	t.Setenv("PORT", "8080")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.DatabaseDriver)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.True(t, cfg.RedisEnabled)
	assert.Equal(t, 90*time.Second, cfg.RunLockTTL)
	assert.Equal(t, 92.5, cfg.AutoMergeThreshold)
	assert.Equal(t, 8080, cfg.Port)
}

func TestLoad_InvalidValue(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{name: "int", key: "PORT", value: "eighty"},
		{name: "bool", key: "REDIS_ENABLED", value: "maybe"},
		{name: "duration", key: "RUN_LOCK_TTL", value: "forever"},
		{name: "float", key: "TIE_EPSILON", value: "two"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.value)
		})
	}
}

func TestLoad_RejectsInconsistentThresholds(t *testing.T) {
	t.Setenv("REVIEW_THRESHOLD", "95")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REVIEW_THRESHOLD")
}

func TestValidate(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.DatabaseDriver = "mysql"
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.ReviewThreshold = 95
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.AmbiguityFloor = 70
	assert.Error(t, bad.Validate())
}

func TestLoad_EnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("DB_DRIVER=sqlite\n"), 0o600))
	t.Setenv("DB_DRIVER", "postgres")

	cfg, err := Load(path)
	require.NoError(t, err)
	// godotenv never overrides variables already set
	assert.Equal(t, "postgres", cfg.DatabaseDriver)

	_, err = Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}
