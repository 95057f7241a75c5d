package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var managedEnv = []string{
	"BACKOFFICE_APP_NAME",
	"BACKOFFICE_APP_ENV",
	"BACKOFFICE_APP_PORT",
	"BACKOFFICE_DATABASE_HOST",
	"BACKOFFICE_DATABASE_PORT",
	"BACKOFFICE_DATABASE_PASSWORD",
	"BACKOFFICE_DATABASE_SSLMODE",
	"BACKOFFICE_DATABASE_MAX_OPEN_CONNS",
	"BACKOFFICE_DATABASE_MAX_IDLE_CONNS",
	"BACKOFFICE_REDIS_ENABLED",
	"BACKOFFICE_STATISTICS_TIMEZONE",
	"BACKOFFICE_CACHE_L2_ENABLED",
	"BACKOFFICE_CACHE_REALTIME_MAX_KEYS",
	"BACKOFFICE_CACHE_REALTIME_KEEP_KEYS",
	"BACKOFFICE_CACHE_TTL_SALES",
	"BACKOFFICE_CACHE_TTL_TOP_PRODUCTS",
	"BACKOFFICE_ARCHIVE_ENABLED",
	"BACKOFFICE_ARCHIVE_RETENTION_DAYS",
	"BACKOFFICE_ARCHIVE_BATCH_SIZE",
	"BACKOFFICE_ARCHIVE_MODE",
	"BACKOFFICE_STORAGE_BUCKET",
	"BACKOFFICE_KAFKA_ENABLED",
	"BACKOFFICE_KAFKA_BROKERS",
	"BACKOFFICE_SCHEDULER_DISTRIBUTED_LOCK",
	"BACKOFFICE_TELEMETRY_SAMPLING_RATIO",
	"BACKOFFICE_TELEMETRY_PROFILING_ENABLED",
	"BACKOFFICE_HTTP_RATE_LIMIT_STORE",
	"BACKOFFICE_HTTP_ADMIN_RATE_LIMIT",
}

// clearEnv blanks every managed variable for the duration of the test
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range managedEnv {
		t.Setenv(k, "")
	}
}

func TestLoad(t *testing.T) {
	t.Run("loads default values when env vars not set", func(t *testing.T) {
		clearEnv(t)

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "backoffice", cfg.App.Name)
		assert.Equal(t, "development", cfg.App.Env)
		assert.Equal(t, "8080", cfg.App.Port)
		assert.Equal(t, "localhost", cfg.Database.Host)
		assert.Equal(t, 5432, cfg.Database.Port)
		assert.Equal(t, 25, cfg.Database.MaxOpenConns)
		assert.Equal(t, 5, cfg.Database.MaxIdleConns)

		assert.True(t, cfg.Scheduler.Enabled)
		assert.Equal(t, "0 3 * * *", cfg.Scheduler.NightlyCronSchedule)
		assert.Equal(t, "0 4 1 * *", cfg.Scheduler.MonthlyCronSchedule)

		assert.Equal(t, "UTC", cfg.Statistics.Timezone)
		assert.Equal(t, 168*time.Hour, cfg.Statistics.DedupWindow)
		assert.Equal(t, 1, cfg.Statistics.ReconcileWindowDays)

		assert.True(t, cfg.Cache.L1Enabled)
		assert.False(t, cfg.Cache.L2Enabled)
		assert.Equal(t, "stats:", cfg.Cache.KeyPrefix)
		assert.Equal(t, 1000, cfg.Cache.RealtimeMaxKeys)
		assert.Equal(t, 500, cfg.Cache.RealtimeKeepKeys)
		assert.Empty(t, cfg.Cache.TTLOverrides)

		assert.True(t, cfg.Archive.Enabled)
		assert.Equal(t, 365, cfg.Archive.RetentionDays)
		assert.Equal(t, 1000, cfg.Archive.BatchSize)
		assert.Equal(t, "delete", cfg.Archive.Mode)

		assert.True(t, cfg.Telemetry.PrometheusEnabled)
		assert.InDelta(t, 0.1, cfg.Telemetry.SamplingRatio, 1e-9)

		assert.Equal(t, 30*time.Second, cfg.HTTP.RequestTimeout)
		assert.Equal(t, "memory", cfg.HTTP.RateLimitStore)
		assert.Zero(t, cfg.HTTP.AdminRateLimit)
	})

	t.Run("loads values from environment variables with BACKOFFICE prefix", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("BACKOFFICE_APP_NAME", "test-app")
		t.Setenv("BACKOFFICE_APP_PORT", "9000")
		t.Setenv("BACKOFFICE_DATABASE_HOST", "testdb.local")
		t.Setenv("BACKOFFICE_DATABASE_PORT", "5433")
		t.Setenv("BACKOFFICE_STATISTICS_TIMEZONE", "Asia/Seoul")
		t.Setenv("BACKOFFICE_ARCHIVE_ENABLED", "false")
		t.Setenv("BACKOFFICE_ARCHIVE_RETENTION_DAYS", "90")
		t.Setenv("BACKOFFICE_ARCHIVE_BATCH_SIZE", "250")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "test-app", cfg.App.Name)
		assert.Equal(t, "9000", cfg.App.Port)
		assert.Equal(t, "testdb.local", cfg.Database.Host)
		assert.Equal(t, 5433, cfg.Database.Port)
		assert.False(t, cfg.Archive.Enabled)
		assert.Equal(t, 90, cfg.Archive.RetentionDays)
		assert.Equal(t, 250, cfg.Archive.BatchSize)

		loc, err := cfg.Statistics.Location()
		require.NoError(t, err)
		assert.Equal(t, "Asia/Seoul", loc.String())
	})

	t.Run("reads per-namespace cache TTL overrides", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("BACKOFFICE_CACHE_TTL_SALES", "45m")
		t.Setenv("BACKOFFICE_CACHE_TTL_TOP_PRODUCTS", "1h")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, map[string]time.Duration{
			"sales":       45 * time.Minute,
			"topProducts": time.Hour,
		}, cfg.Cache.TTLOverrides)
	})

	t.Run("validates MaxIdleConns cannot exceed MaxOpenConns", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("BACKOFFICE_DATABASE_MAX_OPEN_CONNS", "10")
		t.Setenv("BACKOFFICE_DATABASE_MAX_IDLE_CONNS", "20")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cannot exceed")
	})
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "invalid timezone",
			env:     map[string]string{"BACKOFFICE_STATISTICS_TIMEZONE": "Mars/Olympus"},
			wantErr: "statistics.timezone",
		},
		{
			name:    "unknown archive mode",
			env:     map[string]string{"BACKOFFICE_ARCHIVE_MODE": "shred"},
			wantErr: "archive.mode must be delete or cold_storage",
		},
		{
			name:    "cold storage needs a bucket",
			env:     map[string]string{"BACKOFFICE_ARCHIVE_MODE": "cold_storage"},
			wantErr: "storage.bucket is required",
		},
		{
			name: "realtime keep above max",
			env: map[string]string{
				"BACKOFFICE_CACHE_REALTIME_MAX_KEYS":  "100",
				"BACKOFFICE_CACHE_REALTIME_KEEP_KEYS": "200",
			},
			wantErr: "cache.realtime_keep_keys",
		},
		{
			name:    "l2 cache needs redis",
			env:     map[string]string{"BACKOFFICE_CACHE_L2_ENABLED": "true"},
			wantErr: "redis.enabled is required",
		},
		{
			name:    "kafka needs brokers",
			env:     map[string]string{"BACKOFFICE_KAFKA_ENABLED": "true"},
			wantErr: "kafka.brokers is required",
		},
		{
			name:    "redis rate limiting needs redis",
			env:     map[string]string{"BACKOFFICE_HTTP_RATE_LIMIT_STORE": "redis"},
			wantErr: "http.rate_limit_store is redis",
		},
		{
			name:    "unknown rate limit store",
			env:     map[string]string{"BACKOFFICE_HTTP_RATE_LIMIT_STORE": "etcd"},
			wantErr: "http.rate_limit_store must be memory or redis",
		},
		{
			name:    "sampling ratio above one",
			env:     map[string]string{"BACKOFFICE_TELEMETRY_SAMPLING_RATIO": "1.5"},
			wantErr: "telemetry.sampling_ratio",
		},
		{
			name:    "profiling needs an address",
			env:     map[string]string{"BACKOFFICE_TELEMETRY_PROFILING_ENABLED": "true"},
			wantErr: "telemetry.profiling_address",
		},
		{
			name: "production requires database password",
			env: map[string]string{
				"BACKOFFICE_APP_ENV":          "production",
				"BACKOFFICE_DATABASE_SSLMODE": "require",
			},
			wantErr: "database.password is required in production",
		},
		{
			name: "production requires ssl",
			env: map[string]string{
				"BACKOFFICE_APP_ENV":           "production",
				"BACKOFFICE_DATABASE_PASSWORD": "secret",
			},
			wantErr: "database.sslmode cannot be 'disable' in production",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	t.Run("valid production config", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("BACKOFFICE_APP_ENV", "production")
		t.Setenv("BACKOFFICE_DATABASE_PASSWORD", "secret")
		t.Setenv("BACKOFFICE_DATABASE_SSLMODE", "require")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "production", cfg.App.Env)
	})
}

func TestDatabaseConfig_DSN(t *testing.T) {
	t.Run("generates valid DSN", func(t *testing.T) {
		cfg := DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "testuser",
			Password: "testpass",
			DBName:   "testdb",
			SSLMode:  "disable",
		}

		dsn := cfg.DSN()
		assert.Contains(t, dsn, "localhost:5432")
		assert.Contains(t, dsn, "testuser")
		assert.Contains(t, dsn, "/testdb")
		assert.Contains(t, dsn, "sslmode=disable")
		assert.Contains(t, dsn, "timezone=UTC")
	})

	t.Run("escapes special characters in password", func(t *testing.T) {
		cfg := DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "user",
			Password: "pass@word#123",
			DBName:   "db",
			SSLMode:  "disable",
		}

		assert.Contains(t, cfg.DSN(), "pass%40word%23123")
	})
}

func TestRedisConfig_Addr(t *testing.T) {
	assert.Equal(t, "cache.local:6380", RedisConfig{Host: "cache.local", Port: 6380}.Addr())
}
