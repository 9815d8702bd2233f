package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DB_DRIVER", "")
	t.Setenv("SESSION_TIMEOUT", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DriverPostgres, cfg.DBDriver)
	assert.Equal(t, 5*time.Minute, cfg.SessionTimeout)
	assert.Equal(t, 60*time.Second, cfg.SessionSweepInterval)
	assert.Equal(t, 5*time.Minute, cfg.AutoVersionInterval)
	assert.Equal(t, 100, cfg.SyncOperationsLimit)
	assert.Equal(t, "collab:doc:", cfg.RedisChannelPrefix)
	assert.False(t, cfg.TracingEnabled)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DB_DRIVER", "SQLite")
	t.Setenv("SQLITE_PATH", "/tmp/x.db")
	t.Setenv("SESSION_TIMEOUT", "90s")
	t.Setenv("AUTO_VERSION_INTERVAL", "not-a-duration")
	t.Setenv("VERSION_WORKERS", "0")
	t.Setenv("VERSION_QUEUE_SIZE", "-5")
	t.Setenv("TRACING_ENABLED", "true")
	t.Setenv("SERVER_HOST", "0.0.0.0")
	t.Setenv("SERVER_PORT", "9000")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DriverSQLite, cfg.DBDriver)
	assert.Equal(t, "/tmp/x.db", cfg.SQLitePath)
	assert.Equal(t, 90*time.Second, cfg.SessionTimeout)
	assert.Equal(t, 5*time.Minute, cfg.AutoVersionInterval, "invalid duration falls back to default")
	assert.Equal(t, 1, cfg.VersionWorkers)
	assert.Equal(t, 0, cfg.VersionQueueSize, "negative queue size is clamped")
	assert.True(t, cfg.TracingEnabled)
	assert.Equal(t, "0.0.0.0:9000", cfg.Addr())
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	t.Setenv("DB_DRIVER", "mysql")

	_, err := Load()
	assert.Error(t, err)
}

func TestDatabaseURL(t *testing.T) {
	cfg := &Config{DBHost: "db", DBPort: "5433", DBUser: "u", DBPassword: "p", DBName: "n", DBSSLMode: "require"}
	assert.Equal(t, "host=db port=5433 user=u password=p dbname=n sslmode=require", cfg.DatabaseURL())
}
