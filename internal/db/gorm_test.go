package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/reportcollab/collabd/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"
)

func TestLogLevel(t *testing.T) {
	assert.Equal(t, logger.Silent, LogLevel("silent"))
	assert.Equal(t, logger.Error, LogLevel("ERROR"))
	assert.Equal(t, logger.Info, LogLevel("info"))
	assert.Equal(t, logger.Warn, LogLevel(""))
	assert.Equal(t, logger.Warn, LogLevel("verbose"))
}

func TestDialectorRejectsUnknownDriver(t *testing.T) {
	_, err := Dialector(&config.Config{DBDriver: "mysql"})
	assert.Error(t, err)
}

func TestNewGormSQLite(t *testing.T) {
	cfg := &config.Config{
		DBDriver:         config.DriverSQLite,
		SQLitePath:       filepath.Join(t.TempDir(), "collab.sqlite3"),
		DBLogLevel:       "silent",
		DBConnectTimeout: 5 * time.Second,
	}

	gdb, err := NewGorm(context.Background(), cfg)
	require.NoError(t, err)
	defer gdb.Close()

	for _, table := range []string{"reports", "edit_operations", "report_versions"} {
		assert.True(t, gdb.Migrator().HasTable(table), table)
	}
}
