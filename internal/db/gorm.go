package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/reportcollab/collabd/internal/config"
	"github.com/reportcollab/collabd/internal/models"

	"github.com/cenkalti/backoff"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// GormDB wraps the GORM database instance
type GormDB struct {
	*gorm.DB
}

// NewGorm opens the configured database, retrying with exponential backoff
// until DBConnectTimeout elapses, and migrates the schema.
func NewGorm(ctx context.Context, cfg *config.Config) (*GormDB, error) {
	dialector, err := Dialector(cfg)
	if err != nil {
		return nil, err
	}

	gormCfg := &gorm.Config{
		Logger: logger.Default.LogMode(LogLevel(cfg.DBLogLevel)),
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = cfg.DBConnectTimeout

	var db *gorm.DB
	connect := func() error {
		opened, err := gorm.Open(dialector, gormCfg)
		if err != nil {
			return err
		}
		sqlDB, err := opened.DB()
		if err != nil {
			return backoff.Permanent(err)
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			_ = sqlDB.Close()
			return err
		}
		db = opened
		return nil
	}
	notify := func(err error, wait time.Duration) {
		log.Warn().Err(err).Dur("retry_in", wait).Str("driver", cfg.DBDriver).Msg("database not ready")
	}

	if err := backoff.RetryNotify(connect, backoff.WithContext(policy, ctx), notify); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	log.Info().Str("driver", cfg.DBDriver).Msg("database connected and migrated")

	return &GormDB{db}, nil
}

// Dialector picks the GORM driver for cfg.DBDriver.
func Dialector(cfg *config.Config) (gorm.Dialector, error) {
	switch cfg.DBDriver {
	case config.DriverPostgres:
		return postgres.Open(cfg.DatabaseURL()), nil
	case config.DriverSQLite:
		return sqlite.Open(cfg.SQLitePath), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.DBDriver)
	}
}

// Migrate creates or updates the tables backing reports, the operation
// journal and version snapshots.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Report{},
		&models.Operation{},       // edit_operations
		&models.VersionSnapshot{}, // report_versions
	); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// LogLevel maps a config string onto the GORM logger level. Unknown values
// mean warn.
func LogLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}

// Close closes the database connection
func (db *GormDB) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
