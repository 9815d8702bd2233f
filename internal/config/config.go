package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	DBDriver   string
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string
	SQLitePath string

	// DBLogLevel is the GORM logger level: silent, error, warn or info.
	DBLogLevel       string
	DBConnectTimeout time.Duration

	ServerPort string
	ServerHost string

	LogLevel  string
	LogFormat string

	// Collaboration timings
	SessionTimeout       time.Duration
	SessionSweepInterval time.Duration
	AutoVersionInterval  time.Duration
	SyncOperationsLimit  int

	// Snapshot worker pool
	VersionWorkers   int
	VersionQueueSize int

	// Cross-instance fan-out; empty RedisAddr keeps everything in-process.
	RedisAddr          string
	RedisChannelPrefix string

	// Observability
	TracingEnabled bool
	JaegerEndpoint string
}

func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		DBDriver:   strings.ToLower(getEnv("DB_DRIVER", DriverPostgres)),
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "collab"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),
		SQLitePath: getEnv("SQLITE_PATH", "collab.sqlite3"),

		DBLogLevel:       getEnv("DB_LOG_LEVEL", "warn"),
		DBConnectTimeout: getEnvDuration("DB_CONNECT_TIMEOUT", 30*time.Second),

		ServerPort: getEnv("SERVER_PORT", "8080"),
		ServerHost: getEnv("SERVER_HOST", "localhost"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "console"),

		SessionTimeout:       getEnvDuration("SESSION_TIMEOUT", 5*time.Minute),
		SessionSweepInterval: getEnvDuration("SESSION_SWEEP_INTERVAL", 60*time.Second),
		AutoVersionInterval:  getEnvDuration("AUTO_VERSION_INTERVAL", 5*time.Minute),
		SyncOperationsLimit:  getEnvInt("SYNC_OPERATIONS_LIMIT", 100),

		VersionWorkers:   getEnvInt("VERSION_WORKERS", 2),
		VersionQueueSize: getEnvInt("VERSION_QUEUE_SIZE", 64),

		RedisAddr:          getEnv("REDIS_ADDR", ""),
		RedisChannelPrefix: getEnv("REDIS_CHANNEL_PREFIX", "collab:doc:"),

		TracingEnabled: getEnvBool("TRACING_ENABLED", false),
		JaegerEndpoint: getEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
	}

	switch cfg.DBDriver {
	case DriverPostgres, DriverSQLite:
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q (want %s or %s)", cfg.DBDriver, DriverPostgres, DriverSQLite)
	}

	if cfg.VersionWorkers < 1 {
		cfg.VersionWorkers = 1
	}
	if cfg.VersionQueueSize < 0 {
		cfg.VersionQueueSize = 0
	}

	return cfg, nil
}

func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}

// Addr is the listen address of the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%s", c.ServerHost, c.ServerPort)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil && parsed > 0 {
			return parsed
		}
	}
	return defaultValue
}
