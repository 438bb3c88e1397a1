package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds service-level configuration for the harness daemon.
type Config struct {
	HTTPPort string

	// APIKeySHA256 is the hex SHA-256 of the inbound API key. Empty disables
	// auth (local development).
	APIKeySHA256 string

	ProvidersFile string
	PricingFile   string

	Cache    CacheConfig
	Redis    RedisConfig
	Database DatabaseConfig
	Sessions SessionConfig
	Results  ResultLogConfig
	S3Sink   S3SinkConfig

	// SweepSchedule is the cron spec for cache/session maintenance.
	SweepSchedule string
}

// CacheConfig selects and sizes the response cache.
type CacheConfig struct {
	Backend    string // "memory", "redis" or "sqlite"
	Size       int
	TTL        time.Duration
	SQLitePath string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

// DatabaseConfig holds Postgres settings for result persistence.
// An empty URL disables persistence.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	// ResultRetention bounds how long eval records are kept. Zero keeps
	// them forever.
	ResultRetention time.Duration
}

// SessionConfig bounds the conversation handle pool.
type SessionConfig struct {
	PoolSize int
	IdleTTL  time.Duration
}

// ResultLogConfig configures the local JSONL result log.
type ResultLogConfig struct {
	FilePathTemplate string
	MaxSize          int64
	MaxFiles         int
	FlushInterval    time.Duration
}

// S3SinkConfig configures the optional S3 result sink.
type S3SinkConfig struct {
	Enabled       bool
	BufferSize    int
	FlushSize     int
	FlushInterval time.Duration
	Bucket        string
	Region        string
	Prefix        string
	WriterName    string
}

func getEnvString(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	intVal, err := strconv.Atoi(val)
	if err != nil {
		return defaultValue
	}
	return intVal
}

func getEnvInt64(key string, defaultValue int64) int64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	intVal, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return defaultValue
	}
	return intVal
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultValue
	}
	return d
}

// Load reads service configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPPort:      getEnvString("HTTP_PORT", "8080"),
		APIKeySHA256:  getEnvString("EVAL_API_KEY_SHA256", ""),
		ProvidersFile: getEnvString("PROVIDERS_FILE", "providers.yaml"),
		PricingFile:   getEnvString("PRICING_FILE", ""),
		Cache: CacheConfig{
			Backend:    getEnvString("CACHE_BACKEND", "memory"),
			Size:       getEnvInt("CACHE_SIZE", 10000),
			TTL:        getEnvDuration("CACHE_TTL", 14*24*time.Hour),
			SQLitePath: getEnvString("CACHE_SQLITE_PATH", "eval-cache.db"),
		},
		Redis: RedisConfig{
			Address:  getEnvString("REDIS_ADDRESS", "localhost:6379"),
			Password: getEnvString("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Database: DatabaseConfig{
			URL:             getEnvString("DATABASE_URL", ""),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", time.Minute),
			ResultRetention: getEnvDuration("DB_RESULT_RETENTION", 0),
		},
		Sessions: SessionConfig{
			PoolSize: getEnvInt("SESSION_POOL_SIZE", 16),
			IdleTTL:  getEnvDuration("SESSION_IDLE_TTL", 30*time.Minute),
		},
		Results: ResultLogConfig{
			FilePathTemplate: getEnvString("RESULT_LOG_FILE_PATH_TEMPLATE", "/var/log/eval-harness/results-%s.jsonl"),
			MaxSize:          getEnvInt64("RESULT_LOG_MAX_SIZE", 10_485_760),
			MaxFiles:         getEnvInt("RESULT_LOG_MAX_FILES", 5),
			FlushInterval:    getEnvDuration("RESULT_LOG_FLUSH_INTERVAL", 60*time.Second),
		},
		S3Sink: S3SinkConfig{
			Enabled:       getEnvString("S3_SINK_ENABLED", "false") == "true",
			BufferSize:    getEnvInt("S3_SINK_BUFFER_SIZE", 10000),
			FlushSize:     getEnvInt("S3_SINK_FLUSH_SIZE", 1000),
			FlushInterval: getEnvDuration("S3_SINK_FLUSH_INTERVAL", 5*time.Minute),
			Bucket:        getEnvString("S3_SINK_BUCKET", ""),
			Region:        getEnvString("S3_SINK_REGION", "us-east-1"),
			Prefix:        getEnvString("S3_SINK_PREFIX", "results/"),
			WriterName:    getEnvString("S3_SINK_WRITER_NAME", "harness-0"),
		},
		SweepSchedule: getEnvString("SWEEP_SCHEDULE", "@every 1m"),
	}
	return cfg, nil
}
