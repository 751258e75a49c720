// Package config provides configuration structures and validation for the application.
// It handles environment-based configuration for both binaries: the HTTP gateway and the
// reconciliation worker, including storage, messaging, locking and matching parameters.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Lock backends accepted by MATCHING_LOCK_BACKEND.
const (
	LockBackendPostgres = "postgres"
	LockBackendRedis    = "redis"
)

// Config holds the complete application configuration with settings for all components.
// Each field represents a major subsystem's configuration and is validated during startup.
type Config struct {
	Application ApplicationConfig
	Logging     LoggingConfig
	Server      ServerConfig
	Kafka       KafkaConfig
	Postgres    PostgresConfig
	MongoDB     MongoDBConfig
	Redis       RedisConfig
	Outbox      OutboxConfig
	WorkerPool  WorkerPoolConfig
	Matching    MatchingConfig
	Scheduler   SchedulerConfig
	Metrics     MetricsConfig
	Tracing     TracingConfig
}

// ApplicationConfig contains general application configuration
type ApplicationConfig struct {
	Env  string
	Name string
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level string
}

// ServerConfig contains HTTP server configuration settings
type ServerConfig struct {
	Port            int           // Port to listen on
	ShutdownTimeout time.Duration // Grace period for server shutdown
	ReadTimeout     time.Duration // Maximum duration for reading entire request
	WriteTimeout    time.Duration // Maximum duration for writing response
	IdleTimeout     time.Duration // Maximum duration to wait for next request
}

// KafkaConfig contains Kafka configuration
type KafkaConfig struct {
	Brokers           string
	ReconcileTopic    string // Incremental reconciliation jobs published by the outbox poller
	BatchTopic        string // Normalized event batches published by source adapters
	NumPartitions     int
	ReplicationFactor int
	ConsumerGroup     string
	MinBytes          int
	MaxBytes          int
	MaxWait           time.Duration
	StartOffset       int64
	DLQTopic          string
}

// PostgresConfig contains PostgreSQL configuration
type PostgresConfig struct {
	URL             string        // Database connection string
	MaxConns        int32         // Maximum number of open connections
	MinConns        int32         // Minimum number of idle connections
	ConnMaxLifetime time.Duration // Maximum lifetime of a connection
	ConnMaxIdleTime time.Duration // Maximum idle time of a connection
	MigrationsPath  string        // Path to migration files
}

// MongoDBConfig contains MongoDB configuration for the audit log
type MongoDBConfig struct {
	URI             string
	Database        string
	Timeout         time.Duration
	MaxPoolSize     uint64
	MinPoolSize     uint64
	MaxConnIdleTime time.Duration
}

// RedisConfig contains Redis configuration, used when the lock backend is redis
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// OutboxConfig contains outbox pattern configuration
type OutboxConfig struct {
	PollingInterval  time.Duration
	BatchSize        int
	MaxRetryAttempts int
	Retention        time.Duration // PROCESSED rows older than this are purged; 0 keeps them
}

// WorkerPoolConfig contains worker pool configuration
type WorkerPoolConfig struct {
	Size int // Maximum number of concurrent candidate scorers
}

// MatchingConfig holds the tenant-independent matcher defaults.
// Tenants may override LookaheadDays and FuzzyTolerance through their settings record.
type MatchingConfig struct {
	LookaheadDays  int
	FuzzyTolerance decimal.Decimal
	MinorUnits     int32
	LockBackend    string
	LockTimeout    time.Duration // How long a pass waits for the (tenant, pair) lock
	LockTTL        time.Duration // Expiry of redis locks
}

// SchedulerConfig controls the periodic trailing-window rescan in the worker
type SchedulerConfig struct {
	Enabled    bool
	Interval   time.Duration
	WindowDays int
}

// MetricsConfig contains prometheus exposition settings
type MetricsConfig struct {
	Path string
	Port int // Worker only; the gateway serves metrics on its main port
}

// TracingConfig contains OpenTelemetry settings
type TracingConfig struct {
	Enabled  bool
	Endpoint string
}

// validate performs comprehensive validation of all configuration values,
// ensuring they meet minimum requirements and logical constraints
func (c *Config) validate() error {
	var validationErrors []string

	// Validate Server config
	if c.Server.Port <= 0 {
		validationErrors = append(validationErrors, "SERVER_PORT must be greater than 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_SHUTDOWN_TIMEOUT must be greater than 0")
	}
	if c.Server.ReadTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_READ_TIMEOUT must be greater than 0")
	}
	if c.Server.WriteTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_WRITE_TIMEOUT must be greater than 0")
	}
	if c.Server.IdleTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_IDLE_TIMEOUT must be greater than 0")
	}

	// Validate Kafka config
	if len(c.Kafka.Brokers) == 0 {
		validationErrors = append(validationErrors, "KAFKA_BROKERS is required")
	}
	if c.Kafka.ReconcileTopic == "" {
		validationErrors = append(validationErrors, "KAFKA_RECONCILE_TOPIC is required")
	}
	if c.Kafka.BatchTopic == "" {
		validationErrors = append(validationErrors, "KAFKA_BATCH_TOPIC is required")
	}
	if c.Kafka.ConsumerGroup == "" {
		validationErrors = append(validationErrors, "KAFKA_CONSUMER_GROUP is required")
	}
	if c.Kafka.MinBytes <= 0 {
		validationErrors = append(validationErrors, "KAFKA_CONSUMER_MIN_BYTES must be greater than 0")
	}
	if c.Kafka.MaxBytes <= 0 {
		validationErrors = append(validationErrors, "KAFKA_CONSUMER_MAX_BYTES must be greater than 0")
	}
	if c.Kafka.MaxWait <= 0 {
		validationErrors = append(validationErrors, "KAFKA_CONSUMER_MAX_WAIT must be greater than 0")
	}
	if c.Kafka.DLQTopic == "" {
		validationErrors = append(validationErrors, "KAFKA_DLQ_TOPIC is required")
	}

	// Validate PostgreSQL config
	if c.Postgres.URL == "" {
		validationErrors = append(validationErrors, "POSTGRES_URL is required")
	}
	if c.Postgres.MaxConns <= 0 {
		validationErrors = append(validationErrors, "POSTGRES_MAX_CONNS must be greater than 0")
	}
	if c.Postgres.MinConns <= 0 {
		validationErrors = append(validationErrors, "POSTGRES_MIN_CONNS must be greater than 0")
	}
	if c.Postgres.ConnMaxLifetime <= 0 {
		validationErrors = append(validationErrors, "POSTGRES_MAX_CONN_LIFETIME must be greater than 0")
	}
	if c.Postgres.ConnMaxIdleTime <= 0 {
		validationErrors = append(validationErrors, "POSTGRES_MAX_CONN_IDLE_TIME must be greater than 0")
	}

	// Validate MongoDB config
	if c.MongoDB.URI == "" {
		validationErrors = append(validationErrors, "MONGO_URI is required")
	}
	if c.MongoDB.Database == "" {
		validationErrors = append(validationErrors, "MONGO_DATABASE is required")
	}
	if c.MongoDB.Timeout <= 0 {
		validationErrors = append(validationErrors, "MONGO_TIMEOUT must be greater than 0")
	}
	if c.MongoDB.MaxPoolSize <= 0 {
		validationErrors = append(validationErrors, "MONGO_MAX_POOL_SIZE must be greater than 0")
	}
	if c.MongoDB.MinPoolSize <= 0 {
		validationErrors = append(validationErrors, "MONGO_MIN_POOL_SIZE must be greater than 0")
	}
	if c.MongoDB.MaxConnIdleTime <= 0 {
		validationErrors = append(validationErrors, "MONGO_MAX_CONN_IDLE_TIME must be greater than 0")
	}

	// Validate Outbox config
	if c.Outbox.PollingInterval <= 0 {
		validationErrors = append(validationErrors, "OUTBOX_POLLING_INTERVAL must be greater than 0")
	}
	if c.Outbox.BatchSize <= 0 {
		validationErrors = append(validationErrors, "OUTBOX_BATCH_SIZE must be greater than 0")
	}
	if c.Outbox.MaxRetryAttempts <= 0 {
		validationErrors = append(validationErrors, "OUTBOX_MAX_RETRY_ATTEMPTS must be greater than 0")
	}
	if c.Outbox.Retention < 0 {
		validationErrors = append(validationErrors, "OUTBOX_RETENTION must not be negative")
	}

	// Validate WorkerPool config
	if c.WorkerPool.Size <= 0 {
		validationErrors = append(validationErrors, "WORKER_POOL_SIZE must be greater than 0")
	}

	// Validate Matching config
	if c.Matching.LookaheadDays < 0 {
		validationErrors = append(validationErrors, "MATCHING_LOOKAHEAD_DAYS must not be negative")
	}
	if c.Matching.FuzzyTolerance.IsNegative() {
		validationErrors = append(validationErrors, "MATCHING_FUZZY_TOLERANCE must not be negative")
	}
	if c.Matching.MinorUnits < 0 || c.Matching.MinorUnits > 4 {
		validationErrors = append(validationErrors, "MATCHING_MINOR_UNITS must be between 0 and 4")
	}
	switch c.Matching.LockBackend {
	case LockBackendPostgres:
	case LockBackendRedis:
		if c.Redis.Addr == "" {
			validationErrors = append(validationErrors, "REDIS_ADDR is required when MATCHING_LOCK_BACKEND is redis")
		}
		if c.Matching.LockTTL <= 0 {
			validationErrors = append(validationErrors, "MATCHING_LOCK_TTL must be greater than 0")
		}
	default:
		validationErrors = append(validationErrors, "MATCHING_LOCK_BACKEND must be one of postgres, redis")
	}
	if c.Matching.LockTimeout <= 0 {
		validationErrors = append(validationErrors, "MATCHING_LOCK_TIMEOUT must be greater than 0")
	}

	// Validate Scheduler config
	if c.Scheduler.Enabled {
		if c.Scheduler.Interval <= 0 {
			validationErrors = append(validationErrors, "SCHEDULER_INTERVAL must be greater than 0")
		}
		if c.Scheduler.WindowDays <= 0 {
			validationErrors = append(validationErrors, "SCHEDULER_WINDOW_DAYS must be greater than 0")
		}
	}

	if c.Metrics.Path == "" || !strings.HasPrefix(c.Metrics.Path, "/") {
		validationErrors = append(validationErrors, "METRICS_PATH must start with /")
	}

	if len(validationErrors) > 0 {
		return errors.New(strings.Join(validationErrors, ", "))
	}

	return nil
}
