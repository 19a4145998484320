package config

import (
	"errors"
	"io/fs"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type Config struct {
	AppName                       string   `env:"APP_NAME" env-default:"fern-api"`
	Port                          int      `env:"PORT" env-default:"3000"`
	LogLevel                      string   `env:"LOG_LEVEL" env-default:"info"`
	HttpServerWriteTimeoutSeconds int      `env:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS" env-default:"30"`
	HttpServerReadTimeoutSeconds  int      `env:"HTTP_SERVER_READ_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerIdleTimeoutSeconds  int      `env:"HTTP_SERVER_IDLE_TIMEOUT_SECONDS" env-default:"10"`
	MaxHeaderBytes                int      `env:"HTTP_SERVER_MAX_HEADER_BYTES" env-default:"64000"` // 64KB
	AllowOrigins                  []string `env:"HTTP_SERVER_ALLOW_ORIGINS" env-default:"*"`
	StartupMaxAttempts            int      `env:"STARTUP_MAX_ATTEMPTS" env-default:"5"`
	// Public URL of this service, used to build the OAuth redirect_url placeholder
	BaseURL string `env:"BASE_URL" env-default:"http://localhost:3000"`

	// Database host
	DatabaseHost string `env:"DB_HOST" env-default:"localhost"`
	// Database port
	DatabasePort string `env:"DB_PORT" env-default:"5432"`
	// Database user
	DatabaseUserName string `env:"DB_USER_NAME" env-default:""`
	// Database user password
	DatabasePassword string `env:"DB_PASSWORD" env-default:""`
	// Database name
	DatabaseName string `env:"DB_NAME" env-default:"fern"`
	// Database SSL Mode
	DatabaseSSLMode string `env:"DB_SSL_MODE" env-default:"disable"`
	// Max Open Conns
	DatabaseMaxOpenConns int `env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	// Max Idle Conns
	DatabaseMaxIdleConns int `env:"DB_MAX_IDLE_CONNS" env-default:"10"`
	// Conn Max Lifetime
	DatabaseConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"10s"`
	// Migration Folder Path
	DatabaseMigrationFolderPath string `env:"DB_MIGRATION_FOLDER_PATH" env-default:"db/pg"`
	// Database Migration Version
	DatabaseMigrationVersion int `env:"DB_MIGRATION_VERSION" env-default:"0"`
	// Database Migration Force
	DatabaseMigrationForce int `env:"DB_MIGRATION_FORCE" env-default:"0"`
	// Database Migration Auto Rollback
	DatabaseMigrationAutoRollback bool `env:"DB_MIGRATION_AUTO_ROLLBACK" env-default:"true"`

	// Auth Enabled - when false, X-Tenant-ID and X-User-ID headers are trusted
	AuthEnabled bool `env:"AUTH_ENABLED" env-default:"false"`
	// Auth Issuer URL
	AuthIssuerURL string `env:"AUTH_ISSUER_URL" env-default:""`
	// Auth Client ID
	AuthClientID string `env:"AUTH_CLIENT_ID" env-default:""`
	// Token claim holding the caller's tenant id
	AuthTenantClaim string `env:"AUTH_TENANT_CLAIM" env-default:"tenant_id"`

	// Redis host
	RedisHost string `env:"REDIS_HOST" env-default:"localhost"`
	// Redis port
	RedisPort int `env:"REDIS_PORT" env-default:"6379"`
	// Redis password
	RedisPassword string `env:"REDIS_PASSWORD" env-default:""`
	// Redis database number
	RedisDB int `env:"REDIS_DB" env-default:"0"`

	// Publish notifications and trace steps to Kafka
	KafkaEnabled bool `env:"KAFKA_ENABLED" env-default:"true"`
	// Kafka brokers (comma-separated)
	KafkaBrokers string `env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	// Kafka topic for integration notifications (failed, blocked, refresh failures)
	KafkaNotificationTopic string `env:"KAFKA_NOTIFICATION_TOPIC" env-default:"integration-notifications"`
	// Kafka topic for sanitized trace steps
	KafkaTraceTopic string `env:"KAFKA_TRACE_TOPIC" env-default:"integration-traces"`

	// Execution settings
	// Timeout for a single outbound HTTP call
	HTTPTimeout time.Duration `env:"EXECUTION_HTTP_TIMEOUT" env-default:"120s"`
	// Maximum redirects followed before a call fails
	HTTPMaxRedirects int `env:"EXECUTION_HTTP_MAX_REDIRECTS" env-default:"10"`
	// Maximum response body size kept from a remote API
	HTTPMaxResponseBytes int64 `env:"EXECUTION_HTTP_MAX_RESPONSE_BYTES" env-default:"10485760"`
	// Delay before a failed run is retried
	RetryDelay time.Duration `env:"EXECUTION_RETRY_DELAY" env-default:"1h"`

	// Scheduler settings
	// Scheduler poll interval
	SchedulerPollInterval time.Duration `env:"SCHEDULER_POLL_INTERVAL" env-default:"30s"`
	// Due retries picked up per cycle
	SchedulerBatchSize int `env:"SCHEDULER_BATCH_SIZE" env-default:"100"`
	// Enable/disable the scheduler
	SchedulerEnabled bool `env:"SCHEDULER_ENABLED" env-default:"true"`
	// Lock held while one retry is dispatched
	SchedulerLockTTL time.Duration `env:"SCHEDULER_LOCK_TTL" env-default:"30s"`

	// Redis Streams settings
	// Job queue stream name
	RedisStreamsJobQueue string `env:"REDIS_STREAMS_JOB_QUEUE" env-default:"fern:jobs"`
	// Consumer group name
	RedisStreamsConsumerGroup string `env:"REDIS_STREAMS_CONSUMER_GROUP" env-default:"fern-workers"`
	// Consumer name (defaults to hostname if empty)
	RedisStreamsConsumerName string `env:"REDIS_STREAMS_CONSUMER_NAME" env-default:""`
	// Number of job workers
	QueueWorkers int `env:"QUEUE_WORKERS" env-default:"4"`
	// Attempts before a job is dead-lettered
	QueueMaxAttempts int `env:"QUEUE_MAX_ATTEMPTS" env-default:"3"`
	// How often pending jobs of dead consumers are reclaimed
	QueueClaimInterval time.Duration `env:"QUEUE_CLAIM_INTERVAL" env-default:"30s"`
	// Stream holding dead-lettered jobs
	RedisStreamsDLQ string `env:"REDIS_STREAMS_DLQ" env-default:"fern:dlq"`

	// Tracing settings
	// Enable OTLP tracing export (set to true to send traces to collector)
	OTLPEnabled bool `env:"OTLP_ENABLED" env-default:"false"`
	// OTLP collector endpoint
	OTLPEndpoint string `env:"OTLP_ENDPOINT" env-default:"localhost:4317"`
	// OTLP protocol (grpc or http)
	OTLPProtocol string `env:"OTLP_PROTOCOL" env-default:"grpc"`
	// Disable TLS for OTLP (for local development)
	OTLPInsecure bool `env:"OTLP_INSECURE" env-default:"true"`
	// Print spans to stdout instead of exporting them
	TraceConsole bool `env:"TRACE_CONSOLE" env-default:"false"`
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
