package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the ingestion server.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Storage    StorageConfig
	Indexer    IndexerConfig
	Kafka      KafkaConfig
	Pipeline   PipelineConfig
	Validation ValidationConfig
	Log        LogConfig
}

type ServerConfig struct {
	Port            int
	Env             string
	RateLimitPerMin int
	AuthEnabled     bool
	MaxUploadBytes  int64
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MigrationsDir   string
}

type RedisConfig struct {
	URL string
}

type StorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type IndexerConfig struct {
	Mode    string
	BaseURL string
	Timeout time.Duration
	AMQPURL string
	Queue   string
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type PipelineConfig struct {
	CommitChunkSize int
	MaxConcurrent   int
	LockTTL         time.Duration
	StatusTTL       time.Duration
}

type ValidationConfig struct {
	RulesFile string
}

type LogConfig struct {
	Level string
	File  string
}

const (
	IndexerModeHTTP = "http"
	IndexerModeAMQP = "amqp"
)

var validIndexerModes = map[string]bool{
	IndexerModeHTTP: true,
	IndexerModeAMQP: true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            envInt("PLC_PORT", 8080),
			Env:             envString("PLC_ENV", "development"),
			RateLimitPerMin: envInt("RATE_LIMIT_PER_MIN", 60),
			AuthEnabled:     envBool("AUTH_ENABLED", true),
			MaxUploadBytes:  int64(envInt("MAX_UPLOAD_MB", 256)) << 20,
			ShutdownTimeout: envDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
			MigrationsDir:   envString("MIGRATIONS_DIR", "migrations"),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Storage: StorageConfig{
			Endpoint:  os.Getenv("S3_ENDPOINT"),
			AccessKey: os.Getenv("S3_ACCESS_KEY"),
			SecretKey: os.Getenv("S3_SECRET_KEY"),
			Bucket:    envString("S3_BUCKET", "plc-programs"),
			UseSSL:    envBool("S3_USE_SSL", false),
		},
		Indexer: IndexerConfig{
			Mode:    envString("INDEXER_MODE", IndexerModeHTTP),
			BaseURL: os.Getenv("INDEXER_BASE_URL"),
			Timeout: envDuration("INDEXER_TIMEOUT", 60*time.Second),
			AMQPURL: os.Getenv("INDEXER_AMQP_URL"),
			Queue:   envString("INDEXER_QUEUE", "vector_indexing"),
		},
		Kafka: KafkaConfig{
			Brokers: envList("KAFKA_BROKERS"),
			Topic:   envString("KAFKA_PROGRAM_TOPIC", "program-events"),
		},
		Pipeline: PipelineConfig{
			CommitChunkSize: envInt("COMMIT_CHUNK_SIZE", 50),
			MaxConcurrent:   envInt("PIPELINE_MAX_CONCURRENT", 4),
			LockTTL:         envDuration("PIPELINE_LOCK_TTL", 2*time.Hour),
			StatusTTL:       envDuration("PROGRAM_STATUS_TTL", 24*time.Hour),
		},
		Validation: ValidationConfig{
			RulesFile: os.Getenv("VALIDATION_RULES_FILE"),
		},
		Log: LogConfig{
			Level: strings.ToLower(envString("LOG_LEVEL", "info")),
			File:  os.Getenv("LOG_FILE"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Storage.Endpoint == "" {
		return fmt.Errorf("S3_ENDPOINT is required")
	}
	if c.Storage.AccessKey == "" || c.Storage.SecretKey == "" {
		return fmt.Errorf("S3_ACCESS_KEY and S3_SECRET_KEY are required")
	}

	if !validIndexerModes[c.Indexer.Mode] {
		return fmt.Errorf("INDEXER_MODE must be one of http, amqp; got %q", c.Indexer.Mode)
	}
	if c.Indexer.Mode == IndexerModeHTTP {
		if c.Indexer.BaseURL == "" {
			return fmt.Errorf("INDEXER_BASE_URL is required when INDEXER_MODE is http")
		}
		if !strings.HasPrefix(c.Indexer.BaseURL, "http://") && !strings.HasPrefix(c.Indexer.BaseURL, "https://") {
			return fmt.Errorf("INDEXER_BASE_URL must start with http:// or https://, got %q", c.Indexer.BaseURL)
		}
	}
	if c.Indexer.Mode == IndexerModeAMQP && c.Indexer.AMQPURL == "" {
		return fmt.Errorf("INDEXER_AMQP_URL is required when INDEXER_MODE is amqp")
	}

	if c.Pipeline.CommitChunkSize <= 0 {
		return fmt.Errorf("COMMIT_CHUNK_SIZE must be positive, got %d", c.Pipeline.CommitChunkSize)
	}
	if c.Pipeline.MaxConcurrent <= 0 {
		return fmt.Errorf("PIPELINE_MAX_CONCURRENT must be positive, got %d", c.Pipeline.MaxConcurrent)
	}

	if !validLogLevels[c.Log.Level] {
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error; got %q", c.Log.Level)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

// envList splits a comma-separated variable, dropping empty entries.
func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
