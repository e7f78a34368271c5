package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Registry and blob backends
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendFS     = "fs"
	BackendMinIO  = "minio"

	ModePolling = "polling"
	ModeWebhook = "webhook"
)

// Config holds all application configuration
type Config struct {
	// Service configuration
	ServicePort   string
	ServiceName   string
	PublicBaseURL string
	LogLevel      string

	// Bot configuration
	BotToken     string
	AdminID      string
	BotMode      string
	WebhookURL   string
	MessageLimit int
	MessagePause time.Duration

	// Registry configuration
	RegistryBackend    string
	FileTTL            time.Duration
	SweepInterval      time.Duration
	TombstoneRetention time.Duration
	TombstoneCapacity  int

	// Blob configuration
	BlobBackend string
	DataDir     string

	// MinIO configuration
	MinIOEndpoint   string
	MinIOAccessKey  string
	MinIOSecretKey  string
	MinIOBucketName string
	MinIOUseSSL     bool

	// Redis configuration
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// MySQL audit log configuration
	AuditEnabled  bool
	MySQLHost     string
	MySQLPort     string
	MySQLUser     string
	MySQLPassword string
	MySQLDatabase string

	// Tracing configuration
	TracingEnabled     bool
	JaegerEndpoint     string
	TracingSampleRatio float64
}

// LoadDotEnv loads variables from the given files (default ".env") without
// overriding ones already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// LoadConfig loads configuration from environment variables with sensible defaults
func LoadConfig() (*Config, error) {
	config := &Config{
		// Service defaults
		ServicePort:   getEnv("SERVICE_PORT", "8080"),
		ServiceName:   getEnv("SERVICE_NAME", "filelink"),
		PublicBaseURL: strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),

		// Bot defaults
		BotToken:     getEnv("BOT_TOKEN", ""),
		AdminID:      getEnv("ADMIN_ID", ""),
		BotMode:      getEnv("BOT_MODE", ModePolling),
		WebhookURL:   getEnv("WEBHOOK_URL", ""),
		MessageLimit: getEnvAsInt("MESSAGE_LIMIT", 4000),
		MessagePause: getEnvAsDuration("MESSAGE_PAUSE", time.Second),

		// Registry defaults
		RegistryBackend:    getEnv("REGISTRY_BACKEND", BackendMemory),
		FileTTL:            getEnvAsDuration("FILE_TTL", 24*time.Hour),
		SweepInterval:      getEnvAsDuration("SWEEP_INTERVAL", time.Hour),
		TombstoneRetention: getEnvAsDuration("TOMBSTONE_RETENTION", 24*time.Hour),
		TombstoneCapacity:  getEnvAsInt("TOMBSTONE_CAPACITY", 10000),

		// Blob defaults
		BlobBackend: getEnv("BLOB_BACKEND", BackendFS),
		DataDir:     getEnv("DATA_DIR", "./data"),

		// MinIO defaults
		MinIOEndpoint:   getEnv("MINIO_ENDPOINT", "localhost:9000"),
		MinIOAccessKey:  getEnv("MINIO_ACCESS_KEY", "minioadmin"),
		MinIOSecretKey:  getEnv("MINIO_SECRET_KEY", "minioadmin"),
		MinIOBucketName: getEnv("MINIO_BUCKET_NAME", "filelink"),
		MinIOUseSSL:     getEnvAsBool("MINIO_USE_SSL", false),

		// Redis defaults
		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		// MySQL defaults
		AuditEnabled:  getEnvAsBool("AUDIT_ENABLED", false),
		MySQLHost:     getEnv("MYSQL_HOST", "localhost"),
		MySQLPort:     getEnv("MYSQL_PORT", "3306"),
		MySQLUser:     getEnv("MYSQL_USER", "root"),
		MySQLPassword: getEnv("MYSQL_PASSWORD", ""),
		MySQLDatabase: getEnv("MYSQL_DATABASE", "filelink"),

		// Tracing defaults
		TracingEnabled:     getEnvAsBool("TRACING_ENABLED", false),
		JaegerEndpoint:     getEnv("JAEGER_ENDPOINT", "localhost:4318"),
		TracingSampleRatio: getEnvAsFloat("TRACING_SAMPLE_RATIO", 1),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks required values and allowed choices
func (c *Config) Validate() error {
	var errs []error
	if c.BotToken == "" {
		errs = append(errs, errors.New("BOT_TOKEN is required"))
	}
	if c.FileTTL <= 0 {
		errs = append(errs, fmt.Errorf("FILE_TTL must be positive, got %s", c.FileTTL))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("SWEEP_INTERVAL must be positive, got %s", c.SweepInterval))
	}
	if c.MessageLimit < 500 || c.MessageLimit > 4096 {
		errs = append(errs, fmt.Errorf("MESSAGE_LIMIT must be between 500 and 4096, got %d", c.MessageLimit))
	}
	if c.MessagePause < 0 {
		errs = append(errs, fmt.Errorf("MESSAGE_PAUSE must not be negative, got %s", c.MessagePause))
	}
	if c.RegistryBackend != BackendMemory && c.RegistryBackend != BackendRedis {
		errs = append(errs, fmt.Errorf("REGISTRY_BACKEND must be %q or %q, got %q", BackendMemory, BackendRedis, c.RegistryBackend))
	}
	if c.BlobBackend != BackendFS && c.BlobBackend != BackendMinIO {
		errs = append(errs, fmt.Errorf("BLOB_BACKEND must be %q or %q, got %q", BackendFS, BackendMinIO, c.BlobBackend))
	}
	if c.TracingSampleRatio < 0 || c.TracingSampleRatio > 1 {
		errs = append(errs, fmt.Errorf("TRACING_SAMPLE_RATIO must be between 0 and 1, got %g", c.TracingSampleRatio))
	}
	switch c.BotMode {
	case ModePolling:
	case ModeWebhook:
		if c.WebhookURL == "" {
			errs = append(errs, errors.New("WEBHOOK_URL is required when BOT_MODE=webhook"))
		}
	default:
		errs = append(errs, fmt.Errorf("BOT_MODE must be %q or %q, got %q", ModePolling, ModeWebhook, c.BotMode))
	}
	return errors.Join(errs...)
}

// GetDSN returns the MySQL connection string for the audit log
func (c *Config) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.MySQLUser,
		c.MySQLPassword,
		c.MySQLHost,
		c.MySQLPort,
		c.MySQLDatabase,
	)
}

// GetRedisAddr returns the Redis address
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

// DownloadURL returns the public link for a file id
func (c *Config) DownloadURL(id string) string {
	return c.PublicBaseURL + "/download/" + id
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("90m") or plain seconds ("3600").
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	if secs, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
