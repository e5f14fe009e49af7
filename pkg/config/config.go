package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/funish/nexus/pkg/observability"
	"github.com/funish/nexus/pkg/storage"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Storage configuration
	Storage storage.Config

	// Upstream registry configuration
	Upstream UpstreamConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// RateLimitPerMinute caps requests per client IP; zero disables limiting.
	RateLimitPerMinute int
	RateLimitBurst     int
}

// UpstreamConfig holds upstream registry client configuration
type UpstreamConfig struct {
	// GitHubToken is an optional bearer token for the Git tree API; without it
	// the WinGet index runs into upstream rate limits quickly.
	GitHubToken string

	// WinGet community repository and tracked branch.
	WinGetRepo   string
	WinGetBranch string

	MetadataTimeout time.Duration
	TarballTimeout  time.Duration

	// MetadataCacheSize bounds the in-process LRU of upstream metadata
	// documents (packuments, library descriptors, tree listings).
	MetadataCacheSize int
	MetadataCacheTTL  time.Duration
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Upstream:      loadUpstreamConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("NEXUS_HOST", "0.0.0.0"),
		Port:            getEnv("NEXUS_PORT", "8080"),
		ReadTimeout:     getEnvDuration("NEXUS_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("NEXUS_WRITE_TIMEOUT", 60*time.Second),
		IdleTimeout:     getEnvDuration("NEXUS_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("NEXUS_SHUTDOWN_TIMEOUT", 30*time.Second),

		RateLimitPerMinute: getEnvInt("NEXUS_RATELIMIT_PER_MINUTE", 0),
		RateLimitBurst:     getEnvInt("NEXUS_RATELIMIT_BURST", 100),
	}
}

// loadStorageConfig loads storage configuration from environment
func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	if storageType := getEnv("NEXUS_STORAGE_TYPE", ""); storageType != "" {
		cfg.Type = storageType
	}
	if fsRoot := getEnv("NEXUS_FILESYSTEM_ROOT", ""); fsRoot != "" {
		cfg.FilesystemRoot = fsRoot
	}

	// S3 config
	if s3Endpoint := getEnv("NEXUS_S3_ENDPOINT", ""); s3Endpoint != "" {
		cfg.S3Endpoint = s3Endpoint
	}
	if s3Region := getEnv("NEXUS_S3_REGION", ""); s3Region != "" {
		cfg.S3Region = s3Region
	}
	if s3Bucket := getEnv("NEXUS_S3_BUCKET", ""); s3Bucket != "" {
		cfg.S3Bucket = s3Bucket
	}
	if s3AccessKey := getEnv("NEXUS_S3_ACCESS_KEY", ""); s3AccessKey != "" {
		cfg.S3AccessKey = s3AccessKey
	}
	if s3SecretKey := getEnv("NEXUS_S3_SECRET_KEY", ""); s3SecretKey != "" {
		cfg.S3SecretKey = s3SecretKey
	}
	if s3UsePathStyle := getEnv("NEXUS_S3_USE_PATH_STYLE", ""); s3UsePathStyle != "" {
		cfg.S3UsePathStyle = strings.ToLower(s3UsePathStyle) == "true"
	}

	// Redis config
	if redisURL := getEnv("NEXUS_REDIS_URL", ""); redisURL != "" {
		cfg.RedisURL = redisURL
	}
	if redisPassword := getEnv("NEXUS_REDIS_PASSWORD", ""); redisPassword != "" {
		cfg.RedisPassword = redisPassword
	}
	if redisDB := getEnvInt("NEXUS_REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	if redisMaxRetries := getEnvInt("NEXUS_REDIS_MAX_RETRIES", 0); redisMaxRetries > 0 {
		cfg.RedisMaxRetries = redisMaxRetries
	}
	if redisPoolSize := getEnvInt("NEXUS_REDIS_POOL_SIZE", 0); redisPoolSize > 0 {
		cfg.RedisPoolSize = redisPoolSize
	}

	return cfg
}

// loadUpstreamConfig loads upstream client configuration from environment
func loadUpstreamConfig() UpstreamConfig {
	return UpstreamConfig{
		GitHubToken:       getEnv("GITHUB_TOKEN", ""),
		WinGetRepo:        getEnv("NEXUS_WINGET_REPO", "microsoft/winget-pkgs"),
		WinGetBranch:      getEnv("NEXUS_WINGET_BRANCH", "master"),
		MetadataTimeout:   getEnvDuration("NEXUS_UPSTREAM_METADATA_TIMEOUT", 10*time.Second),
		TarballTimeout:    getEnvDuration("NEXUS_UPSTREAM_TARBALL_TIMEOUT", 30*time.Second),
		MetadataCacheSize: getEnvInt("NEXUS_METADATA_CACHE_SIZE", 1024),
		MetadataCacheTTL:  getEnvDuration("NEXUS_METADATA_CACHE_TTL", time.Minute),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:       parseLogLevel(getEnv("NEXUS_LOG_LEVEL", "info")),
		MetricsEnabled: getEnvBool("NEXUS_METRICS_ENABLED", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	switch c.Storage.Type {
	case "memory":
	case "filesystem":
		if c.Storage.FilesystemRoot == "" {
			return fmt.Errorf("filesystem root is required for filesystem storage")
		}
	case "s3":
		if c.Storage.S3Bucket == "" {
			return fmt.Errorf("S3 bucket is required for s3 storage")
		}
	case "redis":
		if c.Storage.RedisURL == "" {
			return fmt.Errorf("redis URL is required for redis storage")
		}
	default:
		return fmt.Errorf("invalid storage type: %s (must be memory, filesystem, s3, or redis)", c.Storage.Type)
	}

	if c.Upstream.WinGetRepo == "" || !strings.Contains(c.Upstream.WinGetRepo, "/") {
		return fmt.Errorf("winget repo must be in owner/repo form")
	}

	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
