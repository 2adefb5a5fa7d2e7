// Package config loads application configuration from the environment.
package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Environment constants
const (
	EnvProduction = "production"
)

// Config holds all application configuration.
type Config struct {
	App        AppConfig
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Log        LogConfig
	CORS       CORSConfig
	GitLab     GitLabConfig
	Queue      QueueConfig
	Quota      QuotaConfig
	Reconciler ReconcilerConfig
	Webhook    WebhookConfig
	Encryption EncryptionConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Name  string
	Env   string
	Debug bool
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	RequestTimeout  time.Duration // Per-request handler timeout
	ShutdownTimeout time.Duration
	MaxBodySize     int64
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// RedisConfig holds Redis configuration. Redis backs the job queue and
// health checks share the same instance.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string
	Format string

	SlowRequestSeconds int // Log requests slower than this as warnings
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	MaxAge         int
}

// GitLabConfig holds the external CI system configuration. All
// pipeline operations run against one fixed, pre-registered project.
type GitLabConfig struct {
	// APIURL is the API base including the version prefix, e.g.
	// https://gitlab.example.com/api/v4
	APIURL string
	// ProjectID is the fixed pipeline-definition project.
	ProjectID string
	// TriggerToken authenticates pipeline-creation calls.
	TriggerToken string
	// AccessToken authenticates read/cancel/play calls (PRIVATE-TOKEN).
	AccessToken string
	// Ref is the branch the pipeline definition lives on.
	Ref string
	// PublishJobName is the held manual job the release gate plays.
	PublishJobName string
	// RequestTimeout bounds each outbound CI call.
	RequestTimeout time.Duration
}

// QueueConfig holds job queue and dispatcher configuration.
type QueueConfig struct {
	// BuildConcurrency bounds in-flight SCAN_AND_BUILD dispatches.
	BuildConcurrency int
	// ScanConcurrency bounds in-flight SCAN_ONLY dispatches.
	ScanConcurrency int
	// MaxPriority is the lowest (i.e. numerically largest) accepted
	// job priority. Priorities run 1..MaxPriority, 1 first.
	MaxPriority int
}

// QuotaConfig holds per-user quota configuration.
type QuotaConfig struct {
	// MaxServicesPerUser caps active scan targets per user.
	MaxServicesPerUser int
}

// ReconcilerConfig holds status poller configuration.
type ReconcilerConfig struct {
	Enabled  bool
	Interval time.Duration
}

// WebhookConfig holds CI webhook endpoint configuration.
type WebhookConfig struct {
	// Secret is the shared token pipelines present on each delivery.
	// Empty disables the check (development only).
	Secret string
	// RatePerSecond limits inbound webhook deliveries.
	RatePerSecond float64
	Burst         int
}

// EncryptionConfig holds the credential encryption key.
type EncryptionConfig struct {
	// Key is a hex-encoded 32-byte AES key. Empty selects the no-op
	// encryptor (development only).
	Key string
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{
		App: AppConfig{
			Name:  getEnv("APP_NAME", "visscan"),
			Env:   getEnv("APP_ENV", "development"),
			Debug: getEnvBool("APP_DEBUG", false),
		},
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			RequestTimeout:  getEnvDuration("SERVER_REQUEST_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			MaxBodySize:     getEnvInt64("SERVER_MAX_BODY_SIZE", 4<<20),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			User:            getEnv("DB_USER", "visscan"),
			Password:        getEnv("DB_PASSWORD", ""),
			Name:            getEnv("DB_NAME", "visscan"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			// Both dispatcher lanes together run at most ten jobs,
			// so the write side never needs more than a dozen
			// connections; the rest serve reads.
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 15),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 4),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 2*time.Minute),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 10),
		},
		Log: LogConfig{
			Level:              getEnv("LOG_LEVEL", "info"),
			Format:             getEnv("LOG_FORMAT", "json"),
			SlowRequestSeconds: getEnvInt("LOG_SLOW_REQUEST_SECONDS", 5),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
			AllowedMethods: getEnvSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}),
			AllowedHeaders: getEnvSlice("CORS_ALLOWED_HEADERS", []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"}),
			MaxAge:         getEnvInt("CORS_MAX_AGE", 300),
		},
		GitLab: GitLabConfig{
			APIURL:         getEnv("GITLAB_API_URL", "https://gitlab.com/api/v4"),
			ProjectID:      getEnv("GITLAB_PROJECT_ID", ""),
			TriggerToken:   getEnv("GITLAB_TRIGGER_TOKEN", ""),
			AccessToken:    getEnv("GITLAB_TOKEN", ""),
			Ref:            getEnv("GITLAB_REF", "main"),
			PublishJobName: getEnv("GITLAB_PUBLISH_JOB_NAME", "push_to_hub"),
			RequestTimeout: getEnvDuration("GITLAB_REQUEST_TIMEOUT", 30*time.Second),
		},
		Queue: QueueConfig{
			BuildConcurrency: getEnvInt("QUEUE_BUILD_CONCURRENCY", 4),
			ScanConcurrency:  getEnvInt("QUEUE_SCAN_CONCURRENCY", 6),
			MaxPriority:      getEnvInt("QUEUE_MAX_PRIORITY", 10),
		},
		Quota: QuotaConfig{
			MaxServicesPerUser: getEnvInt("QUOTA_MAX_SERVICES_PER_USER", 6),
		},
		Reconciler: ReconcilerConfig{
			Enabled:  getEnvBool("RECONCILER_ENABLED", true),
			Interval: getEnvDuration("RECONCILER_INTERVAL", 10*time.Second),
		},
		Webhook: WebhookConfig{
			Secret:        getEnv("WEBHOOK_SECRET", ""),
			RatePerSecond: getEnvFloat("WEBHOOK_RATE_PER_SECOND", 20),
			Burst:         getEnvInt("WEBHOOK_BURST", 40),
		},
		Encryption: EncryptionConfig{
			Key: getEnv("APP_ENCRYPTION_KEY", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.GitLab.ProjectID == "" {
		return fmt.Errorf("GITLAB_PROJECT_ID is required")
	}
	if c.GitLab.TriggerToken == "" {
		return fmt.Errorf("GITLAB_TRIGGER_TOKEN is required")
	}
	if c.Queue.BuildConcurrency < 1 || c.Queue.ScanConcurrency < 1 {
		return fmt.Errorf("queue concurrency must be at least 1")
	}
	if c.Queue.MaxPriority < 1 {
		return fmt.Errorf("QUEUE_MAX_PRIORITY must be at least 1")
	}
	if c.Quota.MaxServicesPerUser < 1 {
		return fmt.Errorf("QUOTA_MAX_SERVICES_PER_USER must be at least 1")
	}
	if c.Reconciler.Interval < time.Second {
		return fmt.Errorf("RECONCILER_INTERVAL too short: %v (min 1s)", c.Reconciler.Interval)
	}

	if c.IsProduction() {
		if err := c.validateProduction(); err != nil {
			return err
		}
	}

	return nil
}

// validateProduction enforces hardening in production deployments.
func (c *Config) validateProduction() error {
	if slices.Contains(c.CORS.AllowedOrigins, "*") {
		return fmt.Errorf("CORS wildcard origin not allowed in production")
	}
	if c.Database.SSLMode == "disable" {
		return fmt.Errorf("database SSL must be enabled in production (use 'require' or 'verify-full')")
	}
	if c.App.Debug {
		return fmt.Errorf("debug mode must be disabled in production")
	}
	if c.Encryption.Key == "" {
		return fmt.Errorf("APP_ENCRYPTION_KEY is required in production")
	}
	if c.GitLab.AccessToken == "" {
		return fmt.Errorf("GITLAB_TOKEN is required in production")
	}
	if !strings.HasPrefix(c.GitLab.APIURL, "https://") {
		return fmt.Errorf("GITLAB_API_URL must use HTTPS in production")
	}
	if c.Webhook.Secret == "" {
		return fmt.Errorf("WEBHOOK_SECRET is required in production")
	}
	return nil
}

// DSN returns the database connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// Addr returns the Redis address.
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Addr returns the HTTP server address.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsDevelopment returns true if the application is in development mode.
func (c *Config) IsDevelopment() bool {
	return c.App.Env == "development"
}

// IsProduction returns true if the application is in production mode.
func (c *Config) IsProduction() bool {
	return c.App.Env == EnvProduction
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var result []string
		for _, p := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
