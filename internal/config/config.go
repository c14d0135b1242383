package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Storage   StorageConfig
	Queue     QueueConfig
	Lifecycle LifecycleConfig
	Reaper    ReaperConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
	Metrics   MetricsConfig
	Tracing   TracingConfig
	Cache     CacheConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver   string // postgres, memory
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
	Migrate  bool
}

// DSN returns the postgres connection string
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// StorageConfig holds object storage configuration for stream archives
type StorageConfig struct {
	Enabled         bool
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	Region          string
	UseSSL          bool
}

// QueueConfig holds message queue configuration
type QueueConfig struct {
	Enabled        bool
	Host           string
	Port           int
	User           string
	Password       string
	Vhost          string
	EventsExchange string
	TelemetryQueue string
	Prefetch       int
}

// LifecycleConfig holds media engine settings
type LifecycleConfig struct {
	Actuator        string // simulated, http
	ActuatorURL     string
	ActuatorSecret  string
	ActuatorTimeout time.Duration
	StartLatency    time.Duration
	StopLatency     time.Duration
	RestartDelay    time.Duration
}

// ReaperConfig holds inactivity reaper settings
type ReaperConfig struct {
	Enabled            bool
	Interval           time.Duration
	InactiveThreshold  time.Duration
	TransientThreshold time.Duration
}

// AuthConfig holds API authentication settings
type AuthConfig struct {
	Enabled   bool
	JWTSecret string
	TokenTTL  time.Duration
}

// RateLimitConfig holds per-client request limits
type RateLimitConfig struct {
	Enabled bool
	RPS     float64
	Burst   int
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level  string
	Format string
	Output string
}

// MetricsConfig holds the Prometheus endpoint settings
type MetricsConfig struct {
	Enabled        bool
	Port           int
	SampleInterval time.Duration // health monitor cadence in the worker
}

// TracingConfig holds Jaeger settings
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	Endpoint    string
	SampleRate  float64
}

// CacheConfig holds Redis-backed cache and lock settings
type CacheConfig struct {
	StatsTTL time.Duration
	LockTTL  time.Duration
}

// Load reads configuration from file and environment variables.
// Environment variables use the VISION_ prefix, e.g. VISION_DATABASE_HOST.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("vision")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks settings that would otherwise fail at runtime
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("invalid config: unknown database driver %q", c.Database.Driver)
	}

	switch c.Lifecycle.Actuator {
	case "simulated":
	case "http":
		if c.Lifecycle.ActuatorURL == "" {
			return fmt.Errorf("invalid config: lifecycle.actuatorURL is required for the http actuator")
		}
	default:
		return fmt.Errorf("invalid config: unknown actuator %q", c.Lifecycle.Actuator)
	}

	if c.Lifecycle.ActuatorTimeout <= 0 {
		return fmt.Errorf("invalid config: lifecycle.actuatorTimeout must be positive")
	}

	if c.Reaper.Enabled {
		if c.Reaper.Interval <= 0 || c.Reaper.InactiveThreshold <= 0 {
			return fmt.Errorf("invalid config: reaper interval and inactiveThreshold must be positive")
		}
		if c.Reaper.TransientThreshold <= c.Lifecycle.ActuatorTimeout {
			return fmt.Errorf("invalid config: reaper.transientThreshold (%s) must exceed lifecycle.actuatorTimeout (%s)",
				c.Reaper.TransientThreshold, c.Lifecycle.ActuatorTimeout)
		}
	}

	// A restart holds the stream lock across two engine calls
	if c.Redis.Enabled {
		if held := 2*c.Lifecycle.ActuatorTimeout + c.Lifecycle.RestartDelay; c.Cache.LockTTL <= held {
			return fmt.Errorf("invalid config: cache.lockTTL (%s) must exceed %s", c.Cache.LockTTL, held)
		}
	}

	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		return fmt.Errorf("invalid config: auth.jwtSecret is required when auth is enabled")
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.readTimeout", "30s")
	v.SetDefault("server.writeTimeout", "30s")
	v.SetDefault("server.shutdownTimeout", "10s")

	// Database defaults
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "vision")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.maxConns", 25)
	v.SetDefault("database.minConns", 5)
	v.SetDefault("database.migrate", true)

	// Redis defaults
	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Storage defaults
	v.SetDefault("storage.enabled", true)
	v.SetDefault("storage.endpoint", "localhost:9000")
	v.SetDefault("storage.accessKeyID", "minioadmin")
	v.SetDefault("storage.secretAccessKey", "minioadmin")
	v.SetDefault("storage.bucketName", "stream-archive")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.useSSL", false)

	// Queue defaults
	v.SetDefault("queue.enabled", true)
	v.SetDefault("queue.host", "localhost")
	v.SetDefault("queue.port", 5672)
	v.SetDefault("queue.user", "guest")
	v.SetDefault("queue.password", "guest")
	v.SetDefault("queue.vhost", "/")
	v.SetDefault("queue.eventsExchange", "vision.streams")
	v.SetDefault("queue.telemetryQueue", "vision.telemetry")
	v.SetDefault("queue.prefetch", 50)

	// Lifecycle defaults
	v.SetDefault("lifecycle.actuator", "simulated")
	v.SetDefault("lifecycle.actuatorURL", "")
	v.SetDefault("lifecycle.actuatorSecret", "")
	v.SetDefault("lifecycle.actuatorTimeout", "10s")
	v.SetDefault("lifecycle.startLatency", "1s")
	v.SetDefault("lifecycle.stopLatency", "500ms")
	v.SetDefault("lifecycle.restartDelay", "1s")

	// Reaper defaults
	v.SetDefault("reaper.enabled", true)
	v.SetDefault("reaper.interval", "1m")
	v.SetDefault("reaper.inactiveThreshold", "30m")
	v.SetDefault("reaper.transientThreshold", "5m")

	// Auth defaults
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.jwtSecret", "")
	v.SetDefault("auth.tokenTTL", "24h")

	// Rate limit defaults
	v.SetDefault("rateLimit.enabled", true)
	v.SetDefault("rateLimit.rps", 50)
	v.SetDefault("rateLimit.burst", 100)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("metrics.sampleInterval", "30s")

	// Tracing defaults
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.serviceName", "vision")
	v.SetDefault("tracing.endpoint", "http://localhost:14268/api/traces")
	v.SetDefault("tracing.sampleRate", 1.0)

	// Cache defaults
	v.SetDefault("cache.statsTTL", "30s")
	v.SetDefault("cache.lockTTL", "30s")
}
