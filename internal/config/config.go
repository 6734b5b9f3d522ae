package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zateckar/uptimo-sub000/internal/monitor"
)

// Config is the complete engine configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server" json:"server"`
	Database      DatabaseConfig      `yaml:"database" json:"database"`
	Scheduler     SchedulerConfig     `yaml:"scheduler" json:"scheduler"`
	Checks        ChecksConfig        `yaml:"checks" json:"checks"`
	Notifications NotificationsConfig `yaml:"notifications" json:"notifications"`
	Cache         CacheConfig         `yaml:"cache" json:"cache"`
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`
	Metrics       MetricsConfig       `yaml:"metrics" json:"metrics"`
}

// ServerConfig contains the operational HTTP server configuration.
type ServerConfig struct {
	Host         string        `yaml:"host" json:"host"`
	Port         int           `yaml:"port" json:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
}

// DatabaseConfig contains database configuration with support for multiple
// backends.
type DatabaseConfig struct {
	Type             string        `yaml:"type" json:"type"`
	ConnectionString string        `yaml:"connection_string" json:"connection_string"`
	Host             string        `yaml:"host" json:"host"`
	Port             int           `yaml:"port" json:"port"`
	Database         string        `yaml:"database" json:"database"`
	Username         string        `yaml:"username" json:"username"`
	Password         string        `yaml:"password" json:"password"`
	SSLMode          string        `yaml:"ssl_mode" json:"ssl_mode"`
	MaxOpenConns     int           `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns     int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime  time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
}

// SchedulerConfig contains check-scheduler configuration.
type SchedulerConfig struct {
	// MaxConcurrentChecks bounds how many probes run at once across all
	// monitors.
	MaxConcurrentChecks int `yaml:"max_concurrent_checks" json:"max_concurrent_checks"`
	// ReconcileSpec is the cron expression for the sweep that re-syncs the
	// timer set against the monitor store.
	ReconcileSpec string `yaml:"reconcile_spec" json:"reconcile_spec"`
	// ShutdownGrace is how long Stop waits for in-flight checks.
	ShutdownGrace time.Duration `yaml:"shutdown_grace" json:"shutdown_grace"`
}

// ChecksConfig contains protocol-checker defaults.
type ChecksConfig struct {
	DefaultTimeout  time.Duration           `yaml:"default_timeout" json:"default_timeout"`
	UserAgent       string                  `yaml:"user_agent" json:"user_agent"`
	CertWarningDays int                     `yaml:"cert_warning_days" json:"cert_warning_days"`
	PingPrivileged  bool                    `yaml:"ping_privileged" json:"ping_privileged"`
	WhoisTimeout    time.Duration           `yaml:"whois_timeout" json:"whois_timeout"`
	Staleness       monitor.StalenessPolicy `yaml:"staleness" json:"staleness"`
}

// NotificationsConfig contains dispatcher configuration.
type NotificationsConfig struct {
	Enabled     bool          `yaml:"enabled" json:"enabled"`
	SendTimeout time.Duration `yaml:"send_timeout" json:"send_timeout"`
}

// CacheConfig contains status-cache configuration.
type CacheConfig struct {
	Enabled       bool          `yaml:"enabled" json:"enabled"`
	Type          string        `yaml:"type" json:"type"`
	TTL           time.Duration `yaml:"ttl" json:"ttl"`
	RedisURL      string        `yaml:"redis_url" json:"redis_url"`
	RedisPassword string        `yaml:"redis_password" json:"redis_password"`
	RedisDB       int           `yaml:"redis_db" json:"redis_db"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// MetricsConfig contains Prometheus metrics configuration.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	Path      string `yaml:"path" json:"path"`
	Namespace string `yaml:"namespace" json:"namespace"`
}

// Load loads configuration from an optional YAML file, applies environment
// overrides and validates the result.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}

	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Type:             "sqlite",
			ConnectionString: "./data/uptimo.db",
			MaxOpenConns:     25,
			MaxIdleConns:     5,
			ConnMaxLifetime:  5 * time.Minute,
		},
		Scheduler: SchedulerConfig{
			MaxConcurrentChecks: 32,
			ReconcileSpec:       "@every 1m",
			ShutdownGrace:       15 * time.Second,
		},
		Checks: ChecksConfig{
			DefaultTimeout:  10 * time.Second,
			UserAgent:       "uptimo-checker/1.0",
			CertWarningDays: 30,
			WhoisTimeout:    5 * time.Second,
			Staleness:       monitor.DefaultStalenessPolicy(),
		},
		Notifications: NotificationsConfig{
			Enabled:     true,
			SendTimeout: 30 * time.Second,
		},
		Cache: CacheConfig{
			Enabled: true,
			Type:    "memory",
			TTL:     5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Path:      "/metrics",
			Namespace: "uptimo",
		},
	}
}

// loadFromEnv overrides configuration from environment variables.
func (c *Config) loadFromEnv() {
	if host := os.Getenv("UPTIMO_HOST"); host != "" {
		c.Server.Host = host
	}
	if port := getEnvInt("UPTIMO_PORT", 0); port != 0 {
		c.Server.Port = port
	}

	if dbType := os.Getenv("DB_TYPE"); dbType != "" {
		c.Database.Type = dbType
	}
	if dbConn := os.Getenv("DB_CONNECTION_STRING"); dbConn != "" {
		c.Database.ConnectionString = dbConn
	}
	if dbHost := os.Getenv("DB_HOST"); dbHost != "" {
		c.Database.Host = dbHost
	}
	if dbPort := getEnvInt("DB_PORT", 0); dbPort != 0 {
		c.Database.Port = dbPort
	}
	if dbName := os.Getenv("DB_NAME"); dbName != "" {
		c.Database.Database = dbName
	}
	if dbUser := os.Getenv("DB_USER"); dbUser != "" {
		c.Database.Username = dbUser
	}
	if dbPass := os.Getenv("DB_PASSWORD"); dbPass != "" {
		c.Database.Password = dbPass
	}

	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		c.Cache.Type = "redis"
		c.Cache.RedisURL = redisURL
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		c.Logging.Format = format
	}

	if privileged := getEnvBool("PING_PRIVILEGED", false); privileged {
		c.Checks.PingPrivileged = true
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	validDBTypes := []string{"sqlite", "postgres", "memory"}
	if !contains(validDBTypes, c.Database.Type) {
		return fmt.Errorf("unsupported database type: %s", c.Database.Type)
	}
	if c.Database.Type == "postgres" && c.Database.ConnectionString == "" {
		if c.Database.Host == "" || c.Database.Database == "" {
			return fmt.Errorf("database host and name are required for postgres")
		}
	}

	if c.Scheduler.MaxConcurrentChecks < 1 {
		return fmt.Errorf("max_concurrent_checks must be at least 1")
	}

	if c.Checks.Staleness.FreshMultiplier < 1 ||
		c.Checks.Staleness.StaleMultiplier <= c.Checks.Staleness.FreshMultiplier {
		return fmt.Errorf("invalid staleness window: fresh=%d stale=%d",
			c.Checks.Staleness.FreshMultiplier, c.Checks.Staleness.StaleMultiplier)
	}

	validLogLevels := []string{"debug", "info", "warn", "error", "fatal"}
	if !contains(validLogLevels, c.Logging.Level) {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	validCacheTypes := []string{"memory", "redis"}
	if c.Cache.Enabled && !contains(validCacheTypes, c.Cache.Type) {
		return fmt.Errorf("unsupported cache type: %s", c.Cache.Type)
	}

	return nil
}

// ConnectionString returns the connection string for the configured database.
func (c *Config) ConnectionString() string {
	if c.Database.ConnectionString != "" {
		return c.Database.ConnectionString
	}
	if c.Database.Type == "postgres" {
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Database.Host, c.Database.Port, c.Database.Username,
			c.Database.Password, c.Database.Database, c.Database.SSLMode)
	}
	return ""
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
