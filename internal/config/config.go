package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Environment
	GoEnv string `env:"GO_ENV" default:"development"`

	// BEAT listener
	BeatHost           string        `env:"BEAT_HOST"`
	BeatPort           int           `env:"BEAT_PORT" default:"15000"`
	BeatFraming        string        `env:"BEAT_FRAMING" default:"chunk"`
	BeatConnPolicy     string        `env:"BEAT_CONN_POLICY" default:"shared"`
	BeatTickInterval   time.Duration `env:"BEAT_TICK_INTERVAL" default:"16ms"`
	BeatMaxPerTick     int           `env:"BEAT_MAX_PER_TICK" default:"0"`
	BeatMaxMessageSize int           `env:"BEAT_MAX_MESSAGE_SIZE" default:"1048576"`
	BeatInboxSize      int           `env:"BEAT_INBOX_SIZE" default:"1024"`
	BeatIdleTimeout    time.Duration `env:"BEAT_IDLE_TIMEOUT" default:"0"`
	BeatRateLimit      float64       `env:"BEAT_RATE_LIMIT" default:"0"`
	BeatRateBurst      int           `env:"BEAT_RATE_BURST" default:"20"`
	BeatTargetTimeout  time.Duration `env:"BEAT_TARGET_TIMEOUT" default:"2s"`

	// Target registry
	TargetsFile string   `env:"BEAT_TARGETS_FILE"`
	Characters  []string `env:"BEAT_CHARACTERS" default:"Rob,SuperHumanoid"`

	// Redis (redis targets)
	RedisURL      string `env:"REDIS_URL"`
	RedisPassword string `env:"REDIS_PASSWORD"`

	// Postgres (journal + notify targets)
	DatabaseURL          string        `env:"DATABASE_URL"`
	JournalBatchSize     int           `env:"JOURNAL_BATCH_SIZE" default:"100"`
	JournalFlushInterval time.Duration `env:"JOURNAL_FLUSH_INTERVAL" default:"5s"`

	// UDP renderer fan-out (udp targets)
	UDPEnabled           bool          `env:"UDP_ENABLED" default:"false"`
	UDPPort              int           `env:"UDP_PORT" default:"15001"`
	UDPSubscriberTimeout time.Duration `env:"UDP_SUBSCRIBER_TIMEOUT" default:"2m"`

	// Admin API
	AdminEnabled      bool          `env:"ADMIN_ENABLED" default:"false"`
	AdminPort         int           `env:"ADMIN_PORT" default:"15080"`
	JWTSecret         string        `env:"JWT_SECRET"`
	AdminUsername     string        `env:"ADMIN_USERNAME" default:"admin"`
	AdminPasswordHash string        `env:"ADMIN_PASSWORD_HASH"`
	AccessTokenTTL    time.Duration `env:"ACCESS_TOKEN_TTL" default:"15m"`

	// Monitoring
	PrometheusEnabled bool `env:"PROMETHEUS_ENABLED" default:"false"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	// .env is optional, system env vars still apply
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Warning: could not read .env file: %v\n", err)
	}

	config := &Config{}

	loadEnvString(&config.GoEnv, "GO_ENV", "development")

	// BEAT listener
	loadEnvString(&config.BeatHost, "BEAT_HOST", "")
	if err := loadEnvInt(&config.BeatPort, "BEAT_PORT", 15000); err != nil {
		return nil, err
	}
	loadEnvString(&config.BeatFraming, "BEAT_FRAMING", "chunk")
	loadEnvString(&config.BeatConnPolicy, "BEAT_CONN_POLICY", "shared")
	if err := loadEnvDuration(&config.BeatTickInterval, "BEAT_TICK_INTERVAL", 16*time.Millisecond); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.BeatMaxPerTick, "BEAT_MAX_PER_TICK", 0); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.BeatMaxMessageSize, "BEAT_MAX_MESSAGE_SIZE", 1024*1024); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.BeatInboxSize, "BEAT_INBOX_SIZE", 1024); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.BeatIdleTimeout, "BEAT_IDLE_TIMEOUT", 0); err != nil {
		return nil, err
	}
	if err := loadEnvFloat(&config.BeatRateLimit, "BEAT_RATE_LIMIT", 0); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.BeatRateBurst, "BEAT_RATE_BURST", 20); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.BeatTargetTimeout, "BEAT_TARGET_TIMEOUT", 2*time.Second); err != nil {
		return nil, err
	}

	// Target registry
	loadEnvString(&config.TargetsFile, "BEAT_TARGETS_FILE", "")
	loadEnvStringSlice(&config.Characters, "BEAT_CHARACTERS", []string{"Rob", "SuperHumanoid"})

	// Redis
	loadEnvString(&config.RedisURL, "REDIS_URL", "")
	loadEnvString(&config.RedisPassword, "REDIS_PASSWORD", "")

	// Postgres
	loadEnvString(&config.DatabaseURL, "DATABASE_URL", "")
	if err := loadEnvInt(&config.JournalBatchSize, "JOURNAL_BATCH_SIZE", 100); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.JournalFlushInterval, "JOURNAL_FLUSH_INTERVAL", 5*time.Second); err != nil {
		return nil, err
	}

	// UDP fan-out
	if err := loadEnvBool(&config.UDPEnabled, "UDP_ENABLED", false); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.UDPPort, "UDP_PORT", 15001); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.UDPSubscriberTimeout, "UDP_SUBSCRIBER_TIMEOUT", 2*time.Minute); err != nil {
		return nil, err
	}

	// Admin API
	if err := loadEnvBool(&config.AdminEnabled, "ADMIN_ENABLED", false); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.AdminPort, "ADMIN_PORT", 15080); err != nil {
		return nil, err
	}
	loadEnvString(&config.JWTSecret, "JWT_SECRET", "")
	loadEnvString(&config.AdminUsername, "ADMIN_USERNAME", "admin")
	loadEnvString(&config.AdminPasswordHash, "ADMIN_PASSWORD_HASH", "")
	if err := loadEnvDuration(&config.AccessTokenTTL, "ACCESS_TOKEN_TTL", 15*time.Minute); err != nil {
		return nil, err
	}

	// Monitoring
	if err := loadEnvBool(&config.PrometheusEnabled, "PROMETHEUS_ENABLED", false); err != nil {
		return nil, err
	}

	// Logging
	loadEnvString(&config.LogLevel, "LOG_LEVEL", "info")
	loadEnvString(&config.LogFormat, "LOG_FORMAT", "text")

	return config, nil
}

// Helper functions for type conversion and validation
func loadEnvString(target *string, key, defaultValue string) {
	if value := os.Getenv(key); value != "" {
		*target = value
	} else {
		*target = defaultValue
	}
}

func loadEnvInt(target *int, key string, defaultValue int) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer value for %s: %w", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvFloat(target *float64, key string, defaultValue float64) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid float value for %s: %w", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvBool(target *bool, key string, defaultValue bool) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean value for %s: %w", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvDuration(target *time.Duration, key string, defaultValue time.Duration) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration value for %s: %w", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvStringSlice(target *[]string, key string, defaultValue []string) {
	value := os.Getenv(key)
	if value == "" {
		*target = defaultValue
		return
	}
	out := make([]string, 0)
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	*target = out
}

// Validate performs validation on the loaded configuration
func (c *Config) Validate() error {
	var errors []string

	if c.BeatPort < 0 || c.BeatPort > 65535 {
		errors = append(errors, "BEAT_PORT must be between 0 and 65535")
	}
	if c.UDPEnabled && (c.UDPPort < 0 || c.UDPPort > 65535) {
		errors = append(errors, "UDP_PORT must be between 0 and 65535")
	}
	if c.UDPEnabled && c.UDPSubscriberTimeout <= 0 {
		errors = append(errors, "UDP_SUBSCRIBER_TIMEOUT must be positive")
	}
	if c.AdminEnabled && (c.AdminPort < 1 || c.AdminPort > 65535) {
		errors = append(errors, "ADMIN_PORT must be between 1 and 65535")
	}

	validFramings := []string{"chunk", "line", "stream"}
	if !contains(validFramings, c.BeatFraming) {
		errors = append(errors, fmt.Sprintf("BEAT_FRAMING must be one of: %s", strings.Join(validFramings, ", ")))
	}
	validPolicies := []string{"shared", "exclusive"}
	if !contains(validPolicies, c.BeatConnPolicy) {
		errors = append(errors, fmt.Sprintf("BEAT_CONN_POLICY must be one of: %s", strings.Join(validPolicies, ", ")))
	}

	if c.BeatTickInterval <= 0 {
		errors = append(errors, "BEAT_TICK_INTERVAL must be positive")
	}
	if c.BeatMaxPerTick < 0 {
		errors = append(errors, "BEAT_MAX_PER_TICK must not be negative")
	}
	if c.BeatMaxMessageSize < 1 {
		errors = append(errors, "BEAT_MAX_MESSAGE_SIZE must be at least 1")
	}
	if c.BeatInboxSize < 1 {
		errors = append(errors, "BEAT_INBOX_SIZE must be at least 1")
	}
	if c.BeatIdleTimeout < 0 {
		errors = append(errors, "BEAT_IDLE_TIMEOUT must not be negative")
	}
	if c.BeatRateLimit < 0 {
		errors = append(errors, "BEAT_RATE_LIMIT must not be negative")
	}
	if c.BeatRateLimit > 0 && c.BeatRateBurst < 1 {
		errors = append(errors, "BEAT_RATE_BURST must be at least 1 when BEAT_RATE_LIMIT is set")
	}
	if c.TargetsFile == "" && len(c.Characters) == 0 {
		errors = append(errors, "either BEAT_TARGETS_FILE or BEAT_CHARACTERS must be set")
	}

	if c.JournalBatchSize < 1 {
		errors = append(errors, "JOURNAL_BATCH_SIZE must be at least 1")
	}
	if c.JournalFlushInterval <= 0 {
		errors = append(errors, "JOURNAL_FLUSH_INTERVAL must be positive")
	}

	// the admin API signs tokens, so it needs a real secret
	if c.AdminEnabled && len(c.JWTSecret) < 32 {
		errors = append(errors, "JWT_SECRET should be at least 32 characters long when ADMIN_ENABLED is set")
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, c.LogLevel) {
		errors = append(errors, fmt.Sprintf("LOG_LEVEL must be one of: %s", strings.Join(validLogLevels, ", ")))
	}
	validLogFormats := []string{"text", "json"}
	if !contains(validLogFormats, c.LogFormat) {
		errors = append(errors, fmt.Sprintf("LOG_FORMAT must be one of: %s", strings.Join(validLogFormats, ", ")))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, "; "))
	}

	return nil
}

// BeatAddr returns the host:port the dispatcher binds
func (c *Config) BeatAddr() string {
	return fmt.Sprintf("%s:%d", c.BeatHost, c.BeatPort)
}

// UDPAddr returns the host:port of the renderer fan-out socket
func (c *Config) UDPAddr() string {
	return fmt.Sprintf("%s:%d", c.BeatHost, c.UDPPort)
}

// AdminAddr returns the host:port of the admin API
func (c *Config) AdminAddr() string {
	return fmt.Sprintf(":%d", c.AdminPort)
}

// IsDevelopment returns true if the application is running in development mode
func (c *Config) IsDevelopment() bool {
	return c.GoEnv == "development"
}

// IsProduction returns true if the application is running in production mode
func (c *Config) IsProduction() bool {
	return c.GoEnv == "production"
}

// Helper function to check if slice contains a string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
