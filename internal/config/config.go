// Package config provides configuration for the paybridge service.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds the paybridge configuration.
type Config struct {
	// Server settings
	HTTPPort int    `validate:"min=1,max=65535"`
	AppEnv   string `validate:"required"`

	// OAuth implicit grant
	ClientID           string `validate:"required"`
	RedirectURI        string `validate:"required,url"`
	DefaultEnvironment string `validate:"required,hostname"`

	// Payment capture page
	PaymentRegion    string `validate:"required,hostname"`
	PaymentProductID string `validate:"required"`

	// Lifecycle
	StopGrace         time.Duration `validate:"min=0"`
	MaxStateDepth     int           `validate:"min=1,max=64"`
	RedirectRetention time.Duration `validate:"gt=0"`

	// Platform API
	PlatformTimeout time.Duration `validate:"min=0"`

	// WebSocket settings
	PingInterval   time.Duration `validate:"gt=0"`
	WriteTimeout   time.Duration `validate:"gt=0"`
	ReadTimeout    time.Duration `validate:"gt=0"`
	MaxMessageSize int64         `validate:"gt=0"`

	// Journal
	DatabaseURL string `validate:"required"`

	// Rate limit for the instance API, requests per second
	RateLimitRPS int `validate:"min=0"`

	// Logging
	LogLevel string `validate:"oneof=debug info warn error"`
}

// Load loads configuration from environment variables, after reading an optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		HTTPPort:           getEnvInt("HTTP_PORT", 8080),
		AppEnv:             getEnv("APP_ENV", "development"),
		ClientID:           getEnv("CLIENT_ID", "4e16b9b5-7630-4828-a5e5-73aef722f6e1"),
		RedirectURI:        getEnv("REDIRECT_URI", "http://localhost:8080/interaction"),
		DefaultEnvironment: getEnv("DEFAULT_ENVIRONMENT", "mypurecloud.com"),
		PaymentRegion:      getEnv("PAYMENT_REGION", "useast1.pcipal.cloud"),
		PaymentProductID:   getEnv("PAYMENT_PRODUCT_ID", "208"),
		StopGrace:          time.Duration(getEnvInt("STOP_GRACE_MS", 500)) * time.Millisecond,
		MaxStateDepth:      getEnvInt("MAX_STATE_DEPTH", 8),
		RedirectRetention:  time.Duration(getEnvInt("REDIRECT_RETENTION_MS", 60000)) * time.Millisecond,
		PlatformTimeout:    time.Duration(getEnvInt("PLATFORM_TIMEOUT_MS", 30000)) * time.Millisecond,
		PingInterval:       time.Duration(getEnvInt("WS_PING_INTERVAL_MS", 30000)) * time.Millisecond,
		WriteTimeout:       time.Duration(getEnvInt("WS_WRITE_TIMEOUT_MS", 10000)) * time.Millisecond,
		ReadTimeout:        time.Duration(getEnvInt("WS_READ_TIMEOUT_MS", 60000)) * time.Millisecond,
		MaxMessageSize:     int64(getEnvInt("WS_MAX_MESSAGE_SIZE", 65536)),
		DatabaseURL:        getEnv("DATABASE_URL", "file:paybridge.db?cache=shared&mode=rwc"),
		RateLimitRPS:       getEnvInt("RATE_LIMIT_RPS", 20),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the struct tags.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Development reports whether the service runs with development defaults.
func (c *Config) Development() bool {
	return c.AppEnv == "development"
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}
