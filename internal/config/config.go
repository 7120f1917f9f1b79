// Package config loads application configuration from the environment,
// with an optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	// Storage
	PostgresDSN   string
	ClickHouseDSN string // optional history archive sink
	UseMemory     bool   // in-memory stores, local development only

	// Market data API
	MarketDataURL     string
	RequestsPerSecond float64
	RequestTimeout    time.Duration

	// Queue and processing
	QueueName           string
	BatchSize           int
	Visibility          time.Duration
	MaxAttempts         int
	RetryBaseDelay      time.Duration
	RetryMaxDelay       time.Duration
	EvaluationThreshold float64
	AdmissionRatio      float64
	MonitoringWindow    time.Duration

	// Scheduling
	IngestInterval    time.Duration
	ReconcileInterval time.Duration
	SweepInterval     time.Duration

	// HTTP and notifications
	HTTPAddr   string
	WebhookURL string
	LogLevel   string
}

// Load reads configuration from environment variables. A .env file in the
// working directory is merged in when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		PostgresDSN:   getEnv("POSTGRES_DSN", ""),
		ClickHouseDSN: getEnv("CLICKHOUSE_DSN", ""),
		UseMemory:     getEnvAsBool("USE_MEMORY", false),

		MarketDataURL:     getEnv("MARKET_DATA_URL", ""),
		RequestsPerSecond: getEnvAsFloat("MARKET_DATA_RPS", 2),
		RequestTimeout:    getEnvAsDuration("MARKET_DATA_TIMEOUT", 10*time.Second),

		QueueName:           getEnv("QUEUE_NAME", "token_processing"),
		BatchSize:           getEnvAsInt("BATCH_SIZE", 10),
		Visibility:          getEnvAsDuration("VISIBILITY_TIMEOUT", 2*time.Minute),
		MaxAttempts:         getEnvAsInt("MAX_ATTEMPTS", 5),
		RetryBaseDelay:      getEnvAsDuration("RETRY_BASE_DELAY", 2*time.Second),
		RetryMaxDelay:       getEnvAsDuration("RETRY_MAX_DELAY", 5*time.Minute),
		EvaluationThreshold: getEnvAsFloat("EVALUATION_THRESHOLD", 50_000),
		AdmissionRatio:      getEnvAsFloat("ADMISSION_RATIO", 0.03),
		MonitoringWindow:    getEnvAsDuration("MONITORING_WINDOW", 6*time.Hour),

		IngestInterval:    getEnvAsDuration("INGEST_INTERVAL", 10*time.Minute),
		ReconcileInterval: getEnvAsDuration("RECONCILE_INTERVAL", time.Minute),
		SweepInterval:     getEnvAsDuration("SWEEP_INTERVAL", 5*time.Minute),

		HTTPAddr:   getEnv("HTTP_ADDR", ":8080"),
		WebhookURL: getEnv("PROMOTION_WEBHOOK_URL", ""),
		LogLevel:   getEnv("LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present and coherent.
func (c *Config) Validate() error {
	if c.PostgresDSN == "" && !c.UseMemory {
		return fmt.Errorf("POSTGRES_DSN is required unless USE_MEMORY=true")
	}
	if c.MarketDataURL == "" {
		return fmt.Errorf("MARKET_DATA_URL is required")
	}
	if c.QueueName == "" {
		return fmt.Errorf("QUEUE_NAME must not be empty")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("BATCH_SIZE must be positive, got %d", c.BatchSize)
	}
	if c.Visibility <= 0 {
		return fmt.Errorf("VISIBILITY_TIMEOUT must be positive, got %s", c.Visibility)
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("MAX_ATTEMPTS must be positive, got %d", c.MaxAttempts)
	}
	if c.AdmissionRatio <= 0 || c.AdmissionRatio >= 1 {
		return fmt.Errorf("ADMISSION_RATIO must be in (0, 1), got %g", c.AdmissionRatio)
	}
	if c.MonitoringWindow <= 0 {
		return fmt.Errorf("MONITORING_WINDOW must be positive, got %s", c.MonitoringWindow)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
