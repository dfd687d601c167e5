package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the full gateway configuration, loaded from environment
// variables. Database settings live in the repository package.
type Config struct {
	Port string
	Env  string
	// InstanceID distinguishes pods in logs and relayed messages.
	InstanceID string

	// Telnyx API settings.
	TelnyxAPIKey       string
	TelnyxBaseURL      string
	TelnyxConnectionID string
	TelnyxRateLimit    float64

	// WebhookBaseURL is the public base URL Telnyx posts events back to.
	WebhookBaseURL string
	// DefaultFromNumber is the caller id used when a dial request has none.
	DefaultFromNumber string

	// MaxCallDuration caps call length via the auto-hangup timer.
	MaxCallDuration time.Duration
	// RecordingFetchTimeout bounds provider recording downloads.
	RecordingFetchTimeout time.Duration

	// Redis settings. Empty host disables Redis.
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// GCSBucket is the recording archive bucket. Empty disables archival.
	GCSBucket string

	// PubSub settings. Empty project disables lifecycle publishing.
	PubSubProjectID string
	PubSubTopic     string

	// Task runner sizing.
	TaskWorkers   int
	TaskQueueSize int
}

// Load reads the configuration from the environment.
func Load() *Config {
	return &Config{
		Port:       getEnvOrDefault("PORT", "8080"),
		Env:        getEnvOrDefault("APP_ENV", "development"),
		InstanceID: getEnvOrDefault("INSTANCE_ID", ""),

		TelnyxAPIKey:       getEnvOrDefault("TELNYX_API_KEY", ""),
		TelnyxBaseURL:      getEnvOrDefault("TELNYX_BASE_URL", ""),
		TelnyxConnectionID: getEnvOrDefault("TELNYX_CONNECTION_ID", ""),
		TelnyxRateLimit:    getEnvFloatOrDefault("TELNYX_RATE_LIMIT", 10),

		WebhookBaseURL:    getEnvOrDefault("WEBHOOK_BASE_URL", ""),
		DefaultFromNumber: getEnvOrDefault("DEFAULT_FROM_NUMBER", ""),

		MaxCallDuration:       time.Duration(getEnvIntOrDefault("MAX_CALL_DURATION_MINUTES", 240)) * time.Minute,
		RecordingFetchTimeout: time.Duration(getEnvIntOrDefault("RECORDING_FETCH_TIMEOUT_SECONDS", 60)) * time.Second,

		RedisHost:     getEnvOrDefault("REDIS_HOST", ""),
		RedisPort:     getEnvOrDefault("REDIS_PORT", "6379"),
		RedisPassword: getEnvOrDefault("REDIS_PASSWORD", ""),
		RedisDB:       getEnvIntOrDefault("REDIS_DB", 0),

		GCSBucket: getEnvOrDefault("GCS_RECORDINGS_BUCKET", ""),

		PubSubProjectID: getEnvOrDefault("PUBSUB_PROJECT_ID", ""),
		PubSubTopic:     getEnvOrDefault("PUBSUB_TOPIC", "call-lifecycle-events"),

		TaskWorkers:   getEnvIntOrDefault("TASK_WORKERS", 8),
		TaskQueueSize: getEnvIntOrDefault("TASK_QUEUE_SIZE", 512),
	}
}

// Validate checks the settings the gateway cannot run without.
func (c *Config) Validate() error {
	if c.TelnyxAPIKey == "" {
		return fmt.Errorf("TELNYX_API_KEY is required")
	}
	if c.TelnyxConnectionID == "" {
		return fmt.Errorf("TELNYX_CONNECTION_ID is required")
	}
	if c.WebhookBaseURL == "" {
		return fmt.Errorf("WEBHOOK_BASE_URL is required")
	}
	return nil
}

// WebhookURL is the full call-event webhook endpoint.
func (c *Config) WebhookURL() string {
	return c.WebhookBaseURL + "/webhooks/call"
}

// getEnvOrDefault gets environment variable or returns default value
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvIntOrDefault gets environment variable as int or returns default value
func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloatOrDefault gets environment variable as float or returns default value
func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
