package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Env      string
	Port     string
	Database DatabaseConfig
	Device   DeviceConfig
}

// DatabaseConfig holds server database configuration.
// Host "localhost" with an empty password selects the embedded instance.
type DatabaseConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
	Verbose  bool
}

// DeviceConfig holds configuration for the device agent
type DeviceConfig struct {
	DataDir      string
	ServerURL    string
	InstanceID   string
	ProbeTimeout time.Duration
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	return &Config{
		Env:  getEnv("APP_ENV", "development"),
		Port: getEnv("PORT", "3000"),
		Database: DatabaseConfig{
			Host:     getEnv("PG_HOST", "localhost"),
			Port:     getEnv("PG_PORT", "5432"),
			Username: getEnv("PG_USERNAME", "postgres"),
			Password: os.Getenv("PG_PASSWORD"),
			Database: getEnv("PG_DATABASE", "invtrack"),
			Verbose:  getEnv("DB_VERBOSE", "false") == "true",
		},
		Device: DeviceConfig{
			DataDir:      getEnv("DEVICE_DATA_DIR", "./device_data"),
			ServerURL:    getEnv("SYNC_SERVER_URL", "http://localhost:3000"),
			InstanceID:   os.Getenv("INSTANCE_ID"),
			ProbeTimeout: getDurationEnv("SYNC_PROBE_TIMEOUT_SECONDS", 5) * time.Second,
		},
	}, nil
}

// getEnv gets environment variable with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue int) time.Duration {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			return time.Duration(n)
		}
	}
	return time.Duration(defaultValue)
}
