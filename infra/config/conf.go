package config

import (
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
)

// AppConfig represents the application configuration
type AppConfig struct {
	Port             string
	CallbackBaseURL  string
	BinAPIURL        string
	APIKey           string
	CORSOrigin       string
	EncryptKey       string
	DatabasePath     string
	OpenSearchURL    string
	OpenSearchUser   string
	OpenSearchPass   string
	EnableLogging    bool
	LogRetentionDays int
}

// Config holds process-wide singletons
type Config struct {
	Validator *validator.Validate
}

var (
	instance          *Config
	appConfigInstance *AppConfig
)

func App() *Config {
	if instance == nil {
		instance = &Config{
			Validator: validator.New(),
		}
	}
	return instance
}

// GetAppConfig returns the application configuration
func GetAppConfig() *AppConfig {
	if appConfigInstance == nil {
		appConfigInstance = &AppConfig{
			Port:             GetEnv("PORT", "7043"),
			CallbackBaseURL:  GetEnv("CALLBACK_BASE_URL", "http://localhost:7043"),
			BinAPIURL:        GetEnv("BIN_API_URL", ""),
			APIKey:           GetEnv("API_KEY", ""),
			CORSOrigin:       GetEnv("CORS_ORIGIN", "*"),
			EncryptKey:       GetEnv("ENCRYPT_KEY", ""),
			DatabasePath:     GetEnv("DATABASE_PATH", "./data/payments.db"),
			OpenSearchURL:    GetEnv("OPENSEARCH_URL", ""),
			OpenSearchUser:   GetEnv("OPENSEARCH_USER", ""),
			OpenSearchPass:   GetEnv("OPENSEARCH_PASSWORD", ""),
			EnableLogging:    GetBoolEnv("ENABLE_OPENSEARCH_LOGGING", false),
			LogRetentionDays: GetIntEnv("LOG_RETENTION_DAYS", 30),
		}
	}
	return appConfigInstance
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetBoolEnv returns the boolean value of an environment variable or a default value
func GetBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// GetIntEnv returns the integer value of an environment variable or a default value
func GetIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
