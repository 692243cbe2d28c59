package common

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Backend  BackendConfig
	Registry RegistryConfig
	Server   ServerConfig
	Archive  ArchiveConfig
}

// BackendConfig selects and configures the model backend. It is supplied
// per extraction job; nothing here is process-global mutable state.
type BackendConfig struct {
	Kind string // "local" or "gemini"

	GeminiAPIKey string
	GeminiModel  string

	LocalHost      string
	LocalModel     string
	LocalKeepAlive time.Duration

	StructuredTimeout time.Duration // T1: structured and fallback attempts
	FollowupTimeout   time.Duration // T2: agent follow-up
}

// RegistryConfig holds registry database configuration
type RegistryConfig struct {
	Driver string // "sqlite" or "postgres"
	DSN    string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	HTTPAddr    string
	MaxUploadMB int64
}

// ArchiveConfig holds the optional S3-compatible image archive settings.
// Archival is disabled when Endpoint is empty.
type ArchiveConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	UseSSL          bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Backend: BackendConfig{
			Kind:              getEnv("MODEL_BACKEND", "local"),
			GeminiAPIKey:      getEnv("GEMINI_API_KEY", ""),
			GeminiModel:       getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
			LocalHost:         getEnv("LOCAL_MODEL_HOST", "http://127.0.0.1:11434"),
			LocalModel:        getEnv("LOCAL_MODEL", "llama3.2-vision"),
			LocalKeepAlive:    getEnvAsDuration("LOCAL_MODEL_KEEP_ALIVE", 5*time.Minute),
			StructuredTimeout: getEnvAsDuration("STRUCTURED_TIMEOUT", 15*time.Second),
			FollowupTimeout:   getEnvAsDuration("FOLLOWUP_TIMEOUT", 5*time.Second),
		},
		Registry: RegistryConfig{
			Driver: getEnv("REGISTRY_DRIVER", "sqlite"),
			DSN:    getEnv("REGISTRY_DSN", "./data/registry.db"),
		},
		Server: ServerConfig{
			HTTPAddr:    getEnv("HTTP_ADDR", ":8080"),
			MaxUploadMB: int64(getEnvAsInt("MAX_UPLOAD_MB", 15)),
		},
		Archive: ArchiveConfig{
			Endpoint:        getEnv("ARCHIVE_ENDPOINT", ""),
			AccessKeyID:     getEnv("ARCHIVE_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("ARCHIVE_SECRET_ACCESS_KEY", ""),
			Bucket:          getEnv("ARCHIVE_BUCKET", "invoice-images"),
			UseSSL:          getEnvAsBool("ARCHIVE_USE_SSL", false),
		},
	}
}

// Helper functions for environment variable parsing
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
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	switch c.Backend.Kind {
	case "local":
		if c.Backend.LocalModel == "" {
			return NewAppError("CONFIG_ERROR", "LOCAL_MODEL is required for the local backend", ErrInvalidInput)
		}
	case "gemini":
		if c.Backend.GeminiAPIKey == "" {
			return NewAppError("CONFIG_ERROR", "GEMINI_API_KEY is required for the gemini backend", ErrInvalidInput)
		}
	default:
		return NewAppError("CONFIG_ERROR", "MODEL_BACKEND must be 'local' or 'gemini'", ErrInvalidInput)
	}
	if c.Registry.DSN == "" {
		return NewAppError("CONFIG_ERROR", "REGISTRY_DSN is required", ErrInvalidInput)
	}
	if c.Registry.Driver != "sqlite" && c.Registry.Driver != "postgres" {
		return NewAppError("CONFIG_ERROR", "REGISTRY_DRIVER must be 'sqlite' or 'postgres'", ErrInvalidInput)
	}
	return nil
}
