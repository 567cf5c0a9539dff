package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Remote record store backends
const (
	RemoteBackendMemory   = "memory"
	RemoteBackendDynamoDB = "dynamodb"
	RemoteBackendPostgres = "postgres"
)

// Local durable storage backends
const (
	LocalBackendMemory = "memory"
	LocalBackendRedis  = "redis"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Sync     SyncConfig
	Tables   TablesConfig
	AWS      AWSConfig
	Database DatabaseConfig
	Redis    RedisConfig
	OTEL     OTELConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host     string
	Port     int
	Env      string
	LogLevel string
	// AllowedOrigins lists browser origins allowed by CORS; empty means any.
	AllowedOrigins []string
}

// SyncConfig holds background sync and hydration settings
type SyncConfig struct {
	Enabled                bool
	OwnerID                string
	FlushInterval          time.Duration
	SegmentBatchLimit      int
	HydrationConcurrency   int
	StaleThreshold         time.Duration
	RemoteBackend          string
	LocalBackend           string
	LifecycleEventsEnabled bool
}

// TablesConfig names the remote tables
type TablesConfig struct {
	Patients           string
	Consultations      string
	ClinicalNotes      string
	TranscriptSegments string
	Templates          string
	OwnerIndex         string
}

// AWSConfig holds DynamoDB and Cognito settings
type AWSConfig struct {
	Region               string
	EndpointURL          string
	IdentityPoolID       string
	UserPoolProviderName string
	IDTokenFile          string
	AccessKeyID          string
	SecretAccessKey      string
	SessionToken         string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// OTELConfig holds OpenTelemetry configuration
type OTELConfig struct {
	ServiceName    string
	ServiceVersion string
	Endpoint       string
	Enabled        bool
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			Port:           getEnvAsInt("SERVER_PORT", 8080),
			Env:            getEnv("APP_ENV", "development"),
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			AllowedOrigins: getEnvAsSlice("ALLOWED_ORIGINS"),
		},
		Sync: SyncConfig{
			Enabled:                getEnvAsBool("SYNC_ENABLED", true),
			OwnerID:                getEnv("SYNC_OWNER_ID", ""),
			FlushInterval:          getEnvAsDuration("SYNC_FLUSH_INTERVAL", 30*time.Second),
			SegmentBatchLimit:      getEnvAsInt("SYNC_SEGMENT_BATCH_LIMIT", 25),
			HydrationConcurrency:   getEnvAsInt("SYNC_HYDRATION_CONCURRENCY", 3),
			StaleThreshold:         getEnvAsDuration("SYNC_STALE_THRESHOLD", 24*time.Hour),
			RemoteBackend:          strings.ToLower(getEnv("SYNC_REMOTE_BACKEND", RemoteBackendMemory)),
			LocalBackend:           strings.ToLower(getEnv("SYNC_LOCAL_BACKEND", LocalBackendMemory)),
			LifecycleEventsEnabled: getEnvAsBool("SYNC_LIFECYCLE_EVENTS", false),
		},
		Tables: TablesConfig{
			Patients:           getEnv("DDB_PATIENTS_TABLE", "medical-scribe-patients"),
			Consultations:      getEnv("DDB_CONSULTATIONS_TABLE", "medical-scribe-consultations"),
			ClinicalNotes:      getEnv("DDB_CLINICAL_NOTES_TABLE", "medical-scribe-clinical-notes"),
			TranscriptSegments: getEnv("DDB_TRANSCRIPT_SEGMENTS_TABLE", "medical-scribe-transcript-segments"),
			Templates:          getEnv("DDB_TEMPLATES_TABLE", "medical-scribe-templates"),
			OwnerIndex:         getEnv("DDB_OWNER_INDEX", ""),
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", "us-east-1"),
			EndpointURL:          getEnv("AWS_ENDPOINT_URL", ""),
			IdentityPoolID:       getEnv("COGNITO_IDENTITY_POOL_ID", ""),
			UserPoolProviderName: getEnv("COGNITO_USER_POOL_PROVIDER_NAME", ""),
			IDTokenFile:          getEnv("AUTH_ID_TOKEN_FILE", ""),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			SessionToken:         getEnv("AWS_SESSION_TOKEN", ""),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Database: getEnv("DB_NAME", "scribesync"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvAsInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		OTEL: OTELConfig{
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "scribesync"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "1.0.0"),
			Endpoint:       getEnv("OTEL_ENDPOINT", ""),
			Enabled:        getEnvAsBool("OTEL_ENABLED", false),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the sync layer cannot run with
func (c *Config) Validate() error {
	switch c.Sync.RemoteBackend {
	case RemoteBackendMemory, RemoteBackendDynamoDB, RemoteBackendPostgres:
	default:
		return fmt.Errorf("unknown SYNC_REMOTE_BACKEND %q", c.Sync.RemoteBackend)
	}
	switch c.Sync.LocalBackend {
	case LocalBackendMemory, LocalBackendRedis:
	default:
		return fmt.Errorf("unknown SYNC_LOCAL_BACKEND %q", c.Sync.LocalBackend)
	}
	if c.Sync.SegmentBatchLimit < 1 || c.Sync.SegmentBatchLimit > 25 {
		return fmt.Errorf("SYNC_SEGMENT_BATCH_LIMIT must be between 1 and 25, got %d", c.Sync.SegmentBatchLimit)
	}
	if c.Sync.HydrationConcurrency < 1 {
		return fmt.Errorf("SYNC_HYDRATION_CONCURRENCY must be positive, got %d", c.Sync.HydrationConcurrency)
	}
	return nil
}

// DatabaseDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisAddr returns the Redis address
func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// UsesCognito reports whether Cognito identity pool credentials are configured
func (c *AWSConfig) UsesCognito() bool {
	return c.IdentityPoolID != "" && c.UserPoolProviderName != ""
}

// HasStaticKeys reports whether static access keys are configured
func (c *AWSConfig) HasStaticKeys() bool {
	return c.AccessKeyID != "" && c.SecretAccessKey != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsSlice(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
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
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
