// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
}

// JWTConfig provides JWT validation settings for middleware.
type JWTConfig interface {
	GetJWTAccessSecret() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
	GetCORSAllowCreds() bool
}

// AirtableConfig provides settings for the Airtable REST client.
type AirtableConfig interface {
	GetAirtableAPIKey() string
	GetAirtableAPIURL() string
	GetAirtableTimeout() time.Duration
	GetAirtableRequestsPerSecond() float64
	GetAirtableDefaultTable() string
	GetAirtableFieldAliasFile() string
}

// SyncConfig provides settings for the lead reconciliation engine and its triggers.
type SyncConfig interface {
	GetSyncCronSecret() string
	GetSyncBatchSize() int
	GetSyncMaxErrorSamples() int
	GetPhoneRegion() string
}

// SchedulerConfig provides settings for the asynq queue.
type SchedulerConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env                       string
	HTTPAddr                  string
	DatabaseURL               string
	MigrationsEnabled         bool
	JWTAccessSecret           string
	CORSAllowAll              bool
	CORSOrigins               []string
	CORSAllowCreds            bool
	AirtableAPIKey            string
	AirtableAPIURL            string
	AirtableTimeout           time.Duration
	AirtableRequestsPerSecond float64
	AirtableDefaultTable      string
	AirtableFieldAliasFile    string
	SyncCronSecret            string
	SyncBatchSize             int
	SyncMaxErrorSamples       int
	PhoneRegion               string
	RedisURL                  string
	RedisTLSInsecure          bool
	AsynqQueueName            string
	AsynqConcurrency          int
}

// =============================================================================
// Interface Implementations
// =============================================================================

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string { return c.DatabaseURL }

// JWTConfig implementation
func (c *Config) GetJWTAccessSecret() string { return c.JWTAccessSecret }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool    { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }
func (c *Config) GetCORSAllowCreds() bool  { return c.CORSAllowCreds }

// AirtableConfig implementation
func (c *Config) GetAirtableAPIKey() string             { return c.AirtableAPIKey }
func (c *Config) GetAirtableAPIURL() string             { return c.AirtableAPIURL }
func (c *Config) GetAirtableTimeout() time.Duration     { return c.AirtableTimeout }
func (c *Config) GetAirtableRequestsPerSecond() float64 { return c.AirtableRequestsPerSecond }
func (c *Config) GetAirtableDefaultTable() string       { return c.AirtableDefaultTable }
func (c *Config) GetAirtableFieldAliasFile() string     { return c.AirtableFieldAliasFile }

// SyncConfig implementation
func (c *Config) GetSyncCronSecret() string   { return c.SyncCronSecret }
func (c *Config) GetSyncBatchSize() int       { return c.SyncBatchSize }
func (c *Config) GetSyncMaxErrorSamples() int { return c.SyncMaxErrorSamples }
func (c *Config) GetPhoneRegion() string      { return c.PhoneRegion }

// SchedulerConfig implementation
func (c *Config) GetRedisURL() string       { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool { return c.RedisTLSInsecure }
func (c *Config) GetAsynqQueueName() string { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int  { return c.AsynqConcurrency }

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:3000"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	cfg := &Config{
		Env:                       getEnv("APP_ENV", "development"),
		HTTPAddr:                  getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:               getEnv("DATABASE_URL", ""),
		MigrationsEnabled:         strings.EqualFold(getEnv("RUN_MIGRATIONS", "true"), "true"),
		JWTAccessSecret:           getEnv("JWT_ACCESS_SECRET", ""),
		CORSAllowAll:              corsAllowAll,
		CORSOrigins:               corsOrigins,
		CORSAllowCreds:            strings.EqualFold(getEnv("CORS_ALLOW_CREDENTIALS", "true"), "true"),
		AirtableAPIKey:            getEnv("AIRTABLE_API_KEY", ""),
		AirtableAPIURL:            getEnv("AIRTABLE_API_URL", "https://api.airtable.com/v0"),
		AirtableTimeout:           mustDuration(getEnv("AIRTABLE_TIMEOUT", "30s")),
		AirtableRequestsPerSecond: mustFloat(getEnv("AIRTABLE_REQUESTS_PER_SECOND", "5")),
		AirtableDefaultTable:      getEnv("AIRTABLE_DEFAULT_TABLE", "Leads"),
		AirtableFieldAliasFile:    getEnv("AIRTABLE_FIELD_ALIAS_FILE", ""),
		SyncCronSecret:            getEnv("SYNC_CRON_SECRET", ""),
		SyncBatchSize:             mustInt(getEnv("SYNC_BATCH_SIZE", "500")),
		SyncMaxErrorSamples:       mustInt(getEnv("SYNC_MAX_ERROR_SAMPLES", "5")),
		PhoneRegion:               strings.ToUpper(getEnv("PHONE_REGION", "US")),
		RedisURL:                  getEnv("REDIS_URL", ""),
		RedisTLSInsecure:          strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		AsynqQueueName:            getEnv("ASYNQ_QUEUE", "default"),
		AsynqConcurrency:          mustInt(getEnv("ASYNQ_CONCURRENCY", "4")),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTAccessSecret == "" {
		return nil, fmt.Errorf("JWT_ACCESS_SECRET is required")
	}
	if cfg.AirtableAPIKey == "" {
		return nil, fmt.Errorf("AIRTABLE_API_KEY is required")
	}
	if cfg.SyncCronSecret == "" {
		return nil, fmt.Errorf("SYNC_CRON_SECRET is required")
	}
	if cfg.AirtableTimeout <= 0 {
		return nil, fmt.Errorf("AIRTABLE_TIMEOUT must be a positive duration")
	}
	if cfg.SyncBatchSize <= 0 {
		return nil, fmt.Errorf("SYNC_BATCH_SIZE must be positive")
	}
	if cfg.CORSAllowAll && cfg.CORSAllowCreds {
		return nil, fmt.Errorf("CORS_ALLOW_CREDENTIALS cannot be true when CORS_ALLOW_ALL is true")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func mustInt(value string) int {
	result, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0
	}
	return result
}

func mustFloat(value string) float64 {
	result, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0
	}
	return result
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	results := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			results = append(results, trimmed)
		}
	}
	return results
}

func containsWildcard(values []string) bool {
	for _, value := range values {
		if value == "*" {
			return true
		}
	}
	return false
}
