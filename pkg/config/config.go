package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Observability ObservabilityConfig
	Profiling     ProfilingConfig
	Gemini        GeminiConfig
	Storage       StorageConfig
	Normalization NormalizationConfig
	Render        RenderConfig
	Search        SearchConfig
	Resend        ResendConfig
}

type GeminiConfig struct {
	APIKey            string
	Model             string
	RequestsPerSecond float64
	Burst             int
	// Concurrency bounds the pages of one statement sent at the same time.
	Concurrency int
	Timeout     time.Duration
}

type ServerConfig struct {
	Host               string
	Port               int
	BaseURL            string
	RateLimitPerSecond int
	RateLimitBurst     int
	MaxUploadBytes     int64
	AllowedOrigins     []string
}

type DatabaseConfig struct {
	Enabled  bool
	URL      string
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

type ObservabilityConfig struct {
	MetricsEnabled bool
	MetricsPort    int
}

type ProfilingConfig struct {
	Enabled bool
	Port    int
}

type StorageConfig struct {
	Type              string
	LocalPath         string
	S3Bucket          string
	S3Region          string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3Endpoint        string
	S3Prefix          string
	// Retention is how long page images may stay before the janitor purges them.
	Retention       time.Duration
	JanitorSchedule string
}

type NormalizationConfig struct {
	Threshold       float64
	SanitizeOrigins bool
	Currency        string
	BalanceTerms    []string
}

type RenderConfig struct {
	DPI int
}

type SearchConfig struct {
	Enabled   bool
	IndexPath string
}

type ResendConfig struct {
	APIKey string
	From   string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:               getEnv("SERVER_HOST", "localhost"),
			Port:               getEnvAsInt("SERVER_PORT", 8080),
			BaseURL:            getEnv("BASE_URL", "http://localhost:8080"),
			RateLimitPerSecond: getEnvAsInt("SERVER_RATE_LIMIT_PER_SECOND", 100),
			RateLimitBurst:     getEnvAsInt("SERVER_RATE_LIMIT_BURST", 200),
			MaxUploadBytes:     int64(getEnvAsInt("SERVER_MAX_UPLOAD_MB", 20)) << 20,
			AllowedOrigins:     getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		},
		Database: DatabaseConfig{
			Enabled:  getEnvAsBool("DATABASE_ENABLED", false),
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("POSTGRES_HOST", "localhost"),
			Port:     getEnvAsInt("POSTGRES_PORT", 5469),
			User:     getEnv("POSTGRES_USER", "postgres"),
			Password: getEnv("POSTGRES_PASSWORD", "postgres"),
			Database: getEnv("POSTGRES_DB", "statement-ledger"),
			SSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		},
		Observability: ObservabilityConfig{
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
			MetricsPort:    getEnvAsInt("METRICS_PORT", 9090),
		},
		Profiling: ProfilingConfig{
			Enabled: getEnvAsBool("PPROF_ENABLED", false),
			Port:    getEnvAsInt("PPROF_PORT", 6060),
		},
		Gemini: GeminiConfig{
			APIKey:            getEnv("GEMINI_API_KEY", ""),
			Model:             getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
			RequestsPerSecond: getEnvAsFloat("GEMINI_REQUESTS_PER_SECOND", 2),
			Burst:             getEnvAsInt("GEMINI_BURST", 4),
			Concurrency:       getEnvAsInt("GEMINI_CONCURRENCY", 4),
			Timeout:           getEnvAsDuration("GEMINI_TIMEOUT", 90*time.Second),
		},
		Storage: StorageConfig{
			Type:              getEnv("STORAGE_TYPE", "local"),
			LocalPath:         getEnv("STORAGE_LOCAL_PATH", "./data/pages"),
			S3Bucket:          getEnv("S3_BUCKET", ""),
			S3Region:          getEnv("S3_REGION", "eu-west-1"),
			S3AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
			S3SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
			S3Endpoint:        getEnv("S3_ENDPOINT", ""),
			S3Prefix:          getEnv("S3_PREFIX", "statement-pages"),
			Retention:         getEnvAsDuration("STORAGE_RETENTION", 24*time.Hour),
			JanitorSchedule:   getEnv("STORAGE_JANITOR_SCHEDULE", "@hourly"),
		},
		Normalization: NormalizationConfig{
			Threshold:       getEnvAsFloat("NORMALIZE_THRESHOLD", 0.8),
			SanitizeOrigins: getEnvAsBool("NORMALIZE_SANITIZE_ORIGINS", false),
			Currency:        getEnv("STATEMENT_CURRENCY", "BRL"),
			BalanceTerms:    getEnvAsList("NORMALIZE_BALANCE_TERMS", nil),
		},
		Render: RenderConfig{
			DPI: getEnvAsInt("RENDER_DPI", 200),
		},
		Search: SearchConfig{
			Enabled:   getEnvAsBool("SEARCH_ENABLED", true),
			IndexPath: getEnv("SEARCH_INDEX_PATH", ""),
		},
		Resend: ResendConfig{
			APIKey: getEnv("RESEND_API_KEY", ""),
			From:   getEnv("RESEND_FROM", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would make the pipeline misbehave.
func (c *Config) Validate() error {
	if c.Gemini.APIKey == "" {
		return errors.New("GEMINI_API_KEY is required")
	}
	if c.Gemini.Model == "" {
		return errors.New("GEMINI_MODEL is required")
	}
	if c.Normalization.Threshold < 0 || c.Normalization.Threshold > 1 {
		return fmt.Errorf("NORMALIZE_THRESHOLD must be within [0, 1], got %v", c.Normalization.Threshold)
	}
	if c.Gemini.Concurrency <= 0 {
		return errors.New("GEMINI_CONCURRENCY must be positive")
	}
	if c.Render.DPI < 36 || c.Render.DPI > 600 {
		return fmt.Errorf("RENDER_DPI must be within [36, 600], got %d", c.Render.DPI)
	}
	switch c.Storage.Type {
	case "local":
	case "s3":
		if c.Storage.S3Bucket == "" {
			return errors.New("S3_BUCKET is required when STORAGE_TYPE is s3")
		}
	default:
		return fmt.Errorf("unknown STORAGE_TYPE %q", c.Storage.Type)
	}
	return nil
}

// DSN returns the database connection string
func (c *DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, v := range strings.Split(valueStr, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
