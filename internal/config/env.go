package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	DatabaseURL string
	SslCertPath string
	JWTSecret   string

	RedisURL         string
	ChatHistoryLimit int
	ChatRetention    time.Duration
	ChatKeepAlive    time.Duration
	SystemPrompt     string

	InferenceProvider string
	InferenceURL      string
	InferenceAPIKey   string
	InferenceModel    string
	GeminiAPIKey      string
	GenModel          string

	AwsAccessKey string
	AwsSecretKey string
	AwsRegion    string
	BucketName   string
	S3Endpoint   string

	LogFile     string
	LogLevel    string
	TraceFile   string
	CORSOrigins []string
}

const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

const defaultSystemPrompt = "You are the Sunlytics assistant. You help solar system owners understand " +
	"their production, consumption and grid export, and answer questions about panels, inverters and batteries. " +
	"Be concise and use kWh for energy and kW for power."

// LoadConfig loads .env (when present) and the process environment.
func LoadConfig() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		SslCertPath: getEnv("SSL_CERT_PATH", ""),
		JWTSecret:   getEnv("JWT_SECRET", ""),

		RedisURL:         getEnv("REDIS_URL", "redis://localhost:6379/0"),
		ChatHistoryLimit: getEnvInt("CHAT_HISTORY_LIMIT", 20),
		ChatRetention:    getEnvDuration("CHAT_RETENTION", 48*time.Hour),
		ChatKeepAlive:    getEnvDuration("CHAT_KEEPALIVE", 15*time.Second),
		SystemPrompt:     getEnv("CHAT_SYSTEM_PROMPT", defaultSystemPrompt),

		InferenceProvider: strings.ToLower(getEnv("INFERENCE_PROVIDER", ProviderOpenAI)),
		InferenceURL:      getEnv("INFERENCE_URL", "https://api.openai.com/v1"),
		InferenceAPIKey:   getEnv("INFERENCE_API_KEY", ""),
		InferenceModel:    getEnv("INFERENCE_MODEL", "gpt-4o-mini"),
		GeminiAPIKey:      getEnv("GEMINI_API_KEY", ""),
		GenModel:          getEnv("GEN_MODEL", "gemini-1.5-flash"),

		AwsAccessKey: getEnv("AWS_ACCESS_KEY", ""),
		AwsSecretKey: getEnv("AWS_SECRET_KEY", ""),
		AwsRegion:    getEnv("AWS_REGION", "us-east-2"),
		BucketName:   getEnv("BUCKET_NAME", ""),
		S3Endpoint:   getEnv("AWS_S3_ENDPOINT", ""),

		LogFile:     getEnv("LOG_FILE", "logs/sunlytics.log"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		TraceFile:   getEnv("TRACE_FILE", ""),
		CORSOrigins: getEnvList("CORS_ORIGINS", []string{"*"}),
	}
}

// Validate reports every missing or inconsistent setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL not set"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET not set"))
	}
	if c.RedisURL == "" {
		errs = append(errs, errors.New("REDIS_URL not set"))
	}
	if c.ChatHistoryLimit <= 0 {
		errs = append(errs, fmt.Errorf("CHAT_HISTORY_LIMIT must be positive, got %d", c.ChatHistoryLimit))
	}
	if c.ChatRetention <= 0 {
		errs = append(errs, fmt.Errorf("CHAT_RETENTION must be positive, got %s", c.ChatRetention))
	}
	switch c.InferenceProvider {
	case ProviderOpenAI:
		if c.InferenceURL == "" {
			errs = append(errs, errors.New("INFERENCE_URL not set"))
		}
	case ProviderGemini:
		if c.GeminiAPIKey == "" {
			errs = append(errs, errors.New("GEMINI_API_KEY not set"))
		}
	default:
		errs = append(errs, fmt.Errorf("INFERENCE_PROVIDER must be %q or %q, got %q", ProviderOpenAI, ProviderGemini, c.InferenceProvider))
	}
	return errors.Join(errs...)
}

// ArchiveEnabled reports whether transcripts can be exported to S3.
func (c *Config) ArchiveEnabled() bool {
	return c.BucketName != "" && c.AwsAccessKey != "" && c.AwsSecretKey != ""
}

// SlogLevel maps LOG_LEVEL onto a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// Helper to read environment variables with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("config: not an int, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("config: not a duration, using default", "key", key, "value", v, "default", def)
		return def
	}
	return d
}

func getEnvList(key string, def []string) []string {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
