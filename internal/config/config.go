package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the Caselane engine.
type Config struct {
	Port      int
	Version   string
	Database  DatabaseConfig
	Model     ModelConfig
	Engine    EngineConfig
	Retention RetentionConfig
	Telemetry TelemetryConfig
}

type DatabaseConfig struct {
	// URL is the PostgreSQL connection string. Empty means the
	// in-memory store.
	URL string
}

type ModelConfig struct {
	Provider string // openai, anthropic, webhook
	Endpoint string
	APIKey   string
	Model    string
}

type EngineConfig struct {
	HistoryCap     int
	InboxSize      int
	Batch          int
	CallsPerMinute int
	CacheTTL       time.Duration
}

type RetentionConfig struct {
	Interval             time.Duration
	ContextTTL           time.Duration
	InteractionRetention time.Duration
	ArchivePath          string
	ArchiveCompress      bool
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Port:    envInt("CASELANE_PORT", 8080),
		Version: envStr("CASELANE_VERSION", "0.2.0"),
		Database: DatabaseConfig{
			URL: envStr("DATABASE_URL", ""),
		},
		Model: ModelConfig{
			Provider: envStr("CASELANE_MODEL_PROVIDER", "openai"),
			Endpoint: envStr("CASELANE_MODEL_ENDPOINT", ""),
			APIKey:   envStr("CASELANE_MODEL_API_KEY", ""),
			Model:    envStr("CASELANE_MODEL", "gpt-4o-mini"),
		},
		Engine: EngineConfig{
			HistoryCap:     envInt("CASELANE_HISTORY_CAP", 1000),
			InboxSize:      envInt("CASELANE_INBOX_SIZE", 64),
			Batch:          envInt("CASELANE_AGENT_BATCH", 3),
			CallsPerMinute: envInt("CASELANE_MODEL_CALLS_PER_MINUTE", 10),
			CacheTTL:       envDur("CASELANE_CACHE_TTL", time.Hour),
		},
		Retention: RetentionConfig{
			Interval:             envDur("CASELANE_RETENTION_INTERVAL", time.Hour),
			ContextTTL:           envDur("CASELANE_CONTEXT_TTL", 24*time.Hour),
			InteractionRetention: envDur("CASELANE_INTERACTION_RETENTION", 30*24*time.Hour),
			ArchivePath:          envStr("CASELANE_ARCHIVE_PATH", ""),
			ArchiveCompress:      envBool("CASELANE_ARCHIVE_COMPRESS", true),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "caselane-engine"),
		},
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDur(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
