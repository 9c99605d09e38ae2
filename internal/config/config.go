package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        int
	NatsURL     string
	NatsToken   string
	DatabaseURL string
	LogLevel    string
	APIToken    string
	MarkersFile string

	ChatTableSuffix     string
	StatusTableSuffix   string
	FollowUpTableSuffix string

	FetchPageSize     int
	FetchMaxPages     int
	FetchConcurrency  int
	FetchPreferRecent bool
	RequestTimeout    time.Duration

	ManualOverrideWindow time.Duration
	DuplicateThreshold   float64

	StatusQueueSize       int
	StatusWritesPerSecond float64

	OTLPEndpoint string
	ServiceName  string
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first when present; real environment variables win.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Port:        envInt("GERENCIA_PORT", 8760),
		NatsURL:     envStr("NATS_URL", "nats://hermes:4222"),
		NatsToken:   envStr("NATS_TOKEN", ""),
		DatabaseURL: envStr("DATABASE_URL", ""),
		LogLevel:    envStr("LOG_LEVEL", "info"),
		APIToken:    envStr("GERENCIA_API_TOKEN", ""),
		MarkersFile: envStr("GERENCIA_MARKERS_FILE", ""),

		ChatTableSuffix:     envStr("CHAT_TABLE_SUFFIX", "n8n_chat_histories"),
		StatusTableSuffix:   envStr("STATUS_TABLE_SUFFIX", "crm_lead_status"),
		FollowUpTableSuffix: envStr("FOLLOWUP_TABLE_SUFFIX", "followup_schedule"),

		FetchPageSize:     envInt("FETCH_PAGE_SIZE", 1000),
		FetchMaxPages:     envInt("FETCH_MAX_PAGES", 50),
		FetchConcurrency:  envInt("FETCH_CONCURRENCY", 4),
		FetchPreferRecent: envBool("FETCH_PREFER_RECENT", true),
		RequestTimeout:    envDuration("REQUEST_TIMEOUT", 30*time.Second),

		ManualOverrideWindow: envDuration("MANUAL_OVERRIDE_WINDOW", 24*time.Hour),
		DuplicateThreshold:   envFloat("DUPLICATE_THRESHOLD", 0.60),

		StatusQueueSize:       envInt("STATUS_QUEUE_SIZE", 256),
		StatusWritesPerSecond: envFloat("STATUS_WRITES_PER_SECOND", 20),

		OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:  envStr("OTEL_SERVICE_NAME", "gerencia"),
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
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
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

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
