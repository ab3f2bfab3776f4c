package config

import (
	"os"
	"strconv"
)

// Config holds all configuration for the QueryTalk console.
type Config struct {
	// APIBase is the Text2SQL backend base URL (no trailing slash).
	APIBase string
	// DownloadDir is where RAG file downloads are materialized.
	DownloadDir string
	// SearchTopK is the default chunk count for RAG searches.
	SearchTopK int
	Version    string
	Telemetry  TelemetryConfig
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		APIBase:     envStr("QUERYTALK_API_BASE", "http://localhost:5000"),
		DownloadDir: envStr("QUERYTALK_DOWNLOAD_DIR", "."),
		SearchTopK:  envInt("QUERYTALK_SEARCH_TOP_K", 5),
		Version:     envStr("QUERYTALK_VERSION", "0.2.0"),
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "querytalk-console"),
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
