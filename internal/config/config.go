package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Broker backend
	BrokerBaseURL string

	// HTTP server for UI clients (command API + fanout WebSocket)
	HTTPPort int

	// Order history journal
	HistoryDBPath string
	HistoryMaxRows int64

	// Polling
	HeartbeatInterval time.Duration
	StreamsConfigPath string

	// Order staleness
	MarketPendingTimeout time.Duration
	SentStuckWarn        time.Duration

	// User activity
	IdleThreshold time.Duration

	// Telemetry
	LogLevel string
}

func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		BrokerBaseURL: envStr("BROKER_BASE_URL", "http://localhost:5000"),

		HTTPPort: envInt("HTTP_PORT", 8766),

		HistoryDBPath:  envStr("HISTORY_DB_PATH", "data/order_history.db"),
		HistoryMaxRows: int64(envInt("HISTORY_MAX_ROWS", 100000)),

		HeartbeatInterval: time.Duration(envInt("HEARTBEAT_MS", 1000)) * time.Millisecond,
		StreamsConfigPath: envStr("STREAMS_CONFIG_PATH", "internal/config/streams.yaml"),

		// MARKET orders are expected to confirm almost immediately; a stall
		// in PENDING past this means the request was lost. LIMIT orders are
		// exempt — waiting in PENDING is normal for them.
		MarketPendingTimeout: time.Duration(envInt("MARKET_PENDING_TIMEOUT_MS", 5000)) * time.Millisecond,
		SentStuckWarn:        time.Duration(envInt("SENT_STUCK_WARN_MS", 10000)) * time.Millisecond,

		IdleThreshold: time.Duration(envInt("IDLE_THRESHOLD_MS", 5000)) * time.Millisecond,

		LogLevel: envStr("LOG_LEVEL", "info"),
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
