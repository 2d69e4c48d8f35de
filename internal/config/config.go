package config

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultListenAddr = ":8080"
	defaultDBPath     = "hourglass.db"
	defaultEvalCost   = 20 * time.Millisecond

	envListenAddr   = "HOURGLASS_LISTEN_ADDR"
	envDBPath       = "HOURGLASS_DB_PATH"
	envLogLevel     = "HOURGLASS_LOG_LEVEL"
	envSearchSpace  = "HOURGLASS_SEARCH_SPACE"
	envEvalCostMS   = "HOURGLASS_EVAL_COST_MS"
	envOTLPEndpoint = "HOURGLASS_OTLP_ENDPOINT"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	ListenAddr string
	DBPath     string
	LogLevel   slog.Level
	// SearchSpacePath points at a YAML search space. Empty selects the
	// built-in table.
	SearchSpacePath string
	// EvalCost is the simulated cost of one synthetic evaluation.
	EvalCost time.Duration
	// OTLPEndpoint is the host:port of an OTLP/HTTP trace collector. Empty
	// disables span export.
	OTLPEndpoint string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	cfg := Config{
		ListenAddr: defaultListenAddr,
		DBPath:     defaultDBPath,
		LogLevel:   slog.LevelInfo,
		EvalCost:   defaultEvalCost,
	}

	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}
	cfg.SearchSpacePath = os.Getenv(envSearchSpace)
	if v := os.Getenv(envEvalCostMS); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms >= 0 {
			cfg.EvalCost = time.Duration(ms) * time.Millisecond
		}
	}
	cfg.OTLPEndpoint = os.Getenv(envOTLPEndpoint)

	return cfg
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
