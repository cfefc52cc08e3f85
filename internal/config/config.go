// Package config provides configuration for the dispatch service.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the dispatch configuration.
type Config struct {
	// Server settings
	HTTPPort int

	// Database
	DatabaseURL string

	// Admission policy
	PolicyFile  string
	MaxSessions int

	// Session engine
	EventQueueSize      int
	ResumeReplayCount   int
	ShutdownConcurrency int

	// WebSocket settings
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	MaxMessageSize int64

	// Adapters
	TerminalShell string
	AgentEndpoint string
	AgentTimeout  time.Duration

	// Logging
	LogLevel string
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		HTTPPort:            getEnvInt("HTTP_PORT", 8080),
		DatabaseURL:         getEnv("DATABASE_URL", "file:dispatch.db?cache=shared&mode=rwc"),
		PolicyFile:          getEnv("POLICY_FILE", ""),
		MaxSessions:         getEnvInt("MAX_SESSIONS", 64),
		EventQueueSize:      getEnvInt("EVENT_QUEUE_SIZE", 1024),
		ResumeReplayCount:   getEnvInt("RESUME_REPLAY_COUNT", 10),
		ShutdownConcurrency: getEnvInt("SHUTDOWN_CONCURRENCY", 8),
		PingInterval:        time.Duration(getEnvInt("WS_PING_INTERVAL_MS", 30000)) * time.Millisecond,
		WriteTimeout:        time.Duration(getEnvInt("WS_WRITE_TIMEOUT_MS", 10000)) * time.Millisecond,
		ReadTimeout:         time.Duration(getEnvInt("WS_READ_TIMEOUT_MS", 60000)) * time.Millisecond,
		MaxMessageSize:      int64(getEnvInt("WS_MAX_MESSAGE_SIZE", 65536)),
		TerminalShell:       getEnv("TERMINAL_SHELL", "/bin/sh"),
		AgentEndpoint:       getEnv("AGENT_ENDPOINT", ""),
		AgentTimeout:        time.Duration(getEnvInt("AGENT_TIMEOUT_MS", 300000)) * time.Millisecond,
		LogLevel:            getEnv("LOG_LEVEL", "info"),
	}
}

// SlogLevel maps LogLevel to a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}
