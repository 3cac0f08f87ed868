// Package server provides configuration helpers that define runtime
// defaults and validation for the chat server.
package server

import (
	"os"
	"strconv"
	"time"
)

// Config holds the chat server configuration settings.
type Config struct {
	// Port is the TCP port the listen socket binds.
	Port int

	// TickInterval is how long the loop sleeps between polling passes. It
	// bounds CPU usage when the server is idle.
	TickInterval time.Duration

	// ReceiveBatch is the number of messages pulled from the poll group
	// per receive call.
	ReceiveBatch int
}

func defaultConfig() Config {
	return Config{
		Port:         27020,
		TickInterval: 10 * time.Millisecond,
		ReceiveBatch: 1,
	}
}

func sanitizeConfig(cfg Config) Config {
	def := defaultConfig()

	if cfg.Port <= 0 || cfg.Port > 65535 {
		cfg.Port = def.Port
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if cfg.ReceiveBatch <= 0 {
		cfg.ReceiveBatch = def.ReceiveBatch
	}

	return cfg
}

// NewConfig creates a Config instance populated with default values for all
// settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Falls back to default values if environment variables are not set.
func NewConfigFromEnv() *Config {
	cfg := defaultConfig()

	// Load SERVER_PORT
	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = parseIntValue(port, cfg.Port)
	}

	// Load TICK_INTERVAL_MS
	if tick := os.Getenv("TICK_INTERVAL_MS"); tick != "" {
		cfg.TickInterval = parseMillisValue(tick, cfg.TickInterval)
	}

	// Load RECEIVE_BATCH
	if batch := os.Getenv("RECEIVE_BATCH"); batch != "" {
		cfg.ReceiveBatch = parseIntValue(batch, cfg.ReceiveBatch)
	}

	cfg = sanitizeConfig(cfg)
	return &cfg
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

func parseMillisValue(value string, defaultValue time.Duration) time.Duration {
	if ms, err := strconv.Atoi(value); err == nil && ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}
