// Package config loads server configuration from the environment.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds everything the server reads from the environment.
type Config struct {
	Host           string
	Port           string
	AgentCommand   string
	MaxSessions    int
	BufferSize     int
	SessionTimeout time.Duration
	AuthTokens     []string
	LogLevel       string
	SessionsDir    string
}

// Load reads configuration from CC_* environment variables, applying
// defaults for anything unset.
func Load() *Config {
	return &Config{
		Host:           getEnv("CC_HOST", "0.0.0.0"),
		Port:           getEnv("CC_PORT", "8080"),
		AgentCommand:   getEnv("CC_CLAUDE_CMD", "claude"),
		MaxSessions:    getEnvInt("CC_MAX_SESSIONS", 10),
		BufferSize:     getEnvInt("CC_BUFFER_SIZE", 1000),
		SessionTimeout: time.Duration(getEnvInt("CC_SESSION_TIMEOUT", 3600)) * time.Second,
		AuthTokens:     splitTokens(os.Getenv("CC_AUTH_TOKENS")),
		LogLevel:       getEnv("CC_LOG_LEVEL", "info"),
		SessionsDir:    getEnv("CC_SESSIONS_DIR", "data"),
	}
}

// DBPath is where the resume database lives.
func (c *Config) DBPath() string {
	return filepath.Join(c.SessionsDir, "sessions.db")
}

// LogDir is where per-session protocol logs live.
func (c *Config) LogDir() string {
	return filepath.Join(c.SessionsDir, "logs")
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return c.Host + ":" + c.Port
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

// splitTokens parses the comma-separated auth token list.
func splitTokens(raw string) []string {
	if raw == "" {
		return nil
	}
	var tokens []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tokens = append(tokens, t)
		}
	}
	return tokens
}
