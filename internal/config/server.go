// Package config provides configuration management for the key server.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment represents the deployment environment.
type Environment string

const (
	// EnvDevelopment is the default local development environment.
	EnvDevelopment Environment = "development"
	// EnvStaging is the staging/pre-production environment.
	EnvStaging Environment = "staging"
	// EnvProduction is the production environment.
	EnvProduction Environment = "production"
)

// ServerConfig holds server-level configuration loaded from environment variables.
type ServerConfig struct {
	Environment Environment
	ListenAddr  string
	DatabaseURL string
	LogLevel    string

	// RedisAddr enables the check cache when non-empty.
	RedisAddr     string
	CheckCacheTTL time.Duration

	RateLimitRequests int           // requests allowed per period, 0 disables limiting
	RateLimitPeriod   time.Duration // sliding window for the limit
}

// LoadServerConfig reads server configuration from environment variables.
// DATABASE_URL is required; everything else has a default.
func LoadServerConfig() (ServerConfig, error) {
	env := Environment(os.Getenv("ENV"))
	switch env {
	case EnvDevelopment, EnvStaging, EnvProduction:
		// valid
	default:
		env = EnvDevelopment
	}

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		return ServerConfig{}, fmt.Errorf("DATABASE_URL is required")
	}

	listenAddr := os.Getenv("LISTEN_ADDR")
	if listenAddr == "" {
		listenAddr = ":8080"
	}

	logLevel := strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL")))
	switch logLevel {
	case "trace", "debug", "info", "warn", "error":
		// valid
	default:
		logLevel = "info"
	}

	rateLimitRequests := getEnvInt("RATE_LIMIT_REQUESTS", 100)
	if rateLimitRequests < 0 {
		rateLimitRequests = 0
	}

	return ServerConfig{
		Environment:       env,
		ListenAddr:        listenAddr,
		DatabaseURL:       databaseURL,
		LogLevel:          logLevel,
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		CheckCacheTTL:     getEnvDuration("CHECK_CACHE_TTL", 30*time.Second),
		RateLimitRequests: rateLimitRequests,
		RateLimitPeriod:   getEnvDuration("RATE_LIMIT_PERIOD", time.Minute),
	}, nil
}

// getEnvInt reads an integer from an environment variable, returning the default if unset or invalid.
func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

// getEnvDuration reads a duration from an environment variable, returning the default if unset or invalid.
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}
