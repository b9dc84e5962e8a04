package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	HTTPAddr    string
	PostgresDSN string
	LogLevel    string

	// File-backed store locations, used when POSTGRES_DSN is unset.
	LogFile    string
	PolicyFile string

	// Mode selects baseline or defense for both pipelines.
	Mode string

	AdminAPIKey string

	PolicyBundlePath string
	PolicyBundleID   string
	PolicyReload     bool
	SeedPolicies     bool

	RateLimitRequests      int
	RateLimitWindowSeconds int
	RateLimitFailClosed    bool
	RateLimitMaxKeys       int

	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

func FromEnv() Config {
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	return Config{
		HTTPAddr:               addr,
		PostgresDSN:            os.Getenv("POSTGRES_DSN"),
		LogLevel:               envDefault("LOG_LEVEL", "info"),
		LogFile:                envDefault("LOG_FILE", "transparency_log.json"),
		PolicyFile:             envDefault("POLICY_FILE", "signing_policies.json"),
		Mode:                   envDefault("MODE", "defense"),
		AdminAPIKey:            os.Getenv("ADMIN_API_KEY"),
		PolicyBundlePath:       os.Getenv("POLICY_BUNDLE_PATH"),
		PolicyBundleID:         envDefault("POLICY_BUNDLE_ID", "registry_v0"),
		PolicyReload:           envBoolDefault("POLICY_RELOAD", false),
		SeedPolicies:           envBoolDefault("SEED_POLICIES", true),
		RateLimitRequests:      envIntDefault("RATE_LIMIT_REQUESTS", 0),
		RateLimitWindowSeconds: envIntDefault("RATE_LIMIT_WINDOW_SECONDS", 60),
		RateLimitFailClosed:    envBoolDefault("RATE_LIMIT_FAIL_CLOSED", false),
		RateLimitMaxKeys:       envIntDefault("RATE_LIMIT_MAX_KEYS", 10000),
		RedisAddr:              os.Getenv("REDIS_ADDR"),
		RedisPassword:          os.Getenv("REDIS_PASSWORD"),
		RedisDB:                envIntDefault("REDIS_DB", 0),
	}
}

func envDefault(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func envIntDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func envBoolDefault(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	switch v {
	case "1", "true", "TRUE", "True", "yes", "YES", "Yes":
		return true
	case "0", "false", "FALSE", "False", "no", "NO", "No":
		return false
	default:
		return def
	}
}

func (c Config) RateLimitWindow() time.Duration {
	if c.RateLimitWindowSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.RateLimitWindowSeconds) * time.Second
}
