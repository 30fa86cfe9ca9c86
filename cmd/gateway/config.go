package main

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every environment-driven knob the gateway reads at startup.
// It is loaded once via loadConfig and never mutated afterward.
type Config struct {
	BindAddr string

	AnalyzerAddr       string
	AnalyzerTimeout    time.Duration
	AnalyzerMaxRetries int
	AnalyzerKeepalive  time.Duration

	RateLimitGlobalMax        int64
	RateLimitGlobalWindow     time.Duration
	RateLimitPerCallerMax     int64
	RateLimitPerCallerWindow  time.Duration
	RateLimitPerKeyMax        int64
	RateLimitPerKeyWindow     time.Duration

	AuditAsync         bool
	AuditQueueCapacity int
	AuditBatchSize     int
	AuditRetentionDays int
	AuditDrainInterval time.Duration

	MinContentLength int
	MaxContentLength int
	PIIConfidenceMin float64

	Models []string

	FeatureRateLimiting bool
	FeatureAuditLogging bool

	DigestSalt string

	AuthMode      string
	AuthSecret    string
	AuthJWKSURL   string
	AuthIssuer    string
	AuthAudience  string
	AdminRoles    []string
	CORSOrigins   string
	MaxBodyBytes  int64
	ShutdownGrace time.Duration

	Environment            string
	StrictProdSecurity     string
	DatabaseRequireTLS     string
	RedisAddr              string
	RedisRequireTLS        string
	RedisTLSInsecure       string
	RedisAllowInsecureTLS  string
}

// loadConfig reads Config from an env source. Tests pass a fake getenv;
// production passes os.Getenv.
func loadConfig(getenv func(string) string) Config {
	env := func(k, def string) string {
		if v := getenv(k); v != "" {
			return v
		}
		return def
	}
	envInt := func(k string, def int) int {
		if v := getenv(k); v != "" {
			if i, err := strconv.Atoi(v); err == nil {
				return i
			}
		}
		return def
	}
	envInt64 := func(k string, def int64) int64 {
		if v := getenv(k); v != "" {
			if i, err := strconv.ParseInt(v, 10, 64); err == nil {
				return i
			}
		}
		return def
	}
	envFloat := func(k string, def float64) float64 {
		if v := getenv(k); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				return f
			}
		}
		return def
	}
	envDurationSec := func(k string, defSeconds int) time.Duration {
		return time.Second * time.Duration(envInt(k, defSeconds))
	}
	envDurationMS := func(k string, defMillis int) time.Duration {
		return time.Millisecond * time.Duration(envInt(k, defMillis))
	}
	envBool := func(k string, def bool) bool {
		if v := strings.TrimSpace(getenv(k)); v != "" {
			return v == "1" || strings.EqualFold(v, "true") || strings.EqualFold(v, "yes")
		}
		return def
	}

	return Config{
		BindAddr: env("BIND_ADDR", ":8080"),

		AnalyzerAddr:       env("ANALYZER_ADDR", "localhost:50051"),
		AnalyzerTimeout:    envDurationSec("ANALYZER_TIMEOUT_SEC", 5),
		AnalyzerMaxRetries: envInt("ANALYZER_MAX_RETRIES", 3),
		AnalyzerKeepalive:  envDurationMS("GRPC_KEEPALIVE_TIME_MS", 10000),

		RateLimitGlobalMax:       envInt64("RATE_LIMIT_GLOBAL_MAX", 10000),
		RateLimitGlobalWindow:    envDurationSec("RATE_LIMIT_GLOBAL_WINDOW_SEC", 3600),
		RateLimitPerCallerMax:    envInt64("RATE_LIMIT_PER_CALLER_MAX", 100),
		RateLimitPerCallerWindow: envDurationSec("RATE_LIMIT_PER_CALLER_WINDOW_SEC", 3600),
		RateLimitPerKeyMax:       envInt64("RATE_LIMIT_PER_KEY_MAX", 1000),
		RateLimitPerKeyWindow:    envDurationSec("RATE_LIMIT_PER_KEY_WINDOW_SEC", 3600),

		AuditAsync:         envBool("AUDIT_ASYNC", true),
		AuditQueueCapacity: envInt("AUDIT_QUEUE_CAPACITY", 1000),
		AuditBatchSize:     envInt("AUDIT_BATCH_SIZE", 10),
		AuditRetentionDays: envInt("AUDIT_RETENTION_DAYS", 90),
		AuditDrainInterval: envDurationMS("AUDIT_DRAIN_INTERVAL_MS", 1000),

		MinContentLength: envInt("MIN_CONTENT_LENGTH", 1),
		MaxContentLength: envInt("MAX_CONTENT_LENGTH", 10240),
		PIIConfidenceMin: envFloat("PII_CONFIDENCE_THRESHOLD", 0.7),

		Models: splitCSV(env("MODELS", "gpt-4,gpt-3.5-turbo,claude-3-opus")),

		FeatureRateLimiting: envBool("FEATURE_RATE_LIMITING", true),
		FeatureAuditLogging: envBool("FEATURE_AUDIT_LOGGING", true),

		DigestSalt: env("DIGEST_SALT", ""),

		AuthMode:      env("AUTH_MODE", "off"),
		AuthSecret:    env("AUTH_SECRET", ""),
		AuthJWKSURL:   env("AUTH_JWKS_URL", ""),
		AuthIssuer:    env("AUTH_ISSUER", ""),
		AuthAudience:  env("AUTH_AUDIENCE", ""),
		AdminRoles:    splitCSV(env("ADMIN_ROLES", "securityadmin,complianceofficer")),
		CORSOrigins:   env("CORS_ALLOWED_ORIGINS", ""),
		MaxBodyBytes:  envInt64("MAX_BODY_BYTES", 1<<20),
		ShutdownGrace: envDurationSec("SHUTDOWN_TIMEOUT_SEC", 10),

		Environment:           env("ENVIRONMENT", "development"),
		StrictProdSecurity:    env("STRICT_PROD_SECURITY", "true"),
		DatabaseRequireTLS:    env("DATABASE_REQUIRE_TLS", ""),
		RedisAddr:             env("REDIS_ADDR", ""),
		RedisRequireTLS:       env("REDIS_REQUIRE_TLS", ""),
		RedisTLSInsecure:      env("REDIS_TLS_INSECURE", ""),
		RedisAllowInsecureTLS: env("REDIS_ALLOW_INSECURE_TLS", ""),
	}
}

func splitCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func osEnv(k string) string { return os.Getenv(k) }
