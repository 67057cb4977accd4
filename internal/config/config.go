// Package config provides application configuration loaded from environment
// variables with defaults and validation. It covers the HTTP server, logging,
// storage, rule templates, seller auth, the dashboard cache, rate limiting,
// and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultDBPath keeps all data in a shared in-memory SQLite database that
// lives as long as the process.
const DefaultDBPath = "file::memory:?cache=shared"

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// AuthConfig enables seller authentication. With an empty JWTSecret every
// request is accepted and the seller comes from the request itself.
type AuthConfig struct {
	JWTSecret string // AUTH_JWT_SECRET (HMAC)
}

// Enabled reports whether requests must carry a bearer token.
func (a AuthConfig) Enabled() bool { return a.JWTSecret != "" }

// DashboardConfig controls caching of dashboard summaries.
type DashboardConfig struct {
	CacheTTL    time.Duration // DASHBOARD_CACHE_TTL; 0 disables caching
	RedisAddr   string        // REDIS_ADDR; empty selects the in-process cache
	RedisPrefix string        // REDIS_PREFIX
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
	Environment string  // DEPLOYMENT_ENVIRONMENT, recorded on the trace resource
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	ShutdownTimeout   time.Duration // grace period for in-flight requests
	MaxHeaderBytes    int           // bytes
	MaxBodyBytes      int64         // request body cap
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// App
	DBPath            string // SQLite DSN or file path
	RuleTemplatesPath string // optional YAML catalog replacing the embedded one
	DefaultSellerID   string // seller used when a request names none

	// Rate limiting
	RateRPS     float64       // tokens per second; 0 disables limiting
	RateBurst   int           // bucket size (>= 1)
	RateIdleTTL time.Duration // idle buckets older than this are dropped

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig
	Auth     AuthConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	Dashboard DashboardConfig

	// Observability
	OTEL OTELConfig
}

// LoadDotEnv loads variables from the given .env files (default ".env")
// without overriding variables already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return err
		}
	}
	return nil
}

// Load reads the environment, applies defaults and normalization, and
// validates the result. The returned Config is populated even on error.
func Load() (Config, error) {
	cfg := Config{
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout:   getdur("SHUTDOWN_TIMEOUT", 10*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		MaxBodyBytes:      int64(getint("MAX_BODY_BYTES", 1<<20)),
		GinMode:           normalizeGinMode(getenv("GIN_MODE", "release")),

		LogLevel:       normalizeLevel(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api")),

		DBPath:            getenv("DB_PATH", DefaultDBPath),
		RuleTemplatesPath: strings.TrimSpace(getenv("RULE_TEMPLATES_PATH", "")),
		DefaultSellerID:   strings.TrimSpace(getenv("DEFAULT_SELLER_ID", "demo-seller")),

		RateRPS:     getfloat("RATE_RPS", 5.0),
		RateBurst:   getint("RATE_BURST", 10),
		RateIdleTTL: getdur("RATE_IDLE_TTL", 10*time.Minute),

		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},
		Auth: AuthConfig{
			JWTSecret: getenv("AUTH_JWT_SECRET", ""),
		},

		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		Dashboard: DashboardConfig{
			CacheTTL:    getdur("DASHBOARD_CACHE_TTL", 30*time.Second),
			RedisAddr:   strings.TrimSpace(getenv("REDIS_ADDR", "")),
			RedisPrefix: getenv("REDIS_PREFIX", "listing-dashboard"),
		},

		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-listing-dashboard"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
			Environment: getenv("DEPLOYMENT_ENVIRONMENT", ""),
		},
	}
	return cfg, cfg.Validate()
}

// Validate reports every invalid setting at once, joined with errors.Join.
func (c Config) Validate() error {
	var errs []error
	check := func(bad bool, msg string) {
		if bad {
			errs = append(errs, errors.New(msg))
		}
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		errs = append(errs, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic"))
	}
	check(strings.TrimSpace(c.Port) == "", "PORT must not be empty")
	check(c.ReadTimeout <= 0 || c.ReadHeaderTimeout <= 0 || c.WriteTimeout <= 0 ||
		c.IdleTimeout <= 0 || c.ShutdownTimeout <= 0, "timeouts must be positive durations")
	check(c.MaxHeaderBytes <= 0, "MAX_HEADER_BYTES must be > 0")
	check(c.MaxBodyBytes <= 0, "MAX_BODY_BYTES must be > 0")
	check(strings.TrimSpace(c.DBPath) == "", "DB_PATH must not be empty")
	check(c.DefaultSellerID == "", "DEFAULT_SELLER_ID must not be empty")
	check(c.RateRPS < 0, "RATE_RPS must be >= 0")
	check(c.RateBurst < 1, "RATE_BURST must be >= 1")
	check(c.RateIdleTTL <= 0, "RATE_IDLE_TTL must be > 0")
	check(c.Security.HSTSMaxAge < 0, "HSTS_MAX_AGE must be >= 0")
	check(c.IdempotencyTTL <= 0, "IDEMPOTENCY_TTL must be > 0")
	check(c.Dashboard.CacheTTL < 0, "DASHBOARD_CACHE_TTL must be >= 0")
	check(c.OTEL.SampleRatio < 0 || c.OTEL.SampleRatio > 1, "OTEL_TRACES_SAMPLER_ARG must be in [0,1]")

	return errors.Join(errs...)
}

// Addr is the listen address for the HTTP server.
func (c Config) Addr() string { return ":" + strings.TrimSpace(c.Port) }

// ---- helpers ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

func normalizeLevel(l string) string {
	l = strings.ToLower(strings.TrimSpace(l))
	if l == "warning" {
		return "warn"
	}
	return l
}

func normalizeGinMode(m string) string {
	switch m = strings.ToLower(strings.TrimSpace(m)); m {
	case "debug", "release", "test":
		return m
	}
	return "release"
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
