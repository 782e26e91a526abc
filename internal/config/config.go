package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App       AppConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
	Logger    LoggerConfig
	Auth      AuthConfig
	Cache     CacheConfig
	Breaker   BreakerConfig
	RateLimit RateLimitConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig describes the upstream identity provider.
type AuthConfig struct {
	IssuerURL         string
	Audience          string
	UpstreamTimeout   time.Duration
	JWKSTimeout       time.Duration
	JWKSCacheTTL      time.Duration
	JWKSRefetchPerMin int
}

// CacheConfig describes the identity cache tiers, ordered shortest TTL first.
type CacheConfig struct {
	TierTTLs         []time.Duration
	StaleRetention   time.Duration
	MemoryMaxEntries int64
	KeySecret        string
}

// BreakerConfig configures the identity-provider circuit breaker.
type BreakerConfig struct {
	Cooldown time.Duration
}

// RateTier is one named token bucket policy.
type RateTier struct {
	Name       string
	Capacity   float64
	Period     time.Duration
	FailClosed bool
}

// RefillPerSecond returns the continuous refill rate.
func (t RateTier) RefillPerSecond() float64 {
	return t.Capacity / t.Period.Seconds()
}

// RateLimitConfig holds throttling tiers and the operation classes built from them.
type RateLimitConfig struct {
	Backend      string
	Tiers        []RateTier
	Classes      map[string][]string
	StoreTimeout time.Duration
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	tierTTLs, err := ParseDurationList(getEnv("CACHE_TIER_TTLS", "5m,6h,72h"))
	if err != nil {
		return nil, fmt.Errorf("invalid CACHE_TIER_TTLS: %w", err)
	}
	staleRetention, err := time.ParseDuration(getEnv("CACHE_STALE_RETENTION", "168h"))
	if err != nil {
		return nil, fmt.Errorf("invalid CACHE_STALE_RETENTION: %w", err)
	}

	tiers, err := ParseRateTiers(getEnv("RATE_LIMIT_TIERS", "per-minute=60/1m,per-hour=1000/1h,ai-daily=50/24h"))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_TIERS: %w", err)
	}
	for _, name := range splitList(os.Getenv("RATE_LIMIT_FAIL_CLOSED"), ",") {
		for i := range tiers {
			if tiers[i].Name == name {
				tiers[i].FailClosed = true
			}
		}
	}
	classes, err := ParseRateClasses(getEnv("RATE_LIMIT_CLASSES", "default=per-minute+per-hour;ai=ai-daily"))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_CLASSES: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "authgate"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			IssuerURL:         os.Getenv("AUTH_ISSUER_URL"),
			Audience:          os.Getenv("AUTH_AUDIENCE"),
			UpstreamTimeout:   time.Duration(getEnvAsInt("AUTH_UPSTREAM_TIMEOUT_SECONDS", 5)) * time.Second,
			JWKSTimeout:       time.Duration(getEnvAsInt("AUTH_JWKS_TIMEOUT_SECONDS", 3)) * time.Second,
			JWKSCacheTTL:      time.Duration(getEnvAsInt("AUTH_JWKS_CACHE_TTL_SECONDS", 300)) * time.Second,
			JWKSRefetchPerMin: getEnvAsInt("AUTH_JWKS_REFETCH_PER_MINUTE", 6),
		},
		Cache: CacheConfig{
			TierTTLs:         tierTTLs,
			StaleRetention:   staleRetention,
			MemoryMaxEntries: int64(getEnvAsInt("CACHE_MEMORY_MAX_ENTRIES", 100000)),
			KeySecret:        os.Getenv("CACHE_KEY_SECRET"),
		},
		Breaker: BreakerConfig{
			Cooldown: time.Duration(getEnvAsInt("BREAKER_COOLDOWN_SECONDS", 60)) * time.Second,
		},
		RateLimit: RateLimitConfig{
			Backend:      strings.ToLower(getEnv("RATE_LIMIT_BACKEND", "redis")),
			Tiers:        tiers,
			Classes:      classes,
			StoreTimeout: time.Duration(getEnvAsInt("RATE_LIMIT_STORE_TIMEOUT_MS", 250)) * time.Millisecond,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field invariants.
func (c *Config) Validate() error {
	var errs []error

	if c.Auth.IssuerURL == "" {
		errs = append(errs, errors.New("AUTH_ISSUER_URL is required"))
	}
	if c.Auth.Audience == "" {
		errs = append(errs, errors.New("AUTH_AUDIENCE is required"))
	}
	if c.Auth.UpstreamTimeout <= 0 || c.Auth.JWKSTimeout <= 0 {
		errs = append(errs, errors.New("upstream and JWKS timeouts must be positive"))
	}

	if len(c.Cache.TierTTLs) == 0 {
		errs = append(errs, errors.New("at least one cache tier is required"))
	}
	for i, ttl := range c.Cache.TierTTLs {
		if ttl <= 0 {
			errs = append(errs, fmt.Errorf("cache tier %d: ttl must be positive", i))
		}
		if i > 0 && ttl < c.Cache.TierTTLs[i-1] {
			errs = append(errs, fmt.Errorf("cache tier %d: ttl %s is shorter than tier %d", i, ttl, i-1))
		}
	}

	if c.Breaker.Cooldown <= 0 {
		errs = append(errs, errors.New("BREAKER_COOLDOWN_SECONDS must be positive"))
	}

	switch c.RateLimit.Backend {
	case "redis", "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown RATE_LIMIT_BACKEND %q", c.RateLimit.Backend))
	}
	known := make(map[string]struct{}, len(c.RateLimit.Tiers))
	for _, tier := range c.RateLimit.Tiers {
		if tier.Capacity < 1 {
			errs = append(errs, fmt.Errorf("rate tier %s: capacity must be at least 1", tier.Name))
		}
		if tier.Period <= 0 {
			errs = append(errs, fmt.Errorf("rate tier %s: period must be positive", tier.Name))
		}
		known[tier.Name] = struct{}{}
	}
	for class, names := range c.RateLimit.Classes {
		for _, name := range names {
			if _, ok := known[name]; !ok {
				errs = append(errs, fmt.Errorf("rate class %s: unknown tier %s", class, name))
			}
		}
	}

	return errors.Join(errs...)
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// ParseDurationList parses "5m,6h,72h".
func ParseDurationList(raw string) ([]time.Duration, error) {
	parts := splitList(raw, ",")
	out := make([]time.Duration, 0, len(parts))
	for _, part := range parts {
		d, err := time.ParseDuration(part)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// ParseRateTiers parses "name=capacity/period,..." such as "per-minute=60/1m".
func ParseRateTiers(raw string) ([]RateTier, error) {
	var tiers []RateTier
	for _, part := range splitList(raw, ",") {
		name, spec, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("tier %q: expected name=capacity/period", part)
		}
		capRaw, periodRaw, ok := strings.Cut(spec, "/")
		if !ok {
			return nil, fmt.Errorf("tier %q: expected capacity/period", part)
		}
		capacity, err := strconv.ParseFloat(strings.TrimSpace(capRaw), 64)
		if err != nil {
			return nil, fmt.Errorf("tier %q: %w", part, err)
		}
		period, err := time.ParseDuration(strings.TrimSpace(periodRaw))
		if err != nil {
			return nil, fmt.Errorf("tier %q: %w", part, err)
		}
		tiers = append(tiers, RateTier{Name: strings.TrimSpace(name), Capacity: capacity, Period: period})
	}
	return tiers, nil
}

// ParseRateClasses parses "class=tier+tier;class=tier".
func ParseRateClasses(raw string) (map[string][]string, error) {
	classes := make(map[string][]string)
	for _, part := range splitList(raw, ";") {
		name, spec, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("class %q: expected class=tier+tier", part)
		}
		tiers := splitList(spec, "+")
		if len(tiers) == 0 {
			return nil, fmt.Errorf("class %q: no tiers", part)
		}
		classes[strings.TrimSpace(name)] = tiers
	}
	return classes, nil
}

func splitList(raw, sep string) []string {
	var out []string
	for _, item := range strings.Split(raw, sep) {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
