// Package config provides unified configuration for the turnstile gateway.
//
// Configuration is loaded with a layered approach:
//  1. Built-in defaults
//  2. YAML config file (discovered or explicitly specified)
//  3. Environment variable overrides (TURNSTILE_ prefix)
//  4. File reference resolution (_file suffix fields)
//  5. Validation
package config

import "time"

// Config holds all configuration for the turnstile gateway.
type Config struct {
	Server        ServerConfig        `yaml:"server" envPrefix:"SERVER_"`
	Session       SessionConfig       `yaml:"session" envPrefix:"SESSION_"`
	Strategies    []StrategyConfig    `yaml:"strategies"`
	Routes        []RouteConfig       `yaml:"routes"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit" envPrefix:"RATE_LIMIT_"`
	Observability ObservabilityConfig `yaml:"observability" envPrefix:"OBSERVABILITY_"`
	Log           LogConfig           `yaml:"log" envPrefix:"LOG_"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port" env:"PORT"`                         // default: 8080
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`         // default: 30s
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`       // default: 60s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"` // default: 10s
}

// SessionConfig holds the session cookie and store settings.
type SessionConfig struct {
	Store      string         `yaml:"store" env:"STORE"`             // "memory" or "postgres", default: "memory"
	MaxSize    int            `yaml:"max_size" env:"MAX_SIZE"`       // for memory store, default: 10000
	CookieName string         `yaml:"cookie_name" env:"COOKIE_NAME"` // default: "turnstile_session"
	Secure     bool           `yaml:"secure" env:"SECURE"`
	TTL        time.Duration  `yaml:"ttl" env:"TTL"` // default: 24h
	Postgres   PostgresConfig `yaml:"postgres" envPrefix:"POSTGRES_"`
}

// PostgresConfig holds PostgreSQL-specific settings.
type PostgresConfig struct {
	DSN             string        `yaml:"dsn" env:"DSN"`
	DSNFile         string        `yaml:"dsn_file" env:"DSN_FILE"`                 // _file variant for dsn
	MaxConns        int32         `yaml:"max_conns" env:"MAX_CONNS"`               // default: 25
	MigrateOnStart  bool          `yaml:"migrate_on_start" env:"MIGRATE_ON_START"` // default: false
	CleanupInterval time.Duration `yaml:"cleanup_interval" env:"CLEANUP_INTERVAL"` // default: 10m
}

// Strategy types.
const (
	StrategyBasic     = "basic"
	StrategyForm      = "form"
	StrategyAPIKey    = "apikey"
	StrategyJWT       = "jwt"
	StrategySignature = "signature"
	StrategyAnonymous = "anonymous"
	StrategyRedirect  = "redirect"
	StrategySession   = "session"
)

// StrategyConfig declares one named strategy. Only the block matching
// Type is read.
type StrategyConfig struct {
	Name  string `yaml:"name"`
	Type  string `yaml:"type"`
	Realm string `yaml:"realm"`

	Users     []UserConfig    `yaml:"users"`    // basic, form
	Form      FormConfig      `yaml:"form"`     // form
	APIKeys   []APIKeyConfig  `yaml:"api_keys"` // apikey
	JWT       JWTConfig       `yaml:"jwt"`
	Signature SignatureConfig `yaml:"signature"`
	Redirect  RedirectConfig  `yaml:"redirect"`
}

// UserConfig describes a user of the basic and form strategies.
type UserConfig struct {
	Name         string   `yaml:"name"`
	Password     string   `yaml:"password"`
	PasswordFile string   `yaml:"password_file"` // _file variant for password
	ServiceTier  string   `yaml:"service_tier"`
	Scopes       []string `yaml:"scopes"`
}

// FormConfig names the login form fields.
type FormConfig struct {
	UsernameField string `yaml:"username_field"` // default: "username"
	PasswordField string `yaml:"password_field"` // default: "password"
}

// APIKeyConfig describes a single API key entry.
type APIKeyConfig struct {
	Key         string `yaml:"key"`
	KeyFile     string `yaml:"key_file"` // _file variant for key
	Subject     string `yaml:"subject"`
	TenantID    string `yaml:"tenant_id"`
	ServiceTier string `yaml:"service_tier"`
}

// JWTConfig holds the JWT strategy settings.
type JWTConfig struct {
	Issuer      string        `yaml:"issuer"`
	Audience    string        `yaml:"audience"`
	JWKSURL     string        `yaml:"jwks_url"`
	UserClaim   string        `yaml:"user_claim"`
	TenantClaim string        `yaml:"tenant_claim"`
	ScopesClaim string        `yaml:"scopes_claim"`
	TierClaim   string        `yaml:"tier_claim"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`
}

// SignatureConfig holds the signed request strategy settings.
type SignatureConfig struct {
	AllowedKeys []string `yaml:"allowed_keys"` // hex encoded secp256k1 public keys
	MaxBodySize int64    `yaml:"max_body_size"`
}

// RedirectConfig holds the redirect strategy settings.
type RedirectConfig struct {
	LoginURL    string `yaml:"login_url"`
	ReturnParam string `yaml:"return_param"`
	Status      int    `yaml:"status"`
}

// RouteConfig protects one path of the gateway with a strategy list.
type RouteConfig struct {
	Path       string       `yaml:"path"`
	Methods    []string     `yaml:"methods"` // empty means all methods
	Strategies []string     `yaml:"strategies"`
	Upstream   string       `yaml:"upstream"` // reverse proxy target; empty serves the identity as JSON
	Options    RouteOptions `yaml:"options"`
}

// RouteOptions are the per-route dispatch options.
type RouteOptions struct {
	SuccessRedirect           string        `yaml:"success_redirect"`
	SuccessReturnToOrRedirect string        `yaml:"success_return_to_or_redirect"`
	SuccessFlash              *NoticeConfig `yaml:"success_flash"`
	SuccessMessage            *NoticeConfig `yaml:"success_message"`
	AssignProperty            string        `yaml:"assign_property"`

	FailureRedirect string        `yaml:"failure_redirect"`
	FailureFlash    *NoticeConfig `yaml:"failure_flash"`
	FailureMessage  *NoticeConfig `yaml:"failure_message"`

	// RememberReturnTo stores the requested URL in the session before
	// a failure redirect.
	RememberReturnTo bool `yaml:"remember_return_to"`

	Session       bool              `yaml:"session"`
	FailWithError bool              `yaml:"fail_with_error"`
	Scope         map[string]string `yaml:"scope"`
}

// NoticeConfig enables a flash or session message. An empty text uses
// the message reported by the strategy.
type NoticeConfig struct {
	Type string `yaml:"type"`
	Text string `yaml:"text"`
}

// RateLimitConfig holds per-tier request budgets for authenticated identities.
type RateLimitConfig struct {
	Enabled    bool           `yaml:"enabled" env:"ENABLED"`
	DefaultRPM int            `yaml:"default_rpm" env:"DEFAULT_RPM"` // 0 = unlimited
	Tiers      map[string]int `yaml:"tiers"`                         // tier -> requests per minute
}

// ObservabilityConfig holds monitoring and instrumentation settings.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics" envPrefix:"METRICS_"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"` // default: true
	Path    string `yaml:"path" env:"PATH"`       // default: "/metrics"
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`   // trace, debug, info, warn, error; default: info
	Format string `yaml:"format" env:"FORMAT"` // text or json; default: text

	// Debug lists debug categories (auth, strategies, session, storage,
	// transport, config, all). TURNSTILE_DEBUG overrides it.
	Debug string `yaml:"debug"`
}

// Defaults returns a Config with all default values filled in.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Session: SessionConfig{
			Store:      "memory",
			MaxSize:    10000,
			CookieName: "turnstile_session",
			TTL:        24 * time.Hour,
			Postgres: PostgresConfig{
				MaxConns:        25,
				CleanupInterval: 10 * time.Minute,
			},
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Strategy returns the strategy declared under name.
func (c *Config) Strategy(name string) (StrategyConfig, bool) {
	for _, s := range c.Strategies {
		if s.Name == name {
			return s, true
		}
	}
	return StrategyConfig{}, false
}
