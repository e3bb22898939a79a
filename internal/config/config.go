// Package config loads gateway configuration from an optional config.yaml
// file and GATEWAY_-prefixed environment variables. Environment variables
// override file values; double underscores map to nesting, so
// GATEWAY_RATELIMIT__MAX_REQUESTS sets ratelimit.max_requests.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Cache     CacheConfig     `koanf:"cache"`
	RateLimit RateLimitConfig `koanf:"ratelimit"`
	Limits    LimitsConfig    `koanf:"limits"`
	Auth      AuthConfig      `koanf:"auth"`
	WAF       WAFConfig       `koanf:"waf"`
	Sanitize  SanitizeConfig  `koanf:"sanitize"`
	CORS      CORSConfig      `koanf:"cors"`
	Audit     AuditConfig     `koanf:"audit"`
}

type ServerConfig struct {
	Port int `koanf:"port"`
}

type CacheConfig struct {
	// RedisURL enables the remote cache tier when set. The gateway runs on
	// the in-process tier alone when it is empty or unreachable.
	RedisURL string `koanf:"redis_url"`
}

type RateLimitConfig struct {
	WindowSeconds int `koanf:"window_seconds"`
	MaxRequests   int `koanf:"max_requests"`
}

// Window returns the rate limit window as a duration.
func (c RateLimitConfig) Window() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}

type LimitsConfig struct {
	MaxBodyBytes int64 `koanf:"max_body_bytes"`
}

type AuthConfig struct {
	// ProtectedPaths are URL path prefixes that require a valid bearer token.
	ProtectedPaths []string `koanf:"protected_paths"`
	JWTSecret      string   `koanf:"jwt_secret"`
	// ExpiryLeewaySeconds tolerates small clock skew when checking token expiry.
	ExpiryLeewaySeconds int `koanf:"expiry_leeway_seconds"`
}

// ExpiryLeeway returns the configured leeway as a duration.
func (c AuthConfig) ExpiryLeeway() time.Duration {
	return time.Duration(c.ExpiryLeewaySeconds) * time.Second
}

type WAFConfig struct {
	// RulesFile points at an optional YAML rule file. The built-in rule set
	// is used when it is empty.
	RulesFile   string `koanf:"rules_file"`
	MinSeverity int    `koanf:"min_severity"`
}

type SanitizeConfig struct {
	MaxFieldLength int `koanf:"max_field_length"`
}

type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
}

type AuditConfig struct {
	// Backend selects the audit sink: "log" or "sqlite".
	Backend    string `koanf:"backend"`
	SQLitePath string `koanf:"sqlite_path"`
}

// Load reads configuration from the given YAML file (if it exists) and the
// environment, applies defaults, and validates the result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			// A missing file is fine, the environment covers everything.
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("load config file %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider("GATEWAY_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "GATEWAY_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("load env config: %w", err)
	}

	applyDefaults(k)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyDefaults(k *koanf.Koanf) {
	defaults := map[string]interface{}{
		"server.port":                8080,
		"ratelimit.window_seconds":   60,
		"ratelimit.max_requests":     100,
		"limits.max_body_bytes":      1 << 20, // 1 MiB
		"auth.expiry_leeway_seconds": 30,
		"waf.min_severity":           1,
		"sanitize.max_field_length":  2000,
		"audit.backend":              "log",
		"audit.sqlite_path":          "./data/audit.db",
	}
	for key, val := range defaults {
		if !k.Exists(key) {
			k.Set(key, val)
		}
	}
}

func (c *Config) validate() error {
	if c.RateLimit.WindowSeconds <= 0 {
		return fmt.Errorf("ratelimit.window_seconds must be positive, got %d", c.RateLimit.WindowSeconds)
	}
	if c.RateLimit.MaxRequests <= 0 {
		return fmt.Errorf("ratelimit.max_requests must be positive, got %d", c.RateLimit.MaxRequests)
	}
	if c.Limits.MaxBodyBytes <= 0 {
		return fmt.Errorf("limits.max_body_bytes must be positive, got %d", c.Limits.MaxBodyBytes)
	}
	if len(c.Auth.ProtectedPaths) > 0 && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required when protected paths are configured")
	}
	switch c.Audit.Backend {
	case "log", "sqlite":
	default:
		return fmt.Errorf("audit.backend must be %q or %q, got %q", "log", "sqlite", c.Audit.Backend)
	}
	return nil
}
