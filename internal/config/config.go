// Package config loads the process configuration from defaults, an
// optional file, and the environment-variable surface, in that order of
// increasing precedence. It mirrors the teacher's layered koanf config
// plus its per-subsystem defaulted struct, but scoped to what the
// session lifecycle core actually needs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/file"
	"go.uber.org/zap"

	apxerrors "browsercontrol/internal/apxerrors"
	"browsercontrol/internal/logging"
)

// PoolConfig bounds the Session Pool (spec §3, §4.2).
type PoolConfig struct {
	MinSize             int           `koanf:"min_size"`
	MaxSize             int           `koanf:"max_size"`
	IdleTimeout         time.Duration `koanf:"idle_timeout"`
	MaxSessionAge       time.Duration `koanf:"max_session_age"`
	HealthCheckInterval time.Duration `koanf:"health_check_interval"`
	PrewarmCount        int           `koanf:"prewarm_count"`
	BorrowTimeout       time.Duration `koanf:"borrow_timeout"`
	MaxConsecutiveError int           `koanf:"max_consecutive_errors"`
	MaxUseCount         int           `koanf:"max_use_count"`
	DriverKindDefault   string        `koanf:"driver_kind_default"`
	Headless            bool          `koanf:"headless"`
}

// RegistryConfig bounds the externally-visible Session Registry (spec §4.3).
type RegistryConfig struct {
	ConcurrentSessionCap int `koanf:"concurrent_session_cap"`
}

// AuthConfig is the Permission & Auth Gate's configuration surface (spec §4.4).
type AuthConfig struct {
	Enabled                 bool                     `koanf:"enabled"`
	Providers               []string                 `koanf:"providers"`
	RequireSecureTransport  bool                     `koanf:"require_secure_transport"`
	GlobalRateLimit         *RateLimitConfig         `koanf:"global_rate_limit"`
	PerIdentityRateLimits   map[string]RateLimitConfig `koanf:"per_identity_rate_limits"`
	AddressAllowList        []string                 `koanf:"address_allow_list"`
	AddressDenyList         []string                 `koanf:"address_deny_list"`
	APIKeys                 []APIKeyConfig          `koanf:"api_keys"`
	BearerSignerSecret      string                   `koanf:"bearer_signer_secret"`
	BearerIssuer            string                   `koanf:"bearer_issuer"`
	BearerAudience          string                   `koanf:"bearer_audience"`
}

type RateLimitConfig struct {
	Points        int `koanf:"points"`
	WindowSeconds int `koanf:"window_seconds"`
}

type APIKeyConfig struct {
	Key             string           `koanf:"key"`
	Identity        string           `koanf:"identity"`
	Permissions     []string         `koanf:"permissions"`
	RateLimit       *RateLimitConfig `koanf:"rate_limit"`
}

// ArtifactsConfig configures the S3 upload sink screenshots and other
// tool-produced artifacts flow through (spec's DOMAIN STACK expansion).
// Disabled by default: when off, tools still run, they just skip upload.
type ArtifactsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Region  string `koanf:"region"`
	Bucket  string `koanf:"bucket"`
}

// EventBusConfig configures the fire-and-forget Kafka publisher tool
// invocation outcomes flow through.
type EventBusConfig struct {
	Enabled bool     `koanf:"enabled"`
	Brokers []string `koanf:"brokers"`
	Topic   string   `koanf:"topic"`
}

// AuditStoreConfig configures the MongoDB sink session history flows
// into for offline inspection. Never consulted to reconstruct in-process
// state — the Session Registry is the only source of truth for that.
type AuditStoreConfig struct {
	Enabled    bool   `koanf:"enabled"`
	URI        string `koanf:"uri"`
	Database   string `koanf:"database"`
	Collection string `koanf:"collection"`
}

// ServerConfig is the top-level process configuration.
type ServerConfig struct {
	BrowserType          string        `koanf:"browser_type"`
	Headless             bool          `koanf:"headless"`
	MaxConcurrentSessions int          `koanf:"max_concurrent_sessions"`
	SessionTimeout       time.Duration `koanf:"session_timeout"`
	LogLevel             string        `koanf:"log_level"`
	Port                 int           `koanf:"port"`

	Pool       PoolConfig       `koanf:"pool"`
	Registry   RegistryConfig   `koanf:"registry"`
	Auth       AuthConfig       `koanf:"auth"`
	Artifacts  ArtifactsConfig  `koanf:"artifacts"`
	EventBus   EventBusConfig   `koanf:"event_bus"`
	AuditStore AuditStoreConfig `koanf:"audit_store"`
}

// Defaults mirrors the defaults the teacher's DynamicConfig.setDefaults
// hard-codes per subsystem.
func Defaults() ServerConfig {
	return ServerConfig{
		BrowserType:           "chromium-like",
		Headless:              true,
		MaxConcurrentSessions: 10,
		SessionTimeout:        30 * time.Second,
		LogLevel:              "info",
		Port:                  5000,
		Pool: PoolConfig{
			MinSize:             1,
			MaxSize:             10,
			IdleTimeout:         5 * time.Minute,
			MaxSessionAge:       2 * time.Hour,
			HealthCheckInterval: 30 * time.Second,
			PrewarmCount:        1,
			BorrowTimeout:       30 * time.Second,
			MaxConsecutiveError: 5,
			MaxUseCount:         1000,
			DriverKindDefault:   "chromium-like",
			Headless:            true,
		},
		Registry: RegistryConfig{
			ConcurrentSessionCap: 10,
		},
		Auth: AuthConfig{
			Enabled:                false,
			Providers:              []string{"api-key"},
			RequireSecureTransport: false,
		},
		Artifacts: ArtifactsConfig{
			Enabled: false,
			Region:  "us-east-1",
		},
		EventBus: EventBusConfig{
			Enabled: false,
			Topic:   "browsercontrol.tool-outcomes",
		},
		AuditStore: AuditStoreConfig{
			Enabled:    false,
			Database:   "browsercontrol",
			Collection: "session_history",
		},
	}
}

// Load layers defaults, an optional file at path (if non-empty and
// present), and the recognized environment-variable surface (spec §6),
// in that order.
func Load(path string) (*ServerConfig, error) {
	k := koanf.New(".")
	defaults := Defaults()

	defaultsMap := map[string]interface{}{
		"browser_type":            defaults.BrowserType,
		"headless":                defaults.Headless,
		"max_concurrent_sessions": defaults.MaxConcurrentSessions,
		"session_timeout":         defaults.SessionTimeout,
		"log_level":               defaults.LogLevel,
		"port":                    defaults.Port,
	}
	if err := k.Load(confmap.Provider(defaultsMap, "."), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("load config file %s: %w", path, err)
			}
		}
	}

	cfg := defaults
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv applies the closed recognized-env-var surface from spec §6.
// Unrecognized environment variables are never consulted.
func applyEnv(cfg *ServerConfig) {
	if v := os.Getenv("BROWSER_TYPE"); v != "" {
		cfg.BrowserType = v
		cfg.Pool.DriverKindDefault = v
	}
	if v := os.Getenv("HEADLESS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			cfg.Headless = b
			cfg.Pool.Headless = b
		}
	}
	if v := os.Getenv("MAX_CONCURRENT_SESSIONS"); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil && n > 0 {
			cfg.MaxConcurrentSessions = n
			cfg.Registry.ConcurrentSessionCap = n
		}
	}
	if v := os.Getenv("SESSION_TIMEOUT"); v != "" {
		ms, err := strconv.Atoi(v)
		if err == nil && ms > 0 {
			cfg.SessionTimeout = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv("PORT"); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			cfg.Port = n
		}
	}
}

// WatchPool watches the config file at path for changes and calls
// onChange with the freshly re-parsed PoolConfig every time the file is
// rewritten (spec §7's hot-reloadable PoolConfig). No-op if path is
// empty — hot reload only applies when a config file is in play at all.
// Uses koanf's file provider Watch, which is backed by fsnotify.
func WatchPool(path string, onChange func(PoolConfig)) error {
	if path == "" {
		return nil
	}

	provider := file.Provider(path)
	return provider.Watch(func(event interface{}, err error) {
		if err != nil {
			logging.Warn("config file watch error", zap.Error(err))
			return
		}

		k := koanf.New(".")
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			logging.Warn("config hot-reload: re-reading file failed", zap.Error(err))
			return
		}

		pool := Defaults().Pool
		if err := k.Unmarshal("pool", &pool); err != nil {
			logging.Warn("config hot-reload: unmarshaling pool section failed", zap.Error(err))
			return
		}

		logging.Info("pool configuration reloaded", zap.Int("minSize", pool.MinSize), zap.Int("maxSize", pool.MaxSize))
		onChange(pool)
	})
}

// RequiredEnvVars lists the env vars a startup probe checks for presence
// (spec §8: missing vars degrade startup, they never fail it outright).
var RequiredEnvVars = []string{"PORT"}

// MissingRequiredEnv reports which of RequiredEnvVars are unset.
func MissingRequiredEnv() []string {
	missing := make([]string, 0)
	for _, name := range RequiredEnvVars {
		if os.Getenv(name) == "" {
			missing = append(missing, name)
		}
	}
	return missing
}

// Validate checks the closed set of recognized values (spec §6).
func (c *ServerConfig) Validate() error {
	ve := apxerrors.ValidationErrs()

	if c.BrowserType != "chromium-like" && c.BrowserType != "firefox-like" {
		ve.Add("browser_type", "must be chromium-like or firefox-like")
	}
	if c.LogLevel != "error" && c.LogLevel != "warn" && c.LogLevel != "info" && c.LogLevel != "debug" {
		ve.Add("log_level", "must be one of error, warn, info, debug")
	}
	if c.Port < 1025 || c.Port > 65535 {
		ve.Add("port", "must be within 1025..65535")
	}
	if c.MaxConcurrentSessions <= 0 {
		ve.Add("max_concurrent_sessions", "must be positive")
	}
	if c.Pool.MinSize < 0 {
		ve.Add("pool.min_size", "cannot be negative")
	}
	if c.Pool.MaxSize <= 0 {
		ve.Add("pool.max_size", "must be positive")
	}
	if c.Pool.MinSize > c.Pool.MaxSize {
		ve.Add("pool.min_size", "cannot exceed pool.max_size")
	}
	if c.Pool.PrewarmCount > c.Pool.MaxSize {
		ve.Add("pool.prewarm_count", "cannot exceed pool.max_size")
	}
	if c.Pool.HealthCheckInterval < time.Second {
		ve.Add("pool.health_check_interval", "too short")
	}

	return ve.Err()
}
