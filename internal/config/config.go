// Package config loads service configuration from an optional YAML file, a .env file
// and environment variables, in increasing order of precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	DriverMongo  = "mongo"
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

// Realtime sources.
const (
	SourceStore        = "store"
	SourceChangeStream = "changestream"
)

// Config is the top-level service configuration.
type Config struct {
	Port      string          `yaml:"port"`
	AdminPort string          `yaml:"admin_port"`
	Store     StoreConfig     `yaml:"store"`
	JWT       JWTConfig       `yaml:"jwt"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	TLS       TLSConfig       `yaml:"tls"`
	Realtime  RealtimeConfig  `yaml:"realtime"`
	Messaging MessagingConfig `yaml:"messaging"`
	Log       LogConfig       `yaml:"log"`
}

// StoreConfig selects the persistence backend. For mongo, DSN is the connection URI.
type StoreConfig struct {
	Driver   string `yaml:"driver"`
	DSN      string `yaml:"dsn"`
	Database string `yaml:"database"`
}

// JWTConfig holds token signing keys. Keys uses the kid:secret,kid2:secret2 format and
// takes precedence over Secret.
type JWTConfig struct {
	Secret    string        `yaml:"secret"`
	Keys      string        `yaml:"keys"`
	ActiveKid string        `yaml:"active_kid"`
	TTL       time.Duration `yaml:"ttl"`
}

// RateLimitConfig limits Register, Login and SendMessage.
type RateLimitConfig struct {
	RPM   int `yaml:"rpm"`
	Burst int `yaml:"burst"`
}

// TLSConfig enables TLS on the gRPC listener.
type TLSConfig struct {
	Cert    string `yaml:"cert"`
	Key     string `yaml:"key"`
	Require bool   `yaml:"require"`
}

// RealtimeConfig selects where change events come from.
type RealtimeConfig struct {
	Source    string `yaml:"source"`
	QueueSize int    `yaml:"queue_size"`
}

// MessagingConfig tunes conversation and thread sessions.
type MessagingConfig struct {
	Timezone        string        `yaml:"timezone"`
	CallTimeout     time.Duration `yaml:"call_timeout"`
	ProfileCacheTTL time.Duration `yaml:"profile_cache_ttl"`
	OptimisticEcho  bool          `yaml:"optimistic_echo"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads .env from the working directory if present, then the YAML file at path
// (skipped when path is empty), then environment overrides.
func Load(path string) (*Config, error) {
	_ = godotenv.Load(".env")

	var data []byte
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		data = b
	}
	return Parse(data, os.LookupEnv)
}

// Parse unmarshals YAML bytes, applies overrides from lookup and returns a validated
// Config.
func Parse(data []byte, lookup func(string) (string, bool)) (*Config, error) {
	var cfg Config
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse: %w", err)
		}
	}
	if lookup != nil {
		if err := cfg.applyEnv(lookup); err != nil {
			return nil, err
		}
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("PORT", &c.Port)
	str("ADMIN_PORT", &c.AdminPort)
	str("STORE_DRIVER", &c.Store.Driver)
	str("STORE_DSN", &c.Store.DSN)
	str("JWT_SECRET", &c.JWT.Secret)
	str("JWT_KEYS", &c.JWT.Keys)
	str("JWT_ACTIVE_KID", &c.JWT.ActiveKid)
	str("TLS_CERT", &c.TLS.Cert)
	str("TLS_KEY", &c.TLS.Key)
	str("REALTIME_SOURCE", &c.Realtime.Source)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)

	// MONGODB_URI selects mongo unless another driver was chosen explicitly
	if v, ok := lookup("MONGODB_URI"); ok && v != "" {
		if c.Store.Driver == "" || c.Store.Driver == DriverMongo {
			c.Store.Driver = DriverMongo
			c.Store.DSN = v
		}
	}

	if v, ok := lookup("RATE_LIMIT_RPM"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: RATE_LIMIT_RPM: %w", err)
		}
		c.RateLimit.RPM = n
	}
	if v, ok := lookup("REQUIRE_TLS"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: REQUIRE_TLS: %w", err)
		}
		c.TLS.Require = b
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Port == "" {
		c.Port = "50051"
	}
	if c.AdminPort == "" {
		c.AdminPort = "9090"
	}
	if c.Store.Driver == "" {
		c.Store.Driver = DriverSQLite
	}
	if c.Store.DSN == "" && c.Store.Driver == DriverSQLite {
		c.Store.DSN = "nearchat.db"
	}
	if c.Store.Database == "" {
		c.Store.Database = "nearchat"
	}
	if c.JWT.TTL == 0 {
		c.JWT.TTL = 24 * time.Hour
	}
	if c.RateLimit.RPM == 0 {
		c.RateLimit.RPM = 10
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 3
	}
	if c.Realtime.Source == "" {
		c.Realtime.Source = SourceStore
	}
	if c.Realtime.QueueSize == 0 {
		c.Realtime.QueueSize = 16
	}
	if c.Messaging.Timezone == "" {
		c.Messaging.Timezone = "Local"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

func (c *Config) validate() error {
	var errs []string
	switch c.Store.Driver {
	case DriverMongo, DriverSQLite, DriverMySQL:
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not one of mongo, sqlite, mysql", c.Store.Driver))
	}
	if c.Store.DSN == "" {
		errs = append(errs, "store.dsn is required")
	}
	if c.JWT.Secret == "" && c.JWT.Keys == "" {
		errs = append(errs, "either jwt.secret or jwt.keys is required")
	}
	if c.JWT.Keys != "" && c.JWT.ActiveKid == "" {
		errs = append(errs, "jwt.active_kid is required with jwt.keys")
	}
	if c.JWT.TTL < 0 {
		errs = append(errs, "jwt.ttl must be positive")
	}
	if c.RateLimit.RPM < 0 || c.RateLimit.Burst < 0 {
		errs = append(errs, "rate_limit values must be positive")
	}
	if (c.TLS.Cert == "") != (c.TLS.Key == "") {
		errs = append(errs, "tls.cert and tls.key must be set together")
	}
	if c.TLS.Require && c.TLS.Cert == "" {
		errs = append(errs, "tls.require is set but tls.cert/tls.key are not configured")
	}
	switch c.Realtime.Source {
	case SourceStore:
	case SourceChangeStream:
		if c.Store.Driver != DriverMongo {
			errs = append(errs, "realtime.source changestream requires the mongo driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("realtime.source %q is not one of store, changestream", c.Realtime.Source))
	}
	if c.Realtime.QueueSize < 0 {
		errs = append(errs, "realtime.queue_size must be positive")
	}
	if _, err := time.LoadLocation(c.Messaging.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("messaging.timezone: %v", err))
	}
	if c.Messaging.CallTimeout < 0 || c.Messaging.ProfileCacheTTL < 0 {
		errs = append(errs, "messaging durations must not be negative")
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("log.format %q is not one of text, json", c.Log.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Location returns the configured display time zone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Messaging.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}
