package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"tripline/internal/oracle"
)

// Environment variables that override secrets from the YAML file.
const (
	EnvOracleAPIKey  = "TRIPLINE_ORACLE_API_KEY"
	EnvDatabaseDSN   = "TRIPLINE_DATABASE_DSN"
	EnvRedisPassword = "TRIPLINE_REDIS_PASSWORD"
)

// Oracle providers.
const (
	ProviderGoogle = "google"
	ProviderStatic = "static"
)

// OracleConfig selects and tunes the travel-time provider.
type OracleConfig struct {
	// Provider is "google" (Distance Matrix) or "static" (Routes table).
	Provider string `yaml:"provider" json:"provider"`
	BaseURL  string `yaml:"base_url" json:"base_url"`
	// APIKey is usually supplied via TRIPLINE_ORACLE_API_KEY instead.
	APIKey   string `yaml:"api_key,omitempty" json:"-"`
	Mode     string `yaml:"mode" json:"mode"`
	Language string `yaml:"language" json:"language"`
	// Timeout bounds one lookup (e.g. "10s").
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
	// Concurrency caps parallel lookups per rendered day.
	Concurrency int                  `yaml:"concurrency" json:"concurrency"`
	Routes      []oracle.StaticRoute `yaml:"routes,omitempty" json:"routes,omitempty"`
}

// CacheConfig enables the shared Redis cache. Empty RedisAddr disables it.
type CacheConfig struct {
	RedisAddr     string        `yaml:"redis_addr" json:"redis_addr"`
	RedisPassword string        `yaml:"redis_password,omitempty" json:"-"`
	RedisDB       int           `yaml:"redis_db" json:"redis_db"`
	TTL           time.Duration `yaml:"ttl" json:"ttl"`
}

// DatabaseConfig selects Postgres storage. Empty DSN keeps events in memory.
type DatabaseConfig struct {
	DSN string `yaml:"dsn,omitempty" json:"-"`
}

// AuditConfig drives the periodic consistency audit.
type AuditConfig struct {
	// Cron is a standard 5-field schedule. Empty disables the audit.
	Cron   string   `yaml:"cron" json:"cron"`
	Groups []string `yaml:"groups" json:"groups"`
	// HorizonDays limits the audit to today and the next N-1 days.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`
}

// FeedConfig is a remote calendar imported into a group before each audit.
type FeedConfig struct {
	ID    string `yaml:"id" json:"id"`
	Group string `yaml:"group" json:"group"`
	// URL often embeds an access token; it is never logged in full.
	URL string `yaml:"url" json:"url"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone itinerary clocks are interpreted in when
	// exporting calendars (e.g. "America/Sao_Paulo").
	Timezone string `yaml:"timezone" json:"timezone"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	Oracle   OracleConfig   `yaml:"oracle" json:"oracle"`
	Cache    CacheConfig    `yaml:"cache" json:"cache"`
	Database DatabaseConfig `yaml:"database" json:"database"`
	Audit    AuditConfig    `yaml:"audit" json:"audit"`

	// Feeds are imported on every audit run; FeedCacheDir keeps the last
	// good body of each.
	Feeds        []FeedConfig `yaml:"feeds" json:"feeds"`
	FeedCacheDir string       `yaml:"feed_cache_dir" json:"feed_cache_dir"`

	// SessionPath is where editing state and the travel-time memo are kept
	// between runs. Empty disables persistence.
	SessionPath string `yaml:"session_path" json:"session_path"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	c := &Config{}
	c.Normalize()
	return c
}

// Normalize fills in missing/zero values so partially-filled configs still
// behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.Timezone == "" {
		c.Timezone = "America/Sao_Paulo"
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
		c.LogLevel = strings.ToLower(c.LogLevel)
	default:
		c.LogLevel = "info"
	}

	switch c.Oracle.Provider {
	case ProviderGoogle, ProviderStatic:
	default:
		c.Oracle.Provider = ProviderStatic
	}
	if c.Oracle.BaseURL == "" {
		c.Oracle.BaseURL = "https://maps.googleapis.com"
	}
	if c.Oracle.Mode == "" {
		c.Oracle.Mode = "driving"
	}
	if c.Oracle.Language == "" {
		c.Oracle.Language = "pt-BR"
	}
	if c.Oracle.Timeout <= 0 {
		c.Oracle.Timeout = 10 * time.Second
	}
	if c.Oracle.Concurrency <= 0 {
		c.Oracle.Concurrency = 8
	}

	if c.Cache.TTL <= 0 {
		c.Cache.TTL = 24 * time.Hour
	}

	if c.Audit.HorizonDays <= 0 {
		c.Audit.HorizonDays = 7
	}
	if c.Audit.Groups == nil {
		c.Audit.Groups = []string{}
	}
	if c.Feeds == nil {
		c.Feeds = []FeedConfig{}
	}
	if c.FeedCacheDir == "" {
		c.FeedCacheDir = "./var/feed-cache"
	}
}

// ApplyEnv loads envFile (if present) into the process environment and
// lets the secret variables override the file. A missing envFile is not an
// error.
func (c *Config) ApplyEnv(envFile string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	if v := os.Getenv(EnvOracleAPIKey); v != "" {
		c.Oracle.APIKey = v
	}
	if v := os.Getenv(EnvDatabaseDSN); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv(EnvRedisPassword); v != "" {
		c.Cache.RedisPassword = v
	}
	return nil
}

// Location resolves Timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms and returned.
//   - Otherwise the YAML is read and defaults are filled in.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes cfg to path atomically via a temp file + rename, with 0600
// perms on the result. Call it before ApplyEnv so environment secrets are
// not written to disk.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".tripline-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func (c *Config) Save(path string) error {
	return Save(path, c)
}
