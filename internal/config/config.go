// Package config loads regsync configuration from a TOML file and
// REGSYNC_ environment variables.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	toml "github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/roach88/regsync/internal/backoff"
	"github.com/roach88/regsync/internal/identity"
)

// EnvPrefix is the prefix for environment variables that override the file.
const EnvPrefix = "REGSYNC_"

// Storage backends.
const (
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
)

// Config is the complete regsync configuration.
type Config struct {
	Database     DatabaseConfig     `koanf:"database"`
	Directory    DirectoryConfig    `koanf:"directory"`
	Device       DeviceConfig       `koanf:"device"`
	Platform     PlatformConfig     `koanf:"platform"`
	Registration RegistrationConfig `koanf:"registration"`
	Backoff      BackoffConfig      `koanf:"backoff"`
	Scheduler    SchedulerConfig    `koanf:"scheduler"`
	Admin        AdminConfig        `koanf:"admin"`
	Logging      LoggingConfig      `koanf:"logging"`
}

// DatabaseConfig selects where identity state and scheduled tasks live.
type DatabaseConfig struct {
	// Backend is "sqlite" (default) or "badger".
	Backend string `koanf:"backend"`
	// Path is the SQLite file or the Badger directory.
	Path string `koanf:"path"`
}

// DirectoryConfig holds the remote directory API connection settings.
type DirectoryConfig struct {
	BaseURL   string        `koanf:"base_url"`
	AppKey    string        `koanf:"app_key"`
	AppSecret string        `koanf:"app_secret"`
	UserAgent string        `koanf:"user_agent"`
	Timeout   time.Duration `koanf:"timeout"`
}

// DeviceConfig describes this installation.
type DeviceConfig struct {
	// Type is the channel device type, e.g. "android" or "amazon".
	Type       string `koanf:"type"`
	AppVersion string `koanf:"app_version"`
	DeviceID   string `koanf:"device_id"`

	// Channel settings written to the store at start-up and sent with
	// every registration.
	OptIn             bool     `koanf:"opt_in"`
	BackgroundEnabled bool     `koanf:"background_enabled"`
	Alias             string   `koanf:"alias"`
	SetTags           bool     `koanf:"set_tags"`
	Tags              []string `koanf:"tags"`
	Timezone          string   `koanf:"timezone"`
	Locale            string   `koanf:"locale"`
	Country           string   `koanf:"country"`
}

// PlatformConfig controls platform token registration.
type PlatformConfig struct {
	Enabled           bool     `koanf:"enabled"`
	Transport         string   `koanf:"transport"`
	AllowedTransports []string `koanf:"allowed_transports"`
	SenderIDs         []string `koanf:"sender_ids"`
	// Token is handed out by the built-in static registrar. Empty means
	// platform registration is unavailable on this host.
	Token string `koanf:"token"`
}

// RegistrationConfig tunes channel registration.
type RegistrationConfig struct {
	ClearNamedUserOnReinstall bool          `koanf:"clear_named_user_on_reinstall"`
	Interval                  time.Duration `koanf:"interval"`
}

// BackoffConfig bounds retry delays.
type BackoffConfig struct {
	Min time.Duration `koanf:"min"`
	Max time.Duration `koanf:"max"`
}

// SchedulerConfig tunes the task loop.
type SchedulerConfig struct {
	PollInterval     time.Duration `koanf:"poll_interval"`
	KeepaliveTimeout time.Duration `koanf:"keepalive_timeout"`
}

// AdminConfig holds the local admin HTTP server settings.
type AdminConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level can be "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format can be "text" or "json".
	Format string `koanf:"format"`
}

// Load loads configuration from file, environment variables, and defaults.
// Priority: environment variables > config file > defaults.
//
// Durations accept Go duration strings ("10s", "24h"). Lists given through
// the environment are comma separated.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	k := koanf.New(".")

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// Double underscores (__) preserve literal underscores in field names:
	// REGSYNC_DIRECTORY_BASE__URL sets directory.base_url.
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		DecoderConfig: &mapstructure.DecoderConfig{
			TagName:          "koanf",
			WeaklyTypedInput: true,
			Result:           cfg,
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
		},
	}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "__", "%UNDERSCORE%")
	s = strings.ReplaceAll(s, "_", ".")
	return strings.ReplaceAll(s, "%UNDERSCORE%", "_")
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Backend: BackendSQLite,
			Path:    "regsync.db",
		},
		Directory: DirectoryConfig{
			UserAgent: "regsync",
			Timeout:   30 * time.Second,
		},
		Device: DeviceConfig{
			Type: "android",
		},
		Platform: PlatformConfig{
			Transport: "fcm",
		},
		Registration: RegistrationConfig{
			Interval: 24 * time.Hour,
		},
		Backoff: BackoffConfig{
			Min: backoff.DefaultMin,
			Max: backoff.DefaultMax,
		},
		Scheduler: SchedulerConfig{
			PollInterval:     5 * time.Second,
			KeepaliveTimeout: 60 * time.Second,
		},
		Admin: AdminConfig{
			Addr: "127.0.0.1:8089",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	switch c.Database.Backend {
	case BackendSQLite, BackendBadger:
	default:
		return fmt.Errorf("database.backend must be %q or %q, got: %q", BackendSQLite, BackendBadger, c.Database.Backend)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Directory.BaseURL != "" {
		u, err := url.Parse(c.Directory.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid directory.base_url: %q", c.Directory.BaseURL)
		}
	}
	if c.Directory.Timeout <= 0 {
		return fmt.Errorf("directory.timeout must be positive, got: %s", c.Directory.Timeout)
	}

	if c.Device.Type == "" {
		return fmt.Errorf("device.type is required")
	}

	if c.Platform.Enabled && len(c.Platform.AllowedTransports) > 0 &&
		!slices.Contains(c.Platform.AllowedTransports, c.Platform.Transport) {
		slog.Warn("platform transport not in allowed_transports, platform registration disabled",
			"transport", c.Platform.Transport, "allowed", c.Platform.AllowedTransports)
	}

	if c.Registration.Interval <= 0 {
		return fmt.Errorf("registration.interval must be positive, got: %s", c.Registration.Interval)
	}

	if err := c.BackoffPolicy().Validate(); err != nil {
		return fmt.Errorf("backoff: %w", err)
	}

	if c.Scheduler.PollInterval <= 0 {
		return fmt.Errorf("scheduler.poll_interval must be positive, got: %s", c.Scheduler.PollInterval)
	}
	if c.Scheduler.KeepaliveTimeout <= 0 {
		return fmt.Errorf("scheduler.keepalive_timeout must be positive, got: %s", c.Scheduler.KeepaliveTimeout)
	}

	if c.Admin.Enabled && c.Admin.Addr == "" {
		return fmt.Errorf("admin.addr is required when admin is enabled")
	}

	if _, err := parseLevel(c.Logging.Level); err != nil {
		return err
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be 'text' or 'json', got: %s", c.Logging.Format)
	}
	return nil
}

// BackoffPolicy returns the configured retry policy.
func (c *Config) BackoffPolicy() backoff.Policy {
	return backoff.Policy{Min: c.Backoff.Min, Max: c.Backoff.Max}
}

// DeviceSettings returns the channel settings from the device section.
func (c *Config) DeviceSettings() identity.Settings {
	return identity.Settings{
		OptIn:             c.Device.OptIn,
		BackgroundEnabled: c.Device.BackgroundEnabled,
		Alias:             c.Device.Alias,
		SetTags:           c.Device.SetTags,
		Tags:              slices.Clone(c.Device.Tags),
		Timezone:          c.Device.Timezone,
		Locale:            c.Device.Locale,
		Country:           c.Device.Country,
	}
}

// LogLevel returns the configured slog level.
func (c *Config) LogLevel() slog.Level {
	level, _ := parseLevel(c.Logging.Level)
	return level
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("logging.level must be debug, info, warn or error, got: %s", s)
}
