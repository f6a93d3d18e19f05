package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"anonchat/internal/cron"
	"anonchat/internal/logger"
)

// Config holds all application configuration
type Config struct {
	ConfigPath   string         `mapstructure:"-" yaml:"-"`
	Server       ServerConfig   `mapstructure:"server" yaml:"server"`
	Chat         ChatConfig     `mapstructure:"chat" yaml:"chat"`
	Presence     PresenceConfig `mapstructure:"presence" yaml:"presence"`
	Render       RenderConfig   `mapstructure:"render" yaml:"render"`
	Cleanup      CleanupConfig  `mapstructure:"cleanup" yaml:"cleanup"`
	StoragePath  string         `mapstructure:"storage_path" yaml:"storage_path"`
	IdentityPath string         `mapstructure:"identity_path" yaml:"identity_path"`
	LogLevel     string         `mapstructure:"log_level" yaml:"log_level"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	PublicURL       string        `mapstructure:"public_url" yaml:"public_url"` // Base for relative URLs in messages
	SecureCookies   bool          `mapstructure:"secure_cookies" yaml:"secure_cookies"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	GatePath        string        `mapstructure:"gate_path" yaml:"gate_path"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// ChatConfig holds message limits
type ChatConfig struct {
	MaxLength    int           `mapstructure:"max_length" yaml:"max_length"`
	RateLimit    int           `mapstructure:"rate_limit" yaml:"rate_limit"` // Messages per rate_window
	RateWindow   time.Duration `mapstructure:"rate_window" yaml:"rate_window"`
	PageSize     int           `mapstructure:"page_size" yaml:"page_size"`
	PinnedLimit  int           `mapstructure:"pinned_limit" yaml:"pinned_limit"`
	SendAttempts int           `mapstructure:"send_attempts" yaml:"send_attempts"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff" yaml:"retry_backoff"`
}

// PresenceConfig holds online tracking configuration
type PresenceConfig struct {
	OnlineWindow      time.Duration `mapstructure:"online_window" yaml:"online_window"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval"`
}

// RenderConfig holds sanitizer and URL probing configuration
type RenderConfig struct {
	MaxURLLength     int           `mapstructure:"max_url_length" yaml:"max_url_length"`
	ProbeTimeout     time.Duration `mapstructure:"probe_timeout" yaml:"probe_timeout"`
	ProbeConcurrency int           `mapstructure:"probe_concurrency" yaml:"probe_concurrency"`
	AllowPrivate     bool          `mapstructure:"allow_private" yaml:"allow_private"` // Probe loopback and private addresses
	CacheTTL         time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"`
	CacheSize        int           `mapstructure:"cache_size" yaml:"cache_size"`
	ConfirmTimeout   time.Duration `mapstructure:"confirm_timeout" yaml:"confirm_timeout"`
	SessionIdle      time.Duration `mapstructure:"session_idle" yaml:"session_idle"`
}

// CleanupConfig holds retention configuration
type CleanupConfig struct {
	Schedule        string `mapstructure:"schedule" yaml:"schedule"`
	RetentionDays   int    `mapstructure:"retention_days" yaml:"retention_days"`
	InactiveDays    int    `mapstructure:"inactive_days" yaml:"inactive_days"`
	IdempotencyDays int    `mapstructure:"idempotency_days" yaml:"idempotency_days"`
}

// DefaultDir returns ~/.anonchat
func DefaultDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".anonchat"), nil
}

// DefaultPath returns the config file Load uses when none exists yet.
func DefaultPath() (string, error) {
	dir, err := DefaultDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func newViper() *viper.Viper {
	v := viper.New()

	// Set defaults
	v.SetDefault("log_level", "info")
	v.SetDefault("storage_path", "~/.anonchat/anonchat.db")
	v.SetDefault("identity_path", "~/.anonchat/identity")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.public_url", "http://localhost:8080/")
	v.SetDefault("server.secure_cookies", false)
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.gate_path", "/leave")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("chat.max_length", 1000)
	v.SetDefault("chat.rate_limit", 30)
	v.SetDefault("chat.rate_window", time.Minute)
	v.SetDefault("chat.page_size", 30)
	v.SetDefault("chat.pinned_limit", 5)
	v.SetDefault("chat.send_attempts", 3)
	v.SetDefault("chat.retry_backoff", 200*time.Millisecond)
	v.SetDefault("presence.online_window", 60*time.Second)
	v.SetDefault("presence.heartbeat_interval", 30*time.Second)
	v.SetDefault("render.max_url_length", 200)
	v.SetDefault("render.probe_timeout", 5*time.Second)
	v.SetDefault("render.probe_concurrency", 4)
	v.SetDefault("render.allow_private", false)
	v.SetDefault("render.cache_ttl", time.Hour)
	v.SetDefault("render.cache_size", 1024)
	v.SetDefault("render.confirm_timeout", 60*time.Second)
	v.SetDefault("render.session_idle", 30*time.Minute)
	v.SetDefault("cleanup.schedule", cron.DefaultSchedule)
	v.SetDefault("cleanup.retention_days", 6)
	v.SetDefault("cleanup.inactive_days", 30)
	v.SetDefault("cleanup.idempotency_days", 1)

	// Environment variable prefix
	v.SetEnvPrefix("ANONCHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// loadDotEnv loads .env from the working directory and the config
// directory. Missing files are ignored; variables already set win.
func loadDotEnv(configDir string) {
	for _, path := range []string{".env", filepath.Join(configDir, ".env")} {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warnf("config: %s: %v", path, err)
		}
	}
}

func decode(v *viper.Viper, configPath string) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Expand paths
	cfg.StoragePath = expandPath(cfg.StoragePath)
	cfg.IdentityPath = expandPath(cfg.IdentityPath)
	cfg.ConfigPath = configPath
	return &cfg, nil
}

// Load reads configuration from ~/.anonchat and the environment
func Load() (*Config, error) {
	configDir, err := DefaultDir()
	if err != nil {
		return nil, err
	}
	loadDotEnv(configDir)
	v := newViper()

	configFile := filepath.Join(configDir, "config")

	// Check if config exists
	if _, err := os.Stat(configFile + ".yaml"); err == nil {
		v.SetConfigFile(configFile + ".yaml")
	} else if _, err := os.Stat(configFile + ".yml"); err == nil {
		v.SetConfigFile(configFile + ".yml")
	} else if _, err := os.Stat(configFile + ".json"); err == nil {
		v.SetConfigFile(configFile + ".json")
	}

	// Read config if it exists
	if v.ConfigFileUsed() != "" {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	return decode(v, v.ConfigFileUsed())
}

// LoadFrom reads configuration from a specific file path
func LoadFrom(configPath string) (*Config, error) {
	loadDotEnv(filepath.Dir(configPath))
	v := newViper()

	// Load from specific config file
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	return decode(v, configPath)
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg, err := decode(newViper(), "")
	if err != nil {
		// Defaults always decode.
		panic(err)
	}
	return cfg
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.StoragePath == "" {
		return fmt.Errorf("storage_path is required")
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level: %w", err)
	}

	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if u, err := url.Parse(c.Server.PublicURL); err != nil || !u.IsAbs() {
		return fmt.Errorf("server.public_url must be an absolute URL, got %q", c.Server.PublicURL)
	}
	if !strings.HasPrefix(c.Server.GatePath, "/") {
		return fmt.Errorf("server.gate_path must start with /, got %q", c.Server.GatePath)
	}

	positive := []struct {
		name  string
		value int64
	}{
		{"chat.max_length", int64(c.Chat.MaxLength)},
		{"chat.rate_limit", int64(c.Chat.RateLimit)},
		{"chat.rate_window", int64(c.Chat.RateWindow)},
		{"chat.page_size", int64(c.Chat.PageSize)},
		{"chat.send_attempts", int64(c.Chat.SendAttempts)},
		{"presence.online_window", int64(c.Presence.OnlineWindow)},
		{"render.max_url_length", int64(c.Render.MaxURLLength)},
		{"render.probe_timeout", int64(c.Render.ProbeTimeout)},
		{"cleanup.retention_days", int64(c.Cleanup.RetentionDays)},
		{"cleanup.inactive_days", int64(c.Cleanup.InactiveDays)},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("%s must be positive", p.name)
		}
	}

	if err := cron.ValidateExpression(c.Cleanup.Schedule); err != nil {
		return fmt.Errorf("cleanup.schedule: %w", err)
	}
	return nil
}

// Save writes the current configuration to file
func (c *Config) Save() error {
	if c.ConfigPath == "" {
		return fmt.Errorf("config path not set")
	}
	if err := os.MkdirAll(filepath.Dir(c.ConfigPath), 0o700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(c.ConfigPath)

	// Set values
	v.Set("server.addr", c.Server.Addr)
	v.Set("server.public_url", c.Server.PublicURL)
	v.Set("server.secure_cookies", c.Server.SecureCookies)
	v.Set("server.allowed_origins", c.Server.AllowedOrigins)
	v.Set("server.gate_path", c.Server.GatePath)
	v.Set("server.read_timeout", c.Server.ReadTimeout.String())
	v.Set("server.write_timeout", c.Server.WriteTimeout.String())
	v.Set("server.shutdown_timeout", c.Server.ShutdownTimeout.String())
	v.Set("chat.max_length", c.Chat.MaxLength)
	v.Set("chat.rate_limit", c.Chat.RateLimit)
	v.Set("chat.rate_window", c.Chat.RateWindow.String())
	v.Set("chat.page_size", c.Chat.PageSize)
	v.Set("chat.pinned_limit", c.Chat.PinnedLimit)
	v.Set("chat.send_attempts", c.Chat.SendAttempts)
	v.Set("chat.retry_backoff", c.Chat.RetryBackoff.String())
	v.Set("presence.online_window", c.Presence.OnlineWindow.String())
	v.Set("presence.heartbeat_interval", c.Presence.HeartbeatInterval.String())
	v.Set("render.max_url_length", c.Render.MaxURLLength)
	v.Set("render.probe_timeout", c.Render.ProbeTimeout.String())
	v.Set("render.probe_concurrency", c.Render.ProbeConcurrency)
	v.Set("render.allow_private", c.Render.AllowPrivate)
	v.Set("render.cache_ttl", c.Render.CacheTTL.String())
	v.Set("render.cache_size", c.Render.CacheSize)
	v.Set("render.confirm_timeout", c.Render.ConfirmTimeout.String())
	v.Set("render.session_idle", c.Render.SessionIdle.String())
	v.Set("cleanup.schedule", c.Cleanup.Schedule)
	v.Set("cleanup.retention_days", c.Cleanup.RetentionDays)
	v.Set("cleanup.inactive_days", c.Cleanup.InactiveDays)
	v.Set("cleanup.idempotency_days", c.Cleanup.IdempotencyDays)
	v.Set("storage_path", c.StoragePath)
	v.Set("identity_path", c.IdentityPath)
	v.Set("log_level", c.LogLevel)

	return v.WriteConfig()
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}
	return path
}
