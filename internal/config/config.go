package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	// EnvPrefix namespaces every environment variable the CLI reads.
	EnvPrefix = "COREIDENTITY"
	// DefaultEnvFile is loaded when present and no other env file is named.
	DefaultEnvFile = ".env"
)

// Config holds the CLI configuration loaded from an env file and environment variables.
type Config struct {
	AppName  string `mapstructure:"app_name"`
	LogLevel string `mapstructure:"log_level"`

	APIKey             string        `mapstructure:"api_key"`
	BaseURL            string        `mapstructure:"base_url"`
	HTTPTimeoutSeconds int64         `mapstructure:"http_timeout_seconds"`
	HTTPTimeout        time.Duration `mapstructure:"-"`

	WaitTimeoutSeconds  int64         `mapstructure:"wait_timeout_seconds"`
	PollIntervalSeconds int64         `mapstructure:"poll_interval_seconds"`
	WaitTimeout         time.Duration `mapstructure:"-"`
	PollInterval        time.Duration `mapstructure:"-"`

	StorageType            string        `mapstructure:"storage_type"`
	BBoltPath              string        `mapstructure:"bbolt_path"`
	StorageTTLSeconds      int64         `mapstructure:"storage_ttl_seconds"`
	StorageCleanupSeconds  int64         `mapstructure:"storage_cleanup_interval_seconds"`
	StorageTTL             time.Duration `mapstructure:"-"`
	StorageCleanupInterval time.Duration `mapstructure:"-"`

	NotifiersFile string `mapstructure:"notifiers_file"`
}

// Load reads configuration from an env file and the environment. An empty
// envFile means DefaultEnvFile, which may be absent; a named file must exist.
// Variables already set in the environment win over the env file.
func Load(envFile string) (*Config, error) {
	if envFile = strings.TrimSpace(envFile); envFile == "" {
		if err := godotenv.Load(DefaultEnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load env file %s: %w", DefaultEnvFile, err)
		}
	} else if err := godotenv.Load(envFile); err != nil {
		return nil, fmt.Errorf("load env file %s: %w", envFile, err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)

	v.SetDefault("app_name", "coreidentity")
	v.SetDefault("log_level", "info")
	v.SetDefault("api_key", "")
	v.SetDefault("base_url", "https://api.coreidentity.ai")
	v.SetDefault("http_timeout_seconds", 30)
	v.SetDefault("wait_timeout_seconds", 300)
	v.SetDefault("poll_interval_seconds", 2)
	v.SetDefault("storage_type", "bbolt")
	v.SetDefault("bbolt_path", "./data/tasks.db")
	v.SetDefault("storage_ttl_seconds", int64((30*24*time.Hour)/time.Second))
	v.SetDefault("storage_cleanup_interval_seconds", int64((12*time.Hour)/time.Second))
	v.SetDefault("notifiers_file", "")

	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("invalid base_url (must not be empty)")
	}
	if cfg.HTTPTimeoutSeconds <= 0 {
		return nil, fmt.Errorf("invalid http_timeout_seconds (must be positive seconds)")
	}
	if cfg.WaitTimeoutSeconds < 0 {
		return nil, fmt.Errorf("invalid wait_timeout_seconds (must not be negative)")
	}
	if cfg.PollIntervalSeconds <= 0 {
		return nil, fmt.Errorf("invalid poll_interval_seconds (must be positive seconds)")
	}
	cfg.HTTPTimeout = time.Duration(cfg.HTTPTimeoutSeconds) * time.Second
	cfg.WaitTimeout = time.Duration(cfg.WaitTimeoutSeconds) * time.Second
	cfg.PollInterval = time.Duration(cfg.PollIntervalSeconds) * time.Second

	if cfg.StorageTTLSeconds <= 0 {
		return nil, fmt.Errorf("invalid storage_ttl_seconds (must be positive seconds)")
	}
	if cfg.StorageCleanupSeconds <= 0 {
		return nil, fmt.Errorf("invalid storage_cleanup_interval_seconds (must be positive seconds)")
	}
	cfg.StorageTTL = time.Duration(cfg.StorageTTLSeconds) * time.Second
	cfg.StorageCleanupInterval = time.Duration(cfg.StorageCleanupSeconds) * time.Second

	return &cfg, nil
}

// Redacted returns a copy safe to log.
func (c Config) Redacted() Config {
	if c.APIKey != "" {
		c.APIKey = redactSecret(c.APIKey)
	}
	return c
}

func redactSecret(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + "****" + s[len(s)-2:]
}
