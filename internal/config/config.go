package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"fieldsync/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App      AppConfig      `yaml:"app"`
	Logging  LoggingConfig  `yaml:"logging"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Remote   RemoteConfig   `yaml:"remote"`
	Sync     SyncConfig     `yaml:"sync"`
	Retry    RetryConfig    `yaml:"retry"`
	Merge    MergeConfig    `yaml:"merge"`
	API      APIConfig      `yaml:"api"`
	Exports  ExportConfig   `yaml:"exports"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// RemoteConfig describes the opaque HTTP collaborator holding the server
// copy of field notes.
type RemoteConfig struct {
	BaseURL        string  `yaml:"base_url"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	RPS            float64 `yaml:"rps"`
	Burst          int     `yaml:"burst"`
}

type SyncConfig struct {
	AutoSyncIntervalSeconds int `yaml:"auto_sync_interval_seconds"`
	ProbeIntervalSeconds    int `yaml:"probe_interval_seconds"`
}

type RetryConfig struct {
	MaxRetries  int `yaml:"max_retries"`
	BaseDelayMS int `yaml:"base_delay_ms"`
	MaxDelayMS  int `yaml:"max_delay_ms"`
}

type MergeConfig struct {
	Default          string            `yaml:"default"`
	FieldOverrides   map[string]string `yaml:"field_overrides"`
	ManualPreference string            `yaml:"manual_preference"`
}

type APIConfig struct {
	Enabled      bool               `yaml:"enabled"`
	Port         int                `yaml:"port"`
	HeaderAPIKey string             `yaml:"header_api_key"`
	Keys         []APIClientKey     `yaml:"keys"`
	RateLimit    APIRateLimitConfig `yaml:"rate_limit"`
}

type APIClientKey struct {
	Key  string `yaml:"key"`
	Name string `yaml:"name"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

// Load reads the YAML config at configPath, expanding ${VAR} references from
// the environment (a .env file is loaded first when present).
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load(".env")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}
	if c.Remote.BaseURL == "" {
		return errors.New("remote base_url is required")
	}
	if s := models.MergeStrategy(c.Merge.Default); !s.Valid() {
		return fmt.Errorf("invalid merge strategy %q", c.Merge.Default)
	}
	switch models.MergeStrategy(c.Merge.ManualPreference) {
	case models.MergeTimestamp, models.MergeClientWins, models.MergeServerWins:
	default:
		return fmt.Errorf("invalid manual preference %q", c.Merge.ManualPreference)
	}
	for field, raw := range c.Merge.FieldOverrides {
		if s := models.MergeStrategy(raw); !s.Valid() {
			return fmt.Errorf("invalid merge strategy %q for field %q", raw, field)
		}
	}
	if c.Retry.MaxRetries < 0 {
		return errors.New("retry max_retries must not be negative")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "fieldsync"
	}
	if c.Remote.TimeoutSeconds == 0 {
		c.Remote.TimeoutSeconds = 15
	}
	if c.Remote.RPS == 0 {
		c.Remote.RPS = 5
	}
	if c.Remote.Burst == 0 {
		c.Remote.Burst = 10
	}
	if c.Sync.AutoSyncIntervalSeconds == 0 {
		c.Sync.AutoSyncIntervalSeconds = 60
	}
	if c.Sync.ProbeIntervalSeconds == 0 {
		c.Sync.ProbeIntervalSeconds = 10
	}
	if c.Retry.MaxRetries == 0 {
		c.Retry.MaxRetries = 5
	}
	if c.Retry.BaseDelayMS == 0 {
		c.Retry.BaseDelayMS = 2000
	}
	if c.Retry.MaxDelayMS == 0 {
		c.Retry.MaxDelayMS = 60000
	}
	if c.Merge.Default == "" {
		c.Merge.Default = string(models.MergeTimestamp)
	}
	if c.Merge.ManualPreference == "" {
		c.Merge.ManualPreference = string(models.MergeServerWins)
	}
	if c.API.Enabled && c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.API.HeaderAPIKey == "" {
		c.API.HeaderAPIKey = "x-api-key"
	}
	if c.API.RateLimit.RPS == 0 {
		c.API.RateLimit.RPS = 10
	}
	if c.API.RateLimit.Burst == 0 {
		c.API.RateLimit.Burst = 20
	}
	if c.Exports.Path == "" {
		c.Exports.Path = "exports"
	}
}

// RetryStrategy converts the config block to the runtime strategy.
func (c *Config) RetryStrategy() models.RetryStrategy {
	return models.RetryStrategy{
		MaxRetries: c.Retry.MaxRetries,
		BaseDelay:  time.Duration(c.Retry.BaseDelayMS) * time.Millisecond,
		MaxDelay:   time.Duration(c.Retry.MaxDelayMS) * time.Millisecond,
	}
}

// MergeSettings converts the config block to runtime merge settings.
func (c *Config) MergeSettings() models.MergeSettings {
	settings := models.MergeSettings{
		Default:          models.MergeStrategy(c.Merge.Default),
		ManualPreference: models.MergeStrategy(c.Merge.ManualPreference),
	}
	if len(c.Merge.FieldOverrides) > 0 {
		settings.FieldOverrides = make(map[string]models.MergeStrategy, len(c.Merge.FieldOverrides))
		for field, raw := range c.Merge.FieldOverrides {
			settings.FieldOverrides[field] = models.MergeStrategy(raw)
		}
	}
	return settings
}
