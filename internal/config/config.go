package config

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // Asia/Seoul must resolve on hosts without zoneinfo

	"github.com/spf13/viper"

	"github.com/rewired-gh/crowdcast/internal/models"
	"github.com/rewired-gh/crowdcast/internal/registry"
)

// Config represents the complete application configuration
type Config struct {
	Storage    StorageConfig            `mapstructure:"storage"`
	Batch      BatchConfig              `mapstructure:"batch"`
	Places     []models.LocationProfile `mapstructure:"places"`
	PlacesFile string                   `mapstructure:"places_file"`
	Publish    PublishConfig            `mapstructure:"publish"`
	Telegram   TelegramConfig           `mapstructure:"telegram"`
	Metrics    MetricsConfig            `mapstructure:"metrics"`
	Logging    LoggingConfig            `mapstructure:"logging"`
}

// StorageConfig selects where forecasts are read and labels are written
type StorageConfig struct {
	Driver      string `mapstructure:"driver"` // json, sqlite or postgres
	InputDir    string `mapstructure:"input_dir"`
	OutputDir   string `mapstructure:"output_dir"`
	LabelStyle  string `mapstructure:"label_style"` // en or ko, json driver only
	SQLitePath  string `mapstructure:"sqlite_path"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
}

// BatchConfig holds batch scheduling configuration
type BatchConfig struct {
	Concurrency int           `mapstructure:"concurrency"`
	Timezone    string        `mapstructure:"timezone"`
	HorizonDays int           `mapstructure:"horizon_days"`
	Interval    time.Duration `mapstructure:"interval"`
	Locations   []string      `mapstructure:"locations"` // empty means every configured place
}

// PublishConfig holds real-time publication configuration
type PublishConfig struct {
	Redis RedisConfig `mapstructure:"redis"`
	MQTT  MQTTConfig  `mapstructure:"mqtt"`
}

// RedisConfig holds Redis pub/sub configuration
type RedisConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	URL       string        `mapstructure:"url"`
	Channel   string        `mapstructure:"channel"`
	KeyPrefix string        `mapstructure:"key_prefix"`
	TTL       time.Duration `mapstructure:"ttl"`
}

// MQTTConfig holds MQTT broker configuration
type MQTTConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Broker      string        `mapstructure:"broker"`
	ClientID    string        `mapstructure:"client_id"`
	TopicPrefix string        `mapstructure:"topic_prefix"`
	QoS         int           `mapstructure:"qos"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	Summary        bool          `mapstructure:"summary"` // send a message after every batch
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// MetricsConfig holds the Prometheus endpoint configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables.
// An empty path uses defaults and environment variables only.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Enable environment variable override, e.g. CROWDCAST_STORAGE_DRIVER
	v.SetEnvPrefix("CROWDCAST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Unmarshal into Config struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Storage defaults
	v.SetDefault("storage.driver", "json")
	v.SetDefault("storage.input_dir", "./data/forecast")
	v.SetDefault("storage.output_dir", "./data/congestion")
	v.SetDefault("storage.label_style", "ko")
	v.SetDefault("storage.sqlite_path", "./data/crowdcast.db")
	v.SetDefault("storage.postgres_dsn", "")
	v.SetDefault("places_file", "")

	// Batch defaults
	v.SetDefault("batch.concurrency", 4)
	v.SetDefault("batch.timezone", "Asia/Seoul")
	v.SetDefault("batch.horizon_days", 7)
	v.SetDefault("batch.interval", "24h")

	// Publish defaults
	v.SetDefault("publish.redis.enabled", false)
	v.SetDefault("publish.mqtt.enabled", false)
	v.SetDefault("publish.mqtt.client_id", "")
	v.SetDefault("publish.redis.url", "redis://localhost:6379/0")
	v.SetDefault("publish.redis.channel", "crowdcast:congestion")
	v.SetDefault("publish.redis.key_prefix", "crowdcast:congestion")
	v.SetDefault("publish.redis.ttl", "48h")
	v.SetDefault("publish.mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("publish.mqtt.topic_prefix", "crowdcast/congestion")
	v.SetDefault("publish.mqtt.qos", 1)
	v.SetDefault("publish.mqtt.timeout", "10s")

	// Telegram defaults
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.summary", true)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	// Metrics defaults
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9090")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate Storage config
	switch c.Storage.Driver {
	case "json":
		if c.Storage.InputDir == "" {
			return fmt.Errorf("storage.input_dir is required for the json driver")
		}
		if c.Storage.OutputDir == "" {
			return fmt.Errorf("storage.output_dir is required for the json driver")
		}
		if c.Storage.LabelStyle != "" && c.Storage.LabelStyle != "en" && c.Storage.LabelStyle != "ko" {
			return fmt.Errorf("storage.label_style must be one of: en, ko")
		}
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("storage.sqlite_path is required for the sqlite driver")
		}
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage.postgres_dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("storage.driver must be one of: json, sqlite, postgres")
	}

	// Validate Batch config
	if c.Batch.Concurrency < 1 {
		return fmt.Errorf("batch.concurrency must be at least 1")
	}
	if c.Batch.HorizonDays < 1 || c.Batch.HorizonDays > 31 {
		return fmt.Errorf("batch.horizon_days must be between 1 and 31")
	}
	if c.Batch.Interval < 1*time.Minute {
		return fmt.Errorf("batch.interval must be at least 1 minute")
	}
	if _, err := time.LoadLocation(c.Batch.Timezone); err != nil {
		return fmt.Errorf("batch.timezone %q is not a known time zone", c.Batch.Timezone)
	}

	// Validate Places config
	if len(c.Places) > 0 && c.PlacesFile != "" {
		return fmt.Errorf("places and places_file are mutually exclusive")
	}

	// Validate Publish config
	if c.Publish.Redis.Enabled && c.Publish.Redis.URL == "" {
		return fmt.Errorf("publish.redis.url is required when redis is enabled")
	}
	if c.Publish.MQTT.Enabled {
		if c.Publish.MQTT.Broker == "" {
			return fmt.Errorf("publish.mqtt.broker is required when mqtt is enabled")
		}
		if c.Publish.MQTT.QoS < 0 || c.Publish.MQTT.QoS > 2 {
			return fmt.Errorf("publish.mqtt.qos must be 0, 1 or 2")
		}
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	// Validate Metrics config
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required when metrics are enabled")
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

// TimeLocation returns the time zone that defines calendar days
func (c *Config) TimeLocation() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Batch.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading time zone %q: %w", c.Batch.Timezone, err)
	}
	return loc, nil
}

// Registry builds the place registry from places_file, the inline places
// list, or the built-in table, in that order of precedence.
func (c *Config) Registry() (*registry.Registry, error) {
	profiles := registry.Defaults()
	switch {
	case c.PlacesFile != "":
		loaded, err := registry.LoadFile(c.PlacesFile)
		if err != nil {
			return nil, err
		}
		profiles = loaded
	case len(c.Places) > 0:
		profiles = make([]models.LocationProfile, len(c.Places))
		for i, p := range c.Places {
			category, err := models.ParseCategory(string(p.Category))
			if err != nil {
				return nil, fmt.Errorf("places[%d]: %w", i, err)
			}
			p.Category = category
			profiles[i] = p
		}
	}
	return registry.New(profiles)
}
