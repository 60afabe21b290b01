package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const defaultPath = "configs/config.yaml"

type Config struct {
	HTTP struct {
		Address             string `yaml:"address"`
		ReadTimeoutSeconds  int    `yaml:"read_timeout_seconds"`
		WriteTimeoutSeconds int    `yaml:"write_timeout_seconds"`
	} `yaml:"http"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Backup struct {
		Enabled       bool   `yaml:"enabled"`
		IntervalHours int    `yaml:"interval_hours"`
		Path          string `yaml:"path"`
		RetentionDays int    `yaml:"retention_days"`
	} `yaml:"backup"`

	Redis struct {
		Address         string `yaml:"address"`
		Password        string `yaml:"password"`
		DB              int    `yaml:"db"`
		CacheTTLSeconds int    `yaml:"cache_ttl_seconds"`
	} `yaml:"redis"`

	Monitoring struct {
		HealthCheckPort   int  `yaml:"health_check_port"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Booking struct {
		Timezone       string `yaml:"timezone"`
		MaxAdvanceDays int    `yaml:"max_advance_days"`
		CalendarDays   int    `yaml:"calendar_days"`
	} `yaml:"booking"`

	Auth struct {
		FirebaseCredentialsFile string `yaml:"firebase_credentials_file"`
		ProjectID               string `yaml:"project_id"`
		// DevMode accepts unsigned "uid[:email]" bearer tokens.
		DevMode bool `yaml:"dev_mode"`
	} `yaml:"auth"`

	Storage struct {
		Bucket          string `yaml:"bucket"`
		CredentialsFile string `yaml:"credentials_file"`
		PublicBaseURL   string `yaml:"public_base_url"`
	} `yaml:"storage"`

	Vision struct {
		APIKey          string `yaml:"api_key"`
		Model           string `yaml:"model"`
		Endpoint        string `yaml:"endpoint"`
		TimeoutSeconds  int    `yaml:"timeout_seconds"`
		CacheTTLSeconds int    `yaml:"cache_ttl_seconds"`
		RatePerHour     int    `yaml:"rate_per_hour"`
		Burst           int    `yaml:"burst"`
	} `yaml:"vision"`

	Events struct {
		KafkaBrokers []string `yaml:"kafka_brokers"`
		KafkaTopic   string   `yaml:"kafka_topic"`
	} `yaml:"events"`

	Telegram struct {
		BotToken     string  `yaml:"bot_token"`
		AdminChatIDs []int64 `yaml:"admin_chat_ids"`
		// DigestHour is when tomorrow's schedule is sent, in the booking timezone.
		DigestHour int `yaml:"digest_hour"`
	} `yaml:"telegram"`

	DealershipConfigPath string `yaml:"dealership_config_path"`
}

// Load reads the YAML config at path, expanding ${ENV_VAR} placeholders.
// Variables from a .env file in the working directory are loaded first when it exists.
func Load(path string) (*Config, error) {
	if path == "" {
		path = defaultPath
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.HTTP.Address == "" {
		c.HTTP.Address = ":8080"
	}
	if c.HTTP.ReadTimeoutSeconds <= 0 {
		c.HTTP.ReadTimeoutSeconds = 15
	}
	if c.HTTP.WriteTimeoutSeconds <= 0 {
		c.HTTP.WriteTimeoutSeconds = 30
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/vehiql.db"
	}
	if c.Backup.Path == "" {
		c.Backup.Path = "backups"
	}
	if c.Backup.IntervalHours <= 0 {
		c.Backup.IntervalHours = 24
	}
	if c.Backup.RetentionDays <= 0 {
		c.Backup.RetentionDays = 14
	}
	if c.Monitoring.HealthCheckPort == 0 {
		c.Monitoring.HealthCheckPort = 8090
	}
	if c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.Booking.Timezone == "" {
		c.Booking.Timezone = "UTC"
	}
	if c.Booking.CalendarDays <= 0 {
		c.Booking.CalendarDays = 60
	}
	if c.Vision.Model == "" {
		c.Vision.Model = "gemini-1.5-flash"
	}
	if c.Vision.Endpoint == "" {
		c.Vision.Endpoint = "https://generativelanguage.googleapis.com/v1beta"
	}
	if c.Vision.TimeoutSeconds <= 0 {
		c.Vision.TimeoutSeconds = 30
	}
	if c.Vision.RatePerHour <= 0 {
		c.Vision.RatePerHour = 10
	}
	if c.Vision.Burst <= 0 {
		c.Vision.Burst = c.Vision.RatePerHour
	}
	if c.Telegram.DigestHour <= 0 || c.Telegram.DigestHour > 23 {
		c.Telegram.DigestHour = 18
	}
	if c.Events.KafkaTopic == "" {
		c.Events.KafkaTopic = "vehiql.test-drives"
	}
	if c.DealershipConfigPath == "" {
		c.DealershipConfigPath = "configs/dealership.yaml"
	}
}

// Validate checks values that have no sensible default.
func (c *Config) Validate() error {
	if _, err := time.LoadLocation(c.Booking.Timezone); err != nil {
		return fmt.Errorf("booking.timezone: %w", err)
	}
	if c.Booking.MaxAdvanceDays < 0 {
		return fmt.Errorf("booking.max_advance_days cannot be negative")
	}
	if !c.Auth.DevMode && c.Auth.FirebaseCredentialsFile == "" && c.Auth.ProjectID == "" {
		return fmt.Errorf("auth: set firebase_credentials_file or project_id, or enable dev_mode")
	}
	if c.Redis.DB < 0 {
		return fmt.Errorf("redis.db cannot be negative")
	}
	return nil
}

// Location is the dealership time zone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Booking.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) CacheTTL() time.Duration {
	if c.Redis.CacheTTLSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.Redis.CacheTTLSeconds) * time.Second
}

func (c *Config) VisionCacheTTL() time.Duration {
	if c.Vision.CacheTTLSeconds <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.Vision.CacheTTLSeconds) * time.Second
}

func (c *Config) BackupInterval() time.Duration {
	return time.Duration(c.Backup.IntervalHours) * time.Hour
}

func (c *Config) BackupRetention() time.Duration {
	return time.Duration(c.Backup.RetentionDays) * 24 * time.Hour
}
