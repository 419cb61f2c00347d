package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port            int    `yaml:"port"`
		GRPCPort        int    `yaml:"grpc_port"`
		Timezone        string `yaml:"timezone"`
		ShutdownSeconds int    `yaml:"shutdown_seconds"`
	} `yaml:"server"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Redis struct {
		Address         string `yaml:"address"`
		Password        string `yaml:"password"`
		DB              int    `yaml:"db"`
		CacheTTLSeconds int    `yaml:"cache_ttl_seconds"`
	} `yaml:"redis"`

	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
		Issuer    string `yaml:"issuer"`
	} `yaml:"auth"`

	Booking struct {
		MaxAttempts      int `yaml:"max_attempts"`
		RetryBackoffMS   int `yaml:"retry_backoff_ms"`
		LockTTLSeconds   int `yaml:"lock_ttl_seconds"`
		ReminderLeadMins int `yaml:"reminder_lead_minutes"`
	} `yaml:"booking"`

	Reminders struct {
		Enabled         bool    `yaml:"enabled"`
		IntervalSeconds int     `yaml:"interval_seconds"`
		BatchSize       int     `yaml:"batch_size"`
		MaxConcurrent   int     `yaml:"max_concurrent"`
		ClaimSeconds    int     `yaml:"claim_seconds"`
		TickTimeoutSecs int     `yaml:"tick_timeout_seconds"`
		SendRate        float64 `yaml:"send_rate"`
		SendBurst       int     `yaml:"send_burst"`
	} `yaml:"reminders"`

	SMTP struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		From     string `yaml:"from"`
	} `yaml:"smtp"`

	Telegram struct {
		BotToken string `yaml:"bot_token"`
		Debug    bool   `yaml:"debug"`
	} `yaml:"telegram"`

	Backup BackupConfig `yaml:"backup"`

	Monitoring struct {
		HealthCheckPort   int  `yaml:"health_check_port"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// BackupConfig drives the scheduled SQLite snapshots.
type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	StoragePath   string `yaml:"storage_path"`
	RetentionDays int    `yaml:"retention_days"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Support ${ENV_VAR} placeholders in YAML config.
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err = cfg.Validate(); err != nil {
		return nil, err
	}

	if err = os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.GRPCPort == 0 {
		c.Server.GRPCPort = 9091
	}
	if c.Server.Timezone == "" {
		c.Server.Timezone = "UTC"
	}
	if c.Server.ShutdownSeconds <= 0 {
		c.Server.ShutdownSeconds = 10
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/courtside.db"
	}
	if c.Booking.MaxAttempts <= 0 {
		c.Booking.MaxAttempts = 3
	}
	if c.Booking.RetryBackoffMS <= 0 {
		c.Booking.RetryBackoffMS = 25
	}
	if c.Booking.LockTTLSeconds <= 0 {
		c.Booking.LockTTLSeconds = 5
	}
	if c.Booking.ReminderLeadMins <= 0 {
		c.Booking.ReminderLeadMins = 60
	}
	if c.Reminders.IntervalSeconds <= 0 {
		c.Reminders.IntervalSeconds = 60
	}
	if c.Reminders.BatchSize <= 0 {
		c.Reminders.BatchSize = 100
	}
	if c.Reminders.MaxConcurrent <= 0 {
		c.Reminders.MaxConcurrent = 10
	}
	if c.Reminders.ClaimSeconds <= 0 {
		c.Reminders.ClaimSeconds = 120
	}
	if c.Reminders.TickTimeoutSecs <= 0 {
		c.Reminders.TickTimeoutSecs = 50
	}
	if c.Reminders.SendRate <= 0 {
		c.Reminders.SendRate = 10
	}
	if c.Reminders.SendBurst <= 0 {
		c.Reminders.SendBurst = 20
	}
	if c.SMTP.Port == 0 {
		c.SMTP.Port = 587
	}
	if c.Backup.Schedule == "" {
		c.Backup.Schedule = "0 3 * * *"
	}
	if c.Backup.StoragePath == "" {
		c.Backup.StoragePath = "data/backups"
	}
	if c.Monitoring.HealthCheckPort == 0 {
		c.Monitoring.HealthCheckPort = 8090
	}
	if c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate checks values that have no sensible default.
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if _, err := time.LoadLocation(c.Server.Timezone); err != nil {
		return fmt.Errorf("server.timezone: %w", err)
	}
	return nil
}

func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Server.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) ReserveBackoff() time.Duration {
	return time.Duration(c.Booking.RetryBackoffMS) * time.Millisecond
}

func (c *Config) SlotLockTTL() time.Duration {
	return time.Duration(c.Booking.LockTTLSeconds) * time.Second
}

func (c *Config) ReminderLead() time.Duration {
	return time.Duration(c.Booking.ReminderLeadMins) * time.Minute
}

func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Redis.CacheTTLSeconds) * time.Second
}

func (c *Config) ReminderInterval() time.Duration {
	return time.Duration(c.Reminders.IntervalSeconds) * time.Second
}

func (c *Config) ReminderClaim() time.Duration {
	return time.Duration(c.Reminders.ClaimSeconds) * time.Second
}

func (c *Config) ReminderTickTimeout() time.Duration {
	return time.Duration(c.Reminders.TickTimeoutSecs) * time.Second
}
