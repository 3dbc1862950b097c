package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	SMTP      SMTPConfig      `yaml:"smtp"`
	SES       SESConfig       `yaml:"ses"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Tracking  TrackingConfig  `yaml:"tracking"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// Addr returns the listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig holds Redis connection settings. Redis is optional; when Addr
// is empty, distributed locks fall back to PostgreSQL advisory locks.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// SMTPConfig holds SMTP relay settings. The struct is read once at startup
// and never mutated afterward; transports copy what they need.
type SMTPConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	AuthType       string `yaml:"auth_type"` // plain, login, none
	UseTLS         bool   `yaml:"use_tls"`   // implicit TLS; otherwise STARTTLS is attempted
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the per-send SMTP timeout as a duration.
func (c SMTPConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SESConfig holds AWS SES settings for the alternative transport.
type SESConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// DispatchConfig tunes the send pipeline.
type DispatchConfig struct {
	Workers            int     `yaml:"workers"`
	BatchSize          int     `yaml:"batch_size"`
	DefaultSendRate    float64 `yaml:"default_send_rate"` // emails per second
	SendTimeoutSeconds int     `yaml:"send_timeout_seconds"`
	ClaimTTLSeconds    int     `yaml:"claim_ttl_seconds"` // stale claims older than this are reclaimed
	DefaultFromName    string  `yaml:"default_from_name"` // sender identity for workflow sends
	DefaultFromEmail   string  `yaml:"default_from_email"`
}

// SendTimeout returns the bounded per-send transport timeout.
func (c DispatchConfig) SendTimeout() time.Duration {
	return time.Duration(c.SendTimeoutSeconds) * time.Second
}

// ClaimTTL returns how long a claimed job may sit before being reclaimed.
func (c DispatchConfig) ClaimTTL() time.Duration {
	return time.Duration(c.ClaimTTLSeconds) * time.Second
}

// SchedulerConfig holds the periodic trigger cadences.
type SchedulerConfig struct {
	PromoteIntervalSeconds   int `yaml:"promote_interval_seconds"`
	AggregateIntervalSeconds int `yaml:"aggregate_interval_seconds"`
	WorkflowTickSeconds      int `yaml:"workflow_tick_seconds"`
}

// PromoteInterval returns how often due campaigns are promoted.
func (c SchedulerConfig) PromoteInterval() time.Duration {
	return time.Duration(c.PromoteIntervalSeconds) * time.Second
}

// AggregateInterval returns how often metrics are recomputed.
func (c SchedulerConfig) AggregateInterval() time.Duration {
	return time.Duration(c.AggregateIntervalSeconds) * time.Second
}

// WorkflowTick returns how often expired workflow waits are advanced.
func (c SchedulerConfig) WorkflowTick() time.Duration {
	return time.Duration(c.WorkflowTickSeconds) * time.Second
}

// TrackingConfig holds tracking endpoint settings. Secret signs tracking
// tokens; BaseURL is the public root the pixel and redirect links point at.
type TrackingConfig struct {
	BaseURL     string `yaml:"base_url"`
	Secret      string `yaml:"secret"`
	FallbackURL string `yaml:"fallback_url"` // click redirect target for invalid tokens
}

// Load reads and parses the configuration file, then applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It loads a .env file (if present) before reading env vars, so secrets can
// live in .env locally and in real env vars in deployment.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("SMTP_HOST"); v != "" {
		cfg.SMTP.Host = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.SMTP.Port = p
		}
	}
	if v := os.Getenv("SMTP_USERNAME"); v != "" {
		cfg.SMTP.Username = v
	}
	if v := os.Getenv("SMTP_PASSWORD"); v != "" {
		cfg.SMTP.Password = v
	}
	if v := os.Getenv("AWS_SES_ACCESS_KEY"); v != "" {
		cfg.SES.AccessKey = v
	}
	if v := os.Getenv("AWS_SES_SECRET_KEY"); v != "" {
		cfg.SES.SecretKey = v
	}
	if v := os.Getenv("AWS_SES_REGION"); v != "" {
		cfg.SES.Region = v
	}
	if v := os.Getenv("TRACKING_SECRET"); v != "" {
		cfg.Tracking.Secret = v
	}
	if v := os.Getenv("TRACKING_BASE_URL"); v != "" {
		cfg.Tracking.BaseURL = v
	}

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 25
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.SMTP.Port == 0 {
		c.SMTP.Port = 587
	}
	if c.SMTP.AuthType == "" {
		c.SMTP.AuthType = "plain"
	}
	if c.SMTP.TimeoutSeconds == 0 {
		c.SMTP.TimeoutSeconds = 30
	}
	if c.SES.Region == "" {
		c.SES.Region = "us-east-1"
	}
	if c.Dispatch.Workers == 0 {
		c.Dispatch.Workers = 4
	}
	if c.Dispatch.BatchSize == 0 {
		c.Dispatch.BatchSize = 100
	}
	if c.Dispatch.DefaultSendRate == 0 {
		c.Dispatch.DefaultSendRate = 10
	}
	if c.Dispatch.SendTimeoutSeconds == 0 {
		c.Dispatch.SendTimeoutSeconds = 30
	}
	if c.Dispatch.ClaimTTLSeconds == 0 {
		c.Dispatch.ClaimTTLSeconds = 300
	}
	if c.Scheduler.PromoteIntervalSeconds == 0 {
		c.Scheduler.PromoteIntervalSeconds = 60
	}
	if c.Scheduler.AggregateIntervalSeconds == 0 {
		c.Scheduler.AggregateIntervalSeconds = 3600
	}
	if c.Scheduler.WorkflowTickSeconds == 0 {
		c.Scheduler.WorkflowTickSeconds = 60
	}
	if c.Tracking.FallbackURL == "" {
		c.Tracking.FallbackURL = "/"
	}
}
