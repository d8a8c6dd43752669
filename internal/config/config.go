package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Security  SecurityConfig  `yaml:"security"`
	Poll      PollConfig      `yaml:"poll"`
	IMAP      IMAPConfig      `yaml:"imap"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Auth      AuthConfig      `yaml:"auth"`
	Retention RetentionConfig `yaml:"retention"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Redis     RedisConfig     `yaml:"redis"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port                 int    `yaml:"port"`
	Host                 string `yaml:"host"`
	ShutdownGraceSeconds int    `yaml:"shutdown_grace_seconds"`
}

// GetHost returns the server host, with container detection
func (c ServerConfig) GetHost() string {
	// In a container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// ShutdownGrace returns the bounded shutdown grace period as a duration
func (c ServerConfig) ShutdownGrace() time.Duration {
	return time.Duration(c.ShutdownGraceSeconds) * time.Second
}

// DatabaseConfig holds the store backend configuration. URL is either a
// postgres:// DSN or a SQLite file path (the default embedded backend).
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// SecurityConfig holds the credential encryption key. The key is required;
// boot fails without it so account passwords can never be stored in the clear.
type SecurityConfig struct {
	EncryptionKey string `yaml:"encryption_key"`
}

// PollConfig holds mailbox polling configuration
type PollConfig struct {
	IntervalSeconds     int `yaml:"interval_seconds"`
	InitialLookbackDays int `yaml:"initial_lookback_days"`
}

// Interval returns the global polling interval as a duration
func (c PollConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// IMAPConfig holds IMAP session timeouts
type IMAPConfig struct {
	ConnectTimeoutSeconds int `yaml:"connect_timeout_seconds"`
	CommandTimeoutSeconds int `yaml:"command_timeout_seconds"`
}

// ConnectTimeout returns the dial timeout as a duration
func (c IMAPConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSeconds) * time.Second
}

// CommandTimeout returns the per-command timeout as a duration
func (c IMAPConfig) CommandTimeout() time.Duration {
	return time.Duration(c.CommandTimeoutSeconds) * time.Second
}

// TelegramConfig holds Telegram Bot API configuration
type TelegramConfig struct {
	BotToken       string `yaml:"bot_token"`
	ChatID         string `yaml:"chat_id"`
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the per-attempt send timeout as a duration
func (c TelegramConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// WebhookConfig holds the generic notification webhook configuration
type WebhookConfig struct {
	URL            string `yaml:"url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the per-attempt POST timeout as a duration
func (c WebhookConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// AuthConfig holds admin login and API token configuration
type AuthConfig struct {
	AdminUsername string `yaml:"admin_username"`
	AdminPassword string `yaml:"admin_password"`
	JWTSecret     string `yaml:"jwt_secret"`
	APIToken      string `yaml:"api_token"`
	ResetToken    string `yaml:"reset_token"`
}

// RetentionConfig holds default bounds for the cleanup operation.
// Zero means "no default"; the API then requires explicit bounds.
type RetentionConfig struct {
	KeepDays       int `yaml:"keep_days"`
	KeepPerAccount int `yaml:"keep_per_account"`
}

// ArchiveConfig holds archive output configuration
type ArchiveConfig struct {
	Dir      string `yaml:"dir"`
	S3Bucket string `yaml:"s3_bucket"`
	S3Region string `yaml:"s3_region"`
}

// RedisConfig holds the optional Redis coordination backend. Empty URL means
// the in-process single-flight guard is used (single instance deployment).
type RedisConfig struct {
	URL string `yaml:"url"`
}

// Load reads and parses the configuration file
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

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.ShutdownGraceSeconds == 0 {
		cfg.Server.ShutdownGraceSeconds = 30
	}
	if cfg.Database.URL == "" {
		cfg.Database.URL = "data/mail.db"
	}
	if cfg.Poll.IntervalSeconds == 0 {
		cfg.Poll.IntervalSeconds = 300
	}
	if cfg.Poll.IntervalSeconds < 5 {
		cfg.Poll.IntervalSeconds = 5
	}
	if cfg.Poll.InitialLookbackDays == 0 {
		cfg.Poll.InitialLookbackDays = 7
	}
	if cfg.IMAP.ConnectTimeoutSeconds == 0 {
		cfg.IMAP.ConnectTimeoutSeconds = 15
	}
	if cfg.IMAP.CommandTimeoutSeconds == 0 {
		cfg.IMAP.CommandTimeoutSeconds = 30
	}
	if cfg.Telegram.BaseURL == "" {
		cfg.Telegram.BaseURL = "https://api.telegram.org"
	}
	if cfg.Telegram.TimeoutSeconds == 0 {
		cfg.Telegram.TimeoutSeconds = 10
	}
	if cfg.Webhook.TimeoutSeconds == 0 {
		cfg.Webhook.TimeoutSeconds = 10
	}
	if cfg.Archive.Dir == "" {
		cfg.Archive.Dir = "archives"
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars in production.
// The YAML file is optional; deployments that configure everything through
// the environment run without one.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		cfg = &Config{}
		cfg.applyDefaults()
	}

	if v := os.Getenv("ENCRYPTION_KEY"); v != "" {
		cfg.Security.EncryptionKey = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("POLL_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 5 {
			cfg.Poll.IntervalSeconds = n
		}
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Telegram.ChatID = v
	}
	if v := os.Getenv("WEBHOOK_URL"); v != "" {
		cfg.Webhook.URL = v
	}

	// Auth overrides
	if v := os.Getenv("ADMIN_USERNAME"); v != "" {
		cfg.Auth.AdminUsername = v
	}
	if v := os.Getenv("ADMIN_PASSWORD"); v != "" {
		cfg.Auth.AdminPassword = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("API_TOKEN"); v != "" {
		cfg.Auth.APIToken = v
	}
	if v := os.Getenv("ADMIN_RESET_TOKEN"); v != "" {
		cfg.Auth.ResetToken = v
	}

	// Retention overrides
	if v := os.Getenv("RETENTION_KEEP_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Retention.KeepDays = n
		}
	}
	if v := os.Getenv("RETENTION_KEEP_PER_ACCOUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Retention.KeepPerAccount = n
		}
	}

	// Archive overrides
	if v := os.Getenv("ARCHIVE_DIR"); v != "" {
		cfg.Archive.Dir = v
	}
	if v := os.Getenv("ARCHIVE_S3_BUCKET"); v != "" {
		cfg.Archive.S3Bucket = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.Archive.S3Region = v
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	} else if v := os.Getenv("PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}

	return cfg, nil
}
