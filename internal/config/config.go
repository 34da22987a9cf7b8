// Package config loads scheduler configuration from an optional YAML file
// and the environment. Static settings (ports, credentials, paths) are
// resolved once at startup; the send gates are deliberately re-read from the
// environment on every send so an operator can flip them on a running
// process.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	"github.com/maxretain/lifecycle-mailer/internal/quote"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	SendGrid  SendGridConfig  `yaml:"sendgrid"`
	Quote     QuoteConfig     `yaml:"quote"`
	Storage   StorageConfig   `yaml:"storage"`
	Rules     RulesConfig     `yaml:"rules"`
	Templates TemplatesConfig `yaml:"templates"`
	Redis     RedisConfig     `yaml:"redis"`
	Workers   WorkersConfig   `yaml:"workers"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// GetHost returns the bind host, switching to all interfaces when the
// process is running inside a container where localhost is unreachable
// from the outside.
func (c ServerConfig) GetHost() string {
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "0.0.0.0"
	}
	return c.Host
}

// Addr returns the listen address in host:port form.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.GetHost(), c.Port)
}

// SendGridConfig holds SendGrid API configuration
type SendGridConfig struct {
	APIKey         string `yaml:"api_key"`
	BaseURL        string `yaml:"base_url"`
	FromEmail      string `yaml:"from_email"`
	FromName       string `yaml:"from_name"`
	WebhookKey     string `yaml:"webhook_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured timeout as a duration
func (c SendGridConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// QuoteConfig holds signed quote link configuration
type QuoteConfig struct {
	BaseURL string `yaml:"base_url"`
	Secret  string `yaml:"secret"`
}

// StorageConfig holds per-organization database storage configuration
type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

// RulesConfig points at the state rule set. An empty path uses the rule
// set compiled into the binary.
type RulesConfig struct {
	Path string `yaml:"path"`
}

// TemplatesConfig points at an on-disk template directory. An empty dir
// uses the templates compiled into the binary.
type TemplatesConfig struct {
	Dir string `yaml:"dir"`
}

// RedisConfig holds Redis connection configuration. Redis is optional;
// without it the send rate limiter and worker locks degrade to
// single-process behavior.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Client returns a connected Redis client, or nil when no address is
// configured.
func (c RedisConfig) Client() *redis.Client {
	if c.Addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     c.Addr,
		Password: c.Password,
		DB:       c.DB,
	})
}

// WorkersConfig holds background worker configuration
type WorkersConfig struct {
	SendEnabled           bool `yaml:"send_enabled"`
	SendIntervalSeconds   int  `yaml:"send_interval_seconds"`
	SendChunkSize         int  `yaml:"send_chunk_size"`
	StatusEnabled         bool `yaml:"status_enabled"`
	StatusIntervalSeconds int  `yaml:"status_interval_seconds"`
}

// SendInterval returns the send worker poll interval as a duration
func (c WorkersConfig) SendInterval() time.Duration {
	return time.Duration(c.SendIntervalSeconds) * time.Second
}

// StatusInterval returns the status worker poll interval as a duration
func (c WorkersConfig) StatusInterval() time.Duration {
	return time.Duration(c.StatusIntervalSeconds) * time.Second
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level   string `yaml:"level"`
	File    string `yaml:"file"`
	Console bool   `yaml:"console"`
}

// Defaults returns the configuration used when no YAML file is present.
func Defaults() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	cfg.Logging.Console = true
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.SendGrid.BaseURL == "" {
		cfg.SendGrid.BaseURL = "https://api.sendgrid.com"
	}
	if cfg.SendGrid.FromEmail == "" {
		cfg.SendGrid.FromEmail = "medicare@example.com"
	}
	if cfg.SendGrid.FromName == "" {
		cfg.SendGrid.FromName = "Medicare Services"
	}
	if cfg.SendGrid.TimeoutSeconds == 0 {
		cfg.SendGrid.TimeoutSeconds = 30
	}
	if cfg.Quote.BaseURL == "" {
		cfg.Quote.BaseURL = quote.DefaultBaseURL
	}
	if cfg.Quote.Secret == "" {
		cfg.Quote.Secret = quote.DefaultSecret
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "data"
	}
	if cfg.Workers.SendIntervalSeconds == 0 {
		cfg.Workers.SendIntervalSeconds = 30
	}
	if cfg.Workers.SendChunkSize == 0 {
		cfg.Workers.SendChunkSize = 25
	}
	if cfg.Workers.StatusIntervalSeconds == 0 {
		cfg.Workers.StatusIntervalSeconds = 300
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.File == "" {
		cfg.Logging.File = "logs/email_scheduler.log"
	}
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

	applyDefaults(&cfg)
	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It loads a .env file first (if present) so secrets can live in .env
// locally and in real env vars in deployment. A missing YAML file is not
// an error; the built-in defaults are used instead.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		if path == "" || os.IsNotExist(err) {
			cfg = Defaults()
		} else {
			return nil, err
		}
	}

	// Override with environment variables if present
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("SENDGRID_API_KEY"); v != "" {
		cfg.SendGrid.APIKey = v
	}
	if v := os.Getenv("SENDGRID_BASE_URL"); v != "" {
		cfg.SendGrid.BaseURL = v
	}
	if v := os.Getenv("FROM_EMAIL"); v != "" {
		cfg.SendGrid.FromEmail = v
	}
	if v := os.Getenv("FROM_NAME"); v != "" {
		cfg.SendGrid.FromName = v
	}
	if v := os.Getenv("SENDGRID_WEBHOOK_KEY"); v != "" {
		cfg.SendGrid.WebhookKey = v
	}
	if v := os.Getenv("EMAIL_SCHEDULER_BASE_URL"); v != "" {
		cfg.Quote.BaseURL = v
	}
	if v := os.Getenv("QUOTE_SECRET"); v != "" {
		cfg.Quote.Secret = v
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("STATE_RULES_PATH"); v != "" {
		cfg.Rules.Path = v
	}
	if v := os.Getenv("TEMPLATES_DIR"); v != "" {
		cfg.Templates.Dir = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = db
		}
	}
	if v := os.Getenv("SEND_WORKER_ENABLED"); v != "" {
		cfg.Workers.SendEnabled = GetBool("SEND_WORKER_ENABLED", cfg.Workers.SendEnabled)
	}
	if v := os.Getenv("SEND_WORKER_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Workers.SendIntervalSeconds = n
		}
	}
	if v := os.Getenv("SEND_WORKER_CHUNK_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Workers.SendChunkSize = n
		}
	}
	if v := os.Getenv("STATUS_WORKER_ENABLED"); v != "" {
		cfg.Workers.StatusEnabled = GetBool("STATUS_WORKER_ENABLED", cfg.Workers.StatusEnabled)
	}
	if v := os.Getenv("STATUS_WORKER_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Workers.StatusIntervalSeconds = n
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.Logging.File = v
	}
	if v := os.Getenv("CONSOLE_OUTPUT"); v != "" {
		cfg.Logging.Console = GetBool("CONSOLE_OUTPUT", cfg.Logging.Console)
	}

	return cfg, nil
}

// GetBool reads a boolean environment variable. The values true, yes, 1,
// y and t (any case) count as true; anything else counts as false. The
// fallback is returned when the variable is unset or empty.
func GetBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	switch strings.ToLower(v) {
	case "true", "yes", "1", "y", "t":
		return true
	}
	return false
}
