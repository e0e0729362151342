// Package config provides configuration management for the alert engine.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	apperrors "market-alerts/internal/errors"
	"market-alerts/internal/logging"
)

// Config holds all application configuration.
type Config struct {
	Engine      EngineConfig   `mapstructure:"engine"`
	Quotes      QuotesConfig   `mapstructure:"quotes"`
	Redis       RedisConfig    `mapstructure:"redis"`
	Store       StoreConfig    `mapstructure:"store"`
	Telegram    TelegramConfig `mapstructure:"telegram"`
	Notify      NotifyConfig   `mapstructure:"notify"`
	Status      StatusConfig   `mapstructure:"status"`
	Logging     LoggingConfig  `mapstructure:"logging"`
	Credentials Credentials    `mapstructure:"-" json:"-"` // Loaded separately
}

// EngineConfig holds scheduler timing and concurrency knobs.
type EngineConfig struct {
	AlertInterval    time.Duration `mapstructure:"alert_interval"`
	LinkingInterval  time.Duration `mapstructure:"linking_interval"`
	CallTimeout      time.Duration `mapstructure:"call_timeout"`
	InterCallDelay   time.Duration `mapstructure:"inter_call_delay"`
	QuoteConcurrency int           `mapstructure:"quote_concurrency"`
	RuleConcurrency  int           `mapstructure:"rule_concurrency"`
}

// QuotesConfig holds quote backend configuration.
type QuotesConfig struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
	Stock    BackendConfig `mapstructure:"stock"`
	Crypto   BackendConfig `mapstructure:"crypto"`
}

// BackendConfig holds one quote backend's endpoint.
type BackendConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

// RedisConfig holds the shared quote cache configuration.
type RedisConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Addr      string `mapstructure:"addr"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// StoreConfig holds rule store configuration.
type StoreConfig struct {
	Driver   string `mapstructure:"driver"` // sqlite, postgres
	Path     string `mapstructure:"path"`
	MaxConns int    `mapstructure:"max_conns"`
}

// TelegramConfig holds bot API configuration.
type TelegramConfig struct {
	APIURL        string        `mapstructure:"api_url"`
	PollTimeout   time.Duration `mapstructure:"poll_timeout"`
	VerifyOnStart bool          `mapstructure:"verify_on_start"`
}

// NotifyConfig holds message templating configuration.
type NotifyConfig struct {
	DashboardURL       string `mapstructure:"dashboard_url"`
	EmailSubjectPrefix string `mapstructure:"email_subject_prefix"`
}

// StatusConfig holds the optional status server configuration.
type StatusConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// LoggingConfig mirrors logging.LogConfig.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Console    bool   `mapstructure:"console"`
	File       bool   `mapstructure:"file"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

// Credentials holds secrets kept out of config.toml.
type Credentials struct {
	Telegram TelegramCredentials `mapstructure:"telegram"`
	Quotes   QuoteCredentials    `mapstructure:"quotes"`
	Redis    RedisCredentials    `mapstructure:"redis"`
	Store    StoreCredentials    `mapstructure:"store"`
}

// TelegramCredentials holds the bot auth token.
type TelegramCredentials struct {
	BotToken string `mapstructure:"bot_token"`
}

// QuoteCredentials holds the quote backend API keys.
type QuoteCredentials struct {
	StockAPIKey  string `mapstructure:"stock_api_key"`
	CryptoAPIKey string `mapstructure:"crypto_api_key"`
}

// RedisCredentials holds the Redis password.
type RedisCredentials struct {
	Password string `mapstructure:"password"`
}

// StoreCredentials holds the Postgres connection string.
type StoreCredentials struct {
	DSN string `mapstructure:"dsn"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/market-alerts"
	}
	return filepath.Join(home, ".config", "market-alerts")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	// .env is optional
	_ = godotenv.Load()

	cfg := &Config{}

	if err := loadConfigFile(configDir, cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}

	if err := loadCredentials(configDir, &cfg.Credentials); err != nil {
		return nil, fmt.Errorf("loading credentials.toml: %w", err)
	}

	if cfg.Store.Path == "" {
		cfg.Store.Path = filepath.Join(configDir, "alerts.db")
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("engine.alert_interval", "30s")
	v.SetDefault("engine.linking_interval", "3s")
	v.SetDefault("engine.call_timeout", "10s")
	v.SetDefault("engine.inter_call_delay", "250ms")
	v.SetDefault("engine.quote_concurrency", 4)
	v.SetDefault("engine.rule_concurrency", 8)

	v.SetDefault("quotes.cache_ttl", "20s")
	v.SetDefault("quotes.stock.base_url", "https://api.twelvedata.com")
	v.SetDefault("quotes.crypto.base_url", "https://api.binance.com")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "market-alerts")

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.max_conns", 5)

	v.SetDefault("telegram.api_url", "https://api.telegram.org")
	v.SetDefault("telegram.poll_timeout", "2s")
	v.SetDefault("telegram.verify_on_start", true)

	v.SetDefault("notify.dashboard_url", "http://localhost:3000")
	v.SetDefault("notify.email_subject_prefix", "[Market Alert]")

	v.SetDefault("status.enabled", false)
	v.SetDefault("status.listen", "127.0.0.1:8081")

	defaults := logging.DefaultLogConfig()
	v.SetDefault("logging.level", defaults.Level)
	v.SetDefault("logging.console", defaults.Console)
	v.SetDefault("logging.file", defaults.File)
	v.SetDefault("logging.file_path", defaults.FilePath)
	v.SetDefault("logging.max_size", defaults.MaxSize)
	v.SetDefault("logging.max_backups", defaults.MaxBackups)
	v.SetDefault("logging.max_age", defaults.MaxAge)
}

func loadConfigFile(configDir string, cfg *Config) error {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
		// Config file not found, write the template and continue on defaults
		if err := createTemplateConfig(configDir); err != nil {
			return err
		}
	}

	return v.Unmarshal(cfg)
}

func loadCredentials(configDir string, creds *Credentials) error {
	v := viper.New()
	v.SetConfigName("credentials")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return createTemplateCredentials(configDir)
		}
		return err
	}

	return v.Unmarshal(creds)
}

func applyEnvOverrides(cfg *Config) error {
	// Secrets
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Credentials.Telegram.BotToken = v
	}
	if v := os.Getenv("QUOTES_STOCK_API_KEY"); v != "" {
		cfg.Credentials.Quotes.StockAPIKey = v
	}
	if v := os.Getenv("QUOTES_CRYPTO_API_KEY"); v != "" {
		cfg.Credentials.Quotes.CryptoAPIKey = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Credentials.Redis.Password = v
	}
	if v := os.Getenv("ALERTS_DB_DSN"); v != "" {
		cfg.Credentials.Store.DSN = v
	}

	// Store and cache
	if v := os.Getenv("ALERTS_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("ALERTS_DB_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Engine timing
	durations := []struct {
		env    string
		target *time.Duration
	}{
		{"ALERT_INTERVAL", &cfg.Engine.AlertInterval},
		{"LINKING_INTERVAL", &cfg.Engine.LinkingInterval},
		{"CALL_TIMEOUT", &cfg.Engine.CallTimeout},
		{"INTER_CALL_DELAY", &cfg.Engine.InterCallDelay},
	}
	for _, d := range durations {
		v := os.Getenv(d.env)
		if v == "" {
			continue
		}
		parsed, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", d.env, err)
		}
		*d.target = parsed
	}

	return nil
}

// parseDuration accepts Go duration strings and bare integers as seconds.
func parseDuration(s string) (time.Duration, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(s)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Engine.AlertInterval <= 0 {
		return invalid("engine.alert_interval must be positive")
	}
	if c.Engine.LinkingInterval <= 0 {
		return invalid("engine.linking_interval must be positive")
	}
	if c.Engine.LinkingInterval >= c.Engine.AlertInterval {
		return invalid("engine.linking_interval (%s) must be shorter than engine.alert_interval (%s)",
			c.Engine.LinkingInterval, c.Engine.AlertInterval)
	}
	if c.Engine.CallTimeout <= 0 {
		return invalid("engine.call_timeout must be positive")
	}
	if c.Engine.InterCallDelay < 0 {
		return invalid("engine.inter_call_delay must be non-negative")
	}
	if c.Engine.QuoteConcurrency < 1 {
		return invalid("engine.quote_concurrency must be at least 1")
	}
	if c.Engine.RuleConcurrency < 1 {
		return invalid("engine.rule_concurrency must be at least 1")
	}
	if c.Quotes.CacheTTL < 0 {
		return invalid("quotes.cache_ttl must be non-negative")
	}

	switch c.Store.Driver {
	case "sqlite":
		if c.Store.Path == "" {
			return invalid("store.path is required for the sqlite driver")
		}
	case "postgres":
		if c.Credentials.Store.DSN == "" {
			return invalid("store dsn is required for the postgres driver")
		}
	default:
		return invalid("unknown store.driver %q (must be 'sqlite' or 'postgres')", c.Store.Driver)
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return invalid("redis.addr is required when redis is enabled")
	}
	if c.Status.Enabled && c.Status.Listen == "" {
		return invalid("status.listen is required when the status server is enabled")
	}

	return nil
}

// ValidateForRun adds the checks that only matter for the long-running worker.
func (c *Config) ValidateForRun() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Credentials.Telegram.BotToken == "" {
		return invalid("telegram bot token is required (credentials.toml or TELEGRAM_BOT_TOKEN)")
	}
	return nil
}

// LogConfig converts the logging section for the logging package.
func (c *Config) LogConfig() logging.LogConfig {
	return logging.LogConfig{
		Level:      c.Logging.Level,
		Console:    c.Logging.Console,
		File:       c.Logging.File,
		FilePath:   c.Logging.FilePath,
		MaxSize:    c.Logging.MaxSize,
		MaxBackups: c.Logging.MaxBackups,
		MaxAge:     c.Logging.MaxAge,
	}
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", apperrors.ErrConfigInvalid, fmt.Sprintf(format, args...))
}
