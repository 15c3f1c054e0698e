package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"price-target-alerts/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Source    SourceConfig    `mapstructure:"source"`
	Evaluator EvaluatorConfig `mapstructure:"evaluator"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Notify    NotifyConfig    `mapstructure:"notify"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity. An empty DSN selects
// the in-memory store.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// ServerConfig governs the HTTP listener.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig covers token issuing.
type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

// SourceConfig captures marketplace connectivity.
type SourceConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	SiteID         string        `mapstructure:"site_id"`
	ResultLimit    int           `mapstructure:"result_limit"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
	RatePerSecond  float64       `mapstructure:"rate_per_second"`
	RateBurst      int           `mapstructure:"rate_burst"`
}

// EvaluatorConfig tunes the alert state machine and the sweep pool.
type EvaluatorConfig struct {
	FailureThreshold int `mapstructure:"failure_threshold"`
	Workers          int `mapstructure:"workers"`
}

// SchedulerConfig governs periodic sweep cadence.
type SchedulerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Interval     time.Duration `mapstructure:"interval"`
	AlignToStart bool          `mapstructure:"align_to_start"`
	StartupDelay time.Duration `mapstructure:"startup_delay"`
}

// NotifyConfig defines notification routing.
type NotifyConfig struct {
	Email EmailConfig `mapstructure:"email"`
}

// EmailConfig describes the transactional email channel.
type EmailConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	FromAddress    string        `mapstructure:"from_address"`
	FromName       string        `mapstructure:"from_name"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PRICEWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "pricewatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "5s")

	v.SetDefault("auth.token_ttl", "1h")

	v.SetDefault("source.base_url", "https://api.mercadolibre.com")
	v.SetDefault("source.site_id", "MLB")
	v.SetDefault("source.result_limit", 5)
	v.SetDefault("source.request_timeout", "10s")
	v.SetDefault("source.user_agent", "pricewatch/1.0")
	v.SetDefault("source.rate_per_second", 2.0)
	v.SetDefault("source.rate_burst", 4)

	v.SetDefault("evaluator.failure_threshold", 5)
	v.SetDefault("evaluator.workers", 4)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval", "15m")
	v.SetDefault("scheduler.align_to_start", true)
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("notify.email.enabled", false)
	v.SetDefault("notify.email.base_url", "https://api.sendgrid.com")
	v.SetDefault("notify.email.request_timeout", "10s")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr must be set")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret must be configured")
	}
	if c.Scheduler.Enabled && c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Evaluator.FailureThreshold < 0 {
		return fmt.Errorf("evaluator.failure_threshold cannot be negative")
	}
	if c.Evaluator.Workers < 0 {
		return fmt.Errorf("evaluator.workers cannot be negative")
	}
	if c.Source.ResultLimit <= 0 {
		return fmt.Errorf("source.result_limit must be greater than zero")
	}
	if c.Notify.Email.Enabled {
		if c.Notify.Email.APIKey == "" {
			return fmt.Errorf("notify.email.api_key must be configured")
		}
		if c.Notify.Email.FromAddress == "" {
			return fmt.Errorf("notify.email.from_address must be configured")
		}
	}
	return nil
}
