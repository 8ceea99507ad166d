package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type BotConfig struct {
	Token    string `yaml:"token" env:"BOT_TOKEN"`
	Mode     string `yaml:"mode"` // polling | none
	Username string `yaml:"username" env:"BOT_USERNAME"`
	Workers  int    `yaml:"workers"` // async dispatch workers
	Language string `yaml:"language"`

	// SendConcurrency caps in-flight outbound messages across all senders.
	SendConcurrency int `yaml:"send_concurrency"`

	// SendTimeout bounds one outbound Bot API request.
	SendTimeout time.Duration `yaml:"send_timeout"`

	// QueueSize and SubmitWait size the async dispatch queue and how long a burst may wait for room.
	QueueSize  int           `yaml:"queue_size"`
	SubmitWait time.Duration `yaml:"submit_wait"`
}

type LogConfig struct {
	Level    string `yaml:"level" env:"LOG_LEVEL"` // trace|debug|info|warn|error
	Format   string `yaml:"format"`                // json|console
	Sampling bool   `yaml:"sampling"`              // enable sampling in prod
}

type HTTPConfig struct {
	Port           int    `yaml:"port" env:"HTTP_PORT"`
	JWTSecret      string `yaml:"jwt_secret" env:"JWT_SECRET"`
	CallbackSecret string `yaml:"callback_secret" env:"PAYMENT_CALLBACK_SECRET"`
}

type DatabaseConfig struct {
	Driver     string `yaml:"driver" env:"DATABASE_DRIVER"` // postgres | sqlite
	URL        string `yaml:"url" env:"DATABASE_URL"`
	SQLitePath string `yaml:"sqlite_path" env:"SQLITE_PATH"`
	MaxConns   int32  `yaml:"max_conns"`
	Migrate    bool   `yaml:"migrate"`
}

// RedisConfig is optional: an empty URL disables the distributed lock and rate limiting.
type RedisConfig struct {
	URL      string `yaml:"url" env:"REDIS_URL"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db"`
}

type ReleaseConfig struct {
	Interval       time.Duration `yaml:"interval"`
	SendDelay      time.Duration `yaml:"send_delay"`
	RecoveryWindow time.Duration `yaml:"recovery_window"`
	LockTTL        time.Duration `yaml:"lock_ttl"`
	TickTimeout    time.Duration `yaml:"tick_timeout"`
	BatchSize      int           `yaml:"batch_size"`
}

type ActivationConfig struct {
	RateLimit   int           `yaml:"rate_limit"`
	RateWindow  time.Duration `yaml:"rate_window"`
	StrictPromo bool          `yaml:"strict_promo"`
}

type Config struct {
	Bot        BotConfig        `yaml:"bot"`
	Log        LogConfig        `yaml:"log"`
	HTTP       HTTPConfig       `yaml:"http"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Release    ReleaseConfig    `yaml:"release"`
	Activation ActivationConfig `yaml:"activation"`

	Runtime RuntimeConfig `yaml:"-"`
}

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// LoadConfig reads the YAML file at path, applies environment overrides and defaults,
// then validates. A missing file is fine in dev mode; everything then comes from env.
func LoadConfig(path string, dev bool) (*Config, error) {
	var cfg Config
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist) && dev:
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.Runtime.Dev = dev
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Bot.Workers <= 0 {
		cfg.Bot.Workers = 8
	}
	if cfg.Bot.Mode == "" {
		cfg.Bot.Mode = "polling"
	}
	if cfg.Bot.Language == "" {
		cfg.Bot.Language = "en"
	}
	if cfg.Bot.SendConcurrency <= 0 {
		cfg.Bot.SendConcurrency = 4
	}
	cfg.Bot.SendTimeout = orDefault(cfg.Bot.SendTimeout, 15*time.Second)
	if cfg.Bot.QueueSize <= 0 {
		cfg.Bot.QueueSize = 1024
	}
	cfg.Bot.SubmitWait = orDefault(cfg.Bot.SubmitWait, 2*time.Second)
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.HTTP.Port <= 0 {
		cfg.HTTP.Port = 8080
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = DriverPostgres
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	cfg.Release.Interval = orDefault(cfg.Release.Interval, time.Minute)
	cfg.Release.SendDelay = orDefault(cfg.Release.SendDelay, 50*time.Millisecond)
	cfg.Release.RecoveryWindow = orDefault(cfg.Release.RecoveryWindow, 24*time.Hour)
	cfg.Release.TickTimeout = orDefault(cfg.Release.TickTimeout, 5*time.Minute)
	// A tick may overrun its timeout by one in-flight send; the lock must outlive both.
	cfg.Release.LockTTL = orDefault(cfg.Release.LockTTL, 2*cfg.Release.TickTimeout)
	if cfg.Release.BatchSize <= 0 {
		cfg.Release.BatchSize = 500
	}
	if cfg.Activation.RateLimit <= 0 {
		cfg.Activation.RateLimit = 5
	}
	cfg.Activation.RateWindow = orDefault(cfg.Activation.RateWindow, time.Minute)
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// Validate checks the settings the service cannot start without.
func (c *Config) Validate() error {
	if c.Bot.Token == "" && c.Bot.Mode != "none" && !c.Runtime.Dev {
		return errors.New("bot.token is required")
	}
	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.URL == "" {
			return errors.New("database.url is required")
		}
	case DriverSQLite:
		if c.Database.SQLitePath == "" {
			return errors.New("database.sqlite_path is required")
		}
	default:
		return fmt.Errorf("unknown database.driver %q", c.Database.Driver)
	}
	if c.Release.LockTTL <= c.Release.TickTimeout+c.Bot.SendTimeout {
		return errors.New("release.lock_ttl must exceed release.tick_timeout plus bot.send_timeout")
	}
	if c.HTTP.JWTSecret == "" && !c.Runtime.Dev {
		return errors.New("http.jwt_secret is required")
	}
	return nil
}
