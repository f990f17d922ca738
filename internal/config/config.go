package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// CustomSource declares a user-configured JSON price endpoint. Rules are
// ordered JSONPath expressions; the first one yielding a value wins.
type CustomSource struct {
	Name          string   `yaml:"name" validate:"required"`
	URL           string   `yaml:"url" validate:"required,contains={symbol}"`
	Symbols       []string `yaml:"symbols"`
	Price         []string `yaml:"price" validate:"min=1"`
	PreviousClose []string `yaml:"previous_close"`
	LongName      []string `yaml:"long_name"`
	Currency      []string `yaml:"currency"`
	HistoryPath   string   `yaml:"history_path"`
	DateField     string   `yaml:"date_field"`
	CloseField    string   `yaml:"close_field"`
}

// Config holds all application configuration.
type Config struct {
	Market struct {
		Workers        int           `yaml:"workers" validate:"gt=0"`
		RequestTimeout time.Duration `yaml:"request_timeout" validate:"gt=0"`
		RateLimit      float64       `yaml:"rate_limit"`
		Burst          int           `yaml:"burst"`
		Cooldown       time.Duration `yaml:"cooldown"`
		UserAgent      string        `yaml:"user_agent"`
	} `yaml:"market"`
	Cache struct {
		Quote        time.Duration `yaml:"quote"`
		QuoteFailure time.Duration `yaml:"quote_failure"`
		History      time.Duration `yaml:"history"`
		Resolution   time.Duration `yaml:"resolution"`
		Fundamentals time.Duration `yaml:"fundamentals"`
		Custom       time.Duration `yaml:"custom"`
	} `yaml:"cache"`
	Providers struct {
		Primary      string `yaml:"primary"`
		Secondary    string `yaml:"secondary"`
		Exchange     string `yaml:"exchange"`
		CSV          string `yaml:"csv"`
		Fund         string `yaml:"fund"`
		Fundamentals string `yaml:"fundamentals"`
	} `yaml:"providers"`
	CustomSources []CustomSource `yaml:"custom_sources" validate:"dive"`
	Redis         struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix"`
	} `yaml:"redis"`
	Database struct {
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"database"`
	Schedule struct {
		RefreshCron  string `yaml:"refresh_cron"`
		SnapshotCron string `yaml:"snapshot_cron"`
	} `yaml:"schedule"`
	Telegram struct {
		BotToken string `yaml:"bot_token" validate:"required_with=ChatID"`
		ChatID   string `yaml:"chat_id" validate:"required_with=BotToken"`
	} `yaml:"telegram"`
	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
	Metrics struct {
		Addr string `yaml:"addr"`
	} `yaml:"metrics"`
	Proxy string `yaml:"proxy"`
}

// Load reads config from a YAML file, then applies environment variable
// overrides and defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Telegram.ChatID = v
	}
	if v := os.Getenv("HTTPS_PROXY"); v != "" {
		cfg.Proxy = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Database.SQLitePath = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MARKET_WORKERS"); v != "" {
		var workers int
		if _, err := fmt.Sscanf(v, "%d", &workers); err == nil {
			cfg.Market.Workers = workers
		}
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Market.Workers == 0 {
		c.Market.Workers = 4
	}
	if c.Market.RequestTimeout == 0 {
		c.Market.RequestTimeout = 10 * time.Second
	}
	if c.Market.RateLimit == 0 {
		c.Market.RateLimit = 5
	}
	if c.Market.Burst == 0 {
		c.Market.Burst = 5
	}
	if c.Market.Cooldown == 0 {
		c.Market.Cooldown = 15 * time.Minute
	}
	if c.Cache.Quote == 0 {
		c.Cache.Quote = 60 * time.Second
	}
	if c.Cache.QuoteFailure == 0 {
		c.Cache.QuoteFailure = 10 * time.Second
	}
	if c.Cache.History == 0 {
		c.Cache.History = 6 * time.Hour
	}
	if c.Cache.Resolution == 0 {
		c.Cache.Resolution = 24 * time.Hour
	}
	if c.Cache.Fundamentals == 0 {
		c.Cache.Fundamentals = 24 * time.Hour
	}
	if c.Cache.Custom == 0 {
		c.Cache.Custom = 15 * time.Second
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "lens:"
	}
	if c.Database.SQLitePath == "" {
		c.Database.SQLitePath = "data/portfolio_lens.db"
	}
	if c.Schedule.RefreshCron == "" {
		c.Schedule.RefreshCron = "0 */5 * * * *"
	}
	if c.Schedule.SnapshotCron == "" {
		c.Schedule.SnapshotCron = "0 0 22 * * 1-5"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// TelegramEnabled reports whether digests can be sent.
func (c *Config) TelegramEnabled() bool {
	return c.Telegram.BotToken != "" && c.Telegram.ChatID != ""
}

var validate = validator.New()

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	// A symbol may only be served by one custom source.
	seen := make(map[string]string)
	for _, src := range c.CustomSources {
		for _, sym := range src.Symbols {
			sym = strings.ToUpper(sym)
			if owner, ok := seen[sym]; ok {
				return fmt.Errorf("symbol %s is claimed by custom sources %s and %s", sym, owner, src.Name)
			}
			seen[sym] = src.Name
		}
	}
	return nil
}
