package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"VNPriceCache/internal/model"
)

// SourceConfig describes one upstream price provider.
type SourceConfig struct {
	Name       string        `yaml:"name" validate:"required,oneof=vci tcbs mock"`
	BaseURL    string        `yaml:"base_url" validate:"required,url"`
	Timeout    time.Duration `yaml:"timeout" validate:"gt=0"`
	RatePerSec float64       `yaml:"rate_per_sec" validate:"gt=0"`
}

// Config holds all application configuration.
type Config struct {
	Database struct {
		SQLitePath string `yaml:"sqlite_path" validate:"required"`
	} `yaml:"database"`
	Universe struct {
		File   string `yaml:"file"`
		Column string `yaml:"column"`
	} `yaml:"universe"`
	Refresh struct {
		DefaultHistoryStart string        `yaml:"default_history_start"`
		LookbackDays        int           `yaml:"lookback_days" validate:"gt=0"`
		Timezone            string        `yaml:"timezone" validate:"required"`
		Pacing              time.Duration `yaml:"pacing" validate:"gte=0"`
		FallbackPause       time.Duration `yaml:"fallback_pause" validate:"gte=0"`
		Jitter              time.Duration `yaml:"jitter" validate:"gte=0"`
		BatchSize           int           `yaml:"batch_size" validate:"gte=0"`
		BatchPause          time.Duration `yaml:"batch_pause" validate:"gte=0"`
		MaxAttempts         int           `yaml:"max_attempts" validate:"gte=1"`
		RetryInitial        time.Duration `yaml:"retry_initial" validate:"gte=0"`
		RetryMax            time.Duration `yaml:"retry_max" validate:"gte=0"`
	} `yaml:"refresh"`
	Sources struct {
		Primary   SourceConfig `yaml:"primary"`
		Secondary SourceConfig `yaml:"secondary"`
	} `yaml:"sources"`
	Schedule struct {
		Cron string `yaml:"cron"`
	} `yaml:"schedule"`
	Telegram struct {
		BotToken string `yaml:"bot_token"`
		ChatID   string `yaml:"chat_id"`
	} `yaml:"telegram"`
	Metrics struct {
		Listen string `yaml:"listen"`
	} `yaml:"metrics"`
	Log struct {
		Level  string `yaml:"level" validate:"omitempty,oneof=trace debug info warn error"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"log"`
	Proxy string `yaml:"proxy"`
}

// Load reads config from a YAML file, then applies .env and environment variable overrides.
// A missing file is not an error; defaults cover every key.
func Load(path string) (*Config, error) {
	loadDotenv()

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

	applyEnv(cfg)
	applyDefaults(cfg)
	return cfg, nil
}

// loadDotenv loads .env (or ENV_FILE) without overriding variables already set.
// NO_DOTENV=1 disables it.
func loadDotenv() {
	if os.Getenv("NO_DOTENV") == "1" {
		return
	}
	if f := os.Getenv("ENV_FILE"); f != "" {
		_ = godotenv.Load(f)
		return
	}
	if _, err := os.Stat(".env"); err == nil {
		_ = godotenv.Load(".env")
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Database.SQLitePath = v
	}
	if v := os.Getenv("UNIVERSE_FILE"); v != "" {
		cfg.Universe.File = v
	}
	if v := os.Getenv("DEFAULT_HISTORY_START"); v != "" {
		cfg.Refresh.DefaultHistoryStart = v
	}
	if v := os.Getenv("REFRESH_PACING"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Refresh.Pacing = d
		}
	}
	if v := os.Getenv("REFRESH_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Refresh.MaxAttempts = n
		}
	}
	if v := os.Getenv("CRON_REFRESH"); v != "" {
		cfg.Schedule.Cron = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Telegram.ChatID = v
	}
	if v := os.Getenv("METRICS_LISTEN"); v != "" {
		cfg.Metrics.Listen = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("HTTPS_PROXY"); v != "" {
		cfg.Proxy = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Database.SQLitePath == "" {
		cfg.Database.SQLitePath = "data/ohlcv_cache.db"
	}
	if cfg.Universe.Column == "" {
		cfg.Universe.Column = "ticker"
	}
	if cfg.Refresh.LookbackDays == 0 {
		cfg.Refresh.LookbackDays = 365 * 5
	}
	if cfg.Refresh.Timezone == "" {
		cfg.Refresh.Timezone = "Asia/Ho_Chi_Minh"
	}
	if cfg.Refresh.Pacing == 0 {
		cfg.Refresh.Pacing = 800 * time.Millisecond
	}
	if cfg.Refresh.FallbackPause == 0 {
		cfg.Refresh.FallbackPause = 500 * time.Millisecond
	}
	if cfg.Refresh.BatchSize == 0 {
		cfg.Refresh.BatchSize = 50
	}
	if cfg.Refresh.BatchPause == 0 {
		cfg.Refresh.BatchPause = 10 * time.Second
	}
	if cfg.Refresh.MaxAttempts == 0 {
		cfg.Refresh.MaxAttempts = 1
	}
	if cfg.Refresh.RetryInitial == 0 {
		cfg.Refresh.RetryInitial = 30 * time.Second
	}
	if cfg.Refresh.RetryMax == 0 {
		cfg.Refresh.RetryMax = 5 * time.Minute
	}
	sourceDefaults(&cfg.Sources.Primary, "vci", "https://trading.vietcap.com.vn/api")
	sourceDefaults(&cfg.Sources.Secondary, "tcbs", "https://apipubaws.tcbs.com.vn")
	if cfg.Schedule.Cron == "" {
		cfg.Schedule.Cron = "0 30 18 * * 1-5"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

func sourceDefaults(sc *SourceConfig, name, baseURL string) {
	if sc.Name == "" {
		sc.Name = name
	}
	if sc.BaseURL == "" {
		sc.BaseURL = baseURL
	}
	if sc.Timeout == 0 {
		sc.Timeout = 10 * time.Second
	}
	if sc.RatePerSec == 0 {
		sc.RatePerSec = 2
	}
}

// Validate checks struct constraints and the fields that need parsing.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Sources.Primary.Name == c.Sources.Secondary.Name {
		return fmt.Errorf("sources.primary and sources.secondary must differ, both are %q", c.Sources.Primary.Name)
	}
	if c.Refresh.DefaultHistoryStart != "" {
		if _, err := model.ParseDay(c.Refresh.DefaultHistoryStart); err != nil {
			return fmt.Errorf("refresh.default_history_start: %w", err)
		}
	}
	if _, err := time.LoadLocation(c.Refresh.Timezone); err != nil {
		return fmt.Errorf("refresh.timezone: %w", err)
	}
	if c.Proxy != "" {
		if err := checkProxy(c.Proxy); err != nil {
			return fmt.Errorf("proxy: %w", err)
		}
	}
	if c.Telegram.BotToken != "" && c.Telegram.ChatID == "" {
		return fmt.Errorf("telegram.chat_id is required when telegram.bot_token is set")
	}
	return nil
}

// checkProxy accepts the URL forms net/http can dial through.
func checkProxy(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "http", "https", "socks5", "socks5h":
	default:
		return fmt.Errorf("%q: scheme must be http, https or socks5", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%q: missing host", raw)
	}
	return nil
}

// Location returns the timezone that defines "today" for fetch windows.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Refresh.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// HistoryStart returns the first date to fetch for a symbol with no cached bars.
func (c *Config) HistoryStart(today time.Time) time.Time {
	if c.Refresh.DefaultHistoryStart != "" {
		if d, err := model.ParseDay(c.Refresh.DefaultHistoryStart); err == nil {
			return d
		}
	}
	return model.Day(today).AddDate(0, 0, -c.Refresh.LookbackDays)
}
