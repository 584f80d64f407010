package app

import (
	"errors"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds runtime configuration for the application.
type Config struct {
	AppEnv            string        `envconfig:"APP_ENV" default:"development"`
	AppAddr           string        `envconfig:"APP_ADDR" default:":8080"`
	AppReadTimeout    time.Duration `envconfig:"APP_READ_TIMEOUT" default:"15s"`
	AppWriteTimeout   time.Duration `envconfig:"APP_WRITE_TIMEOUT" default:"15s"`
	AppRequestTimeout time.Duration `envconfig:"APP_REQUEST_TIMEOUT" default:"30s"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"pretty"`

	PlatformURL    string `envconfig:"PLATFORM_URL" default:"https://api.crossbooks.io/v5"`
	PlatformAPIKey string `envconfig:"PLATFORM_API_KEY" required:"true"`

	RedisAddr string `envconfig:"REDIS_ADDR" default:"127.0.0.1:6379"`

	// RatesURL is the default exchange rates endpoint; books can override it
	// with the exc_rates_url property. ${date} and ${agent} are substituted.
	RatesURL        string        `envconfig:"RATES_URL" default:"https://openexchangerates.org/api/historical/${date}.json"`
	OERAppID        string        `envconfig:"OER_APP_ID" default:""`
	RatesCacheTTL   time.Duration `envconfig:"RATES_CACHE_TTL" default:"30m"`
	RatesCacheStore string        `envconfig:"RATES_CACHE_STORE" default:"memory"`

	FanoutBatchSize int `envconfig:"FANOUT_BATCH_SIZE" default:"14"`

	// GainLossCron schedules recurring gain/loss sweeps over GainLossBooks
	// (dated "today" at run time). Empty disables the schedule.
	GainLossCron  string   `envconfig:"GAINLOSS_CRON" default:""`
	GainLossBooks []string `envconfig:"GAINLOSS_BOOKS" default:""`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if cfg.PlatformAPIKey == "" {
		return nil, errors.New("platform api key must be provided")
	}
	if cfg.RatesCacheStore != "memory" && cfg.RatesCacheStore != "redis" {
		return nil, errors.New("rates cache store must be memory or redis")
	}
	if cfg.GainLossCron != "" && len(cfg.GainLossBooks) == 0 {
		return nil, errors.New("gain/loss cron requires at least one book id")
	}
	return &cfg, nil
}

// IsProduction returns true when the application runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.AppEnv == "production"
}

// DefaultRatesURL returns the rates endpoint with the provider credential
// appended when configured.
func (c *Config) DefaultRatesURL() string {
	if c.OERAppID == "" {
		return c.RatesURL
	}
	sep := "?"
	if strings.Contains(c.RatesURL, "?") {
		sep = "&"
	}
	return c.RatesURL + sep + "app_id=" + c.OERAppID
}
