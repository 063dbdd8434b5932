package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config stores all configuration for the application.
type Config struct {
	PostgresURL string `mapstructure:"POSTGRES_URL"`
	RedisAddr   string `mapstructure:"REDIS_ADDR"`
	ServerPort  string `mapstructure:"SERVER_PORT"`

	BaseURL   string `mapstructure:"BASE_URL"`
	City      string `mapstructure:"CITY"`
	UserAgent string `mapstructure:"USER_AGENT"`

	// Fetcher selects the page transport: "browser" (chromedp) or "http".
	Fetcher      string `mapstructure:"FETCHER"`
	FetchTimeout int    `mapstructure:"FETCH_TIMEOUT"` // seconds

	ScanDelaySearch      int    `mapstructure:"SCAN_DELAY_SEARCH"` // seconds
	ScanDelayHouse       int    `mapstructure:"SCAN_DELAY_HOUSE"`  // seconds
	MaxConsecutiveErrors int    `mapstructure:"MAX_CONSECUTIVE_ERRORS"`
	NoDataTTLHours       int    `mapstructure:"NO_DATA_TTL_HOURS"`
	ScanCron             string `mapstructure:"SCAN_CRON"`
}

// SearchCategories maps a discovery category to its source URL path fragment.
// The "rent" search mixes long- and short-term listings; the scanner tells
// them apart by price postfix.
var SearchCategories = map[string]string{
	"sale": "prodam-ASgBAgICAUSSA8YQ",
	"rent": "sdam-ASgBAgICAUSSA8gQ",
}

// CategoryOrder fixes the sequence categories are scanned in.
var CategoryOrder = []string{"sale", "rent"}

// RentalCategories are discovery categories whose listings default to
// rent_long when the price postfix carries no period marker.
var RentalCategories = map[string]bool{
	"rent": true,
}

// Load reads configuration from file or environment variables.
func Load() (*Config, error) {
	viper.SetConfigFile(".env")
	viper.SetConfigType("env")
	viper.AutomaticEnv()

	// Attempt to read the .env file, but don't fail if it's not present
	// This allows configuration purely through environment variables in production
	_ = viper.ReadInConfig()

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("BASE_URL", "https://www.avito.ru")
	viper.SetDefault("CITY", "yoshkar-ola")
	viper.SetDefault("USER_AGENT",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 "+
			"(KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36")
	viper.SetDefault("FETCHER", "browser")
	viper.SetDefault("FETCH_TIMEOUT", 30)
	viper.SetDefault("SCAN_DELAY_SEARCH", 4)
	viper.SetDefault("SCAN_DELAY_HOUSE", 6)
	viper.SetDefault("MAX_CONSECUTIVE_ERRORS", 5)
	viper.SetDefault("NO_DATA_TTL_HOURS", 48)

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SearchDelay is the pacing delay applied after every discovery page and
// every resolution attempt.
func (c *Config) SearchDelay() time.Duration {
	return time.Duration(c.ScanDelaySearch) * time.Second
}

// HouseDelay is the pacing delay applied after every enrichment attempt.
func (c *Config) HouseDelay() time.Duration {
	return time.Duration(c.ScanDelayHouse) * time.Second
}

// NoDataTTL is how long a house page that yielded no data stays marked.
func (c *Config) NoDataTTL() time.Duration {
	return time.Duration(c.NoDataTTLHours) * time.Hour
}
