package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"giftarb/internal/model"
)

// Config stores all configuration for the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Telegram    TelegramConfig          `mapstructure:"telegram"`
	Database    DatabaseConfig          `mapstructure:"database"`
	Redis       RedisConfig             `mapstructure:"redis"`
	Security    SecurityConfig          `mapstructure:"security"`
	Markets     map[string]MarketConfig `mapstructure:"markets" validate:"min=2,dive"`
	Arbitrage   ArbitrageConfig         `mapstructure:"arbitrage"`
	Resale      ResaleConfig            `mapstructure:"resale"`
	Scheduler   SchedulerConfig         `mapstructure:"scheduler"`
	Feed        FeedConfig              `mapstructure:"feed"`
	Alerts      AlertsConfig            `mapstructure:"alerts"`
	PriceRanges []PriceRangeConfig      `mapstructure:"price_ranges" validate:"dive"`
	Logging     LoggingConfig           `mapstructure:"logging"`
}

// TelegramConfig defines the bot used for notifications and admin commands.
// An empty BotToken disables Telegram and notifications go to the log.
type TelegramConfig struct {
	BotToken    string `mapstructure:"bot_token"`
	AdminChatID int64  `mapstructure:"admin_chat_id"`
	ChannelID   int64  `mapstructure:"channel_id"`
}

// DatabaseConfig defines the database connection settings.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN returns the connection string, preferring an explicit URL.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode)
}

// RedisConfig defines the cache connection. An empty Addr selects the in-process cache.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// SecurityConfig holds the passphrase used to seal auth tokens at rest.
type SecurityConfig struct {
	TokenKey string `mapstructure:"token_key" validate:"required,min=16"`
}

// MarketConfig defines settings for a specific marketplace.
type MarketConfig struct {
	BaseURL    string        `mapstructure:"base_url" validate:"required,url"`
	Commission float64       `mapstructure:"commission" validate:"gte=0,lt=1"`
	Spacing    time.Duration `mapstructure:"spacing" validate:"gt=0"`
	Timeout    time.Duration `mapstructure:"timeout" validate:"gt=0"`
	AuthURL    string        `mapstructure:"auth_url" validate:"omitempty,url"`
	Token      string        `mapstructure:"token"`
	InitData   string        `mapstructure:"init_data"`

	// FloorCacheTTL bounds how long a fetched floor-price table is reused.
	FloorCacheTTL time.Duration `mapstructure:"floor_cache_ttl" validate:"gte=0"`
}

// CommissionRate returns the commission as a decimal fraction.
func (m MarketConfig) CommissionRate() decimal.Decimal {
	return decimal.NewFromFloat(m.Commission)
}

// ArbitrageConfig defines the arbitrage-related settings.
type ArbitrageConfig struct {
	Source            string        `mapstructure:"source" validate:"required,nefield=Target"`
	Target            string        `mapstructure:"target" validate:"required"`
	Interval          time.Duration `mapstructure:"interval" validate:"gt=0"`
	TransferFee       float64       `mapstructure:"transfer_fee" validate:"gte=0"`
	TestMode          bool          `mapstructure:"test_mode"`
	MaxTradesPerCycle int           `mapstructure:"max_trades_per_cycle" validate:"gte=0"`
	ListingLimit      int           `mapstructure:"listing_limit" validate:"gt=0"`
}

// TransferFeeAmount returns the fixed per-trade transfer fee.
func (a ArbitrageConfig) TransferFeeAmount() decimal.Decimal {
	return decimal.NewFromFloat(a.TransferFee)
}

// ResaleConfig defines the repricing loop settings.
type ResaleConfig struct {
	Interval time.Duration `mapstructure:"interval" validate:"gt=0"`
}

// SchedulerConfig defines the periodic discovery and token refresh cadence.
type SchedulerConfig struct {
	DataUpdateInterval time.Duration `mapstructure:"data_update_interval" validate:"gt=0"`
	AuthUpdateInterval time.Duration `mapstructure:"auth_update_interval" validate:"gt=0"`
	ErrorBackoff       time.Duration `mapstructure:"error_backoff" validate:"gt=0"`
	MinSleep           time.Duration `mapstructure:"min_sleep" validate:"gt=0"`
}

// FeedConfig defines the opportunity feed listener. An empty Addr disables it.
type FeedConfig struct {
	Addr string `mapstructure:"addr"`
}

// AlertsConfig defines how often the same admin alert may repeat.
type AlertsConfig struct {
	Cooldown time.Duration `mapstructure:"cooldown" validate:"gte=0"`
}

// PriceRangeConfig is one presentation bracket.
type PriceRangeConfig struct {
	Low  float64 `mapstructure:"low" validate:"gte=0"`
	High float64 `mapstructure:"high" validate:"gtfield=Low"`
}

// Ranges converts the configured brackets, falling back to the defaults.
func (c *Config) Ranges() []model.PriceRange {
	if len(c.PriceRanges) == 0 {
		return model.DefaultPriceRanges()
	}
	out := make([]model.PriceRange, 0, len(c.PriceRanges))
	for _, r := range c.PriceRanges {
		low := decimal.NewFromFloat(r.Low)
		high := decimal.NewFromFloat(r.High)
		out = append(out, model.PriceRange{Label: low.String() + "-" + high.String(), Low: low, High: high})
	}
	return out
}

// LoadConfig reads configuration from file or environment variables.
// path may be a directory containing config.yaml or a file path.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	if ext := filepath.Ext(path); ext == ".yaml" || ext == ".yml" {
		v.SetConfigFile(path)
	} else {
		if path == "" {
			path = "."
		}
		v.AddConfigPath(path)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("GIFTARB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := ValidateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}
