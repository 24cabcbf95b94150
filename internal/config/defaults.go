package config

import (
	"time"

	"github.com/spf13/viper"
)

// Marketplace names used throughout the configuration.
const (
	MarketTonnel  = "tonnel"
	MarketPortals = "portals"
)

// SetDefaults registers every key so that environment overrides resolve even
// when the config file omits a section.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.admin_chat_id", 0)
	v.SetDefault("telegram.channel_id", 0)

	v.SetDefault("database.url", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "giftarb")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "giftarb")
	v.SetDefault("database.sslmode", "disable")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("security.token_key", "")

	v.SetDefault("markets.tonnel.base_url", "https://api.market.tonnel.network/v1/")
	v.SetDefault("markets.tonnel.commission", 0.06)
	v.SetDefault("markets.tonnel.spacing", 1200*time.Millisecond)
	v.SetDefault("markets.tonnel.timeout", 15*time.Second)
	v.SetDefault("markets.tonnel.auth_url", "")
	v.SetDefault("markets.tonnel.token", "")
	v.SetDefault("markets.tonnel.init_data", "")
	v.SetDefault("markets.tonnel.floor_cache_ttl", 20*time.Second)

	v.SetDefault("markets.portals.base_url", "https://api.portals-market.com/v1/")
	v.SetDefault("markets.portals.commission", 0.05)
	v.SetDefault("markets.portals.spacing", time.Second)
	v.SetDefault("markets.portals.timeout", 15*time.Second)
	v.SetDefault("markets.portals.auth_url", "")
	v.SetDefault("markets.portals.token", "")
	v.SetDefault("markets.portals.init_data", "")
	v.SetDefault("markets.portals.floor_cache_ttl", 20*time.Second)

	v.SetDefault("arbitrage.source", MarketTonnel)
	v.SetDefault("arbitrage.target", MarketPortals)
	v.SetDefault("arbitrage.interval", 5*time.Second)
	v.SetDefault("arbitrage.transfer_fee", 0.22)
	v.SetDefault("arbitrage.test_mode", true)
	v.SetDefault("arbitrage.max_trades_per_cycle", 1)
	v.SetDefault("arbitrage.listing_limit", 50)

	v.SetDefault("resale.interval", 5*time.Minute)

	v.SetDefault("scheduler.data_update_interval", 45*time.Second)
	v.SetDefault("scheduler.auth_update_interval", time.Hour)
	v.SetDefault("scheduler.error_backoff", time.Minute)
	v.SetDefault("scheduler.min_sleep", time.Second)

	v.SetDefault("feed.addr", ":8080")
	v.SetDefault("alerts.cooldown", 30*time.Minute)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
