package exchange

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"giftarb/internal/cache"
	"giftarb/internal/config"
)

// NewClient creates a new marketplace client based on the given name and configuration.
func NewClient(name string, logger *slog.Logger, cfg config.MarketConfig, tokens TokenStore, c cache.Cache, alerter Alerter) (Gateway, error) {
	opts := Options{
		BaseURL:       cfg.BaseURL,
		Commission:    cfg.CommissionRate(),
		Spacing:       cfg.Spacing,
		Timeout:       cfg.Timeout,
		FloorCacheTTL: cfg.FloorCacheTTL,
	}
	source := NewTokenSource(name, cfg)

	switch name {
	case config.MarketTonnel:
		return NewTonnelClient(name, opts, tokens, source, c, alerter, logger), nil
	case config.MarketPortals:
		return NewPortalsClient(name, opts, tokens, source, c, alerter, logger), nil
	default:
		return nil, fmt.Errorf("unknown marketplace: %s", name)
	}
}

// NewTokenSource picks the init-data exchange when init data is configured and
// the static secret otherwise. Both re-read the environment on every refresh.
func NewTokenSource(name string, cfg config.MarketConfig) TokenSource {
	prefix := "GIFTARB_MARKETS_" + strings.ToUpper(name) + "_"
	if cfg.InitData != "" || os.Getenv(prefix+"INIT_DATA") != "" {
		return InitDataTokenSource{
			AuthURL:    cfg.AuthURL,
			InitData:   envOr(prefix+"INIT_DATA", cfg.InitData),
			HTTPClient: &http.Client{Timeout: cfg.Timeout},
		}
	}
	return StaticTokenSource{Value: envOr(prefix+"TOKEN", cfg.Token)}
}

func envOr(key, fallback string) func() string {
	return func() string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return fallback
	}
}
