package model

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Listing represents a single item advertised on a marketplace at poll time.
type Listing struct {
	Market     string
	ItemID     string
	Name       string
	Model      string
	Price      decimal.Decimal
	EndTime    *time.Time
	CurrentBid *decimal.Decimal
}

// EffectivePrice is the price a buyer pays right now: the current bid for
// auctions that carry one, the listed price otherwise.
func (l Listing) EffectivePrice() decimal.Decimal {
	if l.CurrentBid != nil && l.CurrentBid.IsPositive() {
		return *l.CurrentBid
	}
	return l.Price
}

// Key returns the marketplace-independent identity of the listed item.
func (l Listing) Key() string {
	return IdentityKey(l.Name, l.Model)
}

// IdentityKey normalises a (name, model) pair so the same gift variant matches
// across marketplaces regardless of casing or stray whitespace.
func IdentityKey(name, model string) string {
	return strings.ToLower(strings.TrimSpace(name)) + "|" + strings.ToLower(strings.TrimSpace(model))
}

// Opportunity represents a profitable buy-here/sell-there pairing found in one poll.
type Opportunity struct {
	Source       string          `json:"source"`
	Target       string          `json:"target"`
	ItemID       string          `json:"item_id"`
	Name         string          `json:"name"`
	Model        string          `json:"model"`
	BuyPrice     decimal.Decimal `json:"buy_price"`
	SellPrice    decimal.Decimal `json:"sell_price"`
	Profit       decimal.Decimal `json:"profit"`
	PriceRange   string          `json:"price_range"`
	EndTime      *time.Time      `json:"end_time,omitempty"`
	DiscoveredAt time.Time       `json:"discovered_at"`
}

// Identity is the replace-by key used when a newer cycle supersedes an opportunity.
func (o Opportunity) Identity() string {
	return o.Source + "|" + o.Target + "|" + IdentityKey(o.Name, o.Model)
}

// Deal represents an executed (or simulated) arbitrage trade.
type Deal struct {
	ID           int64           `db:"id" json:"id"`
	Timestamp    time.Time       `db:"timestamp" json:"timestamp"`
	ItemID       string          `db:"item_id" json:"item_id"`
	Name         string          `db:"name" json:"name"`
	Model        string          `db:"model" json:"model"`
	SourceMarket string          `db:"source_market" json:"source_market"`
	TargetMarket string          `db:"target_market" json:"target_market"`
	BuyPrice     decimal.Decimal `db:"buy_price" json:"buy_price"`
	SellPrice    decimal.Decimal `db:"sell_price" json:"sell_price"`
	Profit       decimal.Decimal `db:"profit" json:"profit"`
	TestMode     bool            `db:"test_mode" json:"test_mode"`
}

// Settings holds the operator-tunable trading parameters.
type Settings struct {
	MinPrice       decimal.Decimal `json:"min_price"`
	MaxPrice       decimal.Decimal `json:"max_price"`
	MinProfit      decimal.Decimal `json:"min_profit"`
	ResaleOffset   decimal.Decimal `json:"resale_offset"`
	MarketsEnabled map[string]bool `json:"markets_enabled"`
}

// DefaultSettings returns the values used before an operator changes anything.
func DefaultSettings() Settings {
	return Settings{
		MinPrice:       decimal.NewFromInt(1),
		MaxPrice:       decimal.NewFromInt(100),
		MinProfit:      decimal.RequireFromString("0.1"),
		ResaleOffset:   decimal.RequireFromString("0.01"),
		MarketsEnabled: map[string]bool{},
	}
}

// MarketEnabled reports whether trading on the named market is switched on.
// Markets without an explicit flag are enabled.
func (s Settings) MarketEnabled(market string) bool {
	enabled, ok := s.MarketsEnabled[market]
	return !ok || enabled
}

// Clone returns a copy that shares no mutable state with s.
func (s Settings) Clone() Settings {
	out := s
	out.MarketsEnabled = make(map[string]bool, len(s.MarketsEnabled))
	for k, v := range s.MarketsEnabled {
		out.MarketsEnabled[k] = v
	}
	return out
}

// Validate checks the invariants an admin update must preserve.
func (s Settings) Validate() error {
	var errs []error
	if s.MinPrice.IsNegative() {
		errs = append(errs, errors.New("min_price must not be negative"))
	}
	if s.MaxPrice.IsNegative() {
		errs = append(errs, errors.New("max_price must not be negative"))
	}
	if s.MinPrice.GreaterThan(s.MaxPrice) {
		errs = append(errs, errors.New("min_price must not exceed max_price"))
	}
	if s.ResaleOffset.IsNegative() {
		errs = append(errs, errors.New("resale_offset must not be negative"))
	}
	return errors.Join(errs...)
}

// AuthToken is a per-marketplace credential.
type AuthToken struct {
	Market    string
	Value     string
	ExpiresAt time.Time
	UpdatedAt time.Time
}

// Valid reports whether the token can be sent with a request at now.
// A zero ExpiresAt means the token does not expire.
func (t AuthToken) Valid(now time.Time) bool {
	if t.Value == "" {
		return false
	}
	return t.ExpiresAt.IsZero() || now.Before(t.ExpiresAt)
}
