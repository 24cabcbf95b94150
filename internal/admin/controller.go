// Package admin implements the operator command surface. Controller holds the
// intents; front ends such as TelegramBot only parse and relay text.
package admin

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"giftarb/internal/database"
	"giftarb/internal/model"
)

// Engine is the part of the arbitrage engine the operator controls.
type Engine interface {
	Start(ctx context.Context) bool
	Stop() bool
	Running() bool
	TestMode() bool
	ToggleTestMode() bool
	Markets() (string, string)
}

// Resale is the part of the resale module the operator controls.
type Resale interface {
	Toggle(ctx context.Context) bool
	Active() bool
}

// Updater forces a discovery cycle.
type Updater interface {
	ForceUpdate(ctx context.Context) (int, error)
}

// Store is the slice of the repository the commands read and write.
type Store interface {
	GetSettings(ctx context.Context) (model.Settings, error)
	UpdateSettings(ctx context.Context, settings model.Settings) error
	RecentDeals(ctx context.Context, limit int) ([]model.Deal, error)
	ListOpportunities(ctx context.Context, filter database.OpportunityFilter) ([]model.Opportunity, error)
}

const (
	defaultHistory       = 10
	maxHistory           = 50
	opportunitiesPerPage = 10
)

const helpText = `Commands:
/start - start arbitrage
/stop - stop arbitrage
/testmode - toggle test mode
/resale - toggle resale module
/status - show state
/settings - show settings
/set <min_price|max_price|min_profit|resale_offset> <value>
/enable <market>, /disable <market>
/history [n] - recent deals
/update - run discovery now
/opportunities [range] [profit|end_time]`

// Controller executes admin commands and renders plain-text replies.
type Controller struct {
	engine  Engine
	resale  Resale
	updater Updater
	store   Store
	ranges  []model.PriceRange
	logger  *slog.Logger
}

// NewController creates a Controller.
func NewController(logger *slog.Logger, engine Engine, resale Resale, updater Updater, store Store, ranges []model.PriceRange) *Controller {
	return &Controller{
		engine:  engine,
		resale:  resale,
		updater: updater,
		store:   store,
		ranges:  ranges,
		logger:  logger,
	}
}

// Handle runs command with args and returns the reply. Unknown commands get the help text.
func (c *Controller) Handle(ctx context.Context, command string, args []string) string {
	command = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(command), "/"))
	c.logger.Info("Admin: command received", "command", command, "args", args)

	switch command {
	case "start":
		if c.engine.Start(ctx) {
			return "▶️ Arbitrage started"
		}
		return "Arbitrage is already running"
	case "stop":
		if c.engine.Stop() {
			return "⏹ Arbitrage stopped"
		}
		return "Arbitrage is not running"
	case "testmode":
		if c.engine.ToggleTestMode() {
			return "🧪 Test mode ON: trades are simulated"
		}
		return "💰 Test mode OFF: trades are live"
	case "resale":
		if c.resale.Toggle(ctx) {
			return "Resale module is now active"
		}
		return "Resale module is now inactive"
	case "status":
		return c.status(ctx)
	case "settings":
		return c.settings(ctx)
	case "set":
		return c.set(ctx, args)
	case "enable", "disable":
		return c.setMarket(ctx, args, command == "enable")
	case "history":
		return c.history(ctx, args)
	case "update":
		return c.update(ctx)
	case "opportunities", "opps":
		return c.opportunities(ctx, args)
	default:
		return helpText
	}
}

func (c *Controller) status(ctx context.Context) string {
	source, target := c.engine.Markets()
	var b strings.Builder
	fmt.Fprintf(&b, "Arbitrage: %s\n", onOff(c.engine.Running()))
	fmt.Fprintf(&b, "Test mode: %s\n", onOff(c.engine.TestMode()))
	fmt.Fprintf(&b, "Resale: %s\n", onOff(c.resale.Active()))
	fmt.Fprintf(&b, "Markets: %s ⇄ %s", source, target)

	if settings, err := c.store.GetSettings(ctx); err == nil {
		for _, m := range []string{source, target} {
			fmt.Fprintf(&b, "\n  %s: %s", m, enabledLabel(settings.MarketEnabled(m)))
		}
	}
	return b.String()
}

func (c *Controller) settings(ctx context.Context) string {
	s, err := c.store.GetSettings(ctx)
	if err != nil {
		c.logger.Error("Admin: failed to load settings", "error", err)
		return "❌ Could not load settings"
	}
	return fmt.Sprintf("Settings:\nmin_price: %s\nmax_price: %s\nmin_profit: %s\nresale_offset: %s",
		s.MinPrice, s.MaxPrice, s.MinProfit, s.ResaleOffset)
}

func (c *Controller) set(ctx context.Context, args []string) string {
	if len(args) != 2 {
		return "Usage: /set <min_price|max_price|min_profit|resale_offset> <value>"
	}
	value, err := decimal.NewFromString(args[1])
	if err != nil {
		return fmt.Sprintf("❌ %q is not a number", args[1])
	}

	s, err := c.store.GetSettings(ctx)
	if err != nil {
		c.logger.Error("Admin: failed to load settings", "error", err)
		return "❌ Could not load settings"
	}
	s = s.Clone()

	key := strings.ToLower(args[0])
	switch key {
	case "min_price":
		s.MinPrice = value
	case "max_price":
		s.MaxPrice = value
	case "min_profit":
		s.MinProfit = value
	case "resale_offset":
		s.ResaleOffset = value
	default:
		return fmt.Sprintf("❌ Unknown setting %q", args[0])
	}

	if err := c.store.UpdateSettings(ctx, s); err != nil {
		c.logger.Warn("Admin: settings update rejected", "key", key, "error", err)
		return fmt.Sprintf("❌ Update rejected: %v", err)
	}
	return fmt.Sprintf("✅ %s = %s", key, value)
}

func (c *Controller) setMarket(ctx context.Context, args []string, enabled bool) string {
	if len(args) != 1 {
		return "Usage: /enable <market> or /disable <market>"
	}
	market := strings.ToLower(args[0])
	source, target := c.engine.Markets()
	if market != source && market != target {
		return fmt.Sprintf("❌ Unknown market %q", args[0])
	}

	s, err := c.store.GetSettings(ctx)
	if err != nil {
		c.logger.Error("Admin: failed to load settings", "error", err)
		return "❌ Could not load settings"
	}
	s = s.Clone()
	s.MarketsEnabled[market] = enabled

	if err := c.store.UpdateSettings(ctx, s); err != nil {
		c.logger.Error("Admin: failed to update market flag", "market", market, "error", err)
		return "❌ Could not save settings"
	}
	return fmt.Sprintf("✅ %s %s", market, enabledLabel(enabled))
}

func (c *Controller) history(ctx context.Context, args []string) string {
	limit := defaultHistory
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return "Usage: /history [n]"
		}
		limit = min(n, maxHistory)
	}

	deals, err := c.store.RecentDeals(ctx, limit)
	if err != nil {
		c.logger.Error("Admin: failed to load deals", "error", err)
		return "❌ Could not load deals"
	}
	if len(deals) == 0 {
		return "No deals yet"
	}

	var b strings.Builder
	b.WriteString("Recent deals:")
	for _, d := range deals {
		mode := ""
		if d.TestMode {
			mode = " [test]"
		}
		fmt.Fprintf(&b, "\n%s %s (%s) %s→%s %s→%s profit %s%s",
			d.Timestamp.UTC().Format("01-02 15:04"), d.Name, d.Model,
			d.SourceMarket, d.TargetMarket, d.BuyPrice, d.SellPrice, d.Profit, mode)
	}
	return b.String()
}

func (c *Controller) update(ctx context.Context) string {
	count, err := c.updater.ForceUpdate(ctx)
	if err != nil {
		c.logger.Error("Admin: forced update failed", "error", err)
		return "❌ Update failed"
	}
	return fmt.Sprintf("🔄 Update complete: %d opportunities", count)
}

func (c *Controller) opportunities(ctx context.Context, args []string) string {
	filter := database.OpportunityFilter{Limit: opportunitiesPerPage}
	for _, arg := range args {
		switch {
		case arg == database.SortByProfit || arg == database.SortByEndTime:
			filter.SortBy = arg
		case arg == model.OtherRange:
			filter.PriceRange = arg
		default:
			if _, ok := model.FindRange(arg, c.ranges); !ok {
				return fmt.Sprintf("❌ Unknown range %q. Ranges: %s", arg, c.rangeLabels())
			}
			filter.PriceRange = arg
		}
	}

	opps, err := c.store.ListOpportunities(ctx, filter)
	if err != nil {
		c.logger.Error("Admin: failed to list opportunities", "error", err)
		return "❌ Could not load opportunities"
	}
	if len(opps) == 0 {
		return "No opportunities right now"
	}

	var b strings.Builder
	b.WriteString("Opportunities:")
	for _, o := range opps {
		fmt.Fprintf(&b, "\n%s (%s) %s %s→%s %s profit %s [%s]",
			o.Name, o.Model, o.Source, o.BuyPrice, o.Target, o.SellPrice, o.Profit, o.PriceRange)
		if o.EndTime != nil {
			fmt.Fprintf(&b, " ends %s", o.EndTime.UTC().Format("01-02 15:04"))
		}
	}
	return b.String()
}

func (c *Controller) rangeLabels() string {
	labels := make([]string, 0, len(c.ranges)+1)
	for _, r := range c.ranges {
		labels = append(labels, r.Label)
	}
	return strings.Join(append(labels, model.OtherRange), ", ")
}

func onOff(b bool) string {
	if b {
		return "ON"
	}
	return "OFF"
}

func enabledLabel(b bool) string {
	if b {
		return "enabled"
	}
	return "disabled"
}
