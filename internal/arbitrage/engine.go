package arbitrage

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"giftarb/internal/config"
	"giftarb/internal/database"
	"giftarb/internal/exchange"
	"giftarb/internal/model"
	"giftarb/internal/notify"
	"giftarb/internal/worker"
)

// ArbitrageEngine holds the logic for identifying and executing arbitrage opportunities.
type ArbitrageEngine struct {
	logger   *slog.Logger
	repo     database.Repository
	cfg      *config.Config
	notifier notify.Notifier

	source   exchange.Gateway
	target   exchange.Gateway
	gateways map[string]exchange.Gateway
	ranges   []model.PriceRange

	testMode atomic.Bool
	loop     *worker.Loop
}

// NewArbitrageEngine creates a new instance of the ArbitrageEngine trading
// between source and target. Test mode starts as configured.
func NewArbitrageEngine(logger *slog.Logger, repo database.Repository, cfg *config.Config, source, target exchange.Gateway, notifier notify.Notifier) *ArbitrageEngine {
	e := &ArbitrageEngine{
		logger:   logger,
		repo:     repo,
		cfg:      cfg,
		notifier: notifier,
		source:   source,
		target:   target,
		gateways: map[string]exchange.Gateway{source.Name(): source, target.Name(): target},
		ranges:   cfg.Ranges(),
	}
	e.testMode.Store(cfg.Arbitrage.TestMode)
	e.loop = worker.NewLoop("arbitrage", logger, worker.Options{
		Interval:     cfg.Arbitrage.Interval,
		ErrorBackoff: cfg.Scheduler.ErrorBackoff,
		MinSleep:     cfg.Scheduler.MinSleep,
	}, e.RunCycle)
	return e
}

// Start launches the trading loop. It returns false when already running.
func (e *ArbitrageEngine) Start(ctx context.Context) bool {
	if !e.loop.Start(ctx) {
		return false
	}
	e.logger.Info("ArbitrageEngine: started", "test_mode", e.TestMode())
	return true
}

// Stop halts the trading loop and waits for the current cycle. It returns
// false when the engine was not running.
func (e *ArbitrageEngine) Stop() bool {
	if !e.loop.Stop() {
		return false
	}
	e.logger.Info("ArbitrageEngine: stopped")
	return true
}

// Running reports whether the trading loop is active.
func (e *ArbitrageEngine) Running() bool { return e.loop.Running() }

// TestMode reports whether trades are simulated.
func (e *ArbitrageEngine) TestMode() bool { return e.testMode.Load() }

// SetTestMode switches simulated trading on or off.
func (e *ArbitrageEngine) SetTestMode(on bool) {
	e.testMode.Store(on)
	e.logger.Info("ArbitrageEngine: test mode changed", "test_mode", on)
}

// ToggleTestMode flips test mode and returns the new value.
func (e *ArbitrageEngine) ToggleTestMode() bool {
	for {
		cur := e.testMode.Load()
		if e.testMode.CompareAndSwap(cur, !cur) {
			e.logger.Info("ArbitrageEngine: test mode changed", "test_mode", !cur)
			return !cur
		}
	}
}

// Markets returns the source and target marketplace names.
func (e *ArbitrageEngine) Markets() (string, string) {
	return e.source.Name(), e.target.Name()
}

// FindOpportunities polls both marketplaces and matches their listings in
// every enabled direction. Failures are logged and yield an empty result.
func (e *ArbitrageEngine) FindOpportunities(ctx context.Context) []model.Opportunity {
	opps, err := e.DiscoverOpportunities(ctx)
	if err != nil {
		e.logger.Error("ArbitrageEngine: discovery failed", "error", err)
		return nil
	}
	return opps
}

// DiscoverOpportunities is FindOpportunities with failures returned. An error
// means the poll was degraded and the result must not replace a previous one;
// a nil error with no opportunities means the markets genuinely offer none.
func (e *ArbitrageEngine) DiscoverOpportunities(ctx context.Context) ([]model.Opportunity, error) {
	settings, err := e.repo.GetSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	if !settings.MarketEnabled(e.source.Name()) || !settings.MarketEnabled(e.target.Name()) {
		e.logger.Debug("ArbitrageEngine: a marketplace is disabled, skipping discovery")
		return nil, nil
	}

	filters := exchange.Filters{Limit: e.cfg.Arbitrage.ListingLimit}
	var sourceListings, targetListings []model.Listing
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		sourceListings, err = e.source.SearchListings(gctx, filters)
		return err
	})
	g.Go(func() (err error) {
		targetListings, err = e.target.SearchListings(gctx, filters)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("fetch listings: %w", err)
	}

	fee := e.cfg.Arbitrage.TransferFeeAmount()
	forward := Matcher{
		Fees:   Fees{SourceCommission: e.source.Commission(), TargetCommission: e.target.Commission(), TransferFee: fee},
		Ranges: e.ranges,
	}
	backward := Matcher{
		Fees:   Fees{SourceCommission: e.target.Commission(), TargetCommission: e.source.Commission(), TransferFee: fee},
		Ranges: e.ranges,
	}

	opps := forward.FindOpportunities(sourceListings, targetListings, settings)
	opps = append(opps, backward.FindOpportunities(targetListings, sourceListings, settings)...)

	e.logger.Info("ArbitrageEngine: discovery finished",
		"source_listings", len(sourceListings),
		"target_listings", len(targetListings),
		"opportunities", len(opps),
	)
	return opps, nil
}

// ExecuteOpportunity buys on the source marketplace and relists on the
// target. In test mode nothing is sent and nothing is recorded.
func (e *ArbitrageEngine) ExecuteOpportunity(ctx context.Context, opp model.Opportunity) error {
	log := e.logger.With("item_id", opp.ItemID, "source", opp.Source, "target", opp.Target)

	if e.TestMode() {
		log.Info("ArbitrageEngine: test mode, trade simulated",
			"name", opp.Name, "model", opp.Model,
			"buy_price", opp.BuyPrice, "sell_price", opp.SellPrice, "profit", opp.Profit)
		return nil
	}

	source, ok := e.gateways[opp.Source]
	if !ok {
		return fmt.Errorf("unknown source marketplace %q", opp.Source)
	}
	target, ok := e.gateways[opp.Target]
	if !ok {
		return fmt.Errorf("unknown target marketplace %q", opp.Target)
	}

	if err := source.Buy(ctx, opp.ItemID, opp.BuyPrice); err != nil {
		log.Error("ArbitrageEngine: buy failed", "error", err)
		e.notifier.Notify(ctx, fmt.Sprintf("❌ Buy failed\n🎁 %s (%s)\n🛒 %s at %s TON\n%v",
			opp.Name, opp.Model, opp.Source, opp.BuyPrice, err))
		return fmt.Errorf("buy: %w", err)
	}

	if err := target.Sell(ctx, opp.ItemID, opp.SellPrice); err != nil {
		log.Error("ArbitrageEngine: sell failed after buy", "error", err)
		e.notifier.Alert(ctx, fmt.Sprintf("Partial trade: bought %s (%s) on %s for %s TON but listing on %s at %s TON failed: %v",
			opp.Name, opp.Model, opp.Source, opp.BuyPrice, opp.Target, opp.SellPrice, err))
		return fmt.Errorf("sell: %w", err)
	}

	deal := model.Deal{
		Timestamp:    time.Now(),
		ItemID:       opp.ItemID,
		Name:         opp.Name,
		Model:        opp.Model,
		SourceMarket: opp.Source,
		TargetMarket: opp.Target,
		BuyPrice:     opp.BuyPrice,
		SellPrice:    opp.SellPrice,
		Profit:       opp.Profit,
	}
	id, err := e.repo.LogDeal(ctx, deal)
	if err != nil {
		log.Error("ArbitrageEngine: failed to log deal", "error", err)
		e.notifier.Alert(ctx, fmt.Sprintf("Deal for %s (%s) executed but not recorded: %v", opp.Name, opp.Model, err))
		return fmt.Errorf("log deal: %w", err)
	}

	log.Info("ArbitrageEngine: deal executed", "deal_id", id, "profit", opp.Profit)
	e.notifier.Notify(ctx, fmt.Sprintf("✅ Deal executed\n🎁 %s (%s)\n🛒 Buy on %s: %s TON\n💰 Sell on %s: %s TON\n📈 Profit: %s TON",
		opp.Name, opp.Model, opp.Source, opp.BuyPrice, opp.Target, opp.SellPrice, opp.Profit.StringFixed(2)))
	return nil
}

// RunCycle finds opportunities and executes the most profitable ones, up to
// the configured number of trades per cycle.
func (e *ArbitrageEngine) RunCycle(ctx context.Context) error {
	opps := e.FindOpportunities(ctx)
	if len(opps) == 0 {
		return nil
	}
	SortByProfit(opps)

	limit := e.cfg.Arbitrage.MaxTradesPerCycle
	if limit > len(opps) {
		limit = len(opps)
	}
	for _, opp := range opps[:limit] {
		if ctx.Err() != nil {
			return nil
		}
		if err := e.ExecuteOpportunity(ctx, opp); err != nil {
			e.logger.Warn("ArbitrageEngine: opportunity not executed", "item_id", opp.ItemID, "error", err)
		}
	}
	return nil
}
