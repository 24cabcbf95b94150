// Package resale keeps the operator's listed items priced just under the
// marketplace floor.
package resale

import (
	"context"
	"fmt"
	"log/slog"

	"giftarb/internal/exchange"
	"giftarb/internal/model"
	"giftarb/internal/notify"
	"giftarb/internal/worker"
)

// SettingsReader supplies the current resale offset and market flags.
type SettingsReader interface {
	GetSettings(ctx context.Context) (model.Settings, error)
}

// Module periodically reprices listed items on every enabled marketplace.
type Module struct {
	logger   *slog.Logger
	settings SettingsReader
	gateways []exchange.Gateway
	notifier notify.Notifier
	loop     *worker.Loop
}

// NewModule creates an inactive module.
func NewModule(logger *slog.Logger, settings SettingsReader, gateways []exchange.Gateway, notifier notify.Notifier, opts worker.Options) *Module {
	m := &Module{
		logger:   logger,
		settings: settings,
		gateways: gateways,
		notifier: notifier,
	}
	m.loop = worker.NewLoop("resale", logger, opts, func(ctx context.Context) error {
		_, err := m.CheckAndUpdatePrices(ctx)
		return err
	})
	return m
}

// Start activates repricing. It returns false when already active.
func (m *Module) Start(ctx context.Context) bool {
	if !m.loop.Start(ctx) {
		m.logger.Warn("ResaleModule: already active")
		return false
	}
	m.notifier.Notify(ctx, "🔄 Resale module activated\nListed gifts will be repriced under the floor periodically.")
	m.logger.Info("ResaleModule: started")
	return true
}

// Stop deactivates repricing and waits for a running check. It returns false
// when the module was not active.
func (m *Module) Stop() bool {
	if !m.loop.Stop() {
		m.logger.Warn("ResaleModule: not active")
		return false
	}
	m.notifier.Notify(context.Background(), "⏹ Resale module deactivated")
	m.logger.Info("ResaleModule: stopped")
	return true
}

// Toggle flips the module state and returns the new one.
func (m *Module) Toggle(ctx context.Context) bool {
	if m.Active() {
		m.Stop()
		return false
	}
	m.Start(ctx)
	return true
}

// Active reports whether the repricing loop is running.
func (m *Module) Active() bool { return m.loop.Running() }

// CheckAndUpdatePrices lowers every listed item priced above floor-offset to
// exactly floor-offset and returns how many prices changed. A failure on one
// item does not stop the others.
func (m *Module) CheckAndUpdatePrices(ctx context.Context) (int, error) {
	settings, err := m.settings.GetSettings(ctx)
	if err != nil {
		return 0, fmt.Errorf("load settings: %w", err)
	}
	offset := settings.ResaleOffset

	updated := 0
	for _, gw := range m.gateways {
		if !settings.MarketEnabled(gw.Name()) {
			continue
		}
		for _, item := range gw.MyListings(ctx) {
			if ctx.Err() != nil {
				return updated, ctx.Err()
			}
			floor, ok := gw.FloorPrice(ctx, item.Name, item.Model)
			if !ok {
				continue
			}
			target := floor.Sub(offset)
			if !target.IsPositive() {
				m.logger.Debug("ResaleModule: target not positive, skipping", "market", gw.Name(), "item_id", item.ItemID, "floor", floor)
				continue
			}
			if !item.Price.GreaterThan(target) {
				continue
			}
			if err := gw.UpdatePrice(ctx, item.ItemID, target); err != nil {
				m.logger.Error("ResaleModule: failed to update price", "market", gw.Name(), "item_id", item.ItemID, "error", err)
				continue
			}
			updated++
			m.logger.Info("ResaleModule: price updated", "market", gw.Name(), "item_id", item.ItemID,
				"from", item.Price, "to", target)
		}
	}

	if updated > 0 {
		m.notifier.Notify(ctx, fmt.Sprintf("🔄 Prices updated\nUpdated %d gifts\nOffset: %s TON below floor", updated, offset))
	}
	return updated, nil
}
