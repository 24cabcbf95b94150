// Package notify delivers operational notifications and admin-only alerts.
package notify

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"time"

	"giftarb/internal/cache"
)

// Sink delivers a text payload to a destination chat.
type Sink interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// Notifier is what the trading components depend on. Both methods report
// whether delivery succeeded; failures are logged and never fatal.
type Notifier interface {
	Notify(ctx context.Context, text string) bool
	Alert(ctx context.Context, text string) bool
}

// AlertPrefix marks admin-only alerts.
const AlertPrefix = "🚨 ALERT: "

// Manager fans notifications out to the channel and the admin, and sends
// alerts to the admin only, suppressing repeats within the cooldown.
type Manager struct {
	sink        Sink
	adminChatID int64
	channelID   int64
	cache       cache.Cache
	cooldown    time.Duration
	logger      *slog.Logger
}

// NewManager creates a Manager. A zero chat id disables that destination.
func NewManager(logger *slog.Logger, sink Sink, adminChatID, channelID int64, c cache.Cache, cooldown time.Duration) *Manager {
	return &Manager{
		sink:        sink,
		adminChatID: adminChatID,
		channelID:   channelID,
		cache:       c,
		cooldown:    cooldown,
		logger:      logger,
	}
}

// Notify sends text to the notification channel and to the admin.
func (m *Manager) Notify(ctx context.Context, text string) bool {
	ok := true
	for _, chatID := range []int64{m.channelID, m.adminChatID} {
		if chatID == 0 {
			continue
		}
		if err := m.sink.Send(ctx, chatID, text); err != nil {
			m.logger.Error("Notifier: failed to send notification", "chat_id", chatID, "error", err)
			ok = false
		}
	}
	return ok
}

// Alert sends text to the admin only. Identical alerts within the cooldown are
// dropped and reported as not delivered.
func (m *Manager) Alert(ctx context.Context, text string) bool {
	if m.adminChatID == 0 {
		m.logger.Warn("Notifier: alert without admin chat", "text", text)
		return false
	}

	if m.cache != nil && m.cooldown > 0 {
		claimed, err := m.cache.Claim(ctx, alertKey(text), m.cooldown)
		if err != nil {
			m.logger.Warn("Notifier: alert dedupe unavailable", "error", err)
		} else if !claimed {
			m.logger.Debug("Notifier: alert suppressed", "text", text)
			return false
		}
	}

	if err := m.sink.Send(ctx, m.adminChatID, AlertPrefix+text); err != nil {
		m.logger.Error("Notifier: failed to send alert", "error", err)
		return false
	}
	m.logger.Warn("Notifier: alert sent", "text", text)
	return true
}

func alertKey(text string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	return fmt.Sprintf("alert:%x", h.Sum64())
}

// LogSink writes messages to the log. It is used when no bot is configured.
type LogSink struct {
	Logger *slog.Logger
}

// Send implements Sink.
func (s LogSink) Send(_ context.Context, chatID int64, text string) error {
	s.Logger.Info("Notifier: message", "chat_id", chatID, "text", text)
	return nil
}
