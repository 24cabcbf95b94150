package admin

import (
	"context"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Handler turns a command into a reply.
type Handler interface {
	Handle(ctx context.Context, command string, args []string) string
}

// UpdateSource delivers Telegram updates and sends replies.
type UpdateSource interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramBot relays commands from the admin chat to a Handler.
type TelegramBot struct {
	bot         UpdateSource
	handler     Handler
	adminChatID int64
	logger      *slog.Logger
}

// NewTelegramBot creates a bot front end. Messages from chats other than
// adminChatID are ignored.
func NewTelegramBot(logger *slog.Logger, bot UpdateSource, handler Handler, adminChatID int64) *TelegramBot {
	return &TelegramBot{bot: bot, handler: handler, adminChatID: adminChatID, logger: logger}
}

// Run polls updates until ctx is cancelled.
func (t *TelegramBot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	u.AllowedUpdates = []string{"message"}

	updates := t.bot.GetUpdatesChan(u)
	t.logger.Info("AdminBot: polling for commands", "admin_chat_id", t.adminChatID)

	for {
		select {
		case <-ctx.Done():
			t.bot.StopReceivingUpdates()
			t.logger.Info("AdminBot: stopped")
			return
		case upd, ok := <-updates:
			if !ok {
				return
			}
			t.handleUpdate(ctx, upd)
		}
	}
}

func (t *TelegramBot) handleUpdate(ctx context.Context, upd tgbotapi.Update) {
	msg := upd.Message
	if msg == nil || msg.Chat == nil {
		return
	}
	if msg.Chat.ID != t.adminChatID {
		t.logger.Warn("AdminBot: ignoring message from non-admin chat", "chat_id", msg.Chat.ID)
		return
	}

	command, args := parseCommand(msg)
	if command == "" {
		return
	}

	reply := tgbotapi.NewMessage(msg.Chat.ID, t.handler.Handle(ctx, command, args))
	reply.DisableWebPagePreview = true
	if _, err := t.bot.Send(reply); err != nil {
		t.logger.Error("AdminBot: failed to send reply", "command", command, "error", err)
	}
}

// parseCommand splits "/cmd@bot a b" into ("cmd", [a b]). Plain text is
// treated as a command word so the operator can type without the slash.
func parseCommand(msg *tgbotapi.Message) (string, []string) {
	if msg.IsCommand() {
		return msg.Command(), strings.Fields(msg.CommandArguments())
	}
	fields := strings.Fields(msg.Text)
	if len(fields) == 0 {
		return "", nil
	}
	return fields[0], fields[1:]
}
