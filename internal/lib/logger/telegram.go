package logger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/PaulSonOfLars/gotgbot/v2"
)

// TelegramHandler mirrors log records at or above a minimum level to a
// Telegram admin chat, wrapping an existing handler.
type TelegramHandler struct {
	next    slog.Handler
	bot     *gotgbot.Bot
	adminID int64
	level   slog.Level
}

// NewTelegramBot creates the bot used for log alerting.
func NewTelegramBot(apiKey string) (*gotgbot.Bot, error) {
	bot, err := gotgbot.NewBot(apiKey, nil)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	return bot, nil
}

// SetupTelegramHandler wraps the logger so records >= level are also
// delivered to the admin chat.
func SetupTelegramHandler(log *slog.Logger, bot *gotgbot.Bot, adminID int64, level slog.Level) *slog.Logger {
	return slog.New(&TelegramHandler{
		next:    log.Handler(),
		bot:     bot,
		adminID: adminID,
		level:   level,
	})
}

func (h *TelegramHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *TelegramHandler) Handle(ctx context.Context, rec slog.Record) error {
	if rec.Level >= h.level && h.bot != nil {
		text := fmt.Sprintf("[%s] %s", rec.Level, rec.Message)
		rec.Attrs(func(a slog.Attr) bool {
			text += fmt.Sprintf("\n%s: %s", a.Key, a.Value.String())
			return true
		})
		// best effort, alerting must never fail the request path
		go h.bot.SendMessage(h.adminID, text, nil)
	}
	return h.next.Handle(ctx, rec)
}

func (h *TelegramHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &TelegramHandler{next: h.next.WithAttrs(attrs), bot: h.bot, adminID: h.adminID, level: h.level}
}

func (h *TelegramHandler) WithGroup(name string) slog.Handler {
	return &TelegramHandler{next: h.next.WithGroup(name), bot: h.bot, adminID: h.adminID, level: h.level}
}
