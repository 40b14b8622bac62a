// Package telegram delivers operator alerts (activations, payment failures) to a
// Telegram chat.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Notifier sends a short text to the operators. Failures are logged, not
// returned: an alert must never block a webhook.
type Notifier interface {
	Notify(ctx context.Context, text string)
}

type Nop struct{}

func (Nop) Notify(context.Context, string) {}

type Bot struct {
	api    *tgbotapi.BotAPI
	chatID int64
	log    *slog.Logger
}

type Config struct {
	Token  string
	ChatID int64
	// APIEndpoint overrides tgbotapi.APIEndpoint, mostly for tests.
	APIEndpoint string
}

// New returns Nop when the token or chat is missing.
func New(cfg Config, log *slog.Logger) (Notifier, error) {
	if strings.TrimSpace(cfg.Token) == "" || cfg.ChatID == 0 {
		return Nop{}, nil
	}
	endpoint := cfg.APIEndpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	api, err := tgbotapi.NewBotAPIWithClient(cfg.Token, endpoint, &http.Client{Timeout: 10 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("init telegram bot: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	log.Info("telegram notifier ready", "bot", api.Self.UserName)
	return &Bot{api: api, chatID: cfg.ChatID, log: log}, nil
}

func (b *Bot) Notify(ctx context.Context, text string) {
	if ctx.Err() != nil {
		return
	}
	msg := tgbotapi.NewMessage(b.chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := b.api.Send(msg); err != nil {
		b.log.Warn("telegram notify failed", "err", err)
	}
}
