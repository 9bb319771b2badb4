package services

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	tele "gopkg.in/telebot.v3"
)

// Notifier delivers operational messages to the service owner
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// TelegramNotifier sends messages to the admin chat over the Bot API
type TelegramNotifier struct {
	bot    *tele.Bot
	chatID int64
	logger *logrus.Logger
}

// NewTelegramNotifier creates a notifier for the given bot token and admin chat
func NewTelegramNotifier(token string, adminID int64, logger *logrus.Logger) (*TelegramNotifier, error) {
	bot, err := tele.NewBot(tele.Settings{
		Token:  token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, err
	}
	return &TelegramNotifier{
		bot:    bot,
		chatID: adminID,
		logger: logger,
	}, nil
}

// Notify sends a plain-text message to the admin chat
func (n *TelegramNotifier) Notify(_ context.Context, message string) error {
	_, err := n.bot.Send(tele.ChatID(n.chatID), message)
	if err != nil {
		n.logger.Errorf("Failed to deliver notification: %v", err)
	}
	return err
}

// NoopNotifier drops every message, used when no Telegram token is configured
type NoopNotifier struct{}

// Notify discards the message
func (NoopNotifier) Notify(context.Context, string) error {
	return nil
}
