package monitor

import (
	"context"
	"fmt"
	"time"

	"gopkg.in/telebot.v3"

	"github.com/warp/car-insurance/insurance"
)

// Expiration is a policy that has just lapsed.
type Expiration struct {
	Policy     insurance.Policy
	ExpiresAt  time.Time
	NotifiedAt time.Time
}

// Notifier forwards expirations beyond the log. Notifiers run only after
// the pass has committed its markers; a failing notifier never un-marks.
type Notifier interface {
	NotifyExpiration(ctx context.Context, e Expiration) error
}

// TelegramSender is the part of *telebot.Bot the notifier needs.
type TelegramSender interface {
	Send(to telebot.Recipient, what interface{}, opts ...interface{}) (*telebot.Message, error)
}

// TelegramNotifier posts expirations to a Telegram chat.
type TelegramNotifier struct {
	sender TelegramSender
	chat   telebot.Recipient
}

// NewTelegramNotifier creates a bot client for token. The bot is created
// offline so startup does not depend on Telegram being reachable.
func NewTelegramNotifier(token string, chatID int64) (*TelegramNotifier, error) {
	bot, err := telebot.NewBot(telebot.Settings{Token: token, Offline: true})
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return NewTelegramNotifierWithSender(bot, chatID), nil
}

func NewTelegramNotifierWithSender(sender TelegramSender, chatID int64) *TelegramNotifier {
	return &TelegramNotifier{sender: sender, chat: &telebot.Chat{ID: chatID}}
}

func (n *TelegramNotifier) NotifyExpiration(_ context.Context, e Expiration) error {
	if _, err := n.sender.Send(n.chat, formatExpiration(e)); err != nil {
		return fmt.Errorf("send telegram message for policy %d: %w", e.Policy.ID, err)
	}
	return nil
}

func formatExpiration(e Expiration) string {
	return fmt.Sprintf("Policy %d (car %d, provider %s) expired at %s (end date %s).",
		e.Policy.ID, e.Policy.CarID, e.Policy.Provider,
		e.ExpiresAt.Format(time.RFC3339), e.Policy.EndDate)
}
