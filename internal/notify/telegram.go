package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

type chatSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier mirrors reminders into a user's Telegram chat.
type TelegramNotifier struct {
	bot    chatSender
	logger zerolog.Logger
}

func NewTelegramNotifier(token string, debug bool, logger zerolog.Logger) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	bot.Debug = debug
	logger.Info().Str("bot", bot.Self.UserName).Msg("telegram notifier authorized")
	return newTelegramNotifier(bot, logger), nil
}

func newTelegramNotifier(bot chatSender, logger zerolog.Logger) *TelegramNotifier {
	return &TelegramNotifier{bot: bot, logger: logger.With().Str("component", "telegram").Logger()}
}

// SendChat delivers text to chatID. A 429 answer is retried once after the
// delay Telegram asks for.
func (t *TelegramNotifier) SendChat(ctx context.Context, chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)

	_, err := t.bot.Send(msg)
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == 429 {
		wait := time.Duration(apiErr.RetryAfter) * time.Second
		t.logger.Info().Int64("chat_id", chatID).Dur("retry_after", wait).Msg("rate limited by telegram")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		_, err = t.bot.Send(msg)
	}
	if err != nil {
		return fmt.Errorf("telegram send to %d: %w", chatID, err)
	}
	return nil
}
