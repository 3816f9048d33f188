package channel

import (
	"context"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// TelegramChannel sends messages through the Telegram Bot API. Addresses are
// numeric chat ids, which pass through the sender normalizer unchanged.
type TelegramChannel struct {
	api    *tgbotapi.BotAPI
	logger *zap.Logger
}

func NewTelegramChannel(token string, logger *zap.Logger) (*TelegramChannel, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return &TelegramChannel{api: api, logger: logger}, nil
}

func (c *TelegramChannel) Configured() bool {
	return c.api != nil
}

func (c *TelegramChannel) Send(ctx context.Context, to, text string) error {
	chatID, err := strconv.ParseInt(to, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram address %q is not a chat id: %w", to, err)
	}
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := c.api.Send(msg); err != nil {
		c.logger.Error("Failed to send telegram message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
		return err
	}
	return nil
}
