package channel

import (
	"context"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramChannel is a thin adapter over go-telegram-bot-api, grounded on
// the teacher's internal/channel/telegram.go for the GetUpdatesChan
// polling loop, trimmed of the proxy/bot-factory indirection picoagent
// doesn't need.
type TelegramChannel struct {
	bot       *tgbotapi.BotAPI
	allowlist AllowlistFilter
	cancel    context.CancelFunc
}

func NewTelegramChannel(token string, allowFrom []string) (*TelegramChannel, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram: token is required")
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: new bot: %w", err)
	}
	return &TelegramChannel{bot: bot, allowlist: AllowlistFilter{Allow: allowFrom}}, nil
}

func (t *TelegramChannel) Name() string { return "telegram" }

func (t *TelegramChannel) Poll(ctx context.Context, out chan<- Inbound) error {
	ctx, t.cancel = context.WithCancel(ctx)
	defer t.cancel()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := t.bot.GetUpdatesChan(u)
	defer t.bot.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil || update.Message.Text == "" {
				continue
			}
			sender := strconv.FormatInt(update.Message.From.ID, 10)
			if !t.allowlist.Permits(sender) {
				continue
			}
			chatID := strconv.FormatInt(update.Message.Chat.ID, 10)
			select {
			case out <- Inbound{Channel: t.Name(), Sender: sender, ChatID: chatID, Text: update.Message.Text}:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (t *TelegramChannel) Send(ctx context.Context, chatID, text string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat id %q: %w", chatID, err)
	}
	msg := tgbotapi.NewMessage(id, text)
	_, err = t.bot.Send(msg)
	if err != nil {
		return fmt.Errorf("telegram: send: %w", err)
	}
	return nil
}

func (t *TelegramChannel) Stop() error {
	if t.cancel != nil {
		t.cancel()
	}
	return nil
}
