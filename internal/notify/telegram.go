package notify

import (
	"context"

	"submaster/internal/config"
	"submaster/logger"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

// Telegram delivers notifications through a Telegram bot. Operator
// messages go to the configured operator chat.
type Telegram struct {
	bot          *telego.Bot
	operatorChat int64
}

func NewTelegram(cfg config.TelegramConfig) (*Telegram, error) {
	bot, err := telego.NewBot(cfg.Token, telego.WithDiscardLogger())
	if err != nil {
		return nil, err
	}
	return &Telegram{bot: bot, operatorChat: cfg.OperatorChatId}, nil
}

func (t *Telegram) NotifyUser(_ context.Context, telegramId int64, text string) error {
	_, err := t.bot.SendMessage(tu.Message(tu.ID(telegramId), text))
	if err != nil {
		logger.Warningf("notify: failed to message user %d: %v", telegramId, err)
	}
	return err
}

func (t *Telegram) NotifyOperator(_ context.Context, text string) error {
	if t.operatorChat == 0 {
		return nil
	}
	_, err := t.bot.SendMessage(tu.Message(tu.ID(t.operatorChat), text))
	if err != nil {
		logger.Warningf("notify: failed to message operator chat: %v", err)
	}
	return err
}
