package notifier

import (
	"context"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/tvbridge/pkg/retrier"
)

type messenger interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram sends messages to a chat through the Bot API.
type Telegram struct {
	bot     messenger
	chatID  int64
	retrier *retrier.Retrier
	l       *zap.Logger
}

// NewTelegram authorizes the bot token and returns a sender bound to chatID.
func NewTelegram(token string, chatID int64, l *zap.Logger) (*Telegram, error) {
	if token == "" {
		return nil, errors.New("telegram token is required")
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, errors.Wrap(err, "authorize telegram bot")
	}
	return newTelegram(bot, chatID, l)
}

func newTelegram(bot messenger, chatID int64, l *zap.Logger) (*Telegram, error) {
	if chatID == 0 {
		return nil, errors.New("telegram chat id is required")
	}
	if l == nil {
		l = zap.NewNop()
	}
	t := &Telegram{bot: bot, chatID: chatID, l: l}
	t.retrier = retrier.New(
		retrier.WithMaxRetries(3),
		retrier.WithInitialInterval(time.Second),
		retrier.WithMaxInterval(5*time.Second),
		retrier.WithOnRetry(func(attempt int, err error) {
			t.l.Debug("retrying telegram send", zap.Int("attempt", attempt), zap.Error(err))
		}),
	)
	return t, nil
}

// Send implements Sender.
func (t *Telegram) Send(ctx context.Context, text string) error {
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.DisableWebPagePreview = true

	err := t.retrier.Do(ctx, func(context.Context) error {
		_, err := t.bot.Send(msg)
		return err
	})
	return errors.Wrap(err, "send telegram message")
}
