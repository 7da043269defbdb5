package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/Smr002/goldfit-notify/internal/notification"
	"github.com/Smr002/goldfit-notify/pkg/logx"
)

// TelegramConfig configures the Telegram push adapter.
type TelegramConfig struct {
	Token string
}

// Telegram delivers messages as Telegram chat messages. Recipients are
// routed by the directory record's ChatID.
type Telegram struct {
	bot *tele.Bot
	log logx.Logger
}

func NewTelegram(cfg TelegramConfig, log logx.Logger) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	b, err := tele.NewBot(tele.Settings{
		Token: cfg.Token,
		// Outbound only; no poller needed.
		Offline: false,
	})
	if err != nil {
		return nil, err
	}
	return &Telegram{bot: b, log: log}, nil
}

func (t *Telegram) Send(ctx context.Context, to notification.User, message string) error {
	if to.ChatID == 0 {
		return fmt.Errorf("user %s has no telegram chat id", to.ID)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	_, err := t.bot.Send(&tele.User{ID: to.ChatID}, message)
	if err != nil {
		return fmt.Errorf("telegram send to %d: %w", to.ChatID, err)
	}
	t.log.Debug("telegram message sent",
		logx.String("user", to.ID),
		logx.Int64("chat_id", to.ChatID),
		logx.Duration("took", time.Since(start)),
	)
	return nil
}
