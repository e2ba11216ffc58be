package notifier

import (
	"context"
	"errors"
	"html"
	"strings"

	tele "gopkg.in/telebot.v4"

	logx "ideinfo/pkg/logx"
)

// LogSink writes notifications to the structured log.
type LogSink struct{ Log logx.Logger }

func (LogSink) Name() string { return "log" }

func (l LogSink) Deliver(_ context.Context, n Notification) error {
	fields := []logx.Field{logx.String("kind", string(n.Kind))}
	if n.Key != "" {
		fields = append(fields, logx.String("key", n.Key))
	}
	if n.Title != "" {
		fields = append(fields, logx.String("title", n.Title))
	}
	switch n.Kind {
	case KindError:
		l.Log.Warn(n.Text, fields...)
	default:
		l.Log.Info(n.Text, fields...)
	}
	return nil
}

type TelegramConfig struct {
	Token    string
	ChatID   int64
	ThreadID int
	// APIURL overrides the Bot API endpoint (tests, self-hosted API servers).
	APIURL string
}

// Telegram forwards notifications to one chat (optionally a forum topic).
type Telegram struct {
	bot      *tele.Bot
	chat     *tele.Chat
	threadID int
}

func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is empty")
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		URL:     cfg.APIURL,
		Offline: true, // send-only; no getMe round trip, no poller
	})
	if err != nil {
		return nil, err
	}
	return &Telegram{bot: b, chat: &tele.Chat{ID: cfg.ChatID}, threadID: cfg.ThreadID}, nil
}

func (*Telegram) Name() string { return "telegram" }

func (t *Telegram) Deliver(ctx context.Context, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := t.bot.Send(t.chat, FormatHTML(n), &tele.SendOptions{
		ParseMode:             tele.ModeHTML,
		DisableWebPagePreview: true,
		ThreadID:              t.threadID,
	})
	return err
}

// FormatHTML renders n for Telegram's HTML parse mode.
func FormatHTML(n Notification) string {
	var b strings.Builder
	switch n.Kind {
	case KindBanner:
		b.WriteString("📣 ")
	case KindBannerCleared:
		b.WriteString("✅ <s>")
	case KindAlert:
		b.WriteString("ℹ️ ")
	case KindError:
		b.WriteString("⚠️ ")
	}
	if n.Title != "" {
		b.WriteString("<b>")
		b.WriteString(html.EscapeString(n.Title))
		b.WriteString("</b>\n")
	}
	b.WriteString(html.EscapeString(n.Text))
	if n.Kind == KindBannerCleared {
		b.WriteString("</s>")
	}
	return b.String()
}
