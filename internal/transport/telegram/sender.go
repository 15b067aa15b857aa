// Package telegram delivers log lines to a Telegram chat. It backs the
// remote sink of pkg/logx.
package telegram

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"
)

const textLimit = 4000

type Config struct {
	Token    string
	ChatID   int64
	ThreadID int
}

// Sender implements logx.Sender. It never polls for updates.
type Sender struct {
	bot  *tele.Bot
	chat *tele.Chat
	opt  *tele.SendOptions
}

func New(cfg Config) (*Sender, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is empty")
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Offline: true,
		Client:  &http.Client{Timeout: 8 * time.Second},
	})
	if err != nil {
		return nil, err
	}
	return &Sender{
		bot:  b,
		chat: &tele.Chat{ID: cfg.ChatID},
		opt:  &tele.SendOptions{ThreadID: cfg.ThreadID, DisableWebPagePreview: true},
	}, nil
}

// SendLog sends text, split into chunks under the message limit.
func (s *Sender) SendLog(ctx context.Context, text string) error {
	for _, chunk := range splitText(text, textLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := s.bot.Send(s.chat, chunk, s.opt); err != nil {
			return err
		}
	}
	return nil
}

// splitText cuts s into chunks of at most limit runes, preferring newline
// boundaries.
func splitText(s string, limit int) []string {
	if limit <= 0 {
		limit = textLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))
		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				// Avoid tiny chunks.
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
