package notifier

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	logx "opsbook/pkg/logx"
)

// Sink performs one synchronous delivery attempt to a single participant.
// Implementations own their transport-level timeouts.
type Sink interface {
	Send(ctx context.Context, participantID, text string) error
}

// LogSink writes notifications to the log. Default for dev deployments and
// tests that don't want a chat backend.
type LogSink struct {
	Log logx.Logger
}

func (s LogSink) Send(ctx context.Context, participantID, text string) error {
	_ = ctx
	log := s.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	log.Info("notification",
		logx.String("participant", participantID),
		logx.String("text", text))
	return nil
}

// TelegramSink delivers via the Telegram Bot API. Participant ids are chat
// ids in decimal form. The bot is send-only: no poller, no update handling.
type TelegramSink struct {
	bot *tele.Bot
	log logx.Logger
}

func NewTelegramSink(token string, log logx.Logger) (*TelegramSink, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	b, err := tele.NewBot(tele.Settings{Token: token})
	if err != nil {
		return nil, err
	}
	return &TelegramSink{bot: b, log: log}, nil
}

func (s *TelegramSink) Send(ctx context.Context, participantID, text string) error {
	chatID, err := strconv.ParseInt(strings.TrimSpace(participantID), 10, 64)
	if err != nil {
		return fmt.Errorf("participant %q is not a telegram chat id: %w", participantID, err)
	}

	// telebot has no context plumbing on Send; bound the call ourselves.
	type result struct{ err error }
	done := make(chan result, 1)
	go func() {
		_, err := s.bot.Send(&tele.Chat{ID: chatID}, text)
		done <- result{err: err}
	}()

	timer := time.NewTimer(10 * time.Second)
	defer timer.Stop()
	select {
	case r := <-done:
		return r.err
	case <-timer.C:
		return errors.New("telegram send timed out")
	case <-ctx.Done():
		return ctx.Err()
	}
}
