package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/soratobu/jeeves/internal/concurrency"
	"github.com/soratobu/jeeves/internal/config"
	"github.com/soratobu/jeeves/internal/errors"
	"github.com/soratobu/jeeves/internal/idempotency"
)

// TelegramAdapter long-polls the Telegram Bot API and answers each chat
// message with one agent run. The chat ID doubles as the session ID, so a
// chat keeps its conversation history across messages.
type TelegramAdapter struct {
	token         string
	updateTimeout int
	processor     Processor
	dedupe        *idempotency.Store
	bot           *tgbotapi.BotAPI
}

func NewTelegramAdapter(cfg config.TelegramConfig, processor Processor, dedupe *idempotency.Store) *TelegramAdapter {
	updateTimeout := cfg.UpdateTimeout
	if updateTimeout <= 0 {
		updateTimeout = config.DefaultTelegramUpdateTimeout
	}
	return &TelegramAdapter{
		token:         cfg.BotToken,
		updateTimeout: updateTimeout,
		processor:     processor,
		dedupe:        dedupe,
	}
}

func (t *TelegramAdapter) Name() string {
	return "telegram"
}

func (t *TelegramAdapter) Start(ctx context.Context) error {
	var err error
	t.bot, err = tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return errors.Wrap(err, "failed to init telegram bot")
	}

	slog.Info("Telegram adapter started", "user", t.bot.Self.UserName)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = t.updateTimeout

	updates := t.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				t.bot.StopReceivingUpdates()
				return
			case update := <-updates:
				concurrency.SafeGo(func() { t.handleUpdate(ctx, update) })
			}
		}
	}()

	return nil
}

func (t *TelegramAdapter) Stop(ctx context.Context) error {
	if t.bot != nil {
		t.bot.StopReceivingUpdates()
	}
	return nil
}

func (t *TelegramAdapter) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.Message == nil || update.Message.Text == "" {
		return
	}

	// Long-poll restarts can replay updates; UpdateID is globally unique.
	if t.dedupe != nil && t.dedupe.CheckAndMark(fmt.Sprintf("telegram:%d", update.UpdateID), 24*time.Hour) {
		return
	}

	msg := update.Message
	sessionID := fmt.Sprintf("telegram:%d", msg.Chat.ID)

	output, err := t.processor.Process(ctx, sessionID, msg.Text)
	if err != nil {
		slog.Error("Telegram message processing failed", "session_id", sessionID, "error", err)
		output = "Sorry, something went wrong handling that message."
	}

	reply := tgbotapi.NewMessage(msg.Chat.ID, output)
	reply.ReplyToMessageID = msg.MessageID
	if _, err := t.bot.Send(reply); err != nil {
		slog.Error("Failed to send telegram reply", "chat_id", msg.Chat.ID, "error", err)
	}
}

func (t *TelegramAdapter) Health(ctx context.Context) error {
	if t.bot == nil {
		return errors.Transient(nil, "telegram bot not initialized")
	}
	if _, err := t.bot.GetMe(); err != nil {
		return errors.Transient(err, "telegram connection failed")
	}
	return nil
}
