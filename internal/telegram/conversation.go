package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-telegram/bot"

	"github.com/edgard/funnelbot/internal/config"
	"github.com/edgard/funnelbot/internal/database"
	"github.com/edgard/funnelbot/internal/delivery"
	"github.com/edgard/funnelbot/internal/engine"
	"github.com/edgard/funnelbot/internal/queue"
)

// ErrNotTelegram is returned for sessions that are not bound to a Telegram chat.
var ErrNotTelegram = errors.New("session is not a telegram chat")

// Conversation runs turns of Telegram sessions and paces their replies onto
// the chat.
type Conversation struct {
	engine    *engine.Engine
	store     database.Store
	queue     *queue.Queue
	scheduler *delivery.Scheduler
	sender    Sender
	typing    time.Duration
	codeFmt   string
	logger    *slog.Logger
}

// NewConversation wires a conversation runner.
func NewConversation(
	eng *engine.Engine,
	store database.Store,
	q *queue.Queue,
	scheduler *delivery.Scheduler,
	sender Sender,
	cfg config.TelegramConfig,
	messages config.MessagesConfig,
	logger *slog.Logger,
) *Conversation {
	if logger == nil {
		logger = slog.Default()
	}
	return &Conversation{
		engine:    eng,
		store:     store,
		queue:     q,
		scheduler: scheduler,
		sender:    sender,
		typing:    cfg.TypingInterval,
		codeFmt:   messages.PaymentCodeFmt,
		logger:    logger.With("component", "telegram_conversation"),
	}
}

// ChatID returns the Telegram chat a session is bound to.
func ChatID(session *database.Session) (int64, error) {
	if session == nil || session.Channel != database.ChannelTelegram {
		return 0, ErrNotTelegram
	}
	id, err := strconv.ParseInt(session.ExternalID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid chat id %q: %w", session.ExternalID, err)
	}
	return id, nil
}

// SessionFor returns the open session of chatID, starting a new one when the
// chat has none or its last session was closed.
func (c *Conversation) SessionFor(ctx context.Context, chatID int64, displayName string) (*database.Session, error) {
	externalID := strconv.FormatInt(chatID, 10)
	session, err := c.store.GetSessionByExternalID(ctx, database.ChannelTelegram, externalID)
	if err == nil {
		return session, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up session: %w", err)
	}

	session, err = c.engine.StartSession(ctx, engine.NewSession{
		Channel:     database.ChannelTelegram,
		ExternalID:  externalID,
		DeviceClass: "unknown",
	})
	if err != nil {
		return nil, err
	}
	if displayName != "" {
		session.DisplayName = displayName
		if err := c.store.UpdateSession(ctx, session); err != nil {
			c.logger.WarnContext(ctx, "Failed to store display name", "session_id", session.ID, "error", err)
		}
	}
	c.logger.InfoContext(ctx, "Started telegram session", "session_id", session.ID, "chat_id", chatID)
	return session, nil
}

// Enqueue places a turn of session in its lane and returns once the turn
// holds its position; the channel yields the turn's outcome. Turns enqueued
// one after another run in that order. Processing and delivery both hold the
// lane, so the next turn starts once the previous reply is fully delivered.
func (c *Conversation) Enqueue(session *database.Session, in engine.Input) (<-chan error, error) {
	chatID, err := ChatID(session)
	if err != nil {
		return nil, err
	}
	return c.queue.Submit(session.ID, func(ctx context.Context) error {
		return c.run(ctx, session.ID, chatID, in)
	}), nil
}

// Turn enqueues a turn and waits for it.
func (c *Conversation) Turn(ctx context.Context, session *database.Session, in engine.Input) error {
	done, err := c.Enqueue(session, in)
	if err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Conversation) run(ctx context.Context, sessionID string, chatID int64, in engine.Input) error {
	res, err := c.engine.ProcessTurn(ctx, sessionID, in)
	if err != nil {
		return err
	}
	if res.Paused || len(res.Reply.Messages) == 0 {
		return nil
	}

	sink := NewSink(c.sender, chatID, Outbound{
		Fragments: res.Reply.Messages,
		Media:     res.Media,
		Charge:    res.Charge,
	}, c.codeFmt, c.typing, c.logger)

	// Injected input was never shown to the user, so there is nothing to read.
	read := in.Text
	if in.System {
		read = ""
	}
	n, err := c.scheduler.Run(ctx, read, res.Reply.Messages, sink)
	if err != nil {
		c.logger.WarnContext(ctx, "Reply delivery interrupted", "session_id", sessionID,
			"delivered", n, "total", len(res.Reply.Messages), "error", err)
		return err
	}
	return nil
}

// Send delivers an operator message to the chat of session right away.
func (c *Conversation) Send(ctx context.Context, session *database.Session, text string) error {
	chatID, err := ChatID(session)
	if err != nil {
		return err
	}
	_, err = c.sender.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: text})
	return err
}
