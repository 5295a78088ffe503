package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/funnelbot/internal/database"
	"github.com/edgard/funnelbot/internal/engine"
	"github.com/edgard/funnelbot/internal/telegram"
)

const sessionsListLimit = 20

// commandArgs splits a command message into its arguments, dropping the
// command itself.
func commandArgs(text string) []string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return nil
	}
	return fields[1:]
}

// NewSessionsHandler lists the most recently active sessions.
func NewSessionsHandler(deps HandlerDeps) bot.HandlerFunc {
	return func(ctx context.Context, b *bot.Bot, update *models.Update) {
		log := deps.Logger.With("handler", "sessions")
		chatID := update.Message.Chat.ID

		sessions, err := deps.Store.ListSessions(ctx, sessionsListLimit)
		if err != nil {
			log.ErrorContext(ctx, "Failed to list sessions", "error", err)
			reply(ctx, b, log, chatID, deps.Config.Messages.ErrorGeneralMsg)
			return
		}
		reply(ctx, b, log, chatID, formatSessions(deps.Config.Messages.SessionsHeader, deps.Config.Messages.SessionsEmpty, sessions))
	}
}

func formatSessions(header, empty string, sessions []*database.Session) string {
	if len(sessions) == 0 {
		return empty
	}
	var sb strings.Builder
	sb.WriteString(header)
	for _, s := range sessions {
		name := s.DisplayName
		if name == "" {
			name = "-"
		}
		fmt.Fprintf(&sb, "\n%s | %s | %s | %s | %s | a%d c%d n%d s%d | %s",
			s.ID, s.Channel, name, s.Status, s.FunnelState,
			s.Arousal, s.Attachment, s.Connection, s.SpendingPower,
			s.LastActivityAt.Format("2006-01-02 15:04"))
	}
	return sb.String()
}

// NewStatusHandler pauses or resumes the persona for a session.
func NewStatusHandler(deps HandlerDeps, command string) bot.HandlerFunc {
	status := database.StatusActive
	if command == "pause" {
		status = database.StatusPaused
	}
	return func(ctx context.Context, b *bot.Bot, update *models.Update) {
		log := deps.Logger.With("handler", command)
		chatID := update.Message.Chat.ID

		args := commandArgs(update.Message.Text)
		if len(args) != 1 {
			reply(ctx, b, log, chatID, fmt.Sprintf(deps.Config.Messages.SessionIDUsage, command))
			return
		}

		session, err := deps.Engine.SetStatus(ctx, args[0], status)
		switch {
		case errors.Is(err, engine.ErrSessionNotFound):
			reply(ctx, b, log, chatID, deps.Config.Messages.SessionNotFound)
			return
		case err != nil:
			log.ErrorContext(ctx, "Failed to change session status", "session_id", args[0], "error", err)
			reply(ctx, b, log, chatID, deps.Config.Messages.ErrorGeneralMsg)
			return
		}
		reply(ctx, b, log, chatID, fmt.Sprintf(deps.Config.Messages.StatusChangedFmt, session.ID, session.Status))
	}
}

// NewSayHandler injects an operator message into a session and relays it to
// the lead's chat.
func NewSayHandler(deps HandlerDeps) bot.HandlerFunc {
	return func(ctx context.Context, b *bot.Bot, update *models.Update) {
		log := deps.Logger.With("handler", "say")
		chatID := update.Message.Chat.ID

		args := commandArgs(update.Message.Text)
		if len(args) < 2 {
			reply(ctx, b, log, chatID, deps.Config.Messages.SayUsage)
			return
		}
		sessionID := args[0]
		text := strings.Join(args[1:], " ")

		msg, err := deps.Engine.InjectOperatorMessage(ctx, sessionID, text)
		switch {
		case errors.Is(err, engine.ErrSessionNotFound):
			reply(ctx, b, log, chatID, deps.Config.Messages.SessionNotFound)
			return
		case errors.Is(err, engine.ErrEmptyInput):
			reply(ctx, b, log, chatID, deps.Config.Messages.SayUsage)
			return
		case err != nil:
			log.ErrorContext(ctx, "Failed to inject operator message", "session_id", sessionID, "error", err)
			reply(ctx, b, log, chatID, deps.Config.Messages.ErrorGeneralMsg)
			return
		}

		session, err := deps.Store.GetSession(ctx, sessionID)
		if err != nil {
			log.ErrorContext(ctx, "Failed to reload session", "session_id", sessionID, "error", err)
			reply(ctx, b, log, chatID, deps.Config.Messages.ErrorGeneralMsg)
			return
		}
		if err := deps.Conversation.Send(ctx, session, msg.Content); err != nil && !errors.Is(err, telegram.ErrNotTelegram) {
			log.ErrorContext(ctx, "Failed to relay operator message", "session_id", sessionID, "error", err)
			reply(ctx, b, log, chatID, deps.Config.Messages.ErrorGeneralMsg)
			return
		}

		log.InfoContext(ctx, "Operator message sent", "session_id", sessionID, "message_id", msg.ID)
		reply(ctx, b, log, chatID, deps.Config.Messages.OperatorSent)
	}
}

// NewMediaHandler lists the media catalog.
func NewMediaHandler(deps HandlerDeps) bot.HandlerFunc {
	return func(ctx context.Context, b *bot.Bot, update *models.Update) {
		log := deps.Logger.With("handler", "media")
		chatID := update.Message.Chat.ID

		assets, err := deps.Store.ListMediaAssets(ctx, "")
		if err != nil {
			log.ErrorContext(ctx, "Failed to list media", "error", err)
			reply(ctx, b, log, chatID, deps.Config.Messages.ErrorGeneralMsg)
			return
		}
		reply(ctx, b, log, chatID, formatMedia(deps.Config.Messages.MediaHeader, deps.Config.Messages.MediaEmpty, assets))
	}
}

func formatMedia(header, empty string, assets []*database.MediaAsset) string {
	if len(assets) == 0 {
		return empty
	}
	var sb strings.Builder
	sb.WriteString(header)
	for _, a := range assets {
		fmt.Fprintf(&sb, "\n%s [%s/%s] %s", a.ID, a.Category, a.Kind, a.Description)
		if a.Blurred {
			sb.WriteString(" (blurred)")
		}
	}
	return sb.String()
}
