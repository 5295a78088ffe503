package handlers

import (
	"context"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/funnelbot/internal/engine"
)

// NewStartHandler returns a handler for the /start command. It opens (or
// reuses) the chat's session and lets the persona greet the lead.
func NewStartHandler(deps HandlerDeps) bot.HandlerFunc {
	return startHandler{deps}.Handle
}

// startHandler processes the /start command using injected dependencies.
type startHandler struct {
	deps HandlerDeps
}

func (h startHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "start")

	if update.Message == nil || update.Message.From == nil {
		log.WarnContext(ctx, "Start handler received update with nil message or sender", "update_id", update.ID)
		return
	}
	if update.Message.Chat.Type != models.ChatTypePrivate {
		log.DebugContext(ctx, "Ignoring /start outside a private chat", "chat_id", update.Message.Chat.ID)
		return
	}

	chatID := update.Message.Chat.ID
	log.InfoContext(ctx, "Handling /start command", "chat_id", chatID, "user_id", update.Message.From.ID)

	session, err := h.deps.Conversation.SessionFor(ctx, chatID, displayName(update.Message.From))
	if err != nil {
		log.ErrorContext(ctx, "Failed to open session", "chat_id", chatID, "error", err)
		reply(ctx, b, log, chatID, h.deps.Config.Messages.ErrorGeneralMsg)
		return
	}

	in := engine.Input{Text: h.deps.Config.Messages.StartInput, System: true}
	startTurn(ctx, h.deps, session, in)
}
