package handlers

import (
	"log/slog"

	"github.com/edgard/funnelbot/internal/config"
	"github.com/edgard/funnelbot/internal/database"
	"github.com/edgard/funnelbot/internal/engine"
	"github.com/edgard/funnelbot/internal/telegram"
)

// HandlerDeps provides dependencies for Telegram command handlers.
type HandlerDeps struct {
	Logger       *slog.Logger
	Config       *config.Config
	Store        database.Store
	Engine       *engine.Engine
	Conversation *telegram.Conversation
}
