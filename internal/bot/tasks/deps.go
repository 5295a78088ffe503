// Package tasks implements the scheduled background jobs of the funnel bot:
// database maintenance, payment reconciliation and lead reactivation.
package tasks

import (
	"log/slog"

	"github.com/edgard/funnelbot/internal/config"
	"github.com/edgard/funnelbot/internal/database"
	"github.com/edgard/funnelbot/internal/payment"
	"github.com/edgard/funnelbot/internal/telegram"
)

// TaskDeps contains all dependencies required by scheduled tasks.
// Conversation is nil when the Telegram channel is disabled.
type TaskDeps struct {
	Logger       *slog.Logger
	Store        database.Store
	Gateway      payment.Gateway
	Conversation *telegram.Conversation
	Config       *config.Config
}
