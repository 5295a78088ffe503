package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/edgard/funnelbot/internal/database"
	"github.com/edgard/funnelbot/internal/engine"
	"github.com/edgard/funnelbot/internal/queue"
)

// newReactivationTask runs a system-injected turn for Telegram sessions that
// went quiet. Each silence gets one nudge; the session becomes eligible again
// only after the user writes. Web sessions have no channel to push an
// unsolicited reply to and are left alone.
func newReactivationTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", "reactivation")

	return func(ctx context.Context) error {
		if deps.Conversation == nil {
			log.DebugContext(ctx, "Telegram disabled, skipping reactivation")
			return nil
		}

		cfg := deps.Config.Funnel
		idle, err := deps.Store.ListIdleSessions(ctx, time.Now().Add(-cfg.ReactivationAfter), cfg.ReactivationBatch)
		if err != nil {
			return fmt.Errorf("failed to list idle sessions: %w", err)
		}

		in := engine.Input{Text: cfg.ReactivationInput, System: true}
		reactivated := 0
		for _, session := range idle {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if session.Channel != database.ChannelTelegram {
				continue
			}

			err := deps.Conversation.Turn(ctx, session, in)
			switch {
			case err == nil:
				reactivated++
				if err := deps.Store.MarkReactivated(ctx, session.ID, time.Now()); err != nil {
					log.WarnContext(ctx, "Failed to mark session reactivated", "session_id", session.ID, "error", err)
				}
			case errors.Is(err, queue.ErrQueueFull):
				log.DebugContext(ctx, "Session busy, skipping", "session_id", session.ID)
			default:
				log.WarnContext(ctx, "Failed to reactivate session", "session_id", session.ID, "error", err)
			}
		}

		log.InfoContext(ctx, "Reactivation finished", "idle", len(idle), "reactivated", reactivated)
		return nil
	}
}
