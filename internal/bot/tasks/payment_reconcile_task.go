package tasks

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/edgard/funnelbot/internal/funnel"
)

const (
	// reconcileWindow bounds how old a pending charge may be and still be re-queried.
	reconcileWindow      = 24 * time.Hour
	reconcileConcurrency = 4
)

// newPaymentReconcileTask re-queries the gateway for pending charges and
// refreshes the status cached on their messages.
func newPaymentReconcileTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", "payment_reconcile")

	return func(ctx context.Context) error {
		pending, err := deps.Store.ListPendingCharges(ctx, time.Now().Add(-reconcileWindow))
		if err != nil {
			return fmt.Errorf("failed to list pending charges: %w", err)
		}

		seen := make(map[string]bool, len(pending))
		var charges []string
		for _, m := range pending {
			if !seen[m.ChargeID] {
				seen[m.ChargeID] = true
				charges = append(charges, m.ChargeID)
			}
		}
		if len(charges) == 0 {
			log.DebugContext(ctx, "No pending charges to reconcile")
			return nil
		}

		var updated, failed atomic.Int64
		g, gCtx := errgroup.WithContext(ctx)
		g.SetLimit(reconcileConcurrency)
		for _, id := range charges {
			g.Go(func() error {
				status, err := deps.Gateway.Status(gCtx, id)
				if err != nil {
					failed.Add(1)
					log.WarnContext(gCtx, "Failed to query charge status", "charge_id", id, "error", err)
					return nil
				}
				if status == funnel.ChargePending {
					return nil
				}
				if err := deps.Store.UpdateChargeStatus(gCtx, id, string(status)); err != nil {
					failed.Add(1)
					log.ErrorContext(gCtx, "Failed to update charge status", "charge_id", id, "error", err)
					return nil
				}
				updated.Add(1)
				log.InfoContext(gCtx, "Charge status reconciled", "charge_id", id, "status", status)
				return nil
			})
		}
		_ = g.Wait()

		log.InfoContext(ctx, "Payment reconciliation finished",
			"checked", len(charges), "updated", updated.Load(), "failed", failed.Load())
		return ctx.Err()
	}
}
