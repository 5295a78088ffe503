// Package action turns the action a structured reply declares into concrete
// side effects: a resolved preview asset or a freshly created payment charge.
package action

import (
	"context"
	"log/slog"

	"github.com/edgard/funnelbot/internal/database"
	"github.com/edgard/funnelbot/internal/funnel"
	"github.com/edgard/funnelbot/internal/media"
	"github.com/edgard/funnelbot/internal/payment"
)

// Resolution is a reply after side effects were applied. Reply may differ
// from the input when an action was degraded to none.
type Resolution struct {
	Reply    *funnel.StructuredReply
	Media    *media.Asset
	Charge   *funnel.Charge
	Offer    funnel.OfferClass
	Degraded bool
}

// Config holds the resolver's fragments and payer placeholders.
type Config struct {
	Pricing          funnel.Pricing
	MediaUnavailable string
	PaymentFailed    string
	PayerName        string
	PayerEmail       string
}

// Resolver applies reply side effects.
type Resolver struct {
	gateway payment.Gateway
	cfg     Config
	logger  *slog.Logger
}

// NewResolver creates a resolver.
func NewResolver(gateway payment.Gateway, cfg Config, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		gateway: gateway,
		cfg:     cfg,
		logger:  logger.With("component", "action_resolver"),
	}
}

// Resolve applies the side effect of reply.Action. It never fails: an
// unresolvable media reference or a gateway error degrades the action to
// none and appends an apology fragment. The input reply is not modified.
func (r *Resolver) Resolve(ctx context.Context, session *database.Session, reply *funnel.StructuredReply, catalog *media.Catalog) Resolution {
	out := *reply
	out.Messages = append([]string(nil), reply.Messages...)
	res := Resolution{Reply: &out}

	log := r.logger.With("session_id", session.ID, "action", reply.Action)

	switch {
	case reply.Action.ImpliesMedia():
		asset, ok := catalog.Resolve(reply.Action, reply.MediaID)
		if !ok {
			log.WarnContext(ctx, "No preview media available, degrading action", "media_id", reply.MediaID)
			r.degrade(&res, r.cfg.MediaUnavailable)
			return res
		}
		if asset.ID != reply.MediaID {
			log.InfoContext(ctx, "Media resolved by fallback", "requested", reply.MediaID, "resolved", asset.ID)
		}
		out.MediaID = asset.ID
		res.Media = &asset

	case reply.Action == funnel.ActionRequestPayment:
		if reply.Payment == nil {
			log.WarnContext(ctx, "Payment requested without details, degrading action")
			r.degrade(&res, r.cfg.PaymentFailed)
			return res
		}
		tier := r.cfg.Pricing.TierFor(session.DeviceClass)
		res.Offer = funnel.ClassifyOffer(reply.Payment.Amount, tier.Floor)
		if res.Offer == funnel.OfferCounter {
			log.WarnContext(ctx, "Charge requested below negotiation floor", "amount", reply.Payment.Amount, "floor", tier.Floor)
		}

		payerName := r.cfg.PayerName
		if session.DisplayName != "" {
			payerName = session.DisplayName
		}
		charge, err := r.gateway.Create(ctx, payment.CreateRequest{
			Amount:      reply.Payment.Amount,
			Description: reply.Payment.Description,
			PayerName:   payerName,
			PayerEmail:  r.cfg.PayerEmail,
			Reference:   session.ID,
		})
		if err != nil {
			log.ErrorContext(ctx, "Failed to create charge, degrading action", "amount", reply.Payment.Amount, "error", err)
			r.degrade(&res, r.cfg.PaymentFailed)
			return res
		}
		res.Charge = charge

	case reply.Action == funnel.ActionCheckPaymentStatus:
		// Resolved by the engine's feedback turn before reaching here.
		log.WarnContext(ctx, "Payment check reached the resolver, ignoring")
		out.Action = funnel.ActionNone
	}

	return res
}

func (r *Resolver) degrade(res *Resolution, apology string) {
	res.Reply.Action = funnel.ActionNone
	res.Reply.MediaID = ""
	res.Reply.Payment = nil
	if apology != "" {
		res.Reply.Messages = append(res.Reply.Messages, apology)
	}
	res.Degraded = true
}
