// Package payment talks to the PIX-style payment gateway that issues
// charges for the funnel and reports their status.
package payment

import (
	"context"
	"errors"
	"strings"

	"github.com/edgard/funnelbot/internal/funnel"
)

// ErrGateway marks failures reported by, or in reaching, the gateway.
var ErrGateway = errors.New("payment gateway error")

// CreateRequest describes a charge to issue.
type CreateRequest struct {
	Amount      float64
	Description string
	PayerName   string
	PayerEmail  string
	Reference   string
}

// Gateway creates charges and queries their status.
type Gateway interface {
	Create(ctx context.Context, req CreateRequest) (*funnel.Charge, error)
	Status(ctx context.Context, chargeID string) (funnel.ChargeStatus, error)
}

// MapStatus normalizes a gateway status string.
func MapStatus(raw string) funnel.ChargeStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "pending", "waiting", "waiting_payment", "created", "active":
		return funnel.ChargePending
	case "approved", "paid", "completed", "confirmed":
		return funnel.ChargeApproved
	default:
		return funnel.ChargeOther
	}
}
