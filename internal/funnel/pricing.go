package funnel

import "strings"

// OfferClass is the outcome of comparing a proposed amount with the
// negotiation floor.
type OfferClass string

// Offer classes.
const (
	OfferAutoAccept OfferClass = "auto_accept"
	OfferCounter    OfferClass = "counter_offer"
)

// ClassifyOffer accepts any amount at or above the floor and asks for a
// counter-offer below it.
func ClassifyOffer(amount, floor float64) OfferClass {
	if amount >= floor {
		return OfferAutoAccept
	}
	return OfferCounter
}

// PriceTier is the price ladder offered to one device class.
type PriceTier struct {
	Anchor  float64 `mapstructure:"anchor"  validate:"gt=0"`
	Offer   float64 `mapstructure:"offer"   validate:"gt=0"`
	Floor   float64 `mapstructure:"floor"   validate:"gt=0"`
	Premium float64 `mapstructure:"premium" validate:"gte=0"`
}

// Pricing maps device classes to price tiers.
type Pricing struct {
	Default PriceTier            `mapstructure:"default"`
	Devices map[string]PriceTier `mapstructure:"devices"`
}

// TierFor returns the tier configured for the device class, or the default
// tier when none is configured.
func (p Pricing) TierFor(deviceClass string) PriceTier {
	if tier, ok := p.Devices[strings.ToLower(deviceClass)]; ok {
		return tier
	}
	return p.Default
}
