// Package funnel defines the conversation funnel vocabulary shared by the
// prompt builder, the conversation engine and the action resolver: funnel
// states, declared actions, lead-affinity scores and the structured reply
// contract the generator must satisfy on every turn.
package funnel

// State is the funnel phase the generator declares for a turn. States are
// tags for observability; the engine never gates behavior on them.
type State string

// Funnel states.
const (
	StateWelcome      State = "WELCOME"
	StateConnection   State = "CONNECTION"
	StateTrigger      State = "TRIGGER"
	StateInstigate    State = "INSTIGATE"
	StatePreview      State = "PREVIEW"
	StateOffer        State = "OFFER"
	StateNegotiation  State = "NEGOTIATION"
	StateClosing      State = "CLOSING"
	StatePaymentCheck State = "PAYMENT_CHECK"
	StateFarming      State = "FARMING"
	StateReactivation State = "REACTIVATION"
)

// States lists every funnel state in script order.
var States = []State{
	StateWelcome, StateConnection, StateTrigger, StateInstigate, StatePreview,
	StateOffer, StateNegotiation, StateClosing, StatePaymentCheck,
	StateFarming, StateReactivation,
}

// Action is the side effect a reply declares.
type Action string

// Declared actions.
const (
	ActionNone               Action = "none"
	ActionSendPhotoPreview   Action = "send_photo_preview"
	ActionSendVideoPreview   Action = "send_video_preview"
	ActionSendAudioPreview   Action = "send_audio_preview"
	ActionRequestPayment     Action = "request_payment"
	ActionCheckPaymentStatus Action = "check_payment_status"
)

// Actions lists every declared action.
var Actions = []Action{
	ActionNone, ActionSendPhotoPreview, ActionSendVideoPreview,
	ActionSendAudioPreview, ActionRequestPayment, ActionCheckPaymentStatus,
}

// MediaKind is the kind of an attached media asset.
type MediaKind string

// Media kinds.
const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
	MediaAudio MediaKind = "audio"
)

// ImpliesMedia reports whether the action sends a preview asset.
func (a Action) ImpliesMedia() bool {
	_, ok := a.MediaKind()
	return ok
}

// MediaKind returns the asset kind implied by a send-preview action.
func (a Action) MediaKind() (MediaKind, bool) {
	switch a {
	case ActionSendPhotoPreview:
		return MediaImage, true
	case ActionSendVideoPreview:
		return MediaVideo, true
	case ActionSendAudioPreview:
		return MediaAudio, true
	default:
		return "", false
	}
}

// LeadClass is the generator's coarse classification of the lead.
type LeadClass string

// Lead classifications.
const (
	LeadCold     LeadClass = "cold"
	LeadWarm     LeadClass = "warm"
	LeadHot      LeadClass = "hot"
	LeadCustomer LeadClass = "customer"
)

// LeadClasses lists every lead classification.
var LeadClasses = []LeadClass{LeadCold, LeadWarm, LeadHot, LeadCustomer}

// Scores holds the four independent lead-affinity signals, each in [0, 10].
type Scores struct {
	Arousal       int `json:"arousal"        validate:"min=0,max=10"`
	Attachment    int `json:"attachment"     validate:"min=0,max=10"`
	Connection    int `json:"connection"     validate:"min=0,max=10"`
	SpendingPower int `json:"spending_power" validate:"min=0,max=10"`
}

// PaymentDetails describes a charge the generator wants to request.
type PaymentDetails struct {
	Amount      float64 `json:"amount"      validate:"gt=0"`
	Description string  `json:"description" validate:"required"`
}

// StructuredReply is the schema-validated object the generator returns per
// turn.
type StructuredReply struct {
	Reasoning     string          `json:"reasoning"`
	LeadClass     LeadClass       `json:"lead_classification" validate:"required,oneof=cold warm hot customer"`
	Scores        Scores          `json:"lead_scores"`
	ExtractedName string          `json:"extracted_name,omitempty"`
	State         State           `json:"current_state"       validate:"required,oneof=WELCOME CONNECTION TRIGGER INSTIGATE PREVIEW OFFER NEGOTIATION CLOSING PAYMENT_CHECK FARMING REACTIVATION"`
	Messages      []string        `json:"messages"            validate:"min=1,dive,required"`
	Action        Action          `json:"action"              validate:"required,oneof=none send_photo_preview send_video_preview send_audio_preview request_payment check_payment_status"`
	MediaID       string          `json:"media_id,omitempty"`
	Payment       *PaymentDetails `json:"payment_details,omitempty" validate:"required_if=Action request_payment"`
}

// ChargeStatus is the gateway status of a payment charge.
type ChargeStatus string

// Charge statuses.
const (
	ChargePending  ChargeStatus = "pending"
	ChargeApproved ChargeStatus = "approved"
	ChargeOther    ChargeStatus = "other"
)

// Charge is the engine's snapshot of a gateway payment charge.
type Charge struct {
	ID     string       `json:"id"`
	Amount float64      `json:"amount"`
	Status ChargeStatus `json:"status"`
	Code   string       `json:"code"`
	QRCode string       `json:"qr_code,omitempty"`
}
