package database

import (
	"time"
)

// Session statuses.
const (
	StatusActive = "active"
	StatusPaused = "paused"
	StatusClosed = "closed"
)

// Message senders.
const (
	SenderUser     = "user"
	SenderPersona  = "persona"
	SenderOperator = "operator"
)

// Session channels.
const (
	ChannelWeb      = "web"
	ChannelTelegram = "telegram"
)

// Media asset categories.
const (
	CategoryPreview = "preview"
	CategoryFull    = "full"
)

// Session represents one ongoing conversation with a lead. It carries the
// funnel state and lead-affinity scores the engine updates after every
// processed turn.
type Session struct {
	ID             string    `db:"id"                json:"id"`
	CreatedAt      time.Time `db:"created_at"        json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"        json:"updated_at"`
	LastActivityAt time.Time `db:"last_activity_at"  json:"last_activity_at"`

	Channel     string `db:"channel"      json:"channel"`
	ExternalID  string `db:"external_id"  json:"external_id,omitempty"`
	Location    string `db:"location"     json:"location"`
	DeviceClass string `db:"device_class" json:"device_class"`
	Status      string `db:"status"       json:"status"`
	FunnelState string `db:"funnel_state" json:"funnel_state"`

	Arousal       int `db:"arousal"        json:"arousal"`
	Attachment    int `db:"attachment"     json:"attachment"`
	Connection    int `db:"connection"     json:"connection"`
	SpendingPower int `db:"spending_power" json:"spending_power"`

	DisplayName string `db:"display_name" json:"display_name,omitempty"`
}

// Message is one atomic unit of a session transcript. Messages are immutable
// once inserted, except for the payment charge columns which may be attached
// or refreshed afterwards.
type Message struct {
	ID        string `db:"id"         json:"id"`
	SessionID string `db:"session_id" json:"session_id"`
	Sender    string `db:"sender"     json:"sender"`
	Content   string `db:"content"    json:"content"`

	MediaURL  string `db:"media_url"  json:"media_url,omitempty"`
	MediaKind string `db:"media_kind" json:"media_kind,omitempty"`

	ChargeID     string  `db:"charge_id"     json:"charge_id,omitempty"`
	ChargeCode   string  `db:"charge_code"   json:"charge_code,omitempty"`
	ChargeAmount float64 `db:"charge_amount" json:"charge_amount,omitempty"`
	ChargeStatus string  `db:"charge_status" json:"charge_status,omitempty"`

	Reasoning   string `db:"reasoning"    json:"reasoning,omitempty"`
	FunnelState string `db:"funnel_state" json:"funnel_state,omitempty"`
	Action      string `db:"action"       json:"action,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// HasCharge reports whether a payment charge snapshot is attached.
func (m *Message) HasCharge() bool {
	return m != nil && m.ChargeID != ""
}

// MediaAsset is an entry of the media catalog.
type MediaAsset struct {
	ID          string    `db:"id"          json:"id"`
	URL         string    `db:"url"         json:"url"`
	Kind        string    `db:"kind"        json:"kind"`
	Category    string    `db:"category"    json:"category"`
	Description string    `db:"description" json:"description"`
	Tags        string    `db:"tags"        json:"tags"`
	Blurred     bool      `db:"blurred"     json:"blurred"`
	CreatedAt   time.Time `db:"created_at"  json:"created_at"`
}
