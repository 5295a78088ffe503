package funnel_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/funnelbot/internal/funnel"
)

const validReply = `{
	"reasoning": "lead is curious",
	"lead_classification": "warm",
	"lead_scores": {"arousal": 4, "attachment": 2, "connection": 5, "spending_power": 3},
	"extracted_name": "Joao",
	"current_state": "CONNECTION",
	"messages": ["oiii", "tudo bem?"],
	"action": "none"
}`

func TestParseReply_Valid(t *testing.T) {
	t.Parallel()

	reply, err := funnel.ParseReply(validReply)
	require.NoError(t, err)
	assert.Equal(t, funnel.StateConnection, reply.State)
	assert.Equal(t, funnel.ActionNone, reply.Action)
	assert.Equal(t, []string{"oiii", "tudo bem?"}, reply.Messages)
	assert.Equal(t, 5, reply.Scores.Connection)
	assert.Equal(t, "Joao", reply.ExtractedName)
}

func TestParseReply_CodeFence(t *testing.T) {
	t.Parallel()

	reply, err := funnel.ParseReply("```json\n" + validReply + "\n```")
	require.NoError(t, err)
	assert.Equal(t, funnel.LeadWarm, reply.LeadClass)
}

func TestParseReply_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
	}{
		{name: "empty", input: ""},
		{name: "not json", input: "hello there"},
		{name: "truncated", input: `{"lead_classification": "warm"`},
		{
			name: "unknown state",
			input: `{"lead_classification":"warm","lead_scores":{},"current_state":"DANCING",
				"messages":["a"],"action":"none"}`,
		},
		{
			name: "unknown action",
			input: `{"lead_classification":"warm","lead_scores":{},"current_state":"OFFER",
				"messages":["a"],"action":"send_cake"}`,
		},
		{
			name: "score out of range",
			input: `{"lead_classification":"warm","lead_scores":{"arousal":11},"current_state":"OFFER",
				"messages":["a"],"action":"none"}`,
		},
		{
			name: "no messages",
			input: `{"lead_classification":"warm","lead_scores":{},"current_state":"OFFER",
				"messages":[],"action":"none"}`,
		},
		{
			name: "blank message",
			input: `{"lead_classification":"warm","lead_scores":{},"current_state":"OFFER",
				"messages":["   "],"action":"none"}`,
		},
		{
			name: "payment without details",
			input: `{"lead_classification":"hot","lead_scores":{},"current_state":"CLOSING",
				"messages":["segue o pix"],"action":"request_payment"}`,
		},
		{
			name: "payment with zero amount",
			input: `{"lead_classification":"hot","lead_scores":{},"current_state":"CLOSING",
				"messages":["segue o pix"],"action":"request_payment",
				"payment_details":{"amount":0,"description":"pack"}}`,
		},
		{
			name: "unknown field",
			input: `{"lead_classification":"warm","lead_scores":{},"current_state":"OFFER",
				"messages":["a"],"action":"none","mood":"happy"}`,
		},
		{
			name: "trailing object",
			input: `{"lead_classification":"warm","lead_scores":{},"current_state":"OFFER",
				"messages":["a"],"action":"none"} {}`,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := funnel.ParseReply(tc.input)
			require.ErrorIs(t, err, funnel.ErrInvalidReply)
		})
	}
}

func TestParseReply_PaymentDetails(t *testing.T) {
	t.Parallel()

	reply, err := funnel.ParseReply(`{"lead_classification":"hot","lead_scores":{"spending_power":8},
		"current_state":"CLOSING","messages":["segue o pix amor"],"action":"request_payment",
		"payment_details":{"amount":45.0,"description":"pack completo"}}`)
	require.NoError(t, err)
	require.NotNil(t, reply.Payment)
	assert.InDelta(t, 45.0, reply.Payment.Amount, 0.001)
}

func TestParseReply_PaymentDetailsIgnoredOutsidePaymentRequest(t *testing.T) {
	t.Parallel()

	reply, err := funnel.ParseReply(`{"lead_classification":"warm","lead_scores":{},
		"current_state":"CONNECTION","messages":["oiii"],"action":"none",
		"payment_details":{"amount":0,"description":""}}`)
	require.NoError(t, err)
	assert.Nil(t, reply.Payment)

	_, err = funnel.ParseReply(`{"lead_classification":"hot","lead_scores":{},
		"current_state":"CLOSING","messages":["segue"],"action":"request_payment",
		"payment_details":{"amount":0,"description":""}}`)
	require.ErrorIs(t, err, funnel.ErrInvalidReply)
}

func TestActionMediaKind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		action funnel.Action
		kind   funnel.MediaKind
		media  bool
	}{
		{funnel.ActionSendPhotoPreview, funnel.MediaImage, true},
		{funnel.ActionSendVideoPreview, funnel.MediaVideo, true},
		{funnel.ActionSendAudioPreview, funnel.MediaAudio, true},
		{funnel.ActionRequestPayment, "", false},
		{funnel.ActionCheckPaymentStatus, "", false},
		{funnel.ActionNone, "", false},
	}
	for _, tc := range tests {
		kind, ok := tc.action.MediaKind()
		assert.Equal(t, tc.media, ok, tc.action)
		assert.Equal(t, tc.kind, kind, tc.action)
		assert.Equal(t, tc.media, tc.action.ImpliesMedia(), tc.action)
	}
}

func TestClassifyOffer(t *testing.T) {
	t.Parallel()

	assert.Equal(t, funnel.OfferAutoAccept, funnel.ClassifyOffer(45.00, 25))
	assert.Equal(t, funnel.OfferAutoAccept, funnel.ClassifyOffer(25.00, 25))
	assert.Equal(t, funnel.OfferCounter, funnel.ClassifyOffer(20.00, 25))
}

func TestPricingTierFor(t *testing.T) {
	t.Parallel()

	p := funnel.Pricing{
		Default: funnel.PriceTier{Anchor: 50, Offer: 35, Floor: 25},
		Devices: map[string]funnel.PriceTier{"ios": {Anchor: 80, Offer: 60, Floor: 40}},
	}
	assert.InDelta(t, 80.0, p.TierFor("iOS").Anchor, 0.001)
	assert.InDelta(t, 50.0, p.TierFor("android").Anchor, 0.001)
}
