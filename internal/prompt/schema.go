package prompt

import (
	"google.golang.org/genai"

	"github.com/edgard/funnelbot/internal/funnel"
)

func enumOf[T ~string](values []T) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return out
}

func scoreSchema(desc string) *genai.Schema {
	return &genai.Schema{Type: genai.TypeInteger, Description: desc, Minimum: genai.Ptr(0.0), Maximum: genai.Ptr(10.0)}
}

// ReplySchema describes funnel.StructuredReply for JSON-mode generation.
var ReplySchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"reasoning": {Type: genai.TypeString, Description: "Hidden reasoning about the lead and the next step. Never shown to the lead."},
		"lead_classification": {
			Type: genai.TypeString, Enum: enumOf(funnel.LeadClasses),
			Description: "Coarse classification of the lead.",
		},
		"lead_scores": {
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"arousal":        scoreSchema("Sexual interest, 0 to 10."),
				"attachment":     scoreSchema("Need for attention and affection, 0 to 10."),
				"connection":     scoreSchema("Emotional connection built so far, 0 to 10."),
				"spending_power": scoreSchema("Perceived purchasing power, 0 to 10."),
			},
			Required: []string{"arousal", "attachment", "connection", "spending_power"},
		},
		"extracted_name": {Type: genai.TypeString, Description: "The lead's name if they said it, otherwise empty."},
		"current_state": {
			Type: genai.TypeString, Enum: enumOf(funnel.States),
			Description: "Funnel phase of this reply.",
		},
		"messages": {
			Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString},
			MinItems:    genai.Ptr[int64](1),
			Description: "Short chat messages, delivered in order as separate bubbles.",
		},
		"action": {
			Type: genai.TypeString, Enum: enumOf(funnel.Actions),
			Description: "Side effect to perform with this reply.",
		},
		"media_id": {Type: genai.TypeString, Description: "Id of the media to send when action sends a preview."},
		"payment_details": {
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"amount":      {Type: genai.TypeNumber, Description: "Amount in BRL."},
				"description": {Type: genai.TypeString, Description: "What the lead is paying for."},
			},
			Required:    []string{"amount", "description"},
			Description: "Required when action is request_payment.",
		},
	},
	Required: []string{"reasoning", "lead_classification", "lead_scores", "current_state", "messages", "action"},
	PropertyOrdering: []string{
		"reasoning", "lead_classification", "lead_scores", "extracted_name", "current_state",
		"messages", "action", "media_id", "payment_details",
	},
}
