// Package prompt builds the per-turn instruction block and output schema
// handed to the generator.
package prompt

import (
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/edgard/funnelbot/internal/funnel"
	"github.com/edgard/funnelbot/internal/media"
)

// Affinity directives, each included when its score is above the threshold.
const (
	HighArousalDirective = `[HIGH AROUSAL] The lead is very aroused. Keep the tension high, be bolder and more explicit in teasing, and move toward a preview or the offer.`

	HighAttachmentDirective = `[HIGH ATTACHMENT] The lead craves attention. Be affectionate, remember details they shared, make them feel special, and frame the offer as intimacy only they get.`

	HighConnectionDirective = `[HIGH CONNECTION] A strong emotional bond exists. Talk like an old friend, share small personal moments, and avoid sounding transactional.`

	HighSpendingDirective = `[HIGH SPENDING POWER] The lead can afford more. Anchor at the premium price and offer the premium pack before discounting.`
)

// DefaultAffinityThreshold is the score above which a directive applies.
const DefaultAffinityThreshold = 7

// Context is everything the instruction block depends on.
type Context struct {
	Script      string
	Location    string
	DeviceClass string
	DisplayName string
	Scores      *funnel.Scores
	Tier        funnel.PriceTier
	Threshold   int
	Catalog     *media.Catalog
}

// Instruction is the system instruction plus the output schema.
type Instruction struct {
	Text   string
	Schema *genai.Schema
}

// Build renders the instruction block. It is pure: the same Context always
// yields the same Instruction.
func Build(c Context) Instruction {
	var sb strings.Builder

	sb.WriteString(strings.TrimSpace(c.Script))
	sb.WriteString("\n\n## LEAD CONTEXT\n")
	fmt.Fprintf(&sb, "Location: %s\n", orUnknown(c.Location))
	fmt.Fprintf(&sb, "Device: %s\n", orUnknown(c.DeviceClass))
	if c.DisplayName != "" {
		fmt.Fprintf(&sb, "Name: %s\n", c.DisplayName)
	}
	if c.Scores != nil {
		fmt.Fprintf(&sb, "Current scores: arousal=%d attachment=%d connection=%d spending_power=%d\n",
			c.Scores.Arousal, c.Scores.Attachment, c.Scores.Connection, c.Scores.SpendingPower)
	}

	sb.WriteString("\n## PRICING\n")
	fmt.Fprintf(&sb, "Anchor price: R$ %.2f\n", c.Tier.Anchor)
	fmt.Fprintf(&sb, "Offer price: R$ %.2f\n", c.Tier.Offer)
	if c.Tier.Premium > 0 {
		fmt.Fprintf(&sb, "Premium pack: R$ %.2f\n", c.Tier.Premium)
	}
	sb.WriteString("\n## NEGOTIATION\n")
	fmt.Fprintf(&sb, "Accept any offer of R$ %.2f or more and move to CLOSING.\n", c.Tier.Floor)
	fmt.Fprintf(&sb, "Below R$ %.2f never accept: counter with the offer price and add value instead of dropping further.\n", c.Tier.Floor)

	if directives := Directives(c.Scores, c.threshold()); len(directives) > 0 {
		sb.WriteString("\n## BEHAVIOR ADJUSTMENTS\n")
		for _, d := range directives {
			sb.WriteString(d)
			sb.WriteByte('\n')
		}
	}

	sb.WriteString("\n## AVAILABLE MEDIA\n")
	sb.WriteString("Only these media ids exist. Use send_photo_preview, send_video_preview or send_audio_preview with media_id set to one of them.\n")
	sb.WriteString(c.Catalog.Describe())
	sb.WriteString("\n")

	sb.WriteString(outputContract)

	return Instruction{Text: sb.String(), Schema: ReplySchema}
}

// Directives returns the affinity directives for every axis above threshold.
// Each axis is checked independently.
func Directives(scores *funnel.Scores, threshold int) []string {
	if scores == nil {
		return nil
	}
	var out []string
	if scores.Arousal > threshold {
		out = append(out, HighArousalDirective)
	}
	if scores.Attachment > threshold {
		out = append(out, HighAttachmentDirective)
	}
	if scores.Connection > threshold {
		out = append(out, HighConnectionDirective)
	}
	if scores.SpendingPower > threshold {
		out = append(out, HighSpendingDirective)
	}
	return out
}

func (c Context) threshold() int {
	if c.Threshold <= 0 {
		return DefaultAffinityThreshold
	}
	return c.Threshold
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "unknown"
	}
	return s
}

const outputContract = `
## OUTPUT CONTRACT [CRITICAL]
Reply ONLY with one JSON object matching the response schema:
- "messages": 1 to 4 short chat bubbles, in the order they must be sent.
- "current_state": the funnel phase you are in after this reply.
- "lead_scores": your updated 0-10 estimate of each signal.
- "action": "none" unless you are sending media, requesting payment or checking a payment.
- "request_payment" requires "payment_details" with the agreed amount.
- Use "check_payment_status" when the lead says they paid; you will receive the result before replying.
- Messages starting with [SYSTEM] come from the platform, not the lead. Never quote them.
`
