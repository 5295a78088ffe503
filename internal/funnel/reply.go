package funnel

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidReply is returned when generator output does not satisfy the
// structured reply contract.
var ErrInvalidReply = errors.New("invalid structured reply")

var validate = validator.New(validator.WithRequiredStructEnabled())

// ParseReply decodes and validates raw generator output. Unknown fields are
// rejected and no partial interpretation is attempted: any violation yields
// ErrInvalidReply.
func ParseReply(raw string) (*StructuredReply, error) {
	text := stripCodeFence(raw)
	if text == "" {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidReply)
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(text)))
	dec.DisallowUnknownFields()

	var reply StructuredReply
	if err := dec.Decode(&reply); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidReply, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after object", ErrInvalidReply)
	}

	if err := Validate(&reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

// Validate checks a reply against the structured reply contract. Payment
// details only bind a request_payment action; on any other action they are
// dropped.
func Validate(reply *StructuredReply) error {
	if reply == nil {
		return fmt.Errorf("%w: nil reply", ErrInvalidReply)
	}
	if reply.Action != ActionRequestPayment {
		reply.Payment = nil
	}
	if err := validate.Struct(reply); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidReply, err)
	}
	for i, m := range reply.Messages {
		if strings.TrimSpace(m) == "" {
			return fmt.Errorf("%w: message %d is blank", ErrInvalidReply, i)
		}
	}
	return nil
}

// Silent returns the empty no-op reply used while an operator has paused the
// session.
func Silent(state State) *StructuredReply {
	if state == "" {
		state = StateWelcome
	}
	return &StructuredReply{
		LeadClass: LeadCold,
		State:     state,
		Action:    ActionNone,
		Messages:  []string{},
	}
}

// Fallback returns a scripted reply carrying the given fragments and no
// action, preserving the previous state and scores.
func Fallback(state State, scores Scores, fragments ...string) *StructuredReply {
	if state == "" {
		state = StateWelcome
	}
	return &StructuredReply{
		Reasoning: "fallback",
		LeadClass: LeadCold,
		Scores:    scores,
		State:     state,
		Action:    ActionNone,
		Messages:  fragments,
	}
}

// stripCodeFence removes a surrounding markdown code fence some models add
// even in JSON mode.
func stripCodeFence(raw string) string {
	text := strings.TrimSpace(raw)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimPrefix(text, "json")
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}
