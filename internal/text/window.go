package text

import (
	"log/slog"

	"github.com/edgard/funnelbot/internal/database"
)

// messageOverhead approximates per-message role and framing tokens.
const messageOverhead = 8

// Window selects the most recent messages that fit a token budget.
type Window struct {
	MaxTokens int
	Count     Counter
	Logger    *slog.Logger
}

// NewWindow creates a window. A nil counter uses CountTokens.
func NewWindow(maxTokens int, count Counter, logger *slog.Logger) *Window {
	if count == nil {
		count = CountTokens
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Window{MaxTokens: maxTokens, Count: count, Logger: logger}
}

// Select returns the longest chronological suffix of messages whose tokens,
// plus reserved, fit MaxTokens. A non-positive MaxTokens keeps everything.
func (w *Window) Select(messages []*database.Message, reserved int) []*database.Message {
	if w.MaxTokens <= 0 || len(messages) == 0 {
		return messages
	}

	available := w.MaxTokens - reserved
	if available <= 0 {
		return nil
	}

	used := 0
	first := len(messages)
	for i := len(messages) - 1; i >= 0; i-- {
		cost := w.Count(messages[i].Content) + messageOverhead
		if used+cost > available {
			break
		}
		used += cost
		first = i
	}

	selected := messages[first:]
	if first > 0 {
		w.Logger.Debug("History trimmed to token budget",
			"total_messages", len(messages),
			"selected_messages", len(selected),
			"used_tokens", used,
			"available_tokens", available)
	}
	return selected
}
