// Package realtime merges operator messages inserted outside the turn loop
// into a live transcript, from a push subscription with a polling fallback.
package realtime

import (
	"sync"

	"github.com/edgard/funnelbot/internal/database"
)

// Transcript is an append-only list of messages deduplicated by id.
type Transcript struct {
	mu       sync.Mutex
	seen     map[string]struct{}
	messages []*database.Message
}

// NewTranscript creates a transcript seeded with initial messages.
func NewTranscript(initial ...*database.Message) *Transcript {
	t := &Transcript{seen: make(map[string]struct{}, len(initial))}
	for _, m := range initial {
		t.Append(m)
	}
	return t
}

// Append adds msg unless a message with the same id is already present.
// It reports whether msg was added.
func (t *Transcript) Append(msg *database.Message) bool {
	if msg == nil || msg.ID == "" {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.seen[msg.ID]; ok {
		return false
	}
	t.seen[msg.ID] = struct{}{}
	t.messages = append(t.messages, msg)
	return true
}

// Has reports whether id is in the transcript.
func (t *Transcript) Has(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.seen[id]
	return ok
}

// Messages returns a copy of the transcript in append order.
func (t *Transcript) Messages() []*database.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*database.Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// Len returns the number of messages.
func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.messages)
}
