package media

import "sync"

// Tracker remembers, per session, which asset ids the generator has already
// seen, so newly added assets can be announced on the next turn.
type Tracker struct {
	mu   sync.Mutex
	seen map[string]map[string]struct{}
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{seen: make(map[string]map[string]struct{})}
}

// Diff returns the assets of catalog not seen before by sessionID and marks
// them seen. The first call for a session only records a baseline and
// returns nothing, since the full catalog is already in the instruction block.
func (t *Tracker) Diff(sessionID string, catalog *Catalog) []Asset {
	t.mu.Lock()
	defer t.mu.Unlock()

	known, ok := t.seen[sessionID]
	if !ok {
		known = make(map[string]struct{}, catalog.Len())
		for _, a := range catalog.Assets() {
			known[a.ID] = struct{}{}
		}
		t.seen[sessionID] = known
		return nil
	}

	var added []Asset
	for _, a := range catalog.Assets() {
		if _, ok := known[a.ID]; ok {
			continue
		}
		known[a.ID] = struct{}{}
		added = append(added, a)
	}
	return added
}

// Forget drops the baseline of a session.
func (t *Tracker) Forget(sessionID string) {
	t.mu.Lock()
	delete(t.seen, sessionID)
	t.mu.Unlock()
}
