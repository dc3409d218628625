package app

import "sync"

const controlDedupeCap = 128

// dedupe remembers recently seen control message ids per session so replayed
// control messages neither re-persist nor re-broadcast.
type dedupe struct {
	mu       sync.Mutex
	capacity int
	sessions map[string]*idRing
}

type idRing struct {
	seen  map[string]struct{}
	order []string
}

func newDedupe(capacity int) *dedupe {
	return &dedupe{capacity: capacity, sessions: make(map[string]*idRing)}
}

// Seen reports whether messageID was already recorded for the session. Empty
// ids are never deduplicated.
func (d *dedupe) Seen(sessionID, messageID string) bool {
	if messageID == "" {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	ring, ok := d.sessions[sessionID]
	if !ok {
		return false
	}
	_, ok = ring.seen[messageID]
	return ok
}

// Record remembers messageID for the session, evicting the oldest id past
// capacity. Only call it once the control's effects are applied: a rejected
// or failed control must keep its id fresh so a retry is not absorbed as a
// replay.
func (d *dedupe) Record(sessionID, messageID string) {
	if messageID == "" {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	ring, ok := d.sessions[sessionID]
	if !ok {
		ring = &idRing{seen: make(map[string]struct{})}
		d.sessions[sessionID] = ring
	}
	if _, ok := ring.seen[messageID]; ok {
		return
	}

	ring.seen[messageID] = struct{}{}
	ring.order = append(ring.order, messageID)
	if len(ring.order) > d.capacity {
		oldest := ring.order[0]
		ring.order = ring.order[1:]
		delete(ring.seen, oldest)
	}
}

// Forget drops the session's ring, typically when the session finishes.
func (d *dedupe) Forget(sessionID string) {
	d.mu.Lock()
	delete(d.sessions, sessionID)
	d.mu.Unlock()
}
