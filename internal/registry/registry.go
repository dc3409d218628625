// Package registry tracks every logical connection: its session, identity,
// role and liveness. It has no dependencies on the rest of the coordinator;
// the "participant left" side effect is surfaced through a hook the caller
// wires at startup.
package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"quiz-sync-service/internal/domain"
)

// ConnectionState describes one logical connection. Destroyed on detach.
type ConnectionState struct {
	ConnID        string
	SessionID     string
	Identity      string
	Role          domain.Role
	ConnectedAt   time.Time
	Live          bool
	LastHeartbeat time.Time
}

// IdentityGoneFunc is invoked after a detach leaves a session with no other
// live connection for the detached identity.
type IdentityGoneFunc func(sessionID, identity string, role domain.Role)

// Registry is a concurrent-safe map of connection states.
type Registry struct {
	log   *logrus.Entry
	clock func() time.Time

	mu             sync.RWMutex
	conns          map[string]*ConnectionState
	onIdentityGone IdentityGoneFunc
}

func New(log *logrus.Entry) *Registry {
	return &Registry{
		log:   log,
		clock: time.Now,
		conns: make(map[string]*ConnectionState),
	}
}

// OnIdentityGone wires the participant-left hook. Must be called before the
// registry starts receiving traffic.
func (r *Registry) OnIdentityGone(fn IdentityGoneFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onIdentityGone = fn
}

// Register creates the state for a fresh connection.
func (r *Registry) Register(connID string) ConnectionState {
	now := r.clock()
	state := &ConnectionState{
		ConnID:        connID,
		ConnectedAt:   now,
		Live:          true,
		LastHeartbeat: now,
	}

	r.mu.Lock()
	r.conns[connID] = state
	r.mu.Unlock()

	r.log.WithField("conn_id", connID).Debug("connection registered")
	return *state
}

// Attach binds a registered connection to a session under an identity and role.
func (r *Registry) Attach(connID, sessionID, identity string, role domain.Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.conns[connID]
	if !ok {
		return fmt.Errorf("attach %s: %w", connID, domain.ErrNotFound)
	}
	state.SessionID = sessionID
	state.Identity = identity
	state.Role = role
	return nil
}

// Heartbeat stamps the connection's last-heartbeat time.
func (r *Registry) Heartbeat(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if state, ok := r.conns[connID]; ok {
		state.LastHeartbeat = r.clock()
	}
}

// Detach removes a connection and returns its final state. Fires the
// identity-gone hook when no other live connection in the same session
// carries the same identity.
func (r *Registry) Detach(connID string) (ConnectionState, error) {
	r.mu.Lock()
	state, ok := r.conns[connID]
	if !ok {
		r.mu.Unlock()
		return ConnectionState{}, fmt.Errorf("detach %s: %w", connID, domain.ErrNotFound)
	}
	delete(r.conns, connID)
	state.Live = false
	final := *state

	gone := final.Identity != "" && !r.identityPresentLocked(final.SessionID, final.Identity)
	hook := r.onIdentityGone
	r.mu.Unlock()

	r.log.WithFields(logrus.Fields{"conn_id": connID, "session_id": final.SessionID}).Debug("connection detached")
	if gone && hook != nil {
		hook(final.SessionID, final.Identity, final.Role)
	}
	return final, nil
}

func (r *Registry) identityPresentLocked(sessionID, identity string) bool {
	for _, s := range r.conns {
		if s.SessionID == sessionID && s.Identity == identity {
			return true
		}
	}
	return false
}

// ListBySession returns the distinct identities connected to a session.
func (r *Registry) ListBySession(sessionID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	identities := make([]string, 0)
	for _, s := range r.conns {
		if s.SessionID != sessionID || s.Identity == "" {
			continue
		}
		if _, ok := seen[s.Identity]; ok {
			continue
		}
		seen[s.Identity] = struct{}{}
		identities = append(identities, s.Identity)
	}
	return identities
}

// CountBySession returns the number of distinct participant identities
// connected to a session.
func (r *Registry) CountBySession(sessionID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, s := range r.conns {
		if s.SessionID == sessionID && s.Role == domain.RoleParticipant && s.Identity != "" {
			seen[s.Identity] = struct{}{}
		}
	}
	return len(seen)
}

// Counts is a point-in-time snapshot for the ops surface.
type Counts struct {
	Connections  int
	Sessions     int
	Participants int
}

// Snapshot aggregates connection counts without side effects.
func (r *Registry) Snapshot() Counts {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make(map[string]struct{})
	participants := make(map[string]struct{})
	for _, s := range r.conns {
		if s.SessionID != "" {
			sessions[s.SessionID] = struct{}{}
		}
		if s.Role == domain.RoleParticipant && s.Identity != "" {
			participants[s.SessionID+"/"+s.Identity] = struct{}{}
		}
	}
	return Counts{
		Connections:  len(r.conns),
		Sessions:     len(sessions),
		Participants: len(participants),
	}
}

// SweepStale detaches every connection whose last heartbeat is older than
// cutoff and returns the detached states. Driven by the background sweeper.
func (r *Registry) SweepStale(cutoff time.Duration) []ConnectionState {
	now := r.clock()

	r.mu.RLock()
	stale := make([]string, 0)
	for id, s := range r.conns {
		if now.Sub(s.LastHeartbeat) > cutoff {
			stale = append(stale, id)
		}
	}
	r.mu.RUnlock()

	detached := make([]ConnectionState, 0, len(stale))
	for _, id := range stale {
		state, err := r.Detach(id)
		if err != nil {
			continue // already gone
		}
		r.log.WithFields(logrus.Fields{"conn_id": id, "session_id": state.SessionID}).Info("stale connection swept")
		detached = append(detached, state)
	}
	return detached
}
