package registry

import (
	"errors"
	"testing"
	"time"

	"quiz-sync-service/internal/domain"
	"quiz-sync-service/internal/logging"
)

func TestRegisterAttachDetach(t *testing.T) {
	reg := New(logging.Discard())

	state := reg.Register("c1")
	if !state.Live {
		t.Fatalf("expected live connection")
	}
	if err := reg.Attach("c1", "s1", "p1", domain.RoleParticipant); err != nil {
		t.Fatalf("attach: %v", err)
	}

	final, err := reg.Detach("c1")
	if err != nil {
		t.Fatalf("detach: %v", err)
	}
	if final.SessionID != "s1" || final.Identity != "p1" || final.Live {
		t.Fatalf("unexpected final state: %+v", final)
	}
}

func TestDetachUnknownConnection(t *testing.T) {
	reg := New(logging.Discard())
	if _, err := reg.Detach("nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestAttachUnknownConnection(t *testing.T) {
	reg := New(logging.Discard())
	if err := reg.Attach("nope", "s1", "p1", domain.RoleParticipant); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestIdentityGoneHookFiresOnLastConnection(t *testing.T) {
	reg := New(logging.Discard())

	var gone []string
	reg.OnIdentityGone(func(sessionID, identity string, role domain.Role) {
		gone = append(gone, sessionID+"/"+identity)
	})

	// Two connections for the same participant (phone + reconnect overlap).
	reg.Register("c1")
	_ = reg.Attach("c1", "s1", "p1", domain.RoleParticipant)
	reg.Register("c2")
	_ = reg.Attach("c2", "s1", "p1", domain.RoleParticipant)

	if _, err := reg.Detach("c1"); err != nil {
		t.Fatalf("detach c1: %v", err)
	}
	if len(gone) != 0 {
		t.Fatalf("hook fired while identity still connected: %v", gone)
	}

	if _, err := reg.Detach("c2"); err != nil {
		t.Fatalf("detach c2: %v", err)
	}
	if len(gone) != 1 || gone[0] != "s1/p1" {
		t.Fatalf("expected one hook call for s1/p1, got %v", gone)
	}
}

func TestListAndCountBySession(t *testing.T) {
	reg := New(logging.Discard())

	reg.Register("c1")
	_ = reg.Attach("c1", "s1", "p1", domain.RoleParticipant)
	reg.Register("c2")
	_ = reg.Attach("c2", "s1", "p2", domain.RoleParticipant)
	reg.Register("c3")
	_ = reg.Attach("c3", "s1", "host", domain.RoleHost)
	reg.Register("c4")
	_ = reg.Attach("c4", "s2", "p3", domain.RoleParticipant)

	if got := len(reg.ListBySession("s1")); got != 3 {
		t.Fatalf("expected 3 identities in s1, got %d", got)
	}
	if got := reg.CountBySession("s1"); got != 2 {
		t.Fatalf("expected 2 participants in s1, got %d", got)
	}

	counts := reg.Snapshot()
	if counts.Connections != 4 || counts.Sessions != 2 || counts.Participants != 3 {
		t.Fatalf("unexpected snapshot: %+v", counts)
	}
}

func TestSweepStale(t *testing.T) {
	reg := New(logging.Discard())
	now := time.Now()
	reg.clock = func() time.Time { return now }

	reg.Register("old")
	_ = reg.Attach("old", "s1", "p1", domain.RoleParticipant)
	reg.Register("fresh")
	_ = reg.Attach("fresh", "s1", "p2", domain.RoleParticipant)

	now = now.Add(3 * time.Minute)
	reg.Heartbeat("fresh")

	swept := reg.SweepStale(2 * time.Minute)
	if len(swept) != 1 || swept[0].ConnID != "old" {
		t.Fatalf("expected only the silent connection swept, got %+v", swept)
	}
	if got := reg.Snapshot().Connections; got != 1 {
		t.Fatalf("expected 1 connection left, got %d", got)
	}
}
