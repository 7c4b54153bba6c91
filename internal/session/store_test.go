package session

import (
	"testing"
	"time"

	"github.com/raaihank/glasslm/internal/privacy"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func newTestStore(ttl time.Duration) (*Store, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	s := NewStore(ttl)
	s.now = clock.now
	return s, clock
}

func TestStoreLifecycle(t *testing.T) {
	s, _ := newTestStore(time.Hour)

	id := s.Create()
	if id == "" {
		t.Fatal("expected session id")
	}

	registry, ok := s.Get(id)
	if !ok || registry == nil {
		t.Fatal("created session not found")
	}

	privacy.MaskWithRegistry("mail bob@corp.io", registry)
	infos := s.List()
	if len(infos) != 1 || infos[0].Items != 1 {
		t.Errorf("unexpected session list %+v", infos)
	}

	if !s.Delete(id) {
		t.Error("Delete should report an existing session")
	}
	if _, ok := s.Get(id); ok {
		t.Error("deleted session still present")
	}
	if registry.Len() != 0 {
		t.Error("deleted session registry should be cleared")
	}
	if s.Delete(id) {
		t.Error("second Delete should report missing session")
	}
}

func TestGetOrCreateReusesRegistry(t *testing.T) {
	s, _ := newTestStore(time.Hour)

	a := s.GetOrCreate("client-chosen")
	b := s.GetOrCreate("client-chosen")
	if a != b {
		t.Error("expected the same registry for the same id")
	}
	if s.Len() != 1 {
		t.Errorf("expected 1 session, got %d", s.Len())
	}
}

func TestSweepExpiresIdleSessions(t *testing.T) {
	s, clock := newTestStore(time.Hour)

	idle := s.Create()
	clock.t = clock.t.Add(45 * time.Minute)
	active := s.Create()

	clock.t = clock.t.Add(30 * time.Minute)
	if _, ok := s.Get(active); !ok {
		t.Fatal("active session missing")
	}

	if removed := s.Sweep(); removed != 1 {
		t.Errorf("expected 1 removed session, got %d", removed)
	}
	if _, ok := s.Get(idle); ok {
		t.Error("idle session should have expired")
	}
	if _, ok := s.Get(active); !ok {
		t.Error("active session should survive")
	}
}

func TestSweepWithoutTTL(t *testing.T) {
	s, clock := newTestStore(0)
	s.Create()
	clock.t = clock.t.Add(1000 * time.Hour)

	if removed := s.Sweep(); removed != 0 {
		t.Errorf("zero ttl should keep sessions, removed %d", removed)
	}
}

func TestNewSweeper(t *testing.T) {
	s, clock := newTestStore(time.Minute)
	s.Create()
	clock.t = clock.t.Add(time.Hour)

	var expired int
	sweeper, err := NewSweeper(s, "@every 1m", nil, func(n int) { expired += n })
	if err != nil {
		t.Fatalf("NewSweeper failed: %v", err)
	}

	sweeper.run()
	if expired != 1 || s.Len() != 0 {
		t.Errorf("expected sweep to expire 1 session, got %d (remaining %d)", expired, s.Len())
	}

	if _, err := NewSweeper(s, "every so often", nil, nil); err == nil {
		t.Error("expected error for invalid schedule")
	}
}
