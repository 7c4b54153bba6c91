package session

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/raaihank/glasslm/internal/privacy"
)

// Info describes a session without exposing its originals
type Info struct {
	ID         string    `json:"id"`
	Items      int       `json:"items"`
	CreatedAt  time.Time `json:"created_at"`
	LastAccess time.Time `json:"last_access"`
}

type entry struct {
	registry   *privacy.Registry
	createdAt  time.Time
	lastAccess time.Time
}

// Store owns the placeholder registries of live conversations
type Store struct {
	mu       sync.Mutex
	sessions map[string]*entry
	ttl      time.Duration
	now      func() time.Time
}

// NewStore creates a store whose sessions expire after ttl of inactivity.
// A zero ttl keeps sessions until deleted.
func NewStore(ttl time.Duration) *Store {
	return &Store{
		sessions: make(map[string]*entry),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Create starts a new session and returns its ID
func (s *Store) Create() string {
	id := uuid.NewString()
	now := s.now()

	s.mu.Lock()
	s.sessions[id] = &entry{registry: privacy.NewRegistry(), createdAt: now, lastAccess: now}
	s.mu.Unlock()

	return id
}

// Get returns the registry of a live session and refreshes its expiry
func (s *Store) Get(id string) (*privacy.Registry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	e.lastAccess = s.now()
	return e.registry, true
}

// GetOrCreate returns the registry for id, creating the session when it
// does not exist. Clients may pick their own IDs.
func (s *Store) GetOrCreate(id string) *privacy.Registry {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e, ok := s.sessions[id]
	if !ok {
		e = &entry{registry: privacy.NewRegistry(), createdAt: now}
		s.sessions[id] = e
	}
	e.lastAccess = now
	return e.registry
}

// Delete ends a session and forgets its originals
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	e, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if ok {
		e.registry.Clear()
	}
	return ok
}

// Sweep removes sessions idle for longer than the TTL and returns how many were removed
func (s *Store) Sweep() int {
	if s.ttl <= 0 {
		return 0
	}

	cutoff := s.now().Add(-s.ttl)
	var expired []*entry

	s.mu.Lock()
	for id, e := range s.sessions {
		if e.lastAccess.Before(cutoff) {
			expired = append(expired, e)
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()

	for _, e := range expired {
		e.registry.Clear()
	}
	return len(expired)
}

// Len returns the number of live sessions
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// List describes every live session, most recently used first
func (s *Store) List() []Info {
	s.mu.Lock()
	infos := make([]Info, 0, len(s.sessions))
	for id, e := range s.sessions {
		infos = append(infos, Info{
			ID:         id,
			Items:      e.registry.Len(),
			CreatedAt:  e.createdAt,
			LastAccess: e.lastAccess,
		})
	}
	s.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].LastAccess.After(infos[j].LastAccess)
	})
	return infos
}
