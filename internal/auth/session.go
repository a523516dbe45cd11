package auth

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/veganmessenger/server/internal/model"
)

// SessionStore keeps login sessions addressed by an opaque session id,
// isolated from any HTTP framework state so it is testable without a
// simulated request context.
type SessionStore interface {
	// Create opens a session for the user and returns it.
	Create(userID string) model.Session
	// Get returns the session for id; the second result is false when
	// the session does not exist or has expired.
	Get(id string) (model.Session, bool)
	// Destroy removes the session. Destroying an absent id is a no-op.
	Destroy(id string)
}

// MemorySessionStore is an in-process SessionStore with TTL expiry.
// Sessions do not survive a restart.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]model.Session
	ttl      time.Duration
}

// NewMemorySessionStore creates a session store whose sessions expire
// after ttl.
func NewMemorySessionStore(ttl time.Duration) *MemorySessionStore {
	return &MemorySessionStore{
		sessions: make(map[string]model.Session),
		ttl:      ttl,
	}
}

func (s *MemorySessionStore) Create(userID string) model.Session {
	now := time.Now()
	session := model.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()

	return session
}

func (s *MemorySessionStore) Get(id string) (model.Session, bool) {
	s.mu.RLock()
	session, ok := s.sessions[id]
	s.mu.RUnlock()

	if !ok {
		return model.Session{}, false
	}
	if time.Now().After(session.ExpiresAt) {
		s.Destroy(id)
		return model.Session{}, false
	}
	return session, true
}

func (s *MemorySessionStore) Destroy(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}
