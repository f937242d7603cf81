package store

import (
	"context"
	"sync"

	"github.com/edlive/livehub/internal/domain"
)

// MemoryStore keeps session records in a map. Used in tests and when no
// sqlite path is configured.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[domain.SessionID]*domain.LiveSession
}

var _ SessionStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[domain.SessionID]*domain.LiveSession)}
}

func (m *MemoryStore) Create(_ context.Context, s *domain.LiveSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = clone(s)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id domain.SessionID) (*domain.LiveSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

func (m *MemoryStore) Update(_ context.Context, s *domain.LiveSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; !ok {
		return ErrNotFound
	}
	m.sessions[s.ID] = clone(s)
	return nil
}

func (m *MemoryStore) ListForUser(_ context.Context, userID domain.UserID) ([]*domain.LiveSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.LiveSession, 0)
	for _, s := range m.sessions {
		if s.HostID == userID || s.HasParticipant(userID) {
			out = append(out, clone(s))
		}
	}
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }

// clone isolates callers from the stored record; participants are the only
// shared slice.
func clone(s *domain.LiveSession) *domain.LiveSession {
	cp := *s
	cp.Participants = make([]domain.Participant, len(s.Participants))
	copy(cp.Participants, s.Participants)
	if s.StartedAt != nil {
		t := *s.StartedAt
		cp.StartedAt = &t
	}
	if s.EndedAt != nil {
		t := *s.EndedAt
		cp.EndedAt = &t
	}
	return &cp
}
