package session

import (
	"context"
	"sync"

	"github.com/mbalashov/sessiond/internal/common"
)

// MemoryStore is an in-memory Store used in tests and for throwaway
// sessions.
type MemoryStore struct {
	mu      sync.Mutex
	has     bool
	access  string
	refresh string
	profile Profile
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Tokens(ctx context.Context) (string, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.has {
		return "", "", common.ErrorNotFound
	}
	return s.access, s.refresh, nil
}

func (s *MemoryStore) SetTokens(ctx context.Context, access, refresh string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.has = true
	s.access = access
	s.refresh = refresh
	return nil
}

func (s *MemoryStore) SetSession(ctx context.Context, access, refresh string, profile *Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.has = true
	s.access = access
	s.refresh = refresh
	s.profile = *profile
	return nil
}

func (s *MemoryStore) User(ctx context.Context) (*Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.has {
		return nil, common.ErrorNotFound
	}
	p := s.profile
	return &p, nil
}

func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.has = false
	s.access = ""
	s.refresh = ""
	s.profile = Profile{}
	return nil
}
