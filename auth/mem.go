package auth

import "sync"

// MemStore is an in-memory TokenStore for tests and credential-less demos.
type MemStore struct {
	mu     sync.RWMutex
	tokens map[string]*Token
}

func NewMemStore() *MemStore {
	return &MemStore{tokens: make(map[string]*Token)}
}

func (s *MemStore) Put(t *Token) error {
	s.mu.Lock()
	cp := *t
	s.tokens[t.TeamID] = &cp
	s.mu.Unlock()
	return nil
}

func (s *MemStore) Get(teamID string) (*Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tokens[teamID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *MemStore) List() ([]*Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Token, 0, len(s.tokens))
	for _, t := range s.tokens {
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemStore) Delete(teamID string) error {
	s.mu.Lock()
	delete(s.tokens, teamID)
	s.mu.Unlock()
	return nil
}

func (s *MemStore) Close() error { return nil }
