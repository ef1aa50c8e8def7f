package token

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store
type MemoryStore struct {
	mu     sync.RWMutex
	tokens map[Key]*AuthToken
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tokens: make(map[Key]*AuthToken)}
}

// GetToken implements Store
func (s *MemoryStore) GetToken(_ context.Context, key Key, now time.Time) (*AuthToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tok, ok := s.tokens[key]
	if !ok || !tok.Usable(now) {
		return nil, nil
	}
	cp := *tok
	return &cp, nil
}

// PutToken implements Store. A new token replaces any previous one.
func (s *MemoryStore) PutToken(_ context.Context, tok *AuthToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *tok
	s.tokens[tok.Key()] = &cp
	return nil
}

// TouchToken implements Store
func (s *MemoryStore) TouchToken(_ context.Context, key Key, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tok, ok := s.tokens[key]; ok {
		tok.UsageCount++
		tok.LastUsedAt = at
	}
	return nil
}

// ExpireToken implements Store
func (s *MemoryStore) ExpireToken(_ context.Context, key Key, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tok, ok := s.tokens[key]; ok && tok.ExpiresAt.After(at) {
		tok.ExpiresAt = at
	}
	return nil
}
