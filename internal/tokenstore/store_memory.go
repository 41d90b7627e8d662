package tokenstore

import (
	"context"
	"sync"

	"authcore/internal/sentinel"
)

// InMemoryStore keeps tokens in process memory. It backs tests and
// short-lived tooling; production wiring uses the encrypted file store.
type InMemoryStore struct {
	mu     sync.RWMutex
	tokens *Tokens
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) StoreTokens(_ context.Context, tokens Tokens) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := tokens
	s.tokens = &stored
	return nil
}

func (s *InMemoryStore) RetrieveTokens(_ context.Context) (*Tokens, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.tokens == nil {
		return nil, sentinel.ErrNoTokens
	}
	tokens := *s.tokens
	return &tokens, nil
}

func (s *InMemoryStore) ClearTokens(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = nil
	return nil
}

func (s *InMemoryStore) HasStoredTokens(_ context.Context) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens != nil, nil
}
