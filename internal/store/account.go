package store

import (
	"sort"
	"sync"

	"github.com/efreitasn/tickexchange/internal/domain"
)

// AccountStore is a thread-safe in-memory store for settlement accounts,
// keyed by agent_id.
type AccountStore struct {
	mu       sync.RWMutex
	accounts map[string]*domain.Account
}

// NewAccountStore creates an empty AccountStore.
func NewAccountStore() *AccountStore {
	return &AccountStore{
		accounts: make(map[string]*domain.Account),
	}
}

// Create adds an account to the store. It returns
// domain.ErrAccountAlreadyExists if an account with the same agent ID
// already exists.
func (s *AccountStore) Create(a *domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[a.AgentID]; exists {
		return domain.ErrAccountAlreadyExists
	}
	if a.Balances == nil {
		a.Balances = make(map[string]int64)
	}
	s.accounts[a.AgentID] = a
	return nil
}

// Get retrieves an account by agent ID. It returns
// domain.ErrAccountNotFound if the account does not exist.
func (s *AccountStore) Get(agentID string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[agentID]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	return a, nil
}

// Exists returns true if an account with the given agent ID exists.
func (s *AccountStore) Exists(agentID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.accounts[agentID]
	return ok
}

// IDs returns every agent ID in sorted order.
func (s *AccountStore) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.accounts))
	for id := range s.accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
