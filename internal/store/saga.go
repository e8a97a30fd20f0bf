package store

import (
	"sync"

	"github.com/efreitasn/tickexchange/internal/domain"
)

// SagaStore is a thread-safe in-memory store for housing saga states,
// with a primary index by saga_id and a secondary index by agent_id
// covering both the buyer and the seller.
type SagaStore struct {
	mu         sync.RWMutex
	sagas      map[string]*domain.SagaState
	agentSagas map[string][]*domain.SagaState // agent_id → sagas (append-only)
}

// NewSagaStore creates an empty SagaStore.
func NewSagaStore() *SagaStore {
	return &SagaStore{
		sagas:      make(map[string]*domain.SagaState),
		agentSagas: make(map[string][]*domain.SagaState),
	}
}

// Create adds a saga to the store and appends it to the buyer's and the
// seller's secondary index.
func (s *SagaStore) Create(st *domain.SagaState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sagas[st.SagaID] = st
	s.agentSagas[st.Offer.BuyerID] = append(s.agentSagas[st.Offer.BuyerID], st)
	if st.Offer.SellerID != st.Offer.BuyerID {
		s.agentSagas[st.Offer.SellerID] = append(s.agentSagas[st.Offer.SellerID], st)
	}
}

// Get retrieves a saga by ID. It returns domain.ErrSagaNotFound if the
// saga does not exist.
func (s *SagaStore) Get(id string) (*domain.SagaState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.sagas[id]
	if !ok {
		return nil, domain.ErrSagaNotFound
	}
	return st, nil
}

// ListByAgent returns the sagas an agent took part in, newest first. If
// status is non-nil, only sagas with that status are included. Pagination
// is 1-based. Returns the sagas of the requested page and the total count
// of matching sagas (before pagination).
func (s *SagaStore) ListByAgent(agentID string, status *domain.SagaStatus, page, limit int) ([]*domain.SagaState, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.agentSagas[agentID]

	filtered := make([]*domain.SagaState, 0)
	for i := len(all) - 1; i >= 0; i-- {
		if status != nil && all[i].Status != *status {
			continue
		}
		filtered = append(filtered, all[i])
	}

	total := len(filtered)

	start := (page - 1) * limit
	if start >= total {
		return []*domain.SagaState{}, total
	}
	end := start + limit
	if end > total {
		end = total
	}

	return filtered[start:end], total
}
