package store

import (
	"sync"

	"github.com/efreitasn/tickexchange/internal/domain"
)

type itemKey struct {
	marketID string
	itemID   string
}

// TransactionStore is a thread-safe in-memory journal of transactions,
// keyed by market and item. Transactions are append-only and chronological.
type TransactionStore struct {
	mu      sync.RWMutex
	byItem  map[itemKey][]domain.Transaction
	byAgent map[string][]domain.Transaction // buyer or seller → transactions
	count   int
}

// NewTransactionStore creates an empty TransactionStore.
func NewTransactionStore() *TransactionStore {
	return &TransactionStore{
		byItem:  make(map[itemKey][]domain.Transaction),
		byAgent: make(map[string][]domain.Transaction),
	}
}

// Append adds transactions in the order given.
func (s *TransactionStore) Append(txs ...domain.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, tx := range txs {
		k := itemKey{marketID: tx.MarketID, itemID: tx.ItemID}
		s.byItem[k] = append(s.byItem[k], tx)
		s.byAgent[tx.BuyerID] = append(s.byAgent[tx.BuyerID], tx)
		if tx.SellerID != tx.BuyerID {
			s.byAgent[tx.SellerID] = append(s.byAgent[tx.SellerID], tx)
		}
		s.count++
	}
}

// ByItem returns the transactions of one item of one market in chronological
// order. Returns an empty slice if none exist.
func (s *TransactionStore) ByItem(marketID, itemID string) []domain.Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyTransactions(s.byItem[itemKey{marketID: marketID, itemID: itemID}])
}

// ByAgent returns every transaction an agent took part in.
func (s *TransactionStore) ByAgent(agentID string) []domain.Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyTransactions(s.byAgent[agentID])
}

// Len returns the number of stored transactions.
func (s *TransactionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// copyTransactions keeps callers from aliasing the internal slices.
func copyTransactions(txs []domain.Transaction) []domain.Transaction {
	result := make([]domain.Transaction, len(txs))
	copy(result, txs)
	return result
}
