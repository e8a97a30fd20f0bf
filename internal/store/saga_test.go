package store

import (
	"fmt"
	"sync"
	"testing"

	"github.com/efreitasn/tickexchange/internal/domain"
)

func newTestSaga(id, buyer, seller string, status domain.SagaStatus) *domain.SagaState {
	return &domain.SagaState{
		SagaID: id,
		Status: status,
		Offer: domain.HousingOffer{
			ItemID:       "unit_1",
			BuyerID:      buyer,
			SellerID:     seller,
			PricePennies: 1_000_000,
		},
	}
}

func TestSagaStore_Create_and_Get(t *testing.T) {
	s := NewSagaStore()
	s.Create(newTestSaga("saga-1", "buyer-1", "seller-1", domain.SagaCompleted))

	got, err := s.Get("saga-1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got.Offer.BuyerID != "buyer-1" {
		t.Fatalf("expected buyer-1, got %s", got.Offer.BuyerID)
	}

	if _, err := s.Get("no-such-saga"); err != domain.ErrSagaNotFound {
		t.Fatalf("expected ErrSagaNotFound, got %v", err)
	}
}

func TestSagaStore_ListByAgent_IndexesBothParties(t *testing.T) {
	s := NewSagaStore()
	s.Create(newTestSaga("s1", "alice", "bob", domain.SagaCompleted))
	s.Create(newTestSaga("s2", "carol", "alice", domain.SagaFailedRolledBack))

	sagas, total := s.ListByAgent("alice", nil, 1, 10)
	if total != 2 || len(sagas) != 2 {
		t.Fatalf("expected 2 sagas for alice, got %d", total)
	}
	// Newest first.
	if sagas[0].SagaID != "s2" || sagas[1].SagaID != "s1" {
		t.Fatalf("expected s2 then s1, got %s then %s", sagas[0].SagaID, sagas[1].SagaID)
	}

	if _, total := s.ListByAgent("bob", nil, 1, 10); total != 1 {
		t.Fatalf("expected 1 saga for bob, got %d", total)
	}
}

func TestSagaStore_ListByAgent_StatusFilter(t *testing.T) {
	s := NewSagaStore()
	statuses := []domain.SagaStatus{
		domain.SagaCompleted,
		domain.SagaFailedRolledBack,
		domain.SagaCompleted,
	}
	for i, st := range statuses {
		s.Create(newTestSaga(fmt.Sprintf("s%d", i), "buyer", fmt.Sprintf("seller-%d", i), st))
	}

	completed := domain.SagaCompleted
	sagas, total := s.ListByAgent("buyer", &completed, 1, 10)
	if total != 2 || len(sagas) != 2 {
		t.Fatalf("expected 2 completed sagas, got %d", total)
	}
	for _, st := range sagas {
		if st.Status != domain.SagaCompleted {
			t.Fatalf("expected completed status, got %s", st.Status)
		}
	}
}

func TestSagaStore_ListByAgent_Pagination(t *testing.T) {
	s := NewSagaStore()
	for i := 0; i < 10; i++ {
		s.Create(newTestSaga(fmt.Sprintf("s%d", i), "buyer", "seller", domain.SagaCompleted))
	}

	sagas, total := s.ListByAgent("buyer", nil, 1, 3)
	if total != 10 || len(sagas) != 3 {
		t.Fatalf("expected 3 of 10 on page 1, got %d of %d", len(sagas), total)
	}

	// Page 4, limit 3 → only 1 remaining.
	sagas, _ = s.ListByAgent("buyer", nil, 4, 3)
	if len(sagas) != 1 {
		t.Fatalf("expected 1 saga on page 4, got %d", len(sagas))
	}

	sagas, _ = s.ListByAgent("buyer", nil, 5, 3)
	if len(sagas) != 0 {
		t.Fatalf("expected 0 sagas beyond last page, got %d", len(sagas))
	}

	sagas, total = s.ListByAgent("nobody", nil, 1, 10)
	if total != 0 || len(sagas) != 0 {
		t.Fatalf("expected no sagas, got %d", total)
	}
}

func TestSagaStore_ConcurrentAccess(t *testing.T) {
	s := NewSagaStore()
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func(id string) {
			defer wg.Done()
			s.Create(newTestSaga(id, "buyer", "seller", domain.SagaCompleted))
		}(fmt.Sprintf("s%d", i))
		go func() {
			defer wg.Done()
			s.ListByAgent("buyer", nil, 1, 10)
		}()
	}
	wg.Wait()

	if _, total := s.ListByAgent("buyer", nil, 1, 10); total != 100 {
		t.Fatalf("expected 100 sagas, got %d", total)
	}
}
