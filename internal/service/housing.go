package service

import (
	"fmt"
	"sync"

	"github.com/efreitasn/tickexchange/internal/domain"
	"github.com/efreitasn/tickexchange/internal/saga"
	"github.com/efreitasn/tickexchange/internal/store"
)

// ValidSagaStatuses lists all valid saga status values for validation.
var ValidSagaStatuses = map[domain.SagaStatus]bool{
	domain.SagaInitiated:                    true,
	domain.SagaLoanApproved:                 true,
	domain.SagaLoanRejected:                 true,
	domain.SagaDownPaymentComplete:          true,
	domain.SagaMortgageDisbursementComplete: true,
	domain.SagaCompleted:                    true,
	domain.SagaFailedRolledBack:             true,
}

// PurchaseRequest represents the input for a housing purchase.
type PurchaseRequest struct {
	ItemID       string
	BuyerID      string
	SellerID     string
	PricePennies int64
	Currency     string
	Financed     bool
	Profile      domain.BorrowerProfile
}

// ListSagasParams holds the parameters for listing an agent's sagas.
type ListSagasParams struct {
	AgentID string
	Status  *domain.SagaStatus
	Page    int
	Limit   int
}

// HousingService runs housing purchases through the saga and keeps their
// records. Purchases execute one at a time so two sagas never race for the
// same unit.
type HousingService struct {
	saga     *saga.HousingSaga
	registry *saga.Registry
	store    *store.SagaStore
	accounts *store.AccountStore

	mu sync.Mutex
}

// NewHousingService creates a new HousingService with the given dependencies.
func NewHousingService(s *saga.HousingSaga, registry *saga.Registry, sagaStore *store.SagaStore, accounts *store.AccountStore) *HousingService {
	return &HousingService{
		saga:     s,
		registry: registry,
		store:    sagaStore,
		accounts: accounts,
	}
}

// RegisterUnit records a unit and its owner.
func (s *HousingService) RegisterUnit(unitID int, ownerID string) error {
	if unitID < 0 {
		return &domain.ValidationError{Message: "unit_id must be >= 0"}
	}
	if !s.accounts.Exists(ownerID) {
		return fmt.Errorf("owner %s: %w", ownerID, domain.ErrAccountNotFound)
	}
	s.registry.AddUnit(unitID, ownerID)
	return nil
}

// Unit returns a registered unit.
func (s *HousingService) Unit(unitID int) (*saga.Unit, error) {
	u, ok := s.registry.Unit(unitID)
	if !ok {
		return nil, domain.ErrUnitNotFound
	}
	return &u, nil
}

// Purchase executes a purchase at tick and stores its saga. The saga
// itself reports failure through its status; the error return is reserved
// for requests that never reached it.
func (s *HousingService) Purchase(req PurchaseRequest, tick int64) (*domain.SagaState, error) {
	if !s.accounts.Exists(req.BuyerID) {
		return nil, fmt.Errorf("buyer %s: %w", req.BuyerID, domain.ErrAccountNotFound)
	}
	if !s.accounts.Exists(req.SellerID) {
		return nil, fmt.Errorf("seller %s: %w", req.SellerID, domain.ErrAccountNotFound)
	}

	var buyer saga.Agent = saga.CashBuyer(req.BuyerID)
	if req.Financed {
		buyer = saga.Applicant{AgentID: req.BuyerID, Profile: req.Profile}
	}
	offer := domain.HousingOffer{
		ItemID:       req.ItemID,
		BuyerID:      req.BuyerID,
		SellerID:     req.SellerID,
		PricePennies: req.PricePennies,
		Currency:     req.Currency,
	}

	s.mu.Lock()
	st := s.saga.Execute(offer, buyer, saga.CashBuyer(req.SellerID), tick)
	s.mu.Unlock()

	s.store.Create(st)
	return st, nil
}

// Get retrieves a saga by id.
func (s *HousingService) Get(sagaID string) (*domain.SagaState, error) {
	return s.store.Get(sagaID)
}

// ListByAgent returns a page of the sagas an agent took part in and the
// total count.
func (s *HousingService) ListByAgent(params ListSagasParams) ([]*domain.SagaState, int, error) {
	if params.Status != nil && !ValidSagaStatuses[*params.Status] {
		return nil, 0, &domain.ValidationError{Message: fmt.Sprintf("Unknown status: %s", *params.Status)}
	}
	if params.Page < 1 {
		return nil, 0, &domain.ValidationError{Message: "page must be >= 1"}
	}
	if params.Limit < 1 || params.Limit > 100 {
		return nil, 0, &domain.ValidationError{Message: "limit must be between 1 and 100"}
	}
	sagas, total := s.store.ListByAgent(params.AgentID, params.Status, params.Page, params.Limit)
	return sagas, total, nil
}
