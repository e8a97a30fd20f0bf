package saga

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/efreitasn/tickexchange/internal/domain"
)

// Lien is a mortgage claim on a unit.
type Lien struct {
	LienID     string
	LoanID     string
	Lienholder string
	Principal  int64
}

// Unit is a housing unit as the registry sees it.
type Unit struct {
	UnitID     int
	OwnerID    string
	OccupantID string
	MortgageID string
	Lien       *Lien
}

// Sale is a closed purchase to record.
type Sale struct {
	UnitID   int
	BuyerID  string
	SellerID string
	BankID   string
	LoanID   string // empty for cash purchases
	Loan     int64
}

// Registry tracks unit ownership, liens, holdings and residence.
type Registry struct {
	mu        sync.RWMutex
	units     map[int]*Unit
	holdings  map[string]map[int]struct{}
	residence map[string]int
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		units:     make(map[int]*Unit),
		holdings:  make(map[string]map[int]struct{}),
		residence: make(map[string]int),
	}
}

// AddUnit registers a unit owned by ownerID.
func (r *Registry) AddUnit(unitID int, ownerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.units[unitID] = &Unit{UnitID: unitID, OwnerID: ownerID}
	r.hold(ownerID, unitID)
}

func (r *Registry) hold(agentID string, unitID int) {
	if agentID == "" {
		return
	}
	if r.holdings[agentID] == nil {
		r.holdings[agentID] = make(map[int]struct{})
	}
	r.holdings[agentID][unitID] = struct{}{}
}

// Unit returns a copy of a unit.
func (r *Registry) Unit(unitID int) (Unit, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.units[unitID]
	if !ok {
		return Unit{}, false
	}
	out := *u
	if u.Lien != nil {
		lien := *u.Lien
		out.Lien = &lien
	}
	return out, true
}

// Holdings returns the units an agent owns, sorted.
func (r *Registry) Holdings(agentID string) []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]int, 0, len(r.holdings[agentID]))
	for id := range r.holdings[agentID] {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

// Residence returns the unit an agent lives in.
func (r *Registry) Residence(agentID string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.residence[agentID]
	return id, ok
}

// MoveIn makes an agent the occupant of a unit.
func (r *Registry) MoveIn(agentID string, unitID int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.units[unitID]
	if !ok {
		return domain.ErrUnitNotFound
	}
	u.OccupantID = agentID
	r.residence[agentID] = unitID
	return nil
}

// CheckSale verifies that a unit exists and is owned by the seller.
func (r *Registry) CheckSale(unitID int, sellerID string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.units[unitID]
	if !ok {
		return fmt.Errorf("unit %d: %w", unitID, domain.ErrUnitNotFound)
	}
	if u.OwnerID != sellerID {
		return &domain.ValidationError{Message: fmt.Sprintf("unit %d is not owned by %s", unitID, sellerID)}
	}
	return nil
}

// RecordSale transfers ownership, replaces any lien with the new mortgage,
// moves the unit between holdings, moves a resident seller out and moves a
// homeless buyer in. It returns the new lien id, empty for a cash purchase.
func (r *Registry) RecordSale(s Sale) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.units[s.UnitID]
	if !ok {
		return "", fmt.Errorf("unit %d: %w", s.UnitID, domain.ErrUnitNotFound)
	}
	u.OwnerID = s.BuyerID
	u.MortgageID = s.LoanID
	u.Lien = nil
	lienID := ""
	if s.LoanID != "" {
		lienID = uuid.New().String()
		u.Lien = &Lien{LienID: lienID, LoanID: s.LoanID, Lienholder: s.BankID, Principal: s.Loan}
	}

	delete(r.holdings[s.SellerID], s.UnitID)
	r.hold(s.BuyerID, s.UnitID)

	if home, ok := r.residence[s.SellerID]; ok && home == s.UnitID {
		delete(r.residence, s.SellerID)
		u.OccupantID = ""
	}
	if _, housed := r.residence[s.BuyerID]; !housed {
		u.OccupantID = s.BuyerID
		r.residence[s.BuyerID] = s.UnitID
	}
	return lienID, nil
}
