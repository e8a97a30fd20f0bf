package service

import (
	"fmt"

	"github.com/efreitasn/tickexchange/internal/budget"
	"github.com/efreitasn/tickexchange/internal/domain"
)

// ObligationInput is one obligation of an allocation request.
type ObligationInput struct {
	AmountPennies int64
	Currency      string
	Priority      string // TAX, WAGE, DEBT, RENT, SUPPLIER, DIVIDEND, MARKETING
	Payee         string
	Memo          string
}

// AllocateRequest represents the input for a budget allocation.
type AllocateRequest struct {
	AgentID     string
	Liquid      map[string]int64
	Obligations []ObligationInput
}

// BudgetService exposes the gatekeeper.
type BudgetService struct {
	gatekeeper *budget.Gatekeeper
}

// NewBudgetService creates a new BudgetService.
func NewBudgetService(g *budget.Gatekeeper) *BudgetService {
	return &BudgetService{gatekeeper: g}
}

// Allocate validates the request and runs it through the gatekeeper.
func (s *BudgetService) Allocate(req AllocateRequest, tick int64) (*domain.BudgetAllocation, error) {
	obligations := make([]domain.Obligation, 0, len(req.Obligations))
	for i, in := range req.Obligations {
		p, ok := domain.ParsePriorityClass(in.Priority)
		if !ok {
			return nil, &domain.ValidationError{
				Message: fmt.Sprintf("obligations[%d]: unknown priority %q", i, in.Priority),
			}
		}
		if in.AmountPennies < 0 {
			return nil, &domain.ValidationError{
				Message: fmt.Sprintf("obligations[%d]: amount_pennies must be >= 0", i),
			}
		}
		obligations = append(obligations, domain.Obligation{
			Amount:   in.AmountPennies,
			Currency: in.Currency,
			Priority: p,
			Payee:    in.Payee,
			Memo:     in.Memo,
		})
	}
	for c, v := range req.Liquid {
		if v < 0 {
			return nil, &domain.ValidationError{Message: "liquid balance must be >= 0 for " + c}
		}
	}
	alloc := s.gatekeeper.AllocateFor(req.AgentID, tick, req.Liquid, obligations)
	return &alloc, nil
}
