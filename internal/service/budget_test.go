package service

import (
	"testing"

	"github.com/efreitasn/tickexchange/internal/budget"
	"github.com/efreitasn/tickexchange/internal/domain"
	"github.com/efreitasn/tickexchange/internal/events"
)

func TestBudgetService_Allocate(t *testing.T) {
	rec := events.NewRecorder()
	svc := NewBudgetService(budget.NewGatekeeper(rec))

	alloc, err := svc.Allocate(AllocateRequest{
		AgentID: "firm_1",
		Liquid:  map[string]int64{"USD": 500},
		Obligations: []ObligationInput{
			{AmountPennies: 200, Priority: "MARKETING", Memo: "ads"},
			{AmountPennies: 400, Priority: "WAGE", Memo: "payroll"},
			{AmountPennies: 200, Priority: "TAX", Memo: "tax"},
		},
	}, 9)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(alloc.Approved) != 1 || alloc.Approved[0].Priority != domain.PriorityTax {
		t.Errorf("expected only the tax approved, got %+v", alloc.Approved)
	}
	if !alloc.Insolvent {
		t.Error("expected insolvency from the unpaid wage")
	}
	if evs := rec.OfKind(events.BudgetInsolvent); len(evs) != 1 || evs[0].Tick != 9 {
		t.Errorf("expected one budget.insolvent event at tick 9, got %+v", evs)
	}
}

func TestBudgetService_Validation(t *testing.T) {
	svc := NewBudgetService(budget.NewGatekeeper(nil))

	tests := []struct {
		name string
		req  AllocateRequest
	}{
		{"unknown priority", AllocateRequest{Obligations: []ObligationInput{{AmountPennies: 1, Priority: "BRIBE"}}}},
		{"negative amount", AllocateRequest{Obligations: []ObligationInput{{AmountPennies: -1, Priority: "TAX"}}}},
		{"negative liquid", AllocateRequest{Liquid: map[string]int64{"USD": -5}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Allocate(tt.req, 0)
			if _, ok := err.(*domain.ValidationError); !ok {
				t.Fatalf("expected *ValidationError, got %T: %v", err, err)
			}
		})
	}
}
