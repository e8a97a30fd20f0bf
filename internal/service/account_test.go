package service

import (
	"testing"

	"github.com/efreitasn/tickexchange/internal/domain"
	"github.com/efreitasn/tickexchange/internal/settlement"
	"github.com/efreitasn/tickexchange/internal/store"
)

func newTestAccountService() *AccountService {
	return NewAccountService(settlement.NewLedger(store.NewAccountStore()))
}

func TestOpen_Success(t *testing.T) {
	svc := newTestAccountService()

	resp, err := svc.Open(OpenAccountRequest{
		AgentID:         "household_1",
		InitialBalances: map[string]int64{"USD": 100050, "EUR": 20},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.AgentID != "household_1" {
		t.Errorf("got agent_id %q, want %q", resp.AgentID, "household_1")
	}
	if len(resp.Balances) != 2 {
		t.Fatalf("got %d balances, want 2", len(resp.Balances))
	}
	if resp.Balances[0].Currency != "EUR" || resp.Balances[1].BalancePennies != 100050 {
		t.Errorf("unexpected balances %+v", resp.Balances)
	}
}

func TestOpen_ZeroBalance(t *testing.T) {
	svc := newTestAccountService()

	resp, err := svc.Open(OpenAccountRequest{AgentID: "escrow"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Balances) != 0 {
		t.Errorf("got %d balances, want 0", len(resp.Balances))
	}
}

func TestOpen_Duplicate(t *testing.T) {
	svc := newTestAccountService()

	if _, err := svc.Open(OpenAccountRequest{AgentID: "firm_1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.Open(OpenAccountRequest{AgentID: "firm_1"}); err != domain.ErrAccountAlreadyExists {
		t.Errorf("got error %v, want ErrAccountAlreadyExists", err)
	}
}

func TestOpen_Validation(t *testing.T) {
	svc := newTestAccountService()

	tests := []struct {
		name string
		req  OpenAccountRequest
	}{
		{"empty id", OpenAccountRequest{AgentID: ""}},
		{"bad id", OpenAccountRequest{AgentID: "has space"}},
		{"bad currency", OpenAccountRequest{AgentID: "a", InitialBalances: map[string]int64{"usd": 1}}},
		{"negative", OpenAccountRequest{AgentID: "a", InitialBalances: map[string]int64{"USD": -1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Open(tt.req)
			if _, ok := err.(*domain.ValidationError); !ok {
				t.Fatalf("expected *ValidationError, got %T: %v", err, err)
			}
		})
	}
}

func TestBalance_NotFound(t *testing.T) {
	svc := newTestAccountService()

	if _, err := svc.Balance("ghost"); err != domain.ErrAccountNotFound {
		t.Errorf("got error %v, want ErrAccountNotFound", err)
	}
}
