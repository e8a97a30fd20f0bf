package service

import (
	"regexp"
	"sort"

	"github.com/efreitasn/tickexchange/internal/domain"
	"github.com/efreitasn/tickexchange/internal/settlement"
)

var (
	agentIDRegex  = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)
	currencyRegex = regexp.MustCompile(`^[A-Z]{3}$`)
)

// OpenAccountRequest represents the input for account opening.
type OpenAccountRequest struct {
	AgentID         string
	InitialBalances map[string]int64 // currency → pennies
}

// CurrencyBalance is one line of a balance response.
type CurrencyBalance struct {
	Currency       string
	BalancePennies int64
}

// BalanceResponse represents the response for the account balance endpoint.
type BalanceResponse struct {
	AgentID  string
	Balances []CurrencyBalance // sorted by currency
}

// AccountService opens settlement accounts and reports balances.
type AccountService struct {
	ledger *settlement.Ledger
}

// NewAccountService creates a new AccountService.
func NewAccountService(ledger *settlement.Ledger) *AccountService {
	return &AccountService{ledger: ledger}
}

// Open validates the request, creates the account and mints its opening
// balances.
func (s *AccountService) Open(req OpenAccountRequest) (*BalanceResponse, error) {
	if !agentIDRegex.MatchString(req.AgentID) {
		return nil, &domain.ValidationError{Message: "agent_id must match ^[a-zA-Z0-9_-]{1,64}$"}
	}
	for c, v := range req.InitialBalances {
		if !currencyRegex.MatchString(c) {
			return nil, &domain.ValidationError{Message: "currency must match ^[A-Z]{3}$, got " + c}
		}
		if v < 0 {
			return nil, &domain.ValidationError{Message: "initial balance must be >= 0 for " + c}
		}
	}

	if _, err := s.ledger.Open(req.AgentID); err != nil {
		return nil, err
	}
	for c, v := range req.InitialBalances {
		if v == 0 {
			continue
		}
		if err := s.ledger.Mint(req.AgentID, v, c); err != nil {
			return nil, err
		}
	}
	return s.Balance(req.AgentID)
}

// Balance returns every balance of an account.
func (s *AccountService) Balance(agentID string) (*BalanceResponse, error) {
	balances, err := s.ledger.Balances(agentID)
	if err != nil {
		return nil, err
	}
	resp := &BalanceResponse{AgentID: agentID, Balances: make([]CurrencyBalance, 0, len(balances))}
	for c, v := range balances {
		resp.Balances = append(resp.Balances, CurrencyBalance{Currency: c, BalancePennies: v})
	}
	sort.Slice(resp.Balances, func(i, j int) bool { return resp.Balances[i].Currency < resp.Balances[j].Currency })
	return resp, nil
}
