// Package settlement holds the money-moving contracts the core consumes and
// in-memory implementations of them.
package settlement

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/efreitasn/tickexchange/internal/domain"
	"github.com/efreitasn/tickexchange/internal/store"
)

// DefaultCurrency is used when a caller leaves the currency empty.
const DefaultCurrency = "USD"

// SettlementSystem moves money between participants. Transfer is atomic:
// on error nothing moved.
type SettlementSystem interface {
	Transfer(debit, credit string, amount int64, memo string, tick int64, currency string) (*domain.Transaction, error)
}

// Ledger is the in-memory SettlementSystem over an AccountStore.
type Ledger struct {
	accounts *store.AccountStore
}

// NewLedger creates a Ledger.
func NewLedger(accounts *store.AccountStore) *Ledger {
	return &Ledger{accounts: accounts}
}

// Open creates an empty account for an agent.
func (l *Ledger) Open(agentID string) (*domain.Account, error) {
	a := &domain.Account{
		AgentID:   agentID,
		Balances:  make(map[string]int64),
		CreatedAt: time.Now(),
	}
	if err := l.accounts.Create(a); err != nil {
		return nil, err
	}
	return a, nil
}

// Mint credits an account out of thin air. It exists for bootstrap deposits
// only; every other movement goes through Transfer.
func (l *Ledger) Mint(agentID string, amount int64, currency string) error {
	if amount <= 0 {
		return domain.ErrInvalidAmount
	}
	a, err := l.accounts.Get(agentID)
	if err != nil {
		return err
	}
	a.Mu.Lock()
	defer a.Mu.Unlock()
	a.Balances[currencyOrDefault(currency)] += amount
	return nil
}

// Balance returns an account's balance in a currency.
func (l *Ledger) Balance(agentID, currency string) (int64, error) {
	a, err := l.accounts.Get(agentID)
	if err != nil {
		return 0, err
	}
	a.Mu.Lock()
	defer a.Mu.Unlock()
	return a.Balance(currencyOrDefault(currency)), nil
}

// Balances returns a copy of every balance of an account.
func (l *Ledger) Balances(agentID string) (map[string]int64, error) {
	a, err := l.accounts.Get(agentID)
	if err != nil {
		return nil, err
	}
	a.Mu.Lock()
	defer a.Mu.Unlock()
	out := make(map[string]int64, len(a.Balances))
	for c, v := range a.Balances {
		out[c] = v
	}
	return out, nil
}

// Transfer moves amount from debit to credit.
func (l *Ledger) Transfer(debit, credit string, amount int64, memo string, tick int64, currency string) (*domain.Transaction, error) {
	if amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	if debit == credit {
		return nil, domain.ErrSelfTransfer
	}
	from, err := l.accounts.Get(debit)
	if err != nil {
		return nil, fmt.Errorf("debit %s: %w", debit, err)
	}
	to, err := l.accounts.Get(credit)
	if err != nil {
		return nil, fmt.Errorf("credit %s: %w", credit, err)
	}
	currency = currencyOrDefault(currency)

	// Lock in agent id order so opposite transfers cannot deadlock.
	first, second := from, to
	if second.AgentID < first.AgentID {
		first, second = second, first
	}
	first.Mu.Lock()
	defer first.Mu.Unlock()
	second.Mu.Lock()
	defer second.Mu.Unlock()

	if from.Balances[currency] < amount {
		return nil, fmt.Errorf("%s has %d, needs %d: %w", debit, from.Balances[currency], amount, domain.ErrInsufficientFunds)
	}
	from.Balances[currency] -= amount
	to.Balances[currency] += amount

	return &domain.Transaction{
		TransactionID: uuid.New().String(),
		BuyerID:       debit,
		SellerID:      credit,
		ItemID:        currency,
		Quantity:      1,
		TotalPennies:  amount,
		Type:          domain.TransactionTransfer,
		Tick:          tick,
		Metadata:      map[string]string{"memo": memo, "currency": currency},
	}, nil
}

func currencyOrDefault(c string) string {
	if c == "" {
		return DefaultCurrency
	}
	return c
}
