package domain

import (
	"sync"
	"time"
)

// Account is a settlement participant's cash position, one balance per
// currency, in pennies.
type Account struct {
	AgentID   string
	Balances  map[string]int64 // currency → pennies
	CreatedAt time.Time
	Mu        sync.Mutex // per-account lock for balance mutations
}

// Balance returns the balance held in the given currency, or 0.
func (a *Account) Balance(currency string) int64 {
	return a.Balances[currency]
}
