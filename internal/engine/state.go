package engine

import (
	"sort"

	"github.com/efreitasn/tickexchange/internal/domain"
)

// OrderBookState is the input of a matching pass: per item, the resting
// buy and sell orders of one market. It is built fresh for every call.
type OrderBookState struct {
	MarketID   string
	BuyOrders  map[string][]domain.Order
	SellOrders map[string][]domain.Order
}

// ItemIDs returns every item with at least one order, sorted.
func (s OrderBookState) ItemIDs() []string {
	return unionKeys(s.BuyOrders, s.SellOrders)
}

// ItemStats aggregates the trades of one item during a matching pass.
type ItemStats struct {
	LastPricePennies int64
	LastTradeTick    int64
	Volume           float64
	HighPennies      int64
	LowPennies       int64
	Trades           int
}

func (s *ItemStats) record(clearing int64, qty float64, tick int64) {
	if s.Trades == 0 || clearing > s.HighPennies {
		s.HighPennies = clearing
	}
	if s.Trades == 0 || clearing < s.LowPennies {
		s.LowPennies = clearing
	}
	s.LastPricePennies = clearing
	s.LastTradeTick = tick
	s.Volume += qty
	s.Trades++
}

// MatchingResult is the output of a matching pass. Every item present in the
// input appears as a key of both residual maps, possibly with an empty
// slice, so the caller can fold the residual book back item by item.
// Stats only holds items that traded.
type MatchingResult struct {
	Transactions  []domain.Transaction
	UnfilledBuys  map[string][]domain.Order
	UnfilledSells map[string][]domain.Order
	Stats         map[string]ItemStats
}

func newMatchingResult() MatchingResult {
	return MatchingResult{
		Transactions:  []domain.Transaction{},
		UnfilledBuys:  make(map[string][]domain.Order),
		UnfilledSells: make(map[string][]domain.Order),
		Stats:         make(map[string]ItemStats),
	}
}

// StockBookState is the input of a stock matching pass, keyed by firm id.
type StockBookState struct {
	MarketID   string
	BuyOrders  map[int][]domain.Order
	SellOrders map[int][]domain.Order
}

// StockMatchingResult mirrors MatchingResult for instruments keyed by firm id.
type StockMatchingResult struct {
	Transactions  []domain.Transaction
	UnfilledBuys  map[int][]domain.Order
	UnfilledSells map[int][]domain.Order
	Stats         map[int]ItemStats
}

func unionKeys[K string | int](a, b map[K][]domain.Order) []K {
	seen := make(map[K]struct{}, len(a)+len(b))
	keys := make([]K, 0, len(a)+len(b))
	for _, m := range []map[K][]domain.Order{a, b} {
		for k := range m {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
