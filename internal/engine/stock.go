package engine

import (
	"golang.org/x/sync/errgroup"

	"github.com/efreitasn/tickexchange/internal/domain"
)

// StockMatcher clears stock instruments with the continuous two-cursor
// auction at the mid price. Items are keyed by firm id.
type StockMatcher struct {
	workers int
}

// NewStockMatcher creates a StockMatcher. workers <= 1 matches sequentially.
func NewStockMatcher(workers int) *StockMatcher {
	if workers < 1 {
		workers = 1
	}
	return &StockMatcher{workers: workers}
}

// Match clears every firm of the state in ascending firm order.
func (m *StockMatcher) Match(state StockBookState, tick int64) (StockMatchingResult, error) {
	firms := unionKeys(state.BuyOrders, state.SellOrders)
	outcomes := make([]itemOutcome, len(firms))

	run := func(i int) error {
		firm := firms[i]
		out, err := matchStock(state.MarketID, firm, state.BuyOrders[firm], state.SellOrders[firm], tick)
		if err != nil {
			return err
		}
		outcomes[i] = out
		return nil
	}

	var g errgroup.Group
	g.SetLimit(m.workers)
	for i := range firms {
		i := i
		g.Go(func() error { return run(i) })
	}
	if err := g.Wait(); err != nil {
		return StockMatchingResult{}, err
	}

	result := StockMatchingResult{
		Transactions:  []domain.Transaction{},
		UnfilledBuys:  make(map[int][]domain.Order, len(firms)),
		UnfilledSells: make(map[int][]domain.Order, len(firms)),
		Stats:         make(map[int]ItemStats),
	}
	for i, firm := range firms {
		out := outcomes[i]
		result.Transactions = append(result.Transactions, out.transactions...)
		result.UnfilledBuys[firm] = out.buys
		result.UnfilledSells[firm] = out.sells
		if out.stats.Trades > 0 {
			result.Stats[firm] = out.stats
		}
	}
	return result, nil
}

func matchStock(marketID string, firm int, buyOrders, sellOrders []domain.Order, tick int64) (itemOutcome, error) {
	itemID := domain.StockItemID(firm)
	buys, err := prepare(itemID, domain.SideBuy, buyOrders)
	if err != nil {
		return itemOutcome{}, err
	}
	sells, err := prepare(itemID, domain.SideSell, sellOrders)
	if err != nil {
		return itemOutcome{}, err
	}
	p := &pass{marketID: marketID, kind: domain.KindStock, tick: tick}
	matchPriceTime(p, buys, sells)
	p.out.buys = residual(buys)
	p.out.sells = residual(sells)
	return p.out, nil
}
