package engine

import (
	"fmt"
	"math"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/efreitasn/tickexchange/internal/domain"
)

// DefaultHaloCoefficient weights education in the labor utility score.
const DefaultHaloCoefficient = 0.1

// OrderBookMatcher is the stateless double auction used by goods and labor
// markets. Match is a pure function of its input.
type OrderBookMatcher struct {
	kind    domain.MarketKind
	halo    float64
	workers int
}

// MatcherOption configures an OrderBookMatcher.
type MatcherOption func(*OrderBookMatcher)

// WithWorkers matches up to n items concurrently. Output ordering does not
// depend on n.
func WithWorkers(n int) MatcherOption {
	return func(m *OrderBookMatcher) {
		if n > 0 {
			m.workers = n
		}
	}
}

// WithHaloCoefficient sets the education weight of the labor utility score.
func WithHaloCoefficient(h float64) MatcherOption {
	return func(m *OrderBookMatcher) {
		m.halo = h
	}
}

// NewOrderBookMatcher creates a matcher applying the clearing rule of kind.
func NewOrderBookMatcher(kind domain.MarketKind, opts ...MatcherOption) *OrderBookMatcher {
	m := &OrderBookMatcher{
		kind:    kind,
		halo:    DefaultHaloCoefficient,
		workers: 1,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Kind returns the market kind the matcher clears for.
func (m *OrderBookMatcher) Kind() domain.MarketKind {
	return m.kind
}

// Utility scores a worker for the labor market.
func (m *OrderBookMatcher) Utility(o domain.Order) float64 {
	if o.Brand == nil {
		return 0
	}
	return o.Brand.Skill * (1 + o.Brand.EducationLevel*m.halo)
}

// Match clears every item of the state. Items are processed in sorted order
// and, when workers > 1, concurrently; results are folded back in sorted
// order either way.
func (m *OrderBookMatcher) Match(state OrderBookState, tick int64) (MatchingResult, error) {
	items := state.ItemIDs()
	outcomes := make([]itemOutcome, len(items))

	run := func(i int) error {
		id := items[i]
		out, err := m.matchItem(state.MarketID, id, state.BuyOrders[id], state.SellOrders[id], tick)
		if err != nil {
			return err
		}
		outcomes[i] = out
		return nil
	}

	if m.workers > 1 && len(items) > 1 {
		var g errgroup.Group
		g.SetLimit(m.workers)
		for i := range items {
			i := i
			g.Go(func() error { return run(i) })
		}
		if err := g.Wait(); err != nil {
			return MatchingResult{}, err
		}
	} else {
		for i := range items {
			if err := run(i); err != nil {
				return MatchingResult{}, err
			}
		}
	}

	result := newMatchingResult()
	for i, id := range items {
		out := outcomes[i]
		result.Transactions = append(result.Transactions, out.transactions...)
		result.UnfilledBuys[id] = out.buys
		result.UnfilledSells[id] = out.sells
		if out.stats.Trades > 0 {
			result.Stats[id] = out.stats
		}
	}
	return result, nil
}

// working tracks the remaining quantity of an order during one pass.
type working struct {
	order     domain.Order
	remaining float64
}

func (w *working) filled() bool {
	return domain.IsFilled(w.remaining)
}

type itemOutcome struct {
	transactions []domain.Transaction
	buys         []domain.Order
	sells        []domain.Order
	stats        ItemStats
}

// pass holds the mutable working state of one item.
type pass struct {
	marketID string
	kind     domain.MarketKind
	tick     int64
	out      itemOutcome
}

func (p *pass) fill(buy, sell *working) {
	qty := math.Min(buy.remaining, sell.remaining)
	clearing := domain.ClearingPrice(p.kind, buy.order.PricePennies, sell.order.PricePennies)
	tx := domain.NewMatchTransaction(p.marketID, buy.order, sell.order, clearing, qty, p.kind, p.tick)
	p.out.transactions = append(p.out.transactions, tx)
	p.out.stats.record(clearing, qty, p.tick)
	buy.remaining -= qty
	sell.remaining -= qty
}

func (m *OrderBookMatcher) matchItem(marketID, itemID string, buyOrders, sellOrders []domain.Order, tick int64) (itemOutcome, error) {
	buys, err := prepare(itemID, domain.SideBuy, buyOrders)
	if err != nil {
		return itemOutcome{}, err
	}
	sells, err := prepare(itemID, domain.SideSell, sellOrders)
	if err != nil {
		return itemOutcome{}, err
	}

	p := &pass{marketID: marketID, kind: m.kind, tick: tick}

	// Targeted buys only see the named seller's asks, cheapest first.
	for _, b := range buys {
		if !b.order.IsTargeted() {
			continue
		}
		for _, s := range sells {
			if b.filled() {
				break
			}
			if s.order.AgentID != b.order.TargetAgentID || s.filled() {
				continue
			}
			if b.order.PricePennies < s.order.PricePennies {
				break
			}
			p.fill(b, s)
		}
	}

	if m.kind == domain.KindLabor {
		m.matchLabor(p, buys, sells)
	} else {
		matchPriceTime(p, buys, sells)
	}

	p.out.buys = residual(buys)
	p.out.sells = residual(sells)
	return p.out, nil
}

// matchPriceTime walks both queues with two cursors until the best
// remaining prices no longer cross.
func matchPriceTime(p *pass, buys, sells []*working) {
	i, j := 0, 0
	for i < len(buys) && j < len(sells) {
		b, s := buys[i], sells[j]
		if b.filled() {
			i++
			continue
		}
		if s.filled() {
			j++
			continue
		}
		if b.order.PricePennies < s.order.PricePennies {
			return
		}
		p.fill(b, s)
	}
}

// matchLabor gives the highest bid the most useful worker it can afford.
// Workers asking more than the bid are skipped, not matched.
func (m *OrderBookMatcher) matchLabor(p *pass, buys, sells []*working) {
	for _, b := range buys {
		for !b.filled() {
			best := m.bestAffordable(b.order.PricePennies, sells)
			if best == nil {
				break
			}
			p.fill(b, best)
		}
		if !b.filled() {
			// Lower bids can afford a subset of what this one could not.
			return
		}
	}
}

func (m *OrderBookMatcher) bestAffordable(bid int64, sells []*working) *working {
	var best *working
	var bestUtility float64
	for _, s := range sells {
		if s.filled() || s.order.PricePennies > bid {
			continue
		}
		u := m.Utility(s.order)
		if best == nil || u > bestUtility {
			best, bestUtility = s, u
		}
	}
	return best
}

// prepare validates one side of an item and sorts it by price-time priority.
func prepare(itemID string, side domain.Side, orders []domain.Order) ([]*working, error) {
	ws := make([]*working, 0, len(orders))
	for _, o := range orders {
		if o.Side != side {
			return nil, fmt.Errorf("%w: order %s is %s on the %s side of %s", domain.ErrInvalidBookState, o.OrderID, o.Side, side, itemID)
		}
		if o.ItemID != itemID {
			return nil, fmt.Errorf("%w: order %s for %s listed under %s", domain.ErrInvalidBookState, o.OrderID, o.ItemID, itemID)
		}
		if math.IsNaN(o.Quantity) || math.IsInf(o.Quantity, 0) || o.Quantity < 0 || o.PricePennies < 0 {
			return nil, fmt.Errorf("%w: order %s has quantity %v price %d", domain.ErrInvalidBookState, o.OrderID, o.Quantity, o.PricePennies)
		}
		ws = append(ws, &working{order: o, remaining: o.Quantity})
	}
	less := askPriority
	if side == domain.SideBuy {
		less = bidPriority
	}
	sort.SliceStable(ws, func(i, j int) bool { return less(ws[i].order, ws[j].order) })
	return ws, nil
}

func bidPriority(a, b domain.Order) bool {
	if a.PricePennies != b.PricePennies {
		return a.PricePennies > b.PricePennies
	}
	return a.Seq < b.Seq
}

func askPriority(a, b domain.Order) bool {
	if a.PricePennies != b.PricePennies {
		return a.PricePennies < b.PricePennies
	}
	return a.Seq < b.Seq
}

func residual(ws []*working) []domain.Order {
	out := make([]domain.Order, 0, len(ws))
	for _, w := range ws {
		if w.filled() {
			continue
		}
		out = append(out, w.order.WithQuantity(w.remaining))
	}
	return out
}
