// Package market holds the stateful shells that own per-item books, gate
// admission and fold matching results back into mutable state.
package market

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/efreitasn/tickexchange/internal/admission"
	"github.com/efreitasn/tickexchange/internal/domain"
	"github.com/efreitasn/tickexchange/internal/engine"
	"github.com/efreitasn/tickexchange/internal/events"
	"github.com/efreitasn/tickexchange/internal/metrics"
	"github.com/efreitasn/tickexchange/internal/store"
)

// ReasonInvalidOrder is the rejection reason for structurally invalid orders.
const ReasonInvalidOrder = "invalid_order"

// HaltGate reports a market-wide trading halt.
type HaltGate interface {
	Active() bool
}

// Option configures an OrderBookMarket.
type Option func(*OrderBookMarket)

// WithPriceLimits gates admission through a PriceLimitEnforcer. In dynamic
// mode the market pushes each item's last clearing price as its reference.
func WithPriceLimits(e *admission.PriceLimitEnforcer) Option {
	return func(m *OrderBookMarket) { m.enforcer = e }
}

// WithCircuitBreaker gates admission and matching through a per-item breaker.
func WithCircuitBreaker(cb *admission.CircuitBreaker) Option {
	return func(m *OrderBookMarket) { m.breaker = cb }
}

// WithHaltGate blocks admission and matching while the gate is active.
func WithHaltGate(g HaltGate) Option {
	return func(m *OrderBookMarket) { m.halt = g }
}

// WithEvents sets the event sink.
func WithEvents(s events.Sink) Option {
	return func(m *OrderBookMarket) { m.sink = events.OrDiscard(s) }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *OrderBookMarket) { m.metrics = mt }
}

// WithJournal appends every matched transaction to a TransactionStore.
func WithJournal(ts *store.TransactionStore) Option {
	return func(m *OrderBookMarket) { m.journal = ts }
}

// WithMatcherOptions configures the matching engine.
func WithMatcherOptions(opts ...engine.MatcherOption) Option {
	return func(m *OrderBookMarket) { m.matcherOpts = append(m.matcherOpts, opts...) }
}

// BookStatus is a read-only view of one item.
type BookStatus struct {
	MarketID  string
	ItemID    string
	Bids      []engine.PriceLevel
	Asks      []engine.PriceLevel
	BestBid   *int64
	BestAsk   *int64
	LastPrice *int64
	LastTick  *int64
	Volume    float64
	Halted    bool
}

// OrderBookMarket is the stateful shell of a goods or labor market. It owns
// its books exclusively.
type OrderBookMarket struct {
	id          string
	kind        domain.MarketKind
	matcher     *engine.OrderBookMatcher
	matcherOpts []engine.MatcherOption
	enforcer    *admission.PriceLimitEnforcer
	breaker     *admission.CircuitBreaker
	halt        HaltGate
	sink        events.Sink
	metrics     *metrics.Metrics
	journal     *store.TransactionStore

	mu          sync.Mutex
	books       *engine.BookManager
	items       *domain.ItemRegistry
	seq         uint64
	tick        int64
	cachedBid   map[string]int64
	cachedAsk   map[string]int64
	lastPrice   map[string]int64
	lastTick    map[string]int64
	dailyVolume map[string]float64
}

// NewOrderBookMarket creates a market clearing with the rule of kind.
func NewOrderBookMarket(id string, kind domain.MarketKind, opts ...Option) *OrderBookMarket {
	m := &OrderBookMarket{
		id:          id,
		kind:        kind,
		sink:        events.Discard,
		books:       engine.NewBookManager(),
		items:       domain.NewItemRegistry(),
		cachedBid:   make(map[string]int64),
		cachedAsk:   make(map[string]int64),
		lastPrice:   make(map[string]int64),
		lastTick:    make(map[string]int64),
		dailyVolume: make(map[string]float64),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.matcher = engine.NewOrderBookMatcher(kind, m.matcherOpts...)
	return m
}

// ID returns the market id.
func (m *OrderBookMarket) ID() string { return m.id }

// Kind returns the clearing rule of the market.
func (m *OrderBookMarket) Kind() domain.MarketKind { return m.kind }

// PlaceOrder admits an order into its item's book. Rejected orders are
// dropped with an order.rejected event; PlaceOrder reports acceptance.
func (m *OrderBookMarket) PlaceOrder(o domain.Order, tick int64) bool {
	if err := o.Validate(); err != nil {
		m.rejected(o, tick, ReasonInvalidOrder, err)
		return false
	}
	if m.halt != nil && m.halt.Active() {
		m.rejected(o, tick, string(admission.ReasonMarketHalted), nil)
		return false
	}
	if m.enforcer != nil {
		if err := m.enforcer.Validate(o); err != nil {
			m.rejectedBy(o, tick, err)
			return false
		}
	}
	if m.breaker != nil {
		if err := m.breaker.Check(o, tick); err != nil {
			m.rejectedBy(o, tick, err)
			return false
		}
	}

	m.mu.Lock()
	if o.OrderID == "" {
		o.OrderID = uuid.New().String()
	}
	m.seq++
	o.Seq = m.seq
	o.MarketID = m.id
	o.PlacedTick = tick
	m.tick = tick
	m.books.GetOrCreate(o.ItemID).Insert(o)
	m.items.Register(o.ItemID)
	m.mu.Unlock()

	m.metrics.OrderAccepted(m.id)
	return true
}

func (m *OrderBookMarket) rejectedBy(o domain.Order, tick int64, err error) {
	m.rejected(o, tick, reasonFor(err), err)
}

func (m *OrderBookMarket) rejected(o domain.Order, tick int64, reason string, err error) {
	emitRejected(m.sink, m.id, o, tick, reason, err)
}

func reasonFor(err error) string {
	reason, ok := admission.ReasonOf(err)
	if !ok {
		return ReasonInvalidOrder
	}
	return string(reason)
}

func emitRejected(sink events.Sink, marketID string, o domain.Order, tick int64, reason string, err error) {
	attrs := map[string]any{
		"side":          string(o.Side),
		"price_pennies": o.PricePennies,
		"quantity":      o.Quantity,
	}
	if err != nil {
		attrs["error"] = err.Error()
	}
	sink.Emit(events.Event{
		Kind:     events.OrderRejected,
		Tick:     tick,
		MarketID: marketID,
		ItemID:   o.ItemID,
		AgentID:  o.AgentID,
		Reason:   reason,
		Attrs:    attrs,
	})
}

// MatchOrders runs one matching pass over every book and folds the residual
// back. Items halted by the breaker sit the pass out; a market-wide halt
// skips matching entirely.
func (m *OrderBookMarket) MatchOrders(tick int64) ([]domain.Transaction, error) {
	if m.halt != nil && m.halt.Active() {
		return []domain.Transaction{}, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.tick = tick

	state := m.books.Snapshot(m.id)
	if m.breaker != nil {
		for _, item := range state.ItemIDs() {
			if m.breaker.Halted(item, tick) {
				delete(state.BuyOrders, item)
				delete(state.SellOrders, item)
			}
		}
	}

	start := time.Now()
	res, err := m.matcher.Match(state, tick)
	m.metrics.ObserveMatch(m.id, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("match %s: %w", m.id, err)
	}

	m.books.Apply(res.UnfilledBuys, res.UnfilledSells)
	m.fold(res.Stats, tick)

	if m.journal != nil {
		m.journal.Append(res.Transactions...)
	}
	m.metrics.Transactions(m.id, res.Transactions)
	emitTrades(m.sink, res.Transactions)
	return res.Transactions, nil
}

// fold updates price history from the stats of a pass, in item order.
func (m *OrderBookMarket) fold(stats map[string]engine.ItemStats, tick int64) {
	for _, item := range m.items.List() {
		st, ok := stats[item]
		if !ok {
			continue
		}
		m.lastPrice[item] = st.LastPricePennies
		m.lastTick[item] = st.LastTradeTick
		m.dailyVolume[item] += st.Volume
		if m.enforcer != nil && m.enforcer.Config().Mode == admission.ModeDynamic {
			m.enforcer.SetReferencePrice(item, st.LastPricePennies)
		}
		if m.breaker != nil {
			m.breaker.RecordTrade(item, st.LastPricePennies, tick)
		}
	}
}

func emitTrades(sink events.Sink, txs []domain.Transaction) {
	for _, tx := range txs {
		sink.Emit(events.Event{
			Kind:     events.TradeExecuted,
			Tick:     tx.Tick,
			MarketID: tx.MarketID,
			ItemID:   tx.ItemID,
			Attrs: map[string]any{
				"transaction_id": tx.TransactionID,
				"buyer_id":       tx.BuyerID,
				"seller_id":      tx.SellerID,
				"quantity":       tx.Quantity,
				"total_pennies":  tx.TotalPennies,
			},
		})
	}
}

// ClearOrders caches each item's best bid and ask, then empties every book.
// Called once per tick boundary.
func (m *OrderBookMarket) ClearOrders() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range m.books.ItemIDs() {
		book, _ := m.books.Get(item)
		if e, ok := book.BestBid(); ok {
			m.cachedBid[item] = e.Price
		}
		if e, ok := book.BestAsk(); ok {
			m.cachedAsk[item] = e.Price
		}
	}
	m.books.Clear()
}

// CancelOrders removes every resting order of an agent and returns how many
// were removed.
func (m *OrderBookMarket) CancelOrders(agentID string) int {
	m.mu.Lock()
	removed := m.books.RemoveAgent(agentID)
	tick := m.tick
	m.mu.Unlock()

	if len(removed) > 0 {
		m.sink.Emit(events.Event{
			Kind:     events.OrdersCancelled,
			Tick:     tick,
			MarketID: m.id,
			AgentID:  agentID,
			Attrs:    map[string]any{"count": len(removed)},
		})
	}
	return len(removed)
}

// BestBid returns the live best bid of an item, or the one cached at the
// last ClearOrders when the book is empty.
func (m *OrderBookMarket) BestBid(itemID string) (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if book, ok := m.books.Get(itemID); ok {
		if e, ok := book.BestBid(); ok {
			return e.Price, true
		}
	}
	p, ok := m.cachedBid[itemID]
	return p, ok
}

// BestAsk mirrors BestBid for the sell side.
func (m *OrderBookMarket) BestAsk(itemID string) (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if book, ok := m.books.Get(itemID); ok {
		if e, ok := book.BestAsk(); ok {
			return e.Price, true
		}
	}
	p, ok := m.cachedAsk[itemID]
	return p, ok
}

// LastTradedPrice returns the last clearing price of an item.
func (m *OrderBookMarket) LastTradedPrice(itemID string) (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.lastPrice[itemID]
	return p, ok
}

// LastTradeTick returns the tick an item last traded at.
func (m *OrderBookMarket) LastTradeTick(itemID string) (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.lastTick[itemID]
	return t, ok
}

// DailyVolume returns the quantity traded since the last ResetDailyStats.
func (m *OrderBookMarket) DailyVolume(itemID string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dailyVolume[itemID]
}

// ResetDailyStats zeroes the daily volumes.
func (m *OrderBookMarket) ResetDailyStats() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dailyVolume = make(map[string]float64)
}

// Items returns every item ever traded or quoted on the market.
func (m *OrderBookMarket) Items() []string {
	return m.items.List()
}

// OrderCount returns the number of resting orders on both sides of an item.
func (m *OrderBookMarket) OrderCount(itemID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	book, ok := m.books.Get(itemID)
	if !ok {
		return 0
	}
	return book.BidCount() + book.AskCount()
}

// BookStatus returns the top depth levels of an item together with its
// last trade.
func (m *OrderBookMarket) BookStatus(itemID string, depth int) BookStatus {
	bid, hasBid := m.BestBid(itemID)
	ask, hasAsk := m.BestAsk(itemID)

	m.mu.Lock()
	defer m.mu.Unlock()
	status := BookStatus{
		MarketID: m.id,
		ItemID:   itemID,
		Bids:     []engine.PriceLevel{},
		Asks:     []engine.PriceLevel{},
		Volume:   m.dailyVolume[itemID],
	}
	if book, ok := m.books.Get(itemID); ok {
		if levels := book.TopBids(depth); levels != nil {
			status.Bids = levels
		}
		if levels := book.TopAsks(depth); levels != nil {
			status.Asks = levels
		}
	}
	if hasBid {
		status.BestBid = &bid
	}
	if hasAsk {
		status.BestAsk = &ask
	}
	if p, ok := m.lastPrice[itemID]; ok {
		status.LastPrice = &p
	}
	if t, ok := m.lastTick[itemID]; ok {
		status.LastTick = &t
	}
	if m.breaker != nil {
		status.Halted = m.breaker.Halted(itemID, m.tick)
	}
	return status
}
