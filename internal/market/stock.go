package market

import (
	"fmt"
	"sort"
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

// DefaultStockMarketID is the id the stock market registers under.
const DefaultStockMarketID = "stock_market"

// StockMarketConfig configures a StockMarket.
type StockMarketConfig struct {
	// ExpiryTicks is how many ticks a resting order survives. 0 scopes
	// orders to a single tick.
	ExpiryTicks int64
	PriceLimit  admission.PriceLimitConfig
	Workers     int
}

// StockOption configures a StockMarket.
type StockOption func(*StockMarket)

// WithIndexBreaker gates the whole market on the health of its index.
func WithIndexBreaker(b *admission.IndexCircuitBreaker) StockOption {
	return func(m *StockMarket) { m.index = b }
}

// WithStockEvents sets the event sink.
func WithStockEvents(s events.Sink) StockOption {
	return func(m *StockMarket) { m.sink = events.OrDiscard(s) }
}

// WithStockMetrics sets the metrics recorder.
func WithStockMetrics(mt *metrics.Metrics) StockOption {
	return func(m *StockMarket) { m.metrics = mt }
}

// WithStockJournal appends every matched transaction to a TransactionStore.
func WithStockJournal(ts *store.TransactionStore) StockOption {
	return func(m *StockMarket) { m.journal = ts }
}

// StockSummary is the market view of one firm's instrument.
type StockSummary struct {
	FirmID         int     `json:"firm_id"`
	ItemID         string  `json:"item_id"`
	LastPrice      *int64  `json:"last_price_pennies"`
	ReferencePrice *int64  `json:"reference_price_pennies"`
	BestBid        *int64  `json:"best_bid_pennies"`
	BestAsk        *int64  `json:"best_ask_pennies"`
	DailyVolume    float64 `json:"daily_volume"`
	DailyHigh      *int64  `json:"daily_high_pennies"`
	DailyLow       *int64  `json:"daily_low_pennies"`
	BuyOrderCount  int     `json:"buy_order_count"`
	SellOrderCount int     `json:"sell_order_count"`
}

type dailyStats struct {
	volume float64
	high   int64
	low    int64
}

// StockMarket is the stateful shell of the stock instruments. Books are keyed
// by stock_<firm> item ids; resting orders survive ClearOrders until their
// TTL runs out.
type StockMarket struct {
	id       string
	matcher  *engine.StockMatcher
	enforcer *admission.PriceLimitEnforcer
	index    *admission.IndexCircuitBreaker
	sink     events.Sink
	metrics  *metrics.Metrics
	journal  *store.TransactionStore

	mu        sync.Mutex
	books     *engine.BookManager
	expiry    *engine.TickExpiry
	seq       uint64
	tick      int64
	refs      map[int]int64
	lastPrice map[int]int64
	daily     map[int]*dailyStats
	cachedBid map[int]int64
	cachedAsk map[int]int64
}

// NewStockMarket creates a stock market.
func NewStockMarket(id string, cfg StockMarketConfig, opts ...StockOption) *StockMarket {
	m := &StockMarket{
		id:        id,
		matcher:   engine.NewStockMatcher(cfg.Workers),
		enforcer:  admission.NewPriceLimitEnforcer(cfg.PriceLimit),
		sink:      events.Discard,
		books:     engine.NewBookManager(),
		expiry:    engine.NewTickExpiry(cfg.ExpiryTicks),
		refs:      make(map[int]int64),
		lastPrice: make(map[int]int64),
		daily:     make(map[int]*dailyStats),
		cachedBid: make(map[int]int64),
		cachedAsk: make(map[int]int64),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ID returns the market id.
func (m *StockMarket) ID() string { return m.id }

// PlaceOrder admits a stock order. The only error is a *domain.ParseError
// for an item id that is not stock_<int>; admission failures drop the order
// with an order.rejected event and report false.
func (m *StockMarket) PlaceOrder(o domain.Order, tick int64) (bool, error) {
	if err := o.Validate(); err != nil {
		emitRejected(m.sink, m.id, o, tick, ReasonInvalidOrder, err)
		return false, nil
	}
	if _, err := domain.ParseStockItemID(o.ItemID); err != nil {
		return false, err
	}
	if m.index != nil && m.index.Active() {
		emitRejected(m.sink, m.id, o, tick, string(admission.ReasonMarketHalted), nil)
		return false, nil
	}
	if err := m.enforcer.Validate(o); err != nil {
		emitRejected(m.sink, m.id, o, tick, reasonFor(err), err)
		return false, nil
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
	m.expiry.Add(o.OrderID, o.ItemID, tick)
	m.mu.Unlock()

	m.metrics.OrderAccepted(m.id)
	return true, nil
}

// MatchOrders checks the index first and matches nothing while the market
// is halted. A session without a reference is anchored on the first
// positive index.
func (m *StockMarket) MatchOrders(tick int64) ([]domain.Transaction, error) {
	if m.index != nil {
		idx := m.Index()
		if !m.index.Anchored() && idx > 0 {
			m.index.SetReferenceIndex(idx)
		}
		if !m.index.CheckHealth(idx, tick) {
			return []domain.Transaction{}, nil
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.tick = tick

	state, err := m.stockState()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	res, err := m.matcher.Match(state, tick)
	m.metrics.ObserveMatch(m.id, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("match %s: %w", m.id, err)
	}

	resting := make(map[string]struct{})
	buys := make(map[string][]domain.Order, len(res.UnfilledBuys))
	sells := make(map[string][]domain.Order, len(res.UnfilledSells))
	for firm, orders := range res.UnfilledBuys {
		buys[domain.StockItemID(firm)] = orders
		for _, o := range orders {
			resting[o.OrderID] = struct{}{}
		}
	}
	for firm, orders := range res.UnfilledSells {
		sells[domain.StockItemID(firm)] = orders
		for _, o := range orders {
			resting[o.OrderID] = struct{}{}
		}
	}
	m.untrackFilled(state, resting)
	m.books.Apply(buys, sells)

	firms := make([]int, 0, len(res.Stats))
	for firm := range res.Stats {
		firms = append(firms, firm)
	}
	sort.Ints(firms)
	for _, firm := range firms {
		st := res.Stats[firm]
		m.lastPrice[firm] = st.LastPricePennies
		d, ok := m.daily[firm]
		if !ok {
			d = &dailyStats{high: st.HighPennies, low: st.LowPennies}
			m.daily[firm] = d
		}
		d.volume += st.Volume
		d.high = max(d.high, st.HighPennies)
		d.low = min(d.low, st.LowPennies)
	}

	if m.journal != nil {
		m.journal.Append(res.Transactions...)
	}
	m.metrics.Transactions(m.id, res.Transactions)
	emitTrades(m.sink, res.Transactions)
	return res.Transactions, nil
}

func (m *StockMarket) stockState() (engine.StockBookState, error) {
	snap := m.books.Snapshot(m.id)
	state := engine.StockBookState{
		MarketID:   m.id,
		BuyOrders:  make(map[int][]domain.Order, len(snap.BuyOrders)),
		SellOrders: make(map[int][]domain.Order, len(snap.SellOrders)),
	}
	for _, item := range snap.ItemIDs() {
		firm, err := domain.ParseStockItemID(item)
		if err != nil {
			return engine.StockBookState{}, fmt.Errorf("%w: %v", domain.ErrInvalidBookState, err)
		}
		if orders, ok := snap.BuyOrders[item]; ok {
			state.BuyOrders[firm] = orders
		}
		if orders, ok := snap.SellOrders[item]; ok {
			state.SellOrders[firm] = orders
		}
	}
	return state, nil
}

func (m *StockMarket) untrackFilled(state engine.StockBookState, resting map[string]struct{}) {
	for _, side := range []map[int][]domain.Order{state.BuyOrders, state.SellOrders} {
		for _, orders := range side {
			for _, o := range orders {
				if _, ok := resting[o.OrderID]; !ok {
					m.expiry.Remove(o.OrderID)
				}
			}
		}
	}
}

// ClearOrders runs the tick boundary: it caches best quotes, drops the
// orders whose TTL ran out and resets the daily stats. It returns the
// number of orders removed.
func (m *StockMarket) ClearOrders(tick int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tick = tick

	for _, item := range m.books.ItemIDs() {
		firm, err := domain.ParseStockItemID(item)
		if err != nil {
			continue
		}
		book, _ := m.books.Get(item)
		if e, ok := book.BestBid(); ok {
			m.cachedBid[firm] = e.Price
		}
		if e, ok := book.BestAsk(); ok {
			m.cachedAsk[firm] = e.Price
		}
	}
	m.daily = make(map[int]*dailyStats)

	if m.expiry.TTL() <= 0 {
		removed := 0
		for _, item := range m.books.ItemIDs() {
			book, _ := m.books.Get(item)
			removed += book.BidCount() + book.AskCount()
		}
		m.books.Clear()
		return removed
	}

	removed := 0
	for _, entry := range m.expiry.Expire(tick) {
		book, ok := m.books.Get(entry.ItemID)
		if !ok {
			continue
		}
		o, ok := book.Remove(entry.OrderID)
		if !ok {
			continue
		}
		removed++
		m.sink.Emit(events.Event{
			Kind:     events.OrderExpired,
			Tick:     tick,
			MarketID: m.id,
			ItemID:   o.ItemID,
			AgentID:  o.AgentID,
			Attrs: map[string]any{
				"order_id":    o.OrderID,
				"placed_tick": o.PlacedTick,
				"quantity":    o.Quantity,
			},
		})
	}
	return removed
}

// CancelOrders removes every resting order of an agent and returns how many
// were removed.
func (m *StockMarket) CancelOrders(agentID string) int {
	m.mu.Lock()
	removed := m.books.RemoveAgent(agentID)
	for _, o := range removed {
		m.expiry.Remove(o.OrderID)
	}
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

// SetReferencePrice sets the reference price of a firm. It anchors the
// dynamic price band and stands in for the stock price until the firm
// trades.
func (m *StockMarket) SetReferencePrice(firmID int, pennies int64) {
	m.mu.Lock()
	m.refs[firmID] = pennies
	m.mu.Unlock()
	m.enforcer.SetReferencePrice(domain.StockItemID(firmID), pennies)
}

// StockPrice returns the last traded price of a firm, else its reference.
func (m *StockMarket) StockPrice(firmID int) (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stockPriceLocked(firmID)
}

func (m *StockMarket) stockPriceLocked(firmID int) (int64, bool) {
	if p, ok := m.lastPrice[firmID]; ok {
		return p, true
	}
	p, ok := m.refs[firmID]
	return p, ok
}

// Firms returns every firm with a price, sorted.
func (m *StockMarket) Firms() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.firmsLocked()
}

func (m *StockMarket) firmsLocked() []int {
	seen := make(map[int]struct{}, len(m.refs)+len(m.lastPrice))
	for f := range m.refs {
		seen[f] = struct{}{}
	}
	for f := range m.lastPrice {
		seen[f] = struct{}{}
	}
	firms := make([]int, 0, len(seen))
	for f := range seen {
		firms = append(firms, f)
	}
	sort.Ints(firms)
	return firms
}

// Index returns the mean stock price in pennies over every priced firm, 0
// when no firm has a price.
func (m *StockMarket) Index() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	firms := m.firmsLocked()
	if len(firms) == 0 {
		return 0
	}
	var sum float64
	for _, f := range firms {
		p, _ := m.stockPriceLocked(f)
		sum += float64(p)
	}
	return sum / float64(len(firms))
}

// BeginSession anchors the index breaker on the current index. With no
// priced firm the anchor is deferred to the first MatchOrders that sees one.
func (m *StockMarket) BeginSession() {
	if m.index == nil {
		return
	}
	m.index.SetReferenceIndex(m.Index())
}

// Halted reports whether the index breaker has halted the market.
func (m *StockMarket) Halted() bool {
	return m.index != nil && m.index.Active()
}

// BestBid returns the live best bid of a firm, or the one cached at the last
// ClearOrders.
func (m *StockMarket) BestBid(firmID int) (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bestLocked(firmID, domain.SideBuy)
}

// BestAsk mirrors BestBid for the sell side.
func (m *StockMarket) BestAsk(firmID int) (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bestLocked(firmID, domain.SideSell)
}

func (m *StockMarket) bestLocked(firmID int, side domain.Side) (int64, bool) {
	if book, ok := m.books.Get(domain.StockItemID(firmID)); ok {
		var (
			e  engine.OrderBookEntry
			ok bool
		)
		if side == domain.SideBuy {
			e, ok = book.BestBid()
		} else {
			e, ok = book.BestAsk()
		}
		if ok {
			return e.Price, true
		}
	}
	if side == domain.SideBuy {
		p, ok := m.cachedBid[firmID]
		return p, ok
	}
	p, ok := m.cachedAsk[firmID]
	return p, ok
}

// ResetDailyStats zeroes the daily volume, high and low of every firm.
func (m *StockMarket) ResetDailyStats() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.daily = make(map[int]*dailyStats)
}

// Summary returns the market view of a firm.
func (m *StockMarket) Summary(firmID int) StockSummary {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := StockSummary{FirmID: firmID, ItemID: domain.StockItemID(firmID)}
	if p, ok := m.lastPrice[firmID]; ok {
		s.LastPrice = &p
	}
	if p, ok := m.refs[firmID]; ok {
		s.ReferencePrice = &p
	}
	if p, ok := m.bestLocked(firmID, domain.SideBuy); ok {
		s.BestBid = &p
	}
	if p, ok := m.bestLocked(firmID, domain.SideSell); ok {
		s.BestAsk = &p
	}
	if d, ok := m.daily[firmID]; ok {
		high, low := d.high, d.low
		s.DailyVolume = d.volume
		s.DailyHigh = &high
		s.DailyLow = &low
	}
	if book, ok := m.books.Get(s.ItemID); ok {
		s.BuyOrderCount = book.BidCount()
		s.SellOrderCount = book.AskCount()
	}
	return s
}

// PendingExpiries returns how many resting orders are waiting on their TTL.
func (m *StockMarket) PendingExpiries() int {
	return m.expiry.Len()
}

// BookStatus returns the top depth levels of a firm's book.
func (m *StockMarket) BookStatus(firmID, depth int) BookStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	itemID := domain.StockItemID(firmID)
	status := BookStatus{
		MarketID: m.id,
		ItemID:   itemID,
		Bids:     []engine.PriceLevel{},
		Asks:     []engine.PriceLevel{},
		Halted:   m.index != nil && m.index.Active(),
	}
	if book, ok := m.books.Get(itemID); ok {
		if levels := book.TopBids(depth); levels != nil {
			status.Bids = levels
		}
		if levels := book.TopAsks(depth); levels != nil {
			status.Asks = levels
		}
	}
	if p, ok := m.bestLocked(firmID, domain.SideBuy); ok {
		status.BestBid = &p
	}
	if p, ok := m.bestLocked(firmID, domain.SideSell); ok {
		status.BestAsk = &p
	}
	if p, ok := m.lastPrice[firmID]; ok {
		status.LastPrice = &p
	}
	if d, ok := m.daily[firmID]; ok {
		status.Volume = d.volume
	}
	return status
}
