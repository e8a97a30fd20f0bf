package service

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/efreitasn/tickexchange/internal/domain"
	"github.com/efreitasn/tickexchange/internal/market"
	"github.com/efreitasn/tickexchange/internal/store"
)

// SubmitOrderRequest represents the input for order submission.
type SubmitOrderRequest struct {
	MarketID      string
	AgentID       string
	Side          domain.Side
	ItemID        string
	Quantity      float64
	PricePennies  int64
	TargetAgentID string
	Brand         *domain.BrandInfo
}

// SubmitOrderResult reports whether the market admitted the order. A
// rejected order is dropped; the reason goes out as an order.rejected event.
type SubmitOrderResult struct {
	Order    domain.Order
	Accepted bool
	Tick     int64
}

// TickResult is the outcome of one full tick.
type TickResult struct {
	Tick         int64
	Transactions []domain.Transaction
	Expired      int
}

// Exchange owns the markets and drives them through ticks. Order placement
// and tick phases are serialized so every order lands in exactly one tick.
type Exchange struct {
	logger  *slog.Logger
	journal *store.TransactionStore

	mu    sync.Mutex
	tick  int64
	books map[string]*market.OrderBookMarket
	stock *market.StockMarket
}

// NewExchange creates an Exchange with no markets, starting at tick 0.
// journal is the store the markets record their transactions in.
func NewExchange(logger *slog.Logger, journal *store.TransactionStore) *Exchange {
	return &Exchange{
		logger:  logger,
		journal: journal,
		books:   make(map[string]*market.OrderBookMarket),
	}
}

// AddMarket registers a goods or labor market under its id.
func (e *Exchange) AddMarket(m *market.OrderBookMarket) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.books[m.ID()] = m
}

// SetStockMarket registers the stock market and opens its first session.
func (e *Exchange) SetStockMarket(m *market.StockMarket) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stock = m
	m.BeginSession()
}

// CurrentTick returns the tick orders are currently placed into.
func (e *Exchange) CurrentTick() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tick
}

// MarketIDs returns every market id in sorted order.
func (e *Exchange) MarketIDs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.marketIDsLocked()
}

func (e *Exchange) marketIDsLocked() []string {
	ids := make([]string, 0, len(e.books)+1)
	for id := range e.books {
		ids = append(ids, id)
	}
	if e.stock != nil {
		ids = append(ids, e.stock.ID())
	}
	sort.Strings(ids)
	return ids
}

// SubmitOrder validates the request and places the order on its market for
// the current tick. It returns domain.ErrMarketNotFound for an unknown
// market and a *domain.ParseError for a malformed stock item id.
func (e *Exchange) SubmitOrder(req SubmitOrderRequest) (*SubmitOrderResult, error) {
	if req.Side != domain.SideBuy && req.Side != domain.SideSell {
		return nil, &domain.ValidationError{
			Message: fmt.Sprintf("Unknown side: %s. Must be one of: BUY, SELL", req.Side),
		}
	}
	if req.AgentID == "" {
		return nil, &domain.ValidationError{Message: "agent_id is required"}
	}
	if req.ItemID == "" {
		return nil, &domain.ValidationError{Message: "item_id is required"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	o := domain.NewOrder(req.AgentID, req.Side, req.ItemID, req.Quantity, req.PricePennies, req.MarketID)
	o.TargetAgentID = req.TargetAgentID
	o.Brand = req.Brand

	if e.stock != nil && req.MarketID == e.stock.ID() {
		accepted, err := e.stock.PlaceOrder(o, e.tick)
		if err != nil {
			return nil, err
		}
		return &SubmitOrderResult{Order: o, Accepted: accepted, Tick: e.tick}, nil
	}
	m, ok := e.books[req.MarketID]
	if !ok {
		return nil, domain.ErrMarketNotFound
	}
	return &SubmitOrderResult{Order: o, Accepted: m.PlaceOrder(o, e.tick), Tick: e.tick}, nil
}

// RunTick matches every market in market id order and returns the
// transactions in that order. A market whose engine fails contributes
// nothing; its error is logged and joined into the returned error.
func (e *Exchange) RunTick() ([]domain.Transaction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runTickLocked()
}

func (e *Exchange) runTickLocked() ([]domain.Transaction, error) {
	var (
		all  []domain.Transaction
		errs []error
	)
	for _, id := range e.marketIDsLocked() {
		var (
			txs []domain.Transaction
			err error
		)
		if e.stock != nil && id == e.stock.ID() {
			txs, err = e.stock.MatchOrders(e.tick)
		} else {
			txs, err = e.books[id].MatchOrders(e.tick)
		}
		if err != nil {
			e.logger.Error("match failed",
				slog.String("market_id", id),
				slog.Int64("tick", e.tick),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("market %s: %w", id, err))
			continue
		}
		all = append(all, txs...)
	}
	return all, errors.Join(errs...)
}

// EndTick runs the tick boundary on every market, then advances the tick.
// A tick is one trading day: daily stats reset with it. It returns the
// number of stock orders that expired.
func (e *Exchange) EndTick() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.endTickLocked()
}

func (e *Exchange) endTickLocked() int {
	for _, id := range e.marketIDsLocked() {
		if m, ok := e.books[id]; ok {
			m.ClearOrders()
			m.ResetDailyStats()
		}
	}
	expired := 0
	if e.stock != nil {
		expired = e.stock.ClearOrders(e.tick)
	}
	e.tick++
	return expired
}

// Step runs a full tick: matching, then the boundary.
func (e *Exchange) Step() (*TickResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	tick := e.tick
	txs, err := e.runTickLocked()
	expired := e.endTickLocked()
	e.logger.Debug("tick complete",
		slog.Int64("tick", tick),
		slog.Int("transactions", len(txs)),
		slog.Int("expired", expired),
	)
	return &TickResult{Tick: tick, Transactions: txs, Expired: expired}, err
}

// CancelOrders removes an agent's resting orders from one market.
func (e *Exchange) CancelOrders(marketID, agentID string) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stock != nil && marketID == e.stock.ID() {
		return e.stock.CancelOrders(agentID), nil
	}
	m, ok := e.books[marketID]
	if !ok {
		return 0, domain.ErrMarketNotFound
	}
	return m.CancelOrders(agentID), nil
}

// RemoveAgent cancels an agent's resting orders on every market, as when
// the agent exits, and returns the total removed.
func (e *Exchange) RemoveAgent(agentID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	removed := 0
	for _, id := range e.marketIDsLocked() {
		if e.stock != nil && id == e.stock.ID() {
			removed += e.stock.CancelOrders(agentID)
			continue
		}
		removed += e.books[id].CancelOrders(agentID)
	}
	return removed
}

// Book returns the top depth levels of an item on a market.
func (e *Exchange) Book(marketID, itemID string, depth int) (*market.BookStatus, error) {
	if depth < 1 || depth > 50 {
		return nil, &domain.ValidationError{Message: "depth must be between 1 and 50"}
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stock != nil && marketID == e.stock.ID() {
		firm, err := domain.ParseStockItemID(itemID)
		if err != nil {
			return nil, err
		}
		st := e.stock.BookStatus(firm, depth)
		return &st, nil
	}
	m, ok := e.books[marketID]
	if !ok {
		return nil, domain.ErrMarketNotFound
	}
	st := m.BookStatus(itemID, depth)
	return &st, nil
}

// StockSummary returns the market view of a firm's stock.
func (e *Exchange) StockSummary(firmID int) (*market.StockSummary, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stock == nil {
		return nil, domain.ErrMarketNotFound
	}
	s := e.stock.Summary(firmID)
	return &s, nil
}

// SetStockReference seeds a firm's reference price for the price band and
// the index.
func (e *Exchange) SetStockReference(firmID int, pennies int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stock == nil {
		return domain.ErrMarketNotFound
	}
	e.stock.SetReferencePrice(firmID, pennies)
	return nil
}

// Transactions returns the journal of one item on a market, oldest first.
func (e *Exchange) Transactions(marketID, itemID string) ([]domain.Transaction, error) {
	e.mu.Lock()
	_, known := e.books[marketID]
	if e.stock != nil && marketID == e.stock.ID() {
		known = true
	}
	e.mu.Unlock()
	if !known {
		return nil, domain.ErrMarketNotFound
	}
	return e.journal.ByItem(marketID, itemID), nil
}
