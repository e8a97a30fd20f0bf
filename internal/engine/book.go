package engine

import (
	"sort"
	"sync"

	"github.com/efreitasn/tickexchange/internal/domain"
	"github.com/google/btree"
)

// OrderBookEntry represents a single order resting on the book.
type OrderBookEntry struct {
	Price   int64
	Seq     uint64
	OrderID string
	Order   domain.Order
}

// PriceLevel represents an aggregated price level in the order book.
type PriceLevel struct {
	Price         int64
	TotalQuantity float64
	OrderCount    int
}

func entryFor(o domain.Order) OrderBookEntry {
	return OrderBookEntry{Price: o.PricePennies, Seq: o.Seq, OrderID: o.OrderID, Order: o}
}

// bidLess defines ordering for the bid side: price descending, then
// submission sequence ascending, then order_id ascending. Min() returns
// the best bid (highest price, earliest submission).
func bidLess(a, b OrderBookEntry) bool {
	if a.Price != b.Price {
		return a.Price > b.Price
	}
	if a.Seq != b.Seq {
		return a.Seq < b.Seq
	}
	return a.OrderID < b.OrderID
}

// askLess defines ordering for the ask side: price ascending, then
// submission sequence ascending, then order_id ascending. Min() returns
// the best ask (lowest price, earliest submission).
func askLess(a, b OrderBookEntry) bool {
	if a.Price != b.Price {
		return a.Price < b.Price
	}
	if a.Seq != b.Seq {
		return a.Seq < b.Seq
	}
	return a.OrderID < b.OrderID
}

// OrderBook maintains the bid and ask sides for a single item using
// B-trees with a secondary index for O(log n) removal by order ID.
// It is not safe for concurrent use; the owning market serializes access.
type OrderBook struct {
	itemID string
	bids   *btree.BTreeG[OrderBookEntry]
	asks   *btree.BTreeG[OrderBookEntry]
	index  map[string]OrderBookEntry // order_id → entry
}

// NewOrderBook creates an order book for the given item.
func NewOrderBook(itemID string) *OrderBook {
	const degree = 32
	return &OrderBook{
		itemID: itemID,
		bids:   btree.NewG[OrderBookEntry](degree, bidLess),
		asks:   btree.NewG[OrderBookEntry](degree, askLess),
		index:  make(map[string]OrderBookEntry),
	}
}

// ItemID returns the item the book belongs to.
func (ob *OrderBook) ItemID() string {
	return ob.itemID
}

// Insert adds an order to the side it belongs to.
func (ob *OrderBook) Insert(o domain.Order) {
	if o.Side == domain.SideBuy {
		ob.InsertBid(o)
	} else {
		ob.InsertAsk(o)
	}
}

// InsertBid adds an order to the bid side of the book.
func (ob *OrderBook) InsertBid(o domain.Order) {
	entry := entryFor(o)
	ob.bids.ReplaceOrInsert(entry)
	ob.index[entry.OrderID] = entry
}

// InsertAsk adds an order to the ask side of the book.
func (ob *OrderBook) InsertAsk(o domain.Order) {
	entry := entryFor(o)
	ob.asks.ReplaceOrInsert(entry)
	ob.index[entry.OrderID] = entry
}

// Remove deletes an order from the book by order ID using the
// secondary index. It tries both sides since the caller may not
// know which side the order is on.
func (ob *OrderBook) Remove(orderID string) (domain.Order, bool) {
	entry, ok := ob.index[orderID]
	if !ok {
		return domain.Order{}, false
	}
	delete(ob.index, orderID)
	ob.bids.Delete(entry)
	ob.asks.Delete(entry)
	return entry.Order, true
}

// RemoveAgent deletes every resting order of the given agent on both
// sides and returns the removed orders.
func (ob *OrderBook) RemoveAgent(agentID string) []domain.Order {
	var ids []string
	for id, e := range ob.index {
		if e.Order.AgentID == agentID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	removed := make([]domain.Order, 0, len(ids))
	for _, id := range ids {
		if o, ok := ob.Remove(id); ok {
			removed = append(removed, o)
		}
	}
	return removed
}

// Reset replaces the contents of both sides.
func (ob *OrderBook) Reset(bids, asks []domain.Order) {
	ob.bids.Clear(false)
	ob.asks.Clear(false)
	ob.index = make(map[string]OrderBookEntry, len(bids)+len(asks))
	for _, o := range bids {
		ob.InsertBid(o)
	}
	for _, o := range asks {
		ob.InsertAsk(o)
	}
}

// BestBid returns the highest-priority bid (highest price, earliest submission).
func (ob *OrderBook) BestBid() (OrderBookEntry, bool) {
	return ob.bids.Min()
}

// BestAsk returns the highest-priority ask (lowest price, earliest submission).
func (ob *OrderBook) BestAsk() (OrderBookEntry, bool) {
	return ob.asks.Min()
}

// Bids returns the bid side in priority order.
func (ob *OrderBook) Bids() []domain.Order {
	return collect(ob.bids)
}

// Asks returns the ask side in priority order.
func (ob *OrderBook) Asks() []domain.Order {
	return collect(ob.asks)
}

func collect(tree *btree.BTreeG[OrderBookEntry]) []domain.Order {
	out := make([]domain.Order, 0, tree.Len())
	tree.Ascend(func(e OrderBookEntry) bool {
		out = append(out, e.Order)
		return true
	})
	return out
}

// TopBids returns up to n aggregated price levels from the bid side,
// ordered by price descending.
func (ob *OrderBook) TopBids(n int) []PriceLevel {
	return topLevels(ob.bids, n)
}

// TopAsks returns up to n aggregated price levels from the ask side,
// ordered by price ascending.
func (ob *OrderBook) TopAsks(n int) []PriceLevel {
	return topLevels(ob.asks, n)
}

// topLevels iterates the B-tree in order and aggregates entries into
// at most n price levels.
func topLevels(tree *btree.BTreeG[OrderBookEntry], n int) []PriceLevel {
	if n <= 0 {
		return nil
	}
	levels := make([]PriceLevel, 0, n)
	tree.Ascend(func(entry OrderBookEntry) bool {
		if len(levels) > 0 && levels[len(levels)-1].Price == entry.Price {
			levels[len(levels)-1].TotalQuantity += entry.Order.Quantity
			levels[len(levels)-1].OrderCount++
			return true
		}
		if len(levels) >= n {
			return false
		}
		levels = append(levels, PriceLevel{
			Price:         entry.Price,
			TotalQuantity: entry.Order.Quantity,
			OrderCount:    1,
		})
		return true
	})
	return levels
}

// BidCount returns the number of individual bid orders on the book.
func (ob *OrderBook) BidCount() int {
	return ob.bids.Len()
}

// AskCount returns the number of individual ask orders on the book.
func (ob *OrderBook) AskCount() int {
	return ob.asks.Len()
}

// BookManager is a thread-safe map of item_id → OrderBook.
type BookManager struct {
	mu    sync.RWMutex
	books map[string]*OrderBook
}

// NewBookManager creates a new BookManager.
func NewBookManager() *BookManager {
	return &BookManager{
		books: make(map[string]*OrderBook),
	}
}

// GetOrCreate returns the order book for the given item, creating
// one if it doesn't already exist.
func (bm *BookManager) GetOrCreate(itemID string) *OrderBook {
	bm.mu.RLock()
	book, ok := bm.books[itemID]
	bm.mu.RUnlock()
	if ok {
		return book
	}

	bm.mu.Lock()
	defer bm.mu.Unlock()
	// Double-check after acquiring write lock.
	if book, ok = bm.books[itemID]; ok {
		return book
	}
	book = NewOrderBook(itemID)
	bm.books[itemID] = book
	return book
}

// Get returns the book for an item if one exists.
func (bm *BookManager) Get(itemID string) (*OrderBook, bool) {
	bm.mu.RLock()
	defer bm.mu.RUnlock()
	book, ok := bm.books[itemID]
	return book, ok
}

// ItemIDs returns the ids of every book in sorted order.
func (bm *BookManager) ItemIDs() []string {
	bm.mu.RLock()
	defer bm.mu.RUnlock()
	ids := make([]string, 0, len(bm.books))
	for id := range bm.books {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Snapshot copies every book into a fresh matching input.
func (bm *BookManager) Snapshot(marketID string) OrderBookState {
	state := OrderBookState{
		MarketID:   marketID,
		BuyOrders:  make(map[string][]domain.Order),
		SellOrders: make(map[string][]domain.Order),
	}
	for _, id := range bm.ItemIDs() {
		book, _ := bm.Get(id)
		if bids := book.Bids(); len(bids) > 0 {
			state.BuyOrders[id] = bids
		}
		if asks := book.Asks(); len(asks) > 0 {
			state.SellOrders[id] = asks
		}
	}
	return state
}

// Apply folds the residual book of a matching pass back into the books.
// Items the result does not mention are left untouched.
func (bm *BookManager) Apply(unfilledBuys, unfilledSells map[string][]domain.Order) {
	items := make(map[string]struct{}, len(unfilledBuys)+len(unfilledSells))
	for id := range unfilledBuys {
		items[id] = struct{}{}
	}
	for id := range unfilledSells {
		items[id] = struct{}{}
	}
	for id := range items {
		bm.GetOrCreate(id).Reset(unfilledBuys[id], unfilledSells[id])
	}
}

// RemoveAgent deletes every order of the agent from every book.
func (bm *BookManager) RemoveAgent(agentID string) []domain.Order {
	var removed []domain.Order
	for _, id := range bm.ItemIDs() {
		book, _ := bm.Get(id)
		removed = append(removed, book.RemoveAgent(agentID)...)
	}
	return removed
}

// Clear drops every book.
func (bm *BookManager) Clear() {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	bm.books = make(map[string]*OrderBook)
}
