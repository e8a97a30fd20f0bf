package market

import (
	"errors"
	"testing"

	"github.com/efreitasn/tickexchange/internal/admission"
	"github.com/efreitasn/tickexchange/internal/domain"
	"github.com/efreitasn/tickexchange/internal/events"
)

func newTestStockMarket(t *testing.T, cfg StockMarketConfig, opts ...StockOption) (*StockMarket, *events.Recorder) {
	t.Helper()
	rec := events.NewRecorder()
	opts = append([]StockOption{WithStockEvents(rec)}, opts...)
	return NewStockMarket(DefaultStockMarketID, cfg, opts...), rec
}

func stockOrder(agent string, side domain.Side, firm int, price int64, qty float64) domain.Order {
	return newOrder(agent, side, domain.StockItemID(firm), price, qty)
}

func TestStockMarket_MalformedItemID(t *testing.T) {
	m, _ := newTestStockMarket(t, StockMarketConfig{ExpiryTicks: 5})
	ok, err := m.PlaceOrder(newOrder("a", domain.SideBuy, "stock_x", 100, 1), 1)
	if ok {
		t.Fatal("expected malformed order refused")
	}
	var perr *domain.ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *domain.ParseError, got %v", err)
	}
	if _, err := m.PlaceOrder(newOrder("a", domain.SideBuy, "basic_food", 100, 1), 1); err == nil {
		t.Fatal("expected parse error for a non-stock item")
	}
}

func TestStockMarket_NonCanonicalItemIDDoesNotStallMatching(t *testing.T) {
	m, _ := newTestStockMarket(t, StockMarketConfig{ExpiryTicks: 5})
	mustPlace(t, m, stockOrder("buyer", domain.SideBuy, 1, 1000, 1), 1)
	mustPlace(t, m, stockOrder("seller", domain.SideSell, 1, 1000, 1), 1)

	for _, id := range []string{"stock_01", "stock_+1"} {
		ok, err := m.PlaceOrder(newOrder("x", domain.SideBuy, id, 1000, 1), 1)
		var perr *domain.ParseError
		if ok || !errors.As(err, &perr) {
			t.Fatalf("PlaceOrder(%q) = %v, %v; want *domain.ParseError", id, ok, err)
		}
	}

	txs, err := m.MatchOrders(1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(txs) != 1 || txs[0].ItemID != "stock_1" {
		t.Fatalf("expected the stock_1 cross to execute, got %+v", txs)
	}
}

func TestStockMarket_MatchAndSummary(t *testing.T) {
	m, _ := newTestStockMarket(t, StockMarketConfig{ExpiryTicks: 5})
	m.SetReferencePrice(1, 900)

	mustPlace(t, m, stockOrder("buyer", domain.SideBuy, 1, 1000, 3), 1)
	mustPlace(t, m, stockOrder("seller", domain.SideSell, 1, 900, 2), 1)

	txs, err := m.MatchOrders(1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(txs) != 1 {
		t.Fatalf("expected 1 transaction, got %d", len(txs))
	}
	tx := txs[0]
	if tx.ItemID != "stock_1" || tx.Type != domain.TransactionStock || tx.TotalPennies != 1900 {
		t.Errorf("unexpected transaction %+v", tx)
	}

	if p, ok := m.StockPrice(1); !ok || p != 950 {
		t.Errorf("expected stock price 950, got %d %v", p, ok)
	}
	s := m.Summary(1)
	if s.LastPrice == nil || *s.LastPrice != 950 {
		t.Errorf("expected last price 950, got %v", s.LastPrice)
	}
	if s.ReferencePrice == nil || *s.ReferencePrice != 900 {
		t.Errorf("expected reference 900, got %v", s.ReferencePrice)
	}
	if s.DailyVolume != 2 || s.DailyHigh == nil || *s.DailyHigh != 950 || s.DailyLow == nil || *s.DailyLow != 950 {
		t.Errorf("unexpected daily stats %+v", s)
	}
	if s.BuyOrderCount != 1 || s.SellOrderCount != 0 {
		t.Errorf("expected 1 resting buy, got %d/%d", s.BuyOrderCount, s.SellOrderCount)
	}
	if s.BestBid == nil || *s.BestBid != 1000 {
		t.Errorf("expected best bid 1000, got %v", s.BestBid)
	}
	if n := m.PendingExpiries(); n != 1 {
		t.Errorf("expected only the resting buy tracked for expiry, got %d", n)
	}
}

func TestStockMarket_StockPriceFallsBackToReference(t *testing.T) {
	m, _ := newTestStockMarket(t, StockMarketConfig{})
	if _, ok := m.StockPrice(7); ok {
		t.Fatal("expected no price for an unknown firm")
	}
	m.SetReferencePrice(7, 1234)
	if p, ok := m.StockPrice(7); !ok || p != 1234 {
		t.Fatalf("expected reference 1234, got %d %v", p, ok)
	}
	if firms := m.Firms(); len(firms) != 1 || firms[0] != 7 {
		t.Errorf("unexpected firms %v", firms)
	}
}

func TestStockMarket_OrdersExpireAfterTTL(t *testing.T) {
	m, rec := newTestStockMarket(t, StockMarketConfig{ExpiryTicks: 5})
	mustPlace(t, m, stockOrder("buyer", domain.SideBuy, 1, 800, 1), 1)
	mustPlace(t, m, stockOrder("seller", domain.SideSell, 1, 900, 1), 3)

	if n := m.ClearOrders(5); n != 0 {
		t.Fatalf("expected nothing expired at tick 5, got %d", n)
	}
	if p, ok := m.BestBid(1); !ok || p != 800 {
		t.Errorf("expected resting bid 800, got %d %v", p, ok)
	}
	if n := m.ClearOrders(6); n != 1 {
		t.Fatalf("expected the tick-1 order expired at tick 6, got %d", n)
	}
	if n := m.ClearOrders(8); n != 1 {
		t.Fatalf("expected the tick-3 order expired at tick 8, got %d", n)
	}

	evs := rec.OfKind(events.OrderExpired)
	if len(evs) != 2 || evs[0].AgentID != "buyer" || evs[1].AgentID != "seller" {
		t.Fatalf("unexpected expiry events %+v", evs)
	}
	if p, ok := m.BestAsk(1); !ok || p != 900 {
		t.Errorf("expected cached ask 900 after expiry, got %d %v", p, ok)
	}
}

func TestStockMarket_ZeroTTLScopesOrdersToTick(t *testing.T) {
	m, _ := newTestStockMarket(t, StockMarketConfig{})
	mustPlace(t, m, stockOrder("buyer", domain.SideBuy, 1, 800, 1), 1)
	mustPlace(t, m, stockOrder("buyer", domain.SideBuy, 2, 800, 1), 1)
	if n := m.ClearOrders(1); n != 2 {
		t.Fatalf("expected 2 orders cleared, got %d", n)
	}
	if s := m.Summary(1); s.BuyOrderCount != 0 {
		t.Errorf("expected empty book, got %d", s.BuyOrderCount)
	}
}

func TestStockMarket_ClearOrdersResetsDailyStats(t *testing.T) {
	m, _ := newTestStockMarket(t, StockMarketConfig{ExpiryTicks: 5})
	mustPlace(t, m, stockOrder("buyer", domain.SideBuy, 1, 1000, 1), 1)
	mustPlace(t, m, stockOrder("seller", domain.SideSell, 1, 1000, 1), 1)
	if _, err := m.MatchOrders(1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m.ClearOrders(1)
	s := m.Summary(1)
	if s.DailyVolume != 0 || s.DailyHigh != nil || s.DailyLow != nil {
		t.Errorf("expected daily stats reset, got %+v", s)
	}
	if s.LastPrice == nil || *s.LastPrice != 1000 {
		t.Errorf("expected last price kept, got %v", s.LastPrice)
	}
}

func TestStockMarket_CancelOrders(t *testing.T) {
	m, rec := newTestStockMarket(t, StockMarketConfig{ExpiryTicks: 5})
	mustPlace(t, m, stockOrder("a", domain.SideBuy, 1, 800, 1), 1)
	mustPlace(t, m, stockOrder("a", domain.SideSell, 2, 900, 1), 1)
	mustPlace(t, m, stockOrder("b", domain.SideBuy, 1, 700, 1), 1)

	if n := m.CancelOrders("a"); n != 2 {
		t.Fatalf("expected 2 cancelled, got %d", n)
	}
	if n := m.PendingExpiries(); n != 1 {
		t.Errorf("expected cancelled orders untracked, got %d", n)
	}
	if n := len(rec.OfKind(events.OrdersCancelled)); n != 1 {
		t.Errorf("expected 1 cancel event, got %d", n)
	}
}

func TestStockMarket_PriceBandAroundReference(t *testing.T) {
	m, rec := newTestStockMarket(t, StockMarketConfig{
		ExpiryTicks: 5,
		PriceLimit:  admission.PriceLimitConfig{Enabled: true, Mode: admission.ModeDynamic, BaseLimit: 0.15},
	})
	m.SetReferencePrice(1, 1000)

	ok, err := m.PlaceOrder(stockOrder("a", domain.SideBuy, 1, 1200, 1), 1)
	if ok || err != nil {
		t.Fatalf("expected silent rejection, got %v %v", ok, err)
	}
	if evs := rec.OfKind(events.OrderRejected); len(evs) != 1 || evs[0].Reason != string(admission.ReasonOutOfBand) {
		t.Fatalf("expected out-of-band rejection, got %+v", evs)
	}
	mustPlace(t, m, stockOrder("a", domain.SideBuy, 1, 1150, 1), 1)
	// Firms without a reference are in price discovery.
	mustPlace(t, m, stockOrder("a", domain.SideBuy, 2, 99999, 1), 1)
}

func TestStockMarket_IndexBreakerHaltsMarket(t *testing.T) {
	index := admission.NewIndexCircuitBreaker(DefaultStockMarketID, admission.DefaultIndexCircuitBreakerConfig(), nil)
	m, rec := newTestStockMarket(t, StockMarketConfig{ExpiryTicks: 50}, WithIndexBreaker(index))
	m.SetReferencePrice(1, 1000)
	m.SetReferencePrice(2, 1000)
	m.BeginSession()

	mustPlace(t, m, stockOrder("buyer", domain.SideBuy, 3, 500, 1), 1)
	mustPlace(t, m, stockOrder("seller", domain.SideSell, 3, 500, 1), 1)

	// The index falls from 1000 to (800+1000+500)/3, a tier-3 drop.
	m.SetReferencePrice(1, 800)
	m.SetReferencePrice(3, 500)
	txs, err := m.MatchOrders(10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(txs) != 0 {
		t.Fatalf("expected no matching while halted, got %+v", txs)
	}
	if !m.Halted() {
		t.Fatal("expected market halted")
	}
	if ok, _ := m.PlaceOrder(stockOrder("late", domain.SideBuy, 1, 800, 1), 10); ok {
		t.Fatal("expected order rejected while halted")
	}
	if evs := rec.OfKind(events.OrderRejected); len(evs) != 1 || evs[0].Reason != string(admission.ReasonMarketHalted) {
		t.Fatalf("expected market_halted rejection, got %+v", evs)
	}

	m.BeginSession()
	if txs, _ := m.MatchOrders(11); len(txs) != 1 {
		t.Fatalf("expected resting orders to match in the new session, got %d", len(txs))
	}
}

func TestStockMarket_IndexIsMeanPrice(t *testing.T) {
	m, _ := newTestStockMarket(t, StockMarketConfig{})
	if got := m.Index(); got != 0 {
		t.Fatalf("expected empty index 0, got %v", got)
	}
	m.SetReferencePrice(1, 1000)
	m.SetReferencePrice(2, 2000)
	if got := m.Index(); got != 1500 {
		t.Fatalf("expected index 1500, got %v", got)
	}
}

func mustPlace(t *testing.T, m *StockMarket, o domain.Order, tick int64) {
	t.Helper()
	ok, err := m.PlaceOrder(o, tick)
	if err != nil || !ok {
		t.Fatalf("expected order accepted, got %v %v", ok, err)
	}
}
