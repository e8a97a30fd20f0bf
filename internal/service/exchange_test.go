package service

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/efreitasn/tickexchange/internal/admission"
	"github.com/efreitasn/tickexchange/internal/domain"
	"github.com/efreitasn/tickexchange/internal/market"
	"github.com/efreitasn/tickexchange/internal/store"
)

func newTestExchange(t *testing.T) (*Exchange, *store.TransactionStore) {
	t.Helper()
	journal := store.NewTransactionStore()
	ex := NewExchange(slog.New(slog.NewTextHandler(io.Discard, nil)), journal)
	ex.AddMarket(market.NewOrderBookMarket("goods", domain.KindGoods, market.WithJournal(journal)))
	ex.AddMarket(market.NewOrderBookMarket("labor", domain.KindLabor, market.WithJournal(journal)))
	ex.SetStockMarket(market.NewStockMarket(market.DefaultStockMarketID,
		market.StockMarketConfig{ExpiryTicks: 5},
		market.WithStockJournal(journal),
	))
	return ex, journal
}

func submit(t *testing.T, ex *Exchange, marketID, agent string, side domain.Side, item string, price int64, qty float64) *SubmitOrderResult {
	t.Helper()
	res, err := ex.SubmitOrder(SubmitOrderRequest{
		MarketID:     marketID,
		AgentID:      agent,
		Side:         side,
		ItemID:       item,
		Quantity:     qty,
		PricePennies: price,
	})
	if err != nil {
		t.Fatalf("submit: unexpected error: %v", err)
	}
	return res
}

func TestExchange_SubmitOrder_Validation(t *testing.T) {
	ex, _ := newTestExchange(t)

	tests := []struct {
		name string
		req  SubmitOrderRequest
	}{
		{"bad side", SubmitOrderRequest{MarketID: "goods", AgentID: "a", Side: "HOLD", ItemID: "x", Quantity: 1}},
		{"no agent", SubmitOrderRequest{MarketID: "goods", Side: domain.SideBuy, ItemID: "x", Quantity: 1}},
		{"no item", SubmitOrderRequest{MarketID: "goods", AgentID: "a", Side: domain.SideBuy, Quantity: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ex.SubmitOrder(tt.req)
			var ve *domain.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected *ValidationError, got %T: %v", err, err)
			}
		})
	}
}

func TestExchange_SubmitOrder_UnknownMarket(t *testing.T) {
	ex, _ := newTestExchange(t)

	_, err := ex.SubmitOrder(SubmitOrderRequest{MarketID: "nope", AgentID: "a", Side: domain.SideBuy, ItemID: "x", Quantity: 1})
	if err != domain.ErrMarketNotFound {
		t.Fatalf("got error %v, want ErrMarketNotFound", err)
	}
}

func TestExchange_SubmitOrder_MalformedStockID(t *testing.T) {
	ex, _ := newTestExchange(t)

	_, err := ex.SubmitOrder(SubmitOrderRequest{
		MarketID: market.DefaultStockMarketID, AgentID: "a", Side: domain.SideBuy, ItemID: "firm_1", Quantity: 1, PricePennies: 100,
	})
	var pe *domain.ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *ParseError, got %T: %v", err, err)
	}
}

func TestExchange_SubmitOrder_RejectedOrderReportsFalse(t *testing.T) {
	ex, _ := newTestExchange(t)

	res := submit(t, ex, "goods", "a", domain.SideBuy, "bread", 100, -1)
	if res.Accepted {
		t.Fatal("expected a negative quantity to be rejected")
	}
}

func TestExchange_StepMatchesEveryMarketInOrder(t *testing.T) {
	ex, journal := newTestExchange(t)

	submit(t, ex, market.DefaultStockMarketID, "inv_1", domain.SideBuy, "stock_1", 1000, 2)
	submit(t, ex, market.DefaultStockMarketID, "inv_2", domain.SideSell, "stock_1", 900, 2)
	submit(t, ex, "labor", "firm_1", domain.SideBuy, "labor", 2000, 1)
	submit(t, ex, "labor", "worker_1", domain.SideSell, "labor", 1000, 1)
	submit(t, ex, "goods", "household_1", domain.SideBuy, "bread", 10000, 1)
	submit(t, ex, "goods", "firm_2", domain.SideSell, "bread", 9900, 1)

	res, err := ex.Step()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Tick != 0 {
		t.Errorf("expected tick 0, got %d", res.Tick)
	}
	if len(res.Transactions) != 3 {
		t.Fatalf("expected 3 transactions, got %d", len(res.Transactions))
	}
	wantMarkets := []string{"goods", "labor", market.DefaultStockMarketID}
	wantTotals := []int64{9950, 2000, 1900}
	for i, tx := range res.Transactions {
		if tx.MarketID != wantMarkets[i] || tx.TotalPennies != wantTotals[i] {
			t.Errorf("transaction %d: got %s/%d, want %s/%d", i, tx.MarketID, tx.TotalPennies, wantMarkets[i], wantTotals[i])
		}
	}
	if ex.CurrentTick() != 1 {
		t.Errorf("expected the tick to advance to 1, got %d", ex.CurrentTick())
	}
	if journal.Len() != 3 {
		t.Errorf("expected 3 journaled transactions, got %d", journal.Len())
	}
	txs, err := ex.Transactions("goods", "bread")
	if err != nil || len(txs) != 1 {
		t.Errorf("expected one bread transaction, got %d (%v)", len(txs), err)
	}
}

func TestExchange_EndTickClearsGoodsButKeepsStockUntilExpiry(t *testing.T) {
	ex, _ := newTestExchange(t)

	submit(t, ex, "goods", "household_1", domain.SideBuy, "bread", 100, 1)
	submit(t, ex, market.DefaultStockMarketID, "inv_1", domain.SideBuy, "stock_1", 1000, 1)

	if _, err := ex.Step(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	goods, err := ex.Book("goods", "bread", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(goods.Bids) != 0 {
		t.Errorf("expected goods book cleared, got %d bid levels", len(goods.Bids))
	}
	if goods.BestBid == nil || *goods.BestBid != 100 {
		t.Errorf("expected the cleared bid cached at 100, got %v", goods.BestBid)
	}

	stock, err := ex.Book(market.DefaultStockMarketID, "stock_1", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(stock.Bids) != 1 {
		t.Errorf("expected the stock bid to survive the boundary, got %d levels", len(stock.Bids))
	}
}

func TestExchange_RemoveAgent(t *testing.T) {
	ex, _ := newTestExchange(t)

	submit(t, ex, "goods", "firm_1", domain.SideSell, "bread", 100, 1)
	submit(t, ex, "goods", "firm_1", domain.SideSell, "cloth", 300, 1)
	submit(t, ex, "labor", "firm_1", domain.SideBuy, "labor", 2000, 1)
	submit(t, ex, market.DefaultStockMarketID, "firm_1", domain.SideSell, "stock_1", 500, 10)
	submit(t, ex, "goods", "firm_2", domain.SideSell, "bread", 100, 1)

	if n := ex.RemoveAgent("firm_1"); n != 4 {
		t.Fatalf("expected 4 orders removed, got %d", n)
	}
	book, _ := ex.Book("goods", "bread", 5)
	if len(book.Asks) != 1 || book.Asks[0].OrderCount != 1 {
		t.Errorf("expected firm_2's ask to remain, got %+v", book.Asks)
	}
}

func TestExchange_CancelOrdersOnOneMarket(t *testing.T) {
	ex, _ := newTestExchange(t)

	submit(t, ex, "goods", "firm_1", domain.SideSell, "bread", 100, 1)
	submit(t, ex, "labor", "firm_1", domain.SideBuy, "labor", 2000, 1)

	n, err := ex.CancelOrders("goods", "firm_1")
	if err != nil || n != 1 {
		t.Fatalf("expected 1 removed, got %d (%v)", n, err)
	}
	if _, err := ex.CancelOrders("nope", "firm_1"); err != domain.ErrMarketNotFound {
		t.Errorf("got error %v, want ErrMarketNotFound", err)
	}
	labor, _ := ex.Book("labor", "labor", 5)
	if len(labor.Bids) != 1 {
		t.Errorf("expected the labor bid untouched, got %d levels", len(labor.Bids))
	}
}

func TestExchange_BookDepthValidation(t *testing.T) {
	ex, _ := newTestExchange(t)

	for _, depth := range []int{0, 51} {
		_, err := ex.Book("goods", "bread", depth)
		if _, ok := err.(*domain.ValidationError); !ok {
			t.Errorf("depth %d: expected *ValidationError, got %T", depth, err)
		}
	}
}

func TestExchange_StockSummaryAndReference(t *testing.T) {
	ex, _ := newTestExchange(t)

	if err := ex.SetStockReference(3, 2500); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s, err := ex.StockSummary(3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.ReferencePrice == nil || *s.ReferencePrice != 2500 || s.LastPrice != nil {
		t.Errorf("unexpected summary %+v", s)
	}
}

func TestExchange_WithoutStockMarket(t *testing.T) {
	ex := NewExchange(slog.New(slog.NewTextHandler(io.Discard, nil)), store.NewTransactionStore())

	if _, err := ex.StockSummary(1); err != domain.ErrMarketNotFound {
		t.Errorf("got error %v, want ErrMarketNotFound", err)
	}
	if _, err := ex.Transactions("goods", "bread"); err != domain.ErrMarketNotFound {
		t.Errorf("got error %v, want ErrMarketNotFound", err)
	}
	res, err := ex.Step()
	if err != nil || len(res.Transactions) != 0 {
		t.Errorf("expected an empty tick, got %+v (%v)", res, err)
	}
}

func TestExchange_IndexBreakerAnchorsOnFirstPricedTick(t *testing.T) {
	journal := store.NewTransactionStore()
	ex := NewExchange(slog.New(slog.NewTextHandler(io.Discard, nil)), journal)
	index := admission.NewIndexCircuitBreaker(market.DefaultStockMarketID, admission.DefaultIndexCircuitBreakerConfig(), nil)
	ex.SetStockMarket(market.NewStockMarket(market.DefaultStockMarketID,
		market.StockMarketConfig{ExpiryTicks: 5},
		market.WithIndexBreaker(index),
		market.WithStockJournal(journal),
	))
	if index.Anchored() {
		t.Fatal("expected no anchor before any firm is priced")
	}

	if err := ex.SetStockReference(1, 10_000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stock := domain.StockItemID(1)
	submit(t, ex, market.DefaultStockMarketID, "buyer", domain.SideBuy, stock, 8600, 1)
	submit(t, ex, market.DefaultStockMarketID, "seller", domain.SideSell, stock, 8600, 1)
	res, err := ex.Step()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Transactions) != 1 {
		t.Fatalf("expected the first session tick to trade, got %d", len(res.Transactions))
	}
	if s := index.State(); s.Reference != 10_000 || s.Status != admission.IndexNormal {
		t.Fatalf("expected anchor at 10000, got %+v", s)
	}

	// The index is now 8600, a 14% drop from the anchor.
	submit(t, ex, market.DefaultStockMarketID, "buyer", domain.SideBuy, stock, 7400, 1)
	submit(t, ex, market.DefaultStockMarketID, "seller", domain.SideSell, stock, 7400, 1)
	res, err = ex.Step()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Transactions) != 0 {
		t.Fatalf("expected no stock trades while halted, got %+v", res.Transactions)
	}
	if s := index.State(); s.Status != admission.IndexHalted || s.Tier != 1 {
		t.Fatalf("expected tier-1 halt, got %+v", s)
	}
}
