package events

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/efreitasn/tickexchange/internal/domain"
	"github.com/efreitasn/tickexchange/internal/store"
)

func TestRecorder_RecordsInOrder(t *testing.T) {
	r := NewRecorder()
	r.Emit(Event{Kind: OrderRejected, Reason: "price_out_of_band"})
	r.Emit(Event{Kind: MarketHalted, Tick: 3})
	r.Emit(Event{Kind: OrderRejected, Reason: "market_halted"})

	if got := len(r.Events()); got != 3 {
		t.Fatalf("expected 3 events, got %d", got)
	}
	rejected := r.OfKind(OrderRejected)
	if len(rejected) != 2 || rejected[1].Reason != "market_halted" {
		t.Fatalf("unexpected rejections %+v", rejected)
	}
	r.Reset()
	if len(r.Events()) != 0 {
		t.Fatal("expected no events after reset")
	}
}

func TestMulti_FansOut(t *testing.T) {
	a, b := NewRecorder(), NewRecorder()
	Multi{a, nil, b}.Emit(Event{Kind: SagaCompleted})
	if len(a.Events()) != 1 || len(b.Events()) != 1 {
		t.Fatal("expected every sink to receive the event")
	}
}

func TestOrDiscard(t *testing.T) {
	if OrDiscard(nil) != Discard {
		t.Fatal("expected Discard for nil sink")
	}
	r := NewRecorder()
	if OrDiscard(r) != Sink(r) {
		t.Fatal("expected sink returned unchanged")
	}
}

func TestParseKind(t *testing.T) {
	if k, ok := ParseKind("market.halted"); !ok || k != MarketHalted {
		t.Fatalf("expected market.halted, got %q %v", k, ok)
	}
	if _, ok := ParseKind("trade.cancelled"); ok {
		t.Fatal("expected unknown kind rejected")
	}
	if len(Kinds()) != 10 {
		t.Fatalf("expected 10 kinds, got %d", len(Kinds()))
	}
}

func TestSeverity(t *testing.T) {
	tests := []struct {
		kind Kind
		want slog.Level
	}{
		{MarketHalted, slog.LevelWarn},
		{BudgetInsolvent, slog.LevelWarn},
		{MarketResumed, slog.LevelInfo},
		{SagaCompleted, slog.LevelInfo},
		{TradeExecuted, slog.LevelDebug},
		{OrderExpired, slog.LevelDebug},
	}
	for _, tc := range tests {
		if got := Severity(tc.kind); got != tc.want {
			t.Errorf("Severity(%s) = %v, want %v", tc.kind, got, tc.want)
		}
	}
}

func TestLogSink_WritesStructuredRecord(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	NewLogSink(logger).Emit(Event{
		Kind:     OrderRejected,
		Tick:     9,
		MarketID: "goods",
		AgentID:  "h1",
		Reason:   "price_above_ceiling",
		Attrs:    map[string]any{"price_pennies": 1200},
	})

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("expected JSON record: %v", err)
	}
	if rec["msg"] != "order.rejected" || rec["level"] != "WARN" {
		t.Errorf("unexpected record header %v", rec)
	}
	if rec["reason"] != "price_above_ceiling" || rec["market_id"] != "goods" {
		t.Errorf("unexpected attrs %v", rec)
	}
	if rec["price_pennies"] != float64(1200) {
		t.Errorf("expected custom attr, got %v", rec["price_pennies"])
	}
}

type captured struct {
	headers http.Header
	body    []byte
}

func TestWebhookSink_DeliversToSubscribers(t *testing.T) {
	var mu sync.Mutex
	var got []captured
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		got = append(got, captured{headers: r.Header.Clone(), body: body})
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ws := store.NewWebhookStore()
	ws.Upsert(&domain.Webhook{WebhookID: "wh-1", SubscriberID: "regulator", Event: "market.halted", URL: srv.URL})
	ws.Upsert(&domain.Webhook{WebhookID: "wh-2", SubscriberID: "regulator", Event: "saga.failed", URL: srv.URL})

	sink := NewWebhookSink(ws, time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
	sink.Emit(Event{Kind: MarketHalted, Tick: 12, MarketID: "stock_market", Attrs: map[string]any{"tier": 1}})
	sink.Emit(Event{Kind: TradeExecuted, Tick: 12})
	sink.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("expected exactly 1 delivery, got %d", len(got))
	}
	h := got[0].headers
	if h.Get("X-Webhook-Id") != "wh-1" || h.Get("X-Event-Type") != "market.halted" {
		t.Errorf("unexpected headers %v", h)
	}
	if h.Get("X-Delivery-Id") == "" {
		t.Error("expected delivery id header")
	}
	if !strings.HasPrefix(h.Get("Content-Type"), "application/json") {
		t.Errorf("unexpected content type %q", h.Get("Content-Type"))
	}
	var payload struct {
		Event string `json:"event"`
		Data  struct {
			Tick     int64          `json:"tick"`
			MarketID string         `json:"market_id"`
			Attrs    map[string]any `json:"attrs"`
		} `json:"data"`
	}
	if err := json.Unmarshal(got[0].body, &payload); err != nil {
		t.Fatalf("invalid payload: %v", err)
	}
	if payload.Event != "market.halted" || payload.Data.Tick != 12 || payload.Data.MarketID != "stock_market" {
		t.Errorf("unexpected payload %+v", payload)
	}
}

func TestWebhookSink_UnreachableSubscriberIsDropped(t *testing.T) {
	ws := store.NewWebhookStore()
	ws.Upsert(&domain.Webhook{WebhookID: "wh-1", SubscriberID: "x", Event: "saga.failed", URL: "http://127.0.0.1:1/hook"})
	sink := NewWebhookSink(ws, 200*time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)))
	sink.Emit(Event{Kind: SagaFailed})
	sink.Wait()
}
