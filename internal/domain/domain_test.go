package domain

import (
	"errors"
	"testing"
)

func TestClearingPrice(t *testing.T) {
	tests := []struct {
		name     string
		kind     MarketKind
		bid, ask int64
		want     int64
	}{
		{"goods midpoint", KindGoods, 10000, 9900, 9950},
		{"goods midpoint floors", KindGoods, 101, 100, 100},
		{"stock midpoint", KindStock, 2001, 1000, 1500},
		{"labor pays the bid", KindLabor, 2000, 1000, 2000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClearingPrice(tt.kind, tt.bid, tt.ask); got != tt.want {
				t.Errorf("ClearingPrice(%s, %d, %d) = %d, want %d", tt.kind, tt.bid, tt.ask, got, tt.want)
			}
		})
	}
}

func TestTotalFor_TruncatesTowardZero(t *testing.T) {
	tests := []struct {
		price int64
		qty   float64
		want  int64
	}{
		{9950, 1.0, 9950},
		{100, 0.005, 0},
		{333, 0.5, 166},
		{1, 0.99, 0},
		{250, 4, 1000},
	}
	for _, tt := range tests {
		if got := TotalFor(tt.price, tt.qty); got != tt.want {
			t.Errorf("TotalFor(%d, %v) = %d, want %d", tt.price, tt.qty, got, tt.want)
		}
	}
}

func TestTransaction_UnitPrice(t *testing.T) {
	tx := Transaction{TotalPennies: 9950, Quantity: 1}
	if got := tx.UnitPrice(); got != 99.5 {
		t.Errorf("UnitPrice() = %v, want 99.5", got)
	}
	if got := (Transaction{TotalPennies: 10}).UnitPrice(); got != 0 {
		t.Errorf("UnitPrice() with zero quantity = %v, want 0", got)
	}
}

func TestNewMatchTransaction_LaborQualityIsSkill(t *testing.T) {
	buy := NewOrder("firm", SideBuy, "labor", 1, 2000, "labor")
	sell := NewOrder("worker", SideSell, "labor", 1, 1000, "labor")
	sell.Brand = &BrandInfo{Skill: 2.0}

	tx := NewMatchTransaction("labor", buy, sell, 2000, 1, KindLabor, 3)
	if tx.Quality != 2.0 {
		t.Errorf("Quality = %v, want 2.0", tx.Quality)
	}
	if tx.Type != TransactionLabor {
		t.Errorf("Type = %s, want labor", tx.Type)
	}
	if tx.TotalPennies != 2000 || tx.Tick != 3 {
		t.Errorf("unexpected transaction: %+v", tx)
	}
}

func TestOrder_WithQuantityDoesNotMutate(t *testing.T) {
	o := NewOrder("a", SideBuy, "food", 10, 100, "goods")
	r := o.WithQuantity(4)
	if o.Quantity != 10 || r.Quantity != 4 || r.OrderID != o.OrderID {
		t.Errorf("WithQuantity mutated or lost identity: orig=%+v replaced=%+v", o, r)
	}
}

func TestOrder_Validate(t *testing.T) {
	good := NewOrder("a", SideBuy, "food", 1, 100, "goods")
	if err := good.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bad := []Order{
		good.WithQuantity(-1),
		{AgentID: "", Side: SideBuy, ItemID: "food"},
		{AgentID: "a", Side: "HOLD", ItemID: "food"},
		{AgentID: "a", Side: SideSell, ItemID: ""},
		{AgentID: "a", Side: SideSell, ItemID: "food", PricePennies: -5},
	}
	for i, o := range bad {
		var ve *ValidationError
		if err := o.Validate(); !errors.As(err, &ve) {
			t.Errorf("case %d: expected ValidationError, got %v", i, err)
		}
	}
}

func TestParseStockItemID(t *testing.T) {
	if id, err := ParseStockItemID(StockItemID(42)); err != nil || id != 42 {
		t.Fatalf("round trip = %d, %v", id, err)
	}
	for _, in := range []string{"stock_", "stock_abc", "unit_3", "42", "stock_-1", "stock_05", "stock_+5", "stock_-0"} {
		_, err := ParseStockItemID(in)
		var pe *ParseError
		if !errors.As(err, &pe) {
			t.Errorf("ParseStockItemID(%q) error = %v, want *ParseError", in, err)
		}
	}
}

func TestParseUnitItemID(t *testing.T) {
	if id, err := ParseUnitItemID("unit_7"); err != nil || id != 7 {
		t.Fatalf("ParseUnitItemID = %d, %v", id, err)
	}
	if _, err := ParseUnitItemID("stock_7"); err == nil {
		t.Error("expected parse error for wrong prefix")
	}
	if _, err := ParseUnitItemID("unit_007"); err == nil {
		t.Error("expected parse error for zero-padded id")
	}
}

func TestPriorityClass(t *testing.T) {
	if !PriorityTax.IsMandatory() || !PriorityWage.IsMandatory() {
		t.Error("TAX and WAGE must be mandatory")
	}
	if PriorityMarketing.IsMandatory() || PriorityDebt.IsMandatory() {
		t.Error("only TAX and WAGE are mandatory")
	}
	if p, ok := ParsePriorityClass("MARKETING"); !ok || p != PriorityMarketing {
		t.Errorf("ParsePriorityClass(MARKETING) = %v, %v", p, ok)
	}
	if _, ok := ParsePriorityClass("BRIBES"); ok {
		t.Error("unknown class should not parse")
	}
}

func TestItemRegistry_ListSorted(t *testing.T) {
	r := NewItemRegistry()
	r.Register("water")
	r.Register("food")
	r.Register("food")
	got := r.List()
	if len(got) != 2 || got[0] != "food" || got[1] != "water" {
		t.Errorf("List() = %v", got)
	}
	if !r.Exists("food") || r.Exists("labor") {
		t.Error("Exists mismatch")
	}
}
