package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// TransactionType classifies a transaction for the settlement layer.
type TransactionType string

const (
	TransactionGoods    TransactionType = "goods"
	TransactionLabor    TransactionType = "labor"
	TransactionStock    TransactionType = "stock"
	TransactionHousing  TransactionType = "housing"
	TransactionTransfer TransactionType = "transfer"
	TransactionLoan     TransactionType = "loan"
)

// MarketKind selects the clearing rule a market applies.
type MarketKind string

const (
	KindGoods MarketKind = "goods"
	KindLabor MarketKind = "labor"
	KindStock MarketKind = "stock"
)

// TransactionType maps a market kind to the type of the transactions it emits.
func (k MarketKind) TransactionType() TransactionType {
	switch k {
	case KindLabor:
		return TransactionLabor
	case KindStock:
		return TransactionStock
	default:
		return TransactionGoods
	}
}

// Transaction is an immutable record of a matched trade or a settlement
// transfer. TotalPennies is the single source of truth for value.
type Transaction struct {
	TransactionID string
	BuyerID       string
	SellerID      string
	ItemID        string
	Quantity      float64
	TotalPennies  int64
	MarketID      string
	Type          TransactionType
	Tick          int64
	Quality       float64
	Metadata      map[string]string
}

// UnitPrice derives the per-unit price in major currency units.
func (t Transaction) UnitPrice() float64 {
	if t.Quantity <= 0 {
		return 0
	}
	return float64(t.TotalPennies) / t.Quantity / 100.0
}

// ClearingPrice applies the clearing rule of the given market kind. Labor
// clears at the employer's bid; every other market clears at the integer
// midpoint of the two limits.
func ClearingPrice(kind MarketKind, bidPennies, askPennies int64) int64 {
	if kind == KindLabor {
		return bidPennies
	}
	return (bidPennies + askPennies) / 2
}

// TotalFor computes clearing × quantity truncated toward zero. Sub-penny
// trades settle at 0.
func TotalFor(clearingPennies int64, quantity float64) int64 {
	total := int64(float64(clearingPennies) * quantity)
	if total < 0 {
		panic(fmt.Sprintf("negative transaction total: %d × %v", clearingPennies, quantity))
	}
	return total
}

// NewMatchTransaction builds the transaction for one crossing pair.
func NewMatchTransaction(marketID string, buy, sell Order, clearingPennies int64, quantity float64, kind MarketKind, tick int64) Transaction {
	quality := sell.Quality()
	if kind == KindLabor && sell.Brand != nil && sell.Brand.Skill > 0 {
		quality = sell.Brand.Skill
	}
	return Transaction{
		TransactionID: uuid.New().String(),
		BuyerID:       buy.AgentID,
		SellerID:      sell.AgentID,
		ItemID:        buy.ItemID,
		Quantity:      quantity,
		TotalPennies:  TotalFor(clearingPennies, quantity),
		MarketID:      marketID,
		Type:          kind.TransactionType(),
		Tick:          tick,
		Quality:       quality,
	}
}
