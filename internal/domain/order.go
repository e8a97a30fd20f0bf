package domain

import (
	"fmt"
	"math"

	"github.com/google/uuid"
)

// Side indicates whether an order buys or sells.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// FillEpsilon is the quantity below which an order counts as fully filled.
const FillEpsilon = 1e-9

// IsFilled reports whether a remaining quantity is dust.
func IsFilled(remaining float64) bool {
	return remaining <= FillEpsilon
}

// BrandInfo carries the optional metadata read by the labor utility function
// and copied onto goods transactions as quality.
type BrandInfo struct {
	Skill            float64
	EducationLevel   float64
	PerceivedQuality float64
}

// Order is an immutable instruction placed by an agent for one tick. A
// partial fill never mutates an order; it is replaced with a copy carrying
// the reduced quantity.
type Order struct {
	OrderID       string
	AgentID       string
	Side          Side
	ItemID        string
	Quantity      float64
	PricePennies  int64
	MarketID      string
	TargetAgentID string // empty for general orders
	Brand         *BrandInfo
	Seq           uint64 // submission order, assigned by the market
	PlacedTick    int64
}

// NewOrder builds an order with a fresh id.
func NewOrder(agentID string, side Side, itemID string, quantity float64, pricePennies int64, marketID string) Order {
	return Order{
		OrderID:      uuid.New().String(),
		AgentID:      agentID,
		Side:         side,
		ItemID:       itemID,
		Quantity:     quantity,
		PricePennies: pricePennies,
		MarketID:     marketID,
	}
}

// IsTargeted reports whether the order names a specific counterparty.
func (o Order) IsTargeted() bool {
	return o.TargetAgentID != ""
}

// DisplayPrice derives the unit price in major currency units. It is a
// formatting helper only; PricePennies is authoritative.
func (o Order) DisplayPrice() float64 {
	return PenniesToDollars(o.PricePennies)
}

// WithQuantity returns a copy of the order with the given quantity.
func (o Order) WithQuantity(q float64) Order {
	o.Quantity = q
	return o
}

// Validate checks the structural fields every market requires.
func (o Order) Validate() error {
	if o.AgentID == "" {
		return &ValidationError{Message: "agent_id is required"}
	}
	if o.ItemID == "" {
		return &ValidationError{Message: "item_id is required"}
	}
	if o.Side != SideBuy && o.Side != SideSell {
		return &ValidationError{Message: fmt.Sprintf("unknown side: %s. Must be one of: BUY, SELL", o.Side)}
	}
	if math.IsNaN(o.Quantity) || math.IsInf(o.Quantity, 0) || o.Quantity < 0 {
		return &ValidationError{Message: "quantity must be a finite number >= 0"}
	}
	if o.PricePennies < 0 {
		return &ValidationError{Message: "price_pennies must be >= 0"}
	}
	return nil
}

// Quality returns the perceived quality the seller advertises, 1.0 when the
// order carries no brand metadata.
func (o Order) Quality() float64 {
	if o.Brand == nil || o.Brand.PerceivedQuality == 0 {
		return 1.0
	}
	return o.Brand.PerceivedQuality
}
