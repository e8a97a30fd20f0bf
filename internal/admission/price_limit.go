package admission

import (
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/efreitasn/tickexchange/internal/domain"
)

// Mode selects how price limits are derived.
type Mode string

const (
	ModeStatic  Mode = "static"
	ModeDynamic Mode = "dynamic"
)

// ParseMode accepts static or dynamic in any case.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(s)) {
	case ModeStatic:
		return ModeStatic, nil
	case ModeDynamic:
		return ModeDynamic, nil
	}
	return "", fmt.Errorf("unknown price limit mode %q", s)
}

// PriceLimitConfig configures a PriceLimitEnforcer. A zero CeilingPennies
// means no ceiling in static mode.
type PriceLimitConfig struct {
	Enabled        bool
	Mode           Mode
	FloorPennies   int64
	CeilingPennies int64
	BaseLimit      float64
}

// PriceLimitEnforcer checks order prices against static bounds or a band
// around a per-item reference price. Validation never mutates state.
type PriceLimitEnforcer struct {
	cfg  PriceLimitConfig
	base decimal.Decimal

	mu   sync.RWMutex
	refs map[string]int64
}

// NewPriceLimitEnforcer creates an enforcer with no reference prices.
func NewPriceLimitEnforcer(cfg PriceLimitConfig) *PriceLimitEnforcer {
	return &PriceLimitEnforcer{
		cfg:  cfg,
		base: decimal.NewFromFloat(cfg.BaseLimit),
		refs: make(map[string]int64),
	}
}

// Config returns the enforcer configuration.
func (e *PriceLimitEnforcer) Config() PriceLimitConfig {
	return e.cfg
}

// Validate returns a *RejectionError when the order price is outside the
// admissible range, nil otherwise.
func (e *PriceLimitEnforcer) Validate(o domain.Order) error {
	if !e.cfg.Enabled {
		return nil
	}
	price := o.PricePennies

	if e.cfg.Mode == ModeStatic {
		if price < e.cfg.FloorPennies {
			return reject(ReasonBelowFloor, "price %d below static floor %d", price, e.cfg.FloorPennies)
		}
		if e.cfg.CeilingPennies > 0 && price > e.cfg.CeilingPennies {
			return reject(ReasonAboveCeiling, "price %d exceeds static ceiling %d", price, e.cfg.CeilingPennies)
		}
		return nil
	}

	ref, _ := e.ReferencePrice(o.ItemID)
	if ref <= 0 {
		// No reference yet: price discovery.
		return nil
	}
	lo, hi := e.band(ref)
	p := decimal.NewFromInt(price)
	if p.LessThan(lo) || p.GreaterThan(hi) {
		return reject(ReasonOutOfBand, "price %d outside [%s, %s] around reference %d", price, lo.String(), hi.String(), ref)
	}
	return nil
}

func (e *PriceLimitEnforcer) band(ref int64) (decimal.Decimal, decimal.Decimal) {
	r := decimal.NewFromInt(ref)
	one := decimal.NewFromInt(1)
	return r.Mul(one.Sub(e.base)), r.Mul(one.Add(e.base))
}

// SetReferencePrice sets the reference an item's dynamic band is built on.
func (e *PriceLimitEnforcer) SetReferencePrice(itemID string, pennies int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.refs[itemID] = pennies
}

// SetReferencePriceFloat sets a reference from a float that must hold an
// integral number of pennies. Any other value panics.
func (e *PriceLimitEnforcer) SetReferencePriceFloat(itemID string, pennies float64) {
	e.SetReferencePrice(itemID, domain.MustPennies(pennies))
}

// ReferencePrice returns the reference of an item, if one was set.
func (e *PriceLimitEnforcer) ReferencePrice(itemID string) (int64, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ref, ok := e.refs[itemID]
	return ref, ok
}

// Bounds returns the inclusive admissible range of an item in whole pennies.
// ok is false when every price is admissible.
func (e *PriceLimitEnforcer) Bounds(itemID string) (lo, hi int64, ok bool) {
	if !e.cfg.Enabled {
		return 0, 0, false
	}
	if e.cfg.Mode == ModeStatic {
		return e.cfg.FloorPennies, e.cfg.CeilingPennies, true
	}
	ref, _ := e.ReferencePrice(itemID)
	if ref <= 0 {
		return 0, 0, false
	}
	l, h := e.band(ref)
	return l.Ceil().IntPart(), h.Floor().IntPart(), true
}
