package admission

import (
	"math"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/efreitasn/tickexchange/internal/domain"
	"github.com/efreitasn/tickexchange/internal/events"
)

// CircuitBreakerConfig configures a per-item CircuitBreaker.
type CircuitBreakerConfig struct {
	Window           int     // clearing prices kept per item
	MinHistory       int     // prices required before the band applies
	BaseLimit        float64 // band half-width as a fraction of the mean
	VolatilityWeight float64 // widens the band by the coefficient of variation
	HaltTicks        int64
}

// CircuitBreakerState is a snapshot of one item's breaker.
type CircuitBreakerState struct {
	History   []int64
	Halted    bool
	Tier      int
	HaltUntil int64
}

type itemBreaker struct {
	history   []int64
	halted    bool
	tier      int
	haltUntil int64
}

// CircuitBreaker tracks recent clearing prices per item and halts an item
// whose price leaves the volatility-adjusted band around the rolling mean.
type CircuitBreaker struct {
	cfg      CircuitBreakerConfig
	marketID string
	sink     events.Sink

	mu    sync.Mutex
	items map[string]*itemBreaker
}

// NewCircuitBreaker creates a breaker for one market.
func NewCircuitBreaker(marketID string, cfg CircuitBreakerConfig, sink events.Sink) *CircuitBreaker {
	if cfg.Window < 1 {
		cfg.Window = 1
	}
	return &CircuitBreaker{
		cfg:      cfg,
		marketID: marketID,
		sink:     events.OrDiscard(sink),
		items:    make(map[string]*itemBreaker),
	}
}

func (cb *CircuitBreaker) item(itemID string) *itemBreaker {
	ib, ok := cb.items[itemID]
	if !ok {
		ib = &itemBreaker{}
		cb.items[itemID] = ib
	}
	return ib
}

// resume clears an expired halt. Callers hold cb.mu.
func (ib *itemBreaker) resume(tick int64) {
	if ib.halted && tick >= ib.haltUntil {
		ib.halted = false
	}
}

// Halted reports whether an item is halted at tick.
func (cb *CircuitBreaker) Halted(itemID string, tick int64) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	ib, ok := cb.items[itemID]
	if !ok {
		return false
	}
	ib.resume(tick)
	return ib.halted
}

// Check rejects orders for halted items. The band is not applied to single
// orders: an item only stops trading once a clearing price leaves it.
func (cb *CircuitBreaker) Check(o domain.Order, tick int64) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	ib, ok := cb.items[o.ItemID]
	if !ok {
		return nil
	}
	ib.resume(tick)
	if ib.halted {
		return reject(ReasonItemHalted, "%s halted until tick %d", o.ItemID, ib.haltUntil)
	}
	return nil
}

// RecordTrade appends a clearing price to the item history and halts the
// item when the price falls outside the band built from prior history.
// It reports whether a halt was triggered.
func (cb *CircuitBreaker) RecordTrade(itemID string, pricePennies int64, tick int64) bool {
	cb.mu.Lock()
	ib := cb.item(itemID)
	ib.resume(tick)

	triggered := false
	if lo, hi, ok := cb.bandLocked(ib); ok && !ib.halted {
		p := decimal.NewFromInt(pricePennies)
		if p.LessThan(lo) || p.GreaterThan(hi) {
			ib.halted = true
			ib.tier++
			ib.haltUntil = tick + cb.cfg.HaltTicks
			triggered = true
		}
	}

	ib.history = append(ib.history, pricePennies)
	if over := len(ib.history) - cb.cfg.Window; over > 0 {
		ib.history = append(ib.history[:0], ib.history[over:]...)
	}
	tier, until := ib.tier, ib.haltUntil
	cb.mu.Unlock()

	if triggered {
		cb.sink.Emit(events.Event{
			Kind:     events.ItemHalted,
			Tick:     tick,
			MarketID: cb.marketID,
			ItemID:   itemID,
			Reason:   string(ReasonOutOfBand),
			Attrs: map[string]any{
				"price_pennies": pricePennies,
				"halt_until":    until,
				"tier":          tier,
			},
		})
	}
	return triggered
}

// Band returns the admissible range of an item, if enough history exists.
func (cb *CircuitBreaker) Band(itemID string) (lo, hi decimal.Decimal, ok bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	ib, exists := cb.items[itemID]
	if !exists {
		return decimal.Zero, decimal.Zero, false
	}
	return cb.bandLocked(ib)
}

// bandLocked computes mean × (1 ± base × (1 + weight × cv)).
func (cb *CircuitBreaker) bandLocked(ib *itemBreaker) (decimal.Decimal, decimal.Decimal, bool) {
	n := len(ib.history)
	if n == 0 || n < cb.cfg.MinHistory {
		return decimal.Zero, decimal.Zero, false
	}
	sum := decimal.Zero
	for _, p := range ib.history {
		sum = sum.Add(decimal.NewFromInt(p))
	}
	mean := sum.Div(decimal.NewFromInt(int64(n)))
	if !mean.IsPositive() {
		return decimal.Zero, decimal.Zero, false
	}

	mf := mean.InexactFloat64()
	var variance float64
	for _, p := range ib.history {
		d := float64(p) - mf
		variance += d * d
	}
	cv := math.Sqrt(variance/float64(n)) / mf

	one := decimal.NewFromInt(1)
	width := decimal.NewFromFloat(cb.cfg.BaseLimit).
		Mul(one.Add(decimal.NewFromFloat(cb.cfg.VolatilityWeight).Mul(decimal.NewFromFloat(cv))))
	return mean.Mul(one.Sub(width)), mean.Mul(one.Add(width)), true
}

// State returns a snapshot of an item's breaker.
func (cb *CircuitBreaker) State(itemID string) CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	ib, ok := cb.items[itemID]
	if !ok {
		return CircuitBreakerState{}
	}
	history := make([]int64, len(ib.history))
	copy(history, ib.history)
	return CircuitBreakerState{
		History:   history,
		Halted:    ib.halted,
		Tier:      ib.tier,
		HaltUntil: ib.haltUntil,
	}
}
