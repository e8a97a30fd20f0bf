package admission

import (
	"math"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/efreitasn/tickexchange/internal/events"
)

// IndexStatus is the state of the market-wide breaker.
type IndexStatus string

const (
	IndexNormal IndexStatus = "NORMAL"
	IndexHalted IndexStatus = "HALTED"
)

// Indefinite is the HaltUntil of a tier-3 halt.
const Indefinite int64 = math.MaxInt64

// IndexCircuitBreakerConfig holds the drop thresholds of the three tiers
// and the halt durations of tiers 1 and 2. Tier 3 halts until the next
// session.
type IndexCircuitBreakerConfig struct {
	Tier1      float64
	Tier2      float64
	Tier3      float64
	Tier1Ticks int64
	Tier2Ticks int64
}

// DefaultIndexCircuitBreakerConfig returns 8/15/20% tiers with 20 and 40
// tick halts.
func DefaultIndexCircuitBreakerConfig() IndexCircuitBreakerConfig {
	return IndexCircuitBreakerConfig{
		Tier1:      0.08,
		Tier2:      0.15,
		Tier3:      0.20,
		Tier1Ticks: 20,
		Tier2Ticks: 40,
	}
}

// IndexBreakerState is a snapshot of the index breaker.
type IndexBreakerState struct {
	Status    IndexStatus
	Tier      int
	HaltUntil int64
	Reference float64
}

// IndexCircuitBreaker halts a whole market when its aggregate index drops
// far enough below the session reference. Tiers only escalate within a
// session; tier 3 never resumes on its own.
type IndexCircuitBreaker struct {
	cfg        IndexCircuitBreakerConfig
	marketID   string
	sink       events.Sink
	thresholds [4]decimal.Decimal

	mu        sync.Mutex
	reference float64
	halted    bool
	tier      int
	haltUntil int64
}

// NewIndexCircuitBreaker creates a breaker in NORMAL state with no reference.
func NewIndexCircuitBreaker(marketID string, cfg IndexCircuitBreakerConfig, sink events.Sink) *IndexCircuitBreaker {
	return &IndexCircuitBreaker{
		cfg:      cfg,
		marketID: marketID,
		sink:     events.OrDiscard(sink),
		thresholds: [4]decimal.Decimal{
			1: decimal.NewFromFloat(cfg.Tier1),
			2: decimal.NewFromFloat(cfg.Tier2),
			3: decimal.NewFromFloat(cfg.Tier3),
		},
	}
}

// Anchored reports whether a session reference is set.
func (b *IndexCircuitBreaker) Anchored() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reference > 0
}

// SetReferenceIndex starts a new session: NORMAL, tier 0.
func (b *IndexCircuitBreaker) SetReferenceIndex(v float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reference = v
	b.halted = false
	b.tier = 0
	b.haltUntil = 0
}

// Active reports whether the market is currently halted.
func (b *IndexCircuitBreaker) Active() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.halted
}

// CheckHealth evaluates the current index at tick and returns false while
// the market is halted. A deeper drop escalates the tier even during a halt.
func (b *IndexCircuitBreaker) CheckHealth(current float64, tick int64) bool {
	b.mu.Lock()
	var emitted []events.Event

	healthy := func() bool {
		if b.reference > 0 {
			ref := decimal.NewFromFloat(b.reference)
			drop := ref.Sub(decimal.NewFromFloat(current)).Div(ref)
			tier := 0
			for t := 3; t >= 1; t-- {
				if drop.GreaterThanOrEqual(b.thresholds[t]) {
					tier = t
					break
				}
			}
			if tier > b.tier {
				b.tier = tier
				b.halted = true
				b.haltUntil = b.haltEnd(tier, tick)
				emitted = append(emitted, events.Event{
					Kind:     events.MarketHalted,
					Tick:     tick,
					MarketID: b.marketID,
					Reason:   string(ReasonMarketHalted),
					Attrs: map[string]any{
						"tier":       tier,
						"drop_pct":   drop.InexactFloat64(),
						"halt_until": b.haltUntil,
					},
				})
				return false
			}
		}

		if !b.halted {
			return true
		}
		if b.tier >= 3 || tick < b.haltUntil {
			return false
		}
		b.halted = false
		emitted = append(emitted, events.Event{
			Kind:     events.MarketResumed,
			Tick:     tick,
			MarketID: b.marketID,
			Attrs:    map[string]any{"tier": b.tier},
		})
		return true
	}()
	b.mu.Unlock()

	for _, ev := range emitted {
		b.sink.Emit(ev)
	}
	return healthy
}

func (b *IndexCircuitBreaker) haltEnd(tier int, tick int64) int64 {
	switch tier {
	case 1:
		return tick + b.cfg.Tier1Ticks
	case 2:
		return tick + b.cfg.Tier2Ticks
	default:
		return Indefinite
	}
}

// State returns a snapshot of the breaker.
func (b *IndexCircuitBreaker) State() IndexBreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	status := IndexNormal
	if b.halted {
		status = IndexHalted
	}
	return IndexBreakerState{
		Status:    status,
		Tier:      b.tier,
		HaltUntil: b.haltUntil,
		Reference: b.reference,
	}
}
