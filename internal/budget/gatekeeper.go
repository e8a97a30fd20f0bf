// Package budget allocates an agent's liquid cash across competing
// obligations by priority.
package budget

import (
	"sort"

	"github.com/efreitasn/tickexchange/internal/domain"
	"github.com/efreitasn/tickexchange/internal/events"
)

// Gatekeeper approves obligations in priority order while cash lasts.
type Gatekeeper struct {
	sink events.Sink
}

// NewGatekeeper creates a Gatekeeper. Insolvencies found by AllocateFor are
// reported to sink.
func NewGatekeeper(sink events.Sink) *Gatekeeper {
	return &Gatekeeper{sink: events.OrDiscard(sink)}
}

// Allocate walks obligations from the highest priority class down, approving
// each one its currency bucket still covers. Obligations of equal class keep
// their input order. Each currency is tracked on its own; nothing converts.
// The allocation is insolvent iff a TAX or WAGE obligation was rejected.
// liquid is not modified.
func (g *Gatekeeper) Allocate(liquid map[string]int64, obligations []domain.Obligation) domain.BudgetAllocation {
	remaining := make(map[string]int64, len(liquid))
	for c, v := range liquid {
		remaining[currencyOrDefault(c)] += v
	}

	ordered := make([]domain.Obligation, len(obligations))
	copy(ordered, obligations)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority < ordered[j].Priority
	})

	out := domain.BudgetAllocation{
		Approved:           []domain.Obligation{},
		Rejected:           []domain.Obligation{},
		RemainingLiquidity: remaining,
	}
	for _, ob := range ordered {
		c := currencyOrDefault(ob.Currency)
		if ob.Amount >= 0 && remaining[c] >= ob.Amount {
			remaining[c] -= ob.Amount
			out.Approved = append(out.Approved, ob)
			continue
		}
		out.Rejected = append(out.Rejected, ob)
		if ob.Priority.IsMandatory() {
			out.Insolvent = true
		}
	}
	return out
}

// AllocateFor runs Allocate for one agent and emits budget.insolvent when a
// mandatory obligation went unpaid.
func (g *Gatekeeper) AllocateFor(agentID string, tick int64, liquid map[string]int64, obligations []domain.Obligation) domain.BudgetAllocation {
	alloc := g.Allocate(liquid, obligations)
	if alloc.Insolvent {
		var unpaid int64
		classes := make([]string, 0)
		for _, ob := range alloc.Rejected {
			if ob.Priority.IsMandatory() {
				unpaid += ob.Amount
				classes = append(classes, ob.Priority.String())
			}
		}
		g.sink.Emit(events.Event{
			Kind:    events.BudgetInsolvent,
			Tick:    tick,
			AgentID: agentID,
			Reason:  "mandatory obligation rejected",
			Attrs: map[string]any{
				"unpaid_pennies": unpaid,
				"classes":        classes,
				"rejected":       len(alloc.Rejected),
			},
		})
	}
	return alloc
}

func currencyOrDefault(c string) string {
	if c == "" {
		return domain.DefaultCurrency
	}
	return c
}
