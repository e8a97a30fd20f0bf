// Package events carries structured notifications about admission
// rejections, halts, expiries, saga outcomes and trades out of the core.
package events

import (
	"context"
	"log/slog"
	"sort"
	"sync"
)

// Kind names an event type.
type Kind string

const (
	OrderRejected   Kind = "order.rejected"
	OrderExpired    Kind = "order.expired"
	OrdersCancelled Kind = "orders.cancelled"
	MarketHalted    Kind = "market.halted"
	MarketResumed   Kind = "market.resumed"
	ItemHalted      Kind = "item.halted"
	SagaCompleted   Kind = "saga.completed"
	SagaFailed      Kind = "saga.failed"
	BudgetInsolvent Kind = "budget.insolvent"
	TradeExecuted   Kind = "trade.executed"
)

var allKinds = []Kind{
	OrderRejected, OrderExpired, OrdersCancelled, MarketHalted, MarketResumed,
	ItemHalted, SagaCompleted, SagaFailed, BudgetInsolvent, TradeExecuted,
}

// Kinds returns every known event kind.
func Kinds() []Kind {
	out := make([]Kind, len(allKinds))
	copy(out, allKinds)
	return out
}

// ParseKind reports whether s names a known event kind.
func ParseKind(s string) (Kind, bool) {
	for _, k := range allKinds {
		if string(k) == s {
			return k, true
		}
	}
	return "", false
}

// Event is one structured notification.
type Event struct {
	Kind     Kind
	Tick     int64
	MarketID string
	ItemID   string
	AgentID  string
	Reason   string
	Attrs    map[string]any
}

// Sink receives events. Emit must not block on I/O.
type Sink interface {
	Emit(Event)
}

type discard struct{}

func (discard) Emit(Event) {}

// Discard drops every event.
var Discard Sink = discard{}

// OrDiscard returns s, or Discard when s is nil.
func OrDiscard(s Sink) Sink {
	if s == nil {
		return Discard
	}
	return s
}

// LogSink renders events through slog.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink writing to logger.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Severity is the log level events of kind k are rendered at.
func Severity(k Kind) slog.Level {
	switch k {
	case OrderRejected, MarketHalted, ItemHalted, SagaFailed, BudgetInsolvent:
		return slog.LevelWarn
	case TradeExecuted, OrderExpired:
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// Emit logs ev at its kind's severity with its fields as attributes.
func (s *LogSink) Emit(ev Event) {
	level := Severity(ev.Kind)

	attrs := []slog.Attr{slog.Int64("tick", ev.Tick)}
	if ev.MarketID != "" {
		attrs = append(attrs, slog.String("market_id", ev.MarketID))
	}
	if ev.ItemID != "" {
		attrs = append(attrs, slog.String("item_id", ev.ItemID))
	}
	if ev.AgentID != "" {
		attrs = append(attrs, slog.String("agent_id", ev.AgentID))
	}
	if ev.Reason != "" {
		attrs = append(attrs, slog.String("reason", ev.Reason))
	}
	keys := make([]string, 0, len(ev.Attrs))
	for k := range ev.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, slog.Any(k, ev.Attrs[k]))
	}
	s.logger.LogAttrs(context.Background(), level, string(ev.Kind), attrs...)
}

// Recorder keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Emit(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfKind returns the recorded events of one kind.
func (r *Recorder) OfKind(kind Kind) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

// Reset forgets every recorded event.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// Multi fans every event out to each sink in order.
type Multi []Sink

func (m Multi) Emit(ev Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ev)
		}
	}
}
