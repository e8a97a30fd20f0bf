package engine

import (
	"sort"
	"sync"
)

// ExpiryEntry identifies a resting order and the tick at which it expires.
type ExpiryEntry struct {
	OrderID   string
	ItemID    string
	ExpiresAt int64
}

// TickExpiry tracks resting orders sorted by expiry tick. An order placed at
// tick t with a TTL of n expires once the current tick reaches t+n.
type TickExpiry struct {
	ttl     int64
	mu      sync.Mutex
	entries []ExpiryEntry // sorted by ExpiresAt ASC
}

// NewTickExpiry creates a TickExpiry. ttl <= 0 disables expiry.
func NewTickExpiry(ttl int64) *TickExpiry {
	return &TickExpiry{
		ttl:     ttl,
		entries: make([]ExpiryEntry, 0),
	}
}

// TTL returns the configured lifetime in ticks.
func (e *TickExpiry) TTL() int64 {
	return e.ttl
}

// Add tracks an order placed at the given tick.
func (e *TickExpiry) Add(orderID, itemID string, placedTick int64) {
	if e.ttl <= 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	entry := ExpiryEntry{OrderID: orderID, ItemID: itemID, ExpiresAt: placedTick + e.ttl}
	// Binary search keeps insertion order among equal expiry ticks.
	idx := sort.Search(len(e.entries), func(i int) bool {
		return e.entries[i].ExpiresAt > entry.ExpiresAt
	})
	e.entries = append(e.entries, ExpiryEntry{})
	copy(e.entries[idx+1:], e.entries[idx:])
	e.entries[idx] = entry
}

// Remove stops tracking an order.
func (e *TickExpiry) Remove(orderID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, entry := range e.entries {
		if entry.OrderID == orderID {
			e.entries = append(e.entries[:i], e.entries[i+1:]...)
			return
		}
	}
}

// Expire pops every entry due at or before tick, in expiry order.
func (e *TickExpiry) Expire(tick int64) []ExpiryEntry {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := 0
	for cutoff < len(e.entries) && e.entries[cutoff].ExpiresAt <= tick {
		cutoff++
	}
	if cutoff == 0 {
		return nil
	}
	due := make([]ExpiryEntry, cutoff)
	copy(due, e.entries[:cutoff])
	e.entries = e.entries[cutoff:]
	return due
}

// Reset drops every tracked entry.
func (e *TickExpiry) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.entries = e.entries[:0]
}

// Len returns the number of orders currently tracked.
func (e *TickExpiry) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.entries)
}
