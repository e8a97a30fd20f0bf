package domain

import (
	"sort"
	"sync"
)

// ItemRegistry tracks the item ids a market has seen in a thread-safe
// manner. Items are implicitly registered when an order for them is
// accepted.
type ItemRegistry struct {
	mu    sync.RWMutex
	items map[string]bool
}

// NewItemRegistry creates an empty ItemRegistry.
func NewItemRegistry() *ItemRegistry {
	return &ItemRegistry{
		items: make(map[string]bool),
	}
}

// Register adds an item to the registry. Safe for concurrent use.
func (r *ItemRegistry) Register(itemID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[itemID] = true
}

// Exists returns true if the item has been registered. Safe for concurrent use.
func (r *ItemRegistry) Exists(itemID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.items[itemID]
}

// List returns the registered items in sorted order.
func (r *ItemRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.items))
	for id := range r.items {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
