package store

import (
	"sort"
	"sync"

	"github.com/efreitasn/tickexchange/internal/domain"
)

// WebhookStore is a thread-safe in-memory store for webhooks.
// Primary index: webhook_id → webhook.
// Secondary index: subscriber_id → event → webhook.
type WebhookStore struct {
	mu           sync.RWMutex
	webhooks     map[string]*domain.Webhook            // webhook_id → webhook
	bySubscriber map[string]map[string]*domain.Webhook // subscriber_id → event → webhook
}

// NewWebhookStore creates an empty WebhookStore.
func NewWebhookStore() *WebhookStore {
	return &WebhookStore{
		webhooks:     make(map[string]*domain.Webhook),
		bySubscriber: make(map[string]map[string]*domain.Webhook),
	}
}

// Upsert inserts or updates a webhook subscription keyed by (subscriber_id, event).
// If a subscription already exists for that pair, the URL and UpdatedAt are
// updated (the webhook_id remains stable). Returns true if a new subscription
// was created.
func (s *WebhookStore) Upsert(w *domain.Webhook) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if events, ok := s.bySubscriber[w.SubscriberID]; ok {
		if existing, ok := events[w.Event]; ok {
			if existing.URL != w.URL {
				existing.URL = w.URL
				existing.UpdatedAt = w.UpdatedAt
			}
			return false
		}
	}

	s.webhooks[w.WebhookID] = w
	if s.bySubscriber[w.SubscriberID] == nil {
		s.bySubscriber[w.SubscriberID] = make(map[string]*domain.Webhook)
	}
	s.bySubscriber[w.SubscriberID][w.Event] = w
	return true
}

// Get retrieves a webhook by ID. It returns
// domain.ErrWebhookNotFound if the webhook does not exist.
func (s *WebhookStore) Get(id string) (*domain.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.webhooks[id]
	if !ok {
		return nil, domain.ErrWebhookNotFound
	}
	return w, nil
}

// ListBySubscriber returns all webhooks of a subscriber ordered by event.
// Returns an empty slice if the subscriber has no subscriptions.
func (s *WebhookStore) ListBySubscriber(subscriberID string) []*domain.Webhook {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.bySubscriber[subscriberID]
	result := make([]*domain.Webhook, 0, len(events))
	for _, w := range events {
		result = append(result, w)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Event < result[j].Event })
	return result
}

// ListByEvent returns every subscription to an event ordered by subscriber.
func (s *WebhookStore) ListByEvent(event string) []*domain.Webhook {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Webhook
	for _, events := range s.bySubscriber {
		if w, ok := events[event]; ok {
			result = append(result, w)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].SubscriberID < result[j].SubscriberID })
	return result
}

// Delete removes a webhook by ID. It returns
// domain.ErrWebhookNotFound if the webhook does not exist.
// Both the primary and secondary indexes are cleaned up.
func (s *WebhookStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.webhooks[id]
	if !ok {
		return domain.ErrWebhookNotFound
	}
	delete(s.webhooks, id)

	if events, ok := s.bySubscriber[w.SubscriberID]; ok {
		delete(events, w.Event)
		if len(events) == 0 {
			delete(s.bySubscriber, w.SubscriberID)
		}
	}
	return nil
}

// GetBySubscriberEvent returns the webhook for a subscriber+event pair,
// or nil if no subscription exists.
func (s *WebhookStore) GetBySubscriberEvent(subscriberID, event string) *domain.Webhook {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.bySubscriber[subscriberID]
	if events == nil {
		return nil
	}
	return events[event]
}
