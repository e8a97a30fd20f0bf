package service

import (
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/efreitasn/tickexchange/internal/domain"
	"github.com/efreitasn/tickexchange/internal/events"
	"github.com/efreitasn/tickexchange/internal/store"
)

// UpsertWebhookRequest represents the input for webhook registration.
type UpsertWebhookRequest struct {
	SubscriberID string
	URL          string
	Events       []string
}

// WebhookService handles webhook subscription CRUD. Delivery is done by
// events.WebhookSink reading the same store.
type WebhookService struct {
	store    *store.WebhookStore
	accounts *store.AccountStore
}

// NewWebhookService creates a new WebhookService with the given dependencies.
func NewWebhookService(webhookStore *store.WebhookStore, accounts *store.AccountStore) *WebhookService {
	return &WebhookService{
		store:    webhookStore,
		accounts: accounts,
	}
}

func knownEventList() string {
	kinds := events.Kinds()
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	return strings.Join(names, ", ")
}

// Upsert validates the request and creates or updates webhook subscriptions.
// Returns the resulting webhooks, whether any new subscriptions were created, and any error.
func (s *WebhookService) Upsert(req UpsertWebhookRequest) ([]*domain.Webhook, bool, error) {
	if !s.accounts.Exists(req.SubscriberID) {
		return nil, false, domain.ErrAccountNotFound
	}

	// Validate URL.
	if req.URL == "" {
		return nil, false, &domain.ValidationError{Message: "url is required"}
	}
	if len(req.URL) > 2048 {
		return nil, false, &domain.ValidationError{Message: "url must be at most 2048 characters"}
	}
	parsed, err := url.ParseRequestURI(req.URL)
	if err != nil || !parsed.IsAbs() {
		return nil, false, &domain.ValidationError{Message: "url must be a valid absolute URL"}
	}
	if parsed.Scheme != "https" {
		return nil, false, &domain.ValidationError{Message: "url must use https scheme"}
	}

	if len(req.Events) == 0 {
		return nil, false, &domain.ValidationError{Message: "events must be a non-empty array"}
	}

	// Deduplicate events while preserving order and validating.
	seen := make(map[string]bool, len(req.Events))
	deduped := make([]string, 0, len(req.Events))
	for _, event := range req.Events {
		if _, ok := events.ParseKind(event); !ok {
			return nil, false, &domain.ValidationError{
				Message: "Unknown event type: " + event + ". Must be one of: " + knownEventList(),
			}
		}
		if !seen[event] {
			seen[event] = true
			deduped = append(deduped, event)
		}
	}

	now := time.Now().UTC().Truncate(time.Second)
	anyCreated := false
	webhooks := make([]*domain.Webhook, 0, len(deduped))

	for _, event := range deduped {
		w := &domain.Webhook{
			WebhookID:    uuid.New().String(),
			SubscriberID: req.SubscriberID,
			Event:        event,
			URL:          req.URL,
			CreatedAt:    now,
			UpdatedAt:    now,
		}

		if s.store.Upsert(w) {
			anyCreated = true
			webhooks = append(webhooks, w)
			continue
		}
		if existing := s.store.GetBySubscriberEvent(req.SubscriberID, event); existing != nil {
			webhooks = append(webhooks, existing)
		}
	}

	return webhooks, anyCreated, nil
}

// List validates the subscriber exists and returns all its subscriptions.
func (s *WebhookService) List(subscriberID string) ([]*domain.Webhook, error) {
	if !s.accounts.Exists(subscriberID) {
		return nil, domain.ErrAccountNotFound
	}
	return s.store.ListBySubscriber(subscriberID), nil
}

// Delete removes a webhook subscription by ID.
func (s *WebhookService) Delete(webhookID string) error {
	return s.store.Delete(webhookID)
}
