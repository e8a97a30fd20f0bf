package events

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/efreitasn/tickexchange/internal/domain"
	"github.com/efreitasn/tickexchange/internal/store"
)

// WebhookSink posts every event to the URLs subscribed to its kind.
// Delivery is asynchronous and fire-and-forget.
type WebhookSink struct {
	store  *store.WebhookStore
	client *http.Client
	logger *slog.Logger
	now    func() time.Time
	wg     sync.WaitGroup
}

// NewWebhookSink creates a WebhookSink reading subscriptions from webhookStore.
func NewWebhookSink(webhookStore *store.WebhookStore, timeout time.Duration, logger *slog.Logger) *WebhookSink {
	return &WebhookSink{
		store: webhookStore,
		client: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
		now:    time.Now,
	}
}

type webhookPayload struct {
	Event     string      `json:"event"`
	Timestamp string      `json:"timestamp"`
	Data      webhookData `json:"data"`
}

type webhookData struct {
	Tick     int64          `json:"tick"`
	MarketID string         `json:"market_id,omitempty"`
	ItemID   string         `json:"item_id,omitempty"`
	AgentID  string         `json:"agent_id,omitempty"`
	Reason   string         `json:"reason,omitempty"`
	Attrs    map[string]any `json:"attrs,omitempty"`
}

// Emit posts ev to every webhook subscribed to its kind. It returns
// before any delivery completes.
func (s *WebhookSink) Emit(ev Event) {
	hooks := s.store.ListByEvent(string(ev.Kind))
	if len(hooks) == 0 {
		return
	}
	payload := webhookPayload{
		Event:     string(ev.Kind),
		Timestamp: s.now().UTC().Truncate(time.Second).Format(time.RFC3339),
		Data: webhookData{
			Tick:     ev.Tick,
			MarketID: ev.MarketID,
			ItemID:   ev.ItemID,
			AgentID:  ev.AgentID,
			Reason:   ev.Reason,
			Attrs:    ev.Attrs,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("webhook payload", slog.String("event", string(ev.Kind)), slog.String("error", err.Error()))
		return
	}
	for _, wh := range hooks {
		s.wg.Add(1)
		go func(wh *domain.Webhook) {
			defer s.wg.Done()
			s.deliver(wh, string(ev.Kind), body)
		}(wh)
	}
}

// Wait blocks until every in-flight delivery has finished.
func (s *WebhookSink) Wait() {
	s.wg.Wait()
}

// deliver sends the payload via HTTP POST with the delivery headers.
// Failures are logged and dropped.
func (s *WebhookSink) deliver(wh *domain.Webhook, eventType string, body []byte) {
	req, err := http.NewRequest(http.MethodPost, wh.URL, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Delivery-Id", uuid.New().String())
	req.Header.Set("X-Webhook-Id", wh.WebhookID)
	req.Header.Set("X-Event-Type", eventType)

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Debug("webhook delivery failed",
			slog.String("webhook_id", wh.WebhookID),
			slog.String("error", err.Error()),
		)
		return
	}
	resp.Body.Close()
}
