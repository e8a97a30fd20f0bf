package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/efreitasn/tickexchange/internal/domain"
	"github.com/efreitasn/tickexchange/internal/events"
	"github.com/efreitasn/tickexchange/internal/service"
	"github.com/go-chi/chi/v5"
)

// WebhookHandler handles HTTP requests for webhook endpoints.
type WebhookHandler struct {
	webhookSvc *service.WebhookService
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(webhookSvc *service.WebhookService) *WebhookHandler {
	return &WebhookHandler{webhookSvc: webhookSvc}
}

// upsertWebhookRequest is the JSON request body for POST /webhooks.
type upsertWebhookRequest struct {
	SubscriberID string   `json:"subscriber_id"`
	URL          string   `json:"url"`
	Events       []string `json:"events"`
}

// webhookResponse is a single webhook in the response.
type webhookResponse struct {
	WebhookID    string `json:"webhook_id"`
	SubscriberID string `json:"subscriber_id"`
	Event        string `json:"event"`
	URL          string `json:"url"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

// webhookListResponse is the JSON response for POST and GET /webhooks.
type webhookListResponse struct {
	Webhooks []webhookResponse `json:"webhooks"`
}

type eventKindResponse struct {
	Kind     string `json:"kind"`
	Severity string `json:"severity"`
}

type eventKindListResponse struct {
	Events []eventKindResponse `json:"events"`
}

// parseKinds resolves every requested name to an event kind. It writes
// the error response and reports false on the first unknown name.
func parseKinds(w http.ResponseWriter, names []string) bool {
	for _, name := range names {
		if _, ok := events.ParseKind(name); !ok {
			WriteError(w, http.StatusBadRequest, "unknown_event",
				"unknown event "+name+"; known events: "+strings.Join(kindNames(), ", "))
			return false
		}
	}
	return true
}

func kindNames() []string {
	kinds := events.Kinds()
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	return names
}

// Kinds handles GET /webhooks/events.
func (h *WebhookHandler) Kinds(w http.ResponseWriter, r *http.Request) {
	kinds := events.Kinds()
	resp := eventKindListResponse{Events: make([]eventKindResponse, len(kinds))}
	for i, k := range kinds {
		resp.Events[i] = eventKindResponse{
			Kind:     string(k),
			Severity: strings.ToLower(events.Severity(k).String()),
		}
	}
	WriteJSON(w, http.StatusOK, resp)
}

// Upsert handles POST /webhooks.
func (h *WebhookHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	var req upsertWebhookRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if !parseKinds(w, req.Events) {
		return
	}

	webhooks, anyCreated, err := h.webhookSvc.Upsert(service.UpsertWebhookRequest{
		SubscriberID: req.SubscriberID,
		URL:          req.URL,
		Events:       req.Events,
	})
	if err != nil {
		mapWebhookError(w, err)
		return
	}

	status := http.StatusOK
	if anyCreated {
		status = http.StatusCreated
	}

	WriteJSON(w, status, webhookListResponse{
		Webhooks: buildWebhookResponses(webhooks),
	})
}

// List handles GET /webhooks. An optional event query parameter keeps
// only subscriptions to that kind.
func (h *WebhookHandler) List(w http.ResponseWriter, r *http.Request) {
	subscriberID := r.URL.Query().Get("subscriber_id")
	if subscriberID == "" {
		WriteError(w, http.StatusBadRequest, "validation_error", "subscriber_id query parameter is required")
		return
	}
	event := r.URL.Query().Get("event")
	if event != "" && !parseKinds(w, []string{event}) {
		return
	}

	webhooks, err := h.webhookSvc.List(subscriberID)
	if err != nil {
		mapWebhookError(w, err)
		return
	}
	if event != "" {
		kept := webhooks[:0:0]
		for _, wh := range webhooks {
			if wh.Event == event {
				kept = append(kept, wh)
			}
		}
		webhooks = kept
	}

	WriteJSON(w, http.StatusOK, webhookListResponse{
		Webhooks: buildWebhookResponses(webhooks),
	})
}

// Delete handles DELETE /webhooks/{webhook_id}.
func (h *WebhookHandler) Delete(w http.ResponseWriter, r *http.Request) {
	webhookID := chi.URLParam(r, "webhook_id")

	if err := h.webhookSvc.Delete(webhookID); err != nil {
		mapWebhookError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// buildWebhookResponses converts domain webhooks to response webhooks.
func buildWebhookResponses(webhooks []*domain.Webhook) []webhookResponse {
	result := make([]webhookResponse, len(webhooks))
	for i, wh := range webhooks {
		result[i] = webhookResponse{
			WebhookID:    wh.WebhookID,
			SubscriberID: wh.SubscriberID,
			Event:        wh.Event,
			URL:          wh.URL,
			CreatedAt:    wh.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
			UpdatedAt:    wh.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		}
	}
	return result
}

// mapWebhookError maps domain errors to HTTP responses for webhook endpoints.
func mapWebhookError(w http.ResponseWriter, err error) {
	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) {
		WriteError(w, http.StatusBadRequest, "validation_error", validationErr.Message)
		return
	}

	switch {
	case errors.Is(err, domain.ErrAccountNotFound):
		WriteError(w, http.StatusNotFound, "account_not_found", err.Error())
	case errors.Is(err, domain.ErrWebhookNotFound):
		WriteError(w, http.StatusNotFound, "webhook_not_found", err.Error())
	default:
		WriteError(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
	}
}
