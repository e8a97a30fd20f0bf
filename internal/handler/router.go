package handler

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/efreitasn/tickexchange/internal/service"
	"github.com/go-chi/chi/v5"
)

// Services bundles what the router serves.
type Services struct {
	Accounts *service.AccountService
	Exchange *service.Exchange
	Housing  *service.HousingService
	Budget   *service.BudgetService
	Webhooks *service.WebhookService
}

// NewRouter creates a chi router with all routes registered, request logging,
// and Content-Type validation middleware. A nil metrics handler leaves
// /metrics unrouted.
func NewRouter(svcs Services, metrics http.Handler, logger *slog.Logger) chi.Router {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(requestLogging(logger))
	r.Use(contentTypeJSON)

	// Create handlers.
	accountH := NewAccountHandler(svcs.Accounts)
	marketH := NewMarketHandler(svcs.Exchange)
	housingH := NewHousingHandler(svcs.Housing, svcs.Exchange)
	budgetH := NewBudgetHandler(svcs.Budget, svcs.Exchange)
	webhookH := NewWebhookHandler(svcs.Webhooks)

	// Health check.
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"tick":   svcs.Exchange.CurrentTick(),
		})
	})
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	// Account routes.
	r.Post("/accounts", accountH.Open)
	r.Get("/accounts/{agent_id}", accountH.GetBalance)

	// Market routes.
	r.Post("/markets/{market_id}/orders", marketH.SubmitOrder)
	r.Delete("/markets/{market_id}/agents/{agent_id}/orders", marketH.CancelOrders)
	r.Get("/markets/{market_id}/items/{item_id}/book", marketH.GetBook)
	r.Get("/markets/{market_id}/items/{item_id}/transactions", marketH.ListTransactions)
	r.Delete("/agents/{agent_id}/orders", marketH.RemoveAgent)
	r.Post("/ticks", marketH.Step)

	// Stock routes.
	r.Get("/stocks/{firm_id}", marketH.GetStock)
	r.Put("/stocks/{firm_id}/reference", marketH.SetStockReference)

	// Housing routes.
	r.Post("/housing/units", housingH.RegisterUnit)
	r.Get("/housing/units/{unit_id}", housingH.GetUnit)
	r.Post("/housing/purchases", housingH.Purchase)
	r.Get("/housing/sagas/{saga_id}", housingH.GetSaga)
	r.Get("/agents/{agent_id}/sagas", housingH.ListSagas)

	// Budget routes.
	r.Post("/budget/allocations", budgetH.Allocate)

	// Webhook routes.
	r.Post("/webhooks", webhookH.Upsert)
	r.Get("/webhooks", webhookH.List)
	r.Get("/webhooks/events", webhookH.Kinds)
	r.Delete("/webhooks/{webhook_id}", webhookH.Delete)

	return r
}

// requestLogging returns middleware that logs each request's method, path,
// status code, and duration using slog.
func requestLogging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.status),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

// contentTypeJSON is middleware that validates Content-Type for POST, PUT, and
// PATCH requests. If the Content-Type header doesn't start with
// "application/json", it returns 400 Bad Request before the handler runs.
func contentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			ct := r.Header.Get("Content-Type")
			if ct == "" || !strings.HasPrefix(ct, "application/json") {
				WriteError(w, http.StatusBadRequest, "invalid_request",
					"Content-Type must be application/json")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
