package handler

import (
	"errors"
	"net/http"

	"github.com/efreitasn/tickexchange/internal/domain"
	"github.com/efreitasn/tickexchange/internal/service"
	"github.com/go-chi/chi/v5"
)

// AccountHandler handles HTTP requests for account endpoints.
type AccountHandler struct {
	accountSvc *service.AccountService
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(accountSvc *service.AccountService) *AccountHandler {
	return &AccountHandler{accountSvc: accountSvc}
}

// openAccountRequest is the JSON request body for POST /accounts.
type openAccountRequest struct {
	AgentID         string           `json:"agent_id"`
	InitialBalances map[string]int64 `json:"initial_balances"`
}

type currencyBalanceResponse struct {
	Currency       string `json:"currency"`
	BalancePennies int64  `json:"balance_pennies"`
}

// accountResponse is the JSON response for POST /accounts and
// GET /accounts/{agent_id}.
type accountResponse struct {
	AgentID  string                    `json:"agent_id"`
	Balances []currencyBalanceResponse `json:"balances"`
}

// Open handles POST /accounts.
func (h *AccountHandler) Open(w http.ResponseWriter, r *http.Request) {
	var req openAccountRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	resp, err := h.accountSvc.Open(service.OpenAccountRequest{
		AgentID:         req.AgentID,
		InitialBalances: req.InitialBalances,
	})
	if err != nil {
		mapAccountError(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, buildAccountResponse(resp))
}

// GetBalance handles GET /accounts/{agent_id}.
func (h *AccountHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	resp, err := h.accountSvc.Balance(chi.URLParam(r, "agent_id"))
	if err != nil {
		mapAccountError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, buildAccountResponse(resp))
}

func buildAccountResponse(b *service.BalanceResponse) accountResponse {
	balances := make([]currencyBalanceResponse, len(b.Balances))
	for i, cb := range b.Balances {
		balances[i] = currencyBalanceResponse{
			Currency:       cb.Currency,
			BalancePennies: cb.BalancePennies,
		}
	}
	return accountResponse{AgentID: b.AgentID, Balances: balances}
}

// mapAccountError maps domain errors to HTTP responses for account endpoints.
func mapAccountError(w http.ResponseWriter, err error) {
	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) {
		WriteError(w, http.StatusBadRequest, "validation_error", validationErr.Message)
		return
	}

	switch {
	case errors.Is(err, domain.ErrAccountAlreadyExists):
		WriteError(w, http.StatusConflict, "account_already_exists", err.Error())
	case errors.Is(err, domain.ErrAccountNotFound):
		WriteError(w, http.StatusNotFound, "account_not_found", err.Error())
	default:
		WriteError(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
	}
}
