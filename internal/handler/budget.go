package handler

import (
	"errors"
	"net/http"

	"github.com/efreitasn/tickexchange/internal/domain"
	"github.com/efreitasn/tickexchange/internal/service"
)

// BudgetHandler handles HTTP requests for budget endpoints.
type BudgetHandler struct {
	budgetSvc *service.BudgetService
	exchange  *service.Exchange
}

// NewBudgetHandler creates a new BudgetHandler.
func NewBudgetHandler(budgetSvc *service.BudgetService, exchange *service.Exchange) *BudgetHandler {
	return &BudgetHandler{budgetSvc: budgetSvc, exchange: exchange}
}

type obligationInput struct {
	AmountPennies int64  `json:"amount_pennies"`
	Currency      string `json:"currency"`
	Priority      string `json:"priority"`
	Payee         string `json:"payee"`
	Memo          string `json:"memo"`
}

// allocateRequest is the JSON request body for POST /budget/allocations.
type allocateRequest struct {
	AgentID     string            `json:"agent_id"`
	Liquid      map[string]int64  `json:"liquid"`
	Obligations []obligationInput `json:"obligations"`
}

type obligationResponse struct {
	AmountPennies int64  `json:"amount_pennies"`
	Currency      string `json:"currency"`
	Priority      string `json:"priority"`
	Mandatory     bool   `json:"mandatory"`
	Payee         string `json:"payee,omitempty"`
	Memo          string `json:"memo,omitempty"`
}

type allocationResponse struct {
	AgentID            string               `json:"agent_id"`
	Tick               int64                `json:"tick"`
	Approved           []obligationResponse `json:"approved"`
	Rejected           []obligationResponse `json:"rejected"`
	RemainingLiquidity map[string]int64     `json:"remaining_liquidity"`
	Insolvent          bool                 `json:"insolvent"`
}

// Allocate handles POST /budget/allocations.
func (h *BudgetHandler) Allocate(w http.ResponseWriter, r *http.Request) {
	var req allocateRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	obligations := make([]service.ObligationInput, len(req.Obligations))
	for i, o := range req.Obligations {
		obligations[i] = service.ObligationInput{
			AmountPennies: o.AmountPennies,
			Currency:      o.Currency,
			Priority:      o.Priority,
			Payee:         o.Payee,
			Memo:          o.Memo,
		}
	}

	tick := h.exchange.CurrentTick()
	alloc, err := h.budgetSvc.Allocate(service.AllocateRequest{
		AgentID:     req.AgentID,
		Liquid:      req.Liquid,
		Obligations: obligations,
	}, tick)
	if err != nil {
		mapBudgetError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, allocationResponse{
		AgentID:            req.AgentID,
		Tick:               tick,
		Approved:           buildObligationResponses(alloc.Approved),
		Rejected:           buildObligationResponses(alloc.Rejected),
		RemainingLiquidity: alloc.RemainingLiquidity,
		Insolvent:          alloc.Insolvent,
	})
}

func buildObligationResponses(obligations []domain.Obligation) []obligationResponse {
	result := make([]obligationResponse, len(obligations))
	for i, o := range obligations {
		result[i] = obligationResponse{
			AmountPennies: o.Amount,
			Currency:      o.Currency,
			Priority:      o.Priority.String(),
			Mandatory:     o.Priority.IsMandatory(),
			Payee:         o.Payee,
			Memo:          o.Memo,
		}
	}
	return result
}

// mapBudgetError maps domain errors to HTTP responses for budget endpoints.
func mapBudgetError(w http.ResponseWriter, err error) {
	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) {
		WriteError(w, http.StatusBadRequest, "validation_error", validationErr.Message)
		return
	}
	WriteError(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
}
