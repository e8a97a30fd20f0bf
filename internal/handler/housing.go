package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/efreitasn/tickexchange/internal/domain"
	"github.com/efreitasn/tickexchange/internal/saga"
	"github.com/efreitasn/tickexchange/internal/service"
	"github.com/go-chi/chi/v5"
)

// HousingHandler handles HTTP requests for housing endpoints. Purchases
// run at the exchange's current tick.
type HousingHandler struct {
	housingSvc *service.HousingService
	exchange   *service.Exchange
}

// NewHousingHandler creates a new HousingHandler.
func NewHousingHandler(housingSvc *service.HousingService, exchange *service.Exchange) *HousingHandler {
	return &HousingHandler{housingSvc: housingSvc, exchange: exchange}
}

// registerUnitRequest is the JSON request body for POST /housing/units.
type registerUnitRequest struct {
	UnitID  int    `json:"unit_id"`
	OwnerID string `json:"owner_id"`
}

type lienResponse struct {
	LienID           string `json:"lien_id"`
	LoanID           string `json:"loan_id"`
	Lienholder       string `json:"lienholder"`
	PrincipalPennies int64  `json:"principal_pennies"`
}

type unitResponse struct {
	UnitID     int           `json:"unit_id"`
	ItemID     string        `json:"item_id"`
	OwnerID    string        `json:"owner_id"`
	OccupantID *string       `json:"occupant_id"`
	MortgageID *string       `json:"mortgage_id"`
	Lien       *lienResponse `json:"lien"`
}

type borrowerProfileInput struct {
	GrossIncomePennies    int64 `json:"gross_income_pennies"`
	ExistingDebtPennies   int64 `json:"existing_debt_pennies"`
	CollateralPennies     int64 `json:"collateral_pennies"`
	ExistingAssetsPennies int64 `json:"existing_assets_pennies"`
}

// purchaseRequest is the JSON request body for POST /housing/purchases.
type purchaseRequest struct {
	ItemID       string                `json:"item_id"`
	BuyerID      string                `json:"buyer_id"`
	SellerID     string                `json:"seller_id"`
	PricePennies int64                 `json:"price_pennies"`
	Currency     string                `json:"currency"`
	Financed     bool                  `json:"financed"`
	Profile      *borrowerProfileInput `json:"profile"`
}

type transitionResponse struct {
	From string `json:"from"`
	To   string `json:"to"`
	Tick int64  `json:"tick"`
	Note string `json:"note,omitempty"`
}

type mortgageResponse struct {
	LoanID           string `json:"loan_id"`
	LienID           string `json:"lien_id"`
	PrincipalPennies int64  `json:"principal_pennies"`
	PaymentPennies   int64  `json:"payment_pennies"`
}

type sagaResponse struct {
	SagaID             string                `json:"saga_id"`
	Status             string                `json:"status"`
	ItemID             string                `json:"item_id"`
	BuyerID            string                `json:"buyer_id"`
	SellerID           string                `json:"seller_id"`
	PricePennies       int64                 `json:"price_pennies"`
	Currency           string                `json:"currency"`
	DownPaymentPennies int64                 `json:"down_payment_pennies"`
	LoanPennies        int64                 `json:"loan_pennies"`
	Mortgage           *mortgageResponse     `json:"mortgage"`
	History            []transitionResponse  `json:"history"`
	Transactions       []transactionResponse `json:"transactions"`
	Error              *string               `json:"error"`
	CreatedAt          string                `json:"created_at"`
	LastTick           int64                 `json:"last_tick"`
}

type sagaListResponse struct {
	Sagas []sagaResponse `json:"sagas"`
	Total int            `json:"total"`
	Page  int            `json:"page"`
	Limit int            `json:"limit"`
}

// RegisterUnit handles POST /housing/units.
func (h *HousingHandler) RegisterUnit(w http.ResponseWriter, r *http.Request) {
	var req registerUnitRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	if err := h.housingSvc.RegisterUnit(req.UnitID, req.OwnerID); err != nil {
		mapHousingError(w, err)
		return
	}
	u, err := h.housingSvc.Unit(req.UnitID)
	if err != nil {
		mapHousingError(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, buildUnitResponse(u))
}

// GetUnit handles GET /housing/units/{unit_id}.
func (h *HousingHandler) GetUnit(w http.ResponseWriter, r *http.Request) {
	unitID, err := strconv.Atoi(chi.URLParam(r, "unit_id"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "validation_error", "unit_id must be a valid integer")
		return
	}

	u, err := h.housingSvc.Unit(unitID)
	if err != nil {
		mapHousingError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, buildUnitResponse(u))
}

// Purchase handles POST /housing/purchases. The saga outcome, failed or
// not, is returned as 201 with its final status.
func (h *HousingHandler) Purchase(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	svcReq := service.PurchaseRequest{
		ItemID:       req.ItemID,
		BuyerID:      req.BuyerID,
		SellerID:     req.SellerID,
		PricePennies: req.PricePennies,
		Currency:     req.Currency,
		Financed:     req.Financed,
	}
	if req.Profile != nil {
		svcReq.Profile = domain.BorrowerProfile{
			BorrowerID:            req.BuyerID,
			GrossIncomePennies:    req.Profile.GrossIncomePennies,
			ExistingDebtPennies:   req.Profile.ExistingDebtPennies,
			CollateralPennies:     req.Profile.CollateralPennies,
			ExistingAssetsPennies: req.Profile.ExistingAssetsPennies,
		}
	}

	st, err := h.housingSvc.Purchase(svcReq, h.exchange.CurrentTick())
	if err != nil {
		mapHousingError(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, buildSagaResponse(st))
}

// GetSaga handles GET /housing/sagas/{saga_id}.
func (h *HousingHandler) GetSaga(w http.ResponseWriter, r *http.Request) {
	st, err := h.housingSvc.Get(chi.URLParam(r, "saga_id"))
	if err != nil {
		mapHousingError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, buildSagaResponse(st))
}

// ListSagas handles GET /agents/{agent_id}/sagas.
func (h *HousingHandler) ListSagas(w http.ResponseWriter, r *http.Request) {
	params := service.ListSagasParams{AgentID: chi.URLParam(r, "agent_id")}

	if s := r.URL.Query().Get("status"); s != "" {
		status := domain.SagaStatus(s)
		params.Status = &status
	}
	var err error
	if params.Page, err = queryInt(r, "page", 1); err != nil {
		WriteError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	if params.Limit, err = queryInt(r, "limit", 20); err != nil {
		WriteError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	sagas, total, err := h.housingSvc.ListByAgent(params)
	if err != nil {
		mapHousingError(w, err)
		return
	}

	result := make([]sagaResponse, len(sagas))
	for i, st := range sagas {
		result[i] = buildSagaResponse(st)
	}
	WriteJSON(w, http.StatusOK, sagaListResponse{
		Sagas: result,
		Total: total,
		Page:  params.Page,
		Limit: params.Limit,
	})
}

func buildUnitResponse(u *saga.Unit) unitResponse {
	resp := unitResponse{
		UnitID:  u.UnitID,
		ItemID:  domain.UnitItemID(u.UnitID),
		OwnerID: u.OwnerID,
	}
	if u.OccupantID != "" {
		o := u.OccupantID
		resp.OccupantID = &o
	}
	if u.MortgageID != "" {
		m := u.MortgageID
		resp.MortgageID = &m
	}
	if u.Lien != nil {
		resp.Lien = &lienResponse{
			LienID:           u.Lien.LienID,
			LoanID:           u.Lien.LoanID,
			Lienholder:       u.Lien.Lienholder,
			PrincipalPennies: u.Lien.Principal,
		}
	}
	return resp
}

func buildSagaResponse(st *domain.SagaState) sagaResponse {
	history := make([]transitionResponse, len(st.History))
	for i, t := range st.History {
		history[i] = transitionResponse{
			From: string(t.From),
			To:   string(t.To),
			Tick: t.Tick,
			Note: t.Note,
		}
	}

	resp := sagaResponse{
		SagaID:             st.SagaID,
		Status:             string(st.Status),
		ItemID:             st.Offer.ItemID,
		BuyerID:            st.Offer.BuyerID,
		SellerID:           st.Offer.SellerID,
		PricePennies:       st.Offer.PricePennies,
		Currency:           st.Offer.Currency,
		DownPaymentPennies: st.DownPayment,
		LoanPennies:        st.LoanAmount,
		History:            history,
		Transactions:       buildTransactionResponses(st.Transactions),
		CreatedAt:          st.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		LastTick:           st.LastTick,
	}
	if m := st.MortgageApproval; m != nil {
		resp.Mortgage = &mortgageResponse{
			LoanID:           m.LoanID,
			LienID:           m.LienID,
			PrincipalPennies: m.PrincipalPennies,
			PaymentPennies:   m.PaymentPennies,
		}
	}
	if st.Error != "" {
		e := st.Error
		resp.Error = &e
	}
	return resp
}

// mapHousingError maps domain errors to HTTP responses for housing endpoints.
func mapHousingError(w http.ResponseWriter, err error) {
	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) {
		WriteError(w, http.StatusBadRequest, "validation_error", validationErr.Message)
		return
	}

	switch {
	case errors.Is(err, domain.ErrAccountNotFound):
		WriteError(w, http.StatusNotFound, "account_not_found", err.Error())
	case errors.Is(err, domain.ErrUnitNotFound):
		WriteError(w, http.StatusNotFound, "unit_not_found", err.Error())
	case errors.Is(err, domain.ErrSagaNotFound):
		WriteError(w, http.StatusNotFound, "saga_not_found", err.Error())
	default:
		WriteError(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
	}
}
