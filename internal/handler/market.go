package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/efreitasn/tickexchange/internal/domain"
	"github.com/efreitasn/tickexchange/internal/engine"
	"github.com/efreitasn/tickexchange/internal/market"
	"github.com/efreitasn/tickexchange/internal/service"
	"github.com/go-chi/chi/v5"
)

// MarketHandler handles HTTP requests for order, book and tick endpoints.
type MarketHandler struct {
	exchange *service.Exchange
}

// NewMarketHandler creates a new MarketHandler.
func NewMarketHandler(exchange *service.Exchange) *MarketHandler {
	return &MarketHandler{exchange: exchange}
}

type brandInput struct {
	Skill            float64 `json:"skill"`
	EducationLevel   float64 `json:"education_level"`
	PerceivedQuality float64 `json:"perceived_quality"`
}

// submitOrderRequest is the JSON request body for
// POST /markets/{market_id}/orders.
type submitOrderRequest struct {
	AgentID       string      `json:"agent_id"`
	Side          string      `json:"side"`
	ItemID        string      `json:"item_id"`
	Quantity      float64     `json:"quantity"`
	PricePennies  int64       `json:"price_pennies"`
	Price         *float64    `json:"price"`
	TargetAgentID string      `json:"target_agent_id"`
	Brand         *brandInput `json:"brand"`
}

type orderResponse struct {
	OrderID       string  `json:"order_id"`
	MarketID      string  `json:"market_id"`
	AgentID       string  `json:"agent_id"`
	Side          string  `json:"side"`
	ItemID        string  `json:"item_id"`
	Quantity      float64 `json:"quantity"`
	PricePennies  int64   `json:"price_pennies"`
	Price         float64 `json:"price"`
	TargetAgentID *string `json:"target_agent_id"`
	Accepted      bool    `json:"accepted"`
	Tick          int64   `json:"tick"`
}

type transactionResponse struct {
	TransactionID string            `json:"transaction_id"`
	MarketID      string            `json:"market_id"`
	Type          string            `json:"type"`
	BuyerID       string            `json:"buyer_id"`
	SellerID      string            `json:"seller_id"`
	ItemID        string            `json:"item_id"`
	Quantity      float64           `json:"quantity"`
	TotalPennies  int64             `json:"total_pennies"`
	UnitPrice     float64           `json:"unit_price"`
	Quality       float64           `json:"quality"`
	Tick          int64             `json:"tick"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

type transactionListResponse struct {
	Transactions []transactionResponse `json:"transactions"`
}

type tickResponse struct {
	Tick         int64                 `json:"tick"`
	NextTick     int64                 `json:"next_tick"`
	Transactions []transactionResponse `json:"transactions"`
	Expired      int                   `json:"expired"`
	Error        *string               `json:"error"`
}

type priceLevelResponse struct {
	PricePennies  int64   `json:"price_pennies"`
	TotalQuantity float64 `json:"total_quantity"`
	OrderCount    int     `json:"order_count"`
}

type bookResponse struct {
	MarketID         string               `json:"market_id"`
	ItemID           string               `json:"item_id"`
	Bids             []priceLevelResponse `json:"bids"`
	Asks             []priceLevelResponse `json:"asks"`
	BestBidPennies   *int64               `json:"best_bid_pennies"`
	BestAskPennies   *int64               `json:"best_ask_pennies"`
	LastPricePennies *int64               `json:"last_price_pennies"`
	LastTick         *int64               `json:"last_tick"`
	Volume           float64              `json:"volume"`
	Halted           bool                 `json:"halted"`
}

type cancelResponse struct {
	AgentID string `json:"agent_id"`
	Removed int    `json:"removed"`
}

type stockReferenceRequest struct {
	PricePennies int64 `json:"price_pennies"`
}

// SubmitOrder handles POST /markets/{market_id}/orders.
func (h *MarketHandler) SubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req submitOrderRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	// A limit may be given in major units instead of pennies.
	if req.Price != nil {
		if req.PricePennies != 0 {
			WriteError(w, http.StatusBadRequest, "validation_error", "set either price or price_pennies, not both")
			return
		}
		pennies, err := domain.DollarsToPennies(*req.Price)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "validation_error", err.Error())
			return
		}
		req.PricePennies = pennies
	}

	svcReq := service.SubmitOrderRequest{
		MarketID:      chi.URLParam(r, "market_id"),
		AgentID:       req.AgentID,
		Side:          domain.Side(req.Side),
		ItemID:        req.ItemID,
		Quantity:      req.Quantity,
		PricePennies:  req.PricePennies,
		TargetAgentID: req.TargetAgentID,
	}
	if req.Brand != nil {
		svcReq.Brand = &domain.BrandInfo{
			Skill:            req.Brand.Skill,
			EducationLevel:   req.Brand.EducationLevel,
			PerceivedQuality: req.Brand.PerceivedQuality,
		}
	}

	res, err := h.exchange.SubmitOrder(svcReq)
	if err != nil {
		mapMarketError(w, err)
		return
	}

	// A rejected order is still a well-formed request; the outcome is in
	// the body.
	status := http.StatusCreated
	if !res.Accepted {
		status = http.StatusOK
	}
	WriteJSON(w, status, buildOrderResponse(res))
}

// CancelOrders handles DELETE /markets/{market_id}/agents/{agent_id}/orders.
func (h *MarketHandler) CancelOrders(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agent_id")

	n, err := h.exchange.CancelOrders(chi.URLParam(r, "market_id"), agentID)
	if err != nil {
		mapMarketError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, cancelResponse{AgentID: agentID, Removed: n})
}

// RemoveAgent handles DELETE /agents/{agent_id}/orders.
func (h *MarketHandler) RemoveAgent(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agent_id")
	WriteJSON(w, http.StatusOK, cancelResponse{AgentID: agentID, Removed: h.exchange.RemoveAgent(agentID)})
}

// GetBook handles GET /markets/{market_id}/items/{item_id}/book.
func (h *MarketHandler) GetBook(w http.ResponseWriter, r *http.Request) {
	depth, err := queryInt(r, "depth", 10)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	st, err := h.exchange.Book(chi.URLParam(r, "market_id"), chi.URLParam(r, "item_id"), depth)
	if err != nil {
		mapMarketError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, buildBookResponse(st))
}

// ListTransactions handles GET /markets/{market_id}/items/{item_id}/transactions.
func (h *MarketHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := h.exchange.Transactions(chi.URLParam(r, "market_id"), chi.URLParam(r, "item_id"))
	if err != nil {
		mapMarketError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, transactionListResponse{Transactions: buildTransactionResponses(txs)})
}

// Step handles POST /ticks. It runs one full tick. Engine failures on
// individual markets are reported in the body; the other markets' results
// stand.
func (h *MarketHandler) Step(w http.ResponseWriter, r *http.Request) {
	res, err := h.exchange.Step()
	resp := tickResponse{
		Tick:         res.Tick,
		NextTick:     res.Tick + 1,
		Transactions: buildTransactionResponses(res.Transactions),
		Expired:      res.Expired,
	}
	if err != nil {
		msg := err.Error()
		resp.Error = &msg
	}
	WriteJSON(w, http.StatusOK, resp)
}

// GetStock handles GET /stocks/{firm_id}.
func (h *MarketHandler) GetStock(w http.ResponseWriter, r *http.Request) {
	firmID, ok := parseFirmID(w, r)
	if !ok {
		return
	}

	s, err := h.exchange.StockSummary(firmID)
	if err != nil {
		mapMarketError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, s)
}

// SetStockReference handles PUT /stocks/{firm_id}/reference.
func (h *MarketHandler) SetStockReference(w http.ResponseWriter, r *http.Request) {
	firmID, ok := parseFirmID(w, r)
	if !ok {
		return
	}
	var req stockReferenceRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.PricePennies <= 0 {
		WriteError(w, http.StatusBadRequest, "validation_error", "price_pennies must be > 0")
		return
	}

	if err := h.exchange.SetStockReference(firmID, req.PricePennies); err != nil {
		mapMarketError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func parseFirmID(w http.ResponseWriter, r *http.Request) (int, bool) {
	firmID, err := strconv.Atoi(chi.URLParam(r, "firm_id"))
	if err != nil || firmID < 0 {
		WriteError(w, http.StatusBadRequest, "validation_error", "firm_id must be a non-negative integer")
		return 0, false
	}
	return firmID, true
}

func buildOrderResponse(res *service.SubmitOrderResult) orderResponse {
	o := res.Order
	resp := orderResponse{
		OrderID:      o.OrderID,
		MarketID:     o.MarketID,
		AgentID:      o.AgentID,
		Side:         string(o.Side),
		ItemID:       o.ItemID,
		Quantity:     o.Quantity,
		PricePennies: o.PricePennies,
		Price:        o.DisplayPrice(),
		Accepted:     res.Accepted,
		Tick:         res.Tick,
	}
	if o.TargetAgentID != "" {
		t := o.TargetAgentID
		resp.TargetAgentID = &t
	}
	return resp
}

func buildTransactionResponses(txs []domain.Transaction) []transactionResponse {
	result := make([]transactionResponse, len(txs))
	for i, tx := range txs {
		result[i] = transactionResponse{
			TransactionID: tx.TransactionID,
			MarketID:      tx.MarketID,
			Type:          string(tx.Type),
			BuyerID:       tx.BuyerID,
			SellerID:      tx.SellerID,
			ItemID:        tx.ItemID,
			Quantity:      tx.Quantity,
			TotalPennies:  tx.TotalPennies,
			UnitPrice:     tx.UnitPrice(),
			Quality:       tx.Quality,
			Tick:          tx.Tick,
			Metadata:      tx.Metadata,
		}
	}
	return result
}

func buildLevels(levels []engine.PriceLevel) []priceLevelResponse {
	result := make([]priceLevelResponse, len(levels))
	for i, l := range levels {
		result[i] = priceLevelResponse{
			PricePennies:  l.Price,
			TotalQuantity: l.TotalQuantity,
			OrderCount:    l.OrderCount,
		}
	}
	return result
}

func buildBookResponse(st *market.BookStatus) bookResponse {
	return bookResponse{
		MarketID:         st.MarketID,
		ItemID:           st.ItemID,
		Bids:             buildLevels(st.Bids),
		Asks:             buildLevels(st.Asks),
		BestBidPennies:   st.BestBid,
		BestAskPennies:   st.BestAsk,
		LastPricePennies: st.LastPrice,
		LastTick:         st.LastTick,
		Volume:           st.Volume,
		Halted:           st.Halted,
	}
}

// mapMarketError maps domain errors to HTTP responses for market endpoints.
func mapMarketError(w http.ResponseWriter, err error) {
	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) {
		WriteError(w, http.StatusBadRequest, "validation_error", validationErr.Message)
		return
	}
	var parseErr *domain.ParseError
	if errors.As(err, &parseErr) {
		WriteError(w, http.StatusBadRequest, "malformed_id", parseErr.Error())
		return
	}

	switch {
	case errors.Is(err, domain.ErrMarketNotFound):
		WriteError(w, http.StatusNotFound, "market_not_found", err.Error())
	default:
		WriteError(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
	}
}
