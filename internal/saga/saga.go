// Package saga closes housing purchases as a compensating transaction across
// buyer, seller, bank and an escrow account.
package saga

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/tickexchange/internal/domain"
	"github.com/efreitasn/tickexchange/internal/events"
	"github.com/efreitasn/tickexchange/internal/settlement"
)

// Config holds the mortgage terms and the escrow participant.
type Config struct {
	MaxLTV       float64
	TermTicks    int64
	InterestRate float64
	EscrowID     string
	Currency     string
}

// DefaultConfig returns an 80% LTV, 300-tick, 5% mortgage through "escrow".
func DefaultConfig() Config {
	return Config{
		MaxLTV:       0.8,
		TermTicks:    300,
		InterestRate: 0.05,
		EscrowID:     "escrow",
		Currency:     settlement.DefaultCurrency,
	}
}

// Agent is a saga participant.
type Agent interface {
	ID() string
}

// Borrower is a buyer eligible for mortgage financing.
type Borrower interface {
	Agent
	BorrowerProfile() domain.BorrowerProfile
}

// CashBuyer is a participant that pays in full.
type CashBuyer string

// ID returns the agent id.
func (c CashBuyer) ID() string { return string(c) }

// Applicant is a participant that applies for a mortgage.
type Applicant struct {
	AgentID string
	Profile domain.BorrowerProfile
}

// ID returns the agent id.
func (a Applicant) ID() string { return a.AgentID }

// BorrowerProfile returns the profile shown to the bank.
func (a Applicant) BorrowerProfile() domain.BorrowerProfile {
	p := a.Profile
	p.BorrowerID = a.AgentID
	return p
}

// HousingSaga executes housing purchases. A nil bank restricts it to cash
// purchases.
type HousingSaga struct {
	cfg        Config
	ltv        decimal.Decimal
	settlement settlement.SettlementSystem
	bank       settlement.Bank
	registry   *Registry
	sink       events.Sink
}

// NewHousingSaga creates a HousingSaga.
func NewHousingSaga(cfg Config, ss settlement.SettlementSystem, bank settlement.Bank, registry *Registry, sink events.Sink) *HousingSaga {
	return &HousingSaga{
		cfg:        cfg,
		ltv:        decimal.NewFromFloat(cfg.MaxLTV),
		settlement: ss,
		bank:       bank,
		registry:   registry,
		sink:       events.OrDiscard(sink),
	}
}

// run is the mutable context of one execution.
type run struct {
	h        *HousingSaga
	st       *domain.SagaState
	tick     int64
	currency string
	unitID   int
	loanID   string
	compErrs []error
	receipt  int // index of the last recorded transfer, -1 when none
}

// Execute runs the purchase to completion or full rollback. It never
// returns a non-terminal state.
func (h *HousingSaga) Execute(offer domain.HousingOffer, buyer, seller Agent, tick int64) *domain.SagaState {
	if offer.Currency == "" {
		offer.Currency = h.cfg.Currency
	}
	r := &run{
		h: h,
		st: &domain.SagaState{
			SagaID:    uuid.New().String(),
			Status:    domain.SagaInitiated,
			Offer:     offer,
			CreatedAt: time.Now(),
			LastTick:  tick,
		},
		tick:     tick,
		currency: offer.Currency,
		receipt:  -1,
	}

	if err := r.validate(buyer, seller); err != nil {
		return r.fail("validate", err)
	}

	price := offer.PricePennies
	borrower, financed := buyer.(Borrower)
	if financed && h.bank != nil {
		r.st.LoanAmount = decimal.NewFromInt(price).Mul(h.ltv).Floor().IntPart()
	}
	r.st.DownPayment = price - r.st.LoanAmount
	downNote := ""
	if r.st.LoanAmount > 0 {
		r.st.LoanApplication = &domain.LoanApplication{
			BorrowerID:       offer.BuyerID,
			PrincipalPennies: r.st.LoanAmount,
			InterestRate:     h.cfg.InterestRate,
			DueTick:          tick + h.cfg.TermTicks,
			Profile:          borrower.BorrowerProfile(),
		}
		downNote = fmt.Sprintf("financing %d of %d requested", r.st.LoanAmount, price)
	} else {
		// No lender is involved, so the financing decision is final up front.
		r.st.Transition(domain.SagaLoanApproved, tick, "cash purchase")
	}

	escrow := h.cfg.EscrowID
	down := r.st.DownPayment
	loan := r.st.LoanAmount

	if down > 0 {
		if err := r.transfer(offer.BuyerID, escrow, down, "escrow_hold:down_payment:"+offer.ItemID); err != nil {
			return r.fail("down payment", err)
		}
	}
	r.st.Transition(domain.SagaDownPaymentComplete, tick, downNote)

	if loan > 0 {
		if err := r.disburse(); err != nil {
			return r.fail("mortgage", err)
		}
		r.st.Transition(domain.SagaMortgageDisbursementComplete, tick, "")
	}

	if err := r.transfer(escrow, offer.SellerID, price, "final_settlement:"+offer.ItemID); err != nil {
		if loan > 0 {
			r.compensate(escrow, h.bank.ID(), loan, "escrow_reversal:loan_proceeds:"+offer.ItemID)
			if terr := h.bank.TerminateLoan(r.loanID); terr != nil {
				r.compErrs = append(r.compErrs, fmt.Errorf("terminate loan: %w", terr))
			}
		}
		r.compensate(escrow, offer.BuyerID, down, "escrow_reversal:down_payment:"+offer.ItemID)
		return r.fail("final settlement", err)
	}
	final := r.receipt

	lienID, err := h.registry.RecordSale(Sale{
		UnitID:   r.unitID,
		BuyerID:  offer.BuyerID,
		SellerID: offer.SellerID,
		BankID:   r.bankID(),
		LoanID:   r.loanID,
		Loan:     loan,
	})
	if err != nil {
		// Validation guarantees the unit; this is a broken registry.
		panic(fmt.Sprintf("record sale of %s after settlement: %v", offer.ItemID, err))
	}
	if r.loanID != "" {
		r.st.MortgageApproval = &domain.MortgageApproval{
			LoanID:           r.loanID,
			LienID:           lienID,
			PrincipalPennies: loan,
			PaymentPennies:   h.payment(loan),
		}
		if final >= 0 {
			r.st.Transactions[final].Metadata["mortgage_id"] = r.loanID
		}
	}

	r.st.Transition(domain.SagaCompleted, tick, "")
	h.emit(events.SagaCompleted, r.st, "")
	return r.st
}

// disburse originates the loan, neutralizes the deposit it creates and moves
// the proceeds from the bank's reserves into escrow. Every failure leaves
// the down payment returned to the buyer and the loan voided.
func (r *run) disburse() error {
	h, offer, app := r.h, r.st.Offer, r.st.LoanApplication
	loan := r.st.LoanAmount

	granted, originTx, err := h.bank.GrantLoan(settlement.LoanRequest{
		BorrowerID:   app.BorrowerID,
		Amount:       app.PrincipalPennies,
		InterestRate: app.InterestRate,
		DueTick:      app.DueTick,
		Tick:         r.tick,
		Currency:     r.currency,
		Profile:      app.Profile,
	})
	if err != nil {
		r.st.Transition(domain.SagaLoanRejected, r.tick, err.Error())
		r.reverseDownPayment()
		return fmt.Errorf("originate: %w", err)
	}
	r.loanID = granted.LoanID
	r.st.Transition(domain.SagaLoanApproved, r.tick, "loan "+granted.LoanID)
	if originTx != nil {
		r.st.Transactions = append(r.st.Transactions, *originTx)
	}

	if err := h.bank.WithdrawForCustomer(offer.BuyerID, loan); err != nil {
		r.voidLoan()
		r.reverseDownPayment()
		return fmt.Errorf("neutralize deposit: %w", err)
	}

	if err := r.transfer(h.bank.ID(), h.cfg.EscrowID, loan, "escrow_hold:loan_proceeds:"+offer.ItemID); err != nil {
		r.voidLoan()
		r.reverseDownPayment()
		return fmt.Errorf("disburse: %w", err)
	}
	return nil
}

func (r *run) validate(buyer, seller Agent) error {
	offer := r.st.Offer
	unitID, err := domain.ParseUnitItemID(offer.ItemID)
	if err != nil {
		return err
	}
	r.unitID = unitID
	switch {
	case offer.PricePennies <= 0:
		return &domain.ValidationError{Message: "price_pennies must be > 0"}
	case offer.BuyerID == "" || offer.SellerID == "":
		return &domain.ValidationError{Message: "buyer_id and seller_id are required"}
	case offer.BuyerID == offer.SellerID:
		return &domain.ValidationError{Message: "buyer and seller must differ"}
	case buyer == nil || buyer.ID() != offer.BuyerID:
		return &domain.ValidationError{Message: "buyer does not match the offer"}
	case seller == nil || seller.ID() != offer.SellerID:
		return &domain.ValidationError{Message: "seller does not match the offer"}
	}
	return r.h.registry.CheckSale(unitID, offer.SellerID)
}

// transfer runs one settlement leg. A nil receipt still counts as success;
// r.receipt then reads -1.
func (r *run) transfer(debit, credit string, amount int64, memo string) error {
	r.receipt = -1
	tx, err := r.h.settlement.Transfer(debit, credit, amount, memo, r.tick, r.currency)
	if err != nil {
		return err
	}
	if tx != nil {
		if tx.Metadata == nil {
			tx.Metadata = make(map[string]string)
		}
		tx.Metadata["saga_id"] = r.st.SagaID
		r.st.Transactions = append(r.st.Transactions, *tx)
		r.receipt = len(r.st.Transactions) - 1
	}
	return nil
}

// compensate runs a reversal leg. Failures are recorded, never retried.
func (r *run) compensate(debit, credit string, amount int64, memo string) {
	if amount <= 0 {
		return
	}
	if err := r.transfer(debit, credit, amount, memo); err != nil {
		r.compErrs = append(r.compErrs, fmt.Errorf("%s: %w", memo, err))
	}
}

func (r *run) reverseDownPayment() {
	r.compensate(r.h.cfg.EscrowID, r.st.Offer.BuyerID, r.st.DownPayment, "escrow_reversal:down_payment:"+r.st.Offer.ItemID)
}

func (r *run) voidLoan() {
	if err := r.h.bank.VoidLoan(r.loanID); err != nil {
		r.compErrs = append(r.compErrs, fmt.Errorf("void loan: %w", err))
	}
}

func (r *run) bankID() string {
	if r.h.bank == nil {
		return ""
	}
	return r.h.bank.ID()
}

func (r *run) fail(step string, err error) *domain.SagaState {
	msg := fmt.Sprintf("%s: %v", step, err)
	if len(r.compErrs) > 0 {
		msg = fmt.Sprintf("%s; compensation: %v", msg, errors.Join(r.compErrs...))
	}
	r.st.Error = msg
	r.st.Transition(domain.SagaFailedRolledBack, r.tick, step)
	r.h.emit(events.SagaFailed, r.st, step)
	return r.st
}

// payment spreads principal plus simple interest evenly over the term.
func (h *HousingSaga) payment(principal int64) int64 {
	if h.cfg.TermTicks <= 0 {
		return principal
	}
	total := decimal.NewFromInt(principal).Mul(decimal.NewFromFloat(1 + h.cfg.InterestRate))
	return total.Div(decimal.NewFromInt(h.cfg.TermTicks)).Ceil().IntPart()
}

func (h *HousingSaga) emit(kind events.Kind, st *domain.SagaState, reason string) {
	h.sink.Emit(events.Event{
		Kind:    kind,
		Tick:    st.LastTick,
		ItemID:  st.Offer.ItemID,
		AgentID: st.Offer.BuyerID,
		Reason:  reason,
		Attrs: map[string]any{
			"status":        string(st.Status),
			"saga_id":       st.SagaID,
			"seller_id":     st.Offer.SellerID,
			"price_pennies": st.Offer.PricePennies,
			"loan_pennies":  st.LoanAmount,
		},
	})
}
