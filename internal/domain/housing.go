package domain

import "time"

// SagaStatus is a state of the housing purchase saga.
type SagaStatus string

const (
	SagaInitiated                    SagaStatus = "INITIATED"
	SagaLoanApproved                 SagaStatus = "LOAN_APPROVED"
	SagaLoanRejected                 SagaStatus = "LOAN_REJECTED"
	SagaDownPaymentComplete          SagaStatus = "DOWN_PAYMENT_COMPLETE"
	SagaMortgageDisbursementComplete SagaStatus = "MORTGAGE_DISBURSEMENT_COMPLETE"
	SagaCompleted                    SagaStatus = "COMPLETED"
	SagaFailedRolledBack             SagaStatus = "FAILED_ROLLED_BACK"
)

// IsTerminal reports whether the saga can make no further progress.
func (s SagaStatus) IsTerminal() bool {
	return s == SagaCompleted || s == SagaFailedRolledBack
}

// HousingOffer is an accepted offer to buy a housing unit.
type HousingOffer struct {
	ItemID       string // unit_<int>
	BuyerID      string
	SellerID     string
	PricePennies int64
	Currency     string
}

// BorrowerProfile is what a lender sees of a mortgage applicant.
type BorrowerProfile struct {
	BorrowerID            string
	GrossIncomePennies    int64
	ExistingDebtPennies   int64
	CollateralPennies     int64
	ExistingAssetsPennies int64
}

// LoanApplication is the mortgage request a financed saga sends to the bank.
type LoanApplication struct {
	BorrowerID       string
	PrincipalPennies int64
	InterestRate     float64
	DueTick          int64
	Profile          BorrowerProfile
}

// MortgageApproval records an originated mortgage and the lien backing it.
type MortgageApproval struct {
	LoanID           string
	LienID           string
	PrincipalPennies int64
	PaymentPennies   int64 // per tick over the term
}

// SagaTransition is one entry of a saga's state history.
type SagaTransition struct {
	From SagaStatus
	To   SagaStatus
	Tick int64
	Note string
}

// SagaState is the full record of one housing purchase.
type SagaState struct {
	SagaID           string
	Status           SagaStatus
	Offer            HousingOffer
	DownPayment      int64
	LoanAmount       int64
	LoanApplication  *LoanApplication
	MortgageApproval *MortgageApproval
	History          []SagaTransition
	Transactions     []Transaction // settlement legs, compensations included
	Error            string
	CreatedAt        time.Time
	LastTick         int64
}

// Succeeded reports whether the purchase closed.
func (s *SagaState) Succeeded() bool {
	return s.Status == SagaCompleted
}

// Transition moves the saga to a new status and records it.
func (s *SagaState) Transition(to SagaStatus, tick int64, note string) {
	s.History = append(s.History, SagaTransition{From: s.Status, To: to, Tick: tick, Note: note})
	s.Status = to
	s.LastTick = tick
}
