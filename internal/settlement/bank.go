package settlement

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/efreitasn/tickexchange/internal/domain"
)

// LoanStatus is the lifecycle state of a loan.
type LoanStatus string

const (
	LoanActive     LoanStatus = "ACTIVE"
	LoanTerminated LoanStatus = "TERMINATED"
	LoanVoided     LoanStatus = "VOIDED"
)

// LoanRequest asks a bank to originate a loan.
type LoanRequest struct {
	BorrowerID   string
	Amount       int64
	InterestRate float64
	DueTick      int64
	Tick         int64
	Currency     string
	Profile      domain.BorrowerProfile
}

// Loan is a loan on a bank's books.
type Loan struct {
	LoanID       string
	BorrowerID   string
	Principal    int64
	Outstanding  int64
	Undisbursed  int64 // part of the loan deposit the borrower has not withdrawn
	InterestRate float64
	DueTick      int64
	Currency     string
	Status       LoanStatus
}

// DebtStatus summarizes what an agent owes a bank.
type DebtStatus struct {
	BorrowerID       string
	TotalOutstanding int64
	Loans            []Loan
}

// Bank is the lender the housing saga consumes.
type Bank interface {
	ID() string
	// GrantLoan books a loan and credits its principal to the borrower's
	// deposit. The returned transaction records the origination.
	GrantLoan(req LoanRequest) (*Loan, *domain.Transaction, error)
	WithdrawForCustomer(agentID string, amount int64) error
	TerminateLoan(loanID string) error
	VoidLoan(loanID string) error
	DebtStatus(agentID string) DebtStatus
}

// MemoryBank is an in-memory Bank. Its reserves live in the ledger under its
// own id. Deposits created by loans are liabilities internal to the bank: the
// money backing them only leaves the reserves through an explicit transfer.
type MemoryBank struct {
	id     string
	ledger *Ledger

	mu       sync.Mutex
	loans    map[string]*Loan
	byAgent  map[string][]string // borrower → loan ids in origination order
	deposits map[string]int64
}

// NewMemoryBank creates a bank whose reserves are the ledger account id.
func NewMemoryBank(id string, ledger *Ledger) *MemoryBank {
	return &MemoryBank{
		id:       id,
		ledger:   ledger,
		loans:    make(map[string]*Loan),
		byAgent:  make(map[string][]string),
		deposits: make(map[string]int64),
	}
}

// ID returns the bank's agent id.
func (b *MemoryBank) ID() string { return b.id }

// GrantLoan originates a loan when the reserves cover it and the collateral,
// when given, is at least the principal.
func (b *MemoryBank) GrantLoan(req LoanRequest) (*Loan, *domain.Transaction, error) {
	if req.Amount <= 0 {
		return nil, nil, domain.ErrInvalidAmount
	}
	currency := currencyOrDefault(req.Currency)
	reserves, err := b.ledger.Balance(b.id, currency)
	if err != nil {
		return nil, nil, fmt.Errorf("bank reserves: %w", err)
	}
	if reserves < req.Amount {
		return nil, nil, fmt.Errorf("reserves %d below principal %d: %w", reserves, req.Amount, domain.ErrLoanRejected)
	}
	if c := req.Profile.CollateralPennies; c > 0 && c < req.Amount {
		return nil, nil, fmt.Errorf("collateral %d below principal %d: %w", c, req.Amount, domain.ErrLoanRejected)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	loan := &Loan{
		LoanID:       uuid.New().String(),
		BorrowerID:   req.BorrowerID,
		Principal:    req.Amount,
		Outstanding:  req.Amount,
		Undisbursed:  req.Amount,
		InterestRate: req.InterestRate,
		DueTick:      req.DueTick,
		Currency:     currency,
		Status:       LoanActive,
	}
	b.loans[loan.LoanID] = loan
	b.byAgent[req.BorrowerID] = append(b.byAgent[req.BorrowerID], loan.LoanID)
	b.deposits[req.BorrowerID] += req.Amount

	tx := &domain.Transaction{
		TransactionID: uuid.New().String(),
		BuyerID:       req.BorrowerID,
		SellerID:      b.id,
		ItemID:        "loan",
		Quantity:      1,
		TotalPennies:  req.Amount,
		Type:          domain.TransactionLoan,
		Tick:          req.Tick,
		Metadata:      map[string]string{"loan_id": loan.LoanID, "currency": currency},
	}
	out := *loan
	return &out, tx, nil
}

// WithdrawForCustomer debits an agent's loan deposit.
func (b *MemoryBank) WithdrawForCustomer(agentID string, amount int64) error {
	if amount <= 0 {
		return domain.ErrInvalidAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.deposits[agentID] < amount {
		return fmt.Errorf("deposit of %s is %d, needs %d: %w", agentID, b.deposits[agentID], amount, domain.ErrInsufficientFunds)
	}
	b.deposits[agentID] -= amount

	// Withdrawals draw down loans oldest first.
	left := amount
	for _, id := range b.byAgent[agentID] {
		loan := b.loans[id]
		if left == 0 {
			break
		}
		if loan.Status != LoanActive || loan.Undisbursed == 0 {
			continue
		}
		take := min(loan.Undisbursed, left)
		loan.Undisbursed -= take
		left -= take
	}
	return nil
}

// TerminateLoan closes an active loan, writing off its outstanding balance
// and clawing back any deposit not yet withdrawn.
func (b *MemoryBank) TerminateLoan(loanID string) error {
	return b.close(loanID, LoanTerminated)
}

// VoidLoan cancels a loan as if it had never been granted.
func (b *MemoryBank) VoidLoan(loanID string) error {
	return b.close(loanID, LoanVoided)
}

func (b *MemoryBank) close(loanID string, status LoanStatus) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	loan, ok := b.loans[loanID]
	if !ok {
		return domain.ErrLoanNotFound
	}
	if loan.Status != LoanActive {
		return fmt.Errorf("loan %s is %s", loanID, loan.Status)
	}
	b.deposits[loan.BorrowerID] -= loan.Undisbursed
	loan.Undisbursed = 0
	loan.Outstanding = 0
	loan.Status = status
	return nil
}

// Deposit returns an agent's loan deposit.
func (b *MemoryBank) Deposit(agentID string) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.deposits[agentID]
}

// Loan returns a copy of a loan.
func (b *MemoryBank) Loan(loanID string) (Loan, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	loan, ok := b.loans[loanID]
	if !ok {
		return Loan{}, domain.ErrLoanNotFound
	}
	return *loan, nil
}

// DebtStatus lists an agent's loans in origination order and the total
// outstanding principal.
func (b *MemoryBank) DebtStatus(agentID string) DebtStatus {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := DebtStatus{BorrowerID: agentID, Loans: []Loan{}}
	for _, id := range b.byAgent[agentID] {
		loan := b.loans[id]
		st.Loans = append(st.Loans, *loan)
		if loan.Status == LoanActive {
			st.TotalOutstanding += loan.Outstanding
		}
	}
	return st
}
