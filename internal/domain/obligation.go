package domain

// DefaultCurrency is assumed for obligations and balances that name none.
const DefaultCurrency = "USD"

// PriorityClass orders competing cash obligations. Lower values take
// precedence.
type PriorityClass int

const (
	PriorityTax       PriorityClass = 1
	PriorityWage      PriorityClass = 2
	PriorityDebt      PriorityClass = 3
	PriorityRent      PriorityClass = 4
	PrioritySupplier  PriorityClass = 5
	PriorityDividend  PriorityClass = 6
	PriorityMarketing PriorityClass = 9
)

func (p PriorityClass) String() string {
	switch p {
	case PriorityTax:
		return "TAX"
	case PriorityWage:
		return "WAGE"
	case PriorityDebt:
		return "DEBT"
	case PriorityRent:
		return "RENT"
	case PrioritySupplier:
		return "SUPPLIER"
	case PriorityDividend:
		return "DIVIDEND"
	case PriorityMarketing:
		return "MARKETING"
	default:
		return "UNKNOWN"
	}
}

// IsMandatory reports whether failing to pay the class means insolvency.
func (p PriorityClass) IsMandatory() bool {
	return p == PriorityTax || p == PriorityWage
}

// ParsePriorityClass maps a class name to its PriorityClass.
func ParsePriorityClass(s string) (PriorityClass, bool) {
	for _, p := range []PriorityClass{
		PriorityTax, PriorityWage, PriorityDebt, PriorityRent,
		PrioritySupplier, PriorityDividend, PriorityMarketing,
	} {
		if p.String() == s {
			return p, true
		}
	}
	return 0, false
}

// Obligation is a cash payment an agent owes this tick.
type Obligation struct {
	Amount   int64 // pennies
	Currency string
	Priority PriorityClass
	Payee    string
	Memo     string
}

// BudgetAllocation is the outcome of running obligations through the
// budget gatekeeper.
type BudgetAllocation struct {
	Approved           []Obligation
	Rejected           []Obligation
	RemainingLiquidity map[string]int64
	Insolvent          bool
}
