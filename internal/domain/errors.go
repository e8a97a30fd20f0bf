package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for domain-level error handling.
// The handler layer maps these to HTTP status codes.
var (
	ErrAccountAlreadyExists = errors.New("account_already_exists")
	ErrAccountNotFound      = errors.New("account_not_found")
	ErrInsufficientFunds    = errors.New("insufficient_funds")
	ErrInvalidAmount        = errors.New("invalid_amount")
	ErrSelfTransfer         = errors.New("self_transfer")
	ErrMarketNotFound       = errors.New("market_not_found")
	ErrItemNotFound         = errors.New("item_not_found")
	ErrInvalidBookState     = errors.New("invalid_book_state")
	ErrLoanRejected         = errors.New("loan_rejected")
	ErrLoanNotFound         = errors.New("loan_not_found")
	ErrUnitNotFound         = errors.New("unit_not_found")
	ErrSagaNotFound         = errors.New("saga_not_found")
	ErrWebhookNotFound      = errors.New("webhook_not_found")
)

// ValidationError represents a request validation failure.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// ParseError is returned where an encoded identifier such as stock_<int>
// or unit_<int> is decoded and does not follow its convention.
type ParseError struct {
	Kind  string
	Input string
	Err   error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed %s id %q: %v", e.Kind, e.Input, e.Err)
	}
	return fmt.Sprintf("malformed %s id %q", e.Kind, e.Input)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
