// Package admission decides whether an order may enter a book: static and
// reference-based price limits, a per-item volatility breaker, and a
// market-wide index breaker.
package admission

import (
	"errors"
	"fmt"
)

// Reason is a machine-readable admission rejection code.
type Reason string

const (
	ReasonBelowFloor   Reason = "price_below_floor"
	ReasonAboveCeiling Reason = "price_above_ceiling"
	ReasonOutOfBand    Reason = "price_out_of_band"
	ReasonItemHalted   Reason = "item_halted"
	ReasonMarketHalted Reason = "market_halted"
)

// RejectionError explains why an order was not admitted.
type RejectionError struct {
	Reason Reason
	Detail string
}

func (e *RejectionError) Error() string {
	if e.Detail == "" {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
}

func reject(reason Reason, format string, args ...any) *RejectionError {
	return &RejectionError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// ReasonOf extracts the rejection reason from err.
func ReasonOf(err error) (Reason, bool) {
	var rej *RejectionError
	if errors.As(err, &rej) {
		return rej.Reason, true
	}
	return "", false
}
