package domain

import (
	"fmt"
	"math"
)

// DollarsToPennies converts a float64 amount in major units to int64
// pennies. It validates that the input has at most 2 decimal places and
// returns an error if more precision is provided. Uses math.Round after
// multiplying by 100 to handle floating-point representation issues.
func DollarsToPennies(f float64) (int64, error) {
	// Multiply by 1000 to check for a third decimal place.
	// Round to avoid floating-point artifacts (e.g., 1.10 * 1000 = 1099.9999...).
	scaled := math.Round(f * 1000)
	if math.Mod(scaled, 10) != 0 {
		return 0, fmt.Errorf("monetary values must have at most 2 decimal places")
	}

	pennies := math.Round(f * 100)
	return int64(pennies), nil
}

// PenniesToDollars converts an int64 penny value to a float64 amount in
// major units. Display only.
func PenniesToDollars(c int64) float64 {
	return float64(c) / 100.0
}

// MustPennies converts a float that is already expressed in pennies to
// int64. A non-integral or non-finite input is a programming error and
// panics instead of being rounded.
func MustPennies(f float64) int64 {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		panic(fmt.Sprintf("non-integral penny value: %v", f))
	}
	return int64(f)
}
