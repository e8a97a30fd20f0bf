package domain

import (
	"errors"
	"strconv"
	"strings"
)

const (
	stockPrefix = "stock_"
	unitPrefix  = "unit_"
)

var (
	errMissingPrefix = errors.New("missing prefix")
	errNonCanonical  = errors.New("non-canonical id")
)

// StockItemID encodes a firm id as the item id of its stock instrument.
func StockItemID(firmID int) string {
	return stockPrefix + strconv.Itoa(firmID)
}

// ParseStockItemID decodes a stock_<int> item id.
func ParseStockItemID(itemID string) (int, error) {
	return parsePrefixed("stock", stockPrefix, itemID)
}

// UnitItemID encodes a housing unit id as an item id.
func UnitItemID(unitID int) string {
	return unitPrefix + strconv.Itoa(unitID)
}

// ParseUnitItemID decodes a unit_<int> item id.
func ParseUnitItemID(itemID string) (int, error) {
	return parsePrefixed("unit", unitPrefix, itemID)
}

func parsePrefixed(kind, prefix, s string) (int, error) {
	rest, ok := strings.CutPrefix(s, prefix)
	if !ok {
		return 0, &ParseError{Kind: kind, Input: s, Err: errMissingPrefix}
	}
	n, err := strconv.Atoi(rest)
	if err != nil {
		return 0, &ParseError{Kind: kind, Input: s, Err: err}
	}
	if n < 0 {
		return 0, &ParseError{Kind: kind, Input: s, Err: errors.New("negative id")}
	}
	// Only the form produced by the encoder is accepted, so one firm or
	// unit never shows up under two item ids.
	if strconv.Itoa(n) != rest {
		return 0, &ParseError{Kind: kind, Input: s, Err: errNonCanonical}
	}
	return n, nil
}
