// Package domain holds the pure data types and invariants of the ledger:
// accounts, transactions, credentials and webhook records. Nothing in this
// package performs IO.
package domain

import (
	"fmt"
	"math"
	"regexp"
	"strings"
)

// Currency is an uppercase ISO-4217 style three-letter code. The corpus this
// repository is grounded on (original_source/payments-types) hardcodes a
// four-currency enum; this repository validates the format instead, since
// FX conversion is explicitly out of scope and a fixed enum buys nothing.
type Currency string

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// ErrInvalidCurrency is returned when a currency code fails format validation.
var ErrInvalidCurrency = fmt.Errorf("currency must be a 3-letter uppercase ISO-4217 code")

// ParseCurrency validates and normalizes a currency code.
func ParseCurrency(s string) (Currency, error) {
	c := Currency(strings.ToUpper(strings.TrimSpace(s)))
	if !currencyPattern.MatchString(string(c)) {
		return "", ErrInvalidCurrency
	}
	return c, nil
}

func (c Currency) Valid() bool {
	return currencyPattern.MatchString(string(c))
}

// AmountPositive reports whether amount is a valid, strictly positive
// transaction amount.
func AmountPositive(amount int64) bool {
	return amount > 0
}

// AddChecked adds delta to balance, reporting overflow past the signed
// 64-bit range instead of wrapping, so a deposit that would overflow the
// minor-unit balance is rejected rather than silently wrapping around.
func AddChecked(balance, delta int64) (int64, bool) {
	if delta > 0 && balance > math.MaxInt64-delta {
		return 0, false
	}
	if delta < 0 && balance < math.MinInt64-delta {
		return 0, false
	}
	return balance + delta, true
}
