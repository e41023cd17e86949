// Package money provides currency-safe arithmetic for statement amounts using
// integer cents and the Fowler Money pattern, plus the amount parsing and
// display formatting used by the ledger.
package money

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// Common currency codes (ISO-4217)
const (
	BRL = "BRL" // Brazilian Real
	USD = "USD" // US Dollar
	EUR = "EUR" // Euro
)

// ErrInvalidAmount is returned when an amount string cannot be parsed.
var ErrInvalidAmount = errors.New("invalid amount")

// Money represents a monetary value with currency.
// It wraps go-money for safe arithmetic and shopspring/decimal for precision calculations.
type Money struct {
	m *money.Money
}

// New creates a new Money value from cents (minor units) and currency code.
func New(amountCents int64, currencyCode string) *Money {
	return &Money{
		m: money.New(amountCents, currencyCode),
	}
}

// NewFromDecimal creates Money from a decimal.Decimal value, rounding to the
// currency's minor unit.
func NewFromDecimal(amount decimal.Decimal, currencyCode string) *Money {
	currency := money.GetCurrency(currencyCode)
	if currency == nil {
		currency = money.GetCurrency(BRL)
		currencyCode = BRL
	}

	multiplier := decimal.New(1, int32(currency.Fraction))
	cents := amount.Mul(multiplier).Round(0).IntPart()

	return New(cents, currencyCode)
}

// Parse reads an amount as printed on a statement or returned by the
// extraction model. It accepts "22.97", "1.234,56", "1,234.56", "R$ 25,11",
// "-4.50" and "(4.50)". When both separators appear the last one is the
// decimal mark; a lone comma followed by one or two digits is decimal too.
func Parse(raw string, currencyCode string) (*Money, error) {
	s := strings.TrimSpace(raw)
	for _, sym := range []string{"R$", "US$", "$", "€", "BRL", "USD", "EUR"} {
		s = strings.ReplaceAll(s, sym, "")
	}
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, " ", "")

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.Trim(s, "()")
	}
	if strings.HasPrefix(s, "-") {
		negative = true
		s = strings.TrimPrefix(s, "-")
	} else if strings.HasSuffix(s, "-") {
		negative = true
		s = strings.TrimSuffix(s, "-")
	}
	s = strings.TrimPrefix(s, "+")

	if s == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}

	d, err := decimal.NewFromString(normalizeSeparators(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	if negative {
		d = d.Neg()
	}

	return NewFromDecimal(d, currencyCode), nil
}

// normalizeSeparators rewrites an amount to use "." as the decimal mark and
// no thousands separators.
func normalizeSeparators(s string) string {
	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")

	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			return strings.Replace(s, ",", ".", 1)
		}
		return strings.ReplaceAll(s, ",", "")
	case lastComma >= 0:
		decimals := len(s) - lastComma - 1
		if strings.Count(s, ",") == 1 && decimals > 0 && decimals <= 2 {
			return strings.Replace(s, ",", ".", 1)
		}
		return strings.ReplaceAll(s, ",", "")
	case strings.Count(s, ".") > 1:
		return strings.ReplaceAll(s, ".", "")
	}
	return s
}

// Zero returns a zero Money value for the given currency
func Zero(currencyCode string) *Money {
	return New(0, currencyCode)
}

// Amount returns the amount in minor units (cents)
func (m *Money) Amount() int64 {
	if m == nil || m.m == nil {
		return 0
	}
	return m.m.Amount()
}

// Currency returns the ISO-4217 currency code
func (m *Money) Currency() string {
	if m == nil || m.m == nil {
		return ""
	}
	return m.m.Currency().Code
}

// IsZero returns true if the amount is zero
func (m *Money) IsZero() bool {
	return m == nil || m.m == nil || m.m.IsZero()
}

// IsNegative returns true if the amount is less than zero
func (m *Money) IsNegative() bool {
	return m != nil && m.m != nil && m.m.IsNegative()
}

// Abs returns the absolute value
func (m *Money) Abs() *Money {
	if m == nil || m.m == nil {
		return Zero(BRL)
	}
	return &Money{m: m.m.Absolute()}
}

// Negate returns the negated value
func (m *Money) Negate() *Money {
	if m == nil || m.m == nil {
		return Zero(BRL)
	}
	return &Money{m: m.m.Negative()}
}

// Add adds two Money values. Returns error if currencies don't match.
func (m *Money) Add(other *Money) (*Money, error) {
	if m == nil || m.m == nil {
		return other, nil
	}
	if other == nil || other.m == nil {
		return m, nil
	}

	result, err := m.m.Add(other.m)
	if err != nil {
		return nil, err
	}
	return &Money{m: result}, nil
}

// MustAdd adds two Money values, panics if currencies don't match.
func (m *Money) MustAdd(other *Money) *Money {
	result, err := m.Add(other)
	if err != nil {
		panic(err)
	}
	return result
}

// Subtract subtracts other from m. Returns error if currencies don't match.
func (m *Money) Subtract(other *Money) (*Money, error) {
	if other == nil || other.m == nil {
		return m, nil
	}
	return m.Add(other.Negate())
}

// Compare returns -1 if m < other, 0 if equal, 1 if m > other
func (m *Money) Compare(other *Money) int {
	a, b := m.Amount(), other.Amount()
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Sum adds amounts of the same currency; an empty list is zero.
func Sum(currencyCode string, amounts ...*Money) (*Money, error) {
	total := Zero(currencyCode)
	for _, a := range amounts {
		var err error
		if total, err = total.Add(a); err != nil {
			return nil, err
		}
	}
	return total, nil
}

// ToDecimal converts to decimal.Decimal for precise calculations
func (m *Money) ToDecimal() decimal.Decimal {
	if m == nil || m.m == nil {
		return decimal.Zero
	}
	currency := m.m.Currency()
	d := decimal.NewFromInt(m.m.Amount())
	divisor := decimal.New(1, int32(currency.Fraction))
	return d.Div(divisor)
}

// ToFloat64 converts to float64 (use with caution for display only)
func (m *Money) ToFloat64() float64 {
	return m.ToDecimal().InexactFloat64()
}

// String returns the amount as a plain decimal string (e.g., "1234.56")
func (m *Money) String() string {
	if m == nil || m.m == nil {
		return "0.00"
	}
	return m.ToDecimal().StringFixed(int32(m.m.Currency().Fraction))
}

// Display formats the amount with the currency symbol and the currency's own
// separators, e.g. "R$ 1.234,56" or "-R$ 12,19".
func (m *Money) Display() string {
	currency := money.GetCurrency(BRL)
	if m != nil && m.m != nil {
		currency = m.m.Currency()
	}
	f := money.NewFormatter(currency.Fraction, currency.Decimal, currency.Thousand, currency.Grapheme, "$ 1")
	return f.Format(m.Amount())
}

// MarshalJSON encodes the amount in cents alongside its display form.
func (m *Money) MarshalJSON() ([]byte, error) {
	if m == nil || m.m == nil {
		return json.Marshal(nil)
	}
	return json.Marshal(map[string]interface{}{
		"amount":   m.Amount(),
		"currency": m.Currency(),
		"value":    m.String(),
		"display":  m.Display(),
	})
}

// UnmarshalJSON decodes the cents/currency pair written by MarshalJSON.
func (m *Money) UnmarshalJSON(data []byte) error {
	var v struct {
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if v.Currency == "" {
		v.Currency = BRL
	}
	m.m = money.New(v.Amount, v.Currency)
	return nil
}
