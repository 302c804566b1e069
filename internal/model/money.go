package model

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidCurrency  = errors.New("invalid currency code")
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrCurrencyMismatch = errors.New("currency mismatch")
)

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// Money is an exact decimal amount in a single currency. The zero value is not usable.
type Money struct {
	amount   decimal.Decimal
	currency string
}

// NewMoney validates the currency code format. Negative amounts are allowed here
// and rejected at the ledger boundary.
func NewMoney(amount decimal.Decimal, currency string) (Money, error) {
	if !IsCurrencyCode(currency) {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidCurrency, currency)
	}
	return Money{amount: amount, currency: currency}, nil
}

// ParseMoney parses a decimal string such as "10.50".
func ParseMoney(raw string, currency string) (Money, error) {
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	return NewMoney(amount, currency)
}

// MustMoney panics on invalid input; intended for constants and tests.
func MustMoney(raw string, currency string) Money {
	m, err := ParseMoney(raw, currency)
	if err != nil {
		panic(err)
	}
	return m
}

// IsCurrencyCode reports whether code has the three uppercase letter form.
func IsCurrencyCode(code string) bool {
	return currencyPattern.MatchString(code)
}

func (m Money) Amount() decimal.Decimal { return m.amount }
func (m Money) Currency() string        { return m.currency }

func (m Money) IsZero() bool     { return m.amount.IsZero() }
func (m Money) IsNegative() bool { return m.amount.IsNegative() }
func (m Money) IsPositive() bool { return m.amount.IsPositive() }

// DecimalPlaces counts significant fractional digits, so "10.10" has one.
func (m Money) DecimalPlaces() int32 {
	places := int32(0)
	for !m.amount.Equal(m.amount.Truncate(places)) {
		places++
	}
	return places
}

func (m Money) Add(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	return Money{amount: m.amount.Add(other.amount), currency: m.currency}, nil
}

func (m Money) Sub(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	return Money{amount: m.amount.Sub(other.amount), currency: m.currency}, nil
}

// Cmp returns -1, 0 or +1 like decimal.Decimal.Cmp.
func (m Money) Cmp(other Money) (int, error) {
	if err := m.sameCurrency(other); err != nil {
		return 0, err
	}
	return m.amount.Cmp(other.amount), nil
}

func (m Money) Equal(other Money) bool {
	return m.currency == other.currency && m.amount.Equal(other.amount)
}

func (m Money) String() string {
	return m.amount.StringFixed(2) + " " + m.currency
}

func (m Money) sameCurrency(other Money) error {
	if m.currency != other.currency {
		return fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.currency, other.currency)
	}
	return nil
}
