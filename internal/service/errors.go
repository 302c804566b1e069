package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/neKamita/telegram-star-manager/internal/model"
	"github.com/shopspring/decimal"
)

var (
	ErrInsufficientFunds           = errors.New("insufficient funds")
	ErrInvalidTransaction          = errors.New("invalid transaction")
	ErrValidation                  = errors.New("validation failed")
	ErrRateLimited                 = errors.New("too many operations, retry shortly")
	ErrTooManyConcurrentOperations = errors.New("too many concurrent operations, retry shortly")
	ErrOrderOwnership              = errors.New("order does not belong to user")
	ErrOrderNotFound               = errors.New("order not found")
	ErrTransactionNotFound         = errors.New("transaction not found")
	ErrInvalidStatusTransition     = errors.New("invalid order status transition")
	ErrTerminalTransactionStatus   = errors.New("transaction status is terminal")
	ErrBalanceFrozen               = errors.New("balance is frozen")
	ErrUnauthorizedAdmin           = errors.New("admin operation not permitted")
	ErrOperationFailed             = errors.New("operation failed")
)

// InsufficientFundsError carries what the caller needs to prompt a top-up.
type InsufficientFundsError struct {
	BalanceID uint64
	UserID    int64
	// CurrentBalance counts all funds, reserved ones included. AvailableBalance is
	// what the failed operation could have spent.
	CurrentBalance   decimal.Decimal
	AvailableBalance decimal.Decimal
	RequestedAmount  decimal.Decimal
	Currency         string
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: requested %s %s, available %s %s, shortfall %s",
		e.RequestedAmount.StringFixed(2), e.Currency,
		e.AvailableBalance.StringFixed(2), e.Currency,
		e.Shortfall().StringFixed(2))
}

func (e *InsufficientFundsError) Is(target error) bool { return target == ErrInsufficientFunds }

func (e *InsufficientFundsError) Shortfall() decimal.Decimal {
	s := e.RequestedAmount.Sub(e.AvailableBalance)
	if s.IsNegative() {
		return decimal.Zero
	}
	return s
}

// ShortfallPercentage is the shortfall relative to the requested amount, in percent.
func (e *InsufficientFundsError) ShortfallPercentage() decimal.Decimal {
	if !e.RequestedAmount.IsPositive() {
		return decimal.Zero
	}
	return e.Shortfall().Mul(decimal.NewFromInt(100)).Div(e.RequestedAmount).Round(2)
}

// IsCritical is true when the shortfall exceeds the current balance itself.
func (e *InsufficientFundsError) IsCritical() bool {
	return e.Shortfall().GreaterThan(e.CurrentBalance)
}

type InvalidTransactionKind string

const (
	KindFormat       InvalidTransactionKind = "FORMAT"
	KindBusinessRule InvalidTransactionKind = "BUSINESS_RULE"
	KindAmountLimit  InvalidTransactionKind = "AMOUNT_LIMIT"
)

// InvalidTransactionError reports a violated ledger rule. Kind is derived from the rule text.
type InvalidTransactionError struct {
	TransactionID   string
	TransactionType model.TransactionType
	Rule            string
	Actual          string
	Expected        string
}

func (e *InvalidTransactionError) Error() string {
	msg := fmt.Sprintf("invalid %s transaction: %s", strings.ToLower(string(e.TransactionType)), e.Rule)
	if e.Actual != "" || e.Expected != "" {
		msg += fmt.Sprintf(" (actual %s, expected %s)", e.Actual, e.Expected)
	}
	if e.TransactionID != "" {
		msg += " [" + e.TransactionID + "]"
	}
	return msg
}

func (e *InvalidTransactionError) Is(target error) bool { return target == ErrInvalidTransaction }

func (e *InvalidTransactionError) Kind() InvalidTransactionKind {
	rule := strings.ToLower(e.Rule)
	switch {
	case strings.Contains(rule, "format") || strings.Contains(rule, "decimal") || strings.Contains(rule, "currency"):
		return KindFormat
	case strings.Contains(rule, "limit") || strings.Contains(rule, "maximum") || strings.Contains(rule, "minimum"):
		return KindAmountLimit
	default:
		return KindBusinessRule
	}
}

// IsCritical flags business rule violations, which mean a caller skipped validation.
func (e *InvalidTransactionError) IsCritical() bool { return e.Kind() == KindBusinessRule }

// ValidationError is a guard rejection. Nothing was attempted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return e.Field + ": " + e.Reason
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func validationErrorf(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// TransientError is a rate or concurrency rejection the caller may retry after RetryAfter.
type TransientError struct {
	Err        error
	UserID     int64
	RetryAfter time.Duration
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }
func (e *TransientError) Temporary() bool { return true }

// TransitionError is returned when the order status table forbids a move.
type TransitionError struct {
	OrderID string
	From    model.OrderStatus
	To      model.OrderStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("order %s: cannot move from %s to %s", e.OrderID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidStatusTransition }

// IsTransient reports whether err is a retryable rate or concurrency rejection.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// IsDomainError reports whether err is a business outcome that must cross
// component boundaries unchanged.
func IsDomainError(err error) bool {
	for _, target := range []error{
		ErrInsufficientFunds, ErrInvalidTransaction, ErrValidation, ErrRateLimited,
		ErrTooManyConcurrentOperations, ErrOrderOwnership, ErrOrderNotFound, ErrTransactionNotFound,
		ErrInvalidStatusTransition, ErrTerminalTransactionStatus, ErrBalanceFrozen, ErrUnauthorizedAdmin,
		ErrOperationFailed,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// opFailed hides storage details behind ErrOperationFailed. Domain errors pass through.
// The cause is formatted, not wrapped, so callers cannot depend on storage error types.
func opFailed(op string, err error) error {
	if err == nil || IsDomainError(err) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", ErrOperationFailed, op, err)
}
