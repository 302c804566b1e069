package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TransactionDeposit    TransactionType = "DEPOSIT"
	TransactionWithdrawal TransactionType = "WITHDRAWAL"
	TransactionPurchase   TransactionType = "PURCHASE"
	TransactionRefund     TransactionType = "REFUND"
	TransactionReserve    TransactionType = "RESERVE"
	TransactionRelease    TransactionType = "RELEASE"
)

type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "PENDING"
	TransactionCompleted TransactionStatus = "COMPLETED"
	TransactionCancelled TransactionStatus = "CANCELLED"
	TransactionFailed    TransactionStatus = "FAILED"
)

// IsTerminal reports whether no further status change is allowed.
func (s TransactionStatus) IsTerminal() bool {
	return s == TransactionCompleted || s == TransactionCancelled || s == TransactionFailed
}

// BalanceTransaction is one balance-affecting event. BalanceBefore and BalanceAfter
// always describe current_balance; RESERVE and RELEASE leave it unchanged.
type BalanceTransaction struct {
	TransactionID string            `gorm:"primaryKey;size:40;column:transaction_id"`
	UserID        int64             `gorm:"index;not null"`
	Type          TransactionType   `gorm:"size:16;not null"`
	Amount        decimal.Decimal   `gorm:"type:numeric(20,8);not null"`
	Currency      string            `gorm:"size:3;not null"`
	BalanceBefore decimal.Decimal   `gorm:"type:numeric(20,8);not null"`
	BalanceAfter  decimal.Decimal   `gorm:"type:numeric(20,8);not null"`
	Status        TransactionStatus `gorm:"size:16;index;not null"`
	OrderID       *string           `gorm:"size:8;index"`
	Description   string            `gorm:"size:255"`
	Source        string            `gorm:"size:32"`
	CreatedAt     time.Time         `gorm:"index"`
	CompletedAt   *time.Time
}

func (BalanceTransaction) TableName() string { return "balance_transaction" }

// SignedAmount is the effect of the transaction on current_balance.
func (t BalanceTransaction) SignedAmount() decimal.Decimal {
	switch t.Type {
	case TransactionDeposit, TransactionRefund:
		return t.Amount
	case TransactionWithdrawal, TransactionPurchase:
		return t.Amount.Neg()
	default:
		return decimal.Zero
	}
}

// ReservedDelta is the effect of the transaction on reserved_balance.
func (t BalanceTransaction) ReservedDelta() decimal.Decimal {
	switch t.Type {
	case TransactionReserve:
		return t.Amount
	case TransactionRelease:
		return t.Amount.Neg()
	default:
		return decimal.Zero
	}
}

// TransactionFilter narrows history queries. Zero fields are ignored.
type TransactionFilter struct {
	UserID   int64
	Types    []TransactionType
	Statuses []TransactionStatus
	OrderID  string
	Since    time.Time
	Until    time.Time
	Limit    int
	Offset   int
}
